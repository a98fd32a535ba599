// Package stats tracks streaming statistics over a bounded numeric range.
package stats

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidValue is returned when a value is NaN or outside the tracker range
	ErrInvalidValue = errors.New("invalid value")
	// ErrEmpty is returned when statistics are requested before any value was added
	ErrEmpty = errors.New("tracker has no values")
	// ErrNoBuckets is returned by histogram operations on a tracker without buckets
	ErrNoBuckets = errors.New("tracker has no buckets")
	// ErrIncompatible is returned when merging trackers with different configurations
	ErrIncompatible = errors.New("incompatible trackers")
	// ErrPercentile is returned for percents outside [0, 100] or unsorted percent lists
	ErrPercentile = errors.New("invalid percentile")
)

// Tracker accumulates count, sum and sum of squares of values in [lo, hi],
// and optionally a fixed-size histogram used to approximate percentiles.
type Tracker struct {
	numBuckets int
	buckets    []int
	lo         float64
	hi         float64

	min float64
	max float64

	count  int
	sum    float64
	sqrSum float64
}

// NewTracker creates a tracker for values in [lo, hi]. numBuckets may be 0,
// in which case percentile and histogram operations return ErrNoBuckets.
func NewTracker(numBuckets int, lo, hi float64) (*Tracker, error) {
	if math.IsNaN(lo) || math.IsNaN(hi) || hi < lo {
		return nil, fmt.Errorf("lower bound %v must not exceed upper bound %v", lo, hi)
	}
	if numBuckets < 0 {
		return nil, fmt.Errorf("number of buckets must be non-negative, got %d", numBuckets)
	}
	if numBuckets > 0 && hi == lo {
		return nil, fmt.Errorf("bucketed tracker needs a non-empty range, got [%v, %v]", lo, hi)
	}

	t := &Tracker{
		numBuckets: numBuckets,
		lo:         lo,
		hi:         hi,
		min:        hi,
		max:        lo,
	}
	if numBuckets > 0 {
		t.buckets = make([]int, numBuckets)
	}
	return t, nil
}

// MustTracker is NewTracker for static configurations known to be valid.
func MustTracker(numBuckets int, lo, hi float64) *Tracker {
	t, err := NewTracker(numBuckets, lo, hi)
	if err != nil {
		panic(err)
	}
	return t
}

// Add records a value.
func (t *Tracker) Add(value float64) error {
	if math.IsNaN(value) {
		return fmt.Errorf("%w: NaN", ErrInvalidValue)
	}
	if value < t.lo || value > t.hi {
		return fmt.Errorf("%w: %v is not in the range [%v, %v]", ErrInvalidValue, value, t.lo, t.hi)
	}

	if value < t.min {
		t.min = value
	}
	if value > t.max {
		t.max = value
	}

	t.count++
	t.sum += value
	t.sqrSum += value * value

	if t.numBuckets > 0 {
		// value == hi maps to numBuckets and is folded into the last bucket
		idx := int((value - t.lo) / (t.hi - t.lo) * float64(t.numBuckets))
		if idx >= t.numBuckets {
			idx = t.numBuckets - 1
		}
		t.buckets[idx]++
	}
	return nil
}

// Merge folds other into t. Both trackers must share range and bucket count.
func (t *Tracker) Merge(other *Tracker) error {
	if other.numBuckets != t.numBuckets {
		return fmt.Errorf("%w: %d buckets vs %d", ErrIncompatible, t.numBuckets, other.numBuckets)
	}
	if other.lo != t.lo || other.hi != t.hi {
		return fmt.Errorf("%w: range [%v, %v] vs [%v, %v]", ErrIncompatible, t.lo, t.hi, other.lo, other.hi)
	}

	if other.min < t.min {
		t.min = other.min
	}
	if other.max > t.max {
		t.max = other.max
	}

	t.count += other.count
	t.sum += other.sum
	t.sqrSum += other.sqrSum

	for i := range t.buckets {
		t.buckets[i] += other.buckets[i]
	}
	return nil
}

// Clone returns an independent copy of t.
func (t *Tracker) Clone() *Tracker {
	c := *t
	if t.buckets != nil {
		c.buckets = append([]int(nil), t.buckets...)
	}
	return &c
}

// Count returns the number of values added.
func (t *Tracker) Count() int {
	return t.count
}

// NumBuckets returns the histogram size.
func (t *Tracker) NumBuckets() int {
	return t.numBuckets
}

// Range returns the configured bounds.
func (t *Tracker) Range() (float64, float64) {
	return t.lo, t.hi
}

// Buckets returns a copy of the histogram counts.
func (t *Tracker) Buckets() []int {
	return append([]int(nil), t.buckets...)
}

// Mean returns the mean of the values added.
func (t *Tracker) Mean() (float64, error) {
	if t.count == 0 {
		return 0, ErrEmpty
	}
	return t.sum / float64(t.count), nil
}

// StdDev returns the population standard deviation.
func (t *Tracker) StdDev() (float64, error) {
	mean, err := t.Mean()
	if err != nil {
		return 0, err
	}
	variance := t.sqrSum/float64(t.count) - mean*mean
	if variance < 0 {
		// rounding on near-constant streams
		variance = 0
	}
	return math.Sqrt(variance), nil
}

// Min returns the smallest value added.
func (t *Tracker) Min() (float64, error) {
	if t.count == 0 {
		return 0, ErrEmpty
	}
	return t.min, nil
}

// Max returns the largest value added.
func (t *Tracker) Max() (float64, error) {
	if t.count == 0 {
		return 0, ErrEmpty
	}
	return t.max, nil
}

func (t *Tracker) checkHistogram() error {
	if t.count == 0 {
		return ErrEmpty
	}
	if t.numBuckets == 0 {
		return ErrNoBuckets
	}
	return nil
}

func checkPercent(percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return fmt.Errorf("%w: %v is not in [0, 100]", ErrPercentile, percent)
	}
	return nil
}

// bucketValue returns the midpoint of bucket i.
func (t *Tracker) bucketValue(i int) float64 {
	return lerp(t.lo, t.hi, (float64(i)+0.5)/float64(t.numBuckets))
}

// Percentile approximates the value at percent (0-100) from the histogram.
// The result is the midpoint of the first bucket whose cumulative count reaches
// count*percent/100.
func (t *Tracker) Percentile(percent float64) (float64, error) {
	if err := t.checkHistogram(); err != nil {
		return 0, err
	}
	if err := checkPercent(percent); err != nil {
		return 0, err
	}

	target := float64(t.count) * percent / 100
	sum := 0
	for i, n := range t.buckets {
		sum += n
		if float64(sum) >= target {
			return t.bucketValue(i), nil
		}
	}
	return t.bucketValue(t.numBuckets - 1), nil
}

// Percentiles looks up several percents in one scan. percents must be sorted
// ascending; each result equals Percentile of the same percent.
func (t *Tracker) Percentiles(percents []float64) ([]float64, error) {
	if err := t.checkHistogram(); err != nil {
		return nil, err
	}
	for i, p := range percents {
		if err := checkPercent(p); err != nil {
			return nil, err
		}
		if i > 0 && p < percents[i-1] {
			return nil, fmt.Errorf("%w: percents must be sorted ascending, %v follows %v", ErrPercentile, p, percents[i-1])
		}
	}

	results := make([]float64, len(percents))
	next := 0
	sum := 0
	for i, n := range t.buckets {
		sum += n
		for next < len(percents) && float64(sum) >= float64(t.count)*percents[next]/100 {
			results[next] = t.bucketValue(i)
			next++
		}
		if next == len(percents) {
			return results, nil
		}
	}
	for ; next < len(percents); next++ {
		results[next] = t.bucketValue(t.numBuckets - 1)
	}
	return results, nil
}

// Q1 returns the 25th percentile.
func (t *Tracker) Q1() (float64, error) { return t.Percentile(25) }

// Q2 returns the median.
func (t *Tracker) Q2() (float64, error) { return t.Percentile(50) }

// Q3 returns the 75th percentile.
func (t *Tracker) Q3() (float64, error) { return t.Percentile(75) }

// Histogram renders a sideways ASCII histogram with numBars bars, each bar
// summing buckets/numBars adjacent buckets. On average a bar has 10 dashes.
func (t *Tracker) Histogram(numBars int) (string, error) {
	if err := t.checkHistogram(); err != nil {
		return "", err
	}
	if numBars <= 0 || t.numBuckets%numBars != 0 {
		return "", fmt.Errorf("number of bars %d must evenly divide %d buckets", numBars, t.numBuckets)
	}

	perBar := t.numBuckets / numBars
	perDash := t.count / 10 / numBars
	if perDash == 0 {
		perDash = 1
	}

	var sb strings.Builder
	for i := 0; i < numBars; i++ {
		total := 0
		for j := 0; j < perBar; j++ {
			total += t.buckets[i*perBar+j]
		}

		switch {
		case i == 0:
			fmt.Fprintf(&sb, "%+5.2f ", t.lo)
		case i == numBars-1:
			fmt.Fprintf(&sb, "%+5.2f ", t.hi)
		case i%2 == 0:
			fmt.Fprintf(&sb, "%+5.2f ", lerp(t.lo, t.hi, float64(i)/float64(numBars-1)))
		default:
			sb.WriteString("      ")
		}
		sb.WriteString(strings.Repeat("-", total/perDash))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func lerp(a, b, t float64) float64 {
	return (b-a)*t + a
}
