package eval

import (
	"fmt"
	"math"
	"strings"

	"eko-go/internal/stats"
)

// DefaultBuckets is the histogram resolution of evaluation trackers
const DefaultBuckets = 200

// TestResults accumulates generated and actual labels of held-out statements
type TestResults struct {
	numBuckets int

	generated *stats.Tracker
	actual    *stats.Tracker
	errors    *stats.Tracker

	FalsePositive int `json:"false_positive"`
	FalseNegative int `json:"false_negative"`
	TruePositive  int `json:"true_positive"`
	TrueNegative  int `json:"true_negative"`
}

// NewTestResults creates empty results. Labels are tracked over [-2, 2]
// and absolute errors over [0, 4].
func NewTestResults(numBuckets int) (*TestResults, error) {
	generated, err := stats.NewTracker(numBuckets, -2, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to create generated label tracker: %w", err)
	}
	actual, err := stats.NewTracker(numBuckets, -2, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to create actual label tracker: %w", err)
	}
	errs, err := stats.NewTracker(numBuckets, 0, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create error tracker: %w", err)
	}
	return &TestResults{
		numBuckets: numBuckets,
		generated:  generated,
		actual:     actual,
		errors:     errs,
	}, nil
}

// AddResult records one generated label against the dataset label.
// A generated label of exactly 0 counts toward neither polarity.
func (r *TestResults) AddResult(generated, actual float64) error {
	if err := r.generated.Add(generated); err != nil {
		return fmt.Errorf("generated label: %w", err)
	}
	if err := r.actual.Add(actual); err != nil {
		return fmt.Errorf("actual label: %w", err)
	}
	if err := r.errors.Add(math.Abs(actual - generated)); err != nil {
		return fmt.Errorf("label error: %w", err)
	}

	switch {
	case generated < 0 && actual >= 0:
		r.FalseNegative++
	case generated < 0:
		r.TrueNegative++
	case generated > 0 && actual <= 0:
		r.FalsePositive++
	case generated > 0:
		r.TruePositive++
	}
	return nil
}

// Merge adds other into r. Both must use the same bucket count.
func (r *TestResults) Merge(other *TestResults) error {
	if r.numBuckets != other.numBuckets {
		return fmt.Errorf("%w: %d and %d buckets", stats.ErrIncompatible, r.numBuckets, other.numBuckets)
	}
	if err := r.generated.Merge(other.generated); err != nil {
		return err
	}
	if err := r.actual.Merge(other.actual); err != nil {
		return err
	}
	if err := r.errors.Merge(other.errors); err != nil {
		return err
	}
	r.FalsePositive += other.FalsePositive
	r.FalseNegative += other.FalseNegative
	r.TruePositive += other.TruePositive
	r.TrueNegative += other.TrueNegative
	return nil
}

// Count returns the number of recorded results
func (r *TestResults) Count() int {
	return r.generated.Count()
}

// Generated returns the tracker of labels produced by the model
func (r *TestResults) Generated() *stats.Tracker {
	return r.generated
}

// Actual returns the tracker of dataset labels
func (r *TestResults) Actual() *stats.Tracker {
	return r.actual
}

// Errors returns the tracker of absolute label errors
func (r *TestResults) Errors() *stats.Tracker {
	return r.errors
}

// Report is the JSON form of test results
type Report struct {
	Count         int           `json:"count"`
	Actual        stats.Summary `json:"actual"`
	Generated     stats.Summary `json:"generated"`
	Errors        stats.Summary `json:"errors"`
	FalsePositive int           `json:"false_positive"`
	FalseNegative int           `json:"false_negative"`
	TruePositive  int           `json:"true_positive"`
	TrueNegative  int           `json:"true_negative"`
}

// Report summarizes the results. It fails when nothing was recorded.
func (r *TestResults) Report() (Report, error) {
	actual, err := r.actual.Summary()
	if err != nil {
		return Report{}, err
	}
	generated, err := r.generated.Summary()
	if err != nil {
		return Report{}, err
	}
	errs, err := r.errors.Summary()
	if err != nil {
		return Report{}, err
	}
	return Report{
		Count:         r.Count(),
		Actual:        actual,
		Generated:     generated,
		Errors:        errs,
		FalsePositive: r.FalsePositive,
		FalseNegative: r.FalseNegative,
		TruePositive:  r.TruePositive,
		TrueNegative:  r.TrueNegative,
	}, nil
}

const rowFormat = "%s | %+5.2f |   %+5.2f | %+5.2f | %+5.2f |  %+5.2f | %+5.2f | %+5.2f |\n"

// String renders the summary table and the per-polarity accuracy
func (r *TestResults) String() string {
	var sb strings.Builder
	sb.WriteString("            |  Mean | Std Dev |   Min |    Q1 | Median |    Q3 |   Max |\n")
	writeRow(&sb, "Act. Labels", r.actual)
	writeRow(&sb, "Gen. Labels", r.generated)
	writeRow(&sb, "     Errors", r.errors)

	positive := r.TruePositive + r.FalsePositive
	negative := r.TrueNegative + r.FalseNegative
	fmt.Fprintf(&sb, "Correctly Labelled Positive: %d / %d (%.2f%%)\n", r.TruePositive, positive, percent(r.TruePositive, positive))
	fmt.Fprintf(&sb, "Correctly Labelled Negative: %d / %d (%.2f%%)\n", r.TrueNegative, negative, percent(r.TrueNegative, negative))
	return sb.String()
}

func writeRow(sb *strings.Builder, name string, t *stats.Tracker) {
	s, err := t.Summary()
	if err != nil {
		nan := math.NaN()
		s = stats.Summary{Mean: nan, StdDev: nan, Min: nan, Q1: nan, Median: nan, Q3: nan, Max: nan}
	}
	fmt.Fprintf(sb, rowFormat, name, s.Mean, s.StdDev, s.Min, s.Q1, s.Median, s.Q3, s.Max)
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return math.NaN()
	}
	return float64(part) / float64(whole) * 100
}
