package stats

// Summary is the serializable view of a bucketed tracker
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"qt1"`
	Median float64 `json:"med"`
	Q3     float64 `json:"qt3"`
	Max    float64 `json:"max"`
}

// Summary collects the descriptive statistics of t. The tracker must have
// buckets and at least one value.
func (t *Tracker) Summary() (Summary, error) {
	if err := t.checkHistogram(); err != nil {
		return Summary{}, err
	}

	quartiles, err := t.Percentiles([]float64{25, 50, 75})
	if err != nil {
		return Summary{}, err
	}
	mean, _ := t.Mean()
	stddev, _ := t.StdDev()

	return Summary{
		Count:  t.count,
		Mean:   mean,
		StdDev: stddev,
		Min:    t.min,
		Q1:     quartiles[0],
		Median: quartiles[1],
		Q3:     quartiles[2],
		Max:    t.max,
	}, nil
}
