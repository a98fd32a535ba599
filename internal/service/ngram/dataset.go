package ngram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Source opens a labeled dataset: a decimal line count followed by
// "<label> <text>" lines with label in 1..5.
type Source interface {
	Open() (io.ReadCloser, error)
}

// FileSource reads a dataset from disk
type FileSource string

// Open opens the dataset file
func (f FileSource) Open() (io.ReadCloser, error) {
	file, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	return file, nil
}

// StringSource serves a dataset held in memory
type StringSource string

// Open returns a reader over the dataset text
func (s StringSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(s))), nil
}

// LinesSource builds an in-memory dataset with a header from labeled lines
func LinesSource(lines ...string) StringSource {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(len(lines)))
	sb.WriteByte('\n')
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return StringSource(sb.String())
}

// LabeledLine is one parsed dataset line
type LabeledLine struct {
	Index int     // Zero-based data line index, header excluded
	Label int     // Star rating 1..5
	Score float64 // label/2 - 1.5
	Text  string
}

// ScoreForLabel maps a star rating to its score in [-1, 1]
func ScoreForLabel(label int) float64 {
	return float64(label)/2 - 1.5
}

// ParseLabeledLine splits "<label> <text>" and validates the label
func ParseLabeledLine(line string) (int, string, error) {
	sep := strings.IndexByte(line, ' ')
	if sep < 0 {
		return 0, "", fmt.Errorf("%w: missing label separator", ErrIngestion)
	}
	label, err := strconv.Atoi(line[:sep])
	if err != nil {
		return 0, "", fmt.Errorf("%w: label %q is not an integer", ErrIngestion, line[:sep])
	}
	if label < 1 || label > 5 {
		return 0, "", fmt.Errorf("%w: label %d is not in 1..5", ErrIngestion, label)
	}
	return label, line[sep+1:], nil
}

// errStopScan ends a Scan early without error
var errStopScan = errors.New("stop scan")

// lineReader reads newline-delimited lines of any length
type lineReader struct {
	r *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// next returns the next line without its terminator, or io.EOF
func (lr *lineReader) next() (string, error) {
	line, err := lr.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSuffix(line, "\r"), nil
		}
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// readHeader parses the declared line count
func readHeader(lr *lineReader) (int, error) {
	header, err := lr.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("%w: dataset is empty", ErrFormat)
		}
		return 0, fmt.Errorf("failed to read dataset header: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: dataset header %q is not a line count", ErrFormat, header)
	}
	return n, nil
}

// ReadDatasetHeader returns the line count declared by a dataset
func ReadDatasetHeader(src Source) (int, error) {
	rc, err := src.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return readHeader(newLineReader(rc))
}

// Scan reads the first totalLines data lines of src and calls fn for each
// line whose index satisfies include. Lines that are not included are not
// parsed. fn may return errStopScan to end the scan. ctx is checked every line.
func Scan(ctx context.Context, src Source, totalLines int, include func(int) bool, fn func(LabeledLine) error) error {
	rc, err := src.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	lr := newLineReader(rc)
	declared, err := readHeader(lr)
	if err != nil {
		return err
	}
	if declared < totalLines {
		return fmt.Errorf("%w: dataset declares %d lines, %d requested", ErrFormat, declared, totalLines)
	}

	for i := 0; i < totalLines; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := lr.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: dataset ended after %d of %d lines", ErrFormat, i, totalLines)
			}
			return fmt.Errorf("failed to read dataset line %d: %w", i+1, err)
		}
		if include != nil && !include(i) {
			continue
		}

		label, text, err := ParseLabeledLine(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		if err := fn(LabeledLine{Index: i, Label: label, Score: ScoreForLabel(label), Text: text}); err != nil {
			if errors.Is(err, errStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

// FoldPlan splits the first TotalLines lines of a dataset into Folds
// contiguous blocks. With Folds == 0 every line is used for training.
type FoldPlan struct {
	TotalLines   int
	Folds        int
	Omit         int
	LinesPerFold int
}

// NewFoldPlan validates fold arguments
func NewFoldPlan(totalLines, folds, omit int) (FoldPlan, error) {
	if totalLines <= 0 {
		return FoldPlan{}, fmt.Errorf("%w: line count must be positive, got %d", ErrValidation, totalLines)
	}
	if folds < 0 {
		return FoldPlan{}, fmt.Errorf("%w: fold count must be non-negative, got %d", ErrValidation, folds)
	}
	if omit < 0 {
		return FoldPlan{}, fmt.Errorf("%w: omitted fold must be non-negative, got %d", ErrValidation, omit)
	}
	if folds > 0 && omit >= folds {
		return FoldPlan{}, fmt.Errorf("%w: omitted fold %d is not below fold count %d", ErrValidation, omit, folds)
	}
	if folds > 0 && totalLines%folds != 0 {
		return FoldPlan{}, fmt.Errorf("%w: %d folds do not evenly divide %d lines", ErrValidation, folds, totalLines)
	}

	plan := FoldPlan{TotalLines: totalLines, Folds: folds, Omit: omit, LinesPerFold: totalLines}
	if folds > 0 {
		plan.LinesPerFold = totalLines / folds
	}
	return plan, nil
}

// Fold returns the fold containing line index i
func (p FoldPlan) Fold(i int) int {
	return i / p.LinesPerFold
}

// Training reports whether line i is used for training
func (p FoldPlan) Training(i int) bool {
	return p.Folds == 0 || p.Fold(i) != p.Omit
}

// Held reports whether line i belongs to the held-out fold
func (p FoldPlan) Held(i int) bool {
	if p.Folds == 0 {
		return true
	}
	return p.Fold(i) == p.Omit
}

// TrainingLines returns the number of lines used for training
func (p FoldPlan) TrainingLines() int {
	if p.Folds == 0 {
		return p.TotalLines
	}
	return p.TotalLines - p.LinesPerFold
}
