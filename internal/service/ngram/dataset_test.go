package ngram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseLabeledLine(t *testing.T) {
	label, text, err := ParseLabeledLine("4 pretty good  soup")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if label != 4 || text != "pretty good  soup" {
		t.Fatalf("Expected 4 and 'pretty good  soup', got %d and %q", label, text)
	}

	if _, text, err := ParseLabeledLine("3 "); err != nil || text != "" {
		t.Fatalf("Expected empty text, got %q, %v", text, err)
	}

	for _, line := range []string{"", "5", "five good", "-1 bad", "9 great"} {
		if _, _, err := ParseLabeledLine(line); !errors.Is(err, ErrIngestion) {
			t.Fatalf("Expected ingestion error for %q, got %v", line, err)
		}
	}
}

func TestScoreForLabel(t *testing.T) {
	want := map[int]float64{1: -1, 2: -0.5, 3: 0, 4: 0.5, 5: 1}
	for label, score := range want {
		if got := ScoreForLabel(label); got != score {
			t.Fatalf("ScoreForLabel(%d) = %v, want %v", label, got, score)
		}
	}
}

func TestScan(t *testing.T) {
	src := StringSource("4\r\n5 one\r\n1 two\n3 three\n2 four")
	var got []LabeledLine
	err := Scan(context.Background(), src, 4, nil, func(line LabeledLine) error {
		got = append(got, line)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}
	want := []LabeledLine{
		{Index: 0, Label: 5, Score: 1, Text: "one"},
		{Index: 1, Label: 1, Score: -1, Text: "two"},
		{Index: 2, Label: 3, Score: 0, Text: "three"},
		{Index: 3, Label: 2, Score: -0.5, Text: "four"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected %+v, got %+v", want, got)
	}
}

func TestScan_ExcludedLinesAreNotParsed(t *testing.T) {
	src := LinesSource("5 kept", "not a labeled line", "1 kept too")
	var indices []int
	err := Scan(context.Background(), src, 3, func(i int) bool { return i != 1 }, func(line LabeledLine) error {
		indices = append(indices, line.Index)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}
	if !reflect.DeepEqual(indices, []int{0, 2}) {
		t.Fatalf("Expected lines 0 and 2, got %v", indices)
	}
}

func TestScan_Stop(t *testing.T) {
	count := 0
	err := Scan(context.Background(), LinesSource(reviewLines(10)...), 10, nil, func(LabeledLine) error {
		count++
		if count == 3 {
			return errStopScan
		}
		return nil
	})
	if err != nil || count != 3 {
		t.Fatalf("Expected a clean stop after 3 lines, got %d, %v", count, err)
	}
}

func TestScan_BadHeader(t *testing.T) {
	for _, src := range []StringSource{"", "lines\n5 good", "-3\n5 good"} {
		err := Scan(context.Background(), src, 1, nil, func(LabeledLine) error { return nil })
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("Expected format error for %q, got %v", string(src), err)
		}
	}
}

func TestReadDatasetHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews"+DatasetExt)
	if err := os.WriteFile(path, []byte(" 12 \n5 good\n"), 0644); err != nil {
		t.Fatalf("Failed to write dataset: %v", err)
	}
	n, err := ReadDatasetHeader(FileSource(path))
	if err != nil || n != 12 {
		t.Fatalf("Expected 12 lines, got %d, %v", n, err)
	}

	if _, err := ReadDatasetHeader(FileSource(filepath.Join(t.TempDir(), "missing"))); err == nil {
		t.Fatalf("Expected error for missing file")
	}
}

func TestFoldPlan(t *testing.T) {
	plan, err := NewFoldPlan(10, 5, 3)
	if err != nil {
		t.Fatalf("Failed to create plan: %v", err)
	}
	if plan.LinesPerFold != 2 || plan.TrainingLines() != 8 {
		t.Fatalf("Expected 2 lines per fold and 8 training lines, got %+v", plan)
	}

	var held []int
	training := 0
	for i := 0; i < 10; i++ {
		if plan.Held(i) == plan.Training(i) {
			t.Fatalf("Line %d must be either held or training", i)
		}
		if plan.Held(i) {
			held = append(held, i)
		} else {
			training++
		}
	}
	if !reflect.DeepEqual(held, []int{6, 7}) || training != plan.TrainingLines() {
		t.Fatalf("Expected lines 6 and 7 held, got %v", held)
	}

	full, err := NewFoldPlan(3, 0, 0)
	if err != nil {
		t.Fatalf("Failed to create full plan: %v", err)
	}
	if full.TrainingLines() != 3 || !full.Training(2) || !full.Held(2) {
		t.Fatalf("Full plan should train and evaluate every line, got %+v", full)
	}
}
