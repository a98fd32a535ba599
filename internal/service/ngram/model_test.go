package ngram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"go.uber.org/zap"
)

var scenarioLines = []string{"5 great movie", "1 terrible movie", "5 great movie"}

func scenarioParams() Params {
	return Params{
		MaxSequenceLength:    1,
		MinTokenOccurrence:   1,
		PruningInterval:      1,
		RenormalizationLines: 8000,
	}
}

func buildModel(t *testing.T, params Params, lines []string, folds, omit int) (*Model, *BuildReport) {
	t.Helper()
	m, err := NewModel(params, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create model: %v", err)
	}
	report, err := m.Build(context.Background(), LinesSource(lines...), len(lines), folds, omit)
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}
	return m, report
}

// reviewLines alternates positive and negative statements about food
func reviewLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		switch i % 4 {
		case 0:
			lines[i] = "5 great food and friendly staff"
		case 1:
			lines[i] = "1 awful food and rude staff"
		case 2:
			lines[i] = "4 good food"
		default:
			lines[i] = "2 bad staff"
		}
	}
	return lines
}

func TestModel_DuplicatesIgnoreSurroundingWhitespace(t *testing.T) {
	lines := []string{"5 great movie", "1 terrible movie", "5 great movie \t"}
	m, report := buildModel(t, scenarioParams(), lines, 0, 0)

	if report.DuplicateStatements != 1 {
		t.Fatalf("Expected 1 duplicate statement, got %d", report.DuplicateStatements)
	}
	if n := m.NumTokens(); n != 3 {
		t.Fatalf("Expected 3 tokens, got %d", n)
	}
}

func TestModel_Scenario(t *testing.T) {
	m, report := buildModel(t, scenarioParams(), scenarioLines, 0, 0)

	if n := m.NumTokens(); n != 3 {
		t.Fatalf("Expected 3 tokens, got %d", n)
	}
	if report.TrainingLines != 3 || m.LinesAnalyzed() != 3 {
		t.Fatalf("Expected 3 training lines, got %d and %d", report.TrainingLines, m.LinesAnalyzed())
	}
	if report.DuplicateStatements != 1 {
		t.Fatalf("Expected 1 duplicate statement, got %d", report.DuplicateStatements)
	}

	cases := []struct {
		word string
		occ  int
		mean float64
	}{
		{"movie", 3, 1.0 / 3},
		{"great", 2, 1},
		{"terrible", 1, -1},
	}
	for _, c := range cases {
		seq, ok := m.Sequence(c.word)
		if !ok {
			t.Fatalf("Expected sequence '%s'", c.word)
		}
		if seq.Occurrences != c.occ {
			t.Fatalf("Expected '%s' %d times, got %d", c.word, c.occ, seq.Occurrences)
		}
		if math.Abs(seq.Mean-c.mean) > 1e-12 {
			t.Fatalf("Expected '%s' mean %v, got %v", c.word, c.mean, seq.Mean)
		}
	}

	if mean := m.CorpusMean(); math.Abs(mean-1.0/3) > 1e-12 {
		t.Fatalf("Expected corpus mean 1/3, got %v", mean)
	}

	positive, err := m.Label("great movie")
	if err != nil {
		t.Fatalf("Failed to label: %v", err)
	}
	if positive <= 0 {
		t.Fatalf("Expected positive label for 'great movie', got %v", positive)
	}

	negative, err := m.Label("Terrible movie!")
	if err != nil {
		t.Fatalf("Failed to label: %v", err)
	}
	if negative >= 0 {
		t.Fatalf("Expected negative label for 'terrible movie', got %v", negative)
	}

	unknown, err := m.Label("completely unseen words")
	if err != nil || unknown != 0 {
		t.Fatalf("Expected 0 for unknown words, got %v, %v", unknown, err)
	}

	if s := m.Status(); s.Stage != StageComplete || s.Progress != 1 {
		t.Fatalf("Expected complete status, got %+v", s)
	}
}

func TestModel_LabelDeterministicAndBounded(t *testing.T) {
	params := Params{MaxSequenceLength: 3, MinTokenOccurrence: 2, PruningInterval: 5, RenormalizationLines: 10}
	m, _ := buildModel(t, params, reviewLines(40), 0, 0)

	texts := []string{
		"great food",
		"rude staff and awful food",
		"friendly staff but bad food",
		"good good good",
		"",
	}
	for _, text := range texts {
		first, err := m.Label(text)
		if err != nil {
			t.Fatalf("Failed to label %q: %v", text, err)
		}
		if first < MinLabel || first > MaxLabel || math.IsNaN(first) {
			t.Fatalf("Label %v for %q is out of range", first, text)
		}
		for i := 0; i < 3; i++ {
			again, _ := m.Label(text)
			if again != first {
				t.Fatalf("Label for %q changed from %v to %v", text, first, again)
			}
		}
	}

	good, _ := m.Label("great food and friendly staff")
	bad, _ := m.Label("awful food and rude staff")
	if good <= bad {
		t.Fatalf("Expected positive review above negative one, got %v <= %v", good, bad)
	}
}

func TestModel_ConcurrentLabel(t *testing.T) {
	m, _ := buildModel(t, scenarioParams(), scenarioLines, 0, 0)
	want, _ := m.Label("great movie")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, err := m.Label("great movie")
				if err != nil || got != want {
					errs <- fmt.Errorf("got %v, %v", got, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent label failed: %v", err)
	}
}

func TestModel_EscalatingPrune(t *testing.T) {
	params := Params{MaxSequenceLength: 2, MinTokenOccurrence: 4, PruningInterval: 5, RenormalizationLines: 20}
	m, report := buildModel(t, params, reviewLines(20), 0, 0)

	// thresholds at 5, 10, 15, 20 lines are 0, 1, 2, 4; only the last two prune, then the final prune
	if report.SequencePrunes != 3 {
		t.Fatalf("Expected 3 sequence prunes, got %d", report.SequencePrunes)
	}
	if report.SequencesRetained != m.NumSequences() {
		t.Fatalf("Report and model disagree on sequences: %d vs %d", report.SequencesRetained, m.NumSequences())
	}

	seq, ok := m.Sequence("food")
	if !ok || seq.Occurrences < params.MinTokenOccurrence {
		t.Fatalf("Expected 'food' to be retained, got %+v", seq)
	}
}

func TestPruneThreshold(t *testing.T) {
	cases := []struct {
		min      int
		progress float64
		want     int
	}{
		{400, 1, 400},
		{400, 0.5, 151},
		{10, 0.1, 0},
		{4, 0.75, 2},
	}
	for _, c := range cases {
		if got := pruneThreshold(c.min, c.progress); got != c.want {
			t.Fatalf("pruneThreshold(%d, %v) = %d, want %d", c.min, c.progress, got, c.want)
		}
	}
}

func TestModel_BuildOmitsFold(t *testing.T) {
	lines := []string{"5 alpha good", "1 alpha bad", "5 beta good", "1 beta bad"}
	params := Params{MaxSequenceLength: 2, MinTokenOccurrence: 1, PruningInterval: 100, RenormalizationLines: 100}
	m, report := buildModel(t, params, lines, 2, 0)

	if report.LinesPerFold != 2 || report.TrainingLines != 2 {
		t.Fatalf("Expected 2 lines per fold and 2 training lines, got %+v", report)
	}
	vocabulary := m.Vocabulary(0)
	for _, w := range vocabulary {
		if w == "alpha" {
			t.Fatalf("Omitted fold leaked into the dictionary: %v", vocabulary)
		}
	}
	if len(vocabulary) != 3 {
		t.Fatalf("Expected bad, beta, good; got %v", vocabulary)
	}
	if m.LinesAnalyzed() != 2 {
		t.Fatalf("Expected 2 lines analyzed, got %d", m.LinesAnalyzed())
	}
}

func TestModel_BuildValidation(t *testing.T) {
	cases := []struct {
		name                    string
		total, folds, omit, has int
	}{
		{"zero lines", 0, 0, 0, 3},
		{"negative folds", 3, -1, 0, 3},
		{"negative omit", 3, 0, -1, 3},
		{"omit out of range", 4, 2, 2, 4},
		{"folds do not divide", 3, 2, 0, 3},
		{"single fold leaves nothing", 3, 1, 0, 3},
	}
	for _, c := range cases {
		m, _ := NewModel(scenarioParams(), zap.NewNop())
		_, err := m.Build(context.Background(), LinesSource(reviewLines(c.has)...), c.total, c.folds, c.omit)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", c.name, err)
		}
		if s := m.Status(); s.Stage != StageInitializing {
			t.Fatalf("%s: validation must not start the build, status %+v", c.name, s)
		}
	}

	if _, err := NewModel(Params{MaxSequenceLength: 0, MinTokenOccurrence: 1, PruningInterval: 1, RenormalizationLines: 1}, zap.NewNop()); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for zero sequence length, got %v", err)
	}
}

func TestModel_MalformedLines(t *testing.T) {
	cases := map[string][]string{
		"missing separator":  {"5 great", "5great"},
		"label not a number": {"x great", "5 movie"},
		"label out of range": {"6 great", "5 movie"},
		"label zero":         {"0 great", "5 movie"},
	}
	for name, lines := range cases {
		m, _ := NewModel(scenarioParams(), zap.NewNop())
		_, err := m.Build(context.Background(), LinesSource(lines...), len(lines), 0, 0)
		if !errors.Is(err, ErrIngestion) {
			t.Fatalf("%s: expected ingestion error, got %v", name, err)
		}
		if _, err := m.Label("great"); !errors.Is(err, ErrNotReady) {
			t.Fatalf("%s: failed model must not label, got %v", name, err)
		}
		if _, err := m.Build(context.Background(), LinesSource(scenarioLines...), 3, 0, 0); !errors.Is(err, ErrAlreadyBuilt) {
			t.Fatalf("%s: failed model must not rebuild, got %v", name, err)
		}
	}
}

func TestModel_MissingLines(t *testing.T) {
	m, _ := NewModel(scenarioParams(), zap.NewNop())
	src := StringSource("5\n5 great movie\n1 terrible movie\n")
	if _, err := m.Build(context.Background(), src, 5, 0, 0); !errors.Is(err, ErrFormat) {
		t.Fatalf("Expected format error for missing lines, got %v", err)
	}

	m, _ = NewModel(scenarioParams(), zap.NewNop())
	if _, err := m.Build(context.Background(), LinesSource(scenarioLines[:2]...), 3, 0, 0); !errors.Is(err, ErrFormat) {
		t.Fatalf("Expected format error for short header, got %v", err)
	}
}

func TestModel_ConstantLabels(t *testing.T) {
	m, _ := NewModel(scenarioParams(), zap.NewNop())
	lines := []string{"5 good", "5 good food", "5 food"}
	_, err := m.Build(context.Background(), LinesSource(lines...), len(lines), 0, 0)
	if !errors.Is(err, ErrContractViolation) {
		t.Fatalf("Expected contract violation for degenerate labels, got %v", err)
	}
}

func TestModel_BuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, _ := NewModel(scenarioParams(), zap.NewNop())
	_, err := m.Build(ctx, LinesSource(scenarioLines...), 3, 0, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected cancellation, got %v", err)
	}
}

func TestModel_BuildTwice(t *testing.T) {
	m, _ := buildModel(t, scenarioParams(), scenarioLines, 0, 0)
	if _, err := m.Build(context.Background(), LinesSource(scenarioLines...), 3, 0, 0); !errors.Is(err, ErrAlreadyBuilt) {
		t.Fatalf("Expected ErrAlreadyBuilt, got %v", err)
	}
}

func TestModel_StatusDuringBuild(t *testing.T) {
	m, _ := NewModel(Params{MaxSequenceLength: 2, MinTokenOccurrence: 2, PruningInterval: 500, RenormalizationLines: 500}, zap.NewNop())
	if s := m.Status(); s.Stage != StageInitializing {
		t.Fatalf("Expected initializing, got %+v", s)
	}
	if _, err := m.Label("great"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Expected ErrNotReady before build, got %v", err)
	}

	lines := reviewLines(4000)
	done := make(chan error, 1)
	go func() {
		_, err := m.Build(context.Background(), LinesSource(lines...), len(lines), 0, 0)
		done <- err
	}()

	valid := map[Stage]bool{
		StageInitializing: true, StageLearningWords: true, StageLearningPhrases: true,
		StageRenormalizing: true, StageComplete: true,
	}
	for {
		s := m.Status()
		if !valid[s.Stage] || s.Progress < 0 || s.Progress > 1 {
			t.Fatalf("Observed invalid status %+v", s)
		}
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if s := m.Status(); s.Stage != StageComplete {
				t.Fatalf("Expected complete, got %+v", s)
			}
			return
		default:
		}
	}
}
