package ngram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestValidateName(t *testing.T) {
	for _, name := range []string{"reviews", "yelp-2024", "model_v1.3", "A1"} {
		if err := ValidateName(name); err != nil {
			t.Fatalf("Expected %q to be valid, got %v", name, err)
		}
	}
	for _, name := range []string{"", "../etc", "a/b", ".hidden", "a..b", "with space", "-flag"} {
		if err := ValidateName(name); !errors.Is(err, ErrValidation) {
			t.Fatalf("Expected %q to be invalid, got %v", name, err)
		}
	}
}

func TestModelStore(t *testing.T) {
	store, err := NewModelStore(filepath.Join(t.TempDir(), "models"), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	m, _ := buildModel(t, scenarioParams(), scenarioLines, 0, 0)

	if store.ModelExists("reviews") {
		t.Fatalf("Model should not exist yet")
	}
	if err := store.Save("reviews", m); err != nil {
		t.Fatalf("Failed to save model: %v", err)
	}
	if !store.ModelExists("reviews") {
		t.Fatalf("Model should exist after save")
	}
	if err := store.Save("reviews", m); !errors.Is(err, ErrExists) {
		t.Fatalf("Expected ErrExists, got %v", err)
	}

	loaded, err := store.Load("reviews")
	if err != nil {
		t.Fatalf("Failed to load model: %v", err)
	}
	want, _ := m.Label("great movie")
	if got, _ := loaded.Label("great movie"); got != want {
		t.Fatalf("Expected label %v after load, got %v", want, got)
	}

	// unrelated and corrupt files are not listed
	if err := os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := os.WriteFile(store.GetModelPath("broken"), []byte("garbage"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	summaries, err := store.List()
	if err != nil {
		t.Fatalf("Failed to list models: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("Expected 1 model, got %+v", summaries)
	}
	s := summaries[0]
	if s.Name != "reviews" || s.NumIngestedLines != 3 || s.NumSequences != m.NumSequences() || s.Params != m.Params() {
		t.Fatalf("Unexpected summary %+v", s)
	}
	if s.SizeBytes <= headerSize {
		t.Fatalf("Expected size beyond the header, got %d", s.SizeBytes)
	}

	if _, err := store.Load("broken"); !errors.Is(err, ErrFormat) {
		t.Fatalf("Expected format error for corrupt model, got %v", err)
	}

	if err := store.DeleteModel("reviews"); err != nil {
		t.Fatalf("Failed to delete model: %v", err)
	}
	if _, err := store.Load("reviews"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteModel("reviews"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound deleting twice, got %v", err)
	}
	if _, err := store.Load("../reviews"); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for path name, got %v", err)
	}

	// temporary files never remain
	entries, _ := os.ReadDir(store.Dir())
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("Temporary file left behind: %s", e.Name())
		}
	}
}

func TestModelStore_SaveUnbuilt(t *testing.T) {
	store, _ := NewModelStore(t.TempDir(), zap.NewNop())
	m, _ := NewModel(scenarioParams(), zap.NewNop())
	if err := store.Save("empty", m); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Expected ErrNotReady, got %v", err)
	}
	if store.ModelExists("empty") {
		t.Fatalf("Unbuilt model must not be published")
	}
}

func TestDatasetStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDatasetStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := os.WriteFile(store.GetDatasetPath("reviews"), []byte(LinesSource(scenarioLines...)), 0644); err != nil {
		t.Fatalf("Failed to write dataset: %v", err)
	}
	if err := os.WriteFile(store.GetDatasetPath("bad"), []byte("not a count\n"), 0644); err != nil {
		t.Fatalf("Failed to write dataset: %v", err)
	}

	summaries, err := store.List()
	if err != nil {
		t.Fatalf("Failed to list datasets: %v", err)
	}
	if len(summaries) != 1 || summaries[0] != (DatasetSummary{Name: "reviews", NumLines: 3}) {
		t.Fatalf("Unexpected datasets %+v", summaries)
	}

	src, n, err := store.Open("reviews")
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 lines, got %d, %v", n, err)
	}
	m, _ := NewModel(scenarioParams(), zap.NewNop())
	if _, err := m.Build(context.Background(), src, n, 0, 0); err != nil {
		t.Fatalf("Failed to build from dataset file: %v", err)
	}

	if _, _, err := store.Open("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Open("bad"); !errors.Is(err, ErrFormat) {
		t.Fatalf("Expected format error, got %v", err)
	}
}
