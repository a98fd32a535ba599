package ngram

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// ModelExt is the file extension of saved models
	ModelExt = ".ekmd"
	// DatasetExt is the file extension of labeled datasets
	DatasetExt = ".ekdt"
)

var (
	// ErrNotFound is returned for a model or dataset name with no file
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when saving over an existing model
	ErrExists = errors.New("already exists")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateName rejects names that could escape the store directory
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: invalid name %q", ErrValidation, name)
	}
	return nil
}

// ModelSummary describes a saved model
type ModelSummary struct {
	Name             string    `json:"name"`
	NumIngestedLines int       `json:"num_ingested_lines"`
	NumSequences     int       `json:"num_sequences"`
	Params           Params    `json:"params"`
	SizeBytes        int64     `json:"size_bytes"`
	ModifiedAt       time.Time `json:"modified_at"`
}

// ModelStore saves and loads models as <name>.ekmd files in one directory
type ModelStore struct {
	dir    string
	logger *zap.Logger
}

// NewModelStore creates the store directory if needed
func NewModelStore(dir string, logger *zap.Logger) (*ModelStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}
	return &ModelStore{dir: dir, logger: logger}, nil
}

// Dir returns the store directory
func (s *ModelStore) Dir() string {
	return s.dir
}

// GetModelPath returns the file path of a model
func (s *ModelStore) GetModelPath(name string) string {
	return filepath.Join(s.dir, name+ModelExt)
}

// ModelExists reports whether a model file exists
func (s *ModelStore) ModelExists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	_, err := os.Stat(s.GetModelPath(name))
	return err == nil
}

// Save writes a model through a temporary file so a partial model is never visible.
// An existing model of the same name is not overwritten.
func (s *ModelStore) Save(name string, m *Model) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	path := s.GetModelPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("model %s: %w", name, ErrExists)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := m.WriteTo(tmp)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model file: %w", err)
	}
	// os.Link fails if path appeared meanwhile, unlike os.Rename
	if err := os.Link(tmp.Name(), path); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("model %s: %w", name, ErrExists)
		}
		return fmt.Errorf("failed to publish model file: %w", err)
	}

	s.logger.Info("Saved model",
		zap.String("model", name),
		zap.String("path", path),
		zap.Int64("bytes", written),
		zap.Int("tokens", m.NumTokens()),
		zap.Int("sequences", m.NumSequences()))
	return nil
}

// Load reads a saved model
func (s *ModelStore) Load(name string) (*Model, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := s.GetModelPath(name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("model %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open model: %w", err)
	}
	defer f.Close()

	m, err := ReadModel(f, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", name, err)
	}

	s.logger.Info("Loaded model",
		zap.String("model", name),
		zap.String("path", path),
		zap.Int("tokens", m.NumTokens()),
		zap.Int("sequences", m.NumSequences()))
	return m, nil
}

// DeleteModel removes a saved model
func (s *ModelStore) DeleteModel(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.GetModelPath(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("model %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to delete model: %w", err)
	}
	s.logger.Info("Deleted model", zap.String("model", name))
	return nil
}

// List summarizes every model file, reading only headers. Unreadable files are skipped.
func (s *ModelStore) List() ([]ModelSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read models directory: %w", err)
	}

	summaries := []ModelSummary{}
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ModelExt)
		if !ok || entry.IsDir() {
			continue
		}
		summary, err := s.summarize(name)
		if err != nil {
			s.logger.Warn("Skipping unreadable model", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}

func (s *ModelStore) summarize(name string) (ModelSummary, error) {
	f, err := os.Open(s.GetModelPath(name))
	if err != nil {
		return ModelSummary{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ModelSummary{}, err
	}
	header, err := ReadHeader(f)
	if err != nil {
		return ModelSummary{}, err
	}
	return ModelSummary{
		Name:             name,
		NumIngestedLines: int(header.LinesAnalyzed),
		NumSequences:     int(header.SequenceCount),
		Params:           header.Params,
		SizeBytes:        info.Size(),
		ModifiedAt:       info.ModTime(),
	}, nil
}

// DatasetSummary describes a labeled dataset
type DatasetSummary struct {
	Name     string `json:"name"`
	NumLines int    `json:"num_lines"`
}

// DatasetStore finds labeled datasets as <name>.ekdt files in one directory
type DatasetStore struct {
	dir    string
	logger *zap.Logger
}

// NewDatasetStore creates the store directory if needed
func NewDatasetStore(dir string, logger *zap.Logger) (*DatasetStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create datasets directory: %w", err)
	}
	return &DatasetStore{dir: dir, logger: logger}, nil
}

// GetDatasetPath returns the file path of a dataset
func (s *DatasetStore) GetDatasetPath(name string) string {
	return filepath.Join(s.dir, name+DatasetExt)
}

// Open returns the source and declared line count of a dataset
func (s *DatasetStore) Open(name string) (Source, int, error) {
	if err := ValidateName(name); err != nil {
		return nil, 0, err
	}
	path := s.GetDatasetPath(name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("dataset %s: %w", name, ErrNotFound)
		}
		return nil, 0, fmt.Errorf("failed to stat dataset: %w", err)
	}
	src := FileSource(path)
	n, err := ReadDatasetHeader(src)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read dataset %s: %w", name, err)
	}
	return src, n, nil
}

// List summarizes every dataset whose header is readable
func (s *DatasetStore) List() ([]DatasetSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read datasets directory: %w", err)
	}

	summaries := []DatasetSummary{}
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), DatasetExt)
		if !ok || entry.IsDir() {
			continue
		}
		n, err := ReadDatasetHeader(FileSource(filepath.Join(s.dir, entry.Name())))
		if err != nil {
			s.logger.Warn("Skipping unreadable dataset", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		summaries = append(summaries, DatasetSummary{Name: name, NumLines: n})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}
