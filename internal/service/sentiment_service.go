package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eko-go/internal/config"
	"eko-go/internal/service/eval"
	"eko-go/internal/service/ngram"
	"eko-go/internal/stats"
)

const (
	batchBuckets   = 1000
	batchExtremes  = 5
	stateQueued    = "queued"
	stateTraining  = "training"
	stateReady     = "ready"
	stateFailed    = "failed"
	stateCancelled = "cancelled"
)

// TrainRequest describes a model to build. Zero hyperparameters take the configured defaults
// and a zero NumLines uses every line the dataset declares.
type TrainRequest struct {
	Name     string       `json:"name"`
	Dataset  string       `json:"dataset"`
	NumLines int          `json:"num_lines"`
	Params   ngram.Params `json:"params"`
}

// TrainingJob tracks one background build
type TrainingJob struct {
	ID         string             `json:"job_id"`
	Model      string             `json:"model"`
	Dataset    string             `json:"dataset"`
	NumLines   int                `json:"num_lines"`
	Params     ngram.Params       `json:"params"`
	State      string             `json:"state"`
	Error      string             `json:"error,omitempty"`
	Report     *ngram.BuildReport `json:"report,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// ModelProgress is the build progress of a model
type ModelProgress struct {
	Model    string      `json:"model"`
	State    string      `json:"state"`
	Stage    ngram.Stage `json:"stage"`
	Progress float64     `json:"progress"`
	JobID    string      `json:"job_id,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// LabeledStatement is a statement and its generated label
type LabeledStatement struct {
	Text  string  `json:"text"`
	Label float64 `json:"label"`
}

// BatchResult summarizes the labels of many statements
type BatchResult struct {
	Summary      stats.Summary      `json:"summary"`
	MostPositive []LabeledStatement `json:"most_positive"`
	MostNegative []LabeledStatement `json:"most_negative"`
}

// CrossValidateRequest describes a k-fold evaluation of hyperparameters on a dataset
type CrossValidateRequest struct {
	Dataset  string       `json:"dataset"`
	NumLines int          `json:"num_lines"`
	Folds    int          `json:"folds"`
	Params   ngram.Params `json:"params"`
}

// CrossValidateResult is the merged evaluation and the per-fold builds
type CrossValidateResult struct {
	Report eval.Report       `json:"report"`
	Folds  []eval.FoldResult `json:"folds"`
	Table  string            `json:"table"`
	Params ngram.Params      `json:"params"`
}

// SentimentService owns the models of one process: the ones loaded from
// disk, the ones being trained and the background jobs training them.
type SentimentService struct {
	models     map[string]*ngram.Model
	jobs       map[string]*TrainingJob // model name -> latest job
	modelStore *ngram.ModelStore
	datasets   *ngram.DatasetStore
	defaults   ngram.Params
	evaluation config.EvaluationConfig

	builds chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewSentimentService creates the service over the configured model and dataset directories
func NewSentimentService(cfg *config.Config, logger *zap.Logger) (*SentimentService, error) {
	modelStore, err := ngram.NewModelStore(cfg.GetModelsDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create model store: %w", err)
	}
	datasets, err := ngram.NewDatasetStore(cfg.GetDatasetsDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SentimentService{
		models:     make(map[string]*ngram.Model),
		jobs:       make(map[string]*TrainingJob),
		modelStore: modelStore,
		datasets:   datasets,
		defaults:   cfg.Training.Params,
		evaluation: cfg.Evaluation,
		builds:     make(chan struct{}, cfg.Training.MaxConcurrentBuilds),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}, nil
}

// withDefaults fills zero hyperparameters from the configured defaults
func (s *SentimentService) withDefaults(p ngram.Params) ngram.Params {
	if p.MaxSequenceLength == 0 {
		p.MaxSequenceLength = s.defaults.MaxSequenceLength
	}
	if p.MinTokenOccurrence == 0 {
		p.MinTokenOccurrence = s.defaults.MinTokenOccurrence
	}
	if p.PruningInterval == 0 {
		p.PruningInterval = s.defaults.PruningInterval
	}
	if p.RenormalizationLines == 0 {
		p.RenormalizationLines = s.defaults.RenormalizationLines
	}
	return p
}

// openDataset resolves a dataset and the number of lines to use from it
func (s *SentimentService) openDataset(name string, numLines int) (ngram.Source, int, error) {
	src, declared, err := s.datasets.Open(name)
	if err != nil {
		return nil, 0, err
	}
	if numLines == 0 {
		numLines = declared
	}
	if numLines < 0 || numLines > declared {
		return nil, 0, fmt.Errorf("%w: dataset %s has %d lines, %d requested", ngram.ErrValidation, name, declared, numLines)
	}
	return src, numLines, nil
}

// StartTraining validates the request, registers the new model and builds it in
// the background. At most max_concurrent_builds builds run at once; the rest queue.
func (s *SentimentService) StartTraining(req TrainRequest) (*TrainingJob, error) {
	if err := ngram.ValidateName(req.Name); err != nil {
		return nil, err
	}
	params := s.withDefaults(req.Params)
	m, err := ngram.NewModel(params, s.logger.With(zap.String("model", req.Name)))
	if err != nil {
		return nil, err
	}
	src, numLines, err := s.openDataset(req.Dataset, req.NumLines)
	if err != nil {
		return nil, err
	}
	if _, err := ngram.NewFoldPlan(numLines, 0, 0); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if job, ok := s.jobs[req.Name]; ok && (job.State == stateQueued || job.State == stateTraining) {
		s.mu.Unlock()
		return nil, fmt.Errorf("model %s: %w", req.Name, ngram.ErrBuildInProgress)
	}
	if _, ok := s.models[req.Name]; ok || s.modelStore.ModelExists(req.Name) {
		s.mu.Unlock()
		return nil, fmt.Errorf("model %s: %w", req.Name, ngram.ErrExists)
	}
	job := &TrainingJob{
		ID:        uuid.New().String(),
		Model:     req.Name,
		Dataset:   req.Dataset,
		NumLines:  numLines,
		Params:    params,
		State:     stateQueued,
		StartedAt: time.Now(),
	}
	s.models[req.Name] = m
	s.jobs[req.Name] = job
	loadedModels.Set(float64(len(s.models)))
	snapshot := *job
	s.mu.Unlock()

	s.logger.Info("Training job queued",
		zap.String("job_id", job.ID),
		zap.String("model", req.Name),
		zap.String("dataset", req.Dataset),
		zap.Int("lines", numLines),
		zap.Any("params", params))

	s.wg.Add(1)
	go s.runTraining(job, m, src)
	return &snapshot, nil
}

func (s *SentimentService) runTraining(job *TrainingJob, m *ngram.Model, src ngram.Source) {
	defer s.wg.Done()

	select {
	case s.builds <- struct{}{}:
	case <-s.ctx.Done():
		s.finishJob(job, nil, s.ctx.Err())
		return
	}
	defer func() { <-s.builds }()

	s.setJobState(job, stateTraining)
	activeBuilds.Inc()
	report, err := m.Build(s.ctx, src, job.NumLines, 0, 0)
	activeBuilds.Dec()
	if err == nil {
		err = s.modelStore.Save(job.Model, m)
	}
	s.finishJob(job, report, err)
}

func (s *SentimentService) setJobState(job *TrainingJob, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.State = state
}

// finishJob records the outcome. A model that did not build and save is removed
// from the registry so the name can be trained again.
func (s *SentimentService) finishJob(job *TrainingJob, report *ngram.BuildReport, err error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	job.FinishedAt = &now
	job.Report = report
	switch {
	case err == nil:
		job.State = stateReady
		trainingRuns.WithLabelValues(stateReady).Inc()
		trainingDuration.Observe(report.Duration.Seconds())
		s.logger.Info("Training job complete",
			zap.String("job_id", job.ID),
			zap.String("model", job.Model),
			zap.Duration("duration", report.Duration))
		return
	case errors.Is(err, context.Canceled):
		job.State = stateCancelled
	default:
		job.State = stateFailed
	}
	job.Error = err.Error()
	trainingRuns.WithLabelValues(job.State).Inc()
	delete(s.models, job.Model)
	loadedModels.Set(float64(len(s.models)))
	s.logger.Error("Training job failed",
		zap.String("job_id", job.ID),
		zap.String("model", job.Model),
		zap.String("state", job.State),
		zap.Error(err))
}

// GetJob returns the latest training job of a model
func (s *SentimentService) GetJob(name string) (*TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("training job for model %s: %w", name, ngram.ErrNotFound)
	}
	snapshot := *job
	return &snapshot, nil
}

// GetModel returns a registered model, loading it from disk on first use
func (s *SentimentService) GetModel(name string) (*ngram.Model, error) {
	if err := ngram.ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	m, ok := s.models[name]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	loaded, err := s.modelStore.Load(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.models[name]; ok {
		return m, nil
	}
	s.models[name] = loaded
	loadedModels.Set(float64(len(s.models)))
	return loaded, nil
}

// Progress reports the build progress of a model. Models found only on disk are complete.
func (s *SentimentService) Progress(name string) (*ModelProgress, error) {
	if err := ngram.ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	m, loaded := s.models[name]
	job, hasJob := s.jobs[name]
	var progress ModelProgress
	if hasJob {
		progress = ModelProgress{Model: name, State: job.State, JobID: job.ID, Error: job.Error}
	}
	s.mu.RUnlock()

	switch {
	case loaded:
		status := m.Status()
		progress.Model = name
		progress.Stage = status.Stage
		progress.Progress = status.Progress
		// a job stays training until its model is saved
		if !hasJob {
			progress.State = stateReady
		}
		return &progress, nil
	case hasJob && progress.State != stateReady:
		return &progress, nil
	case s.modelStore.ModelExists(name):
		return &ModelProgress{Model: name, State: stateReady, Stage: ngram.StageComplete, Progress: 1}, nil
	}
	return nil, fmt.Errorf("model %s: %w", name, ngram.ErrNotFound)
}

// Score labels one statement
func (s *SentimentService) Score(name, text string) (float64, error) {
	m, err := s.GetModel(name)
	if err != nil {
		return 0, err
	}
	label, err := m.Label(text)
	if err != nil {
		return 0, fmt.Errorf("model %s: %w", name, err)
	}
	statementsScored.Inc()
	return label, nil
}

// LabelBatch labels statements and returns their distribution with the most
// positive and most negative statements.
func (s *SentimentService) LabelBatch(name string, statements []string) (*BatchResult, error) {
	if len(statements) == 0 {
		return nil, fmt.Errorf("%w: no statements to label", ngram.ErrValidation)
	}
	m, err := s.GetModel(name)
	if err != nil {
		return nil, err
	}

	tracker := stats.MustTracker(batchBuckets, ngram.MinLabel, ngram.MaxLabel)
	labeled := make([]LabeledStatement, 0, len(statements))
	for _, text := range statements {
		label, err := m.Label(text)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", name, err)
		}
		if err := tracker.Add(label); err != nil {
			return nil, fmt.Errorf("%w: %v", ngram.ErrContractViolation, err)
		}
		labeled = append(labeled, LabeledStatement{Text: text, Label: label})
	}
	statementsScored.Add(float64(len(labeled)))

	summary, err := tracker.Summary()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(labeled, func(i, j int) bool { return labeled[i].Label > labeled[j].Label })
	n := min(batchExtremes, len(labeled))
	positive := append([]LabeledStatement(nil), labeled[:n]...)
	negative := make([]LabeledStatement, 0, n)
	for i := len(labeled) - 1; i >= len(labeled)-n; i-- {
		negative = append(negative, labeled[i])
	}

	return &BatchResult{Summary: summary, MostPositive: positive, MostNegative: negative}, nil
}

// SplitStatements splits newline-delimited text into non-blank statements
func SplitStatements(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// CrossValidate runs k-fold cross-validation synchronously
func (s *SentimentService) CrossValidate(ctx context.Context, req CrossValidateRequest) (*CrossValidateResult, error) {
	params := s.withDefaults(req.Params)
	cv, err := eval.NewCrossValidator(params, s.evaluation.Buckets, s.evaluation.FoldWorkers, s.logger.With(zap.String("dataset", req.Dataset)))
	if err != nil {
		return nil, err
	}
	src, numLines, err := s.openDataset(req.Dataset, req.NumLines)
	if err != nil {
		return nil, err
	}

	out, err := cv.Run(ctx, src, numLines, req.Folds)
	if err != nil {
		return nil, err
	}
	report, err := out.Merged.Report()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ngram.ErrContractViolation, err)
	}
	return &CrossValidateResult{
		Report: report,
		Folds:  out.Folds,
		Table:  out.Merged.String(),
		Params: params,
	}, nil
}

// ListModels summarizes the saved models
func (s *SentimentService) ListModels() ([]ngram.ModelSummary, error) {
	return s.modelStore.List()
}

// DeleteModel removes a model from memory and disk. Models being trained cannot be deleted.
func (s *SentimentService) DeleteModel(name string) error {
	if err := ngram.ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[name]; ok && (job.State == stateQueued || job.State == stateTraining) {
		return fmt.Errorf("model %s: %w", name, ngram.ErrBuildInProgress)
	}
	if err := s.modelStore.DeleteModel(name); err != nil {
		return err
	}
	delete(s.models, name)
	delete(s.jobs, name)
	loadedModels.Set(float64(len(s.models)))
	return nil
}

// ListDatasets summarizes the labeled datasets
func (s *SentimentService) ListDatasets() ([]ngram.DatasetSummary, error) {
	return s.datasets.List()
}

// Shutdown cancels running builds and waits for their goroutines
func (s *SentimentService) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("Sentiment service stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop training jobs: %w", ctx.Err())
	}
}
