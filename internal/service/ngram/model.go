package ngram

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"eko-go/internal/stats"
)

const (
	polarityBiasExp  = 1
	deviationBiasExp = 3
	// deviationFloor keeps the inverse-deviation weight finite for constant sequences
	deviationFloor = 0.02

	statusInterval = 1000
	logInterval    = 100000

	// MinLabel and MaxLabel bound every generated label
	MinLabel = -2.0
	MaxLabel = 2.0
)

// Params are the model hyperparameters
type Params struct {
	MaxSequenceLength    int `json:"max_sequence_length" yaml:"max_sequence_length"`
	MinTokenOccurrence   int `json:"min_token_occurrence" yaml:"min_token_occurrence"`
	PruningInterval      int `json:"sequence_pruning_interval" yaml:"sequence_pruning_interval"`
	RenormalizationLines int `json:"renormalization_lines" yaml:"renormalization_lines"`
}

// DefaultParams returns the hyperparameters used for the reference review corpus
func DefaultParams() Params {
	return Params{
		MaxSequenceLength:    3,
		MinTokenOccurrence:   400,
		PruningInterval:      50000,
		RenormalizationLines: 8000,
	}
}

// Validate checks that every hyperparameter is positive and fits the model file
func (p Params) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"max_sequence_length", p.MaxSequenceLength},
		{"min_token_occurrence", p.MinTokenOccurrence},
		{"sequence_pruning_interval", p.PruningInterval},
		{"renormalization_lines", p.RenormalizationLines},
	}
	for _, f := range fields {
		if f.value <= 0 || f.value > math.MaxInt32 {
			return fmt.Errorf("%w: %s must be in 1..%d, got %d", ErrValidation, f.name, math.MaxInt32, f.value)
		}
	}
	return nil
}

// Stage is a phase of a model build
type Stage string

const (
	StageInitializing    Stage = "initializing"
	StageLearningWords   Stage = "learning-words"
	StageLearningPhrases Stage = "learning-phrases"
	StageRenormalizing   Stage = "renormalizing"
	StageComplete        Stage = "complete"
)

// Status is an immutable snapshot of build progress. Progress is the
// completed fraction of the current stage.
type Status struct {
	Stage    Stage   `json:"stage"`
	Progress float64 `json:"progress"`
}

// BuildReport summarizes a finished build
type BuildReport struct {
	Folds                  int           `json:"folds"`
	OmittedFold            int           `json:"omitted_fold"`
	LinesPerFold           int           `json:"lines_per_fold"`
	TrainingLines          int           `json:"training_lines"`
	DuplicateStatements    int           `json:"duplicate_statements"`
	TokensLearned          int           `json:"tokens_learned"`
	TokensRetained         int           `json:"tokens_retained"`
	SequencePrunes         int           `json:"sequence_prunes"`
	SequencesRetained      int           `json:"sequences_retained"`
	RenormalizationSamples int           `json:"renormalization_samples"`
	Scale                  float64       `json:"scale"`
	Offset                 float64       `json:"offset"`
	Duration               time.Duration `json:"duration"`
}

const (
	stateIdle int32 = iota
	stateBuilding
	stateReady
	stateFailed
)

// Model scores text from the statistics of the token sequences it was trained on.
// A model is built once; scoring is safe for concurrent use after that.
type Model struct {
	params    Params
	tokens    *TokenTrie
	sequences *SequenceTrie

	linesAnalyzed int
	scale         float64
	offset        float64

	state  atomic.Int32
	status atomic.Pointer[Status]
	logger *zap.Logger
}

// NewModel creates an empty model
func NewModel(params Params, logger *zap.Logger) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		params:    params,
		tokens:    NewTokenTrie(),
		sequences: NewSequenceTrie(params.MaxSequenceLength),
		scale:     1,
		offset:    0,
		logger:    logger,
	}
	m.setStatus(StageInitializing, 0)
	return m, nil
}

func (m *Model) setStatus(stage Stage, progress float64) {
	m.status.Store(&Status{Stage: stage, Progress: progress})
}

// Status returns the current build progress. Safe to call during Build.
func (m *Model) Status() Status {
	if s := m.status.Load(); s != nil {
		return *s
	}
	return Status{Stage: StageInitializing}
}

// Ready reports whether the model was built or loaded and can score text
func (m *Model) Ready() bool {
	return m.state.Load() == stateReady
}

// Build trains the model on the first totalLines lines of src. With folds > 0
// the lines are split into that many contiguous folds and fold omit is left out.
// A failed build leaves the model unusable.
func (m *Model) Build(ctx context.Context, src Source, totalLines, folds, omit int) (*BuildReport, error) {
	plan, err := NewFoldPlan(totalLines, folds, omit)
	if err != nil {
		return nil, err
	}
	if plan.TrainingLines() == 0 {
		return nil, fmt.Errorf("%w: no training lines remain after omitting fold %d", ErrValidation, omit)
	}

	if !m.state.CompareAndSwap(stateIdle, stateBuilding) {
		switch m.state.Load() {
		case stateBuilding:
			return nil, ErrBuildInProgress
		case stateFailed:
			return nil, fmt.Errorf("%w: previous build failed", ErrAlreadyBuilt)
		default:
			return nil, ErrAlreadyBuilt
		}
	}

	report, err := m.build(ctx, src, plan)
	if err != nil {
		m.state.Store(stateFailed)
		return nil, err
	}
	m.state.Store(stateReady)
	m.setStatus(StageComplete, 1)
	return report, nil
}

func (m *Model) build(ctx context.Context, src Source, plan FoldPlan) (*BuildReport, error) {
	start := time.Now()
	report := &BuildReport{
		Folds:         plan.Folds,
		OmittedFold:   plan.Omit,
		LinesPerFold:  plan.LinesPerFold,
		TrainingLines: plan.TrainingLines(),
	}

	if plan.Folds == 0 {
		m.logger.Info("Building full model",
			zap.Int("lines", plan.TotalLines))
	} else {
		m.logger.Info("Building model from folds",
			zap.Int("folds", plan.Folds),
			zap.Int("lines_per_fold", plan.LinesPerFold),
			zap.Int("omitted_fold", plan.Omit),
			zap.Int("training_lines", report.TrainingLines))
	}

	if err := m.learnWords(ctx, src, plan, report); err != nil {
		return nil, fmt.Errorf("failed to learn words: %w", err)
	}
	if err := m.learnPhrases(ctx, src, plan, report); err != nil {
		return nil, fmt.Errorf("failed to learn phrases: %w", err)
	}
	if err := m.renormalize(ctx, src, plan, report); err != nil {
		return nil, fmt.Errorf("failed to renormalize: %w", err)
	}

	report.Duration = time.Since(start)
	m.logger.Info("Model build complete",
		zap.Int("tokens", m.tokens.NumTokens()),
		zap.Int("sequences", m.sequences.NumSequences()),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// progress publishes the status every statusInterval lines
func (m *Model) progress(stage Stage, done, total int) {
	if done%statusInterval == 0 {
		m.setStatus(stage, float64(done)/float64(total))
	}
}

func (m *Model) learnWords(ctx context.Context, src Source, plan FoldPlan, report *BuildReport) error {
	m.setStatus(StageLearningWords, 0)
	total := plan.TrainingLines()
	seen := bloom.NewWithEstimates(uint(total), 0.01)
	stageLines := linesIngested.WithLabelValues(string(StageLearningWords))

	done := 0
	err := Scan(ctx, src, plan.TotalLines, plan.Training, func(line LabeledLine) error {
		sanitized := Sanitize(line.Text)
		if seen.TestAndAddString(sanitized) {
			report.DuplicateStatements++
		}
		m.tokens.learnSanitized(sanitized)

		done++
		stageLines.Inc()
		m.progress(StageLearningWords, done, total)
		if done%logInterval == 0 {
			m.logger.Info("Learning words",
				zap.Int("lines", done),
				zap.Int("tokens", m.tokens.NumTokens()))
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.setStatus(StageLearningWords, 1)

	report.TokensLearned = m.tokens.NumTokens()
	m.tokens.Prune(m.params.MinTokenOccurrence)
	report.TokensRetained = m.tokens.NumTokens()

	m.logger.Info("Dictionary finalized",
		zap.Int("tokens_learned", report.TokensLearned),
		zap.Int("tokens_retained", report.TokensRetained),
		zap.Int("estimated_duplicates", report.DuplicateStatements))
	return nil
}

// pruneThreshold is the escalated minimum occurrence after a fraction progress of the lines
func pruneThreshold(minOccurrence int, progress float64) int {
	return int(math.Floor(float64(minOccurrence) * math.Pow(progress, 1.4)))
}

func (m *Model) learnPhrases(ctx context.Context, src Source, plan FoldPlan, report *BuildReport) error {
	m.setStatus(StageLearningPhrases, 0)
	total := plan.TrainingLines()
	stageLines := linesIngested.WithLabelValues(string(StageLearningPhrases))

	err := Scan(ctx, src, plan.TotalLines, plan.Training, func(line LabeledLine) error {
		m.sequences.Add(m.tokens.Tokenize(line.Text), line.Score)
		m.linesAnalyzed++
		stageLines.Inc()
		m.progress(StageLearningPhrases, m.linesAnalyzed, total)

		if m.linesAnalyzed%logInterval == 0 {
			m.logger.Info("Learning phrases",
				zap.Int("lines", m.linesAnalyzed),
				zap.Int("sequences", m.sequences.NumSequences()))
		}

		if m.linesAnalyzed%m.params.PruningInterval == 0 {
			threshold := pruneThreshold(m.params.MinTokenOccurrence, float64(m.linesAnalyzed)/float64(total))
			if threshold > 1 {
				retained := m.sequences.Prune(threshold)
				report.SequencePrunes++
				sequencePrunes.Inc()
				m.logger.Info("Sequence trie pruned",
					zap.Int("min_occurrence", threshold),
					zap.Int("sequences_retained", retained))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	report.SequencesRetained = m.sequences.Prune(m.params.MinTokenOccurrence)
	report.SequencePrunes++
	sequencePrunes.Inc()
	m.setStatus(StageLearningPhrases, 1)

	m.logger.Info("Sequence analysis complete",
		zap.Int("lines", m.linesAnalyzed),
		zap.Int("sequences_retained", report.SequencesRetained))
	return nil
}

func (m *Model) renormalize(ctx context.Context, src Source, plan FoldPlan, report *BuildReport) error {
	m.setStatus(StageRenormalizing, 0)
	limit := m.params.RenormalizationLines
	if total := plan.TrainingLines(); total < limit {
		limit = total
	}

	generated := stats.MustTracker(0, MinLabel, MaxLabel)
	stageLines := linesIngested.WithLabelValues(string(StageRenormalizing))
	err := Scan(ctx, src, plan.TotalLines, plan.Training, func(line LabeledLine) error {
		if err := generated.Add(m.label(line.Text)); err != nil {
			return fmt.Errorf("%w: %v", ErrContractViolation, err)
		}
		stageLines.Inc()
		m.progress(StageRenormalizing, generated.Count(), limit)
		if generated.Count() >= limit {
			return errStopScan
		}
		return nil
	})
	if err != nil {
		return err
	}

	genMean, err := generated.Mean()
	if err != nil {
		return fmt.Errorf("%w: no generated labels: %v", ErrContractViolation, err)
	}
	genStdDev, _ := generated.StdDev()
	if genStdDev <= 0 {
		return fmt.Errorf("%w: generated labels have zero standard deviation", ErrContractViolation)
	}

	scale := m.CorpusStdDev() / genStdDev
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return fmt.Errorf("%w: renormalization scale %v is not positive", ErrContractViolation, scale)
	}
	m.scale = scale
	m.offset = m.CorpusMean() - genMean

	report.RenormalizationSamples = generated.Count()
	report.Scale = m.scale
	report.Offset = m.offset

	m.logger.Info("Output renormalization complete",
		zap.Int("samples", generated.Count()),
		zap.Float64("generated_mean", genMean),
		zap.Float64("generated_stddev", genStdDev),
		zap.Float64("corpus_mean", m.CorpusMean()),
		zap.Float64("corpus_stddev", m.CorpusStdDev()),
		zap.Float64("scale", m.scale),
		zap.Float64("offset", m.offset))
	return nil
}

// Label scores text in [-2, 2]. Negative values are negative sentiment.
func (m *Model) Label(text string) (float64, error) {
	if !m.Ready() {
		return 0, ErrNotReady
	}
	return m.label(text), nil
}

// label covers the tokens of text with the longest known sequences and
// returns their weighted, bias-corrected mean after renormalization.
func (m *Model) label(text string) float64 {
	tokens := m.tokens.Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	n := len(tokens)
	longest := make([]int, n)
	covering := make([]SeqID, n)
	for i := range covering {
		covering[i] = NoSequence
	}

	var totalScore, totalWeight float64
	for i := 0; i < n; i++ {
		// deepest node with its own statistics reachable from position i
		node := rootSequence
		matched, matchedLen := NoSequence, 0
		for j := i; j < n; j++ {
			node = m.sequences.child(node, tokens[j])
			if node == NoSequence {
				break
			}
			if m.sequences.nodes[node].occurrences > 0 {
				matched, matchedLen = node, j-i+1
			}
		}
		for k := i; k < i+matchedLen; k++ {
			if longest[k] < matchedLen {
				longest[k] = matchedLen
				covering[k] = matched
			}
		}

		seq := covering[i]
		if seq == NoSequence {
			continue
		}
		for j := i; j < n && covering[j] == seq; j++ {
			covering[j] = NoSequence
		}

		score := m.normalizedMean(m.sequences.Mean(seq))
		weight := math.Pow(math.Abs(score), polarityBiasExp) /
			math.Pow(math.Sqrt(m.sequences.Variance(seq)+deviationFloor), deviationBiasExp)
		totalScore += score * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0
	}
	mean := m.CorpusMean()
	label := ((totalScore/totalWeight+m.offset)-mean)*m.scale + mean
	return math.Max(MinLabel, math.Min(MaxLabel, label))
}

// normalizedMean stretches a sequence mean so that the corpus mean maps to 0
// and the extremes -1 and 1 stay fixed.
func (m *Model) normalizedMean(mean float64) float64 {
	neutral := m.CorpusMean()
	sgn := 1.0
	if neutral < 0 {
		sgn = -1
	}
	exp := 1 / (1 - math.Log2(math.Abs(neutral)+1))
	mul := math.Pow(2, 1-exp)
	return sgn * (mul*math.Pow(sgn*mean+1, exp) - 1)
}

// Params returns the hyperparameters
func (m *Model) Params() Params {
	return m.params
}

// NumTokens returns the number of words in the dictionary
func (m *Model) NumTokens() int {
	return m.tokens.NumTokens()
}

// NumSequences returns the number of retained token sequences
func (m *Model) NumSequences() int {
	return m.sequences.NumSequences()
}

// LinesAnalyzed returns the number of lines the sequence statistics were built from
func (m *Model) LinesAnalyzed() int {
	return m.linesAnalyzed
}

// Renormalization returns the fitted affine scale and offset
func (m *Model) Renormalization() (scale, offset float64) {
	return m.scale, m.offset
}

// CorpusMean is the mean score of every training statement
func (m *Model) CorpusMean() float64 {
	return m.sequences.Mean(rootSequence)
}

// CorpusStdDev is the standard deviation of every training statement's score
func (m *Model) CorpusStdDev() float64 {
	return m.sequences.StdDev(rootSequence)
}

// Vocabulary lists up to limit dictionary words alphabetically
func (m *Model) Vocabulary(limit int) []string {
	return m.tokens.Vocabulary(limit)
}

// Tokens returns the known words of text in order
func (m *Model) Tokens(text string) []string {
	ids := m.tokens.Tokenize(text)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = m.tokens.Word(id)
	}
	return out
}

// SequenceStats are the statistics of one token sequence
type SequenceStats struct {
	Words       []string `json:"words"`
	Occurrences int      `json:"occurrences"`
	Mean        float64  `json:"mean"`
	StdDev      float64  `json:"stddev"`
}

// Sequence looks up the statistics of an exact run of dictionary words
func (m *Model) Sequence(terms ...string) (SequenceStats, bool) {
	ids := make([]TokenID, len(terms))
	for i, w := range terms {
		id, ok := m.tokens.Lookup(w)
		if !ok {
			return SequenceStats{}, false
		}
		ids[i] = id
	}
	seq, ok := m.sequences.Lookup(ids)
	if !ok || seq == rootSequence {
		return SequenceStats{}, false
	}
	return SequenceStats{
		Words:       terms,
		Occurrences: m.sequences.Occurrences(seq),
		Mean:        m.sequences.Mean(seq),
		StdDev:      m.sequences.StdDev(seq),
	}, true
}
