package eval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"eko-go/internal/service/ngram"
)

// Evaluate labels every held-out line of plan with m. With plan.Folds == 0
// every line is evaluated.
func Evaluate(ctx context.Context, m *ngram.Model, src ngram.Source, plan ngram.FoldPlan, numBuckets int) (*TestResults, error) {
	results, err := NewTestResults(numBuckets)
	if err != nil {
		return nil, err
	}
	err = ngram.Scan(ctx, src, plan.TotalLines, plan.Held, func(line ngram.LabeledLine) error {
		generated, err := m.Label(line.Text)
		if err != nil {
			return err
		}
		if err := results.AddResult(generated, line.Score); err != nil {
			return fmt.Errorf("%w: line %d: %v", ngram.ErrContractViolation, line.Index+1, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate fold %d: %w", plan.Omit, err)
	}
	return results, nil
}

// FoldResult is the outcome of training without one fold and testing on it
type FoldResult struct {
	Fold    int                `json:"fold"`
	Build   *ngram.BuildReport `json:"build"`
	Results *TestResults       `json:"-"`
}

// CrossValidation holds per-fold results and their merge in fold order
type CrossValidation struct {
	Folds  []FoldResult
	Merged *TestResults
}

// CrossValidator runs k-fold cross-validation of a hyperparameter set
type CrossValidator struct {
	params  ngram.Params
	buckets int
	workers int
	logger  *zap.Logger
}

// NewCrossValidator creates a validator that trains at most workers folds at once
func NewCrossValidator(params ngram.Params, buckets, workers int, logger *zap.Logger) (*CrossValidator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if buckets <= 0 {
		return nil, fmt.Errorf("%w: buckets must be positive, got %d", ngram.ErrValidation, buckets)
	}
	if workers <= 0 {
		return nil, fmt.Errorf("%w: fold workers must be positive, got %d", ngram.ErrValidation, workers)
	}
	return &CrossValidator{params: params, buckets: buckets, workers: workers, logger: logger}, nil
}

// Run trains one fresh model per fold on the other folds, tests it on the
// omitted fold and merges the fold results.
func (cv *CrossValidator) Run(ctx context.Context, src ngram.Source, totalLines, folds int) (*CrossValidation, error) {
	if folds < 2 {
		return nil, fmt.Errorf("%w: cross-validation needs at least 2 folds, got %d", ngram.ErrValidation, folds)
	}
	if _, err := ngram.NewFoldPlan(totalLines, folds, 0); err != nil {
		return nil, err
	}

	start := time.Now()
	cv.logger.Info("Starting cross-validation",
		zap.Int("lines", totalLines),
		zap.Int("folds", folds),
		zap.Int("workers", cv.workers))

	foldResults := make([]FoldResult, folds)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cv.workers)
	for i := 0; i < folds; i++ {
		g.Go(func() error {
			res, err := cv.runFold(gctx, src, totalLines, folds, i)
			if err != nil {
				return err
			}
			foldResults[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := NewTestResults(cv.buckets)
	if err != nil {
		return nil, err
	}
	for _, fr := range foldResults {
		if err := merged.Merge(fr.Results); err != nil {
			return nil, fmt.Errorf("failed to merge fold %d: %w", fr.Fold, err)
		}
	}

	cv.logger.Info("Cross-validation complete",
		zap.Int("folds", folds),
		zap.Int("results", merged.Count()),
		zap.Int("true_positive", merged.TruePositive),
		zap.Int("true_negative", merged.TrueNegative),
		zap.Duration("duration", time.Since(start)))
	return &CrossValidation{Folds: foldResults, Merged: merged}, nil
}

func (cv *CrossValidator) runFold(ctx context.Context, src ngram.Source, totalLines, folds, fold int) (FoldResult, error) {
	logger := cv.logger.With(zap.Int("fold", fold))
	m, err := ngram.NewModel(cv.params, logger)
	if err != nil {
		return FoldResult{}, err
	}
	report, err := m.Build(ctx, src, totalLines, folds, fold)
	if err != nil {
		return FoldResult{}, fmt.Errorf("failed to build model for fold %d: %w", fold, err)
	}

	plan, err := ngram.NewFoldPlan(totalLines, folds, fold)
	if err != nil {
		return FoldResult{}, err
	}
	results, err := Evaluate(ctx, m, src, plan, cv.buckets)
	if err != nil {
		return FoldResult{}, err
	}

	logger.Info("Fold evaluated",
		zap.Int("lines", results.Count()),
		zap.Int("true_positive", results.TruePositive),
		zap.Int("false_positive", results.FalsePositive),
		zap.Int("true_negative", results.TrueNegative),
		zap.Int("false_negative", results.FalseNegative))
	return FoldResult{Fold: fold, Build: report, Results: results}, nil
}
