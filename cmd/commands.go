package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"eko-go/internal/config"
	"eko-go/internal/service/eval"
	"eko-go/internal/service/ngram"

	"go.uber.org/zap"
)

// commandEnv is the configuration, logger and stores shared by the offline commands
type commandEnv struct {
	cfg      *config.Config
	logger   *zap.Logger
	models   *ngram.ModelStore
	datasets *ngram.DatasetStore
}

// paramFlags registers hyperparameter overrides on fs
type paramFlags struct {
	maxSequenceLength    *int
	minTokenOccurrence   *int
	pruningInterval      *int
	renormalizationLines *int
}

func addParamFlags(fs *flag.FlagSet) paramFlags {
	return paramFlags{
		maxSequenceLength:    fs.Int("max-sequence-length", 0, "Longest token sequence kept by the model"),
		minTokenOccurrence:   fs.Int("min-token-occurrence", 0, "Minimum occurrences of words and sequences"),
		pruningInterval:      fs.Int("pruning-interval", 0, "Lines between escalating sequence prunes"),
		renormalizationLines: fs.Int("renormalization-lines", 0, "Lines sampled to fit the label renormalization"),
	}
}

// apply overrides the configured defaults with the flags that were set
func (p paramFlags) apply(params ngram.Params) ngram.Params {
	if *p.maxSequenceLength > 0 {
		params.MaxSequenceLength = *p.maxSequenceLength
	}
	if *p.minTokenOccurrence > 0 {
		params.MinTokenOccurrence = *p.minTokenOccurrence
	}
	if *p.pruningInterval > 0 {
		params.PruningInterval = *p.pruningInterval
	}
	if *p.renormalizationLines > 0 {
		params.RenormalizationLines = *p.renormalizationLines
	}
	return params
}

func newCommandEnv(appConfigPath, workDir string) (*commandEnv, error) {
	cfg, err := config.LoadConfig(appConfigPath)
	if err != nil {
		return nil, err
	}
	if workDir != "" {
		cfg.App.WorkDir = workDir
	}

	logger, err := newLogger(cfg, "stderr")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	models, err := ngram.NewModelStore(cfg.GetModelsDir(), logger)
	if err != nil {
		return nil, err
	}
	datasets, err := ngram.NewDatasetStore(cfg.GetDatasetsDir(), logger)
	if err != nil {
		return nil, err
	}
	return &commandEnv{cfg: cfg, logger: logger, models: models, datasets: datasets}, nil
}

// openDataset resolves a dataset by name, or by path when it names an existing file
func (env *commandEnv) openDataset(dataset string, numLines int) (ngram.Source, int, error) {
	var src ngram.Source
	var declared int
	if _, err := os.Stat(dataset); err == nil {
		src = ngram.FileSource(dataset)
		declared, err = ngram.ReadDatasetHeader(src)
		if err != nil {
			return nil, 0, err
		}
	} else {
		var err error
		src, declared, err = env.datasets.Open(dataset)
		if err != nil {
			return nil, 0, err
		}
	}

	if numLines == 0 {
		numLines = declared
	}
	if numLines < 0 || numLines > declared {
		return nil, 0, fmt.Errorf("%w: dataset %s has %d lines, %d requested", ngram.ErrValidation, dataset, declared, numLines)
	}
	return src, numLines, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func trainCommand(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	appConfigPath := fs.String("app", "", "Path to app configuration file")
	workDir := fs.String("workdir", "", "Working directory holding models and datasets")
	name := fs.String("name", "", "Name of the model to save")
	dataset := fs.String("dataset", "", "Dataset name or path")
	numLines := fs.Int("lines", 0, "Number of dataset lines to train on, 0 uses all")
	force := fs.Bool("force", false, "Replace an existing model of the same name")
	params := addParamFlags(fs)
	fs.Parse(args)

	if *name == "" || *dataset == "" {
		return fmt.Errorf("%w: -name and -dataset are required", ngram.ErrValidation)
	}

	env, err := newCommandEnv(*appConfigPath, *workDir)
	if err != nil {
		return err
	}
	defer env.logger.Sync()

	if env.models.ModelExists(*name) {
		if !*force {
			return fmt.Errorf("model %s: %w", *name, ngram.ErrExists)
		}
		if err := env.models.DeleteModel(*name); err != nil {
			return err
		}
	}

	src, lines, err := env.openDataset(*dataset, *numLines)
	if err != nil {
		return err
	}
	m, err := ngram.NewModel(params.apply(env.cfg.Training.Params), env.logger.With(zap.String("model", *name)))
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	report, err := m.Build(ctx, src, lines, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to train model %s: %w", *name, err)
	}
	if err := env.models.Save(*name, m); err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode build report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func scoreCommand(args []string) error {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	appConfigPath := fs.String("app", "", "Path to app configuration file")
	workDir := fs.String("workdir", "", "Working directory holding models and datasets")
	name := fs.String("name", "", "Name of the saved model")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("%w: -name is required", ngram.ErrValidation)
	}

	env, err := newCommandEnv(*appConfigPath, *workDir)
	if err != nil {
		return err
	}
	defer env.logger.Sync()

	m, err := env.models.Load(*name)
	if err != nil {
		return err
	}

	// Statements come from the arguments, or one per line from stdin
	if fs.NArg() > 0 {
		return printLabel(os.Stdout, m, strings.Join(fs.Args(), " "))
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		statement := strings.TrimSpace(scanner.Text())
		if statement == "" {
			continue
		}
		if err := printLabel(os.Stdout, m, statement); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read statements: %w", err)
	}
	return nil
}

func printLabel(w io.Writer, m *ngram.Model, statement string) error {
	label, err := m.Label(statement)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%+.4f\t%s\n", label, statement)
	return err
}

func crossvalCommand(args []string) error {
	fs := flag.NewFlagSet("crossval", flag.ExitOnError)
	appConfigPath := fs.String("app", "", "Path to app configuration file")
	workDir := fs.String("workdir", "", "Working directory holding models and datasets")
	dataset := fs.String("dataset", "", "Dataset name or path")
	numLines := fs.Int("lines", 0, "Number of dataset lines to use, 0 uses all")
	folds := fs.Int("folds", 10, "Number of folds")
	workers := fs.Int("workers", 0, "Folds trained at once, 0 uses evaluation.fold_workers")
	params := addParamFlags(fs)
	fs.Parse(args)

	if *dataset == "" {
		return fmt.Errorf("%w: -dataset is required", ngram.ErrValidation)
	}

	env, err := newCommandEnv(*appConfigPath, *workDir)
	if err != nil {
		return err
	}
	defer env.logger.Sync()

	src, lines, err := env.openDataset(*dataset, *numLines)
	if err != nil {
		return err
	}
	if *workers <= 0 {
		*workers = env.cfg.Evaluation.FoldWorkers
	}
	validator, err := eval.NewCrossValidator(params.apply(env.cfg.Training.Params), env.cfg.Evaluation.Buckets, *workers, env.logger)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	result, err := validator.Run(ctx, src, lines, *folds)
	if err != nil {
		return err
	}
	fmt.Print(result.Merged.String())
	return nil
}

func inspectCommand(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	appConfigPath := fs.String("app", "", "Path to app configuration file")
	workDir := fs.String("workdir", "", "Working directory holding models and datasets")
	name := fs.String("name", "", "Name of the saved model")
	vocabulary := fs.Int("vocabulary", 20, "Number of dictionary words to list")
	phrase := fs.String("phrase", "", "Look up the statistics of this word sequence")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("%w: -name is required", ngram.ErrValidation)
	}

	env, err := newCommandEnv(*appConfigPath, *workDir)
	if err != nil {
		return err
	}
	defer env.logger.Sync()

	m, err := env.models.Load(*name)
	if err != nil {
		return err
	}

	params := m.Params()
	scale, offset := m.Renormalization()
	fmt.Printf("model:                %s\n", *name)
	fmt.Printf("path:                 %s\n", env.models.GetModelPath(*name))
	fmt.Printf("max sequence length:  %d\n", params.MaxSequenceLength)
	fmt.Printf("min token occurrence: %d\n", params.MinTokenOccurrence)
	fmt.Printf("pruning interval:     %d\n", params.PruningInterval)
	fmt.Printf("renormalization:      %d lines, scale %.6f, offset %.6f\n", params.RenormalizationLines, scale, offset)
	fmt.Printf("lines analyzed:       %d\n", m.LinesAnalyzed())
	fmt.Printf("corpus score:         mean %.4f, stddev %.4f\n", m.CorpusMean(), m.CorpusStdDev())
	fmt.Printf("tokens:               %d\n", m.NumTokens())
	fmt.Printf("sequences:            %d\n", m.NumSequences())

	if *vocabulary > 0 {
		fmt.Printf("vocabulary:           %s\n", strings.Join(m.Vocabulary(*vocabulary), " "))
	}

	if *phrase != "" {
		words := m.Tokens(*phrase)
		stats, ok := m.Sequence(words...)
		if len(words) == 0 || !ok {
			return fmt.Errorf("phrase %q: %w", *phrase, ngram.ErrNotFound)
		}
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode sequence: %w", err)
		}
		fmt.Println(string(out))
	}
	return nil
}
