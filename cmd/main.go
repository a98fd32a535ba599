package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eko-go/internal/config"
	"eko-go/internal/controller"
	"eko-go/internal/handler"
	"eko-go/internal/service"
	"eko-go/pkg/mcp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const usage = `usage: eko <command> [flags]

commands:
  serve     run the HTTP API (and the MCP server when mcp.port is set)
  train     build a model from a dataset and save it
  score     label statements with a saved model
  crossval  k-fold cross-validate hyperparameters on a dataset
  inspect   print the header, vocabulary and sequences of a saved model
`

func main() {
	if len(os.Args) < 2 {
		serve(os.Args[1:])
		return
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		serve(args)
		return
	case "train":
		err = trainCommand(args)
	case "score":
		err = scoreCommand(args)
	case "crossval":
		err = crossvalCommand(args)
	case "inspect":
		err = inspectCommand(args)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stderr, usage)
		return
	default:
		// Flags without a command run the server
		serve(os.Args[1:])
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "eko:", err)
		os.Exit(1)
	}
}

// newLogger builds the production zap logger at the configured level,
// writing to console and the configured log file
func newLogger(cfg *config.Config, console string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.App.LogLevel, err)
	}
	cfgZap := zap.NewProductionConfig()
	cfgZap.Level.SetLevel(level)
	cfgZap.OutputPaths = []string{console}
	if cfg.App.LogFile != "" {
		cfgZap.OutputPaths = append(cfgZap.OutputPaths, cfg.ResolvePath(cfg.App.LogFile))
	}
	return cfgZap.Build()
}

func serve(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var appConfigPath = fs.String("app", "", "Path to app configuration file")
	var workDir = fs.String("workdir", "", "Working directory holding models and datasets")
	var port = fs.Int("port", 0, "Server port")
	var mcpPort = fs.Int("mcp-port", -1, "MCP server port, 0 disables it")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*appConfigPath)
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	// Override config from command line if provided
	if *workDir != "" {
		cfg.App.WorkDir = *workDir
	}
	if *port > 0 {
		cfg.App.Port = *port
	}
	if *mcpPort >= 0 {
		cfg.Mcp.Port = *mcpPort
	}

	logger, err := newLogger(cfg, "stdout")
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded successfully", zap.Any("config", cfg))

	sentimentService, err := service.NewSentimentService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize sentiment service", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Mcp.Enabled() {
		mcpServer := mcp.NewSentimentServer(sentimentService, cfg, logger)
		go func() {
			if err := mcpServer.Start(ctx); err != nil {
				logger.Error("MCP server stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Info("MCP server disabled (mcp.port not set)")
	}

	modelController := controller.NewModelController(sentimentService, logger)
	router := handler.SetupRouter(modelController, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown failed", zap.Error(err))
		}
		if err := sentimentService.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Sentiment service shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting server", zap.Int("port", cfg.App.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
	<-stopped
	logger.Info("Server stopped")
}
