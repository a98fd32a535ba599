package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"eko-go/internal/config"
	"eko-go/internal/service"
)

type SentimentServer struct {
	server           *mcp.Server
	sentimentService *service.SentimentService
	config           *config.Config
	logger           *zap.Logger
	handler          *mcp.StreamableHTTPHandler
}

type ScoreTextParams struct {
	ModelName string `json:"model_name" jsonschema:"the name of the sentiment model to score with"`
	Text      string `json:"text" jsonschema:"the statement to score"`
}

type ModelProgressParams struct {
	ModelName string `json:"model_name" jsonschema:"the name of the sentiment model"`
}

type ListModelsParams struct{}

func NewSentimentServer(sentimentService *service.SentimentService, cfg *config.Config, logger *zap.Logger) *SentimentServer {
	server := &SentimentServer{
		sentimentService: sentimentService,
		config:           cfg,
		logger:           logger,
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "Eko",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "scoreText",
		Description: "Score the sentiment of a statement with a trained model. Returns a label in [-2, 2]; negative labels are negative sentiment",
	}, server.handleScoreText)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "modelProgress",
		Description: "Report the training stage and progress of a sentiment model",
	}, server.handleModelProgress)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "listModels",
		Description: "List the saved sentiment models with their hyperparameters and training line counts",
	}, server.handleListModels)

	server.handler = mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	server.server = mcpServer
	return server
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func (s *SentimentServer) handleScoreText(ctx context.Context, req *mcp.CallToolRequest, args ScoreTextParams) (*mcp.CallToolResult, any, error) {
	s.logger.Info("Handling scoreText request", zap.String("model_name", args.ModelName), zap.Int("text_bytes", len(args.Text)))

	label, err := s.sentimentService.Score(args.ModelName, args.Text)
	if err != nil {
		s.logger.Error("Failed to score text", zap.String("model_name", args.ModelName), zap.Error(err))
		result := textResult("Failed to score text: %v", err)
		result.IsError = true
		return result, nil, nil
	}
	return textResult("%+.4f", label), nil, nil
}

func (s *SentimentServer) handleModelProgress(ctx context.Context, req *mcp.CallToolRequest, args ModelProgressParams) (*mcp.CallToolResult, any, error) {
	s.logger.Info("Handling modelProgress request", zap.String("model_name", args.ModelName))

	progress, err := s.sentimentService.Progress(args.ModelName)
	if err != nil {
		result := textResult("Model not available: %v", err)
		result.IsError = true
		return result, nil, nil
	}

	text := fmt.Sprintf("Model %s is %s (stage %s, %.1f%%)", progress.Model, progress.State, progress.Stage, progress.Progress*100)
	if progress.Error != "" {
		text += ": " + progress.Error
	}
	return textResult("%s", text), nil, nil
}

func (s *SentimentServer) handleListModels(ctx context.Context, req *mcp.CallToolRequest, args ListModelsParams) (*mcp.CallToolResult, any, error) {
	models, err := s.sentimentService.ListModels()
	if err != nil {
		s.logger.Error("Failed to list models", zap.Error(err))
		result := textResult("Failed to list models: %v", err)
		result.IsError = true
		return result, nil, nil
	}
	if len(models) == 0 {
		return textResult("No models available."), nil, nil
	}

	var sb strings.Builder
	for _, m := range models {
		fmt.Fprintf(&sb, "%s: %d lines, %d sequences, max_sequence_length=%d min_token_occurrence=%d\n",
			m.Name, m.NumIngestedLines, m.NumSequences, m.Params.MaxSequenceLength, m.Params.MinTokenOccurrence)
	}
	return textResult("%s", sb.String()), nil, nil
}

// Handler returns the streamable HTTP handler of the MCP server
func (s *SentimentServer) Handler() http.Handler {
	return s.handler
}

// Start serves MCP on the configured address until ctx is cancelled
func (s *SentimentServer) Start(ctx context.Context) error {
	address := s.config.Mcp.GetAddress()
	srv := &http.Server{Addr: address, Handler: s.handler}

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			s.logger.Warn("MCP server shutdown failed", zap.Error(err))
		}
	}()

	s.logger.Info("MCP Server going to listen", zap.String("address", address))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve MCP: %w", err)
	}
	return nil
}
