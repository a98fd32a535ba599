package controller

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eko-go/internal/service"
	"eko-go/internal/service/ngram"
)

// maxStatementBytes bounds request bodies of labeling requests
const maxStatementBytes = 32 << 20

type ModelController struct {
	sentimentService *service.SentimentService
	logger           *zap.Logger
}

func NewModelController(sentimentService *service.SentimentService, logger *zap.Logger) *ModelController {
	return &ModelController{
		sentimentService: sentimentService,
		logger:           logger,
	}
}

// HyperParams are optional hyperparameter overrides. Zero values take the configured defaults.
type HyperParams struct {
	MaxSequenceLength    int `json:"max_sequence_length"`
	MinTokenOccurrence   int `json:"min_token_occurrence"`
	PruningInterval      int `json:"sequence_pruning_interval"`
	RenormalizationLines int `json:"renormalization_lines"`
}

func (h HyperParams) params() ngram.Params {
	return ngram.Params{
		MaxSequenceLength:    h.MaxSequenceLength,
		MinTokenOccurrence:   h.MinTokenOccurrence,
		PruningInterval:      h.PruningInterval,
		RenormalizationLines: h.RenormalizationLines,
	}
}

type CreateModelRequest struct {
	Name     string `json:"name" binding:"required"`
	Dataset  string `json:"dataset" binding:"required"`
	NumLines int    `json:"num_lines"`
	HyperParams
}

type CrossValidateRequest struct {
	Dataset  string `json:"dataset" binding:"required"`
	NumLines int    `json:"num_lines"`
	Folds    int    `json:"folds" binding:"required"`
	HyperParams
}

type LabelRequest struct {
	Statements []string `json:"statements" binding:"required"`
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ngram.ErrValidation), errors.Is(err, ngram.ErrIngestion):
		return http.StatusBadRequest
	case errors.Is(err, ngram.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ngram.ErrExists), errors.Is(err, ngram.ErrBuildInProgress), errors.Is(err, ngram.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (mc *ModelController) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		mc.logger.Error(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	} else {
		mc.logger.Info(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func (mc *ModelController) ListModels(c *gin.Context) {
	models, err := mc.sentimentService.ListModels()
	if err != nil {
		mc.fail(c, "Failed to list models", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (mc *ModelController) CreateModel(c *gin.Context) {
	var request CreateModelRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		mc.logger.Error("Invalid request payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	job, err := mc.sentimentService.StartTraining(service.TrainRequest{
		Name:     request.Name,
		Dataset:  request.Dataset,
		NumLines: request.NumLines,
		Params:   request.params(),
	})
	if err != nil {
		mc.fail(c, "Failed to start training", err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (mc *ModelController) DeleteModel(c *gin.Context) {
	name := c.Param("name")
	if err := mc.sentimentService.DeleteModel(name); err != nil {
		mc.fail(c, "Failed to delete model", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

func (mc *ModelController) GetProgress(c *gin.Context) {
	progress, err := mc.sentimentService.Progress(c.Param("name"))
	if err != nil {
		mc.fail(c, "Failed to get model progress", err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// Label scores a text/plain statement, a multipart file of newline-delimited
// statements, or a JSON list of statements.
func (mc *ModelController) Label(c *gin.Context) {
	name := c.Param("name")
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxStatementBytes)

	switch contentType := c.ContentType(); {
	case contentType == "text/plain":
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read statement", "details": err.Error()})
			return
		}
		label, err := mc.sentimentService.Score(name, string(body))
		if err != nil {
			mc.fail(c, "Failed to label statement", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"model": name, "label": label})

	case strings.HasPrefix(contentType, "multipart/"):
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing statements file", "details": err.Error()})
			return
		}
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to open statements file", "details": err.Error()})
			return
		}
		defer f.Close()
		body, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read statements file", "details": err.Error()})
			return
		}
		mc.labelBatch(c, name, service.SplitStatements(string(body)))

	default:
		var request LabelRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request payload",
				"details": err.Error(),
			})
			return
		}
		mc.labelBatch(c, name, request.Statements)
	}
}

func (mc *ModelController) labelBatch(c *gin.Context, name string, statements []string) {
	result, err := mc.sentimentService.LabelBatch(name, statements)
	if err != nil {
		mc.fail(c, "Failed to label statements", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (mc *ModelController) ListDatasets(c *gin.Context) {
	datasets, err := mc.sentimentService.ListDatasets()
	if err != nil {
		mc.fail(c, "Failed to list datasets", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": datasets})
}

func (mc *ModelController) CrossValidate(c *gin.Context) {
	var request CrossValidateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	mc.logger.Info("Cross-validating",
		zap.String("dataset", request.Dataset),
		zap.Int("folds", request.Folds))

	result, err := mc.sentimentService.CrossValidate(c.Request.Context(), service.CrossValidateRequest{
		Dataset:  request.Dataset,
		NumLines: request.NumLines,
		Folds:    request.Folds,
		Params:   request.params(),
	})
	if err != nil {
		mc.fail(c, "Failed to cross-validate", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
