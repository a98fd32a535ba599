package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"eko-go/internal/service/ngram"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Mcp        McpConfig        `yaml:"mcp"`
	Training   TrainingConfig   `yaml:"training"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
}

type AppConfig struct {
	Port        int    `yaml:"port"`
	WorkDir     string `yaml:"work_dir"`
	ModelsDir   string `yaml:"models_dir"`
	DatasetsDir string `yaml:"datasets_dir"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
}

// McpConfig is the address of the MCP tool server. Port 0 disables it.
type McpConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GetAddress returns the host:port the MCP server listens on
func (m McpConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Enabled reports whether the MCP server should be started
func (m McpConfig) Enabled() bool {
	return m.Port > 0
}

// TrainingConfig holds default hyperparameters for new models
type TrainingConfig struct {
	ngram.Params        `yaml:",inline"`
	MaxConcurrentBuilds int `yaml:"max_concurrent_builds"`
}

type EvaluationConfig struct {
	Buckets     int `yaml:"buckets"`
	FoldWorkers int `yaml:"fold_workers"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		App: AppConfig{
			Port:        8080,
			ModelsDir:   "models",
			DatasetsDir: "labeled-data",
			LogLevel:    "info",
		},
		Mcp: McpConfig{
			Host: "localhost",
		},
		Training: TrainingConfig{
			Params:              ngram.DefaultParams(),
			MaxConcurrentBuilds: 2,
		},
		Evaluation: EvaluationConfig{
			Buckets:     200,
			FoldWorkers: 1,
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills fields an explicit file set to zero
func (c *Config) applyDefaults() {
	d := Default()
	if c.App.Port == 0 {
		c.App.Port = d.App.Port
	}
	if c.App.ModelsDir == "" {
		c.App.ModelsDir = d.App.ModelsDir
	}
	if c.App.DatasetsDir == "" {
		c.App.DatasetsDir = d.App.DatasetsDir
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = d.App.LogLevel
	}
	if c.Training.MaxSequenceLength == 0 {
		c.Training.MaxSequenceLength = d.Training.MaxSequenceLength
	}
	if c.Training.MinTokenOccurrence == 0 {
		c.Training.MinTokenOccurrence = d.Training.MinTokenOccurrence
	}
	if c.Training.PruningInterval == 0 {
		c.Training.PruningInterval = d.Training.PruningInterval
	}
	if c.Training.RenormalizationLines == 0 {
		c.Training.RenormalizationLines = d.Training.RenormalizationLines
	}
	if c.Training.MaxConcurrentBuilds == 0 {
		c.Training.MaxConcurrentBuilds = d.Training.MaxConcurrentBuilds
	}
	if c.Evaluation.Buckets == 0 {
		c.Evaluation.Buckets = d.Evaluation.Buckets
	}
	if c.Evaluation.FoldWorkers == 0 {
		c.Evaluation.FoldWorkers = d.Evaluation.FoldWorkers
	}
}

// Validate rejects values no component can run with
func (c *Config) Validate() error {
	if c.App.Port < 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid app port %d", c.App.Port)
	}
	if c.Mcp.Port < 0 || c.Mcp.Port > 65535 {
		return fmt.Errorf("invalid mcp port %d", c.Mcp.Port)
	}
	if err := c.Training.Params.Validate(); err != nil {
		return fmt.Errorf("invalid training config: %w", err)
	}
	if c.Training.MaxConcurrentBuilds <= 0 {
		return fmt.Errorf("max_concurrent_builds must be positive, got %d", c.Training.MaxConcurrentBuilds)
	}
	if c.Evaluation.Buckets <= 0 {
		return fmt.Errorf("evaluation buckets must be positive, got %d", c.Evaluation.Buckets)
	}
	if c.Evaluation.FoldWorkers <= 0 {
		return fmt.Errorf("fold_workers must be positive, got %d", c.Evaluation.FoldWorkers)
	}
	return nil
}

// ResolvePath makes a relative directory relative to the work dir
func (c *Config) ResolvePath(dir string) string {
	if filepath.IsAbs(dir) || c.App.WorkDir == "" {
		return dir
	}
	return filepath.Join(c.App.WorkDir, dir)
}

// GetModelsDir returns the resolved models directory
func (c *Config) GetModelsDir() string {
	return c.ResolvePath(c.App.ModelsDir)
}

// GetDatasetsDir returns the resolved datasets directory
func (c *Config) GetDatasetsDir() string {
	return c.ResolvePath(c.App.DatasetsDir)
}
