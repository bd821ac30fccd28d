// Package config provides unified configuration for the factoryml application.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for the factoryml application.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// SchemaPath is the path to the JSON schema file
	SchemaPath string `json:"schema_path" yaml:"schema_path"`

	// Models configuration
	Models ModelsConfig `json:"models" yaml:"models"`

	// Inference configuration
	Inference InferenceConfig `json:"inference" yaml:"inference"`

	// Training configuration
	Training TrainingConfig `json:"training" yaml:"training"`

	// Storage configuration for archive mirroring
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// ModelsConfig holds model lifecycle configuration.
type ModelsConfig struct {
	// CurrentDir is the directory holding the active model
	CurrentDir string `json:"current_dir" yaml:"current_dir"`

	// ArchiveDir is the directory for archived model copies
	ArchiveDir string `json:"archive_dir" yaml:"archive_dir"`

	// IncomingDir is the directory watched for candidate model drops
	IncomingDir string `json:"incoming_dir" yaml:"incoming_dir"`

	// CurrentName is the filename of the active model within CurrentDir
	CurrentName string `json:"current_name" yaml:"current_name"`

	// RegistryPath is the path to the sqlite deployment registry
	RegistryPath string `json:"registry_path" yaml:"registry_path"`
}

// InferenceConfig holds inference engine configuration.
type InferenceConfig struct {
	// PredictTimeout bounds a single interactive predict call
	PredictTimeout time.Duration `json:"predict_timeout" yaml:"predict_timeout"`

	// LoadTimeout bounds model loading (disk I/O + runtime init)
	LoadTimeout time.Duration `json:"load_timeout" yaml:"load_timeout"`
}

// TrainingConfig holds external trainer configuration.
type TrainingConfig struct {
	// Python is the python interpreter used to run the trainer
	Python string `json:"python" yaml:"python"`

	// Module is the trainer module invoked as `python -m <module>`
	Module string `json:"module" yaml:"module"`

	// ConfigPath is the trainer's model configuration file
	ConfigPath string `json:"config_path" yaml:"config_path"`

	// RunDir is the directory for persisted training run logs
	RunDir string `json:"run_dir" yaml:"run_dir"`

	// Timeout bounds a full training run; zero means unbounded
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// StorageConfig holds archive mirror storage configuration.
type StorageConfig struct {
	// Type is the mirror storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local mirror path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "./data/factoryml",
		SchemaPath: "config/schema.json",
		Models: ModelsConfig{
			CurrentDir:  "",
			ArchiveDir:  "",
			IncomingDir: "",
			CurrentName: "model.onnx",
		},
		Inference: InferenceConfig{
			PredictTimeout: 30 * time.Second,
			LoadTimeout:    60 * time.Second,
		},
		Training: TrainingConfig{
			Python:     "python3",
			Module:     "trainer.main",
			ConfigPath: "config/model_config.json",
			RunDir:     "",
			Timeout:    0,
		},
		Storage: StorageConfig{
			Type: "none",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/factoryml"
	}

	if c.Models.CurrentDir == "" {
		c.Models.CurrentDir = filepath.Join(c.DataDir, "models", "current")
	}
	if c.Models.ArchiveDir == "" {
		c.Models.ArchiveDir = filepath.Join(c.DataDir, "models", "archive")
	}
	if c.Models.IncomingDir == "" {
		c.Models.IncomingDir = filepath.Join(c.DataDir, "models", "incoming")
	}
	if c.Models.RegistryPath == "" {
		c.Models.RegistryPath = filepath.Join(c.DataDir, "registry.db")
	}
	if c.Training.RunDir == "" {
		c.Training.RunDir = filepath.Join(c.DataDir, "runs")
	}
	if c.Storage.Type == "local" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "mirror")
	}
}

// CurrentModelPath returns the full path of the active model file.
func (c *Config) CurrentModelPath() string {
	return filepath.Join(c.Models.CurrentDir, c.Models.CurrentName)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.SchemaPath == "" {
		return fmt.Errorf("schema_path is required")
	}
	if c.Models.CurrentName == "" {
		return fmt.Errorf("models.current_name is required")
	}

	switch c.Storage.Type {
	case "none", "local", "s3":
		// Valid mirror types
	default:
		return fmt.Errorf("invalid storage type: %s (must be none, local, or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Inference.PredictTimeout <= 0 {
		return fmt.Errorf("inference.predict_timeout must be positive")
	}
	if c.Inference.LoadTimeout <= 0 {
		return fmt.Errorf("inference.load_timeout must be positive")
	}

	if c.Training.Python == "" {
		return fmt.Errorf("training.python is required")
	}
	if c.Training.Module == "" {
		return fmt.Errorf("training.module is required")
	}
	if c.Training.ConfigPath == "" {
		return fmt.Errorf("training.config_path is required")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FACTORYML_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FACTORYML_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("FACTORYML_SCHEMA_PATH"); v != "" {
		cfg.SchemaPath = v
	}

	// Model configuration
	if v := os.Getenv("FACTORYML_MODELS_CURRENT_DIR"); v != "" {
		cfg.Models.CurrentDir = v
	}
	if v := os.Getenv("FACTORYML_MODELS_ARCHIVE_DIR"); v != "" {
		cfg.Models.ArchiveDir = v
	}
	if v := os.Getenv("FACTORYML_MODELS_INCOMING_DIR"); v != "" {
		cfg.Models.IncomingDir = v
	}
	if v := os.Getenv("FACTORYML_MODELS_CURRENT_NAME"); v != "" {
		cfg.Models.CurrentName = v
	}

	// Inference configuration
	if v := os.Getenv("FACTORYML_PREDICT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Inference.PredictTimeout = d
		}
	}
	if v := os.Getenv("FACTORYML_LOAD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Inference.LoadTimeout = d
		}
	}

	// Training configuration
	if v := os.Getenv("FACTORYML_TRAINING_PYTHON"); v != "" {
		cfg.Training.Python = v
	}
	if v := os.Getenv("FACTORYML_TRAINING_MODULE"); v != "" {
		cfg.Training.Module = v
	}
	if v := os.Getenv("FACTORYML_TRAINING_CONFIG"); v != "" {
		cfg.Training.ConfigPath = v
	}
	if v := os.Getenv("FACTORYML_TRAINING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Training.Timeout = d
		}
	}

	// Storage configuration
	if v := os.Getenv("FACTORYML_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("FACTORYML_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("FACTORYML_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("FACTORYML_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("FACTORYML_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Models.CurrentDir,
		c.Models.ArchiveDir,
		c.Models.IncomingDir,
		c.Training.RunDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
