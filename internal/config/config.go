package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/inkveil/inkveil/internal/chunk"
)

// Config holds Inkveil configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Resolve    ResolveConfig    `yaml:"resolve"`
	Converter  ConverterConfig  `yaml:"converter"`
	Workdir    WorkdirConfig    `yaml:"workdir"`
	Audit      AuditConfig      `yaml:"audit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`          // HTTP listen address, e.g. ":8080"
	MaxUploadMB int    `yaml:"max_upload_mb"` // multipart upload cap
}

type RecognizerConfig struct {
	Type           string `yaml:"type"`            // http | onnx | none
	URL            string `yaml:"url"`             // http: extraction endpoint base URL
	BundleDir      string `yaml:"bundle_dir"`      // onnx: model bundle directory
	SequenceLen    int    `yaml:"sequence_len"`    // onnx: tokenizer sequence length
	TimeoutSeconds int    `yaml:"timeout_seconds"` // per-chunk call timeout
	MaxConcurrency int    `yaml:"max_concurrency"` // concurrent chunk calls
}

type ChunkingConfig struct {
	MaxLen     int    `yaml:"max_len"`
	Delimiters string `yaml:"delimiters"`
}

type ResolveConfig struct {
	DisableRescan bool `yaml:"disable_rescan"`
}

type ConverterConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type WorkdirConfig struct {
	Root string `yaml:"root"` // empty → system temp dir
}

type AuditConfig struct {
	QueueSize int          `yaml:"queue_size"`
	Workers   int          `yaml:"workers"`
	Sinks     []SinkConfig `yaml:"sinks"`
}

type SinkConfig struct {
	Type           string            `yaml:"type"` // file_jsonl | webhook
	Path           string            `yaml:"path"`
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
	Service  string `yaml:"service"`
	Version  string `yaml:"version"`
}

// Load reads configuration from a YAML file. A .env file in the working
// directory is loaded first so env expansion in deployment wrappers works.
// If the config file doesn't exist, Load returns defaults and no error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = 50
	}

	if cfg.Recognizer.Type == "" {
		cfg.Recognizer.Type = "none"
	}
	if cfg.Recognizer.TimeoutSeconds <= 0 {
		cfg.Recognizer.TimeoutSeconds = 10
	}
	if cfg.Recognizer.MaxConcurrency <= 0 {
		cfg.Recognizer.MaxConcurrency = 4
	}
	if cfg.Recognizer.SequenceLen <= 0 {
		cfg.Recognizer.SequenceLen = 512
	}

	if cfg.Chunking.MaxLen <= 0 {
		cfg.Chunking.MaxLen = chunk.DefaultMaxLen
	}
	if cfg.Chunking.Delimiters == "" {
		cfg.Chunking.Delimiters = string(chunk.DefaultDelimiters)
	}

	if cfg.Converter.TimeoutSeconds <= 0 {
		cfg.Converter.TimeoutSeconds = 600
	}

	if cfg.Audit.QueueSize <= 0 {
		cfg.Audit.QueueSize = 1000
	}
	if cfg.Audit.Workers <= 0 {
		cfg.Audit.Workers = 1
	}

	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = "inkveil"
	}
}
