// Package config loads face-sorter configuration from the environment, an
// optional .env file and the persisted settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/kozaktomas/face-sorter/internal/constants"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "FACESORT"

// Env holds all environment-based configuration.
// Field names map to environment variables with the FACESORT_ prefix.
type Env struct {
	DataDir string `envconfig:"DATA_DIR"`

	DatabaseURL          string `envconfig:"DATABASE_URL"`
	DatabaseMaxOpenConns int    `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"25"`
	DatabaseMaxIdleConns int    `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`

	EmbeddingURL          string        `envconfig:"EMBEDDING_URL" default:"http://localhost:8000"`
	EmbeddingTimeout      time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"120s"`
	EmbeddingMaxDimension int           `envconfig:"EMBEDDING_MAX_DIMENSION" default:"1600"`

	Tolerance         float64 `envconfig:"TOLERANCE" default:"0.5"`
	Metric            string  `envconfig:"METRIC" default:"euclidean"`
	HNSWMinCandidates int     `envconfig:"HNSW_MIN_CANDIDATES" default:"256"`

	Workers            int           `envconfig:"WORKERS"`
	CheckpointInterval time.Duration `envconfig:"CHECKPOINT_INTERVAL" default:"5m"`
	BreakerThreshold   int           `envconfig:"BREAKER_THRESHOLD" default:"10"`
	QueueFile          string        `envconfig:"QUEUE_FILE"`
	SettingsFile       string        `envconfig:"SETTINGS_FILE"`

	KnownFacesDir string `envconfig:"KNOWN_FACES_DIR"`
	RootFolder    string `envconfig:"ROOT_FOLDER"`
	FolderFilter  string `envconfig:"FOLDER_FILTER"`
	OutputFolder  string `envconfig:"OUTPUT_FOLDER"`

	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"console"`
	LogFile    string `envconfig:"LOG_FILE"`
	StatusAddr string `envconfig:"STATUS_ADDR"`
}

type Config struct {
	DataDir      string
	SettingsPath string

	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Matching  MatchingConfig
	Run       RunConfig
	Log       LogConfig

	StatusAddr string // listen address of the status endpoint, empty disables it

	// Settings are the persisted user selections after environment overrides.
	Settings Settings
}

type DatabaseConfig struct {
	URL          string // sqlite://, postgres:// or mysql:// URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	URL          string        // defaults to http://localhost:8000
	Timeout      time.Duration // per request
	MaxDimension int           // images are downscaled above this size, 0 disables
}

type MatchingConfig struct {
	Tolerance         float64
	Metric            string
	HNSWMinCandidates int
}

type RunConfig struct {
	Workers            int // 0 selects DefaultWorkers(runtime.NumCPU())
	CheckpointInterval time.Duration
	BreakerThreshold   int
	QueueFile          string
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

// LoadEnv reads the FACESORT_ environment variables.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Env{}, fmt.Errorf("read environment: %w", err)
	}
	return env, nil
}

// Load builds the configuration: defaults, then the settings file, then the
// environment. Command line flags are applied by the caller afterwards.
func Load() (*Config, error) {
	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	return FromEnv(env)
}

// FromEnv resolves a Config from already parsed environment values.
func FromEnv(env Env) (*Config, error) {
	dataDir := env.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	cfg := &Config{
		DataDir:      dataDir,
		SettingsPath: firstNonEmpty(env.SettingsFile, filepath.Join(dataDir, constants.SettingsFileName)),
		Database: DatabaseConfig{
			URL:          firstNonEmpty(env.DatabaseURL, "sqlite://"+filepath.Join(dataDir, constants.DatabaseFileName)),
			MaxOpenConns: env.DatabaseMaxOpenConns,
			MaxIdleConns: env.DatabaseMaxIdleConns,
		},
		Embedding: EmbeddingConfig{
			URL:          env.EmbeddingURL,
			Timeout:      env.EmbeddingTimeout,
			MaxDimension: env.EmbeddingMaxDimension,
		},
		Matching: MatchingConfig{
			Tolerance:         env.Tolerance,
			Metric:            env.Metric,
			HNSWMinCandidates: env.HNSWMinCandidates,
		},
		Run: RunConfig{
			CheckpointInterval: env.CheckpointInterval,
			BreakerThreshold:   env.BreakerThreshold,
			QueueFile:          firstNonEmpty(env.QueueFile, filepath.Join(dataDir, constants.QueueFileName)),
		},
		Log: LogConfig{
			Level:  env.LogLevel,
			Format: env.LogFormat,
			File:   env.LogFile,
		},
		StatusAddr: env.StatusAddr,
	}

	settings, err := LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}
	settings.KnownFacesDir = firstNonEmpty(env.KnownFacesDir, settings.KnownFacesDir, filepath.Join(dataDir, constants.KnownFacesDir))
	settings.OutputFolder = firstNonEmpty(env.OutputFolder, settings.OutputFolder, filepath.Join(dataDir, constants.OutputDir))
	settings.RootFolder = firstNonEmpty(env.RootFolder, settings.RootFolder)
	settings.FolderFilter = firstNonEmpty(env.FolderFilter, settings.FolderFilter)
	if env.Workers > 0 {
		settings.Workers = env.Workers
	}
	cfg.Settings = settings
	cfg.Run.Workers = settings.Workers

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations no run could use.
func (c *Config) Validate() error {
	var errs []error
	if c.Matching.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("tolerance must be positive, got %v", c.Matching.Tolerance))
	}
	switch c.Matching.Metric {
	case "", "euclidean", "cosine":
	default:
		errs = append(errs, fmt.Errorf("unknown metric %q", c.Matching.Metric))
	}
	if c.Run.CheckpointInterval <= 0 {
		errs = append(errs, errors.New("checkpoint interval must be positive"))
	}
	if c.Run.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Run.Workers))
	}
	if c.Run.BreakerThreshold <= 0 {
		errs = append(errs, errors.New("breaker threshold must be positive"))
	}
	return errors.Join(errs...)
}

// Workers returns the configured pool size, falling back to DefaultWorkers.
func (c *Config) Workers() int {
	if c.Run.Workers > 0 {
		return c.Run.Workers
	}
	return DefaultWorkers(runtime.NumCPU())
}

// DefaultWorkers keeps a small reserve of CPUs free: two on machines with
// more than four CPUs, one otherwise, and never returns less than 1.
func DefaultWorkers(cpus int) int {
	n := cpus - 1
	if cpus > 4 {
		n = cpus - 2
	}
	return max(1, n)
}

// DefaultDataDir returns ~/.face-sorter.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return constants.DataDirName
	}
	return filepath.Join(home, constants.DataDirName)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
