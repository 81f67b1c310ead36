// Package config loads the immutable runner configuration consumed by
// the rest of the repository. Loading is the only place configuration
// concerns live; every other package receives an already-validated
// *Config and never touches Viper or the filesystem for settings.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/queuectl/jobrunner/internal/job"
)

// RunnerConfig mirrors spec.md §6.2's runner.* keys.
type RunnerConfig struct {
	MaxConcurrent        int    `mapstructure:"maxConcurrent"`
	DefaultMode          string `mapstructure:"defaultMode"`
	MaxLogBytesPerStream int64  `mapstructure:"maxLogBytesPerStream"`
	PreviewMaxBytes      int    `mapstructure:"previewMaxBytes"`
	JobStoreFile         string `mapstructure:"jobStoreFile"`
	LogsDir              string `mapstructure:"logsDir"`
}

// ServerConfig configures the HTTP adapter (ambient, SPEC_FULL §6.2).
type ServerConfig struct {
	ListenAddr         string `mapstructure:"listenAddr"`
	ShutdownTimeoutSec int    `mapstructure:"shutdownTimeoutSec"`
}

// LoggingConfig configures the server's own structured log output
// (ambient, SPEC_FULL §6.2/§7) — distinct from per-job log capture.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Config is the fully-loaded, immutable configuration tree.
type Config struct {
	Runner  RunnerConfig  `mapstructure:"runner"`
	Scripts []job.Script  `mapstructure:"scripts"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("runner.maxConcurrent", 4)
	v.SetDefault("runner.defaultMode", "async")
	v.SetDefault("runner.maxLogBytesPerStream", 1<<20)
	v.SetDefault("runner.previewMaxBytes", 4096)
	v.SetDefault("runner.jobStoreFile", "jobstore.json")
	v.SetDefault("runner.logsDir", "logs")
	v.SetDefault("server.listenAddr", ":8089")
	v.SetDefault("server.shutdownTimeoutSec", 10)
	v.SetDefault("logging.level", "info")
}

// Load reads path (if non-empty) plus the JOBRUNNER_* environment
// overrides described in SPEC_FULL §6.2, and returns a validated
// Config. An empty path is legal: defaults plus environment overrides
// apply, useful for tests and for constrained deployments that supply
// `scripts` purely via a mounted file referenced through other means.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("JOBRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Runner.MaxConcurrent <= 0 {
		return fmt.Errorf("config: runner.maxConcurrent must be > 0")
	}
	if cfg.Runner.MaxLogBytesPerStream < 0 {
		return fmt.Errorf("config: runner.maxLogBytesPerStream must be >= 0")
	}
	if cfg.Runner.PreviewMaxBytes < 0 {
		return fmt.Errorf("config: runner.previewMaxBytes must be >= 0")
	}
	if cfg.Runner.JobStoreFile == "" {
		return fmt.Errorf("config: runner.jobStoreFile is required")
	}
	if cfg.Runner.LogsDir == "" {
		return fmt.Errorf("config: runner.logsDir is required")
	}
	switch job.Mode(cfg.Runner.DefaultMode) {
	case job.ModeSync, job.ModeAsync:
	default:
		return fmt.Errorf("config: runner.defaultMode must be sync or async, got %q", cfg.Runner.DefaultMode)
	}

	seen := make(map[string]struct{}, len(cfg.Scripts))
	for i := range cfg.Scripts {
		s := &cfg.Scripts[i]
		if s.ID == "" {
			return fmt.Errorf("config: scripts[%d].id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("config: duplicate script id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Path == "" {
			return fmt.Errorf("config: scripts[%d] (%s): path is required", i, s.ID)
		}
		if s.Mode == "" {
			s.Mode = job.Mode(cfg.Runner.DefaultMode)
		}
		if s.Mode != job.ModeSync && s.Mode != job.ModeAsync {
			return fmt.Errorf("config: scripts[%d] (%s): mode must be sync or async", i, s.ID)
		}
		if s.Args.MaxItems < 0 {
			return fmt.Errorf("config: scripts[%d] (%s): args.maxItems must be >= 0", i, s.ID)
		}
		if s.Args.ItemPattern != "" {
			if _, err := regexp.Compile(s.Args.ItemPattern); err != nil {
				return fmt.Errorf("config: scripts[%d] (%s): invalid itemPattern: %w", i, s.ID, err)
			}
		}
	}
	return nil
}
