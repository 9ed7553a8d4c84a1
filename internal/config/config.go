// Package config builds the immutable runtime configuration from CORE_*
// environment variables. Environment reading happens once at startup; the
// resulting Config is passed explicitly to the executor and scheduler.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied when the corresponding CORE_* variable is unset.
const (
	DefaultTimezone  = "UTC"
	DefaultAuditPath = ".flowrun/audits"
	DefaultTracePath = ".flowrun/traces"
)

// Config is the resolved runtime configuration.
type Config struct {
	// TimezoneName is the IANA name used for schedule arithmetic and
	// datetime parameter defaults (CORE_TIMEZONE).
	TimezoneName string
	// Location is the loaded timezone.
	Location *time.Location
	// MaxJobParallel caps concurrently running jobs within a workflow
	// (CORE_MAX_JOB_PARALLEL, default: number of CPUs).
	MaxJobParallel int
	// MaxJobExecTimeout bounds a whole workflow execution
	// (CORE_MAX_JOB_EXEC_TIMEOUT seconds, 0 = unbounded).
	MaxJobExecTimeout time.Duration
	// StageDefaultID enables deriving stage ids from stage names when a
	// stage has no explicit id (CORE_STAGE_DEFAULT_ID).
	StageDefaultID bool
	// RegistryPaths are the caller search paths (CORE_REGISTRY,
	// comma-separated).
	RegistryPaths []string
	// AuditPath is the root of the append-only audit store
	// (CORE_AUDIT_PATH).
	AuditPath string
	// TracePath is the root of the per-run trace files (CORE_TRACE_PATH).
	TracePath string
}

// Load reads CORE_* environment variables and returns the resolved Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CORE")
	v.AutomaticEnv()

	v.SetDefault("TIMEZONE", DefaultTimezone)
	v.SetDefault("MAX_JOB_PARALLEL", runtime.NumCPU())
	v.SetDefault("MAX_JOB_EXEC_TIMEOUT", 0)
	v.SetDefault("STAGE_DEFAULT_ID", true)
	v.SetDefault("REGISTRY", "")
	v.SetDefault("AUDIT_PATH", DefaultAuditPath)
	v.SetDefault("TRACE_PATH", DefaultTracePath)

	cfg := &Config{
		TimezoneName:      v.GetString("TIMEZONE"),
		MaxJobParallel:    v.GetInt("MAX_JOB_PARALLEL"),
		MaxJobExecTimeout: time.Duration(v.GetFloat64("MAX_JOB_EXEC_TIMEOUT") * float64(time.Second)),
		StageDefaultID:    v.GetBool("STAGE_DEFAULT_ID"),
		AuditPath:         v.GetString("AUDIT_PATH"),
		TracePath:         v.GetString("TRACE_PATH"),
	}
	if paths := v.GetString("REGISTRY"); paths != "" {
		cfg.RegistryPaths = splitComma(paths)
	}

	loc, err := time.LoadLocation(cfg.TimezoneName)
	if err != nil {
		return nil, fmt.Errorf("CORE_TIMEZONE %q: %w", cfg.TimezoneName, err)
	}
	cfg.Location = loc

	if cfg.MaxJobParallel < 1 {
		return nil, fmt.Errorf("CORE_MAX_JOB_PARALLEL must be positive, got %d", cfg.MaxJobParallel)
	}
	if cfg.MaxJobExecTimeout < 0 {
		return nil, fmt.Errorf("CORE_MAX_JOB_EXEC_TIMEOUT must not be negative")
	}
	return cfg, nil
}

// Default returns the configuration with every variable at its default.
// Intended for tests and library embedding.
func Default() *Config {
	return &Config{
		TimezoneName:   DefaultTimezone,
		Location:       time.UTC,
		MaxJobParallel: runtime.NumCPU(),
		StageDefaultID: true,
		AuditPath:      DefaultAuditPath,
		TracePath:      DefaultTracePath,
	}
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
