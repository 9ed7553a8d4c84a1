package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.TimezoneName)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Positive(t, cfg.MaxJobParallel)
	assert.Zero(t, cfg.MaxJobExecTimeout)
	assert.True(t, cfg.StageDefaultID)
	assert.Equal(t, DefaultAuditPath, cfg.AuditPath)
	assert.Equal(t, DefaultTracePath, cfg.TracePath)
	assert.Empty(t, cfg.RegistryPaths)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CORE_TIMEZONE", "Asia/Bangkok")
	t.Setenv("CORE_MAX_JOB_PARALLEL", "3")
	t.Setenv("CORE_MAX_JOB_EXEC_TIMEOUT", "120")
	t.Setenv("CORE_STAGE_DEFAULT_ID", "false")
	t.Setenv("CORE_REGISTRY", "callers, extra/callers ,")
	t.Setenv("CORE_AUDIT_PATH", "/tmp/audits")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Asia/Bangkok", cfg.TimezoneName)
	assert.Equal(t, 3, cfg.MaxJobParallel)
	assert.Equal(t, 2*time.Minute, cfg.MaxJobExecTimeout)
	assert.False(t, cfg.StageDefaultID)
	assert.Equal(t, []string{"callers", "extra/callers"}, cfg.RegistryPaths)
	assert.Equal(t, "/tmp/audits", cfg.AuditPath)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("CORE_TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidParallel(t *testing.T) {
	t.Setenv("CORE_MAX_JOB_PARALLEL", "0")
	_, err := Load()
	assert.Error(t, err)
}
