package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	cfg := Load()
	require.Equal(t, 0.0, cfg.OrgBudgetUSD)
	require.Equal(t, 8, cfg.MaxParallelDefault)
	require.Equal(t, 3600, cfg.EventRetentionSeconds)
	require.Equal(t, 64, cfg.CodeSandboxMemMB)
	require.Equal(t, 500, cfg.CodeSandboxCPUMs)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_ReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("ORG_BUDGET_USD", "12.5")
	t.Setenv("MAX_PARALLEL_DEFAULT", "4")
	t.Setenv("EVENT_RETENTION_SECONDS", "60")
	t.Setenv("COMPONENT_MANIFEST_PATHS", "a.yaml,b.yaml")
	t.Setenv("DEV_AUTH_TOKEN", "secret")
	t.Setenv("CODE_SANDBOX_MEM_MB", "128")
	t.Setenv("CODE_SANDBOX_CPU_MS", "250")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	require.Equal(t, 12.5, cfg.OrgBudgetUSD)
	require.Equal(t, 4, cfg.MaxParallelDefault)
	require.Equal(t, 60, cfg.EventRetentionSeconds)
	require.Equal(t, "a.yaml,b.yaml", cfg.ComponentManifestPaths)
	require.Equal(t, "secret", cfg.DevAuthToken)
	require.Equal(t, 128, cfg.CodeSandboxMemMB)
	require.Equal(t, 250, cfg.CodeSandboxCPUMs)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("MAX_PARALLEL_DEFAULT", "not-a-number")
	cfg := Load()
	require.Equal(t, 8, cfg.MaxParallelDefault)
}

func TestLoad_InvalidFloatFallsBackToDefault(t *testing.T) {
	t.Setenv("ORG_BUDGET_USD", "not-a-float")
	cfg := Load()
	require.Equal(t, 0.0, cfg.OrgBudgetUSD)
}
