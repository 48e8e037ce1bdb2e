// Package config binds the environment variables named in spec.md §6 into
// a typed Config, field by field, the way registry.Config applied defaults
// in the teacher.
package config

import (
	"os"
	"strconv"
)

// Config is the process-wide configuration for cmd/iceosd.
type Config struct {
	OrgBudgetUSD         float64
	MaxParallelDefault   int
	EventRetentionSeconds int
	ComponentManifestPaths string
	DevAuthToken         string
	CodeSandboxMemMB     int
	CodeSandboxCPUMs     int
	LogLevel             string
}

// Load reads every §6 environment variable, applying the same defaults the
// spec names.
func Load() Config {
	return Config{
		OrgBudgetUSD:            envFloat("ORG_BUDGET_USD", 0),
		MaxParallelDefault:      envInt("MAX_PARALLEL_DEFAULT", 8),
		EventRetentionSeconds:   envInt("EVENT_RETENTION_SECONDS", 3600),
		ComponentManifestPaths:  os.Getenv("COMPONENT_MANIFEST_PATHS"),
		DevAuthToken:            os.Getenv("DEV_AUTH_TOKEN"),
		CodeSandboxMemMB:        envInt("CODE_SANDBOX_MEM_MB", 64),
		CodeSandboxCPUMs:        envInt("CODE_SANDBOX_CPU_MS", 500),
		LogLevel:                envOr("LOG_LEVEL", "info"),
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
