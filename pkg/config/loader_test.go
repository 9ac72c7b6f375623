package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestInitializeDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Queue.WorkerCount)
	assert.Equal(t, 5*time.Minute, cfg.Queue.JobTimeout)
	assert.Equal(t, 20000, cfg.Chunking.MaxChunkTokens)
	assert.Equal(t, 100, cfg.Scraper.SiteConcurrency)
	assert.Equal(t, 35*time.Second, cfg.Pipeline.DiscoveryLLMTimeout)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestInitializeMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "profiler.yaml", `
queue:
  worker_count: 8
  job_timeout: 120s
scraper:
  max_subpages: 25
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Queue.WorkerCount)
	assert.Equal(t, 2*time.Minute, cfg.Queue.JobTimeout)
	// Unset values keep their defaults.
	assert.Equal(t, 1*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 25, cfg.Scraper.MaxSubpages)
	assert.Equal(t, 100, cfg.Scraper.SiteConcurrency)
}

func TestInitializeChunkingJSON(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "chunking.json", `{
  "max_chunk_tokens": 30000,
  "dedupe": {"enabled": false, "scope": "consecutive"}
}`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 30000, cfg.Chunking.MaxChunkTokens)
	assert.False(t, cfg.Chunking.Dedupe.Enabled)
	assert.Equal(t, DedupeScopeConsecutive, cfg.Chunking.Dedupe.Scope)
	// Untouched fields keep defaults.
	assert.Equal(t, 2500, cfg.Chunking.SystemPromptOverhead)
	assert.Equal(t, 15, cfg.Chunking.Dedupe.MinLineLength)
}

func TestInitializeInvalidChunkingRejected(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "chunking.json", `{"safety_margin": 1.5}`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestInitializeLimitsJSON(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "llm_limits.json", `{
  "config": {"safety_margin": 0.7},
  "sglang": {
    "Qwen/Qwen2.5-3B-Instruct": {
      "rpm": 600, "tpm": 500000, "context_window": 32768,
      "max_output_tokens": 4096, "weight": 50
    }
  }
}`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	ml, err := cfg.Limits.Get("sglang", "Qwen/Qwen2.5-3B-Instruct")
	require.NoError(t, err)
	assert.Equal(t, 600, ml.RPM)
	assert.Equal(t, 32768, ml.ContextWindow)
	assert.InDelta(t, 0.7, cfg.Limits.SafetyMargin("sglang", "Qwen/Qwen2.5-3B-Instruct"), 1e-9)
}

func TestLimitsResolveFallsBackToFirstModel(t *testing.T) {
	reg := NewLimitsRegistry(GlobalLimits{}, map[string]map[string]ModelLimits{
		"sglang": {
			"model-b": {RPM: 10},
			"model-a": {RPM: 20},
		},
	})

	ml, ok := reg.Resolve("sglang", "model-not-listed")
	require.True(t, ok)
	assert.Equal(t, 20, ml.RPM, "fallback picks the first model by name")
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("TEST_WORKER_COUNT", "6")
	dir := t.TempDir()
	writeConfigFile(t, dir, "profiler.yaml", "queue:\n  worker_count: {{.TEST_WORKER_COUNT}}\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Queue.WorkerCount)
}

func TestSGLangPinRegistersSingleProvider(t *testing.T) {
	t.Setenv("SGLANG_BASE_URL", "http://10.0.0.5:30000")
	t.Setenv("SGLANG_INSTANCE_NAME", "gpu-0")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 1, cfg.Providers.Len())
	spec, err := cfg.Providers.Get("sglang")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:30000/v1", spec.BaseURL)
	assert.Equal(t, TierBoth, spec.Tier)
}

func TestProvidersJSONTogglesBuiltins(t *testing.T) {
	t.Setenv("SGLANG_BASE_URL", "")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	dir := t.TempDir()
	writeConfigFile(t, dir, "llm_providers.json", `{
  "enabled_providers": {"sglang": false, "openrouter": true}
}`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.False(t, cfg.Providers.Has("sglang"))
	assert.True(t, cfg.Providers.Has("openrouter"))
}

func TestInitializeInvalidWorkerCount(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "profiler.yaml", "queue:\n  worker_count: -2\n")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestEnsureV1Suffix(t *testing.T) {
	assert.Equal(t, "http://h:1/v1", EnsureV1Suffix("http://h:1"))
	assert.Equal(t, "http://h:1/v1", EnsureV1Suffix("http://h:1/"))
	assert.Equal(t, "http://h:1/v1", EnsureV1Suffix("http://h:1/v1"))
	assert.Equal(t, "", EnsureV1Suffix(""))
}

func TestConcurrencyLimit(t *testing.T) {
	// rpm 600, margin 0.8, baseline 15s → 32; capped at the hard cap.
	assert.Equal(t, 32, concurrencyLimit(32, 4, 600, 0.8, 15))
	// Floor wins when the quota-derived value is tiny.
	assert.Equal(t, 4, concurrencyLimit(32, 4, 10, 0.8, 15))
	// Between floor and cap the formula value is used.
	assert.Equal(t, 16, concurrencyLimit(32, 4, 300, 0.8, 15))
}

func TestProviderSafeInputTokens(t *testing.T) {
	spec := &ProviderSpec{Limits: ModelLimits{SafeInputTokens: 12000, ContextWindow: 32768}}
	assert.Equal(t, 12000, spec.SafeInputTokens())

	spec = &ProviderSpec{Limits: ModelLimits{ContextWindow: 32768}}
	assert.Equal(t, 26214, spec.SafeInputTokens(), "derives 80%% of the context window")

	spec = &ProviderSpec{}
	assert.Zero(t, spec.SafeInputTokens())
}

func TestLoadSGLangTargets(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "sglang_targets.json", `{
  "instances": [
    {"name": "gpu-0", "base_url": "http://10.0.0.5:30000", "workers": 3},
    {"name": "gpu-1", "base_url": "http://10.0.0.6:30000", "workers": 2}
  ]
}`)

	targets, err := LoadSGLangTargets(dir)
	require.NoError(t, err)
	require.Len(t, targets.Instances, 2)
	assert.Equal(t, 5, targets.TotalWorkers())
}

func TestLoadSGLangTargetsMissingFile(t *testing.T) {
	_, err := LoadSGLangTargets(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadSGLangTargetsRejectsZeroWorkers(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "sglang_targets.json", `{
  "instances": [{"name": "gpu-0", "base_url": "http://h", "workers": 0}]
}`)

	_, err := LoadSGLangTargets(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}
