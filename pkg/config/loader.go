// Package config loads and validates all startup configuration: the
// profiler.yaml ambient settings, the chunking/limits/providers JSON files,
// and the provider descriptors resolved from them plus the environment.
// Configuration is read once at startup and never hot-reloaded.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ProfilerYAMLConfig represents the complete profiler.yaml file structure.
type ProfilerYAMLConfig struct {
	Queue     *QueueConfig     `yaml:"queue"`
	LLM       *LLMConfig       `yaml:"llm"`
	Scraper   *ScraperConfig   `yaml:"scraper"`
	Pipeline  *PipelineConfig  `yaml:"pipeline"`
	Server    *ServerConfig    `yaml:"server"`
	Retention *RetentionConfig `yaml:"retention"`
}

// providersFileConfig is the raw llm_providers.json shape.
type providersFileConfig struct {
	EnabledProviders map[string]bool `json:"enabled_providers"`
}

// Config is the fully resolved configuration for one worker process.
type Config struct {
	configDir string

	Queue     *QueueConfig
	LLM       *LLMConfig
	Scraper   *ScraperConfig
	Pipeline  *PipelineConfig
	Server    *ServerConfig
	Chunking  *ChunkingConfig
	Retention *RetentionConfig

	Limits    *LimitsRegistry
	Providers *ProviderRegistry
}

// ConfigDir returns the directory this configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Providers    int
	LimitEntries int
	Workers      int
}

// Stats returns counts of loaded configuration components.
func (c *Config) Stats() Stats {
	return Stats{
		Providers:    c.Providers.Len(),
		LimitEntries: c.Limits.Models(),
		Workers:      c.Queue.WorkerCount,
	}
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load profiler.yaml and the JSON config files from configDir
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Merge user-provided values over built-in defaults
//  4. Resolve provider descriptors from the enabled map, the limits
//     registry, and the environment (honoring the SGLANG_BASE_URL pin)
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"providers", stats.Providers,
		"limit_entries", stats.LimitEntries,
		"workers", stats.Workers)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	// 1. Load profiler.yaml (queue, llm, scraper, pipeline, server)
	yamlCfg, err := loader.loadProfilerYAML()
	if err != nil {
		return nil, NewLoadError("profiler.yaml", err)
	}

	// 2. Load chunking.json
	chunking, err := loader.loadChunkingJSON()
	if err != nil {
		return nil, NewLoadError("chunking.json", err)
	}

	// 3. Load llm_limits.json
	limits, err := loader.loadLimitsJSON()
	if err != nil {
		return nil, NewLoadError("llm_limits.json", err)
	}

	// 4. Load llm_providers.json (enabled map)
	enabled, err := loader.loadProvidersJSON()
	if err != nil {
		return nil, NewLoadError("llm_providers.json", err)
	}

	// 5. Merge YAML sections over built-in defaults (non-zero values win)
	queueCfg := DefaultQueueConfig()
	llmCfg := DefaultLLMConfig()
	scraperCfg := DefaultScraperConfig()
	pipelineCfg := DefaultPipelineConfig()
	serverCfg := DefaultServerConfig()
	retentionCfg := DefaultRetentionConfig()

	sections := []struct {
		dst, src any
	}{
		{queueCfg, yamlCfg.Queue},
		{llmCfg, yamlCfg.LLM},
		{scraperCfg, yamlCfg.Scraper},
		{pipelineCfg, yamlCfg.Pipeline},
		{serverCfg, yamlCfg.Server},
		{retentionCfg, yamlCfg.Retention},
	}
	for _, s := range sections {
		if isNilSection(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge profiler.yaml section: %w", err)
		}
	}

	// 6. Resolve provider descriptors
	specs := buildProviderSpecs(enabled, limits, llmCfg.ProviderTimeout)

	return &Config{
		configDir: configDir,
		Queue:     queueCfg,
		LLM:       llmCfg,
		Scraper:   scraperCfg,
		Pipeline:  pipelineCfg,
		Server:    serverCfg,
		Chunking:  chunking,
		Retention: retentionCfg,
		Limits:    limits,
		Providers: NewProviderRegistry(specs),
	}, nil
}

func isNilSection(src any) bool {
	switch v := src.(type) {
	case *QueueConfig:
		return v == nil
	case *LLMConfig:
		return v == nil
	case *ScraperConfig:
		return v == nil
	case *PipelineConfig:
		return v == nil
	case *ServerConfig:
		return v == nil
	case *RetentionConfig:
		return v == nil
	}
	return src == nil
}

type configLoader struct {
	configDir string
}

// readFile reads a config file and expands environment variables. A missing
// file returns (nil, nil): every file is optional except where the caller
// says otherwise, with built-in defaults filling the gaps.
func (l *configLoader) readFile(filename string) ([]byte, error) {
	path := filepath.Join(l.configDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Config file not found, using defaults", "path", path)
			return nil, nil
		}
		return nil, err
	}
	return ExpandEnv(data), nil
}

func (l *configLoader) loadProfilerYAML() (*ProfilerYAMLConfig, error) {
	var cfg ProfilerYAMLConfig
	data, err := l.readFile("profiler.yaml")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

func (l *configLoader) loadChunkingJSON() (*ChunkingConfig, error) {
	data, err := l.readFile("chunking.json")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return DefaultChunkingConfig(), nil
	}
	var file chunkingFileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return resolveChunkingConfig(&file), nil
}

func (l *configLoader) loadLimitsJSON() (*LimitsRegistry, error) {
	data, err := l.readFile("llm_limits.json")
	if err != nil {
		return nil, err
	}
	if data == nil {
		slog.Warn("llm_limits.json not found, using built-in provider defaults")
		return NewLimitsRegistry(GlobalLimits{}, nil), nil
	}
	global, limits, err := parseLimitsFile(data)
	if err != nil {
		return nil, err
	}
	return NewLimitsRegistry(global, limits), nil
}

func (l *configLoader) loadProvidersJSON() (map[string]bool, error) {
	data, err := l.readFile("llm_providers.json")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return map[string]bool{}, nil
	}
	var file providersFileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if file.EnabledProviders == nil {
		file.EnabledProviders = map[string]bool{}
	}
	return file.EnabledProviders, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	if cfg.Queue.WorkerCount < 1 {
		return NewValidationError("queue", "profiler.yaml", "worker_count",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, cfg.Queue.WorkerCount))
	}
	if cfg.Queue.MaxAttempts < 1 {
		return NewValidationError("queue", "profiler.yaml", "max_attempts",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, cfg.Queue.MaxAttempts))
	}

	ch := cfg.Chunking
	if ch.SafetyMargin <= 0 || ch.SafetyMargin > 1 {
		return NewValidationError("chunking", "chunking.json", "safety_margin",
			fmt.Errorf("%w: must be in (0, 1], got %v", ErrInvalidValue, ch.SafetyMargin))
	}
	if ch.EffectiveMaxTokens() <= 0 {
		return NewValidationError("chunking", "chunking.json", "max_chunk_tokens",
			fmt.Errorf("%w: overheads leave no room for content", ErrInvalidValue))
	}
	if !ch.Dedupe.Scope.IsValid() {
		return NewValidationError("chunking", "chunking.json", "dedupe.scope",
			fmt.Errorf("%w: %q", ErrInvalidValue, ch.Dedupe.Scope))
	}

	for _, spec := range cfg.Providers.All() {
		if !spec.Tier.IsValid() {
			return NewValidationError("provider", spec.Name, "tier",
				fmt.Errorf("%w: %q", ErrInvalidValue, spec.Tier))
		}
		if spec.BaseURL == "" {
			return NewValidationError("provider", spec.Name, "base_url", ErrMissingRequiredField)
		}
	}

	if cfg.Providers.Len() == 0 {
		// Not fatal: the dispatcher fails calls fast with a configuration
		// error kind, and scrape-only diagnostics still work.
		slog.Warn("No LLM providers enabled; all dispatch calls will fail")
	}

	return nil
}
