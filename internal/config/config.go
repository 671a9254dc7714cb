// Package config loads per-project .bqconfig settings.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DeusData/bytecode-query-mcp/internal/query"
)

// FileName is the per-project configuration file.
const FileName = ".bqconfig"

// Config holds user-overridable settings, loaded from .bqconfig in the
// indexed directory.
type Config struct {
	Runner      RunnerConfig  `yaml:"runner"`
	RunDefaults RunSpecConfig `yaml:"run_defaults"`
	PlanCache   CacheConfig   `yaml:"plan_cache"`
	Index       IndexConfig   `yaml:"index"`
}

// RunnerConfig controls candidate execution.
type RunnerConfig struct {
	// Workers is the number of candidates executed concurrently.
	// Default: runtime.NumCPU().
	Workers *int `yaml:"workers"`

	// MaxMethods caps how many candidates one query executes.
	// Default: 100.
	MaxMethods *int `yaml:"max_methods"`

	// SeedsPerMethod is the number of input seeds tried per candidate when
	// the engine synthesizes inputs. Default: 5.
	SeedsPerMethod *int `yaml:"seeds_per_method"`
}

// RunSpecConfig is the base budget a query's WITH clause overrides.
type RunSpecConfig struct {
	Seeds           *int    `yaml:"seeds"`
	MaxInstructions *int    `yaml:"max_instructions"`
	MaxDepth        *int    `yaml:"max_depth"`
	TraceMode       *string `yaml:"trace_mode"`
	TimeBudgetMs    *int    `yaml:"time_budget_ms"`
}

// CacheConfig sizes the compiled-plan cache.
type CacheConfig struct {
	// Size is the number of plans kept. Default: 256.
	Size *int `yaml:"size"`
}

// IndexConfig controls which files the indexer reads.
type IndexConfig struct {
	// ExcludePaths are extra ignore patterns, added to (not replacing) the
	// .bqignore file and built-in defaults.
	ExcludePaths []string `yaml:"exclude_paths"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{}
}

// Load reads .bqconfig from the given directory.
// Returns default config if the file doesn't exist.
func Load(dir string) *Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return cfg // file not found or unreadable
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig() // invalid YAML
	}

	return cfg
}

// EffectiveWorkers returns the configured worker count, or NumCPU.
func (c *Config) EffectiveWorkers() int {
	if c.Runner.Workers != nil && *c.Runner.Workers > 0 {
		return *c.Runner.Workers
	}
	return runtime.NumCPU()
}

// EffectiveMaxMethods returns the configured execution cap, or 100.
func (c *Config) EffectiveMaxMethods() int {
	if c.Runner.MaxMethods != nil && *c.Runner.MaxMethods > 0 {
		return *c.Runner.MaxMethods
	}
	return 100
}

// EffectiveSeedsPerMethod returns the configured seeds per candidate, or 5.
func (c *Config) EffectiveSeedsPerMethod() int {
	if c.Runner.SeedsPerMethod != nil && *c.Runner.SeedsPerMethod > 0 {
		return *c.Runner.SeedsPerMethod
	}
	return 5
}

// EffectivePlanCacheSize returns the configured plan cache size, or 256.
func (c *Config) EffectivePlanCacheSize() int {
	if c.PlanCache.Size != nil && *c.PlanCache.Size > 0 {
		return *c.PlanCache.Size
	}
	return 256
}

// EffectiveBudget overlays configured run defaults onto
// query.DefaultBudget. An unrecognised trace mode keeps the default.
func (c *Config) EffectiveBudget() query.Budget {
	b := query.DefaultBudget
	rd := c.RunDefaults
	if rd.Seeds != nil {
		b.Seeds = *rd.Seeds
	}
	if rd.MaxInstructions != nil {
		b.MaxInstructions = *rd.MaxInstructions
	}
	if rd.MaxDepth != nil {
		b.MaxDepth = *rd.MaxDepth
	}
	if rd.TraceMode != nil {
		if m, ok := query.ParseTraceMode(*rd.TraceMode); ok {
			b.TraceMode = m
		}
	}
	if rd.TimeBudgetMs != nil {
		b.TimeBudget = time.Duration(*rd.TimeBudgetMs) * time.Millisecond
	}
	return b
}

// ExcludePaths returns the configured extra ignore patterns.
func (c *Config) ExcludePaths() []string {
	return c.Index.ExcludePaths
}
