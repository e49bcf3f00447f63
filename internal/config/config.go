// Package config provides configuration loading for canon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Config represents the complete canon configuration
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Graph      GraphConfig      `yaml:"graph"`
	Governance GovernanceConfig `yaml:"governance"`
	Readiness  ReadinessConfig  `yaml:"readiness"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Watch      WatchConfig      `yaml:"watch"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// StoreConfig configures the canonical store
type StoreConfig struct {
	// Path is the SQLite database path, relative to the workspace root
	Path string `yaml:"path"`
}

// GraphConfig configures call-graph normalization
type GraphConfig struct {
	// OrchestratorThreshold is the fan-out above which a component is an orchestrator
	OrchestratorThreshold int `yaml:"orchestrator_threshold"`
}

// GovernanceConfig configures the rule engine
type GovernanceConfig struct {
	// CouplingThreshold is the fan-out at which @extract components are flagged
	CouplingThreshold int `yaml:"coupling_threshold"`
	// IOVocabulary adds IO calls; entries ending in "." are prefixes
	IOVocabulary []string `yaml:"io_vocabulary"`
}

// ReadinessConfig configures extraction-readiness selection
type ReadinessConfig struct {
	// Threshold is the score a component must exceed to be eligible
	Threshold float64 `yaml:"threshold"`
	// ScoreScript is an optional Risor script overriding the built-in score
	ScoreScript string `yaml:"score_script"`
}

// IngestConfig configures directory ingestion
type IngestConfig struct {
	// Include lists doublestar globs of files to ingest
	Include []string `yaml:"include"`
	// Exclude lists doublestar globs of files to skip
	Exclude []string `yaml:"exclude"`
	// Workers bounds concurrent file ingestion (0 = number of CPUs)
	Workers int `yaml:"workers"`
}

// WatchConfig configures the watch loop
type WatchConfig struct {
	// Debounce is how long a file must be quiet before it is re-ingested
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics in watch mode (empty = disabled)
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: filepath.Join(".canon", "canon.db"),
		},
		Graph: GraphConfig{
			OrchestratorThreshold: 7,
		},
		Governance: GovernanceConfig{
			CouplingThreshold: 5,
		},
		Readiness: ReadinessConfig{
			Threshold: 0.5,
		},
		Ingest: IngestConfig{
			Include: []string{"**/*.py"},
		},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Graph.OrchestratorThreshold < 1 {
		return fmt.Errorf("graph.orchestrator_threshold must be positive")
	}
	if c.Governance.CouplingThreshold < 1 {
		return fmt.Errorf("governance.coupling_threshold must be positive")
	}
	if c.Readiness.Threshold < 0 || c.Readiness.Threshold > 1 {
		return fmt.Errorf("readiness.threshold must be between 0 and 1")
	}
	if c.Ingest.Workers < 0 {
		return fmt.Errorf("ingest.workers must not be negative")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	for _, p := range append(append([]string{}, c.Ingest.Include...), c.Ingest.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. Unset fields stay
// zero so the result can be merged over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Graph.OrchestratorThreshold != 0 {
		c.Graph.OrchestratorThreshold = other.Graph.OrchestratorThreshold
	}
	if other.Governance.CouplingThreshold != 0 {
		c.Governance.CouplingThreshold = other.Governance.CouplingThreshold
	}
	if len(other.Governance.IOVocabulary) > 0 {
		c.Governance.IOVocabulary = other.Governance.IOVocabulary
	}
	if other.Readiness.Threshold != 0 {
		c.Readiness.Threshold = other.Readiness.Threshold
	}
	if other.Readiness.ScoreScript != "" {
		c.Readiness.ScoreScript = other.Readiness.ScoreScript
	}
	if len(other.Ingest.Include) > 0 {
		c.Ingest.Include = other.Ingest.Include
	}
	if len(other.Ingest.Exclude) > 0 {
		c.Ingest.Exclude = other.Ingest.Exclude
	}
	if other.Ingest.Workers != 0 {
		c.Ingest.Workers = other.Ingest.Workers
	}
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}

// Match reports whether a slash-separated path relative to the workspace
// root is selected by the include and exclude globs.
func (c IngestConfig) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range c.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	for _, p := range c.Include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

var skippedDirs = map[string]bool{
	"__pycache__":  true,
	"venv":         true,
	"node_modules": true,
}

// SkipDir reports whether directory ingestion skips a directory by name.
// Hidden directories are always skipped.
func SkipDir(name string) bool {
	return (strings.HasPrefix(name, ".") && name != "." && name != "..") || skippedDirs[name]
}
