package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

// ProjectConfigFile is the name of the workspace config file
const ProjectConfigFile = "canon.yaml"

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load layers the defaults and the canon.yaml found in dir or its
// parents. It returns the config and the workspace root: the directory
// holding canon.yaml, or dir when none exists. A relative store path is
// resolved against the root.
func (l *Loader) Load(dir string) (*Config, string, error) {
	config := DefaultConfig()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", err
	}
	root := abs

	if path := findProjectConfig(abs); path != "" {
		projectConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, "", err
		}
		l.logger.Debug("Loaded project config", slog.String("path", path))
		config.Merge(projectConfig)
		root = filepath.Dir(path)
	} else {
		l.logger.Debug("No project config found", slog.String("dir", abs))
	}

	if !filepath.IsAbs(config.Store.Path) {
		config.Store.Path = filepath.Join(root, config.Store.Path)
	}
	if s := config.Readiness.ScoreScript; s != "" && !filepath.IsAbs(s) {
		config.Readiness.ScoreScript = filepath.Join(root, s)
	}

	if err := config.Validate(); err != nil {
		return nil, "", err
	}
	return config, root, nil
}

// findProjectConfig searches for canon.yaml in dir and its parents
func findProjectConfig(dir string) string {
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
