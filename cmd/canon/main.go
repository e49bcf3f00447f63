package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/canon"
	"github.com/jward/canon/internal/config"
)

var (
	flagDB      string
	flagRoot    string
	flagFormat  string
	flagVerbose bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "canon",
	Short:         "Canonical code intelligence for Python sources",
	Long:          "Canon ingests Python files into a versioned SQLite store of components, call graphs, drift events, equivalence proofs and governance results.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: store.path from canon.yaml, .canon/canon.db)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "workspace root (default: directory holding canon.yaml, or cwd)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(readinessCmd)
	rootCmd.AddCommand(verifyCmd)
}

// newLogger builds the stderr text logger.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// workspace is the loaded configuration and the root stored paths are
// relative to.
type workspace struct {
	config *config.Config
	root   string
	logger *slog.Logger
}

// loadWorkspace layers the defaults and canon.yaml, then applies --root and
// --db.
func loadWorkspace() (*workspace, error) {
	logger := newLogger()
	start := flagRoot
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting cwd: %w", err)
		}
		start = cwd
	}
	cfg, root, err := config.NewLoader(logger).Load(start)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagRoot != "" {
		if root, err = filepath.Abs(flagRoot); err != nil {
			return nil, fmt.Errorf("resolving root: %w", err)
		}
	}
	if flagDB != "" {
		cfg.Store.Path = flagDB
		if !filepath.IsAbs(flagDB) {
			cfg.Store.Path = filepath.Join(root, flagDB)
		}
	}
	return &workspace{config: cfg, root: root, logger: logger}, nil
}

// openEngine creates the store directory when needed and opens an Engine.
func (w *workspace) openEngine(opts ...canon.Option) (*canon.Engine, error) {
	if err := os.MkdirAll(filepath.Dir(w.config.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(w.config.Store.Path), err)
	}
	opts = append([]canon.Option{canon.WithConfig(w.config), canon.WithLogger(w.logger)}, opts...)
	e, err := canon.New(w.config.Store.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return e, nil
}

// openExisting opens an Engine over a database that must already exist.
func (w *workspace) openExisting() (*canon.Engine, error) {
	if _, err := os.Stat(w.config.Store.Path); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'canon ingest' first)", w.config.Store.Path)
	}
	return w.openEngine()
}

// storedPath maps a file argument to the slash-separated path it is stored
// under: relative to the workspace root when the file lies inside it.
func (w *workspace) storedPath(arg string) (string, error) {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", arg, err)
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(abs), nil
	}
	return filepath.ToSlash(rel), nil
}
