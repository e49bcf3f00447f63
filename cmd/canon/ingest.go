package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/canon"
	"github.com/jward/canon/internal/config"
)

var flagForce bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Ingest Python files into the canonical store",
	Long: "Ingests each file as the next version of its stored path. Directories are walked with the include and exclude globs from canon.yaml. " +
		"Without arguments the whole workspace is ingested.",
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&flagForce, "force", false, "delete the database and start from scratch")
}

func runIngest(cmd *cobra.Command, args []string) error {
	start := time.Now()
	w, err := loadWorkspace()
	if err != nil {
		return outputError(cmd, "ingest", err)
	}

	if flagForce {
		if err := os.Remove(w.config.Store.Path); err != nil && !os.IsNotExist(err) {
			return outputError(cmd, "ingest", fmt.Errorf("removing database for --force: %w", err))
		}
		w.logger.Info("Cleared database", "path", w.config.Store.Path)
	}

	engine, err := w.openEngine()
	if err != nil {
		return outputError(cmd, "ingest", err)
	}
	defer engine.Close()

	if len(args) == 0 {
		args = []string{w.root}
	}

	var results []*canon.IngestResult
	var firstErr error
	for _, arg := range args {
		res, err := ingestArg(cmd, w, engine, arg)
		results = append(results, res...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	out := make([]CLIIngest, 0, len(results))
	for _, r := range results {
		out = append(out, ingestToCLI(r))
	}
	w.logger.Info("Ingestion finished", "files", len(results), "duration", time.Since(start).Round(time.Millisecond), "database", w.config.Store.Path)

	if firstErr != nil {
		return outputError(cmd, "ingest", firstErr)
	}
	return outputResult(cmd, CLIResult{Command: "ingest", Results: out})
}

// ingestArg ingests one file or directory argument with paths stored
// relative to the workspace root.
func ingestArg(cmd *cobra.Command, w *workspace, engine *canon.Engine, arg string) ([]*canon.IngestResult, error) {
	ctx := cmd.Context()
	abs, err := filepath.Abs(arg)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", arg, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("path not found: %s", abs)
	}

	if !info.IsDir() {
		key, err := w.storedPath(abs)
		if err != nil {
			return nil, err
		}
		src, err := os.ReadFile(abs)
		if err != nil {
			return nil, &canon.IngestError{Path: key, Err: err}
		}
		res, err := engine.Ingest(ctx, key, src)
		if err != nil {
			return nil, err
		}
		return []*canon.IngestResult{res}, nil
	}

	if abs == w.root {
		return engine.IngestDirectory(ctx, abs)
	}
	rels, err := listDirectory(w.root, abs, w.config.Ingest)
	if err != nil {
		return nil, err
	}
	return engine.IngestPaths(ctx, w.root, rels)
}

// listDirectory walks dir and returns the selected files as paths relative
// to root.
func listDirectory(root, dir string, filter config.IngestConfig) ([]string, error) {
	var rels []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && config.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if filter.Match(rel) {
			rels = append(rels, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return rels, nil
}
