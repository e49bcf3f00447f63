// Package runtime embeds a Risor VM that evaluates cut-analysis score
// scripts. A script receives the component under evaluation as the
// `component` global and returns a number in [0, 1].
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// Runtime loads and evaluates score scripts.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger
	sources    *sourceStore
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads scripts from an fs.FS instead of from disk. Risor
// import statements resolve against the same filesystem.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithRuntimeLogger routes the script `log` global to the given logger.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime resolving relative script paths against
// scriptsDir.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     slog.Default(),
		sources:    newSourceStore(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ScoreInput is the view of a component handed to a score script.
type ScoreInput struct {
	QualifiedName  string
	Kind           string
	Directives     []string
	FanIn          int
	FanOut         int
	LineCount      int
	OnCycle        bool
	TouchesGlobals bool
	Orchestrator   bool
	Segment        string
	// BaseScore is the built-in cut-analysis score.
	BaseScore float64
}

func (in ScoreInput) object() *object.Map {
	dirs := make([]object.Object, len(in.Directives))
	for i, d := range in.Directives {
		dirs[i] = object.NewString(d)
	}
	return object.NewMap(map[string]object.Object{
		"qualified_name":  object.NewString(in.QualifiedName),
		"kind":            object.NewString(in.Kind),
		"directives":      object.NewList(dirs),
		"fan_in":          object.NewInt(int64(in.FanIn)),
		"fan_out":         object.NewInt(int64(in.FanOut)),
		"line_count":      object.NewInt(int64(in.LineCount)),
		"on_cycle":        object.NewBool(in.OnCycle),
		"touches_globals": object.NewBool(in.TouchesGlobals),
		"orchestrator":    object.NewBool(in.Orchestrator),
		"segment":         object.NewString(in.Segment),
		"base_score":      object.NewFloat(in.BaseScore),
	})
}

// Score runs the script at scriptPath and returns its result clamped to
// [0, 1].
func (r *Runtime) Score(ctx context.Context, scriptPath string, in ScoreInput) (float64, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return 0, err
	}
	return r.score(ctx, src, scriptPath, in)
}

// ScoreSource evaluates inline Risor source. Useful for testing without
// script files.
func (r *Runtime) ScoreSource(ctx context.Context, source string, in ScoreInput) (float64, error) {
	return r.score(ctx, source, "<inline>", in)
}

func (r *Runtime) score(ctx context.Context, source, label string, in ScoreInput) (float64, error) {
	result, err := r.eval(ctx, source, label, map[string]any{"component": in.object()})
	if err != nil {
		return 0, err
	}
	var v float64
	switch n := result.(type) {
	case *object.Float:
		v = n.Value()
	case *object.Int:
		v = float64(n.Value())
	default:
		return 0, fmt.Errorf("runtime: script %s: expected a number, got %s", label, result.Type())
	}
	return min(max(v, 0), 1), nil
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) (object.Object, error) {
	globals := r.buildGlobals(extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return result, nil
}

// buildImporter returns nil if neither an fs.FS nor scriptsDir is set.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file from the configured fs.FS, or from disk
// relative to scriptsDir.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) && r.scriptsDir != "" {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"parse_src":  makeParseSrcFn(r.sources),
		"node_text":  makeNodeTextFn(r.sources),
		"node_child": makeNodeChildFn(),
		"query":      makeQueryFn(r.sources),
		"log":        mustProxy(&logObject{logger: r.logger}),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
