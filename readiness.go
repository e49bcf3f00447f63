package canon

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/jward/canon/internal/callgraph"
	"github.com/jward/canon/internal/extract"
	"github.com/jward/canon/internal/governance"
	"github.com/jward/canon/internal/runtime"
	"github.com/jward/canon/internal/store"
)

// Readiness is the extraction-readiness view of one file's latest
// version.
type Readiness struct {
	Path    string
	Version int
	Gate    string
	// Threshold is the score a component had to exceed.
	Threshold float64
	// Components lists the eligible components in order_index order. It
	// is empty whenever the gate is BLOCKED.
	Components []ReadyComponent
}

// ReadyComponent is a component eligible for extraction.
type ReadyComponent struct {
	ID             string
	QualifiedName  string
	Kind           string
	Score          float64
	Directives     []*Directive
	FanIn          int
	FanOut         int
	IsOrchestrator bool
	OnCycle        bool
}

// Readiness scores every live component of path and returns the ones a
// consumer may extract: score above the threshold, no ERROR violation and
// no @do_not_extract. It returns (nil, nil) for a path never ingested.
func (e *Engine) Readiness(ctx context.Context, path string) (*Readiness, error) {
	path = filepath.ToSlash(path)
	f, err := e.store.FileByPath(path)
	if err != nil {
		return nil, fmt.Errorf("readiness: lookup file: %w", err)
	}
	if f == nil {
		return nil, nil
	}
	ver, err := e.store.LatestVersion(f.ID)
	if err != nil {
		return nil, fmt.Errorf("readiness: latest version: %w", err)
	}
	if ver == nil {
		return nil, nil
	}

	view, err := loadFileView(e.store, f.ID)
	if err != nil {
		return nil, fmt.Errorf("readiness: %w", err)
	}
	violations, err := e.store.ViolationsByVersion(f.ID, ver.Number)
	if err != nil {
		return nil, fmt.Errorf("readiness: violations: %w", err)
	}

	r := &Readiness{
		Path:      path,
		Version:   ver.Number,
		Gate:      gateOf(violations),
		Threshold: e.config.Readiness.Threshold,
	}
	if r.Gate == store.GateBlocked {
		return r, nil
	}

	blocked := make(map[string]bool)
	for _, v := range violations {
		if v.Severity == store.SeverityError && v.ComponentID != nil {
			blocked[*v.ComponentID] = true
		}
	}

	cycles := view.cycles()
	gcomps := governanceComponents(view.components(), view.directives(), view.edges(), view.symbols(), cycles)
	for i := range gcomps {
		gc := &gcomps[i]
		if blocked[gc.ID] || gc.Has(extract.DirectiveDoNotExtract) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		comp := view.comps[i]
		score, err := e.score(ctx, gc, comp, view.segments[comp.ID])
		if err != nil {
			return nil, fmt.Errorf("readiness: score %s: %w", gc.QualifiedName, err)
		}
		if score <= r.Threshold {
			continue
		}
		r.Components = append(r.Components, ReadyComponent{
			ID:             comp.ID,
			QualifiedName:  comp.QualifiedName,
			Kind:           comp.Kind,
			Score:          score,
			Directives:     view.directivesOf(comp.ID),
			FanIn:          comp.FanIn,
			FanOut:         comp.FanOut,
			IsOrchestrator: comp.IsOrchestrator,
			OnCycle:        gc.OnCycle,
		})
	}
	return r, nil
}

// score applies the configured score script on top of the built-in score.
func (e *Engine) score(ctx context.Context, gc *governance.Component, comp *store.Component, segment string) (float64, error) {
	base := governance.Score(gc)
	script := e.scoreScript
	if script == "" || e.runtime == nil {
		return base, nil
	}
	return e.runtime.Score(ctx, script, runtime.ScoreInput{
		QualifiedName:  comp.QualifiedName,
		Kind:           comp.Kind,
		Directives:     gc.Directives,
		FanIn:          gc.FanIn,
		FanOut:         gc.FanOut,
		LineCount:      comp.LineCount(),
		OnCycle:        gc.OnCycle,
		TouchesGlobals: len(gc.Globals) > 0,
		Orchestrator:   gc.Orchestrator,
		Segment:        segment,
		BaseScore:      base,
	})
}

func gateOf(violations []*store.Violation) string {
	for _, v := range violations {
		if v.Severity == store.SeverityError {
			return store.GateBlocked
		}
	}
	return store.GatePass
}

// fileView is the live rows of one file.
type fileView struct {
	comps    []*store.Component
	dirs     []*store.Directive
	calls    []*store.CallEdge
	syms     []*store.Symbol
	segments map[string]string
}

type storeReader interface {
	ComponentsByFile(fileID string) ([]*store.Component, error)
	DirectivesByFile(fileID string) ([]*store.Directive, error)
	CallEdgesByFile(fileID string) ([]*store.CallEdge, error)
	SymbolsByFile(fileID string) ([]*store.Symbol, error)
	SegmentsByFile(fileID string) (map[string]string, error)
}

func loadFileView(r storeReader, fileID string) (*fileView, error) {
	v := &fileView{}
	var err error
	if v.comps, err = r.ComponentsByFile(fileID); err != nil {
		return nil, fmt.Errorf("components: %w", err)
	}
	if v.dirs, err = r.DirectivesByFile(fileID); err != nil {
		return nil, fmt.Errorf("directives: %w", err)
	}
	if v.calls, err = r.CallEdgesByFile(fileID); err != nil {
		return nil, fmt.Errorf("call edges: %w", err)
	}
	if v.syms, err = r.SymbolsByFile(fileID); err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	if v.segments, err = r.SegmentsByFile(fileID); err != nil {
		return nil, fmt.Errorf("segments: %w", err)
	}
	return v, nil
}

func (v *fileView) nodes() []callgraph.Node {
	nodes := make([]callgraph.Node, len(v.comps))
	for i, c := range v.comps {
		nodes[i] = callgraph.Node{
			ID:            c.ID,
			QualifiedName: c.QualifiedName,
			Kind:          c.Kind,
			Parent:        c.ParentQualifiedName,
			OrderIndex:    c.OrderIndex,
		}
	}
	return nodes
}

func (v *fileView) cycles() []callgraph.Cycle {
	return callgraph.Cycles(v.nodes(), v.calls)
}

func (v *fileView) directivesOf(componentID string) []*store.Directive {
	var out []*store.Directive
	for _, d := range v.dirs {
		if d.ComponentID == componentID {
			out = append(out, d)
		}
	}
	return out
}

func (v *fileView) components() []store.Component { return values(v.comps) }
func (v *fileView) directives() []store.Directive { return values(v.dirs) }
func (v *fileView) edges() []store.CallEdge       { return values(v.calls) }
func (v *fileView) symbols() []store.Symbol       { return values(v.syms) }

func values[T any](ptrs []*T) []T {
	out := make([]T, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// governanceComponents assembles the rule view of each component from its
// live rows. The result is parallel to comps.
func governanceComponents(comps []store.Component, dirs []store.Directive, edges []store.CallEdge, syms []store.Symbol, cycles []callgraph.Cycle) []governance.Component {
	byID := make(map[string]int, len(comps))
	out := make([]governance.Component, len(comps))
	for i, c := range comps {
		byID[c.ID] = i
		out[i] = governance.Component{
			ID:            c.ID,
			QualifiedName: c.QualifiedName,
			FanIn:         c.FanIn,
			FanOut:        c.FanOut,
			Orchestrator:  c.IsOrchestrator,
		}
	}
	for _, d := range dirs {
		if i, ok := byID[d.ComponentID]; ok {
			out[i].Directives = append(out[i].Directives, d.Name)
		}
	}
	for _, e := range edges {
		if i, ok := byID[e.CallerID]; ok {
			out[i].Calls = append(out[i].Calls, e)
		}
	}
	globals := make(map[string]map[string]bool)
	for _, s := range syms {
		if s.ScopeLevel != store.ScopeGlobal {
			continue
		}
		if globals[s.ComponentID] == nil {
			globals[s.ComponentID] = make(map[string]bool)
		}
		globals[s.ComponentID][s.Name] = true
	}
	for id, names := range globals {
		i, ok := byID[id]
		if !ok {
			continue
		}
		for n := range names {
			out[i].Globals = append(out[i].Globals, n)
		}
		sort.Strings(out[i].Globals)
	}
	for _, cyc := range cycles {
		for _, id := range cyc.IDs {
			if i, ok := byID[id]; ok {
				out[i].OnCycle = true
			}
		}
	}
	return out
}
