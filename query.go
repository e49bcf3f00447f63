package canon

import (
	"fmt"
	"path/filepath"

	"github.com/jward/canon/internal/callgraph"
	"github.com/jward/canon/internal/store"
)

// QueryBuilder provides read access to the canonical store. Lookups by
// path or identifier return nil with no error when nothing matches.
type QueryBuilder struct {
	store *store.Store
}

// GateStatus is the governance gate of a file's latest version.
type GateStatus struct {
	Path     string
	Version  int
	Status   string
	Errors   int
	Warnings int
}

// Cycle is an internal call cycle.
type Cycle = callgraph.Cycle

func (q *QueryBuilder) file(path string) (*File, error) {
	f, err := q.store.FileByPath(filepath.ToSlash(path))
	if err != nil {
		return nil, fmt.Errorf("lookup file: %w", err)
	}
	return f, nil
}

// Components returns the components of path at the given version. Version
// 0 or the latest version number returns the live rows. Earlier versions
// are rebuilt from history: only identity, kind, hashes and line span are
// populated, and removed components are omitted.
func (q *QueryBuilder) Components(path string, version int) ([]*Component, error) {
	f, err := q.file(path)
	if err != nil || f == nil {
		return nil, err
	}
	latest, err := q.store.LatestVersion(f.ID)
	if err != nil {
		return nil, fmt.Errorf("components: latest version: %w", err)
	}
	if latest == nil {
		return nil, nil
	}
	if version == 0 || version == latest.Number {
		comps, err := q.store.ComponentsByFile(f.ID)
		if err != nil {
			return nil, fmt.Errorf("components: %w", err)
		}
		return comps, nil
	}

	history, err := q.store.HistoryByVersion(f.ID, version)
	if err != nil {
		return nil, fmt.Errorf("components: history: %w", err)
	}
	var out []*Component
	for _, h := range history {
		if h.Classification == store.Removed {
			continue
		}
		c := &Component{
			FileID:        f.ID,
			QualifiedName: h.QualifiedName,
			Kind:          h.Kind,
			SourceHash:    h.SourceHash,
			CommittedHash: h.CommittedHash,
			StartLine:     h.StartLine,
			EndLine:       h.EndLine,
		}
		if h.ComponentID != nil {
			c.ID = *h.ComponentID
		}
		out = append(out, c)
	}
	return out, nil
}

// Segment returns the verbatim source text of a live component.
func (q *QueryBuilder) Segment(componentID string) (*Segment, error) {
	seg, err := q.store.SegmentByComponent(componentID)
	if err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	return seg, nil
}

// Directives returns the directives attached to a live component.
func (q *QueryBuilder) Directives(componentID string) ([]*Directive, error) {
	dirs, err := q.store.DirectivesByComponent(componentID)
	if err != nil {
		return nil, fmt.Errorf("directives: %w", err)
	}
	return dirs, nil
}

// CallEdges returns the outgoing call edges of a live component.
func (q *QueryBuilder) CallEdges(componentID string) ([]*CallEdge, error) {
	edges, err := q.store.CallEdgesByCaller(componentID)
	if err != nil {
		return nil, fmt.Errorf("call edges: %w", err)
	}
	return edges, nil
}

// Callers returns the internal edges that target a live component.
func (q *QueryBuilder) Callers(componentID string) ([]*CallEdge, error) {
	edges, err := q.store.CallEdgesByCallee(componentID)
	if err != nil {
		return nil, fmt.Errorf("callers: %w", err)
	}
	return edges, nil
}

// DriftEvents returns the drift events recorded for versions in
// [fromVersion, toVersion] of path.
func (q *QueryBuilder) DriftEvents(path string, fromVersion, toVersion int) ([]*DriftEvent, error) {
	f, err := q.file(path)
	if err != nil || f == nil {
		return nil, err
	}
	events, err := q.store.DriftEventsByRange(f.ID, fromVersion, toVersion)
	if err != nil {
		return nil, fmt.Errorf("drift events: %w", err)
	}
	return events, nil
}

// Gate returns the governance gate of the latest version of path.
func (q *QueryBuilder) Gate(path string) (*GateStatus, error) {
	f, err := q.file(path)
	if err != nil || f == nil {
		return nil, err
	}
	ver, err := q.store.LatestVersion(f.ID)
	if err != nil {
		return nil, fmt.Errorf("gate: latest version: %w", err)
	}
	if ver == nil {
		return nil, nil
	}
	violations, err := q.store.ViolationsByVersion(f.ID, ver.Number)
	if err != nil {
		return nil, fmt.Errorf("gate: violations: %w", err)
	}
	g := &GateStatus{Path: f.Path, Version: ver.Number, Status: gateOf(violations)}
	for _, v := range violations {
		switch v.Severity {
		case store.SeverityError:
			g.Errors++
		case store.SeverityWarning:
			g.Warnings++
		}
	}
	return g, nil
}

// Violations returns the governance violations of a version of path.
// Version 0 selects the latest.
func (q *QueryBuilder) Violations(path string, version int) ([]*Violation, error) {
	f, ver, err := q.version(path, version)
	if err != nil || ver == nil {
		return nil, err
	}
	violations, err := q.store.ViolationsByVersion(f.ID, ver.Number)
	if err != nil {
		return nil, fmt.Errorf("violations: %w", err)
	}
	return violations, nil
}

// Versions returns every version of path, oldest first.
func (q *QueryBuilder) Versions(path string) ([]*Version, error) {
	f, err := q.file(path)
	if err != nil || f == nil {
		return nil, err
	}
	versions, err := q.store.VersionsByFile(f.ID)
	if err != nil {
		return nil, fmt.Errorf("versions: %w", err)
	}
	return versions, nil
}

// History returns the component history of path across all versions.
func (q *QueryBuilder) History(path string) ([]*HistoryEntry, error) {
	f, err := q.file(path)
	if err != nil || f == nil {
		return nil, err
	}
	history, err := q.store.HistoryByFile(f.ID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return history, nil
}

// Proof returns the equivalence proof of a version of path. Version 0
// selects the latest.
func (q *QueryBuilder) Proof(path string, version int) (*Proof, error) {
	f, ver, err := q.version(path, version)
	if err != nil || ver == nil {
		return nil, err
	}
	p, err := q.store.ProofByVersion(f.ID, ver.Number)
	if err != nil {
		return nil, fmt.Errorf("proof: %w", err)
	}
	return p, nil
}

// Symbols returns the symbols of a live component.
func (q *QueryBuilder) Symbols(componentID string) ([]*Symbol, error) {
	syms, err := q.store.SymbolsByComponent(componentID)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	return syms, nil
}

// Cycles returns the internal call cycles of the live version of path.
func (q *QueryBuilder) Cycles(path string) ([]Cycle, error) {
	f, err := q.file(path)
	if err != nil || f == nil {
		return nil, err
	}
	view, err := loadFileView(q.store, f.ID)
	if err != nil {
		return nil, fmt.Errorf("cycles: %w", err)
	}
	return view.cycles(), nil
}

func (q *QueryBuilder) version(path string, number int) (*File, *Version, error) {
	f, err := q.file(path)
	if err != nil || f == nil {
		return nil, nil, err
	}
	var ver *Version
	if number == 0 {
		ver, err = q.store.LatestVersion(f.ID)
	} else {
		ver, err = q.store.VersionByNumber(f.ID, number)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lookup version: %w", err)
	}
	return f, ver, nil
}
