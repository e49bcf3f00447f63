package canon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jward/canon/internal/callgraph"
	"github.com/jward/canon/internal/drift"
	"github.com/jward/canon/internal/extract"
	"github.com/jward/canon/internal/identity"
	"github.com/jward/canon/internal/store"
)

// IngestResult summarizes one committed version.
type IngestResult struct {
	Path           string
	FileID         string
	VersionID      string
	Version        int
	ComponentCount int
	// ChangeSummary is "+added −removed ~modified".
	ChangeSummary string
	ProofStatus   string
	Gate          string
	Violations    []GovernanceViolation
	DriftEvents   []DriftEvent

	UnresolvedCalls int
	Warnings        []UnresolvedCallWarning

	// ProofFailure is set when the equivalence proof is FAIL.
	ProofFailure *EquivalenceProofFailure
}

// Ingest extracts src as the next version of path and commits every
// derived row in one transaction. Parse errors and duplicate components
// roll the run back and are returned wrapped in *IngestError; proof
// failures and governance violations are reported on the result.
func (e *Engine) Ingest(ctx context.Context, path string, src []byte) (*IngestResult, error) {
	path = filepath.ToSlash(path)
	start := time.Now()

	res, err := e.ingest(ctx, path, src)
	e.metrics.ObserveIngest(err, time.Since(start))
	if err != nil {
		return nil, &IngestError{Path: path, Err: err}
	}

	for _, ev := range res.DriftEvents {
		e.metrics.ObserveDrift(ev.Category)
	}
	for _, v := range res.Violations {
		e.metrics.ObserveViolation(v.Severity)
	}
	e.metrics.ObserveProof(res.ProofStatus)

	e.logger.Info("Committed version",
		"path", path,
		"version", res.Version,
		"components", res.ComponentCount,
		"changes", res.ChangeSummary,
		"proof", res.ProofStatus,
		"gate", res.Gate,
		"duration", time.Since(start),
	)
	if res.ProofFailure != nil {
		e.logger.Warn("Equivalence proof failed", "path", path, "version", res.Version, "error", res.ProofFailure)
	}
	return res, nil
}

func (e *Engine) ingest(ctx context.Context, path string, src []byte) (*IngestResult, error) {
	mu := e.lockPath(path)
	defer mu.Unlock()

	ex, err := extract.Extract(ctx, path, src)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Extracted components", "path", path, "components", len(ex.Components), "imports", len(ex.Imports))

	var out *IngestResult
	err = e.store.InTx(ctx, func(tx *store.Tx) error {
		prev, prevSnaps, err := readPredecessor(tx, path)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		now := e.now()
		id, err := identity.Resolve(prev, ex, now)
		if err != nil {
			return err
		}
		e.logger.Debug("Resolved identity", "path", path, "version", id.Version.Number, "new_file", id.NewFile)

		b := store.NewBatch(id.File, id.NewFile, id.Version)
		g := e.normalize(ex, id)
		for i := range g.Edges {
			g.Edges[i].FileID = id.File.ID
		}
		fillLiveRows(b, ex, id, g)
		e.logger.Debug("Normalized call graph", "path", path, "edges", len(g.Edges), "unresolved", len(g.Unresolved), "cycles", len(g.Cycles))
		if err := ctx.Err(); err != nil {
			return err
		}

		report := drift.Detect(prevSnaps, currentSnapshots(ex, id.IDs, g.Edges), id.Version.PreviousVersionID != nil, now)
		report.Stamp(id.File.ID, id.Version.ID, id.Version.Number)
		b.Version.ChangeSummary = report.Summary()
		b.History = report.History
		b.DriftEvents = report.Events
		e.logger.Debug("Detected drift", "path", path, "summary", b.Version.ChangeSummary, "events", len(report.Events))
		if err := ctx.Err(); err != nil {
			return err
		}

		gov := e.governance.Evaluate(
			governanceComponents(b.Components, b.Directives, b.CallEdges, b.Symbols, g.Cycles),
			g.Cycles,
		)
		for i := range gov.Violations {
			gov.Violations[i].FileID = id.File.ID
			gov.Violations[i].VersionID = id.Version.ID
			gov.Violations[i].VersionNumber = id.Version.Number
		}
		b.Violations = gov.Violations
		e.logger.Debug("Evaluated governance", "path", path, "violations", len(gov.Violations), "gate", gov.Gate)
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := tx.Apply(b); err != nil {
			return err
		}

		// The proof is made from the rows just written, not the extraction.
		proof, err := proveStored(ctx, tx, path, id.File.ID, &b.Version)
		if err != nil {
			return fmt.Errorf("prove rebuild: %w", err)
		}
		if err := tx.InsertProof(proof); err != nil {
			return err
		}
		e.logger.Debug("Verified rebuild", "path", path, "status", proof.Status)

		out = &IngestResult{
			Path:            path,
			FileID:          id.File.ID,
			VersionID:       id.Version.ID,
			Version:         id.Version.Number,
			ComponentCount:  id.Version.ComponentCount,
			ChangeSummary:   b.Version.ChangeSummary,
			ProofStatus:     proof.Status,
			Gate:            gov.Gate,
			Violations:      gov.Violations,
			DriftEvents:     report.Events,
			UnresolvedCalls: len(g.Unresolved),
			Warnings:        g.Unresolved,
		}
		if proof.Status == store.ProofFail {
			out.ProofFailure = &EquivalenceProofFailure{
				Path:            path,
				Version:         id.Version.Number,
				OriginalASTHash: proof.OriginalASTHash,
				RebuiltASTHash:  proof.RebuiltASTHash,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// readPredecessor loads the live state of path before this run. The live
// rows still belong to the previous version until Apply purges them.
func readPredecessor(tx *store.Tx, path string) (*identity.Snapshot, []drift.Snapshot, error) {
	f, err := tx.FileByPath(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read file: %w", err)
	}
	if f == nil {
		return nil, nil, nil
	}
	ver, err := tx.LatestVersion(f.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("read latest version: %w", err)
	}
	comps, err := tx.ComponentsByFile(f.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("read components: %w", err)
	}
	edges, err := tx.CallEdgesByFile(f.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("read call edges: %w", err)
	}
	syms, err := tx.SymbolsByFile(f.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("read symbols: %w", err)
	}
	scopes, err := tx.ScopesByFile(f.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("read scopes: %w", err)
	}
	nested := make(map[int64]bool)
	for _, sc := range scopes {
		if sc.ParentScopeID != nil {
			nested[sc.ID] = true
		}
	}

	callees := make(map[string][]string)
	for _, e := range edges {
		if e.Kind != store.EdgeUnresolved {
			callees[e.CallerID] = append(callees[e.CallerID], e.ResolvedName)
		}
	}
	symbols := make(map[string][]string)
	for _, s := range syms {
		// Lambda and comprehension bindings do not take part in symbol drift.
		if s.ScopeID != nil && nested[*s.ScopeID] {
			continue
		}
		symbols[s.ComponentID] = append(symbols[s.ComponentID], drift.SymbolKey(s.Name, s.ScopeLevel))
	}

	snaps := make([]drift.Snapshot, len(comps))
	for i, c := range comps {
		snaps[i] = drift.Snapshot{
			ID:            c.ID,
			QualifiedName: c.QualifiedName,
			Kind:          c.Kind,
			SourceHash:    c.SourceHash,
			CommittedHash: c.CommittedHash,
			StartLine:     c.StartLine,
			EndLine:       c.EndLine,
			Callees:       callees[c.ID],
			Symbols:       symbols[c.ID],
			Imports:       c.Imports,
		}
	}
	return &identity.Snapshot{File: f, Version: ver, Components: comps}, snaps, nil
}

func (e *Engine) normalize(ex *extract.Result, id *identity.Resolution) *callgraph.Graph {
	nodes := make([]callgraph.Node, len(ex.Components))
	var raw []store.RawCall
	for i, c := range ex.Components {
		nodes[i] = callgraph.Node{
			ID:            id.IDs[i],
			QualifiedName: c.QualifiedName,
			Kind:          c.Kind,
			Parent:        c.Parent,
			OrderIndex:    c.OrderIndex,
		}
		for _, call := range c.Calls {
			raw = append(raw, store.RawCall{
				ComponentID: id.IDs[i],
				CalleeText:  call.Text,
				Line:        call.Line,
				IsDecorator: call.IsDecorator,
			})
		}
	}
	return callgraph.Normalize(nodes, raw, ex.ImportTargets(), callgraph.Options{
		OrchestratorThreshold: e.config.Graph.OrchestratorThreshold,
	})
}

// fillLiveRows buffers the live rows of every extracted component.
func fillLiveRows(b *store.Batch, ex *extract.Result, id *identity.Resolution, g *callgraph.Graph) {
	for i, c := range ex.Components {
		cid := id.IDs[i]
		b.Components = append(b.Components, store.Component{
			ID:                  cid,
			FileID:              id.File.ID,
			QualifiedName:       c.QualifiedName,
			Name:                c.Name,
			Kind:                c.Kind,
			ParentQualifiedName: c.Parent,
			SourceHash:          c.SourceHash,
			CommittedHash:       c.CommittedHash,
			OrderIndex:          c.OrderIndex,
			Depth:               c.Depth,
			StartLine:           c.StartLine,
			EndLine:             c.EndLine,
			Imports:             c.Imports,
			FanIn:               g.FanIn[cid],
			FanOut:              g.FanOut[cid],
			IsOrchestrator:      g.Orchestrators[cid],
		})
		b.Segments = append(b.Segments, store.Segment{ComponentID: cid, Text: c.Segment})
		b.Metadata = append(b.Metadata, store.RebuildMetadata{ComponentID: cid, Hints: c.Hints})

		for _, d := range c.Directives {
			b.Directives = append(b.Directives, store.Directive{
				ComponentID: cid,
				Name:        d.Name,
				Confidence:  d.Confidence,
				Payload:     d.Payload,
				Line:        d.Line,
			})
		}

		// Scopes are emitted parents first, so a parent's fake ID is
		// always known when its children are buffered.
		scopeIDs := make([]int64, len(c.Scopes))
		for j, s := range c.Scopes {
			var parent *int64
			if s.Parent >= 0 && s.Parent < j {
				p := scopeIDs[s.Parent]
				parent = &p
			}
			scopeIDs[j] = b.AddScope(store.Scope{
				ComponentID:   cid,
				Kind:          s.Kind,
				ParentScopeID: parent,
				StartLine:     s.StartLine,
				EndLine:       s.EndLine,
			})
		}
		for _, s := range c.Symbols {
			var scope *int64
			if s.Scope >= 0 && s.Scope < len(scopeIDs) {
				sid := scopeIDs[s.Scope]
				scope = &sid
			}
			b.AddSymbol(store.Symbol{
				ComponentID: cid,
				ScopeID:     scope,
				Name:        s.Name,
				ScopeLevel:  s.ScopeLevel,
				Access:      s.Access,
				TypeHint:    s.TypeHint,
				DeclLine:    s.DeclLine,
				IsParam:     s.IsParam,
			})
		}
	}
	b.CallEdges = g.Edges
}

func currentSnapshots(ex *extract.Result, ids []string, edges []store.CallEdge) []drift.Snapshot {
	callees := make(map[string][]string)
	for _, e := range edges {
		if e.Kind != store.EdgeUnresolved {
			callees[e.CallerID] = append(callees[e.CallerID], e.ResolvedName)
		}
	}
	snaps := make([]drift.Snapshot, len(ex.Components))
	for i, c := range ex.Components {
		var syms []string
		for _, s := range c.Symbols {
			if s.Scope == 0 {
				syms = append(syms, drift.SymbolKey(s.Name, s.ScopeLevel))
			}
		}
		snaps[i] = drift.Snapshot{
			ID:            ids[i],
			QualifiedName: c.QualifiedName,
			Kind:          c.Kind,
			SourceHash:    c.SourceHash,
			CommittedHash: c.CommittedHash,
			StartLine:     c.StartLine,
			EndLine:       c.EndLine,
			Callees:       callees[ids[i]],
			Symbols:       syms,
			Imports:       c.Imports,
		}
	}
	return snaps
}
