package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// reader holds the read queries shared by Store and Tx. Lookups of a single
// row return (nil, nil) when the row does not exist.
type reader struct {
	q queryer
}

type rowScanner interface{ Scan(...any) error }

// --- File operations ---

const fileCols = `id, path, content_hash, ast_hash, size, created_at`

func scanFile(sc rowScanner) (*File, error) {
	f := &File{}
	return f, sc.Scan(&f.ID, &f.Path, &f.ContentHash, &f.ASTHash, &f.Size, &f.CreatedAt)
}

func (r reader) FileByPath(path string) (*File, error) {
	f, err := scanFile(r.q.QueryRow("SELECT "+fileCols+" FROM files WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

func (r reader) FileByID(id string) (*File, error) {
	f, err := scanFile(r.q.QueryRow("SELECT "+fileCols+" FROM files WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by id: %w", err)
	}
	return f, nil
}

func (r reader) AllFiles() ([]*File, error) {
	rows, err := r.q.Query("SELECT " + fileCols + " FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("all files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// --- Version operations ---

const versionCols = `id, file_id, version_number, previous_version_id, content_hash, ast_hash,
	ingested_at, component_count, change_summary, tail_text`

func scanVersion(sc rowScanner) (*Version, error) {
	v := &Version{}
	return v, sc.Scan(&v.ID, &v.FileID, &v.Number, &v.PreviousVersionID, &v.ContentHash, &v.ASTHash,
		&v.IngestedAt, &v.ComponentCount, &v.ChangeSummary, &v.TailText)
}

func (r reader) LatestVersion(fileID string) (*Version, error) {
	v, err := scanVersion(r.q.QueryRow(
		"SELECT "+versionCols+" FROM file_versions WHERE file_id = ? ORDER BY version_number DESC LIMIT 1", fileID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}
	return v, nil
}

func (r reader) VersionByNumber(fileID string, number int) (*Version, error) {
	v, err := scanVersion(r.q.QueryRow(
		"SELECT "+versionCols+" FROM file_versions WHERE file_id = ? AND version_number = ?", fileID, number,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("version by number: %w", err)
	}
	return v, nil
}

func (r reader) VersionsByFile(fileID string) ([]*Version, error) {
	rows, err := r.q.Query("SELECT "+versionCols+" FROM file_versions WHERE file_id = ? ORDER BY version_number", fileID)
	if err != nil {
		return nil, fmt.Errorf("versions by file: %w", err)
	}
	defer rows.Close()
	var versions []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Component operations ---

// ComponentCols is the column list for component queries.
const ComponentCols = `id, file_id, qualified_name, name, kind, parent_qualified_name, source_hash,
	committed_hash, order_index, depth, start_line, end_line, imports, fan_in, fan_out, is_orchestrator`

func scanComponent(sc rowScanner) (*Component, error) {
	c := &Component{}
	var imports sql.NullString
	err := sc.Scan(&c.ID, &c.FileID, &c.QualifiedName, &c.Name, &c.Kind, &c.ParentQualifiedName,
		&c.SourceHash, &c.CommittedHash, &c.OrderIndex, &c.Depth, &c.StartLine, &c.EndLine,
		&imports, &c.FanIn, &c.FanOut, &c.IsOrchestrator)
	if err != nil {
		return nil, err
	}
	if imports.Valid {
		c.Imports = unmarshalStrings(imports.String)
		if c.Imports == nil {
			c.Imports = []string{}
		}
	}
	return c, nil
}

func (r reader) queryComponents(query string, args ...any) ([]*Component, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var comps []*Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		comps = append(comps, c)
	}
	return comps, rows.Err()
}

// ComponentsByFile returns the live components of a file in order_index order.
func (r reader) ComponentsByFile(fileID string) ([]*Component, error) {
	comps, err := r.queryComponents(
		"SELECT "+ComponentCols+" FROM components WHERE file_id = ? ORDER BY order_index", fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("components by file: %w", err)
	}
	return comps, nil
}

func (r reader) ComponentByID(id string) (*Component, error) {
	c, err := scanComponent(r.q.QueryRow("SELECT "+ComponentCols+" FROM components WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("component by id: %w", err)
	}
	return c, nil
}

func (r reader) SegmentByComponent(componentID string) (*Segment, error) {
	seg := &Segment{ComponentID: componentID}
	err := r.q.QueryRow("SELECT text FROM source_segments WHERE component_id = ?", componentID).Scan(&seg.Text)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("segment by component: %w", err)
	}
	return seg, nil
}

// SegmentsByFile returns segment text keyed by component ID.
func (r reader) SegmentsByFile(fileID string) (map[string]string, error) {
	rows, err := r.q.Query(
		`SELECT s.component_id, s.text FROM source_segments s
		 JOIN components c ON c.id = s.component_id WHERE c.file_id = ?`, fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("segments by file: %w", err)
	}
	defer rows.Close()
	segs := make(map[string]string)
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segs[id] = text
	}
	return segs, rows.Err()
}

// RebuildMetadataByFile returns rebuild hints keyed by component ID.
func (r reader) RebuildMetadataByFile(fileID string) (map[string]RebuildHints, error) {
	rows, err := r.q.Query(
		`SELECT m.component_id, m.data FROM rebuild_metadata m
		 JOIN components c ON c.id = m.component_id WHERE c.file_id = ?`, fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("rebuild metadata by file: %w", err)
	}
	defer rows.Close()
	hints := make(map[string]RebuildHints)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan rebuild metadata: %w", err)
		}
		var h RebuildHints
		if err := json.Unmarshal([]byte(data), &h); err != nil {
			return nil, fmt.Errorf("decode rebuild metadata for %s: %w", id, err)
		}
		hints[id] = h
	}
	return hints, rows.Err()
}

// --- Scope and symbol operations ---

func (r reader) ScopesByComponent(componentID string) ([]*Scope, error) {
	rows, err := r.q.Query(
		"SELECT id, component_id, kind, parent_scope_id, start_line, end_line FROM scopes WHERE component_id = ? ORDER BY id",
		componentID,
	)
	if err != nil {
		return nil, fmt.Errorf("scopes by component: %w", err)
	}
	return scanScopes(rows)
}

// ScopesByFile returns the scopes of every live component of a file.
func (r reader) ScopesByFile(fileID string) ([]*Scope, error) {
	rows, err := r.q.Query(
		`SELECT s.id, s.component_id, s.kind, s.parent_scope_id, s.start_line, s.end_line
		 FROM scopes s JOIN components c ON c.id = s.component_id WHERE c.file_id = ? ORDER BY s.id`, fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("scopes by file: %w", err)
	}
	return scanScopes(rows)
}

func scanScopes(rows *sql.Rows) ([]*Scope, error) {
	defer rows.Close()
	var scopes []*Scope
	for rows.Next() {
		sc := &Scope{}
		if err := rows.Scan(&sc.ID, &sc.ComponentID, &sc.Kind, &sc.ParentScopeID, &sc.StartLine, &sc.EndLine); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

const symbolCols = `id, component_id, scope_id, name, scope_level, access, type_hint, decl_line, is_param`

func (r reader) querySymbols(query string, args ...any) ([]*Symbol, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var syms []*Symbol
	for rows.Next() {
		s := &Symbol{}
		if err := rows.Scan(&s.ID, &s.ComponentID, &s.ScopeID, &s.Name, &s.ScopeLevel, &s.Access,
			&s.TypeHint, &s.DeclLine, &s.IsParam); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		syms = append(syms, s)
	}
	return syms, rows.Err()
}

func (r reader) SymbolsByComponent(componentID string) ([]*Symbol, error) {
	syms, err := r.querySymbols("SELECT "+symbolCols+" FROM symbols WHERE component_id = ? ORDER BY id", componentID)
	if err != nil {
		return nil, fmt.Errorf("symbols by component: %w", err)
	}
	return syms, nil
}

func (r reader) SymbolsByFile(fileID string) ([]*Symbol, error) {
	syms, err := r.querySymbols(
		`SELECT s.id, s.component_id, s.scope_id, s.name, s.scope_level, s.access, s.type_hint, s.decl_line, s.is_param
		 FROM symbols s JOIN components c ON c.id = s.component_id WHERE c.file_id = ? ORDER BY s.id`, fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("symbols by file: %w", err)
	}
	return syms, nil
}

// --- Call edge operations ---

const callEdgeCols = `id, file_id, caller_id, callee_id, kind, resolved_name, callee_text, line`

func (r reader) queryCallEdges(query string, args ...any) ([]*CallEdge, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []*CallEdge
	for rows.Next() {
		e := &CallEdge{}
		if err := rows.Scan(&e.ID, &e.FileID, &e.CallerID, &e.CalleeID, &e.Kind,
			&e.ResolvedName, &e.CalleeText, &e.Line); err != nil {
			return nil, fmt.Errorf("scan call edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (r reader) CallEdgesByFile(fileID string) ([]*CallEdge, error) {
	edges, err := r.queryCallEdges("SELECT "+callEdgeCols+" FROM call_edges WHERE file_id = ? ORDER BY id", fileID)
	if err != nil {
		return nil, fmt.Errorf("call edges by file: %w", err)
	}
	return edges, nil
}

func (r reader) CallEdgesByCaller(componentID string) ([]*CallEdge, error) {
	edges, err := r.queryCallEdges("SELECT "+callEdgeCols+" FROM call_edges WHERE caller_id = ? ORDER BY id", componentID)
	if err != nil {
		return nil, fmt.Errorf("call edges by caller: %w", err)
	}
	return edges, nil
}

func (r reader) CallEdgesByCallee(componentID string) ([]*CallEdge, error) {
	edges, err := r.queryCallEdges("SELECT "+callEdgeCols+" FROM call_edges WHERE callee_id = ? ORDER BY id", componentID)
	if err != nil {
		return nil, fmt.Errorf("call edges by callee: %w", err)
	}
	return edges, nil
}

// --- Directive operations ---

const directiveCols = `id, component_id, name, confidence, payload, line`

func (r reader) queryDirectives(query string, args ...any) ([]*Directive, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var dirs []*Directive
	for rows.Next() {
		d := &Directive{}
		if err := rows.Scan(&d.ID, &d.ComponentID, &d.Name, &d.Confidence, &d.Payload, &d.Line); err != nil {
			return nil, fmt.Errorf("scan directive: %w", err)
		}
		dirs = append(dirs, d)
	}
	return dirs, rows.Err()
}

func (r reader) DirectivesByComponent(componentID string) ([]*Directive, error) {
	dirs, err := r.queryDirectives("SELECT "+directiveCols+" FROM directives WHERE component_id = ? ORDER BY id", componentID)
	if err != nil {
		return nil, fmt.Errorf("directives by component: %w", err)
	}
	return dirs, nil
}

func (r reader) DirectivesByFile(fileID string) ([]*Directive, error) {
	dirs, err := r.queryDirectives(
		`SELECT d.id, d.component_id, d.name, d.confidence, d.payload, d.line
		 FROM directives d JOIN components c ON c.id = d.component_id WHERE c.file_id = ? ORDER BY d.id`, fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("directives by file: %w", err)
	}
	return dirs, nil
}

// --- History, drift, proof and violation operations ---

const historyCols = `id, file_id, version_id, version_number, component_id, qualified_name, kind,
	classification, source_hash, committed_hash, start_line, end_line`

func (r reader) queryHistory(query string, args ...any) ([]*HistoryEntry, error) {
	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*HistoryEntry
	for rows.Next() {
		h := &HistoryEntry{}
		if err := rows.Scan(&h.ID, &h.FileID, &h.VersionID, &h.VersionNumber, &h.ComponentID,
			&h.QualifiedName, &h.Kind, &h.Classification, &h.SourceHash, &h.CommittedHash,
			&h.StartLine, &h.EndLine); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

func (r reader) HistoryByFile(fileID string) ([]*HistoryEntry, error) {
	entries, err := r.queryHistory(
		"SELECT "+historyCols+" FROM component_history WHERE file_id = ? ORDER BY version_number, id", fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("history by file: %w", err)
	}
	return entries, nil
}

func (r reader) HistoryByVersion(fileID string, number int) ([]*HistoryEntry, error) {
	entries, err := r.queryHistory(
		"SELECT "+historyCols+" FROM component_history WHERE file_id = ? AND version_number = ? ORDER BY id",
		fileID, number,
	)
	if err != nil {
		return nil, fmt.Errorf("history by version: %w", err)
	}
	return entries, nil
}

const driftCols = `id, file_id, version_id, version_number, component_id, qualified_name, category,
	severity, description, old_value, new_value, detected_at`

// DriftEventsByRange returns drift events with from <= version_number <= to.
func (r reader) DriftEventsByRange(fileID string, from, to int) ([]*DriftEvent, error) {
	rows, err := r.q.Query(
		"SELECT "+driftCols+" FROM drift_events WHERE file_id = ? AND version_number BETWEEN ? AND ? ORDER BY version_number, id",
		fileID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("drift events by range: %w", err)
	}
	defer rows.Close()
	var events []*DriftEvent
	for rows.Next() {
		e := &DriftEvent{}
		if err := rows.Scan(&e.ID, &e.FileID, &e.VersionID, &e.VersionNumber, &e.ComponentID,
			&e.QualifiedName, &e.Category, &e.Severity, &e.Description, &e.OldValue, &e.NewValue,
			&e.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan drift event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r reader) ProofByVersion(fileID string, number int) (*Proof, error) {
	p := &Proof{}
	err := r.q.QueryRow(
		`SELECT id, file_id, version_id, version_number, original_ast_hash, rebuilt_ast_hash,
			original_raw_hash, rebuilt_raw_hash, raw_match, structural_match, status
		 FROM equivalence_proofs WHERE file_id = ? AND version_number = ?`, fileID, number,
	).Scan(&p.ID, &p.FileID, &p.VersionID, &p.VersionNumber, &p.OriginalASTHash, &p.RebuiltASTHash,
		&p.OriginalRawHash, &p.RebuiltRawHash, &p.RawMatch, &p.StructuralMatch, &p.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("proof by version: %w", err)
	}
	return p, nil
}

func (r reader) ViolationsByVersion(fileID string, number int) ([]*Violation, error) {
	rows, err := r.q.Query(
		`SELECT id, file_id, version_id, version_number, component_id, qualified_name, rule,
			severity, description, remediation
		 FROM violations WHERE file_id = ? AND version_number = ? ORDER BY id`, fileID, number,
	)
	if err != nil {
		return nil, fmt.Errorf("violations by version: %w", err)
	}
	defer rows.Close()
	var vs []*Violation
	for rows.Next() {
		v := &Violation{}
		if err := rows.Scan(&v.ID, &v.FileID, &v.VersionID, &v.VersionNumber, &v.ComponentID,
			&v.QualifiedName, &v.Rule, &v.Severity, &v.Description, &v.Remediation); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		vs = append(vs, v)
	}
	return vs, rows.Err()
}
