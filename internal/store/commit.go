package store

import (
	"database/sql"
	"fmt"
)

// Apply writes a Batch inside the transaction. The file's previous live
// rows are purged first (children cascade), then the batch's live rows and
// version rows are inserted. Fake (negative) scope IDs are remapped to the
// real IDs SQLite assigns, and every reference inside the batch is
// rewritten through that mapping.
//
// Insert order respects FK dependencies:
//  1. File (insert or update)
//  2. Version
//  3. Components, then segments, rebuild metadata and directives
//  4. Scopes (parent_scope_id may be fake)
//  5. Symbols (scope_id may be fake)
//  6. Call edges
//  7. History, drift events, proof (when buffered), violations
func (t *Tx) Apply(b *Batch) error {
	tx := t.tx

	// 1. File
	if b.NewFile {
		if _, err := tx.Exec(
			`INSERT INTO files (id, path, content_hash, ast_hash, size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			b.File.ID, b.File.Path, b.File.ContentHash, b.File.ASTHash, b.File.Size, b.File.CreatedAt,
		); err != nil {
			return fmt.Errorf("apply: insert file %q: %w", b.File.Path, err)
		}
	} else {
		if _, err := tx.Exec(
			`UPDATE files SET content_hash = ?, ast_hash = ?, size = ? WHERE id = ?`,
			b.File.ContentHash, b.File.ASTHash, b.File.Size, b.File.ID,
		); err != nil {
			return fmt.Errorf("apply: update file %q: %w", b.File.Path, err)
		}
	}

	// 2. Version
	v := b.Version
	if _, err := tx.Exec(
		`INSERT INTO file_versions (id, file_id, version_number, previous_version_id, content_hash,
			ast_hash, ingested_at, component_count, change_summary, tail_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.FileID, v.Number, v.PreviousVersionID, v.ContentHash,
		v.ASTHash, v.IngestedAt, v.ComponentCount, v.ChangeSummary, v.TailText,
	); err != nil {
		return fmt.Errorf("apply: version %d: %w", v.Number, err)
	}

	// Purge live rows. Edges go first so no SET NULL update touches rows
	// about to be deleted anyway.
	if _, err := tx.Exec(`DELETE FROM call_edges WHERE file_id = ?`, b.File.ID); err != nil {
		return fmt.Errorf("apply: purge call edges: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM components WHERE file_id = ?`, b.File.ID); err != nil {
		return fmt.Errorf("apply: purge components: %w", err)
	}

	// 3. Components and their one-to-one rows
	for i := range b.Components {
		if err := insertComponentTx(tx, &b.Components[i]); err != nil {
			return fmt.Errorf("apply: component %q: %w", b.Components[i].QualifiedName, err)
		}
	}
	for _, seg := range b.Segments {
		if _, err := tx.Exec(`INSERT INTO source_segments (component_id, text) VALUES (?, ?)`,
			seg.ComponentID, seg.Text); err != nil {
			return fmt.Errorf("apply: segment %s: %w", seg.ComponentID, err)
		}
	}
	for _, m := range b.Metadata {
		if _, err := tx.Exec(`INSERT INTO rebuild_metadata (component_id, data) VALUES (?, ?)`,
			m.ComponentID, marshalHints(m.Hints)); err != nil {
			return fmt.Errorf("apply: rebuild metadata %s: %w", m.ComponentID, err)
		}
	}
	for i := range b.Directives {
		d := &b.Directives[i]
		res, err := tx.Exec(
			`INSERT INTO directives (component_id, name, confidence, payload, line) VALUES (?, ?, ?, ?, ?)`,
			d.ComponentID, d.Name, d.Confidence, d.Payload, d.Line,
		)
		if err != nil {
			return fmt.Errorf("apply: directive %q: %w", d.Name, err)
		}
		if d.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("apply: directive %q: %w", d.Name, err)
		}
	}

	fakeToReal := make(map[int64]int64)

	// 4. Scopes
	for i := range b.Scopes {
		sc := &b.Scopes[i]
		if sc.ParentScopeID != nil && *sc.ParentScopeID < 0 {
			realID, ok := fakeToReal[*sc.ParentScopeID]
			if !ok {
				return fmt.Errorf("apply: scope has parent_scope_id=%d not in fakeToReal map", *sc.ParentScopeID)
			}
			sc.ParentScopeID = &realID
		}
		res, err := tx.Exec(
			`INSERT INTO scopes (component_id, kind, parent_scope_id, start_line, end_line) VALUES (?, ?, ?, ?, ?)`,
			sc.ComponentID, sc.Kind, sc.ParentScopeID, sc.StartLine, sc.EndLine,
		)
		if err != nil {
			return fmt.Errorf("apply: scope: %w", err)
		}
		realID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("apply: scope: %w", err)
		}
		fakeToReal[sc.ID] = realID
		sc.ID = realID
	}

	// 5. Symbols
	for i := range b.Symbols {
		sym := &b.Symbols[i]
		if sym.ScopeID != nil && *sym.ScopeID < 0 {
			realID, ok := fakeToReal[*sym.ScopeID]
			if !ok {
				return fmt.Errorf("apply: symbol %q has scope_id=%d not in fakeToReal map (have %d scopes)",
					sym.Name, *sym.ScopeID, len(b.Scopes))
			}
			sym.ScopeID = &realID
		}
		res, err := tx.Exec(
			`INSERT INTO symbols (component_id, scope_id, name, scope_level, access, type_hint, decl_line, is_param)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sym.ComponentID, sym.ScopeID, sym.Name, sym.ScopeLevel, sym.Access, sym.TypeHint, sym.DeclLine, sym.IsParam,
		)
		if err != nil {
			return fmt.Errorf("apply: symbol %q: %w", sym.Name, err)
		}
		if sym.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("apply: symbol %q: %w", sym.Name, err)
		}
	}

	// 6. Call edges
	for i := range b.CallEdges {
		e := &b.CallEdges[i]
		res, err := tx.Exec(
			`INSERT INTO call_edges (file_id, caller_id, callee_id, kind, resolved_name, callee_text, line)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.FileID, e.CallerID, e.CalleeID, e.Kind, e.ResolvedName, e.CalleeText, e.Line,
		)
		if err != nil {
			return fmt.Errorf("apply: call edge %q: %w", e.CalleeText, err)
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("apply: call edge %q: %w", e.CalleeText, err)
		}
	}

	// 7. Version rows
	for _, h := range b.History {
		if _, err := tx.Exec(
			`INSERT INTO component_history (file_id, version_id, version_number, component_id, qualified_name,
				kind, classification, source_hash, committed_hash, start_line, end_line)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.FileID, h.VersionID, h.VersionNumber, h.ComponentID, h.QualifiedName,
			h.Kind, h.Classification, h.SourceHash, h.CommittedHash, h.StartLine, h.EndLine,
		); err != nil {
			return fmt.Errorf("apply: history %q: %w", h.QualifiedName, err)
		}
	}
	for _, e := range b.DriftEvents {
		if _, err := tx.Exec(
			`INSERT INTO drift_events (file_id, version_id, version_number, component_id, qualified_name,
				category, severity, description, old_value, new_value, detected_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.FileID, e.VersionID, e.VersionNumber, e.ComponentID, e.QualifiedName,
			e.Category, e.Severity, e.Description, e.OldValue, e.NewValue, e.DetectedAt,
		); err != nil {
			return fmt.Errorf("apply: drift event %q: %w", e.QualifiedName, err)
		}
	}
	if b.Proof != nil {
		if err := t.InsertProof(b.Proof); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
	}
	for _, vi := range b.Violations {
		if _, err := tx.Exec(
			`INSERT INTO violations (file_id, version_id, version_number, component_id, qualified_name,
				rule, severity, description, remediation)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			vi.FileID, vi.VersionID, vi.VersionNumber, vi.ComponentID, vi.QualifiedName,
			vi.Rule, vi.Severity, vi.Description, vi.Remediation,
		); err != nil {
			return fmt.Errorf("apply: violation %q: %w", vi.Rule, err)
		}
	}
	return nil
}

// InsertProof records the equivalence proof of a version. Ingestion calls
// it after Apply, once the proof has been made from the rows just written.
func (t *Tx) InsertProof(p *Proof) error {
	if _, err := t.tx.Exec(
		`INSERT INTO equivalence_proofs (file_id, version_id, version_number, original_ast_hash,
			rebuilt_ast_hash, original_raw_hash, rebuilt_raw_hash, raw_match, structural_match, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.FileID, p.VersionID, p.VersionNumber, p.OriginalASTHash,
		p.RebuiltASTHash, p.OriginalRawHash, p.RebuiltRawHash, p.RawMatch, p.StructuralMatch, p.Status,
	); err != nil {
		return fmt.Errorf("insert proof: %w", err)
	}
	return nil
}

func insertComponentTx(tx *sql.Tx, c *Component) error {
	_, err := tx.Exec(
		`INSERT INTO components (`+ComponentCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FileID, c.QualifiedName, c.Name, c.Kind, c.ParentQualifiedName, c.SourceHash,
		c.CommittedHash, c.OrderIndex, c.Depth, c.StartLine, c.EndLine, marshalStrings(c.Imports),
		c.FanIn, c.FanOut, c.IsOrchestrator,
	)
	return err
}
