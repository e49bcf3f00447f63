package main

import (
	"time"

	"github.com/jward/canon"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLIIngest is a JSON-friendly ingestion result.
type CLIIngest struct {
	Path            string         `json:"path"`
	FileID          string         `json:"file_id"`
	Version         int            `json:"version"`
	ComponentCount  int            `json:"component_count"`
	ChangeSummary   string         `json:"change_summary"`
	ProofStatus     string         `json:"proof_status"`
	Gate            string         `json:"gate"`
	UnresolvedCalls int            `json:"unresolved_calls"`
	DriftEvents     int            `json:"drift_events"`
	Violations      []CLIViolation `json:"violations,omitempty"`
}

// CLIComponent is a JSON-friendly component representation.
type CLIComponent struct {
	ID             string `json:"id"`
	QualifiedName  string `json:"qualified_name"`
	Kind           string `json:"kind"`
	Parent         string `json:"parent,omitempty"`
	StartLine      int    `json:"start_line"`
	EndLine        int    `json:"end_line"`
	SourceHash     string `json:"source_hash"`
	CommittedHash  string `json:"committed_hash"`
	FanIn          int    `json:"fan_in"`
	FanOut         int    `json:"fan_out"`
	IsOrchestrator bool   `json:"is_orchestrator"`
}

// CLISegment is a component's verbatim source text.
type CLISegment struct {
	ComponentID string `json:"component_id"`
	Text        string `json:"text"`
}

// CLICallEdge is a JSON-friendly call edge.
type CLICallEdge struct {
	CallerID     string  `json:"caller_id"`
	CalleeID     *string `json:"callee_id,omitempty"`
	Kind         string  `json:"kind"`
	ResolvedName string  `json:"resolved_name"`
	CalleeText   string  `json:"callee_text"`
	Line         int     `json:"line"`
}

// CLIDirective is a JSON-friendly directive.
type CLIDirective struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Payload    string  `json:"payload,omitempty"`
	Line       int     `json:"line"`
}

// CLISymbol is a JSON-friendly symbol.
type CLISymbol struct {
	Name       string `json:"name"`
	ScopeLevel string `json:"scope_level"`
	Access     string `json:"access"`
	TypeHint   string `json:"type_hint,omitempty"`
	DeclLine   int    `json:"decl_line"`
	IsParam    bool   `json:"is_param"`
}

// CLIDriftEvent is a JSON-friendly drift event.
type CLIDriftEvent struct {
	Version       int    `json:"version"`
	QualifiedName string `json:"qualified_name"`
	Category      string `json:"category"`
	Severity      string `json:"severity"`
	Description   string `json:"description"`
	OldValue      string `json:"old_value"`
	NewValue      string `json:"new_value"`
}

// CLIViolation is a JSON-friendly governance violation.
type CLIViolation struct {
	QualifiedName string `json:"qualified_name,omitempty"`
	Rule          string `json:"rule"`
	Severity      string `json:"severity"`
	Description   string `json:"description"`
	Remediation   string `json:"remediation,omitempty"`
}

// CLIGate is the governance gate of a file.
type CLIGate struct {
	Path     string `json:"path"`
	Version  int    `json:"version"`
	Status   string `json:"status"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
}

// CLIVersion is a JSON-friendly file version.
type CLIVersion struct {
	Number         int       `json:"number"`
	ID             string    `json:"id"`
	ContentHash    string    `json:"content_hash"`
	IngestedAt     time.Time `json:"ingested_at"`
	ComponentCount int       `json:"component_count"`
	ChangeSummary  string    `json:"change_summary"`
}

// CLIHistory is one component history row.
type CLIHistory struct {
	Version        int     `json:"version"`
	ComponentID    *string `json:"component_id,omitempty"`
	QualifiedName  string  `json:"qualified_name"`
	Kind           string  `json:"kind"`
	Classification string  `json:"classification"`
}

// CLIProof is a JSON-friendly equivalence proof.
type CLIProof struct {
	Version         int    `json:"version"`
	Status          string `json:"status"`
	StructuralMatch bool   `json:"structural_match"`
	RawMatch        bool   `json:"raw_match"`
	OriginalASTHash string `json:"original_ast_hash"`
	RebuiltASTHash  string `json:"rebuilt_ast_hash"`
}

// CLICycle is an internal call cycle.
type CLICycle struct {
	Path  string   `json:"path"`
	IDs   []string `json:"ids"`
	Names []string `json:"names"`
}

// CLIReadiness is the extraction-readiness view of a file.
type CLIReadiness struct {
	Path       string              `json:"path"`
	Version    int                 `json:"version"`
	Gate       string              `json:"gate"`
	Threshold  float64             `json:"threshold"`
	Components []CLIReadyComponent `json:"components"`
}

// CLIReadyComponent is one eligible component.
type CLIReadyComponent struct {
	ID             string         `json:"id"`
	QualifiedName  string         `json:"qualified_name"`
	Kind           string         `json:"kind"`
	Score          float64        `json:"score"`
	FanIn          int            `json:"fan_in"`
	FanOut         int            `json:"fan_out"`
	IsOrchestrator bool           `json:"is_orchestrator"`
	OnCycle        bool           `json:"on_cycle"`
	Directives     []CLIDirective `json:"directives"`
}

func ingestToCLI(r *canon.IngestResult) CLIIngest {
	out := CLIIngest{
		Path:            r.Path,
		FileID:          r.FileID,
		Version:         r.Version,
		ComponentCount:  r.ComponentCount,
		ChangeSummary:   r.ChangeSummary,
		ProofStatus:     r.ProofStatus,
		Gate:            r.Gate,
		UnresolvedCalls: r.UnresolvedCalls,
		DriftEvents:     len(r.DriftEvents),
	}
	for i := range r.Violations {
		out.Violations = append(out.Violations, violationToCLI(&r.Violations[i]))
	}
	return out
}

func componentToCLI(c *canon.Component) CLIComponent {
	return CLIComponent{
		ID:             c.ID,
		QualifiedName:  c.QualifiedName,
		Kind:           c.Kind,
		Parent:         c.ParentQualifiedName,
		StartLine:      c.StartLine,
		EndLine:        c.EndLine,
		SourceHash:     c.SourceHash,
		CommittedHash:  c.CommittedHash,
		FanIn:          c.FanIn,
		FanOut:         c.FanOut,
		IsOrchestrator: c.IsOrchestrator,
	}
}

func edgeToCLI(e *canon.CallEdge) CLICallEdge {
	return CLICallEdge{
		CallerID:     e.CallerID,
		CalleeID:     e.CalleeID,
		Kind:         e.Kind,
		ResolvedName: e.ResolvedName,
		CalleeText:   e.CalleeText,
		Line:         e.Line,
	}
}

func directiveToCLI(d *canon.Directive) CLIDirective {
	return CLIDirective{Name: d.Name, Confidence: d.Confidence, Payload: d.Payload, Line: d.Line}
}

func symbolToCLI(s *canon.Symbol) CLISymbol {
	return CLISymbol{
		Name:       s.Name,
		ScopeLevel: s.ScopeLevel,
		Access:     s.Access,
		TypeHint:   s.TypeHint,
		DeclLine:   s.DeclLine,
		IsParam:    s.IsParam,
	}
}

func driftToCLI(e *canon.DriftEvent) CLIDriftEvent {
	return CLIDriftEvent{
		Version:       e.VersionNumber,
		QualifiedName: e.QualifiedName,
		Category:      e.Category,
		Severity:      e.Severity,
		Description:   e.Description,
		OldValue:      e.OldValue,
		NewValue:      e.NewValue,
	}
}

func violationToCLI(v *canon.Violation) CLIViolation {
	return CLIViolation{
		QualifiedName: v.QualifiedName,
		Rule:          v.Rule,
		Severity:      v.Severity,
		Description:   v.Description,
		Remediation:   v.Remediation,
	}
}

func proofToCLI(p *canon.Proof) CLIProof {
	return CLIProof{
		Version:         p.VersionNumber,
		Status:          p.Status,
		StructuralMatch: p.StructuralMatch,
		RawMatch:        p.RawMatch,
		OriginalASTHash: p.OriginalASTHash,
		RebuiltASTHash:  p.RebuiltASTHash,
	}
}

func readinessToCLI(r *canon.Readiness) CLIReadiness {
	out := CLIReadiness{
		Path:       r.Path,
		Version:    r.Version,
		Gate:       r.Gate,
		Threshold:  r.Threshold,
		Components: []CLIReadyComponent{},
	}
	for _, c := range r.Components {
		rc := CLIReadyComponent{
			ID:             c.ID,
			QualifiedName:  c.QualifiedName,
			Kind:           c.Kind,
			Score:          c.Score,
			FanIn:          c.FanIn,
			FanOut:         c.FanOut,
			IsOrchestrator: c.IsOrchestrator,
			OnCycle:        c.OnCycle,
			Directives:     []CLIDirective{},
		}
		for _, d := range c.Directives {
			rc.Directives = append(rc.Directives, directiveToCLI(d))
		}
		out.Components = append(out.Components, rc)
	}
	return out
}
