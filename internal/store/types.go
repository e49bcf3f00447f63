package store

import "time"

// Component kinds.
const (
	KindFunction = "function"
	KindClass    = "class"
	KindMethod   = "method"
)

// Symbol scope levels.
const (
	ScopeParameter = "parameter"
	ScopeLocal     = "local"
	ScopeGlobal    = "global"
	ScopeNonlocal  = "nonlocal"
)

// Symbol access types.
const (
	AccessRead  = "read"
	AccessWrite = "write"
	AccessBoth  = "both"
)

// Call edge kinds.
const (
	EdgeInternal   = "internal"
	EdgeExternal   = "external"
	EdgeBuiltin    = "builtin"
	EdgeUnresolved = "unresolved"
)

// Drift classifications.
const (
	Added     = "ADDED"
	Removed   = "REMOVED"
	Modified  = "MODIFIED"
	Unchanged = "UNCHANGED"
)

// Drift event categories.
const (
	CategoryCallGraph  = "call_graph_change"
	CategorySymbol     = "symbol_change"
	CategoryImport     = "import_change"
	CategoryComplexity = "complexity_change"
)

// Severities. HIGH/MEDIUM/LOW grade drift events; ERROR/WARNING/INFO grade
// governance violations.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"

	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"
	SeverityInfo    = "INFO"
)

// Equivalence proof statuses.
const (
	ProofPass    = "PASS"
	ProofPartial = "PARTIAL"
	ProofFail    = "FAIL"
)

// Gate statuses.
const (
	GatePass    = "PASS"
	GateBlocked = "BLOCKED"
)

// Canonical domain types

type File struct {
	ID          string
	Path        string
	ContentHash string
	ASTHash     string
	Size        int64
	CreatedAt   time.Time
}

// Component is a live function, class or method row. Imports is nil when
// the extractor could not determine the reachable imports.
type Component struct {
	ID                  string
	FileID              string
	QualifiedName       string
	Name                string
	Kind                string
	ParentQualifiedName string
	SourceHash          string
	CommittedHash       string
	OrderIndex          int
	Depth               int
	StartLine           int
	EndLine             int
	Imports             []string
	FanIn               int
	FanOut              int
	IsOrchestrator      bool
}

// LineCount is the component's span as end_line - start_line.
func (c *Component) LineCount() int {
	return c.EndLine - c.StartLine
}

type Segment struct {
	ComponentID string
	Text        string
}

type Scope struct {
	ID            int64
	ComponentID   string
	Kind          string
	ParentScopeID *int64
	StartLine     int
	EndLine       int
}

type Symbol struct {
	ID          int64
	ComponentID string
	ScopeID     *int64
	Name        string
	ScopeLevel  string
	Access      string
	TypeHint    string
	DeclLine    int
	IsParam     bool
}

// RawCall is an unresolved call expression. It only lives in memory
// between extraction and normalization.
type RawCall struct {
	ComponentID string
	CalleeText  string
	Line        int
	IsDecorator bool
}

type CallEdge struct {
	ID           int64
	FileID       string
	CallerID     string
	CalleeID     *string
	Kind         string
	ResolvedName string
	CalleeText   string
	Line         int
}

// RebuildHints are the per-component formatting hints needed to
// reconstruct a file from its segments.
type RebuildHints struct {
	IndentText      string         `json:"indent_text"`
	GapBefore       string         `json:"gap_before,omitempty"`
	Decorators      []string       `json:"decorators,omitempty"`
	Docstring       *DocstringHint `json:"docstring,omitempty"`
	LeadingComments []string       `json:"leading_comments,omitempty"`
	TrailingComment string         `json:"trailing_comment,omitempty"`
	Async           bool           `json:"async,omitempty"`
	BodyLines       int            `json:"body_lines"`
}

type DocstringHint struct {
	Quote  string `json:"quote"`
	Prefix string `json:"prefix,omitempty"`
	Lines  int    `json:"lines"`
}

type RebuildMetadata struct {
	ComponentID string
	Hints       RebuildHints
}

type Directive struct {
	ID          int64
	ComponentID string
	Name        string
	Confidence  float64
	Payload     string
	Line        int
}

type Version struct {
	ID                string
	FileID            string
	Number            int
	PreviousVersionID *string
	ContentHash       string
	ASTHash           string
	IngestedAt        time.Time
	ComponentCount    int
	ChangeSummary     string
	TailText          string
}

type HistoryEntry struct {
	ID             int64
	FileID         string
	VersionID      string
	VersionNumber  int
	ComponentID    *string
	QualifiedName  string
	Kind           string
	Classification string
	SourceHash     string
	CommittedHash  string
	StartLine      int
	EndLine        int
}

type DriftEvent struct {
	ID            int64
	FileID        string
	VersionID     string
	VersionNumber int
	ComponentID   *string
	QualifiedName string
	Category      string
	Severity      string
	Description   string
	OldValue      string
	NewValue      string
	DetectedAt    time.Time
}

type Proof struct {
	ID              int64
	FileID          string
	VersionID       string
	VersionNumber   int
	OriginalASTHash string
	RebuiltASTHash  string
	OriginalRawHash string
	RebuiltRawHash  string
	RawMatch        bool
	StructuralMatch bool
	Status          string
}

type Violation struct {
	ID            int64
	FileID        string
	VersionID     string
	VersionNumber int
	ComponentID   *string
	QualifiedName string
	Rule          string
	Severity      string
	Description   string
	Remediation   string
}
