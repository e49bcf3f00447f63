package store

// Batch buffers every row one ingestion run writes so the whole run lands
// in a single transaction through Tx.Apply. Scopes get fake (negative) IDs
// at buffer time; symbols and child scopes reference those fake IDs and
// Apply rewrites them to the real row IDs.
//
// A Batch is owned by one pipeline and is not safe for concurrent use.
type Batch struct {
	// File is inserted when NewFile is set, otherwise its hashes and size
	// are updated in place.
	File    File
	NewFile bool

	Version Version

	// Live rows. Apply replaces every live row of File with these.
	Components []Component
	Segments   []Segment
	Metadata   []RebuildMetadata
	Directives []Directive
	Scopes     []Scope
	Symbols    []Symbol
	CallEdges  []CallEdge

	// Append-only rows for Version.
	History     []HistoryEntry
	DriftEvents []DriftEvent
	Proof       *Proof
	Violations  []Violation

	nextFakeID int64
}

// NewBatch returns an empty batch for the given file and version.
func NewBatch(file File, newFile bool, version Version) *Batch {
	return &Batch{
		File:       file,
		NewFile:    newFile,
		Version:    version,
		nextFakeID: -1,
	}
}

func (b *Batch) allocFakeID() int64 {
	if b.nextFakeID == 0 {
		b.nextFakeID = -1
	}
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

// AddScope buffers a scope and returns its fake ID.
func (b *Batch) AddScope(scope Scope) int64 {
	scope.ID = b.allocFakeID()
	b.Scopes = append(b.Scopes, scope)
	return scope.ID
}

// AddSymbol buffers a symbol. ScopeID may be a fake ID from AddScope.
func (b *Batch) AddSymbol(sym Symbol) {
	b.Symbols = append(b.Symbols, sym)
}

// ComponentByName returns the buffered live component with the given
// qualified name, or nil.
func (b *Batch) ComponentByName(qualifiedName string) *Component {
	for i := range b.Components {
		if b.Components[i].QualifiedName == qualifiedName {
			return &b.Components[i]
		}
	}
	return nil
}
