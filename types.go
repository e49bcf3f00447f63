package canon

import "github.com/jward/canon/internal/store"

// Public type aliases for internal store types used in the Engine and
// QueryBuilder APIs. These are Go type aliases (=), identical to the
// internal types at compile time.

type Store = store.Store
type File = store.File
type Component = store.Component
type Segment = store.Segment
type Scope = store.Scope
type Symbol = store.Symbol
type CallEdge = store.CallEdge
type Directive = store.Directive
type RebuildHints = store.RebuildHints
type Version = store.Version
type HistoryEntry = store.HistoryEntry
type DriftEvent = store.DriftEvent
type Proof = store.Proof
type Violation = store.Violation

// Classification, proof and gate values reported by the Engine.
const (
	Added     = store.Added
	Removed   = store.Removed
	Modified  = store.Modified
	Unchanged = store.Unchanged

	ProofPass    = store.ProofPass
	ProofPartial = store.ProofPartial
	ProofFail    = store.ProofFail

	GatePass    = store.GatePass
	GateBlocked = store.GateBlocked
)
