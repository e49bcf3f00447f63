package canon

import (
	"fmt"

	"github.com/jward/canon/internal/callgraph"
	"github.com/jward/canon/internal/extract"
	"github.com/jward/canon/internal/identity"
	"github.com/jward/canon/internal/store"
)

// ParseError reports source that could not be parsed. The run is rolled
// back and no version is created.
type ParseError = extract.ParseError

// DuplicateComponentError reports two components of one file sharing a
// qualified name. The run is rolled back.
type DuplicateComponentError = identity.DuplicateComponentError

// UnresolvedCallWarning is a call whose target could not be classified.
// It is data, not a failure.
type UnresolvedCallWarning = callgraph.UnresolvedCallWarning

// GovernanceViolation is a rule finding. It is data; ERROR violations
// block the file's gate.
type GovernanceViolation = store.Violation

// IngestError names the file whose ingestion failed.
type IngestError struct {
	Path string
	Err  error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// EquivalenceProofFailure describes a FAIL proof. The version is still
// committed; the failure is reported on the IngestResult.
type EquivalenceProofFailure struct {
	Path            string
	Version         int
	OriginalASTHash string
	RebuiltASTHash  string
}

func (e *EquivalenceProofFailure) Error() string {
	rebuilt := e.RebuiltASTHash
	if rebuilt == "" {
		rebuilt = "<unparseable>"
	}
	return fmt.Sprintf("equivalence proof failed for %s v%d: original %s, rebuilt %s",
		e.Path, e.Version, e.OriginalASTHash, rebuilt)
}
