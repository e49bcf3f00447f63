// Package identity decides file and component identity for one ingestion
// run: new file or re-ingest, the next version number, and which component
// identifiers are adopted from the previous version.
package identity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jward/canon/internal/extract"
	"github.com/jward/canon/internal/store"
)

// NewID mints a stable identifier. Identifiers never derive from path or
// content.
var NewID = func() string { return uuid.New().String() }

// Snapshot is the persisted state of a file before the run. A nil
// Snapshot means the path has never been ingested.
type Snapshot struct {
	File       *store.File
	Version    *store.Version
	Components []*store.Component
}

// Resolution is the identity decision for one extraction.
type Resolution struct {
	File    store.File
	NewFile bool
	Version store.Version

	// IDs holds the component identifier for each extracted component, in
	// extraction order. Adopted[i] reports whether IDs[i] was carried over.
	IDs     []string
	Adopted []bool

	// Removed lists previous components whose qualified name no longer
	// exists. They are purged from the live tables.
	Removed []*store.Component
}

// DuplicateComponentError reports two components of one file sharing a
// qualified name.
type DuplicateComponentError struct {
	Path          string
	QualifiedName string
	FirstLine     int
	SecondLine    int
}

func (e *DuplicateComponentError) Error() string {
	return fmt.Sprintf("duplicate component %q in %s at lines %d and %d",
		e.QualifiedName, e.Path, e.FirstLine, e.SecondLine)
}

// Resolve assigns file, version and component identity. A component keeps
// its previous identifier only when both its qualified name and its source
// hash are unchanged; a rename is a removal plus an addition.
func Resolve(prev *Snapshot, ex *extract.Result, now time.Time) (*Resolution, error) {
	firstLine := make(map[string]int, len(ex.Components))
	for _, c := range ex.Components {
		if line, ok := firstLine[c.QualifiedName]; ok {
			return nil, &DuplicateComponentError{
				Path:          ex.Path,
				QualifiedName: c.QualifiedName,
				FirstLine:     line,
				SecondLine:    c.StartLine,
			}
		}
		firstLine[c.QualifiedName] = c.StartLine
	}

	res := &Resolution{
		IDs:     make([]string, len(ex.Components)),
		Adopted: make([]bool, len(ex.Components)),
	}

	if prev == nil || prev.File == nil {
		res.NewFile = true
		res.File = store.File{ID: NewID(), Path: ex.Path, CreatedAt: now}
		res.Version = store.Version{Number: 1}
	} else {
		res.File = *prev.File
		res.Version = store.Version{Number: 1}
		if prev.Version != nil {
			prevID := prev.Version.ID
			res.Version.Number = prev.Version.Number + 1
			res.Version.PreviousVersionID = &prevID
		}
	}
	res.File.ContentHash = ex.ContentHash
	res.File.ASTHash = ex.ASTHash
	res.File.Size = ex.Size

	res.Version.ID = NewID()
	res.Version.FileID = res.File.ID
	res.Version.ContentHash = ex.ContentHash
	res.Version.ASTHash = ex.ASTHash
	res.Version.IngestedAt = now
	res.Version.ComponentCount = len(ex.Components)
	res.Version.TailText = ex.Tail

	previous := make(map[string]*store.Component)
	if prev != nil {
		for _, c := range prev.Components {
			previous[c.QualifiedName] = c
		}
	}
	for i, c := range ex.Components {
		if p, ok := previous[c.QualifiedName]; ok && p.SourceHash == c.SourceHash {
			res.IDs[i] = p.ID
			res.Adopted[i] = true
			continue
		}
		res.IDs[i] = NewID()
	}
	if prev != nil {
		for _, p := range prev.Components {
			if _, ok := firstLine[p.QualifiedName]; !ok {
				res.Removed = append(res.Removed, p)
			}
		}
	}
	return res, nil
}
