// Package rebuild regenerates a source file from its stored top-level
// components and proves the result structurally equivalent to the
// original.
package rebuild

import (
	"context"
	"sort"
	"strings"

	"github.com/jward/canon/internal/extract"
	"github.com/jward/canon/internal/store"
)

// Part is one top-level component as stored.
type Part struct {
	OrderIndex int
	Segment    string
	Hints      store.RebuildHints
}

// PartsFromStore assembles parts from live rows. Nested components are
// skipped: their text is already part of their ancestor's segment.
func PartsFromStore(comps []*store.Component, segments map[string]string, hints map[string]store.RebuildHints) []Part {
	var parts []Part
	for _, c := range comps {
		if c.Depth != 0 {
			continue
		}
		parts = append(parts, Part{OrderIndex: c.OrderIndex, Segment: segments[c.ID], Hints: hints[c.ID]})
	}
	return parts
}

// Rebuild concatenates the parts in order_index order. Each part
// contributes its leading gap, its decorators re-indented to the
// definition's column, then its segment. The file tail follows the last
// part.
func Rebuild(parts []Part, tail string) string {
	sorted := make([]Part, len(parts))
	copy(sorted, parts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })

	var sb strings.Builder
	for _, p := range sorted {
		sb.WriteString(p.Hints.GapBefore)
		for _, d := range p.Hints.Decorators {
			sb.WriteString(d)
			sb.WriteString("\n")
			sb.WriteString(p.Hints.IndentText)
		}
		sb.WriteString(p.Segment)
	}
	sb.WriteString(tail)
	return sb.String()
}

// Verify rebuilds the file and compares it against the original hashes.
// The proof is PASS when both structural and raw hashes match, PARTIAL
// when only the structural hash matches, and FAIL otherwise, including
// when the candidate does not parse. Verify never returns an error; a
// FAIL proof is data.
func Verify(ctx context.Context, path string, parts []Part, tail, originalAST, originalRaw string) store.Proof {
	candidate := Rebuild(parts, tail)
	p := store.Proof{
		OriginalASTHash: originalAST,
		OriginalRawHash: originalRaw,
		RebuiltRawHash:  store.HashString(candidate),
	}
	rebuilt, err := extract.StructuralHash(ctx, path, []byte(candidate))
	if err == nil {
		p.RebuiltASTHash = rebuilt
	}
	p.StructuralMatch = err == nil && rebuilt == originalAST
	p.RawMatch = p.RebuiltRawHash == originalRaw

	switch {
	case p.StructuralMatch && p.RawMatch:
		p.Status = store.ProofPass
	case p.StructuralMatch:
		p.Status = store.ProofPartial
	default:
		p.Status = store.ProofFail
	}
	return p
}
