// Package canon maintains a canonical, versioned store of Python source
// components and the analysis derived from them.
//
// # Pipeline
//
// Each call to [Engine.Ingest] treats the given source as the next version
// of a file and runs, under a per-file lock and inside one SQLite
// transaction:
//
//  1. Extract: parse with tree-sitter into functions, classes and methods,
//     each with its verbatim segment, hashes, directives, scopes, symbols
//     and raw call references.
//  2. Identity: adopt a component's previous identifier when its qualified
//     name and source hash are unchanged, otherwise mint a new one.
//  3. Normalize: classify calls as internal, builtin, external or
//     unresolved, then compute fan-in, fan-out, orchestrators and cycles.
//  4. Verify: rebuild the file from its segments and formatting hints and
//     prove it structurally equivalent to the original (PASS, PARTIAL or
//     FAIL).
//  5. Drift: classify every component against the previous version and
//     record typed drift events for the modified ones.
//  6. Govern: evaluate directive rules into violations and a per-file gate.
//
// A parse error or duplicate qualified name rolls the whole run back. A
// FAIL proof, unresolved calls and violations are stored as data.
//
// # Usage
//
//	e, err := canon.New(".canon/canon.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	res, err := e.Ingest(ctx, "pkg/service.py", src)
//	fmt.Println(res.Version, res.ChangeSummary, res.Gate)
//
//	ready, err := e.Readiness(ctx, "pkg/service.py")
//
// # Query API
//
// The [QueryBuilder] returned by [Engine.Query] reads components at any
// version, segments, directives, call edges, drift events over a version
// range, the gate, version lists, component history, proofs, symbols and
// cycles.
//
// # Score scripts
//
// The extraction-readiness score defaults to a built-in formula. Setting
// readiness.score_script in canon.yaml evaluates a Risor script instead;
// it receives the component as the `component` map (with the built-in
// score as component.base_score) and returns a number in [0, 1].
package canon
