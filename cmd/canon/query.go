package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/jward/canon"
)

var (
	flagVersion int
	flagFrom    int
	flagTo      int
	flagCallers bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the canonical store",
}

var queryComponentsCmd = &cobra.Command{
	Use:   "components <file>",
	Short: "List the components of a file at a version (default: latest)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "components", func(w *workspace, e *canon.Engine) (any, error) {
			path, err := w.storedPath(args[0])
			if err != nil {
				return nil, err
			}
			comps, err := e.Query().Components(path, flagVersion)
			if err != nil || comps == nil {
				return nil, err
			}
			out := make([]CLIComponent, 0, len(comps))
			for _, c := range comps {
				out = append(out, componentToCLI(c))
			}
			return out, nil
		})
	},
}

var querySegmentCmd = &cobra.Command{
	Use:   "segment <component-id>",
	Short: "Print the verbatim source of a component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "segment", func(_ *workspace, e *canon.Engine) (any, error) {
			seg, err := e.Query().Segment(args[0])
			if err != nil || seg == nil {
				return nil, err
			}
			return CLISegment{ComponentID: seg.ComponentID, Text: seg.Text}, nil
		})
	},
}

var queryCallsCmd = &cobra.Command{
	Use:   "calls <component-id>",
	Short: "List the outgoing call edges of a component (or its callers)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "calls", func(_ *workspace, e *canon.Engine) (any, error) {
			q := e.Query()
			lookup := q.CallEdges
			if flagCallers {
				lookup = q.Callers
			}
			edges, err := lookup(args[0])
			if err != nil {
				return nil, err
			}
			out := make([]CLICallEdge, 0, len(edges))
			for _, edge := range edges {
				out = append(out, edgeToCLI(edge))
			}
			return out, nil
		})
	},
}

var queryDirectivesCmd = &cobra.Command{
	Use:   "directives <component-id>",
	Short: "List the directives attached to a component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "directives", func(_ *workspace, e *canon.Engine) (any, error) {
			dirs, err := e.Query().Directives(args[0])
			if err != nil {
				return nil, err
			}
			out := make([]CLIDirective, 0, len(dirs))
			for _, d := range dirs {
				out = append(out, directiveToCLI(d))
			}
			return out, nil
		})
	},
}

var querySymbolsCmd = &cobra.Command{
	Use:   "symbols <component-id>",
	Short: "List the symbols declared by a component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "symbols", func(_ *workspace, e *canon.Engine) (any, error) {
			syms, err := e.Query().Symbols(args[0])
			if err != nil {
				return nil, err
			}
			out := make([]CLISymbol, 0, len(syms))
			for _, s := range syms {
				out = append(out, symbolToCLI(s))
			}
			return out, nil
		})
	},
}

var queryDriftCmd = &cobra.Command{
	Use:   "drift <file>",
	Short: "List drift events of a file in a version range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "drift", func(w *workspace, e *canon.Engine) (any, error) {
			path, err := w.storedPath(args[0])
			if err != nil {
				return nil, err
			}
			to := flagTo
			if to <= 0 {
				to = math.MaxInt
			}
			events, err := e.Query().DriftEvents(path, flagFrom, to)
			if err != nil || events == nil {
				return nil, err
			}
			out := make([]CLIDriftEvent, 0, len(events))
			for _, ev := range events {
				out = append(out, driftToCLI(ev))
			}
			return out, nil
		})
	},
}

var queryGateCmd = &cobra.Command{
	Use:   "gate <file>",
	Short: "Show the governance gate of a file's latest version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "gate", func(w *workspace, e *canon.Engine) (any, error) {
			path, err := w.storedPath(args[0])
			if err != nil {
				return nil, err
			}
			g, err := e.Query().Gate(path)
			if err != nil || g == nil {
				return nil, err
			}
			return CLIGate{Path: g.Path, Version: g.Version, Status: g.Status, Errors: g.Errors, Warnings: g.Warnings}, nil
		})
	},
}

var queryViolationsCmd = &cobra.Command{
	Use:   "violations <file>",
	Short: "List governance violations of a file at a version (default: latest)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "violations", func(w *workspace, e *canon.Engine) (any, error) {
			path, err := w.storedPath(args[0])
			if err != nil {
				return nil, err
			}
			violations, err := e.Query().Violations(path, flagVersion)
			if err != nil || violations == nil {
				return nil, err
			}
			out := make([]CLIViolation, 0, len(violations))
			for _, v := range violations {
				out = append(out, violationToCLI(v))
			}
			return out, nil
		})
	},
}

var queryVersionsCmd = &cobra.Command{
	Use:   "versions <file>",
	Short: "List the versions of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "versions", func(w *workspace, e *canon.Engine) (any, error) {
			path, err := w.storedPath(args[0])
			if err != nil {
				return nil, err
			}
			versions, err := e.Query().Versions(path)
			if err != nil || versions == nil {
				return nil, err
			}
			out := make([]CLIVersion, 0, len(versions))
			for _, v := range versions {
				out = append(out, CLIVersion{
					Number:         v.Number,
					ID:             v.ID,
					ContentHash:    v.ContentHash,
					IngestedAt:     v.IngestedAt,
					ComponentCount: v.ComponentCount,
					ChangeSummary:  v.ChangeSummary,
				})
			}
			return out, nil
		})
	},
}

var queryHistoryCmd = &cobra.Command{
	Use:   "history <file>",
	Short: "List the component history of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "history", func(w *workspace, e *canon.Engine) (any, error) {
			path, err := w.storedPath(args[0])
			if err != nil {
				return nil, err
			}
			history, err := e.Query().History(path)
			if err != nil || history == nil {
				return nil, err
			}
			out := make([]CLIHistory, 0, len(history))
			for _, h := range history {
				out = append(out, CLIHistory{
					Version:        h.VersionNumber,
					ComponentID:    h.ComponentID,
					QualifiedName:  h.QualifiedName,
					Kind:           h.Kind,
					Classification: h.Classification,
				})
			}
			return out, nil
		})
	},
}

var queryProofCmd = &cobra.Command{
	Use:   "proof <file>",
	Short: "Show the stored equivalence proof of a version (default: latest)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "proof", func(w *workspace, e *canon.Engine) (any, error) {
			path, err := w.storedPath(args[0])
			if err != nil {
				return nil, err
			}
			p, err := e.Query().Proof(path, flagVersion)
			if err != nil || p == nil {
				return nil, err
			}
			return proofToCLI(p), nil
		})
	},
}

var queryCyclesCmd = &cobra.Command{
	Use:   "cycles <file>",
	Short: "List internal call cycles of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, "cycles", func(w *workspace, e *canon.Engine) (any, error) {
			path, err := w.storedPath(args[0])
			if err != nil {
				return nil, err
			}
			cycles, err := e.Query().Cycles(path)
			if err != nil {
				return nil, err
			}
			out := make([]CLICycle, 0, len(cycles))
			for _, c := range cycles {
				out = append(out, CLICycle{Path: c.Path(), IDs: c.IDs, Names: c.Names})
			}
			return out, nil
		})
	},
}

func init() {
	queryComponentsCmd.Flags().IntVar(&flagVersion, "version", 0, "version number (0 = latest)")
	queryViolationsCmd.Flags().IntVar(&flagVersion, "version", 0, "version number (0 = latest)")
	queryProofCmd.Flags().IntVar(&flagVersion, "version", 0, "version number (0 = latest)")
	queryCallsCmd.Flags().BoolVar(&flagCallers, "callers", false, "list incoming edges instead of outgoing")
	queryDriftCmd.Flags().IntVar(&flagFrom, "from", 1, "first version of the range")
	queryDriftCmd.Flags().IntVar(&flagTo, "to", 0, "last version of the range (0 = latest)")

	queryCmd.AddCommand(
		queryComponentsCmd,
		querySegmentCmd,
		queryCallsCmd,
		queryDirectivesCmd,
		querySymbolsCmd,
		queryDriftCmd,
		queryGateCmd,
		queryViolationsCmd,
		queryVersionsCmd,
		queryHistoryCmd,
		queryProofCmd,
		queryCyclesCmd,
	)
}

// runQuery opens the existing store, runs fn and writes its result.
func runQuery(cmd *cobra.Command, command string, fn func(*workspace, *canon.Engine) (any, error)) error {
	name := "query " + command
	w, err := loadWorkspace()
	if err != nil {
		return outputError(cmd, name, err)
	}
	engine, err := w.openExisting()
	if err != nil {
		return outputError(cmd, name, err)
	}
	defer engine.Close()

	result, err := fn(w, engine)
	if err != nil {
		return outputError(cmd, name, fmt.Errorf("%s: %w", command, err))
	}
	return outputResult(cmd, CLIResult{Command: name, Results: result})
}
