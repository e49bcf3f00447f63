package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// outputResult marshals a CLIResult to the command's output in the
// selected format.
func outputResult(cmd *cobra.Command, result CLIResult) error {
	w := cmd.OutOrStdout()
	if flagFormat == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(cmd *cobra.Command, command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLIIngest:
		formatIngestText(w, v)
	case []CLIComponent:
		formatComponentsText(w, v)
	case CLISegment:
		fmt.Fprintln(w, v.Text)
	case []CLICallEdge:
		formatCallEdgesText(w, v)
	case []CLIDirective:
		formatDirectivesText(w, v)
	case []CLISymbol:
		formatSymbolsText(w, v)
	case []CLIDriftEvent:
		formatDriftText(w, v)
	case []CLIViolation:
		formatViolationsText(w, v)
	case CLIGate:
		fmt.Fprintf(w, "%s v%d: %s (%d errors, %d warnings)\n", v.Path, v.Version, v.Status, v.Errors, v.Warnings)
	case []CLIVersion:
		formatVersionsText(w, v)
	case []CLIHistory:
		formatHistoryText(w, v)
	case CLIProof:
		fmt.Fprintf(w, "v%d: %s (structural=%t raw=%t)\n", v.Version, v.Status, v.StructuralMatch, v.RawMatch)
	case []CLICycle:
		for _, c := range v {
			fmt.Fprintln(w, c.Path)
		}
	case CLIReadiness:
		formatReadinessText(w, v)
	case nil:
		// No output for nil results (e.g., an unknown path).
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

func formatIngestText(w io.Writer, results []CLIIngest) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tVERSION\tCOMPONENTS\tCHANGES\tPROOF\tGATE\tUNRESOLVED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%d\n",
			r.Path, r.Version, r.ComponentCount, r.ChangeSummary, r.ProofStatus, r.Gate, r.UnresolvedCalls)
	}
	tw.Flush()
}

func formatComponentsText(w io.Writer, comps []CLIComponent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tLINES\tFAN_IN\tFAN_OUT")
	for _, c := range comps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d-%d\t%d\t%d\n",
			c.ID, c.QualifiedName, c.Kind, c.StartLine, c.EndLine, c.FanIn, c.FanOut)
	}
	tw.Flush()
}

func formatCallEdgesText(w io.Writer, edges []CLICallEdge) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tTARGET\tTEXT\tLINE")
	for _, e := range edges {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.Kind, e.ResolvedName, e.CalleeText, e.Line)
	}
	tw.Flush()
}

func formatDirectivesText(w io.Writer, dirs []CLIDirective) {
	for _, d := range dirs {
		fmt.Fprintf(w, "@%s (confidence %.2f, line %d)\n", d.Name, d.Confidence, d.Line)
	}
}

func formatSymbolsText(w io.Writer, syms []CLISymbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCOPE\tACCESS\tLINE")
	for _, s := range syms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.Name, s.ScopeLevel, s.Access, s.DeclLine)
	}
	tw.Flush()
}

func formatDriftText(w io.Writer, events []CLIDriftEvent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCOMPONENT\tCATEGORY\tSEVERITY\tDESCRIPTION")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Version, e.QualifiedName, e.Category, e.Severity, e.Description)
	}
	tw.Flush()
}

func formatViolationsText(w io.Writer, violations []CLIViolation) {
	for _, v := range violations {
		fmt.Fprintf(w, "%s %s: %s\n", v.Severity, v.Rule, v.Description)
	}
}

func formatVersionsText(w io.Writer, versions []CLIVersion) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tINGESTED\tCOMPONENTS\tCHANGES")
	for _, v := range versions {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", v.Number, v.IngestedAt.Format("2006-01-02 15:04:05"), v.ComponentCount, v.ChangeSummary)
	}
	tw.Flush()
}

func formatHistoryText(w io.Writer, history []CLIHistory) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCOMPONENT\tKIND\tCLASSIFICATION")
	for _, h := range history {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", h.Version, h.QualifiedName, h.Kind, h.Classification)
	}
	tw.Flush()
}

func formatReadinessText(w io.Writer, r CLIReadiness) {
	fmt.Fprintf(w, "%s v%d: gate %s, threshold %.2f\n", r.Path, r.Version, r.Gate, r.Threshold)
	if len(r.Components) == 0 {
		fmt.Fprintln(w, "No eligible components")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSCORE\tFAN_IN\tFAN_OUT\tDIRECTIVES")
	for _, c := range r.Components {
		names := make([]string, len(c.Directives))
		for i, d := range c.Directives {
			names[i] = "@" + d.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%d\t%s\n",
			c.QualifiedName, c.Kind, c.Score, c.FanIn, c.FanOut, strings.Join(names, " "))
	}
	tw.Flush()
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
