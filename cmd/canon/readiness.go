package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/canon"
)

var readinessCmd = &cobra.Command{
	Use:   "readiness <file>",
	Short: "List the components of a file eligible for extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStored(cmd, "readiness", args[0], func(e *canon.Engine, path string) (any, error) {
			r, err := e.Readiness(cmd.Context(), path)
			if err != nil || r == nil {
				return nil, err
			}
			return readinessToCLI(r), nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Rebuild the latest version of a file from the store and prove it",
	Long:  "Reassembles the stored segments and formatting hints of the latest version and compares the result against the stored hashes. Exits non-zero when the proof fails.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStored(cmd, "verify", args[0], func(e *canon.Engine, path string) (any, error) {
			p, err := e.Reverify(cmd.Context(), path)
			if err != nil {
				return nil, err
			}
			if p == nil {
				return nil, fmt.Errorf("no stored version of %s", path)
			}
			if p.Status == canon.ProofFail {
				if err := outputResult(cmd, CLIResult{Command: "verify", Results: proofToCLI(p)}); err != nil {
					return nil, err
				}
				errorHandled = true
				return nil, fmt.Errorf("%s v%d does not rebuild", path, p.VersionNumber)
			}
			return proofToCLI(p), nil
		})
	},
}

// runStored opens the existing store, maps file to its stored path, runs fn
// and writes its result.
func runStored(cmd *cobra.Command, command, file string, fn func(*canon.Engine, string) (any, error)) error {
	w, err := loadWorkspace()
	if err != nil {
		return outputError(cmd, command, err)
	}
	path, err := w.storedPath(file)
	if err != nil {
		return outputError(cmd, command, err)
	}
	engine, err := w.openExisting()
	if err != nil {
		return outputError(cmd, command, err)
	}
	defer engine.Close()

	result, err := fn(engine, path)
	if err != nil {
		if errorHandled {
			return err
		}
		return outputError(cmd, command, err)
	}
	return outputResult(cmd, CLIResult{Command: command, Results: result})
}
