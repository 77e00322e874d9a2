// Genforge turns a plain-language specification into a generated project.
//
// The generate command drives an LLM through manifest, interface, code,
// test, docs and run-script stages, reviews and fixes the code, runs it in
// a sandbox and persists the result into a timestamped directory.
//
// Configuration is read from ~/.config/genforge/config.yaml (or --config),
// then GENFORGE_* environment variables. A .env file in the working
// directory is loaded first when present.
//
// Usage:
//
//	# Generate a project
//	genforge generate spec.txt
//
//	# Without the feature prompt
//	genforge generate --interactive=false spec.txt
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var nf *specNotFoundError
		if errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "Error: Specification file '%s' not found.\n", nf.path)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "genforge",
		Short: "Generate a project from a specification",
		Long: `genforge generates a small software project from a plain-language
specification: interface, implementation, tests, docs and a run script.
The implementation is reviewed, executed and fixed before it is persisted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "genforge by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
