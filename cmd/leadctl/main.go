// leadctl is the operator CLI for the funnel.
//
// Usage:
//
//	leadctl fallback list [--dir=<path>]...
//	leadctl fallback show <file> [--format=json|yaml]
//	leadctl wizard --server=<url>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "leadctl",
		Short: "Inspect saved leads and drive the pre-screening wizard",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage: true,
		Version:      version,
	}
	root.AddCommand(newFallbackCmd())
	root.AddCommand(newWizardCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
