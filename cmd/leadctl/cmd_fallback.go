package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trialreach/funnel/internal/fallback"
)

func defaultDirs() []string {
	dir := os.Getenv("LEADS_DIR")
	if dir == "" {
		dir = "leads"
	}
	return []string{dir, fallback.TempStore()}
}

func newFallbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fallback",
		Short: "Inspect leads saved when the CRM was unavailable",
	}
	cmd.AddCommand(newFallbackListCmd())
	cmd.AddCommand(newFallbackShowCmd())
	return cmd
}

func newFallbackListCmd() *cobra.Command {
	var dirs []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved leads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(dirs) == 0 {
				dirs = defaultDirs()
			}
			entries, err := fallback.List(dirs...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No saved leads in %s\n", strings.Join(dirs, ", "))
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SAVED AT\tKIND\tSIZE\tPATH")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.SavedAt.Format(time.RFC3339), e.Kind, e.Size, e.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "Directory to scan (repeatable; default: $LEADS_DIR and the temp store)")
	return cmd
}

func newFallbackShowCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <file>",
		Short: "Pretty-print one saved lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveFile(args[0])
			if err != nil {
				return err
			}
			rec, err := fallback.Read(path)
			if err != nil {
				return err
			}
			return printRecord(cmd, rec, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	return cmd
}

// resolveFile accepts a path or a bare file name from one of the default
// stores.
func resolveFile(name string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	if filepath.Base(name) == name {
		for _, dir := range defaultDirs() {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%s: %w", name, fs.ErrNotExist)
}

type recordView struct {
	Kind    string    `json:"kind" yaml:"kind"`
	SavedAt time.Time `json:"savedAt" yaml:"savedAt"`
	Error   string    `json:"error,omitempty" yaml:"error,omitempty"`
	Payload any       `json:"payload" yaml:"payload"`
}

func printRecord(cmd *cobra.Command, rec fallback.Record, format string) error {
	view := recordView{Kind: rec.Kind, SavedAt: rec.SavedAt, Error: rec.Error}
	if err := json.Unmarshal(rec.Payload, &view.Payload); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	}
	return errors.New("format must be json or yaml")
}
