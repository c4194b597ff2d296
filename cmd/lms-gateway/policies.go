package main

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"lms-gateway/internal/config"
)

func newPoliciesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Print the effective rate limit policies",
		Long:  "Load the configuration (file + environment), validate every policy and print them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			policies, err := cfg.Policies()
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "POLICY\tWINDOW\tMAX\tRETRY-AFTER\tMESSAGE")
			for _, p := range policies {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%ds\t%s\n", p.Name, p.Window, p.Max, p.RetryAfterSeconds(), p.Message)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return writeTable(cmd.OutOrStdout(), buf.Bytes())
		},
	}
}

// writeTable prints an aligned table with its first line highlighted. The
// colour is applied after alignment so escape codes do not count as width.
func writeTable(out io.Writer, table []byte) error {
	header, rows, _ := bytes.Cut(table, []byte("\n"))
	if _, err := color.New(color.FgCyan, color.Bold).Fprint(out, string(header)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(out); err != nil {
		return err
	}
	_, err := out.Write(rows)
	return err
}
