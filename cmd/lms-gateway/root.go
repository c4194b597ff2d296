package main

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	gitCommit = "unknown"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "lms-gateway",
		Short: "Rate limiting gateway for the LMS API",
		Long: `lms-gateway sits in front of the LMS REST API and applies fixed-window
rate limits per client, route and policy ("auth", "general", "strict").
Counters live in memory, Redis or PostgreSQL; when the counter store is
unavailable requests are let through.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to lms-gateway.yaml")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newPoliciesCommand(opts))
	rootCmd.AddCommand(newCountersCommand(opts))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			title := color.New(color.FgCyan, color.Bold)
			out := cmd.OutOrStdout()

			title.Fprint(out, "lms-gateway version: ")
			fmt.Fprintln(out, version)
			title.Fprint(out, "Git commit: ")
			fmt.Fprintln(out, gitCommit)
			title.Fprint(out, "Go version: ")
			fmt.Fprintln(out, runtime.Version())
		},
	}
}
