package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const appName = "feedback-mcp"

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

type rootOptions struct {
	debug    bool
	httpAddr string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "MCP server that pauses a tool call until a human answers in the browser",
		Long: appName + " exposes the collect_feedback tool over MCP. Each call opens a " +
			"feedback page, waits for the respondent's text and files, and returns them to the caller.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	addHTTPFlag(rootCmd, opts)

	rootCmd.AddCommand(
		newServeCmd(opts),
		newVersionCmd(),
		newPortsCmd(opts),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, version)
			return err
		},
	}
}
