package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/feedback-mcp/internal/coordinator/config"
	"github.com/AltairaLabs/feedback-mcp/internal/logging"
	"github.com/AltairaLabs/feedback-mcp/internal/metrics"
)

func newPortsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Diagnose the respondent port",
	}
	cmd.AddCommand(newPortsInspectCmd(opts), newPortsFindCmd(opts))
	return cmd
}

func newPortsInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [port]",
		Short: "Show whether a port is free, who holds it, and whether it may be reclaimed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.Debug || opts.debug)

			port := cfg.WebPort
			if len(args) == 1 {
				if port, err = parsePort(args[0]); err != nil {
					return err
				}
			}

			classifier, err := loadClassifier(cfg)
			if err != nil {
				return err
			}
			n, err := newNegotiator(cfg, classifier, metrics.Nop{})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			rec := n.Inspect(ctx, port)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "port: %d\navailable: %t\n", rec.Port, rec.Available)
			if rec.Occupant == nil {
				fmt.Fprintln(out, "occupant: none")
				return nil
			}
			fmt.Fprintf(out, "occupant: pid=%d name=%s\ncommand: %s\nsafe to terminate: %t\n",
				rec.Occupant.PID, rec.Occupant.Name, rec.Occupant.Command,
				classifier.IsSafeToTerminate(*rec.Occupant))
			return nil
		},
	}
}

func newPortsFindCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "find [preferred]",
		Short: "Print the port the server would bind in first-available mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.Debug || opts.debug)

			preferred := cfg.WebPort
			if len(args) == 1 {
				if preferred, err = parsePort(args[0]); err != nil {
					return err
				}
			}

			classifier, err := loadClassifier(cfg)
			if err != nil {
				return err
			}
			n, err := newNegotiator(cfg, classifier, metrics.Nop{})
			if err != nil {
				return err
			}
			port, err := n.FindAvailable(cmd.Context(), preferred)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), port)
			return err
		},
	}
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q: must be 1-65535", s)
	}
	return port, nil
}
