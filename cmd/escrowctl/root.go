package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"escrowlock/internal/app"
	"escrowlock/internal/config"
	"escrowlock/internal/escrow"
	"escrowlock/internal/log"
)

var (
	configPath string
	jsonMode   bool
	noColor    bool
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escrowctl",
		Short: "Operate the escrow lock workflow from the command line",
		Long: `escrowctl talks to the escrow contract with the same configuration as the
lock service. Without a chain.rpcUrl it runs against an in-memory ledger.

Examples:
  # Show the balance of an account
  escrowctl balance GABC...

  # Lock 25 tokens from the configured signer
  escrowctl lock --amount 25 --title "Logo design" --deliverable sketch --deliverable final

  # Drain the record outbox once
  escrowctl reconcile --once`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&jsonMode, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(
		NewBalanceCmd(),
		NewPausedCmd(),
		NewLockCmd(),
		NewCallCmd(),
		NewReconcileCmd(),
	)
	return cmd
}

// openApp loads the configuration and builds the workflow. Callers must Close
// the returned App.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log.Init(cfg.Log)
	return app.Build(ctx, cfg, app.Options{SkipIdempotency: true})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportedError marks an error that was already printed.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// commandError prints err for a human, rendering workflow errors with their
// user message, and returns it marked as reported.
func commandError(err error) error {
	if err == nil {
		return nil
	}
	if jsonMode {
		_ = printJSON(map[string]string{"error": string(escrow.KindOf(err)), "message": err.Error()})
		return reportedError{err}
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), escrow.Describe(err))
	if kind := escrow.KindOf(err); kind != "" {
		fmt.Fprintf(os.Stderr, "       %s\n", color.New(color.Faint).Sprint(err.Error()))
	}
	return reportedError{err}
}
