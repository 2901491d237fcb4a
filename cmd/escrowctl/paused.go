package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var pausedCaller string

func NewPausedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paused",
		Short: "Show whether the escrow contract is paused",
		Long: `Simulates the contract's paused() method. The simulation needs a funded
source account; --caller defaults to the configured signer.`,
		Args: cobra.NoArgs,
		RunE: runPaused,
	}
	cmd.Flags().StringVar(&pausedCaller, "caller", "", "Account to simulate from")
	return cmd
}

func runPaused(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	caller := pausedCaller
	if caller == "" && a.Wallet != nil {
		if caller, err = a.Wallet.Address(ctx); err != nil {
			return commandError(err)
		}
	}
	if caller == "" {
		return fmt.Errorf("--caller is required when no signer is configured")
	}

	paused, err := a.Workflow.Paused(ctx, caller)
	if err != nil {
		return commandError(err)
	}
	if jsonMode {
		return printJSON(map[string]bool{"paused": paused})
	}
	if paused {
		fmt.Printf("Contract: %s\n", color.YellowString("paused"))
	} else {
		fmt.Printf("Contract: %s\n", color.GreenString("active"))
	}
	return nil
}
