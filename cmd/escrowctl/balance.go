package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"escrowlock/internal/escrow"
)

func NewBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Show the token balance of an account",
		Long: `Reads the token balance through a simulated contract call.

Examples:
  escrowctl balance GABC...
  escrowctl balance GABC... --json`,
		Args: cobra.ExactArgs(1),
		RunE: runBalance,
	}
}

func runBalance(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	address := args[0]
	bal, err := a.Workflow.Balance(ctx, address)
	if err != nil {
		return commandError(err)
	}
	amount := escrow.FormatUnits(bal, a.Workflow.Settings().AmountScale)

	if jsonMode {
		return printJSON(map[string]string{"address": address, "baseUnits": bal.String(), "amount": amount})
	}
	fmt.Printf("Address:    %s\n", address)
	fmt.Printf("Balance:    %s\n", color.GreenString(amount))
	fmt.Printf("Base units: %s\n", bal.String())
	return nil
}
