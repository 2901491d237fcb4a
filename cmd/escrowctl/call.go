package main

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/spf13/cobra"

	"escrowlock/internal/scval"
)

var callCaller string

func NewCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <method> [args...]",
		Short: "Simulate a read-only contract method",
		Long: `Encodes the arguments and simulates the method without submitting anything.

Arguments are typed by their text: true/false become booleans, integers
become u32 when they fit and i128 otherwise, account and contract strkeys
become addresses, reserved status tags become symbols, and everything else
is passed as a string.

Examples:
  escrowctl call balance GABC...
  escrowctl call paused --caller GABC...
  escrowctl call get_job 42`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCall,
	}
	cmd.Flags().StringVar(&callCaller, "caller", "", "Account to simulate from (defaults to the configured signer)")
	return cmd
}

// parseCLIArg turns one command line token into the native value the codec
// expects.
func parseCLIArg(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n
	}
	return s
}

func runCall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	native := make([]any, 0, len(args)-1)
	for _, s := range args[1:] {
		native = append(native, parseCLIArg(s))
	}
	values, err := scval.NewCodec(a.Config.Chain.ReservedSymbols).Encode(native...)
	if err != nil {
		return err
	}

	caller := callCaller
	if caller == "" && a.Wallet != nil {
		if caller, err = a.Wallet.Address(ctx); err != nil {
			return commandError(err)
		}
	}

	if jsonMode {
		native, err := a.Workflow.InvokeNative(ctx, args[0], values, caller)
		if err != nil {
			return commandError(err)
		}
		return printJSON(map[string]any{"method": args[0], "result": native})
	}
	result, err := a.Workflow.Invoke(ctx, args[0], values, caller)
	if err != nil {
		return commandError(err)
	}
	if result == nil {
		fmt.Println("void")
		return nil
	}
	fmt.Println(result.String())
	return nil
}
