package main

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"escrowlock/internal/escrow"
)

type lockOptions struct {
	from         string
	amount       string
	jobID        string
	title        string
	deliverables []string
	yes          bool
}

func NewLockCmd() *cobra.Command {
	opts := &lockOptions{}
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock tokens in escrow for a new job",
		Long: `Checks the balance and the pause flag, submits lock(from, amount) and waits
for the ledger to confirm it. On success the job and its milestones are
recorded; a failed write is queued for the reconciler.

Examples:
  escrowctl lock --amount 25 --title "Logo design" --deliverable sketch --deliverable final
  escrowctl lock --from GABC... --amount 10 --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "Client account (defaults to the configured signer)")
	cmd.Flags().StringVar(&opts.amount, "amount", "", "Whole tokens to lock")
	cmd.Flags().StringVar(&opts.jobID, "job-id", "", "Job identifier (generated when empty)")
	cmd.Flags().StringVar(&opts.title, "title", "", "Job title")
	cmd.Flags().StringArrayVar(&opts.deliverables, "deliverable", nil, "Milestone deliverable (repeatable)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func parseWholeAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a whole number", s)
	}
	return n, nil
}

func runLock(cmd *cobra.Command, opts *lockOptions) error {
	amount, err := parseWholeAmount(opts.amount)
	if err != nil {
		return err
	}

	if !opts.yes && !jsonMode {
		ok, err := confirmLock(opts)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.Workflow.Lock(ctx, escrow.LockRequest{
		CallerAddress: opts.from,
		Amount:        amount,
		JobID:         opts.jobID,
		Title:         opts.title,
		Deliverables:  opts.deliverables,
	})
	if err != nil {
		return commandError(err)
	}

	if jsonMode {
		return printJSON(map[string]any{
			"success":         out.Success,
			"transactionHash": out.TransactionHash,
			"lockedAmount":    out.LockedAmount.String(),
			"jobId":           out.JobID,
			"persisted":       out.Persisted,
		})
	}
	fmt.Printf("Status:      %s\n", color.GreenString("LOCKED"))
	fmt.Printf("Transaction: %s\n", out.TransactionHash)
	fmt.Printf("Amount:      %s (%s base units)\n",
		escrow.FormatUnits(out.LockedAmount, a.Workflow.Settings().AmountScale), out.LockedAmount)
	fmt.Printf("Job:         %s\n", out.JobID)
	if !out.Persisted {
		fmt.Printf("Records:     %s\n", color.YellowString("queued for reconciliation"))
	}
	return nil
}

func confirmLock(opts *lockOptions) (bool, error) {
	from := opts.from
	if from == "" {
		from = "configured signer"
	}
	fmt.Printf("  Amount: %s tokens\n", opts.amount)
	fmt.Printf("  From:   %s\n", from)
	if opts.title != "" {
		fmt.Printf("  Title:  %s\n", opts.title)
	}
	for i, d := range opts.deliverables {
		fmt.Printf("  Milestone %d: %s\n", i+1, d)
	}
	fmt.Println()

	prompt := promptui.Prompt{
		Label:     "Lock these funds",
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
