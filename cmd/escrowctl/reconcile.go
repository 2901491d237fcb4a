package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"escrowlock/internal/reconcile"
)

var reconcileOnce bool

func NewReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Write queued job records for confirmed locks",
		Long: `Drains the record outbox. With --once a single pass is made and summarised;
otherwise passes repeat on the configured interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runReconcile,
	}
	cmd.Flags().BoolVar(&reconcileOnce, "once", false, "Run a single pass and exit")
	return cmd
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !reconcileOnce {
		a.Reconciler.OnPass = func(res reconcile.Result) {
			if !jsonMode && res != (reconcile.Result{}) {
				printPass(res)
			}
		}
		err := a.Reconciler.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	res, err := a.Reconciler.RunOnce(ctx)
	if err != nil {
		return err
	}
	if jsonMode {
		return printJSON(res)
	}
	printPass(res)
	return nil
}

func printPass(res reconcile.Result) {
	stuck := fmt.Sprint(res.Stuck)
	if res.Stuck > 0 {
		stuck = color.RedString("%d", res.Stuck)
	}
	fmt.Printf("applied=%s retried=%d dropped=%d stuck=%s remaining=%d\n",
		color.GreenString("%d", res.Applied), res.Retried, res.Dropped, stuck, res.Depth)
}
