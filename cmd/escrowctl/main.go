// Command escrowctl is an operator tool for the escrow lock workflow: read
// balances and the pause flag, run a lock, invoke read-only contract methods
// and drain the record outbox.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
