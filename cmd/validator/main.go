package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/psantana5/fold-orchestrator/cmd/validator/cmd"
	"github.com/psantana5/fold-orchestrator/pkg/scheduler"
)

// exitRestart tells the process manager the validator asked to be restarted
const exitRestart = 3

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, scheduler.ErrStalled) {
			os.Exit(exitRestart)
		}
		os.Exit(1)
	}
}
