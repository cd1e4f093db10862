package main

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"

	"github.com/example/go-dnn-primer/internal/tutorial"
)

func main() {
	err := NewRootCmd().Execute()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
	}

	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process status: 2 when every failure
// is an accuracy check, 1 for anything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	for _, e := range multierr.Errors(err) {
		if !errors.Is(e, tutorial.ErrAccuracyCheck) {
			return 1
		}
	}

	return 2
}
