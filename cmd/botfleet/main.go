package main

import (
	"fmt"
	"os"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
)

func main() {
	root, a := newRootCommand()
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to process exit codes.
func exitCode(err error) int {
	switch fleeterrors.KindOf(err) {
	case fleeterrors.KindValidation:
		return 2
	case fleeterrors.KindNotFound:
		return 3
	case fleeterrors.KindInvalidTransition:
		return 4
	}
	return 1
}
