// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Fatal reports err on stderr and exits. An interrupted run (context
// canceled by a signal) exits 130 without the error line. An error
// carrying its own exit code (ExitCode() int) exits with that code,
// also without the error line.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
