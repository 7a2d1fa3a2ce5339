// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Command lockstep drives Lockstep watch-party sessions from the
// terminal. Its demo runs a host and several guests in one process
// against simulated media players.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lockstep-party/lockstep/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCommand().Execute(ctx, os.Args[1:])
}
