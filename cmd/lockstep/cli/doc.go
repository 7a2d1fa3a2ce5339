// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the lockstep
// binary: a tree of [Command] values with pflag-parsed flags, typo
// suggestions for unknown commands and flags, and a logger that picks
// its output format from whether stderr is a terminal.
package cli
