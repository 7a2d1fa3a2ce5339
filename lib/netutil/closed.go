// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies errors returned by stream and datagram
// I/O on peer links.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is how a read or write
// ends when either side closes the link normally: EOF, a closed
// connection, a broken pipe, or a reset. Callers treat these as an
// orderly close and do not log them as failures.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
