// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the access-token handshake every Lockstep
// connection runs before any other packet is processed.
//
// The joining side ([Prover]) sends AUTH_TOKEN carrying its username
// and the session's access token. The hosting side ([Verifier]) waits
// for that packet, checks its shape and compares the token in constant
// time. On success it answers AUTH_ACK and learns the username; on any
// failure it answers nothing, and the caller closes the connection.
// The prover treats anything but a timely AUTH_ACK as rejection.
//
// Access tokens never appear in logs. [Fingerprint] gives a short,
// stable identifier for correlating log lines about the same token.
package auth
