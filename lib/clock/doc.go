// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock time so that every timeout,
// heartbeat, and drift computation in Lockstep can be driven
// deterministically in tests.
//
// Components hold a Clock field. Production wiring passes Real();
// tests pass Fake(epoch) and move time forward with Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	conn := peer.NewConnection(link, peer.ConnectionOptions{Clock: c})
//	go conn.Expect(ctx, 5*time.Second)
//	c.WaitForTimers(1)         // the Expect deadline is registered
//	c.Advance(5 * time.Second) // and now it fires
//
// Playback positions on the wire are milliseconds since the Unix
// epoch; UnixMilli converts a Clock reading to that representation.
package clock
