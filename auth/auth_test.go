// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/lib/codec"
	"github.com/lockstep-party/lockstep/lib/testutil"
	"github.com/lockstep-party/lockstep/peer"
	"github.com/lockstep-party/lockstep/protocol"
	"github.com/lockstep-party/lockstep/transport"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// connectedPair returns the two ends of an in-memory connection: the
// end accepted by "peerA" and the end dialed by the guest.
func connectedPair(t *testing.T, clk clock.Clock) (host, guest *peer.Connection) {
	t.Helper()
	network := transport.NewMemoryNetwork()
	hostConnections := make(chan *peer.Connection, 1)
	guestConnections := make(chan *peer.Connection, 1)

	hostTransport, err := network.NewTransportWithID("peerA")
	if err != nil {
		t.Fatal(err)
	}
	hostPeer := peer.New(hostTransport, func(c *peer.Connection) { hostConnections <- c },
		peer.Options{Clock: clk, Logger: quietLogger()})
	hostPeer.Listen()
	guestPeer := peer.New(network.NewTransport(), func(c *peer.Connection) { guestConnections <- c },
		peer.Options{Clock: clk, Logger: quietLogger()})
	t.Cleanup(func() {
		guestPeer.Close()
		hostPeer.Close()
	})

	if err := guestPeer.ConnectTo(context.Background(), "peerA"); err != nil {
		t.Fatalf("ConnectTo: %v", err)
	}
	host = testutil.RequireReceive(t, hostConnections, 5*time.Second, "host side of connection")
	guest = testutil.RequireReceive(t, guestConnections, 5*time.Second, "guest side of connection")
	return host, guest
}

// scriptedConn replays canned inbound packets and records what is
// sent.
type scriptedConn struct {
	inbound []protocol.Packet
	sent    []protocol.Packet
}

func (c *scriptedConn) RemoteID() string { return "scripted" }

func (c *scriptedConn) SendPayload(payload protocol.Payload) error {
	packet, err := protocol.New(payload)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, packet)
	return nil
}

func (c *scriptedConn) Expect(context.Context, time.Duration) (protocol.Packet, error) {
	if len(c.inbound) == 0 {
		return protocol.Packet{}, peer.ErrTimeout
	}
	packet := c.inbound[0]
	c.inbound = c.inbound[1:]
	return packet, nil
}

func mustParse(t *testing.T, fields map[string]any) protocol.Packet {
	t.Helper()
	data, err := codec.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	packet, err := protocol.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return packet
}

func TestHandshakeSucceeds(t *testing.T) {
	host, guest := connectedPair(t, clock.Real())
	verifier := NewVerifier("tok123", Options{Logger: quietLogger()})
	prover := NewProver("Bob", "tok123", Options{Logger: quietLogger()})

	type verifyResult struct {
		username string
		err      error
	}
	result := make(chan verifyResult, 1)
	go func() {
		username, err := verifier.Verify(context.Background(), host)
		result <- verifyResult{username, err}
	}()

	if err := prover.Authenticate(context.Background(), guest); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	verified := testutil.RequireReceive(t, result, 5*time.Second, "waiting for Verify")
	if verified.err != nil {
		t.Fatalf("Verify: %v", verified.err)
	}
	if verified.username != "Bob" {
		t.Fatalf("username = %q, want Bob", verified.username)
	}
}

func TestWrongTokenNeverAcknowledged(t *testing.T) {
	for _, presented := range []string{"wrong", "", "tok12", "tok1234", "TOK123"} {
		t.Run(presented, func(t *testing.T) {
			conn := &scriptedConn{inbound: []protocol.Packet{
				protocol.MustNew(&protocol.AuthToken{Username: "Mallory", Token: presented}),
			}}
			_, err := NewVerifier("tok123", Options{Logger: quietLogger()}).Verify(context.Background(), conn)
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("Verify error = %v, want ErrRejected", err)
			}
			if len(conn.sent) != 0 {
				t.Fatalf("verifier sent %v after a wrong token", conn.sent)
			}
		})
	}
}

func TestProverTimesOutWithoutAck(t *testing.T) {
	fake := clock.Fake(epoch)
	host, guest := connectedPair(t, fake)
	verifier := NewVerifier("tok123", Options{Logger: quietLogger()})
	prover := NewProver("Bob", "wrong", Options{Logger: quietLogger()})

	verifyErr := make(chan error, 1)
	go func() {
		_, err := verifier.Verify(context.Background(), host)
		verifyErr <- err
	}()
	proveErr := make(chan error, 1)
	go func() {
		proveErr <- prover.Authenticate(context.Background(), guest)
	}()

	if err := testutil.RequireReceive(t, verifyErr, 5*time.Second, "waiting for Verify"); !errors.Is(err, ErrRejected) {
		t.Fatalf("Verify error = %v, want ErrRejected", err)
	}

	fake.WaitForTimers(1)
	fake.Advance(ResponseTimeout)
	err := testutil.RequireReceive(t, proveErr, 5*time.Second, "waiting for Authenticate")
	if !errors.Is(err, ErrRejected) || !errors.Is(err, peer.ErrTimeout) {
		t.Fatalf("Authenticate error = %v, want ErrRejected wrapping ErrTimeout", err)
	}
}

func TestVerifierTimesOut(t *testing.T) {
	fake := clock.Fake(epoch)
	host, _ := connectedPair(t, fake)
	verifier := NewVerifier("tok123", Options{Logger: quietLogger()})

	result := make(chan error, 1)
	go func() {
		_, err := verifier.Verify(context.Background(), host)
		result <- err
	}()
	fake.WaitForTimers(1)
	fake.Advance(ResponseTimeout)

	err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for Verify")
	if !errors.Is(err, peer.ErrTimeout) {
		t.Fatalf("Verify error = %v, want ErrTimeout", err)
	}
}

func TestVerifierRejectsBadPackets(t *testing.T) {
	tests := []struct {
		name   string
		packet func(t *testing.T) protocol.Packet
	}{
		{"wrong type", func(*testing.T) protocol.Packet {
			return protocol.MustNew(&protocol.PauseMedia{Time: 1})
		}},
		{"missing token", func(t *testing.T) protocol.Packet {
			return mustParse(t, map[string]any{"type": int(protocol.TypeAuthToken), "username": "Bob"})
		}},
		{"token not a string", func(t *testing.T) protocol.Packet {
			return mustParse(t, map[string]any{"type": int(protocol.TypeAuthToken), "username": "Bob", "token": 123})
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conn := &scriptedConn{inbound: []protocol.Packet{test.packet(t)}}
			_, err := NewVerifier("tok123", Options{Logger: quietLogger()}).Verify(context.Background(), conn)
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("Verify error = %v, want ErrRejected", err)
			}
			if len(conn.sent) != 0 {
				t.Fatalf("verifier sent %v after a bad packet", conn.sent)
			}
		})
	}
}

func TestProverRejectsWrongReply(t *testing.T) {
	conn := &scriptedConn{inbound: []protocol.Packet{
		protocol.MustNew(&protocol.SessionUpdate{Host: "Alice", Guests: []string{"Bob"}}),
	}}
	err := NewProver("Bob", "tok123", Options{Logger: quietLogger()}).Authenticate(context.Background(), conn)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Authenticate error = %v, want ErrRejected", err)
	}
	if len(conn.sent) != 1 || conn.sent[0].Type != protocol.TypeAuthToken {
		t.Fatalf("sent = %v, want one AUTH_TOKEN", conn.sent)
	}
}

func TestGenerateAccessToken(t *testing.T) {
	first, err := GenerateAccessToken()
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	second, err := GenerateAccessToken()
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	if len(first) != 24 {
		t.Errorf("token length = %d, want 24", len(first))
	}
	raw, err := base64.StdEncoding.DecodeString(first)
	if err != nil || len(raw) != TokenBytes {
		t.Errorf("token decodes to %d bytes (%v), want %d", len(raw), err, TokenBytes)
	}
	if first == second {
		t.Error("two generated tokens are equal")
	}
}

func TestFingerprint(t *testing.T) {
	fingerprint := Fingerprint("tok123")
	if len(fingerprint) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(fingerprint))
	}
	if Fingerprint("tok123") != fingerprint {
		t.Error("fingerprint is not deterministic")
	}
	if Fingerprint("tok124") == fingerprint {
		t.Error("different tokens share a fingerprint")
	}
	if strings.Contains(fingerprint, "tok123") {
		t.Error("fingerprint contains the token")
	}
}
