// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lockstep-party/lockstep/protocol"
)

// ResponseTimeout bounds each wait in the handshake.
const ResponseTimeout = 5 * time.Second

// ErrRejected is wrapped by every handshake failure.
var ErrRejected = errors.New("authentication rejected")

// Conn is the part of a peer connection the handshake uses.
type Conn interface {
	RemoteID() string
	SendPayload(protocol.Payload) error
	Expect(ctx context.Context, timeout time.Duration) (protocol.Packet, error)
}

// Options configures a Verifier or Prover.
type Options struct {
	// Timeout bounds the wait for the other side's packet. Defaults
	// to ResponseTimeout.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = ResponseTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Verifier checks joining peers against one access token.
type Verifier struct {
	token   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewVerifier returns a Verifier for token.
func NewVerifier(token string, options Options) *Verifier {
	options = options.withDefaults()
	return &Verifier{
		token:   token,
		timeout: options.Timeout,
		logger:  options.Logger.With("token", Fingerprint(token)),
	}
}

// AccessToken returns the token joining peers must present.
func (v *Verifier) AccessToken() string {
	return v.token
}

// Verify runs the verifier side of the handshake on conn and returns
// the authenticated username. On failure nothing is sent and the
// caller should close conn.
func (v *Verifier) Verify(ctx context.Context, conn Conn) (string, error) {
	logger := v.logger.With("remote", conn.RemoteID())

	packet, err := conn.Expect(ctx, v.timeout)
	if err != nil {
		logger.Warn("no auth token received", "error", err)
		return "", fmt.Errorf("%w: waiting for token: %w", ErrRejected, err)
	}
	if packet.Type != protocol.TypeAuthToken {
		logger.Warn("expected auth token", "packet", packet.Type)
		return "", fmt.Errorf("%w: expected %s, got %s", ErrRejected, protocol.TypeAuthToken, packet.Type)
	}
	var presented protocol.AuthToken
	if err := packet.Decode(&presented); err != nil {
		logger.Warn("malformed auth token", "error", err)
		return "", fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if subtle.ConstantTimeCompare([]byte(presented.Token), []byte(v.token)) != 1 {
		logger.Warn("wrong access token",
			"username", presented.Username, "presented", Fingerprint(presented.Token))
		return "", fmt.Errorf("%w: wrong access token from %q", ErrRejected, presented.Username)
	}

	if err := conn.SendPayload(&protocol.AuthAck{}); err != nil {
		return "", fmt.Errorf("acknowledging %q: %w", presented.Username, err)
	}
	logger.Info("peer authenticated", "username", presented.Username)
	return presented.Username, nil
}

// Prover presents a username and access token to a host.
type Prover struct {
	username string
	token    string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProver returns a Prover for username holding token.
func NewProver(username, token string, options Options) *Prover {
	options = options.withDefaults()
	return &Prover{
		username: username,
		token:    token,
		timeout:  options.Timeout,
		logger:   options.Logger.With("token", Fingerprint(token)),
	}
}

// AccessToken returns the token this Prover presents.
func (p *Prover) AccessToken() string {
	return p.token
}

// Authenticate runs the prover side of the handshake on conn.
func (p *Prover) Authenticate(ctx context.Context, conn Conn) error {
	logger := p.logger.With("remote", conn.RemoteID())

	if err := conn.SendPayload(&protocol.AuthToken{Username: p.username, Token: p.token}); err != nil {
		return fmt.Errorf("%w: sending token: %w", ErrRejected, err)
	}
	packet, err := conn.Expect(ctx, p.timeout)
	if err != nil {
		logger.Warn("no auth acknowledgement", "error", err)
		return fmt.Errorf("%w: waiting for ack: %w", ErrRejected, err)
	}
	if packet.Type != protocol.TypeAuthAck {
		logger.Warn("expected auth acknowledgement", "packet", packet.Type)
		return fmt.Errorf("%w: expected %s, got %s", ErrRejected, protocol.TypeAuthAck, packet.Type)
	}
	logger.Debug("authenticated with host")
	return nil
}
