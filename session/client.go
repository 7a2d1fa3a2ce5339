// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/lockstep-party/lockstep/auth"
	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/mediasync"
	"github.com/lockstep-party/lockstep/peer"
	"github.com/lockstep-party/lockstep/protocol"
	"github.com/lockstep-party/lockstep/transport"
)

// ClientHandler runs the guest role: one authenticated link to the
// host, roster tracking, and the media sync client.
type ClientHandler struct {
	session  *Session
	username string
	hostID   string
	prover   *auth.Prover
	peer     *peer.Peer
	page     Page
	options  Options
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// publishMu keeps status snapshots in the order they were taken.
	publishMu sync.Mutex

	mu      sync.Mutex
	state   ConnectionState
	host    string
	guests  []string
	timer   *clock.Timer
	media   *mediasync.Client
	stopped bool
}

// NewClientHandler attaches a guest role to session. The handler owns
// t and closes it when the session closes. page may be nil.
func NewClientHandler(session *Session, username, hostID, accessToken string, t transport.Transport, page Page, options Options) *ClientHandler {
	options.Logger = session.Logger()
	options = options.withDefaults()
	logger := options.Logger.With("role", TypeClient.String(), "host_id", hostID)

	ctx, cancel := context.WithCancel(context.Background())
	c := &ClientHandler{
		session:  session,
		username: username,
		hostID:   hostID,
		prover:   auth.NewProver(username, accessToken, options.authOptions(logger)),
		page:     page,
		options:  options,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    Connecting,
		guests:   []string{username},
	}
	c.peer = peer.New(t, c.onConnection, options.peerOptions(logger))
	session.Attach(c)
	return c
}

// State returns the connection state.
func (c *ClientHandler) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Media returns the media sync client once authenticated, or nil.
func (c *ClientHandler) Media() *mediasync.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media
}

// Start posts a Connecting status and dials the host. The session
// closes with Timeout unless the link opens within the connection
// timeout. A failed dial is left to that timer.
func (c *ClientHandler) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.timer = c.options.Clock.AfterFunc(c.options.ConnectionTimeout, c.connectionTimedOut)
	c.mu.Unlock()

	c.postStatus()
	if err := c.peer.ConnectTo(ctx, c.hostID); err != nil {
		c.logger.Warn("dialing host", "error", err)
	}
	return nil
}

// Stop abandons the link and the media sync client.
func (c *ClientHandler) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.state = Disconnected
	timer, media := c.timer, c.media
	c.timer, c.media = nil, nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if media != nil {
		media.Stop()
	}
	c.cancel()
	if err := c.peer.Close(); err != nil {
		c.logger.Debug("closing peer", "error", err)
	}
}

func (c *ClientHandler) connectionTimedOut() {
	c.mu.Lock()
	connecting := c.state == Connecting && !c.stopped
	c.mu.Unlock()
	if connecting {
		c.logger.Warn("host link did not open", "timeout", c.options.ConnectionTimeout)
		c.session.Close(protocol.ReasonTimeout)
	}
}

func (c *ClientHandler) onConnection(conn *peer.Connection) {
	c.mu.Lock()
	if c.state != Connecting || c.stopped {
		c.mu.Unlock()
		c.logger.Warn("refusing extra connection", "remote", conn.RemoteID())
		conn.Close()
		return
	}
	c.state = Connected
	timer := c.timer
	c.timer = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	c.postStatus()

	if err := c.prover.Authenticate(c.ctx, conn); err != nil {
		c.logger.Warn("host rejected access token", "error", err)
		c.session.Close(protocol.ReasonUnauthorized)
		return
	}

	conn.OnClose(func(event peer.CloseEvent) {
		c.logger.Info("host link closed", "error", event.Err)
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		c.session.Close(protocol.ReasonDisconnected)
	})
	conn.OnPacket(c.onPacket)

	if c.page == nil {
		return
	}
	media := mediasync.NewClient(conn, c.page, mediasync.ClientOptions{
		FrameResponseTimeout: c.options.FrameResponseTimeout,
		Controller:           c.options.controllerOptions(c.logger),
	})
	media.OnClose(c.session.Close)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.media = media
	c.mu.Unlock()

	if err := media.Start(); err != nil {
		c.logger.Warn("starting media sync", "error", err)
	}
}

func (c *ClientHandler) onPacket(packet protocol.Packet) {
	if packet.Type != protocol.TypeSessionUpdate {
		return
	}
	var update protocol.SessionUpdate
	if err := packet.Decode(&update); err != nil {
		c.logger.Warn("ignoring invalid roster", "error", err)
		return
	}

	c.mu.Lock()
	previous := c.guests
	c.host = update.Host
	c.guests = slices.Clone(update.Guests)
	c.mu.Unlock()

	notifier := c.session.Notifier()
	for _, name := range update.Guests {
		if !slices.Contains(previous, name) {
			notifier.Notify("User Joined", fmt.Sprintf("%s joined the session", name))
		}
	}
	for _, name := range previous {
		if !slices.Contains(update.Guests, name) {
			notifier.Notify("User Left", fmt.Sprintf("%s left the session", name))
		}
	}
	c.postStatus()
}

func (c *ClientHandler) postStatus() {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	status := Status{
		Type:            TypeClient,
		HostID:          c.hostID,
		AccessToken:     c.prover.AccessToken(),
		ConnectionState: c.state,
		Host:            c.host,
		Guests:          slices.Clone(c.guests),
	}
	c.mu.Unlock()
	c.session.PostStatus(status)
}
