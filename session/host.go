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
	"github.com/lockstep-party/lockstep/mediasync"
	"github.com/lockstep-party/lockstep/peer"
	"github.com/lockstep-party/lockstep/protocol"
	"github.com/lockstep-party/lockstep/transport"
)

// HostHandler runs the host role: it admits guests that present the
// access token and relays media sync between them.
type HostHandler struct {
	session  *Session
	username string
	verifier *auth.Verifier
	peer     *peer.Peer
	server   *mediasync.Server
	media    *mediasync.Host // nil without a Page
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// publishMu orders status snapshots and roster broadcasts so the
	// last one published is the newest.
	publishMu sync.Mutex

	mu      sync.Mutex
	hostID  string
	guests  []*guest
	stopped bool

	// mediaBound is set once the media element is chosen. Guests
	// admitted before then receive their init packet from Start.
	mediaBound bool
}

type guest struct {
	username string
	conn     *peer.Connection
	relay    *mediasync.Subscription
}

// NewHostHandler attaches a host role to session. The handler owns t
// and closes it when the session closes. page may be nil.
func NewHostHandler(session *Session, username string, t transport.Transport, page Page, options Options) (*HostHandler, error) {
	options.Logger = session.Logger()
	options = options.withDefaults()
	logger := options.Logger.With("role", TypeHost.String())

	token, err := auth.GenerateAccessToken()
	if err != nil {
		return nil, fmt.Errorf("creating host session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &HostHandler{
		session:  session,
		username: username,
		verifier: auth.NewVerifier(token, options.authOptions(logger)),
		server:   mediasync.NewServer(logger),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	if page != nil {
		h.media = mediasync.NewHost(h.server, page, page, mediasync.HostOptions{
			DiscoveryTimeout: options.DiscoveryTimeout,
			Controller:       options.controllerOptions(logger),
		})
		h.media.OnClose(session.Close)
	}
	h.peer = peer.New(t, h.onConnection, options.peerOptions(logger))
	session.Attach(h)
	return h, nil
}

// AccessToken returns the token guests must present.
func (h *HostHandler) AccessToken() string {
	return h.verifier.AccessToken()
}

// Media returns the media sync host, or nil when the session has no
// page.
func (h *HostHandler) Media() *mediasync.Host {
	return h.media
}

// Guests returns the authenticated guests' usernames in join order.
func (h *HostHandler) Guests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.guestNamesLocked()
}

// Start resolves the host's identity, starts listening and binds the
// local media element. Without media the session closes with NoMedia.
func (h *HostHandler) Start(ctx context.Context) error {
	hostID, err := h.peer.ID(ctx)
	if err != nil {
		h.session.Close(protocol.ReasonUnknown)
		return fmt.Errorf("resolving host id: %w", err)
	}
	h.mu.Lock()
	h.hostID = hostID
	h.mu.Unlock()

	h.peer.Listen()
	h.publish(false)
	h.logger.Info("hosting session",
		"host_id", hostID,
		"token_fingerprint", auth.Fingerprint(h.AccessToken()),
	)

	if h.media == nil {
		return nil
	}
	if err := h.media.Start(ctx); err != nil {
		return fmt.Errorf("starting media sync: %w", err)
	}
	h.mu.Lock()
	h.mediaBound = true
	waiting := slices.Clone(h.guests)
	h.mu.Unlock()
	for _, g := range waiting {
		h.initGuest(g)
	}
	return nil
}

// Stop closes every guest connection and releases the media element.
func (h *HostHandler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	h.cancel()
	if h.media != nil {
		h.media.Stop()
	}
	h.server.Close()
	if err := h.peer.Close(); err != nil {
		h.logger.Debug("closing peer", "error", err)
	}
}

func (h *HostHandler) onConnection(conn *peer.Connection) {
	logger := h.logger.With("remote", conn.RemoteID())

	username, err := h.verifier.Verify(h.ctx, conn)
	if err != nil {
		logger.Warn("guest failed authentication", "error", err)
		conn.Close()
		return
	}

	g := &guest{username: username, conn: conn}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.guests = append(h.guests, g)
	mediaBound := h.mediaBound
	h.mu.Unlock()
	logger.Info("guest joined", "username", username)

	conn.OnClose(func(peer.CloseEvent) { h.removeGuest(g) })
	conn.OnPacket(func(packet protocol.Packet) { h.onPacket(g, packet) })

	h.publish(true)

	if mediaBound {
		h.initGuest(g)
	}
}

func (h *HostHandler) initGuest(g *guest) {
	if err := h.media.InitConnection(h.ctx, g.conn); err != nil {
		h.logger.Warn("sending media sync init", "username", g.username, "error", err)
	}
}

func (h *HostHandler) onPacket(g *guest, packet protocol.Packet) {
	switch packet.Type {
	case protocol.TypeStartMediaSync:
		relay := h.server.SubscribeRemote(g.conn)
		h.mu.Lock()
		previous := g.relay
		g.relay = relay
		h.mu.Unlock()
		if previous != nil {
			previous.Cancel()
		}
		h.logger.Debug("media relay started", "username", g.username)
	case protocol.TypeStopMediaSync:
		h.mu.Lock()
		relay := g.relay
		g.relay = nil
		h.mu.Unlock()
		if relay != nil {
			relay.Cancel()
		}
		h.logger.Debug("media relay stopped", "username", g.username)
	}
}

func (h *HostHandler) removeGuest(g *guest) {
	h.mu.Lock()
	index := slices.Index(h.guests, g)
	if index < 0 {
		h.mu.Unlock()
		return
	}
	h.guests = slices.Delete(h.guests, index, index+1)
	relay := g.relay
	g.relay = nil
	stopped := h.stopped
	h.mu.Unlock()

	if relay != nil {
		relay.Cancel()
	}
	h.logger.Info("guest left", "username", g.username)
	if stopped {
		return
	}
	h.publish(true)
}

func (h *HostHandler) guestNamesLocked() []string {
	names := make([]string, len(h.guests))
	for i, g := range h.guests {
		names[i] = g.username
	}
	return names
}

// publish posts the session status and, with roster set, sends the
// roster to every authenticated guest.
func (h *HostHandler) publish(roster bool) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.Lock()
	status := Status{
		Type:            TypeHost,
		HostID:          h.hostID,
		AccessToken:     h.verifier.AccessToken(),
		ConnectionState: Connected,
		Host:            h.username,
		Guests:          h.guestNamesLocked(),
	}
	update := &protocol.SessionUpdate{Host: h.username, Guests: status.Guests}
	conns := make([]*peer.Connection, len(h.guests))
	for i, g := range h.guests {
		conns[i] = g.conn
	}
	h.mu.Unlock()

	h.session.PostStatus(status)
	if !roster {
		return
	}
	packet, err := protocol.New(update)
	if err != nil {
		h.logger.Error("encoding roster", "error", err)
		return
	}
	for _, conn := range conns {
		if err := conn.Send(packet); err != nil {
			h.logger.Debug("sending roster", "remote", conn.RemoteID(), "error", err)
		}
	}
}
