// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/transport"
)

// DefaultOpenTimeout is how long a link may take to open.
const DefaultOpenTimeout = 5 * time.Second

// Handler receives each Connection a Peer produces. It runs on a
// goroutine dedicated to that link and may block, for example to run
// a handshake.
type Handler func(*Connection)

// Options configures a Peer.
type Options struct {
	// OpenTimeout bounds how long an inbound or outbound link may take
	// to open. Defaults to DefaultOpenTimeout.
	OpenTimeout time.Duration

	// Clock drives the open timeout and every Connection's Expect.
	// Defaults to clock.Real().
	Clock clock.Clock

	// Logger is passed on to Connections. Defaults to slog.Default().
	Logger *slog.Logger
}

// Peer is a local endpoint that opens and accepts links and owns the
// Connections built on them.
type Peer struct {
	transport   transport.Transport
	handler     Handler
	openTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	mu          sync.Mutex
	listening   bool
	closed      bool
	connections map[*Connection]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Peer on t that reports every opened link to handler.
// The Peer starts out not listening.
func New(t transport.Transport, handler Handler, options Options) *Peer {
	if options.OpenTimeout <= 0 {
		options.OpenTimeout = DefaultOpenTimeout
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	p := &Peer{
		transport:   t,
		handler:     handler,
		openTimeout: options.OpenTimeout,
		clock:       options.Clock,
		logger:      options.Logger,
		connections: make(map[*Connection]struct{}),
		done:        make(chan struct{}),
	}
	go p.acceptLoop()
	return p
}

// ID returns this peer's identifier, waiting until the transport has
// assigned one.
func (p *Peer) ID(ctx context.Context) (string, error) {
	return p.transport.ID(ctx)
}

// Listen starts accepting inbound links.
func (p *Peer) Listen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listening = true
}

// Listening reports whether inbound links are accepted.
func (p *Peer) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listening && !p.closed
}

// ConnectTo starts an outbound link to remoteID. It returns once the
// dial has been issued; the handler sees the Connection when the link
// opens, or never if it does not open within the open timeout.
func (p *Peer) ConnectTo(ctx context.Context, remoteID string) error {
	if p.isClosed() {
		return ErrClosed
	}
	link, err := p.transport.Dial(ctx, remoteID)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", remoteID, err)
	}
	go p.awaitOpen(link, "outbound")
	return nil
}

// Connections returns a snapshot of the live Connections.
func (p *Peer) Connections() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	connections := make([]*Connection, 0, len(p.connections))
	for connection := range p.connections {
		connections = append(connections, connection)
	}
	return connections
}

// Close closes every Connection and the transport. Safe to call more
// than once, including from a Handler.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		connections := make([]*Connection, 0, len(p.connections))
		for connection := range p.connections {
			connections = append(connections, connection)
		}
		p.connections = nil
		p.mu.Unlock()

		close(p.done)
		for _, connection := range connections {
			connection.Close()
		}
		err = p.transport.Close()
	})
	return err
}

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) acceptLoop() {
	accept := p.transport.Accept()
	for {
		select {
		case link := <-accept:
			if !p.Listening() {
				p.logger.Info("refusing inbound link while not listening", "remote", link.RemoteID())
				link.Close()
				continue
			}
			go p.awaitOpen(link, "inbound")
		case <-p.done:
			return
		}
	}
}

func (p *Peer) awaitOpen(link transport.Link, direction string) {
	expired := make(chan struct{})
	timer := p.clock.AfterFunc(p.openTimeout, func() { close(expired) })

	select {
	case <-link.Opened():
		timer.Stop()
	case <-expired:
		p.logger.Warn("abandoning link that did not open in time",
			"remote", link.RemoteID(), "direction", direction, "timeout", p.openTimeout)
		link.Close()
		return
	case <-p.done:
		timer.Stop()
		link.Close()
		return
	}

	connection := NewConnection(link, ConnectionOptions{Clock: p.clock, Logger: p.logger})

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		connection.Close()
		return
	}
	p.connections[connection] = struct{}{}
	p.mu.Unlock()

	connection.OnClose(func(CloseEvent) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.connections != nil {
			delete(p.connections, connection)
		}
	})

	p.logger.Debug("link opened", "remote", link.RemoteID(), "direction", direction)
	p.handler(connection)
}
