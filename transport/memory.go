// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
)

// Compile-time interface checks.
var (
	_ Transport = (*MemoryTransport)(nil)
	_ Link      = (*memoryLink)(nil)
)

// MemoryNetwork connects MemoryTransports in the same process. Links
// between them open immediately and deliver every message in order.
type MemoryNetwork struct {
	mu         sync.Mutex
	transports map[string]*MemoryTransport
}

// NewMemoryNetwork returns an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{transports: make(map[string]*MemoryTransport)}
}

// NewTransport attaches a transport with a random identifier.
func (n *MemoryNetwork) NewTransport() *MemoryTransport {
	for {
		transport, err := n.NewTransportWithID(uuid.NewString())
		if err == nil {
			return transport
		}
	}
}

// NewTransportWithID attaches a transport with a chosen identifier.
func (n *MemoryNetwork) NewTransportWithID(id string) (*MemoryTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.transports[id]; exists {
		return nil, fmt.Errorf("memory transport %q already exists", id)
	}
	transport := &MemoryTransport{
		network: n,
		id:      id,
		inbound: make(chan Link, 16),
		closed:  make(chan struct{}),
		links:   make(map[*memoryLink]struct{}),
	}
	n.transports[id] = transport
	return transport, nil
}

func (n *MemoryNetwork) lookup(id string) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[id]
}

func (n *MemoryNetwork) remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.transports, id)
}

// MemoryTransport is one endpoint on a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork
	id      string
	inbound chan Link

	closed    chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	links map[*memoryLink]struct{}
}

// ID returns the transport's identifier.
func (t *MemoryTransport) ID(ctx context.Context) (string, error) {
	select {
	case <-t.closed:
		return "", net.ErrClosed
	default:
		return t.id, nil
	}
}

// Dial links this transport to the transport named remoteID. Both ends
// are open when Dial returns.
func (t *MemoryTransport) Dial(ctx context.Context, remoteID string) (Link, error) {
	select {
	case <-t.closed:
		return nil, net.ErrClosed
	default:
	}

	remote := t.network.lookup(remoteID)
	if remote == nil {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnavailable, remoteID)
	}

	local, far := newMemoryPair(t.id, remoteID)
	if !t.track(local) {
		local.Close()
		far.Close()
		return nil, net.ErrClosed
	}
	if !remote.track(far) {
		local.Close()
		far.Close()
		return nil, fmt.Errorf("%w: %s", ErrPeerUnavailable, remoteID)
	}

	local.markOpen()
	far.markOpen()

	select {
	case remote.inbound <- far:
		return local, nil
	case <-remote.closed:
	case <-ctx.Done():
	}
	local.Close()
	return nil, fmt.Errorf("%w: %s", ErrPeerUnavailable, remoteID)
}

// Accept yields links dialed by other transports.
func (t *MemoryTransport) Accept() <-chan Link {
	return t.inbound
}

// Close detaches the transport and closes its links.
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.network.remove(t.id)

		t.mu.Lock()
		links := make([]*memoryLink, 0, len(t.links))
		for link := range t.links {
			links = append(links, link)
		}
		t.links = nil
		t.mu.Unlock()

		for _, link := range links {
			link.Close()
		}
	})
	return nil
}

func (t *MemoryTransport) track(link *memoryLink) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.links == nil {
		return false
	}
	t.links[link] = struct{}{}
	link.untrack = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.links, link)
	}
	return true
}

// memoryLink is one end of an in-process link. Messages sent on one
// end are queued on the other and pumped into its Messages channel by
// a per-end goroutine, so Send never blocks on a slow reader.
type memoryLink struct {
	remoteID string
	far      *memoryLink
	untrack  func()

	opened   chan struct{}
	openOnce sync.Once
	messages chan []byte
	wake     chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	queue        [][]byte
	remoteClosed bool
}

func newMemoryPair(localID, remoteID string) (*memoryLink, *memoryLink) {
	local := newMemoryLink(remoteID)
	far := newMemoryLink(localID)
	local.far, far.far = far, local
	go local.pump()
	go far.pump()
	return local, far
}

func newMemoryLink(remoteID string) *memoryLink {
	return &memoryLink{
		remoteID: remoteID,
		opened:   make(chan struct{}),
		messages: make(chan []byte),
		wake:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

func (l *memoryLink) RemoteID() string        { return l.remoteID }
func (l *memoryLink) Opened() <-chan struct{} { return l.opened }
func (l *memoryLink) Messages() <-chan []byte { return l.messages }
func (l *memoryLink) Err() error              { return nil }

func (l *memoryLink) Send(message []byte) error {
	select {
	case <-l.closed:
		return net.ErrClosed
	default:
	}
	select {
	case <-l.opened:
	default:
		return ErrNotOpen
	}
	copied := make([]byte, len(message))
	copy(copied, message)
	if !l.far.enqueue(copied) {
		return net.ErrClosed
	}
	return nil
}

func (l *memoryLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.untrack != nil {
			l.untrack()
		}
		if l.far != nil {
			l.far.hangUp()
		}
	})
	return nil
}

func (l *memoryLink) markOpen() {
	l.openOnce.Do(func() { close(l.opened) })
}

func (l *memoryLink) enqueue(message []byte) bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	l.mu.Lock()
	if l.remoteClosed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, message)
	l.mu.Unlock()
	l.signal()
	return true
}

// hangUp records that the far end closed. Queued messages are still
// delivered before Messages closes.
func (l *memoryLink) hangUp() {
	l.mu.Lock()
	l.remoteClosed = true
	l.mu.Unlock()
	l.signal()
}

func (l *memoryLink) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *memoryLink) pump() {
	defer close(l.messages)
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			message := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			select {
			case l.messages <- message:
				continue
			case <-l.closed:
				return
			}
		}
		hungUp := l.remoteClosed
		l.mu.Unlock()
		if hungUp {
			// The far end is gone; this end closes too.
			l.Close()
			return
		}
		select {
		case <-l.wake:
		case <-l.closed:
			return
		}
	}
}
