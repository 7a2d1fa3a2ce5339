// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/lockstep-party/lockstep/lib/event"
	"github.com/lockstep-party/lockstep/protocol"
)

// Type distinguishes the two session roles.
type Type int

const (
	TypeHost Type = iota
	TypeClient
)

func (t Type) String() string {
	switch t {
	case TypeHost:
		return "host"
	case TypeClient:
		return "client"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ConnectionState is a client's progress towards the host. A host
// session is always Connected.
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Connected
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Status is a snapshot of an open session.
type Status struct {
	Type            Type
	HostID          string
	AccessToken     string
	ConnectionState ConnectionState
	Host            string
	Guests          []string
}

func (s *Status) clone() *Status {
	if s == nil {
		return nil
	}
	copied := *s
	copied.Guests = slices.Clone(s.Guests)
	return &copied
}

// Handler is the role-specific half of a session.
type Handler interface {
	// Start begins the session's work. A failure that ends the
	// session closes it with a reason before Start returns.
	Start(ctx context.Context) error

	// Stop releases the handler's resources. The Session calls it
	// once, when it closes.
	Stop()
}

// Notifier shows short messages to the local user.
type Notifier interface {
	Notify(title, message string)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notification at info level.
func (n LogNotifier) Notify(title, message string) {
	n.Logger.Info("notification", "title", title, "message", message)
}

// Session is the lifecycle and status shared by both roles. Its
// methods are safe for concurrent use; observers run without the
// session's lock held.
type Session struct {
	slot     string
	logger   *slog.Logger
	notifier Notifier

	statuses event.Emitter[*Status]
	closed   event.Emitter[protocol.CloseReason]

	mu      sync.Mutex
	open    bool
	status  *Status
	reason  protocol.CloseReason
	handler Handler
}

// New returns an open session for slot.
func New(slot string, logger *slog.Logger, notifier Notifier) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Session{
		slot:     slot,
		logger:   logger.With("slot", slot),
		notifier: notifier,
		open:     true,
	}
}

// Slot returns the slot the session occupies.
func (s *Session) Slot() string {
	return s.slot
}

// Logger returns the session's logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Notifier returns the session's notifier.
func (s *Session) Notifier() Notifier {
	return s.notifier
}

// Handler returns the handler attached with Attach.
func (s *Session) Handler() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// Attach makes handler the session's role. The handler is stopped
// when the session closes, or at once if it already has.
func (s *Session) Attach(handler Handler) {
	s.mu.Lock()
	s.handler = handler
	open := s.open
	s.mu.Unlock()
	if !open {
		handler.Stop()
	}
}

// IsOpen reports whether the session is still open.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Reason returns why the session closed. ok is false while it is open.
func (s *Session) Reason() (reason protocol.CloseReason, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, !s.open
}

// Status returns a copy of the current snapshot, or nil once closed.
func (s *Session) Status() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.clone()
}

// OnStatus registers fn for each published snapshot. A nil snapshot
// means the session closed.
func (s *Session) OnStatus(fn func(*Status)) event.Handle {
	return s.statuses.On(fn)
}

// OnClosed registers fn for the close reason.
func (s *Session) OnClosed(fn func(protocol.CloseReason)) event.Handle {
	return s.closed.On(fn)
}

// Off removes an OnStatus or OnClosed observer.
func (s *Session) Off(handle event.Handle) bool {
	return s.statuses.Off(handle) || s.closed.Off(handle)
}

// PostStatus replaces the snapshot and publishes it. Ignored once the
// session is closed.
func (s *Session) PostStatus(status Status) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.status = status.clone()
	snapshot := s.status.clone()
	s.mu.Unlock()

	s.statuses.Emit(snapshot)
}

// BroadcastStatus publishes the current snapshot again.
func (s *Session) BroadcastStatus() {
	s.statuses.Emit(s.Status())
}

// Close ends the session with reason. Only the first call has any
// effect: the handler stops, the user is notified, close observers
// run, and a nil status is published.
func (s *Session) Close(reason protocol.CloseReason) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.status = nil
	s.reason = reason
	handler := s.handler
	s.mu.Unlock()

	s.logger.Info("session closed", "reason", reason)
	if handler != nil {
		handler.Stop()
	}
	s.notifier.Notify("Session Closed", reason.Description())
	s.closed.Emit(reason)
	s.statuses.Emit(nil)
}
