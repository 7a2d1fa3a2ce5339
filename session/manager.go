// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lockstep-party/lockstep/lib/event"
	"github.com/lockstep-party/lockstep/protocol"
	"github.com/lockstep-party/lockstep/transport"
)

// SlotStatus is a status change in one slot. Status is nil when the
// slot's session closed.
type SlotStatus struct {
	Slot   string
	Status *Status
}

// SlotClose reports why a slot's session closed.
type SlotClose struct {
	Slot   string
	Reason protocol.CloseReason
}

// ManagerConfig wires a Manager to its environment.
type ManagerConfig struct {
	// NewTransport returns a fresh transport for each session.
	// Required.
	NewTransport func(ctx context.Context) (transport.Transport, error)

	// Page returns the page for slot. A nil func, or a nil result,
	// runs the session without media sync.
	Page func(slot string) Page

	Options Options
}

// Manager keeps at most one open session per slot.
type Manager struct {
	config ManagerConfig
	logger *slog.Logger

	statuses event.Emitter[SlotStatus]
	closes   event.Emitter[SlotClose]

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a Manager with no sessions.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.NewTransport == nil {
		return nil, errors.New("session manager requires a transport factory")
	}
	logger := config.Options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:   config,
		logger:   logger,
		sessions: make(map[string]*Session),
	}, nil
}

// OnStatus registers fn for status changes in every slot.
func (m *Manager) OnStatus(fn func(SlotStatus)) event.Handle {
	return m.statuses.On(fn)
}

// OnClosed registers fn for sessions closing in every slot.
func (m *Manager) OnClosed(fn func(SlotClose)) event.Handle {
	return m.closes.On(fn)
}

// Off removes an OnStatus or OnClosed observer.
func (m *Manager) Off(handle event.Handle) bool {
	return m.statuses.Off(handle) || m.closes.Off(handle)
}

// Session returns the open session in slot, or nil.
func (m *Manager) Session(slot string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[slot]
}

// RequestHostSession starts hosting in slot, superseding any session
// already there.
func (m *Manager) RequestHostSession(ctx context.Context, slot, username string) (*Session, error) {
	t, err := m.config.NewTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating transport for slot %q: %w", slot, err)
	}
	session := m.replace(slot)
	if _, err := NewHostHandler(session, username, t, m.page(slot), m.config.Options); err != nil {
		session.Close(protocol.ReasonUnknown)
		t.Close()
		return nil, err
	}
	if err := session.Handler().Start(ctx); err != nil {
		return session, err
	}
	return session, nil
}

// RequestClientSession joins hostID in slot, superseding any session
// already there.
func (m *Manager) RequestClientSession(ctx context.Context, slot, username, hostID, accessToken string) (*Session, error) {
	t, err := m.config.NewTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating transport for slot %q: %w", slot, err)
	}
	session := m.replace(slot)
	handler := NewClientHandler(session, username, hostID, accessToken, t, m.page(slot), m.config.Options)
	if err := handler.Start(ctx); err != nil {
		return session, err
	}
	return session, nil
}

// RequestCloseSession closes the session in slot with reason. Closing
// an empty slot does nothing.
func (m *Manager) RequestCloseSession(slot string, reason protocol.CloseReason) {
	if session := m.Session(slot); session != nil {
		session.Close(reason)
	}
}

// RequestStatus returns the status of slot's session, nil when the
// slot is empty, and publishes it to OnStatus observers.
func (m *Manager) RequestStatus(slot string) *Status {
	var status *Status
	if session := m.Session(slot); session != nil {
		status = session.Status()
	}
	m.statuses.Emit(SlotStatus{Slot: slot, Status: status})
	return status
}

// SlotClosed closes the session of a slot that went away.
func (m *Manager) SlotClosed(slot string) {
	m.RequestCloseSession(slot, protocol.ReasonTabClosed)
}

// Close closes every session with reason.
func (m *Manager) Close(reason protocol.CloseReason) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close(reason)
	}
}

func (m *Manager) page(slot string) Page {
	if m.config.Page == nil {
		return nil
	}
	return m.config.Page(slot)
}

// replace installs a new session in slot and closes the one it
// displaces with Superseded before returning.
func (m *Manager) replace(slot string) *Session {
	session := New(slot, m.logger, m.config.Options.Notifier)
	session.OnStatus(func(status *Status) {
		m.statuses.Emit(SlotStatus{Slot: slot, Status: status})
	})
	session.OnClosed(func(reason protocol.CloseReason) {
		m.mu.Lock()
		if m.sessions[slot] == session {
			delete(m.sessions, slot)
		}
		m.mu.Unlock()
		m.closes.Emit(SlotClose{Slot: slot, Reason: reason})
	})

	m.mu.Lock()
	previous := m.sessions[slot]
	m.sessions[slot] = session
	m.mu.Unlock()

	if previous != nil {
		m.logger.Info("superseding session", "slot", slot)
		previous.Close(protocol.ReasonSuperseded)
	}
	return session
}
