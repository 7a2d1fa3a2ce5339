// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/lib/testutil"
	"github.com/lockstep-party/lockstep/protocol"
	"github.com/lockstep-party/lockstep/transport"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

const hostID = "alice-host"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type notification struct {
	title   string
	message string
}

type recordingNotifier struct {
	notifications chan notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{notifications: make(chan notification, 64)}
}

func (n *recordingNotifier) Notify(title, message string) {
	n.notifications <- notification{title: title, message: message}
}

func (n *recordingNotifier) require(t *testing.T, title string) notification {
	t.Helper()
	for {
		got := testutil.RequireReceive(t, n.notifications, 5*time.Second, "waiting for %q notification", title)
		if got.title == title {
			return got
		}
	}
}

func (n *recordingNotifier) assertNone(t *testing.T, title string) {
	t.Helper()
	for {
		select {
		case got := <-n.notifications:
			if got.title == title {
				t.Fatalf("unexpected %q notification: %q", title, got.message)
			}
		default:
			return
		}
	}
}

// watch records every status and the close reason of session.
func watch(session *Session) (statuses chan *Status, closed chan protocol.CloseReason) {
	statuses = make(chan *Status, 256)
	closed = make(chan protocol.CloseReason, 1)
	session.OnStatus(func(status *Status) { statuses <- status })
	session.OnClosed(func(reason protocol.CloseReason) { closed <- reason })
	return statuses, closed
}

// waitForStatus reads statuses until one satisfies match.
func waitForStatus(t *testing.T, statuses <-chan *Status, description string, match func(*Status) bool) *Status {
	t.Helper()
	for {
		status := testutil.RequireReceive(t, statuses, 5*time.Second, "waiting for status: %s", description)
		if match(status) {
			return status
		}
	}
}

type fixture struct {
	clock   *clock.FakeClock
	network *transport.MemoryNetwork
}

func newFixture() *fixture {
	return &fixture{clock: clock.Fake(epoch), network: transport.NewMemoryNetwork()}
}

func (f *fixture) options(notifier Notifier) Options {
	return Options{Clock: f.clock, Notifier: notifier}
}

// startHost starts Alice's host session on the well-known host id.
func (f *fixture) startHost(t *testing.T, page Page) (*Session, *HostHandler) {
	t.Helper()
	hostTransport, err := f.network.NewTransportWithID(hostID)
	if err != nil {
		t.Fatalf("NewTransportWithID: %v", err)
	}
	session := New("host-tab", quietLogger(), newRecordingNotifier())
	host, err := NewHostHandler(session, "Alice", hostTransport, page, f.options(nil))
	if err != nil {
		t.Fatalf("NewHostHandler: %v", err)
	}
	t.Cleanup(func() { session.Close(protocol.ReasonClosedByUser) })
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("host Start: %v", err)
	}
	return session, host
}

// startClient joins the host session as username.
func (f *fixture) startClient(t *testing.T, username, token string, page Page, notifier Notifier) (*Session, *ClientHandler, chan *Status, chan protocol.CloseReason) {
	t.Helper()
	session := New(username+"-tab", quietLogger(), notifier)
	statuses, closed := watch(session)
	client := NewClientHandler(session, username, hostID, token, f.network.NewTransport(), page, f.options(nil))
	t.Cleanup(func() { session.Close(protocol.ReasonClosedByUser) })
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	return session, client, statuses, closed
}

func guestsAre(want ...string) func(*Status) bool {
	return func(status *Status) bool {
		if status == nil || len(status.Guests) != len(want) {
			return false
		}
		for i := range want {
			if status.Guests[i] != want[i] {
				return false
			}
		}
		return true
	}
}
