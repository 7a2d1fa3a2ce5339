// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package mediasync

import (
	"bytes"
	"testing"
	"time"

	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/protocol"
)

// hostWithGuests attaches a controller on a fresh element and the
// given guest connections to a new Server.
func hostWithGuests(t *testing.T, fake *clock.FakeClock, element *SimulatedElement, guests ...*fakeConn) (*Server, *Controller) {
	t.Helper()
	server := NewServer(quietLogger())
	controller := NewController(element, controllerOptions(fake))
	t.Cleanup(func() {
		controller.Stop()
		server.Close()
	})
	server.SubscribeLocal(controller)
	for _, guest := range guests {
		server.SubscribeRemote(guest)
	}
	return server, controller
}

func TestHostPauseRelayedToEveryGuest(t *testing.T) {
	fake := clock.Fake(epoch)
	element := NewSimulatedElement(fake, 0)
	element.Play()
	<-element.Events()
	fake.Advance(42 * time.Second)

	alice, bob := newFakeConn("alice"), newFakeConn("bob")
	hostWithGuests(t, fake, element, alice, bob)

	element.Pause()

	atAlice := alice.nextSent(t, protocol.TypeSyncMedia)
	atBob := bob.nextSent(t, protocol.TypeSyncMedia)
	state := decodeSync(t, atAlice)
	if state.Playing || state.Time != 42000 {
		t.Fatalf("relayed state = %+v, want paused at 42000", state)
	}
	if !bytes.Equal(atAlice.Bytes(), atBob.Bytes()) {
		t.Fatalf("guests received different packets:\n%s\n%s", atAlice.Diagnose(), atBob.Diagnose())
	}
}

func TestGuestMediaReachesHostAndOtherGuests(t *testing.T) {
	fake := clock.Fake(epoch)
	element := NewSimulatedElement(fake, 0)
	alice, bob := newFakeConn("alice"), newFakeConn("bob")
	hostWithGuests(t, fake, element, alice, bob)

	alice.receive(protocol.MustNew(&protocol.SyncMedia{Playing: true, Time: 5000, Timestamp: clock.UnixMilli(fake)}))

	if element.Paused() || element.Position() != 5000 {
		t.Fatalf("host element paused=%v position=%d, want playing at 5000", element.Paused(), element.Position())
	}
	relayed := decodeSync(t, bob.nextSent(t, protocol.TypeSyncMedia))
	if !relayed.Playing || relayed.Time != 5000 {
		t.Fatalf("bob received %+v, want playing at 5000", relayed)
	}
	alice.assertNothingSent(t)
}

func TestRemoteSubscriptionRelaysOnlyMedia(t *testing.T) {
	fake := clock.Fake(epoch)
	alice, bob := newFakeConn("alice"), newFakeConn("bob")
	hostWithGuests(t, fake, NewSimulatedElement(fake, 0), alice, bob)

	alice.receive(protocol.MustNew(&protocol.SessionUpdate{Host: "Mallory", Guests: []string{"Mallory"}}))
	alice.receive(protocol.MustNew(&protocol.StopMediaSync{}))
	alice.receive(protocol.MustNew(&protocol.AuthAck{}))
	bob.assertNothingSent(t)

	alice.receive(protocol.MustNew(&protocol.PauseMedia{Time: 7000}))
	if got := bob.nextSent(t, protocol.TypePauseMedia); got.Type != protocol.TypePauseMedia {
		t.Fatalf("bob received %s, want PAUSE_MEDIA", got)
	}
}

func TestRemoteSubscriptionEndsWithConnection(t *testing.T) {
	fake := clock.Fake(epoch)
	alice := newFakeConn("alice")
	server, _ := hostWithGuests(t, fake, NewSimulatedElement(fake, 0), alice)
	if got := server.Participants(); got != 2 {
		t.Fatalf("Participants = %d, want 2", got)
	}

	alice.close()
	if got := server.Participants(); got != 1 {
		t.Fatalf("Participants = %d after guest disconnect, want 1", got)
	}
}

func TestRemoteSubscriptionOnClosedConnection(t *testing.T) {
	server := NewServer(quietLogger())
	alice := newFakeConn("alice")
	alice.close()

	subscription := server.SubscribeRemote(alice)
	if got := server.Participants(); got != 0 {
		t.Errorf("Participants = %d, want 0", got)
	}
	if got := alice.observers(); got != 0 {
		t.Errorf("closed connection kept %d observers", got)
	}
	subscription.Cancel()
}

func TestRemoteSubscriptionCancelReleasesConnection(t *testing.T) {
	server := NewServer(quietLogger())
	alice := newFakeConn("alice")

	subscription := server.SubscribeRemote(alice)
	if got := alice.observers(); got != 2 {
		t.Fatalf("observers = %d, want packet and close", got)
	}
	subscription.Cancel()
	if got := alice.observers(); got != 0 {
		t.Errorf("observers = %d after Cancel, want 0", got)
	}
	alice.close()
}

func TestSubscriptionCancelIsIdempotent(t *testing.T) {
	fake := clock.Fake(epoch)
	server := NewServer(quietLogger())
	controller := NewController(NewSimulatedElement(fake, 0), controllerOptions(fake))
	defer controller.Stop()

	local := server.SubscribeLocal(controller)
	remote := server.SubscribeRemote(newFakeConn("alice"))
	if local.ID() == remote.ID() {
		t.Fatalf("subscriptions share id %d", local.ID())
	}
	local.Cancel()
	local.Cancel()
	server.Close()
	remote.Cancel()
	if got := server.Participants(); got != 0 {
		t.Fatalf("Participants = %d, want 0", got)
	}
}
