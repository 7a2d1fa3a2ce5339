// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/lockstep-party/lockstep/auth"
	"github.com/lockstep-party/lockstep/lib/testutil"
	"github.com/lockstep-party/lockstep/mediasync"
	"github.com/lockstep-party/lockstep/peer"
	"github.com/lockstep-party/lockstep/protocol"
)

// dialHost opens a raw connection to the host, bypassing ClientHandler.
func (f *fixture) dialHost(t *testing.T) *peer.Connection {
	t.Helper()
	link, err := f.network.NewTransport().Dial(context.Background(), hostID)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn := peer.NewConnection(link, peer.ConnectionOptions{Clock: f.clock, Logger: quietLogger()})
	t.Cleanup(func() { conn.Close() })
	return conn
}

func expectType(t *testing.T, conn *peer.Connection, want protocol.PacketType) protocol.Packet {
	t.Helper()
	packet, err := conn.Expect(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("waiting for %s: %v", want, err)
	}
	if packet.Type != want {
		t.Fatalf("received %s, want %s", packet.Type, want)
	}
	return packet
}

func decodeRoster(t *testing.T, packet protocol.Packet) protocol.SessionUpdate {
	t.Helper()
	var update protocol.SessionUpdate
	if err := packet.Decode(&update); err != nil {
		t.Fatalf("decoding SESSION_UPDATE: %v", err)
	}
	return update
}

func TestHostAdmitsGuestWithToken(t *testing.T) {
	f := newFixture()
	session, host := f.startHost(t, nil)
	statuses, _ := watch(session)

	conn := f.dialHost(t)
	if err := conn.SendPayload(&protocol.AuthToken{Username: "Bob", Token: host.AccessToken()}); err != nil {
		t.Fatalf("sending token: %v", err)
	}
	expectType(t, conn, protocol.TypeAuthAck)
	update := decodeRoster(t, expectType(t, conn, protocol.TypeSessionUpdate))
	if update.Host != "Alice" || !slices.Equal(update.Guests, []string{"Bob"}) {
		t.Errorf("roster = %+v, want Alice hosting Bob", update)
	}

	status := waitForStatus(t, statuses, "Bob in roster", guestsAre("Bob"))
	if status.Type != TypeHost || status.HostID != hostID || status.Host != "Alice" {
		t.Errorf("status = %+v", status)
	}
	if status.ConnectionState != Connected {
		t.Errorf("host connection state = %v, want connected", status.ConnectionState)
	}
	if status.AccessToken != host.AccessToken() {
		t.Error("status does not carry the access token")
	}
}

func TestHostRejectsWrongTokenOnly(t *testing.T) {
	f := newFixture()
	session, host := f.startHost(t, nil)

	bob := f.dialHost(t)
	if err := bob.SendPayload(&protocol.AuthToken{Username: "Bob", Token: host.AccessToken()}); err != nil {
		t.Fatalf("sending token: %v", err)
	}
	expectType(t, bob, protocol.TypeAuthAck)

	mallory := f.dialHost(t)
	if err := mallory.SendPayload(&protocol.AuthToken{Username: "Mallory", Token: "wrong"}); err != nil {
		t.Fatalf("sending token: %v", err)
	}
	testutil.RequireClosed(t, mallory.Done(), 5*time.Second, "rejected connection closing")

	if !session.IsOpen() {
		t.Fatal("host session closed by a rejected guest")
	}
	if bob.Closed() {
		t.Error("authenticated guest disconnected by a rejected guest")
	}
	if guests := host.Guests(); !slices.Equal(guests, []string{"Bob"}) {
		t.Errorf("guests = %v, want [Bob]", guests)
	}
}

func TestHostRosterTracksJoinsAndLeaves(t *testing.T) {
	const joined, left = 6, 2
	f := newFixture()
	session, host := f.startHost(t, nil)
	statuses, _ := watch(session)

	conns := make([]*peer.Connection, joined)
	var wg sync.WaitGroup
	errs := make(chan error, joined)
	for i := range joined {
		conns[i] = f.dialHost(t)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prover := auth.NewProver(fmt.Sprintf("guest-%d", i), host.AccessToken(), auth.Options{Logger: quietLogger()})
			if err := prover.Authenticate(context.Background(), conns[i]); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Authenticate: %v", err)
	}
	waitForStatus(t, statuses, "all guests joined", func(status *Status) bool {
		return status != nil && len(status.Guests) == joined
	})

	for _, conn := range conns[:left] {
		conn.Close()
	}
	status := waitForStatus(t, statuses, "guests left", func(status *Status) bool {
		return status != nil && len(status.Guests) == joined-left
	})

	var want []string
	for i := left; i < joined; i++ {
		want = append(want, fmt.Sprintf("guest-%d", i))
	}
	got := slices.Sorted(slices.Values(status.Guests))
	if !slices.Equal(got, want) {
		t.Errorf("guests = %v, want %v", got, want)
	}
	if roster := 1 + len(host.Guests()); roster != 1+joined-left {
		t.Errorf("roster size = %d, want %d", roster, 1+joined-left)
	}

	// The remaining guests converge on the same roster. Intermediate
	// updates from the join phase may already hold joined-left entries,
	// so only the final membership counts.
	for _, remaining := range conns[left:] {
		for {
			update := decodeRoster(t, expectType(t, remaining, protocol.TypeSessionUpdate))
			if update.Host != "Alice" {
				t.Fatalf("roster host = %q, want Alice", update.Host)
			}
			if got := slices.Sorted(slices.Values(update.Guests)); slices.Equal(got, want) {
				break
			}
		}
	}
}

// heldPage holds discovery open until released.
type heldPage struct {
	*mediasync.SimulatedPage
	discovering chan struct{}
	release     chan struct{}
}

func (p *heldPage) Discover(ctx context.Context, report func(mediasync.Candidate)) {
	close(p.discovering)
	select {
	case <-p.release:
	case <-ctx.Done():
		return
	}
	p.SimulatedPage.Discover(ctx, report)
}

func TestHostInitsGuestAdmittedDuringDiscovery(t *testing.T) {
	f := newFixture()
	candidate := mediasync.Candidate{FrameHref: watchPage, ElementQuery: "video", Visibility: 1, Area: 1280 * 720}
	page := &heldPage{
		SimulatedPage: mediasync.NewSimulatedPage(watchPage),
		discovering:   make(chan struct{}),
		release:       make(chan struct{}),
	}
	page.AddMedia(candidate, mediasync.NewSimulatedElement(f.clock, 0))

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

	started := make(chan error, 1)
	go func() { started <- host.Start(context.Background()) }()
	testutil.RequireClosed(t, page.discovering, 5*time.Second, "discovery starting")

	conn := f.dialHost(t)
	if err := conn.SendPayload(&protocol.AuthToken{Username: "Bob", Token: host.AccessToken()}); err != nil {
		t.Fatalf("sending token: %v", err)
	}
	expectType(t, conn, protocol.TypeAuthAck)
	expectType(t, conn, protocol.TypeSessionUpdate)

	close(page.release)
	if err := testutil.RequireReceive(t, started, 5*time.Second, "host Start returning"); err != nil {
		t.Fatalf("host Start: %v", err)
	}

	var got protocol.MediaSyncInit
	if err := expectType(t, conn, protocol.TypeMediaSyncInit).Decode(&got); err != nil {
		t.Fatalf("decoding init: %v", err)
	}
	if got.WindowHref != watchPage || got.FrameHref != candidate.FrameHref || got.ElementQuery != candidate.ElementQuery {
		t.Errorf("init = %+v, want %s %s", got, candidate.FrameHref, candidate.ElementQuery)
	}

	// A guest joining after the bind gets exactly one init of its own.
	late := f.dialHost(t)
	if err := late.SendPayload(&protocol.AuthToken{Username: "Carol", Token: host.AccessToken()}); err != nil {
		t.Fatalf("sending token: %v", err)
	}
	expectType(t, late, protocol.TypeAuthAck)
	expectType(t, late, protocol.TypeSessionUpdate)
	expectType(t, late, protocol.TypeMediaSyncInit)
}

func TestHostRelaysMediaBetweenOptedInGuests(t *testing.T) {
	f := newFixture()
	_, host := f.startHost(t, nil)

	join := func(name string) *peer.Connection {
		conn := f.dialHost(t)
		prover := auth.NewProver(name, host.AccessToken(), auth.Options{Logger: quietLogger()})
		if err := prover.Authenticate(context.Background(), conn); err != nil {
			t.Fatalf("Authenticate %s: %v", name, err)
		}
		return conn
	}
	bob := join("Bob")
	carol := join("Carol")

	if err := bob.SendPayload(&protocol.StartMediaSync{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := carol.SendPayload(&protocol.StartMediaSync{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Both relays exist once the server counts both participants.
	deadline := time.Now().Add(5 * time.Second)
	for host.server.Participants() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("relay participants = %d, want 2", host.server.Participants())
		}
		time.Sleep(time.Millisecond)
	}

	if err := bob.SendPayload(&protocol.PauseMedia{Time: 42000}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	for {
		packet, err := carol.Expect(context.Background(), 5*time.Second)
		if err != nil {
			t.Fatalf("waiting for relayed pause: %v", err)
		}
		if packet.Type != protocol.TypePauseMedia {
			continue
		}
		var pause protocol.PauseMedia
		if err := packet.Decode(&pause); err != nil {
			t.Fatalf("decoding pause: %v", err)
		}
		if pause.Time != 42000 {
			t.Errorf("relayed pause at %d, want 42000", pause.Time)
		}
		break
	}

	if err := carol.SendPayload(&protocol.StopMediaSync{}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	deadline = time.Now().Add(5 * time.Second)
	for host.server.Participants() > 1 {
		if time.Now().After(deadline) {
			t.Fatalf("relay participants = %d after stop, want 1", host.server.Participants())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHostStopClosesGuests(t *testing.T) {
	f := newFixture()
	session, host := f.startHost(t, nil)

	conn := f.dialHost(t)
	prover := auth.NewProver("Bob", host.AccessToken(), auth.Options{Logger: quietLogger()})
	if err := prover.Authenticate(context.Background(), conn); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	session.Close(protocol.ReasonClosedByUser)
	testutil.RequireClosed(t, conn.Done(), 5*time.Second, "guest connection closing with the host")
}
