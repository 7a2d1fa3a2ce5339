// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package mediasync

import (
	"testing"
	"time"

	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/lib/codec"
	"github.com/lockstep-party/lockstep/lib/testutil"
	"github.com/lockstep-party/lockstep/protocol"
)

func TestAdjustedPosition(t *testing.T) {
	const observed = int64(1_767_225_600_000)
	tests := []struct {
		name     string
		playing  bool
		position int64
		now      int64
		want     int64
	}{
		{"playing advances by elapsed time", true, 10000, observed + 500, 10500},
		{"paused does not move", false, 10000, observed + 500, 10000},
		{"no delay", true, 10000, observed, 10000},
		{"observer clock ahead", true, 10000, observed - 300, 9700},
		{"never negative", true, 100, observed - 5000, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := AdjustedPosition(test.playing, test.position, observed, test.now)
			if got != test.want {
				t.Fatalf("AdjustedPosition = %d, want %d", got, test.want)
			}
		})
	}
}

func TestSyncCompensatesDrift(t *testing.T) {
	for _, test := range []struct {
		playing bool
		want    int64
	}{
		{true, 10500},
		{false, 10000},
	} {
		fake := clock.Fake(epoch)
		element := NewSimulatedElement(fake, 0)
		controller := NewController(element, controllerOptions(fake))

		observedAt := clock.UnixMilli(fake)
		fake.Advance(500 * time.Millisecond)
		controller.Sync(test.playing, 10000, observedAt)

		if got := element.Position(); got != test.want {
			t.Errorf("playing=%v: position = %d, want %d", test.playing, got, test.want)
		}
		if element.Paused() == test.playing {
			t.Errorf("playing=%v: element paused = %v", test.playing, element.Paused())
		}
		controller.Stop()
	}
}

func TestHandleAppliesMediaPackets(t *testing.T) {
	fake := clock.Fake(epoch)
	element := NewSimulatedElement(fake, 0)
	controller := NewController(element, controllerOptions(fake))
	defer controller.Stop()
	now := clock.UnixMilli(fake)

	controller.Handle(protocol.MustNew(&protocol.PlayMedia{Time: 1000, Timestamp: now - 200}))
	if element.Paused() || element.Position() != 1200 {
		t.Fatalf("after PLAY_MEDIA: paused=%v position=%d, want playing at 1200", element.Paused(), element.Position())
	}

	controller.Handle(protocol.MustNew(&protocol.PauseMedia{Time: 3000}))
	if !element.Paused() || element.Position() != 3000 {
		t.Fatalf("after PAUSE_MEDIA: paused=%v position=%d, want paused at 3000", element.Paused(), element.Position())
	}

	// A SYNC_MEDIA without a timestamp is dropped.
	data, err := codec.Marshal(map[string]any{"type": int(protocol.TypeSyncMedia), "playing": true, "time": 9000})
	if err != nil {
		t.Fatal(err)
	}
	invalid, err := protocol.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	controller.Handle(invalid)
	if !element.Paused() || element.Position() != 3000 {
		t.Fatalf("invalid packet changed the element: paused=%v position=%d", element.Paused(), element.Position())
	}

	// Non-media packets are ignored.
	controller.Handle(protocol.MustNew(&protocol.SessionUpdate{Host: "Alice", Guests: []string{}}))
}

func TestLocalChangesEmitSyncMedia(t *testing.T) {
	fake := clock.Fake(epoch)
	element := NewSimulatedElement(fake, 0)
	controller := NewController(element, controllerOptions(fake))
	defer controller.Stop()
	packets := collectPackets(controller)

	element.Play()
	started := decodeSync(t, testutil.RequireReceive(t, packets, 5*time.Second, "play packet"))
	if !started.Playing || started.Time != 0 {
		t.Fatalf("play packet = %+v, want playing at 0", started)
	}

	fake.Advance(42 * time.Second)
	element.Pause()
	paused := decodeSync(t, testutil.RequireReceive(t, packets, 5*time.Second, "pause packet"))
	if paused.Playing || paused.Time != 42000 {
		t.Fatalf("pause packet = %+v, want paused at 42000", paused)
	}
	if paused.Timestamp != clock.UnixMilli(fake) {
		t.Fatalf("pause timestamp = %d, want %d", paused.Timestamp, clock.UnixMilli(fake))
	}
}

func TestRemoteStateIsNotEchoed(t *testing.T) {
	fake := clock.Fake(epoch)
	element := NewSimulatedElement(fake, 0)
	controller := NewController(element, controllerOptions(fake))
	defer controller.Stop()
	packets := collectPackets(controller)

	// Applying the remote state produces play and seeked events that
	// must not be reported. The user's seek afterwards must be.
	controller.Sync(true, 5000, clock.UnixMilli(fake))
	element.SetPosition(20000)

	first := decodeSync(t, testutil.RequireReceive(t, packets, 5*time.Second, "user seek"))
	if !first.Playing || first.Time != 20000 {
		t.Fatalf("first emitted state = %+v, want the user's seek to 20000", first)
	}
}

func TestSyncWithinToleranceDoesNotSeek(t *testing.T) {
	fake := clock.Fake(epoch)
	element := NewSimulatedElement(fake, 0)
	element.SetPosition(10000)
	element.Play()
	controller := NewController(element, controllerOptions(fake))
	defer controller.Stop()

	controller.Sync(true, 10100, clock.UnixMilli(fake))
	if got := element.Position(); got != 10000 {
		t.Fatalf("position = %d, want 10000 (within tolerance, no seek)", got)
	}
}

func TestHeartbeat(t *testing.T) {
	fake := clock.Fake(epoch)
	element := NewSimulatedElement(fake, 0)
	controller := NewController(element, controllerOptions(fake))
	defer controller.Stop()
	packets := collectPackets(controller)

	controller.StartHeartbeat()
	controller.StartHeartbeat()
	if got := fake.PendingCount(); got != 1 {
		t.Fatalf("PendingCount = %d after StartHeartbeat, want 1", got)
	}

	for beat := int64(1); beat <= 2; beat++ {
		fake.Advance(DefaultHeartbeatInterval)
		state := decodeSync(t, testutil.RequireReceive(t, packets, 5*time.Second, "heartbeat %d", beat))
		if state.Playing || state.Time != 0 {
			t.Fatalf("heartbeat %d = %+v, want paused at 0", beat, state)
		}
	}

	controller.Stop()
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("PendingCount = %d after Stop, want 0", got)
	}
}
