// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package mediasync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/lib/event"
	"github.com/lockstep-party/lockstep/protocol"
)

const (
	// DefaultSeekTolerance is the echo-suppression window.
	DefaultSeekTolerance = 250 * time.Millisecond

	// DefaultHeartbeatInterval is the period of state re-broadcasts.
	DefaultHeartbeatInterval = time.Second
)

// PlaybackState is a position observed at a wall-clock instant.
type PlaybackState struct {
	Playing    bool
	Position   int64 // milliseconds into the media
	ObservedAt int64 // milliseconds since the Unix epoch
}

// AdjustedPosition projects a state observed at observedAt to now.
// A playing state advances by the elapsed time; a paused one does not
// move. The result is never negative.
func AdjustedPosition(playing bool, position, observedAt, now int64) int64 {
	if !playing {
		return position
	}
	adjusted := position + (now - observedAt)
	if adjusted < 0 {
		return 0
	}
	return adjusted
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// SeekTolerance is how far an element event may be from a
	// just-applied remote state and still count as its echo. It also
	// bounds the drift below which Sync does not seek. Defaults to
	// DefaultSeekTolerance.
	SeekTolerance time.Duration

	// HeartbeatInterval is the period used by StartHeartbeat. Defaults
	// to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o ControllerOptions) withDefaults() ControllerOptions {
	if o.SeekTolerance <= 0 {
		o.SeekTolerance = DefaultSeekTolerance
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Controller synchronizes one MediaElement with remote peers.
type Controller struct {
	element   MediaElement
	clock     clock.Clock
	logger    *slog.Logger
	tolerance int64
	interval  time.Duration

	packets event.Emitter[protocol.Packet]

	mu        sync.Mutex
	applied   *PlaybackState
	heartbeat *clock.Ticker

	done     chan struct{}
	stopOnce sync.Once
}

// NewController binds a Controller to element and starts watching its
// events.
func NewController(element MediaElement, options ControllerOptions) *Controller {
	options = options.withDefaults()
	c := &Controller{
		element:   element,
		clock:     options.Clock,
		logger:    options.Logger,
		tolerance: options.SeekTolerance.Milliseconds(),
		interval:  options.HeartbeatInterval,
		done:      make(chan struct{}),
	}
	go c.watch()
	return c
}

// OnPacket registers fn for outbound SYNC_MEDIA packets.
func (c *Controller) OnPacket(fn func(protocol.Packet)) event.Handle {
	return c.packets.On(fn)
}

// Off removes an observer registered with OnPacket.
func (c *Controller) Off(handle event.Handle) bool {
	return c.packets.Off(handle)
}

// State returns the element's current playback state.
func (c *Controller) State() PlaybackState {
	return PlaybackState{
		Playing:    !c.element.Paused(),
		Position:   c.element.Position(),
		ObservedAt: clock.UnixMilli(c.clock),
	}
}

// Play starts playback at position as observed at observedAt.
func (c *Controller) Play(position, observedAt int64) {
	c.Sync(true, position, observedAt)
}

// Pause pauses playback at position.
func (c *Controller) Pause(position int64) {
	c.Sync(false, position, clock.UnixMilli(c.clock))
}

// Sync applies a remote playback state. While playing, the position is
// advanced by the time elapsed since observedAt. The element is only
// seeked when it is further than the seek tolerance from the target.
func (c *Controller) Sync(playing bool, position, observedAt int64) {
	now := clock.UnixMilli(c.clock)
	target := AdjustedPosition(playing, position, observedAt, now)

	c.mu.Lock()
	c.applied = &PlaybackState{Playing: playing, Position: target, ObservedAt: now}
	c.mu.Unlock()

	var err error
	if playing {
		err = c.element.Play()
	} else {
		err = c.element.Pause()
	}
	if err != nil {
		c.logger.Warn("applying remote playback state", "playing", playing, "error", err)
	}
	if abs(c.element.Position()-target) > c.tolerance {
		c.element.SetPosition(target)
	}
}

// Handle applies an inbound media packet. Packets of other types are
// ignored; invalid media packets are logged and dropped.
func (c *Controller) Handle(packet protocol.Packet) {
	var err error
	switch packet.Type {
	case protocol.TypePlayMedia:
		var play protocol.PlayMedia
		if err = packet.Decode(&play); err == nil {
			c.Play(play.Time, play.Timestamp)
		}
	case protocol.TypePauseMedia:
		var pause protocol.PauseMedia
		if err = packet.Decode(&pause); err == nil {
			c.Pause(pause.Time)
		}
	case protocol.TypeSyncMedia:
		var sync protocol.SyncMedia
		if err = packet.Decode(&sync); err == nil {
			c.Sync(sync.Playing, sync.Time, sync.Timestamp)
		}
	default:
		return
	}
	if err != nil {
		c.logger.Error("dropping invalid media packet", "packet", packet.Type, "error", err)
	}
}

// StartHeartbeat re-broadcasts the current state every heartbeat
// interval until Stop. Calling it again has no effect.
func (c *Controller) StartHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeat != nil || c.stopped() {
		return
	}
	c.heartbeat = c.clock.NewTicker(c.interval)
	go c.beat(c.heartbeat)
}

// Stop detaches the Controller from its element. Observers are
// removed and the heartbeat ends.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		if c.heartbeat != nil {
			c.heartbeat.Stop()
		}
		c.mu.Unlock()
		c.packets.Clear()
	})
}

func (c *Controller) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Controller) beat(ticker *clock.Ticker) {
	for {
		select {
		case <-ticker.C:
			c.broadcast()
		case <-c.done:
			return
		}
	}
}

func (c *Controller) watch() {
	events := c.element.Events()
	for {
		select {
		case elementEvent, ok := <-events:
			if !ok {
				c.logger.Debug("media element went away")
				return
			}
			c.onElementEvent(elementEvent)
		case <-c.done:
			return
		}
	}
}

func (c *Controller) onElementEvent(elementEvent ElementEvent) {
	state := c.State()
	if c.isEcho(elementEvent, state) {
		c.logger.Debug("suppressing echo of remote state", "event", elementEvent, "position", state.Position)
		return
	}
	c.logger.Debug("local playback change", "event", elementEvent,
		"playing", state.Playing, "position", state.Position)
	c.emit(state)
}

// isEcho reports whether an element event is explained by the last
// applied remote state. Play and pause events match on direction; a
// seek matches when the playhead is within the tolerance of the
// applied position projected to now. A mismatch clears the applied
// state: the user has taken over.
func (c *Controller) isEcho(elementEvent ElementEvent, state PlaybackState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applied == nil {
		return false
	}
	var matches bool
	switch elementEvent {
	case EventPlay:
		matches = c.applied.Playing
	case EventPause:
		matches = !c.applied.Playing
	case EventSeeked:
		expected := AdjustedPosition(c.applied.Playing, c.applied.Position, c.applied.ObservedAt, state.ObservedAt)
		matches = abs(state.Position-expected) <= c.tolerance
	}
	if !matches {
		c.applied = nil
	}
	return matches
}

func (c *Controller) broadcast() {
	c.emit(c.State())
}

func (c *Controller) emit(state PlaybackState) {
	if c.stopped() {
		return
	}
	packet, err := protocol.New(&protocol.SyncMedia{
		Playing:   state.Playing,
		Time:      state.Position,
		Timestamp: state.ObservedAt,
	})
	if err != nil {
		c.logger.Error("encoding playback state", "error", err)
		return
	}
	c.packets.Emit(packet)
}

func abs(value int64) int64 {
	if value < 0 {
		return -value
	}
	return value
}
