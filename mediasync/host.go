// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package mediasync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lockstep-party/lockstep/lib/event"
	"github.com/lockstep-party/lockstep/lib/version"
	"github.com/lockstep-party/lockstep/protocol"
)

// DefaultDiscoveryTimeout is how long the host collects candidates.
const DefaultDiscoveryTimeout = 500 * time.Millisecond

// ErrNoMedia means discovery found no usable media element.
var ErrNoMedia = errors.New("no suitable media found")

// HostOptions configures a Host.
type HostOptions struct {
	// DiscoveryTimeout defaults to DefaultDiscoveryTimeout.
	DiscoveryTimeout time.Duration

	// Controller configures the Controller bound to the chosen
	// element. Its Clock and Logger are used by the Host too.
	Controller ControllerOptions
}

// Host chooses the media element a session synchronizes, attaches it
// to the session's Server, and tells guests where to find it.
type Host struct {
	server            *Server
	discoverer        Discoverer
	navigator         Navigator
	timeout           time.Duration
	controllerOptions ControllerOptions
	logger            *slog.Logger

	closes event.Emitter[protocol.CloseReason]

	mu         sync.Mutex
	running    bool
	media      *Candidate
	controller *Controller
	local      *Subscription
}

// NewHost returns a Host publishing through server.
func NewHost(server *Server, discoverer Discoverer, navigator Navigator, options HostOptions) *Host {
	if options.DiscoveryTimeout <= 0 {
		options.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	controllerOptions := options.Controller.withDefaults()
	return &Host{
		server:            server,
		discoverer:        discoverer,
		navigator:         navigator,
		timeout:           options.DiscoveryTimeout,
		controllerOptions: controllerOptions,
		logger:            controllerOptions.Logger,
	}
}

// OnClose registers fn for the reason the Host gave up. The session
// owning the Host closes with that reason.
func (h *Host) OnClose(fn func(protocol.CloseReason)) event.Handle {
	return h.closes.On(fn)
}

// Start discovers and binds the media element. With no usable
// candidate the Host stops, reports ReasonNoMedia and returns
// ErrNoMedia.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	if err := h.connectToMedia(ctx); err != nil {
		return err
	}
	h.logger.Info("media sync host started")
	return nil
}

// Stop releases the element and leaves the bus.
func (h *Host) Stop() {
	h.mu.Lock()
	h.running = false
	controller, local := h.controller, h.local
	h.controller, h.local = nil, nil
	h.mu.Unlock()

	if local != nil {
		local.Cancel()
	}
	if controller != nil {
		controller.Stop()
	}
}

// Controller returns the bound Controller, or nil before Start.
func (h *Host) Controller() *Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controller
}

// InitPacket builds the MEDIA_SYNC_INIT packet for the current media.
func (h *Host) InitPacket(ctx context.Context) (protocol.Packet, error) {
	h.mu.Lock()
	media := h.media
	h.mu.Unlock()
	if media == nil {
		return protocol.Packet{}, errors.New("no media selected")
	}

	windowHref, err := h.navigator.Location(ctx)
	if err != nil {
		return protocol.Packet{}, fmt.Errorf("looking up page location: %w", err)
	}
	return protocol.New(&protocol.MediaSyncInit{
		ProtocolVersion: version.Protocol,
		WindowHref:      windowHref,
		FrameHref:       media.FrameHref,
		ElementQuery:    media.ElementQuery,
	})
}

// InitConnection sends the init packet to a newly joined guest.
func (h *Host) InitConnection(ctx context.Context, conn Conn) error {
	packet, err := h.InitPacket(ctx)
	if err != nil {
		return err
	}
	return conn.Send(packet)
}

// Navigated re-selects the media after the host's page changed and
// re-broadcasts the init packet to every guest.
func (h *Host) Navigated(ctx context.Context) error {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running {
		return nil
	}

	if err := h.connectToMedia(ctx); err != nil {
		return err
	}
	packet, err := h.InitPacket(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	local := h.local
	h.mu.Unlock()
	if local != nil {
		h.logger.Info("re-broadcasting media sync init after navigation")
		local.Broadcast(packet)
	}
	return nil
}

func (h *Host) connectToMedia(ctx context.Context) error {
	candidates := h.discover(ctx)
	selected, ok := selectCandidate(candidates)
	if !ok {
		h.logger.Info("no suitable media elements found in page", "candidates", len(candidates))
		h.Stop()
		h.closes.Emit(protocol.ReasonNoMedia)
		return ErrNoMedia
	}

	h.logger.Info("binding media element",
		"frame", selected.FrameHref, "query", selected.ElementQuery, "score", selected.Score())
	element, err := h.navigator.Bind(ctx, selected.FrameHref, selected.ElementQuery)
	if err != nil {
		h.logger.Error("binding media element", "error", err)
		h.Stop()
		h.closes.Emit(protocol.ReasonUnknown)
		return fmt.Errorf("binding media element: %w", err)
	}

	controller := NewController(element, h.controllerOptions)
	controller.StartHeartbeat()
	local := h.server.SubscribeLocal(controller)

	h.mu.Lock()
	previousController, previousLocal := h.controller, h.local
	h.media = &selected
	h.controller, h.local = controller, local
	h.mu.Unlock()

	if previousLocal != nil {
		previousLocal.Cancel()
	}
	if previousController != nil {
		previousController.Stop()
	}
	return nil
}

// discover collects candidates until the discovery timeout, or until
// the Discoverer returns.
func (h *Host) discover(ctx context.Context) []Candidate {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var candidates []Candidate
	open := true
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		h.discoverer.Discover(ctx, func(candidate Candidate) {
			mu.Lock()
			defer mu.Unlock()
			if open {
				candidates = append(candidates, candidate)
			}
		})
	}()

	expired := make(chan struct{})
	timer := h.controllerOptions.Clock.AfterFunc(h.timeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case <-finished:
	case <-expired:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	open = false
	return candidates
}
