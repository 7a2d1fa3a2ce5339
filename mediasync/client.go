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

// DefaultFrameResponseTimeout is how long the client waits for the
// host's media element to become available.
const DefaultFrameResponseTimeout = 6 * time.Second

var errFrameResponseTimeout = errors.New("timed out waiting for media element")

// ClientOptions configures a Client.
type ClientOptions struct {
	// FrameResponseTimeout defaults to DefaultFrameResponseTimeout.
	FrameResponseTimeout time.Duration

	// Controller configures the Controller bound on init. Its Clock
	// and Logger are used by the Client too.
	Controller ControllerOptions
}

// Client is the guest side of media sync on one host connection.
type Client struct {
	conn              Conn
	navigator         Navigator
	timeout           time.Duration
	controllerOptions ControllerOptions
	logger            *slog.Logger

	closes event.Emitter[protocol.CloseReason]
	bound  event.Emitter[*Controller]

	ctx    context.Context
	cancel context.CancelFunc

	// initMu serializes init handling so a second init cannot race
	// the first one's navigation.
	initMu sync.Mutex

	mu           sync.Mutex
	started      bool
	stopped      bool
	packetHandle event.Handle
	controller   *Controller
}

// NewClient returns a Client for conn.
func NewClient(conn Conn, navigator Navigator, options ClientOptions) *Client {
	if options.FrameResponseTimeout <= 0 {
		options.FrameResponseTimeout = DefaultFrameResponseTimeout
	}
	controllerOptions := options.Controller.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:              conn,
		navigator:         navigator,
		timeout:           options.FrameResponseTimeout,
		controllerOptions: controllerOptions,
		logger:            controllerOptions.Logger.With("remote", conn.RemoteID()),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// OnClose registers fn for the reason the Client gave up.
func (c *Client) OnClose(fn func(protocol.CloseReason)) event.Handle {
	return c.closes.On(fn)
}

// OnBound registers fn for each Controller bound after an init.
func (c *Client) OnBound(fn func(*Controller)) event.Handle {
	return c.bound.On(fn)
}

// Controller returns the bound Controller, or nil before the first
// successful init.
func (c *Client) Controller() *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

// Start listens for host packets and asks the host to start relaying.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.packetHandle = c.conn.OnPacket(c.onPacket)
	c.mu.Unlock()

	if err := c.conn.SendPayload(&protocol.StartMediaSync{}); err != nil {
		return fmt.Errorf("requesting media sync: %w", err)
	}
	c.logger.Info("media sync client listening")
	return nil
}

// Stop releases the element and asks the host to stop relaying.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	controller := c.controller
	c.controller = nil
	c.mu.Unlock()

	c.cancel()
	if controller != nil {
		controller.Stop()
	}
	if !started {
		return
	}
	c.conn.Off(c.packetHandle)
	if err := c.conn.SendPayload(&protocol.StopMediaSync{}); err != nil {
		c.logger.Debug("sending stop request", "error", err)
	}
	c.logger.Info("media sync client stopped")
}

func (c *Client) onPacket(packet protocol.Packet) {
	if packet.Type == protocol.TypeMediaSyncInit {
		go c.handleInit(packet)
		return
	}
	if controller := c.Controller(); controller != nil {
		controller.Handle(packet)
	}
}

func (c *Client) handleInit(packet protocol.Packet) {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	var init protocol.MediaSyncInit
	if err := packet.Decode(&init); err != nil {
		c.logger.Error("received malformed media sync init", "error", err)
		c.fail(protocol.ReasonUnexpectedPacket)
		return
	}
	switch version.CompareProtocol(init.ProtocolVersion) {
	case version.RemoteTooOld:
		c.logger.Warn("host speaks an older protocol", "host", init.ProtocolVersion, "local", version.Protocol)
		c.fail(protocol.ReasonHostTooOld)
		return
	case version.LocalTooOld:
		c.logger.Warn("host speaks a newer protocol", "host", init.ProtocolVersion, "local", version.Protocol)
		c.fail(protocol.ReasonClientTooOld)
		return
	}

	if err := c.navigateTo(init.WindowHref); err != nil {
		if c.ctx.Err() == nil {
			c.logger.Error("navigating to host page", "href", init.WindowHref, "error", err)
			c.fail(protocol.ReasonUnknown)
		}
		return
	}
	element, err := c.bind(init.FrameHref, init.ElementQuery)
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Error("binding media element", "frame", init.FrameHref, "query", init.ElementQuery, "error", err)
			c.fail(protocol.ReasonUnknown)
		}
		return
	}

	controller := NewController(element, c.controllerOptions)
	controller.OnPacket(func(packet protocol.Packet) {
		if err := c.conn.Send(packet); err != nil {
			c.logger.Debug("sending playback state", "error", err)
		}
	})

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		controller.Stop()
		return
	}
	previous := c.controller
	c.controller = controller
	c.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
	c.logger.Info("media element bound", "frame", init.FrameHref, "query", init.ElementQuery)
	c.bound.Emit(controller)
}

func (c *Client) navigateTo(href string) error {
	current, err := c.navigator.Location(c.ctx)
	if err != nil {
		return fmt.Errorf("looking up current location: %w", err)
	}
	if current == href {
		return nil
	}
	c.logger.Info("navigating to host page", "href", href)
	return c.navigator.Navigate(c.ctx, href)
}

// bind waits up to the frame response timeout for the element.
func (c *Client) bind(frameHref, elementQuery string) (MediaElement, error) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	type bindResult struct {
		element MediaElement
		err     error
	}
	results := make(chan bindResult, 1)
	go func() {
		element, err := c.navigator.Bind(ctx, frameHref, elementQuery)
		results <- bindResult{element, err}
	}()

	expired := make(chan struct{})
	timer := c.controllerOptions.Clock.AfterFunc(c.timeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case result := <-results:
		return result.element, result.err
	case <-expired:
		return nil, errFrameResponseTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) fail(reason protocol.CloseReason) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if !stopped {
		c.closes.Emit(reason)
	}
}
