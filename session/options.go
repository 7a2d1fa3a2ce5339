// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"time"

	"github.com/lockstep-party/lockstep/auth"
	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/lib/config"
	"github.com/lockstep-party/lockstep/mediasync"
	"github.com/lockstep-party/lockstep/peer"
)

// DefaultConnectionTimeout is how long a client waits for the link to
// the host to open before closing with Timeout.
const DefaultConnectionTimeout = 5 * time.Second

// Page is the local browsing context a session synchronizes: it finds
// media elements and navigates to the host's page. A nil Page disables
// media sync for the session.
type Page interface {
	mediasync.Discoverer
	mediasync.Navigator
}

// Options tunes session handlers. Zero values take the defaults of
// the package that owns each timeout.
type Options struct {
	// OpenTimeout bounds how long a link may take to open.
	OpenTimeout time.Duration

	// ConnectionTimeout bounds a client's wait for the host link.
	ConnectionTimeout time.Duration

	// AuthTimeout bounds each side of the token handshake.
	AuthTimeout time.Duration

	DiscoveryTimeout     time.Duration
	FrameResponseTimeout time.Duration
	SeekTolerance        time.Duration
	HeartbeatInterval    time.Duration

	Clock    clock.Clock
	Logger   *slog.Logger
	Notifier Notifier
}

// OptionsFromConfig maps the timeouts and media sync settings of cfg
// onto Options. Clock, Logger and Notifier are left for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OpenTimeout:          cfg.Timeouts.Open,
		ConnectionTimeout:    cfg.Timeouts.Connection,
		AuthTimeout:          cfg.Timeouts.AuthResponse,
		DiscoveryTimeout:     cfg.Timeouts.Discovery,
		FrameResponseTimeout: cfg.Timeouts.FrameResponse,
		SeekTolerance:        cfg.MediaSync.SeekTolerance,
		HeartbeatInterval:    cfg.MediaSync.HeartbeatInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = DefaultConnectionTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) peerOptions(logger *slog.Logger) peer.Options {
	return peer.Options{
		OpenTimeout: o.OpenTimeout,
		Clock:       o.Clock,
		Logger:      logger,
	}
}

func (o Options) authOptions(logger *slog.Logger) auth.Options {
	return auth.Options{
		Timeout: o.AuthTimeout,
		Logger:  logger,
	}
}

func (o Options) controllerOptions(logger *slog.Logger) mediasync.ControllerOptions {
	return mediasync.ControllerOptions{
		SeekTolerance:     o.SeekTolerance,
		HeartbeatInterval: o.HeartbeatInterval,
		Clock:             o.Clock,
		Logger:            logger,
	}
}
