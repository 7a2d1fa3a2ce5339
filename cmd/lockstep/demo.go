// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/lockstep-party/lockstep/cmd/lockstep/cli"
	"github.com/lockstep-party/lockstep/lib/clock"
	"github.com/lockstep-party/lockstep/lib/config"
	"github.com/lockstep-party/lockstep/mediasync"
	"github.com/lockstep-party/lockstep/protocol"
	"github.com/lockstep-party/lockstep/session"
	"github.com/lockstep-party/lockstep/transport"
)

const (
	demoHref     = "https://watch.lockstep.invalid/feature"
	demoLength   = 2 * time.Hour
	demoSeekJump = 90 * time.Second
	hostSlot     = "host"
)

var demoCandidate = mediasync.Candidate{
	FrameHref:    demoHref,
	ElementQuery: "video#feature",
	Visibility:   1,
	Area:         1920 * 1080,
}

type demoOptions struct {
	global    globalOptions
	guests    int
	transport string
	duration  time.Duration
	refresh   time.Duration
}

func demoCommand(out io.Writer) *cli.Command {
	var options demoOptions
	return &cli.Command{
		Name:    "demo",
		Summary: "Run a host and guests in-process with simulated players",
		Description: "Run a host and guests in-process with simulated players.\n\n" +
			"The host plays, seeks and pauses on a schedule; every guest's\n" +
			"player follows over the chosen transport.",
		Usage: "lockstep demo [--guests N] [--transport memory|webrtc] [--duration D]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("demo", pflag.ContinueOnError)
			options.global.register(flagSet)
			flagSet.IntVar(&options.guests, "guests", 2, "number of guests joining the host")
			flagSet.StringVar(&options.transport, "transport", "", "link provider: memory or webrtc (default from config)")
			flagSet.DurationVar(&options.duration, "duration", 12*time.Second, "how long the demo runs")
			flagSet.DurationVar(&options.refresh, "refresh", 500*time.Millisecond, "status panel refresh interval")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, logger, err := options.global.load()
			if err != nil {
				return err
			}
			return runDemo(ctx, cfg, logger, options, out)
		},
	}
}

// party is one slot of the demo: its page, its player and the last
// status the manager published for it.
type party struct {
	slot    string
	page    *mediasync.SimulatedPage
	element *mediasync.SimulatedElement

	status *session.Status
	reason *protocol.CloseReason
}

type demo struct {
	clock   clock.Clock
	logger  *slog.Logger
	manager *session.Manager

	mu      sync.Mutex
	parties []*party
	bySlot  map[string]*party
}

func runDemo(ctx context.Context, cfg *config.Config, logger *slog.Logger, options demoOptions, out io.Writer) error {
	if options.guests < 1 {
		return errors.New("--guests must be at least 1")
	}
	if options.duration <= 0 || options.refresh <= 0 {
		return errors.New("--duration and --refresh must be positive")
	}
	kind := options.transport
	if kind == "" {
		kind = cfg.Transport.Kind
	}
	newTransport, err := transportFactory(kind, cfg, logger)
	if err != nil {
		return err
	}

	d := &demo{clock: clock.Real(), logger: logger, bySlot: make(map[string]*party)}
	d.addParty(hostSlot, demoHref)
	for i := range options.guests {
		d.addParty(fmt.Sprintf("guest-%d", i+1), "about:blank")
	}
	defer d.closeElements()

	sessionOptions := session.OptionsFromConfig(cfg)
	sessionOptions.Clock = d.clock
	sessionOptions.Logger = logger
	sessionOptions.Notifier = session.LogNotifier{Logger: logger}
	d.manager, err = session.NewManager(session.ManagerConfig{
		NewTransport: newTransport,
		Page:         d.page,
		Options:      sessionOptions,
	})
	if err != nil {
		return err
	}
	d.manager.OnStatus(d.onStatus)
	d.manager.OnClosed(d.onClosed)
	defer d.manager.Close(protocol.ReasonClosedByUser)

	hostSession, err := d.manager.RequestHostSession(ctx, hostSlot, cfg.Username)
	if err != nil {
		return fmt.Errorf("starting host session: %w", err)
	}
	hostStatus := hostSession.Status()
	if hostStatus == nil {
		return errors.New("host session closed while starting")
	}
	logger.Info("demo party hosted", "host_id", hostStatus.HostID, "transport", kind, "guests", options.guests)

	for _, p := range d.guests() {
		if _, err := d.manager.RequestClientSession(ctx, p.slot, p.slot, hostStatus.HostID, hostStatus.AccessToken); err != nil {
			return fmt.Errorf("joining %s: %w", p.slot, err)
		}
	}

	d.schedule(options.duration)
	err = d.show(ctx, options, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// transportFactory returns the per-session transport constructor for
// kind. WebRTC transports in one demo share a MemorySignaler.
func transportFactory(kind string, cfg *config.Config, logger *slog.Logger) (func(context.Context) (transport.Transport, error), error) {
	switch kind {
	case config.TransportMemory:
		network := transport.NewMemoryNetwork()
		return func(context.Context) (transport.Transport, error) {
			return network.NewTransport(), nil
		}, nil
	case config.TransportWebRTC:
		signaler := transport.NewMemorySignaler()
		ice := transport.ICEConfigFromSettings(cfg.Transport.ICEServers)
		return func(ctx context.Context) (transport.Transport, error) {
			t := transport.NewWebRTCTransport(signaler, transport.WebRTCOptions{
				ICE:          ice,
				PollInterval: cfg.Transport.SignalingPollInterval,
				Logger:       logger,
			})
			t.Start(ctx)
			return t, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %s or %s)", kind, config.TransportMemory, config.TransportWebRTC)
	}
}

func (d *demo) addParty(slot, href string) {
	p := &party{
		slot:    slot,
		page:    mediasync.NewSimulatedPage(href),
		element: mediasync.NewSimulatedElement(d.clock, demoLength),
	}
	p.page.AddMedia(demoCandidate, p.element)
	d.parties = append(d.parties, p)
	d.bySlot[slot] = p
}

func (d *demo) page(slot string) session.Page {
	if p, ok := d.bySlot[slot]; ok {
		return p.page
	}
	return nil
}

func (d *demo) guests() []*party {
	return d.parties[1:]
}

func (d *demo) onStatus(event session.SlotStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.bySlot[event.Slot]; ok && event.Status != nil {
		p.status = event.Status
	}
}

func (d *demo) onClosed(event session.SlotClose) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.bySlot[event.Slot]; ok {
		reason := event.Reason
		p.reason = &reason
		p.status = nil
	}
}

// schedule arms the host's scripted actions across the run: play at
// once, jump forward at a third, pause at two thirds.
func (d *demo) schedule(duration time.Duration) {
	host := d.bySlot[hostSlot].element
	d.clock.AfterFunc(time.Second, func() {
		d.logger.Info("host presses play")
		if err := host.Play(); err != nil {
			d.logger.Warn("scripted play", "error", err)
		}
	})
	d.clock.AfterFunc(duration/3, func() {
		d.logger.Info("host seeks forward", "by", demoSeekJump)
		host.SetPosition(host.Position() + demoSeekJump.Milliseconds())
	})
	d.clock.AfterFunc(2*duration/3, func() {
		d.logger.Info("host presses pause")
		if err := host.Pause(); err != nil {
			d.logger.Warn("scripted pause", "error", err)
		}
	})
}

// show renders the panel until the run ends, then reports guests that
// dropped out.
func (d *demo) show(ctx context.Context, options demoOptions, out io.Writer) error {
	terminal := cli.StdoutIsTerminal()
	ticker := d.clock.NewTicker(options.refresh)
	defer ticker.Stop()
	finished := d.clock.After(options.duration)

	for {
		select {
		case <-ticker.C:
			if terminal {
				fmt.Fprint(out, "\x1b[H\x1b[2J", d.render(), "\n")
			}
		case <-finished:
			fmt.Fprintln(out, d.render())
			return d.verdict()
		case <-ctx.Done():
			fmt.Fprintln(out, d.render())
			return ctx.Err()
		}
	}
}

func (d *demo) render() string {
	d.mu.Lock()
	views := make([]partyView, len(d.parties))
	for i, p := range d.parties {
		views[i] = partyView{
			Slot:     p.slot,
			Status:   p.status,
			Reason:   p.reason,
			Position: time.Duration(p.element.Position()) * time.Millisecond,
			Playing:  !p.element.Paused(),
		}
	}
	d.mu.Unlock()
	return renderPanel(views, cli.TerminalWidth(80))
}

// verdict fails the run when a guest's session closed before the end.
func (d *demo) verdict() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var dropped []string
	for _, p := range d.guests() {
		if p.reason != nil {
			dropped = append(dropped, fmt.Sprintf("%s (%s)", p.slot, p.reason.Description()))
		}
	}
	if len(dropped) == 0 {
		return nil
	}
	slices.Sort(dropped)
	d.logger.Error("guests left the party early", "guests", dropped)
	return &cli.ExitError{Code: 1}
}

func (d *demo) closeElements() {
	for _, p := range d.parties {
		p.element.Close()
	}
}
