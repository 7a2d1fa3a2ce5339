// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package mediasync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lockstep-party/lockstep/lib/clock"
)

// simulatedEventBuffer bounds undelivered element events. Events past
// the bound are dropped, as a busy page would coalesce them.
const simulatedEventBuffer = 64

// SimulatedElement is a MediaElement whose playhead advances with a
// clock. It backs the demo binary and tests.
type SimulatedElement struct {
	clock    clock.Clock
	duration int64

	mu       sync.Mutex
	paused   bool
	position int64     // position at anchor
	anchor   time.Time // when position was last rebased
	events   chan ElementEvent
	closed   bool
}

var _ MediaElement = (*SimulatedElement)(nil)

// NewSimulatedElement returns a paused element at position 0. A
// positive duration stops the playhead at the end of the media.
func NewSimulatedElement(c clock.Clock, duration time.Duration) *SimulatedElement {
	return &SimulatedElement{
		clock:    c,
		duration: duration.Milliseconds(),
		paused:   true,
		anchor:   c.Now(),
		events:   make(chan ElementEvent, simulatedEventBuffer),
	}
}

// Position returns the playhead in milliseconds.
func (e *SimulatedElement) Position() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked(e.clock.Now())
}

// Paused reports whether playback is paused.
func (e *SimulatedElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// SetPosition seeks and reports EventSeeked.
func (e *SimulatedElement) SetPosition(position int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = e.clamp(position)
	e.anchor = e.clock.Now()
	e.notifyLocked(EventSeeked)
}

// Play resumes playback and reports EventPlay. Playing an element that
// is already playing changes nothing.
func (e *SimulatedElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("playing: element closed")
	}
	if !e.paused {
		return nil
	}
	now := e.clock.Now()
	e.position = e.positionLocked(now)
	e.anchor = now
	e.paused = false
	e.notifyLocked(EventPlay)
	return nil
}

// Pause stops playback and reports EventPause. Pausing a paused
// element changes nothing.
func (e *SimulatedElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("pausing: element closed")
	}
	if e.paused {
		return nil
	}
	now := e.clock.Now()
	e.position = e.positionLocked(now)
	e.anchor = now
	e.paused = true
	e.notifyLocked(EventPause)
	return nil
}

// Events delivers the element's notifications.
func (e *SimulatedElement) Events() <-chan ElementEvent {
	return e.events
}

// Close removes the element; Events is closed.
func (e *SimulatedElement) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}

func (e *SimulatedElement) positionLocked(now time.Time) int64 {
	if e.paused {
		return e.position
	}
	return e.clamp(e.position + now.Sub(e.anchor).Milliseconds())
}

func (e *SimulatedElement) clamp(position int64) int64 {
	if position < 0 {
		return 0
	}
	if e.duration > 0 && position > e.duration {
		return e.duration
	}
	return position
}

func (e *SimulatedElement) notifyLocked(elementEvent ElementEvent) {
	if e.closed {
		return
	}
	select {
	case e.events <- elementEvent:
	default:
	}
}

// SimulatedPage is an in-memory page: a URL, the media candidates on
// it, and the elements they resolve to. It implements Discoverer and
// Navigator.
type SimulatedPage struct {
	mu         sync.Mutex
	href       string
	candidates []Candidate
	elements   map[string]MediaElement
	visits     []string
}

var (
	_ Discoverer = (*SimulatedPage)(nil)
	_ Navigator  = (*SimulatedPage)(nil)
)

// NewSimulatedPage returns a page showing href.
func NewSimulatedPage(href string) *SimulatedPage {
	return &SimulatedPage{href: href, elements: make(map[string]MediaElement)}
}

// AddMedia places element on the page as candidate.
func (p *SimulatedPage) AddMedia(candidate Candidate, element MediaElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, candidate)
	p.elements[elementKey(candidate.FrameHref, candidate.ElementQuery)] = element
}

// Discover reports every candidate on the page.
func (p *SimulatedPage) Discover(ctx context.Context, report func(Candidate)) {
	p.mu.Lock()
	candidates := append([]Candidate(nil), p.candidates...)
	p.mu.Unlock()
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}
		report(candidate)
	}
}

// Location returns the current URL.
func (p *SimulatedPage) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.href, nil
}

// Navigate changes the current URL and records the visit.
func (p *SimulatedPage) Navigate(_ context.Context, href string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.href = href
	p.visits = append(p.visits, href)
	return nil
}

// Visits returns every URL passed to Navigate, in order.
func (p *SimulatedPage) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

// Bind returns the element registered for frameHref and elementQuery.
func (p *SimulatedPage) Bind(_ context.Context, frameHref, elementQuery string) (MediaElement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	element, ok := p.elements[elementKey(frameHref, elementQuery)]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrElementNotFound, elementQuery, frameHref)
	}
	return element, nil
}

func elementKey(frameHref, elementQuery string) string {
	return frameHref + "\x00" + elementQuery
}
