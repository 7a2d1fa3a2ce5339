// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package mediasync

import (
	"context"
	"errors"
	"fmt"
)

// ElementEvent is a state change reported by a media element.
type ElementEvent int

const (
	EventPlay ElementEvent = iota
	EventPause
	EventSeeked
)

func (e ElementEvent) String() string {
	switch e {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventSeeked:
		return "seeked"
	default:
		return fmt.Sprintf("ElementEvent(%d)", int(e))
	}
}

// MediaElement is a playable media element. Positions are in
// milliseconds from the start of the media. Like a browser media
// element, it reports programmatic changes through Events as well as
// user-initiated ones.
type MediaElement interface {
	Position() int64
	Paused() bool
	SetPosition(position int64)
	Play() error
	Pause() error

	// Events delivers play, pause and seeked notifications. It is
	// closed when the element goes away.
	Events() <-chan ElementEvent
}

// Candidate is a media element found on a page.
type Candidate struct {
	FrameHref    string
	ElementQuery string

	// Visibility is the visible fraction of the element, 0 to 1.
	Visibility float64

	// Area is the element's on-screen area in pixels.
	Area float64
}

// Score ranks candidates; the highest is synchronized.
func (c Candidate) Score() float64 {
	return c.Visibility * c.Area
}

// Discoverer finds media elements on the current page. Discover
// reports each candidate through report as it is found. It returns
// when it has nothing more to report or when ctx is done, whichever
// comes first; reports after ctx is done are ignored.
type Discoverer interface {
	Discover(ctx context.Context, report func(Candidate))
}

// ErrElementNotFound is returned by Navigator.Bind when no element
// matches.
var ErrElementNotFound = errors.New("media element not found")

// Navigator controls the page media is played on.
type Navigator interface {
	// Location returns the page's current URL.
	Location(ctx context.Context) (string, error)

	// Navigate loads href.
	Navigate(ctx context.Context, href string) error

	// Bind returns the element matching elementQuery inside the frame
	// at frameHref, waiting for the frame to load if necessary.
	Bind(ctx context.Context, frameHref, elementQuery string) (MediaElement, error)
}

// selectCandidate returns the best-scoring usable candidate.
func selectCandidate(candidates []Candidate) (Candidate, bool) {
	var best Candidate
	found := false
	for _, candidate := range candidates {
		if candidate.Score() <= 0 {
			continue
		}
		if !found || candidate.Score() > best.Score() {
			best = candidate
			found = true
		}
	}
	return best, found
}
