// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lockstep-party/lockstep/protocol"
	"github.com/lockstep-party/lockstep/session"
)

// partyView is what the panel shows for one slot.
type partyView struct {
	Slot     string
	Status   *session.Status
	Reason   *protocol.CloseReason
	Position time.Duration
	Playing  bool
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	slotStyle    = lipgloss.NewStyle().Bold(true).Width(10)
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
	stateColours = map[string]lipgloss.Color{
		"connected":    lipgloss.Color("2"),
		"connecting":   lipgloss.Color("3"),
		"disconnected": lipgloss.Color("1"),
		"closed":       lipgloss.Color("1"),
	}
)

// renderPanel draws one line per party inside a bordered panel no
// wider than width.
func renderPanel(views []partyView, width int) string {
	lines := []string{titleStyle.Render("lockstep party")}
	for _, view := range views {
		lines = append(lines, renderParty(view))
	}
	inner := max(width-panelStyle.GetHorizontalFrameSize(), 20)
	body := lipgloss.NewStyle().MaxWidth(inner).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	return panelStyle.Render(body)
}

func renderParty(view partyView) string {
	state, detail := "closed", ""
	switch {
	case view.Status != nil:
		state = view.Status.ConnectionState.String()
		detail = rosterLine(view.Status)
	case view.Reason != nil:
		detail = view.Reason.Description()
	default:
		state = "connecting"
	}

	badge := lipgloss.NewStyle().Foreground(stateColours[state]).Width(13).Render(state)
	return lipgloss.JoinHorizontal(lipgloss.Top,
		slotStyle.Render(view.Slot),
		badge,
		lipgloss.NewStyle().Width(14).Render(playbackLine(view)),
		faintStyle.Render(detail),
	)
}

func playbackLine(view partyView) string {
	symbol := "❚❚"
	if view.Playing {
		symbol = "▶"
	}
	return fmt.Sprintf("%s %s", symbol, formatPosition(view.Position))
}

func rosterLine(status *session.Status) string {
	host := status.Host
	if host == "" {
		host = "?"
	}
	return fmt.Sprintf("%s hosting %s", host, strings.Join(status.Guests, ", "))
}

// formatPosition renders d as h:mm:ss, dropping the hour when zero.
func formatPosition(d time.Duration) string {
	d = d.Truncate(time.Second)
	hours := int(d / time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)
	seconds := int(d%time.Minute) / int(time.Second)
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
