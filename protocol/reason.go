// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "fmt"

// CloseReason records why a session ended. The same values drive
// user-facing messages and protocol decisions.
type CloseReason int

const (
	ReasonUnknown CloseReason = iota
	ReasonUnauthorized
	ReasonDisconnected
	ReasonSuperseded
	ReasonTabClosed
	ReasonClosedByUser
	ReasonTimeout
	ReasonNoMedia
	ReasonClientTooOld
	ReasonHostTooOld
	ReasonUnexpectedPacket
)

var reasonNames = [...]string{
	ReasonUnknown:          "unknown",
	ReasonUnauthorized:     "unauthorized",
	ReasonDisconnected:     "disconnected",
	ReasonSuperseded:       "superseded",
	ReasonTabClosed:        "tab-closed",
	ReasonClosedByUser:     "closed-by-user",
	ReasonTimeout:          "timeout",
	ReasonNoMedia:          "no-media",
	ReasonClientTooOld:     "client-too-old",
	ReasonHostTooOld:       "host-too-old",
	ReasonUnexpectedPacket: "unexpected-packet",
}

var reasonDescriptions = [...]string{
	ReasonUnknown:          "Unknown reason",
	ReasonUnauthorized:     "Authorization failed",
	ReasonDisconnected:     "Disconnected",
	ReasonSuperseded:       "Superseded by a new session",
	ReasonTabClosed:        "Tab closed",
	ReasonClosedByUser:     "Closed by user",
	ReasonTimeout:          "Connection timed out",
	ReasonNoMedia:          "No suitable media found in page",
	ReasonClientTooOld:     "Client version too old",
	ReasonHostTooOld:       "Host version too old",
	ReasonUnexpectedPacket: "Received an unexpected packet",
}

func (r CloseReason) valid() bool {
	return r >= ReasonUnknown && r <= ReasonUnexpectedPacket
}

// String returns the reason's stable identifier, e.g. "superseded".
func (r CloseReason) String() string {
	if !r.valid() {
		return fmt.Sprintf("CloseReason(%d)", int(r))
	}
	return reasonNames[r]
}

// Description returns the sentence shown to a user when a session
// closes for this reason.
func (r CloseReason) Description() string {
	if !r.valid() {
		return reasonDescriptions[ReasonUnknown]
	}
	return reasonDescriptions[r]
}

// ParseCloseReason maps an identifier produced by String back to its
// CloseReason.
func ParseCloseReason(name string) (CloseReason, error) {
	for reason, candidate := range reasonNames {
		if candidate == name {
			return CloseReason(reason), nil
		}
	}
	return ReasonUnknown, fmt.Errorf("unknown close reason %q", name)
}
