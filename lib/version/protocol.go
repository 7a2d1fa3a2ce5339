// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package version

// Protocol is the media-sync protocol version spoken by this build.
const Protocol = 1

// Compatibility is the outcome of comparing a remote protocol version
// with Protocol.
type Compatibility int

const (
	// Compatible means both sides speak the same version.
	Compatible Compatibility = iota
	// RemoteTooOld means the remote side speaks an older version.
	RemoteTooOld
	// LocalTooOld means the remote side speaks a newer version.
	LocalTooOld
)

func (c Compatibility) String() string {
	switch c {
	case Compatible:
		return "compatible"
	case RemoteTooOld:
		return "remote too old"
	case LocalTooOld:
		return "local too old"
	default:
		return "unknown"
	}
}

// CompareProtocol classifies a remote protocol version.
func CompareProtocol(remote int) Compatibility {
	switch {
	case remote < Protocol:
		return RemoteTooOld
	case remote > Protocol:
		return LocalTooOld
	default:
		return Compatible
	}
}
