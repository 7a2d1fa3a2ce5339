// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Payload is the typed body of a packet.
type Payload interface {
	PacketType() PacketType
}

// requiredFields lists, per packet type, the fields that must be
// present for Decode to succeed. Presence is checked separately from
// value validation because a zero time or a false playing flag is a
// legitimate value.
var requiredFields = map[PacketType][]string{
	TypeAuthToken:     {"username", "token"},
	TypeSessionUpdate: {"host", "guests"},
	TypePlayMedia:     {"time", "timestamp"},
	TypePauseMedia:    {"time"},
	TypeSyncMedia:     {"playing", "time", "timestamp"},
	TypeMediaSyncInit: {"protocolVersion", "windowHref", "frameHref", "elementQuery"},
}

// AuthToken is sent by a joining peer to prove it holds the session's
// access token.
type AuthToken struct {
	Username string `cbor:"username" validate:"max=256"`
	Token    string `cbor:"token" validate:"max=1024"`
}

// AuthAck confirms a successful AuthToken.
type AuthAck struct{}

// SessionUpdate carries the host's roster to every guest.
type SessionUpdate struct {
	Host   string   `cbor:"host"`
	Guests []string `cbor:"guests" validate:"max=1024"`
}

// PlayMedia starts playback at Time (milliseconds into the media) as
// observed at Timestamp (milliseconds since the Unix epoch).
type PlayMedia struct {
	Time      int64 `cbor:"time" validate:"gte=0"`
	Timestamp int64 `cbor:"timestamp" validate:"gte=0"`
}

// PauseMedia pauses playback at Time.
type PauseMedia struct {
	Time int64 `cbor:"time" validate:"gte=0"`
}

// SyncMedia is the full playback state of the sender's media element.
type SyncMedia struct {
	Playing   bool  `cbor:"playing"`
	Time      int64 `cbor:"time" validate:"gte=0"`
	Timestamp int64 `cbor:"timestamp" validate:"gte=0"`
}

// StartMediaSync asks the host to relay media packets to the sender.
type StartMediaSync struct{}

// StopMediaSync asks the host to stop relaying media packets.
type StopMediaSync struct{}

// MediaSyncInit tells a guest which media element to synchronize.
type MediaSyncInit struct {
	ProtocolVersion int    `cbor:"protocolVersion"`
	WindowHref      string `cbor:"windowHref" validate:"required"`
	FrameHref       string `cbor:"frameHref" validate:"required"`
	ElementQuery    string `cbor:"elementQuery" validate:"required"`
}

func (*AuthToken) PacketType() PacketType      { return TypeAuthToken }
func (*AuthAck) PacketType() PacketType        { return TypeAuthAck }
func (*SessionUpdate) PacketType() PacketType  { return TypeSessionUpdate }
func (*PlayMedia) PacketType() PacketType      { return TypePlayMedia }
func (*PauseMedia) PacketType() PacketType     { return TypePauseMedia }
func (*SyncMedia) PacketType() PacketType      { return TypeSyncMedia }
func (*StartMediaSync) PacketType() PacketType { return TypeStartMediaSync }
func (*StopMediaSync) PacketType() PacketType  { return TypeStopMediaSync }
func (*MediaSyncInit) PacketType() PacketType  { return TypeMediaSyncInit }
