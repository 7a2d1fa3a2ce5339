// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/lockstep-party/lockstep/lib/codec"
)

// PacketType is the "type" discriminator carried by every packet. The
// numeric values are part of the wire format.
type PacketType int

const (
	TypeAuthToken PacketType = iota
	TypeAuthAck
	TypeSessionUpdate
	TypePlayMedia
	TypePauseMedia
	TypeSyncMedia
	TypeStartMediaSync
	TypeStopMediaSync
	TypeMediaSyncInit
)

var packetTypeNames = [...]string{
	TypeAuthToken:      "AUTH_TOKEN",
	TypeAuthAck:        "AUTH_ACK",
	TypeSessionUpdate:  "SESSION_UPDATE",
	TypePlayMedia:      "PLAY_MEDIA",
	TypePauseMedia:     "PAUSE_MEDIA",
	TypeSyncMedia:      "SYNC_MEDIA",
	TypeStartMediaSync: "START_MEDIA_SYNC",
	TypeStopMediaSync:  "STOP_MEDIA_SYNC",
	TypeMediaSyncInit:  "MEDIA_SYNC_INIT",
}

// Known reports whether t is a packet type this build understands.
func (t PacketType) Known() bool {
	return t >= TypeAuthToken && t <= TypeMediaSyncInit
}

// IsMedia reports whether packets of type t carry playback state and
// are relayed between media-sync participants.
func (t PacketType) IsMedia() bool {
	return t == TypePlayMedia || t == TypePauseMedia || t == TypeSyncMedia
}

func (t PacketType) String() string {
	if !t.Known() {
		return fmt.Sprintf("PacketType(%d)", int(t))
	}
	return packetTypeNames[t]
}

var (
	// ErrMalformedPacket is wrapped by Parse failures: the bytes are
	// not a CBOR map, or "type" is missing, non-integer, or unknown.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrInvalidPayload is wrapped by Decode failures: a field the
	// payload needs is missing, has the wrong type, or fails a value
	// constraint.
	ErrInvalidPayload = errors.New("invalid packet payload")
)

// Packet is a parsed packet: a known type plus the raw encoding it
// arrived in. The zero Packet is not valid.
type Packet struct {
	Type   PacketType
	raw    []byte
	fields map[string]codec.RawMessage
}

// Parse validates the minimal packet shape of data.
func Parse(data []byte) (Packet, error) {
	var fields map[string]codec.RawMessage
	if err := codec.Unmarshal(data, &fields); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if fields == nil {
		return Packet{}, fmt.Errorf("%w: not a map", ErrMalformedPacket)
	}
	rawType, ok := fields["type"]
	if !ok {
		return Packet{}, fmt.Errorf("%w: missing type", ErrMalformedPacket)
	}
	var number int64
	if err := codec.Unmarshal(rawType, &number); err != nil {
		return Packet{}, fmt.Errorf("%w: type is not an integer", ErrMalformedPacket)
	}
	packetType := PacketType(number)
	if int64(packetType) != number || !packetType.Known() {
		return Packet{}, fmt.Errorf("%w: unknown type %d", ErrMalformedPacket, number)
	}
	return Packet{Type: packetType, raw: data, fields: fields}, nil
}

// New encodes payload as a packet of the payload's type.
func New(payload Payload) (Packet, error) {
	body, err := codec.Marshal(payload)
	if err != nil {
		return Packet{}, fmt.Errorf("encoding %s payload: %w", payload.PacketType(), err)
	}
	var fields map[string]codec.RawMessage
	if err := codec.Unmarshal(body, &fields); err != nil {
		return Packet{}, fmt.Errorf("encoding %s payload: %w", payload.PacketType(), err)
	}
	if fields == nil {
		fields = make(map[string]codec.RawMessage, 1)
	}
	rawType, err := codec.Marshal(int(payload.PacketType()))
	if err != nil {
		return Packet{}, fmt.Errorf("encoding packet type: %w", err)
	}
	fields["type"] = rawType

	data, err := codec.Marshal(fields)
	if err != nil {
		return Packet{}, fmt.Errorf("encoding %s packet: %w", payload.PacketType(), err)
	}
	return Packet{Type: payload.PacketType(), raw: data, fields: fields}, nil
}

// MustNew is New for payloads that cannot fail to encode, such as the
// field-less control packets.
func MustNew(payload Payload) Packet {
	packet, err := New(payload)
	if err != nil {
		panic(err)
	}
	return packet
}

// Bytes returns the packet's wire encoding. Callers must not modify it.
func (p Packet) Bytes() []byte {
	return p.raw
}

// Has reports whether the packet carries field name.
func (p Packet) Has(name string) bool {
	_, ok := p.fields[name]
	return ok
}

func (p Packet) String() string {
	return p.Type.String()
}

// Diagnose renders the packet in CBOR diagnostic notation for logs.
func (p Packet) Diagnose() string {
	text, err := codec.Diagnose(p.raw)
	if err != nil {
		return fmt.Sprintf("<%d undecodable bytes>", len(p.raw))
	}
	return text
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode checks the packet against payload's schema and fills it in.
// payload must be a pointer to one of the payload types in this
// package and its type must match the packet's.
func (p Packet) Decode(payload Payload) error {
	if payload.PacketType() != p.Type {
		return fmt.Errorf("%w: decoding %s packet as %s", ErrInvalidPayload, p.Type, payload.PacketType())
	}
	for _, name := range requiredFields[p.Type] {
		if _, ok := p.fields[name]; !ok {
			return fmt.Errorf("%w: %s missing field %q", ErrInvalidPayload, p.Type, name)
		}
	}
	if err := codec.Unmarshal(p.raw, payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, p.Type, err)
	}
	if err := validate.Struct(payload); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("validating %s payload: %w", p.Type, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, p.Type, err)
	}
	return nil
}
