// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds Lockstep's CBOR configuration. Every packet that
// crosses a peer link is a single CBOR map encoded with Core
// Deterministic Encoding (RFC 8949 §4.2), so the same packet always
// produces the same bytes and can be relayed verbatim.
//
// Wire types carry `cbor` struct tags with the camelCase field names
// the protocol uses:
//
//	type SyncMedia struct {
//	    Playing   bool  `cbor:"playing"`
//	    Time      int64 `cbor:"time"`
//	    Timestamp int64 `cbor:"timestamp"`
//	}
package codec
