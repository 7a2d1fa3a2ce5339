// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Lockstep configuration.
//
// Configuration comes from one file, named either by the
// LOCKSTEP_CONFIG environment variable ([Load]) or by a --config flag
// ([LoadFile]). Values in the file are merged over [Default]; no other
// environment variable overrides them.
//
// YAML files (.yaml, .yml) are decoded directly. JSON files (.json,
// .jsonc) may carry comments and trailing commas; they are normalized
// to plain JSON first, which YAML then decodes. Durations are written
// as Go duration strings:
//
//	username: alice
//	log_level: debug
//	transport:
//	  kind: webrtc
//	  ice_servers:
//	    - urls: ["stun:stun.l.google.com:19302"]
//	timeouts:
//	  open: 5s
//	media_sync:
//	  heartbeat_interval: 1s
package config
