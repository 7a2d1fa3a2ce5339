// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// TokenBytes is the number of random bytes in an access token. The
// base64 form is 24 characters.
const TokenBytes = 16

// GenerateAccessToken returns a fresh random access token in standard
// base64.
func GenerateAccessToken() (string, error) {
	buffer := make([]byte, TokenBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("generating access token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buffer), nil
}

// Fingerprint returns a 16-character hex identifier for token, safe to
// log.
func Fingerprint(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
