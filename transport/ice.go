// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/lockstep-party/lockstep/lib/config"
)

// ICEConfig holds the ICE servers used when gathering candidates for
// new PeerConnections.
type ICEConfig struct {
	Servers []webrtc.ICEServer
}

// ICEConfigFromSettings converts configured STUN/TURN servers. An
// empty list yields host candidates only, which is enough on a single
// machine or LAN.
func ICEConfigFromSettings(servers []config.ICEServer) ICEConfig {
	var ice ICEConfig
	for _, server := range servers {
		if len(server.URLs) == 0 {
			continue
		}
		ice.Servers = append(ice.Servers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	return ice
}
