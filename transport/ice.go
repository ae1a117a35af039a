// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "github.com/pion/webrtc/v4"

// ICEConfig holds the ICE server set used during candidate
// gathering. The zero value gathers host candidates only, loopback
// included, which covers same-machine and same-LAN meshes.
type ICEConfig struct {
	// Servers lists STUN and TURN servers in the order pion should
	// try them.
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds a config from plain STUN/TURN URLs, the
// form they take in the hub configuration file. Credentialed TURN
// servers need an ICEConfig assembled directly.
func ICEConfigFromURLs(urls []string) ICEConfig {
	if len(urls) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{Servers: []webrtc.ICEServer{{URLs: urls}}}
}
