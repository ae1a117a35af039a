// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package peerset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_JSONCSyntax(t *testing.T) {
	set, err := Parse([]byte(`{
		// Static mesh for the east region.
		"peers": [
			{"name": "east-1", "kind": "tcp", "addr": "10.0.0.1:7400"},
			{"name": "east-2", "kind": "ws", "addr": "ws://10.0.0.2:7401/ingest"},
			/* webrtc peers signal through a shared directory */
			{"name": "roamer", "kind": "webrtc", "addr": "/var/lib/conflux/signal", "disabled": true},
		],
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(set.Peers) != 3 {
		t.Fatalf("parsed %d peers, want 3", len(set.Peers))
	}
	if set.Peers[1].Kind != KindWebSocket {
		t.Errorf("kind = %s", set.Peers[1].Kind)
	}

	enabled := set.Enabled()
	if len(enabled) != 2 {
		t.Fatalf("enabled %d peers, want 2", len(enabled))
	}
	for _, peer := range enabled {
		if peer.Name == "roamer" {
			t.Error("disabled peer returned by Enabled")
		}
	}
}

func TestParse_RejectsDuplicateNames(t *testing.T) {
	_, err := Parse([]byte(`{"peers": [
		{"name": "twin", "kind": "tcp", "addr": "a:1"},
		{"name": "twin", "kind": "tcp", "addr": "b:2"}
	]}`))
	if err == nil || !strings.Contains(err.Error(), "duplicate name") {
		t.Fatalf("Parse = %v, want duplicate name error", err)
	}
	if !strings.Contains(err.Error(), "twin") {
		t.Errorf("error does not name the peer: %v", err)
	}
}

func TestParse_RejectsBadEntries(t *testing.T) {
	cases := []struct {
		name   string
		roster string
		want   string
	}{
		{"unknown kind", `{"peers": [{"name": "p", "kind": "carrier-pigeon", "addr": "x"}]}`, "unknown kind"},
		{"missing name", `{"peers": [{"kind": "tcp", "addr": "x:1"}]}`, "name is required"},
		{"missing addr", `{"peers": [{"name": "p", "kind": "tcp"}]}`, "addr is required"},
		{"unknown field", `{"peers": [{"name": "p", "kind": "tcp", "addr": "x:1", "port": 9}]}`, "unknown field"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.roster))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Parse = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"east-1", "Hub_42", "a", "edge.cache-7", strings.Repeat("x", MaxNameLength)}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []struct {
		name string
		want string
	}{
		{"", "name is required"},
		{strings.Repeat("x", MaxNameLength+1), "maximum"},
		{"east|west", "invalid character"},
		{"region/east", "invalid character"},
		{"hub one", "invalid character"},
		{"hub\x00", "invalid character"},
		{".hidden", "must not start"},
	}
	for _, tc := range invalid {
		err := ValidateName(tc.name)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("ValidateName(%q) = %v, want %q", tc.name, err, tc.want)
		}
	}
}

func TestParse_RejectsUnsafeNames(t *testing.T) {
	_, err := Parse([]byte(`{"peers": [{"name": "east|west", "kind": "tcp", "addr": "x:1"}]}`))
	if err == nil || !strings.Contains(err.Error(), "invalid character") {
		t.Fatalf("Parse = %v, want invalid character error", err)
	}
}

func TestParse_MemoryPeersNeedNoAddr(t *testing.T) {
	set, err := Parse([]byte(`{"peers": [{"name": "loop", "kind": "memory"}]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if set.Peers[0].Kind != KindMemory {
		t.Errorf("kind = %s", set.Peers[0].Kind)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.jsonc")
	roster := `{"peers": [{"name": "solo", "kind": "tcp", "addr": "127.0.0.1:7400"}]}`
	if err := os.WriteFile(path, []byte(roster), 0o600); err != nil {
		t.Fatalf("writing roster: %v", err)
	}

	set, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(set.Peers) != 1 || set.Peers[0].Name != "solo" {
		t.Fatalf("set = %+v", set)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.jsonc")); err == nil {
		t.Fatal("ReadFile accepted a missing file")
	}
}
