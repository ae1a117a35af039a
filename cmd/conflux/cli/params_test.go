// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestBindFlags_BasicTypes(t *testing.T) {
	type params struct {
		Identity string        `flag:"identity" desc:"fragment identity"`
		Follow   bool          `flag:"follow,f" desc:"stream new events"`
		Limit    int           `flag:"limit" desc:"batch size"`
		From     uint64        `flag:"from" desc:"history offset"`
		Interval time.Duration `flag:"interval" desc:"refresh interval"`
		Peers    []string      `flag:"peers" desc:"peer names"`
		Untagged string
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	err := flagSet.Parse([]string{
		"--identity", "app/config",
		"-f",
		"--limit", "50",
		"--from", "18446744073709551615",
		"--interval", "2s",
		"--peers", "alpha,beta",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Identity != "app/config" {
		t.Errorf("Identity = %q", p.Identity)
	}
	if !p.Follow {
		t.Error("Follow = false, want true")
	}
	if p.Limit != 50 {
		t.Errorf("Limit = %d, want 50", p.Limit)
	}
	if p.From != 18446744073709551615 {
		t.Errorf("From = %d", p.From)
	}
	if p.Interval != 2*time.Second {
		t.Errorf("Interval = %v, want 2s", p.Interval)
	}
	if len(p.Peers) != 2 || p.Peers[0] != "alpha" || p.Peers[1] != "beta" {
		t.Errorf("Peers = %v, want [alpha beta]", p.Peers)
	}
	if p.Untagged != "" {
		t.Errorf("Untagged = %q, want empty", p.Untagged)
	}
}

func TestBindFlags_Defaults(t *testing.T) {
	type params struct {
		Output   string        `flag:"output" desc:"output format" default:"table"`
		Limit    int           `flag:"limit" desc:"batch size" default:"100"`
		Interval time.Duration `flag:"interval" desc:"refresh" default:"5s"`
		Live     bool          `flag:"live" desc:"live only" default:"true"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Output != "table" {
		t.Errorf("Output = %q, want table", p.Output)
	}
	if p.Limit != 100 {
		t.Errorf("Limit = %d, want 100", p.Limit)
	}
	if p.Interval != 5*time.Second {
		t.Errorf("Interval = %v, want 5s", p.Interval)
	}
	if !p.Live {
		t.Error("Live = false, want true")
	}
}

func TestBindFlags_EmbeddedJSONOutput(t *testing.T) {
	type params struct {
		JSONOutput
		Identity string `flag:"identity" desc:"fragment identity"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if err := flagSet.Parse([]string{"--json", "--identity", "x"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.OutputJSON {
		t.Error("embedded --json flag not bound")
	}
	if p.Identity != "x" {
		t.Errorf("Identity = %q, want x", p.Identity)
	}
}

func TestBindFlags_FlagBinder(t *testing.T) {
	type params struct {
		Hub HubConnection
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if err := flagSet.Parse([]string{"--socket", "/tmp/other.sock"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Hub.SocketPath != "/tmp/other.sock" {
		t.Errorf("SocketPath = %q, want /tmp/other.sock", p.Hub.SocketPath)
	}
}

func TestBindFlags_RejectsNonPointer(t *testing.T) {
	type params struct {
		Name string `flag:"name"`
	}
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(params{}, flagSet); err == nil {
		t.Error("BindFlags accepted a non-pointer params value")
	}
}

func TestBindFlags_UnsupportedType(t *testing.T) {
	type params struct {
		Rate float32 `flag:"rate" desc:"unsupported"`
	}
	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	err := BindFlags(&p, flagSet)
	if err == nil || !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("BindFlags = %v, want unsupported type error", err)
	}
}

func TestBindFlags_BadDefault(t *testing.T) {
	type params struct {
		Limit int `flag:"limit" default:"lots"`
	}
	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err == nil {
		t.Error("BindFlags accepted a malformed default")
	}
}

func TestFlagsFromParams_PanicsOnBadStruct(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on malformed params struct")
		}
	}()
	type params struct {
		Rate float32 `flag:"rate"`
	}
	var p params
	FlagsFromParams("bad", &p)
}
