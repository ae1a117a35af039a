// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"streams", "", 7},
		{"streams", "streams", 0},
		{"stram", "streams", 2},
		{"stats", "streams", 3},
		{"export", "import", 2},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{
		{Name: "streams"},
		{Name: "stats"},
		{Name: "export"},
	}

	if got := suggestCommand("straems", commands); got != "streams" {
		t.Errorf("suggestCommand(straems) = %q, want streams", got)
	}
	if got := suggestCommand("mount", commands); got != "" {
		t.Errorf("suggestCommand(mount) = %q, want no suggestion", got)
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flagSet.Bool("follow", false, "")
	flagSet.String("socket", "", "")

	if got := suggestFlag([]string{"--folow"}, flagSet); got != "--follow" {
		t.Errorf("suggestFlag(--folow) = %q, want --follow", got)
	}
	if got := suggestFlag([]string{"--sokcet=x"}, flagSet); got != "--socket" {
		t.Errorf("suggestFlag(--sokcet=x) = %q, want --socket", got)
	}
	if got := suggestFlag([]string{"--follow"}, flagSet); got != "" {
		t.Errorf("suggestFlag on a defined flag = %q, want none", got)
	}
}
