// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package fragmentui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/service"
)

// FilterModel implements substring matching across fragment fields:
// the canonical content ID, its base58 rendering, and the stream state
// words ("plain", "stream", "live", "closed"). The filter narrows the
// table client-side without round-tripping to the hub.
type FilterModel struct {
	// Input is the current filter query text.
	Input string

	// Active is true when the filter input has keyboard focus
	// (the user pressed / to start typing).
	Active bool
}

// MatchesFragment returns true if the fragment matches the current
// filter. An empty filter matches everything. Matching is
// case-insensitive substring; pasting either rendering of a content
// ID, or a prefix of one, finds the fragment.
func (filter *FilterModel) MatchesFragment(summary service.FragmentSummary) bool {
	if filter.Input == "" {
		return true
	}

	query := strings.ToLower(filter.Input)

	if strings.Contains(summary.ID.String(), query) {
		return true
	}

	if base58, err := summary.ID.Format(cid.Base58); err == nil &&
		strings.Contains(strings.ToLower(base58), query) {
		return true
	}

	return strings.Contains(fragmentState(summary), query)
}

// Apply filters a slice of fragments, returning only those that match
// the current filter text.
func (filter *FilterModel) Apply(fragments []service.FragmentSummary) []service.FragmentSummary {
	if filter.Input == "" {
		return fragments
	}

	var result []service.FragmentSummary
	for _, summary := range fragments {
		if filter.MatchesFragment(summary) {
			result = append(result, summary)
		}
	}
	return result
}

// fragmentState returns the searchable state words for a fragment:
// "plain" for non-streams, "stream live" or "stream closed" for
// streams. Doubles as the STATE column text.
func fragmentState(summary service.FragmentSummary) string {
	if !summary.Stream {
		return "plain"
	}
	if summary.Live {
		return "stream live"
	}
	return "stream closed"
}

// HandleRune processes a character typed while the filter is active.
// Returns true if the input changed.
func (filter *FilterModel) HandleRune(character rune) bool {
	filter.Input += string(character)
	return true
}

// HandleBackspace removes the last character from the filter input.
// Returns true if the input changed.
func (filter *FilterModel) HandleBackspace() bool {
	if len(filter.Input) == 0 {
		return false
	}
	runes := []rune(filter.Input)
	filter.Input = string(runes[:len(runes)-1])
	return true
}

// Clear resets the filter input and deactivates it.
func (filter *FilterModel) Clear() {
	filter.Input = ""
	filter.Active = false
}

// View renders the filter bar. When active, shows the input with a
// cursor. When inactive with text, shows the filter text. When
// inactive with no text, returns empty string (hidden).
func (filter *FilterModel) View(theme Theme, width int) string {
	if !filter.Active && filter.Input == "" {
		return ""
	}

	style := lipgloss.NewStyle().
		Foreground(theme.NormalText).
		Width(width)

	if filter.Active {
		cursor := lipgloss.NewStyle().
			Foreground(theme.HeaderForeground).
			Bold(true).
			Render("▎")
		return style.Render(" / " + filter.Input + cursor)
	}

	// Inactive but has text — show the filter as a subtle indicator.
	dimStyle := lipgloss.NewStyle().
		Foreground(theme.FaintText).
		Width(width)
	return dimStyle.Render(" filter: " + filter.Input)
}
