// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package fragmentui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/conflux-foundation/conflux/lib/event"
)

// Theme defines the color palette for the fragment viewer. All colors
// use lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected table row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Stream liveness.
	StreamLive   lipgloss.Color
	StreamClosed lipgloss.Color

	// Event feed accents by outcome.
	EventCreate   lipgloss.Color
	EventMutate   lipgloss.Color
	EventStream   lipgloss.Color
	EventDelivery lipgloss.Color
	EventFailure  lipgloss.Color
	EventPeer     lipgloss.Color

	// Connection indicator.
	Connected    lipgloss.Color
	Disconnected lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color
}

// KindColor returns the feed accent color for an event kind. Unknown
// kinds render in FaintText.
func (theme Theme) KindColor(kind event.Kind) lipgloss.Color {
	switch kind {
	case event.KindFragmentCreated:
		return theme.EventCreate
	case event.KindFragmentMutated:
		return theme.EventMutate
	case event.KindStreamRegistered, event.KindStreamClosed, event.KindStreamWoken:
		return theme.EventStream
	case event.KindDeliverySucceeded:
		return theme.EventDelivery
	case event.KindDeliveryFailed, event.KindDeliveryDropped:
		return theme.EventFailure
	case event.KindPeerUp, event.KindPeerDown:
		return theme.EventPeer
	default:
		return theme.FaintText
	}
}

// DefaultTheme is the built-in dark-terminal color scheme. Designed for
// 256-color terminals with a dark background (the common case for
// development environments and tmux sessions).
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	StreamLive:   lipgloss.Color("114"), // green
	StreamClosed: lipgloss.Color("245"), // gray

	EventCreate:   lipgloss.Color("114"), // green
	EventMutate:   lipgloss.Color("220"), // yellow/amber
	EventStream:   lipgloss.Color("141"), // light purple
	EventDelivery: lipgloss.Color("75"),  // blue
	EventFailure:  lipgloss.Color("196"), // red
	EventPeer:     lipgloss.Color("208"), // orange

	Connected:    lipgloss.Color("114"),
	Disconnected: lipgloss.Color("196"),

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),
}
