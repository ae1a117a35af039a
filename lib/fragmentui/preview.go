// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package fragmentui

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/muesli/termenv"
)

// previewByteLimit caps how much of a payload the preview pane
// renders. Payloads past the cap show a truncation footer; the full
// bytes are always available through `conflux get --output raw`.
const previewByteLimit = 128 * 1024

// chromaFormatter maps the detected terminal color profile to the
// chroma formatter with the matching color depth. Ascii terminals get
// "noop", which emits plain text.
func chromaFormatter(profile termenv.Profile) string {
	switch profile {
	case termenv.TrueColor:
		return "terminal16m"
	case termenv.ANSI256:
		return "terminal256"
	case termenv.ANSI:
		return "terminal"
	default:
		return "noop"
	}
}

// renderPayload formats a payload for the preview pane. JSON payloads
// are indented and syntax-highlighted, other text shown verbatim, and
// binary rendered as a hex dump.
func renderPayload(payload []byte, formatter string) string {
	if len(payload) == 0 {
		return "(empty payload)"
	}

	if len(payload) <= previewByteLimit && json.Valid(payload) {
		return highlightJSON(payload, formatter)
	}

	display := payload
	dropped := 0
	if len(display) > previewByteLimit {
		dropped = len(display) - previewByteLimit
		display = display[:previewByteLimit]
	}

	var body string
	if utf8.Valid(display) && bytes.IndexByte(display, 0) < 0 {
		body = string(display)
	} else {
		body = hex.Dump(display)
	}

	if dropped > 0 {
		body = strings.TrimRight(body, "\n") +
			fmt.Sprintf("\n… %d more bytes not shown", dropped)
	}
	return body
}

// highlightJSON indents a JSON document and syntax-highlights it with
// chroma. Falls back to the indented plain text when the formatter is
// "noop" or highlighting fails.
func highlightJSON(payload []byte, formatter string) string {
	var indented bytes.Buffer
	if err := json.Indent(&indented, payload, "", "  "); err != nil {
		return string(payload)
	}
	if formatter == "noop" {
		return indented.String()
	}
	var highlighted strings.Builder
	if err := quick.Highlight(&highlighted, indented.String(), "json", formatter, "monokai"); err != nil {
		return indented.String()
	}
	return highlighted.String()
}
