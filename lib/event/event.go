// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"fmt"

	"github.com/conflux-foundation/conflux/lib/cid"
)

// Kind classifies hub events.
type Kind uint8

const (
	KindUnknown Kind = iota

	// KindFragmentCreated fires once per fragment, on first commit.
	KindFragmentCreated
	// KindFragmentMutated fires on every later accepted mutation,
	// including stream-flag commits and remote adoptions.
	KindFragmentMutated

	// KindStreamRegistered fires when a stream handle is bound to a
	// fragment; KindStreamClosed and KindStreamWoken track liveness
	// transitions afterwards.
	KindStreamRegistered
	KindStreamClosed
	KindStreamWoken

	// KindDeliverySucceeded and KindDeliveryFailed report the final
	// outcome of one envelope for one peer; KindDeliveryDropped
	// reports queue overflow before any attempt. Delivery trouble
	// surfaces here and nowhere else — it never fails a mutation.
	KindDeliverySucceeded
	KindDeliveryFailed
	KindDeliveryDropped

	// KindPeerUp and KindPeerDown track roster membership changes.
	KindPeerUp
	KindPeerDown
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindFragmentCreated:   "fragment-created",
	KindFragmentMutated:   "fragment-mutated",
	KindStreamRegistered:  "stream-registered",
	KindStreamClosed:      "stream-closed",
	KindStreamWoken:       "stream-woken",
	KindDeliverySucceeded: "delivery-succeeded",
	KindDeliveryFailed:    "delivery-failed",
	KindDeliveryDropped:   "delivery-dropped",
	KindPeerUp:            "peer-up",
	KindPeerDown:          "peer-down",
}

// String returns the hyphenated kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind resolves a kind name as accepted on the CLI.
func ParseKind(s string) (Kind, error) {
	for kind, name := range kindNames {
		if name == s && kind != KindUnknown {
			return kind, nil
		}
	}
	return KindUnknown, fmt.Errorf("event: unknown kind %q", s)
}

// MarshalText encodes kinds as their names, so events are readable in
// JSON output and CBOR diagnostics.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Event is one observability record. Zero-valued fields are omitted on
// the wire; which fields are set depends on the kind.
type Event struct {
	Kind Kind `cbor:"kind" json:"kind"`

	// Time is nanoseconds since the Unix epoch, stamped by the
	// emitter's clock.
	Time int64 `cbor:"time" json:"time"`

	ID      cid.ID `cbor:"id,omitempty" json:"id,omitempty"`
	Version uint64 `cbor:"version,omitempty" json:"version,omitempty"`

	// Peer names the roster entry for delivery and peer events.
	Peer string `cbor:"peer,omitempty" json:"peer,omitempty"`

	// Attempts is the number of delivery tries consumed, for
	// delivery-succeeded and delivery-failed.
	Attempts int `cbor:"attempts,omitempty" json:"attempts,omitempty"`

	// Error carries the final error text for failure events.
	Error string `cbor:"error,omitempty" json:"error,omitempty"`

	// Detail is free-form context, such as the identity on creation
	// events.
	Detail string `cbor:"detail,omitempty" json:"detail,omitempty"`
}
