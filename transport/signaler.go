// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// signalKeySeparator joins the offerer and target hub names into a
// signal key ("offerer|target"). Hub names come from the peer roster,
// which rejects the pipe character, so the boundary is unambiguous.
const signalKeySeparator = "|"

// Signaler exchanges WebRTC session descriptions between hubs. The
// model is vanilla ICE: every SDP carries its full candidate set, so
// establishing a connection takes exactly one offer/answer
// round-trip.
//
// Publishing the same offerer/target pair again replaces the earlier
// signal; pollers see each signal at most once, keyed by its
// timestamp.
type Signaler interface {
	// PublishOffer stores a complete SDP offer from offerer,
	// addressed to target.
	PublishOffer(ctx context.Context, offerer, target, sdp string) error

	// PublishAnswer stores a complete SDP answer from answerer to a
	// previously published offer by offerer.
	PublishAnswer(ctx context.Context, offerer, answerer, sdp string) error

	// PollOffers returns unseen offers addressed to name.
	PollOffers(ctx context.Context, name string) ([]SignalMessage, error)

	// PollAnswers returns unseen answers to offers published by name.
	PollAnswers(ctx context.Context, name string) ([]SignalMessage, error)
}

// SignalMessage is one polled offer or answer.
type SignalMessage struct {
	// Peer names the other party: the offerer on polled offers, the
	// answerer on polled answers.
	Peer string

	// SDP is the complete session description, all ICE candidates
	// included.
	SDP string

	// Timestamp is the RFC 3339 creation time of the signal. Pollers
	// use it to skip signals they have already handled.
	Timestamp string
}
