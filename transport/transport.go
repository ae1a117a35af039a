// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/distribution"
)

// MaxEnvelopeSize bounds a single envelope frame on the wire. Readers
// reject larger frames before allocating a buffer for them, so a
// corrupt or hostile length prefix cannot balloon memory.
const MaxEnvelopeSize = 4 << 20

// ErrEnvelopeTooLarge reports a frame that exceeds MaxEnvelopeSize,
// on either side of the wire.
var ErrEnvelopeTooLarge = errors.New("transport: envelope exceeds size limit")

// ackByte acknowledges one ingested envelope. The receiver sends it
// only after the envelope was decoded and accepted; anything else,
// including a closed connection, tells the sender the delivery did
// not land.
const ackByte = 0x06

// ackTimeout is the default wait for an acknowledgement when the
// delivery context carries no earlier deadline.
const ackTimeout = 10 * time.Second

// Ingest accepts one decoded envelope on the receiving side. Hubs
// wrap their remote-ingest operation:
//
//	ingest := func(ctx context.Context, env distribution.Envelope) error {
//		_, _, err := hub.IngestRemote(ctx, env)
//		return err
//	}
//
// A nil return acknowledges the envelope to the sender. Note that a
// version the hub already has is not an error: the hub reports it as
// not adopted but the delivery still succeeded.
type Ingest func(ctx context.Context, env distribution.Envelope) error

// WriteEnvelope writes one framed envelope: a uvarint length prefix
// followed by the CBOR body. The frame goes out in a single Write.
func WriteEnvelope(w io.Writer, env distribution.Envelope) error {
	body, err := codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if len(body) > MaxEnvelopeSize {
		return fmt.Errorf("%w: %d bytes", ErrEnvelopeTooLarge, len(body))
	}
	frame := append(varint.ToUvarint(uint64(len(body))), body...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing envelope frame: %w", err)
	}
	return nil
}

// ReadEnvelope reads one framed envelope. The size guard runs against
// the length prefix, before the body is read.
func ReadEnvelope(r *bufio.Reader) (distribution.Envelope, error) {
	size, err := varint.ReadUvarint(r)
	if err != nil {
		return distribution.Envelope{}, err
	}
	if size > MaxEnvelopeSize {
		return distribution.Envelope{}, fmt.Errorf("%w: %d bytes", ErrEnvelopeTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return distribution.Envelope{}, fmt.Errorf("reading envelope frame: %w", err)
	}
	var env distribution.Envelope
	if err := codec.Unmarshal(body, &env); err != nil {
		return distribution.Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return env, nil
}

// ingestLoop services one inbound stream connection: read a frame,
// hand it to ingest, acknowledge. A rejected envelope closes the
// connection without an ack so the sender sees the failure instead of
// a silent drop. Returns when the connection errors or the envelope
// is refused.
func ingestLoop(ctx context.Context, conn net.Conn, peer string, ingest Ingest, logger *slog.Logger) {
	reader := bufio.NewReader(conn)
	for {
		env, err := ReadEnvelope(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("inbound connection ended", "peer", peer, "error", err)
			}
			return
		}
		if err := ingest(ctx, env); err != nil {
			logger.Warn("envelope rejected",
				"peer", peer,
				"id", env.ID.Short(),
				"version", env.Version,
				"error", err,
			)
			return
		}
		conn.SetWriteDeadline(time.Now().Add(ackTimeout))
		_, err = conn.Write([]byte{ackByte})
		conn.SetWriteDeadline(time.Time{})
		if err != nil {
			logger.Debug("acknowledgement failed", "peer", peer, "error", err)
			return
		}
	}
}

// deliveryDeadline picks the ack deadline for one delivery: the
// context deadline when it is sooner, ackTimeout otherwise.
func deliveryDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}
