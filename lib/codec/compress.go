// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the algorithm applied to a payload before
// it entered an envelope or journal record. Tags travel on the wire
// and in journal frames (1 byte) — the values are protocol constants.
type CompressionTag uint8

const (
	// CompressionNone marks payloads carried verbatim, either below
	// the size threshold or incompressible (media, ciphertext).
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression: modest ratios, very
	// cheap decode. A reasonable pick for hubs shuttling binary
	// payloads.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level, the better choice
	// for text-like payloads and the configured default.
	CompressionZstd CompressionTag = 2
)

// String returns the tag name used in config files and log fields.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseCompressionTag resolves a config-file tag name.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("codec: unknown compression tag %q", name)
	}
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible reports that compressed output would not be
// smaller than the input. Callers fall back to CompressionNone.
var errIncompressible = errors.New("codec: data is incompressible")

// IsIncompressible reports whether err means the data did not shrink.
func IsIncompressible(err error) bool {
	return errors.Is(err, errIncompressible)
}

// Compress applies tag to data. For CompressionNone the input is
// returned unchanged without copying. Output is guaranteed smaller
// than the input; otherwise the error satisfies IsIncompressible.
func Compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		dst := make([]byte, bound)
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for data it judges incompressible.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return dst[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression tag %d", tag)
	}
}

// Decompress reverses Compress. rawSize is the exact original length,
// carried alongside the compressed bytes; a mismatch is corruption and
// returns an error. The caller bounds rawSize before allocating.
func Decompress(data []byte, tag CompressionTag, rawSize int) ([]byte, error) {
	if rawSize < 0 {
		return nil, fmt.Errorf("codec: negative raw size %d", rawSize)
	}
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4 decompress: %w", err)
		}
		if read != rawSize {
			return nil, fmt.Errorf("codec: lz4 decompress: got %d bytes, expected %d", read, rawSize)
		}
		return dst, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("codec: zstd decompress: %w", err)
		}
		if len(result) != rawSize {
			return nil, fmt.Errorf("codec: zstd decompress: got %d bytes, expected %d", len(result), rawSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression tag %d", tag)
	}
}
