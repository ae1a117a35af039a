// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/secret"
)

// File format constants.
const (
	fileMagic   = "CFXJ"
	fileVersion = 1

	// Fixed header: magic(4) + version(4) + flags(4) + crc(4).
	headerSize = 16

	flagSealed = 0x1

	// maxRecordSize guards replay against a corrupt length prefix.
	maxRecordSize = 16 << 20

	// DefaultCompressThreshold is the payload size at which record
	// payloads get compressed.
	DefaultCompressThreshold = 4096
)

// Options configures a journal. A nil Key means plaintext records; a
// non-nil Key is owned by the journal and closed with it.
type Options struct {
	Path string

	// Compression is applied to payloads at or above
	// CompressThreshold bytes. CompressThreshold < 0 disables
	// compression outright.
	Compression       codec.CompressionTag
	CompressThreshold int

	Key    *secret.Buffer
	Logger *slog.Logger
}

// Journal is an append-only log of committed snapshots. Records are
// CBOR blobs framed with a uvarint length and a CRC32C trailer; a
// torn final frame (crash mid-append) is dropped on replay, while a
// complete frame with a bad checksum aborts with the file offset.
//
// Open, then Replay exactly once to validate the file and position
// the write cursor, then Append at will. Compact rewrites the file
// with a caller-provided live record set.
type Journal struct {
	path        string
	compression codec.CompressionTag
	threshold   int
	logger      *slog.Logger
	sealer      *sealer
	key         *secret.Buffer

	mu           sync.Mutex
	file         *os.File
	totalRecords int
	ready        bool
}

// Open creates or opens the journal file. New files get a header
// immediately; existing files have their header validated against the
// configured sealing key. Replay must run before the first Append.
func Open(opts Options) (*Journal, error) {
	if opts.Path == "" {
		return nil, errors.New("journal: path is empty")
	}
	if opts.CompressThreshold == 0 {
		opts.CompressThreshold = DefaultCompressThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	j := &Journal{
		path:        opts.Path,
		compression: opts.Compression,
		threshold:   opts.CompressThreshold,
		logger:      opts.Logger,
		key:         opts.Key,
	}
	if opts.Key != nil {
		s, err := newSealer(opts.Key)
		if err != nil {
			return nil, err
		}
		j.sealer = s
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return nil, fmt.Errorf("journal: creating directory: %w", err)
	}
	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: opening %s: %w", opts.Path, err)
	}
	j.file = file

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("journal: stat %s: %w", opts.Path, err)
	}
	if info.Size() == 0 {
		if _, err := file.Write(j.encodeHeader()); err != nil {
			file.Close()
			return nil, fmt.Errorf("journal: writing header: %w", err)
		}
		return j, nil
	}

	if err := j.validateHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) encodeHeader() []byte {
	header := make([]byte, headerSize)
	copy(header[0:4], fileMagic)
	binary.LittleEndian.PutUint32(header[4:8], fileVersion)
	var flags uint32
	if j.sealer != nil {
		flags |= flagSealed
	}
	binary.LittleEndian.PutUint32(header[8:12], flags)
	binary.LittleEndian.PutUint32(header[12:16], crc32.Checksum(header[:12], crc32cTable))
	return header
}

func (j *Journal) validateHeader() error {
	var header [headerSize]byte
	if _, err := io.ReadFull(j.file, header[:]); err != nil {
		return fmt.Errorf("journal: reading header: %w", err)
	}

	if string(header[0:4]) != fileMagic {
		return fmt.Errorf("journal: invalid magic %q, want %q", header[0:4], fileMagic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != fileVersion {
		return fmt.Errorf("journal: unsupported version %d (this code supports %d)", version, fileVersion)
	}
	expectedCRC := binary.LittleEndian.Uint32(header[12:16])
	if actual := crc32.Checksum(header[:12], crc32cTable); actual != expectedCRC {
		return fmt.Errorf("journal: header CRC mismatch: expected %08x, got %08x", expectedCRC, actual)
	}

	flags := binary.LittleEndian.Uint32(header[8:12])
	sealed := flags&flagSealed != 0
	switch {
	case sealed && j.sealer == nil:
		return errors.New("journal: file is sealed but no key is configured")
	case !sealed && j.sealer != nil:
		return errors.New("journal: file is plaintext but a sealing key is configured")
	}
	return nil
}

// countingReader tracks bytes consumed so replay errors can name the
// exact file offset of a bad frame.
type countingReader struct {
	r *bufio.Reader
	n int64
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Replay streams every valid record to fn in append order, with
// payloads decompressed and seals removed. A torn tail is truncated
// so appends continue from the last valid frame; corruption anywhere
// else aborts with the offending offset. Must be called exactly once,
// before the first Append.
func (j *Journal) Replay(fn func(Record) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.New("journal: closed")
	}
	if j.ready {
		return errors.New("journal: replay already done")
	}

	if _, err := j.file.Seek(headerSize, io.SeekStart); err != nil {
		return fmt.Errorf("journal: seeking past header: %w", err)
	}
	reader := &countingReader{r: bufio.NewReader(j.file)}
	count := 0

	for {
		frameStart := int64(headerSize) + reader.n

		length, err := binary.ReadUvarint(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return j.finishReplay(frameStart, count)
			}
			return fmt.Errorf("journal: record at offset %d: reading length: %w", frameStart, err)
		}
		if length > maxRecordSize {
			return fmt.Errorf("journal: record at offset %d: length %d exceeds limit %d", frameStart, length, maxRecordSize)
		}

		blob := make([]byte, length)
		if _, err := io.ReadFull(reader, blob); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return j.finishReplay(frameStart, count)
			}
			return fmt.Errorf("journal: record at offset %d: reading body: %w", frameStart, err)
		}
		var crcBytes [4]byte
		if _, err := io.ReadFull(reader, crcBytes[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return j.finishReplay(frameStart, count)
			}
			return fmt.Errorf("journal: record at offset %d: reading checksum: %w", frameStart, err)
		}
		if expected := binary.LittleEndian.Uint32(crcBytes[:]); expected != crc32.Checksum(blob, crc32cTable) {
			return fmt.Errorf("journal: record at offset %d: CRC mismatch", frameStart)
		}

		if j.sealer != nil {
			blob, err = j.sealer.open(blob, uint64(count))
			if err != nil {
				return fmt.Errorf("journal: record at offset %d: %w", frameStart, err)
			}
		}
		var rec Record
		if err := codec.Unmarshal(blob, &rec); err != nil {
			return fmt.Errorf("journal: record at offset %d: decoding: %w", frameStart, err)
		}
		rec, err = restorePayload(rec)
		if err != nil {
			return fmt.Errorf("journal: record at offset %d: %w", frameStart, err)
		}

		if err := fn(rec); err != nil {
			return err
		}
		count++
	}
}

// finishReplay truncates anything past the last valid frame and
// positions the write cursor there.
func (j *Journal) finishReplay(validEnd int64, count int) error {
	info, err := j.file.Stat()
	if err != nil {
		return fmt.Errorf("journal: stat after replay: %w", err)
	}
	if info.Size() > validEnd {
		j.logger.Warn("journal: truncating torn tail",
			"path", j.path,
			"valid_end", validEnd,
			"dropped_bytes", info.Size()-validEnd,
		)
		if err := j.file.Truncate(validEnd); err != nil {
			return fmt.Errorf("journal: truncating torn tail: %w", err)
		}
	}
	if _, err := j.file.Seek(validEnd, io.SeekStart); err != nil {
		return fmt.Errorf("journal: seeking to append position: %w", err)
	}
	j.totalRecords = count
	j.ready = true
	return nil
}

// Append writes one record. The caller's record is not modified;
// compression and sealing apply to the on-disk form only.
func (j *Journal) Append(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.New("journal: closed")
	}
	if !j.ready {
		return errors.New("journal: append before replay")
	}

	blob, err := j.encodeRecord(rec, uint64(j.totalRecords))
	if err != nil {
		return err
	}
	if _, err := j.file.Write(encodeFrame(blob)); err != nil {
		return fmt.Errorf("journal: appending record: %w", err)
	}
	j.totalRecords++
	return nil
}

// encodeRecord produces the on-disk blob for rec at the given record
// index: payload compression, CBOR encoding, then sealing.
func (j *Journal) encodeRecord(rec Record, index uint64) ([]byte, error) {
	rec.Compression = codec.CompressionNone
	rec.RawSize = 0
	if j.compression != codec.CompressionNone && j.threshold >= 0 && len(rec.Payload) >= j.threshold {
		compressed, err := codec.Compress(rec.Payload, j.compression)
		switch {
		case err == nil:
			rec.Compression = j.compression
			rec.RawSize = len(rec.Payload)
			rec.Payload = compressed
		case !codec.IsIncompressible(err):
			return nil, fmt.Errorf("journal: compressing payload: %w", err)
		}
	}

	blob, err := codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("journal: encoding record: %w", err)
	}
	if j.sealer != nil {
		blob, err = j.sealer.seal(blob, index)
		if err != nil {
			return nil, err
		}
	}
	return blob, nil
}

// restorePayload undoes record payload compression.
func restorePayload(rec Record) (Record, error) {
	if rec.Compression == codec.CompressionNone {
		return rec, nil
	}
	raw, err := codec.Decompress(rec.Payload, rec.Compression, rec.RawSize)
	if err != nil {
		return Record{}, err
	}
	rec.Payload = raw
	rec.Compression = codec.CompressionNone
	rec.RawSize = 0
	return rec, nil
}

// Len returns the number of records in the file, stale ones included.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.totalRecords
}

// NeedsCompaction reports whether the file holds more than twice as
// many records as the live set.
func (j *Journal) NeedsCompaction(live int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return live > 0 && j.totalRecords > 2*live
}

// Compact atomically replaces the journal with only the given
// records: header and records go to a temp file, fsync, rename.
func (j *Journal) Compact(records []Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.New("journal: closed")
	}

	tmpPath := j.path + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("journal: creating temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	writer := bufio.NewWriter(tmpFile)
	if _, err := writer.Write(j.encodeHeader()); err != nil {
		return fmt.Errorf("journal: writing compacted header: %w", err)
	}
	for i, rec := range records {
		blob, err := j.encodeRecord(rec, uint64(i))
		if err != nil {
			return err
		}
		if _, err := writer.Write(encodeFrame(blob)); err != nil {
			return fmt.Errorf("journal: writing compacted record: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("journal: flushing compacted file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("journal: syncing compacted file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("journal: closing compacted file: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("journal: renaming compacted file: %w", err)
	}

	newFile, err := os.OpenFile(j.path, os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("journal: reopening compacted file: %w", err)
	}
	j.file.Close()
	j.file = newFile
	j.totalRecords = len(records)

	success = true
	return nil
}

// Sync flushes appended records to stable storage.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return errors.New("journal: closed")
	}
	return j.file.Sync()
}

// Close syncs and closes the file and releases the sealing key.
// Idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}

	var firstError error
	if err := j.file.Sync(); err != nil && firstError == nil {
		firstError = fmt.Errorf("journal: syncing on close: %w", err)
	}
	if err := j.file.Close(); err != nil && firstError == nil {
		firstError = fmt.Errorf("journal: closing file: %w", err)
	}
	j.file = nil

	if j.key != nil {
		if err := j.key.Close(); err != nil && firstError == nil {
			firstError = err
		}
		j.key = nil
	}
	return firstError
}
