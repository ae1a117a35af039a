// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/fragment"
)

// Entry describes one fragment without its payload. List returns
// these so directory operations never pull payload bytes.
type Entry struct {
	ID        cid.ID
	Version   uint64
	Timestamp int64
	Size      int
	Stream    bool
	Live      bool
}

// Source supplies the fragments behind the mount.
type Source interface {
	// List returns metadata for every fragment.
	List(ctx context.Context) ([]Entry, error)

	// Get returns the full fragment for id, including its payload.
	// A missing fragment fails with fragment.ErrNotFound.
	Get(ctx context.Context, id cid.ID) (fragment.Fragment, error)
}

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// Created if it does not exist.
	Mountpoint string

	// Source provides the fragments.
	Source Source

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Mount mounts the fragment filesystem at the configured mountpoint.
// The caller must call Unmount on the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &rootNode{source: options.Source, logger: options.Logger}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "conflux",
			Name:       "conflux",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting fragment filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("fragment filesystem mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// metaSuffix marks the sidecar file carrying fragment metadata.
const metaSuffix = ".meta"

// rootNode is the filesystem root: a flat directory of fragments
// named by canonical content ID, each with a .meta sidecar.
type rootNode struct {
	gofuse.Inode
	source Source
	logger *slog.Logger
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeLookuper = (*rootNode)(nil)
var _ gofuse.NodeReaddirer = (*rootNode)(nil)

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	stem, meta := strings.CutSuffix(name, metaSuffix)
	id, err := cid.Parse(stem)
	if err != nil {
		return nil, syscall.ENOENT
	}

	entry, errno := r.findEntry(ctx, id)
	if errno != 0 {
		return nil, errno
	}

	if meta {
		content, err := metaContent(entry)
		if err != nil {
			r.logger.Error("encoding fragment metadata", "cid", entry.ID, "error", err)
			return nil, syscall.EIO
		}
		node := &metaNode{content: content, timestamp: entry.Timestamp}
		child := r.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
		fillAttr(&out.Attr, len(content), entry.Timestamp)
		return child, 0
	}

	node := &fragmentNode{source: r.source, logger: r.logger, entry: entry}
	child := r.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
	fillAttr(&out.Attr, entry.Size, entry.Timestamp)
	return child, 0
}

func (r *rootNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	entries, err := r.source.List(ctx)
	if err != nil {
		r.logger.Error("listing fragments", "error", err)
		return nil, syscall.EIO
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID.String() < entries[j].ID.String()
	})

	dirEntries := make([]fuse.DirEntry, 0, 2*len(entries))
	for _, entry := range entries {
		name := entry.ID.String()
		dirEntries = append(dirEntries,
			fuse.DirEntry{Name: name, Mode: syscall.S_IFREG},
			fuse.DirEntry{Name: name + metaSuffix, Mode: syscall.S_IFREG},
		)
	}
	return &sliceDirStream{entries: dirEntries}, 0
}

// findEntry resolves id through List. The listing is metadata only,
// so a stat never transfers payload bytes.
func (r *rootNode) findEntry(ctx context.Context, id cid.ID) (Entry, syscall.Errno) {
	entries, err := r.source.List(ctx)
	if err != nil {
		r.logger.Error("listing fragments", "error", err)
		return Entry{}, syscall.EIO
	}
	for _, entry := range entries {
		if entry.ID == id {
			return entry, 0
		}
	}
	return Entry{}, syscall.ENOENT
}

// fragmentNode is one fragment as a regular file. The payload is
// fetched on every open; the handle keeps that snapshot so reads
// within one descriptor are consistent even while the fragment
// mutates.
type fragmentNode struct {
	gofuse.Inode
	source Source
	logger *slog.Logger
	entry  Entry
}

var _ gofuse.InodeEmbedder = (*fragmentNode)(nil)
var _ gofuse.NodeGetattrer = (*fragmentNode)(nil)
var _ gofuse.NodeOpener = (*fragmentNode)(nil)
var _ gofuse.NodeReader = (*fragmentNode)(nil)

func (f *fragmentNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, f.entry.Size, f.entry.Timestamp)
	return 0
}

func (f *fragmentNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}

	frag, err := f.source.Get(ctx, f.entry.ID)
	if err != nil {
		if errors.Is(err, fragment.ErrNotFound) {
			return nil, 0, syscall.ENOENT
		}
		f.logger.Error("fetching fragment", "cid", f.entry.ID, "error", err)
		return nil, 0, syscall.EIO
	}

	// The payload can move to a new version under the same name, so
	// keep the kernel page cache out of the way.
	return &payloadHandle{payload: frag.Payload}, fuse.FOPEN_DIRECT_IO, 0
}

func (f *fragmentNode) Read(ctx context.Context, handle gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h, ok := handle.(*payloadHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	if off >= int64(len(h.payload)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.payload)) {
		end = int64(len(h.payload))
	}
	return fuse.ReadResultData(h.payload[off:end]), 0
}

// payloadHandle is an open file's payload snapshot.
type payloadHandle struct {
	payload []byte
}

// metaNode serves the .meta sidecar. The content is rendered at
// lookup time; the kernel's entry timeout bounds how stale it gets.
type metaNode struct {
	gofuse.Inode
	content   []byte
	timestamp int64
}

var _ gofuse.InodeEmbedder = (*metaNode)(nil)
var _ gofuse.NodeGetattrer = (*metaNode)(nil)
var _ gofuse.NodeOpener = (*metaNode)(nil)
var _ gofuse.NodeReader = (*metaNode)(nil)

func (m *metaNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, len(m.content), m.timestamp)
	return 0
}

func (m *metaNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (m *metaNode) Read(ctx context.Context, _ gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(m.content)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(m.content)) {
		end = int64(len(m.content))
	}
	return fuse.ReadResultData(m.content[off:end]), 0
}

// metaContent renders the sidecar JSON.
func metaContent(entry Entry) ([]byte, error) {
	view := struct {
		ID        cid.ID `json:"id"`
		Version   uint64 `json:"version"`
		Timestamp int64  `json:"timestamp"`
		Size      int    `json:"size"`
		Stream    bool   `json:"stream,omitempty"`
		Live      bool   `json:"live,omitempty"`
	}{
		ID:        entry.ID,
		Version:   entry.Version,
		Timestamp: entry.Timestamp,
		Size:      entry.Size,
		Stream:    entry.Stream,
		Live:      entry.Live,
	}
	content, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(content, '\n'), nil
}

func fillAttr(attr *fuse.Attr, size int, timestamp int64) {
	attr.Mode = syscall.S_IFREG | 0o444
	attr.Size = uint64(size)
	mtime := time.Unix(0, timestamp)
	attr.SetTimes(nil, &mtime, &mtime)
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
