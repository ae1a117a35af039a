// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with a process-wide monotonic N. Use it
// instead of time.Now() when a test needs identities or payload bodies
// that must not collide across parallel tests.
//
//	identity := testutil.UniqueID("sensor") // "sensor-1", "sensor-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// SocketDir creates a short-pathed temporary directory for Unix domain
// sockets and removes it when the test ends.
//
// sun_path caps socket paths at 108 bytes; the nested directories some
// CI systems hand out as TMPDIR blow through that, so t.TempDir() is
// not safe for socket files. This allocates directly under /tmp.
func SocketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "conflux-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}
