// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Fragment timestamps, delivery backoff waits, and periodic maintenance
// loops all go through the Clock interface rather than the time package
// directly. Production wiring uses Real(); tests use Fake(), which
// stands still until Advance is called and fires expired waits in
// deadline order.
//
// The usual wiring is a Clock field defaulted in an Options struct:
//
//	type Pipeline struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// and in tests:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	p := distribution.New(distribution.Options{Clock: fake, ...})
//	fake.WaitForTimers(1)          // a worker reached its backoff
//	fake.Advance(30 * time.Second) // fire it
//
// WaitForTimers is the synchronization half of the pattern: it blocks
// until the expected number of waits are registered, so the test never
// races the goroutine it is driving.
package clock
