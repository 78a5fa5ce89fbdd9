// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements synchronization primitives missing from the standard library.
package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// Barrier tracks in-flight asynchronous operations and the first error any of them reported.
//
// It is WaitGroup-like, but the count can be incremented while someone is waiting on it, and Wait
// returns (and clears) the first error reported since the last Wait.
//
// It uses sync.Cond to coordinate changes.
type Barrier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  int64
	firstErr error
}

// NewBarrier creates a new Barrier with no pending operations.
func NewBarrier() *Barrier {
	b := &Barrier{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Add changes the number of pending operations by the given delta.
// If the counter becomes zero, it wakes up all waiting goroutines.
// If the counter would go negative, it panics.
func (b *Barrier) Add(delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending += int64(delta)
	if b.pending < 0 {
		panic(errors.Errorf("Barrier: negative counter"))
	}
	if b.pending == 0 {
		b.cond.Broadcast()
	}
}

// Done marks one operation as finished, recording err if it is the first error since the last Wait.
func (b *Barrier) Done(err error) {
	if err != nil {
		b.mu.Lock()
		if b.firstErr == nil {
			b.firstErr = err
		}
		b.mu.Unlock()
	}
	b.Add(-1)
}

// Pending returns the current number of pending operations.
func (b *Barrier) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.pending)
}

// Wait blocks until there are no pending operations, and returns the first error reported since the last Wait.
// The error is cleared, so a following Wait without new failures returns nil.
func (b *Barrier) Wait() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Loop because sync.Cond.Wait() can have spurious wakeups.
	for b.pending > 0 {
		b.cond.Wait()
	}
	err := b.firstErr
	b.firstErr = nil
	return err
}
