// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a soft-bounded pool of goroutines, used by device contexts to split large
// elementwise kernels.
package workerspool

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultMinChunkSize is the minimum number of elements handled by one worker in Split.
const DefaultMinChunkSize = 4096

// Pool of workers. The zero value is not valid, use New.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	minChunkSize   int

	mu         sync.Mutex
	cond       sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning int
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{
		maxParallelism: runtime.NumCPU(),
		minChunkSize:   DefaultMinChunkSize,
	}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is a soft-target for parallelism.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running. If changed during the execution
// the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// SetMinChunkSize sets the minimum number of elements per worker used by Split. Values < 1 are set to 1.
func (w *Pool) SetMinChunkSize(minChunkSize int) *Pool {
	w.minChunkSize = max(minChunkSize, 1)
	return w
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with workerPool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with workerPool.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// StartIfAvailable runs the task in a separate goroutine, if there are enough workers left.
// It returns true if it found workers to run the function, false otherwise.
//
// It's up to the client to synchronize the end of the function execution.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w.IsUnlimited() {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// Split runs kernel over [0, size) in chunks of at least the minimum chunk size. Chunks are started in
// the pool's workers while they are available, and run inline in the calling goroutine otherwise.
// It returns after all chunks are finished, with the first error returned by any of them.
//
// It has the signature of tensors.SplitFn.
func (w *Pool) Split(size int, kernel func(start, end int) error) error {
	if size <= w.minChunkSize || !w.IsEnabled() {
		return kernel(0, size)
	}
	numChunks := (size + w.minChunkSize - 1) / w.minChunkSize
	if !w.IsUnlimited() {
		numChunks = min(numChunks, w.maxParallelism+1)
	}
	chunkSize := (size + numChunks - 1) / numChunks

	var g errgroup.Group
	for start := 0; start < size; start += chunkSize {
		end := min(start+chunkSize, size)
		chunkErr := make(chan error, 1)
		if !w.StartIfAvailable(func() { chunkErr <- kernel(start, end) }) {
			chunkErr <- kernel(start, end)
		}
		g.Go(func() error { return <-chunkErr })
	}
	return g.Wait()
}
