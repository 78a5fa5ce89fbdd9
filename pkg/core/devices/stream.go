// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devices

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devreduce/internal/workerspool"
	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/tensors"
	"github.com/gomlx/devreduce/pkg/support/xsync"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stream is the Context implementation: one goroutine per Stream executes the enqueued operations in FIFO order.
type Stream struct {
	place   places.Place
	pool    *workerspool.Pool
	latency time.Duration

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []operation
	finalized bool

	barrier *xsync.Barrier
	stats   streamStats
}

// Compile-time check that Stream implements Context.
var _ Context = (*Stream)(nil)

type operation struct {
	name string
	fn   func() error
}

type streamStats struct {
	numCopies, numAccumulates, bytesCopied atomic.Int64
}

// Stats of the operations executed by a Stream.
type Stats struct {
	NumCopies      int64
	NumAccumulates int64
	BytesCopied    int64
}

// Option configures a Stream at construction.
type Option func(s *Stream)

// WithPool sets the workers pool used to parallelize large accumulations. By default, it uses
// workerspool.New().
func WithPool(pool *workerspool.Pool) Option {
	return func(s *Stream) { s.pool = pool }
}

// WithLatency adds a fixed delay to every copy executed by the stream, simulating a transfer over a bus.
func WithLatency(latency time.Duration) Option {
	return func(s *Stream) { s.latency = latency }
}

// NewCPUContext returns a Stream executing on the host CPU.
func NewCPUContext(opts ...Option) *Stream {
	return newStream(places.Host(), opts...)
}

// NewAcceleratorContext returns a Stream executing on the accelerator with the given index.
// The device memory is simulated with host memory.
func NewAcceleratorContext(index int, opts ...Option) *Stream {
	return newStream(places.Accel(index), opts...)
}

func newStream(place places.Place, opts ...Option) *Stream {
	s := &Stream{
		place:   place,
		barrier: xsync.NewBarrier(),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = workerspool.New()
	}
	go s.loop()
	return s
}

// Place implements Context.
func (s *Stream) Place() places.Place { return s.place }

// String implements fmt.Stringer.
func (s *Stream) String() string { return "Stream(" + s.place.String() + ")" }

// Stats returns the counters of operations executed so far.
func (s *Stream) Stats() Stats {
	return Stats{
		NumCopies:      s.stats.numCopies.Load(),
		NumAccumulates: s.stats.numAccumulates.Load(),
		BytesCopied:    s.stats.bytesCopied.Load(),
	}
}

// Enqueue implements Context.
func (s *Stream) Enqueue(name string, fn func() error) {
	s.barrier.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		s.barrier.Done(&DeviceError{Place: s.place, Op: name, Err: errors.New("context already finalized")})
		return
	}
	s.queue = append(s.queue, operation{name: name, fn: fn})
	s.cond.Signal()
}

// CopyAsync implements Context.
func (s *Stream) CopyAsync(dst, src *tensors.Tensor) {
	s.Enqueue("copy", func() error {
		if dst.Place() != s.place && src.Place() != s.place {
			return errors.Errorf("copy from %s to %s issued on %s: one of the ends must be on the context's device",
				src.Place(), dst.Place(), s.place)
		}
		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		if err := tensors.CopyFlat(dst, src); err != nil {
			return err
		}
		bytes := int64(src.Memory())
		s.stats.numCopies.Add(1)
		s.stats.bytesCopied.Add(bytes)
		if klog.V(2).Enabled() {
			klog.Infof("%s: copied %s from %s to %s", s, humanize.Bytes(uint64(bytes)), src.Place(), dst.Place())
		}
		return nil
	})
}

// AccumulateAsync implements Context.
func (s *Stream) AccumulateAsync(dst, src *tensors.Tensor) {
	s.Enqueue("accumulate", func() error {
		if dst.Place() != s.place || src.Place() != s.place {
			return errors.Errorf("accumulate of %s into %s issued on %s: both must be on the context's device",
				src.Place(), dst.Place(), s.place)
		}
		if err := tensors.AccumulateWith(dst, src, s.pool.Split); err != nil {
			return err
		}
		s.stats.numAccumulates.Add(1)
		return nil
	})
}

// Wait implements Context.
func (s *Stream) Wait() error {
	return s.barrier.Wait()
}

// Finalize implements Context. Operations already enqueued are still executed.
func (s *Stream) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
	s.cond.Broadcast()
}

// loop executes the enqueued operations until the stream is finalized and its queue drained.
func (s *Stream) loop() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.finalized {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		op := s.queue[0]
		s.queue[0] = operation{}
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.barrier.Done(s.execute(op))
	}
}

// execute runs the operation converting panics to errors, and wraps any failure as a DeviceError.
func (s *Stream) execute(op operation) (err error) {
	exception := exceptions.TryCatch[error](func() { err = op.fn() })
	if exception != nil {
		err = errors.WithMessage(exception, "panic")
	}
	if err != nil {
		klog.V(1).Infof("%s: operation %q failed: %v", s, op.name, err)
		err = &DeviceError{Place: s.place, Op: op.name, Err: err}
	}
	return
}
