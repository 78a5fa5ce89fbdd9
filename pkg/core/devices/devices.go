// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package devices implements the device execution contexts that issue and track work on each Place, and the
// Registry that maps places to their contexts.
//
// A device Context behaves like an accelerator stream: operations are enqueued (CopyAsync, AccumulateAsync,
// Enqueue) and executed asynchronously, in order, by the device. Wait blocks until all enqueued operations
// finished, and returns the first error any of them reported. Contexts of different places run concurrently.
//
// Accelerator contexts are simulated with host memory, but they are still distinct places: data placed on
// "accel:1" must be explicitly copied to "accel:0" before it can be combined with data there.
package devices

import (
	"fmt"

	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/tensors"
	"github.com/pkg/errors"
)

var (
	// ErrUnsupported is returned when a capability (e.g.: accelerators) is requested in an environment that
	// was not configured with it.
	ErrUnsupported = errors.New("unsupported capability")

	// ErrDevice is matched (with errors.Is) by failures of operations executed by a device context.
	ErrDevice = errors.New("device failure")
)

// Context issues and tracks work on one Place.
//
// The context doesn't own the tensors it operates on: it's up to the caller to not change them until
// Wait returns.
type Context interface {
	// Place this context executes on.
	Place() places.Place

	// CopyAsync enqueues the copy of the contents of src into dst. One of them must be on the context's place:
	// copies are issued on the source's context when transferring data out of a device, as accelerators do.
	CopyAsync(dst, src *tensors.Tensor)

	// AccumulateAsync enqueues dst += src (elementwise). Both tensors must be on the context's place.
	AccumulateAsync(dst, src *tensors.Tensor)

	// Enqueue a generic operation to be executed in order with the other operations of the context.
	Enqueue(name string, fn func() error)

	// Wait blocks until all enqueued operations are finished, and returns the first error since the last Wait.
	Wait() error

	// Finalize stops the context. Operations enqueued after Finalize fail.
	Finalize()
}

// DeviceError is the error reported by an operation executed by a device context.
// It matches ErrDevice with errors.Is.
type DeviceError struct {
	Place places.Place
	Op    string
	Err   error
}

// Error implements error.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: operation %q failed: %v", e.Place, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }

// Is makes DeviceError match ErrDevice.
func (e *DeviceError) Is(target error) bool { return target == ErrDevice }
