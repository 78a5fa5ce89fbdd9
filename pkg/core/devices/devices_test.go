// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devices

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/devreduce/internal/workerspool"
	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamOrdering(t *testing.T) {
	s := NewCPUContext()
	defer s.Finalize()
	require.Equal(t, places.Host(), s.Place())

	var order []int
	for ii := range 100 {
		s.Enqueue("append", func() error {
			order = append(order, ii)
			return nil
		})
	}
	require.NoError(t, s.Wait())
	require.Len(t, order, 100)
	for ii, v := range order {
		require.Equal(t, ii, v)
	}
}

func TestStreamCopyAndAccumulate(t *testing.T) {
	accel0 := NewAcceleratorContext(0, WithLatency(time.Millisecond))
	accel1 := NewAcceleratorContext(1, WithPool(workerspool.New().SetMinChunkSize(2)))
	defer accel0.Finalize()
	defer accel1.Finalize()

	src := tensors.FromFlatDataAndDimensions(places.Accel(1), []float32{1, 2, 3, 4}, 2, 2)
	dst := tensors.FromFlatDataAndDimensions(places.Accel(0), []float32{10, 20, 30, 40}, 2, 2)
	scratch := tensors.FromShape(places.Accel(0), src.Shape())

	// Copy issued on the source's context, accumulation on the destination's.
	accel1.CopyAsync(scratch, src)
	require.NoError(t, accel1.Wait())
	accel0.AccumulateAsync(dst, scratch)
	require.NoError(t, accel0.Wait())
	assert.Equal(t, []float32{11, 22, 33, 44}, tensors.CopyFlatData[float32](dst))

	assert.Equal(t, Stats{NumCopies: 1, BytesCopied: 16}, accel1.Stats())
	assert.Equal(t, Stats{NumAccumulates: 1}, accel0.Stats())

	// Accumulation of tensors on another device fails.
	accel1.AccumulateAsync(dst, scratch)
	err := accel1.Wait()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDevice)
	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, places.Accel(1), devErr.Place)
	assert.Equal(t, "accumulate", devErr.Op)

	// Error is cleared after Wait.
	require.NoError(t, accel1.Wait())
}

func TestStreamErrors(t *testing.T) {
	s := NewCPUContext()
	var executed atomic.Int32
	s.Enqueue("fail-1", func() error { return errors.New("first") })
	s.Enqueue("panic", func() error {
		exceptions.Panicf("second")
		return nil
	})
	s.Enqueue("after", func() error {
		executed.Add(1)
		return nil
	})
	err := s.Wait()
	require.ErrorContains(t, err, "first")
	require.ErrorContains(t, err, "fail-1")
	require.Equal(t, int32(1), executed.Load())

	s.Enqueue("panic", func() error {
		exceptions.Panicf("boom")
		return nil
	})
	err = s.Wait()
	require.ErrorIs(t, err, ErrDevice)
	require.ErrorContains(t, err, "boom")

	// Incompatible copy is reported, not panicked.
	s.CopyAsync(tensors.FromShape(places.Host(), tensors.FromFlatDataAndDimensions(places.Host(), []int32{1}).Shape()),
		tensors.FromFlatDataAndDimensions(places.Host(), []float32{1}))
	require.Error(t, s.Wait())

	s.Finalize()
	s.Enqueue("late", func() error { return nil })
	require.ErrorContains(t, s.Wait(), "finalized")
}

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig("cpu:8")
	require.NoError(t, err)
	assert.Equal(t, Config{NumCPU: 8}, c)
	assert.Len(t, c.Participants(), 8)
	assert.Equal(t, "cpu:8", c.String())

	c, err = ParseConfig("accel:4, collective")
	require.NoError(t, err)
	assert.Equal(t, Config{NumAccelerators: 4, AcceleratorsEnabled: true, Collective: true}, c)
	assert.Equal(t, []places.Place{places.Accel(0), places.Accel(1), places.Accel(2), places.Accel(3)}, c.Participants())
	assert.Equal(t, "accel:4,collective", c.String())

	c, err = ParseConfig("cpu:2,gpu:1")
	require.NoError(t, err)
	assert.Equal(t, []places.Place{places.Host(), places.Host(), places.Accel(0)}, c.Participants())

	for _, bad := range []string{"", "cpu", "cpu:x", "cpu:-1", "tpu:2", "cpu:0", "accel:1,collective"} {
		_, err = ParseConfig(bad)
		assert.Errorf(t, err, "configuration %q should have failed", bad)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(DEVREDUCE_DEVICES, "accel:2")
	c, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2, c.NumAccelerators)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(false)
	require.NoError(t, r.Register(NewCPUContext()))
	require.Error(t, r.Register(NewCPUContext()))

	accel := NewAcceleratorContext(0)
	defer accel.Finalize()
	require.ErrorIs(t, r.Register(accel), ErrUnsupported)
	_, err := r.Get(places.Accel(0))
	require.ErrorIs(t, err, ErrUnsupported)

	ctx, err := r.Get(places.Host())
	require.NoError(t, err)
	require.Equal(t, places.Host(), ctx.Place())
	require.Panics(t, func() { r.MustGet(places.Accel(3)) })
	r.Finalize()
	require.Empty(t, r.Places())

	r, err = NewRegistryFromConfig(Config{NumCPU: 1, NumAccelerators: 2, AcceleratorsEnabled: true})
	require.NoError(t, err)
	defer r.Finalize()
	require.Equal(t, []places.Place{places.Host(), places.Accel(0), places.Accel(1)}, r.Places())

	r.MustGet(places.Accel(1)).Enqueue("fail", func() error { return errors.New("accel:1 failed") })
	r.MustGet(places.Host()).Enqueue("fail", func() error { return errors.New("cpu failed") })
	err = r.WaitAll()
	require.ErrorContains(t, err, "cpu failed")
	require.NoError(t, r.WaitAll())

	_, err = NewRegistryFromConfig(Config{NumAccelerators: 1})
	require.ErrorIs(t, err, ErrUnsupported)
}
