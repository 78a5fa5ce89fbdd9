// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collective

import (
	"testing"

	"github.com/gomlx/devreduce/pkg/core/devices"
	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, numAccelerators int) *devices.Registry {
	r := must.M1(devices.NewRegistryFromConfig(devices.Config{
		NumCPU: 1, NumAccelerators: numAccelerators, AcceleratorsEnabled: true}))
	t.Cleanup(r.Finalize)
	return r
}

func TestLocalReduce(t *testing.T) {
	for _, numAccelerators := range []int{2, 3, 5, 8} {
		r := newRegistry(t, numAccelerators)
		comm, err := NewLocalFromRegistry(r)
		require.NoError(t, err)
		require.Len(t, comm.Places(), numAccelerators)
		require.NotEmpty(t, comm.ID())

		srcs := make(map[places.Place]*tensors.Tensor, numAccelerators)
		for ii := range numAccelerators {
			srcs[places.Accel(ii)] = tensors.FromFlatDataAndDimensions(places.Accel(ii),
				[]float64{float64(ii), 1, 10 * float64(ii), -1}, 2, 2)
		}
		dstPlace := places.Accel(numAccelerators - 1)
		dst := tensors.FromShape(dstPlace, srcs[dstPlace].Shape())
		require.NoError(t, comm.Reduce(dstPlace, dst, srcs))
		require.NoError(t, comm.Wait())

		sum := float64(numAccelerators*(numAccelerators-1)) / 2
		n := float64(numAccelerators)
		assert.InDeltaSlice(t, []float64{sum, n, 10 * sum, -n}, tensors.CopyFlatData[float64](dst), 1e-5)

		// Sources are not changed.
		assert.Equal(t, []float64{1, 1, 10, -1}, tensors.CopyFlatData[float64](srcs[places.Accel(1)]))
	}
}

func TestLocalReduceSharedDestination(t *testing.T) {
	r := newRegistry(t, 2)
	comm := must.M1(NewLocalFromRegistry(r))
	srcs := map[places.Place]*tensors.Tensor{
		places.Accel(0): tensors.FromFlatDataAndDimensions(places.Accel(0), []float32{1, 2, 3}),
		places.Accel(1): tensors.FromFlatDataAndDimensions(places.Accel(1), []float32{10, 20, 30}),
	}
	dst := &tensors.Tensor{}
	dst.ShareDataWith(srcs[places.Accel(0)])
	require.NoError(t, comm.Reduce(places.Accel(0), dst, srcs))
	require.NoError(t, comm.Wait())
	assert.Equal(t, []float32{11, 22, 33}, tensors.CopyFlatData[float32](dst))
}

func TestNewLocalErrors(t *testing.T) {
	r := newRegistry(t, 2)
	contexts := r.Contexts()

	_, err := NewLocal(contexts, places.Accel(0))
	require.Error(t, err)
	_, err = NewLocal(contexts, places.Accel(0), places.Accel(0))
	require.ErrorContains(t, err, "duplicated")
	_, err = NewLocal(contexts, places.Host(), places.Accel(0))
	require.ErrorIs(t, err, devices.ErrUnsupported)
	_, err = NewLocal(contexts, places.Accel(0), places.Accel(7))
	require.Error(t, err)

	comm := must.M1(NewLocal(contexts, places.Accel(1), places.Accel(0)))
	require.Equal(t, []places.Place{places.Accel(0), places.Accel(1)}, comm.Places())

	a0 := tensors.FromFlatDataAndDimensions(places.Accel(0), []float32{1, 2})
	a1 := tensors.FromFlatDataAndDimensions(places.Accel(1), []float32{1, 2})
	dst := tensors.FromShape(places.Accel(0), a0.Shape())

	// Missing source.
	require.Error(t, comm.Reduce(places.Accel(0), dst, map[places.Place]*tensors.Tensor{places.Accel(0): a0}))
	// Destination not bound.
	require.Error(t, comm.Reduce(places.Host(), dst, map[places.Place]*tensors.Tensor{
		places.Accel(0): a0, places.Accel(1): a1}))
	// Source on the wrong place.
	require.Error(t, comm.Reduce(places.Accel(0), dst, map[places.Place]*tensors.Tensor{
		places.Accel(0): a0, places.Accel(1): a0}))
	// Shape mismatch.
	a1Long := tensors.FromFlatDataAndDimensions(places.Accel(1), []float32{1, 2, 3})
	require.Error(t, comm.Reduce(places.Accel(0), dst, map[places.Place]*tensors.Tensor{
		places.Accel(0): a0, places.Accel(1): a1Long}))
	require.NoError(t, comm.Wait())
}
