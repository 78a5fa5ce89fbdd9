// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions(places.Accel(1), []float32{1, 2, 3, 4, 5, 6}, 3, 2)
	require.True(t, tensor.Ok())
	assert.Equal(t, places.Accel(1), tensor.Place())
	assert.True(t, tensor.Shape().Equal(shapes.Make(dtypes.Float32, 3, 2)))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](tensor))
	assert.Equal(t, 24, int(tensor.Memory()))

	require.Panics(t, func() { FromFlatDataAndDimensions(places.Host(), []float32{1, 2, 3}, 2, 2) })
	require.Panics(t, func() { CopyFlatData[float64](tensor) })

	var empty *Tensor
	require.False(t, empty.Ok())
	require.Error(t, empty.CheckValid())
	require.Equal(t, dtypes.InvalidDType, empty.DType())
}

func TestShareDataWith(t *testing.T) {
	src := FromFlatDataAndDimensions(places.Host(), []int64{1, 2, 3, 4}, 2, 2)
	src.SetLoD(LoD{{0, 1, 2}})
	dst := &Tensor{}
	require.False(t, dst.Ok())
	dst.ShareDataWith(src)
	require.True(t, dst.IsSharedWith(src))
	assert.True(t, dst.Shape().Equal(src.Shape()))
	assert.Nil(t, dst.LoD(), "LoD is not shared")

	MutableFlatData(dst, func(flat []int64) { flat[0] = 100 })
	assert.Equal(t, []int64{100, 2, 3, 4}, CopyFlatData[int64](src))

	// Resize detaches the storage.
	dst.Resize(places.Host(), shapes.Make(dtypes.Int64, 4))
	require.False(t, dst.IsSharedWith(src))
	assert.Equal(t, []int64{0, 0, 0, 0}, CopyFlatData[int64](dst))
	assert.Equal(t, []int64{100, 2, 3, 4}, CopyFlatData[int64](src))
}

func TestCloneTo(t *testing.T) {
	src := FromFlatDataAndDimensions(places.Accel(0), []float64{1, 2, 3})
	src.SetLoD(LoD{{0, 3}})
	clone := src.CloneTo(places.Accel(2))
	require.False(t, clone.IsSharedWith(src))
	assert.Equal(t, places.Accel(2), clone.Place())
	assert.Equal(t, LoD{{0, 3}}, clone.LoD())
	assert.Equal(t, []float64{1, 2, 3}, CopyFlatData[float64](clone))
	assert.Contains(t, clone.String(), "accel:2")
}

func TestAccumulate(t *testing.T) {
	t.Run("float32", func(t *testing.T) {
		dst := FromFlatDataAndDimensions(places.Host(), []float32{1, 2, 3, 4}, 2, 2)
		src := FromFlatDataAndDimensions(places.Host(), []float32{10, 20, 30, 40}, 2, 2)
		require.NoError(t, Accumulate(dst, src))
		assert.Equal(t, []float32{11, 22, 33, 44}, CopyFlatData[float32](dst))
		assert.Equal(t, []float32{10, 20, 30, 40}, CopyFlatData[float32](src), "source must not change")
	})

	t.Run("int64", func(t *testing.T) {
		dst := FromFlatDataAndDimensions(places.Host(), []int64{1, 2})
		src := FromFlatDataAndDimensions(places.Host(), []int64{3, 4})
		require.NoError(t, Accumulate(dst, src))
		assert.Equal(t, []int64{4, 6}, CopyFlatData[int64](dst))
	})

	t.Run("float16", func(t *testing.T) {
		dst := FromFlatDataAndDimensions(places.Host(), []float16.Float16{float16.Fromfloat32(1.5)})
		src := FromFlatDataAndDimensions(places.Host(), []float16.Float16{float16.Fromfloat32(2.25)})
		require.NoError(t, Accumulate(dst, src))
		assert.Equal(t, float32(3.75), CopyFlatData[float16.Float16](dst)[0].Float32())
	})

	t.Run("bfloat16", func(t *testing.T) {
		dst := FromFlatDataAndDimensions(places.Host(), []bfloat16.BFloat16{bfloat16.FromFloat32(2)})
		src := FromFlatDataAndDimensions(places.Host(), []bfloat16.BFloat16{bfloat16.FromFloat32(3)})
		require.NoError(t, Accumulate(dst, src))
		assert.Equal(t, float32(5), CopyFlatData[bfloat16.BFloat16](dst)[0].Float32())
	})

	t.Run("shared storage doubles", func(t *testing.T) {
		dst := FromFlatDataAndDimensions(places.Host(), []float32{1, 2})
		alias := &Tensor{}
		alias.ShareDataWith(dst)
		require.NoError(t, Accumulate(dst, alias))
		assert.Equal(t, []float32{2, 4}, CopyFlatData[float32](dst))
	})

	t.Run("split", func(t *testing.T) {
		dst := FromFlatDataAndDimensions(places.Host(), []float64{1, 1, 1, 1, 1})
		src := FromFlatDataAndDimensions(places.Host(), []float64{1, 2, 3, 4, 5})
		var ranges [][2]int
		err := AccumulateWith(dst, src, func(size int, kernel func(start, end int) error) error {
			for start := 0; start < size; start += 2 {
				end := min(start+2, size)
				ranges = append(ranges, [2]int{start, end})
				if err := kernel(start, end); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, ranges)
		assert.Equal(t, []float64{2, 3, 4, 5, 6}, CopyFlatData[float64](dst))
	})

	t.Run("errors", func(t *testing.T) {
		f32 := FromFlatDataAndDimensions(places.Host(), []float32{1, 2})
		f64 := FromFlatDataAndDimensions(places.Host(), []float64{1, 2})
		f32x3 := FromFlatDataAndDimensions(places.Host(), []float32{1, 2, 3})
		require.Error(t, Accumulate(f32, f64))
		require.Error(t, Accumulate(f32, f32x3))
		require.Error(t, Accumulate(f32, &Tensor{}))
		bools := FromFlatDataAndDimensions(places.Host(), []bool{true})
		require.Error(t, Accumulate(bools, bools))
	})
}

func TestCopyFlat(t *testing.T) {
	src := FromFlatDataAndDimensions(places.Accel(0), []int32{1, 2, 3, 4, 5, 6}, 2, 3)
	dst := FromShape(places.Accel(1), shapes.Make(dtypes.Int32, 6))
	require.NoError(t, CopyFlat(dst, src))
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, CopyFlatData[int32](dst))
	require.Error(t, CopyFlat(FromShape(places.Host(), shapes.Make(dtypes.Int32, 5)), src))
}

func TestStackRows(t *testing.T) {
	a := FromFlatDataAndDimensions(places.Host(), []float32{1, 2, 3, 4}, 2, 2)
	b := FromFlatDataAndDimensions(places.Accel(1), []float32{5, 6}, 1, 2)
	empty := FromShape(places.Host(), shapes.Make(dtypes.Float32, 0, 2))
	stacked, err := StackRows(places.Accel(0), a, empty, b)
	require.NoError(t, err)
	assert.Equal(t, places.Accel(0), stacked.Place())
	assert.Equal(t, []int{3, 2}, stacked.Shape().Dimensions)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](stacked))

	_, err = StackRows(places.Host())
	require.Error(t, err)
	_, err = StackRows(places.Host(), a, FromFlatDataAndDimensions(places.Host(), []float32{1, 2, 3}, 1, 3))
	require.Error(t, err)
	_, err = StackRows(places.Host(), a, FromFlatDataAndDimensions(places.Host(), []float64{1, 2}, 1, 2))
	require.Error(t, err)
}

func TestLoD(t *testing.T) {
	lod := LoD{{0, 10, 20}}
	require.NoError(t, lod.Validate(20))
	require.Error(t, lod.Validate(21))
	assert.Equal(t, 2, lod.NumSequences(0))
	assert.Equal(t, 0, lod.NumSequences(1))

	nested := LoD{{0, 1, 3}, {0, 2, 5, 9}}
	require.NoError(t, nested.Validate(9))
	require.Error(t, LoD{{0, 1, 2}, {0, 2, 5, 9}}.Validate(9))
	require.Error(t, LoD{{1, 2}}.Validate(2))
	require.Error(t, LoD{{0, 3, 2}}.Validate(2))
	require.Error(t, LoD{{}}.Validate(0))
	require.NoError(t, LoD(nil).Validate(7))

	clone := nested.Clone()
	clone[0][0] = 100
	assert.Equal(t, 0, nested[0][0])
	assert.True(t, lod.Equal(LoD{{0, 10, 20}}))
	assert.Nil(t, LoD(nil).Clone())
}
