// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Len(t, shape1.Dimensions, 3)
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, 2, shape1.Dim(-1))
	require.Equal(t, 3*2, shape1.RowSize())
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.Panics(t, func() { _ = Make(dtypes.Float32, 2, -1) })
	require.Panics(t, func() { _ = shape1.Dim(3) })
}

func TestWithRows(t *testing.T) {
	shape := Make(dtypes.Float32, 20, 20)
	empty := shape.WithRows(0)
	require.True(t, empty.IsZeroSize())
	require.Equal(t, 0, empty.Size())
	require.Equal(t, 20, empty.RowSize())
	// Original is not modified.
	require.Equal(t, []int{20, 20}, shape.Dimensions)

	stacked := shape.WithRows(160)
	require.True(t, stacked.Equal(Make(dtypes.Float32, 160, 20)))
	require.False(t, stacked.Equal(Make(dtypes.Float64, 160, 20)))
	require.True(t, stacked.EqualDimensions(Make(dtypes.Float64, 160, 20)))
	require.Panics(t, func() { Scalar[float32]().WithRows(1) })
}

func TestAssertDims(t *testing.T) {
	shape := Make(dtypes.Int64, 3, 7)
	require.NotPanics(t, func() { AssertDims(shape, 3, -1) })
	require.Panics(t, func() { AssertDims(shape, 3) })
	require.Panics(t, func() { AssertDims(shape, 4, 7) })
}
