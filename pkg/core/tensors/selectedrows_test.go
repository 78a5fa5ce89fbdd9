// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectedRows(t *testing.T) {
	rows := []int64{3, 0, 3}
	sr := NewSelectedRows(rows, 5)
	rows[0] = 100 // Rows are copied.
	assert.Equal(t, []int64{3, 0, 3}, sr.Rows())
	assert.Equal(t, int64(5), sr.Height())
	assert.Equal(t, 3, sr.NumRows())
	assert.Equal(t, places.Place{}, sr.Place())
	assert.Equal(t, 0, sr.RowWidth())
	require.Error(t, sr.Validate(), "no value set")

	sr.SetValue(FromFlatDataAndDimensions(places.Accel(0), []float32{1, 2, 3, 4, 5, 6}, 3, 2))
	require.NoError(t, sr.Validate())
	assert.Equal(t, 2, sr.RowWidth())
	assert.Equal(t, places.Accel(0), sr.Place())
	assert.Equal(t, 0, sr.Index(3))
	assert.Equal(t, 1, sr.Index(0))
	assert.Equal(t, -1, sr.Index(4))

	dense, err := sr.ToDense()
	require.NoError(t, err)
	assert.Equal(t, []int{5, 2}, dense.Shape().Dimensions)
	assert.Equal(t, []float32{
		3, 4,
		0, 0,
		0, 0,
		1 + 5, 2 + 6,
		0, 0,
	}, CopyFlatData[float32](dense))

	sr.SetHeight(3)
	require.Error(t, sr.Validate(), "row 3 out of range for height 3")
	sr.SetHeight(5)
	sr.SetRows([]int64{1, 2})
	require.Error(t, sr.Validate(), "2 rows indices for 3 value rows")
}

func TestSelectedRowsMutableValue(t *testing.T) {
	src := NewSelectedRows([]int64{0}, 1)
	src.SetValue(FromFlatDataAndDimensions(places.Host(), []float64{7}, 1, 1))

	dst := NewSelectedRows(nil, 0)
	value := dst.MutableValue()
	require.False(t, value.Ok())
	value.ShareDataWith(src.Value())
	assert.Same(t, value, dst.MutableValue())
	assert.True(t, dst.Value().IsSharedWith(src.Value()))
}
