// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/stretchr/testify/require"
)

func TestSummary(t *testing.T) {
	small := FromFlatDataAndDimensions(places.Host(), []float32{1, 2.5, 3, 4, 5, 6}, 2, 3)
	require.Equal(t, "(Float32)[2 3]@cpu\n  [1, 2.5, 3]\n  [4, 5, 6]", small.Summary(3))

	data := make([]int32, 100)
	for ii := range data {
		data[ii] = int32(ii)
	}
	large := FromFlatDataAndDimensions(places.Accel(1), data, 10, 10)
	large.SetLoD(LoD{{0, 4, 10}})
	want := "(Int32)[10 10]@accel:1 lod=[[0 4 10]]" +
		"\n  [0, 1, 2, ..., 7, 8, 9]" +
		"\n  [10, 11, 12, ..., 17, 18, 19]" +
		"\n  [20, 21, 22, ..., 27, 28, 29]" +
		"\n  ..." +
		"\n  [70, 71, 72, ..., 77, 78, 79]" +
		"\n  [80, 81, 82, ..., 87, 88, 89]" +
		"\n  [90, 91, 92, ..., 97, 98, 99]"
	require.Equal(t, want, large.Summary(3))

	sr := NewSelectedRows([]int64{3, 0}, 4)
	sr.SetValue(FromFlatDataAndDimensions(places.Host(), []float64{1, 2, 3, 4}, 2, 2))
	require.Equal(t, "SelectedRows(height=4, 2 rows)\n  #3: [1, 2]\n  #0: [3, 4]", sr.Summary(3))
}
