// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/shapes"
	"github.com/pkg/errors"
)

// SelectedRows is a sparse row-indexed tensor: a dense value matrix of shape [numPresentRows, rowWidth...],
// paired with the logical row index of each of its rows and the logical total number of rows ("height").
//
// Rows may contain duplicates and need not be sorted: the logical tensor is the sum of all value rows
// with the same index (see ToDense). Consumers are responsible for coalescing duplicates if they need to.
type SelectedRows struct {
	mu     sync.Mutex
	value  *Tensor
	rows   []int64
	height int64
}

// NewSelectedRows creates a SelectedRows with the given row indices and height, and no value yet.
// The rows are copied.
func NewSelectedRows(rows []int64, height int64) *SelectedRows {
	return &SelectedRows{rows: slices.Clone(rows), height: height}
}

// Value returns the value matrix. It may be nil if not set yet.
func (sr *SelectedRows) Value() *Tensor {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.value
}

// SetValue sets the value matrix.
func (sr *SelectedRows) SetValue(value *Tensor) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.value = value
}

// MutableValue returns the value matrix, creating an empty (invalid) Tensor if none is set.
// The returned tensor can be filled with Tensor.ShareDataWith or Tensor.Resize.
func (sr *SelectedRows) MutableValue() *Tensor {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.value == nil {
		sr.value = &Tensor{shape: shapes.Invalid()}
	}
	return sr.value
}

// Rows returns a copy of the logical row indices.
func (sr *SelectedRows) Rows() []int64 {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return slices.Clone(sr.rows)
}

// NumRows returns the number of present rows.
func (sr *SelectedRows) NumRows() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.rows)
}

// SetRows sets the logical row indices. They are copied.
func (sr *SelectedRows) SetRows(rows []int64) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.rows = slices.Clone(rows)
}

// Height returns the logical number of rows of the tensor.
func (sr *SelectedRows) Height() int64 {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.height
}

// SetHeight sets the logical number of rows of the tensor.
func (sr *SelectedRows) SetHeight(height int64) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.height = height
}

// Place where the value matrix is stored. The zero Place if there is no value.
func (sr *SelectedRows) Place() places.Place {
	value := sr.Value()
	if !value.Ok() {
		return places.Place{}
	}
	return value.Place()
}

// RowWidth returns the number of elements of each value row.
func (sr *SelectedRows) RowWidth() int {
	value := sr.Value()
	if !value.Ok() {
		return 0
	}
	return value.Shape().RowSize()
}

// Index returns the position in the value matrix of the first occurrence of the logical row id, or -1
// if it is not present.
func (sr *SelectedRows) Index(row int64) int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return slices.Index(sr.rows, row)
}

// Validate checks the invariants of the representation: the value is valid and has at least rank 1, its number
// of rows matches the number of row indices, and every row index is in [0, height).
func (sr *SelectedRows) Validate() error {
	value := sr.Value()
	if err := value.CheckValid(); err != nil {
		return errors.WithMessage(err, "SelectedRows value")
	}
	shape := value.Shape()
	if shape.Rank() < 1 {
		return errors.Errorf("SelectedRows value must have rank >= 1, got shape %s", shape)
	}
	rows, height := sr.Rows(), sr.Height()
	if shape.Dim(0) != len(rows) {
		return errors.Errorf("SelectedRows value has %d rows (shape %s), but %d row indices are given",
			shape.Dim(0), shape, len(rows))
	}
	for ii, row := range rows {
		if row < 0 || row >= height {
			return errors.Errorf("SelectedRows row index #%d is %d, out of range [0, %d)", ii, row, height)
		}
	}
	return nil
}

// ToDense returns the dense tensor of shape [height, rowWidth...] this SelectedRows represents: each value row is
// added to the row given by its logical index, so duplicated indices are summed. The result is on the same place
// as the value matrix.
func (sr *SelectedRows) ToDense() (*Tensor, error) {
	if err := sr.Validate(); err != nil {
		return nil, err
	}
	value := sr.Value()
	shape := value.Shape()
	rowSize := shape.RowSize()
	dense := FromShape(value.Place(), shape.WithRows(int(sr.Height())))
	rows := sr.Rows()
	var err error
	dense.MutableFlatData(func(dstFlat any) {
		value.ConstFlatData(func(srcFlat any) {
			dstV, srcV := reflect.ValueOf(dstFlat), reflect.ValueOf(srcFlat)
			for ii, row := range rows {
				dstRow := dstV.Slice(int(row)*rowSize, int(row+1)*rowSize).Interface()
				srcRow := srcV.Slice(ii*rowSize, (ii+1)*rowSize).Interface()
				if err = accumulateFlat(dstRow, srcRow, 0, rowSize); err != nil {
					err = errors.WithMessagef(err, "SelectedRows.ToDense: row #%d (index %d)", ii, row)
					return
				}
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return dense, nil
}

// String implements fmt.Stringer.
func (sr *SelectedRows) String() string {
	return fmt.Sprintf("SelectedRows{height=%d, rows=%d, value=%s}", sr.Height(), sr.NumRows(), sr.Value())
}
