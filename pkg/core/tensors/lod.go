// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"slices"

	"github.com/pkg/errors"
)

// LoD ("level of detail") describes nested variable-length sequences packed along the first axis of a
// dense tensor. Each level is a list of non-decreasing offsets starting at 0. The last offset of the last
// level must match the number of rows of the tensor, and the last offset of each other level is the number of
// entries of the following level (minus one).
//
// Example: LoD{{0, 10, 20}} describes 2 sequences of 10 rows each, packed in a tensor with 20 rows.
type LoD [][]int

// Clone returns a deep copy of the LoD. Clone of a nil LoD is nil.
func (lod LoD) Clone() LoD {
	if lod == nil {
		return nil
	}
	clone := make(LoD, len(lod))
	for level, offsets := range lod {
		clone[level] = slices.Clone(offsets)
	}
	return clone
}

// Equal returns whether both LoD have the same levels and offsets.
func (lod LoD) Equal(other LoD) bool {
	return slices.EqualFunc(lod, other, func(a, b []int) bool { return slices.Equal(a, b) })
}

// NumSequences returns the number of sequences described by the given level.
func (lod LoD) NumSequences(level int) int {
	if level < 0 || level >= len(lod) || len(lod[level]) == 0 {
		return 0
	}
	return len(lod[level]) - 1
}

// Validate checks that the LoD is consistent with a tensor with numRows rows.
// An empty LoD is always valid.
func (lod LoD) Validate(numRows int) error {
	for level, offsets := range lod {
		if len(offsets) < 1 {
			return errors.Errorf("LoD level %d is empty, it needs at least the offset 0", level)
		}
		if offsets[0] != 0 {
			return errors.Errorf("LoD level %d must start at offset 0, got %d", level, offsets[0])
		}
		for ii := 1; ii < len(offsets); ii++ {
			if offsets[ii] < offsets[ii-1] {
				return errors.Errorf("LoD level %d offsets must be non-decreasing, got %v", level, offsets)
			}
		}
		last := offsets[len(offsets)-1]
		if level < len(lod)-1 {
			if want := len(lod[level+1]) - 1; last != want {
				return errors.Errorf("LoD level %d ends at %d, but level %d has %d entries", level, last, level+1, want)
			}
		} else if last != numRows {
			return errors.Errorf("LoD last level ends at %d, but tensor has %d rows", last, numRows)
		}
	}
	return nil
}
