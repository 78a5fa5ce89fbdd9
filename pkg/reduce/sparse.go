// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reduce

import (
	"github.com/gomlx/devreduce/pkg/core/shapes"
	"github.com/gomlx/devreduce/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// reduceSparse merges the sources into the destination: the rows of all sources are concatenated, and their
// values stacked, in ascending order of scope. There is no deduplication of rows.
func (op *OpHandle) reduceSparse(sources []source, dst destination) error {
	var (
		height   int64
		rows     []int64
		parts    []*tensors.Tensor
		rowShape shapes.Shape
	)
	for _, src := range sources {
		sr, err := src.variable.SelectedRows()
		if err != nil {
			return configErrorf(err, "%s: input %s", op, src.handle)
		}
		if err := sr.Validate(); err != nil {
			return configErrorf(err, "%s: input %s", op, src.handle)
		}
		if h := sr.Height(); h != 0 {
			if height == 0 {
				height = h
			} else if h != height {
				return errors.Wrapf(ErrConfiguration, "%s: input %s has height %d, but previous inputs have height %d",
					op, src.handle, h, height)
			}
		}

		value := sr.Value()
		valueShape := value.Shape()
		if !rowShape.Ok() {
			rowShape = valueShape.WithRows(1)
		} else if !valueShape.WithRows(1).Equal(rowShape) {
			return errors.Wrapf(ErrConfiguration, "%s: input %s has values shaped %s, incompatible with rows shaped %s",
				op, src.handle, valueShape, rowShape)
		}
		if value.Place() != src.place {
			return errors.Wrapf(ErrConfiguration, "%s: input %s holds values on %s", op, src.handle, value.Place())
		}
		if src.place != dst.place {
			srcCtx, err := op.context(src.place)
			if err != nil {
				return err
			}
			scratch := tensors.FromShape(dst.place, valueShape)
			srcCtx.CopyAsync(scratch, value)
			if err := srcCtx.Wait(); err != nil {
				return errors.WithMessagef(err, "%s: transferring %s to %s", op, src.handle, dst.place)
			}
			klog.V(2).Infof("%s: transferred %d rows of %s from %s to %s",
				op, sr.NumRows(), src.handle, src.place, dst.place)
			value = scratch
		}
		rows = append(rows, sr.Rows()...)
		parts = append(parts, value)
	}

	out, err := dst.variable.GetMutableSelectedRows()
	if err != nil {
		return configErrorf(err, "%s: output", op)
	}
	dstCtx, err := op.context(dst.place)
	if err != nil {
		return err
	}
	klog.V(1).Infof("%s: sparse merge of %d sources, %d rows, height %d", op, len(sources), len(rows), height)
	dstCtx.Enqueue("stack-rows", func() error {
		stacked, err := tensors.StackRows(dst.place, parts...)
		if err != nil {
			return err
		}
		out.SetValue(stacked)
		out.SetRows(rows)
		out.SetHeight(height)
		return nil
	})
	return nil
}
