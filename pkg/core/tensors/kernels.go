// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// SplitFn runs kernel over the range [0, size), possibly splitting it in sub-ranges run in parallel.
// It must return only after all sub-ranges are processed, and it returns the first error from kernel.
type SplitFn func(size int, kernel func(start, end int) error) error

// Sequential is a SplitFn that runs the kernel over the whole range in the calling goroutine.
func Sequential(size int, kernel func(start, end int) error) error {
	return kernel(0, size)
}

// CopyFlat copies the contents of src into dst. They must have the same dtype and the same number of elements,
// but their dimensions and places may differ: this is the primitive used by device contexts to transfer data.
//
// If dst and src share the same storage, it is a no-op.
func CopyFlat(dst, src *Tensor) error {
	if err := checkCompatible("CopyFlat", dst, src); err != nil {
		return err
	}
	ds, ss := dst.getStorage(), src.getStorage()
	if ds == ss {
		return nil
	}
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	ds.mu.Lock()
	defer ds.mu.Unlock()
	reflect.Copy(reflect.ValueOf(ds.flat), reflect.ValueOf(ss.flat))
	return nil
}

// Accumulate adds src to dst elementwise, in the dtype of the tensors (there is no widening to a larger type).
// They must have the same dtype and number of elements.
func Accumulate(dst, src *Tensor) error {
	return AccumulateWith(dst, src, Sequential)
}

// AccumulateWith is like Accumulate, but the elementwise kernel is run through split, which can parallelize it.
//
// Both storages are locked (src for reading, dst for writing) for the duration of the call. If dst and src
// share the same storage, dst is doubled.
func AccumulateWith(dst, src *Tensor, split SplitFn) error {
	if err := checkCompatible("Accumulate", dst, src); err != nil {
		return err
	}
	ds, ss := dst.getStorage(), src.getStorage()
	if ds != ss {
		ss.mu.RLock()
		defer ss.mu.RUnlock()
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	dstFlat, srcFlat := ds.flat, ss.flat
	size := reflect.ValueOf(dstFlat).Len()
	return split(size, func(start, end int) error {
		return accumulateFlat(dstFlat, srcFlat, start, end)
	})
}

func checkCompatible(opName string, dst, src *Tensor) error {
	if err := dst.CheckValid(); err != nil {
		return errors.WithMessagef(err, "%s: invalid destination", opName)
	}
	if err := src.CheckValid(); err != nil {
		return errors.WithMessagef(err, "%s: invalid source", opName)
	}
	dstShape, srcShape := dst.Shape(), src.Shape()
	if dstShape.DType != srcShape.DType {
		return errors.Errorf("%s: destination dtype %s doesn't match source dtype %s", opName, dstShape.DType, srcShape.DType)
	}
	if dstShape.Size() != srcShape.Size() {
		return errors.Errorf("%s: destination shape %s has %d elements, but source shape %s has %d",
			opName, dstShape, dstShape.Size(), srcShape, srcShape.Size())
	}
	return nil
}

type addableNumber interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64 |
		~complex64 | ~complex128
}

func addSlices[T addableNumber](dst, src []T) {
	for ii, v := range src {
		dst[ii] += v
	}
}

// accumulateFlat adds srcFlat[start:end] to dstFlat[start:end]. Half-precision types are added in float32 and
// rounded back on every element.
func accumulateFlat(dstFlat, srcFlat any, start, end int) error {
	switch dst := dstFlat.(type) {
	case []float16.Float16:
		src := srcFlat.([]float16.Float16)
		for ii := start; ii < end; ii++ {
			dst[ii] = float16.Fromfloat32(dst[ii].Float32() + src[ii].Float32())
		}
	case []bfloat16.BFloat16:
		src := srcFlat.([]bfloat16.BFloat16)
		for ii := start; ii < end; ii++ {
			dst[ii] = bfloat16.FromFloat32(dst[ii].Float32() + src[ii].Float32())
		}
	case []float32:
		addSlices(dst[start:end], srcFlat.([]float32)[start:end])
	case []float64:
		addSlices(dst[start:end], srcFlat.([]float64)[start:end])
	case []int32:
		addSlices(dst[start:end], srcFlat.([]int32)[start:end])
	case []int64:
		addSlices(dst[start:end], srcFlat.([]int64)[start:end])
	case []int:
		addSlices(dst[start:end], srcFlat.([]int)[start:end])
	case []int8:
		addSlices(dst[start:end], srcFlat.([]int8)[start:end])
	case []int16:
		addSlices(dst[start:end], srcFlat.([]int16)[start:end])
	case []uint8:
		addSlices(dst[start:end], srcFlat.([]uint8)[start:end])
	case []uint16:
		addSlices(dst[start:end], srcFlat.([]uint16)[start:end])
	case []uint32:
		addSlices(dst[start:end], srcFlat.([]uint32)[start:end])
	case []uint64:
		addSlices(dst[start:end], srcFlat.([]uint64)[start:end])
	case []complex64:
		addSlices(dst[start:end], srcFlat.([]complex64)[start:end])
	case []complex128:
		addSlices(dst[start:end], srcFlat.([]complex128)[start:end])
	default:
		return errors.Errorf("Accumulate not supported for flat data of type %T", dstFlat)
	}
	return nil
}

// StackRows creates a new tensor on the given place by concatenating the given tensors along their first axis,
// in the order given. All tensors must have the same dtype and the same dimensions on the other axes.
//
// It returns an error if no tensors are given, since the shape of the result would be unknown.
func StackRows(place places.Place, parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("StackRows requires at least one tensor")
	}
	first := parts[0].Shape()
	if first.Rank() == 0 {
		return nil, errors.Errorf("StackRows: cannot stack scalar tensors (shape %s)", first)
	}
	numRows := 0
	for ii, part := range parts {
		if err := part.CheckValid(); err != nil {
			return nil, errors.WithMessagef(err, "StackRows: part #%d", ii)
		}
		shape := part.Shape()
		if shape.DType != first.DType || shape.Rank() != first.Rank() ||
			!shapes.Make(shape.DType, shape.Dimensions[1:]...).Equal(shapes.Make(first.DType, first.Dimensions[1:]...)) {
			return nil, errors.Errorf("StackRows: part #%d has shape %s, incompatible with part #0 shape %s",
				ii, shape, first)
		}
		numRows += shape.Dimensions[0]
	}

	stacked := FromShape(place, first.WithRows(numRows))
	stacked.MutableFlatData(func(dstFlat any) {
		dstV := reflect.ValueOf(dstFlat)
		offset := 0
		for _, part := range parts {
			part.ConstFlatData(func(srcFlat any) {
				srcV := reflect.ValueOf(srcFlat)
				offset += reflect.Copy(dstV.Slice(offset, offset+srcV.Len()), srcV)
			})
		}
	})
	return stacked, nil
}
