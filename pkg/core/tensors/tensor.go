// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement the two tensor representations a reduction can merge:
//
//   - Tensor: a dense multidimensional array, defined by its shape (a data type and its axes' dimensions),
//     the Place (device) that holds it, an optional LoD (level-of-detail offsets describing nested
//     variable-length sequences packed along the first axis), and its actual content stored as a flat
//     (1D) Go slice of the underlying dtype.
//   - SelectedRows: a sparse, row-indexed tensor. A dense value matrix with one row per present logical
//     row, plus the list of logical row ids and the declared logical number of rows ("height").
//
// There are various ways to construct a Tensor:
//
//   - FromShape(place, shape): creates a tensor with the given shape, and zero values.
//
//   - FromFlatDataAndDimensions(place, data, dimensions...): creates a Tensor with the given dimensions
//     and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions(places.Host(), []float32{1, 2, 3, 4}, 2, 2) // [[1,2], [3,4]]
//
// The storage of a Tensor can be shared with another Tensor (see Tensor.ShareDataWith): this is how a
// destination variable is made to alias the source that already lives on the destination device.
//
// Tensors don't move themselves across devices: transfers and accumulation are issued by device contexts
// (package devices), which call CopyFlat and Accumulate from their own streams.
package tensors

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// storage holds the flat data of a tensor. It can be shared among many tensors.
type storage struct {
	// mu protects flat contents. Readers take the read lock, kernels writing to it take the write lock.
	mu sync.RWMutex

	// flat is always a slice of the underlying data type (shape.DType).
	flat any
}

// Tensor represents a dense multidimensional array, located on a Place.
//
// The shape, place and LoD are metadata owned by the Tensor, while the data storage may be shared
// with other tensors (see ShareDataWith).
type Tensor struct {
	// mu protects the metadata (shape, place, lod) and the storage pointer.
	mu sync.Mutex

	shape   shapes.Shape
	place   places.Place
	lod     LoD
	storage *storage
}

// FromShape returns a new Tensor on the given place with the given shape, with zero values.
func FromShape(place places.Place, shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	goType := shape.DType.GoType()
	if goType == nil {
		exceptions.Panicf("tensors.FromShape(%s): dtype not supported", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape:   shape.Clone(),
		place:   place,
		storage: &storage{flat: reflect.MakeSlice(reflect.SliceOf(goType), size, size).Interface()},
	}
}

// FromFlatDataAndDimensions creates a tensor on the given place with the given dimensions, filled with the
// flattened values given in `data`. The data is copied.
//
// If the dimensions are not given, it assumes it's a 1D tensor with the given data.
func FromFlatDataAndDimensions[T dtypes.Supported](place places.Place, data []T, dimensions ...int) *Tensor {
	if len(dimensions) == 0 {
		dimensions = []int{len(data)}
	}
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if shape.Size() != len(data) {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(place, shape)
	MutableFlatData(t, func(flat []T) {
		copy(flat, data)
	})
	return t
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shape
}

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.Shape().DType
}

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.Shape().Size() }

// Memory returns the number of bytes used to store the tensor.
func (t *Tensor) Memory() uintptr { return t.Shape().Memory() }

// Place where the tensor data lives.
func (t *Tensor) Place() places.Place {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.place
}

// LoD returns a copy of the level-of-detail offsets of the tensor. It may be nil.
func (t *Tensor) LoD() LoD {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lod.Clone()
}

// SetLoD sets the level-of-detail offsets. The offsets are copied.
func (t *Tensor) SetLoD(lod LoD) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lod = lod.Clone()
}

// Ok returns whether the Tensor is in a valid state: not nil, with a valid shape and some storage.
func (t *Tensor) Ok() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shape.Ok() && t.storage != nil
}

// CheckValid returns an error if it's nil, if it has no storage or if its shape is invalid.
func (t *Tensor) CheckValid() error {
	if t == nil {
		return errors.New("Tensor is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.shape.Ok() {
		return errors.New("Tensor shape is invalid")
	}
	if t.storage == nil {
		return errors.Errorf("Tensor%s has no storage", t.shape)
	}
	return nil
}

// AssertValid panics if it's nil, has no storage, or if its shape is invalid.
func (t *Tensor) AssertValid() {
	err := t.CheckValid()
	if err != nil {
		panic(err)
	}
}

// IsSharedWith returns whether t and other share the same underlying data storage.
func (t *Tensor) IsSharedWith(other *Tensor) bool {
	if t == nil || other == nil {
		return false
	}
	return t.getStorage() == other.getStorage() && t.getStorage() != nil
}

func (t *Tensor) getStorage() *storage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.storage
}

// ShareDataWith makes t use the same data storage as src: after this call, changes to the contents of one are
// visible in the other. The shape and place are copied from src, the LoD of t is left untouched.
func (t *Tensor) ShareDataWith(src *Tensor) {
	src.AssertValid()
	src.mu.Lock()
	shape, place, s := src.shape.Clone(), src.place, src.storage
	src.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.shape = shape
	t.place = place
	t.storage = s
}

// Resize re-allocates t with new zero storage on the given place and shape, detaching it from any previously
// shared storage. The LoD is reset.
func (t *Tensor) Resize(place places.Place, shape shapes.Shape) {
	fresh := FromShape(place, shape)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shape = fresh.shape
	t.place = place
	t.storage = fresh.storage
	t.lod = nil
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Even scalar values have a flattened data representation of one element.
//
// accessFn is given the actual Tensor data (not a copy), and it must not be changed.
// The storage is read-locked until accessFn returns.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	s := t.getStorage()
	if s == nil {
		exceptions.Panicf("Tensor%s.ConstFlatData: tensor has no storage", t.Shape())
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	accessFn(s.flat)
}

// MutableFlatData calls accessFn with a flat slice pointing to the Tensor data. The type of the slice corresponds
// to the DType of the tensor. The contents of the slice itself can be changed until accessFn returns.
// During this time the storage is locked.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	s := t.getStorage()
	if s == nil {
		exceptions.Panicf("Tensor%s.MutableFlatData: tensor has no storage", t.Shape())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	accessFn(s.flat)
}

// ConstFlatData calls accessFn with the flattened data as a slice of T.
// It is the "generics" version of Tensor.ConstFlatData().
//
// It panics if T doesn't match the tensor's DType.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if dtype := t.DType(); dtype != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("ConstFlatData[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, dtype, dtypes.FromGenericsType[T]())
	}
	t.ConstFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// MutableFlatData calls accessFn with a flat slice pointing to the Tensor data.
// It is the "generics" version of Tensor.MutableFlatData().
//
// It panics if T doesn't match the tensor's DType.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if dtype := t.DType(); dtype != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("MutableFlatData[%T] is incompatible with Tensor's dtype %s", v, dtype)
	}
	t.MutableFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// CopyFlatData returns a copy of the flat data of the Tensor.
//
// It will panic if the given generic type doesn't match the DType of the tensor.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var flatCopy []T
	ConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return flatCopy
}

// CloneTo returns a new Tensor on the given place, with a copy of the contents, shape and LoD of t.
func (t *Tensor) CloneTo(place places.Place) *Tensor {
	t.AssertValid()
	clone := FromShape(place, t.Shape())
	clone.SetLoD(t.LoD())
	must(CopyFlat(clone, t))
	return clone
}

// String implements fmt.Stringer, with a one-line description of the tensor (not its contents).
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	shape, place, lod := t.Shape(), t.Place(), t.LoD()
	if len(lod) > 0 {
		return fmt.Sprintf("Tensor%s@%s{lod=%v, %s}", shape, place, lod, humanize.Bytes(uint64(shape.Memory())))
	}
	return fmt.Sprintf("Tensor%s@%s{%s}", shape, place, humanize.Bytes(uint64(shape.Memory())))
}

// must converts an error to a panic. It's a no-op if err==nil.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
