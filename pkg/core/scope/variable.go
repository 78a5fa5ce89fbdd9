// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scope

import (
	"fmt"
	"sync"

	"github.com/gomlx/devreduce/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Kind of value held by a Variable. It is a closed set: a variable is either empty, or holds
// one of the known tensor representations.
//
//go:generate go tool enumer -type=Kind -trimprefix=Kind -output=gen_kind_enumer.go
type Kind int

const (
	// KindEmpty is a variable that was declared but holds no value yet.
	KindEmpty Kind = iota

	// KindDense is a variable holding a *tensors.Tensor (with optional LoD).
	KindDense

	// KindSelectedRows is a variable holding a *tensors.SelectedRows.
	KindSelectedRows
)

// Variable is a named slot in a Scope. It holds at most one value, whose Kind is fixed once set.
type Variable struct {
	name string

	mu           sync.Mutex
	kind         Kind
	dense        *tensors.Tensor
	selectedRows *tensors.SelectedRows
}

// Name of the variable.
func (v *Variable) Name() string { return v.name }

// Kind of the value held.
func (v *Variable) Kind() Kind {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.kind
}

// IsInitialized returns whether the variable holds a value.
func (v *Variable) IsInitialized() bool {
	return v.Kind() != KindEmpty
}

// Dense returns the dense tensor held, or an error if the variable holds something else.
func (v *Variable) Dense() (*tensors.Tensor, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.kind != KindDense {
		return nil, errors.Errorf("variable %q holds %s, not %s", v.name, v.kind, KindDense)
	}
	return v.dense, nil
}

// SelectedRows returns the sparse tensor held, or an error if the variable holds something else.
func (v *Variable) SelectedRows() (*tensors.SelectedRows, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.kind != KindSelectedRows {
		return nil, errors.Errorf("variable %q holds %s, not %s", v.name, v.kind, KindSelectedRows)
	}
	return v.selectedRows, nil
}

// GetMutableDense returns the dense tensor held, creating an empty one if the variable is empty.
// It returns an error if the variable holds another kind.
func (v *Variable) GetMutableDense() (*tensors.Tensor, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.kind {
	case KindEmpty:
		v.kind = KindDense
		v.dense = &tensors.Tensor{}
	case KindDense:
	default:
		return nil, errors.Errorf("variable %q holds %s, cannot use it as %s", v.name, v.kind, KindDense)
	}
	return v.dense, nil
}

// GetMutableSelectedRows returns the sparse tensor held, creating an empty one if the variable is empty.
// It returns an error if the variable holds another kind.
func (v *Variable) GetMutableSelectedRows() (*tensors.SelectedRows, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.kind {
	case KindEmpty:
		v.kind = KindSelectedRows
		v.selectedRows = tensors.NewSelectedRows(nil, 0)
	case KindSelectedRows:
	default:
		return nil, errors.Errorf("variable %q holds %s, cannot use it as %s", v.name, v.kind, KindSelectedRows)
	}
	return v.selectedRows, nil
}

// MustGetMutableDense is GetMutableDense, but panics on error.
func (v *Variable) MustGetMutableDense() *tensors.Tensor {
	t, err := v.GetMutableDense()
	if err != nil {
		panic(err)
	}
	return t
}

// MustGetMutableSelectedRows is GetMutableSelectedRows, but panics on error.
func (v *Variable) MustGetMutableSelectedRows() *tensors.SelectedRows {
	sr, err := v.GetMutableSelectedRows()
	if err != nil {
		panic(err)
	}
	return sr
}

// SetDense replaces the value held by the given dense tensor.
func (v *Variable) SetDense(t *tensors.Tensor) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.kind, v.dense, v.selectedRows = KindDense, t, nil
}

// SetSelectedRows replaces the value held by the given sparse tensor.
func (v *Variable) SetSelectedRows(sr *tensors.SelectedRows) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.kind, v.dense, v.selectedRows = KindSelectedRows, nil, sr
}

// Clear removes the value held, making the variable empty again.
func (v *Variable) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.kind, v.dense, v.selectedRows = KindEmpty, nil, nil
}

// String implements fmt.Stringer.
func (v *Variable) String() string {
	v.mu.Lock()
	kind, dense, sr := v.kind, v.dense, v.selectedRows
	v.mu.Unlock()
	switch kind {
	case KindDense:
		return fmt.Sprintf("Variable(%q: %s)", v.name, dense)
	case KindSelectedRows:
		return fmt.Sprintf("Variable(%q: %s)", v.name, sr)
	default:
		return fmt.Sprintf("Variable(%q: %s)", v.name, kind)
	}
}
