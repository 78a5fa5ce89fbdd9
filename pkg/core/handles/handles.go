// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package handles implements the nodes of the dataflow graph that connect operators: variable handles
// (a named variable on a specific scope and place, at a given version), placeholder (dependency-only)
// handles, and OpHandleBase, the plumbing shared by all operators.
package handles

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gomlx/devreduce/pkg/core/places"
)

// VarHandleBase is implemented by all edges of the graph: VarHandle and DummyVarHandle.
type VarHandleBase interface {
	fmt.Stringer

	// GeneratedOp returns the operator that generates the variable, or nil if it is an external input.
	GeneratedOp() OpHandle

	// PendingOps returns the operators consuming the variable.
	PendingOps() []OpHandle

	// IsPlaceholder returns whether the edge carries no data, and exists only to order operators.
	IsPlaceholder() bool

	setGeneratedOp(op OpHandle)
	addPendingOp(op OpHandle)
}

// edges holds the graph connections of a handle.
type edges struct {
	mu          sync.Mutex
	generatedOp OpHandle
	pendingOps  []OpHandle
}

// GeneratedOp implements VarHandleBase.
func (e *edges) GeneratedOp() OpHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generatedOp
}

// PendingOps implements VarHandleBase.
func (e *edges) PendingOps() []OpHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.pendingOps)
}

func (e *edges) setGeneratedOp(op OpHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generatedOp = op
}

func (e *edges) addPendingOp(op OpHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingOps = append(e.pendingOps, op)
}

// VarHandle names one instance of a variable: the variable Name in the scope with index ScopeIdx, on Place,
// at the given Version.
//
// Handles are owned by the graph construction: operators only read them.
type VarHandle struct {
	edges

	Name     string
	Version  int
	ScopeIdx int
	Place    places.Place
}

// Compile-time check that VarHandle implements VarHandleBase.
var _ VarHandleBase = (*VarHandle)(nil)

// NewVarHandle creates a handle for the variable name at version, in the scope scopeIdx bound to place.
func NewVarHandle(name string, version, scopeIdx int, place places.Place) *VarHandle {
	return &VarHandle{Name: name, Version: version, ScopeIdx: scopeIdx, Place: place}
}

// IsPlaceholder implements VarHandleBase.
func (v *VarHandle) IsPlaceholder() bool { return false }

// String implements fmt.Stringer.
func (v *VarHandle) String() string {
	return fmt.Sprintf("%s:%d@scope#%d(%s)", v.Name, v.Version, v.ScopeIdx, v.Place)
}

// DummyVarHandle is a placeholder edge: it carries no data, and is only used to express dependencies
// between operators.
type DummyVarHandle struct {
	edges

	Name string
}

// Compile-time check that DummyVarHandle implements VarHandleBase.
var _ VarHandleBase = (*DummyVarHandle)(nil)

// NewDummyVarHandle creates a placeholder edge with the given name, used only for debugging.
func NewDummyVarHandle(name string) *DummyVarHandle {
	return &DummyVarHandle{Name: name}
}

// IsPlaceholder implements VarHandleBase.
func (d *DummyVarHandle) IsPlaceholder() bool { return true }

// String implements fmt.Stringer.
func (d *DummyVarHandle) String() string { return "dummy:" + d.Name }

// FilterVarHandles returns the edges that carry data, in the same order, dropping the placeholders.
func FilterVarHandles(handles []VarHandleBase) []*VarHandle {
	var filtered []*VarHandle
	for _, h := range handles {
		if v, ok := h.(*VarHandle); ok {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// OnlyVarHandle returns the single edge that carries data, or false if there isn't exactly one.
func OnlyVarHandle(handles []VarHandleBase) (*VarHandle, bool) {
	filtered := FilterVarHandles(handles)
	if len(filtered) != 1 {
		return nil, false
	}
	return filtered[0], true
}
