// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package handles

import (
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/devreduce/pkg/core/devices"
	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OpHandle is an operator node of the graph, as seen by the edges connected to it.
type OpHandle interface {
	// Name of the operator, used for logging and error messages.
	Name() string

	// DevContexts returns the device contexts the operator issues work on, by place.
	DevContexts() map[places.Place]devices.Context
}

// RunFunc executes an operator. If waitOnly is true, the operator should only honor the dependencies on its
// inputs, without computing anything.
type RunFunc func(waitOnly bool) error

// OpHandleBase implements the plumbing shared by all operators: input and output edges, the device contexts
// by place and the Run entry point.
//
// Operators embed a *OpHandleBase created with NewOpHandleBase.
type OpHandleBase struct {
	name    string
	runImpl RunFunc

	mu          sync.Mutex
	inputs      []VarHandleBase
	outputs     []VarHandleBase
	devContexts map[places.Place]devices.Context
}

// Compile-time check that OpHandleBase implements OpHandle.
var _ OpHandle = (*OpHandleBase)(nil)

// NewOpHandleBase creates the base of an operator with the given name, executed by runImpl.
func NewOpHandleBase(name string, runImpl RunFunc) *OpHandleBase {
	return &OpHandleBase{
		name:        name,
		runImpl:     runImpl,
		devContexts: make(map[places.Place]devices.Context),
	}
}

// Name implements OpHandle.
func (op *OpHandleBase) Name() string { return op.name }

// String implements fmt.Stringer.
func (op *OpHandleBase) String() string { return "op:" + op.name }

// DevContexts implements OpHandle. It returns a copy of the map.
func (op *OpHandleBase) DevContexts() map[places.Place]devices.Context {
	op.mu.Lock()
	defer op.mu.Unlock()
	return maps.Clone(op.devContexts)
}

// SetDeviceContext sets the context the operator uses for place. The context is borrowed, the operator
// never finalizes it.
func (op *OpHandleBase) SetDeviceContext(place places.Place, ctx devices.Context) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.devContexts[place] = ctx
}

// DeviceContext returns the context for the place, or an error if there is none.
func (op *OpHandleBase) DeviceContext(place places.Place) (devices.Context, error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	ctx, found := op.devContexts[place]
	if !found {
		return nil, errors.Errorf("%s: no device context for %s", op, place)
	}
	return ctx, nil
}

// AddInput connects v as an input: the operator becomes one of its pending (consumer) operators.
func (op *OpHandleBase) AddInput(v VarHandleBase) {
	op.mu.Lock()
	op.inputs = append(op.inputs, v)
	op.mu.Unlock()
	v.addPendingOp(op)
}

// AddOutput connects v as an output: the operator becomes its generator.
func (op *OpHandleBase) AddOutput(v VarHandleBase) {
	op.mu.Lock()
	op.outputs = append(op.outputs, v)
	op.mu.Unlock()
	v.setGeneratedOp(op)
}

// Inputs returns the input edges, including placeholders, in the order they were added.
func (op *OpHandleBase) Inputs() []VarHandleBase {
	op.mu.Lock()
	defer op.mu.Unlock()
	return slices.Clone(op.inputs)
}

// Outputs returns the output edges, including placeholders, in the order they were added.
func (op *OpHandleBase) Outputs() []VarHandleBase {
	op.mu.Lock()
	defer op.mu.Unlock()
	return slices.Clone(op.outputs)
}

// WaitInputVarGenerated waits for the operators generating the inputs, on their context for place.
// Inputs without a generator (external inputs), or whose generator has no context for the place, are skipped.
func (op *OpHandleBase) WaitInputVarGenerated(place places.Place) error {
	for _, in := range op.Inputs() {
		generator := in.GeneratedOp()
		if generator == nil {
			continue
		}
		ctx, found := generator.DevContexts()[place]
		if !found {
			continue
		}
		if err := ctx.Wait(); err != nil {
			return errors.WithMessagef(err, "%s: waiting for %s generated by %s", op, in, generator.Name())
		}
	}
	return nil
}

// Run executes the operator: it's the single entry point used by the executor.
// If waitOnly is true, the operator only waits for its inputs to be generated.
func (op *OpHandleBase) Run(waitOnly bool) error {
	if op.runImpl == nil {
		return errors.Errorf("%s: operator has no implementation", op)
	}
	klog.V(2).Infof("%s: running (waitOnly=%v)", op, waitOnly)
	return op.runImpl(waitOnly)
}
