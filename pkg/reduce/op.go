// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reduce implements the cross-device reduction operator: it merges the per-device copies of a
// variable, one per local scope, into a single result on one destination device.
//
// Dense tensors are summed elementwise (optionally through a collective.Communicator), and sparse
// SelectedRows are merged by concatenating their rows. Run is synchronous: when it returns, the output
// variable is fully materialized.
//
// Example:
//
//	op, err := reduce.New(localScopes, placesList, reduce.WithRegistry(registry), reduce.WithDestination(0))
//	for ii := range localScopes {
//		op.AddInput(handles.NewVarHandle("input", 1, ii, placesList[ii]))
//	}
//	op.AddOutput(handles.NewVarHandle("out", 2, 0, placesList[0]))
//	err = op.Run(false)
package reduce

import (
	"fmt"
	"io"
	"slices"

	"github.com/gomlx/devreduce/pkg/core/collective"
	"github.com/gomlx/devreduce/pkg/core/devices"
	"github.com/gomlx/devreduce/pkg/core/handles"
	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/scope"
	"github.com/gomlx/devreduce/pkg/support/sets"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrConfiguration is matched (with errors.Is) by the errors caused by a graph built incorrectly: wrong
// number of inputs or outputs, missing variables, mixed representations, mismatched shapes or heights.
var ErrConfiguration = errors.New("reduce configuration error")

// configurationError is an ErrConfiguration caused by another error: errors.Is and errors.As match both.
type configurationError struct {
	msg   string
	cause error
}

// configErrorf returns an error matching ErrConfiguration and cause, prefixed with the formatted message.
func configErrorf(cause error, format string, args ...any) error {
	return &configurationError{msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *configurationError) Error() string { return e.msg + ": " + e.cause.Error() }

func (e *configurationError) Unwrap() []error { return []error{ErrConfiguration, e.cause} }

// Format implements fmt.Formatter: "%+v" includes the cause's stack trace.
func (e *configurationError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		_, _ = fmt.Fprintf(s, "%s: %+v", e.msg, e.cause)
		return
	}
	_, _ = io.WriteString(s, e.Error())
}

// OpHandle is the reduction operator node.
//
// It is bound at construction to one local scope per participating device, and the place of each.
// Edges are attached with AddInput and AddOutput, and it is executed with Run.
type OpHandle struct {
	*handles.OpHandleBase

	localScopes []*scope.Scope
	places      []places.Place
	comm        collective.Communicator

	// destination is the scope index of the output, or -1 to take it from the output handle.
	destination int
	registry    *devices.Registry
	name        string
}

// Option configures an OpHandle at construction.
type Option func(op *OpHandle)

// WithDestination sets explicitly the index of the scope (and device) where the result is written.
// If not set, the output handle's ScopeIdx is used.
func WithDestination(scopeIdx int) Option {
	return func(op *OpHandle) { op.destination = scopeIdx }
}

// WithCommunicator configures a collective communicator, used for dense reductions when it is bound to
// exactly the participating places. A nil communicator is the same as not setting one.
func WithCommunicator(comm collective.Communicator) Option {
	return func(op *OpHandle) { op.comm = comm }
}

// WithRegistry takes the device contexts of all participating places from the registry.
// Alternatively, contexts can be set one at a time with SetDeviceContext.
func WithRegistry(registry *devices.Registry) Option {
	return func(op *OpHandle) { op.registry = registry }
}

// WithName sets the name of the operator, used in logs and error messages. Default is "reduce".
func WithName(name string) Option {
	return func(op *OpHandle) { op.name = name }
}

// New creates the reduction operator over localScopes, where localScopes[i] is the scope of the device
// placesList[i].
//
// It returns an error if the number of scopes and places differ, or if a registry is given without a context
// for one of the places (devices.ErrUnsupported if accelerators are not enabled).
func New(localScopes []*scope.Scope, placesList []places.Place, opts ...Option) (*OpHandle, error) {
	if len(localScopes) != len(placesList) {
		return nil, errors.Wrapf(ErrConfiguration, "reduce.New: %d local scopes given, but %d places",
			len(localScopes), len(placesList))
	}
	if len(localScopes) == 0 {
		return nil, errors.Wrap(ErrConfiguration, "reduce.New: no local scopes given")
	}
	op := &OpHandle{
		localScopes: slices.Clone(localScopes),
		places:      slices.Clone(placesList),
		destination: -1,
		name:        "reduce",
	}
	for _, opt := range opts {
		opt(op)
	}
	op.OpHandleBase = handles.NewOpHandleBase(op.name, op.runImpl)
	for ii, place := range placesList {
		if !place.Ok() {
			return nil, errors.Wrapf(ErrConfiguration, "reduce.New: invalid place %v for scope #%d", place, ii)
		}
		if localScopes[ii] == nil {
			return nil, errors.Wrapf(ErrConfiguration, "reduce.New: scope #%d is nil", ii)
		}
	}
	if op.registry != nil {
		for _, place := range op.distinctPlaces() {
			ctx, err := op.registry.Get(place)
			if err != nil {
				return nil, errors.WithMessagef(err, "reduce.New")
			}
			op.SetDeviceContext(place, ctx)
		}
	}
	if op.destination >= len(localScopes) {
		return nil, errors.Wrapf(ErrConfiguration, "reduce.New: destination scope #%d out of range, there are %d scopes",
			op.destination, len(localScopes))
	}
	return op, nil
}

// MustNew is New, but panics on error.
func MustNew(localScopes []*scope.Scope, placesList []places.Place, opts ...Option) *OpHandle {
	op, err := New(localScopes, placesList, opts...)
	if err != nil {
		exceptions.Panicf("reduce.MustNew: %+v", err)
	}
	return op
}

// String implements fmt.Stringer.
func (op *OpHandle) String() string {
	return fmt.Sprintf("%s(%d scopes)", op.name, len(op.localScopes))
}

// Places returns the place of each local scope.
func (op *OpHandle) Places() []places.Place {
	return slices.Clone(op.places)
}

// MustRun is Run, but panics on error.
func (op *OpHandle) MustRun(waitOnly bool) {
	if err := op.Run(waitOnly); err != nil {
		exceptions.Panicf("%s.Run(waitOnly=%v): %+v", op, waitOnly, err)
	}
}

// distinctPlaces returns the sorted distinct places of the local scopes.
func (op *OpHandle) distinctPlaces() []places.Place {
	return sets.MakeWith(op.places...).Sorted(places.Compare)
}

// source is one resolved input of the reduction.
type source struct {
	handle   *handles.VarHandle
	place    places.Place
	variable *scope.Variable
}

// destination is the resolved output of the reduction.
type destination struct {
	handle   *handles.VarHandle
	scopeIdx int
	place    places.Place
	variable *scope.Variable
}

// runImpl is the handles.RunFunc of the operator.
func (op *OpHandle) runImpl(waitOnly bool) error {
	if waitOnly {
		for _, place := range op.distinctPlaces() {
			if err := op.WaitInputVarGenerated(place); err != nil {
				return err
			}
		}
		return nil
	}

	sources, dst, err := op.resolve()
	if err != nil {
		return err
	}
	for _, place := range op.distinctPlaces() {
		if err := op.WaitInputVarGenerated(place); err != nil {
			return err
		}
	}
	kind := sources[0].variable.Kind()
	klog.V(1).Infof("%s: reducing %d %s sources of %q into %q on scope #%d (%s)",
		op, len(sources), kind, sources[0].handle.Name, dst.handle.Name, dst.scopeIdx, dst.place)

	var usedComm collective.Communicator
	switch kind {
	case scope.KindDense:
		usedComm, err = op.reduceDense(sources, dst)
	case scope.KindSelectedRows:
		err = op.reduceSparse(sources, dst)
	default:
		err = errors.Wrapf(ErrConfiguration, "%s: cannot reduce variables holding %s", op, kind)
	}
	waitErr := op.wait(sources, dst, usedComm)
	if err != nil {
		return err
	}
	return waitErr
}

// resolve validates the edges and the scopes, and returns the sources (sorted by scope index) and
// the destination.
func (op *OpHandle) resolve() ([]source, destination, error) {
	inputs := handles.FilterVarHandles(op.Inputs())
	if len(inputs) == 0 {
		return nil, destination{}, errors.Wrapf(ErrConfiguration, "%s: no inputs (other than placeholders) given", op)
	}
	out, ok := handles.OnlyVarHandle(op.Outputs())
	if !ok {
		return nil, destination{}, errors.Wrapf(ErrConfiguration,
			"%s: exactly one output (other than placeholders) is required, got %d",
			op, len(handles.FilterVarHandles(op.Outputs())))
	}

	// Sources.
	inputs = slices.Clone(inputs)
	slices.SortStableFunc(inputs, func(a, b *handles.VarHandle) int { return a.ScopeIdx - b.ScopeIdx })
	sources := make([]source, 0, len(inputs))
	seenScopes := sets.Make[int](len(inputs))
	for _, in := range inputs {
		if err := op.checkHandle(in); err != nil {
			return nil, destination{}, err
		}
		if in.Name != inputs[0].Name {
			return nil, destination{}, errors.Wrapf(ErrConfiguration,
				"%s: inputs must name the same variable, got %q and %q", op, inputs[0].Name, in.Name)
		}
		if seenScopes.Has(in.ScopeIdx) {
			return nil, destination{}, errors.Wrapf(ErrConfiguration,
				"%s: more than one input given for scope #%d", op, in.ScopeIdx)
		}
		seenScopes.Insert(in.ScopeIdx)
		v := op.localScopes[in.ScopeIdx].FindVar(in.Name)
		if v == nil || !v.IsInitialized() {
			return nil, destination{}, errors.Wrapf(ErrConfiguration,
				"%s: input %s not found (or not initialized) in its scope", op, in)
		}
		sources = append(sources, source{handle: in, place: in.Place, variable: v})
	}
	firstKind := sources[0].variable.Kind()
	for _, src := range sources[1:] {
		if kind := src.variable.Kind(); kind != firstKind {
			return nil, destination{}, errors.Wrapf(ErrConfiguration,
				"%s: all inputs must hold the same representation, %s holds %s but %s holds %s",
				op, sources[0].handle, firstKind, src.handle, kind)
		}
	}

	// Destination.
	if err := op.checkHandle(out); err != nil {
		return nil, destination{}, err
	}
	dstIdx := out.ScopeIdx
	if op.destination >= 0 && op.destination != dstIdx {
		return nil, destination{}, errors.Wrapf(ErrConfiguration,
			"%s: destination configured as scope #%d, but output %s is on scope #%d",
			op, op.destination, out, out.ScopeIdx)
	}
	dst := destination{
		handle:   out,
		scopeIdx: dstIdx,
		place:    out.Place,
		variable: op.localScopes[dstIdx].Var(out.Name),
	}
	if !slices.ContainsFunc(sources, func(src source) bool { return src.place == dst.place }) {
		return nil, destination{}, errors.Wrapf(ErrConfiguration,
			"%s: destination %s is not on the place of any of the inputs", op, out)
	}
	if dst.variable.IsInitialized() && dst.variable.Kind() != firstKind {
		return nil, destination{}, errors.Wrapf(ErrConfiguration,
			"%s: output %s holds %s, but inputs hold %s", op, out, dst.variable.Kind(), firstKind)
	}
	return sources, dst, nil
}

// checkHandle verifies the handle's scope index is valid and that its place is the one bound to its scope.
func (op *OpHandle) checkHandle(h *handles.VarHandle) error {
	if h.ScopeIdx < 0 || h.ScopeIdx >= len(op.localScopes) {
		return errors.Wrapf(ErrConfiguration, "%s: %s has scope index out of range [0, %d)",
			op, h, len(op.localScopes))
	}
	if h.Place != op.places[h.ScopeIdx] {
		return errors.Wrapf(ErrConfiguration, "%s: %s is on %s, but scope #%d is bound to %s",
			op, h, h.Place, h.ScopeIdx, op.places[h.ScopeIdx])
	}
	return nil
}

// context returns the device context for place, as a configuration error if it is missing.
func (op *OpHandle) context(place places.Place) (devices.Context, error) {
	ctx, err := op.DeviceContext(place)
	if err != nil {
		return nil, configErrorf(err, "%s", op)
	}
	return ctx, nil
}

// wait is the terminal barrier: it waits on the communicator, if one was used, and on the contexts of all
// places touched by the reduction.
func (op *OpHandle) wait(sources []source, dst destination, comm collective.Communicator) error {
	var firstErr error
	if comm != nil {
		firstErr = comm.Wait()
	}
	touched := sets.MakeWith(dst.place)
	for _, src := range sources {
		touched.Insert(src.place)
	}
	contexts := make(map[places.Place]devices.Context, len(touched))
	for place := range touched {
		if ctx, err := op.DeviceContext(place); err == nil {
			contexts[place] = ctx
		}
	}
	if err := devices.WaitAll(contexts); err != nil {
		if firstErr == nil {
			firstErr = err
		} else {
			klog.Errorf("%s: additional failure while waiting on devices: %+v", op, err)
		}
	}
	return firstErr
}
