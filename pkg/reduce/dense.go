// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reduce

import (
	"github.com/gomlx/devreduce/pkg/core/collective"
	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/scope"
	"github.com/gomlx/devreduce/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// reduceDense writes the elementwise sum of the sources to the destination. The output takes its shape and LoD
// from the source resident on the destination.
//
// It returns the communicator if it was used, so its completion can be waited on.
func (op *OpHandle) reduceDense(sources []source, dst destination) (collective.Communicator, error) {
	srcTensors := make([]*tensors.Tensor, len(sources))
	sourcePlaces := make([]places.Place, len(sources))
	for ii, src := range sources {
		t, err := src.variable.Dense()
		if err != nil {
			return nil, configErrorf(err, "%s: input %s", op, src.handle)
		}
		if err := t.CheckValid(); err != nil {
			return nil, configErrorf(err, "%s: input %s", op, src.handle)
		}
		if t.Place() != src.place {
			return nil, errors.Wrapf(ErrConfiguration, "%s: input %s holds a tensor on %s",
				op, src.handle, t.Place())
		}
		srcTensors[ii] = t
		sourcePlaces[ii] = src.place
	}
	residentIdx := residentSource(sources, dst)
	resident := srcTensors[residentIdx]
	shape := resident.Shape()
	if lod := resident.LoD(); len(lod) > 0 && shape.Rank() > 0 {
		if err := lod.Validate(shape.Dim(0)); err != nil {
			return nil, configErrorf(err, "%s: input %s", op, sources[residentIdx].handle)
		}
	}
	for ii, t := range srcTensors {
		if !t.Shape().Equal(shape) {
			return nil, errors.Wrapf(ErrConfiguration, "%s: input %s has shape %s, but %s has shape %s",
				op, sources[ii].handle, t.Shape(), sources[residentIdx].handle, shape)
		}
	}

	out, err := dst.variable.GetMutableDense()
	if err != nil {
		return nil, configErrorf(err, "%s: output", op)
	}
	if !out.IsSharedWith(resident) && (!out.Ok() || !out.Shape().Equal(shape) || out.Place() != dst.place) {
		out.Resize(dst.place, shape)
	}
	for ii, t := range srcTensors {
		if ii != residentIdx && out.IsSharedWith(t) {
			// Writing the output would change a source not yet folded.
			out.Resize(dst.place, shape)
		}
	}
	out.SetLoD(resident.LoD())
	dstCtx, err := op.context(dst.place)
	if err != nil {
		return nil, err
	}

	strategy := selectStrategy(scope.KindDense, op.comm, sourcePlaces)
	klog.V(1).Infof("%s: dense reduction of %d x %s using %s", op, len(sources), shape, strategy)
	if strategy == CollectiveReduce {
		srcs := make(map[places.Place]*tensors.Tensor, len(sources))
		for ii, src := range sources {
			srcs[src.place] = srcTensors[ii]
		}
		if err := op.comm.Reduce(dst.place, out, srcs); err != nil {
			return nil, errors.WithMessagef(err, "%s: collective reduction", op)
		}
		return op.comm, nil
	}

	// Manual fold: the resident source first.
	if !out.IsSharedWith(resident) {
		dstCtx.CopyAsync(out, resident)
	}
	for ii, src := range sources {
		if ii == residentIdx {
			continue
		}
		t := srcTensors[ii]
		if src.place != dst.place {
			srcCtx, err := op.context(src.place)
			if err != nil {
				return nil, err
			}
			scratch := tensors.FromShape(dst.place, shape)
			srcCtx.CopyAsync(scratch, t)
			if err := srcCtx.Wait(); err != nil {
				return nil, errors.WithMessagef(err, "%s: transferring %s to %s", op, src.handle, dst.place)
			}
			klog.V(2).Infof("%s: transferred %s from %s to %s", op, src.handle, src.place, dst.place)
			t = scratch
		}
		dstCtx.AccumulateAsync(out, t)
	}
	return nil, nil
}

// residentSource returns the index of the source on the destination place, preferring the one on the
// destination scope.
func residentSource(sources []source, dst destination) int {
	found := -1
	for ii, src := range sources {
		if src.handle.ScopeIdx == dst.scopeIdx && src.place == dst.place {
			return ii
		}
		if found == -1 && src.place == dst.place {
			found = ii
		}
	}
	return found
}
