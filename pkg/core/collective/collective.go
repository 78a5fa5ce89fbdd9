// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package collective defines the optional collective communication backend used to reduce dense tensors
// spread over many accelerators into one of them, and Local, an in-process implementation over device contexts.
package collective

import (
	"fmt"
	"slices"

	"github.com/gomlx/devreduce/pkg/core/devices"
	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/tensors"
	"github.com/gomlx/devreduce/pkg/support/sets"
	"github.com/gomlx/devreduce/pkg/support/xsync"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Communicator is a collective communication context bound to a fixed set of places.
type Communicator interface {
	// ID uniquely identifies the communicator.
	ID() string

	// Places bound to the communicator, sorted.
	Places() []places.Place

	// Reduce issues the reduction of srcs (exactly one per bound place) into dstTensor, which must be on
	// the dst place. It returns an error immediately if the arguments are invalid, otherwise the reduction
	// runs asynchronously, and its result is only available after Wait.
	Reduce(dst places.Place, dstTensor *tensors.Tensor, srcs map[places.Place]*tensors.Tensor) error

	// Wait blocks until all issued reductions finished, and returns the first error.
	Wait() error
}

// Local is an in-process Communicator: it performs a binary-tree reduction using the device contexts of each
// place to move and accumulate data, with the pairs of each level of the tree running concurrently.
type Local struct {
	id       string
	places   []places.Place
	placeSet sets.Set[places.Place]
	contexts map[places.Place]devices.Context
	barrier  *xsync.Barrier
}

// Compile-time check that Local implements Communicator.
var _ Communicator = (*Local)(nil)

// NewLocal creates a Local communicator bound to the given participants, which must be at least two distinct
// accelerator places, each with a context in contexts. Duplicate participants are an error.
func NewLocal(contexts map[places.Place]devices.Context, participants ...places.Place) (*Local, error) {
	placeSet := sets.Make[places.Place](len(participants))
	for _, place := range participants {
		if placeSet.Has(place) {
			return nil, errors.Errorf("collective participant %s is duplicated", place)
		}
		if !place.IsAccelerator() {
			return nil, errors.Wrapf(devices.ErrUnsupported, "collective participant %s is not an accelerator", place)
		}
		if _, found := contexts[place]; !found {
			return nil, errors.Errorf("no device context given for collective participant %s", place)
		}
		placeSet.Insert(place)
	}
	if len(placeSet) < 2 {
		return nil, errors.Errorf("a collective communicator requires at least 2 distinct places, got %v", participants)
	}
	c := &Local{
		id:       uuid.NewString(),
		places:   placeSet.Sorted(places.Compare),
		placeSet: placeSet,
		contexts: make(map[places.Place]devices.Context, len(placeSet)),
		barrier:  xsync.NewBarrier(),
	}
	for place := range placeSet {
		c.contexts[place] = contexts[place]
	}
	klog.V(1).Infof("created %s", c)
	return c, nil
}

// NewLocalFromRegistry creates a Local communicator bound to all accelerators of the registry.
func NewLocalFromRegistry(registry *devices.Registry) (*Local, error) {
	var participants []places.Place
	for _, place := range registry.Places() {
		if place.IsAccelerator() {
			participants = append(participants, place)
		}
	}
	return NewLocal(registry.Contexts(), participants...)
}

// ID implements Communicator.
func (c *Local) ID() string { return c.id }

// Places implements Communicator.
func (c *Local) Places() []places.Place { return slices.Clone(c.places) }

// String implements fmt.Stringer.
func (c *Local) String() string {
	return fmt.Sprintf("collective.Local(%s, places=%v)", c.id, c.places)
}

// Reduce implements Communicator.
func (c *Local) Reduce(dst places.Place, dstTensor *tensors.Tensor, srcs map[places.Place]*tensors.Tensor) error {
	if !c.placeSet.Has(dst) {
		return errors.Errorf("%s: destination %s is not bound to the communicator", c, dst)
	}
	if err := dstTensor.CheckValid(); err != nil {
		return errors.WithMessagef(err, "%s: invalid destination tensor", c)
	}
	if dstTensor.Place() != dst {
		return errors.Errorf("%s: destination tensor is on %s, but destination is %s", c, dstTensor.Place(), dst)
	}
	srcPlaces := sets.Make[places.Place](len(srcs))
	for place, src := range srcs {
		srcPlaces.Insert(place)
		if err := src.CheckValid(); err != nil {
			return errors.WithMessagef(err, "%s: invalid source on %s", c, place)
		}
		if src.Place() != place {
			return errors.Errorf("%s: source given for %s is on %s", c, place, src.Place())
		}
		if !src.Shape().Equal(dstTensor.Shape()) {
			return errors.Errorf("%s: source on %s has shape %s, but destination has shape %s",
				c, place, src.Shape(), dstTensor.Shape())
		}
	}
	if !srcPlaces.Equal(c.placeSet) {
		return errors.Errorf("%s: sources given for places %v, but the communicator is bound to %v",
			c, srcPlaces.Sorted(places.Compare), c.places)
	}

	// Tree order: the destination is the root, at position 0.
	order := make([]places.Place, 0, len(c.places))
	order = append(order, dst)
	for _, place := range c.places {
		if place != dst {
			order = append(order, place)
		}
	}
	c.barrier.Add(1)
	go func() {
		c.barrier.Done(c.treeReduce(order, dstTensor, srcs))
	}()
	return nil
}

// treeReduce runs the reduction with order[0] as the root, where the result is written to dstTensor.
func (c *Local) treeReduce(order []places.Place, dstTensor *tensors.Tensor, srcs map[places.Place]*tensors.Tensor) error {
	// Initialize the partial sums: the sources are never modified.
	partials := make([]*tensors.Tensor, len(order))
	partials[0] = dstTensor
	c.contexts[order[0]].CopyAsync(dstTensor, srcs[order[0]])
	for ii := 1; ii < len(order); ii++ {
		place := order[ii]
		partials[ii] = tensors.FromShape(place, dstTensor.Shape())
		c.contexts[place].CopyAsync(partials[ii], srcs[place])
	}
	var g errgroup.Group
	for _, place := range order {
		g.Go(c.contexts[place].Wait)
	}
	if err := g.Wait(); err != nil {
		return errors.WithMessagef(err, "%s: initializing partial sums", c)
	}

	for stride := 1; stride < len(order); stride *= 2 {
		var g errgroup.Group
		for receiver := 0; receiver+stride < len(order); receiver += 2 * stride {
			sender := receiver + stride
			g.Go(func() error {
				return c.reducePair(order[receiver], partials[receiver], order[sender], partials[sender])
			})
		}
		if err := g.Wait(); err != nil {
			return errors.WithMessagef(err, "%s: tree level with stride %d", c, stride)
		}
	}
	klog.V(2).Infof("%s: reduced %d sources into %s", c, len(order), order[0])
	return nil
}

// reducePair transfers the sender's partial sum to the receiver's place and accumulates it there.
func (c *Local) reducePair(receiverPlace places.Place, receiver *tensors.Tensor,
	senderPlace places.Place, sender *tensors.Tensor) error {
	scratch := tensors.FromShape(receiverPlace, sender.Shape())
	senderCtx, receiverCtx := c.contexts[senderPlace], c.contexts[receiverPlace]
	senderCtx.CopyAsync(scratch, sender)
	if err := senderCtx.Wait(); err != nil {
		return err
	}
	receiverCtx.AccumulateAsync(receiver, scratch)
	return receiverCtx.Wait()
}

// Wait implements Communicator.
func (c *Local) Wait() error {
	return c.barrier.Wait()
}
