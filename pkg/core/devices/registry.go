// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devices

import (
	"slices"
	"sync"

	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Registry maps each Place to the Context that executes on it.
//
// It owns the contexts created by NewRegistryFromConfig, and Finalize stops them. Consumers (like the reduce
// operator) only borrow contexts.
type Registry struct {
	acceleratorsEnabled bool

	mu       sync.RWMutex
	contexts map[places.Place]Context
}

// NewRegistry creates an empty registry. acceleratorsEnabled is the capability flag that allows registering
// contexts for accelerator places.
func NewRegistry(acceleratorsEnabled bool) *Registry {
	return &Registry{
		acceleratorsEnabled: acceleratorsEnabled,
		contexts:            make(map[places.Place]Context),
	}
}

// NewRegistryFromConfig creates a registry with one context per distinct participant place in config.
// Options are passed along to every context created.
func NewRegistryFromConfig(config Config, opts ...Option) (*Registry, error) {
	r := NewRegistry(config.AcceleratorsEnabled)
	if config.NumAccelerators > 0 && !config.AcceleratorsEnabled {
		return nil, errors.Wrapf(ErrUnsupported, "configuration %q requests %d accelerators, but accelerators are disabled",
			config, config.NumAccelerators)
	}
	if config.NumCPU > 0 {
		must(r.Register(NewCPUContext(opts...)))
	}
	for ii := range config.NumAccelerators {
		must(r.Register(NewAcceleratorContext(ii, opts...)))
	}
	klog.V(1).Infof("devices registry created for %q: %v", config, r.Places())
	return r, nil
}

// AcceleratorsEnabled returns the capability flag the registry was created with.
func (r *Registry) AcceleratorsEnabled() bool { return r.acceleratorsEnabled }

// Register a context for its place. It fails if the place already has a context, or if it is an accelerator
// place and accelerators are not enabled (ErrUnsupported).
func (r *Registry) Register(ctx Context) error {
	place := ctx.Place()
	if !place.Ok() {
		return errors.Errorf("cannot register context for invalid place %v", place)
	}
	if place.IsAccelerator() && !r.acceleratorsEnabled {
		return errors.Wrapf(ErrUnsupported, "cannot register context for %s: accelerators are not enabled", place)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.contexts[place]; found {
		return errors.Errorf("a context for %s is already registered", place)
	}
	r.contexts[place] = ctx
	return nil
}

// Get returns the context for the given place.
func (r *Registry) Get(place places.Place) (Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, found := r.contexts[place]
	if !found {
		if place.IsAccelerator() && !r.acceleratorsEnabled {
			return nil, errors.Wrapf(ErrUnsupported, "no context for %s: accelerators are not enabled", place)
		}
		return nil, errors.Errorf("no context registered for %s", place)
	}
	return ctx, nil
}

// MustGet returns the context for the given place, and panics if there is none.
func (r *Registry) MustGet(place places.Place) Context {
	ctx, err := r.Get(place)
	if err != nil {
		exceptions.Panicf("Registry.MustGet(%s): %+v", place, err)
	}
	return ctx
}

// Places returns the registered places, sorted.
func (r *Registry) Places() []places.Place {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]places.Place, 0, len(r.contexts))
	for place := range r.contexts {
		list = append(list, place)
	}
	slices.SortFunc(list, places.Compare)
	return list
}

// Contexts returns a copy of the place to context map.
func (r *Registry) Contexts() map[places.Place]Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	contexts := make(map[places.Place]Context, len(r.contexts))
	for place, ctx := range r.contexts {
		contexts[place] = ctx
	}
	return contexts
}

// WaitAll waits on every registered context, and returns the first error. Other errors are logged.
func (r *Registry) WaitAll() error {
	return WaitAll(r.Contexts())
}

// Finalize all registered contexts.
func (r *Registry) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ctx := range r.contexts {
		ctx.Finalize()
	}
	clear(r.contexts)
}

// WaitAll waits on all given contexts, in place order, and returns the first error. Other errors are logged.
func WaitAll(contexts map[places.Place]Context) error {
	list := make([]places.Place, 0, len(contexts))
	for place := range contexts {
		list = append(list, place)
	}
	slices.SortFunc(list, places.Compare)
	var firstErr error
	for _, place := range list {
		if err := contexts[place].Wait(); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				klog.Errorf("additional failure while waiting on %s: %+v", place, err)
			}
		}
	}
	return firstErr
}

// must panics if err != nil.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
