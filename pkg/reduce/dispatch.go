// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reduce

import (
	"github.com/gomlx/devreduce/pkg/core/collective"
	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/gomlx/devreduce/pkg/core/scope"
	"github.com/gomlx/devreduce/pkg/support/sets"
)

// Strategy used to move and combine the sources.
//
//go:generate go tool enumer -type=Strategy -output=gen_strategy_enumer.go
type Strategy int

const (
	// ManualFold pulls every source to the destination device and folds it there, one at a time.
	ManualFold Strategy = iota

	// CollectiveReduce issues one collective reduction over all devices.
	CollectiveReduce
)

// selectStrategy returns CollectiveReduce only for dense sources, with a communicator bound to exactly
// the set of places of the sources, each place contributing exactly one source, and more than one distinct
// place. Otherwise, it returns ManualFold, which is always available.
func selectStrategy(kind scope.Kind, comm collective.Communicator, sourcePlaces []places.Place) Strategy {
	if kind != scope.KindDense || comm == nil {
		return ManualFold
	}
	placeSet := sets.MakeWith(sourcePlaces...)
	if len(placeSet) < 2 || len(placeSet) != len(sourcePlaces) {
		return ManualFold
	}
	if !placeSet.Equal(sets.MakeWith(comm.Places()...)) {
		return ManualFold
	}
	return CollectiveReduce
}
