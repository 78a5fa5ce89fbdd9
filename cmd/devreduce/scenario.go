// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"slices"
	"time"

	"github.com/gomlx/devreduce/pkg/core/collective"
	"github.com/gomlx/devreduce/pkg/core/devices"
	"github.com/gomlx/devreduce/pkg/core/handles"
	"github.com/gomlx/devreduce/pkg/core/scope"
	"github.com/gomlx/devreduce/pkg/core/tensors"
	"github.com/gomlx/devreduce/pkg/reduce"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// mode is the representation reduced by a scenario.
//
//go:generate go tool enumer -type=mode -trimprefix=mode -transform=lower -output=gen_mode_enumer.go
type mode int

const (
	modeDense mode = iota
	modeSparse
)

func parseMode(s string) (mode, error) {
	m, err := modeString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "valid values are %q", modeStrings())
	}
	return m, nil
}

// scenario reduces a variable filled with a sequential pattern on every participant.
type scenario struct {
	config   devices.Config
	registry *devices.Registry
	comm     collective.Communicator
	mode     mode
	dims     []int
	dstIdx   int

	numRowsReduced int
	lastSummary    string
}

// run one reduction, and verifies its result. It returns the time spent in the reduction only.
func (s *scenario) run(iteration int) (time.Duration, error) {
	participants := s.config.Participants()
	root := scope.New()
	scopes := make([]*scope.Scope, len(participants))
	for ii := range scopes {
		scopes[ii] = root.NewScope()
	}
	size := 1
	for _, dim := range s.dims {
		size *= dim
	}
	send := make([]float32, size)
	for ii := range send {
		send[ii] = float32(ii)
	}
	// Each sparse source selects every other row, starting at a different offset.
	numRows := s.dims[0]
	rows := make([]int64, numRows)
	for ii := range rows {
		rows[ii] = int64((2*ii + iteration) % numRows)
	}

	var g errgroup.Group
	for ii, place := range participants {
		g.Go(func() error {
			value := tensors.FromFlatDataAndDimensions(place, send, s.dims...)
			if s.mode == modeDense {
				scopes[ii].Var("input").SetDense(value)
				return nil
			}
			sr := tensors.NewSelectedRows(rows, int64(numRows))
			sr.SetValue(value)
			scopes[ii].Var("input").SetSelectedRows(sr)
			return sr.Validate()
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	op, err := reduce.New(scopes, participants,
		reduce.WithRegistry(s.registry), reduce.WithCommunicator(s.comm), reduce.WithDestination(s.dstIdx))
	if err != nil {
		return 0, err
	}
	for ii, place := range participants {
		op.AddInput(handles.NewVarHandle("input", iteration, ii, place))
	}
	op.AddOutput(handles.NewVarHandle("out", iteration+1, s.dstIdx, participants[s.dstIdx]))

	start := time.Now()
	if err := op.Run(false); err != nil {
		return 0, err
	}
	elapsed := time.Since(start)

	n := len(participants)
	out := scopes[s.dstIdx].Var("out")
	if s.mode == modeDense {
		t, err := out.Dense()
		if err != nil {
			return 0, err
		}
		for ii, v := range tensors.CopyFlatData[float32](t) {
			if want := float32(n) * send[ii]; math.Abs(float64(v-want)) > 1e-5*max(1, math.Abs(float64(want))) {
				return 0, errors.Errorf("dense result at position %d is %g, wanted %g", ii, v, want)
			}
		}
		s.numRowsReduced += n * numRows
		s.lastSummary = t.Summary(4)
		return elapsed, nil
	}
	sr, err := out.SelectedRows()
	if err != nil {
		return 0, err
	}
	wantRows := slices.Concat(slices.Repeat([][]int64{rows}, n)...)
	if !slices.Equal(sr.Rows(), wantRows) {
		return 0, errors.Errorf("sparse result rows %v, wanted %v", sr.Rows(), wantRows)
	}
	if sr.Height() != int64(numRows) {
		return 0, errors.Errorf("sparse result height is %d, wanted %d", sr.Height(), numRows)
	}
	for ii, v := range tensors.CopyFlatData[float32](sr.Value()) {
		if v != send[ii%len(send)] {
			return 0, errors.Errorf("sparse result value at position %d is %g, wanted %g", ii, v, send[ii%len(send)])
		}
	}
	s.numRowsReduced += len(wantRows)
	s.lastSummary = sr.Summary(4)
	return elapsed, nil
}
