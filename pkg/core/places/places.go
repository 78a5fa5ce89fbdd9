// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package places defines Place, the identity of a compute device that holds tensors and executes work.
//
// A Place is a small comparable value: it can be used as a map key, and two places are the same device
// if and only if they are equal (==). There is only one CPU place -- all participants running on
// general-purpose compute share it -- while accelerators are distinguished by their index.
package places

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind of device a Place refers to.
//
//go:generate go tool enumer -type=Kind -trimprefix=Kind -transform=lower -output=gen_kind_enumer.go
type Kind int

const (
	// KindInvalid is the zero value, used by Place{} (invalid place).
	KindInvalid Kind = iota

	// KindCPU is the host, general-purpose compute.
	KindCPU

	// KindAccel is a device with its own memory (GPU, TPU, etc.), reachable through a device context.
	KindAccel
)

// Place identifies one compute device. It is immutable and compared by equality.
type Place struct {
	Kind Kind

	// Index of the accelerator. Always 0 for CPU.
	Index int
}

// Host returns the CPU place.
func Host() Place { return Place{Kind: KindCPU} }

// Accel returns the place for the accelerator with the given index.
func Accel(index int) Place { return Place{Kind: KindAccel, Index: index} }

// Ok returns whether the place is valid.
func (p Place) Ok() bool {
	switch p.Kind {
	case KindCPU:
		return p.Index == 0
	case KindAccel:
		return p.Index >= 0
	default:
		return false
	}
}

// IsCPU returns whether the place is the host CPU.
func (p Place) IsCPU() bool { return p.Kind == KindCPU }

// IsAccelerator returns whether the place is an accelerator.
func (p Place) IsAccelerator() bool { return p.Kind == KindAccel }

// String implements fmt.Stringer. E.g.: "cpu", "accel:3".
func (p Place) String() string {
	if p.Kind == KindAccel {
		return fmt.Sprintf("%s:%d", p.Kind, p.Index)
	}
	return p.Kind.String()
}

// Less defines an order for places: CPU first, then accelerators by index.
// Used to present places deterministically.
func Less(a, b Place) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Index < b.Index
}

// Compare returns -1, 0 or 1 following the order of Less. It can be used with slices.SortFunc.
func Compare(a, b Place) int {
	if Less(a, b) {
		return -1
	} else if Less(b, a) {
		return 1
	}
	return 0
}

// Parse converts the string format produced by Place.String back to a Place.
func Parse(s string) (Place, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "cpu" {
		return Host(), nil
	}
	name, indexStr, found := strings.Cut(s, ":")
	if !found || (name != "accel" && name != "gpu") {
		return Place{}, errors.Errorf("invalid place %q: expected \"cpu\" or \"accel:<index>\"", s)
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 0 {
		return Place{}, errors.Errorf("invalid place %q: accelerator index must be a non-negative integer", s)
	}
	return Accel(index), nil
}
