// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package places

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceEquality(t *testing.T) {
	assert.Equal(t, Host(), Host())
	assert.True(t, Host() == Place{Kind: KindCPU})
	assert.NotEqual(t, Accel(0), Accel(1))
	assert.NotEqual(t, Host(), Accel(0))
	assert.False(t, Place{}.Ok())
	assert.True(t, Accel(3).Ok())
	assert.False(t, Place{Kind: KindCPU, Index: 2}.Ok())

	m := map[Place]int{Host(): 1, Accel(0): 2}
	m[Host()]++
	assert.Equal(t, 2, m[Host()])
}

func TestKind(t *testing.T) {
	assert.Equal(t, []string{"invalid", "cpu", "accel"}, KindStrings())
	assert.Equal(t, "accel", Accel(1).Kind.String())
	kind, err := KindString("CPU")
	require.NoError(t, err)
	assert.Equal(t, KindCPU, kind)
	assert.False(t, Kind(7).IsAKind())
}

func TestParse(t *testing.T) {
	for _, p := range []Place{Host(), Accel(0), Accel(7)} {
		got, err := Parse(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := Parse(" GPU:2 ")
	require.NoError(t, err)
	assert.Equal(t, Accel(2), got)

	for _, bad := range []string{"", "tpu:1", "accel:", "accel:-1", "accel:x"} {
		_, err := Parse(bad)
		assert.Error(t, err, "Parse(%q) should fail", bad)
	}
}

func TestCompare(t *testing.T) {
	list := []Place{Accel(2), Host(), Accel(0)}
	slices.SortFunc(list, Compare)
	assert.Equal(t, []Place{Host(), Accel(0), Accel(2)}, list)
}
