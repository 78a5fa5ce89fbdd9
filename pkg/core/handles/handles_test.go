// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package handles

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/devreduce/pkg/core/devices"
	"github.com/gomlx/devreduce/pkg/core/places"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdges(t *testing.T) {
	producer := NewOpHandleBase("producer", nil)
	consumer := NewOpHandleBase("consumer", nil)

	x := NewVarHandle("x", 1, 0, places.Host())
	dep := NewDummyVarHandle("dep")
	assert.Equal(t, "x:1@scope#0(cpu)", x.String())
	assert.Equal(t, "dummy:dep", dep.String())
	assert.False(t, x.IsPlaceholder())
	assert.True(t, dep.IsPlaceholder())

	producer.AddOutput(x)
	producer.AddOutput(dep)
	consumer.AddInput(dep)
	consumer.AddInput(x)

	assert.Equal(t, OpHandle(producer), x.GeneratedOp())
	assert.Equal(t, OpHandle(producer), dep.GeneratedOp())
	assert.Equal(t, []OpHandle{consumer}, x.PendingOps())
	assert.Equal(t, []VarHandleBase{dep, x}, consumer.Inputs())
	assert.Equal(t, []VarHandleBase{x, dep}, producer.Outputs())

	assert.Equal(t, []*VarHandle{x}, FilterVarHandles(consumer.Inputs()))
	only, ok := OnlyVarHandle(producer.Outputs())
	require.True(t, ok)
	assert.Equal(t, x, only)
	_, ok = OnlyVarHandle([]VarHandleBase{dep})
	assert.False(t, ok)
	_, ok = OnlyVarHandle([]VarHandleBase{x, NewVarHandle("x", 1, 1, places.Host())})
	assert.False(t, ok)
}

func TestWaitInputVarGenerated(t *testing.T) {
	stream := devices.NewCPUContext()
	defer stream.Finalize()

	producer := NewOpHandleBase("producer", nil)
	producer.SetDeviceContext(places.Host(), stream)
	x := NewVarHandle("x", 0, 0, places.Host())
	producer.AddOutput(x)

	consumer := NewOpHandleBase("consumer", nil)
	consumer.AddInput(x)
	consumer.AddInput(NewVarHandle("external", 0, 0, places.Host()))

	var done atomic.Bool
	stream.Enqueue("produce", func() error {
		time.Sleep(10 * time.Millisecond)
		done.Store(true)
		return nil
	})
	require.NoError(t, consumer.WaitInputVarGenerated(places.Host()))
	require.True(t, done.Load())

	// No context for the accelerator: nothing to wait for.
	require.NoError(t, consumer.WaitInputVarGenerated(places.Accel(0)))

	stream.Enqueue("fail", func() error { return errors.New("producer failed") })
	err := consumer.WaitInputVarGenerated(places.Host())
	require.ErrorIs(t, err, devices.ErrDevice)
	require.ErrorContains(t, err, "producer failed")
}

func TestRun(t *testing.T) {
	require.Error(t, NewOpHandleBase("empty", nil).Run(false))

	var calls []bool
	op := NewOpHandleBase("op", func(waitOnly bool) error {
		calls = append(calls, waitOnly)
		return nil
	})
	require.NoError(t, op.Run(true))
	require.NoError(t, op.Run(false))
	require.Equal(t, []bool{true, false}, calls)

	_, err := op.DeviceContext(places.Host())
	require.Error(t, err)
}
