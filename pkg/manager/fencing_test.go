package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

func TestFencingAcceptsZeroToken(t *testing.T) {
	applier := NewApplier(nil)
	registry := NewFencingRegistry(applier)
	assert.NoError(t, registry.Check(context.Background(), 0, time.Second))
}

func TestFencingZeroTokenOptsOutAfterFenceBump(t *testing.T) {
	applier := NewApplier(nil)
	applyCmd(t, applier, Command{Op: OpAddNewNode, Data: mustPayload(t, AddNewNodePayload{ID: "n1"})})
	applyCmd(t, applier, Command{Op: OpBumpFenceVersion})

	registry := NewFencingRegistry(applier)
	err := registry.Check(context.Background(), 0, time.Second)
	assert.NoError(t, err, "token 0 always opts out regardless of fence_version")

	registry.Refresh()
	err = registry.Check(context.Background(), 0, time.Second)
	assert.NoError(t, err)
}

func TestFencingRejectsStaleToken(t *testing.T) {
	applier := NewApplier(nil)
	applyCmd(t, applier, Command{Op: OpAddNewNode, Data: mustPayload(t, AddNewNodePayload{ID: "n1"})}) // version 1
	applyCmd(t, applier, Command{Op: OpBumpFenceVersion})                                               // version 2, fence_version 2
	applyCmd(t, applier, Command{Op: OpAddNewNode, Data: mustPayload(t, AddNewNodePayload{ID: "n2"})}) // version 3, fence stays 2

	registry := NewFencingRegistry(applier)
	err := registry.Check(context.Background(), 2, time.Second)
	assert.NoError(t, err, "token equal to fence_version is accepted")

	// Bump fence_version to 4; a token of 1 must now be rejected.
	applyCmd(t, applier, Command{Op: OpBumpFenceVersion})
	registry.Refresh()
	err = registry.Check(context.Background(), 1, time.Second)
	assert.ErrorIs(t, err, topology.ErrStaleTopology)
}

func TestFencingWaitsForAheadToken(t *testing.T) {
	applier := NewApplier(nil)
	registry := NewFencingRegistry(applier)

	done := make(chan error, 1)
	go func() {
		done <- registry.Check(context.Background(), 1, 2*time.Second)
	}()

	applyCmd(t, applier, Command{Op: OpAddNewNode, Data: mustPayload(t, AddNewNodePayload{ID: "n1"})})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Check did not unblock after Applier caught up")
	}
}

func TestFencingTimesOutWhenApplierNeverCatchesUp(t *testing.T) {
	applier := NewApplier(nil)
	registry := NewFencingRegistry(applier)

	err := registry.Check(context.Background(), 100, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, topology.ErrStaleTopology)
}
