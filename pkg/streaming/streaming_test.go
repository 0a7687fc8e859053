package streaming

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

func TestLocalStreamRecordsPlan(t *testing.T) {
	l := NewLocal()
	plan := Plan{
		NodeID:    "n1",
		Direction: DirectionInbound,
		Peers:     []topology.NodeID{"n2", "n3"},
		SessionID: uuid.New(),
	}

	require.NoError(t, l.Stream(context.Background(), plan))

	plans := l.Plans()
	require.Len(t, plans, 1)
	assert.Equal(t, plan, plans[0])
}

func TestLocalPlansDrainsOnce(t *testing.T) {
	l := NewLocal()
	require.NoError(t, l.Stream(context.Background(), Plan{NodeID: "n1"}))

	assert.Len(t, l.Plans(), 1)
	assert.Empty(t, l.Plans(), "a second drain should see nothing new")
}

func TestLocalFailNextReturnsInjectedErrorOnce(t *testing.T) {
	l := NewLocal()
	failure := errors.New("boom")
	l.FailNext("n1", failure)

	err := l.Stream(context.Background(), Plan{NodeID: "n1"})
	assert.ErrorIs(t, err, failure)

	// The injected failure is consumed by the first call; the next
	// Stream for the same node succeeds.
	require.NoError(t, l.Stream(context.Background(), Plan{NodeID: "n1"}))
	assert.Len(t, l.Plans(), 1, "the failed attempt is never recorded as a plan")
}

func TestLocalFailNextIsPerNode(t *testing.T) {
	l := NewLocal()
	l.FailNext("n1", errors.New("boom"))

	assert.NoError(t, l.Stream(context.Background(), Plan{NodeID: "n2"}))
}
