package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

func TestHubAddressConvergence(t *testing.T) {
	hub := NewHub()

	_, ok := hub.AddressOf("n1")
	assert.False(t, ok)
	assert.False(t, hub.Contains("n1"))

	hub.SetAddress("n1", "10.0.0.1:7000")

	addr, ok := hub.AddressOf("n1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:7000", addr)
	assert.True(t, hub.Contains("n1"))
}

func TestNodeViewPublishesUnderOwnID(t *testing.T) {
	hub := NewHub()
	view := hub.View("n1")

	require.NoError(t, view.SetApplicationState("foo", "bar"))

	assert.Equal(t, map[string]string{"foo": "bar"}, hub.StateOf("n1"))
	assert.Empty(t, hub.StateOf("n2"))
}

func TestReadinessPublisherSetsAndClearsBit(t *testing.T) {
	hub := NewHub()
	pub := NewReadinessPublisher(hub.View("n1"))

	require.NoError(t, pub.Publish("n1"))
	assert.Equal(t, "n1:true", hub.StateOf("n1")[readinessKey])

	require.NoError(t, pub.Clear("n1"))
	assert.Equal(t, "n1:false", hub.StateOf("n1")[readinessKey])
}

func TestReadinessPublisherPerNodeIsolation(t *testing.T) {
	hub := NewHub()
	pub1 := NewReadinessPublisher(hub.View("n1"))
	pub2 := NewReadinessPublisher(hub.View("n2"))

	require.NoError(t, pub1.Publish("n1"))
	require.NoError(t, pub2.Clear("n2"))

	assert.Equal(t, "n1:true", hub.StateOf("n1")[readinessKey])
	assert.Equal(t, "n2:false", hub.StateOf("n2")[readinessKey])
}
