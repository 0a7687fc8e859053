package coordinator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ringtopo/ringtopo/pkg/manager"
)

// freePort asks the OS for an ephemeral TCP port and returns an address
// string on loopback, closing the probe listener immediately so Raft's
// own transport can bind it.
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// newBootstrappedManager boots a single-voter Raft cluster rooted at a
// fresh Manager in a temp directory and waits for it to self-elect,
// the minimum real consensus harness the Coordinator needs since it
// talks to *manager.Manager directly rather than through an interface.
func newBootstrappedManager(t *testing.T, nodeID string) *manager.Manager {
	t.Helper()
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   nodeID,
		BindAddr: freePort(t),
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Bootstrap())

	require.Eventually(t, mgr.IsLeader, 5*time.Second, 10*time.Millisecond, "manager never became leader")
	t.Cleanup(func() { _ = mgr.Shutdown() })
	return mgr
}
