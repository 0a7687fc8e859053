package adminhttp

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ringtopo/ringtopo/pkg/coordinator"
	"github.com/ringtopo/ringtopo/pkg/coordinator/rpc"
	"github.com/ringtopo/ringtopo/pkg/gossip"
	"github.com/ringtopo/ringtopo/pkg/manager"
	"github.com/ringtopo/ringtopo/pkg/streaming"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "n1",
		BindAddr: freePort(t),
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Bootstrap())
	require.Eventually(t, mgr.IsLeader, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	return coordinator.New(coordinator.Config{
		Manager:   mgr,
		Addresses: gossip.NewHub(),
		Dialer:    rpc.NewLocalRegistry(),
		Streaming: streaming.NewLocal(),
	})
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := ts.Client().Post(ts.URL+path, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func TestHandleJoinAcceptsRequest(t *testing.T) {
	coord := newTestCoordinator(t)
	ts := httptest.NewServer(NewServer(coord))
	defer ts.Close()

	resp := postJSON(t, ts, "/v1/nodes/join", joinRequest{
		NodeID: "n2",
		Spec:   newNodeSpec{Datacenter: "dc1", ShardCount: 1},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var reply requestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	require.NotEmpty(t, reply.RequestID)
}

func TestHandleJoinRejectsDoubleSubmission(t *testing.T) {
	coord := newTestCoordinator(t)
	ts := httptest.NewServer(NewServer(coord))
	defer ts.Close()

	body := joinRequest{NodeID: "n2", Spec: newNodeSpec{Datacenter: "dc1"}}
	first := postJSON(t, ts, "/v1/nodes/join", body)
	first.Body.Close()
	require.Equal(t, http.StatusAccepted, first.StatusCode)

	second := postJSON(t, ts, "/v1/nodes/join", body)
	defer second.Body.Close()
	require.Equal(t, http.StatusConflict, second.StatusCode)

	var errBody errorResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&errBody))
	require.NotEmpty(t, errBody.Error)
}

func TestHandleStatusRendersTopology(t *testing.T) {
	coord := newTestCoordinator(t)
	ts := httptest.NewServer(NewServer(coord))
	defer ts.Close()

	resp := postJSON(t, ts, "/v1/nodes/join", joinRequest{
		NodeID: "n2",
		Spec:   newNodeSpec{Datacenter: "dc1"},
	})
	resp.Body.Close()

	statusResp, err := ts.Client().Get(ts.URL + "/v1/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	var view statusView
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&view))
	require.Len(t, view.New, 1)
	require.Equal(t, "n2", view.New[0].ID)
}

func TestHandleGlobalCleanupAcceptsRequest(t *testing.T) {
	coord := newTestCoordinator(t)
	ts := httptest.NewServer(NewServer(coord))
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/v1/global/cleanup", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}
