// Package adminhttp is the operator-facing administrative surface:
// plain JSON-over-HTTP handlers that submit per-node and global
// requests to the local Coordinator and render the current Topology,
// grounded on pkg/metrics/health.go's http.HandlerFunc-plus-JSON
// convention (this codebase's established idiom for small ambient HTTP
// endpoints, rather than inventing a new transport for what §1 marks
// out of scope: a wire-protocol server for client queries). The four
// coordinator->node RPCs named in §4.6 are a closed enumeration and
// live in pkg/coordinator/rpc instead; this package is purely an
// operator/CLI convenience, not part of the topology state machine
// itself.
package adminhttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ringtopo/ringtopo/pkg/coordinator"
	rtlog "github.com/ringtopo/ringtopo/pkg/log"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// Server wraps a *coordinator.Coordinator with an http.Handler so a CLI
// running on the same node (or over the network, for a remote admin
// client) can submit operator requests without linking against the
// coordinator package directly.
type Server struct {
	coord *coordinator.Coordinator
	mux   *http.ServeMux
}

// NewServer returns a Server backed by coord.
func NewServer(coord *coordinator.Coordinator) *Server {
	s := &Server{coord: coord, mux: http.NewServeMux()}
	s.mux.HandleFunc("/v1/nodes/join", s.handleJoin)
	s.mux.HandleFunc("/v1/nodes/replace", s.handleReplace)
	s.mux.HandleFunc("/v1/nodes/leave", s.handleLeave)
	s.mux.HandleFunc("/v1/nodes/remove", s.handleRemove)
	s.mux.HandleFunc("/v1/nodes/rebuild", s.handleRebuild)
	s.mux.HandleFunc("/v1/global/cleanup", s.handleGlobalCleanup)
	s.mux.HandleFunc("/v1/global/new-cdc-generation", s.handleGlobalNewCDCGeneration)
	s.mux.HandleFunc("/v1/status", s.handleStatus)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// requestResponse is the common success envelope for submission
// endpoints: the minted request id the caller polls for completion via
// the topology_requests row.
type requestResponse struct {
	RequestID string `json:"request_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rtlog.WithComponent("adminhttp").Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, topology.ErrNotLeader):
		status = http.StatusTemporaryRedirect
	case errors.Is(err, topology.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, topology.ErrInvalidRequest):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

type newNodeSpec struct {
	Datacenter        string   `json:"datacenter"`
	Rack              string   `json:"rack"`
	ReleaseVersion    string   `json:"release_version"`
	ShardCount        int      `json:"shard_count"`
	PartitionerTuning int      `json:"partitioner_tuning"`
	SupportedFeatures []string `json:"supported_features"`
}

func (s newNodeSpec) toSpec() coordinator.NewNodeSpec {
	return coordinator.NewNodeSpec{
		Datacenter:        s.Datacenter,
		Rack:              s.Rack,
		ReleaseVersion:    s.ReleaseVersion,
		ShardCount:        s.ShardCount,
		PartitionerTuning: s.PartitionerTuning,
		SupportedFeatures: s.SupportedFeatures,
	}
}

type joinRequest struct {
	NodeID    string      `json:"node_id"`
	Spec      newNodeSpec `json:"spec"`
	NumTokens int         `json:"num_tokens"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.coord.SubmitJoin(topology.NodeID(req.NodeID), req.Spec.toSpec(), req.NumTokens)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestResponse{RequestID: id.String()})
}

type replaceRequest struct {
	NodeID     string      `json:"node_id"`
	Spec       newNodeSpec `json:"spec"`
	ReplacedID string      `json:"replaced_id"`
	IgnoredIDs []string    `json:"ignored_ids"`
}

func toIDSet(ids []string) map[topology.NodeID]struct{} {
	out := make(map[topology.NodeID]struct{}, len(ids))
	for _, id := range ids {
		out[topology.NodeID(id)] = struct{}{}
	}
	return out
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	var req replaceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.coord.SubmitReplace(topology.NodeID(req.NodeID), req.Spec.toSpec(), topology.NodeID(req.ReplacedID), toIDSet(req.IgnoredIDs))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestResponse{RequestID: id.String()})
}

type nodeIDRequest struct {
	NodeID     string   `json:"node_id"`
	IgnoredIDs []string `json:"ignored_ids,omitempty"`
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req nodeIDRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.coord.SubmitLeave(topology.NodeID(req.NodeID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestResponse{RequestID: id.String()})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req nodeIDRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.coord.SubmitRemove(topology.NodeID(req.NodeID), toIDSet(req.IgnoredIDs))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestResponse{RequestID: id.String()})
}

type rebuildRequest struct {
	NodeID           string `json:"node_id"`
	SourceDatacenter string `json:"source_datacenter"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.coord.SubmitRebuild(topology.NodeID(req.NodeID), req.SourceDatacenter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestResponse{RequestID: id.String()})
}

func (s *Server) handleGlobalCleanup(w http.ResponseWriter, r *http.Request) {
	id, err := s.coord.SubmitGlobal(topology.GlobalRequestCleanup)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestResponse{RequestID: id.String()})
}

func (s *Server) handleGlobalNewCDCGeneration(w http.ResponseWriter, r *http.Request) {
	id, err := s.coord.SubmitGlobal(topology.GlobalRequestNewCDCGeneration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestResponse{RequestID: id.String()})
}

// nodeView is the JSON-rendered shape of one ReplicaRecord for /v1/status.
type nodeView struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	Datacenter    string `json:"datacenter"`
	Rack          string `json:"rack"`
	TokenCount    int    `json:"token_count"`
	CleanupStatus string `json:"cleanup_status"`
}

type statusView struct {
	TState               string     `json:"tstate,omitempty"`
	Version              uint64     `json:"version"`
	FenceVersion         uint64     `json:"fence_version"`
	PendingGlobalRequest string     `json:"pending_global_request,omitempty"`
	GlobalRequest        string     `json:"global_request,omitempty"`
	Normal               []nodeView `json:"normal_nodes"`
	New                  []nodeView `json:"new_nodes"`
	Transition           []nodeView `json:"transition_nodes"`
	LeftCount            int        `json:"left_nodes_count"`
}

func toNodeView(id topology.NodeID, r *topology.ReplicaRecord) nodeView {
	tokens := 0
	if r.Ring != nil {
		tokens = len(r.Ring.Tokens)
	}
	return nodeView{
		ID:            string(id),
		State:         string(r.State),
		Datacenter:    r.Datacenter,
		Rack:          r.Rack,
		TokenCount:    tokens,
		CleanupStatus: string(r.CleanupStatus),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	topo := s.coord.Topology()
	view := statusView{
		Version:      topo.Version,
		FenceVersion: topo.FenceVersion,
		LeftCount:    len(topo.LeftNodes),
	}
	if topo.TState != nil {
		view.TState = string(*topo.TState)
	}
	if topo.PendingGlobalRequest != nil {
		view.PendingGlobalRequest = string(*topo.PendingGlobalRequest)
	}
	if topo.GlobalRequest != nil {
		view.GlobalRequest = string(*topo.GlobalRequest)
	}
	for id, r := range topo.NormalNodes {
		view.Normal = append(view.Normal, toNodeView(id, r))
	}
	for id, r := range topo.NewNodes {
		view.New = append(view.New, toNodeView(id, r))
	}
	for id, r := range topo.TransitionNodes {
		view.Transition = append(view.Transition, toNodeView(id, r))
	}
	writeJSON(w, http.StatusOK, view)
}
