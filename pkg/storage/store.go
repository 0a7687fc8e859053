package storage

import (
	"github.com/google/uuid"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// Store defines the persisted-state interface for the three tables named
// in the external-interfaces section: topology, cdc_generations, and
// topology_requests. It is consulted only at startup (to rebuild the
// in-memory Topology before consensus replay resumes) and by followers
// servicing pull_topology_snapshot; the Applier itself never touches
// disk directly, since every replica derives the same state from the
// consensus log.
type Store interface {
	// SaveTopology persists the full singleton topology row plus one row
	// per retained node. It is an upsert: the caller supplies the
	// complete current state, not a delta.
	SaveTopology(t *topology.Topology) error
	// LoadTopology reconstructs the topology from its persisted rows. It
	// returns a fresh, empty topology (via topology.New) if none has
	// ever been saved.
	LoadTopology() (*topology.Topology, error)

	// SaveCDCGeneration stores the range-clustered data rows for a single
	// generation.
	SaveCDCGeneration(generationID uuid.UUID, ranges []CDCGenerationRange) error
	// GetCDCGeneration returns the persisted range rows for a generation.
	GetCDCGeneration(generationID uuid.UUID) ([]CDCGenerationRange, error)
	// DeleteCDCGeneration removes a generation's rows once it has been
	// published to every normal node and is no longer needed.
	DeleteCDCGeneration(generationID uuid.UUID) error

	// SaveRequestStatus upserts the outcome row for a topology request.
	SaveRequestStatus(status RequestStatus) error
	// GetRequestStatus returns the outcome row for a topology request, or
	// ErrNotFound if no row has been written for it yet.
	GetRequestStatus(requestID uuid.UUID) (RequestStatus, error)

	// ListCDCGenerations returns every persisted generation's range rows,
	// keyed by generation id. Used to assemble the pull_topology_snapshot
	// bundle (§4.6) a follower pulls after log truncation or first boot.
	ListCDCGenerations() (map[uuid.UUID][]CDCGenerationRange, error)
	// ListRequestStatuses returns every persisted topology_requests row,
	// for the same snapshot bundle.
	ListRequestStatuses() ([]RequestStatus, error)

	// Close releases the underlying database handle.
	Close() error
}

// CDCGenerationRange is one row of the cdc_generations table, clustered
// by (generation_id, range) per §6.
type CDCGenerationRange struct {
	StartToken topology.Token
	EndToken   topology.Token
	// Data carries the opaque per-range payload handed down from the CDC
	// generation-data table; the core never interprets it, only stores
	// and forwards it (that subsystem is out of scope).
	Data []byte
}

// RequestStatus is the topology_requests row: (request_id, done, error).
type RequestStatus struct {
	RequestID uuid.UUID
	Done      bool
	Error     string
}
