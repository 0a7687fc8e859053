package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

// ErrNotFound is returned by Get-style lookups that find no row.
var ErrNotFound = errors.New("storage: not found")

var (
	bucketTopologyMeta      = []byte("topology_meta")
	bucketTopologyNodes     = []byte("topology_nodes")
	bucketCDCGenerations    = []byte("cdc_generations")
	bucketTopologyRequests  = []byte("topology_requests")
	metaRowKey              = []byte("singleton")
)

// BoltStore is a bbolt-backed Store. It mirrors the bucket-per-table,
// JSON-per-row layout used throughout this codebase's persistence
// layer: one flat bucket per logical table, values marshaled with
// encoding/json, transactions scoped with db.Update/db.View.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the database file under
// dataDir and ensures every bucket this store needs exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "ringtopo.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketTopologyMeta,
			bucketTopologyNodes,
			bucketCDCGenerations,
			bucketTopologyRequests,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// metaRow is the JSON shape of the topology table's singleton row.
type metaRow struct {
	TState                    *topology.TransitionState   `json:"tstate,omitempty"`
	Version                   uint64                      `json:"version"`
	FenceVersion              uint64                      `json:"fence_version"`
	Requests                  map[topology.NodeID]topology.RequestKind `json:"requests"`
	ReqParams                 map[topology.NodeID]topology.ReqParam    `json:"req_params"`
	LeftNodes                 []topology.NodeID           `json:"left_nodes"`
	PendingGlobalRequest      *topology.GlobalRequestKind `json:"pending_global_request,omitempty"`
	GlobalRequest             *topology.GlobalRequestKind `json:"global_request,omitempty"`
	CurrentCDCGenerationID    *uuid.UUID                  `json:"current_cdc_generation_id,omitempty"`
	NewCDCGenerationDataUUID  *uuid.UUID                  `json:"new_cdc_generation_data_uuid,omitempty"`
	UnpublishedCDCGenerations []uuid.UUID                 `json:"unpublished_cdc_generations,omitempty"`
	EnabledFeatures           []string                    `json:"enabled_features"`
	SessionID                 uuid.UUID                   `json:"session_id"`
	TabletBalancingEnabled    bool                        `json:"tablet_balancing_enabled"`
}

// nodeCollection tags which of the three non-left node maps a persisted
// node row belongs to, so LoadTopology knows where to re-insert it.
type nodeCollection string

const (
	collectionNormal     nodeCollection = "normal"
	collectionNew        nodeCollection = "new"
	collectionTransition nodeCollection = "transition"
)

type nodeRow struct {
	Collection nodeCollection        `json:"collection"`
	Record     *topology.ReplicaRecord `json:"record"`
}

// SaveTopology persists the full singleton row and a row per retained
// node, replacing whatever was stored before (it is a full-state
// upsert, not a delta, since the Applier hands the store a new
// snapshot on every call site that needs durability).
func (s *BoltStore) SaveTopology(t *topology.Topology) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := metaRow{
			TState:                    t.TState,
			Version:                   t.Version,
			FenceVersion:              t.FenceVersion,
			Requests:                  t.Requests,
			ReqParams:                 t.ReqParams,
			PendingGlobalRequest:      t.PendingGlobalRequest,
			GlobalRequest:             t.GlobalRequest,
			CurrentCDCGenerationID:    t.CurrentCDCGenerationID,
			NewCDCGenerationDataUUID:  t.NewCDCGenerationDataUUID,
			UnpublishedCDCGenerations: t.UnpublishedCDCGenerations,
			SessionID:                 t.SessionID,
			TabletBalancingEnabled:    t.TabletBalancingEnabled,
		}
		for id := range t.LeftNodes {
			meta.LeftNodes = append(meta.LeftNodes, id)
		}
		for f := range t.EnabledFeatures {
			meta.EnabledFeatures = append(meta.EnabledFeatures, f)
		}

		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal topology meta row: %w", err)
		}
		metaBucket := tx.Bucket(bucketTopologyMeta)
		if err := metaBucket.Put(metaRowKey, data); err != nil {
			return err
		}

		nodesBucket := tx.Bucket(bucketTopologyNodes)
		if err := clearBucket(nodesBucket); err != nil {
			return err
		}
		put := func(id topology.NodeID, r *topology.ReplicaRecord, c nodeCollection) error {
			row := nodeRow{Collection: c, Record: r}
			data, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("marshal node row %s: %w", id, err)
			}
			return nodesBucket.Put([]byte(id), data)
		}
		for id, r := range t.NormalNodes {
			if err := put(id, r, collectionNormal); err != nil {
				return err
			}
		}
		for id, r := range t.NewNodes {
			if err := put(id, r, collectionNew); err != nil {
				return err
			}
		}
		for id, r := range t.TransitionNodes {
			if err := put(id, r, collectionTransition); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadTopology reconstructs a Topology from its persisted rows,
// returning a fresh empty one if nothing has been saved yet.
func (s *BoltStore) LoadTopology() (*topology.Topology, error) {
	t := topology.New()

	err := s.db.View(func(tx *bolt.Tx) error {
		metaBucket := tx.Bucket(bucketTopologyMeta)
		data := metaBucket.Get(metaRowKey)
		if data != nil {
			var meta metaRow
			if err := json.Unmarshal(data, &meta); err != nil {
				return fmt.Errorf("unmarshal topology meta row: %w", err)
			}
			t.TState = meta.TState
			t.Version = meta.Version
			t.FenceVersion = meta.FenceVersion
			if meta.Requests != nil {
				t.Requests = meta.Requests
			}
			if meta.ReqParams != nil {
				t.ReqParams = meta.ReqParams
			}
			for _, id := range meta.LeftNodes {
				t.LeftNodes[id] = struct{}{}
			}
			t.PendingGlobalRequest = meta.PendingGlobalRequest
			t.GlobalRequest = meta.GlobalRequest
			t.CurrentCDCGenerationID = meta.CurrentCDCGenerationID
			t.NewCDCGenerationDataUUID = meta.NewCDCGenerationDataUUID
			t.UnpublishedCDCGenerations = meta.UnpublishedCDCGenerations
			for _, f := range meta.EnabledFeatures {
				t.EnabledFeatures[f] = struct{}{}
			}
			t.SessionID = meta.SessionID
			t.TabletBalancingEnabled = meta.TabletBalancingEnabled
		}

		nodesBucket := tx.Bucket(bucketTopologyNodes)
		return nodesBucket.ForEach(func(k, v []byte) error {
			var row nodeRow
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("unmarshal node row %s: %w", k, err)
			}
			id := topology.NodeID(k)
			switch row.Collection {
			case collectionNormal:
				t.NormalNodes[id] = row.Record
			case collectionNew:
				t.NewNodes[id] = row.Record
			case collectionTransition:
				t.TransitionNodes[id] = row.Record
			default:
				return fmt.Errorf("node row %s has unknown collection %q", id, row.Collection)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SaveCDCGeneration stores the range rows for a generation under a
// nested bucket keyed by the generation id, clustering them the way
// §6 describes (generation_id, range).
func (s *BoltStore) SaveCDCGeneration(generationID uuid.UUID, ranges []CDCGenerationRange) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		top := tx.Bucket(bucketCDCGenerations)
		genBucket, err := top.CreateBucketIfNotExists([]byte(generationID.String()))
		if err != nil {
			return err
		}
		if err := clearBucket(genBucket); err != nil {
			return err
		}
		for i, r := range ranges {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshal cdc generation range %d: %w", i, err)
			}
			key := fmt.Sprintf("%020d-%020d", r.StartToken, r.EndToken)
			if err := genBucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetCDCGeneration returns the persisted range rows for a generation.
func (s *BoltStore) GetCDCGeneration(generationID uuid.UUID) ([]CDCGenerationRange, error) {
	var ranges []CDCGenerationRange
	err := s.db.View(func(tx *bolt.Tx) error {
		top := tx.Bucket(bucketCDCGenerations)
		genBucket := top.Bucket([]byte(generationID.String()))
		if genBucket == nil {
			return ErrNotFound
		}
		return genBucket.ForEach(func(_, v []byte) error {
			var r CDCGenerationRange
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			ranges = append(ranges, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ranges, nil
}

// DeleteCDCGeneration removes a generation's nested bucket entirely.
func (s *BoltStore) DeleteCDCGeneration(generationID uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		top := tx.Bucket(bucketCDCGenerations)
		if top.Bucket([]byte(generationID.String())) == nil {
			return nil
		}
		return top.DeleteBucket([]byte(generationID.String()))
	})
}

// SaveRequestStatus upserts the (request_id, done, error) row.
func (s *BoltStore) SaveRequestStatus(status RequestStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTopologyRequests)
		data, err := json.Marshal(status)
		if err != nil {
			return fmt.Errorf("marshal request status %s: %w", status.RequestID, err)
		}
		return b.Put([]byte(status.RequestID.String()), data)
	})
}

// GetRequestStatus returns the persisted outcome row for a request.
func (s *BoltStore) GetRequestStatus(requestID uuid.UUID) (RequestStatus, error) {
	var status RequestStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTopologyRequests)
		data := b.Get([]byte(requestID.String()))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &status)
	})
	return status, err
}

// ListCDCGenerations returns every persisted generation's range rows,
// keyed by generation id, for assembling a pull_topology_snapshot bundle.
func (s *BoltStore) ListCDCGenerations() (map[uuid.UUID][]CDCGenerationRange, error) {
	out := make(map[uuid.UUID][]CDCGenerationRange)
	err := s.db.View(func(tx *bolt.Tx) error {
		top := tx.Bucket(bucketCDCGenerations)
		return top.ForEach(func(name, v []byte) error {
			if v != nil {
				// Not a nested bucket; the cdc_generations top-level
				// bucket only ever holds one per-generation bucket.
				return nil
			}
			id, err := uuid.Parse(string(name))
			if err != nil {
				return fmt.Errorf("parse generation bucket name %q: %w", name, err)
			}
			genBucket := top.Bucket(name)
			var ranges []CDCGenerationRange
			if err := genBucket.ForEach(func(_, v []byte) error {
				var r CDCGenerationRange
				if err := json.Unmarshal(v, &r); err != nil {
					return err
				}
				ranges = append(ranges, r)
				return nil
			}); err != nil {
				return err
			}
			out[id] = ranges
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListRequestStatuses returns every persisted topology_requests row.
func (s *BoltStore) ListRequestStatuses() ([]RequestStatus, error) {
	var out []RequestStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTopologyRequests)
		return b.ForEach(func(_, v []byte) error {
			var status RequestStatus
			if err := json.Unmarshal(v, &status); err != nil {
				return err
			}
			out = append(out, status)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func clearBucket(b *bolt.Bucket) error {
	var keys [][]byte
	if err := b.ForEach(func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
