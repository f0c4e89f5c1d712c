package hashdb

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/soulmesh/swarmcore/internal/types"
)

// PeerLastSeqSeen returns the watermark up to which peerID's fingerprint
// stream has already been merged, or 0 if the neighbor has never synced.
func (s *Store) PeerLastSeqSeen(peerID string) (uint64, error) {
	var seq uint64
	err := s.view("peer last seq seen", func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeshPeerState).Get([]byte(peerID))
		if data == nil {
			return nil
		}
		var st types.MeshPeerState
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		seq = st.LastSeqSeen
		return nil
	})
	return seq, err
}

// SetPeerLastSeqSeen advances the watermark for peerID after a successful
// merge, recording the sync time as now.
func (s *Store) SetPeerLastSeqSeen(peerID string, seq uint64, now time.Time) error {
	return s.update("set peer last seq seen", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeshPeerState)
		data := b.Get([]byte(peerID))

		var st types.MeshPeerState
		if data != nil {
			if err := json.Unmarshal(data, &st); err != nil {
				return err
			}
		} else {
			st.PeerID = peerID
		}
		st.LastSeqSeen = seq
		st.LastSyncAt = now

		out, err := encode(&st)
		if err != nil {
			return err
		}
		return b.Put([]byte(peerID), out)
	})
}

// AllMeshPeerStates returns every neighbor's gossip-sync bookkeeping row,
// for aggregate reporting (CoreAPI's mesh_stats).
func (s *Store) AllMeshPeerStates() ([]*types.MeshPeerState, error) {
	var states []*types.MeshPeerState
	err := s.view("all mesh peer states", func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeshPeerState).ForEach(func(_, data []byte) error {
			var st types.MeshPeerState
			if err := json.Unmarshal(data, &st); err != nil {
				return err
			}
			states = append(states, &st)
			return nil
		})
	})
	return states, err
}

// GetMeshPeerState fetches the raw sync-bookkeeping row for a neighbor.
func (s *Store) GetMeshPeerState(peerID string) (*types.MeshPeerState, bool, error) {
	var st *types.MeshPeerState
	err := s.view("get mesh peer state", func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeshPeerState).Get([]byte(peerID))
		if data == nil {
			return nil
		}
		var v types.MeshPeerState
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		st = &v
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return st, st != nil, nil
}
