package hashdb

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/soulmesh/swarmcore/internal/types"
)

// UpsertPeer inserts or replaces a Peer row.
func (s *Store) UpsertPeer(p *types.Peer) error {
	return s.update("upsert peer", func(tx *bolt.Tx) error {
		data, err := encode(p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPeers).Put([]byte(p.ID), data)
	})
}

// GetPeer fetches a Peer by ID.
func (s *Store) GetPeer(id string) (*types.Peer, bool, error) {
	var p *types.Peer
	err := s.view("get peer", func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPeers).Get([]byte(id))
		if data == nil {
			return nil
		}
		var v types.Peer
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		p = &v
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return p, p != nil, nil
}

// AllPeers returns every known peer row, for aggregate reporting (CoreAPI's
// backfill_stats).
func (s *Store) AllPeers() ([]*types.Peer, error) {
	var peers []*types.Peer
	err := s.view("all peers", func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(_, data []byte) error {
			var p types.Peer
			if err := json.Unmarshal(data, &p); err != nil {
				return err
			}
			peers = append(peers, &p)
			return nil
		})
	})
	return peers, err
}

// IncrementBackfillCount bumps a peer's daily backfill counter, resetting it
// first if the peer's backfill_reset_day has rolled over to a new UTC day.
func (s *Store) IncrementBackfillCount(peerID string, today string) error {
	return s.update("increment backfill count", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPeers)
		data := b.Get([]byte(peerID))
		if data == nil {
			return types.NewError(types.ErrStoreError, "unknown peer: "+peerID)
		}
		var p types.Peer
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.BackfillResetDay != today {
			p.BackfillResetDay = today
			p.BackfillToday = 0
		}
		p.BackfillToday++
		out, err := encode(&p)
		if err != nil {
			return err
		}
		return b.Put([]byte(peerID), out)
	})
}

// PruneStalePeers removes peers not seen within horizon of now (spec §3:
// "entries may be pruned if unseen beyond a retention horizon"). Not wired
// into any automatic scheduler — the host decides when, if ever, to call it.
func (s *Store) PruneStalePeers(now time.Time, horizon time.Duration) (int, error) {
	pruned := 0
	err := s.update("prune stale peers", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPeers)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p types.Peer
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if now.Sub(p.LastSeen) > horizon {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}
