package hashdb

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/soulmesh/swarmcore/internal/types"
)

// BackfillCandidates selects inventory rows eligible for an opportunistic
// probe (spec §4.6): status=none, or status=failed with LastAttemptAt before
// today (the supplemental UTC-day retry rule — see SPEC_FULL.md §3). Rows
// whose owning peer advertises HasFingerprintDB are excluded, since that
// peer can be reached through MeshSync instead of a direct probe. Rows whose
// owning peer has already hit maxPerPeerPerDay backfills today are skipped.
func (s *Store) BackfillCandidates(limit int, maxPerPeerPerDay int, today string) ([]*types.InventoryEntry, error) {
	var out []*types.InventoryEntry
	err := s.view("backfill candidates", func(tx *bolt.Tx) error {
		peers := tx.Bucket(bucketPeers)
		c := tx.Bucket(bucketInventory).Cursor()

		for k, v := c.First(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Next() {
			var e types.InventoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			eligible := e.Status == types.InventoryNone ||
				(e.Status == types.InventoryFailed && dayOf(e.LastAttemptAt) != today)
			if !eligible {
				continue
			}

			peerData := peers.Get([]byte(e.PeerID))
			if peerData == nil {
				out = append(out, &e)
				continue
			}
			var p types.Peer
			if err := json.Unmarshal(peerData, &p); err != nil {
				return err
			}
			if p.Capabilities.Has(types.HasFingerprintDB) {
				continue
			}
			if p.BackfillResetDay == today && p.BackfillToday >= maxPerPeerPerDay {
				continue
			}
			out = append(out, &e)
		}
		return nil
	})
	return out, err
}

func dayOf(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
