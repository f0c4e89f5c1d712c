package hashdb

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/soulmesh/swarmcore/internal/types"
)

// UpsertInventory inserts or replaces a per-peer, per-file inventory row.
// The invariant status=known ⇒ fingerprint≠⊥ ∧ source≠⊥ is enforced here,
// not left to callers.
func (s *Store) UpsertInventory(e *types.InventoryEntry) error {
	if e.Status == types.InventoryKnown && (len(e.Fingerprint) == 0 || e.Source == "") {
		return types.NewError(types.ErrStoreError, "known inventory row requires fingerprint and source")
	}

	return s.update("upsert inventory", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInventory)
		data, err := encode(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(e.FileID), data)
	})
}

// GetInventory fetches one inventory row by file ID.
func (s *Store) GetInventory(fileID string) (*types.InventoryEntry, bool, error) {
	var entry *types.InventoryEntry
	err := s.view("get inventory", func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInventory).Get([]byte(fileID))
		if data == nil {
			return nil
		}
		var e types.InventoryEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return entry, entry != nil, nil
}

// ListUnhashedInventory returns up to limit inventory rows whose fingerprint
// is still unknown (status=none), in no particular order beyond bucket
// iteration order.
func (s *Store) ListUnhashedInventory(limit int) ([]*types.InventoryEntry, error) {
	var out []*types.InventoryEntry
	err := s.view("list unhashed inventory", func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketInventory).Cursor()
		for k, v := c.First(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Next() {
			var e types.InventoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Status == types.InventoryNone {
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}
