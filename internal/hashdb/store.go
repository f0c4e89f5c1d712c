// Package hashdb is the persistent, transactional store for fingerprints,
// per-peer inventory, peer state, and mesh-sync watermarks (spec §4.4).
// It is built the same way dupedog's internal/cache builds its hash cache:
// go.etcd.io/bbolt buckets, a guarded monotonic counter, and Tx.Update as
// the unit of atomicity — except this store is the durable system of
// record, not a self-cleaning cache, so there is exactly one database file
// and no read/write-db swap on Close.
package hashdb

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/soulmesh/swarmcore/internal/types"
)

var (
	bucketFingerprints  = []byte("fingerprints")   // key -> json(FingerprintEntry)
	bucketFingerByIdx   = []byte("fingerprints_by_seq") // big-endian seq -> key
	bucketInventory     = []byte("inventory")       // file_id -> json(InventoryEntry)
	bucketPeers         = []byte("peers")           // peer_id -> json(Peer)
	bucketMeshPeerState = []byte("mesh_peer_state") // peer_id -> json(MeshPeerState)
	bucketMeta          = []byte("meta")            // "latest_seq_id" -> big-endian uint64

	keyLatestSeqID = []byte("latest_seq_id")
)

// Store is HashDB: a transactional, durable store over the schema in spec §3.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a HashDB at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, types.WrapError(types.ErrStoreError, "create hashdb directory", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, types.WrapError(types.ErrStoreError, "open hashdb", err)
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketFingerprints, bucketFingerByIdx, bucketInventory, bucketPeers, bucketMeshPeerState, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, types.WrapError(types.ErrStoreError, "create hashdb buckets", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return types.WrapError(types.ErrStoreError, "close hashdb", err)
	}
	return nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, types.WrapError(types.ErrStoreError, "encode row", err)
	}
	return data, nil
}

func storeErr(action string, err error) error {
	return types.WrapError(types.ErrStoreError, action, err)
}

// view runs a read-only transaction, translating bbolt errors into CoreErrors.
func (s *Store) view(action string, fn func(tx *bolt.Tx) error) error {
	if err := s.db.View(fn); err != nil {
		if ce, ok := err.(*types.CoreError); ok {
			return ce
		}
		return storeErr(action, err)
	}
	return nil
}

// update runs a read-write transaction, translating bbolt errors into CoreErrors.
func (s *Store) update(action string, fn func(tx *bolt.Tx) error) error {
	if err := s.db.Update(fn); err != nil {
		if ce, ok := err.(*types.CoreError); ok {
			return ce
		}
		return storeErr(action, err)
	}
	return nil
}

// FileID computes the stable inventory key for (peerID, path, size), per
// spec §3: file_id = H(peer_id ‖ path ‖ size).
func FileID(peerID, path string, size int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", peerID, path, size)))
	return hex.EncodeToString(sum[:])
}
