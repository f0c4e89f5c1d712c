package hashdb

import (
	bolt "go.etcd.io/bbolt"

	"github.com/soulmesh/swarmcore/internal/types"
)

// putFingerprintEntryForTest writes a FingerprintEntry verbatim, bypassing
// StoreFingerprint's change detection, so tests can set up rows with fields
// (like Unverified) that no public API currently mutates directly.
func (s *Store) putFingerprintEntryForTest(e *types.FingerprintEntry) error {
	return s.update("put fingerprint entry (test)", func(tx *bolt.Tx) error {
		data, err := encode(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFingerprints).Put([]byte(e.Key), data)
	})
}
