package hashdb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/soulmesh/swarmcore/internal/types"
)

// nextSeq reads, increments, and persists the monotonic sequence counter
// inside tx. bbolt serializes all Update transactions against one writer, so
// this read-modify-write is the "guarded allocator" spec §9 calls for
// without needing a separate mutex.
func nextSeq(tx *bolt.Tx) (uint64, error) {
	meta := tx.Bucket(bucketMeta)
	cur := uint64(0)
	if v := meta.Get(keyLatestSeqID); v != nil {
		cur = binary.BigEndian.Uint64(v)
	}
	cur++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, cur)
	if err := meta.Put(keyLatestSeqID, buf); err != nil {
		return 0, err
	}
	return cur, nil
}

// LatestSeqID returns the highest seq_id assigned so far, or 0 if empty.
func (s *Store) LatestSeqID() (uint64, error) {
	var seq uint64
	err := s.view("latest seq id", func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyLatestSeqID)
		if v != nil {
			seq = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return seq, err
}

// LookupFingerprint looks up a FingerprintEntry by its content-addressed key.
func (s *Store) LookupFingerprint(key string) (*types.FingerprintEntry, bool, error) {
	var entry *types.FingerprintEntry
	err := s.view("lookup fingerprint", func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFingerprints).Get([]byte(key))
		if data == nil {
			return nil
		}
		var e types.FingerprintEntry
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

// StoreFingerprint atomically assigns a fresh seq_id if-and-only-if the row
// is newly inserted or its fingerprint bytes changed (spec §4.4). now is
// injected so callers (and tests) control time rather than reaching for
// time.Now() inside the store.
func (s *Store) StoreFingerprint(key string, kind types.FingerprintKind, fp []byte, size int64, metaFlags uint32, source types.FingerprintSource, now time.Time) (*types.FingerprintEntry, error) {
	var result *types.FingerprintEntry
	err := s.update("store fingerprint", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprints)
		idx := tx.Bucket(bucketFingerByIdx)

		existingData := b.Get([]byte(key))

		var entry types.FingerprintEntry
		changed := true
		if existingData != nil {
			if err := json.Unmarshal(existingData, &entry); err != nil {
				return err
			}
			changed = entry.Kind != kind || !bytes.Equal(entry.Fingerprint, fp)
		} else {
			entry = types.FingerprintEntry{Key: key, FirstSeenAt: now}
		}

		entry.Size = size
		entry.MetaFlags = metaFlags
		entry.LastSource = source
		entry.LastUpdatedAt = now

		if changed {
			entry.Kind = kind
			entry.Fingerprint = append([]byte(nil), fp...)
			seq, err := nextSeq(tx)
			if err != nil {
				return err
			}
			entry.SeqID = seq
		}

		data, err := encode(&entry)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
		if changed {
			if err := idx.Put(seqKey(entry.SeqID), []byte(key)); err != nil {
				return err
			}
		}
		result = &entry
		return nil
	})
	return result, err
}

// EntriesSince returns up to limit FingerprintEntry rows with seq_id strictly
// greater than since, in strictly ascending seq_id order.
func (s *Store) EntriesSince(since uint64, limit int) ([]*types.FingerprintEntry, error) {
	var out []*types.FingerprintEntry
	err := s.view("entries since", func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketFingerByIdx)
		fps := tx.Bucket(bucketFingerprints)

		c := idx.Cursor()
		start := seqKey(since + 1)
		for k, key := c.Seek(start); k != nil && (limit <= 0 || len(out) < limit); k, key = c.Next() {
			data := fps.Get(key)
			if data == nil {
				continue
			}
			var e types.FingerprintEntry
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	return out, err
}

// MergeFromGossip applies remotely-received entries under the first-seen-wins
// conflict policy (spec §3/§4.4):
//   - entries with Fingerprint equal to the local value are idempotent no-ops
//     (aside from bookkeeping fields).
//   - entries whose remote FirstSeenAt is not earlier than the local row's
//     are rejected as conflicts (ConflictCount bumped), local row unchanged.
//   - entries that are new, or whose remote FirstSeenAt predates the local
//     row's, are accepted — but always re-seq'd from the LOCAL counter; the
//     remote seq_id is never persisted as ours.
func (s *Store) MergeFromGossip(entries []*types.FingerprintEntry) (merged int, conflicts int, err error) {
	err = s.update("merge from gossip", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFingerprints)
		idx := tx.Bucket(bucketFingerByIdx)

		for _, remote := range entries {
			existingData := b.Get([]byte(remote.Key))

			if existingData == nil {
				local := types.FingerprintEntry{
					Key:           remote.Key,
					Kind:          remote.Kind,
					Fingerprint:   append([]byte(nil), remote.Fingerprint...),
					Size:          remote.Size,
					MetaFlags:     remote.MetaFlags,
					FirstSeenAt:   remote.FirstSeenAt,
					LastUpdatedAt: remote.FirstSeenAt,
					LastSource:    types.SourcePeerGossip,
				}
				seq, serr := nextSeq(tx)
				if serr != nil {
					return serr
				}
				local.SeqID = seq
				data, eerr := encode(&local)
				if eerr != nil {
					return eerr
				}
				if perr := b.Put([]byte(remote.Key), data); perr != nil {
					return perr
				}
				if perr := idx.Put(seqKey(seq), []byte(remote.Key)); perr != nil {
					return perr
				}
				merged++
				continue
			}

			var local types.FingerprintEntry
			if uerr := json.Unmarshal(existingData, &local); uerr != nil {
				return uerr
			}

			sameBytes := local.Kind == remote.Kind && bytes.Equal(local.Fingerprint, remote.Fingerprint)
			if sameBytes {
				// Idempotent no-op: fingerprint agrees, nothing to change.
				continue
			}

			if !local.Unverified && !remote.FirstSeenAt.Before(local.FirstSeenAt) {
				// Conservative first-seen-wins: the remote value is not
				// strictly earlier, so the local (earlier-or-equal) value
				// is retained and this is recorded as a conflict.
				local.ConflictCount++
				data, eerr := encode(&local)
				if eerr != nil {
					return eerr
				}
				if perr := b.Put([]byte(remote.Key), data); perr != nil {
					return perr
				}
				conflicts++
				continue
			}

			// Remote value genuinely predates ours (or ours is flagged
			// unverified): accept it, re-seq'd from our own counter.
			local.Kind = remote.Kind
			local.Fingerprint = append([]byte(nil), remote.Fingerprint...)
			local.Size = remote.Size
			local.MetaFlags = remote.MetaFlags
			local.FirstSeenAt = remote.FirstSeenAt
			local.LastUpdatedAt = remote.FirstSeenAt
			local.LastSource = types.SourcePeerGossip
			seq, serr := nextSeq(tx)
			if serr != nil {
				return serr
			}
			local.SeqID = seq

			data, eerr := encode(&local)
			if eerr != nil {
				return eerr
			}
			if perr := b.Put([]byte(remote.Key), data); perr != nil {
				return perr
			}
			if perr := idx.Put(seqKey(seq), []byte(remote.Key)); perr != nil {
				return perr
			}
			merged++
		}
		return nil
	})
	return merged, conflicts, err
}
