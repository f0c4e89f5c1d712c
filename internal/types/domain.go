package types

import "time"

// Peer is a network-unique participant discovered by the host application's
// file-sharing network layer. The core never creates connections to peers
// itself; it only accumulates what it learns about them.
type Peer struct {
	ID                  string
	Capabilities        Capabilities
	ClientVersion       string
	LastSeen            time.Time
	LastCapabilityCheck time.Time
	BackfillToday        int
	BackfillResetDay      string // YYYY-MM-DD, UTC calendar day
}

// InventoryStatus is the lifecycle state of a per-peer, per-file inventory
// row with respect to fingerprinting.
type InventoryStatus string

const (
	InventoryNone    InventoryStatus = "none"
	InventoryKnown   InventoryStatus = "known"
	InventoryPending InventoryStatus = "pending"
	InventoryFailed  InventoryStatus = "failed"
)

// FingerprintSource names how a FingerprintEntry or InventoryEntry came to
// know its fingerprint.
type FingerprintSource string

const (
	SourceLocalScan    FingerprintSource = "local-scan"
	SourcePeerGossip   FingerprintSource = "peer-gossip"
	SourceBackfillProbe FingerprintSource = "backfill-probe"
	SourceDownload     FingerprintSource = "download"
)

// CodecMeta carries optional codec hints learned while fingerprinting.
type CodecMeta struct {
	SampleRate      uint32
	Channels        uint8
	BitsPerSample   uint8
	DurationSamples uint64
}

// InventoryEntry records that peer PeerID offers file Path of size Size.
// FileID is a stable key derived from (PeerID, Path, Size).
type InventoryEntry struct {
	FileID        string
	PeerID        string
	Path          string
	Size          int64
	DiscoveredAt  time.Time
	Status        InventoryStatus
	Fingerprint   []byte
	Source        FingerprintSource
	Meta          *CodecMeta
	LastAttemptAt time.Time // supplements spec: UTC-day retry bookkeeping for failed backfills
}

// FingerprintKind distinguishes the two fingerprint algorithms. Fingerprints
// of different kinds are never considered equal even if their bytes match.
type FingerprintKind string

const (
	KindFlacStreamInfoMD5 FingerprintKind = "flac-streaminfo-md5"
	KindSha256Prefix      FingerprintKind = "sha256-prefix"
)

// FingerprintEntry is the content-addressed, global record of a file's
// canonical fingerprint, keyed by normalize(basename)+size.
type FingerprintEntry struct {
	Key           string
	Kind          FingerprintKind
	Fingerprint   []byte
	Size          int64
	MetaFlags     uint32
	FirstSeenAt   time.Time
	LastUpdatedAt time.Time
	SeqID         uint64
	ConflictCount uint32            // supplements spec: "records a conflict counter"
	Unverified    bool              // when set, MergeFromGossip accepts a differing remote value regardless of FirstSeenAt; no public Store method sets it
	LastSource    FingerprintSource // provenance of the most recent store_fingerprint call
}

// MeshPeerState tracks gossip-sync bookkeeping for one neighbor.
type MeshPeerState struct {
	PeerID       string
	LastSyncAt   time.Time
	LastSeqSeen  uint64
	Capabilities Capabilities
}
