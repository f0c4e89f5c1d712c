// Package types provides shared data model types used across the swarmcore
// codebase: peers, inventory/fingerprint rows, errors, events, and the
// small generic helpers (Sorted, Semaphore) that several subsystems need.
package types

// Capability identifies one bit of a Peer's advertised capability bitset.
type Capability uint8

const (
	// SupportsMesh marks a peer as willing to participate in hash gossip.
	SupportsMesh Capability = iota
	// SupportsHashExchange marks REQ_KEY/RESP_KEY point-lookup support.
	SupportsHashExchange
	// SupportsPartialRange marks non-zero start-offset downloads as supported.
	SupportsPartialRange
	// SupportsBackfillProbe marks a peer as eligible to be probed by Backfill.
	SupportsBackfillProbe
	// HasFingerprintDB marks a peer that already exposes fingerprints via
	// mesh gossip; Backfill never probes these peers directly.
	HasFingerprintDB
)

// Capabilities is a bitset over Capability values.
type Capabilities uint16

// Has reports whether c includes the given capability.
func (c Capabilities) Has(cap Capability) bool {
	return c&(1<<cap) != 0
}

// Set returns c with the given capability added.
func (c Capabilities) Set(cap Capability) Capabilities {
	return c | (1 << cap)
}

// Clear returns c with the given capability removed.
func (c Capabilities) Clear(cap Capability) Capabilities {
	return c &^ (1 << cap)
}
