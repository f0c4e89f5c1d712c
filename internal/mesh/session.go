package mesh

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/soulmesh/swarmcore/internal/hashdb"
	"github.com/soulmesh/swarmcore/internal/types"
)

// Conn is the minimal stream the host's network layer must hand us: a
// bidirectional byte pipe to one already-connected neighbor. The host owns
// dialing, TLS, NAT traversal and the like; MeshSync only frames bytes onto
// whatever Conn it is given, the same separation of concerns as
// transferclient.Client for downloads.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	SetDeadline(t time.Time) error
}

// Dialer opens a Conn to a neighbor by peer ID. The host implements this
// over its own connection pool or transport of choice.
type Dialer interface {
	Dial(ctx context.Context, peerID string) (Conn, error)
}

const defaultIOTimeout = 15 * time.Second

// Session drives one MeshSync exchange against hashdb.Store. The protocol
// (spec §4.5) has both sides send HELLO and either side may then issue
// REQ_DELTA or REQ_KEY, but a single Conn has no message router to
// demultiplex unsolicited requests arriving while we're waiting on our own
// reply. Rather than build one, a sync is split into two directed roles that
// each run the handshake from their own side: PullFrom acts as requester
// (send HELLO, read peer's HELLO, issue REQ_DELTA, merge what comes back),
// ServeOne acts purely as responder on an inbound Conn (read HELLO, send
// HELLO, answer whatever single request arrives). Two neighbors that both
// want fresh data from each other simply call PullFrom against one another
// independently; convergence still holds because first-seen-wins merge is
// commutative regardless of which side initiated.
type Session struct {
	store        *hashdb.Store
	clientID     string
	maxEntries   int
	maxBatches   int
}

// NewSession builds a Session. maxEntries caps PUSH_DELTA rows per exchange
// (spec's MAX_ENTRIES_PER_SYNC); maxBatches caps the number of REQ_DELTA
// round trips a single PullFrom call will issue against one neighbor
// (spec's MAX_PAIR_BATCHES, default 10).
func NewSession(store *hashdb.Store, clientID string, maxEntries, maxBatches int) *Session {
	return &Session{store: store, clientID: clientID, maxEntries: maxEntries, maxBatches: maxBatches}
}

// PullFrom requests whatever the neighbor has newer than our last recorded
// seq_id from them, merges it, and advances our bookkeeping for that
// neighbor. It returns the number of entries merged and any conflicts
// first-seen-wins detected.
func (s *Session) PullFrom(ctx context.Context, conn Conn, peerID string, now time.Time) (merged, conflicts int, err error) {
	if err := conn.SetDeadline(deadlineFrom(ctx)); err != nil {
		return 0, 0, types.WrapError(types.ErrTransportError, "set deadline", err)
	}

	r := bufio.NewReader(conn)

	localSeq, err := s.store.LatestSeqID()
	if err != nil {
		return 0, 0, types.WrapError(types.ErrStoreError, "read local latest seq", err)
	}
	if err := s.sendHello(conn, localSeq); err != nil {
		return 0, 0, err
	}
	peerHello, err := s.recvHello(conn, r)
	if err != nil {
		return 0, 0, err
	}

	watermark, err := s.store.PeerLastSeqSeen(peerID)
	if err != nil {
		return 0, 0, types.WrapError(types.ErrStoreError, "read peer last seq seen", err)
	}
	if peerHello.LatestLocalSeq <= watermark {
		return 0, 0, nil // nothing newer than what we've already pulled
	}

	for batch := 0; batch < s.maxBatches; batch++ {
		if err := writeFrame(conn, TypeReqDelta, encodeReqDelta(ReqDelta{
			SinceSeq:   watermark,
			MaxEntries: uint32(s.maxEntries),
		})); err != nil {
			return merged, conflicts, err
		}

		msgType, body, err := readFrame(r)
		if err != nil {
			return merged, conflicts, closeOnError(conn, err)
		}
		if msgType != TypePushDelta {
			return merged, conflicts, closeOnError(conn, types.NewError(types.ErrProtocolViolation, "expected PUSH_DELTA"))
		}
		push, err := decodePushDelta(body)
		if err != nil {
			return merged, conflicts, closeOnError(conn, types.WrapError(types.ErrProtocolViolation, "decode PUSH_DELTA", err))
		}

		entries := make([]*types.FingerprintEntry, 0, len(push.Entries))
		for _, e := range push.Entries {
			entries = append(entries, &types.FingerprintEntry{
				Key:         e.Key,
				Kind:        e.Kind,
				Fingerprint: e.Fingerprint,
				Size:        e.Size,
				MetaFlags:   e.MetaFlags,
				SeqID:       e.SeqID,
				LastSource:  types.SourcePeerGossip,
			})
			if e.SeqID > watermark {
				watermark = e.SeqID
			}
		}

		batchMerged, batchConflicts, err := s.store.MergeFromGossip(entries)
		merged += batchMerged
		conflicts += batchConflicts
		if err != nil {
			return merged, conflicts, types.WrapError(types.ErrStoreError, "merge gossip entries", err)
		}
		if err := s.store.SetPeerLastSeqSeen(peerID, watermark, now); err != nil {
			return merged, conflicts, types.WrapError(types.ErrStoreError, "advance peer last seq seen", err)
		}

		if len(push.Entries) < s.maxEntries {
			break // batch wasn't full, neighbor has nothing more newer than watermark
		}
	}
	return merged, conflicts, nil
}

// ServeOne answers a single inbound exchange on an already-accepted Conn:
// the handshake, then exactly one request (REQ_DELTA or REQ_KEY). The host
// calls this once per accepted mesh connection; a neighbor wanting both a
// delta and a key lookup opens two connections, mirroring how PullFrom's
// directed-role split avoids needing a request multiplexer on either end.
func (s *Session) ServeOne(ctx context.Context, conn Conn, now time.Time) error {
	if err := conn.SetDeadline(deadlineFrom(ctx)); err != nil {
		return types.WrapError(types.ErrTransportError, "set deadline", err)
	}

	r := bufio.NewReader(conn)
	msgType, body, err := readFrame(r)
	if err != nil {
		return closeOnError(conn, err)
	}
	if msgType != TypeHello {
		return closeOnError(conn, types.NewError(types.ErrProtocolViolation, "expected HELLO"))
	}
	if _, err := decodeHello(body); err != nil {
		return closeOnError(conn, types.WrapError(types.ErrProtocolViolation, "decode HELLO", err))
	}

	localSeq, err := s.store.LatestSeqID()
	if err != nil {
		return types.WrapError(types.ErrStoreError, "read local latest seq", err)
	}
	if err := s.sendHello(conn, localSeq); err != nil {
		return err
	}

	msgType, body, err = readFrame(r)
	if err != nil {
		return closeOnError(conn, err)
	}

	switch msgType {
	case TypeReqDelta:
		req, err := decodeReqDelta(body)
		if err != nil {
			return closeOnError(conn, types.WrapError(types.ErrProtocolViolation, "decode REQ_DELTA", err))
		}
		return s.serveDelta(conn, req)
	case TypeReqKey:
		req, err := decodeReqKey(body)
		if err != nil {
			return closeOnError(conn, types.WrapError(types.ErrProtocolViolation, "decode REQ_KEY", err))
		}
		return s.serveKey(conn, req)
	default:
		return closeOnError(conn, types.NewError(types.ErrProtocolViolation, "unexpected message after HELLO"))
	}
}

func (s *Session) serveDelta(conn Conn, req ReqDelta) error {
	limit := s.maxEntries
	if req.MaxEntries > 0 && int(req.MaxEntries) < limit {
		limit = int(req.MaxEntries)
	}
	rows, err := s.store.EntriesSince(req.SinceSeq, limit)
	if err != nil {
		return types.WrapError(types.ErrStoreError, "load entries since", err)
	}
	entries := make([]GossipEntry, 0, len(rows))
	for _, e := range rows {
		entries = append(entries, GossipEntry{
			SeqID: e.SeqID, Key: e.Key, Kind: e.Kind,
			Fingerprint: e.Fingerprint, Size: e.Size, MetaFlags: e.MetaFlags,
		})
	}
	return writeFrame(conn, TypePushDelta, encodePushDelta(PushDelta{Entries: entries}))
}

func (s *Session) serveKey(conn Conn, req ReqKey) error {
	entry, ok, err := s.store.LookupFingerprint(req.Key)
	if err != nil {
		return types.WrapError(types.ErrStoreError, "lookup fingerprint for REQ_KEY", err)
	}
	resp := RespKey{Key: req.Key}
	if ok {
		resp.Found = true
		resp.Fingerprint = entry.Fingerprint
		resp.Size = entry.Size
	}
	return writeFrame(conn, TypeRespKey, encodeRespKey(resp))
}

func (s *Session) sendHello(conn Conn, localSeq uint64) error {
	return writeFrame(conn, TypeHello, encodeHello(Hello{
		ClientID:        s.clientID,
		ProtocolVersion: ProtocolVersion,
		LatestLocalSeq:  localSeq,
	}))
}

func (s *Session) recvHello(conn Conn, r *bufio.Reader) (Hello, error) {
	msgType, body, err := readFrame(r)
	if err != nil {
		return Hello{}, closeOnError(conn, err)
	}
	if msgType != TypeHello {
		return Hello{}, closeOnError(conn, types.NewError(types.ErrProtocolViolation, "expected HELLO"))
	}
	h, err := decodeHello(body)
	if err != nil {
		return Hello{}, closeOnError(conn, types.WrapError(types.ErrProtocolViolation, "decode HELLO", err))
	}
	return h, nil
}

// closeOnError closes conn before returning err, per spec §4.5: a malformed
// frame or protocol violation ends the connection rather than trying to
// resynchronize on a stream whose framing is no longer trustworthy.
func closeOnError(conn Conn, err error) error {
	_ = conn.Close()
	if errors.Is(err, io.EOF) {
		return types.WrapError(types.ErrTransportError, "connection closed by peer", err)
	}
	return err
}

func deadlineFrom(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(defaultIOTimeout)
}
