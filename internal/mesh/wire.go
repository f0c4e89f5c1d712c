// Package mesh implements MeshSync: pairwise gossip of fingerprint entries
// over a length-prefixed binary protocol, the way ProbeChain-go-probe's p2p
// layer frames its own wire messages with encoding/binary rather than a
// self-describing format — a gossip delta is bulk numeric/string data, not
// a place where JSON's flexibility earns its overhead.
package mesh

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/soulmesh/swarmcore/internal/types"
)

// MessageType discriminates the five frame kinds spec §4.5 defines.
type MessageType byte

const (
	TypeHello     MessageType = 1
	TypeReqDelta  MessageType = 2
	TypePushDelta MessageType = 3
	TypeReqKey    MessageType = 4
	TypeRespKey   MessageType = 5
)

// maxFrameBytes caps a single frame's payload (type byte + body), spec §4.5.
const maxFrameBytes = 64 * 1024

// ProtocolVersion is this node's MeshSync wire version, advertised in HELLO.
const ProtocolVersion = 1

// Hello is the first frame either side sends.
type Hello struct {
	ClientID        string
	ProtocolVersion uint32
	LatestLocalSeq  uint64
}

// ReqDelta asks the peer for entries with seq_id > SinceSeq.
type ReqDelta struct {
	SinceSeq   uint64
	MaxEntries uint32
}

// GossipEntry is one wire-format fingerprint row exchanged in PUSH_DELTA.
// Kind is carried alongside Fingerprint even though spec §4.5's table
// doesn't list it explicitly, because two fingerprints of different kinds
// are never equal (spec §4.1) — dropping it would silently conflate a
// FLAC audio-MD5 with a SHA-256 prefix that happens to share key+size.
type GossipEntry struct {
	SeqID       uint64
	Key         string
	Kind        types.FingerprintKind
	Fingerprint []byte
	Size        int64
	MetaFlags   uint32
}

// PushDelta is the responder's reply to ReqDelta: up to MaxEntries rows in
// strictly ascending local seq_id order.
type PushDelta struct {
	Entries []GossipEntry
}

// ReqKey is a point lookup used by ContentVerification's HashDB fast-path.
type ReqKey struct {
	Key string
}

// RespKey answers a ReqKey. Found is false if the key is not known locally.
type RespKey struct {
	Key         string
	Found       bool
	Fingerprint []byte
	Size        int64
}

var errFrameTooLarge = types.NewError(types.ErrProtocolViolation, "frame exceeds maximum size")

// writeFrame writes a length-prefixed frame: 4-byte little-endian length
// (covering msgType + body), then msgType, then body.
func writeFrame(w io.Writer, msgType MessageType, body []byte) error {
	if len(body)+1 > maxFrameBytes {
		return errFrameTooLarge
	}
	header := make([]byte, 5)
	binary.LittleEndian.PutUint32(header[:4], uint32(len(body)+1))
	header[4] = byte(msgType)
	if _, err := w.Write(header); err != nil {
		return types.WrapError(types.ErrTransportError, "write frame header", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return types.WrapError(types.ErrTransportError, "write frame body", err)
		}
	}
	return nil
}

// readFrame reads one length-prefixed frame, returning its type and body.
// A length exceeding maxFrameBytes or a short read is ErrProtocolViolation
// or ErrTransportError respectively — both are treated by callers as "close
// the connection" (spec §4.5: malformed frame -> close connection).
func readFrame(r *bufio.Reader) (MessageType, []byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.EOF
		}
		return 0, nil, types.WrapError(types.ErrTransportError, "read frame header", err)
	}
	length := binary.LittleEndian.Uint32(header)
	if length == 0 || int(length) > maxFrameBytes {
		return 0, nil, types.WrapError(types.ErrProtocolViolation, "invalid frame length", nil)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, types.WrapError(types.ErrTransportError, "read frame body", err)
	}
	return MessageType(payload[0]), payload[1:], nil
}

func writeString(buf *binWriter, s string) {
	b := []byte(s)
	buf.uint32(uint32(len(b)))
	buf.bytes(b)
}

func readString(r *binReader) (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeHello(h Hello) []byte {
	var buf binWriter
	writeString(&buf, h.ClientID)
	buf.uint32(h.ProtocolVersion)
	buf.uint64(h.LatestLocalSeq)
	return buf.Bytes()
}

func decodeHello(body []byte) (Hello, error) {
	r := newBinReader(body)
	clientID, err := readString(r)
	if err != nil {
		return Hello{}, err
	}
	proto, err := r.uint32()
	if err != nil {
		return Hello{}, err
	}
	seq, err := r.uint64()
	if err != nil {
		return Hello{}, err
	}
	return Hello{ClientID: clientID, ProtocolVersion: proto, LatestLocalSeq: seq}, nil
}

func encodeReqDelta(m ReqDelta) []byte {
	var buf binWriter
	buf.uint64(m.SinceSeq)
	buf.uint32(m.MaxEntries)
	return buf.Bytes()
}

func decodeReqDelta(body []byte) (ReqDelta, error) {
	r := newBinReader(body)
	since, err := r.uint64()
	if err != nil {
		return ReqDelta{}, err
	}
	max, err := r.uint32()
	if err != nil {
		return ReqDelta{}, err
	}
	return ReqDelta{SinceSeq: since, MaxEntries: max}, nil
}

func encodePushDelta(m PushDelta) []byte {
	var buf binWriter
	buf.uint32(uint32(len(m.Entries)))
	for _, e := range m.Entries {
		buf.uint64(e.SeqID)
		writeString(&buf, e.Key)
		writeString(&buf, string(e.Kind))
		buf.uint32(uint32(len(e.Fingerprint)))
		buf.bytes(e.Fingerprint)
		buf.uint64(uint64(e.Size))
		buf.uint32(e.MetaFlags)
	}
	return buf.Bytes()
}

func decodePushDelta(body []byte) (PushDelta, error) {
	r := newBinReader(body)
	count, err := r.uint32()
	if err != nil {
		return PushDelta{}, err
	}
	entries := make([]GossipEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		seq, err := r.uint64()
		if err != nil {
			return PushDelta{}, err
		}
		key, err := readString(r)
		if err != nil {
			return PushDelta{}, err
		}
		kind, err := readString(r)
		if err != nil {
			return PushDelta{}, err
		}
		fpLen, err := r.uint32()
		if err != nil {
			return PushDelta{}, err
		}
		fp, err := r.bytes(int(fpLen))
		if err != nil {
			return PushDelta{}, err
		}
		size, err := r.uint64()
		if err != nil {
			return PushDelta{}, err
		}
		metaFlags, err := r.uint32()
		if err != nil {
			return PushDelta{}, err
		}
		entries = append(entries, GossipEntry{
			SeqID: seq, Key: key, Kind: types.FingerprintKind(kind),
			Fingerprint: fp, Size: int64(size), MetaFlags: metaFlags,
		})
	}
	return PushDelta{Entries: entries}, nil
}

func encodeReqKey(m ReqKey) []byte {
	var buf binWriter
	writeString(&buf, m.Key)
	return buf.Bytes()
}

func decodeReqKey(body []byte) (ReqKey, error) {
	r := newBinReader(body)
	key, err := readString(r)
	if err != nil {
		return ReqKey{}, err
	}
	return ReqKey{Key: key}, nil
}

func encodeRespKey(m RespKey) []byte {
	var buf binWriter
	writeString(&buf, m.Key)
	if m.Found {
		buf.uint8(1)
	} else {
		buf.uint8(0)
	}
	buf.uint32(uint32(len(m.Fingerprint)))
	buf.bytes(m.Fingerprint)
	buf.uint64(uint64(m.Size))
	return buf.Bytes()
}

func decodeRespKey(body []byte) (RespKey, error) {
	r := newBinReader(body)
	key, err := readString(r)
	if err != nil {
		return RespKey{}, err
	}
	found, err := r.uint8()
	if err != nil {
		return RespKey{}, err
	}
	fpLen, err := r.uint32()
	if err != nil {
		return RespKey{}, err
	}
	fp, err := r.bytes(int(fpLen))
	if err != nil {
		return RespKey{}, err
	}
	size, err := r.uint64()
	if err != nil {
		return RespKey{}, err
	}
	return RespKey{Key: key, Found: found != 0, Fingerprint: fp, Size: int64(size)}, nil
}
