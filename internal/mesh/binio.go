package mesh

import (
	"encoding/binary"
	"fmt"
)

// binWriter appends fixed-width little-endian fields into a growing byte
// slice (spec §6: "Integers little-endian unsigned").
// It exists because each wire message needs a handful of uint32/uint64/string
// fields packed back to back; a bytes.Buffer plus binary.Write per field
// would work too, but this keeps allocation to one growing slice.
type binWriter struct {
	buf []byte
}

func (w *binWriter) uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *binWriter) uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binWriter) uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binWriter) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *binWriter) Bytes() []byte { return w.buf }

// binReader is the read-side counterpart of binWriter, erroring out instead
// of panicking when a frame is shorter than its own field layout implies
// (spec §4.5: a malformed frame closes the connection, it never crashes it).
type binReader struct {
	buf []byte
	pos int
}

func newBinReader(buf []byte) *binReader {
	return &binReader{buf: buf}
}

func (r *binReader) uint8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, errShortFrame
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *binReader) uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, errShortFrame
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *binReader) uint64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errShortFrame
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *binReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errShortFrame
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

var errShortFrame = fmt.Errorf("mesh: frame ended before all declared fields were read")
