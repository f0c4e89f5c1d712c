// Package fingerprint implements FingerprintCodec: pure functions that turn
// a leading byte prefix of a file into a canonical, content-addressed
// fingerprint. FLAC files are fingerprinted by their STREAMINFO audio MD5
// (parsed with github.com/mewkiz/flac, the way farcloser-flac's own stream
// reader does it); everything else gets a SHA-256 over a fixed prefix.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"io"
	"strings"

	"github.com/mewkiz/flac"

	"github.com/soulmesh/swarmcore/internal/types"
)

const (
	// flacPrefixBytes is a small fixed upper bound sufficient to cover the
	// "fLaC" marker and the mandatory STREAMINFO block for any real-world
	// FLAC file (spec §4.1: "a small fixed upper bound, e.g., 64 KiB").
	flacPrefixBytes = 64 * 1024

	// nonFlacPrefixBytes is the prefix length for the SHA-256 path. It is
	// fixed: core.Config's VerificationNonFlacPrefixBytes does not change it.
	nonFlacPrefixBytes = 32 * 1024
)

// MinimumPrefixBytes returns the number of leading bytes required to
// fingerprint a file of the given name, based purely on its extension.
func MinimumPrefixBytes(path string) int64 {
	if isFlacPath(path) {
		return flacPrefixBytes
	}
	return nonFlacPrefixBytes
}

func isFlacPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".flac")
}

// Fingerprint computes the canonical fingerprint of a file given a leading
// byte prefix (of at least MinimumPrefixBytes(path) bytes, capped by the
// file's actual size) and the file's declared size. It returns the kind of
// fingerprint produced, the raw fingerprint bytes, and codec hints when
// available.
func Fingerprint(prefix []byte, path string, size int64) (types.FingerprintKind, []byte, *types.CodecMeta, error) {
	if isFlacPath(path) {
		return fingerprintFlac(prefix)
	}
	return fingerprintSha256Prefix(prefix, size)
}

func fingerprintFlac(prefix []byte) (types.FingerprintKind, []byte, *types.CodecMeta, error) {
	stream, err := flac.New(bytes.NewReader(prefix))
	// flac.New only returns a nil *Stream when the STREAMINFO block itself
	// failed to parse. A non-nil stream with an error means STREAMINFO was
	// read fine but a later metadata block (e.g. embedded art) ran past our
	// bounded prefix while being skipped — irrelevant to fingerprinting.
	if stream == nil || stream.Info == nil {
		return "", nil, nil, types.WrapError(types.ErrMalformedHeader, "parsing FLAC stream header", err)
	}
	info := stream.Info

	md5 := make([]byte, len(info.MD5sum))
	copy(md5, info.MD5sum[:])

	meta := &types.CodecMeta{
		SampleRate:      info.SampleRate,
		Channels:        uint8(info.NChannels),
		BitsPerSample:   uint8(info.BitsPerSample),
		DurationSamples: info.NSamples,
	}

	return types.KindFlacStreamInfoMD5, md5, meta, nil
}

func fingerprintSha256Prefix(prefix []byte, size int64) (types.FingerprintKind, []byte, *types.CodecMeta, error) {
	n := nonFlacPrefixBytes
	if size >= 0 && size < int64(n) {
		n = int(size)
	}
	if n > len(prefix) {
		n = len(prefix)
	}

	h := sha256.New()
	if _, err := io.Copy(h, bytes.NewReader(prefix[:n])); err != nil {
		return "", nil, nil, types.WrapError(types.ErrTransportError, "hashing prefix", err)
	}
	return types.KindSha256Prefix, h.Sum(nil), nil, nil
}
