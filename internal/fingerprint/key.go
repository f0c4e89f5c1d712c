package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// normalizeVersion is stamped into nothing externally visible today, but
// documents that Normalize is a versioned, deterministic transform: changing
// its rules changes every Key() it feeds, so a future revision needs to be
// able to tell old keys from new ones if that ever matters.
const normalizeVersion = 1

var (
	trackPrefixRe = regexp.MustCompile(`^\d{1,3}[.\-_ ]+`)
	bracketTagRe  = regexp.MustCompile(`(?i)[\[(](remaster(ed)?|flac|deluxe|bonus|explicit)[^\])]*[\])]`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes a filename for use in a fingerprint key: lowercase,
// strip directory components, drop leading track-index prefixes ("03 ",
// "03. ", "03_"), drop bracketed mastering-variant tags, collapse whitespace,
// and preserve the extension. It is pure and idempotent:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(name string) string {
	base := path.Base(toSlash(name))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	stem = strings.ToLower(stem)
	stem = trackPrefixRe.ReplaceAllString(stem, "")
	stem = bracketTagRe.ReplaceAllString(stem, "")
	stem = whitespaceRe.ReplaceAllString(stem, " ")
	stem = strings.TrimSpace(stem)

	return stem + strings.ToLower(ext)
}

// toSlash avoids importing path/filepath solely for ToSlash; both '/' and
// '\' delimited inputs are expected since filenames arrive from peers on
// possibly different OSes.
func toSlash(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// Key derives a FingerprintEntry's content-addressed lookup key from a
// basename and size: hex(SHA-256(normalize(basename) + ":" + size)).
func Key(basename string, size int64) string {
	payload := fmt.Sprintf("%s:%d", Normalize(basename), size)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// NormalizeVersion reports the version of the Normalize transform in effect,
// for callers that persist it alongside derived keys.
func NormalizeVersion() int { return normalizeVersion }
