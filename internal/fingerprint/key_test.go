package fingerprint

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases and keeps extension", "Track.FLAC", "track.flac"},
		{"strips directory components", "/music/Artist/Track.flac", "track.flac"},
		{"strips numeric track prefix with dot", "03. Intro.flac", "intro.flac"},
		{"strips numeric track prefix with space", "03 Intro.flac", "intro.flac"},
		{"strips bracketed remaster tag", "Song (Remaster).flac", "song.flac"},
		{"strips bracketed flac tag", "Song [FLAC].flac", "song.flac"},
		{"collapses whitespace", "Song   Title.flac", "song title.flac"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"03. Intro (Remaster) [FLAC].flac", "plain.mp3", "/a/b/C.FLAC"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestKeyDeterministicAndSizeSensitive(t *testing.T) {
	k1 := Key("Track.flac", 1000)
	k2 := Key("Track.flac", 1000)
	k3 := Key("Track.flac", 2000)

	if k1 != k2 {
		t.Error("Key() not deterministic for identical inputs")
	}
	if k1 == k3 {
		t.Error("Key() should differ when size differs")
	}
	if len(k1) != 64 {
		t.Errorf("Key() length = %d, want 64 (hex sha256)", len(k1))
	}
}

func TestMinimumPrefixBytes(t *testing.T) {
	if n := MinimumPrefixBytes("track.flac"); n != flacPrefixBytes {
		t.Errorf("MinimumPrefixBytes(flac) = %d, want %d", n, flacPrefixBytes)
	}
	if n := MinimumPrefixBytes("track.mp3"); n != nonFlacPrefixBytes {
		t.Errorf("MinimumPrefixBytes(mp3) = %d, want %d", n, nonFlacPrefixBytes)
	}
}
