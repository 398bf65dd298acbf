// Package tags implements the external collaborator named in SPEC_FULL.md
// §1: a pure function from a local file path to an optional ISRC code,
// read from the audio file's embedded tags. It never touches the network
// or the Store; the Resolver is the only consumer.
package tags

import (
	"os"
	"strings"

	"github.com/dhowden/tag"
)

// Reader extracts ISRC codes from audio file tags. Defined as a narrow
// interface at the Resolver's consumption point so tests can substitute a
// fake without touching the filesystem.
type Reader interface {
	ReadISRC(path string) (string, bool)
}

// FileReader is the default Reader, backed by github.com/dhowden/tag.
type FileReader struct{}

// NewFileReader constructs the default tag-based ISRC reader.
func NewFileReader() FileReader { return FileReader{} }

// ReadISRC opens path and extracts an ISRC from its tags, if present.
// Most audio containers expose ISRC only through format-specific custom
// frames that the generic tag.Metadata interface does not surface
// uniformly; dhowden/tag exposes these via Raw(), keyed by frame ID
// ("TSRC" for ID3v2, "ISRC" for Vorbis comments / FLAC).
func (FileReader) ReadISRC(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", false
	}

	raw := m.Raw()

	for _, key := range []string{"TSRC", "ISRC", "isrc"} {
		if v, ok := raw[key]; ok {
			if s, ok := normalizeISRC(v); ok {
				return s, true
			}
		}
	}

	return "", false
}

func normalizeISRC(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}

	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != isrcLength {
		return "", false
	}

	return s, true
}

// isrcLength is the fixed length of a well-formed ISRC code (two-letter
// country, three-alphanumeric registrant, two-digit year, five-digit
// designation).
const isrcLength = 12
