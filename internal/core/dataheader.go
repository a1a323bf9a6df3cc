package core

import (
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/scigolib/cmp/internal/extent"
	"github.com/scigolib/cmp/internal/utils"
)

// DataHeader is the fixed-size block at hdr_pos. The only field this
// reader surfaces from it is a free-text descriptor some producers store
// as a BOM-prefixed UTF-16 string; everything else in the block is
// producer-specific and out of scope.
type DataHeader struct {
	raw []byte
}

// ReadDataHeader loads the hdr_len bytes at hdr_pos.
func ReadDataHeader(es *extent.Set, hdr *FileHeader) (*DataHeader, error) {
	buf, err := es.Slice(int64(hdr.HeaderPos), int(hdr.HeaderLen)) //nolint:gosec // G115: bounded by header validation
	if err != nil {
		return nil, utils.Wrap(utils.KindShortRead, "reading data header", err)
	}
	return &DataHeader{raw: buf}, nil
}

// Descriptor decodes a BOM-prefixed UTF-16 string from the start of the
// data header block, if one is present. Returns "", false if the block
// does not begin with a recognized BOM.
func (d *DataHeader) Descriptor() (string, bool) {
	if len(d.raw) < 2 {
		return "", false
	}

	var enc unicode.Encoding
	switch {
	case d.raw[0] == 0xFE && d.raw[1] == 0xFF:
		enc = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
	case d.raw[0] == 0xFF && d.raw[1] == 0xFE:
		enc = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)
	default:
		return "", false
	}

	out, _, err := transform.Bytes(enc.NewDecoder(), d.raw)
	if err != nil {
		return "", false
	}

	return nullTerminated(string(out)), true
}

// nullTerminated trims a decoded descriptor at its first NUL, since the
// surrounding block is fixed-size and pads with zero bytes/runes.
func nullTerminated(s string) string {
	for i, r := range s {
		if r == 0 {
			return s[:i]
		}
	}
	return s
}
