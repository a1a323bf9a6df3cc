package core

import (
	"github.com/scigolib/cmp/internal/extent"
)

// AssembledPayload is the concatenated bitstream for one segment: the
// record's own payload slice followed by as many whole subsequent records
// as are needed to reach RequiredBits, truncated to the exact byte count.
type AssembledPayload struct {
	Data      []byte
	Truncated bool // true if the address space ran out before reaching the required size
}

// AssemblePayload implements §4.4: given the already-parsed first record
// of a segment and its absolute file offset, it walks forward through
// subsequent whole 8192-byte records (without parsing their own metadata
// or Huffman tables — only the first record's table governs decoding) to
// collect rec.RequiredBits worth of bitstream bytes.
func AssemblePayload(es *extent.Set, rec *SegmentRecord, recordOffset uint64) (*AssembledPayload, error) {
	requiredBytes := int((rec.RequiredBits + 7) / 8)

	out := make([]byte, 0, requiredBytes)
	out = append(out, rec.PayloadSlice...)

	next := recordOffset + RecordSize
	for len(out) < requiredBytes {
		chunk, err := es.Slice(int64(next), RecordSize) //nolint:gosec // G115: bounded by extent size
		if err != nil {
			return &AssembledPayload{Data: truncate(out, requiredBytes), Truncated: true}, nil
		}
		out = append(out, chunk...)
		next += RecordSize
	}

	return &AssembledPayload{Data: truncate(out, requiredBytes), Truncated: false}, nil
}

func truncate(buf []byte, n int) []byte {
	if len(buf) <= n {
		return buf
	}
	return buf[:n]
}
