package core

import (
	"fmt"

	"github.com/scigolib/cmp/internal/extent"
	"github.com/scigolib/cmp/internal/utils"
)

// OffsetTable is the dense 3D-to-linear index of absolute segment-record
// offsets. Linear index = i3*n1*n2 + i2*n1 + i1 (axis 3 is slowest). A
// value of 0 marks an empty segment.
type OffsetTable struct {
	N1, N2, N3 uint32
	entries    []uint64
}

// maxOffsetTableBytes caps the allocation LoadOffsetTable will attempt: the
// same billion-segment ceiling the header's own plausibility scoring treats
// as implausible, times 8 bytes per entry.
const maxOffsetTableBytes = 1_000_000_000 * 8

// LoadOffsetTable reads n1*n2*n3 64-bit offsets starting at base from the
// given address space, under the detected byte order.
func LoadOffsetTable(es *extent.Set, hdr *FileHeader) (*OffsetTable, error) {
	n1, n2, n3 := hdr.N1(), hdr.N2(), hdr.N3()
	count, err := utils.ExtentCount(n1, n2, n3)
	if err != nil {
		return nil, utils.Wrap(utils.KindInconsistentHeader, "computing offset table size", err)
	}

	byteLen, err := utils.SafeMultiply(count, 8)
	if err != nil {
		return nil, utils.Wrap(utils.KindInconsistentHeader, "offset table byte length overflow", err)
	}

	if err := utils.ValidateBufferSize(byteLen, maxOffsetTableBytes, "offset table"); err != nil {
		return nil, utils.Wrap(utils.KindInconsistentHeader, "offset table size", err)
	}

	buf, err := es.Slice(int64(hdr.OffsetTableBase), int(byteLen)) //nolint:gosec // G115: bounded by file size
	if err != nil {
		return nil, utils.Wrap(utils.KindShortRead, "reading offset table", err)
	}

	entries := make([]uint64, count)
	for i := range entries {
		entries[i] = hdr.ByteOrder.Uint64(buf[i*8:])
	}

	return &OffsetTable{N1: n1, N2: n2, N3: n3, entries: entries}, nil
}

// LinearIndex maps normalized (0-based) coordinates to the linear index
// into the table, bijective onto [0, n1*n2*n3) for i1<n1, i2<n2, i3<n3.
func (t *OffsetTable) LinearIndex(i1, i2, i3 uint32) (int, error) {
	if i1 >= t.N1 || i2 >= t.N2 || i3 >= t.N3 {
		return 0, utils.New(utils.KindOutOfRange, fmt.Sprintf("coordinate (%d,%d,%d) outside [0,%d)x[0,%d)x[0,%d)", i1, i2, i3, t.N1, t.N2, t.N3))
	}
	idx := uint64(i3)*uint64(t.N1)*uint64(t.N2) + uint64(i2)*uint64(t.N1) + uint64(i1)
	return int(idx), nil
}

// EntryAt returns the raw offset-table value at a linear index.
func (t *OffsetTable) EntryAt(idx int) uint64 {
	return t.entries[idx]
}

// Len returns the number of entries (n1*n2*n3).
func (t *OffsetTable) Len() int {
	return len(t.entries)
}

// FirstNonEmpty returns the linear index of the first entry whose offset
// is > 0, scanning in index order.
func (t *OffsetTable) FirstNonEmpty() (int, bool) {
	for i, v := range t.entries {
		if v > 0 {
			return i, true
		}
	}
	return 0, false
}

// NonEmpty returns the linear indices of every non-empty entry, in index
// order.
func (t *OffsetTable) NonEmpty() []int {
	var out []int
	for i, v := range t.entries {
		if v > 0 {
			out = append(out, i)
		}
	}
	return out
}
