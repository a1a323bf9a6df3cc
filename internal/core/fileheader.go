// Package core implements the CMP container's format parsers: the file
// header (with byte-order and offset-table-base auto-detection), the
// offset table, segment records, and multi-record payload assembly.
package core

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/cmp/internal/extent"
	"github.com/scigolib/cmp/internal/utils"
)

// FileHeaderSize is the fixed size of the file header.
const FileHeaderSize = 1024

// DataHeaderSize is the fixed size of the data header.
const DataHeaderSize = 4120

// DefaultRecordLen is the canonical segment-record size; a header that
// stores rec_len as zero is normalized to this value.
const DefaultRecordLen = 8192

// FileHeader holds the validated, byte-order-resolved fields of the fixed
// 1024-byte file header.
type FileHeader struct {
	Dirty   uint32
	Ident   uint32
	Version uint32

	OffsetTablePos uint64 // ot_pos
	HeaderPos      uint64 // hdr_pos
	RecPos0        uint64
	RecPos1        uint64

	HeaderLen uint32
	RecordLen uint32

	Min1, Max1 int32
	Min2, Max2 int32
	Min3, Max3 int32

	Fast, Middle, Slow uint32

	ByteOrder binary.ByteOrder

	// OffsetTableBase is filled in by SelectOffsetTableBase once the full
	// address space (and thus the offset table contents) is available.
	OffsetTableBase uint64
}

// N1, N2, N3 return the inclusive-range dimension counts.
func (h *FileHeader) N1() uint32 { return uint32(h.Max1-h.Min1) + 1 }
func (h *FileHeader) N2() uint32 { return uint32(h.Max2-h.Min2) + 1 }
func (h *FileHeader) N3() uint32 { return uint32(h.Max3-h.Min3) + 1 }

// field offsets within the 1024-byte header. Chosen to be dense and
// byte-order-symmetric; the fixed layout is this reader's own, since the
// source format's true byte offsets are not part of the public contract.
const (
	offDirty   = 0
	offIdent   = 4
	offVersion = 8
	// 12:16 reserved
	offOtPos    = 16
	offHdrPos   = 24
	offRecPos0  = 32
	offRecPos1  = 40
	offHdrLen   = 48
	offRecLen   = 52
	offMin1     = 56
	offMax1     = 60
	offMin2     = 64
	offMax2     = 68
	offMin3     = 72
	offMax3     = 76
	offFast     = 80
	offMiddle   = 84
	offSlow     = 88
)

func parseHeaderFields(buf []byte, order binary.ByteOrder) *FileHeader {
	return &FileHeader{
		Dirty:          order.Uint32(buf[offDirty:]),
		Ident:          order.Uint32(buf[offIdent:]),
		Version:        order.Uint32(buf[offVersion:]),
		OffsetTablePos: order.Uint64(buf[offOtPos:]),
		HeaderPos:      order.Uint64(buf[offHdrPos:]),
		RecPos0:        order.Uint64(buf[offRecPos0:]),
		RecPos1:        order.Uint64(buf[offRecPos1:]),
		HeaderLen:      order.Uint32(buf[offHdrLen:]),
		RecordLen:      order.Uint32(buf[offRecLen:]),
		Min1:           int32(order.Uint32(buf[offMin1:])),
		Max1:           int32(order.Uint32(buf[offMax1:])),
		Min2:           int32(order.Uint32(buf[offMin2:])),
		Max2:           int32(order.Uint32(buf[offMax2:])),
		Min3:           int32(order.Uint32(buf[offMin3:])),
		Max3:           int32(order.Uint32(buf[offMax3:])),
		Fast:           order.Uint32(buf[offFast:]),
		Middle:         order.Uint32(buf[offMiddle:]),
		Slow:           order.Uint32(buf[offSlow:]),
		ByteOrder:      order,
	}
}

// score applies the §4.1 plausibility table to a parsed candidate, against
// the currently known address-space size (the base extent's size at the
// point the header is read, before the full multi-extent set is opened).
func (h *FileHeader) score(knownSize int64) int {
	score := 0

	if h.OffsetTablePos < uint64(knownSize) {
		score += 2
	}
	if h.HeaderPos > h.OffsetTablePos && h.HeaderPos < uint64(knownSize) {
		score += 2
	}
	if h.RecPos0 > h.HeaderPos && h.RecPos0 < uint64(knownSize) {
		score += 2
	}
	// "within extent budget": a practical stand-in for the not-yet-opened
	// multi-extent total, since the budget itself is derived from RecPos1.
	const sanityCeiling = uint64(1) << 48
	if h.RecPos1 > h.RecPos0 && h.RecPos1 < sanityCeiling {
		score += 2
	}

	recLen := h.RecordLen
	if recLen == 0 {
		recLen = DefaultRecordLen
	}
	if recLen == DefaultRecordLen {
		score += 2
	}

	if h.HeaderLen >= 1024 && h.HeaderLen <= 65536 {
		score++
	}

	n1, n2, n3 := h.N1(), h.N2(), h.N3()
	count, err := utils.ExtentCount(n1, n2, n3)
	if err == nil && count > 0 && count < 1_000_000_000 {
		score += 2
	}

	candidateA := h.OffsetTablePos + count*8 + uint64(h.HeaderLen)
	candidateB := h.OffsetTablePos + 8 + count*8 + uint64(h.HeaderLen)
	if absDiffU64(h.RecPos0, candidateA) <= 32 || absDiffU64(h.RecPos0, candidateB) <= 32 {
		score += 3
	}

	return score
}

func absDiffU64(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// DetectByteOrder parses the 1024-byte header buffer under both byte
// orders, scores each candidate per §4.1, and returns the winner. Ties
// favor big-endian. Fails with BadMagic if both candidates score <= 0.
func DetectByteOrder(buf []byte, knownSize int64) (*FileHeader, error) {
	if len(buf) < FileHeaderSize {
		return nil, utils.New(utils.KindShortRead, fmt.Sprintf("file header buffer too small: %d bytes", len(buf)))
	}

	be := parseHeaderFields(buf, binary.BigEndian)
	le := parseHeaderFields(buf, binary.LittleEndian)

	beScore := be.score(knownSize)
	leScore := le.score(knownSize)

	if beScore <= 0 && leScore <= 0 {
		return nil, utils.New(utils.KindBadMagic, fmt.Sprintf("both byte orders scored <= 0 (be=%d, le=%d)", beScore, leScore))
	}

	winner := be
	if leScore > beScore {
		winner = le
	}

	if winner.RecordLen == 0 {
		winner.RecordLen = DefaultRecordLen
	}

	if err := winner.validate(knownSize); err != nil {
		return nil, err
	}

	return winner, nil
}

// validate checks the positional invariants from spec §3 on the chosen
// candidate.
func (h *FileHeader) validate(knownSize int64) error {
	if h.OffsetTablePos < FileHeaderSize {
		return utils.New(utils.KindInconsistentHeader, fmt.Sprintf("ot_pos %d < %d", h.OffsetTablePos, FileHeaderSize))
	}
	if h.HeaderPos <= h.OffsetTablePos {
		return utils.New(utils.KindInconsistentHeader, fmt.Sprintf("hdr_pos %d <= ot_pos %d", h.HeaderPos, h.OffsetTablePos))
	}
	if h.RecPos0 < h.HeaderPos {
		return utils.New(utils.KindInconsistentHeader, fmt.Sprintf("rec_pos_0 %d < hdr_pos %d", h.RecPos0, h.HeaderPos))
	}
	if h.RecPos1 <= h.RecPos0 {
		return utils.New(utils.KindInconsistentHeader, fmt.Sprintf("rec_pos_1 %d <= rec_pos_0 %d", h.RecPos1, h.RecPos0))
	}
	if h.N1() == 0 || h.N2() == 0 || h.N3() == 0 {
		return utils.New(utils.KindInconsistentHeader, "dimension count must be positive")
	}
	return nil
}

// SelectOffsetTableBase implements §4.1's offset-table-base selection: it
// probes ot_pos and ot_pos+8, samples the first and last 16 entries of
// each candidate table, and scores by how many sampled entries are either
// 0 or point before rec_pos_1 (i.e. look like plausible offsets or empty
// markers rather than header garbage).
func SelectOffsetTableBase(es *extent.Set, h *FileHeader) (uint64, error) {
	count, err := utils.ExtentCount(h.N1(), h.N2(), h.N3())
	if err != nil {
		return 0, utils.Wrap(utils.KindInconsistentHeader, "computing n1*n2*n3", err)
	}

	scoreBase := func(base uint64) int {
		indices := sampleIndices(count)
		score := 0
		for _, idx := range indices {
			off := int64(base) + int64(idx)*8 //nolint:gosec // G115: offsets bounded by file size
			v, readErr := utils.ReadUint64(es, off, h.ByteOrder)
			if readErr != nil {
				continue
			}
			if v == 0 || v < h.RecPos1 {
				score++
			}
		}
		return score
	}

	baseA := h.OffsetTablePos
	baseB := h.OffsetTablePos + 8

	scoreA := scoreBase(baseA)
	scoreB := scoreBase(baseB)

	chosen := baseA
	if scoreB > scoreA {
		chosen = baseB
	}

	other := baseB
	if chosen == baseB {
		other = baseA
	}

	threshold := chosen + count*8 + uint64(h.HeaderLen)
	if threshold >= 64 && h.RecPos0 < threshold-64 {
		chosen = other
	}

	return chosen, nil
}

// sampleIndices returns up to the first 16 and last 16 indices of [0, n).
func sampleIndices(n uint64) []uint64 {
	if n == 0 {
		return nil
	}
	if n <= 32 {
		out := make([]uint64, n)
		for i := range out {
			out[i] = uint64(i)
		}
		return out
	}

	out := make([]uint64, 0, 32)
	for i := uint64(0); i < 16; i++ {
		out = append(out, i)
	}
	for i := n - 16; i < n; i++ {
		out = append(out, i)
	}
	return out
}
