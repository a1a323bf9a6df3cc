// Package cmp provides a pure Go reader for CMP binary containers: a
// header with auto-detected byte order, a multi-extent virtual address
// space, an offset-indexed grid of segment records, and canonical
// Huffman-coded payload bitstreams.
package cmp

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/cmp/internal/bitio"
	"github.com/scigolib/cmp/internal/core"
	"github.com/scigolib/cmp/internal/extent"
	"github.com/scigolib/cmp/internal/huffman"
	"github.com/scigolib/cmp/internal/utils"
)

// Coord is a 3D segment coordinate in the container's own (possibly
// negative) index space, as published by the file header's Min/Max bounds.
type Coord struct {
	I1, I2, I3 int32
}

// Reader is an open CMP container. It owns the address space's file
// handles; callers must Close it.
type Reader struct {
	es     *extent.Set
	header *core.FileHeader
	table  *core.OffsetTable
	dh     *core.DataHeader
	closed bool
}

// Open reads the file header (auto-detecting byte order and offset-table
// base), loads the offset table, and returns a ready Reader. The virtual
// address space is opened first just enough to read the header, then
// re-opened to cover rec_pos_1, and re-opened once more if the offset table
// references a record beyond that, pulling in whatever numbered extents
// that takes.
func Open(path string) (*Reader, error) {
	probe, err := extent.Open(path, core.FileHeaderSize)
	if err != nil {
		return nil, err
	}

	hdrBuf, err := probe.Slice(0, core.FileHeaderSize)
	if err != nil {
		_ = probe.Close()
		return nil, utils.Wrap(utils.KindShortRead, "reading file header", err)
	}

	hdr, err := core.DetectByteOrder(hdrBuf, probe.Size())
	if err != nil {
		_ = probe.Close()
		return nil, err
	}
	_ = probe.Close()

	es, err := extent.Open(path, int64(hdr.RecPos1))
	if err != nil {
		return nil, err
	}

	base, err := core.SelectOffsetTableBase(es, hdr)
	if err != nil {
		_ = es.Close()
		return nil, err
	}
	hdr.OffsetTableBase = base

	table, err := core.LoadOffsetTable(es, hdr)
	if err != nil {
		_ = es.Close()
		return nil, err
	}

	if maxOff := maxEntry(table); maxOff > 0 {
		wanted := int64(maxOff) + core.RecordSize
		if wanted > es.Size() {
			_ = es.Close()
			es, err = extent.Open(path, wanted)
			if err != nil {
				return nil, err
			}
		}
	}

	dh, err := core.ReadDataHeader(es, hdr)
	if err != nil {
		_ = es.Close()
		return nil, err
	}

	return &Reader{es: es, header: hdr, table: table, dh: dh}, nil
}

// Descriptor returns the data header's BOM-prefixed UTF-16 descriptor
// string, if the producer stored one.
func (r *Reader) Descriptor() (string, bool) {
	return r.dh.Descriptor()
}

func maxEntry(table *core.OffsetTable) uint64 {
	var max uint64
	for _, idx := range table.NonEmpty() {
		if v := table.EntryAt(idx); v > max {
			max = v
		}
	}
	return max
}

// Close releases the container's file handles. Calls after the first
// return nil.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.es.Close()
}

// ByteOrder returns the auto-detected byte order.
func (r *Reader) ByteOrder() binary.ByteOrder {
	return r.header.ByteOrder
}

// Dimensions returns the inclusive segment-coordinate ranges of the grid,
// as [min, max] pairs per axis, as published by the file header.
func (r *Reader) Dimensions() (min1, max1, min2, max2, min3, max3 int32) {
	h := r.header
	return h.Min1, h.Max1, h.Min2, h.Max2, h.Min3, h.Max3
}

// HeaderOffsets returns the positions the header parser detected:
// offset-table position and base, data-header position, and the first
// two record positions.
func (r *Reader) HeaderOffsets() (offsetTablePos, offsetTableBase, headerPos, recPos0, recPos1 uint64) {
	h := r.header
	return h.OffsetTablePos, h.OffsetTableBase, h.HeaderPos, h.RecPos0, h.RecPos1
}

func (r *Reader) normalize(c Coord) (uint32, uint32, uint32) {
	h := r.header
	return uint32(c.I1 - h.Min1), uint32(c.I2 - h.Min2), uint32(c.I3 - h.Min3)
}

// coordAt converts a linear index back into a published Coord.
func (r *Reader) coordAt(idx int) Coord {
	h := r.header
	n1, n2 := int(h.N1()), int(h.N2())
	i1 := idx % n1
	rest := idx / n1
	i2 := rest % n2
	i3 := rest / n2
	return Coord{
		I1: int32(i1) + h.Min1,
		I2: int32(i2) + h.Min2,
		I3: int32(i3) + h.Min3,
	}
}

// FindFirstNonEmpty returns the first populated segment in index order.
func (r *Reader) FindFirstNonEmpty() (Coord, bool) {
	idx, ok := r.table.FirstNonEmpty()
	if !ok {
		return Coord{}, false
	}
	return r.coordAt(idx), true
}

// ListNonEmptySegments returns every populated segment, in index order.
func (r *Reader) ListNonEmptySegments() []Coord {
	idxs := r.table.NonEmpty()
	out := make([]Coord, len(idxs))
	for i, idx := range idxs {
		out[i] = r.coordAt(idx)
	}
	return out
}

// ProbeSegment reports whether a segment is populated without reading or
// parsing its record.
func (r *Reader) ProbeSegment(c Coord) (bool, error) {
	i1, i2, i3 := r.normalize(c)
	idx, err := r.table.LinearIndex(i1, i2, i3)
	if err != nil {
		return false, err
	}
	return r.table.EntryAt(idx) > 0, nil
}

// segmentOffset resolves a coordinate to its absolute record offset,
// returning EmptySegment if the table entry is zero.
func (r *Reader) segmentOffset(c Coord) (uint64, error) {
	i1, i2, i3 := r.normalize(c)
	idx, err := r.table.LinearIndex(i1, i2, i3)
	if err != nil {
		return 0, err
	}
	off := r.table.EntryAt(idx)
	if off == 0 {
		return 0, utils.New(utils.KindEmptySegment, fmt.Sprintf("segment (%d,%d,%d) has no record", c.I1, c.I2, c.I3))
	}
	return off, nil
}

// ReadSegment reads and parses the first record of a populated segment.
func (r *Reader) ReadSegment(c Coord) (*core.SegmentRecord, uint64, error) {
	off, err := r.segmentOffset(c)
	if err != nil {
		return nil, 0, err
	}

	buf, err := r.es.Slice(int64(off), core.RecordSize) //nolint:gosec // G115: bounded by offset table contents
	if err != nil {
		return nil, 0, utils.Wrap(utils.KindShortRead, fmt.Sprintf("reading record at %d", off), err)
	}

	rec, err := core.ParseSegmentRecord(buf, r.header.ByteOrder, off)
	if err != nil {
		return nil, 0, err
	}
	return rec, off, nil
}

// AssemblePayload concatenates the bitstream for a segment whose first
// record and absolute offset were already obtained from ReadSegment.
func (r *Reader) AssemblePayload(rec *core.SegmentRecord, recordOffset uint64) (*core.AssembledPayload, error) {
	return core.AssemblePayload(r.es, rec, recordOffset)
}

// DecodeSymbols returns a lazy iterator over the canonical Huffman symbols
// in an assembled payload, using the record's detected table and bit
// configuration.
func (r *Reader) DecodeSymbols(rec *core.SegmentRecord, payload *core.AssembledPayload) (*huffman.SymbolIterator, error) {
	dec, err := huffman.NewDecoder(rec.Symbols, rec.Lengths, false, false)
	if err != nil {
		return nil, err
	}
	br := bitio.NewReader(payload.Data, int(rec.RequiredBits), rec.DetectedBitConfig)
	return dec.Iterator(br), nil
}
