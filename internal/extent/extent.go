// Package extent implements the multi-extent virtual address space: a base
// file plus numbered overflow siblings (name00001.ext, name00002.ext, ...)
// exposed as a single monotonic byte address space.
package extent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/scigolib/cmp/internal/utils"
)

// extent is one physical file contributing a contiguous slice of the
// virtual address space.
type extent struct {
	file  *os.File
	start int64 // inclusive, in the virtual address space
	size  int64
}

// Set is the virtual contiguous address space over a base file and its
// numbered siblings. It is the sole owner of the underlying file handles.
type Set struct {
	extents []extent
	total   int64
}

// Open opens the base file at path, then opens numbered siblings
// "<stem>00001<ext>", "<stem>00002<ext>", ... as long as such files exist
// and the accumulated virtual size is still below targetSize.
func Open(path string, targetSize int64) (*Set, error) {
	base, err := os.Open(path) //nolint:gosec // G304: caller-provided container path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, utils.Wrap(utils.KindNotFound, "opening base extent "+path, err)
		}
		return nil, utils.WrapError("opening base extent "+path, err)
	}

	fi, err := base.Stat()
	if err != nil {
		_ = base.Close()
		return nil, utils.WrapError("stat of base extent "+path, err)
	}

	s := &Set{}
	s.extents = append(s.extents, extent{file: base, start: 0, size: fi.Size()})
	s.total = fi.Size()

	if s.total >= targetSize {
		return s, nil
	}

	dir := filepath.Dir(path)
	base2 := filepath.Base(path)
	ext := filepath.Ext(base2)
	stem := strings.TrimSuffix(base2, ext)

	for n := 1; s.total < targetSize; n++ {
		candidate := fmt.Sprintf("%s%05d%s", stem, n, ext)
		matches, globErr := doublestar.Glob(os.DirFS(dir), candidate)
		if globErr != nil || len(matches) == 0 {
			break
		}
		sort.Strings(matches)

		siblingPath := filepath.Join(dir, matches[0])
		f, openErr := os.Open(siblingPath) //nolint:gosec // G304: path built from the discovered container's own siblings
		if openErr != nil {
			break
		}
		sfi, statErr := f.Stat()
		if statErr != nil {
			_ = f.Close()
			break
		}

		s.extents = append(s.extents, extent{file: f, start: s.total, size: sfi.Size()})
		s.total += sfi.Size()
	}

	return s, nil
}

// Close releases all extent file handles, even if some opened successfully
// and later ones failed.
func (s *Set) Close() error {
	var firstErr error
	for _, e := range s.extents {
		if err := e.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Size returns the total virtual address space size across all extents.
func (s *Set) Size() int64 {
	return s.total
}

// find returns the index of the extent containing absolute offset off, via
// binary search over cumulative start offsets.
func (s *Set) find(off int64) (int, bool) {
	i := sort.Search(len(s.extents), func(i int) bool {
		return s.extents[i].start+s.extents[i].size > off
	})
	if i >= len(s.extents) || off < s.extents[i].start {
		return 0, false
	}
	return i, true
}

// ReadFully copies len(dst) bytes starting at abs_offset, crossing extent
// boundaries transparently. Fails with ShortRead if insufficient bytes
// remain in the address space.
func (s *Set) ReadFully(absOffset int64, dst []byte) error {
	if absOffset < 0 || absOffset >= s.total {
		return utils.New(utils.KindOutOfRange, fmt.Sprintf("offset %d outside address space [0,%d)", absOffset, s.total))
	}

	remaining := dst
	pos := absOffset

	for len(remaining) > 0 {
		idx, ok := s.find(pos)
		if !ok {
			return utils.New(utils.KindShortRead, fmt.Sprintf("read at %d: only %d of %d bytes available", absOffset, len(dst)-len(remaining), len(dst)))
		}

		e := s.extents[idx]
		localOff := pos - e.start
		avail := e.size - localOff
		n := int64(len(remaining))
		if n > avail {
			n = avail
		}

		if _, err := e.file.ReadAt(remaining[:n], localOff); err != nil {
			return utils.Wrap(utils.KindShortRead, fmt.Sprintf("reading extent %d at local offset %d", idx, localOff), err)
		}

		remaining = remaining[n:]
		pos += n
	}

	return nil
}

// ReadAt implements io.ReaderAt (and utils.ReaderAt) over the virtual
// address space, so single-value decoders like utils.ReadUint64 can pull
// individual fields without the caller pre-slicing a buffer.
func (s *Set) ReadAt(p []byte, off int64) (int, error) {
	if err := s.ReadFully(off, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Slice returns a byte view of [absOffset, absOffset+length). When the
// range lies entirely within one extent, callers should prefer ReadAt-style
// access; Slice always allocates to keep the returned buffer independent of
// extent lifetime (file handles close on Set.Close, a []byte view cannot).
func (s *Set) Slice(absOffset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if err := s.ReadFully(absOffset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
