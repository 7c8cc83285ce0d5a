package image

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/willibrandon/chronockpt/pkg/memtrace"
)

// PageEntryLen is the size of one page in a page file: the touched bitmap
// followed by the frozen content.
const PageEntryLen = memtrace.BitmapSize + memtrace.PageSize

// Page is the content of one page of the restored address space.
type Page struct {
	Addr uint64
	Data []byte
	// Touched is the number of bytes the tracer observed; the rest of Data
	// is zero.
	Touched int
}

// AppendPage appends the page file entry of rec to dst.
func AppendPage(dst []byte, rec *memtrace.PageRecord) []byte {
	dst = rec.AppendBitmap(dst)
	return append(dst, rec.Data[:]...)
}

// WritePages writes the entries of the given pages of t in order.
func WritePages(w io.Writer, t *memtrace.Tracer, pns []uint64) error {
	buf := make([]byte, 0, PageEntryLen)
	for _, pn := range pns {
		rec := t.Page(pn)
		if rec == nil {
			return errors.Errorf("image: page %#x has no record", pn)
		}
		if _, err := w.Write(AppendPage(buf[:0], rec)); err != nil {
			return errors.Wrap(err, "image: write pages")
		}
	}
	return nil
}

// ReadPages reads the entries for pns from a page file.
func ReadPages(r io.ReaderAt, pns []uint64) ([]Page, error) {
	pages := make([]Page, 0, len(pns))
	var rec memtrace.PageRecord
	buf := make([]byte, PageEntryLen)
	for i, pn := range pns {
		if err := readFull(r, buf, int64(i)*PageEntryLen); err != nil {
			return nil, errors.Wrapf(err, "image: read page %#x", pn)
		}
		rec.SetBitmap(buf[:memtrace.BitmapSize])
		pages = append(pages, Page{
			Addr:    pn << memtrace.PageShift,
			Data:    slices.Clone(buf[memtrace.BitmapSize:]),
			Touched: rec.Count(),
		})
	}
	SortPages(pages)
	return pages, nil
}

// SortPages orders pages by address.
func SortPages(pages []Page) {
	slices.SortFunc(pages, func(a, b Page) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})
}
