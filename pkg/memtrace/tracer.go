// Package memtrace tracks, page by page, which bytes of a simulated address
// space have been observed since tracing began and what they held at that
// moment. It sits on the simulator's retirement path, so every operation is
// a constant number of map lookups.
package memtrace

import (
	"golang.org/x/exp/slices"
)

const storeSlots = 256

// Store is an entry of the recent-store table.
type Store struct {
	Addr uint64
	Size int
}

// Tracer owns every PageRecord and ExecRecord of a run. Records are created
// on first reference and released together by Reset.
type Tracer struct {
	pageIdx map[uint64]int32
	pages   arena[PageRecord]
	execIdx map[uint64]int32
	execs   arena[ExecRecord]

	// one-entry lookup cache, most accesses hit the same page
	lastPN   uint64
	lastPage *PageRecord

	stores [storeSlots]Store
}

// New returns an empty tracer.
func New() *Tracer {
	return &Tracer{
		pageIdx: make(map[uint64]int32),
		execIdx: make(map[uint64]int32),
	}
}

// Reset releases all records and forgets every observation.
func (t *Tracer) Reset() {
	t.pageIdx = make(map[uint64]int32)
	t.execIdx = make(map[uint64]int32)
	t.pages.release()
	t.execs.release()
	t.lastPage = nil
	t.stores = [storeSlots]Store{}
}

func (t *Tracer) page(pn uint64) *PageRecord {
	if t.lastPage != nil && t.lastPN == pn {
		return t.lastPage
	}
	var p *PageRecord
	if i, ok := t.pageIdx[pn]; ok {
		p = t.pages.at(i)
	} else {
		var i int32
		i, p = t.pages.alloc()
		t.pageIdx[pn] = i
	}
	t.lastPN, t.lastPage = pn, p
	return p
}

func (t *Tracer) lookup(pn uint64) *PageRecord {
	if t.lastPage != nil && t.lastPN == pn {
		return t.lastPage
	}
	if i, ok := t.pageIdx[pn]; ok {
		return t.pages.at(i)
	}
	return nil
}

func (t *Tracer) exec(pn uint64) *ExecRecord {
	if i, ok := t.execIdx[pn]; ok {
		return t.execs.at(i)
	}
	i, e := t.execs.alloc()
	t.execIdx[pn] = i
	return e
}

// Fetch records an instruction fetch of length 2 or 4 at addr. bits holds
// the instruction in its low length bytes. The retirement counter of addr is
// bumped for 4-byte instructions. Fetch reports whether any covered byte was
// previously unobserved.
func (t *Tracer) Fetch(addr uint64, bits uint32, length int) bool {
	first := t.touch(addr, ViewOf(length, uint64(bits)))
	if length == 4 {
		e := t.exec(addr >> PageShift)
		e.Retired[(addr&PageMask)>>1]++
	}
	return first
}

// Prefetch reports whether any byte of [addr, addr+length) is unobserved.
// It never creates records.
func (t *Tracer) Prefetch(addr uint64, length int) bool {
	for i := 0; i < length; i++ {
		a := addr + uint64(i)
		p := t.lookup(a >> PageShift)
		if p == nil || !p.Touched(int(a&PageMask)) {
			return true
		}
	}
	return false
}

// Load records a data load. v holds the memory content at addr.
func (t *Tracer) Load(addr uint64, v View) {
	t.touch(addr, v)
}

// Store records a data store. v must hold the memory content at addr before
// the store is performed; the store is also remembered in the recent-store
// table.
func (t *Tracer) Store(addr uint64, v View) {
	t.touch(addr, v)
	t.stores[storeSlot(addr)] = Store{Addr: addr, Size: v.Len()}
}

// Retired returns how many times the 4-byte instruction at addr has been
// fetched.
func (t *Tracer) Retired(addr uint64) uint32 {
	i, ok := t.execIdx[addr>>PageShift]
	if !ok {
		return 0
	}
	return t.execs.at(i).Retired[(addr&PageMask)>>1]
}

// touch marks the bytes of v at addr and reports whether any was fresh.
func (t *Tracer) touch(addr uint64, v View) bool {
	n := v.Len()
	if addr%uint64(n) == 0 {
		// aligned accesses never leave their page or bitmap word
		p := t.page(addr >> PageShift)
		off := int(addr & PageMask)
		mask := (uint64(1)<<n - 1) << (off & 63)
		switch w := p.Bitmap[off>>6]; {
		case w&mask == mask:
			return false
		case w&mask == 0:
			copy(p.Data[off:off+n], v.Bytes())
			p.Bitmap[off>>6] |= mask
			return true
		}
	}
	return t.touchBytes(addr, v.Bytes())
}

func (t *Tracer) touchBytes(addr uint64, b []byte) bool {
	fresh := false
	for i, c := range b {
		a := addr + uint64(i)
		if t.page(a>>PageShift).mark(int(a&PageMask), c) {
			fresh = true
		}
	}
	return fresh
}

// storeSlot folds addr into one of 256 buckets by summing its base-256
// digits.
func storeSlot(addr uint64) int {
	var s uint64
	for a := addr; a > 0; a /= storeSlots {
		s += a % storeSlots
	}
	return int(s % storeSlots)
}

// LastStores returns the surviving entries of the recent-store table in
// bucket order.
func (t *Tracer) LastStores() []Store {
	var out []Store
	for _, s := range t.stores {
		if s.Size != 0 {
			out = append(out, s)
		}
	}
	return out
}

// Pages returns the numbers of all pages with a record, ascending.
func (t *Tracer) Pages() []uint64 {
	pns := make([]uint64, 0, len(t.pageIdx))
	for pn := range t.pageIdx {
		pns = append(pns, pn)
	}
	slices.Sort(pns)
	return pns
}

// Page returns the record of page pn, or nil.
func (t *Tracer) Page(pn uint64) *PageRecord {
	return t.lookup(pn)
}

// Len returns the number of page records.
func (t *Tracer) Len() int { return t.pages.len() }
