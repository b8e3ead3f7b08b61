// Package memory provides the guest address space of the translator.
//
// A PageStore is a pre-allocated pool of 16 KiB pages. A Memory maps 32-bit
// guest addresses to pages drawn from a PageStore through a two-level table:
//
//	bits [31:24]  L1 index  (256 entries, each an optional L2 table)
//	bits [23:14]  L2 index  (1024 entries, each an optional page)
//	bits [13:0]   page offset
//
// The tables are read both by host code (Read, Write, Load, Store) and by
// generated native code, which walks them through the address returned by
// (*Memory).TablesAddr. Their layout is therefore fixed; see Tables.
package memory

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/xlab/treeprint"
)

// Address space geometry.
const (
	PageShift = 14
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1

	L1Shift   = 24
	L1Entries = 1 << (32 - L1Shift)
	L2Shift   = PageShift
	L2Bits    = L1Shift - L2Shift
	L2Entries = 1 << L2Bits

	// MaxL2Tables is the largest L2 table limit of a Memory: one per L1
	// entry.
	MaxL2Tables = L1Entries

	// MaxPages is the largest page count a PageStore or Memory may hold.
	// L2 entries store index+1 in 16 bits, with zero meaning unmapped.
	MaxPages = 1<<16 - 1
)

// Offsets into Tables used by generated code.
const (
	TablesL1Offset       = 0
	TablesPoolBaseOffset = L1Entries * 8
)

var (
	// ErrPageStoreExhausted is returned when the PageStore has no free page.
	ErrPageStoreExhausted = errors.New("page store exhausted")

	// ErrOutOfMemory is returned when a Memory reaches its resident page
	// limit.
	ErrOutOfMemory = errors.New("memory page limit reached")

	// ErrL2TablesExhausted is returned when a Memory reaches its L2 table
	// limit.
	ErrL2TablesExhausted = errors.New("l2 table limit reached")

	// ErrInvalidPage is returned when releasing an index that is out of
	// range or not allocated.
	ErrInvalidPage = errors.New("invalid page index")

	// ErrInvalidCapacity is returned for page counts outside 1..MaxPages.
	ErrInvalidCapacity = errors.New("invalid page capacity")

	// ErrStoreInUse is returned when closing a PageStore that still backs
	// a Memory.
	ErrStoreInUse = errors.New("page store in use")
)

// L2Table maps an L2 index to a PageStore index plus one; zero is unmapped.
type L2Table [L2Entries]uint16

// Tables is the page table root shared with generated code.
//
// Generated code loads L1[addr>>24], tests it for nil, loads the 16-bit
// entry at index (addr>>14)&0x3FF, and computes
// PoolBase + (entry-1)<<PageShift + (addr&PageMask).
type Tables struct {
	L1       [L1Entries]*L2Table
	PoolBase uintptr
}

// Reader is the read-only view of a Memory.
type Reader interface {
	Read(addr uint32, buf []byte)
	Load(addr uint32, size int) uint32
	ResidentPages() int
	MaxPages() int
}

// Memory is one guest address space.
type Memory struct {
	store    *PageStore
	tables   *Tables
	spare    []*L2Table
	l2Count  int
	resident []uint16
	maxPages int
	maxL2    int
	tlb      *TLB
	closed   bool
}

// Option configures a Memory.
type Option func(*Memory)

// WithTLB enables a host-side page TLB with the given number of entries.
// Zero disables it.
func WithTLB(entries int) Option {
	return func(m *Memory) {
		if entries > 0 {
			m.tlb = NewTLB(entries)
		}
	}
}

// WithMaxL2Tables bounds the L2 tables a Memory may link, and so the
// number of distinct 16 MiB regions it can touch. The default is
// MaxL2Tables.
func WithMaxL2Tables(n int) Option {
	return func(m *Memory) {
		m.maxL2 = n
	}
}

// New creates an empty Memory drawing up to maxPages pages from store.
func New(store *PageStore, maxPages int, opts ...Option) (*Memory, error) {
	if maxPages < 1 || maxPages > MaxPages {
		return nil, fmt.Errorf("%w: max pages %d", ErrInvalidCapacity, maxPages)
	}
	if maxPages > store.Capacity() {
		return nil, fmt.Errorf("%w: max pages %d exceeds page store capacity %d",
			ErrInvalidCapacity, maxPages, store.Capacity())
	}

	m := &Memory{
		store:    store,
		tables:   &Tables{PoolBase: store.Base()},
		resident: make([]uint16, 0, min(maxPages, 64)),
		maxPages: maxPages,
		maxL2:    MaxL2Tables,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxL2 < 1 || m.maxL2 > MaxL2Tables {
		return nil, fmt.Errorf("%w: max l2 tables %d", ErrInvalidCapacity, m.maxL2)
	}

	store.memories++
	return m, nil
}

// TablesAddr returns the address of the page table root for generated code.
// It is stable for the lifetime of the Memory.
func (m *Memory) TablesAddr() uintptr {
	return uintptr(unsafe.Pointer(m.tables))
}

// HostTable returns the host bytes of the table containing the host address
// addr: the Tables root or one of its L2 tables.
func (m *Memory) HostTable(addr uintptr) (uintptr, []byte, bool) {
	if b, ok := hostBytes(m.tables, addr); ok {
		return uintptr(unsafe.Pointer(m.tables)), b, true
	}
	for _, l2 := range m.tables.L1 {
		if l2 == nil {
			continue
		}
		if b, ok := hostBytes(l2, addr); ok {
			return uintptr(unsafe.Pointer(l2)), b, true
		}
	}
	return 0, nil, false
}

func hostBytes[T any](p *T, addr uintptr) ([]byte, bool) {
	base := uintptr(unsafe.Pointer(p))
	size := unsafe.Sizeof(*p)
	if addr < base || addr-base >= size {
		return nil, false
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), size), true
}

// PageStore returns the PageStore backing this Memory.
func (m *Memory) PageStore() *PageStore {
	return m.store
}

// ResidentPages returns the number of mapped pages.
func (m *Memory) ResidentPages() int {
	return len(m.resident)
}

// MaxPages returns the resident page limit.
func (m *Memory) MaxPages() int {
	return m.maxPages
}

// lookup returns the PageStore index of the page holding addr.
func (m *Memory) lookup(addr uint32) (uint16, bool) {
	if m.tlb != nil {
		if idx, ok := m.tlb.Lookup(addr); ok {
			return idx, true
		}
	}

	l2 := m.tables.L1[addr>>L1Shift]
	if l2 == nil {
		return 0, false
	}
	entry := l2[(addr>>L2Shift)&(L2Entries-1)]
	if entry == 0 {
		return 0, false
	}

	if m.tlb != nil {
		m.tlb.Insert(addr, entry-1)
	}
	return entry - 1, true
}

// EnsurePage maps the page holding addr, allocating it from the PageStore
// if needed, and returns its PageStore index.
func (m *Memory) EnsurePage(addr uint32) (uint16, error) {
	if idx, ok := m.lookup(addr); ok {
		return idx, nil
	}

	l1 := addr >> L1Shift
	l2 := m.tables.L1[l1]
	if l2 == nil && m.l2Count >= m.maxL2 {
		return 0, fmt.Errorf("%w: %d tables at %#08x", ErrL2TablesExhausted, m.maxL2, addr)
	}
	if len(m.resident) >= m.maxPages {
		return 0, fmt.Errorf("%w: %d pages at %#08x", ErrOutOfMemory, m.maxPages, addr)
	}
	idx, err := m.store.Allocate()
	if err != nil {
		return 0, fmt.Errorf("mapping %#08x: %w", addr, err)
	}

	// Link the table only once the page is secured.
	if l2 == nil {
		l2 = m.takeL2()
		m.tables.L1[l1] = l2
	}
	l2[(addr>>L2Shift)&(L2Entries-1)] = idx + 1
	m.resident = append(m.resident, idx)
	return idx, nil
}

func (m *Memory) takeL2() *L2Table {
	m.l2Count++
	if n := len(m.spare); n > 0 {
		l2 := m.spare[n-1]
		m.spare = m.spare[:n-1]
		return l2
	}
	return new(L2Table)
}

// Read fills buf from guest memory starting at addr. Unmapped bytes read
// as zero and are not allocated. Addresses wrap at 2^32.
func (m *Memory) Read(addr uint32, buf []byte) {
	for len(buf) > 0 {
		off := addr & PageMask
		n := min(len(buf), int(PageSize-off))

		if idx, ok := m.lookup(addr); ok {
			copy(buf[:n], m.store.Page(idx)[off:])
		} else {
			clear(buf[:n])
		}

		buf = buf[n:]
		addr += uint32(n)
	}
}

// Write copies data into guest memory starting at addr, allocating pages as
// needed. Either every page is mapped and the whole write happens, or an
// allocation error is returned and nothing is written.
func (m *Memory) Write(addr uint32, data []byte) error {
	for a, left := addr, len(data); left > 0; {
		if _, err := m.EnsurePage(a); err != nil {
			return err
		}
		n := min(left, int(PageSize-(a&PageMask)))
		left -= n
		a += uint32(n)
	}

	for len(data) > 0 {
		off := addr & PageMask
		idx, _ := m.lookup(addr)
		n := copy(m.store.Page(idx)[off:], data)
		data = data[n:]
		addr += uint32(n)
	}
	return nil
}

// Load reads a little-endian value of size 1, 2 or 4 bytes, zero-extended.
func (m *Memory) Load(addr uint32, size int) uint32 {
	var buf [4]byte
	m.Read(addr, buf[:size])
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// Store writes the low size bytes of value in little-endian order.
func (m *Memory) Store(addr uint32, size int, value uint32) error {
	buf := [4]byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
	return m.Write(addr, buf[:size])
}

// Reset returns every mapped page to the PageStore and clears both table
// levels. L2 tables are kept for reuse.
func (m *Memory) Reset() {
	for _, idx := range m.resident {
		if err := m.store.Release(idx); err != nil {
			panic(fmt.Sprintf("memory: resident page released twice: %v", err))
		}
	}
	m.resident = m.resident[:0]

	for i, l2 := range m.tables.L1 {
		if l2 == nil {
			continue
		}
		clear(l2[:])
		m.spare = append(m.spare, l2)
		m.tables.L1[i] = nil
	}
	m.l2Count = 0

	if m.tlb != nil {
		m.tlb.Reset()
	}
}

// Close releases every page and detaches the Memory from its PageStore.
func (m *Memory) Close() {
	if m.closed {
		return
	}
	m.Reset()
	m.store.memories--
	m.closed = true
}

// TLBStats returns the page TLB statistics, zero when the TLB is disabled.
func (m *Memory) TLBStats() TLBStatistics {
	if m.tlb == nil {
		return TLBStatistics{}
	}
	return m.tlb.Stats()
}

// String returns a one-line summary.
func (m *Memory) String() string {
	coverage := m.l2Count * L2Entries * PageSize >> 20
	return fmt.Sprintf("Memory{pages: %d/%d, l2_tables: %d, l2_coverage_mb: %d}",
		len(m.resident), m.maxPages, m.l2Count, coverage)
}

// Dump renders the populated page table as a tree.
func (m *Memory) Dump() string {
	tree := treeprint.New()
	tree.SetValue(m.String())

	for i, l2 := range m.tables.L1 {
		if l2 == nil {
			continue
		}
		base := uint32(i) << L1Shift
		branch := tree.AddBranch(fmt.Sprintf("L1[%#02x] %#08x-%#08x",
			i, base, base+(1<<L1Shift-1)))

		for j, entry := range l2 {
			if entry == 0 {
				continue
			}
			addr := base | uint32(j)<<L2Shift
			branch.AddNode(fmt.Sprintf("L2[%#03x] %#08x -> page %d", j, addr, entry-1))
		}
	}

	return tree.String()
}
