package memory

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// tlbWays is the associativity of the page TLB.
const tlbWays = 4

// TLBStatistics holds page TLB counters.
type TLBStatistics struct {
	Lookups   uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// TLB caches guest page to PageStore index translations for host-side
// accesses. Tags are page-aligned guest addresses; the payload of a block
// lives at SetID*ways+WayID.
type TLB struct {
	directory *akitacache.DirectoryImpl
	ways      int
	pages     []uint16
	stats     TLBStatistics
}

// NewTLB creates a TLB with the given number of entries. Entries is rounded
// down to a multiple of the associativity, with at least one set.
func NewTLB(entries int) *TLB {
	ways := min(tlbWays, entries)
	sets := max(entries/ways, 1)

	return &TLB{
		directory: akitacache.NewDirectory(
			sets,
			ways,
			PageSize,
			akitacache.NewLRUVictimFinder(),
		),
		ways:  ways,
		pages: make([]uint16, sets*ways),
	}
}

func (t *TLB) slot(block *akitacache.Block) int {
	return block.SetID*t.ways + block.WayID
}

// Lookup returns the cached page index for addr.
func (t *TLB) Lookup(addr uint32) (uint16, bool) {
	t.stats.Lookups++

	tag := uint64(addr &^ PageMask)
	block := t.directory.Lookup(0, tag)
	if block == nil || !block.IsValid {
		t.stats.Misses++
		return 0, false
	}

	t.stats.Hits++
	t.directory.Visit(block)
	return t.pages[t.slot(block)], true
}

// Insert records the translation for the page holding addr.
func (t *TLB) Insert(addr uint32, idx uint16) {
	tag := uint64(addr &^ PageMask)

	victim := t.directory.FindVictim(tag)
	if victim == nil {
		return
	}
	if victim.IsValid {
		t.stats.Evictions++
	}

	victim.Tag = tag
	victim.PID = 0
	victim.IsValid = true
	victim.IsDirty = false
	t.pages[t.slot(victim)] = idx
	t.directory.Visit(victim)
}

// Reset invalidates every entry. Statistics are kept.
func (t *TLB) Reset() {
	t.directory.Reset()
}

// Stats returns the counters.
func (t *TLB) Stats() TLBStatistics {
	return t.stats
}
