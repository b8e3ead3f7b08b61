package emu

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Region is a span of host memory visible to emulated code.
type Region struct {
	Name string
	Base uint64
	Data []byte
}

func (r *Region) contains(addr uint64, size int) bool {
	return addr >= r.Base && addr-r.Base+uint64(size) <= uint64(len(r.Data))
}

// Resolver finds a region for an address no mapped region covers. The
// result is cached until the region is unmapped or the bus is flushed.
type Resolver func(addr uint64) (Region, bool)

// FaultError reports an access outside every region.
type FaultError struct {
	PC    uint64
	Addr  uint64
	Size  int
	Write bool
}

func (e *FaultError) Error() string {
	kind := "read"
	if e.Write {
		kind = "write"
	}
	return fmt.Sprintf("%s fault: %d bytes at %#x (pc %#x)", kind, e.Size, e.Addr, e.PC)
}

// Bus maps host addresses onto regions.
type Bus struct {
	regions  []Region // sorted by Base
	cached   map[string]bool
	resolver Resolver
	last     int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{cached: make(map[string]bool)}
}

// SetResolver installs the fallback used on a miss.
func (b *Bus) SetResolver(r Resolver) {
	b.resolver = r
}

// Map adds a region, replacing any region of the same name.
func (b *Bus) Map(name string, base uint64, data []byte) {
	b.Unmap(name)
	b.insert(Region{Name: name, Base: base, Data: data})
}

func (b *Bus) insert(r Region) {
	i := sort.Search(len(b.regions), func(i int) bool {
		return b.regions[i].Base >= r.Base
	})
	b.regions = append(b.regions, Region{})
	copy(b.regions[i+1:], b.regions[i:])
	b.regions[i] = r
	b.last = 0
}

// Unmap removes the named region.
func (b *Bus) Unmap(name string) {
	for i := range b.regions {
		if b.regions[i].Name == name {
			b.regions = append(b.regions[:i], b.regions[i+1:]...)
			delete(b.cached, name)
			b.last = 0
			return
		}
	}
}

// Flush drops every region added through the resolver.
func (b *Bus) Flush() {
	kept := b.regions[:0]
	for _, r := range b.regions {
		if !b.cached[r.Name] {
			kept = append(kept, r)
		}
	}
	clear(b.regions[len(kept):])
	b.regions = kept
	clear(b.cached)
	b.last = 0
}

// Regions returns the mapped regions in address order.
func (b *Bus) Regions() []Region {
	return b.regions
}

// span returns the bytes at addr, or nil when unmapped.
func (b *Bus) span(addr uint64, size int) []byte {
	if b.last < len(b.regions) && b.regions[b.last].contains(addr, size) {
		r := &b.regions[b.last]
		off := addr - r.Base
		return r.Data[off : off+uint64(size)]
	}

	i := sort.Search(len(b.regions), func(i int) bool {
		return b.regions[i].Base > addr
	}) - 1
	if i >= 0 && b.regions[i].contains(addr, size) {
		b.last = i
		r := &b.regions[i]
		off := addr - r.Base
		return r.Data[off : off+uint64(size)]
	}

	if b.resolver == nil {
		return nil
	}
	r, ok := b.resolver(addr)
	if !ok || !r.contains(addr, size) {
		return nil
	}
	b.cached[r.Name] = true
	b.insert(r)
	off := addr - r.Base
	return r.Data[off : off+uint64(size)]
}

// Read reads a little-endian value of 1, 2, 4 or 8 bytes.
func (b *Bus) Read(addr uint64, size int) (uint64, bool) {
	s := b.span(addr, size)
	if s == nil {
		return 0, false
	}
	switch size {
	case 1:
		return uint64(s[0]), true
	case 2:
		return uint64(binary.LittleEndian.Uint16(s)), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(s)), true
	}
	return binary.LittleEndian.Uint64(s), true
}

// Write writes the low size bytes of v little-endian.
func (b *Bus) Write(addr uint64, size int, v uint64) bool {
	s := b.span(addr, size)
	if s == nil {
		return false
	}
	switch size {
	case 1:
		s[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(s, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(s, uint32(v))
	default:
		binary.LittleEndian.PutUint64(s, v)
	}
	return true
}
