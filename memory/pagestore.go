package memory

import (
	"fmt"
	"unsafe"
)

// PageStore is a fixed-capacity pool of pages shared by every Memory.
// Page N occupies bytes [N*PageSize, (N+1)*PageSize) of one contiguous
// region, so a page address is the pool base plus index<<PageShift.
type PageStore struct {
	pool     []byte
	free     []uint16
	inUse    []bool
	memories int
	unmap    func() error
}

// NewPageStore allocates a pool of the given number of pages.
func NewPageStore(pages int) (*PageStore, error) {
	if pages < 1 || pages > MaxPages {
		return nil, fmt.Errorf("%w: %d pages", ErrInvalidCapacity, pages)
	}

	pool, unmap, err := allocPool(pages * PageSize)
	if err != nil {
		return nil, fmt.Errorf("allocating page pool: %w", err)
	}

	free := make([]uint16, pages)
	for i := range free {
		// Lowest indices are handed out first.
		free[i] = uint16(pages - 1 - i)
	}

	return &PageStore{
		pool:  pool,
		free:  free,
		inUse: make([]bool, pages),
		unmap: unmap,
	}, nil
}

// Capacity returns the total number of pages.
func (s *PageStore) Capacity() int {
	return len(s.inUse)
}

// Available returns the number of free pages.
func (s *PageStore) Available() int {
	return len(s.free)
}

// Memories returns the number of open Memory values using this store.
func (s *PageStore) Memories() int {
	return s.memories
}

// Base returns the address of page 0.
func (s *PageStore) Base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(s.pool)))
}

// Bytes returns the whole pool.
func (s *PageStore) Bytes() []byte {
	return s.pool
}

// Allocate takes a free page. The page content is zero.
func (s *PageStore) Allocate() (uint16, error) {
	n := len(s.free)
	if n == 0 {
		return 0, ErrPageStoreExhausted
	}
	idx := s.free[n-1]
	s.free = s.free[:n-1]
	s.inUse[idx] = true
	return idx, nil
}

// Release zero-fills a page and returns it to the pool.
func (s *PageStore) Release(idx uint16) error {
	if int(idx) >= len(s.inUse) || !s.inUse[idx] {
		return fmt.Errorf("%w: %d", ErrInvalidPage, idx)
	}
	clear(s.Page(idx))
	s.inUse[idx] = false
	s.free = append(s.free, idx)
	return nil
}

// Page returns the bytes of an allocated page.
func (s *PageStore) Page(idx uint16) []byte {
	off := int(idx) << PageShift
	return s.pool[off : off+PageSize : off+PageSize]
}

// Close releases the pool. It fails while any Memory still uses the store.
func (s *PageStore) Close() error {
	if s.memories > 0 {
		return fmt.Errorf("%w: %d memories open", ErrStoreInUse, s.memories)
	}
	if s.unmap == nil {
		return nil
	}
	err := s.unmap()
	s.unmap = nil
	s.pool = nil
	s.free = nil
	return err
}
