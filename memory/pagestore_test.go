package memory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvaot/memory"
)

var _ = Describe("PageStore", func() {
	var store *memory.PageStore

	BeforeEach(func() {
		var err error
		store, err = memory.NewPageStore(4)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("should reject invalid capacities", func() {
		_, err := memory.NewPageStore(0)
		Expect(err).To(MatchError(memory.ErrInvalidCapacity))

		_, err = memory.NewPageStore(memory.MaxPages + 1)
		Expect(err).To(MatchError(memory.ErrInvalidCapacity))
	})

	It("should hand out every page once", func() {
		seen := map[uint16]bool{}
		for i := 0; i < 4; i++ {
			idx, err := store.Allocate()
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).NotTo(HaveKey(idx))
			seen[idx] = true
		}
		Expect(store.Available()).To(Equal(0))
	})

	It("should report exhaustion and recover after a release", func() {
		for i := 0; i < 4; i++ {
			_, err := store.Allocate()
			Expect(err).NotTo(HaveOccurred())
		}

		_, err := store.Allocate()
		Expect(err).To(MatchError(memory.ErrPageStoreExhausted))

		Expect(store.Release(2)).To(Succeed())
		idx, err := store.Allocate()
		Expect(err).NotTo(HaveOccurred())
		Expect(idx).To(Equal(uint16(2)))
	})

	It("should zero pages on release", func() {
		idx, err := store.Allocate()
		Expect(err).NotTo(HaveOccurred())

		store.Page(idx)[100] = 0xAB
		Expect(store.Release(idx)).To(Succeed())

		idx, err = store.Allocate()
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Page(idx)[100]).To(Equal(byte(0)))
	})

	It("should reject releasing pages that are not allocated", func() {
		Expect(store.Release(1)).To(MatchError(memory.ErrInvalidPage))
		Expect(store.Release(9)).To(MatchError(memory.ErrInvalidPage))
	})

	It("should lay pages out contiguously from the base", func() {
		idx, err := store.Allocate()
		Expect(err).NotTo(HaveOccurred())

		page := store.Page(idx)
		Expect(page).To(HaveLen(memory.PageSize))
		Expect(cap(page)).To(Equal(memory.PageSize))
		Expect(store.Base()).NotTo(BeZero())
	})

	It("should refuse to close while a memory is open", func() {
		mem, err := memory.New(store, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Memories()).To(Equal(1))

		Expect(store.Close()).To(MatchError(memory.ErrStoreInUse))

		mem.Close()
		Expect(store.Memories()).To(Equal(0))
	})
})
