package emu

// LoadStoreUnit implements loads and stores against the bus.
type LoadStoreUnit struct {
	regFile *RegFile
	bus     *Bus
}

// NewLoadStoreUnit creates a LoadStoreUnit connected to the given register
// file and bus.
func NewLoadStoreUnit(regFile *RegFile, bus *Bus) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		bus:     bus,
	}
}

// Load reads size bytes at addr into rt. Signed loads sign-extend to the
// W or X form; unsigned loads zero-extend.
func (lsu *LoadStoreUnit) Load(rt uint8, addr uint64, size int, signed, is64 bool) error {
	v, ok := lsu.bus.Read(addr, size)
	if !ok {
		return lsu.fault(addr, size, false)
	}

	if signed {
		shift := 64 - uint(size)*8
		v = uint64(int64(v<<shift) >> shift)
	}
	lsu.regFile.write(rt, v, is64)
	return nil
}

// Store writes the low size bytes of rt to addr.
func (lsu *LoadStoreUnit) Store(rt uint8, addr uint64, size int) error {
	if !lsu.bus.Write(addr, size, lsu.regFile.ReadReg(rt)) {
		return lsu.fault(addr, size, true)
	}
	return nil
}

// LoadPair reads two consecutive doublewords into rt and rt2.
func (lsu *LoadStoreUnit) LoadPair(rt, rt2 uint8, addr uint64) error {
	a, ok1 := lsu.bus.Read(addr, 8)
	b, ok2 := lsu.bus.Read(addr+8, 8)
	if !ok1 || !ok2 {
		return lsu.fault(addr, 16, false)
	}
	lsu.regFile.WriteReg(rt, a)
	lsu.regFile.WriteReg(rt2, b)
	return nil
}

// StorePair writes rt and rt2 as two consecutive doublewords.
func (lsu *LoadStoreUnit) StorePair(rt, rt2 uint8, addr uint64) error {
	a := lsu.regFile.ReadReg(rt)
	b := lsu.regFile.ReadReg(rt2)
	if !lsu.bus.Write(addr, 8, a) || !lsu.bus.Write(addr+8, 8, b) {
		return lsu.fault(addr, 16, true)
	}
	return nil
}

func (lsu *LoadStoreUnit) fault(addr uint64, size int, write bool) error {
	return &FaultError{PC: lsu.regFile.PC, Addr: addr, Size: size, Write: write}
}
