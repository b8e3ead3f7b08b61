package vm

// Frame is one spill stack entry: the guest register file and the state
// generated code keeps across an exit. Its layout matches the compiler's
// Frame offsets.
type Frame struct {
	Regs   [32]uint64 // guest x0..x31, zero-extended
	Reason uint64     // exit reason of the last exit
	Resume uint64     // native address to continue at
	X16    uint64     // host X16 at the last exit
	X17    uint64     // host X17 at the last exit, reloaded on entry
	Value  uint64     // store value stash
	HostLR uint64     // return address into the bridge
}

func (f *Frame) reset() {
	*f = Frame{}
}
