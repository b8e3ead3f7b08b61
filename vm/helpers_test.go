package vm_test

import (
	"runtime"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvaot/insts"
	"github.com/sarchlab/rvaot/memory"
	"github.com/sarchlab/rvaot/vm"
)

const imageBase = 0x10000

// function is a named routine in a test image.
type function struct {
	name string
	body []*insts.Instruction
}

func fn(name string, body ...*insts.Instruction) function {
	return function{name: name, body: body}
}

// link assembles functions back to back from imageBase and returns the
// address of each.
func link(fns ...function) ([]byte, map[string]uint32) {
	var program []*insts.Instruction
	addrs := make(map[string]uint32, len(fns))
	for _, f := range fns {
		addrs[f.name] = imageBase + uint32(len(program))*4
		program = append(program, f.body...)
	}
	image, err := insts.Assemble(program...)
	Expect(err).NotTo(HaveOccurred())
	return image, addrs
}

// backends lists the backends this host can run.
func backends() []string {
	b := []string{vm.BackendEmulated}
	if runtime.GOOS == "linux" && runtime.GOARCH == "arm64" {
		b = append(b, vm.BackendNative)
	}
	return b
}

// forEachBackend declares body's specs once per available backend.
func forEachBackend(body func(backend string)) {
	for _, backend := range backends() {
		Context("on the "+backend+" backend", func() {
			body(backend)
		})
	}
}

// emulatedOnly skips specs that count executed host instructions.
func emulatedOnly(backend string) {
	if backend != vm.BackendEmulated {
		Skip("instruction counts are kept by the emulated backend")
	}
}

func testConfig(backend string) *vm.Config {
	cfg := vm.DefaultConfig()
	cfg.Backend = backend
	cfg.MaxCodeSize = 64 << 10
	cfg.MaxPages = 16
	cfg.PageStorePages = 64
	cfg.SpillDepth = 4
	cfg.ImageBase = imageBase
	return cfg
}

// rig is a module with one attached instance on a private page store.
type rig struct {
	store  *memory.PageStore
	module *vm.Module
	inst   *vm.Instance[vm.Handler]
}

func newRig(cfg *vm.Config, h vm.Handler, image []byte) *rig {
	store, err := memory.NewPageStore(cfg.PageStorePages)
	Expect(err).NotTo(HaveOccurred())

	mod, err := vm.NewModule(cfg)
	Expect(err).NotTo(HaveOccurred())
	if image != nil {
		Expect(mod.SetCode(image)).To(Succeed())
	}

	inst, err := vm.NewInstance(cfg, h, vm.WithPageStore(store))
	Expect(err).NotTo(HaveOccurred())
	inst.Attach(mod)

	return &rig{store: store, module: mod, inst: inst}
}

func (r *rig) close() {
	r.inst.Close()
	Expect(r.module.Close()).To(Succeed())
	Expect(r.store.Close()).To(Succeed())
}

// noSyscalls fails every ECALL.
var noSyscalls vm.Handler = vm.HandlerFunc(func(*vm.Machine, uint32) error {
	return vm.ErrHandler
})
