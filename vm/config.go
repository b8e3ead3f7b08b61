package vm

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/rvaot/memory"
)

// Backend names accepted in Config.Backend.
const (
	BackendAuto     = "auto"
	BackendNative   = "native"
	BackendEmulated = "emulated"
)

// EBREAK policies accepted in Config.Ebreak.
const (
	EbreakNop  = "nop"
	EbreakTrap = "trap"
)

// Limits enforced by Validate.
const (
	MaxCodeSizeLimit = 64 << 20
	MinCodeExpansion = 8
	MaxCodeExpansion = 64
	MaxSpillDepth    = 1024

	// CodeRange bounds the code buffer so every B and BL in it reaches
	// every other word.
	CodeRange = 128 << 20
)

// Config holds the parameters of modules and instances.
type Config struct {
	// MaxCodeSize is the largest guest image, in bytes, a Module accepts.
	// Default: 1 MiB.
	MaxCodeSize int `json:"max_code_size"`

	// CodeExpansion is the native bytes reserved per guest byte.
	// Default: 16.
	CodeExpansion int `json:"code_expansion"`

	// MaxPages is the resident page limit of one Instance's memory.
	// Default: 4096 (64 MiB).
	MaxPages int `json:"max_pages"`

	// PageStorePages is the capacity of the process-wide page store,
	// fixed by the first Instance created. Default: 16384.
	PageStorePages int `json:"page_store_pages"`

	// SpillDepth is the maximum nesting of CallFunction. Default: 16.
	SpillDepth int `json:"spill_depth"`

	// ImageBase is the guest address of the first instruction passed to
	// SetCode. Default: 0x10000.
	ImageBase uint32 `json:"image_base"`

	// Ebreak is "nop" or "trap". Default: "nop".
	Ebreak string `json:"ebreak"`

	// Backend is "auto", "native" or "emulated". Auto selects native
	// execution where it is available. Default: "auto".
	Backend string `json:"backend"`

	// MaxInstructions bounds the instructions one emulated CallFunction
	// may execute; 0 means no limit. Default: 0.
	MaxInstructions uint64 `json:"max_instructions"`

	// MaxL2Tables bounds the L2 tables of one Instance's memory, each
	// covering 16 MiB of guest addresses. Default: 256 (no bound).
	MaxL2Tables int `json:"max_l2_tables"`

	// TLBEntries sizes the host-side page TLB of each Memory; 0 disables
	// it. Default: 64.
	TLBEntries int `json:"tlb_entries"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxCodeSize:     1 << 20,
		CodeExpansion:   16,
		MaxPages:        4096,
		PageStorePages:  16384,
		SpillDepth:      16,
		ImageBase:       0x10000,
		Ebreak:          EbreakNop,
		Backend:         BackendAuto,
		MaxInstructions: 0,
		MaxL2Tables:     memory.MaxL2Tables,
		TLBEntries:      64,
	}
}

// LoadConfig loads a Config from a JSON file. Fields absent from the file
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// SaveConfig writes a Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks every field. Out-of-range values are errors; nothing is
// clamped.
func (c *Config) Validate() error {
	if c.MaxCodeSize < 1 || c.MaxCodeSize > MaxCodeSizeLimit {
		return invalid("max_code_size must be in 1..%d", MaxCodeSizeLimit)
	}
	if c.CodeExpansion < MinCodeExpansion || c.CodeExpansion > MaxCodeExpansion {
		return invalid("code_expansion must be in %d..%d", MinCodeExpansion, MaxCodeExpansion)
	}
	if c.MaxCodeSize*c.CodeExpansion > CodeRange {
		return invalid("max_code_size * code_expansion must be <= %d", CodeRange)
	}
	if c.MaxPages < 1 || c.MaxPages > memory.MaxPages {
		return invalid("max_pages must be in 1..%d", memory.MaxPages)
	}
	if c.PageStorePages < 1 || c.PageStorePages > memory.MaxPages {
		return invalid("page_store_pages must be in 1..%d", memory.MaxPages)
	}
	if c.MaxPages > c.PageStorePages {
		return invalid("max_pages must be <= page_store_pages")
	}
	if c.MaxL2Tables < 1 || c.MaxL2Tables > memory.MaxL2Tables {
		return invalid("max_l2_tables must be in 1..%d", memory.MaxL2Tables)
	}
	if c.SpillDepth < 1 || c.SpillDepth > MaxSpillDepth {
		return invalid("spill_depth must be in 1..%d", MaxSpillDepth)
	}
	if c.ImageBase%4 != 0 {
		return invalid("image_base must be 4-byte aligned")
	}
	if c.Ebreak != EbreakNop && c.Ebreak != EbreakTrap {
		return invalid("ebreak must be %q or %q", EbreakNop, EbreakTrap)
	}
	switch c.Backend {
	case BackendAuto, BackendNative, BackendEmulated:
	default:
		return invalid("backend must be %q, %q or %q", BackendAuto, BackendNative, BackendEmulated)
	}
	if c.TLBEntries < 0 || c.TLBEntries&(c.TLBEntries-1) != 0 {
		return invalid("tlb_entries must be 0 or a power of two")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// codeCapacity returns the native code bytes a Module reserves.
func (c *Config) codeCapacity() int {
	return c.MaxCodeSize*c.CodeExpansion + routineReserve
}

// useNative resolves the backend for this host.
func (c *Config) useNative() (bool, error) {
	switch c.Backend {
	case BackendNative:
		if !nativeSupported {
			return false, fmt.Errorf("%w: native backend on this host", ErrBackendUnavailable)
		}
		return true, nil
	case BackendEmulated:
		return false, nil
	}
	return nativeSupported, nil
}
