// Package main provides the rvaot command: it compiles RV32IM programs to
// ARM64 code and runs them.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/rvaot/loader"
	"github.com/sarchlab/rvaot/vm"
)

type flags struct {
	configPath string
	backend    string
	logLevel   string
	verbose    bool
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:           "rvaot",
		Short:         "Ahead-of-time RISC-V to ARM64 translator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&f.configPath, "config", "", "Path to configuration JSON file")
	rootCmd.PersistentFlags().StringVar(&f.backend, "backend", "", "Execution backend: auto, native or emulated")
	rootCmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run <program.elf>",
			Short: "Compile and run a program with the Linux syscall handler",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(&f, args[0])
			},
		},
		&cobra.Command{
			Use:   "disasm <program.elf>",
			Short: "Print the compiled code of a program",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return disasm(&f, args[0])
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := f.config()
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		var exit *vm.ExitError
		if errors.As(err, &exit) {
			os.Exit(int(exit.Code))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// config loads the configuration and applies the flag overrides.
func (f *flags) config() (*vm.Config, error) {
	cfg := vm.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = vm.LoadConfig(f.configPath); err != nil {
			return nil, err
		}
	}
	if f.backend != "" {
		cfg.Backend = f.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *flags) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(f.logLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", f.logLevel)
	}
	if f.verbose && level > slog.LevelInfo {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// compile loads a program and compiles its text into a new Module.
func compile(f *flags, path string) (*loader.Program, *vm.Module, *vm.Config, *slog.Logger, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger, err := f.logger()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	prog, err := loader.Load(path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("loading program: %w", err)
	}
	image, base, err := prog.Text()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("loading program: %w", err)
	}

	if f.verbose {
		fmt.Fprintf(os.Stderr, "Loaded: %s\n", path)
		fmt.Fprintf(os.Stderr, "Entry point: 0x%08X\n", prog.EntryPoint)
		fmt.Fprintf(os.Stderr, "Segments: %d\n", len(prog.Segments))
		fmt.Fprintf(os.Stderr, "Text: 0x%08X, %d bytes\n", base, len(image))
	}

	mod, err := vm.NewModule(cfg, vm.WithLogger(logger))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := mod.SetCodeAt(base, image); err != nil {
		_ = mod.Close()
		return nil, nil, nil, nil, fmt.Errorf("compiling program: %w", err)
	}
	return prog, mod, cfg, logger, nil
}

func run(f *flags, path string) error {
	prog, mod, cfg, logger, err := compile(f, path)
	if err != nil {
		return err
	}
	defer func() { _ = mod.Close() }()

	handler := vm.NewLinuxHandler(os.Stdin, os.Stdout, os.Stderr)
	inst, err := vm.NewInstance(cfg, handler, vm.WithLogger(logger))
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := prog.LoadInto(inst.MemoryMut()); err != nil {
		return err
	}
	inst.Attach(mod)
	inst.WriteRegister(2, prog.InitialSP)

	ret, err := inst.CallFunction(prog.EntryPoint)

	if f.verbose {
		fmt.Fprintf(os.Stderr, "Backend: native=%v\n", mod.Native())
		fmt.Fprintf(os.Stderr, "Memory: %s\n", inst.MemoryMut())
		if !mod.Native() {
			fmt.Fprintf(os.Stderr, "Host instructions: %d\n", inst.InstructionCount())
		}
	}

	if err != nil {
		return err
	}
	return &vm.ExitError{Code: int32(ret)}
}

func disasm(f *flags, path string) error {
	_, mod, _, _, err := compile(f, path)
	if err != nil {
		return err
	}
	defer func() { _ = mod.Close() }()

	text, err := mod.Disassemble()
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}
