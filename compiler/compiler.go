// Package compiler translates RV32IM guest images into ARM64 machine code.
//
// Compilation is a single pass over the image in address order. Every
// guest instruction gets a PC map entry (its native offset) before its
// translation is emitted; branches to instructions not yet translated are
// recorded as fixups and patched once the pass is complete.
//
// The emitted code starts with the shared routines (enter, exit, jump and
// the eight memory routines), followed by the translated instructions and a
// trailer that reports execution running off the end of the image.
package compiler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarchlab/rvaot/arm64"
	"github.com/sarchlab/rvaot/insts"
)

var (
	// ErrBufferExhausted is returned when the translation does not fit the
	// code buffer.
	ErrBufferExhausted = errors.New("code buffer exhausted")

	// ErrImageMisaligned is returned for an image whose base or length is
	// not a multiple of four.
	ErrImageMisaligned = errors.New("image not word aligned")
)

// Result describes a compiled image.
type Result struct {
	// Size is the number of code bytes written.
	Size int

	// PCMap holds the native offset of each guest instruction.
	PCMap []uint32

	// Routines holds the shared routine offsets.
	Routines Routines

	// Fixups is the number of forward branches patched after the pass.
	Fixups int
}

// Compiler translates guest images.
type Compiler struct {
	decoder    *insts.Decoder
	translator *Translator
	ebreak     EbreakPolicy
	logger     *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithEbreak sets the EBREAK policy.
func WithEbreak(p EbreakPolicy) Option {
	return func(c *Compiler) {
		c.ebreak = p
	}
}

// WithLogger sets the logger for compile summaries.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = l
	}
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		decoder:    insts.NewDecoder(),
		translator: NewTranslator(),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// pending is a fixup positioned in the whole code.
type pending struct {
	site int // word index
	Fixup
}

// Compile translates image, loaded at guest address base, into buf. The
// header cells are expected headerSpan bytes before buf[0]. buf is only
// written once the whole image has translated, so on error it keeps its
// previous contents.
func (c *Compiler) Compile(image []byte, base uint32, buf []byte, headerSpan int) (*Result, error) {
	if base%4 != 0 || len(image)%4 != 0 {
		return nil, fmt.Errorf("%w: base 0x%08x, %d bytes", ErrImageMisaligned, base, len(image))
	}

	limit := len(buf) / 4
	e := &emitter{words: make([]uint32, 0, min(limit, 1024+len(image)*4))}

	rb := &routineBuilder{
		emitter:    e,
		headerSpan: int64(headerSpan),
		imageBase:  base,
		imageSize:  uint32(len(image)),
	}
	routines := rb.build()
	if e.err != nil {
		return nil, fmt.Errorf("emitting routines: %w", e.err)
	}
	if e.pos() > limit {
		return nil, fmt.Errorf("%w: routines need %d bytes", ErrBufferExhausted, e.pos()*4)
	}

	n := len(image) / 4
	pcMap := make([]uint32, n)
	var fixups []pending

	ctx := &Context{
		Base:     base,
		Size:     uint32(len(image)),
		Routines: routines,
		Ebreak:   c.ebreak,
		Resolve: func(target uint32) (int64, bool) {
			i := int((target - base) / 4)
			if i >= n || pcMap[i] == 0 {
				return 0, false
			}
			return int64(pcMap[i]), true
		},
	}

	for i := 0; i < n; i++ {
		pc := base + uint32(i)*4
		pcMap[i] = uint32(e.pos() * 4)

		word := binary.LittleEndian.Uint32(image[i*4:])
		inst, err := c.decoder.Decode(word)
		if err != nil {
			return nil, &TranslateError{PC: pc, Word: word, Err: err}
		}

		ctx.PC = pc
		ctx.Offset = int64(e.pos()) * 4
		seq, err := c.translator.Translate(inst, ctx)
		if err != nil {
			if errors.Is(err, ErrUnsupportedInstruction) {
				return nil, &TranslateError{PC: pc, Word: word, Err: err}
			}
			return nil, fmt.Errorf("translating 0x%08x at 0x%08x: %w", word, pc, err)
		}

		if e.pos()+len(seq.Words) > limit {
			return nil, fmt.Errorf("%w: at 0x%08x after %d bytes", ErrBufferExhausted, pc, e.pos()*4)
		}
		for _, f := range seq.Fixups {
			fixups = append(fixups, pending{site: e.pos() + f.Index, Fixup: f})
		}
		e.emit(seq.Words...)
	}

	// Falling off the end of the image is a jump to the end address.
	e.movImm(regAddr, base+uint32(len(image)))
	e.emitE(arm64.B(routines.Jump - int64(e.pos())*4))
	if e.err != nil {
		return nil, e.err
	}
	if e.pos() > limit {
		return nil, fmt.Errorf("%w: trailer after %d bytes", ErrBufferExhausted, e.pos()*4)
	}

	for _, f := range fixups {
		if err := c.patch(e, f, pcMap[(f.Target-base)/4]); err != nil {
			return nil, err
		}
	}

	for i, w := range e.words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}

	c.logger.Debug("compiled image",
		"base", fmt.Sprintf("0x%08x", base),
		"instructions", n,
		"code_bytes", len(e.words)*4,
		"fixups", len(fixups))

	return &Result{
		Size:     len(e.words) * 4,
		PCMap:    pcMap,
		Routines: routines,
		Fixups:   len(fixups),
	}, nil
}

// patch rewrites a forward branch now that its target offset is known.
func (c *Compiler) patch(e *emitter, f pending, target uint32) error {
	offset := int64(target) - int64(f.site)*4

	var (
		word uint32
		err  error
	)
	switch f.Kind {
	case FixupB:
		word, err = arm64.B(offset)
	case FixupBCond:
		word, err = arm64.BCond(f.Cond, offset)
	}
	if err != nil {
		return fmt.Errorf("branch to 0x%08x: %w", f.Target, err)
	}

	e.words[f.site] = word
	return nil
}
