package uevent

import (
	"sort"

	"golang.org/x/sys/unix"
)

// Classic BPF opcodes, as used by Linux socket filters (SO_ATTACH_FILTER).
// These are the raw ISA constants from linux/filter.h - not general-purpose
// assembler support - kept local and minimal on purpose: the jump
// arithmetic below is simple enough that pulling in a full BPF builder
// would only hide the one invariant that actually matters, namely that
// every jt/jf offset must still fit a uint8 once instructions are counted.
const (
	bpfLD  = 0x00
	bpfJMP = 0x05
	bpfRET = 0x06
	bpfALU = 0x04

	bpfW   = 0x00
	bpfABS = 0x20

	bpfJEQ = 0x10
	bpfK   = 0x00
	bpfAND = 0x50
)

func bpfStmt(code uint16, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k}
}

func bpfJump(code uint16, k uint32, jt, jf uint8) unix.SockFilter {
	return unix.SockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// asm accumulates a classic BPF program and resolves a small number of
// forward jumps in a second pass: instructions are appended as they are
// decided, and any jump whose target isn't known yet records its
// instruction index against a label name. resolve then back-fills Jt
// once that label's final index is known. Every patched jump in this
// compiler is a "branch forward on success, fall through to the next
// instruction on failure" branch, so only Jt ever needs patching.
type asm struct {
	ins   []unix.SockFilter
	patch map[string][]int
}

func newAsm() *asm {
	return &asm{patch: make(map[string][]int)}
}

func (a *asm) emit(f unix.SockFilter) int {
	a.ins = append(a.ins, f)
	return len(a.ins) - 1
}

// jumpTo emits a jump instruction whose success branch (Jt) targets
// label, resolved later via resolve; the failure branch (Jf) falls
// through to the next instruction.
func (a *asm) jumpTo(code uint16, k uint32, label string) {
	idx := a.emit(bpfJump(code, k, 0, 0))
	a.patch[label] = append(a.patch[label], idx)
}

// here returns the index the next emitted instruction will have.
func (a *asm) here() int { return len(a.ins) }

// resolve back-patches every jump recorded against label to land on
// targetIdx, the instruction index to resume at.
func (a *asm) resolve(label string, targetIdx int) error {
	for _, idx := range a.patch[label] {
		off := targetIdx - (idx + 1)
		if off < 0 || off > 0xff {
			return &ArgumentError{Msg: "compiled filter program has a jump out of range"}
		}
		a.ins[idx].Jt = uint8(off)
	}
	delete(a.patch, label)
	return nil
}

// compileFilter translates a subsystem/devtype filter and a tag filter
// into a classic BPF program. subsystems maps subsystem name to an
// optional devtype (nil means "any devtype"). The caller (Monitor)
// skips calling this entirely when both collections are empty; an empty
// program is never returned here. Keys are sorted before emission so that
// two calls with the same input always produce byte-identical programs
// (property: filter idempotence).
func compileFilter(subsystems map[string]*string, tags map[string]struct{}) ([]unix.SockFilter, error) {
	a := newAsm()

	// 1. Magic guard: kernel-format datagrams carry no magic, and must
	// still reach the receive path, so a mismatch passes the whole
	// packet up rather than dropping it.
	a.emit(bpfStmt(bpfLD|bpfW|bpfABS, offMagic))
	a.emit(bpfJump(bpfJMP|bpfJEQ|bpfK, magic, 1, 0))
	a.emit(bpfStmt(bpfRET|bpfK, 0xffffffff))

	// 2. Tag-filter block, only if non-empty. A tag match jumps past the
	// whole block to wherever subsystem filtering (or the final pass)
	// begins; no match falls through to a drop.
	if len(tags) > 0 {
		sorted := make([]string, 0, len(tags))
		for tag := range tags {
			sorted = append(sorted, tag)
		}
		sort.Strings(sorted)

		for _, tag := range sorted {
			b := bloom64(tag)
			hi, lo := uint32(b>>32), uint32(b)

			// hi mismatch: skip the three lo-check instructions below and
			// land on the next tag's block (or the trailing drop, for the
			// last tag). hi match: fall through and check lo too.
			a.emit(bpfStmt(bpfLD|bpfW|bpfABS, offTagBloomHi))
			a.emit(bpfStmt(bpfALU|bpfAND|bpfK, hi))
			a.emit(bpfJump(bpfJMP|bpfJEQ|bpfK, hi, 0, 3))

			a.emit(bpfStmt(bpfLD|bpfW|bpfABS, offTagBloomLo))
			a.emit(bpfStmt(bpfALU|bpfAND|bpfK, lo))
			a.jumpTo(bpfJMP|bpfJEQ|bpfK, lo, "afterTagBlock")
		}
		a.emit(bpfStmt(bpfRET|bpfK, 0))
	}
	if err := a.resolve("afterTagBlock", a.here()); err != nil {
		return nil, err
	}

	// 3. Subsystem-filter block, only if non-empty. A fully matching
	// entry jumps straight to the final pass instruction; no match falls
	// through to a drop.
	if len(subsystems) > 0 {
		sorted := make([]string, 0, len(subsystems))
		for subsystem := range subsystems {
			sorted = append(sorted, subsystem)
		}
		sort.Strings(sorted)

		for _, subsystem := range sorted {
			devtype := subsystems[subsystem]
			subHash := h32(subsystem)

			a.emit(bpfStmt(bpfLD|bpfW|bpfABS, offSubsystemHash))
			if devtype == nil {
				// No match: Jf=0 falls straight through to the next
				// entry's load (or the trailing drop, if this was the
				// last entry).
				a.jumpTo(bpfJMP|bpfJEQ|bpfK, subHash, "pass")
			} else {
				// Subsystem matched: fall through (Jt=0) into the
				// devtype check. Subsystem didn't match: skip the two
				// devtype-check instructions that follow and land on
				// the next entry.
				a.emit(bpfJump(bpfJMP|bpfJEQ|bpfK, subHash, 0, 2))

				a.emit(bpfStmt(bpfLD|bpfW|bpfABS, offDevtypeHash))
				a.jumpTo(bpfJMP|bpfJEQ|bpfK, h32(*devtype), "pass")
			}
		}
		a.emit(bpfStmt(bpfRET|bpfK, 0))
	}

	passIdx := a.here()
	a.emit(bpfStmt(bpfRET|bpfK, 0xffffffff))
	if err := a.resolve("pass", passIdx); err != nil {
		return nil, err
	}

	prog := a.ins
	if len(prog) > maxFilterInstructions {
		return nil, &ArgumentError{Msg: "compiled filter program exceeds the kernel instruction limit"}
	}
	return prog, nil
}

