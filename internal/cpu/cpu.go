package cpu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"

	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/bus"
)

// CPSR flag bit positions.
const (
	flagN = 31
	flagZ = 30
	flagC = 29
	flagV = 28
	flagI = 7
	flagT = 5
)

// Slots in the 37-register file. 0..15 are the user-visible registers, the
// rest are the banked copies and saved status registers.
const (
	idxPC   = 15
	idxCPSR = 16

	idxR8Fiq  = 17 // r8_fiq..r12_fiq occupy 17..21
	idxR13Fiq = 22
	idxR13Svc = 23
	idxR13Abt = 24
	idxR13Irq = 25
	idxR13Und = 26
	idxR14Fiq = 27
	idxR14Svc = 28
	idxR14Abt = 29
	idxR14Irq = 30
	idxR14Und = 31

	idxSPSRFiq = 32
	idxSPSRSvc = 33
	idxSPSRAbt = 34
	idxSPSRIrq = 35
	idxSPSRUnd = 36
)

type opMode int

const (
	modeUsr opMode = iota
	modeFiq
	modeIrq
	modeSvc
	modeAbt
	modeSys
	modeUnd
	numModes
)

// regIndex maps a mode and an architectural register number to its file slot.
var regIndex = [numModes][16]int{
	modeUsr: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
	modeFiq: {0, 1, 2, 3, 4, 5, 6, 7, 17, 18, 19, 20, 21, idxR13Fiq, idxR14Fiq, 15},
	modeIrq: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, idxR13Irq, idxR14Irq, 15},
	modeSvc: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, idxR13Svc, idxR14Svc, 15},
	modeAbt: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, idxR13Abt, idxR14Abt, 15},
	modeSys: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
	modeUnd: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, idxR13Und, idxR14Und, 15},
}

// spsrIndex maps a mode to its SPSR slot; -1 for the modes without one.
var spsrIndex = [numModes]int{
	modeUsr: -1,
	modeFiq: idxSPSRFiq,
	modeIrq: idxSPSRIrq,
	modeSvc: idxSPSRSvc,
	modeAbt: idxSPSRAbt,
	modeSys: -1,
	modeUnd: idxSPSRUnd,
}

// haltSleepCycles is how long a halted core sleeps between wake checks.
const haltSleepCycles = 32

// CPU is an ARM7TDMI interpreter. PC is the fetch address of the instruction
// being executed; r15 in the register file carries the pipelined value the
// programmer observes (PC+8 in ARM state, PC+4 in Thumb state).
type CPU struct {
	bus *bus.Bus

	reg      [37]uint32
	PC       uint32
	pipeline []uint32
	instr    uint32
	mode     opMode

	// scratch shared by the data-processing helpers
	op1, op2     uint32
	rd           uint32
	shifterCarry uint32

	incPC      bool
	thumbFlags bool
	halted     bool
}

// New creates a core in System mode with the reset vector at 0.
func New(b *bus.Bus) *CPU {
	c := &CPU{bus: b, pipeline: make([]uint32, 0, 3)}
	c.setCPSR(0b11111)
	return c
}

// Bus exposes the underlying bus for tools and tests.
func (c *CPU) Bus() *bus.Bus { return c.bus }

// waitStates is the region cost of one access beyond the single cycle the
// flat instruction figures already include.
func (c *CPU) waitStates(addr uint32, word bool) uint32 {
	return bus.AccessCycles(addr, word) - 1
}

// Clock runs one scheduling step: take a pending interrupt, service DMA,
// sleep while halted, or execute one instruction. Returns consumed cycles.
func (c *CPU) Clock() uint32 {
	if c.bus.HaltPending {
		c.bus.HaltPending = false
		c.halted = true
	}
	if !c.flag(flagI) && c.bus.IRQPending() {
		c.halted = false
		return c.enterIRQ()
	}
	if c.bus.DMAPending() {
		return c.bus.RunDMA()
	}
	if c.halted {
		return haltSleepCycles
	}
	if c.flag(flagT) {
		return c.stepThumb()
	}
	return c.stepARM()
}

// Halted reports whether the core is sleeping until an interrupt.
func (c *CPU) Halted() bool { return c.halted }

// Reg reads an architectural register through the current mode's bank.
func (c *CPU) Reg(i uint32) uint32 { return c.readReg(i) }

// SetReg writes an architectural register through the current mode's bank.
func (c *CPU) SetReg(i, v uint32) { c.setReg(i, v) }

// CPSR returns the raw status register.
func (c *CPU) CPSR() uint32 { return c.reg[idxCPSR] }

func (c *CPU) flag(bit uint) bool {
	return c.reg[idxCPSR]>>bit&1 == 1
}

func (c *CPU) setFlag(bit uint, v bool) {
	if v {
		c.reg[idxCPSR] |= 1 << bit
	} else {
		c.reg[idxCPSR] &^= 1 << bit
	}
}

func (c *CPU) readReg(i uint32) uint32 {
	return c.reg[regIndex[c.mode][i]]
}

func (c *CPU) setReg(i, v uint32) {
	c.reg[regIndex[c.mode][i]] = v
}

func (c *CPU) setCPSR(v uint32) {
	c.reg[idxCPSR] = v
	switch v & 0b11111 {
	case 0b10000:
		c.mode = modeUsr
	case 0b10001:
		c.mode = modeFiq
	case 0b10010:
		c.mode = modeIrq
	case 0b10011:
		c.mode = modeSvc
	case 0b10111:
		c.mode = modeAbt
	case 0b11011:
		c.mode = modeUnd
	case 0b11111:
		c.mode = modeSys
	default:
		log.Printf("cpu: invalid mode bits %#07b at pc %#x", v&0b11111, c.PC)
		c.mode = modeSys
	}
}

// restoreSPSR copies the current mode's SPSR into the CPSR; exception returns
// rely on it. Modes without an SPSR leave the CPSR alone.
func (c *CPU) restoreSPSR() {
	if s := spsrIndex[c.mode]; s >= 0 {
		c.setCPSR(c.reg[s])
	}
}

func (c *CPU) flushPipeline() {
	c.pipeline = c.pipeline[:0]
	c.incPC = false
}

func (c *CPU) popPipeline() uint32 {
	v := c.pipeline[0]
	copy(c.pipeline, c.pipeline[1:])
	c.pipeline = c.pipeline[:len(c.pipeline)-1]
	return v
}

// condPassed evaluates an ARM condition code against the flags.
func (c *CPU) condPassed(cond uint32) bool {
	switch cond {
	case 0b0000:
		return c.flag(flagZ)
	case 0b0001:
		return !c.flag(flagZ)
	case 0b0010:
		return c.flag(flagC)
	case 0b0011:
		return !c.flag(flagC)
	case 0b0100:
		return c.flag(flagN)
	case 0b0101:
		return !c.flag(flagN)
	case 0b0110:
		return c.flag(flagV)
	case 0b0111:
		return !c.flag(flagV)
	case 0b1000:
		return c.flag(flagC) && !c.flag(flagZ)
	case 0b1001:
		return !c.flag(flagC) || c.flag(flagZ)
	case 0b1010:
		return c.flag(flagN) == c.flag(flagV)
	case 0b1011:
		return c.flag(flagN) != c.flag(flagV)
	case 0b1100:
		return !c.flag(flagZ) && c.flag(flagN) == c.flag(flagV)
	case 0b1101:
		return c.flag(flagZ) || c.flag(flagN) != c.flag(flagV)
	case 0b1110:
		return true
	default:
		log.Printf("cpu: invalid condition field, instr %#010x at pc %#x", c.instr, c.PC)
		return false
	}
}

// enterIRQ takes the hardware interrupt vector in IRQ mode.
func (c *CPU) enterIRQ() uint32 {
	c.reg[idxR14Irq] = c.PC + 4
	cpsr := c.reg[idxCPSR]
	c.reg[idxSPSRIrq] = cpsr
	c.PC = 0x18
	c.flushPipeline()

	cpsr &^= 1 << flagT
	cpsr = cpsr&^0b11111 | 0b10010
	cpsr |= 1 << flagI
	c.setCPSR(cpsr)
	return 3
}

// enterSWI takes the software interrupt vector in Supervisor mode.
func (c *CPU) enterSWI() uint32 {
	if c.flag(flagT) {
		c.reg[idxR14Svc] = c.PC + 2
	} else {
		c.reg[idxR14Svc] = c.PC + 4
	}
	cpsr := c.reg[idxCPSR]
	c.reg[idxSPSRSvc] = cpsr
	c.PC = 0x8
	c.flushPipeline()

	cpsr &^= 1 << flagT
	cpsr = cpsr&^0b11111 | 0b10011
	cpsr |= 1 << flagI
	c.setCPSR(cpsr)
	return 3
}

type cpuState struct {
	Reg      [37]uint32
	PC       uint32
	Pipeline []uint32
	Mode     int
	Halted   bool
}

func (c *CPU) SaveState() ([]byte, error) {
	st := cpuState{
		Reg:      c.reg,
		PC:       c.PC,
		Pipeline: append([]uint32(nil), c.pipeline...),
		Mode:     int(c.mode),
		Halted:   c.halted,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&st); err != nil {
		return nil, fmt.Errorf("encode cpu state: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *CPU) LoadState(data []byte) error {
	var st cpuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return fmt.Errorf("decode cpu state: %w", err)
	}
	if st.Mode < 0 || st.Mode >= int(numModes) {
		return fmt.Errorf("cpu state has invalid mode %d", st.Mode)
	}
	c.reg = st.Reg
	c.PC = st.PC
	c.pipeline = append(c.pipeline[:0], st.Pipeline...)
	c.mode = opMode(st.Mode)
	c.halted = st.Halted
	return nil
}
