package cpu

import (
	"encoding/binary"
	"testing"

	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/apu"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/bus"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/cart"
)

// newTestCPU loads a word program at the start of the cartridge space and
// points the core at it.
func newTestCPU(words ...uint32) *CPU {
	rom := make([]byte, 0x1000)
	for i, w := range words {
		binary.LittleEndian.PutUint32(rom[i*4:], w)
	}
	b := bus.New(make([]byte, 0x4000), rom, cart.NewSRAM(), apu.New(48000))
	c := New(b)
	c.PC = 0x08000000
	return c
}

// newIWRAMCPU places the program in zero-wait internal RAM, where the flat
// cycle figures hold exactly.
func newIWRAMCPU(words ...uint32) *CPU {
	b := bus.New(make([]byte, 0x4000), make([]byte, 0x1000), cart.NewSRAM(), apu.New(48000))
	c := New(b)
	c.PC = 0x03000000
	for i, w := range words {
		b.WriteWord(0x03000000+uint32(i)*4, w)
	}
	return c
}

func newThumbCPU(halves ...uint16) *CPU {
	rom := make([]byte, 0x1000)
	for i, h := range halves {
		binary.LittleEndian.PutUint16(rom[i*2:], h)
	}
	b := bus.New(make([]byte, 0x4000), rom, cart.NewSRAM(), apu.New(48000))
	c := New(b)
	c.PC = 0x08000000
	c.setFlag(flagT, true)
	return c
}

func TestARMMovImmediate(t *testing.T) {
	c := newTestCPU(0xE3A00001) // mov r0, #1
	c.Clock()
	if got := c.Reg(0); got != 1 {
		t.Fatalf("r0 = %d, want 1", got)
	}
	if c.PC != 0x08000004 {
		t.Fatalf("pc = %#x, want next instruction", c.PC)
	}
}

func TestARMAddSetsCarryAndZero(t *testing.T) {
	c := newTestCPU(0xE0910002) // adds r0, r1, r2
	c.SetReg(1, 0xFFFFFFFF)
	c.SetReg(2, 1)
	c.Clock()
	if got := c.Reg(0); got != 0 {
		t.Fatalf("r0 = %#x, want 0", got)
	}
	if !c.flag(flagZ) || !c.flag(flagC) {
		t.Fatalf("Z=%v C=%v, want both set", c.flag(flagZ), c.flag(flagC))
	}
	if c.flag(flagN) || c.flag(flagV) {
		t.Fatal("N or V set on unsigned wraparound to zero")
	}
}

func TestARMSubBorrowFlags(t *testing.T) {
	c := newTestCPU(0xE0510002) // subs r0, r1, r2
	c.SetReg(1, 1)
	c.SetReg(2, 2)
	c.Clock()
	if got := c.Reg(0); got != 0xFFFFFFFF {
		t.Fatalf("r0 = %#x", got)
	}
	// C clear means a borrow happened
	if c.flag(flagC) || !c.flag(flagN) {
		t.Fatalf("C=%v N=%v after borrowing subtract", c.flag(flagC), c.flag(flagN))
	}
}

func TestARMCmpImmediate(t *testing.T) {
	c := newTestCPU(0xE3500001) // cmp r0, #1
	c.SetReg(0, 1)
	c.Clock()
	if !c.flag(flagZ) || !c.flag(flagC) {
		t.Fatal("equal compare should set Z and C")
	}
}

func TestARMConditionFailSkips(t *testing.T) {
	c := newIWRAMCPU(0x03A00007) // moveq r0, #7 with Z clear
	if cycles := c.Clock(); cycles != 1 {
		t.Fatalf("skipped instruction took %d cycles", cycles)
	}
	if c.Reg(0) != 0 {
		t.Fatal("condition-failed instruction wrote its result")
	}
}

func TestFetchWaitStatesByRegion(t *testing.T) {
	// the same skipped instruction costs one fetch, and a fetch from the
	// cartridge bus is slower than one from internal RAM
	rom := newTestCPU(0x03A00007)
	iwram := newIWRAMCPU(0x03A00007)
	romCycles, iwramCycles := rom.Clock(), iwram.Clock()
	if iwramCycles != 1 {
		t.Fatalf("internal RAM fetch took %d cycles, want 1", iwramCycles)
	}
	if romCycles <= iwramCycles {
		t.Fatalf("rom fetch took %d cycles, internal RAM %d", romCycles, iwramCycles)
	}
}

func TestDataAccessWaitStatesByRegion(t *testing.T) {
	// ldr r0, [r1]; a word access to external RAM carries 5 wait states
	// over the same access to internal RAM
	fast := newIWRAMCPU(0xE5910000)
	fast.SetReg(1, 0x03000100)
	slow := newIWRAMCPU(0xE5910000)
	slow.SetReg(1, 0x02000000)
	f, s := fast.Clock(), slow.Clock()
	if s != f+5 {
		t.Fatalf("external RAM load took %d cycles, internal %d, want +5", s, f)
	}
}

func TestARMBranch(t *testing.T) {
	c := newTestCPU(0xEA000002) // b +16 (two words past the pipeline)
	c.Clock()
	if c.PC != 0x08000010 {
		t.Fatalf("pc = %#x, want 0x08000010", c.PC)
	}
}

func TestARMBranchLink(t *testing.T) {
	c := newTestCPU(0xEB000002)
	c.Clock()
	if got := c.Reg(14); got != 0x08000004 {
		t.Fatalf("lr = %#x, want return address", got)
	}
	if c.PC != 0x08000010 {
		t.Fatalf("pc = %#x", c.PC)
	}
}

func TestARMBranchExchangeToThumb(t *testing.T) {
	c := newTestCPU(0xE12FFF10) // bx r0
	c.SetReg(0, 0x08000101)
	c.Clock()
	if !c.flag(flagT) {
		t.Fatal("T flag not set by bx to odd address")
	}
	if c.PC != 0x08000100 {
		t.Fatalf("pc = %#x, want halfword-aligned target", c.PC)
	}
}

func TestARMBarrelShifterCarry(t *testing.T) {
	// movs r0, r1, lsl #1 with the top bit set leaves it in C
	c := newTestCPU(0xE1B00081)
	c.SetReg(1, 0x80000001)
	c.Clock()
	if got := c.Reg(0); got != 2 {
		t.Fatalf("r0 = %#x, want 2", got)
	}
	if !c.flag(flagC) {
		t.Fatal("shifted-out bit not in C")
	}
}

func TestARMLoadStoreWord(t *testing.T) {
	c := newTestCPU(
		0xE5810000, // str r0, [r1]
		0xE5912000, // ldr r2, [r1]
	)
	c.SetReg(0, 0xCAFEF00D)
	c.SetReg(1, 0x02000000)
	c.Clock()
	c.Clock()
	if got := c.Reg(2); got != 0xCAFEF00D {
		t.Fatalf("r2 = %#x", got)
	}
}

func TestARMLoadRotatesUnaligned(t *testing.T) {
	c := newTestCPU(0xE5910000) // ldr r0, [r1]
	c.Bus().WriteWord(0x02000000, 0x11223344)
	c.SetReg(1, 0x02000001)
	c.Clock()
	// a word load from offset 1 rotates the value right by 8
	if got := c.Reg(0); got != 0x44112233 {
		t.Fatalf("r0 = %#x, want rotated word", got)
	}
}

func TestARMHalfwordSignExtend(t *testing.T) {
	c := newTestCPU(0xE1D100F0) // ldrsh r0, [r1]
	c.Bus().WriteHalf(0x02000000, 0x8001)
	c.SetReg(1, 0x02000000)
	c.Clock()
	if got := c.Reg(0); got != 0xFFFF8001 {
		t.Fatalf("r0 = %#x, want sign-extended halfword", got)
	}
}

func TestARMBlockTransferWriteback(t *testing.T) {
	c := newTestCPU(0xE8AD0003) // stmia r13!, {r0, r1}
	c.SetReg(0, 0x11111111)
	c.SetReg(1, 0x22222222)
	c.SetReg(13, 0x03000000)
	c.Clock()
	b := c.Bus()
	if b.ReadWord(0x03000000) != 0x11111111 || b.ReadWord(0x03000004) != 0x22222222 {
		t.Fatal("block store wrote wrong words")
	}
	if got := c.Reg(13); got != 0x03000008 {
		t.Fatalf("base after writeback = %#x", got)
	}
}

func TestARMMultiply(t *testing.T) {
	c := newTestCPU(0xE0000291) // mul r0, r1, r2
	c.SetReg(1, 3)
	c.SetReg(2, 4)
	c.Clock()
	if got := c.Reg(0); got != 12 {
		t.Fatalf("r0 = %d, want 12", got)
	}
}

func TestARMMultiplyLongSigned(t *testing.T) {
	c := newTestCPU(0xE0C10392) // smull r0, r1, r2, r3
	c.SetReg(2, 0xFFFFFFFF) // -1
	c.SetReg(3, 2)
	c.Clock()
	if lo, hi := c.Reg(0), c.Reg(1); lo != 0xFFFFFFFE || hi != 0xFFFFFFFF {
		t.Fatalf("result = %#x:%#x, want -2", hi, lo)
	}
}

func TestARMSwap(t *testing.T) {
	c := newTestCPU(0xE1010092) // swp r0, r2, [r1]
	c.Bus().WriteWord(0x02000000, 0xAAAAAAAA)
	c.SetReg(1, 0x02000000)
	c.SetReg(2, 0xBBBBBBBB)
	c.Clock()
	if c.Reg(0) != 0xAAAAAAAA {
		t.Fatalf("r0 = %#x", c.Reg(0))
	}
	if got := c.Bus().ReadWord(0x02000000); got != 0xBBBBBBBB {
		t.Fatalf("memory = %#x after swap", got)
	}
}

func TestARMSoftwareInterrupt(t *testing.T) {
	c := newTestCPU(0xEF000000)
	c.Clock()
	if c.PC != 0x8 {
		t.Fatalf("pc = %#x, want swi vector", c.PC)
	}
	if c.mode != modeSvc {
		t.Fatal("not in supervisor mode")
	}
	if c.reg[idxR14Svc] != 0x08000004 {
		t.Fatalf("svc lr = %#x", c.reg[idxR14Svc])
	}
	if !c.flag(flagI) {
		t.Fatal("interrupts not disabled on swi entry")
	}
}

func TestMSRSwitchesMode(t *testing.T) {
	c := newTestCPU(0xE129F000) // msr cpsr_fc, r0
	c.SetReg(0, 0b10010)        // irq mode, arm state
	c.Clock()
	if c.mode != modeIrq {
		t.Fatal("mode not switched by msr")
	}
}

func TestBankedStackPointers(t *testing.T) {
	c := newTestCPU(0xE129F000) // msr cpsr_fc, r0
	c.SetReg(13, 0x03007F00)
	c.SetReg(0, 0b10010)
	c.Clock()
	// r13 now reads the IRQ bank, untouched so far
	c.SetReg(13, 0x03007FA0)
	if c.reg[13] != 0x03007F00 {
		t.Fatal("user sp clobbered by banked write")
	}
	if c.reg[idxR13Irq] != 0x03007FA0 {
		t.Fatal("irq sp not written through the bank")
	}
}

func TestHardwareInterrupt(t *testing.T) {
	c := newTestCPU(0xE3A00001)
	b := c.Bus()
	b.WriteHalf(0x04000200, 1) // IE: vblank
	b.WriteHalf(0x04000208, 1) // IME
	b.RaiseIRQ(1)
	oldCPSR := c.CPSR()
	c.Clock()
	if c.PC != 0x18 {
		t.Fatalf("pc = %#x, want irq vector", c.PC)
	}
	if c.mode != modeIrq || !c.flag(flagI) {
		t.Fatal("irq entry state wrong")
	}
	if c.reg[idxSPSRIrq] != oldCPSR {
		t.Fatal("cpsr not saved to spsr_irq")
	}
	if c.reg[idxR14Irq] != 0x08000004 {
		t.Fatalf("irq lr = %#x", c.reg[idxR14Irq])
	}
}

func TestHaltSleepsUntilInterrupt(t *testing.T) {
	c := newTestCPU(0xE3A00001)
	b := c.Bus()
	b.WriteByte(0x04000301, 0)
	if cycles := c.Clock(); cycles != haltSleepCycles {
		t.Fatalf("halted clock took %d cycles", cycles)
	}
	if !c.Halted() {
		t.Fatal("halt request not honored")
	}
	b.WriteHalf(0x04000200, 1)
	b.WriteHalf(0x04000208, 1)
	b.RaiseIRQ(1)
	c.Clock()
	if c.Halted() {
		t.Fatal("interrupt did not wake the core")
	}
}

func TestClockRunsPendingDMAFirst(t *testing.T) {
	c := newTestCPU(0xE3A00001)
	b := c.Bus()
	b.WriteWord(0x02000000, 0x12345678)
	b.WriteWord(0x040000B0, 0x02000000)
	b.WriteWord(0x040000B4, 0x03000000)
	b.WriteWord(0x040000B8, 1|1<<26|1<<31)
	c.Clock()
	if got := b.ReadWord(0x03000000); got != 0x12345678 {
		t.Fatal("dma did not run before execution")
	}
	// the instruction itself has not executed yet
	if c.Reg(0) != 0 {
		t.Fatal("instruction ran in the same step as dma")
	}
}

func TestThumbMovAddImmediate(t *testing.T) {
	c := newThumbCPU(0x2005, 0x3003) // mov r0, #5; add r0, #3
	c.Clock()
	c.Clock()
	if got := c.Reg(0); got != 8 {
		t.Fatalf("r0 = %d, want 8", got)
	}
	if c.PC != 0x08000004 {
		t.Fatalf("pc = %#x", c.PC)
	}
}

func TestThumbShiftImmediate(t *testing.T) {
	c := newThumbCPU(0x0088) // lsl r0, r1, #2
	c.SetReg(1, 3)
	c.Clock()
	if got := c.Reg(0); got != 12 {
		t.Fatalf("r0 = %d, want 12", got)
	}
}

func TestThumbLoadStoreSP(t *testing.T) {
	c := newThumbCPU(
		0x9001, // str r0, [sp, #4]
		0x9901, // ldr r1, [sp, #4]
	)
	c.SetReg(13, 0x03000000)
	c.SetReg(0, 0xDEADBEEF)
	c.Clock()
	c.Clock()
	if got := c.Reg(1); got != 0xDEADBEEF {
		t.Fatalf("r1 = %#x", got)
	}
}

func TestThumbPushPop(t *testing.T) {
	c := newThumbCPU(
		0xB503, // push {r0, r1, lr}
		0xBD03, // pop {r0, r1, pc}
	)
	c.SetReg(13, 0x03000020)
	c.SetReg(0, 0xAA)
	c.SetReg(1, 0xBB)
	c.SetReg(14, 0x08000100)
	c.Clock()
	if got := c.Reg(13); got != 0x03000014 {
		t.Fatalf("sp after push = %#x", got)
	}
	c.SetReg(0, 0)
	c.SetReg(1, 0)
	c.Clock()
	if c.Reg(0) != 0xAA || c.Reg(1) != 0xBB {
		t.Fatal("pop restored wrong values")
	}
	if c.PC != 0x08000100 {
		t.Fatalf("pc after pop = %#x", c.PC)
	}
	if got := c.Reg(13); got != 0x03000020 {
		t.Fatalf("sp after pop = %#x", got)
	}
}

func TestThumbCondBranch(t *testing.T) {
	c := newThumbCPU(
		0x2800, // cmp r0, #0
		0xD001, // beq +2 halfwords
	)
	c.Clock()
	c.Clock()
	// target = pc of branch + 4 + 2
	if c.PC != 0x08000008 {
		t.Fatalf("pc = %#x, want branch target", c.PC)
	}
}

func TestThumbCondBranchBackward(t *testing.T) {
	c := newThumbCPU(
		0x2800, // cmp r0, #0
		0xD0FD, // beq -3 halfwords, back to the cmp
	)
	c.Clock()
	c.Clock()
	if c.PC != 0x08000000 {
		t.Fatalf("pc = %#x, want loop head", c.PC)
	}
}

func TestThumbBranchBackward(t *testing.T) {
	c := newThumbCPU(
		0x46C0, // nop (mov r8, r8)
		0xE7FE, // b -2 halfwords, onto itself
	)
	c.Clock()
	c.Clock()
	if c.PC != 0x08000002 {
		t.Fatalf("pc = %#x, want the branch itself", c.PC)
	}
}

func TestThumbLongBranchLink(t *testing.T) {
	c := newThumbCPU(0xF000, 0xF801) // bl +2
	c.Clock()
	c.Clock()
	if c.PC != 0x08000006 {
		t.Fatalf("pc = %#x, want bl target", c.PC)
	}
	if got := c.Reg(14); got != 0x08000005 {
		t.Fatalf("lr = %#x, want return address with thumb bit", got)
	}
}

func TestThumbHiRegisterAdd(t *testing.T) {
	c := newThumbCPU(0x4448) // add r0, r9
	c.SetReg(0, 1)
	c.SetReg(9, 2)
	oldCPSR := c.CPSR()
	c.Clock()
	if got := c.Reg(0); got != 3 {
		t.Fatalf("r0 = %d, want 3", got)
	}
	if c.CPSR() != oldCPSR {
		t.Fatal("hi-register add must not touch the flags")
	}
}

func TestPipelineRefillAfterBranch(t *testing.T) {
	c := newTestCPU(
		0xEA000000, // b +8
		0xE3A00063, // mov r0, #99 (skipped)
		0xE3A00007, // mov r0, #7 (target)
	)
	c.Clock()
	c.Clock()
	if got := c.Reg(0); got != 7 {
		t.Fatalf("r0 = %d, want the branch target's value", got)
	}
}

func TestCPUSaveLoadRoundTrip(t *testing.T) {
	c := newTestCPU(0xE3A00001, 0xE3A01002)
	c.Clock()
	snap, err := c.SaveState()
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	nc := newTestCPU(0xE3A00001, 0xE3A01002)
	if err := nc.LoadState(snap); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if nc.PC != c.PC || nc.Reg(0) != 1 {
		t.Fatal("restored state differs")
	}
	nc.Clock()
	if got := nc.Reg(1); got != 2 {
		t.Fatalf("r1 = %d after resuming", got)
	}
}
