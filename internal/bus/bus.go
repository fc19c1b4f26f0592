package bus

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/apu"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/cart"
)

// memory regions, one backing slice each
const (
	regBIOS = iota
	regEWRAM
	regIWRAM
	regIO
	regPalette
	regVRAM
	regOAM
	regROM
	numRegions

	regBackup  = numRegions // routed to the cartridge backup device
	regIllegal = -1
)

var regionSizes = [numRegions]int{
	regBIOS:    0x4000,
	regEWRAM:   0x40000,
	regIWRAM:   0x8000,
	regIO:      0x400,
	regPalette: 0x400,
	regVRAM:    0x18000,
	regOAM:     0x400,
	regROM:     0x2000000,
}

// Bus owns system memory, the IO register file and the peripherals that live
// behind it (timers, DMA, the APU's register-triggered side), and routes every
// CPU and DMA access. The CPU and PPU are external and reach it through
// exported methods.
type Bus struct {
	mem    [numRegions][]byte
	backup cart.Backup
	apu    *apu.APU

	timers [4]Timer
	dma    [4]dmaChannel

	// one-shot DMA trigger edges, set by the PPU and consumed by RunDMA
	HBlankDMA bool
	VBlankDMA bool

	// set by a write to HALTCNT, consumed by the CPU
	HaltPending bool

	// last fetched opcode feeds open-bus reads; the BIOS copy feeds the
	// BIOS read guard
	lastFetch     uint32
	lastBIOSFetch uint32
	fetchPC       uint32

	anyTimerActive bool
	anyDMAActive   bool
}

// New wires up a bus with firmware and game image copied into place. The
// caller keeps ownership of the backup device for battery persistence.
func New(bios, rom []byte, backup cart.Backup, a *apu.APU) *Bus {
	b := &Bus{backup: backup, apu: a}
	for r := 0; r < numRegions; r++ {
		b.mem[r] = make([]byte, regionSizes[r])
	}
	copy(b.mem[regBIOS], bios)
	copy(b.mem[regROM], rom)
	// keypad reads active-low, all released
	b.storeRawHalf(0x130, 0x3FF)
	return b
}

// NoteFetch records an opcode fetch; pc is the fetch address before pipeline
// offsets. Reads that hit no device replay these bytes.
func (b *Bus) NoteFetch(pc, opcode uint32) {
	b.lastFetch = opcode
	b.fetchPC = pc
	if pc < 0x4000 {
		b.lastBIOSFetch = opcode
	}
}

// decode maps a full 32-bit address onto a region and an offset inside it.
func (b *Bus) decode(addr uint32, width uint32, isRead bool) (uint32, int) {
	switch addr >> 24 {
	case 0, 1:
		if addr >= 0x4000 {
			return addr, regIllegal
		}
		return addr, regBIOS
	case 2:
		return addr & 0x3FFFF, regEWRAM
	case 3:
		return addr & 0x7FFF, regIWRAM
	case 4:
		if addr >= 0x04000400 {
			return addr, regIllegal
		}
		return addr & 0x3FF, regIO
	case 5:
		if !isRead && width == 1 {
			return 0, regIllegal
		}
		return addr & 0x3FF, regPalette
	case 6:
		if !isRead && width == 1 {
			return 0, regIllegal
		}
		m := addr & 0x1FFFF
		if m >= 0x18000 {
			m -= 0x8000
		}
		return m, regVRAM
	case 7:
		if !isRead && width == 1 {
			return 0, regIllegal
		}
		return addr & 0x3FF, regOAM
	case 8, 9, 0xA, 0xB, 0xC, 0xD:
		if !isRead {
			return 0, regIllegal
		}
		return addr & 0x1FFFFFF, regROM
	case 0xE, 0xF:
		return addr & 0xFFFF, regBackup
	default:
		return 0, regIllegal
	}
}

func (b *Bus) ReadByte(addr uint32) byte {
	off, region := b.decode(addr, 1, true)
	return b.readInternal(addr, off, region)
}

func (b *Bus) ReadHalf(addr uint32) uint16 {
	addr &^= 1
	off, region := b.decode(addr, 2, true)
	return uint16(b.readInternal(addr, off, region)) |
		uint16(b.readInternal(addr+1, off+1, region))<<8
}

func (b *Bus) ReadWord(addr uint32) uint32 {
	addr &^= 3
	off, region := b.decode(addr, 4, true)
	return uint32(b.readInternal(addr, off, region)) |
		uint32(b.readInternal(addr+1, off+1, region))<<8 |
		uint32(b.readInternal(addr+2, off+2, region))<<16 |
		uint32(b.readInternal(addr+3, off+3, region))<<24
}

func (b *Bus) WriteByte(addr uint32, v byte) {
	off, region := b.decode(addr, 1, false)
	b.writeInternal(off, region, v)
}

func (b *Bus) WriteHalf(addr uint32, v uint16) {
	addr &^= 1
	off, region := b.decode(addr, 2, false)
	b.writeInternal(off, region, byte(v))
	b.writeInternal(off+1, region, byte(v>>8))
}

func (b *Bus) WriteWord(addr uint32, v uint32) {
	addr &^= 3
	off, region := b.decode(addr, 4, false)
	b.writeInternal(off, region, byte(v))
	b.writeInternal(off+1, region, byte(v>>8))
	b.writeInternal(off+2, region, byte(v>>16))
	b.writeInternal(off+3, region, byte(v>>24))
}

func (b *Bus) readInternal(addr, off uint32, region int) byte {
	switch region {
	case regIO:
		// timer counters are live, not memory-backed
		if off >= 0x100 && off <= 0x10D && off&2 == 0 {
			t := &b.timers[(off-0x100)>>2]
			if off&1 == 0 {
				return byte(t.Count)
			}
			return byte(t.Count >> 8)
		}
		return b.mem[regIO][off]
	case regBIOS:
		// the BIOS is readable only while executing inside it; otherwise
		// the last opcode fetched there is replayed
		if b.fetchPC >= 0x4000 {
			return byte(b.lastBIOSFetch >> ((off & 3) << 3))
		}
		return b.mem[regBIOS][off]
	case regROM:
		if addr>>24 == 0xD && b.backup.Kind() == cart.BackupEEPROM {
			// the EEPROM window answers with its ready bit outside the
			// serial protocol
			return b.backup.Read(addr)
		}
		return b.mem[regROM][off]
	case regBackup:
		return b.backup.Read(off)
	case regIllegal:
		return byte(b.lastFetch >> ((addr & 3) << 3))
	default:
		return b.mem[region][off]
	}
}

func (b *Bus) writeInternal(off uint32, region int, v byte) {
	switch region {
	case regIO:
		b.writeIO(off, v)
	case regBackup:
		b.backup.Write(off, v)
	case regIllegal, regBIOS, regROM:
		// dropped
	default:
		b.mem[region][off] = v
	}
}

// writeIO applies register side effects, then stores the byte unless the
// register is handled entirely out of band.
func (b *Bus) writeIO(off uint32, v byte) {
	switch {
	case off == 0x301:
		if v>>7 == 0 {
			b.HaltPending = true
		}
		// bit 7 requests STOP; nothing here needs it yet

	case off == 0x202 || off == 0x203:
		// writing 1 bits acknowledges (clears) pending interrupts
		b.mem[regIO][off] ^= v
		return

	case off == 0xBB || off == 0xC7 || off == 0xD3 || off == 0xDF:
		old := b.mem[regIO][off]
		b.mem[regIO][off] = v
		n := int(off-0xBB) / 12
		if v>>7 == 1 && old>>7 == 0 {
			b.dma[n] = b.enableDMA(n)
		} else if v>>7 == 0 {
			b.dma[n] = dmaChannel{No: n}
		} else {
			return
		}
		b.refreshDMAActive()
		return

	case off >= 0x100 && off <= 0x10D && off&2 == 0:
		// reload value; the live counter is untouched until overflow
		t := &b.timers[(off-0x100)>>2]
		if off&1 == 0 {
			t.Reload = t.Reload&0xFF00 | uint16(v)
		} else {
			t.Reload = t.Reload&0x00FF | uint16(v)<<8
		}

	case off == 0x102 || off == 0x106 || off == 0x10A || off == 0x10E:
		t := &b.timers[(off-0x102)>>2]
		t.setPeriod(v & 3)
		t.Cascading = v>>2&1 == 1
		t.IRQ = v>>6&1 == 1
		t.setEnabled(v>>7&1 == 1)
		b.refreshTimerActive()

	case off == 0x65 || off == 0x6D:
		b.mem[regIO][off] = v
		if v>>7 == 1 {
			n := 0
			if off == 0x6D {
				n = 1
			}
			b.apu.ResetSquare(n, b.IORegs())
		}
		return

	case off == 0x75:
		b.mem[regIO][off] = v
		if v>>7 == 1 {
			b.apu.ResetWave(b.IORegs())
		}
		return

	case off == 0x7D:
		b.mem[regIO][off] = v
		if v>>7 == 1 {
			b.apu.ResetNoise(b.IORegs())
		}
		return

	case off == 0x83:
		b.apu.ConfigureDirectSound(v)

	case off >= 0xA0 && off <= 0xA7:
		b.apu.PushFIFO(int(off-0xA0)>>2, int8(v))
		return

	case off >= 0x90 && off <= 0x9F:
		b.apu.WriteWaveRAM(b.mem[regIO][0x70], off-0x90, v)
		return

	case off == 0x70:
		if (v^b.mem[regIO][0x70])>>7 == 1 {
			b.apu.WaveRestart()
		}

	case off == 0x84:
		if v>>7 == 0 {
			for i := 0x60; i <= 0x81; i++ {
				b.mem[regIO][i] = 0
			}
		}
	}
	b.mem[regIO][off] = v
}

// RaiseIRQ latches interrupt bits that are enabled in IE.
func (b *Bus) RaiseIRQ(mask uint16) {
	enabled := mask & b.rawHalf(0x200)
	b.storeRawHalf(0x202, b.rawHalf(0x202)|enabled)
}

// IRQPending reports whether the CPU should take the interrupt vector.
func (b *Bus) IRQPending() bool {
	return b.mem[regIO][0x208]&1 == 1 && b.rawHalf(0x200)&b.rawHalf(0x202) != 0
}

// SetKeys commits the active-low keypad state to KEYINPUT.
func (b *Bus) SetKeys(state uint16) {
	b.storeRawHalf(0x130, state)
}

func (b *Bus) rawHalf(off uint32) uint16 {
	return uint16(b.mem[regIO][off]) | uint16(b.mem[regIO][off+1])<<8
}

func (b *Bus) storeRawHalf(off uint32, v uint16) {
	b.mem[regIO][off] = byte(v)
	b.mem[regIO][off+1] = byte(v >> 8)
}

func (b *Bus) rawWord(off uint32) uint32 {
	return uint32(b.rawHalf(off)) | uint32(b.rawHalf(off+2))<<16
}

// IORegs adapts the IO block to the read-only view the APU mixes from.
type IORegs struct{ b *Bus }

func (r IORegs) Byte(off uint32) byte   { return r.b.mem[regIO][off] }
func (r IORegs) Half(off uint32) uint16 { return r.b.rawHalf(off) }

func (b *Bus) IORegs() IORegs { return IORegs{b} }

// APU exposes the audio unit for the frame loop and save states.
func (b *Bus) APU() *apu.APU { return b.apu }

// Backup exposes the cartridge storage for battery persistence.
func (b *Bus) Backup() cart.Backup { return b.backup }

// VRAM, Palette and OAM give the PPU direct scanline access.
func (b *Bus) VRAM() []byte    { return b.mem[regVRAM] }
func (b *Bus) Palette() []byte { return b.mem[regPalette] }
func (b *Bus) OAM() []byte     { return b.mem[regOAM] }

// IOHalf reads a register pair without side effects.
func (b *Bus) IOHalf(off uint32) uint16 { return b.rawHalf(off) }

// IOByte reads a single register byte without side effects.
func (b *Bus) IOByte(off uint32) byte { return b.mem[regIO][off] }

// IOWord reads two register pairs without side effects (affine reference
// points).
func (b *Bus) IOWord(off uint32) uint32 { return b.rawWord(off) }

// StoreIOHalf writes a register pair without side effects (VCOUNT, DISPSTAT
// status bits).
func (b *Bus) StoreIOHalf(off uint32, v uint16) { b.storeRawHalf(off, v) }

// AccessCycles is the wait-state cost of one data access. The table uses the
// stock cartridge timing with sequential-access discounts folded into flat
// figures.
func AccessCycles(addr uint32, word bool) uint32 {
	switch addr >> 24 {
	case 2:
		if word {
			return 6
		}
		return 3
	case 8, 9, 0xA, 0xB, 0xC, 0xD:
		if word {
			return 8
		}
		return 5
	case 0xE, 0xF:
		return 5
	default:
		return 1
	}
}

type busState struct {
	EWRAM, IWRAM, IO, Palette, VRAM, OAM []byte
	BackupKind                           cart.BackupKind
	BackupData                           []byte
	Timers                               [4]Timer
	DMA                                  [4]dmaChannel
	HBlankDMA, VBlankDMA, HaltPending    bool
	LastFetch, LastBIOSFetch, FetchPC    uint32
}

func (b *Bus) SaveState() ([]byte, error) {
	st := busState{
		EWRAM:         b.mem[regEWRAM],
		IWRAM:         b.mem[regIWRAM],
		IO:            b.mem[regIO],
		Palette:       b.mem[regPalette],
		VRAM:          b.mem[regVRAM],
		OAM:           b.mem[regOAM],
		BackupKind:    b.backup.Kind(),
		BackupData:    b.backup.Data(),
		Timers:        b.timers,
		DMA:           b.dma,
		HBlankDMA:     b.HBlankDMA,
		VBlankDMA:     b.VBlankDMA,
		HaltPending:   b.HaltPending,
		LastFetch:     b.lastFetch,
		LastBIOSFetch: b.lastBIOSFetch,
		FetchPC:       b.fetchPC,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&st); err != nil {
		return nil, fmt.Errorf("encode bus state: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *Bus) LoadState(data []byte) error {
	var st busState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return fmt.Errorf("decode bus state: %w", err)
	}
	if st.BackupKind != b.backup.Kind() {
		return fmt.Errorf("snapshot backup type %v does not match cartridge %v",
			st.BackupKind, b.backup.Kind())
	}
	regions := []struct {
		reg int
		src []byte
	}{
		{regEWRAM, st.EWRAM}, {regIWRAM, st.IWRAM}, {regIO, st.IO},
		{regPalette, st.Palette}, {regVRAM, st.VRAM}, {regOAM, st.OAM},
	}
	for _, r := range regions {
		if len(r.src) != regionSizes[r.reg] {
			return fmt.Errorf("snapshot region %d has %d bytes, want %d",
				r.reg, len(r.src), regionSizes[r.reg])
		}
	}
	for _, r := range regions {
		copy(b.mem[r.reg], r.src)
	}
	if err := b.backup.LoadData(st.BackupData); err != nil {
		return err
	}
	b.timers = st.Timers
	b.dma = st.DMA
	b.HBlankDMA = st.HBlankDMA
	b.VBlankDMA = st.VBlankDMA
	b.HaltPending = st.HaltPending
	b.lastFetch = st.LastFetch
	b.lastBIOSFetch = st.LastBIOSFetch
	b.fetchPC = st.FetchPC
	b.refreshTimerActive()
	b.refreshDMAActive()
	return nil
}

func (b *Bus) refreshTimerActive() {
	b.anyTimerActive = false
	for i := range b.timers {
		if b.timers[i].Enabled {
			b.anyTimerActive = true
			return
		}
	}
}

func (b *Bus) refreshDMAActive() {
	b.anyDMAActive = false
	for i := range b.dma {
		if b.dma[i].Enabled {
			b.anyDMAActive = true
			return
		}
	}
}
