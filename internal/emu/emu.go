package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/apu"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/bus"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/cart"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/cpu"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/ppu"
)

// Machine ties the core components together and runs them in lockstep, one
// frame at a time.
type Machine struct {
	bus *bus.Bus
	cpu *cpu.CPU
	ppu *ppu.PPU
	apu *apu.APU

	input inputState
	fb    []byte // RGBA copy of the last completed frame

	// per-component deadlines on the shared cycle counter
	clock     uint64
	timerNext uint64
	cpuNext   uint64
	apuNext   uint64
	ppuNext   uint64

	nextDue int64 // microsecond timestamp the running frame is due at

	frameCounter   int
	fpsWindowStart int64
	fps            float64
	fpsValid       bool

	slots [NumSaveSlots][]byte
}

// New validates the configuration and assembles a machine. The CPU starts at
// the reset vector, so the BIOS runs first.
func New(cfg Config) (*Machine, error) {
	if len(cfg.BIOS) != biosSize {
		return nil, fmt.Errorf("bios must be exactly %d bytes, got %d", biosSize, len(cfg.BIOS))
	}
	if len(cfg.ROM) == 0 {
		return nil, fmt.Errorf("empty rom image")
	}
	if len(cfg.ROM) > maxROMSize {
		return nil, fmt.Errorf("rom image of %d bytes exceeds the %d byte address space", len(cfg.ROM), maxROMSize)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}

	kind := cart.DetectBackupKind(cfg.ROM)
	if cfg.BackupOverride != "" {
		k, err := cart.ParseBackupKind(cfg.BackupOverride)
		if err != nil {
			return nil, err
		}
		kind = k
	}
	backup := cart.NewBackup(kind)
	if len(cfg.Backup) > 0 {
		if err := backup.LoadData(cfg.Backup); err != nil {
			return nil, fmt.Errorf("battery ram: %w", err)
		}
	}

	a := apu.New(cfg.SampleRate)
	b := bus.New(cfg.BIOS, cfg.ROM, backup, a)
	m := &Machine{
		bus:   b,
		cpu:   cpu.New(b),
		ppu:   ppu.New(b),
		apu:   a,
		input: newInputState(),
		fb:    make([]byte, ppu.ScreenWidth*ppu.ScreenHeight*4),
	}
	return m, nil
}

// Init anchors the pacing and FPS time base. Call once with the current wall
// clock in microseconds before the first ProcessFrame.
func (m *Machine) Init(nowMicros int64) {
	m.nextDue = nowMicros
	m.fpsWindowStart = nowMicros
}

// ProcessFrame commits the collected input, runs one frame worth of cycles
// and returns how many microseconds remain until the next frame is due. Zero
// or negative means run again immediately; while the speedup key is held
// pacing is released entirely.
func (m *Machine) ProcessFrame(nowMicros int64) int64 {
	m.bus.SetKeys(m.input.pad)
	m.runCycles(cyclesPerFrame)

	if f := m.ppu.Frame(); f != nil {
		f.WriteRGBA(m.fb)
	}

	if m.input.speedup != m.input.prevSpeedup {
		if m.input.speedup {
			m.ppu.SetRenderInterval(speedupRenderInterval)
		} else {
			m.ppu.SetRenderInterval(1)
			m.nextDue = nowMicros
		}
	}

	for i := range m.input.saveRequested {
		if !m.input.saveRequested[i] {
			continue
		}
		m.input.saveRequested[i] = false
		if snap, err := m.SaveState(); err == nil {
			m.slots[i] = snap
		}
	}

	m.frameCounter++
	if m.frameCounter == fpsWindowFrames {
		if elapsed := nowMicros - m.fpsWindowStart; elapsed > 0 {
			m.fps = fpsWindowFrames * 1e6 / float64(elapsed)
			m.fpsValid = true
		}
		m.fpsWindowStart = nowMicros
		m.frameCounter = 0
	}

	if m.input.speedup {
		m.nextDue = nowMicros
		return 0
	}
	m.nextDue += frameMicros
	return m.nextDue - nowMicros
}

// runCycles advances every component to the same point on the master clock.
// At equal deadlines the order is timers, CPU, APU, PPU, so peripheral
// catch-up lands before the next instruction.
func (m *Machine) runCycles(n uint64) {
	end := m.clock + n
	for m.clock < end {
		next := m.timerNext
		if m.cpuNext < next {
			next = m.cpuNext
		}
		if m.apuNext < next {
			next = m.apuNext
		}
		if m.ppuNext < next {
			next = m.ppuNext
		}
		m.clock = next

		if m.timerNext == next {
			m.bus.TickTimers()
			m.timerNext += bus.TimerTickClocks
		}
		if m.cpuNext == next {
			m.cpuNext += uint64(m.cpu.Clock())
		}
		if m.apuNext == next {
			m.apu.Sample(m.bus.IORegs())
			m.apuNext += audioSampleClocks
		}
		if m.ppuNext == next {
			m.ppuNext += uint64(m.ppu.Clock())
		}
	}
}

// DisplayPicture copies the last completed frame into dst as RGBA rows.
func (m *Machine) DisplayPicture(dst []byte) {
	copy(dst, m.fb)
}

// AudioBuffer drains the interleaved stereo samples produced since the last
// call. During speedup the samples are discarded so the output device does
// not lag behind.
func (m *Machine) AudioBuffer() []float32 {
	s := m.apu.Drain()
	if m.input.speedup {
		return nil
	}
	return s
}

// FPS reports the frame rate measured over the last full window. The second
// return is false until one window has completed.
func (m *Machine) FPS() (float64, bool) {
	return m.fps, m.fpsValid
}

// InputFramePreprocess opens a new input window; feed KeyInput events after
// it and before the next ProcessFrame.
func (m *Machine) InputFramePreprocess() {
	m.input.framePreprocess()
}

// KeyInput records one key transition for the coming frame.
func (m *Machine) KeyInput(k Key, pressed bool) {
	m.input.key(k, pressed)
}

// Speedup reports whether the speedup key is currently held.
func (m *Machine) Speedup() bool { return m.input.speedup }

const stateVersion = 1

type machineState struct {
	Version int

	// scheduler deadlines as offsets from the master clock; a frame is not
	// a whole multiple of the timer, APU or instruction intervals, so the
	// sub-frame phase must survive a restore
	TimerPhase uint64
	CPUPhase   uint64
	APUPhase   uint64
	PPUPhase   uint64

	Bus []byte
	CPU []byte
	PPU []byte
	APU []byte
}

// SaveState snapshots the complete machine. Only valid between frames.
func (m *Machine) SaveState() ([]byte, error) {
	busSnap, err := m.bus.SaveState()
	if err != nil {
		return nil, fmt.Errorf("snapshot bus: %w", err)
	}
	cpuSnap, err := m.cpu.SaveState()
	if err != nil {
		return nil, fmt.Errorf("snapshot cpu: %w", err)
	}
	ppuSnap, err := m.ppu.SaveState()
	if err != nil {
		return nil, fmt.Errorf("snapshot ppu: %w", err)
	}
	apuSnap, err := m.apu.SaveState()
	if err != nil {
		return nil, fmt.Errorf("snapshot apu: %w", err)
	}

	var buf bytes.Buffer
	err = gob.NewEncoder(&buf).Encode(machineState{
		Version:    stateVersion,
		TimerPhase: m.timerNext - m.clock,
		CPUPhase:   m.cpuNext - m.clock,
		APUPhase:   m.apuNext - m.clock,
		PPUPhase:   m.ppuNext - m.clock,
		Bus:        busSnap,
		CPU:        cpuSnap,
		PPU:        ppuSnap,
		APU:        apuSnap,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadState restores a snapshot produced by SaveState. Shape mismatches (a
// snapshot from a different cartridge, or a truncated file) are rejected.
func (m *Machine) LoadState(data []byte) error {
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != stateVersion {
		return fmt.Errorf("snapshot version %d not supported", s.Version)
	}
	if err := m.bus.LoadState(s.Bus); err != nil {
		return fmt.Errorf("restore bus: %w", err)
	}
	if err := m.cpu.LoadState(s.CPU); err != nil {
		return fmt.Errorf("restore cpu: %w", err)
	}
	if err := m.ppu.LoadState(s.PPU); err != nil {
		return fmt.Errorf("restore ppu: %w", err)
	}
	if err := m.apu.LoadState(s.APU); err != nil {
		return fmt.Errorf("restore apu: %w", err)
	}
	m.timerNext = m.clock + s.TimerPhase
	m.cpuNext = m.clock + s.CPUPhase
	m.apuNext = m.clock + s.APUPhase
	m.ppuNext = m.clock + s.PPUPhase
	return nil
}

// SlotData returns the snapshot stored in a hotkey slot, or nil.
func (m *Machine) SlotData(i int) []byte {
	if i < 0 || i >= NumSaveSlots {
		return nil
	}
	return m.slots[i]
}

// SetSlotData seeds a hotkey slot, e.g. from a file read at startup.
func (m *Machine) SetSlotData(i int, data []byte) {
	if i < 0 || i >= NumSaveSlots {
		return
	}
	m.slots[i] = data
}

// RestoreSlot loads the snapshot stored in a hotkey slot.
func (m *Machine) RestoreSlot(i int) error {
	if i < 0 || i >= NumSaveSlots || len(m.slots[i]) == 0 {
		return fmt.Errorf("save slot %d is empty", i+1)
	}
	return m.LoadState(m.slots[i])
}

// BatteryRAM returns a copy of the cartridge backup payload for persistence.
func (m *Machine) BatteryRAM() []byte {
	data := m.bus.Backup().Data()
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// LoadBatteryRAM seeds the cartridge backup from a battery file.
func (m *Machine) LoadBatteryRAM(data []byte) error {
	return m.bus.Backup().LoadData(data)
}

// Bus exposes the memory system for tools and tests.
func (m *Machine) Bus() *bus.Bus { return m.bus }

// CPU exposes the processor for tools and tests.
func (m *Machine) CPU() *cpu.CPU { return m.cpu }
