package emu

// Master clock and frame pacing. The system clock runs at 2^24 Hz and one
// video frame spans 280896 of its cycles.
const (
	clockHz        = 1 << 24
	cyclesPerFrame = 280896

	frameMicros = int64(cyclesPerFrame) * 1_000_000 / clockHz

	// audio output is sampled once every 256 cycles (65536 Hz)
	audioSampleClocks = 256

	// with the speedup key held only every 8th frame is rendered
	speedupRenderInterval = 8

	// FPS is measured over fixed windows of frames
	fpsWindowFrames = 120
)

// NumSaveSlots is how many in-memory snapshot banks the machine keeps.
const NumSaveSlots = 5

// maxROMSize is the largest cartridge image the address space can map.
const maxROMSize = 32 << 20

// biosSize is the mandatory system ROM size.
const biosSize = 16 << 10

// Config carries everything New needs to assemble a machine.
type Config struct {
	BIOS []byte
	ROM  []byte

	// BackupOverride forces the cartridge storage type ("SRAM", "FLASH",
	// "FLASH1M", "EEPROM"). Empty means detect from the ROM image.
	BackupOverride string

	// Backup is an optional initial battery RAM payload.
	Backup []byte

	// SampleRate is the host audio rate in Hz.
	SampleRate int
}
