package main

import (
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/cart"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/emu"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/ppu"
	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/ui"
)

const sampleRate = 48000

type CLIFlags struct {
	ROMPath  string
	BIOSPath string
	SavePath string
	Backup   string
	Scale    int
	Title    string
	Mute     bool

	// headless
	Headless bool
	Frames   int
	PNGOut   string
	WAVOut   string
	Expect   string // expected framebuffer CRC32 hex
}

func parseFlags() CLIFlags {
	var f CLIFlags
	flag.StringVar(&f.ROMPath, "rom", "", "path to ROM (.gba)")
	flag.StringVar(&f.BIOSPath, "bios", "", "path to the 16 KiB system ROM")
	flag.StringVar(&f.SavePath, "save", "", "battery/snapshot bundle path (default ROM path with .sav)")
	flag.StringVar(&f.Backup, "backup", "", "force backup type: SRAM, FLASH, FLASH1M or EEPROM")
	flag.IntVar(&f.Scale, "scale", 3, "window scale")
	flag.StringVar(&f.Title, "title", "gbaemu", "window title")
	flag.BoolVar(&f.Mute, "mute", false, "disable audio output")

	flag.BoolVar(&f.Headless, "headless", false, "run without a window")
	flag.IntVar(&f.Frames, "frames", 600, "frames to run in headless mode")
	flag.StringVar(&f.PNGOut, "out", "", "write last frame to PNG at path")
	flag.StringVar(&f.WAVOut, "wav", "", "record headless audio to WAV at path")
	flag.StringVar(&f.Expect, "expect-crc", "", "assert final frame CRC32 (hex)")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()
	if f.ROMPath == "" || f.BIOSPath == "" {
		log.Fatal("-rom and -bios are required")
	}
	rom := mustRead(f.ROMPath)
	bios := mustRead(f.BIOSPath)

	if h, err := cart.ParseHeader(rom); err == nil {
		log.Printf("rom: %q (%s) backup=%s", h.Title, h.GameCode, cart.DetectBackupKind(rom))
	}

	m, err := emu.New(emu.Config{
		BIOS:           bios,
		ROM:            rom,
		BackupOverride: f.Backup,
		SampleRate:     sampleRate,
	})
	if err != nil {
		log.Fatalf("machine: %v", err)
	}

	savePath := f.SavePath
	if savePath == "" {
		savePath = strings.TrimSuffix(f.ROMPath, ".gba") + ".sav"
	}
	if s, err := emu.ReadSaveFile(savePath); err == nil {
		if err := m.ImportSave(s); err != nil {
			log.Fatalf("save file %s: %v", savePath, err)
		}
		log.Printf("loaded save file %s", savePath)
	}

	if f.Headless {
		if err := runHeadless(m, f); err != nil {
			log.Fatal(err)
		}
		if err := emu.WriteSaveFile(savePath, m.ExportSave()); err != nil {
			log.Fatalf("write save file: %v", err)
		}
		return
	}

	app := ui.NewApp(ui.Config{
		Title:      f.Title,
		Scale:      f.Scale,
		Mute:       f.Mute,
		SavePath:   savePath,
		SampleRate: sampleRate,
	}, m)
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
	if err := emu.WriteSaveFile(savePath, m.ExportSave()); err != nil {
		log.Fatalf("write save file: %v", err)
	}
}

func runHeadless(m *emu.Machine, f CLIFlags) error {
	frames := f.Frames
	if frames <= 0 {
		frames = 1
	}

	var samples []float32
	start := time.Now()
	m.Init(0)
	for i := 0; i < frames; i++ {
		// synthetic clock: headless never sleeps
		m.ProcessFrame(int64(i) * 16743)
		buf := m.AudioBuffer()
		if f.WAVOut != "" {
			samples = append(samples, buf...)
		}
	}
	dur := time.Since(start)

	fb := make([]byte, ppu.ScreenWidth*ppu.ScreenHeight*4)
	m.DisplayPicture(fb)
	crc := crc32.ChecksumIEEE(fb)
	log.Printf("headless: frames=%d elapsed=%s fps=%.2f frame_crc32=%08x",
		frames, dur.Truncate(time.Millisecond), float64(frames)/dur.Seconds(), crc)

	if f.PNGOut != "" {
		if err := writeFramePNG(fb, f.PNGOut); err != nil {
			return fmt.Errorf("write png: %w", err)
		}
		log.Printf("wrote %s", f.PNGOut)
	}
	if f.WAVOut != "" {
		if err := writeWAV(samples, f.WAVOut); err != nil {
			return fmt.Errorf("write wav: %w", err)
		}
		log.Printf("wrote %s (%d samples)", f.WAVOut, len(samples))
	}
	if f.Expect != "" {
		want := strings.TrimPrefix(strings.ToLower(f.Expect), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

func writeFramePNG(pix []byte, path string) error {
	img := &image.RGBA{
		Pix:    append([]byte(nil), pix...),
		Stride: 4 * ppu.ScreenWidth,
		Rect:   image.Rect(0, 0, ppu.ScreenWidth, ppu.ScreenHeight),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func writeWAV(samples []float32, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

func mustRead(path string) []byte {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	return b
}
