package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/emu"
)

// armrunner drives a ROM headless and dumps the register file once per
// emulated second. CPU test ROMs report through a result word in memory:
// point -watch at it and the exit status tells pass from fail.

const framesPerSecond = 60

func main() {
	romPath := flag.String("rom", "", "path to ROM (.gba)")
	biosPath := flag.String("bios", "", "path to the 16 KiB system ROM")
	frames := flag.Int("frames", 10*framesPerSecond, "frames to run")
	watch := flag.String("watch", "", "hex address to sample; a nonzero final value fails the run")
	flag.Parse()

	if *romPath == "" || *biosPath == "" {
		log.Fatal("-rom and -bios are required")
	}

	var watchAddr uint32
	hasWatch := *watch != ""
	if hasWatch {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(*watch), "0x"), 16, 32)
		if err != nil {
			log.Fatalf("bad watch address %q: %v", *watch, err)
		}
		watchAddr = uint32(v)
	}

	rom, err := os.ReadFile(*romPath)
	if err != nil {
		log.Fatalf("read %s: %v", *romPath, err)
	}
	bios, err := os.ReadFile(*biosPath)
	if err != nil {
		log.Fatalf("read %s: %v", *biosPath, err)
	}

	m, err := emu.New(emu.Config{BIOS: bios, ROM: rom, SampleRate: 48000})
	if err != nil {
		log.Fatalf("machine: %v", err)
	}

	m.Init(0)
	for i := 1; i <= *frames; i++ {
		m.ProcessFrame(int64(i) * 16743)
		m.AudioBuffer() // discard, keep the APU queue bounded
		if i%framesPerSecond == 0 {
			dumpState(m, watchAddr, hasWatch, i/framesPerSecond)
		}
	}

	if hasWatch {
		if v := m.Bus().ReadWord(watchAddr); v != 0 {
			fmt.Printf("watch %08x = %08x\n", watchAddr, v)
			os.Exit(1)
		}
	}
}

func dumpState(m *emu.Machine, watchAddr uint32, hasWatch bool, second int) {
	c := m.CPU()
	var b strings.Builder
	fmt.Fprintf(&b, "t=%3ds pc=%08x cpsr=%08x", second, c.PC, c.CPSR())
	for r := uint32(0); r < 15; r++ {
		fmt.Fprintf(&b, " r%d=%08x", r, c.Reg(r))
	}
	if hasWatch {
		fmt.Fprintf(&b, " [%08x]=%08x", watchAddr, m.Bus().ReadWord(watchAddr))
	}
	fmt.Println(b.String())
}
