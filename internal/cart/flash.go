package cart

import (
	"fmt"
	"log"
)

// Flash emulates the Macronix flash devices used for 512 Kbit and 1 Mbit
// cartridge saves. Every command is a magic byte sequence through the two
// unlock addresses; data writes are only accepted after the program command.
type Flash struct {
	kind BackupKind
	mem  []byte

	// unlock sequence latches
	cmd0, cmd1, cmd2 byte

	// 0: read, 1: chip id, 2: erase, 3: program byte, 4: bank select
	mode byte

	// active 64 KiB bank, 1 Mbit devices only
	bank byte
}

const (
	flashModeRead = iota
	flashModeID
	flashModeErase
	flashModeProgram
	flashModeBank
)

func NewFlash(kind BackupKind) *Flash {
	if kind != BackupFlash64 && kind != BackupFlash128 {
		kind = BackupFlash64
	}
	return &Flash{kind: kind, mem: make([]byte, BackupBufferSize)}
}

func (f *Flash) Kind() BackupKind { return f.kind }
func (f *Flash) Data() []byte     { return f.mem }

func (f *Flash) LoadData(data []byte) error {
	if len(data) > len(f.mem) {
		return fmt.Errorf("backup payload too large: %d > %d", len(data), len(f.mem))
	}
	copy(f.mem, data)
	return nil
}

// size of the device-visible address space
func (f *Flash) limit() int {
	if f.kind == BackupFlash128 {
		return 0x20000
	}
	return 0x10000
}

func (f *Flash) cell(addr uint32) int {
	i := int(addr & 0xFFFF)
	if f.kind == BackupFlash128 {
		i += int(f.bank) << 16
	}
	return i
}

func (f *Flash) Read(addr uint32) byte {
	if f.mode == flashModeID {
		// Macronix ids: 64 KiB MX29L512, 128 KiB MX29L010
		dev := byte(0x1C)
		if f.kind == BackupFlash128 {
			dev = 0x09
		}
		switch addr & 0xFFFF {
		case 0:
			return 0xC2
		case 1:
			return dev
		default:
			log.Printf("flash: id-mode read at %#x", addr)
			return 0
		}
	}
	return f.mem[f.cell(addr)]
}

func (f *Flash) Write(addr uint32, v byte) {
	if f.mode == flashModeProgram {
		f.mem[f.cell(addr)] = v
		f.mode = flashModeRead
		return
	}
	switch addr & 0xFFFF {
	case 0x5555:
		if v == 0xAA {
			f.cmd0 = v
			f.cmd2 = 0
		} else if f.cmd1 != 0 {
			f.cmd2 = v
			f.command()
		}
	case 0x2AAA:
		f.cmd1 = v
	default:
		switch f.mode {
		case flashModeErase:
			if addr&0xFFF == 0 && f.cmd0 != 0 && f.cmd1 != 0 && v == 0x30 {
				base := f.cell(addr)
				for i := base; i < base+0x1000; i++ {
					f.mem[i] = 0xFF
				}
				f.cmd0, f.cmd1, f.cmd2 = 0, 0, 0
				f.mode = flashModeRead
			}
		case flashModeBank:
			if addr&0xFFFF == 0 && v <= 1 {
				f.bank = v
				f.mode = flashModeRead
			}
		default:
			log.Printf("flash: unexpected write %#x=%#x in mode %d", addr, v, f.mode)
		}
	}
}

func (f *Flash) command() {
	switch f.cmd2 {
	case 0x90:
		f.mode = flashModeID
	case 0xF0:
		if f.mode == flashModeID {
			f.mode = flashModeRead
		}
	case 0x80:
		f.mode = flashModeErase
	case 0x10:
		if f.mode == flashModeErase {
			for i := 0; i < f.limit(); i++ {
				f.mem[i] = 0xFF
			}
		}
		f.mode = flashModeRead
	case 0xA0:
		f.mode = flashModeProgram
	case 0xB0:
		if f.kind == BackupFlash128 {
			f.mode = flashModeBank
		}
	}
	f.cmd0, f.cmd1, f.cmd2 = 0, 0, 0
}
