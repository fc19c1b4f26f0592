package cart

import (
	"encoding/binary"
	"fmt"
	"log"
)

// EEPROM emulates the bit-serial cartridge EEPROM. Games talk to it only
// through DMA channel 3 transfers into/out of the upper cartridge region; each
// halfword carries one bit in its LSB. The device comes in a 512 B (6 address
// bits) and an 8 KiB (14 address bits) density; the width is latched from the
// first write stream seen.
type EEPROM struct {
	mem       []byte
	addrBits  int
	readReady bool
	readOff   int
}

func NewEEPROM() *EEPROM {
	return &EEPROM{mem: make([]byte, BackupBufferSize)}
}

func (e *EEPROM) Kind() BackupKind { return BackupEEPROM }
func (e *EEPROM) Data() []byte     { return e.mem }

func (e *EEPROM) LoadData(data []byte) error {
	if len(data) > len(e.mem) {
		return fmt.Errorf("backup payload too large: %d > %d", len(data), len(e.mem))
	}
	copy(e.mem, data)
	return nil
}

// Direct accesses bypass the serial protocol; the device just reports ready.
func (e *EEPROM) Read(addr uint32) byte   { return 1 }
func (e *EEPROM) Write(addr uint32, v byte) {}

// AddrBits reports the latched address width; 0 before the first write stream.
func (e *EEPROM) AddrBits() int { return e.addrBits }

// WriteStream consumes one DMA write into the EEPROM region. Layout:
// 2 request bits, then the address, then for writes 64 data bits, then a
// terminating zero bit.
func (e *EEPROM) WriteStream(bits []uint16) {
	if len(bits) < 3 {
		log.Printf("eeprom: short serial stream (%d bits)", len(bits))
		return
	}
	req := (bits[0]&1)<<1 | bits[1]&1
	isRead := false
	switch req {
	case 0b11:
		isRead = true
	case 0b10:
	default:
		log.Printf("eeprom: unknown request %#b", req)
		return
	}
	if e.addrBits == 0 {
		// infer density from the stream shape
		switch len(bits) {
		case 2 + 6 + 1, 2 + 6 + 64 + 1:
			e.addrBits = 6
		case 2 + 14 + 1, 2 + 14 + 64 + 1:
			e.addrBits = 14
		default:
			log.Printf("eeprom: cannot infer density from %d-bit stream", len(bits))
			return
		}
	}
	if len(bits) < 2+e.addrBits+1 {
		log.Printf("eeprom: stream too short for %d address bits", e.addrBits)
		return
	}
	var addr int
	for _, b := range bits[2 : 2+e.addrBits] {
		addr = addr<<1 | int(b&1)
	}
	base := (addr << 3) & (len(e.mem) - 1)

	if isRead {
		e.readOff = base
		e.readReady = true
		return
	}
	data := bits[2+e.addrBits:]
	if len(data) < 64 {
		log.Printf("eeprom: write stream carries %d data bits", len(data))
		return
	}
	var val uint64
	for _, b := range data[:64] {
		val = val<<1 | uint64(b&1)
	}
	binary.LittleEndian.PutUint64(e.mem[base:], val)
}

// ReadStream produces n halfwords for a DMA read out of the EEPROM region:
// 4 dummy bits, then the 64 data bits of the block selected by the last
// read-setup stream, MSB first.
func (e *EEPROM) ReadStream(n int) []uint16 {
	out := make([]uint16, n)
	if !e.readReady {
		return out
	}
	val := binary.LittleEndian.Uint64(e.mem[e.readOff:])
	for i := 4; i < n; i++ {
		j := i - 3
		if j > 64 {
			break
		}
		out[i] = uint16((val >> (64 - j)) & 1)
	}
	return out
}
