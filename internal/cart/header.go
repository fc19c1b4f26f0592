package cart

import (
	"errors"
	"strings"
)

// Cartridge header layout (offsets into the ROM image):
//   0x0A0-0x0AB  game title (ASCII, zero padded)
//   0x0AC-0x0AF  game code
//   0x0B0-0x0B1  maker code
//   0x0B2        fixed value 0x96
//   0x0BC        software version
//   0x0BD        header checksum over 0x0A0-0x0BC
const headerEnd = 0x0C0

type Header struct {
	Title    string
	GameCode string
	Maker    string
	Fixed    byte // 0x0B2, must be 0x96 on licensed images
	Version  byte
	Checksum byte
}

func ParseHeader(rom []byte) (*Header, error) {
	if len(rom) < headerEnd {
		return nil, errors.New("ROM too small to contain header")
	}
	h := &Header{
		Title:    strings.TrimRight(string(rom[0x0A0:0x0AC]), "\x00"),
		GameCode: strings.TrimRight(string(rom[0x0AC:0x0B0]), "\x00"),
		Maker:    strings.TrimRight(string(rom[0x0B0:0x0B2]), "\x00"),
		Fixed:    rom[0x0B2],
		Version:  rom[0x0BC],
		Checksum: rom[0x0BD],
	}
	return h, nil
}

// HeaderChecksumOK verifies the complement checksum at 0x0BD.
func HeaderChecksumOK(rom []byte) bool {
	if len(rom) < headerEnd {
		return false
	}
	var sum byte
	for addr := 0x0A0; addr <= 0x0BC; addr++ {
		sum -= rom[addr]
	}
	sum -= 0x19
	return sum == rom[0x0BD]
}
