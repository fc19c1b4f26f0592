package ui

import (
	"encoding/binary"

	"github.com/FabianRolfMatthiasNoll/GBAEmulator/internal/emu"
)

// machineStream implements io.Reader by draining the machine's float32
// stereo samples and converting them to the 16-bit little-endian frames the
// ebiten audio player expects. When the machine has nothing buffered the
// remainder is padded with silence so the player never stalls.
type machineStream struct {
	m       *emu.Machine
	pending []float32
}

func (s *machineStream) Read(p []byte) (int, error) {
	n := len(p) &^ 3 // whole stereo frames only
	if n == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	filled := 0
	for filled < n {
		if len(s.pending) == 0 {
			s.pending = s.m.AudioBuffer()
			if len(s.pending) == 0 {
				for i := filled; i < n; i++ {
					p[i] = 0
				}
				filled = n
				break
			}
		}
		binary.LittleEndian.PutUint16(p[filled:], uint16(sampleToInt16(s.pending[0])))
		s.pending = s.pending[1:]
		filled += 2
	}
	return filled, nil
}

func sampleToInt16(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}
