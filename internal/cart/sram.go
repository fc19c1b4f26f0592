package cart

import "fmt"

// SRAM is plain battery-backed byte storage behind the 64 KiB window.
type SRAM struct {
	mem []byte
}

func NewSRAM() *SRAM {
	return &SRAM{mem: make([]byte, BackupBufferSize)}
}

func (s *SRAM) Read(addr uint32) byte     { return s.mem[addr&0xFFFF] }
func (s *SRAM) Write(addr uint32, v byte) { s.mem[addr&0xFFFF] = v }
func (s *SRAM) Kind() BackupKind          { return BackupSRAM }
func (s *SRAM) Data() []byte              { return s.mem }

func (s *SRAM) LoadData(data []byte) error {
	if len(data) > len(s.mem) {
		return fmt.Errorf("backup payload too large: %d > %d", len(data), len(s.mem))
	}
	copy(s.mem, data)
	return nil
}
