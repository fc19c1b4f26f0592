package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
)

// SaveFile bundles the battery RAM and the snapshot slots for disk
// persistence. One file per ROM.
type SaveFile struct {
	Battery []byte
	Slots   [NumSaveSlots][]byte
}

// ExportSave collects the machine's persistent data.
func (m *Machine) ExportSave() SaveFile {
	s := SaveFile{Battery: m.BatteryRAM()}
	for i := range s.Slots {
		s.Slots[i] = m.slots[i]
	}
	return s
}

// ImportSave seeds battery RAM and the snapshot slots from a save file.
func (m *Machine) ImportSave(s SaveFile) error {
	if len(s.Battery) > 0 {
		if err := m.LoadBatteryRAM(s.Battery); err != nil {
			return fmt.Errorf("battery ram: %w", err)
		}
	}
	for i := range s.Slots {
		m.slots[i] = s.Slots[i]
	}
	return nil
}

// WriteSaveFile persists a save bundle.
func WriteSaveFile(path string, s SaveFile) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadSaveFile loads a save bundle written by WriteSaveFile.
func ReadSaveFile(path string) (SaveFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SaveFile{}, err
	}
	var s SaveFile
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return SaveFile{}, fmt.Errorf("decode save file: %w", err)
	}
	return s, nil
}
