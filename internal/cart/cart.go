package cart

import (
	"fmt"
	"strings"
)

// BackupKind identifies the cartridge's persistent storage device.
type BackupKind int

const (
	BackupSRAM BackupKind = iota
	BackupFlash64
	BackupFlash128
	BackupEEPROM
)

func (k BackupKind) String() string {
	switch k {
	case BackupSRAM:
		return "SRAM"
	case BackupFlash64:
		return "FLASH64"
	case BackupFlash128:
		return "FLASH1M"
	case BackupEEPROM:
		return "EEPROM"
	default:
		return "unknown"
	}
}

// BackupBufferSize is the raw buffer every backend works inside. 128 KiB covers
// the largest device (1 Mbit flash); smaller devices use a prefix of it.
const BackupBufferSize = 0x20000

// Backup is the interface the Bus uses for the backup window at 0x0E000000.
// Addr is already masked to the 64 KiB window by the caller.
type Backup interface {
	Read(addr uint32) byte
	Write(addr uint32, v byte)
	Kind() BackupKind
	// Data exposes the raw backing buffer for battery persistence and save states.
	Data() []byte
	LoadData(data []byte) error
}

// Library signature strings present in the ROM image identify the backup
// device. Commercial images link the vendor backup library, which embeds one
// of these version tags at a 4-byte-aligned offset.
var backupSignatures = []struct {
	sig  string
	kind BackupKind
}{
	{"SRAM_V", BackupSRAM},
	{"FLASH_V", BackupFlash64},
	{"FLASH512_V", BackupFlash64},
	{"FLASH1M_V", BackupFlash128},
	{"EEPROM_V", BackupEEPROM},
}

// DetectBackupKind scans the ROM for backup library signatures. Images without
// any signature default to SRAM, which is harmless when unused.
func DetectBackupKind(rom []byte) BackupKind {
	for _, c := range backupSignatures {
		sig := []byte(c.sig)
		for i := 0; i+len(sig) <= len(rom); i += 4 {
			if string(rom[i:i+len(sig)]) == c.sig {
				return c.kind
			}
		}
	}
	return BackupSRAM
}

// ParseBackupKind maps an explicit override string to a kind.
func ParseBackupKind(s string) (BackupKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SRAM":
		return BackupSRAM, nil
	case "FLASH", "FLASH512", "FLASH64":
		return BackupFlash64, nil
	case "FLASH1M", "FLASH128":
		return BackupFlash128, nil
	case "EEPROM":
		return BackupEEPROM, nil
	default:
		return 0, fmt.Errorf("unknown backup type %q", s)
	}
}

// NewBackup builds the backend for the given kind.
func NewBackup(kind BackupKind) Backup {
	switch kind {
	case BackupFlash64, BackupFlash128:
		return NewFlash(kind)
	case BackupEEPROM:
		return NewEEPROM()
	default:
		return NewSRAM()
	}
}
