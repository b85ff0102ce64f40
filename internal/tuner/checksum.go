package tuner

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// DeriveDeviceID computes this tuner's advertised DeviceID from a service's
// UUID: the low 32 bits of its first 8 hex digits, plus checksum.
func DeriveDeviceID(id uuid.UUID) string {
	s := id.String()
	hex8 := s[:8]
	v, err := strconv.ParseUint(hex8, 16, 32)
	if err != nil {
		v = 0
	}
	return deviceIDWithChecksum(uint32(v))
}

// checksumTable is the tuner-appliance vendor's published nibble-substitution
// table used by every third-party emulator of this device family.
var checksumTable = [16]uint32{
	0xA, 0x5, 0xF, 0x6, 0x7, 0xC, 0x1, 0xB,
	0x9, 0x2, 0x8, 0xD, 0x4, 0x3, 0xE, 0x0,
}

// deviceIDChecksum computes the two checksum nibbles appended to a device's
// 8-hex-digit id so that HDHomeRun-compatible clients accept it as a valid
// device identifier. The algorithm XORs each of the id's 8 nibbles — table
// -substituted at odd nibble positions (28,20,12,4), raw at even positions
// (24,16,8,0) — into a 4-bit running accumulator, then repeats that
// accumulator in both nibbles to produce the final 2-nibble checksum.
func deviceIDChecksum(deviceID uint32) uint32 {
	var checksum uint32
	for _, shift := range []uint{28, 24, 20, 16, 12, 8, 4, 0} {
		nibble := (deviceID >> shift) & 0xF
		switch shift {
		case 28, 20, 12, 4:
			checksum ^= checksumTable[nibble]
		default:
			checksum ^= nibble
		}
	}
	return ((checksum << 4) | checksum) & 0xFF
}

// deviceIDWithChecksum formats deviceID as 8 lowercase hex digits followed
// by its 2-hex-digit checksum, the exact 10-character DeviceID string this
// device family's clients expect.
func deviceIDWithChecksum(deviceID uint32) string {
	checksum := deviceIDChecksum(deviceID)
	return fmt.Sprintf("%08x%02x", deviceID, checksum)
}
