package canbus

import (
	"encoding/binary"
	"time"
)

// Waveshare USB-CAN-A serial protocol:
//
//	AA [type/len] [ID bytes] [data bytes] 55
//
// type/len: bit5=extended, bit4=remote, bits 0-3=data length.
// ID is little-endian, 2 bytes for standard frames, 4 for extended.
const (
	frameStart = 0xAA
	frameEnd   = 0x55

	typeStandard = 0xC0
	typeExtended = 0xE0
	typeRemote   = 0x10
)

// speedCodes maps CAN bitrates to the adapter's settings-frame speed code.
var speedCodes = map[int]byte{
	1000000: 0x01,
	800000:  0x02,
	500000:  0x03,
	400000:  0x04,
	250000:  0x05,
	200000:  0x06,
	125000:  0x07,
	100000:  0x08,
	50000:   0x09,
	20000:   0x0A,
	10000:   0x0B,
	5000:    0x0C,
}

// settingsFrame builds the one-shot adapter configuration frame:
// AA 55 12 [speed] [mode] [filter 4] [mask 4] [reserved 5] 55.
// Filter and mask are left disabled.
func settingsFrame(speedCode byte) []byte {
	cmd := make([]byte, 0, 20)
	cmd = append(cmd, 0xAA, 0x55, 0x12, speedCode, 0x00)
	cmd = append(cmd, make([]byte, 13)...) // filter, mask, reserved
	cmd = append(cmd, 0x55)
	return cmd
}

// encodeFrame serializes a CAN frame to the adapter's wire format.
// The frame must already be valid.
func encodeFrame(f Frame) []byte {
	typeByte := byte(typeStandard)
	if f.Extended {
		typeByte = typeExtended
	}
	if f.Remote {
		typeByte |= typeRemote
	}
	typeByte |= byte(len(f.Data)) & 0x0F

	out := make([]byte, 0, 2+4+len(f.Data)+1)
	out = append(out, frameStart, typeByte)

	if f.Extended {
		var id [4]byte
		binary.LittleEndian.PutUint32(id[:], f.ID)
		out = append(out, id[:]...)
	} else {
		var id [2]byte
		binary.LittleEndian.PutUint16(id[:], uint16(f.ID))
		out = append(out, id[:]...)
	}

	out = append(out, f.Data...)
	out = append(out, frameEnd)
	return out
}

// decodeFrame parses one serial frame known to be bounded by the start and
// end markers. It returns ok=false for short or malformed input; the caller
// drops such frames silently since the protocol carries no integrity check
// beyond marker position.
func decodeFrame(raw []byte) (Frame, bool) {
	if len(raw) < 5 { // AA type ID(2) 55 minimum
		return Frame{}, false
	}
	if raw[0] != frameStart || raw[len(raw)-1] != frameEnd {
		return Frame{}, false
	}

	typeByte := raw[1]
	extended := typeByte&0x20 != 0
	remote := typeByte&0x10 != 0
	dlc := int(typeByte & 0x0F)

	var id uint32
	dataStart := 4
	if extended {
		if len(raw) < 7 { // AA type ID(4) 55
			return Frame{}, false
		}
		id = binary.LittleEndian.Uint32(raw[2:6])
		dataStart = 6
	} else {
		id = uint32(binary.LittleEndian.Uint16(raw[2:4]))
	}

	data := raw[dataStart : len(raw)-1]
	if dlc < len(data) {
		data = data[:dlc]
	}

	return Frame{
		ID:        id,
		Data:      append([]byte(nil), data...),
		Extended:  extended,
		Remote:    remote,
		Timestamp: time.Now(),
	}, true
}
