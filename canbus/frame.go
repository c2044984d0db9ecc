package canbus

import (
	"time"

	"github.com/pkg/errors"
)

// Frame represents a classical CAN frame as carried by the Waveshare
// USB-CAN-A adapter. Standard (11-bit) and extended (29-bit) identifiers
// are supported; CAN FD is not.
type Frame struct {
	ID        uint32 // 11-bit (standard) or 29-bit (extended)
	Data      []byte // 0-8 bytes
	Extended  bool
	Remote    bool
	Timestamp time.Time // receive time, zero for outgoing frames
}

const (
	maxStandardID = 0x7FF
	maxExtendedID = 0x1FFFFFFF
)

var (
	ErrInvalidID     = errors.New("canbus: identifier out of range")
	ErrInvalidLength = errors.New("canbus: data length exceeds 8 bytes")
)

// Validate returns an error if the frame cannot be encoded.
func (f Frame) Validate() error {
	if len(f.Data) > 8 {
		return ErrInvalidLength
	}
	if f.Extended {
		if f.ID > maxExtendedID {
			return ErrInvalidID
		}
	} else if f.ID > maxStandardID {
		return ErrInvalidID
	}
	return nil
}
