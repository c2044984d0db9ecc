package canbus

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name:  "standard with data",
			frame: Frame{ID: 0x155, Data: []byte{0x00, 0x01, 0x86, 0xA0, 0xFF, 0xFE, 0x79, 0x60}},
		},
		{
			name:  "standard empty data",
			frame: Frame{ID: 0x471, Data: []byte{}},
		},
		{
			name:  "standard max ID",
			frame: Frame{ID: 0x7FF, Data: []byte{0xAA, 0x55}},
		},
		{
			name:  "extended",
			frame: Frame{ID: 0x18DAF110, Data: []byte{1, 2, 3}, Extended: true},
		},
		{
			name:  "remote",
			frame: Frame{ID: 0x2A5, Data: []byte{}, Remote: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := encodeFrame(tt.frame)
			decoded, ok := decodeFrame(raw)
			if !ok {
				t.Fatalf("decode failed for %x", raw)
			}
			if decoded.ID != tt.frame.ID {
				t.Errorf("ID mismatch: got 0x%X, want 0x%X", decoded.ID, tt.frame.ID)
			}
			if !bytes.Equal(decoded.Data, tt.frame.Data) {
				t.Errorf("data mismatch: got %x, want %x", decoded.Data, tt.frame.Data)
			}
			if decoded.Extended != tt.frame.Extended {
				t.Errorf("extended flag mismatch: got %v", decoded.Extended)
			}
			if decoded.Remote != tt.frame.Remote {
				t.Errorf("remote flag mismatch: got %v", decoded.Remote)
			}
		})
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"too short", []byte{0xAA, 0xC2, 0x55}},
		{"standard missing ID byte", []byte{0xAA, 0xC0, 0x01, 0x55}},
		{"wrong start", []byte{0xAB, 0xC0, 0x55, 0x01, 0x55}},
		{"wrong end", []byte{0xAA, 0xC0, 0x55, 0x01, 0x54}},
		{"extended truncated", []byte{0xAA, 0xE0, 0x01, 0x02, 0x03, 0x55}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := decodeFrame(tt.raw); ok {
				t.Errorf("expected decode failure for %x", tt.raw)
			}
		})
	}
}

func TestFrameValidate(t *testing.T) {
	if err := (Frame{ID: 0x7FF, Data: make([]byte, 8)}).Validate(); err != nil {
		t.Errorf("valid frame rejected: %v", err)
	}
	if err := (Frame{ID: 0x800}).Validate(); err != ErrInvalidID {
		t.Errorf("expected ErrInvalidID for 12-bit standard ID, got %v", err)
	}
	if err := (Frame{ID: 0x800, Extended: true}).Validate(); err != nil {
		t.Errorf("valid extended frame rejected: %v", err)
	}
	if err := (Frame{ID: 1, Data: make([]byte, 9)}).Validate(); err != ErrInvalidLength {
		t.Errorf("expected ErrInvalidLength for 9 data bytes, got %v", err)
	}
}

func TestSettingsFrame(t *testing.T) {
	got := settingsFrame(0x01)
	want := []byte{
		0xAA, 0x55, 0x12, 0x01, 0x00,
		0, 0, 0, 0, 0, 0, 0, 0, // filter + mask
		0, 0, 0, 0, 0, // reserved
		0x55,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("settings frame mismatch:\n got %x\nwant %x", got, want)
	}
}
