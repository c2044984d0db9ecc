package canbus

import "testing"

func TestIsAdapterPort(t *testing.T) {
	tests := []struct {
		port string
		want bool
	}{
		{"/dev/ttyUSB0", true},
		{"/dev/ttyACM1", true},
		{"/dev/tty.usbserial-1120", true},
		{"/dev/cu.usbmodem14201", true},
		{"COM3", true},
		{"/dev/ttyS0", false},
		{"/dev/tty.Bluetooth-Incoming-Port", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.port, func(t *testing.T) {
			if got := IsAdapterPort(tt.port); got != tt.want {
				t.Errorf("IsAdapterPort(%q) = %v, want %v", tt.port, got, tt.want)
			}
		})
	}
}

func TestSelectPort(t *testing.T) {
	names := []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"}
	openable := func(busy ...string) func(string) bool {
		return func(name string) bool {
			for _, b := range busy {
				if name == b {
					return false
				}
			}
			return true
		}
	}

	t.Run("first available", func(t *testing.T) {
		port, ok := selectPort(names, nil, openable())
		if !ok || port != "/dev/ttyUSB0" {
			t.Errorf("got %q ok=%v, want /dev/ttyUSB0", port, ok)
		}
	})

	t.Run("exclude claimed port", func(t *testing.T) {
		port, ok := selectPort(names, []string{"/dev/ttyUSB0"}, openable())
		if !ok || port != "/dev/ttyUSB1" {
			t.Errorf("got %q ok=%v, want /dev/ttyUSB1", port, ok)
		}
	})

	t.Run("skips busy port", func(t *testing.T) {
		port, ok := selectPort(names, nil, openable("/dev/ttyUSB0"))
		if !ok || port != "/dev/ttyUSB1" {
			t.Errorf("got %q ok=%v, want /dev/ttyUSB1", port, ok)
		}
	})

	t.Run("none available", func(t *testing.T) {
		if port, ok := selectPort(names, names, openable()); ok {
			t.Errorf("expected no port, got %q", port)
		}
	})
}
