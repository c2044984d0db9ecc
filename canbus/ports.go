package canbus

import (
	"sort"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// AutoPort, passed as the port name to Open, selects the first available
// adapter port on the system.
const AutoPort = "auto"

// IsAdapterPort reports whether a serial port name matches the platform
// naming patterns of USB-CAN adapters.
func IsAdapterPort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") ||
		strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}

// FindPorts returns every serial port that matches the adapter naming
// patterns and can be opened at the adapter baud rate, sorted by name.
// Ports already held open elsewhere fail the probe and are skipped.
func FindPorts() []string {
	var found []string
	for _, name := range adapterPortNames() {
		if probeOpen(name) {
			found = append(found, name)
		}
	}
	return found
}

// FindPort returns the first available adapter port not listed in exclude.
// The exclude list lets a second arm skip the port the first one claimed.
// ok is false when no port qualifies.
func FindPort(exclude []string) (string, bool) {
	return selectPort(adapterPortNames(), exclude, probeOpen)
}

func selectPort(names, exclude []string, probe func(string) bool) (string, bool) {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}
	for _, name := range names {
		if _, excluded := skip[name]; excluded {
			continue
		}
		if probe(name) {
			return name, true
		}
	}
	return "", false
}

func adapterPortNames() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil
	}
	var names []string
	for _, port := range ports {
		if IsAdapterPort(port.Name) {
			names = append(names, port.Name)
		}
	}
	sort.Strings(names)
	return names
}

func probeOpen(name string) bool {
	port, err := serial.Open(name, &serial.Mode{BaudRate: serialBaudrate})
	if err != nil {
		return false
	}
	port.Close()
	return true
}
