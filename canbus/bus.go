package canbus

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
)

const (
	// Serial settings for the USB-CAN-A adapter: 2 Mbaud 8N1.
	serialBaudrate = 2000000

	// Settle time after writing the settings frame.
	configureDelay = 100 * time.Millisecond

	readChunkSize = 256
	pollInterval  = 50 * time.Millisecond
)

// Port is the subset of the serial port interface the bus needs. It is
// satisfied by go.bug.st/serial.Port and by in-memory fakes in tests.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(d time.Duration) error
	Close() error
}

// Bus frames CAN messages over a Waveshare USB-CAN-A serial connection.
// One goroutine may send while another receives; concurrent receivers
// are serialized on the buffer lock.
type Bus struct {
	port   Port
	logger logging.Logger

	sendMu sync.Mutex

	recvMu  sync.Mutex
	recvBuf []byte
}

// Open connects to the adapter on the given serial port and configures the
// CAN bitrate. A port name of AutoPort resolves to the first available
// adapter port. The adapter applies settings asynchronously, so Open
// blocks for a short settle delay before returning.
func Open(portName string, bitrate int, logger logging.Logger) (*Bus, error) {
	if portName == AutoPort {
		resolved, ok := FindPort(nil)
		if !ok {
			return nil, errors.New("no USB-CAN adapter port found")
		}
		logger.Infof("Auto-selected adapter port %s", resolved)
		portName = resolved
	}

	mode := &serial.Mode{
		BaudRate: serialBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", portName)
	}

	bus := newBus(port, logger)
	if err := bus.configureBitrate(bitrate); err != nil {
		port.Close()
		return nil, err
	}

	logger.Infof("Waveshare USB-CAN-A ready on %s at %d bit/s", portName, bitrate)
	return bus, nil
}

func newBus(port Port, logger logging.Logger) *Bus {
	return &Bus{port: port, logger: logger}
}

// configureBitrate writes the adapter settings frame and waits for it to
// take effect.
func (b *Bus) configureBitrate(bitrate int) error {
	code, ok := speedCodes[bitrate]
	if !ok {
		supported := make([]int, 0, len(speedCodes))
		for rate := range speedCodes {
			supported = append(supported, rate)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(supported)))
		return errors.Errorf("unsupported CAN bitrate %d, supported: %v", bitrate, supported)
	}

	if _, err := b.port.Write(settingsFrame(code)); err != nil {
		return errors.Wrap(err, "failed to write adapter settings")
	}
	time.Sleep(configureDelay)
	return nil
}

// Send encodes and writes one CAN frame. The adapter has no transmit
// acknowledgment; a nil return means the bytes reached the serial driver.
func (b *Bus) Send(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	if _, err := b.port.Write(encodeFrame(f)); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Recv returns the next CAN frame, waiting up to timeout for one to
// arrive. The second return is false when the timeout expired without a
// complete frame. Malformed frames between valid markers are dropped
// silently; the link is a best-effort stream.
func (b *Bus) Recv(timeout time.Duration) (Frame, bool, error) {
	deadline := time.Now().Add(timeout)

	b.recvMu.Lock()
	defer b.recvMu.Unlock()

	for {
		if f, ok := b.nextBuffered(); ok {
			return f, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Frame{}, false, nil
		}
		if remaining > pollInterval {
			remaining = pollInterval
		}

		if err := b.port.SetReadTimeout(remaining); err != nil {
			return Frame{}, false, errors.Wrap(err, "failed to set read timeout")
		}
		chunk := make([]byte, readChunkSize)
		n, err := b.port.Read(chunk)
		if err != nil {
			return Frame{}, false, errors.Wrap(err, "failed to read from serial port")
		}
		if n > 0 {
			b.recvBuf = append(b.recvBuf, chunk[:n]...)
		}
	}
}

// nextBuffered extracts the next decodable frame from the receive buffer.
// Leading garbage before a start marker is discarded. A data byte equal to
// the end marker can cause a false frame boundary here; the protocol has no
// length field validation on the wire and real adapter traffic relies on
// this same permissive framing, so it is preserved rather than "fixed".
func (b *Bus) nextBuffered() (Frame, bool) {
	for {
		start := bytes.IndexByte(b.recvBuf, frameStart)
		if start < 0 {
			b.recvBuf = b.recvBuf[:0]
			return Frame{}, false
		}
		if start > 0 {
			b.recvBuf = b.recvBuf[start:]
		}

		end := bytes.IndexByte(b.recvBuf[1:], frameEnd)
		if end < 0 {
			return Frame{}, false
		}
		end++ // account for the offset scan

		raw := b.recvBuf[:end+1]
		f, ok := decodeFrame(raw)
		b.recvBuf = b.recvBuf[end+1:]
		if ok {
			return f, true
		}
		// Drop and keep scanning.
	}
}

// Close shuts down the serial connection.
func (b *Bus) Close() error {
	return b.port.Close()
}
