package piper_arm

import (
	"fmt"
	"time"

	"go.viam.com/rdk/logging"
)

const (
	// DefaultBitrate is the Piper's CAN bus speed.
	DefaultBitrate = 1000000

	// DefaultCommandInterval is the resend period for streamed commands.
	// The arm stops if fresh commands stop arriving, so streams resend the
	// full command set on this cadence.
	DefaultCommandInterval = 5 * time.Millisecond

	// DefaultSpeedPercent is the motion controller speed setting sent with
	// every command set.
	DefaultSpeedPercent = 30

	// DefaultStreamDuration is how long a blocking position command holds
	// its target when the caller does not specify.
	DefaultStreamDuration = 2 * time.Second

	// DefaultFeedbackTimeout bounds the wait for the first full joint
	// snapshot on connect.
	DefaultFeedbackTimeout = 500 * time.Millisecond
)

// PiperConfig configures a connection to one Piper arm through a USB-CAN
// adapter. One config per serial port; components on the same port share a
// controller.
type PiperConfig struct {
	// Port is the serial port path, or "auto" to pick the first
	// available USB-CAN adapter at open time.
	Port string `json:"port"`

	Bitrate           int           `json:"bitrate,omitempty"`
	CommandIntervalMS int           `json:"command_interval_ms,omitempty"`
	SpeedPercent      int           `json:"speed_percent,omitempty"`
	FeedbackTimeout   time.Duration `json:"feedback_timeout,omitempty"`

	Logger logging.Logger `json:"-"`
}

// Validate ensures all parts of the config are valid
func (cfg *PiperConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("must specify port for serial communication")
	}

	if cfg.Bitrate == 0 {
		cfg.Bitrate = DefaultBitrate
	}

	if cfg.CommandIntervalMS == 0 {
		cfg.CommandIntervalMS = int(DefaultCommandInterval / time.Millisecond)
	}
	if cfg.CommandIntervalMS < 1 || cfg.CommandIntervalMS > 100 {
		return nil, nil, fmt.Errorf("command_interval_ms must be between 1 and 100, got %d", cfg.CommandIntervalMS)
	}

	if cfg.SpeedPercent == 0 {
		cfg.SpeedPercent = DefaultSpeedPercent
	}
	if cfg.SpeedPercent < 1 || cfg.SpeedPercent > 100 {
		return nil, nil, fmt.Errorf("speed_percent must be between 1 and 100, got %d", cfg.SpeedPercent)
	}

	if cfg.FeedbackTimeout == 0 {
		cfg.FeedbackTimeout = DefaultFeedbackTimeout
	}

	return nil, nil, nil
}

// CommandInterval returns the streamed command resend period.
func (cfg *PiperConfig) CommandInterval() time.Duration {
	if cfg.CommandIntervalMS <= 0 {
		return DefaultCommandInterval
	}
	return time.Duration(cfg.CommandIntervalMS) * time.Millisecond
}
