package piper_arm

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"piper_arm/canbus"
)

// CAN arbitration IDs from the Piper protocol (v2). All standard 11-bit,
// payload fields big-endian.
const (
	jointCtrlIDBase     = 0x155 // 0x155 (J1-2), 0x156 (J3-4), 0x157 (J5-6)
	jointFeedbackIDBase = 0x2A5 // 0x2A5 (J1-2), 0x2A6 (J3-4), 0x2A7 (J5-6)
	motionCtrl1ID       = 0x150 // emergency stop, drag teach
	motionCtrl2ID       = 0x151 // ctrl mode, move mode, speed percent
	gripperCommandID    = 0x159
	gripperFeedbackID   = 0x2A8
	motorEnableID       = 0x471
)

const (
	enableTargetAll = 0x07 // joints 1-6 plus gripper
	enableFlagOn    = 0x02

	ctrlModeCAN   = 0x01
	moveModeJoint = 0x01
)

const (
	// Gripper wire range in micrometers; 0 is fully open.
	gripperRangeUM = 70000

	// Enable handshake: the arm requires the enable framing repeated, not
	// sent once. There is no enable acknowledgment to wait for.
	enableRepeat   = 10
	enableInterval = 20 * time.Millisecond
	enableSettle   = 100 * time.Millisecond

	// Duration of a non-blocking command burst. Long enough to register
	// within the arm's polling window, short enough not to stall a tight
	// trajectory loop.
	burstDuration = 30 * time.Millisecond

	feedbackPoll      = 50 * time.Millisecond
	readerJoinTimeout = 500 * time.Millisecond

	// Bounds on the feedback drain performed by ReadState. The arm
	// broadcasts feedback continuously, so a short window is enough to
	// pick up a current snapshot between command streams.
	stateRefreshTimeout  = 50 * time.Millisecond
	stateRefreshFrameCap = 16
)

// ArmState is the last known state of the arm, updated by the feedback
// path. It is advisory: command correctness never depends on it.
type ArmState struct {
	Joints  [6]float64 // joint angles in radians
	Gripper float64    // 0=open .. 1=closed
}

// frameBus is the CAN connection surface the controller needs; satisfied
// by *canbus.Bus and by loopback fakes in tests.
type frameBus interface {
	Send(canbus.Frame) error
	Recv(timeout time.Duration) (canbus.Frame, bool, error)
	Close() error
}

// PiperController drives one Piper arm over a CAN connection. The arm
// stops moving if fresh commands stop arriving within its polling window,
// so position commands are streamed continuously rather than sent once.
type PiperController struct {
	bus    frameBus
	logger logging.Logger

	interval time.Duration

	// Motion speed in percent, read by every motion control frame and
	// adjustable while a command stream is running.
	speedPercent atomic.Int32

	stateMu sync.RWMutex
	state   ArmState
}

// NewPiperController opens the CAN adapter and runs the connect sequence:
// seed cached state from feedback, then repeat the enable handshake.
func NewPiperController(cfg *PiperConfig) (*PiperController, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("piper-controller")
	}

	bus, err := canbus.Open(cfg.Port, cfg.Bitrate, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open CAN adapter")
	}

	c := newControllerWithBus(bus, cfg, logger)
	if err := c.connect(cfg.FeedbackTimeout); err != nil {
		bus.Close()
		return nil, err
	}
	return c, nil
}

func newControllerWithBus(bus frameBus, cfg *PiperConfig, logger logging.Logger) *PiperController {
	c := &PiperController{
		bus:      bus,
		logger:   logger,
		interval: cfg.CommandInterval(),
	}
	c.speedPercent.Store(int32(cfg.SpeedPercent))
	return c
}

// connect seeds cached state, then emits the enable handshake. Feedback
// absence is a hard failure; the handshake itself is fire-and-forget
// since the protocol has no enable acknowledgment.
func (c *PiperController) connect(feedbackTimeout time.Duration) error {
	if !c.readFeedback(feedbackTimeout) {
		return errors.Errorf("no joint feedback within %v, arm not responding", feedbackTimeout)
	}

	if err := c.Enable(); err != nil {
		return err
	}

	c.logger.Info("Piper arm enabled")
	return nil
}

// Enable runs the motor enable handshake. The arm requires the enable
// framing repeated; an emergency stop leaves the motors disabled until
// this is rerun.
func (c *PiperController) Enable() error {
	for i := 0; i < enableRepeat; i++ {
		if err := c.sendEnable(); err != nil {
			return errors.Wrap(err, "failed to send enable command")
		}
		if err := c.sendMotionCtrl(); err != nil {
			return errors.Wrap(err, "failed to send motion control command")
		}
		time.Sleep(enableInterval)
	}
	time.Sleep(enableSettle)
	return nil
}

func (c *PiperController) sendEnable() error {
	return c.bus.Send(canbus.Frame{
		ID:   motorEnableID,
		Data: []byte{enableTargetAll, enableFlagOn, 0, 0, 0, 0, 0, 0},
	})
}

func (c *PiperController) sendMotionCtrl() error {
	return c.bus.Send(canbus.Frame{
		ID:   motionCtrl2ID,
		Data: []byte{ctrlModeCAN, moveModeJoint, byte(c.speedPercent.Load()), 0, 0, 0, 0, 0},
	})
}

// SetSpeedPercent changes the motion speed carried by subsequent motion
// control frames. Takes effect on the next command set, including mid
// stream.
func (c *PiperController) SetSpeedPercent(percent int) error {
	if percent < 1 || percent > 100 {
		return errors.Errorf("speed percent must be between 1 and 100, got %d", percent)
	}
	c.speedPercent.Store(int32(percent))
	return nil
}

// readFeedback drains feedback frames until all three joint-pair IDs have
// been seen or the timeout expires. Returns whether a full joint snapshot
// was assembled.
func (c *PiperController) readFeedback(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	seen := map[uint32]bool{}

	for time.Now().Before(deadline) && len(seen) < 3 {
		f, ok, err := c.bus.Recv(feedbackPoll)
		if err != nil {
			c.logger.Debugf("feedback read error: %v", err)
			return false
		}
		if !ok {
			continue
		}
		if c.processFeedback(f) && f.ID >= jointFeedbackIDBase && f.ID <= jointFeedbackIDBase+2 {
			seen[f.ID] = true
		}
	}

	return len(seen) >= 3
}

// processFeedback decodes one received frame into cached state. Returns
// whether the frame was protocol-relevant.
func (c *PiperController) processFeedback(f canbus.Frame) bool {
	switch {
	case f.ID >= jointFeedbackIDBase && f.ID <= jointFeedbackIDBase+2:
		if len(f.Data) < 8 {
			return true
		}
		idx := int(f.ID-jointFeedbackIDBase) * 2
		first := millidegToRad(int32(binary.BigEndian.Uint32(f.Data[0:4])))
		second := millidegToRad(int32(binary.BigEndian.Uint32(f.Data[4:8])))

		c.stateMu.Lock()
		c.state.Joints[idx] = first
		if idx+1 < 6 {
			c.state.Joints[idx+1] = second
		}
		c.stateMu.Unlock()
		return true

	case f.ID == gripperFeedbackID:
		if len(f.Data) < 4 {
			return true
		}
		um := int32(binary.BigEndian.Uint32(f.Data[0:4]))
		pos := float64(um) / gripperRangeUM
		if pos < 0 {
			pos = 0
		} else if pos > 1 {
			pos = 1
		}

		c.stateMu.Lock()
		c.state.Gripper = pos
		c.stateMu.Unlock()
		return true
	}

	return false
}

// State returns the last known arm state.
func (c *PiperController) State() ArmState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// ReadState drains pending feedback before returning the state. Command
// streams keep the cache fresh through their reader goroutine, but between
// streams nothing drains the receive path, so callers that need current
// joint or gripper values read through here.
func (c *PiperController) ReadState() ArmState {
	deadline := time.Now().Add(stateRefreshTimeout)
	for n := 0; n < stateRefreshFrameCap; n++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		f, ok, err := c.bus.Recv(remaining)
		if err != nil {
			c.logger.Debugf("feedback refresh error: %v", err)
			break
		}
		if !ok {
			break
		}
		c.processFeedback(f)
	}
	return c.State()
}

// sendCommandSet emits the full position command set: enable, motion
// control, and all three joint-pair frames. The arm requires the whole set
// together; a bare joint frame is ignored.
func (c *PiperController) sendCommandSet(posMdeg [6]int32) error {
	if err := c.sendEnable(); err != nil {
		return err
	}
	if err := c.sendMotionCtrl(); err != nil {
		return err
	}

	for i := 0; i < 3; i++ {
		var data [8]byte
		binary.BigEndian.PutUint32(data[0:4], uint32(posMdeg[i*2]))
		binary.BigEndian.PutUint32(data[4:8], uint32(posMdeg[i*2+1]))
		if err := c.bus.Send(canbus.Frame{
			ID:   uint32(jointCtrlIDBase + i),
			Data: data[:],
		}); err != nil {
			return err
		}
	}
	return nil
}

// CommandJointPositions streams the command set for the given duration,
// resending every command interval. A background goroutine drains feedback
// during the stream so the receive path never backs up.
func (c *PiperController) CommandJointPositions(ctx context.Context, positions [6]float64, duration time.Duration) error {
	posMdeg := radsToMillideg(positions)

	stop := make(chan struct{})
	done := make(chan struct{})
	goutils.PanicCapturingGo(func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			f, ok, err := c.bus.Recv(feedbackPoll)
			if err != nil {
				return
			}
			if ok {
				c.processFeedback(f)
			}
		}
	})
	defer func() {
		close(stop)
		select {
		case <-done:
		case <-time.After(readerJoinTimeout):
			c.logger.Warn("feedback reader did not stop in time")
		}
	}()

	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if err := c.sendCommandSet(posMdeg); err != nil {
			return errors.Wrap(err, "failed to send command set")
		}
		if !goutils.SelectContextOrWait(ctx, c.interval) {
			return ctx.Err()
		}
	}
	return nil
}

// CommandJointPositionsBurst sends the command set for a short fixed burst
// without a dedicated feedback reader. Used between waypoints in a tight
// trajectory loop, where the next command follows immediately.
func (c *PiperController) CommandJointPositionsBurst(ctx context.Context, positions [6]float64) error {
	posMdeg := radsToMillideg(positions)

	deadline := time.Now().Add(burstDuration)
	for time.Now().Before(deadline) {
		if err := c.sendCommandSet(posMdeg); err != nil {
			return errors.Wrap(err, "failed to send command set")
		}
		if !goutils.SelectContextOrWait(ctx, c.interval) {
			return ctx.Err()
		}
	}
	return nil
}

// CommandGripper sets the gripper position, 0=open to 1=closed. Out of
// range values are clamped.
func (c *PiperController) CommandGripper(position float64) error {
	if position < 0 {
		position = 0
	} else if position > 1 {
		position = 1
	}

	// Payload: position in micrometers (int32), effort (uint16), mode
	// byte, set-zero byte.
	var data [8]byte
	binary.BigEndian.PutUint32(data[0:4], uint32(int32(position*gripperRangeUM)))
	return c.bus.Send(canbus.Frame{ID: gripperCommandID, Data: data[:]})
}

// EmergencyStop issues the motion control 1 stop command.
func (c *PiperController) EmergencyStop() error {
	return c.bus.Send(canbus.Frame{
		ID:   motionCtrl1ID,
		Data: []byte{0x01, 0, 0, 0, 0, 0, 0, 0},
	})
}

// Close shuts down the CAN connection.
func (c *PiperController) Close() error {
	return c.bus.Close()
}

func radsToMillideg(positions [6]float64) [6]int32 {
	var out [6]int32
	for i, p := range positions {
		out[i] = int32(math.Round(p * 180.0 / math.Pi * 1000.0))
	}
	return out
}

func millidegToRad(mdeg int32) float64 {
	return float64(mdeg) / 1000.0 * math.Pi / 180.0
}
