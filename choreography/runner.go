package choreography

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// Waypoints whose times land within this window are dispatched in the
// same round.
const roundTolerance = 0.001

// Arm is the dispatch surface the runner drives: joint angles in radians,
// gripper 0=open..1=closed. Commands must not block for the waypoint's
// full travel time; the runner owns the timeline.
type Arm interface {
	CommandJoints(ctx context.Context, joints [NumJoints]float64) error
	CommandGripper(ctx context.Context, position float64) error
}

// Runner executes compiled trajectories against a monotonic clock.
type Runner struct {
	logger logging.Logger
	clock  clock.Clock
}

// NewRunner builds a runner on the real clock.
func NewRunner(logger logging.Logger) *Runner {
	return newRunnerWithClock(logger, clock.New())
}

func newRunnerWithClock(logger logging.Logger, clk clock.Clock) *Runner {
	return &Runner{logger: logger, clock: clk}
}

// waitUntil blocks until target seconds after start, or the context ends.
// Already-past targets return immediately.
func (r *Runner) waitUntil(ctx context.Context, start time.Time, target float64) error {
	wait := time.Duration(target*float64(time.Second)) - r.clock.Since(start)
	if wait <= 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}

	timer := r.clock.Timer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Runner) dispatch(ctx context.Context, arm Arm, wp Waypoint) error {
	var joints [NumJoints]float64
	for i, deg := range wp.Joints {
		joints[i] = deg * math.Pi / 180.0
	}
	if err := arm.CommandJoints(ctx, joints); err != nil {
		return err
	}
	return arm.CommandGripper(ctx, wp.Gripper)
}

// RunTrajectory walks the waypoints in order, dispatching each at its
// scheduled instant relative to a monotonic start time.
func (r *Runner) RunTrajectory(ctx context.Context, arm Arm, traj *Trajectory) error {
	if len(traj.Waypoints) == 0 {
		r.logger.Info("No waypoints to execute")
		return nil
	}

	r.logger.Infof("Running trajectory: %d waypoints over %.1fs (%s interpolation)",
		len(traj.Waypoints), traj.TotalDuration, traj.Interpolation)

	start := r.clock.Now()
	for _, wp := range traj.Waypoints {
		if err := r.waitUntil(ctx, start, wp.Time); err != nil {
			return err
		}
		r.logger.Debugf("[%6.2fs] dispatching waypoint", wp.Time)
		if err := r.dispatch(ctx, arm, wp); err != nil {
			return err
		}
	}

	r.logger.Infof("Trajectory completed in %.1fs", r.clock.Since(start).Seconds())
	return nil
}

// event is one arm's waypoint on the merged dual timeline.
type event struct {
	label    string
	waypoint Waypoint
}

// mergeRounds flattens the trajectories into a time-ordered sequence of
// dispatch rounds, grouping events whose times agree within the round
// tolerance.
func mergeRounds(trajs map[string]*Trajectory) [][]event {
	labels := make([]string, 0, len(trajs))
	for label := range trajs {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var events []event
	for _, label := range labels {
		for _, wp := range trajs[label].Waypoints {
			events = append(events, event{label: label, waypoint: wp})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].waypoint.Time < events[j].waypoint.Time
	})

	var rounds [][]event
	for i := 0; i < len(events); {
		j := i + 1
		for j < len(events) && events[j].waypoint.Time-events[i].waypoint.Time <= roundTolerance {
			j++
		}
		rounds = append(rounds, events[i:j])
		i = j
	}
	return rounds
}

// RunDualTrajectories executes multiple trajectories on one merged
// timeline. Waypoints due at the same instant form a round dispatched to
// all arms concurrently; the fan-out is joined before the next round's
// wait begins, so cross-arm skew is bounded by dispatch cost alone.
func (r *Runner) RunDualTrajectories(ctx context.Context, arms map[string]Arm, trajs map[string]*Trajectory) error {
	for label := range trajs {
		if _, ok := arms[label]; !ok {
			return fmt.Errorf("no arm for trajectory %q", label)
		}
	}

	rounds := mergeRounds(trajs)
	if len(rounds) == 0 {
		r.logger.Info("No waypoints to execute")
		return nil
	}

	r.logger.Infof("Running synchronized trajectories: %d arms, %d rounds", len(arms), len(rounds))

	start := r.clock.Now()
	for _, round := range rounds {
		if err := r.waitUntil(ctx, start, round[0].waypoint.Time); err != nil {
			return err
		}

		var wg sync.WaitGroup
		errs := make([]error, len(round))
		for i, ev := range round {
			wg.Add(1)
			i, ev := i, ev
			goutils.PanicCapturingGo(func() {
				defer wg.Done()
				errs[i] = r.dispatch(ctx, arms[ev.label], ev.waypoint)
			})
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				return fmt.Errorf("dispatch to %q failed: %w", round[i].label, err)
			}
		}
	}

	r.logger.Infof("Trajectories completed in %.1fs", r.clock.Since(start).Seconds())
	return nil
}
