// Choreography runner CLI.
//
// Single arm:
//
//	cli --poses poses.json --schedule he.md --port /dev/ttyUSB0
//
// Dual arm:
//
//	cli --poses poses.json --he he.md --she she.md --he-port /dev/ttyUSB0 --she-port /dev/ttyUSB1
//
// Simulation (no hardware required):
//
//	cli --poses poses.json --schedule he.md --sim
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.viam.com/rdk/logging"

	piper "piper_arm"
	"piper_arm/choreography"
)

type options struct {
	poses    string
	schedule string
	port     string

	heSchedule  string
	sheSchedule string
	hePort      string
	shePort     string

	interpolation string
	easing        string
	intervalMS    int
	bpm           float64
	startup       bool

	dryRun bool
	sim    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.poses, "poses", "", "path to poses JSON file")
	flag.StringVar(&opts.schedule, "schedule", "", "schedule file (single arm mode)")
	flag.StringVar(&opts.port, "port", "/dev/ttyUSB0", "serial port for single arm")
	flag.StringVar(&opts.heSchedule, "he", "", "schedule file for 'he' arm (dual arm mode)")
	flag.StringVar(&opts.sheSchedule, "she", "", "schedule file for 'she' arm (dual arm mode)")
	flag.StringVar(&opts.hePort, "he-port", "/dev/ttyUSB0", "serial port for 'he' arm")
	flag.StringVar(&opts.shePort, "she-port", "/dev/ttyUSB1", "serial port for 'she' arm")
	flag.StringVar(&opts.interpolation, "interpolation", "none", "none, linear, or cubic")
	flag.StringVar(&opts.easing, "easing", "none", "none, ease_in, ease_out, ease_in_out")
	flag.IntVar(&opts.intervalMS, "interval-ms", choreography.DefaultIntervalMS, "waypoint interval in milliseconds")
	flag.Float64Var(&opts.bpm, "bpm", 0, "groove tempo in BPM (0 disables groove)")
	flag.BoolVar(&opts.startup, "startup", false, "prepend the countdown wiggle")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "validate and print without moving the arm")
	flag.BoolVar(&opts.sim, "sim", false, "use the simulation backend instead of hardware")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.poses == "" {
		return fmt.Errorf("--poses is required")
	}

	single := opts.schedule != ""
	dual := opts.heSchedule != "" || opts.sheSchedule != ""
	switch {
	case single && dual:
		return fmt.Errorf("cannot use --schedule with --he/--she")
	case !single && !dual:
		return fmt.Errorf("specify --schedule (single arm) or --he/--she (dual arm)")
	case dual && (opts.heSchedule == "" || opts.sheSchedule == ""):
		return fmt.Errorf("dual arm mode requires both --he and --she")
	}

	compileOpts, err := buildCompileOptions(opts)
	if err != nil {
		return err
	}

	logger := logging.NewLogger("piper-choreo")
	if single {
		return runSingle(opts, compileOpts, logger)
	}
	return runDual(opts, compileOpts, logger)
}

func buildCompileOptions(opts options) (choreography.CompileOptions, error) {
	interpolation, err := choreography.ParseInterpolation(opts.interpolation)
	if err != nil {
		return choreography.CompileOptions{}, err
	}
	easing, err := choreography.ParseEasing(opts.easing)
	if err != nil {
		return choreography.CompileOptions{}, err
	}
	return choreography.CompileOptions{
		IntervalMS:    opts.intervalMS,
		Interpolation: interpolation,
		Easing:        easing,
		Groove:        choreography.NewGrooveConfig(opts.bpm),
	}, nil
}

func loadAndReport(posesPath, schedulePath, label string, logger logging.Logger) (*choreography.Choreography, error) {
	choreo, err := choreography.LoadChoreography(posesPath, schedulePath)
	if err != nil {
		return nil, err
	}
	logger.Infof("[%s] Loaded %d poses, %d checkpoints", label, len(choreo.Poses), len(choreo.Checkpoints))
	for _, w := range choreo.Warnings {
		logger.Warnf("[%s] %s", label, w)
	}
	return choreo, nil
}

func printSchedule(choreo *choreography.Choreography, label string) {
	fmt.Printf("[%s] schedule:\n", label)
	for _, cp := range choreo.Checkpoints {
		totalMS := int(cp.Time * 1000)
		mins := totalMS / 60000
		secs := (totalMS % 60000) / 1000
		ms := totalMS % 1000
		fmt.Printf("  %02d:%02d.%03d -> %s\n", mins, secs, ms, cp.PoseName)
	}
}

func newAdapter(opts options, port string) (piper.Adapter, error) {
	if opts.sim {
		return piper.NewSimAdapter(), nil
	}
	cfg := &piper.PiperConfig{Port: port}
	if _, _, err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return piper.NewHardwareAdapter(cfg)
}

func runSingle(opts options, compileOpts choreography.CompileOptions, logger logging.Logger) error {
	choreo, err := loadAndReport(opts.poses, opts.schedule, "arm", logger)
	if err != nil {
		return err
	}

	traj, err := choreography.Compile(choreo, compileOpts)
	if err != nil {
		return err
	}
	if opts.startup {
		traj = choreography.PrependStartup(traj)
	}

	if opts.dryRun {
		printSchedule(choreo, "arm")
		fmt.Printf("Compiled %d waypoints over %.1fs\n", traj.Len(), traj.TotalDuration)
		return nil
	}

	arm, err := newAdapter(opts, opts.port)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer arm.Close(ctx)

	return choreography.NewRunner(logger).RunTrajectory(ctx, arm, traj)
}

func runDual(opts options, compileOpts choreography.CompileOptions, logger logging.Logger) error {
	he, err := loadAndReport(opts.poses, opts.heSchedule, "he", logger)
	if err != nil {
		return err
	}
	she, err := loadAndReport(opts.poses, opts.sheSchedule, "she", logger)
	if err != nil {
		return err
	}

	trajs, err := choreography.CompileDual(
		map[string]*choreography.Choreography{"he": he, "she": she}, compileOpts)
	if err != nil {
		return err
	}
	if opts.startup {
		for label, traj := range trajs {
			trajs[label] = choreography.PrependStartup(traj)
		}
	}

	if opts.dryRun {
		printSchedule(he, "he")
		printSchedule(she, "she")
		for label, traj := range trajs {
			fmt.Printf("[%s] compiled %d waypoints over %.1fs\n", label, traj.Len(), traj.TotalDuration)
		}
		return nil
	}

	ctx := context.Background()
	heArm, err := newAdapter(opts, opts.hePort)
	if err != nil {
		return err
	}
	defer heArm.Close(ctx)
	sheArm, err := newAdapter(opts, opts.shePort)
	if err != nil {
		return err
	}
	defer sheArm.Close(ctx)

	return choreography.NewRunner(logger).RunDualTrajectories(ctx,
		map[string]choreography.Arm{"he": heArm, "she": sheArm}, trajs)
}
