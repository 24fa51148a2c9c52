package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	youpi "youpi_arm"
)

type Options struct {
	SPIBus      string  `long:"spi-bus" default:"0" description:"SPI bus of the driver chain"`
	ChipSelect  string  `long:"cs" default:"0" description:"Chip select of the driver chain"`
	Simulated   bool    `long:"simulated" description:"Drive an in-memory chain instead of the SPI bus"`
	Reset       bool    `long:"reset" description:"Reset the drivers even if already configured (homing is lost)"`
	Calibration string  `long:"calibration" description:"Calibration override file (JSON or YAML)"`
	Timeout     float64 `long:"timeout" description:"Operation timeout in seconds, 0 for the built-in default"`
	Verbose     bool    `short:"v" long:"verbose" description:"Log every motor command"`

	Status    StatusCommand    `command:"status" description:"Show motor positions and switches"`
	Home      HomeCommand      `command:"home" description:"Seek the origin switches (all joints when none is given)"`
	Move      MoveCommand      `command:"move" description:"Move joints by relative angles: base=10 elbow=-5"`
	Goto      GotoCommand      `command:"goto" description:"Move joints to absolute angles: base=10 elbow=-5"`
	Hand      HandCommand      `command:"hand" description:"Rotate the hand"`
	Reach     ReachCommand     `command:"reach" description:"Move the gripper tip to X Y Z with a pitch"`
	Gripper   GripperCommand   `command:"gripper" description:"Open, close or calibrate the gripper"`
	IK        IKCommand        `command:"ik" description:"Solve joint angles for X Y Z PITCH"`
	DK        DKCommand        `command:"dk" description:"Compute the tip position for BASE SHOULDER ELBOW WRIST"`
	Registers RegistersCommand `command:"registers" description:"Dump the driver registers of a joint"`
	Release   ReleaseCommand   `command:"release" description:"Put all bridges in high impedance"`
	Shutdown  ShutdownCommand  `command:"shutdown" description:"Open the gripper and power the motors down"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "youpi - control CLI for the Youpi 6-axis arm"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

func newLogger() logging.Logger {
	logger := logging.NewLogger("youpi-cli")
	if opts.Verbose {
		logger.SetLevel(logging.DEBUG)
	}
	return logger
}

func timeout() time.Duration {
	return time.Duration(opts.Timeout * float64(time.Second))
}

// connect opens the chain and initializes a coordinator on it. Drivers left
// configured by an earlier run are not reset, so positions measured from the
// homed origin stay valid across invocations. The returned func closes the
// transport without powering the motors down.
func connect(ctx context.Context) (*youpi.MotionCoordinator, func(), error) {
	logger := newLogger()
	cfg := &youpi.Config{
		SPIBus:          opts.SPIBus,
		ChipSelect:      opts.ChipSelect,
		Simulated:       opts.Simulated,
		ForceReset:      opts.Reset,
		CalibrationFile: opts.Calibration,
	}
	if _, _, err := cfg.Validate("cli"); err != nil {
		return nil, nil, err
	}
	cal, err := loadCalibration(cfg)
	if err != nil {
		return nil, nil, err
	}
	if opts.Reset {
		logger.Warn("resetting the drivers, run home before any goto")
	}

	transport, err := youpi.NewTransport(ctx, nil, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closeTransport := func() {
		if err := transport.Close(context.Background()); err != nil {
			logger.Warnf("closing chain: %v", err)
		}
	}

	coordinator, err := youpi.NewMotionCoordinator(transport, cfg.CoordinatorConfig(cal), logger)
	if err != nil {
		closeTransport()
		return nil, nil, err
	}
	if err := coordinator.Initialize(ctx); err != nil {
		closeTransport()
		return nil, nil, err
	}
	return coordinator, closeTransport, nil
}

// loadCalibration fails on an unreadable calibration file instead of falling
// back to the defaults.
func loadCalibration(cfg *youpi.Config) (youpi.Calibration, error) {
	if cfg.CalibrationFile == "" {
		return youpi.DefaultCalibration(), nil
	}
	return youpi.LoadCalibrationFromFile(cfg.CalibrationPath())
}

// withCoordinator runs fn on an initialized coordinator and prints the
// chain status afterwards.
func withCoordinator(fn func(ctx context.Context, c *youpi.MotionCoordinator) error) error {
	ctx := context.Background()
	c, done, err := connect(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := fn(ctx, c); err != nil {
		return err
	}
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

// parseAngles reads joint=degrees pairs.
func parseAngles(args []string) (youpi.JointAngles, error) {
	if len(args) == 0 {
		return nil, errors.New("expected at least one joint=degrees argument")
	}
	angles := youpi.JointAngles{}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, errors.Errorf("expected joint=degrees, got %q", arg)
		}
		j, err := youpi.ParseJoint(name)
		if err != nil {
			return nil, err
		}
		deg, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "angle of %v", j)
		}
		angles[j] = deg
	}
	return angles, nil
}

func parseFloats(args []string, n int, names string) ([]float64, error) {
	if len(args) != n {
		return nil, errors.Errorf("expected %s", names)
	}
	values := make([]float64, n)
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d", i+1)
		}
		values[i] = v
	}
	return values, nil
}
