package youpi_arm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var CalibrationSensorModel = resource.NewModel("youpi", "sensor", "calibration")

func init() {
	resource.RegisterComponent(sensor.API, CalibrationSensorModel,
		resource.Registration[sensor.Sensor, *Config]{
			Constructor: newCalibrationSensor,
		},
	)
}

// default file written by save_calibration when the config names none
const defaultCalibrationFile = "youpi_calibration.json"

// CalibrationState is the step reached by the calibration workflow.
type CalibrationState int

const (
	CalibrationIdle CalibrationState = iota
	CalibrationOriginsFound
	CalibrationCompleted
	CalibrationFailed
)

func (s CalibrationState) String() string {
	switch s {
	case CalibrationIdle:
		return "idle"
	case CalibrationOriginsFound:
		return "origins_found"
	case CalibrationCompleted:
		return "completed"
	case CalibrationFailed:
		return "error"
	default:
		return "unknown"
	}
}

// calibrationSensor walks an operator through homing the joints and
// calibrating the gripper, and reports the chain while doing so.
type calibrationSensor struct {
	resource.Named
	resource.AlwaysRebuild

	logger      logging.Logger
	cfg         *Config
	coordinator *MotionCoordinator

	mu                sync.RWMutex
	state             CalibrationState
	instruction       string
	errorMsg          string
	homed             map[Joint]bool
	gripperCalibrated bool
	savedTo           string
}

func newCalibrationSensor(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	return NewCalibrationSensor(ctx, deps, conf.ResourceName(), cfg, logger)
}

// NewCalibrationSensor attaches a calibration sensor to the shared coordinator
// of cfg's chain.
func NewCalibrationSensor(ctx context.Context, deps resource.Dependencies, name resource.Name, cfg *Config, logger logging.Logger) (sensor.Sensor, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	coordinator, err := GetSharedCoordinator(ctx, deps, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared coordinator for calibration sensor: %w", err)
	}

	logger.Infof("Youpi calibration sensor initialized on chain %s", cfg.Key())
	return &calibrationSensor{
		Named:       name.AsNamed(),
		logger:      logger,
		cfg:         cfg,
		coordinator: coordinator,
		state:       CalibrationIdle,
		instruction: "Clear the arm's path, then run seek_origins.",
		homed:       make(map[Joint]bool),
	}, nil
}

// Readings returns the workflow step and a snapshot of every motor.
func (cs *calibrationSensor) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	status, err := cs.coordinator.Status(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chain status")
	}

	cs.mu.RLock()
	defer cs.mu.RUnlock()

	joints := make(map[string]any, len(status.Motors))
	for _, m := range status.Motors {
		joints[m.Joint.String()] = map[string]any{
			"steps":         m.Steps,
			"motor_angle":   m.MotorAngle,
			"joint_angle":   m.JointAngle,
			"switch_closed": m.SwitchClosed,
			"homed":         cs.homed[m.Joint],
		}
	}

	readings := map[string]any{
		"calibration_state":  cs.state.String(),
		"instruction":        cs.instruction,
		"coordinator_state":  status.State,
		"busy":               status.Busy,
		"joints":             joints,
		"gripper_calibrated": cs.gripperCalibrated,
		"available_commands": cs.availableCommands(),
	}
	if cs.state == CalibrationFailed {
		readings["error"] = cs.errorMsg
	}
	if cs.savedTo != "" {
		readings["saved_to"] = cs.savedTo
	}
	return readings, nil
}

func (cs *calibrationSensor) availableCommands() []any {
	switch cs.state {
	case CalibrationIdle:
		return []any{"seek_origins"}
	case CalibrationOriginsFound:
		return []any{"calibrate_gripper", "seek_origins", "reset"}
	case CalibrationCompleted:
		return []any{"save_calibration", "seek_origins", "reset"}
	default:
		return []any{"reset", "seek_origins"}
	}
}

func (cs *calibrationSensor) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	switch cmd["command"] {
	case "seek_origins":
		return cs.seekOrigins(ctx, cmd)
	case "calibrate_gripper":
		return cs.calibrateGripper(ctx, cmd)
	case "save_calibration":
		return cs.saveCalibration(cmd)
	case "reset":
		cs.setState(CalibrationIdle, "Clear the arm's path, then run seek_origins.")
		cs.mu.Lock()
		cs.homed = make(map[Joint]bool)
		cs.gripperCalibrated = false
		cs.savedTo = ""
		cs.mu.Unlock()
		return map[string]any{"success": true}, nil
	case "emergency_stop":
		cs.logger.Warnf("Emergency stop requested on chain %s", cs.cfg.Key())
		err := ForceCloseSharedCoordinator(ctx, cs.cfg)
		cs.fail(errors.New("chain closed by emergency stop, reconfigure the resources to use it again"))
		return map[string]any{"success": err == nil}, err
	case "controller_status":
		refCount, hasCoordinator, summary := GetCoordinatorStatus(cs.cfg)
		return map[string]any{
			"ref_count":       refCount,
			"has_coordinator": hasCoordinator,
			"config":          summary,
		}, nil
	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (cs *calibrationSensor) seekOrigins(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	joints := AllJoints()
	if names, ok := cmd["joints"].([]any); ok {
		joints = joints[:0:0]
		for _, n := range names {
			j, err := ParseJoint(fmt.Sprint(n))
			if err != nil {
				return nil, err
			}
			joints = append(joints, j)
		}
	}

	if err := cs.coordinator.SeekOrigins(ctx, joints, timeoutArg(cmd)); err != nil {
		cs.fail(err)
		return map[string]any{"success": false}, err
	}

	cs.mu.Lock()
	for _, j := range joints {
		if j != Gripper {
			cs.homed[j] = true
		}
	}
	cs.savedTo = ""
	gripperDone := cs.gripperCalibrated
	cs.mu.Unlock()

	if gripperDone {
		cs.setState(CalibrationCompleted, "Origins found. Run save_calibration to keep the calibration.")
	} else {
		cs.setState(CalibrationOriginsFound, "Origins found. Clear the jaws, then run calibrate_gripper.")
	}
	return map[string]any{"success": true}, nil
}

func (cs *calibrationSensor) calibrateGripper(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	if err := cs.coordinator.CalibrateGripper(ctx, timeoutArg(cmd)); err != nil {
		cs.fail(err)
		return map[string]any{"success": false}, err
	}
	cs.mu.Lock()
	cs.gripperCalibrated = true
	originsFound := len(cs.homed) > 0
	cs.mu.Unlock()
	if originsFound {
		cs.setState(CalibrationCompleted, "Arm calibrated. Run save_calibration to keep the calibration.")
	} else {
		cs.setState(CalibrationIdle, "Gripper calibrated. Clear the arm's path, then run seek_origins.")
	}
	return map[string]any{"success": true}, nil
}

// saveCalibration writes the calibration in use to "path", the configured
// calibration file, or youpi_calibration.json in the module data directory.
func (cs *calibrationSensor) saveCalibration(cmd map[string]any) (map[string]any, error) {
	cs.mu.RLock()
	state := cs.state
	cs.mu.RUnlock()
	if state != CalibrationCompleted {
		return nil, errors.Errorf("cannot save calibration in state %v", state)
	}

	file, _ := cmd["path"].(string)
	if file == "" {
		file = cs.cfg.CalibrationFile
	}
	if file == "" {
		file = defaultCalibrationFile
	}
	path := (&Config{CalibrationFile: file}).CalibrationPath()

	if err := SaveCalibrationToFile(path, cs.coordinator.Calibration()); err != nil {
		return nil, err
	}
	cs.logger.Infof("Calibration saved to %s", path)

	cs.mu.Lock()
	cs.savedTo = path
	cs.mu.Unlock()
	cs.setState(CalibrationCompleted, "Calibration saved.")
	return map[string]any{"success": true, "path": path}, nil
}

func (cs *calibrationSensor) setState(state CalibrationState, instruction string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.state = state
	cs.instruction = instruction
	cs.errorMsg = ""
}

func (cs *calibrationSensor) fail(err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.state = CalibrationFailed
	cs.errorMsg = err.Error()
	cs.instruction = "Fix the cause, then run reset or seek_origins."
	cs.logger.Warnf("Calibration failed: %v", err)
}

func (cs *calibrationSensor) Close(ctx context.Context) error {
	return ReleaseSharedCoordinator(ctx, cs.cfg)
}
