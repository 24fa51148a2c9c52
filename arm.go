package youpi_arm

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/rdk/utils"
)

//go:embed youpi.json
var youpiModelJSON []byte

var ArmModel = resource.NewModel("youpi", "arm", "youpi")

func init() {
	resource.RegisterComponent(arm.API, ArmModel,
		resource.Registration[arm.Arm, *Config]{
			Constructor: newYoupiArm,
		},
	)
}

type youpiArm struct {
	resource.Named
	resource.AlwaysRebuild

	logger      logging.Logger
	cfg         *Config
	coordinator *MotionCoordinator
	model       referenceframe.Model
	opMgr       *operation.SingleOperationManager
}

func newYoupiArm(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	return NewYoupiArm(ctx, deps, rawConf.ResourceName(), conf, logger)
}

// NewYoupiArm attaches an arm to the shared coordinator of conf's chain.
func NewYoupiArm(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (arm.Arm, error) {
	if conf.Logger == nil {
		conf.Logger = logger
	}

	model, err := referenceframe.UnmarshalModelJSON(youpiModelJSON, name.ShortName())
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse kinematics JSON")
	}

	coordinator, err := GetSharedCoordinator(ctx, deps, conf, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize Youpi coordinator")
	}

	logger.Infof("Youpi arm initialized on chain %s", conf.Key())
	return &youpiArm{
		Named:       name.AsNamed(),
		logger:      logger,
		cfg:         conf,
		coordinator: coordinator,
		model:       model,
		opMgr:       operation.NewSingleOperationManager(),
	}, nil
}

func (a *youpiArm) Close(ctx context.Context) error {
	a.logger.Info("Closing Youpi arm")
	return ReleaseSharedCoordinator(ctx, a.cfg)
}

// moveOptions reads "timeout_sec" and "no_wait" from extra.
func moveOptions(extra map[string]interface{}) *MoveOptions {
	opts := &MoveOptions{}
	if extra == nil {
		return opts
	}
	if t, ok := extra["timeout_sec"].(float64); ok && t > 0 {
		opts.Timeout = seconds(t)
	}
	if noWait, ok := extra["no_wait"].(bool); ok {
		opts.NoWait = noWait
	}
	return opts
}

func inputsToAngles(positions []referenceframe.Input) (JointAngles, error) {
	if len(positions) != ArmJointCount {
		return nil, fmt.Errorf("expected %d joint positions for Youpi, got %d", ArmJointCount, len(positions))
	}
	angles := make(JointAngles, ArmJointCount)
	for i, pos := range positions {
		angles[Joint(i)] = utils.RadToDeg(float64(pos))
	}
	return angles, nil
}

// JointPositions returns base to hand joint angles, in radians.
func (a *youpiArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	angles, err := a.coordinator.JointAngles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read joint positions")
	}
	inputs := make([]referenceframe.Input, ArmJointCount)
	for i := range inputs {
		inputs[i] = referenceframe.Input(utils.DegToRad(angles[i]))
	}
	return inputs, nil
}

// MoveToJointPositions drives every arm joint to the given joint angles. The
// coupling of the motors is compensated.
func (a *youpiArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	ctx, done := a.opMgr.New(ctx)
	defer done()

	angles, err := inputsToAngles(positions)
	if err != nil {
		return err
	}
	if err := a.coordinator.CoupledJointsGoto(ctx, angles, moveOptions(extra)); err != nil {
		return errors.Wrap(err, "failed to move to joint positions")
	}
	return nil
}

func (a *youpiArm) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error {
	for _, jointPositions := range positions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.MoveToJointPositions(ctx, jointPositions, extra); err != nil {
			return err
		}
	}
	return nil
}

func (a *youpiArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	inputs, err := a.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	return referenceframe.ComputeOOBPosition(a.model, inputs)
}

// MoveToPosition solves the position with the analytic solver. The gripper
// pitch comes from the orientation vector and the hand rotation from theta.
func (a *youpiArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	ctx, done := a.opMgr.New(ctx)
	defer done()

	ov := pose.Orientation().OrientationVectorDegrees()
	pitch := PitchFromApproach(r3.Vector{X: ov.OX, Y: ov.OY, Z: ov.OZ})

	joints, err := a.coordinator.Kinematics().IK(pose.Point(), pitch)
	if err != nil {
		return err
	}
	a.logger.CDebugf(ctx, "MoveToPosition %v pitch %.2f -> %v hand %.2f", pose.Point(), pitch, joints, ov.Theta)
	return a.coordinator.MoveToPose(ctx, joints, ov.Theta, moveOptions(extra))
}

func (a *youpiArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	a.opMgr.CancelRunning(ctx)
	return a.coordinator.Stop(ctx, Base, Shoulder, Elbow, Wrist, HandRotation)
}

func (a *youpiArm) IsMoving(ctx context.Context) (bool, error) {
	return a.coordinator.IsMoving(ctx)
}

// ModelFrame returns the kinematics model.
func (a *youpiArm) ModelFrame() referenceframe.Model {
	return a.model
}

func (a *youpiArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return a.model, nil
}

func (a *youpiArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return a.JointPositions(ctx, nil)
}

func (a *youpiArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return a.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

func (a *youpiArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	inputs, err := a.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	gif, err := a.model.Geometries(inputs)
	if err != nil {
		return nil, err
	}
	return gif.Geometries(), nil
}

// Get3DModels has no meshes to offer, the model geometries are boxes.
func (a *youpiArm) Get3DModels(ctx context.Context, extra map[string]interface{}) (map[string]*commonpb.Mesh, error) {
	return map[string]*commonpb.Mesh{}, nil
}

func (a *youpiArm) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "seek_origins":
		var joints []Joint
		if names, ok := cmd["joints"].([]interface{}); ok {
			for _, n := range names {
				j, err := ParseJoint(fmt.Sprint(n))
				if err != nil {
					return nil, err
				}
				joints = append(joints, j)
			}
		}
		err := a.coordinator.SeekOrigins(ctx, joints, timeoutArg(cmd))
		return map[string]interface{}{"success": err == nil}, err

	case "seek_origin":
		j, err := jointArg(cmd)
		if err != nil {
			return nil, err
		}
		err = a.coordinator.SeekOrigin(ctx, j, timeoutArg(cmd))
		return map[string]interface{}{"success": err == nil}, err

	case "calibrate_gripper":
		err := a.coordinator.CalibrateGripper(ctx, timeoutArg(cmd))
		return map[string]interface{}{"success": err == nil}, err

	case "release":
		err := a.coordinator.Release(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "shutdown":
		emergency, _ := cmd["emergency"].(bool)
		err := a.coordinator.Shutdown(ctx, emergency)
		return map[string]interface{}{"success": err == nil}, err

	case "initialize":
		err := a.coordinator.Initialize(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "status":
		status, err := a.coordinator.Status(ctx)
		if err != nil {
			return nil, err
		}
		return toMap(status)

	case "registers":
		j, err := jointArg(cmd)
		if err != nil {
			return nil, err
		}
		regs, err := a.coordinator.Registers(ctx, j)
		if err != nil {
			return nil, err
		}
		result := make(map[string]interface{}, len(regs))
		for name, v := range regs {
			result[name] = v
		}
		return result, nil

	case "joints_move", "joints_goto":
		angles, err := anglesArg(cmd)
		if err != nil {
			return nil, err
		}
		opts := moveOptions(cmd)
		opts.Coupled, _ = cmd["coupled"].(bool)
		if cmd["command"] == "joints_move" {
			err = a.coordinator.JointsMove(ctx, angles, opts)
		} else {
			err = a.coordinator.JointsGoto(ctx, angles, opts)
		}
		return map[string]interface{}{"success": err == nil}, err

	case "rotate_hand":
		angle, ok := cmd["angle"].(float64)
		if !ok {
			return nil, errors.New("rotate_hand requires a numeric 'angle'")
		}
		var err error
		if absolute, _ := cmd["absolute"].(bool); absolute {
			err = a.coordinator.RotateHandTo(ctx, angle, moveOptions(cmd))
		} else {
			err = a.coordinator.RotateHand(ctx, angle, moveOptions(cmd))
		}
		return map[string]interface{}{"success": err == nil}, err

	case "joint_positions":
		angles, err := a.coordinator.JointAngles(ctx)
		if err != nil {
			return nil, err
		}
		motors, err := a.coordinator.GetJointPositions(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"joint_angles": angles[:], "motor_angles": motors[:]}, nil

	case "ik":
		x, okX := cmd["x"].(float64)
		y, okY := cmd["y"].(float64)
		z, okZ := cmd["z"].(float64)
		if !okX || !okY || !okZ {
			return nil, errors.New("ik requires numeric 'x', 'y' and 'z'")
		}
		pitch, _ := cmd["pitch"].(float64)
		joints, err := a.coordinator.Kinematics().IK(r3.Vector{X: x, Y: y, Z: z}, pitch)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"joints": joints[:]}, nil

	case "dk":
		raw, ok := cmd["joints"].([]interface{})
		if !ok || len(raw) != 4 {
			return nil, errors.New("dk requires 'joints' with base, shoulder, elbow and wrist angles")
		}
		var pose [4]float64
		for i, v := range raw {
			f, ok := v.(float64)
			if !ok {
				return nil, errors.Errorf("dk joint %d is not a number: %v", i, v)
			}
			pose[i] = f
		}
		p := a.coordinator.Kinematics().DK(pose)
		return map[string]interface{}{"x": p.X, "y": p.Y, "z": p.Z, "pitch": Pitch(pose)}, nil

	case "controller_status":
		refCount, hasCoordinator, summary := GetCoordinatorStatus(a.cfg)
		return map[string]interface{}{
			"ref_count":       refCount,
			"has_coordinator": hasCoordinator,
			"config":          summary,
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func timeoutArg(cmd map[string]interface{}) time.Duration {
	if t, ok := cmd["timeout_sec"].(float64); ok && t > 0 {
		return seconds(t)
	}
	return 0
}

func jointArg(cmd map[string]interface{}) (Joint, error) {
	switch v := cmd["joint"].(type) {
	case string:
		return ParseJoint(v)
	case float64:
		j := Joint(int(v))
		if !j.Valid() {
			return 0, errors.Errorf("invalid joint %v", v)
		}
		return j, nil
	default:
		return 0, errors.New("command requires a 'joint' name or index")
	}
}

// anglesArg reads "angles", a map from joint name to degrees.
func anglesArg(cmd map[string]interface{}) (JointAngles, error) {
	raw, ok := cmd["angles"].(map[string]interface{})
	if !ok {
		return nil, errors.New("command requires an 'angles' map from joint name to degrees")
	}
	angles := make(JointAngles, len(raw))
	for name, v := range raw {
		j, err := ParseJoint(name)
		if err != nil {
			return nil, err
		}
		f, ok := v.(float64)
		if !ok {
			return nil, errors.Errorf("angle for %v is not a number: %v", j, v)
		}
		angles[j] = f
	}
	return angles, nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
