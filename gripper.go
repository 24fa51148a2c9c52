package youpi_arm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

var GripperModel = resource.NewModel("youpi", "gripper", "youpi")

func init() {
	resource.RegisterComponent(
		gripper.API,
		GripperModel,
		resource.Registration[gripper.Gripper, *Config]{
			Constructor: newYoupiGripper,
		},
	)
}

type youpiGripper struct {
	resource.Named
	resource.AlwaysRebuild

	logger      logging.Logger
	cfg         *Config
	coordinator *MotionCoordinator
	geometries  []spatialmath.Geometry

	isMoving atomic.Bool
	holding  atomic.Bool
}

func newYoupiGripper(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (gripper.Gripper, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	return NewYoupiGripper(ctx, deps, conf.ResourceName(), cfg, logger)
}

// NewYoupiGripper attaches a gripper to the shared coordinator of cfg's chain.
// It shares the chain with an arm configured on the same SPI bus and chip select.
func NewYoupiGripper(ctx context.Context, deps resource.Dependencies, name resource.Name, cfg *Config, logger logging.Logger) (gripper.Gripper, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger
	}

	coordinator, err := GetSharedCoordinator(ctx, deps, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared coordinator for gripper: %w", err)
	}

	clawSize := r3.Vector{X: 60, Y: 90, Z: 110}
	claws, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: clawSize.Z / 2}), clawSize, "claws")
	if err != nil {
		return nil, releaseOnError(ctx, cfg, err)
	}

	logger.Debugf("Youpi gripper initialized on chain %s", cfg.Key())
	return &youpiGripper{
		Named:       name.AsNamed(),
		logger:      logger,
		cfg:         cfg,
		coordinator: coordinator,
		geometries:  []spatialmath.Geometry{claws},
	}, nil
}

func releaseOnError(ctx context.Context, cfg *Config, err error) error {
	if relErr := ReleaseSharedCoordinator(ctx, cfg); relErr != nil {
		return fmt.Errorf("%w (release: %v)", err, relErr)
	}
	return err
}

// Open drives the gripper to its calibrated open position.
func (g *youpiGripper) Open(ctx context.Context, extra map[string]interface{}) error {
	g.isMoving.Store(true)
	defer g.isMoving.Store(false)

	g.logger.Debug("Opening gripper")
	if err := g.coordinator.OpenGripper(ctx, timeoutArg(extra)); err != nil {
		return fmt.Errorf("failed to open gripper: %w", err)
	}
	g.holding.Store(false)
	return nil
}

// Grab closes the gripper until its switch closes. The jaws only close the
// switch when nothing is between them, so a close that times out before the
// switch is taken as the jaws stopped on an object: Grab returns true and the
// gripper reports holding until the next Open.
func (g *youpiGripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	g.isMoving.Store(true)
	defer g.isMoving.Store(false)

	g.logger.Debug("Closing gripper")
	err := g.coordinator.CloseGripper(ctx, timeoutArg(extra))

	var timeout *HomingTimeoutError
	switch {
	case err == nil:
		g.logger.Debug("Gripper reached the closed switch, nothing grabbed")
		g.holding.Store(false)
		return false, nil
	case errors.As(err, &timeout):
		g.logger.Debugf("Gripper stopped before closing: %v", err)
		g.holding.Store(true)
		return true, nil
	default:
		return false, fmt.Errorf("failed to close gripper: %w", err)
	}
}

func (g *youpiGripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	return g.coordinator.Stop(ctx, Gripper)
}

func (g *youpiGripper) IsMoving(ctx context.Context) (bool, error) {
	return g.isMoving.Load(), nil
}

func (g *youpiGripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	return gripper.HoldingStatus{IsHoldingSomething: g.holding.Load()}, nil
}

func (g *youpiGripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return g.geometries, nil
}

func (g *youpiGripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "calibrate":
		g.isMoving.Store(true)
		defer g.isMoving.Store(false)
		err := g.coordinator.CalibrateGripper(ctx, timeoutArg(cmd))
		if err == nil {
			g.holding.Store(false)
		}
		return map[string]interface{}{"success": err == nil}, err

	case "get_state":
		closed, err := g.coordinator.GripperClosed(ctx)
		if err != nil {
			return nil, err
		}
		positions, err := g.coordinator.GetJointPositions(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"switch_closed": closed,
			"holding":       g.holding.Load(),
			"motor_angle":   positions[Gripper],
		}, nil

	case "controller_status":
		refCount, hasCoordinator, summary := GetCoordinatorStatus(g.cfg)
		return map[string]interface{}{
			"ref_count":       refCount,
			"has_coordinator": hasCoordinator,
			"config":          summary,
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (g *youpiGripper) Close(ctx context.Context) error {
	return ReleaseSharedCoordinator(ctx, g.cfg)
}

func (g *youpiGripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return nil, errors.ErrUnsupported
}

func (g *youpiGripper) GoToInputs(ctx context.Context, inputs ...[]referenceframe.Input) error {
	return errors.ErrUnsupported
}

func (g *youpiGripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}
