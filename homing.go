package youpi_arm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Homing phases reported by HomingTimeoutError.
const (
	PhaseSeeking   = "seeking"
	PhaseAdjusting = "adjusting"
	PhaseClosing   = "closing"
	PhaseOpening   = "opening"
)

func (c *MotionCoordinator) readSwitch(ctx context.Context, j Joint) (bool, error) {
	closed, err := c.transport.ReadSwitchClosed(ctx, int(j))
	return closed, transportErr("read switch", j, err)
}

// waitSwitch polls the switch of j until it reads want for DebounceSamples
// consecutive polls. It returns false on timeout, and an InterruptedError once
// an emergency shutdown has powered the chain down.
func (c *MotionCoordinator) waitSwitch(ctx context.Context, j Joint, want bool, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	agree := 0
	for {
		if c.emergency.Load() {
			return false, &InterruptedError{Joint: j}
		}
		closed, err := c.readSwitch(ctx, j)
		if err != nil {
			return false, err
		}
		if closed == want {
			agree++
			if agree >= c.cfg.DebounceSamples {
				return true, nil
			}
		} else {
			agree = 0
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		if !utils.SelectContextOrWait(ctx, c.cfg.HomingPollInterval) {
			return false, ctx.Err()
		}
	}
}

// hardStop stops j even when ctx is already cancelled.
func (c *MotionCoordinator) hardStop(ctx context.Context, j Joint) error {
	err := transportErr("hard stop", j, c.transport.HardStop(context.WithoutCancel(ctx), int(j)))
	if err != nil {
		c.logger.CErrorf(ctx, "%v", err)
	}
	return err
}

// abort hard-stops j and returns cause, or a timeout error for phase when
// cause is nil.
func (c *MotionCoordinator) abort(ctx context.Context, j Joint, phase string, timeout time.Duration, cause error) error {
	_ = c.hardStop(ctx, j)
	if cause != nil {
		return cause
	}
	return &HomingTimeoutError{Joint: j, Phase: phase, Timeout: timeout}
}

// SeekOrigin homes a joint on its switch and zeroes its position register.
// The switch is first crossed at full speed, then the motor creeps back at
// minimum speed until the switch returns to its initial state. The gripper
// has no origin switch and is calibrated with CalibrateGripper instead.
func (c *MotionCoordinator) SeekOrigin(ctx context.Context, j Joint, timeout time.Duration) error {
	if !j.Valid() {
		return errors.Errorf("invalid joint %v", j)
	}
	end, err := c.begin(StateHoming)
	if err != nil {
		return err
	}
	defer end()
	return c.seekOrigin(ctx, j, timeout)
}

// SeekOrigins homes joints in the given order, all joints when none is given,
// and stops at the first failure.
func (c *MotionCoordinator) SeekOrigins(ctx context.Context, joints []Joint, timeout time.Duration) error {
	if len(joints) == 0 {
		joints = AllJoints()
	}
	for _, j := range joints {
		if !j.Valid() {
			return errors.Errorf("invalid joint %v", j)
		}
	}
	end, err := c.begin(StateHoming)
	if err != nil {
		return err
	}
	defer end()
	for _, j := range joints {
		if err := c.seekOrigin(ctx, j, timeout); err != nil {
			return err
		}
	}
	return nil
}

func (c *MotionCoordinator) seekOrigin(ctx context.Context, j Joint, timeout time.Duration) error {
	if j == Gripper {
		c.logger.CDebugf(ctx, "%v has no origin switch, skipped", j)
		return nil
	}
	if timeout <= 0 {
		timeout = c.cfg.Timeouts.SeekOrigin
	}
	cal := c.cfg.Calibration.Joints[j]

	initial, err := c.readSwitch(ctx, j)
	if err != nil {
		return err
	}
	dir := Forward
	if initial {
		dir = Reverse
	}
	c.logger.CDebugf(ctx, "%v seeking origin %v, switch closed: %v", j, dir, initial)
	if err := c.transport.Run(ctx, int(j), dir, cal.MaxSpeed); err != nil {
		return c.abort(ctx, j, PhaseSeeking, timeout, transportErr("run", j, err))
	}
	crossed, err := c.waitSwitch(ctx, j, !initial, timeout)
	if err != nil || !crossed {
		return c.abort(ctx, j, PhaseSeeking, timeout, err)
	}
	if err := c.transport.SoftStop(ctx, int(j)); err != nil {
		return c.abort(ctx, j, PhaseSeeking, timeout, transportErr("soft stop", j, err))
	}

	if err := c.transport.Run(ctx, int(j), dir.Opposite(), cal.MinSpeed); err != nil {
		return c.abort(ctx, j, PhaseAdjusting, timeout, transportErr("run", j, err))
	}
	back, err := c.waitSwitch(ctx, j, initial, timeout)
	if err != nil || !back {
		return c.abort(ctx, j, PhaseAdjusting, timeout, err)
	}
	if err := c.hardStop(ctx, j); err != nil {
		return err
	}
	if err := c.transport.ResetPosition(ctx, int(j)); err != nil {
		return transportErr("reset position", j, err)
	}
	c.logger.CInfof(ctx, "%v origin found", j)
	return nil
}

func (c *MotionCoordinator) closeGripper(ctx context.Context, timeout time.Duration) error {
	closed, err := c.readSwitch(ctx, Gripper)
	if err != nil {
		return err
	}
	if closed {
		c.logger.CDebug(ctx, "gripper already closed")
		return nil
	}
	if err := c.transport.Run(ctx, int(Gripper), Reverse, c.cfg.Calibration.Gripper.CloseSpeed); err != nil {
		return c.abort(ctx, Gripper, PhaseClosing, timeout, transportErr("run", Gripper, err))
	}
	closed, err = c.waitSwitch(ctx, Gripper, true, timeout)
	if err != nil || !closed {
		return c.abort(ctx, Gripper, PhaseClosing, timeout, err)
	}
	return transportErr("soft stop", Gripper, c.transport.SoftStop(ctx, int(Gripper)))
}

// CloseGripper runs the gripper until its switch closes. It does nothing if
// the switch already reads closed.
func (c *MotionCoordinator) CloseGripper(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.Timeouts.CloseGripper
	}
	end, err := c.begin(StateMoving)
	if err != nil {
		return err
	}
	defer end()
	return c.closeGripper(ctx, timeout)
}

// GripperClosed reads the gripper switch.
func (c *MotionCoordinator) GripperClosed(ctx context.Context) (bool, error) {
	return c.readSwitch(ctx, Gripper)
}

func (c *MotionCoordinator) openGripper(ctx context.Context, timeout time.Duration) error {
	if err := c.transport.GotoAbsolute(ctx, int(Gripper), 0); err != nil {
		return transportErr("goto", Gripper, err)
	}
	return c.finishMotion(ctx, []Joint{Gripper}, MoveOptions{Timeout: timeout})
}

// OpenGripper drives the gripper back to the open position set by CalibrateGripper.
func (c *MotionCoordinator) OpenGripper(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.Timeouts.OpenGripper
	}
	end, err := c.begin(StateMoving)
	if err != nil {
		return err
	}
	defer end()
	return c.openGripper(ctx, timeout)
}

// CalibrateGripper closes the gripper on its switch, opens it by a fixed
// number of steps and takes that position as origin.
func (c *MotionCoordinator) CalibrateGripper(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.Timeouts.CalibrateGripper
	}
	end, err := c.begin(StateCalibrating)
	if err != nil {
		return err
	}
	defer end()

	if err := c.closeGripper(ctx, timeout); err != nil {
		return err
	}
	steps := c.cfg.Calibration.Gripper.OpenSteps(c.cfg.Calibration.Joints[Gripper])
	if err := c.transport.MoveSteps(ctx, int(Gripper), Forward, steps); err != nil {
		return transportErr("move", Gripper, err)
	}
	idle, err := c.waitIdle(ctx, timeout, nil)
	if err != nil || !idle {
		return c.abort(ctx, Gripper, PhaseOpening, timeout, err)
	}
	if err := c.transport.ResetPosition(ctx, int(Gripper)); err != nil {
		return transportErr("reset position", Gripper, err)
	}
	c.logger.CInfo(ctx, "gripper calibrated")
	return nil
}

// Shutdown opens the gripper, unless emergency is set or the arm is not
// ready, then powers the motors down. A gripper failure is only logged.
// An emergency shutdown does not wait for a running operation.
func (c *MotionCoordinator) Shutdown(ctx context.Context, emergency bool) error {
	if emergency {
		c.emergency.Store(true)
	} else {
		c.moveLock.Lock()
		defer c.moveLock.Unlock()
	}
	state := c.State()
	if state == StateShutdown {
		return nil
	}
	c.setState(StateShuttingDown)

	if !emergency && state == StateReady {
		if err := c.openGripper(ctx, c.cfg.Timeouts.OpenGripper); err != nil {
			c.logger.CWarnf(ctx, "opening gripper before shutdown: %v", err)
		}
	}
	err := transportErr("power down", allJoints, c.transport.PowerDown(context.WithoutCancel(ctx)))
	c.setState(StateShutdown)
	c.logger.CInfof(ctx, "arm shut down (emergency: %v)", emergency)
	return err
}
