package youpi_arm

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"youpi_arm/dspin"
)

// State of a MotionCoordinator.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateMoving
	StateHoming
	StateCalibrating
	StateShuttingDown
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateMoving:
		return "moving"
	case StateHoming:
		return "homing"
	case StateCalibrating:
		return "calibrating"
	case StateShuttingDown:
		return "shutting down"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Timeouts are the per-operation defaults used when a call passes zero.
type Timeouts struct {
	Default          time.Duration
	OpenGripper      time.Duration
	CloseGripper     time.Duration
	CalibrateGripper time.Duration
	SeekOrigin       time.Duration
	RotateHand       time.Duration
}

// DefaultTimeouts returns the stock operation timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:          30 * time.Second,
		OpenGripper:      10 * time.Second,
		CloseGripper:     20 * time.Second,
		CalibrateGripper: 30 * time.Second,
		SeekOrigin:       30 * time.Second,
		RotateHand:       30 * time.Second,
	}
}

// CoordinatorConfig holds the constants of a MotionCoordinator.
type CoordinatorConfig struct {
	Calibration Calibration
	Coupling    *CouplingGraph
	Dimensions  Dimensions
	Timeouts    Timeouts

	// switch polling during homing and gripper moves
	HomingPollInterval time.Duration
	// busy flag polling while waiting for a move
	BusyPollInterval time.Duration
	// consecutive identical switch reads required to accept a transition
	DebounceSamples int
}

// DefaultCoordinatorConfig returns the configuration of a stock arm.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Calibration:        DefaultCalibration(),
		Coupling:           YoupiCoupling,
		Dimensions:         YoupiDimensions,
		Timeouts:           DefaultTimeouts(),
		HomingPollInterval: 100 * time.Millisecond,
		BusyPollInterval:   20 * time.Millisecond,
		DebounceSamples:    1,
	}
}

// MoveOptions tune a joint move or goto. A nil *MoveOptions waits with the
// default timeout, without coupling.
type MoveOptions struct {
	// NoWait returns as soon as the commands are issued.
	NoWait bool
	// Coupled compensates the belt coupling of downstream joints.
	Coupled bool
	Timeout time.Duration
	// OnPoll is called at each busy poll while waiting.
	OnPoll func()
}

func (o *MoveOptions) withDefaults(timeout time.Duration) MoveOptions {
	var out MoveOptions
	if o != nil {
		out = *o
	}
	if out.Timeout <= 0 {
		out.Timeout = timeout
	}
	return out
}

// MotionCoordinator validates joint-space requests and turns them into motor
// commands. Positions are never cached: every operation reads the position
// registers.
//
// Motion operations are serialized. One that starts while another is running
// blocks until the first completes.
type MotionCoordinator struct {
	transport MotorTransport
	cfg       CoordinatorConfig
	kin       *Kinematics
	logger    logging.Logger

	moveLock sync.Mutex

	stateMu sync.Mutex
	state   State

	// set by an emergency shutdown, cleared by Initialize
	emergency atomic.Bool
}

// NewMotionCoordinator returns an uninitialized coordinator.
func NewMotionCoordinator(transport MotorTransport, cfg CoordinatorConfig, logger logging.Logger) (*MotionCoordinator, error) {
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	if cfg.Coupling == nil {
		cfg.Coupling = YoupiCoupling
	}
	def := DefaultCoordinatorConfig()
	if cfg.Dimensions == (Dimensions{}) {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.HomingPollInterval <= 0 {
		cfg.HomingPollInterval = def.HomingPollInterval
	}
	if cfg.BusyPollInterval <= 0 {
		cfg.BusyPollInterval = def.BusyPollInterval
	}
	if cfg.DebounceSamples <= 0 {
		cfg.DebounceSamples = 1
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults(def.Timeouts)

	return &MotionCoordinator{
		transport: transport,
		cfg:       cfg,
		kin:       NewKinematics(cfg.Dimensions, cfg.Calibration, logger),
		logger:    logger,
	}, nil
}

func (t Timeouts) withDefaults(def Timeouts) Timeouts {
	pick := func(v, d time.Duration) time.Duration {
		if v <= 0 {
			return d
		}
		return v
	}
	return Timeouts{
		Default:          pick(t.Default, def.Default),
		OpenGripper:      pick(t.OpenGripper, def.OpenGripper),
		CloseGripper:     pick(t.CloseGripper, def.CloseGripper),
		CalibrateGripper: pick(t.CalibrateGripper, def.CalibrateGripper),
		SeekOrigin:       pick(t.SeekOrigin, def.SeekOrigin),
		RotateHand:       pick(t.RotateHand, def.RotateHand),
	}
}

// Kinematics returns the solver bound to the coordinator calibration.
func (c *MotionCoordinator) Kinematics() *Kinematics {
	return c.kin
}

// Calibration returns the calibration table in use.
func (c *MotionCoordinator) Calibration() Calibration {
	return c.cfg.Calibration.Clone()
}

// State returns the current state.
func (c *MotionCoordinator) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *MotionCoordinator) setState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != s {
		c.logger.Debugf("state %v -> %v", c.state, s)
	}
	c.state = s
}

// begin takes the motion lock and moves from Ready to next. The returned
// function goes back to Ready and releases the lock.
func (c *MotionCoordinator) begin(next State) (func(), error) {
	c.moveLock.Lock()
	if s := c.State(); s != StateReady {
		c.moveLock.Unlock()
		return nil, &NotInitializedError{State: s}
	}
	c.setState(next)
	return func() {
		// an emergency shutdown may have happened meanwhile
		c.stateMu.Lock()
		if c.state == next {
			c.state = StateReady
		}
		c.stateMu.Unlock()
		c.moveLock.Unlock()
	}, nil
}

func transportErr(op string, j Joint, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Joint: j, Err: err}
}

// Initialize runs the transport handshake and pushes every motor's settings.
// On failure the coordinator stays uninitialized.
func (c *MotionCoordinator) Initialize(ctx context.Context) error {
	c.moveLock.Lock()
	defer c.moveLock.Unlock()

	switch s := c.State(); s {
	case StateReady:
		return nil
	case StateUninitialized, StateShutdown:
	default:
		return errors.Errorf("cannot initialize while %v", s)
	}
	c.setState(StateInitializing)
	c.emergency.Store(false)

	if err := c.initialize(ctx); err != nil {
		c.setState(StateUninitialized)
		return &InitializationError{Err: err}
	}
	c.setState(StateReady)
	c.logger.Info("arm ready")
	return nil
}

func (c *MotionCoordinator) initialize(ctx context.Context) error {
	if err := c.transport.Initialize(ctx); err != nil {
		return transportErr("handshake", allJoints, err)
	}
	for _, j := range AllJoints() {
		params := c.cfg.Calibration.Joints[j].MotorSettings()
		c.logger.Infof("%v settings: %v", j, params)
		if err := c.transport.PushMotorParameters(ctx, int(j), params); err != nil {
			return transportErr("push parameters", j, err)
		}
	}
	return nil
}

func (c *MotionCoordinator) readPositions(ctx context.Context) ([JointCount]int, error) {
	var steps [JointCount]int
	for _, j := range AllJoints() {
		s, err := c.transport.ReadAbsolutePosition(ctx, int(j))
		if err != nil {
			return steps, transportErr("read position", j, err)
		}
		steps[j] = s
	}
	return steps, nil
}

func (c *MotionCoordinator) motorAngles(ctx context.Context) ([JointCount]float64, error) {
	var angles [JointCount]float64
	steps, err := c.readPositions(ctx)
	if err != nil {
		return angles, err
	}
	for j, s := range steps {
		angles[j] = c.cfg.Calibration.Joints[j].StepsToDegrees(s)
	}
	return angles, nil
}

// GetJointPositions returns the motor angles read from the position registers.
func (c *MotionCoordinator) GetJointPositions(ctx context.Context) ([JointCount]float64, error) {
	return c.motorAngles(ctx)
}

// JointAngles returns the joint angles, each relative to its parent link.
func (c *MotionCoordinator) JointAngles(ctx context.Context) ([JointCount]float64, error) {
	motor, err := c.motorAngles(ctx)
	if err != nil {
		return motor, err
	}
	return c.cfg.Coupling.GlobalToLocal(motor), nil
}

const angleEpsilon = 1e-6

// checkLimits validates the joint angles resulting from moving the motors
// from current to target. Joints whose angle does not change are not checked,
// so an arm sitting out of its range can still be moved back.
func (c *MotionCoordinator) checkLimits(current, target [JointCount]float64) error {
	from := c.cfg.Coupling.GlobalToLocal(current)
	to := c.cfg.Coupling.GlobalToLocal(target)
	var violations []LimitViolation
	for _, j := range AllJoints() {
		limits := c.cfg.Calibration.Joints[j].Limits
		if limits == nil || math.Abs(to[j]-from[j]) < angleEpsilon {
			continue
		}
		if !limits.Contains(to[j]) {
			violations = append(violations, LimitViolation{Joint: j, Angle: to[j], Limits: *limits})
		}
	}
	if len(violations) > 0 {
		return &OutOfBoundsError{Violations: violations}
	}
	return nil
}

// JointsMove moves joints by relative angles. With Coupled set, the angles are
// joint deltas and the downstream motors are compensated; otherwise they are
// raw motor deltas. Nothing is commanded unless every resulting joint angle is
// within limits.
func (c *MotionCoordinator) JointsMove(ctx context.Context, angles JointAngles, opts *MoveOptions) error {
	o := opts.withDefaults(c.cfg.Timeouts.Default)
	if err := angles.validate(); err != nil {
		return err
	}
	end, err := c.begin(StateMoving)
	if err != nil {
		return err
	}
	defer end()
	return c.jointsMove(ctx, angles, o)
}

func (c *MotionCoordinator) jointsMove(ctx context.Context, angles JointAngles, o MoveOptions) error {
	current, err := c.motorAngles(ctx)
	if err != nil {
		return err
	}
	deltas := angles
	if o.Coupled {
		deltas = c.cfg.Coupling.ApplyCoupling(angles)
	}
	target := current
	for j, d := range deltas {
		target[j] += d
	}
	if err := c.checkLimits(current, target); err != nil {
		return err
	}

	var plan []motorCommand
	for _, j := range deltas.Joints() {
		steps := c.cfg.Calibration.Joints[j].DegreesToSteps(deltas[j])
		if steps == 0 {
			continue
		}
		dir := Forward
		if steps < 0 {
			dir, steps = Reverse, -steps
		}
		plan = append(plan, motorCommand{joint: j, dir: dir, steps: steps})
	}
	if err := checkStepRange(plan, 0, dspin.MaxMoveSteps); err != nil {
		return err
	}

	touched := make([]Joint, 0, len(plan))
	for _, cmd := range plan {
		c.logger.Debugf("move %v %v %d steps", cmd.joint, cmd.dir, cmd.steps)
		if err := c.transport.MoveSteps(ctx, int(cmd.joint), cmd.dir, cmd.steps); err != nil {
			return transportErr("move", cmd.joint, err)
		}
		touched = append(touched, cmd.joint)
	}
	return c.finishMotion(ctx, touched, o)
}

// motorCommand is one planned move or goto.
type motorCommand struct {
	joint Joint
	dir   Direction
	steps int
}

// checkStepRange rejects a plan as a whole when any step argument does not
// fit the driver registers.
func checkStepRange(plan []motorCommand, lo, hi int) error {
	var violations []StepViolation
	for _, cmd := range plan {
		if cmd.steps < lo || cmd.steps > hi {
			violations = append(violations, StepViolation{Joint: cmd.joint, Steps: cmd.steps, Min: lo, Max: hi})
		}
	}
	if len(violations) > 0 {
		return &StepRangeError{Violations: violations}
	}
	return nil
}

// JointsGoto moves joints to absolute angles. With Coupled set, the angles are
// joint angles: unspecified joints keep their current angle and every motor
// whose target changes is driven. Otherwise they are raw motor angles.
func (c *MotionCoordinator) JointsGoto(ctx context.Context, angles JointAngles, opts *MoveOptions) error {
	o := opts.withDefaults(c.cfg.Timeouts.Default)
	if err := angles.validate(); err != nil {
		return err
	}
	end, err := c.begin(StateMoving)
	if err != nil {
		return err
	}
	defer end()
	return c.jointsGoto(ctx, angles, o)
}

func (c *MotionCoordinator) jointsGoto(ctx context.Context, angles JointAngles, o MoveOptions) error {
	current, err := c.motorAngles(ctx)
	if err != nil {
		return err
	}
	target := current
	if o.Coupled {
		local := c.cfg.Coupling.GlobalToLocal(current)
		for j, a := range angles {
			local[j] = a
		}
		target = c.cfg.Coupling.LocalToGlobal(local)
	} else {
		for j, a := range angles {
			target[j] = a
		}
	}
	if err := c.checkLimits(current, target); err != nil {
		return err
	}

	var plan []motorCommand
	for _, j := range AllJoints() {
		_, requested := angles[j]
		if !requested && math.Abs(target[j]-current[j]) < angleEpsilon {
			continue
		}
		plan = append(plan, motorCommand{joint: j, steps: c.cfg.Calibration.Joints[j].DegreesToSteps(target[j])})
	}
	if err := checkStepRange(plan, dspin.MinPosition, dspin.MaxPosition); err != nil {
		return err
	}

	touched := make([]Joint, 0, len(plan))
	for _, cmd := range plan {
		c.logger.Debugf("goto %v %d", cmd.joint, cmd.steps)
		if err := c.transport.GotoAbsolute(ctx, int(cmd.joint), cmd.steps); err != nil {
			return transportErr("goto", cmd.joint, err)
		}
		touched = append(touched, cmd.joint)
	}
	return c.finishMotion(ctx, touched, o)
}

// CoupledJointsMove is JointsMove with coupling compensation.
func (c *MotionCoordinator) CoupledJointsMove(ctx context.Context, angles JointAngles, opts *MoveOptions) error {
	o := opts.withDefaults(0)
	o.Coupled = true
	return c.JointsMove(ctx, angles, &o)
}

// CoupledJointsGoto is JointsGoto with coupling compensation.
func (c *MotionCoordinator) CoupledJointsGoto(ctx context.Context, angles JointAngles, opts *MoveOptions) error {
	o := opts.withDefaults(0)
	o.Coupled = true
	return c.JointsGoto(ctx, angles, &o)
}

// RotateHand turns the hand by a relative angle.
func (c *MotionCoordinator) RotateHand(ctx context.Context, angle float64, opts *MoveOptions) error {
	o := opts.withDefaults(c.cfg.Timeouts.RotateHand)
	o.Coupled = false
	return c.JointsMove(ctx, JointAngles{HandRotation: angle}, &o)
}

// RotateHandTo turns the hand to an absolute motor angle.
func (c *MotionCoordinator) RotateHandTo(ctx context.Context, angle float64, opts *MoveOptions) error {
	o := opts.withDefaults(c.cfg.Timeouts.RotateHand)
	o.Coupled = false
	return c.JointsGoto(ctx, JointAngles{HandRotation: angle}, &o)
}

// MoveToPose solves the inverse kinematics and drives base to wrist there,
// with the hand rotation as a joint angle.
func (c *MotionCoordinator) MoveToPose(ctx context.Context, pose [4]float64, hand float64, opts *MoveOptions) error {
	o := opts.withDefaults(c.cfg.Timeouts.Default)
	o.Coupled = true
	return c.JointsGoto(ctx, JointAngles{
		Base:         pose[Base],
		Shoulder:     pose[Shoulder],
		Elbow:        pose[Elbow],
		Wrist:        pose[Wrist],
		HandRotation: hand,
	}, &o)
}

func (c *MotionCoordinator) finishMotion(ctx context.Context, touched []Joint, o MoveOptions) error {
	if o.NoWait || len(touched) == 0 {
		return nil
	}
	idle, err := c.waitIdle(ctx, o.Timeout, o.OnPoll)
	if err != nil {
		return err
	}
	if !idle {
		stopCtx := context.WithoutCancel(ctx)
		var errs error
		for _, j := range touched {
			errs = multierr.Append(errs, transportErr("soft stop", j, c.transport.SoftStop(stopCtx, int(j))))
		}
		if errs != nil {
			c.logger.CWarnf(ctx, "stopping after timeout: %v", errs)
		}
		return &MotionTimeoutError{Joints: touched, Timeout: o.Timeout}
	}
	return nil
}

// waitIdle polls the busy flag until it clears. It returns false on timeout.
func (c *MotionCoordinator) waitIdle(ctx context.Context, timeout time.Duration, onPoll func()) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if c.emergency.Load() {
			return false, &InterruptedError{Joint: allJoints}
		}
		busy, err := c.transport.IsBusy(ctx)
		if err != nil {
			return false, transportErr("read busy", allJoints, err)
		}
		if !busy {
			return true, nil
		}
		if onPoll != nil {
			onPoll()
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		if !utils.SelectContextOrWait(ctx, c.cfg.BusyPollInterval) {
			return false, ctx.Err()
		}
	}
}

// WaitIdle blocks until the chain is idle, for callers that moved with NoWait.
func (c *MotionCoordinator) WaitIdle(ctx context.Context, timeout time.Duration, onPoll func()) error {
	if timeout <= 0 {
		timeout = c.cfg.Timeouts.Default
	}
	idle, err := c.waitIdle(ctx, timeout, onPoll)
	if err != nil {
		return err
	}
	if !idle {
		return &MotionTimeoutError{Timeout: timeout}
	}
	return nil
}

// IsMoving reports whether an operation is running or a motor is busy.
func (c *MotionCoordinator) IsMoving(ctx context.Context) (bool, error) {
	switch c.State() {
	case StateMoving, StateHoming, StateCalibrating:
		return true, nil
	case StateReady:
		busy, err := c.transport.IsBusy(ctx)
		return busy, transportErr("read busy", allJoints, err)
	default:
		return false, nil
	}
}

// Stop decelerates the given motors, all of them when none is given. It does
// not wait for the motion lock, so it interrupts a running operation, whose own
// context should be cancelled too.
func (c *MotionCoordinator) Stop(ctx context.Context, joints ...Joint) error {
	if len(joints) == 0 {
		joints = AllJoints()
	}
	var errs error
	for _, j := range joints {
		errs = multierr.Append(errs, transportErr("soft stop", j, c.transport.SoftStop(ctx, int(j))))
	}
	return errs
}

// Release puts every motor in high impedance so the arm can be moved by hand.
// Positions are lost, the arm must be homed again before relying on them.
func (c *MotionCoordinator) Release(ctx context.Context) error {
	end, err := c.begin(StateMoving)
	if err != nil {
		return err
	}
	defer end()
	c.logger.CWarn(ctx, "releasing motors, origins must be sought again")
	return transportErr("release", allJoints, c.transport.Release(ctx))
}

// MotorStatus is a snapshot of one motor.
type MotorStatus struct {
	Joint        Joint   `json:"joint"`
	Steps        int     `json:"steps"`
	MotorAngle   float64 `json:"motor_angle"`
	JointAngle   float64 `json:"joint_angle"`
	SwitchClosed bool    `json:"switch_closed"`
}

// ChainStatus is a snapshot of the whole arm.
type ChainStatus struct {
	State  string        `json:"state"`
	Busy   bool          `json:"busy"`
	Motors []MotorStatus `json:"motors"`
}

// Status reads positions, switches and the busy flag. It only reads, so it is
// allowed in any state.
func (c *MotionCoordinator) Status(ctx context.Context) (ChainStatus, error) {
	status := ChainStatus{State: c.State().String()}
	steps, err := c.readPositions(ctx)
	if err != nil {
		return status, err
	}
	var motor [JointCount]float64
	for j, s := range steps {
		motor[j] = c.cfg.Calibration.Joints[j].StepsToDegrees(s)
	}
	local := c.cfg.Coupling.GlobalToLocal(motor)
	for _, j := range AllJoints() {
		closed, err := c.transport.ReadSwitchClosed(ctx, int(j))
		if err != nil {
			return status, transportErr("read switch", j, err)
		}
		status.Motors = append(status.Motors, MotorStatus{
			Joint:        j,
			Steps:        steps[j],
			MotorAngle:   motor[j],
			JointAngle:   local[j],
			SwitchClosed: closed,
		})
	}
	status.Busy, err = c.transport.IsBusy(ctx)
	return status, transportErr("read busy", allJoints, err)
}

// Registers dumps the driver registers of a motor when the transport can.
func (c *MotionCoordinator) Registers(ctx context.Context, j Joint) (map[string]uint32, error) {
	if !j.Valid() {
		return nil, errors.Errorf("invalid joint %v", j)
	}
	dumper, ok := c.transport.(RegisterDumper)
	if !ok {
		return nil, errors.New("transport cannot dump registers")
	}
	regs, err := dumper.Registers(ctx, int(j))
	return regs, transportErr("read registers", j, err)
}
