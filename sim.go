package youpi_arm

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"youpi_arm/dspin"
)

// SimOp names a command received by a SimulatedChain.
type SimOp string

// Simulated operations. The read ops never show in the command log but can be
// made to fail.
const (
	SimInitialize    SimOp = "initialize"
	SimPushParams    SimOp = "push_params"
	SimRun           SimOp = "run"
	SimMove          SimOp = "move"
	SimGoto          SimOp = "goto"
	SimSoftStop      SimOp = "soft_stop"
	SimHardStop      SimOp = "hard_stop"
	SimResetPosition SimOp = "reset_position"
	SimRelease       SimOp = "release"
	SimPowerDown     SimOp = "power_down"
	SimReadPosition  SimOp = "read_position"
	SimReadSwitch    SimOp = "read_switch"
	SimReadBusy      SimOp = "read_busy"
)

// SimCommand is one logged command.
type SimCommand struct {
	Op    SimOp
	Motor int
	Dir   Direction
	Value float64
}

type simMotor struct {
	// physical position in micro-steps, the register reads physical - offset
	physical float64
	offset   float64

	running bool
	dir     Direction
	speed   float64

	edge        float64
	closesAbove bool
	stuck       *bool

	params MotorParameters
}

func (m *simMotor) register() int {
	return int(math.Round(m.physical - m.offset))
}

func (m *simMotor) switchClosed() bool {
	if m.stuck != nil {
		return *m.stuck
	}
	if m.closesAbove {
		return m.physical >= m.edge
	}
	return m.physical <= m.edge
}

// SimulatedChain is an in-memory MotorTransport. Every motor has a switch at a
// fixed physical position. A running motor advances each time its switch is
// read, by the distance covered in Tick at the commanded speed, so homing
// converges in a number of polls that does not depend on the wall clock.
// Moves complete instantly but keep the chain busy for BusyPolls reads.
type SimulatedChain struct {
	mu       sync.Mutex
	logger   logging.Logger
	motors   []*simMotor
	commands []SimCommand
	busyLeft int
	released bool

	// Tick is the simulated motion time between two switch reads.
	Tick time.Duration
	// BusyPolls is how many IsBusy reads return true after a move.
	BusyPolls int
	// FailOn makes the given operations return an error.
	FailOn map[SimOp]error
}

// NewSimulatedChain returns a chain of the given number of motors. The last
// motor behaves as a gripper: its switch closes below -200 steps, the others
// close above 500 steps.
func NewSimulatedChain(chips int, logger logging.Logger) *SimulatedChain {
	s := &SimulatedChain{
		logger: logger,
		Tick:   100 * time.Millisecond,
		FailOn: map[SimOp]error{},
	}
	for i := 0; i < chips; i++ {
		m := &simMotor{edge: 500, closesAbove: true}
		if i == chips-1 {
			m.edge, m.closesAbove = -200, false
		}
		s.motors = append(s.motors, m)
	}
	return s
}

func (s *SimulatedChain) motor(op SimOp, motor int) (*simMotor, error) {
	if err := s.FailOn[op]; err != nil {
		return nil, err
	}
	if motor < 0 || motor >= len(s.motors) {
		return nil, errors.Errorf("motor %d out of chain range [0, %d)", motor, len(s.motors))
	}
	return s.motors[motor], nil
}

func (s *SimulatedChain) log(op SimOp, motor int, dir Direction, value float64) {
	s.commands = append(s.commands, SimCommand{Op: op, Motor: motor, Dir: dir, Value: value})
	if s.logger != nil {
		s.logger.Debugf("sim %s motor %d %v %v", op, motor, dir, value)
	}
}

// Initialize implements MotorTransport.
func (s *SimulatedChain) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn[SimInitialize]; err != nil {
		return err
	}
	s.released = false
	s.log(SimInitialize, -1, 0, 0)
	return nil
}

// PushMotorParameters implements MotorTransport. Settings the real driver
// would reject are rejected too.
func (s *SimulatedChain) PushMotorParameters(ctx context.Context, motor int, params MotorParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.motor(SimPushParams, motor)
	if err != nil {
		return err
	}
	if _, err := params.Writes(); err != nil {
		return err
	}
	m.params = params
	s.log(SimPushParams, motor, 0, 0)
	return nil
}

// Run implements MotorTransport.
func (s *SimulatedChain) Run(ctx context.Context, motor int, dir Direction, stepsPerSec float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.motor(SimRun, motor)
	if err != nil {
		return err
	}
	m.running, m.dir, m.speed = true, dir, stepsPerSec
	s.log(SimRun, motor, dir, stepsPerSec)
	return nil
}

// MoveSteps implements MotorTransport.
func (s *SimulatedChain) MoveSteps(ctx context.Context, motor int, dir Direction, steps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.motor(SimMove, motor)
	if err != nil {
		return err
	}
	if steps < 0 || steps > dspin.MaxMoveSteps {
		return errors.Errorf("step count %d out of range", steps)
	}
	m.running = false
	m.physical += signOf(dir) * float64(steps)
	s.busyLeft = s.BusyPolls
	s.log(SimMove, motor, dir, float64(steps))
	return nil
}

// GotoAbsolute implements MotorTransport.
func (s *SimulatedChain) GotoAbsolute(ctx context.Context, motor int, steps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.motor(SimGoto, motor)
	if err != nil {
		return err
	}
	if steps < dspin.MinPosition || steps > dspin.MaxPosition {
		return errors.Errorf("position %d out of range", steps)
	}
	m.running = false
	m.physical = float64(steps) + m.offset
	s.busyLeft = s.BusyPolls
	s.log(SimGoto, motor, dspin.DirectionOf(float64(steps)), float64(steps))
	return nil
}

func (s *SimulatedChain) stop(op SimOp, motor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.motor(op, motor)
	if err != nil {
		return err
	}
	m.running = false
	s.log(op, motor, 0, 0)
	return nil
}

// SoftStop implements MotorTransport.
func (s *SimulatedChain) SoftStop(ctx context.Context, motor int) error {
	return s.stop(SimSoftStop, motor)
}

// HardStop implements MotorTransport.
func (s *SimulatedChain) HardStop(ctx context.Context, motor int) error {
	return s.stop(SimHardStop, motor)
}

// ResetPosition implements MotorTransport.
func (s *SimulatedChain) ResetPosition(ctx context.Context, motor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.motor(SimResetPosition, motor)
	if err != nil {
		return err
	}
	m.offset = math.Round(m.physical)
	s.log(SimResetPosition, motor, 0, 0)
	return nil
}

// ReadAbsolutePosition implements MotorTransport.
func (s *SimulatedChain) ReadAbsolutePosition(ctx context.Context, motor int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.motor(SimReadPosition, motor)
	if err != nil {
		return 0, err
	}
	return m.register(), nil
}

// ReadSwitchClosed implements MotorTransport. A running motor moves first.
func (s *SimulatedChain) ReadSwitchClosed(ctx context.Context, motor int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.motor(SimReadSwitch, motor)
	if err != nil {
		return false, err
	}
	if m.running {
		m.physical += signOf(m.dir) * math.Max(1, m.speed*s.Tick.Seconds())
	}
	return m.switchClosed(), nil
}

// IsBusy implements MotorTransport.
func (s *SimulatedChain) IsBusy(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn[SimReadBusy]; err != nil {
		return false, err
	}
	if s.busyLeft > 0 {
		s.busyLeft--
		return true, nil
	}
	return false, nil
}

// Release implements MotorTransport.
func (s *SimulatedChain) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn[SimRelease]; err != nil {
		return err
	}
	for _, m := range s.motors {
		m.running = false
	}
	s.released = true
	s.log(SimRelease, -1, 0, 0)
	return nil
}

// PowerDown implements MotorTransport.
func (s *SimulatedChain) PowerDown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailOn[SimPowerDown]; err != nil {
		return err
	}
	for _, m := range s.motors {
		m.running = false
	}
	s.released = true
	s.log(SimPowerDown, -1, 0, 0)
	return nil
}

// Close implements MotorTransport.
func (s *SimulatedChain) Close(ctx context.Context) error {
	return nil
}

// Registers implements RegisterDumper with the few registers the simulation models.
func (s *SimulatedChain) Registers(ctx context.Context, motor int) (map[string]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.motor(SimReadPosition, motor)
	if err != nil {
		return nil, err
	}
	status := dspin.StatusBusy
	if m.switchClosed() {
		status |= dspin.StatusSwitch
	}
	if s.released {
		status |= dspin.StatusHiZ
	}
	regs := map[string]uint32{
		dspin.RegAbsPos.Name: uint32(m.register()) & dspin.RegAbsPos.Mask(),
		dspin.RegStatus.Name: status,
		dspin.RegConfig.Name: dspin.UserConfig(dspin.ConfigReset),
	}
	if writes, err := m.params.Writes(); err == nil {
		for _, w := range writes {
			regs[w.Register.Name] = w.Value
		}
	}
	return regs, nil
}

// SetSwitch moves the switch of a motor to a physical position.
func (s *SimulatedChain) SetSwitch(motor int, edge float64, closesAbove bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motors[motor].edge = edge
	s.motors[motor].closesAbove = closesAbove
}

// StickSwitch freezes a switch in the given state, nil releases it.
func (s *SimulatedChain) StickSwitch(motor int, closed *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motors[motor].stuck = closed
}

// SetPosition sets the position register of a motor without moving its switch.
func (s *SimulatedChain) SetPosition(motor int, steps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.motors[motor]
	m.physical = float64(steps) + m.offset
}

// PhysicalPosition is the position of a motor relative to power-on.
func (s *SimulatedChain) PhysicalPosition(motor int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motors[motor].physical
}

// Running reports whether a motor is executing a Run command.
func (s *SimulatedChain) Running(motor int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motors[motor].running
}

// Commands returns a copy of the command log.
func (s *SimulatedChain) Commands() []SimCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimCommand(nil), s.commands...)
}

// CommandsFor returns the logged commands addressed to one motor.
func (s *SimulatedChain) CommandsFor(motor int) []SimCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SimCommand
	for _, c := range s.commands {
		if c.Motor == motor {
			out = append(out, c)
		}
	}
	return out
}

// ResetCommands clears the command log.
func (s *SimulatedChain) ResetCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = nil
}

func signOf(d Direction) float64 {
	if d == Forward {
		return 1
	}
	return -1
}
