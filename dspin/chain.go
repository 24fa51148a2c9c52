//go:build linux

package dspin

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board/genericlinux/buses"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// spiMode is CPOL=1, CPHA=1 as required by the L6470.
const spiMode = 3

// Pin drives the shared STBY/RESET line of the chain. board.GPIOPin satisfies it.
type Pin interface {
	Set(ctx context.Context, high bool, extra map[string]interface{}) error
}

// ChainConfig describes how the chain is wired.
type ChainConfig struct {
	ChipSelect string
	BaudRate   uint
	Chips      int
	// Standby is optional. When set it is pulsed low to reset the chips at
	// initialization and held low on power down.
	Standby Pin
	// ForceReset resets the chips even when they already hold the
	// configuration written by PushMotorParameters.
	ForceReset bool
}

// Chain is a daisy chain of L6470 drivers sharing one chip select. Motor
// index 0 is the chip whose reply comes last on MISO.
type Chain struct {
	bus    buses.SPI
	cfg    ChainConfig
	logger logging.Logger

	// serializes transactions, a command is spread over several transfers
	mu sync.Mutex
}

// NewChain returns a chain on the given bus. Nothing is sent until Initialize.
func NewChain(bus buses.SPI, cfg ChainConfig, logger logging.Logger) (*Chain, error) {
	if cfg.Chips <= 0 {
		return nil, errors.Errorf("chain must have at least one chip, got %d", cfg.Chips)
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}
	return &Chain{bus: bus, cfg: cfg, logger: logger}, nil
}

// transact sends one command per chip and returns each chip's reply bytes.
// A nil command sends NOPs to that chip.
func (c *Chain) transact(ctx context.Context, cmds [][]byte) ([][]byte, error) {
	if len(cmds) != c.cfg.Chips {
		return nil, errors.Errorf("expected %d commands, got %d", c.cfg.Chips, len(cmds))
	}
	length := 0
	for _, cmd := range cmds {
		if len(cmd) > length {
			length = len(cmd)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	handle, err := c.bus.OpenHandle()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := handle.Close(); err != nil {
			c.logger.CError(ctx, err)
		}
	}()

	replies := make([][]byte, c.cfg.Chips)
	for k := 0; k < length; k++ {
		frame := make([]byte, c.cfg.Chips)
		for chip, cmd := range cmds {
			b := cmdNop
			if k < len(cmd) {
				b = cmd[k]
			}
			frame[c.slot(chip)] = b
		}
		rx, err := handle.Xfer(ctx, c.cfg.BaudRate, c.cfg.ChipSelect, spiMode, frame)
		if err != nil {
			return nil, err
		}
		if len(rx) != len(frame) {
			return nil, errors.Errorf("short SPI transfer: sent %d bytes, got %d", len(frame), len(rx))
		}
		for chip := range cmds {
			replies[chip] = append(replies[chip], rx[c.slot(chip)])
		}
	}
	return replies, nil
}

// slot is the frame position of a chip: the first byte shifted out ends in the last chip.
func (c *Chain) slot(motor int) int {
	return c.cfg.Chips - 1 - motor
}

func (c *Chain) checkMotor(motor int) error {
	if motor < 0 || motor >= c.cfg.Chips {
		return errors.Errorf("motor %d out of chain range [0, %d)", motor, c.cfg.Chips)
	}
	return nil
}

// send issues a command to a single motor, NOPs to the others.
func (c *Chain) send(ctx context.Context, motor int, cmd ...byte) error {
	if err := c.checkMotor(motor); err != nil {
		return err
	}
	cmds := make([][]byte, c.cfg.Chips)
	cmds[motor] = cmd
	_, err := c.transact(ctx, cmds)
	return err
}

// broadcast issues the same command to every chip at once.
func (c *Chain) broadcast(ctx context.Context, cmd ...byte) error {
	cmds := make([][]byte, c.cfg.Chips)
	for i := range cmds {
		cmds[i] = cmd
	}
	_, err := c.transact(ctx, cmds)
	return err
}

// SetParam writes a parameter register of one motor.
func (c *Chain) SetParam(ctx context.Context, motor int, reg Register, value uint32) error {
	cmd := append([]byte{cmdSetParam | reg.Addr}, encodeValue(value&reg.Mask(), reg.Len())...)
	return errors.Wrapf(c.send(ctx, motor, cmd...), "writing %s", reg.Name)
}

// GetParam reads a parameter register of one motor.
func (c *Chain) GetParam(ctx context.Context, motor int, reg Register) (uint32, error) {
	values, err := c.getParamAll(ctx, reg)
	if err != nil {
		return 0, err
	}
	if err := c.checkMotor(motor); err != nil {
		return 0, err
	}
	return values[motor], nil
}

// getParamAll reads the same register from every chip in one transaction.
func (c *Chain) getParamAll(ctx context.Context, reg Register) ([]uint32, error) {
	cmd := make([]byte, 1+reg.Len())
	cmd[0] = cmdGetParam | reg.Addr
	cmds := make([][]byte, c.cfg.Chips)
	for i := range cmds {
		cmds[i] = cmd
	}
	replies, err := c.transact(ctx, cmds)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", reg.Name)
	}
	values := make([]uint32, c.cfg.Chips)
	for i, reply := range replies {
		values[i] = decodeValue(reply[1:]) & reg.Mask()
	}
	return values, nil
}

func (c *Chain) pulseStandby(ctx context.Context) error {
	if err := c.cfg.Standby.Set(ctx, false, nil); err != nil {
		return err
	}
	if !utils.SelectContextOrWait(ctx, 10*time.Millisecond) {
		return ctx.Err()
	}
	if err := c.cfg.Standby.Set(ctx, true, nil); err != nil {
		return err
	}
	if !utils.SelectContextOrWait(ctx, 10*time.Millisecond) {
		return ctx.Err()
	}
	return nil
}

// Initialize resets every chip and checks that each one answers with the
// power-on CONFIG value. Chips that all read back the CONFIG value written by
// PushMotorParameters were set up by an earlier run and are left as they are,
// so their position registers survive, unless ForceReset is set.
func (c *Chain) Initialize(ctx context.Context) error {
	if !c.cfg.ForceReset {
		configured, err := c.configured(ctx)
		if err != nil {
			return err
		}
		if configured {
			c.logger.Info("drivers already configured, keeping position registers")
			return errors.Wrap(c.broadcast(ctx, cmdGetStatus, cmdNop, cmdNop), "clearing status flags")
		}
	}
	if c.cfg.Standby != nil {
		if err := c.pulseStandby(ctx); err != nil {
			return errors.Wrap(err, "pulsing standby pin")
		}
	}
	if err := c.broadcast(ctx, cmdResetDevice); err != nil {
		return errors.Wrap(err, "resetting chips")
	}
	configs, err := c.getParamAll(ctx, RegConfig)
	if err != nil {
		return err
	}
	var errs error
	for motor, cfg := range configs {
		if cfg != ConfigReset {
			errs = multierr.Append(errs, errors.Errorf("chip %d: CONFIG reads 0x%04x, expected 0x%04x", motor, cfg, ConfigReset))
		}
	}
	if errs != nil {
		return errs
	}
	// reading STATUS with GET_STATUS clears the latched flags
	return errors.Wrap(c.broadcast(ctx, cmdGetStatus, cmdNop, cmdNop), "clearing status flags")
}

func (c *Chain) configured(ctx context.Context) (bool, error) {
	configs, err := c.getParamAll(ctx, RegConfig)
	if err != nil {
		return false, err
	}
	for _, cfg := range configs {
		if cfg != UserConfig(ConfigReset) {
			return false, nil
		}
	}
	return true, nil
}

// PushMotorParameters writes speed, acceleration, current and step mode registers.
func (c *Chain) PushMotorParameters(ctx context.Context, motor int, settings MotorSettings) error {
	writes, err := settings.Writes()
	if err != nil {
		return err
	}
	var errs error
	for _, w := range writes {
		errs = multierr.Append(errs, c.SetParam(ctx, motor, w.Register, w.Value))
	}
	if errs != nil {
		return errs
	}
	config, err := c.GetParam(ctx, motor, RegConfig)
	if err != nil {
		return err
	}
	return c.SetParam(ctx, motor, RegConfig, UserConfig(config))
}

// Run spins the motor at a constant speed until stopped.
func (c *Chain) Run(ctx context.Context, motor int, dir Direction, stepsPerSec float64) error {
	return c.send(ctx, motor, append([]byte{cmdRun | byte(dir)}, encodeValue(SpeedToReg(stepsPerSec), 3)...)...)
}

// MoveSteps moves the motor by a number of micro-steps.
func (c *Chain) MoveSteps(ctx context.Context, motor int, dir Direction, steps int) error {
	if steps < 0 || steps > MaxMoveSteps {
		return errors.Errorf("step count %d out of range", steps)
	}
	return c.send(ctx, motor, append([]byte{cmdMove | byte(dir)}, encodeValue(uint32(steps), 3)...)...)
}

// GotoAbsolute moves the motor to an absolute position by the shortest path.
func (c *Chain) GotoAbsolute(ctx context.Context, motor int, steps int) error {
	if steps < MinPosition || steps > MaxPosition {
		return errors.Errorf("position %d out of range", steps)
	}
	return c.send(ctx, motor, append([]byte{cmdGoTo}, encodeValue(toAbsPos(steps), 3)...)...)
}

// SoftStop decelerates the motor to a stop.
func (c *Chain) SoftStop(ctx context.Context, motor int) error {
	return c.send(ctx, motor, cmdSoftStop)
}

// HardStop stops the motor immediately.
func (c *Chain) HardStop(ctx context.Context, motor int) error {
	return c.send(ctx, motor, cmdHardStop)
}

// ResetPosition zeroes ABS_POS.
func (c *Chain) ResetPosition(ctx context.Context, motor int) error {
	return c.send(ctx, motor, cmdResetPos)
}

// ReadAbsolutePosition returns the signed ABS_POS in micro-steps.
func (c *Chain) ReadAbsolutePosition(ctx context.Context, motor int) (int, error) {
	v, err := c.GetParam(ctx, motor, RegAbsPos)
	if err != nil {
		return 0, err
	}
	return fromAbsPos(v), nil
}

// ReadSwitchClosed returns the SW_F flag. STATUS is read with GET_PARAM so
// latched flags are left alone.
func (c *Chain) ReadSwitchClosed(ctx context.Context, motor int) (bool, error) {
	status, err := c.GetParam(ctx, motor, RegStatus)
	if err != nil {
		return false, err
	}
	return status&StatusSwitch != 0, nil
}

// IsBusy reports whether any chip is executing a command.
func (c *Chain) IsBusy(ctx context.Context) (bool, error) {
	statuses, err := c.getParamAll(ctx, RegStatus)
	if err != nil {
		return false, err
	}
	for _, status := range statuses {
		if status&StatusBusy == 0 {
			return true, nil
		}
	}
	return false, nil
}

// Release puts every bridge in high impedance, the motors can be turned by hand.
func (c *Chain) Release(ctx context.Context) error {
	return c.broadcast(ctx, cmdHardHiZ)
}

// PowerDown releases the motors and holds the chips in standby if possible.
func (c *Chain) PowerDown(ctx context.Context) error {
	err := c.Release(ctx)
	if c.cfg.Standby != nil {
		err = multierr.Combine(err, c.cfg.Standby.Set(ctx, false, nil))
	}
	return err
}

// Close releases the bus. It does not touch the motors, they keep their last state.
func (c *Chain) Close(ctx context.Context) error {
	return c.bus.Close(ctx)
}

// Registers dumps every parameter register of a motor.
func (c *Chain) Registers(ctx context.Context, motor int) (map[string]uint32, error) {
	if err := c.checkMotor(motor); err != nil {
		return nil, err
	}
	dump := make(map[string]uint32, len(AllRegisters))
	for _, reg := range AllRegisters {
		v, err := c.GetParam(ctx, motor, reg)
		if err != nil {
			return nil, err
		}
		dump[reg.Name] = v
	}
	return dump, nil
}

// CountChips counts the chips that answer a CONFIG read with something other than
// a floating or shorted line. It does not change any chip state.
func (c *Chain) CountChips(ctx context.Context) (int, error) {
	configs, err := c.getParamAll(ctx, RegConfig)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, cfg := range configs {
		if cfg != 0 && cfg != RegConfig.Mask() {
			n++
		}
	}
	return n, nil
}
