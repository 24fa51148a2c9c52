// Package dspin talks to a daisy chain of L6470 (dSPIN) stepper motor drivers.
package dspin

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Direction is the DIR bit of the motion commands.
type Direction uint8

const (
	// Reverse moves toward negative absolute positions.
	Reverse Direction = 0
	// Forward moves toward positive absolute positions.
	Forward Direction = 1
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Forward {
		return Reverse
	}
	return Forward
}

func (d Direction) String() string {
	if d == Forward {
		return "fwd"
	}
	return "rev"
}

// DirectionOf returns Forward for positive values, Reverse otherwise.
func DirectionOf(v float64) Direction {
	if v > 0 {
		return Forward
	}
	return Reverse
}

// Application commands.
const (
	cmdNop         byte = 0x00
	cmdSetParam    byte = 0x00
	cmdGetParam    byte = 0x20
	cmdRun         byte = 0x50
	cmdMove        byte = 0x40
	cmdGoTo        byte = 0x60
	cmdResetPos    byte = 0xD8
	cmdResetDevice byte = 0xC0
	cmdSoftStop    byte = 0xB0
	cmdHardStop    byte = 0xB8
	cmdHardHiZ     byte = 0xA8
	cmdGetStatus   byte = 0xD0
)

// Register describes one chip parameter register.
type Register struct {
	Name string
	Addr byte
	Bits int
}

// Len is the number of bytes exchanged on the wire for the register.
func (r Register) Len() int {
	return (r.Bits + 7) / 8
}

// Mask keeps the meaningful bits of a register value.
func (r Register) Mask() uint32 {
	return uint32(1)<<r.Bits - 1
}

// Range of the step arguments. MOVE takes an unsigned 22 bit count, GOTO a
// signed 22 bit position.
const (
	MaxMoveSteps = 1<<22 - 1
	MinPosition  = -(1 << 21)
	MaxPosition  = 1<<21 - 1
)

// Parameter registers.
var (
	RegAbsPos    = Register{"ABS_POS", 0x01, 22}
	RegElPos     = Register{"EL_POS", 0x02, 9}
	RegMark      = Register{"MARK", 0x03, 22}
	RegSpeed     = Register{"SPEED", 0x04, 20}
	RegAcc       = Register{"ACC", 0x05, 12}
	RegDec       = Register{"DEC", 0x06, 12}
	RegMaxSpeed  = Register{"MAX_SPEED", 0x07, 10}
	RegMinSpeed  = Register{"MIN_SPEED", 0x08, 13}
	RegKvalHold  = Register{"KVAL_HOLD", 0x09, 8}
	RegKvalRun   = Register{"KVAL_RUN", 0x0A, 8}
	RegKvalAcc   = Register{"KVAL_ACC", 0x0B, 8}
	RegKvalDec   = Register{"KVAL_DEC", 0x0C, 8}
	RegIntSpeed  = Register{"INT_SPEED", 0x0D, 14}
	RegStSlp     = Register{"ST_SLP", 0x0E, 8}
	RegFnSlpAcc  = Register{"FN_SLP_ACC", 0x0F, 8}
	RegFnSlpDec  = Register{"FN_SLP_DEC", 0x10, 8}
	RegKTherm    = Register{"K_THERM", 0x11, 4}
	RegAdcOut    = Register{"ADC_OUT", 0x12, 5}
	RegOcdTh     = Register{"OCD_TH", 0x13, 4}
	RegStallTh   = Register{"STALL_TH", 0x14, 7}
	RegFsSpd     = Register{"FS_SPD", 0x15, 10}
	RegStepMode  = Register{"STEP_MODE", 0x16, 8}
	RegAlarmEn   = Register{"ALARM_EN", 0x17, 8}
	RegConfig    = Register{"CONFIG", 0x18, 16}
	RegStatus    = Register{"STATUS", 0x19, 16}
	AllRegisters = []Register{
		RegAbsPos, RegElPos, RegMark, RegSpeed, RegAcc, RegDec, RegMaxSpeed, RegMinSpeed,
		RegKvalHold, RegKvalRun, RegKvalAcc, RegKvalDec, RegIntSpeed, RegStSlp, RegFnSlpAcc,
		RegFnSlpDec, RegKTherm, RegAdcOut, RegOcdTh, RegStallTh, RegFsSpd, RegStepMode,
		RegAlarmEn, RegConfig, RegStatus,
	}
)

// STATUS register bits. BUSY, UVLO, TH_*, OCD and STEP_LOSS_* are active low.
const (
	StatusHiZ         uint32 = 1 << 0
	StatusBusy        uint32 = 1 << 1
	StatusSwitch      uint32 = 1 << 2
	StatusSwitchEvent uint32 = 1 << 3
	StatusDir         uint32 = 1 << 4
	StatusNotPerfCmd  uint32 = 1 << 7
	StatusWrongCmd    uint32 = 1 << 8
	StatusUVLO        uint32 = 1 << 9
	StatusThWarning   uint32 = 1 << 10
	StatusThShutdown  uint32 = 1 << 11
	StatusOCD         uint32 = 1 << 12
	StatusStepLossA   uint32 = 1 << 13
	StatusStepLossB   uint32 = 1 << 14
)

// CONFIG register values.
const (
	ConfigReset      uint32 = 0x2E88
	ConfigOCShutdown uint32 = 1 << 7
	ConfigSwitchUser uint32 = 1 << 4
)

const (
	stepModeSyncSel1 uint32 = 0x10
	minSpeedLSPDOpt  uint32 = 1 << 12
)

// StepSel returns the STEP_SEL field for a micro-stepping factor.
func StepSel(microSteps int) (uint32, error) {
	for sel := 0; sel <= 7; sel++ {
		if 1<<sel == microSteps {
			return uint32(sel), nil
		}
	}
	return 0, errors.Errorf("unsupported micro-stepping %d (must be a power of 2 up to 128)", microSteps)
}

// OCDThreshold converts an over-current limit in mA to the OCD_TH field (375 mA steps).
func OCDThreshold(milliAmps int) uint32 {
	v := int(math.Round(float64(milliAmps)/375)) - 1
	return uint32(clamp(v, 0, 15))
}

// SpeedToReg converts steps/s to the SPEED register and RUN parameter format.
func SpeedToReg(stepsPerSec float64) uint32 {
	return uint32(clamp(int(math.Round(stepsPerSec*67.108864)), 0, 0xFFFFF))
}

// RegToSpeed is the inverse of SpeedToReg.
func RegToSpeed(reg uint32) float64 {
	return float64(reg) / 67.108864
}

// MaxSpeedToReg converts steps/s to the MAX_SPEED register.
func MaxSpeedToReg(stepsPerSec float64) uint32 {
	return uint32(clamp(int(math.Round(stepsPerSec*0.065536)), 0, 0x3FF))
}

// MinSpeedToReg converts steps/s to the MIN_SPEED register (without LSPD_OPT).
func MinSpeedToReg(stepsPerSec float64) uint32 {
	return uint32(clamp(int(math.Round(stepsPerSec*4.194304)), 0, 0xFFF))
}

// FSSpeedToReg converts steps/s to the FS_SPD register.
func FSSpeedToReg(stepsPerSec float64) uint32 {
	return uint32(clamp(int(math.Round(stepsPerSec*0.065536-0.5)), 0, 0x3FF))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MotorSettings are the per-motor parameters pushed at initialization.
// Speeds are in steps/s, ACC and DEC are raw register values.
type MotorSettings struct {
	MicroSteps           int
	MaxSpeed             float64
	MinSpeed             float64
	FullStepSpeed        float64
	Acceleration         uint16
	Deceleration         uint16
	KvalHold             uint8
	KvalRun              uint8
	KvalAcc              uint8
	KvalDec              uint8
	OverCurrent          int
	LowSpeedOptimization bool
}

func (s MotorSettings) String() string {
	parts := []string{
		fmt.Sprintf("micro_steps=%d", s.MicroSteps),
		fmt.Sprintf("max_speed=%.0f", s.MaxSpeed),
		fmt.Sprintf("min_speed=%.0f", s.MinSpeed),
		fmt.Sprintf("fs_spd=%.0f", s.FullStepSpeed),
		fmt.Sprintf("acc=0x%x", s.Acceleration),
		fmt.Sprintf("dec=0x%x", s.Deceleration),
		fmt.Sprintf("kval_hold=0x%x", s.KvalHold),
		fmt.Sprintf("kval_run=0x%x", s.KvalRun),
		fmt.Sprintf("kval_acc=0x%x", s.KvalAcc),
		fmt.Sprintf("kval_dec=0x%x", s.KvalDec),
		fmt.Sprintf("ocd=%dmA", s.OverCurrent),
		fmt.Sprintf("lspd_opt=%v", s.LowSpeedOptimization),
	}
	return strings.Join(parts, " ")
}

// RegisterWrite is one SET_PARAM operation.
type RegisterWrite struct {
	Register Register
	Value    uint32
}

// Writes lists the SET_PARAM operations realizing the settings, in push order.
// CONFIG is not included since it needs a read-modify-write.
func (s MotorSettings) Writes() ([]RegisterWrite, error) {
	sel, err := StepSel(s.MicroSteps)
	if err != nil {
		return nil, err
	}
	if s.MinSpeed > s.MaxSpeed {
		return nil, errors.Errorf("min speed %.1f above max speed %.1f", s.MinSpeed, s.MaxSpeed)
	}
	minSpeed := MinSpeedToReg(s.MinSpeed)
	if s.LowSpeedOptimization {
		minSpeed |= minSpeedLSPDOpt
	}
	return []RegisterWrite{
		{RegStepMode, sel | stepModeSyncSel1},
		{RegMaxSpeed, MaxSpeedToReg(s.MaxSpeed)},
		{RegMinSpeed, minSpeed},
		{RegFsSpd, FSSpeedToReg(s.FullStepSpeed)},
		{RegAcc, uint32(s.Acceleration) & RegAcc.Mask()},
		{RegDec, uint32(s.Deceleration) & RegDec.Mask()},
		{RegOcdTh, OCDThreshold(s.OverCurrent)},
		{RegKvalHold, uint32(s.KvalHold)},
		{RegKvalRun, uint32(s.KvalRun)},
		{RegKvalAcc, uint32(s.KvalAcc)},
		{RegKvalDec, uint32(s.KvalDec)},
	}, nil
}

// UserConfig returns CONFIG with over-current shutdown disabled and the
// switch input left to the host instead of triggering a hard stop.
func UserConfig(config uint32) uint32 {
	return config&^ConfigOCShutdown | ConfigSwitchUser
}

// encodeValue splits v into n big-endian bytes.
func encodeValue(v uint32, n int) []byte {
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeValue(b []byte) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}

// toAbsPos encodes a signed position as the 22 bit two's complement ABS_POS format.
func toAbsPos(steps int) uint32 {
	return uint32(int32(steps)) & RegAbsPos.Mask()
}

// fromAbsPos sign-extends a 22 bit ABS_POS value.
func fromAbsPos(v uint32) int {
	v &= RegAbsPos.Mask()
	if v&(1<<21) != 0 {
		return int(int32(v | ^RegAbsPos.Mask()))
	}
	return int(v)
}
