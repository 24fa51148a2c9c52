package youpi_arm

import (
	"math"

	"github.com/pkg/errors"

	"youpi_arm/dspin"
)

// Bounds is an angular range in degrees.
type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether the angle is inside the range, tolerating float noise.
func (b Bounds) Contains(angle float64) bool {
	const eps = 1e-6
	return angle >= b.Min-eps && angle <= b.Max+eps
}

// JointCalibration holds the mechanical and driver constants of one motor.
// Speeds are in steps/s, acceleration and kval fields are raw driver values.
type JointCalibration struct {
	StepsPerTurn  int     `json:"steps_per_turn" yaml:"steps_per_turn"`
	GearRatio     float64 `json:"gear_ratio" yaml:"gear_ratio"`
	MicroSteps    int     `json:"micro_steps" yaml:"micro_steps"`
	Limits        *Bounds `json:"limits,omitempty" yaml:"limits,omitempty"`
	MaxSpeed      float64 `json:"max_speed" yaml:"max_speed"`
	MinSpeed      float64 `json:"min_speed" yaml:"min_speed"`
	FullStepSpeed float64 `json:"fs_speed" yaml:"fs_speed"`
	Acceleration  uint16  `json:"acceleration" yaml:"acceleration"`
	Deceleration  uint16  `json:"deceleration" yaml:"deceleration"`
	KvalHold      uint8   `json:"kval_hold" yaml:"kval_hold"`
	KvalRun       uint8   `json:"kval_run" yaml:"kval_run"`
	KvalAcc       uint8   `json:"kval_acc" yaml:"kval_acc"`
	KvalDec       uint8   `json:"kval_dec" yaml:"kval_dec"`
	// over-current threshold in mA
	OverCurrent int `json:"over_current_ma" yaml:"over_current_ma"`
}

func (c JointCalibration) stepsPerDegree() float64 {
	return float64(c.MicroSteps*c.StepsPerTurn) * c.GearRatio / 360
}

// DegreesToSteps converts an angle to a rounded micro-step count.
func (c JointCalibration) DegreesToSteps(deg float64) int {
	return int(math.Round(deg * c.stepsPerDegree()))
}

// StepsToDegrees converts a micro-step count to an angle.
func (c JointCalibration) StepsToDegrees(steps int) float64 {
	return float64(steps) / c.stepsPerDegree()
}

// MotorSettings returns what is pushed to the driver at initialization.
func (c JointCalibration) MotorSettings() dspin.MotorSettings {
	return dspin.MotorSettings{
		MicroSteps:           c.MicroSteps,
		MaxSpeed:             c.MaxSpeed,
		MinSpeed:             c.MinSpeed,
		FullStepSpeed:        c.FullStepSpeed,
		Acceleration:         c.Acceleration,
		Deceleration:         c.Deceleration,
		KvalHold:             c.KvalHold,
		KvalRun:              c.KvalRun,
		KvalAcc:              c.KvalAcc,
		KvalDec:              c.KvalDec,
		OverCurrent:          c.OverCurrent,
		LowSpeedOptimization: true,
	}
}

func (c JointCalibration) validate() error {
	if c.StepsPerTurn <= 0 {
		return errors.Errorf("steps_per_turn must be positive, got %d", c.StepsPerTurn)
	}
	if c.GearRatio <= 0 {
		return errors.Errorf("gear_ratio must be positive, got %v", c.GearRatio)
	}
	if _, err := dspin.StepSel(c.MicroSteps); err != nil {
		return err
	}
	if c.MinSpeed <= 0 || c.MaxSpeed < c.MinSpeed {
		return errors.Errorf("speeds must satisfy 0 < min_speed (%v) <= max_speed (%v)", c.MinSpeed, c.MaxSpeed)
	}
	if c.Limits != nil && c.Limits.Min > c.Limits.Max {
		return errors.Errorf("limits min %v above max %v", c.Limits.Min, c.Limits.Max)
	}
	return nil
}

// GripperCalibration describes the switch-referenced gripper travel.
type GripperCalibration struct {
	CloseSpeed float64 `json:"close_speed" yaml:"close_speed"`
	OpenSpeed  float64 `json:"open_speed" yaml:"open_speed"`
	// screw turns between the closed switch and the open position
	Turns float64 `json:"turns" yaml:"turns"`
}

// OpenSteps is the fixed distance from the closing switch to the open position.
func (g GripperCalibration) OpenSteps(motor JointCalibration) int {
	return int(math.Round(g.Turns * float64(motor.StepsPerTurn*motor.MicroSteps)))
}

// Calibration is the full constant table of the arm.
type Calibration struct {
	Joints  [JointCount]JointCalibration `json:"joints" yaml:"joints"`
	Gripper GripperCalibration           `json:"gripper" yaml:"gripper"`
}

// Validate checks every joint. Base to Wrist must be bounded.
func (c Calibration) Validate() error {
	for _, j := range AllJoints() {
		jc := c.Joints[j]
		if err := jc.validate(); err != nil {
			return errors.Wrapf(err, "%v calibration", j)
		}
		if j <= Wrist && jc.Limits == nil {
			return errors.Errorf("%v calibration: limits are required", j)
		}
	}
	if c.Gripper.CloseSpeed <= 0 || c.Gripper.Turns <= 0 {
		return errors.New("gripper calibration: close_speed and turns must be positive")
	}
	return nil
}

func bounds(lo, hi float64) *Bounds {
	return &Bounds{Min: lo, Max: hi}
}

func defaultJoint() JointCalibration {
	return JointCalibration{
		StepsPerTurn:  200,
		GearRatio:     32,
		MicroSteps:    128,
		MaxSpeed:      750,
		MinSpeed:      100,
		FullStepSpeed: 200,
		Acceleration:  0x7f,
		Deceleration:  0x7f,
		KvalHold:      0x0f,
		KvalRun:       0x7f,
		KvalAcc:       0x7f,
		KvalDec:       0x7f,
		OverCurrent:   1500,
	}
}

// DefaultCalibration returns the constants of a stock Youpi arm.
func DefaultCalibration() Calibration {
	var cal Calibration

	base := defaultJoint()
	base.GearRatio = 27
	base.Limits = bounds(-180, 175)
	base.MaxSpeed = 600
	cal.Joints[Base] = base

	shoulder := defaultJoint()
	shoulder.Limits = bounds(-75, 115)
	shoulder.MaxSpeed = 500
	cal.Joints[Shoulder] = shoulder

	elbow := defaultJoint()
	elbow.Limits = bounds(-85, 125)
	elbow.MaxSpeed = 500
	cal.Joints[Elbow] = elbow

	wrist := defaultJoint()
	wrist.Limits = bounds(-90, 115)
	wrist.MaxSpeed = 600
	cal.Joints[Wrist] = wrist

	hand := defaultJoint()
	hand.Limits = bounds(-180, 180)
	hand.MaxSpeed = 800
	cal.Joints[HandRotation] = hand

	gripper := defaultJoint()
	gripper.GearRatio = 1
	gripper.MicroSteps = 1
	gripper.MaxSpeed = 2000
	gripper.FullStepSpeed = gripper.MaxSpeed / 2
	gripper.Acceleration = 0x7ff
	gripper.Deceleration = 0xfff
	gripper.KvalHold = 0
	gripper.KvalRun = 0xff
	gripper.KvalAcc = 0xff
	gripper.KvalDec = 0x4f
	gripper.OverCurrent = 750
	cal.Joints[Gripper] = gripper

	cal.Gripper = GripperCalibration{
		CloseSpeed: 800,
		OpenSpeed:  gripper.MaxSpeed,
		Turns:      28,
	}
	return cal
}

// Clone returns a deep copy, limits included.
func (c Calibration) Clone() Calibration {
	out := c
	for i := range out.Joints {
		if l := c.Joints[i].Limits; l != nil {
			b := *l
			out.Joints[i].Limits = &b
		}
	}
	return out
}
