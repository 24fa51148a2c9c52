package youpi_arm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDegreesToSteps(t *testing.T) {
	cal := DefaultCalibration()
	tests := []struct {
		joint Joint
		deg   float64
		steps int
	}{
		{Base, 1, 1920},
		{Base, -90, -172800},
		{Shoulder, 10, 22756},
		{Shoulder, -10, -22756},
		{Shoulder, 0, 0},
		{Gripper, 360, 200},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.steps, cal.Joints[tt.joint].DegreesToSteps(tt.deg), "%v %v", tt.joint, tt.deg)
	}
}

func TestStepsToDegrees(t *testing.T) {
	cal := DefaultCalibration()
	for _, j := range AllJoints() {
		jc := cal.Joints[j]
		for _, deg := range []float64{0, 0.5, 12.34, -75, 115} {
			back := jc.StepsToDegrees(jc.DegreesToSteps(deg))
			// rounding error stays under one step
			assert.InDelta(t, deg, back, jc.StepsToDegrees(1), "%v %v", j, deg)
		}
	}
	assert.InDelta(t, 90, cal.Joints[Base].StepsToDegrees(172800), 1e-9)
}

func TestDefaultCalibration(t *testing.T) {
	cal := DefaultCalibration()
	require.NoError(t, cal.Validate())

	assert.Equal(t, Bounds{Min: -180, Max: 175}, *cal.Joints[Base].Limits)
	assert.Equal(t, Bounds{Min: -75, Max: 115}, *cal.Joints[Shoulder].Limits)
	assert.Equal(t, Bounds{Min: -85, Max: 125}, *cal.Joints[Elbow].Limits)
	assert.Equal(t, Bounds{Min: -90, Max: 115}, *cal.Joints[Wrist].Limits)
	assert.Nil(t, cal.Joints[Gripper].Limits)
	assert.Equal(t, 5600, cal.Gripper.OpenSteps(cal.Joints[Gripper]))

	settings := cal.Joints[Gripper].MotorSettings()
	assert.Equal(t, 1, settings.MicroSteps)
	assert.Equal(t, 750, settings.OverCurrent)
	_, err := settings.Writes()
	assert.NoError(t, err)
}

func TestCalibrationValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Calibration)
		errMsg string
	}{
		{"missing arm limits", func(c *Calibration) { c.Joints[Elbow].Limits = nil }, "elbow calibration: limits are required"},
		{"inverted limits", func(c *Calibration) { c.Joints[Base].Limits = &Bounds{Min: 10, Max: -10} }, "base calibration"},
		{"bad micro steps", func(c *Calibration) { c.Joints[Wrist].MicroSteps = 3 }, "wrist calibration"},
		{"zero gear ratio", func(c *Calibration) { c.Joints[Shoulder].GearRatio = 0 }, "gear_ratio"},
		{"inverted speeds", func(c *Calibration) { c.Joints[HandRotation].MinSpeed = 1000 }, "min_speed"},
		{"gripper turns", func(c *Calibration) { c.Gripper.Turns = 0 }, "turns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := DefaultCalibration()
			tt.mutate(&cal)
			err := cal.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCalibrationClone(t *testing.T) {
	cal := DefaultCalibration()
	clone := cal.Clone()
	clone.Joints[Base].Limits.Max = 0
	assert.Equal(t, 175.0, cal.Joints[Base].Limits.Max)
}

func TestBoundsContains(t *testing.T) {
	b := Bounds{Min: -10, Max: 10}
	assert.True(t, b.Contains(10))
	assert.True(t, b.Contains(10+1e-9))
	assert.False(t, b.Contains(10.01))
	assert.False(t, b.Contains(-11))
}

func TestParseJoint(t *testing.T) {
	for name, expected := range map[string]Joint{
		"base": Base, "Shoulder": Shoulder, " elbow ": Elbow, "3": Wrist,
		"hand": HandRotation, "hand_rotation": HandRotation, "gripper": Gripper,
	} {
		j, err := ParseJoint(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, j, name)
	}
	_, err := ParseJoint("knee")
	assert.Error(t, err)
	assert.Equal(t, "joint(7)", Joint(7).String())
}

func TestJointAngles(t *testing.T) {
	a := JointAngles{Wrist: 1, Base: 2}
	assert.Equal(t, []Joint{Base, Wrist}, a.Joints())
	assert.Equal(t, [JointCount]float64{2, 0, 0, 1, 0, 0}, a.Vector())
	assert.NoError(t, a.validate())
	assert.Error(t, JointAngles{}.validate())
	assert.Error(t, JointAngles{Joint(8): 1}.validate())
}

func TestJointText(t *testing.T) {
	data, err := json.Marshal(JointAngles{Elbow: 12.5, Base: -3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"base": -3, "elbow": 12.5}`, string(data))

	var angles JointAngles
	require.NoError(t, json.Unmarshal([]byte(`{"hand_rotation": 90, "1": 4}`), &angles))
	assert.Equal(t, JointAngles{HandRotation: 90, Shoulder: 4}, angles)

	_, err = json.Marshal(Joint(9))
	assert.Error(t, err)
}
