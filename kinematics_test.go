package youpi_arm

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func newTestKinematics(t *testing.T) *Kinematics {
	return NewKinematics(YoupiDimensions, DefaultCalibration(), logging.NewTestLogger(t))
}

func assertPose(t *testing.T, expected, actual [4]float64) {
	t.Helper()
	for i := range expected {
		assert.InDelta(t, expected[i], actual[i], 0.01, "%v", Joint(i))
	}
}

func TestIK(t *testing.T) {
	k := newTestKinematics(t)
	tests := []struct {
		name     string
		target   r3.Vector
		pitch    float64
		expected [4]float64
	}{
		{"arm stretched horizontally", r3.Vector{X: 369, Y: 0, Z: 280}, 0, [4]float64{0, 90, 0, 0}},
		{"gripper pointing down", r3.Vector{X: 57, Y: 0, Z: -32}, 90, [4]float64{0, 90, 90, 0}},
		{"table level", r3.Vector{X: 57, Y: 0, Z: 0}, 90, [4]float64{0, 78.619, 100.255, 1.127}},
		{"rotated base", r3.Vector{X: 207, Y: 162, Z: 280}, 0, [4]float64{27.44, 38.47, 103.07, -51.53}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pose, err := k.IK(tt.target, tt.pitch)
			require.NoError(t, err)
			assertPose(t, tt.expected, pose)
		})
	}

	pose, err := k.IK(r3.Vector{X: 207, Y: -162, Z: 280}, 0)
	require.NoError(t, err)
	assert.InDelta(t, -27.44, pose[Base], 0.01)
}

func TestIKUnreachable(t *testing.T) {
	k := newTestKinematics(t)
	_, err := k.IK(r3.Vector{X: 600, Y: 0, Z: 280}, 0)
	var unreachable *UnreachableTargetError
	require.True(t, errors.As(err, &unreachable))
	assert.InDelta(t, 555, unreachable.Distance, 1e-6)
	assert.Equal(t, 324.0, unreachable.Reach)

	// one segment ahead at table level: the wrist is in reach but the
	// shoulder would have to bend past its limit
	_, err = k.IK(r3.Vector{X: 162, Y: 0, Z: 0}, 0)
	var bounds *OutOfBoundsError
	require.True(t, errors.As(err, &bounds))
	assert.Equal(t, []Joint{Shoulder}, bounds.Joints())
}

func TestIKShoulderLimitAtTableLevel(t *testing.T) {
	k := newTestKinematics(t)

	// the wrist lands at the shoulder height minus one segment, within reach
	_, err := k.IK(r3.Vector{X: 162, Y: 0, Z: 0}, 0)
	require.Error(t, err)

	var unreachable *UnreachableTargetError
	assert.False(t, errors.As(err, &unreachable), "target is in reach: %v", err)

	var bounds *OutOfBoundsError
	require.True(t, errors.As(err, &bounds), "unexpected error: %v", err)
	require.Len(t, bounds.Violations, 1)
	v := bounds.Violations[0]
	assert.Equal(t, Shoulder, v.Joint)
	assert.False(t, v.Limits.Contains(v.Angle))
	assert.Equal(t, *DefaultCalibration().Joints[Shoulder].Limits, v.Limits)
	assert.ErrorContains(t, err, "shoulder")
}

func TestIKLimits(t *testing.T) {
	k := newTestKinematics(t)

	// behind the base: geometrically fine, base would have to turn 180
	pose, err := k.IK(r3.Vector{X: -474, Y: 0, Z: 280}, 0)
	var bounds *OutOfBoundsError
	require.True(t, errors.As(err, &bounds))
	assert.Equal(t, []Joint{Base}, bounds.Joints())
	assert.InDelta(t, 180, pose[Base], 1e-6)
	assert.Contains(t, err.Error(), "base")

	// several joints at once are all reported
	_, err = k.IK(r3.Vector{X: 150, Y: -80, Z: 200}, 0)
	require.True(t, errors.As(err, &bounds))
	assert.NotEmpty(t, bounds.Violations)
}

func TestIKDegenerate(t *testing.T) {
	k := newTestKinematics(t)
	// target on the base axis
	pose, err := k.IK(r3.Vector{X: -105, Y: 0, Z: 754}, -90)
	require.NoError(t, err)
	assertPose(t, [4]float64{0, 0, 0, 0}, pose)
}

func TestDK(t *testing.T) {
	k := newTestKinematics(t)
	tests := []struct {
		pose     [4]float64
		expected r3.Vector
	}{
		{[4]float64{0, 0, 0, 0}, r3.Vector{X: -105, Y: 0, Z: 754}},
		{[4]float64{0, 90, 0, 90}, r3.Vector{X: 219, Y: 0, Z: 130}},
		{[4]float64{0, 90, 0, 0}, r3.Vector{X: 369, Y: 0, Z: 280}},
	}
	for _, tt := range tests {
		p := k.DK(tt.pose)
		assert.InDelta(t, tt.expected.X, p.X, 1e-9, "%v", tt.pose)
		assert.InDelta(t, tt.expected.Y, p.Y, 1e-9, "%v", tt.pose)
		assert.InDelta(t, tt.expected.Z, p.Z, 1e-9, "%v", tt.pose)
	}
}

func TestKinematicsRoundTrip(t *testing.T) {
	k := newTestKinematics(t)
	for _, tt := range []struct {
		target r3.Vector
		pitch  float64
	}{
		{r3.Vector{X: 369, Y: 0, Z: 280}, 0},
		{r3.Vector{X: 200, Y: 50, Z: 150}, 30},
		{r3.Vector{X: 250, Y: 0, Z: 100}, 45},
		{r3.Vector{X: 207, Y: -162, Z: 280}, 0},
		{r3.Vector{X: 57, Y: 0, Z: 0}, 90},
	} {
		pose, err := k.IK(tt.target, tt.pitch)
		require.NoError(t, err, "%v", tt.target)
		p := k.DK(pose)
		assert.InDelta(t, tt.target.X, p.X, 1e-3)
		assert.InDelta(t, tt.target.Y, p.Y, 1e-3)
		assert.InDelta(t, tt.target.Z, p.Z, 1e-3)
		assert.InDelta(t, tt.pitch, Pitch(pose), 1e-6)
	}
}

func TestApproachVector(t *testing.T) {
	v := ApproachVector([4]float64{0, 90, 0, 0})
	assert.InDelta(t, 1, v.X, 1e-9)
	assert.InDelta(t, 0, v.Z, 1e-9)
	assert.InDelta(t, 0, PitchFromApproach(v), 1e-9)

	v = ApproachVector([4]float64{0, 90, 90, 0})
	assert.InDelta(t, -1, v.Z, 1e-9)
	assert.InDelta(t, 90, PitchFromApproach(v), 1e-9)

	v = ApproachVector([4]float64{90, 90, 0, 0})
	assert.InDelta(t, 1, v.Y, 1e-9)
	assert.Equal(t, 0.0, PitchFromApproach(r3.Vector{}))
}
