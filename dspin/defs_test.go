package dspin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepSel(t *testing.T) {
	tests := []struct {
		micro    int
		expected uint32
		wantErr  bool
	}{
		{1, 0, false},
		{2, 1, false},
		{16, 4, false},
		{128, 7, false},
		{3, 0, true},
		{256, 0, true},
		{0, 0, true},
	}
	for _, tt := range tests {
		sel, err := StepSel(tt.micro)
		if tt.wantErr {
			assert.Error(t, err, "micro=%d", tt.micro)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.expected, sel)
	}
}

func TestOCDThreshold(t *testing.T) {
	assert.Equal(t, uint32(3), OCDThreshold(1500))
	assert.Equal(t, uint32(1), OCDThreshold(750))
	assert.Equal(t, uint32(0), OCDThreshold(0))
	assert.Equal(t, uint32(15), OCDThreshold(10000))
}

func TestSpeedConversions(t *testing.T) {
	assert.Equal(t, uint32(49), MaxSpeedToReg(750))
	assert.Equal(t, uint32(419), MinSpeedToReg(100))
	assert.Equal(t, uint32(13), FSSpeedToReg(200))
	assert.Equal(t, uint32(6711), SpeedToReg(100))
	assert.InDelta(t, 500, RegToSpeed(SpeedToReg(500)), 0.02)

	// saturates instead of wrapping
	assert.Equal(t, uint32(0x3FF), MaxSpeedToReg(1e6))
	assert.Equal(t, uint32(0), SpeedToReg(-10))
}

func TestAbsPosEncoding(t *testing.T) {
	for _, steps := range []int{0, 1, 1000, -1, -1000, 2097151, -2097152} {
		assert.Equal(t, steps, fromAbsPos(toAbsPos(steps)), "steps=%d", steps)
	}
	assert.Equal(t, uint32(0x3FFFFF), toAbsPos(-1))
}

func TestValueEncoding(t *testing.T) {
	assert.Equal(t, []byte{0x12, 0x34, 0x56}, encodeValue(0x123456, 3))
	assert.Equal(t, []byte{0x2E, 0x88}, encodeValue(ConfigReset, 2))
	assert.Equal(t, uint32(0x123456), decodeValue([]byte{0x12, 0x34, 0x56}))
}

func TestMotorSettingsWrites(t *testing.T) {
	settings := MotorSettings{
		MicroSteps:           128,
		MaxSpeed:             750,
		MinSpeed:             100,
		FullStepSpeed:        200,
		Acceleration:         0x7f,
		Deceleration:         0x7f,
		KvalHold:             0x0f,
		KvalRun:              0x7f,
		KvalAcc:              0x7f,
		KvalDec:              0x7f,
		OverCurrent:          1500,
		LowSpeedOptimization: true,
	}
	writes, err := settings.Writes()
	require.NoError(t, err)

	byName := map[string]uint32{}
	for _, w := range writes {
		byName[w.Register.Name] = w.Value
	}
	assert.Equal(t, uint32(0x17), byName["STEP_MODE"])
	assert.Equal(t, uint32(419)|1<<12, byName["MIN_SPEED"])
	assert.Equal(t, uint32(3), byName["OCD_TH"])
	assert.Equal(t, uint32(0x0f), byName["KVAL_HOLD"])
	assert.NotContains(t, byName, "CONFIG")

	settings.LowSpeedOptimization = false
	writes, err = settings.Writes()
	require.NoError(t, err)
	for _, w := range writes {
		if w.Register == RegMinSpeed {
			assert.Equal(t, uint32(419), w.Value)
		}
	}

	settings.MinSpeed = 1000
	_, err = settings.Writes()
	assert.Error(t, err)
}

func TestUserConfig(t *testing.T) {
	assert.Equal(t, uint32(0x2E18), UserConfig(ConfigReset))
}

func TestDirection(t *testing.T) {
	assert.Equal(t, Forward, DirectionOf(3))
	assert.Equal(t, Reverse, DirectionOf(-3))
	assert.Equal(t, Reverse, Forward.Opposite())
	assert.Equal(t, "fwd", Forward.String())
}
