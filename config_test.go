package youpi_arm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	deps, optional, err := cfg.Validate("arm")
	require.NoError(t, err)
	assert.Empty(t, deps)
	assert.Empty(t, optional)
	assert.Equal(t, "0", cfg.SPIBus)
	assert.Equal(t, "0", cfg.ChipSelect)
	assert.Equal(t, "0/0", cfg.Key())

	cfg = &Config{SPIBus: "1", ChipSelect: "1", Board: "pi", StandbyPin: "18"}
	deps, _, err = cfg.Validate("arm")
	require.NoError(t, err)
	assert.Equal(t, []string{"pi"}, deps)

	cfg.Simulated = true
	deps, _, err = cfg.Validate("arm")
	require.NoError(t, err)
	assert.Empty(t, deps)
	assert.Equal(t, "sim:1/1", cfg.Key())

	_, _, err = (&Config{StandbyPin: "18"}).Validate("arm")
	assert.ErrorContains(t, err, "standby_pin requires a board")
	_, _, err = (&Config{DebounceSamples: -1}).Validate("arm")
	assert.Error(t, err)
	_, _, err = (&Config{BaudRate: -5}).Validate("arm")
	assert.Error(t, err)
}

func TestConfigCoordinatorConfig(t *testing.T) {
	cfg := &Config{
		HomingPollMs:    5,
		DebounceSamples: 3,
		Timeouts:        &TimeoutsConfig{SeekOrigin: 12.5},
	}
	cc := cfg.CoordinatorConfig(DefaultCalibration())
	assert.Equal(t, 5*time.Millisecond, cc.HomingPollInterval)
	assert.Equal(t, 20*time.Millisecond, cc.BusyPollInterval)
	assert.Equal(t, 3, cc.DebounceSamples)
	assert.Equal(t, 12500*time.Millisecond, cc.Timeouts.SeekOrigin)
	assert.Equal(t, 10*time.Second, cc.Timeouts.OpenGripper)
}

func TestCalibrationPath(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("VIAM_MODULE_DATA", dataDir)

	assert.Equal(t, "", (&Config{}).CalibrationPath())
	assert.Equal(t, "/etc/youpi.yaml", (&Config{CalibrationFile: "/etc/youpi.yaml"}).CalibrationPath())
	assert.Equal(t, filepath.Join(dataDir, "youpi.yaml"), (&Config{CalibrationFile: "youpi.yaml"}).CalibrationPath())

	t.Setenv("VIAM_MODULE_DATA", "")
	assert.Equal(t, "/tmp/youpi.yaml", (&Config{CalibrationFile: "youpi.yaml"}).CalibrationPath())
}

func TestForceResetSharesChain(t *testing.T) {
	a := &Config{SPIBus: "0", ChipSelect: "1"}
	b := &Config{SPIBus: "0", ChipSelect: "1", ForceReset: true}
	assert.True(t, sameChain(a, b))
}

func TestLoadCalibration(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("returns fromFile=true when file exists", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "calibration.json")
		require.NoError(t, SaveCalibrationToFile(file, DefaultCalibration()))

		cal, fromFile := (&Config{CalibrationFile: file}).LoadCalibration(logger)
		assert.True(t, fromFile)
		assert.Equal(t, DefaultCalibration(), cal)
	})

	t.Run("returns fromFile=false when no file configured", func(t *testing.T) {
		cal, fromFile := (&Config{}).LoadCalibration(logger)
		assert.False(t, fromFile)
		assert.Equal(t, DefaultCalibration(), cal)
	})

	t.Run("returns fromFile=false when file doesn't exist", func(t *testing.T) {
		cal, fromFile := (&Config{CalibrationFile: "/nonexistent/path/calibration.json"}).LoadCalibration(logger)
		assert.False(t, fromFile)
		assert.Equal(t, DefaultCalibration(), cal)
	})

	t.Run("relative path is resolved in the module data directory", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("VIAM_MODULE_DATA", dir)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "youpi.yaml"), []byte("base:\n  max_speed: 300\n"), 0o644))

		cal, fromFile := (&Config{CalibrationFile: "youpi.yaml"}).LoadCalibration(logger)
		assert.True(t, fromFile)
		assert.Equal(t, 300.0, cal.Joints[Base].MaxSpeed)
	})
}

func TestCalibrationFileOverrides(t *testing.T) {
	dir := t.TempDir()

	yamlFile := filepath.Join(dir, "override.yml")
	require.NoError(t, os.WriteFile(yamlFile, []byte(`
shoulder:
  min_angle_deg: -60
  max_speed: 450
gripper:
  over_current_ma: 500
gripper_travel:
  turns: 20
`), 0o644))
	cal, err := LoadCalibrationFromFile(yamlFile)
	require.NoError(t, err)
	assert.Equal(t, Bounds{Min: -60, Max: 115}, *cal.Joints[Shoulder].Limits)
	assert.Equal(t, 450.0, cal.Joints[Shoulder].MaxSpeed)
	assert.Equal(t, 500, cal.Joints[Gripper].OverCurrent)
	assert.Equal(t, 4000, cal.Gripper.OpenSteps(cal.Joints[Gripper]))
	// untouched joints keep the defaults
	assert.Equal(t, DefaultCalibration().Joints[Elbow], cal.Joints[Elbow])

	jsonFile := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"wrist": {"min_angle_deg": 50, "max_angle_deg": 10}}`), 0o644))
	_, err = LoadCalibrationFromFile(jsonFile)
	assert.ErrorContains(t, err, "calibration validation failed")

	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"wrist": `), 0o644))
	_, err = LoadCalibrationFromFile(jsonFile)
	assert.ErrorContains(t, err, "failed to parse calibration file")
}

func TestSaveCalibrationYAMLRoundTrip(t *testing.T) {
	cal := DefaultCalibration()
	cal.Joints[Wrist].Limits.Max = 100
	cal.Joints[HandRotation].KvalRun = 0x60

	file := filepath.Join(t.TempDir(), "calibration.yaml")
	require.NoError(t, SaveCalibrationToFile(file, cal))
	loaded, err := LoadCalibrationFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, cal, loaded)
}
