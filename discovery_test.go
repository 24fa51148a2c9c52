// discovery_test.go
package youpi_arm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

func TestFilterCandidateDevices(t *testing.T) {
	tests := []struct {
		name     string
		paths    []string
		expected []spiDevice
	}{
		{
			name:  "spidev nodes",
			paths: []string{"/dev/spidev0.0", "/dev/spidev1.2"},
			expected: []spiDevice{
				{Path: "/dev/spidev0.0", Bus: "0", ChipSelect: "0"},
				{Path: "/dev/spidev1.2", Bus: "1", ChipSelect: "2"},
			},
		},
		{
			name:     "malformed names",
			paths:    []string{"/dev/spidev", "/dev/spidev0", "/dev/spidev0.x", "/dev/spidev0.0.bak"},
			expected: []spiDevice{},
		},
		{
			name:     "Empty list",
			paths:    []string{},
			expected: []spiDevice{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, filterCandidateDevices(tt.paths))
		})
	}
}

func TestFindCalibrationFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()

	assert.Equal(t, "", findCalibrationFile(dir, "spi0-0", logger))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "youpi_calibration.json"), []byte("{}"), 0o644))
	assert.Equal(t, "youpi_calibration.json", findCalibrationFile(dir, "spi0-0", logger))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "spi0-0_calibration.yaml"), []byte("{}"), 0o644))
	assert.Equal(t, "spi0-0_calibration.yaml", findCalibrationFile(dir, "spi0-0", logger))
	assert.Equal(t, "youpi_calibration.json", findCalibrationFile(dir, "spi1-0", logger))
}

func TestDiscoverResources(t *testing.T) {
	logger := logging.NewTestLogger(t)
	devDir := t.TempDir()
	dataDir := t.TempDir()
	t.Setenv("VIAM_MODULE_DATA", dataDir)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "spi0-1_calibration.yaml"), []byte("{}"), 0o644))

	for _, name := range []string{"spidev0.0", "spidev0.1", "spidev1.0", "ttyUSB0"} {
		require.NoError(t, os.WriteFile(filepath.Join(devDir, name), nil, 0o644))
	}

	answering := map[string]int{"0/0": 2, "0/1": JointCount}
	var scanned []string
	dis := &youpiDiscovery{
		Named:  resource.NewName(discovery.API, "test").AsNamed(),
		logger: logger,
		devDir: devDir,
		count: func(ctx context.Context, spiBus, chipSelect string, logger logging.Logger) (int, error) {
			key := spiBus + "/" + chipSelect
			scanned = append(scanned, key)
			return answering[key], nil
		},
	}

	configs, err := dis.DiscoverResources(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"0/0", "0/1", "1/0"}, scanned)
	require.Len(t, configs, 3)

	assert.Equal(t, "youpi-arm-spi0-1", configs[0].Name)
	assert.Equal(t, arm.API, configs[0].API)
	assert.Equal(t, ArmModel, configs[0].Model)
	assert.Equal(t, "youpi-gripper-spi0-1", configs[1].Name)
	assert.Equal(t, gripper.API, configs[1].API)
	assert.Equal(t, GripperModel, configs[1].Model)
	assert.Equal(t, "youpi-calibration-spi0-1", configs[2].Name)
	assert.Equal(t, sensor.API, configs[2].API)
	assert.Equal(t, CalibrationSensorModel, configs[2].Model)
	for _, c := range configs {
		assert.Equal(t, "0", c.Attributes["spi_bus"])
		assert.Equal(t, "1", c.Attributes["chip_select"])
		assert.Equal(t, "spi0-1_calibration.yaml", c.Attributes["calibration_file"])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dis.DiscoverResources(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
