// discovery.go
package youpi_arm

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var DiscoveryModel = resource.NewModel("youpi", "discovery", "youpi")

func init() {
	resource.RegisterService(
		discovery.API,
		DiscoveryModel,
		resource.Registration[discovery.Service, *DiscoveryConfig]{
			Constructor: newYoupiDiscovery,
		})
}

// DiscoveryConfig is the configuration for the discovery service
type DiscoveryConfig struct {
	// DevDir is where spidev nodes are looked up, /dev when empty.
	DevDir string `json:"dev_dir,omitempty"`
}

// Validate ensures the config is valid
func (cfg *DiscoveryConfig) Validate(path string) ([]string, []string, error) {
	return nil, nil, nil
}

type chainCounter func(ctx context.Context, spiBus, chipSelect string, logger logging.Logger) (int, error)

// youpiDiscovery implements the discovery service
type youpiDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger logging.Logger

	devDir string
	count  chainCounter
}

func newYoupiDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*DiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	devDir := cfg.DevDir
	if devDir == "" {
		devDir = "/dev"
	}
	return &youpiDiscovery{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
		devDir: devDir,
		count:  countChips,
	}, nil
}

// DiscoverResources scans every spidev node for a chain of six L6470 drivers
// and returns an arm, a gripper and a calibration sensor config for each one found.
func (dis *youpiDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting Youpi discovery")

	all := enumerateSPIDevices(dis.devDir)
	candidates := filterCandidateDevices(all)
	dis.logger.Debugf("Found %d spidev nodes, %d candidates", len(all), len(candidates))

	var allConfigs []resource.Config
	for _, dev := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}
		allConfigs = append(allConfigs, dis.discoverDevice(ctx, dev)...)
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No Youpi arm discovered")
	} else {
		dis.logger.Infof("Discovered %d component configurations", len(allConfigs))
	}
	return allConfigs, nil
}

func (dis *youpiDiscovery) discoverDevice(ctx context.Context, dev spiDevice) []resource.Config {
	chips, err := dis.count(ctx, dev.Bus, dev.ChipSelect, dis.logger)
	if err != nil {
		dis.logger.Debugf("Scanning %s failed: %v", dev.Path, err)
		return nil
	}
	if chips != JointCount {
		if chips > 0 {
			dis.logger.Warnf("%s answers with %d drivers, a Youpi chain has %d", dev.Path, chips, JointCount)
		}
		return nil
	}
	dis.logger.Infof("Discovered Youpi chain on %s", dev.Path)

	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}
	calibrationFile := findCalibrationFile(moduleDataDir, dev.Suffix(), dis.logger)
	return generateConfigs(dev, calibrationFile)
}

// spiDevice is a /dev/spidev<bus>.<cs> node.
type spiDevice struct {
	Path       string
	Bus        string
	ChipSelect string
}

// Suffix names resources after the device: spidev0.1 -> "spi0-1".
func (d spiDevice) Suffix() string {
	return "spi" + d.Bus + "-" + d.ChipSelect
}

var spidevPattern = regexp.MustCompile(`^spidev(\d+)\.(\d+)$`)

func enumerateSPIDevices(devDir string) []string {
	paths, err := filepath.Glob(filepath.Join(devDir, "spidev*"))
	if err != nil {
		return []string{}
	}
	sort.Strings(paths)
	return paths
}

// filterCandidateDevices keeps the paths named like a spidev node.
func filterCandidateDevices(paths []string) []spiDevice {
	candidates := []spiDevice{}
	for _, p := range paths {
		m := spidevPattern.FindStringSubmatch(filepath.Base(p))
		if m == nil {
			continue
		}
		candidates = append(candidates, spiDevice{Path: p, Bus: m[1], ChipSelect: m[2]})
	}
	return candidates
}

func generateConfigs(dev spiDevice, calibrationFile string) []resource.Config {
	attrs := func() map[string]interface{} {
		a := map[string]interface{}{
			"spi_bus":     dev.Bus,
			"chip_select": dev.ChipSelect,
		}
		if calibrationFile != "" {
			a["calibration_file"] = calibrationFile
		}
		return a
	}

	return []resource.Config{
		{
			Name:       "youpi-arm-" + dev.Suffix(),
			API:        arm.API,
			Model:      ArmModel,
			Attributes: attrs(),
		},
		{
			Name:       "youpi-gripper-" + dev.Suffix(),
			API:        gripper.API,
			Model:      GripperModel,
			Attributes: attrs(),
		},
		{
			Name:       "youpi-calibration-" + dev.Suffix(),
			API:        sensor.API,
			Model:      CalibrationSensorModel,
			Attributes: attrs(),
		},
	}
}

// findCalibrationFile looks for a device specific file, then for the shared
// one, YAML before JSON. It returns the file name relative to moduleDataDir,
// or an empty string.
func findCalibrationFile(moduleDataDir, suffix string, logger logging.Logger) string {
	for _, prefix := range []string{suffix, "youpi"} {
		for _, ext := range []string{".yaml", ".json"} {
			name := prefix + "_calibration" + ext
			if _, err := os.Stat(filepath.Join(moduleDataDir, name)); err == nil {
				logger.Debugf("Found calibration file: %s", name)
				return name
			}
		}
	}
	logger.Debug("No calibration file found")
	return ""
}
