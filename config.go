package youpi_arm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gopkg.in/yaml.v3"
)

// TimeoutsConfig overrides operation timeouts, in seconds.
type TimeoutsConfig struct {
	Default          float64 `json:"default_sec,omitempty"`
	OpenGripper      float64 `json:"open_gripper_sec,omitempty"`
	CloseGripper     float64 `json:"close_gripper_sec,omitempty"`
	CalibrateGripper float64 `json:"calibrate_gripper_sec,omitempty"`
	SeekOrigin       float64 `json:"seek_origin_sec,omitempty"`
	RotateHand       float64 `json:"rotate_hand_sec,omitempty"`
}

// Config is shared by the arm and gripper components. Both attach to the
// same chain when they name the same SPI bus and chip select.
type Config struct {
	SPIBus     string `json:"spi_bus,omitempty"`
	ChipSelect string `json:"chip_select,omitempty"`
	BaudRate   int    `json:"baud_rate,omitempty"`

	// board owning the standby pin, only needed with standby_pin
	Board      string `json:"board,omitempty"`
	StandbyPin string `json:"standby_pin,omitempty"`

	// Simulated replaces the chain with an in-memory one.
	Simulated bool `json:"simulated,omitempty"`
	// ForceReset resets the drivers at startup even when they are already
	// configured, losing the homed positions.
	ForceReset bool `json:"force_reset,omitempty"`

	CalibrationFile string `json:"calibration_file,omitempty"`

	Timeouts        *TimeoutsConfig `json:"timeouts,omitempty"`
	HomingPollMs    int             `json:"homing_poll_ms,omitempty"`
	BusyPollMs      int             `json:"busy_poll_ms,omitempty"`
	DebounceSamples int             `json:"debounce_samples,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

// Validate fills defaults and returns the board as a dependency when a
// standby pin is used.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.SPIBus == "" {
		cfg.SPIBus = "0"
	}
	if cfg.ChipSelect == "" {
		cfg.ChipSelect = "0"
	}
	if cfg.BaudRate < 0 {
		return nil, nil, errors.Errorf("%s: baud_rate must be positive, got %d", path, cfg.BaudRate)
	}
	if cfg.DebounceSamples < 0 || cfg.HomingPollMs < 0 || cfg.BusyPollMs < 0 {
		return nil, nil, errors.Errorf("%s: debounce_samples and poll intervals cannot be negative", path)
	}
	if cfg.StandbyPin != "" && cfg.Board == "" {
		return nil, nil, errors.Errorf("%s: standby_pin requires a board", path)
	}

	var deps []string
	if cfg.Board != "" && !cfg.Simulated {
		deps = append(deps, cfg.Board)
	}
	return deps, nil, nil
}

// Key identifies the chain the config drives.
func (cfg *Config) Key() string {
	if cfg.Simulated {
		return "sim:" + cfg.SPIBus + "/" + cfg.ChipSelect
	}
	return cfg.SPIBus + "/" + cfg.ChipSelect
}

func sameChain(a, b *Config) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Key() == b.Key() &&
		a.BaudRate == b.BaudRate &&
		a.Board == b.Board &&
		a.StandbyPin == b.StandbyPin
}

// CoordinatorConfig builds the coordinator settings for a calibration.
func (cfg *Config) CoordinatorConfig(cal Calibration) CoordinatorConfig {
	cc := DefaultCoordinatorConfig()
	cc.Calibration = cal
	if cfg.HomingPollMs > 0 {
		cc.HomingPollInterval = time.Duration(cfg.HomingPollMs) * time.Millisecond
	}
	if cfg.BusyPollMs > 0 {
		cc.BusyPollInterval = time.Duration(cfg.BusyPollMs) * time.Millisecond
	}
	if cfg.DebounceSamples > 0 {
		cc.DebounceSamples = cfg.DebounceSamples
	}
	if t := cfg.Timeouts; t != nil {
		cc.Timeouts = Timeouts{
			Default:          seconds(t.Default),
			OpenGripper:      seconds(t.OpenGripper),
			CloseGripper:     seconds(t.CloseGripper),
			CalibrateGripper: seconds(t.CalibrateGripper),
			SeekOrigin:       seconds(t.SeekOrigin),
			RotateHand:       seconds(t.RotateHand),
		}.withDefaults(DefaultTimeouts())
	}
	return cc
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// CalibrationPath resolves calibration_file. Relative paths live in the
// module data directory. It is empty when no file is configured.
func (cfg *Config) CalibrationPath() string {
	path := cfg.CalibrationFile
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}
	return filepath.Join(moduleDataDir, path)
}

// LoadCalibration returns the calibration patched by the configured file, or
// the default one. The second value tells whether the file was used.
func (cfg *Config) LoadCalibration(logger logging.Logger) (Calibration, bool) {
	if cfg.CalibrationFile == "" {
		if logger != nil {
			logger.Debug("No calibration file specified, using default calibration")
		}
		return DefaultCalibration(), false
	}

	path := cfg.CalibrationPath()
	cal, err := LoadCalibrationFromFile(path)
	if err != nil {
		if logger != nil {
			logger.Warnf("Failed to load calibration from %s: %v, using default calibration", path, err)
		}
		return DefaultCalibration(), false
	}
	if logger != nil {
		logger.Infof("Loaded calibration from %s", path)
	}
	return cal, true
}

// JointOverride patches the fields it sets on a joint of the default table.
type JointOverride struct {
	StepsPerTurn  *int     `json:"steps_per_turn,omitempty" yaml:"steps_per_turn,omitempty"`
	GearRatio     *float64 `json:"gear_ratio,omitempty" yaml:"gear_ratio,omitempty"`
	MicroSteps    *int     `json:"micro_steps,omitempty" yaml:"micro_steps,omitempty"`
	MinAngle      *float64 `json:"min_angle_deg,omitempty" yaml:"min_angle_deg,omitempty"`
	MaxAngle      *float64 `json:"max_angle_deg,omitempty" yaml:"max_angle_deg,omitempty"`
	MaxSpeed      *float64 `json:"max_speed,omitempty" yaml:"max_speed,omitempty"`
	MinSpeed      *float64 `json:"min_speed,omitempty" yaml:"min_speed,omitempty"`
	FullStepSpeed *float64 `json:"fs_speed,omitempty" yaml:"fs_speed,omitempty"`
	Acceleration  *uint16  `json:"acceleration,omitempty" yaml:"acceleration,omitempty"`
	Deceleration  *uint16  `json:"deceleration,omitempty" yaml:"deceleration,omitempty"`
	KvalHold      *uint8   `json:"kval_hold,omitempty" yaml:"kval_hold,omitempty"`
	KvalRun       *uint8   `json:"kval_run,omitempty" yaml:"kval_run,omitempty"`
	KvalAcc       *uint8   `json:"kval_acc,omitempty" yaml:"kval_acc,omitempty"`
	KvalDec       *uint8   `json:"kval_dec,omitempty" yaml:"kval_dec,omitempty"`
	OverCurrent   *int     `json:"over_current_ma,omitempty" yaml:"over_current_ma,omitempty"`
}

// GripperOverride patches the gripper travel.
type GripperOverride struct {
	CloseSpeed *float64 `json:"close_speed,omitempty" yaml:"close_speed,omitempty"`
	OpenSpeed  *float64 `json:"open_speed,omitempty" yaml:"open_speed,omitempty"`
	Turns      *float64 `json:"turns,omitempty" yaml:"turns,omitempty"`
}

// CalibrationFileFormat is the on-disk layout of a calibration file, JSON or YAML.
type CalibrationFileFormat struct {
	Base          *JointOverride   `json:"base,omitempty" yaml:"base,omitempty"`
	Shoulder      *JointOverride   `json:"shoulder,omitempty" yaml:"shoulder,omitempty"`
	Elbow         *JointOverride   `json:"elbow,omitempty" yaml:"elbow,omitempty"`
	Wrist         *JointOverride   `json:"wrist,omitempty" yaml:"wrist,omitempty"`
	Hand          *JointOverride   `json:"hand,omitempty" yaml:"hand,omitempty"`
	Gripper       *JointOverride   `json:"gripper,omitempty" yaml:"gripper,omitempty"`
	GripperTravel *GripperOverride `json:"gripper_travel,omitempty" yaml:"gripper_travel,omitempty"`
}

func (f *CalibrationFileFormat) joints() [JointCount]**JointOverride {
	return [JointCount]**JointOverride{&f.Base, &f.Shoulder, &f.Elbow, &f.Wrist, &f.Hand, &f.Gripper}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (o *JointOverride) apply(jc *JointCalibration) {
	setIf(&jc.StepsPerTurn, o.StepsPerTurn)
	setIf(&jc.GearRatio, o.GearRatio)
	setIf(&jc.MicroSteps, o.MicroSteps)
	setIf(&jc.MaxSpeed, o.MaxSpeed)
	setIf(&jc.MinSpeed, o.MinSpeed)
	setIf(&jc.FullStepSpeed, o.FullStepSpeed)
	setIf(&jc.Acceleration, o.Acceleration)
	setIf(&jc.Deceleration, o.Deceleration)
	setIf(&jc.KvalHold, o.KvalHold)
	setIf(&jc.KvalRun, o.KvalRun)
	setIf(&jc.KvalAcc, o.KvalAcc)
	setIf(&jc.KvalDec, o.KvalDec)
	setIf(&jc.OverCurrent, o.OverCurrent)
	if o.MinAngle != nil || o.MaxAngle != nil {
		var b Bounds
		if jc.Limits != nil {
			b = *jc.Limits
		}
		setIf(&b.Min, o.MinAngle)
		setIf(&b.Max, o.MaxAngle)
		jc.Limits = &b
	}
}

func overrideOf(jc JointCalibration) *JointOverride {
	o := &JointOverride{
		StepsPerTurn:  &jc.StepsPerTurn,
		GearRatio:     &jc.GearRatio,
		MicroSteps:    &jc.MicroSteps,
		MaxSpeed:      &jc.MaxSpeed,
		MinSpeed:      &jc.MinSpeed,
		FullStepSpeed: &jc.FullStepSpeed,
		Acceleration:  &jc.Acceleration,
		Deceleration:  &jc.Deceleration,
		KvalHold:      &jc.KvalHold,
		KvalRun:       &jc.KvalRun,
		KvalAcc:       &jc.KvalAcc,
		KvalDec:       &jc.KvalDec,
		OverCurrent:   &jc.OverCurrent,
	}
	if jc.Limits != nil {
		o.MinAngle, o.MaxAngle = &jc.Limits.Min, &jc.Limits.Max
	}
	return o
}

// Apply patches a copy of base with the file content.
func (f *CalibrationFileFormat) Apply(base Calibration) Calibration {
	cal := base.Clone()
	for j, o := range f.joints() {
		if *o != nil {
			(*o).apply(&cal.Joints[j])
		}
	}
	if g := f.GripperTravel; g != nil {
		setIf(&cal.Gripper.CloseSpeed, g.CloseSpeed)
		setIf(&cal.Gripper.OpenSpeed, g.OpenSpeed)
		setIf(&cal.Gripper.Turns, g.Turns)
	}
	return cal
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadCalibrationFromFile reads a calibration file over the default table and
// validates the result. Files ending in .yaml or .yml are read as YAML.
func LoadCalibrationFromFile(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, errors.Wrap(err, "failed to read calibration file")
	}

	var f CalibrationFileFormat
	if isYAML(path) {
		err = yaml.Unmarshal(data, &f)
	} else {
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return Calibration{}, errors.Wrap(err, "failed to parse calibration file")
	}

	cal := f.Apply(DefaultCalibration())
	if err := cal.Validate(); err != nil {
		return Calibration{}, errors.Wrap(err, "calibration validation failed")
	}
	return cal, nil
}

// SaveCalibrationToFile writes every field of the calibration.
func SaveCalibrationToFile(path string, cal Calibration) error {
	f := CalibrationFileFormat{
		GripperTravel: &GripperOverride{
			CloseSpeed: &cal.Gripper.CloseSpeed,
			OpenSpeed:  &cal.Gripper.OpenSpeed,
			Turns:      &cal.Gripper.Turns,
		},
	}
	for j, o := range f.joints() {
		*o = overrideOf(cal.Joints[j])
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(&f)
	} else {
		data, err = json.MarshalIndent(&f, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "failed to marshal calibration")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write calibration file")
	}
	return nil
}
