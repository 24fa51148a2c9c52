package youpi_arm

import (
	"context"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"youpi_arm/dspin"
)

// Direction of a motor command.
type Direction = dspin.Direction

// Directions, re-exported for callers that do not import dspin.
const (
	Forward = dspin.Forward
	Reverse = dspin.Reverse
)

// MotorParameters is the register set pushed to a driver at initialization.
type MotorParameters = dspin.MotorSettings

// MotorTransport issues primitive commands to the motors of a daisy chain.
// Motor indexes are chain positions, Joint values convert directly.
// *dspin.Chain and *SimulatedChain implement it.
type MotorTransport interface {
	Initialize(ctx context.Context) error
	PushMotorParameters(ctx context.Context, motor int, params MotorParameters) error

	Run(ctx context.Context, motor int, dir Direction, stepsPerSec float64) error
	MoveSteps(ctx context.Context, motor int, dir Direction, steps int) error
	GotoAbsolute(ctx context.Context, motor int, steps int) error
	SoftStop(ctx context.Context, motor int) error
	HardStop(ctx context.Context, motor int) error
	ResetPosition(ctx context.Context, motor int) error

	ReadAbsolutePosition(ctx context.Context, motor int) (int, error)
	ReadSwitchClosed(ctx context.Context, motor int) (bool, error)
	// IsBusy is true while any motor of the chain executes a command.
	IsBusy(ctx context.Context) (bool, error)

	// Release puts every motor bridge in high impedance.
	Release(ctx context.Context) error
	PowerDown(ctx context.Context) error
	Close(ctx context.Context) error
}

// RegisterDumper is implemented by transports able to dump driver registers.
type RegisterDumper interface {
	Registers(ctx context.Context, motor int) (map[string]uint32, error)
}

// TransportFactory builds the transport of a configured chain.
type TransportFactory func(ctx context.Context, deps resource.Dependencies, cfg *Config, logger logging.Logger) (MotorTransport, error)

// NewTransport returns a SimulatedChain when the config asks for it, the SPI
// chain otherwise.
func NewTransport(ctx context.Context, deps resource.Dependencies, cfg *Config, logger logging.Logger) (MotorTransport, error) {
	if cfg.Simulated {
		logger.Info("Using a simulated motor chain")
		return NewSimulatedChain(JointCount, logger), nil
	}
	return newChainTransport(ctx, deps, cfg, logger)
}
