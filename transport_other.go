//go:build !linux

package youpi_arm

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

func newChainTransport(ctx context.Context, deps resource.Dependencies, cfg *Config, logger logging.Logger) (MotorTransport, error) {
	return nil, errors.Errorf("SPI motor chain is not supported on %s, set simulated to true", runtime.GOOS)
}

func countChips(ctx context.Context, spiBus, chipSelect string, logger logging.Logger) (int, error) {
	return 0, errors.Errorf("SPI scanning is not supported on %s", runtime.GOOS)
}
