//go:build linux

package youpi_arm

import (
	"context"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/board/genericlinux/buses"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"youpi_arm/dspin"
)

func newChainTransport(ctx context.Context, deps resource.Dependencies, cfg *Config, logger logging.Logger) (MotorTransport, error) {
	chainCfg := dspin.ChainConfig{
		ChipSelect: cfg.ChipSelect,
		BaudRate:   uint(cfg.BaudRate),
		Chips:      JointCount,
		ForceReset: cfg.ForceReset,
	}

	if cfg.StandbyPin != "" {
		b, err := board.FromDependencies(deps, cfg.Board)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get board %q", cfg.Board)
		}
		pin, err := b.GPIOPinByName(cfg.StandbyPin)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get standby pin %q", cfg.StandbyPin)
		}
		chainCfg.Standby = pin
	}

	bus := buses.NewSpiBus(cfg.SPIBus)
	chain, err := dspin.NewChain(bus, chainCfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Infof("Using L6470 chain on SPI bus %s, chip select %s", cfg.SPIBus, cfg.ChipSelect)
	return chain, nil
}

// countChips counts the drivers answering on a chip select without resetting them.
func countChips(ctx context.Context, spiBus, chipSelect string, logger logging.Logger) (int, error) {
	chain, err := dspin.NewChain(buses.NewSpiBus(spiBus), dspin.ChainConfig{ChipSelect: chipSelect, Chips: JointCount}, logger)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := chain.Close(ctx); err != nil {
			logger.Debugf("closing scanned chain %s.%s: %v", spiBus, chipSelect, err)
		}
	}()
	return chain.CountChips(ctx)
}
