package youpi_arm

import (
	"context"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

// registry shared by every arm and gripper of the process
var sharedRegistry = NewCoordinatorRegistry(NewTransport)

// GetSharedCoordinator acquires the process-wide coordinator of cfg's chain.
func GetSharedCoordinator(ctx context.Context, deps resource.Dependencies, cfg *Config, logger logging.Logger) (*MotionCoordinator, error) {
	return sharedRegistry.Acquire(ctx, deps, cfg, logger)
}

// ReleaseSharedCoordinator releases a coordinator obtained from GetSharedCoordinator.
func ReleaseSharedCoordinator(ctx context.Context, cfg *Config) error {
	return sharedRegistry.Release(ctx, cfg.Key())
}

// ForceCloseSharedCoordinator shuts the chain down immediately.
func ForceCloseSharedCoordinator(ctx context.Context, cfg *Config) error {
	return sharedRegistry.ForceClose(ctx, cfg.Key())
}

// GetCoordinatorStatus reports on the shared coordinator of cfg's chain.
func GetCoordinatorStatus(cfg *Config) (int64, bool, string) {
	return sharedRegistry.Status(cfg.Key())
}
