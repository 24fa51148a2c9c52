package youpi_arm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

type coordinatorEntry struct {
	coordinator *MotionCoordinator
	transport   MotorTransport
	config      *Config
	fromFile    bool
	refCount    int64 // atomic
	logger      logging.Logger
}

// CoordinatorRegistry shares one MotionCoordinator per motor chain between the
// resources that drive it. The chain is initialized on first acquisition and
// shut down when the last holder releases it.
type CoordinatorRegistry struct {
	entries map[string]*coordinatorEntry // chain key -> entry
	factory TransportFactory
	mu      sync.Mutex
}

// NewCoordinatorRegistry returns an empty registry building transports with factory.
func NewCoordinatorRegistry(factory TransportFactory) *CoordinatorRegistry {
	return &CoordinatorRegistry{
		entries: make(map[string]*coordinatorEntry),
		factory: factory,
	}
}

// Acquire returns the coordinator of the chain named by cfg, creating and
// initializing it if needed. Every successful call must be paired with Release.
func (r *CoordinatorRegistry) Acquire(ctx context.Context, deps resource.Dependencies, cfg *Config, logger logging.Logger) (*MotionCoordinator, error) {
	key := cfg.Key()
	cal, fromFile := cfg.LoadCalibration(logger)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[key]; exists {
		return r.acquireExisting(entry, cfg, cal, fromFile, logger)
	}
	return r.createNew(ctx, key, deps, cfg, cal, fromFile, logger)
}

func (r *CoordinatorRegistry) acquireExisting(entry *coordinatorEntry, cfg *Config, cal Calibration, fromFile bool, logger logging.Logger) (*MotionCoordinator, error) {
	if !sameChain(entry.config, cfg) {
		return nil, errors.Errorf("conflict: chain %s already in use with a different config (refCount: %d)",
			cfg.Key(), atomic.LoadInt64(&entry.refCount))
	}

	// the calibration of a running chain is fixed, a file-less holder just
	// shares the one in use
	if fromFile && !calibrationsEqual(entry.coordinator.Calibration(), cal) {
		logger.Warnf("Calibration file %s differs from the calibration in use on chain %s, keeping the current one",
			cfg.CalibrationFile, cfg.Key())
	}

	atomic.AddInt64(&entry.refCount, 1)
	return entry.coordinator, nil
}

func (r *CoordinatorRegistry) createNew(
	ctx context.Context,
	key string,
	deps resource.Dependencies,
	cfg *Config,
	cal Calibration,
	fromFile bool,
	logger logging.Logger,
) (*MotionCoordinator, error) {
	transport, err := r.factory(ctx, deps, cfg, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create motor transport")
	}

	coordinator, err := NewMotionCoordinator(transport, cfg.CoordinatorConfig(cal), logger)
	if err != nil {
		return nil, multierr.Combine(err, transport.Close(ctx))
	}
	if err := coordinator.Initialize(ctx); err != nil {
		return nil, multierr.Combine(err, transport.Close(ctx))
	}

	r.entries[key] = &coordinatorEntry{
		coordinator: coordinator,
		transport:   transport,
		config:      cfg,
		fromFile:    fromFile,
		refCount:    1,
		logger:      logger,
	}
	logger.Infof("Created motion coordinator for chain %s", key)
	return coordinator, nil
}

// Release drops one reference. The last one shuts the chain down, opening the
// gripper and powering the motors off, and closes the transport.
func (r *CoordinatorRegistry) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[key]
	if !exists {
		return nil
	}
	if atomic.AddInt64(&entry.refCount, -1) > 0 {
		return nil
	}
	delete(r.entries, key)

	err := multierr.Combine(
		entry.coordinator.Shutdown(ctx, false),
		entry.transport.Close(ctx),
	)
	if err != nil {
		entry.logger.Warnf("error closing shared coordinator for chain %s: %v", key, err)
	}
	return err
}

// ForceClose drops the chain whatever its reference count, with an emergency
// shutdown.
func (r *CoordinatorRegistry) ForceClose(ctx context.Context, key string) error {
	r.mu.Lock()
	entry, exists := r.entries[key]
	if exists {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}
	atomic.StoreInt64(&entry.refCount, 0)
	return multierr.Combine(
		entry.coordinator.Shutdown(ctx, true),
		entry.transport.Close(ctx),
	)
}

// Status returns the reference count of a chain, whether it has a
// coordinator, and a one-line summary.
func (r *CoordinatorRegistry) Status(key string) (int64, bool, string) {
	r.mu.Lock()
	entry, exists := r.entries[key]
	r.mu.Unlock()

	if !exists {
		return 0, false, ""
	}

	calibrationInfo := "default"
	if entry.fromFile {
		calibrationInfo = entry.config.CalibrationFile
	}
	summary := fmt.Sprintf("SPI: %s, State: %v, Calibration: %s",
		key, entry.coordinator.State(), calibrationInfo)
	return atomic.LoadInt64(&entry.refCount), true, summary
}

func calibrationsEqual(a, b Calibration) bool {
	if a.Gripper != b.Gripper {
		return false
	}
	for i := range a.Joints {
		ja, jb := a.Joints[i], b.Joints[i]
		la, lb := ja.Limits, jb.Limits
		ja.Limits, jb.Limits = nil, nil
		if ja != jb {
			return false
		}
		if (la == nil) != (lb == nil) || (la != nil && *la != *lb) {
			return false
		}
	}
	return true
}
