package youpi_arm

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

type simFactory struct {
	mu     sync.Mutex
	chains []*SimulatedChain
	err    error
}

func (f *simFactory) build(ctx context.Context, deps resource.Dependencies, cfg *Config, logger logging.Logger) (MotorTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sim := NewSimulatedChain(JointCount, logger)
	f.chains = append(f.chains, sim)
	return sim, nil
}

func (f *simFactory) built() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chains)
}

// Test configuration factory
func testConfig(bus string) *Config {
	cfg := &Config{SPIBus: bus, Simulated: true, HomingPollMs: 1, BusyPollMs: 1}
	if _, _, err := cfg.Validate("test"); err != nil {
		panic(err)
	}
	return cfg
}

func TestRegistryCreation(t *testing.T) {
	registry := NewCoordinatorRegistry(NewTransport)

	if registry == nil {
		t.Fatal("NewCoordinatorRegistry returned nil")
	}
	if registry.entries == nil {
		t.Fatal("Registry entries map not initialized")
	}
	if len(registry.entries) != 0 {
		t.Fatal("Registry should start empty")
	}
}

func TestSingleCoordinatorAccess(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	factory := &simFactory{}
	registry := NewCoordinatorRegistry(factory.build)
	config := testConfig("0")

	coordinator, err := registry.Acquire(ctx, nil, config, logger)
	if err != nil {
		t.Fatalf("Failed to get coordinator: %v", err)
	}
	if coordinator.State() != StateReady {
		t.Fatalf("Expected a ready coordinator, got %v", coordinator.State())
	}

	refCount, hasCoordinator, _ := registry.Status(config.Key())
	if refCount != 1 || !hasCoordinator {
		t.Fatalf("Expected refCount 1 with a coordinator, got %d %v", refCount, hasCoordinator)
	}

	if err := registry.Release(ctx, config.Key()); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if len(registry.entries) != 0 {
		t.Fatalf("Expected 0 registry entries after release, got %d", len(registry.entries))
	}
	if coordinator.State() != StateShutdown {
		t.Fatalf("Expected the coordinator to be shut down, got %v", coordinator.State())
	}

	// the gripper is opened before the motors are powered down
	ops := factory.chains[0].Commands()
	last := ops[len(ops)-1]
	if last.Op != SimPowerDown {
		t.Fatalf("Expected power down last, got %v", last.Op)
	}
	gotos := factory.chains[0].CommandsFor(int(Gripper))
	if len(gotos) == 0 || gotos[len(gotos)-1].Op != SimGoto {
		t.Fatalf("Expected the gripper to be opened, got %v", gotos)
	}
}

func TestSharedAccess(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	factory := &simFactory{}
	registry := NewCoordinatorRegistry(factory.build)

	armConfig := testConfig("0")
	gripperConfig := testConfig("0")

	first, err := registry.Acquire(ctx, nil, armConfig, logger)
	if err != nil {
		t.Fatalf("Failed to get coordinator: %v", err)
	}
	second, err := registry.Acquire(ctx, nil, gripperConfig, logger)
	if err != nil {
		t.Fatalf("Failed to get coordinator: %v", err)
	}
	if first != second {
		t.Fatal("Both holders should share the same coordinator")
	}
	if factory.built() != 1 {
		t.Fatalf("Expected a single transport, got %d", factory.built())
	}

	if err := registry.Release(ctx, armConfig.Key()); err != nil {
		t.Fatal(err)
	}
	if first.State() != StateReady {
		t.Fatalf("Coordinator should survive while referenced, got %v", first.State())
	}
	if err := registry.Release(ctx, gripperConfig.Key()); err != nil {
		t.Fatal(err)
	}
	if first.State() != StateShutdown {
		t.Fatalf("Expected shutdown after last release, got %v", first.State())
	}

	// releasing an unknown chain is a no-op
	if err := registry.Release(ctx, "nope"); err != nil {
		t.Fatal(err)
	}
}

func TestMultipleChains(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	factory := &simFactory{}
	registry := NewCoordinatorRegistry(factory.build)

	buses := []string{"0", "1", "2"}
	var wg sync.WaitGroup
	var successCount int64
	for _, bus := range buses {
		wg.Add(1)
		go func(b string) {
			defer wg.Done()
			if _, err := registry.Acquire(ctx, nil, testConfig(b), logger); err == nil {
				atomic.AddInt64(&successCount, 1)
			}
		}(bus)
	}
	wg.Wait()

	if successCount != 3 {
		t.Fatalf("Expected 3 coordinators, got %d", successCount)
	}
	if factory.built() != 3 {
		t.Fatalf("Expected 3 transports, got %d", factory.built())
	}
	for _, bus := range buses {
		if err := registry.ForceClose(ctx, testConfig(bus).Key()); err != nil {
			t.Fatal(err)
		}
	}
	if len(registry.entries) != 0 {
		t.Fatalf("Expected empty registry, got %d entries", len(registry.entries))
	}
}

func TestConfigConflict(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	registry := NewCoordinatorRegistry((&simFactory{}).build)

	config := testConfig("0")
	if _, err := registry.Acquire(ctx, nil, config, logger); err != nil {
		t.Fatal(err)
	}

	conflicting := testConfig("0")
	conflicting.BaudRate = 500000
	if _, err := registry.Acquire(ctx, nil, conflicting, logger); err == nil {
		t.Fatal("Expected a conflict error for a different baud rate")
	}

	refCount, _, _ := registry.Status(config.Key())
	if refCount != 1 {
		t.Fatalf("A rejected holder must not be counted, refCount %d", refCount)
	}
}

func TestForceCloseCoordinator(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	factory := &simFactory{}
	registry := NewCoordinatorRegistry(factory.build)
	config := testConfig("0")

	coordinator, err := registry.Acquire(ctx, nil, config, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Acquire(ctx, nil, config, logger); err != nil {
		t.Fatal(err)
	}

	if err := registry.ForceClose(ctx, config.Key()); err != nil {
		t.Fatalf("ForceClose failed: %v", err)
	}
	if coordinator.State() != StateShutdown {
		t.Fatalf("Expected shutdown, got %v", coordinator.State())
	}
	// an emergency shutdown leaves the gripper alone
	for _, cmd := range factory.chains[0].Commands() {
		if cmd.Op == SimGoto {
			t.Fatalf("Unexpected gripper motion during emergency shutdown: %+v", cmd)
		}
	}
	if refCount, has, _ := registry.Status(config.Key()); refCount != 0 || has {
		t.Fatalf("Expected no entry after force close, got %d %v", refCount, has)
	}

	// later releases of the dropped holders are harmless
	if err := registry.Release(ctx, config.Key()); err != nil {
		t.Fatal(err)
	}
	if err := registry.ForceClose(ctx, config.Key()); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireFailures(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	factory := &simFactory{err: errors.New("no spi")}
	registry := NewCoordinatorRegistry(factory.build)
	if _, err := registry.Acquire(ctx, nil, testConfig("0"), logger); err == nil {
		t.Fatal("Expected transport creation error")
	}
	if len(registry.entries) != 0 {
		t.Fatal("A failed acquisition must not leave an entry")
	}

	// a failing initialization is not cached, the next acquisition retries
	failing := func(ctx context.Context, deps resource.Dependencies, cfg *Config, logger logging.Logger) (MotorTransport, error) {
		sim := NewSimulatedChain(JointCount, logger)
		sim.FailOn[SimInitialize] = errors.New("chip missing")
		return sim, nil
	}
	registry = NewCoordinatorRegistry(failing)
	_, err := registry.Acquire(ctx, nil, testConfig("0"), logger)
	var initErr *InitializationError
	if !errors.As(err, &initErr) {
		t.Fatalf("Expected InitializationError, got %v", err)
	}
	if len(registry.entries) != 0 {
		t.Fatal("A failed initialization must not leave an entry")
	}
}

func TestRegistryCalibrationFile(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	registry := NewCoordinatorRegistry((&simFactory{}).build)

	file := filepath.Join(t.TempDir(), "youpi.json")
	cal := DefaultCalibration()
	cal.Joints[Base].MaxSpeed = 321
	if err := SaveCalibrationToFile(file, cal); err != nil {
		t.Fatal(err)
	}

	config := testConfig("0")
	config.CalibrationFile = file
	coordinator, err := registry.Acquire(ctx, nil, config, logger)
	if err != nil {
		t.Fatal(err)
	}
	if got := coordinator.Calibration().Joints[Base].MaxSpeed; got != 321 {
		t.Fatalf("Expected calibration from file, got max speed %v", got)
	}
	_, _, summary := registry.Status(config.Key())
	if summary != "SPI: sim:0/0, State: ready, Calibration: "+file {
		t.Fatalf("Unexpected summary %q", summary)
	}

	// a holder without file shares the calibration in use
	plain := testConfig("0")
	other, err := registry.Acquire(ctx, nil, plain, logger)
	if err != nil {
		t.Fatal(err)
	}
	if other.Calibration().Joints[Base].MaxSpeed != 321 {
		t.Fatal("Shared coordinator should keep the file calibration")
	}
}

func TestCalibrationEquality(t *testing.T) {
	a := DefaultCalibration()
	b := DefaultCalibration()
	if !calibrationsEqual(a, b) {
		t.Fatal("Default calibrations should be equal")
	}
	b.Joints[Elbow].Limits.Max = 100
	if calibrationsEqual(a, b) {
		t.Fatal("Different limits should not be equal")
	}
	b = DefaultCalibration()
	b.Gripper.Turns = 3
	if calibrationsEqual(a, b) {
		t.Fatal("Different gripper travel should not be equal")
	}
}
