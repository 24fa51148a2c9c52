package youpi_arm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
)

func newTestGripper(t *testing.T, cfg *Config) gripper.Gripper {
	logger := logging.NewTestLogger(t)
	g, err := NewYoupiGripper(context.Background(), nil, gripper.Named("claw"), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close(context.Background()) })
	return g
}

func TestGripperGrabNothing(t *testing.T) {
	ctx := context.Background()
	cfg := simConfig(t)
	g := newTestGripper(t, cfg)

	grabbed, err := g.Grab(ctx, nil)
	require.NoError(t, err)
	assert.False(t, grabbed)

	status, err := g.IsHoldingSomething(ctx, nil)
	require.NoError(t, err)
	assert.False(t, status.IsHoldingSomething)

	state, err := g.DoCommand(ctx, map[string]interface{}{"command": "get_state"})
	require.NoError(t, err)
	assert.Equal(t, true, state["switch_closed"])
}

func TestGripperGrabObject(t *testing.T) {
	ctx := context.Background()
	cfg := simConfig(t)
	g := newTestGripper(t, cfg)
	sim := simOf(t, cfg)

	// an object keeps the jaws from reaching the switch
	open := false
	sim.StickSwitch(int(Gripper), &open)

	grabbed, err := g.Grab(ctx, map[string]interface{}{"timeout_sec": 0.05})
	require.NoError(t, err)
	assert.True(t, grabbed)
	assert.False(t, sim.Running(int(Gripper)))

	status, err := g.IsHoldingSomething(ctx, nil)
	require.NoError(t, err)
	assert.True(t, status.IsHoldingSomething)

	require.NoError(t, g.Open(ctx, nil))
	status, err = g.IsHoldingSomething(ctx, nil)
	require.NoError(t, err)
	assert.False(t, status.IsHoldingSomething)

	moving, err := g.IsMoving(ctx)
	require.NoError(t, err)
	assert.False(t, moving)
}

func TestGripperGrabTransportError(t *testing.T) {
	ctx := context.Background()
	cfg := simConfig(t)
	g := newTestGripper(t, cfg)
	simOf(t, cfg).FailOn[SimRun] = assert.AnError

	_, err := g.Grab(ctx, nil)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, Gripper, transportErr.Joint)
}

func TestGripperCalibrate(t *testing.T) {
	ctx := context.Background()
	cfg := simConfig(t)
	g := newTestGripper(t, cfg)
	sim := simOf(t, cfg)

	result, err := g.DoCommand(ctx, map[string]interface{}{"command": "calibrate"})
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])

	// the open position is the new origin
	state, err := g.DoCommand(ctx, map[string]interface{}{"command": "get_state"})
	require.NoError(t, err)
	assert.InDelta(t, 0, state["motor_angle"].(float64), 1e-9)
	assert.Equal(t, false, state["switch_closed"])

	sim.ResetCommands()
	require.NoError(t, g.Stop(ctx, nil))
	assert.Equal(t, []SimCommand{{Op: SimSoftStop, Motor: int(Gripper)}}, sim.Commands())

	_, err = g.DoCommand(ctx, map[string]interface{}{"command": "squeeze"})
	assert.ErrorContains(t, err, "unknown command")
}

func TestGripperSharesArmChain(t *testing.T) {
	ctx := context.Background()
	cfg := simConfig(t)
	a := newTestArm(t, cfg)
	g := newTestGripper(t, cfg)

	result, err := g.DoCommand(ctx, map[string]interface{}{"command": "controller_status"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result["ref_count"])
	assert.Equal(t, true, result["has_coordinator"])

	// closing the arm keeps the chain up for the gripper
	require.NoError(t, a.Close(ctx))
	grabbed, err := g.Grab(ctx, nil)
	require.NoError(t, err)
	assert.False(t, grabbed)
}
