package youpi_arm

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/geo/r3"
)

// LimitViolation is one joint outside its calibrated range.
type LimitViolation struct {
	Joint  Joint
	Angle  float64
	Limits Bounds
}

func (v LimitViolation) String() string {
	return fmt.Sprintf("%v at %.2f outside [%.1f, %.1f]", v.Joint, v.Angle, v.Limits.Min, v.Limits.Max)
}

// OutOfBoundsError lists every joint that would end outside its limits.
type OutOfBoundsError struct {
	Violations []LimitViolation
}

func (e *OutOfBoundsError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return "mechanical limits: " + strings.Join(parts, ", ")
}

// Joints returns the offending joints in chain order.
func (e *OutOfBoundsError) Joints() []Joint {
	joints := make([]Joint, 0, len(e.Violations))
	for _, v := range e.Violations {
		joints = append(joints, v.Joint)
	}
	return joints
}

// StepViolation is one motor command whose step argument does not fit the driver.
type StepViolation struct {
	Joint Joint
	Steps int
	Min   int
	Max   int
}

func (v StepViolation) String() string {
	return fmt.Sprintf("%v %d steps outside [%d, %d]", v.Joint, v.Steps, v.Min, v.Max)
}

// StepRangeError lists every motor whose move or goto argument is out of the
// driver range. No motor is commanded when it is returned.
type StepRangeError struct {
	Violations []StepViolation
}

func (e *StepRangeError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return "driver range: " + strings.Join(parts, ", ")
}

// Joints returns the offending joints in chain order.
func (e *StepRangeError) Joints() []Joint {
	joints := make([]Joint, 0, len(e.Violations))
	for _, v := range e.Violations {
		joints = append(joints, v.Joint)
	}
	return joints
}

// UnreachableTargetError is returned by IK when the wrist cannot reach the goal.
type UnreachableTargetError struct {
	Target r3.Vector
	Pitch  float64
	// shoulder to wrist distance and the maximum the two segments can span
	Distance float64
	Reach    float64
}

func (e *UnreachableTargetError) Error() string {
	return fmt.Sprintf("out of reach goal (%.1f, %.1f, %.1f) pitch %.1f: wrist at %.1f mm, reach is %.1f mm",
		e.Target.X, e.Target.Y, e.Target.Z, e.Pitch, e.Distance, e.Reach)
}

// HomingTimeoutError reports which switch transition was not seen in time.
// The motor has been stopped when it is returned.
type HomingTimeoutError struct {
	Joint   Joint
	Phase   string
	Timeout time.Duration
}

func (e *HomingTimeoutError) Error() string {
	return fmt.Sprintf("%v: %s phase timed out after %v", e.Joint, e.Phase, e.Timeout)
}

// InterruptedError is returned by an operation overtaken by an emergency
// shutdown. Joint is negative when the wait covered the whole chain.
type InterruptedError struct {
	Joint Joint
}

func (e *InterruptedError) Error() string {
	if e.Joint < 0 {
		return "aborted by emergency shutdown"
	}
	return fmt.Sprintf("%v: aborted by emergency shutdown", e.Joint)
}

// MotionTimeoutError is returned when the chain is still busy at the end of a wait.
type MotionTimeoutError struct {
	Joints  []Joint
	Timeout time.Duration
}

func (e *MotionTimeoutError) Error() string {
	return fmt.Sprintf("motion of %v not completed after %v", e.Joints, e.Timeout)
}

// TransportError wraps a failed motor command.
type TransportError struct {
	Op    string
	Joint Joint
	Err   error
}

func (e *TransportError) Error() string {
	if e.Joint < 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %v: %v", e.Op, e.Joint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// allJoints marks a TransportError raised by a chain-wide command.
const allJoints Joint = -1

// NotInitializedError is returned when a motion is requested outside Ready.
type NotInitializedError struct {
	State State
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("arm is not ready (state %v)", e.State)
}

// InitializationError means the handshake or the parameter push failed.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return "arm initialization failed: " + e.Err.Error()
}

func (e *InitializationError) Unwrap() error { return e.Err }
