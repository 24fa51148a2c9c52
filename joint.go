package youpi_arm

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Joint is the position of a motor in the daisy chain, base first.
type Joint int

const (
	Base Joint = iota
	Shoulder
	Elbow
	Wrist
	HandRotation
	Gripper
)

// JointCount is the number of motors in the chain.
const JointCount = 6

// ArmJointCount covers Base to HandRotation, the joints exposed as arm inputs.
const ArmJointCount = 5

var jointNames = [JointCount]string{"base", "shoulder", "elbow", "wrist", "hand", "gripper"}

func (j Joint) String() string {
	if j.Valid() {
		return jointNames[j]
	}
	return fmt.Sprintf("joint(%d)", int(j))
}

// Valid reports whether j is one of the six motors.
func (j Joint) Valid() bool {
	return j >= Base && j <= Gripper
}

// AllJoints returns the joints in chain order.
func AllJoints() []Joint {
	return []Joint{Base, Shoulder, Elbow, Wrist, HandRotation, Gripper}
}

// ParseJoint accepts a joint name or its chain index as a string.
func ParseJoint(name string) (Joint, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "hand_rotation", "hand_rot", "rotation":
		return HandRotation, nil
	}
	for i, n := range jointNames {
		if n == name || fmt.Sprint(i) == name {
			return Joint(i), nil
		}
	}
	return 0, errors.Errorf("unknown joint %q", name)
}

// MarshalText writes the joint name.
func (j Joint) MarshalText() ([]byte, error) {
	if !j.Valid() {
		return nil, errors.Errorf("invalid joint %d", int(j))
	}
	return []byte(j.String()), nil
}

// UnmarshalText accepts anything ParseJoint does.
func (j *Joint) UnmarshalText(text []byte) error {
	parsed, err := ParseJoint(string(text))
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// JointAngles maps a subset of joints to angles or angle deltas, in degrees.
type JointAngles map[Joint]float64

func (a JointAngles) validate() error {
	if len(a) == 0 {
		return errors.New("no joint angle given")
	}
	for j, v := range a {
		if !j.Valid() {
			return errors.Errorf("invalid joint %v", j)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("invalid angle %v for %v", v, j)
		}
	}
	return nil
}

// Joints returns the keys in chain order.
func (a JointAngles) Joints() []Joint {
	joints := make([]Joint, 0, len(a))
	for j := range a {
		joints = append(joints, j)
	}
	sort.Slice(joints, func(i, k int) bool { return joints[i] < joints[k] })
	return joints
}

// Vector expands the map to a full chain vector, missing joints at 0.
func (a JointAngles) Vector() [JointCount]float64 {
	var v [JointCount]float64
	for j, angle := range a {
		if j.Valid() {
			v[j] = angle
		}
	}
	return v
}
