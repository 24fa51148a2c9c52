package youpi_arm

import (
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/utils"
)

// Dimensions of the arm, in millimeters.
//
// The cartesian frame has its XY plane at table level, X along the enclosure
// main axis pointing away from the control panel with its origin at the front
// face, Z upwards along the base rotation axis.
type Dimensions struct {
	Segment    float64 // shoulder-elbow and elbow-wrist links
	Gripper    float64 // wrist to gripper end
	ZShoulder  float64 // shoulder axis height above the table
	BaseRadius float64
	XOffset    float64 // front face to base rotation axis
}

// YoupiDimensions are the stock arm dimensions.
var YoupiDimensions = Dimensions{
	Segment:    162,
	Gripper:    150,
	ZShoulder:  280,
	BaseRadius: 100,
	XOffset:    105,
}

// Kinematics solves the base, shoulder, elbow and wrist joint angles.
// Pitch is the absolute gripper pitch in degrees: 0 is horizontal, positive
// points down.
type Kinematics struct {
	dims   Dimensions
	limits [4]*Bounds
	logger logging.Logger
}

// NewKinematics checks solutions against the limits of the calibration.
func NewKinematics(dims Dimensions, cal Calibration, logger logging.Logger) *Kinematics {
	k := &Kinematics{dims: dims, logger: logger}
	for j := Base; j <= Wrist; j++ {
		k.limits[j] = cal.Joints[j].Limits
	}
	return k
}

// Dimensions returns the arm dimensions used by the solver.
func (k *Kinematics) Dimensions() Dimensions {
	return k.dims
}

// IK returns the joint angles putting the gripper end at target with the given pitch.
func (k *Kinematics) IK(target r3.Vector, pitch float64) ([4]float64, error) {
	var pose [4]float64
	d := k.dims

	zRel := target.Z - d.ZShoulder
	xRel := target.X + d.XOffset
	r := math.Hypot(xRel, target.Y)

	var base float64
	if r > 0 {
		base = math.Acos(clampUnit(xRel / r))
		if target.Y < 0 {
			base = -base
		}
	}

	pitchRad := utils.DegToRad(pitch)
	rWrist := r - d.Gripper*math.Cos(pitchRad)
	zWrist := zRel + d.Gripper*math.Sin(pitchRad)

	dist := math.Hypot(rWrist, zWrist)
	if dist > 2*d.Segment {
		return pose, &UnreachableTargetError{Target: target, Pitch: pitch, Distance: dist, Reach: 2 * d.Segment}
	}

	var a0 float64
	if dist > 0 {
		a0 = math.Acos(clampUnit(rWrist / dist))
		if zWrist < 0 {
			a0 = -a0
		}
	}
	a1 := math.Acos(clampUnit(dist / 2 / d.Segment))
	shoulder := math.Pi/2 - a0 - a1
	elbow := 2 * a1
	wrist := math.Pi/2 + pitchRad - shoulder - elbow

	for i, a := range []float64{base, shoulder, elbow, wrist} {
		pose[i] = utils.RadToDeg(a)
	}
	if k.logger != nil {
		k.logger.Debugf("ik %v pitch %.2f: %v", target, pitch, pose)
	}

	var violations []LimitViolation
	for i, a := range pose {
		if l := k.limits[i]; l != nil && !l.Contains(a) {
			violations = append(violations, LimitViolation{Joint: Joint(i), Angle: a, Limits: *l})
		}
	}
	if len(violations) > 0 {
		return pose, &OutOfBoundsError{Violations: violations}
	}
	return pose, nil
}

// DK returns the gripper end position of a base..wrist pose.
func (k *Kinematics) DK(pose [4]float64) r3.Vector {
	d := k.dims
	base := utils.DegToRad(pose[Base])
	a1 := utils.DegToRad(pose[Shoulder])
	a2 := a1 + utils.DegToRad(pose[Elbow])
	a3 := a2 + utils.DegToRad(pose[Wrist])

	r := d.Segment*math.Sin(a1) + d.Segment*math.Sin(a2) + d.Gripper*math.Sin(a3)
	z := d.ZShoulder + d.Segment*math.Cos(a1) + d.Segment*math.Cos(a2) + d.Gripper*math.Cos(a3)
	return r3.Vector{
		X: r*math.Cos(base) - d.XOffset,
		Y: r * math.Sin(base),
		Z: z,
	}
}

// Pitch is the absolute gripper pitch of a pose, in the IK convention.
func Pitch(pose [4]float64) float64 {
	return pose[Shoulder] + pose[Elbow] + pose[Wrist] - 90
}

// ApproachVector is the unit vector pointing from the wrist to the gripper end.
func ApproachVector(pose [4]float64) r3.Vector {
	phi := utils.DegToRad(pose[Shoulder] + pose[Elbow] + pose[Wrist])
	base := utils.DegToRad(pose[Base])
	return r3.Vector{
		X: math.Sin(phi) * math.Cos(base),
		Y: math.Sin(phi) * math.Sin(base),
		Z: math.Cos(phi),
	}
}

// PitchFromApproach inverts ApproachVector for the pitch component.
func PitchFromApproach(v r3.Vector) float64 {
	n := v.Norm()
	if n == 0 {
		return 0
	}
	return utils.RadToDeg(math.Asin(clampUnit(-v.Z / n)))
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
