package youpi_arm

// couplingEdge links a joint to the downstream joint its motor drags.
type couplingEdge struct {
	joint Joint
	sign  float64
}

// CouplingGraph encodes the belt transmissions: turning a motor moves the
// downstream links along with it. The graph is a single chain.
type CouplingGraph struct {
	child  [JointCount]*couplingEdge
	parent [JointCount]*couplingEdge
}

// CouplingLink is the downstream end of a belt and its direction.
type CouplingLink struct {
	Child Joint
	Sign  float64
}

// NewCouplingGraph builds a graph from parent to child links.
func NewCouplingGraph(edges map[Joint]CouplingLink) *CouplingGraph {
	g := &CouplingGraph{}
	for p, e := range edges {
		g.child[p] = &couplingEdge{joint: e.Child, sign: e.Sign}
		g.parent[e.Child] = &couplingEdge{joint: p, sign: e.Sign}
	}
	return g
}

// YoupiCoupling is shoulder to elbow (+), elbow to wrist (+), wrist to hand (-).
var YoupiCoupling = NewCouplingGraph(map[Joint]CouplingLink{
	Shoulder: {Elbow, 1},
	Elbow:    {Wrist, 1},
	Wrist:    {HandRotation, -1},
})

// Parent returns the upstream joint of j and the sign of the link.
func (g *CouplingGraph) Parent(j Joint) (Joint, float64, bool) {
	if !j.Valid() || g.parent[j] == nil {
		return 0, 0, false
	}
	return g.parent[j].joint, g.parent[j].sign, true
}

// ApplyCoupling turns joint deltas into motor deltas: each joint's delta is
// propagated to every downstream joint with the cumulative sign of the chain.
// Joints are walked from the gripper down so the explicit delta of a joint is
// folded into what upstream joints already pushed onto it.
func (g *CouplingGraph) ApplyCoupling(deltas JointAngles) JointAngles {
	out := make(JointAngles, len(deltas))
	for j, v := range deltas {
		out[j] += v
	}
	for j := Gripper; j >= Base; j-- {
		v, ok := deltas[j]
		if !ok {
			continue
		}
		sign := 1.0
		for e := g.child[j]; e != nil; e = g.child[e.joint] {
			sign *= e.sign
			out[e.joint] += sign * v
		}
	}
	return out
}

// GlobalToLocal converts motor angles to joint angles:
// local[j] = global[j] - sign * global[parent].
func (g *CouplingGraph) GlobalToLocal(global [JointCount]float64) [JointCount]float64 {
	local := global
	for j := range global {
		if e := g.parent[j]; e != nil {
			local[j] = global[j] - e.sign*global[e.joint]
		}
	}
	return local
}

// LocalToGlobal is the inverse of GlobalToLocal.
func (g *CouplingGraph) LocalToGlobal(local [JointCount]float64) [JointCount]float64 {
	global := local
	for j := range local {
		if e := g.parent[j]; e != nil {
			global[j] = local[j] + e.sign*global[e.joint]
		}
	}
	return global
}
