package constraint

import (
	"github.com/akmonengine/sinew/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// JointFrame is the fixed local-space connector transform of a joint on one
// of its two bodies: where on the body the joint attaches. Set at joint
// creation, never mutated afterwards.
type JointFrame struct {
	Translation mgl64.Vec3
	Rotation    mgl64.Quat
}

// NewJointFrame creates a connector frame at a local offset with no rotation
func NewJointFrame(translation mgl64.Vec3) JointFrame {
	return JointFrame{
		Translation: translation,
		Rotation:    mgl64.QuatIdent(),
	}
}

// JointSolverState is the per-substep working state of a two-body joint.
//
// It is reset from live body state in Prepare, mutated in place across the
// Gauss-Seidel sweeps, and discarded at the end of the substep. The bodies
// themselves are mutated through it, so each constraint term evaluated after
// a delta sees the result of the previous term.
type JointSolverState struct {
	Frames [2]JointFrame
	Bodies [2]*actor.RigidBody

	// Mass state copied in at prepare time
	InvM [2]float64
	InvI [2]mgl64.Vec3

	// World-space connector pose, derived from the body pose and the frame.
	// R[1] is always kept in the shortest-arc hemisphere relative to R[0].
	X [2]mgl64.Vec3
	R [2]mgl64.Quat

	// Previous-iteration state, feeding the implicit damping terms
	PrevX [2]mgl64.Vec3
	PrevQ [2]mgl64.Quat

	// XPBD Lagrange multipliers: the net constraint-space impulse applied so
	// far this substep per constraint axis. Reset once per substep.
	LinearSoftLambda  float64
	LinearDriveLambda float64
	TwistSoftLambda   float64
	SwingSoftLambda   float64
	TwistDriveLambda  float64
	SwingDriveLambda  float64
}

// Prepare resets the state from the live bodies for a new substep
func (s *JointSolverState) Prepare(bodies [2]*actor.RigidBody, frames [2]JointFrame) {
	s.Bodies = bodies
	s.Frames = frames

	for i := 0; i < 2; i++ {
		s.InvM[i] = bodies[i].InvMass
		s.InvI[i] = bodies[i].InvInertiaLocal
	}

	s.LinearSoftLambda = 0
	s.LinearDriveLambda = 0
	s.TwistSoftLambda = 0
	s.SwingSoftLambda = 0
	s.TwistDriveLambda = 0
	s.SwingDriveLambda = 0

	s.UpdateDerivedState()

	// Seed the damping reference with the pre-integration pose, so the first
	// sweep sees the motion accumulated over the whole substep
	for i := 0; i < 2; i++ {
		prev := bodies[i].PreviousTransform
		s.PrevX[i] = prev.Position.Add(prev.Rotation.Rotate(frames[i].Translation))
		s.PrevQ[i] = prev.Rotation
	}
}

// P returns the current center-of-mass position of body i
func (s *JointSolverState) P(i int) mgl64.Vec3 {
	return s.Bodies[i].Transform.Position
}

// Q returns the current orientation of body i
func (s *JointSolverState) Q(i int) mgl64.Quat {
	return s.Bodies[i].Transform.Rotation
}

// InvIWorld returns the world-space inverse inertia of body i, from the
// copied principal moments conjugated by the body's current orientation
func (s *JointSolverState) InvIWorld(i int) mgl64.Mat3 {
	diag := mgl64.Mat3{
		s.InvI[i].X(), 0, 0,
		0, s.InvI[i].Y(), 0,
		0, 0, s.InvI[i].Z(),
	}

	R := s.Q(i).Mat4().Mat3()
	return R.Mul3(diag).Mul3(R.Transpose())
}

// UpdateDerivedState recomputes the world-space connector pose of both
// bodies. Must be called after every delta application: Gauss-Seidel
// requires each constraint term to see the result of the previous one.
func (s *JointSolverState) UpdateDerivedState() {
	for i := 0; i < 2; i++ {
		t := s.Bodies[i].Transform
		s.X[i] = t.Position.Add(t.Rotation.Rotate(s.Frames[i].Translation))
		s.R[i] = t.Rotation.Mul(s.Frames[i].Rotation)
	}

	// Shortest-arc enforcement: quaternion differences are only meaningful
	// within the same hemisphere
	if s.R[0].Dot(s.R[1]) < 0 {
		s.R[1] = s.R[1].Scale(-1)
	}
}

// SaveIterationState stores the current connector positions and body
// orientations as the damping reference for the next sweep
func (s *JointSolverState) SaveIterationState() {
	for i := 0; i < 2; i++ {
		s.PrevX[i] = s.X[i]
		s.PrevQ[i] = s.Q(i)
	}
}

func (s *JointSolverState) applyPositionDelta(dp0, dp1 mgl64.Vec3) {
	b0 := s.Bodies[0]
	b1 := s.Bodies[1]
	b0.Transform.Position = b0.Transform.Position.Add(dp0)
	b1.Transform.Position = b1.Transform.Position.Add(dp1)

	s.UpdateDerivedState()
}

// applyRotationDelta applies angular deltas with the exponential-map
// linearization q' = normalize(q + 0.5*(dr,0)⊗q). No other renormalization
// scheme may be used here: the damping terms assume its O(dt) accuracy.
func (s *JointSolverState) applyRotationDelta(dr0, dr1 mgl64.Vec3) {
	s.rotateBody(0, dr0)
	s.rotateBody(1, dr1)

	s.UpdateDerivedState()
}

func (s *JointSolverState) applyDelta(dp0, dr0, dp1, dr1 mgl64.Vec3) {
	b0 := s.Bodies[0]
	b1 := s.Bodies[1]
	b0.Transform.Position = b0.Transform.Position.Add(dp0)
	b1.Transform.Position = b1.Transform.Position.Add(dp1)

	s.rotateBody(0, dr0)
	s.rotateBody(1, dr1)

	s.UpdateDerivedState()
}

func (s *JointSolverState) rotateBody(i int, dr mgl64.Vec3) {
	if dr == (mgl64.Vec3{}) {
		return
	}

	b := s.Bodies[i]
	drQuat := mgl64.Quat{V: dr, W: 0}
	qDot := drQuat.Mul(b.Transform.Rotation).Scale(0.5)
	b.Transform.Rotation = b.Transform.Rotation.Add(qDot).Normalize()
	b.Transform.InverseRotation = b.Transform.Rotation.Inverse()
}

func (s *JointSolverState) applyVelocityDelta(dv0, dw0, dv1, dw1 mgl64.Vec3) {
	b0 := s.Bodies[0]
	b1 := s.Bodies[1]
	b0.Velocity = b0.Velocity.Add(dv0)
	b0.AngularVelocity = b0.AngularVelocity.Add(dw0)
	b1.Velocity = b1.Velocity.Add(dv1)
	b1.AngularVelocity = b1.AngularVelocity.Add(dw1)
}
