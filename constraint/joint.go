package constraint

import (
	"math"

	"github.com/akmonengine/sinew/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// JointSettings configures a two-body joint. The zero value is not useful;
// start from DefaultJointSettings.
type JointSettings struct {
	// LinearStiffness blends the hard point-position correction, 1 = rigid.
	// Used when the soft linear spring is disabled.
	LinearStiffness float64

	// Soft (XPBD) linear spring-damper between the connectors. When enabled
	// it replaces the hard point constraint.
	SoftLinear          bool
	SoftLinearStiffness float64
	SoftLinearDamping   float64

	// Soft twist/swing spring-dampers toward zero relative connector rotation
	SoftTwist          bool
	SoftTwistStiffness float64
	SoftTwistDamping   float64
	SoftSwing          bool
	SoftSwingStiffness float64
	SoftSwingDamping   float64

	// Linear drive: pushes connector 1 toward a target offset expressed in
	// connector 0 space
	LinearDrive          bool
	LinearDriveTarget    mgl64.Vec3
	LinearDriveStiffness float64
	LinearDriveDamping   float64

	// Angular drives: push the relative connector rotation toward a target,
	// split into twist and swing components
	TwistDrive            bool
	SwingDrive            bool
	AngularDriveTarget    mgl64.Quat
	AngularDriveStiffness float64
	AngularDriveDamping   float64

	// AccelerationMode normalizes all soft springs to unit effective mass,
	// removing the mass-dependence of stiffness and damping. It changes the
	// physical units of the coefficients.
	AccelerationMode bool

	// AngularPositionCorrection in [0,1] re-projects the connector drift
	// introduced by angular corrections as a position fix. 0 disables it.
	AngularPositionCorrection float64

	// ProjectionStiffness in [0,1] blends the push-out pass, 0 disables it.
	// ParentMassScale scales body 0's mass contribution during push-out,
	// biasing the correction toward chain roots.
	ProjectionStiffness float64
	ParentMassScale     float64

	// Convergence thresholds for the opt-in early-out; they do not affect
	// the corrections themselves
	PositionTolerance float64
	AngleTolerance    float64
}

// DefaultJointSettings returns a rigid point joint configuration
func DefaultJointSettings() JointSettings {
	return JointSettings{
		LinearStiffness:    1.0,
		AngularDriveTarget: mgl64.QuatIdent(),
		ParentMassScale:    1.0,
	}
}

// twistAxisLocal is the connector-local axis the relative rotation is
// twisted about; swing is everything perpendicular to it
var twistAxisLocal = mgl64.Vec3{1, 0, 0}

// JointConstraint connects two rigid bodies through a connector frame on
// each, resolved with a Gauss-Seidel XPBD solver. It implements Rule.
//
// Body 0 is the parent side of the pair (relevant for ParentMassScale).
type JointConstraint struct {
	Settings JointSettings

	bodies  [2]*actor.RigidBody
	frames  [2]JointFrame
	state   JointSolverState
	settled bool
}

// NewJointConstraint creates a joint between body0 and body1, attached at
// the given local connector frames
func NewJointConstraint(body0, body1 *actor.RigidBody, frame0, frame1 JointFrame, settings JointSettings) *JointConstraint {
	return &JointConstraint{
		Settings: settings,
		bodies:   [2]*actor.RigidBody{body0, body1},
		frames:   [2]JointFrame{frame0, frame1},
	}
}

// Bodies returns the constrained pair
func (j *JointConstraint) Bodies() (body0, body1 *actor.RigidBody) {
	return j.bodies[0], j.bodies[1]
}

// State exposes the per-substep solver state, valid between Prepare and
// Unprepare
func (j *JointConstraint) State() *JointSolverState {
	return &j.state
}

// Prepare resets the solver state from the live bodies and zeroes the
// Lagrange multipliers for the new substep
func (j *JointConstraint) Prepare(dt float64) {
	j.state.Prepare(j.bodies, j.frames)
	j.settled = false
}

// Apply runs one Gauss-Seidel sweep: angular constraints first, then linear,
// each term seeing the result of the previous one
func (j *JointConstraint) Apply(dt float64, iteration, numIterations int) {
	j.state.UpdateDerivedState()

	j.applyRotationConstraints(dt)
	j.applyPositionConstraints(dt)

	j.updateSettled()
	j.state.SaveIterationState()
}

// ApplyPushOut projects out the residual connector separation, correcting
// position and velocity together
func (j *JointConstraint) ApplyPushOut(dt float64, iteration, numIterations int) {
	if j.Settings.ProjectionStiffness <= 0 {
		return
	}

	j.state.UpdateDerivedState()
	cx := j.state.X[1].Sub(j.state.X[0])
	j.state.applyPositionProjection(j.Settings.ProjectionStiffness, j.Settings.ParentMassScale, cx)
}

func (j *JointConstraint) Unprepare(dt float64) {}

// Settled reports whether the remaining constraint error is below the
// configured tolerances. Always false when no tolerance is set.
func (j *JointConstraint) Settled() bool {
	return j.settled
}

func (j *JointConstraint) applyRotationConstraints(dt float64) {
	set := &j.Settings
	if !set.SoftTwist && !set.SoftSwing && !set.TwistDrive && !set.SwingDrive {
		return
	}

	s := &j.state

	if set.SoftTwist || set.SoftSwing {
		q01 := s.R[0].Inverse().Mul(s.R[1])
		twistAngle, swingAngle, twistAxis, swingAxis := j.decomposeRelativeRotation(q01)

		if set.SoftTwist {
			j.applyRotationSoft(dt, set.SoftTwistStiffness, set.SoftTwistDamping, twistAxis, twistAngle, &s.TwistSoftLambda)
		}
		if set.SoftSwing {
			j.applyRotationSoft(dt, set.SoftSwingStiffness, set.SoftSwingDamping, swingAxis, swingAngle, &s.SwingSoftLambda)
		}
	}

	if set.TwistDrive || set.SwingDrive {
		// Remaining rotation from the drive target to the current pose
		q01 := s.R[0].Inverse().Mul(s.R[1])
		qErr := set.AngularDriveTarget.Inverse().Mul(q01)
		if qErr.W < 0 {
			qErr = qErr.Scale(-1)
		}
		twistAngle, swingAngle, twistAxis, swingAxis := j.decomposeRelativeRotation(qErr)

		if set.TwistDrive {
			j.applyRotationSoft(dt, set.AngularDriveStiffness, set.AngularDriveDamping, twistAxis, twistAngle, &s.TwistDriveLambda)
		}
		if set.SwingDrive {
			j.applyRotationSoft(dt, set.AngularDriveStiffness, set.AngularDriveDamping, swingAxis, swingAngle, &s.SwingDriveLambda)
		}
	}
}

// decomposeRelativeRotation splits a relative connector rotation into a
// twist about the connector twist axis and the perpendicular swing, both
// returned as signed angle + world-space axis
func (j *JointConstraint) decomposeRelativeRotation(q01 mgl64.Quat) (twistAngle, swingAngle float64, twistAxis, swingAxis mgl64.Vec3) {
	s := &j.state

	swing, twist := decomposeSwingTwist(q01, twistAxisLocal)

	twistAngle = 2.0 * math.Atan2(twist.V.Dot(twistAxisLocal), twist.W)
	twistAxis = s.R[0].Rotate(twistAxisLocal)

	swingLen := swing.V.Len()
	swingAngle = 2.0 * math.Atan2(swingLen, swing.W)
	if swingLen > solverEpsilon {
		swingAxis = s.R[0].Rotate(swing.V.Mul(1.0 / swingLen))
	}

	return twistAngle, swingAngle, twistAxis, swingAxis
}

func (j *JointConstraint) applyRotationSoft(dt, stiffness, damping float64, axis mgl64.Vec3, angle float64, lambda *float64) {
	s := &j.state
	set := &j.Settings

	if k, d, ok := kinematicSplit(s); ok {
		s.applyRotationConstraintSoftKD(k, d, dt, stiffness, damping, set.AccelerationMode, axis, angle, set.AngularPositionCorrection, lambda)
	} else {
		s.applyRotationConstraintSoftDD(dt, stiffness, damping, set.AccelerationMode, axis, angle, set.AngularPositionCorrection, lambda)
	}
}

func (j *JointConstraint) applyPositionConstraints(dt float64) {
	set := &j.Settings
	s := &j.state

	if set.LinearDrive {
		target := s.X[0].Add(s.R[0].Rotate(set.LinearDriveTarget))
		cx := s.X[1].Sub(target)
		if cxLen := cx.Len(); cxLen > solverEpsilon {
			axis := cx.Mul(1.0 / cxLen)
			s.applyPositionConstraintSoft(dt, set.LinearDriveStiffness, set.LinearDriveDamping, set.AccelerationMode, axis, cxLen, &s.LinearDriveLambda)
		}
	}

	cx := s.X[1].Sub(s.X[0])

	if set.SoftLinear {
		if cxLen := cx.Len(); cxLen > solverEpsilon {
			axis := cx.Mul(1.0 / cxLen)
			s.applyPositionConstraintSoft(dt, set.SoftLinearStiffness, set.SoftLinearDamping, set.AccelerationMode, axis, cxLen, &s.LinearSoftLambda)
		}
		return
	}

	if set.LinearStiffness > 0 {
		if k, d, ok := kinematicSplit(s); ok {
			s.applyPointPositionConstraintKD(k, d, set.LinearStiffness, cx)
		} else {
			s.applyPointPositionConstraintDD(set.LinearStiffness, cx)
		}
	}
}

// updateSettled measures the remaining constraint error against the
// configured tolerances. With no tolerance set the joint never settles and
// the evolution always runs its sweeps to completion.
func (j *JointConstraint) updateSettled() {
	set := &j.Settings
	if set.PositionTolerance <= 0 && set.AngleTolerance <= 0 {
		return
	}

	s := &j.state

	positionOK := true
	if set.PositionTolerance > 0 {
		positionOK = s.X[1].Sub(s.X[0]).Len() <= set.PositionTolerance
	}

	angleOK := true
	if set.AngleTolerance > 0 {
		q01 := s.R[0].Inverse().Mul(s.R[1])
		if q01.W < 0 {
			q01 = q01.Scale(-1)
		}
		angleOK = 2.0*math.Atan2(q01.V.Len(), q01.W) <= set.AngleTolerance
	}

	j.settled = positionOK && angleOK
}

// kinematicSplit reports whether exactly one body of the pair is immovable,
// returning the kinematic and dynamic indices. The zero masses make the DD
// math equivalent; the KD kernels are the cheaper split.
func kinematicSplit(s *JointSolverState) (kIndex, dIndex int, ok bool) {
	k0 := s.InvM[0] == 0 && s.InvI[0] == (mgl64.Vec3{})
	k1 := s.InvM[1] == 0 && s.InvI[1] == (mgl64.Vec3{})

	switch {
	case k0 && !k1:
		return 0, 1, true
	case k1 && !k0:
		return 1, 0, true
	default:
		return 0, 0, false
	}
}

// decomposeSwingTwist splits q into q = swing ⊗ twist, with twist the
// rotation about axis
func decomposeSwingTwist(q mgl64.Quat, axis mgl64.Vec3) (swing, twist mgl64.Quat) {
	twist = mgl64.Quat{W: q.W, V: axis.Mul(q.V.Dot(axis))}
	if twist.Len() < solverEpsilon {
		// 180° swing: no well-defined twist component
		twist = mgl64.QuatIdent()
	} else {
		twist = twist.Normalize()
	}

	swing = q.Mul(twist.Inverse())
	return swing, twist
}
