package constraint

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// solverEpsilon guards degenerate axes and empty effective masses
	solverEpsilon = 1e-12

	// minFactorDeterminant rejects near-singular joint factor matrices
	// (all-kinematic pairs, degenerate lever arms with no linear mass)
	// so the inversion yields a zero correction instead of NaN/Inf
	minFactorDeterminant = 1e-30
)

// applyPositionConstraintSoft pushes the scalar separation delta along the
// world axis toward zero as an implicit spring-damper (XPBD), accumulating
// the running multiplier into lambda so repeated calls converge to the same
// response regardless of the sweep count. Body 0 receives the positive
// correction, body 1 the negative one.
//
// The caller must guarantee dt > 0.
func (s *JointSolverState) applyPositionConstraintSoft(dt, stiffness, damping float64, accelerationMode bool, axis mgl64.Vec3, delta float64, lambda *float64) {
	invI0 := s.InvIWorld(0)
	invI1 := s.InvIWorld(1)

	// Angular lever arms and generalized inverse mass along the axis
	angularAxis0 := s.X[0].Sub(s.P(0)).Cross(axis)
	angularAxis1 := s.X[1].Sub(s.P(1)).Cross(axis)
	ia0 := invI0.Mul3x1(angularAxis0)
	ia1 := invI1.Mul3x1(angularAxis1)
	ii := s.InvM[0] + s.InvM[1] + angularAxis0.Dot(ia0) + angularAxis1.Dot(ia1)
	if ii < solverEpsilon {
		return
	}

	// Relative velocity along the axis, approximated from the connector
	// motion since the previous evaluation (one implicit sub-step ago).
	// Skipped entirely when undamped.
	velDt := 0.0
	if damping > solverEpsilon {
		v0Dt := s.X[0].Sub(s.PrevX[0])
		v1Dt := s.X[1].Sub(s.PrevX[1])
		velDt = v0Dt.Sub(v1Dt).Dot(axis)
	}

	// Acceleration mode normalizes the spring to unit effective mass, making
	// stiffness/damping independent of the constrained masses
	massScale := 1.0
	if accelerationMode {
		massScale = 1.0 / ii
	}

	sc := massScale * stiffness * dt * dt
	dc := massScale * damping * dt
	dLambda := (sc*delta - dc*velDt - *lambda) / ((sc+dc)*ii + 1.0)

	dp0 := axis.Mul(s.InvM[0] * dLambda)
	dp1 := axis.Mul(-s.InvM[1] * dLambda)
	dr0 := ia0.Mul(dLambda)
	dr1 := ia1.Mul(-dLambda)

	*lambda += dLambda
	s.applyDelta(dp0, dr0, dp1, dr1)
}

// applyRotationConstraintSoftDD is the dynamic-vs-dynamic XPBD update for a
// scalar angular error about a world axis. positionCorrection in [0,1]
// optionally reapplies the connector drift introduced by the pure rotation
// correction as a position delta (improves angular stiffness at low sweep
// counts); 0 disables it.
func (s *JointSolverState) applyRotationConstraintSoftDD(dt, stiffness, damping float64, accelerationMode bool, axis mgl64.Vec3, angle float64, positionCorrection float64, lambda *float64) {
	if axis.Len() < solverEpsilon {
		return
	}

	ia0 := s.InvIWorld(0).Mul3x1(axis)
	ia1 := s.InvIWorld(1).Mul3x1(axis)
	ii := axis.Dot(ia0) + axis.Dot(ia1)
	if ii < solverEpsilon {
		return
	}

	angVelDt := 0.0
	if damping > solverEpsilon {
		w0Dt := angularDelta(s.PrevQ[0], s.Q(0))
		w1Dt := angularDelta(s.PrevQ[1], s.Q(1))
		angVelDt = axis.Dot(w0Dt) - axis.Dot(w1Dt)
	}

	massScale := 1.0
	if accelerationMode {
		massScale = 1.0 / ii
	}

	sc := massScale * stiffness * dt * dt
	dc := massScale * damping * dt
	dLambda := (sc*angle - dc*angVelDt - *lambda) / ((sc+dc)*ii + 1.0)

	dr0 := ia0.Mul(dLambda)
	dr1 := ia1.Mul(-dLambda)

	*lambda += dLambda

	preCX := s.X[1].Sub(s.X[0])
	s.applyRotationDelta(dr0, dr1)

	if positionCorrection > 0 {
		s.applyRotationDriftCorrection(positionCorrection, preCX)
	}
}

// applyRotationConstraintSoftKD is the kinematic-vs-dynamic variant: only
// the dynamic body's inertia contributes to the effective mass and only the
// dynamic body receives a rotation delta.
func (s *JointSolverState) applyRotationConstraintSoftKD(kIndex, dIndex int, dt, stiffness, damping float64, accelerationMode bool, axis mgl64.Vec3, angle float64, positionCorrection float64, lambda *float64) {
	if axis.Len() < solverEpsilon {
		return
	}

	iad := s.InvIWorld(dIndex).Mul3x1(axis)
	ii := axis.Dot(iad)
	if ii < solverEpsilon {
		return
	}

	angVelDt := 0.0
	if damping > solverEpsilon {
		w0Dt := angularDelta(s.PrevQ[0], s.Q(0))
		w1Dt := angularDelta(s.PrevQ[1], s.Q(1))
		angVelDt = axis.Dot(w0Dt) - axis.Dot(w1Dt)
	}

	massScale := 1.0
	if accelerationMode {
		massScale = 1.0 / ii
	}

	sc := massScale * stiffness * dt * dt
	dc := massScale * damping * dt
	dLambda := (sc*angle - dc*angVelDt - *lambda) / ((sc+dc)*ii + 1.0)

	*lambda += dLambda

	// Same sign convention as the DD variant: + on body 0, - on body 1
	var dr0, dr1 mgl64.Vec3
	if dIndex == 0 {
		dr0 = iad.Mul(dLambda)
	} else {
		dr1 = iad.Mul(-dLambda)
	}

	preCX := s.X[1].Sub(s.X[0])
	s.applyRotationDelta(dr0, dr1)

	if positionCorrection > 0 {
		s.applyRotationDriftCorrection(positionCorrection, preCX)
	}
}

// applyRotationDriftCorrection removes (a scaled fraction of) the connector
// separation change a rotation correction just introduced, splitting the
// position delta by linear mass
func (s *JointSolverState) applyRotationDriftCorrection(scale float64, preCX mgl64.Vec3) {
	im := s.InvM[0] + s.InvM[1]
	if im < solverEpsilon {
		return
	}

	drift := s.X[1].Sub(s.X[0]).Sub(preCX)
	corr := scale / im
	dp0 := drift.Mul(corr * s.InvM[0])
	dp1 := drift.Mul(-corr * s.InvM[1])

	s.applyPositionDelta(dp0, dp1)
}

// applyPointPositionConstraintDD closes the positional error cx between the
// two connectors with a one-step generalized mass solve. No multiplier is
// accumulated; stiffness is a direct blend factor on the correction.
func (s *JointSolverState) applyPointPositionConstraintDD(stiffness float64, cx mgl64.Vec3) {
	r0 := s.X[0].Sub(s.P(0))
	r1 := s.X[1].Sub(s.P(1))
	invI0 := s.InvIWorld(0)
	invI1 := s.InvIWorld(1)

	j0 := jointFactorMatrix(r0, invI0, s.InvM[0])
	j1 := jointFactorMatrix(r1, invI1, s.InvM[1])
	ji, ok := invertFactorMatrix(j0.Add(j1))
	if !ok {
		return
	}

	dx := ji.Mul3x1(cx)

	dp0 := dx.Mul(s.InvM[0] * stiffness)
	dp1 := dx.Mul(-s.InvM[1] * stiffness)
	dr0 := invI0.Mul3x1(r0.Cross(dx)).Mul(stiffness)
	dr1 := invI1.Mul3x1(r1.Cross(dx)).Mul(-stiffness)

	s.applyDelta(dp0, dr0, dp1, dr1)
}

// applyPointPositionConstraintKD is the kinematic-vs-dynamic variant: only
// the dynamic body's factor matrix is inverted and only the dynamic body
// receives the correction.
func (s *JointSolverState) applyPointPositionConstraintKD(kIndex, dIndex int, stiffness float64, cx mgl64.Vec3) {
	rd := s.X[dIndex].Sub(s.P(dIndex))
	invId := s.InvIWorld(dIndex)

	jd := jointFactorMatrix(rd, invId, s.InvM[dIndex])
	ji, ok := invertFactorMatrix(jd)
	if !ok {
		return
	}

	dx := ji.Mul3x1(cx)

	sign := 1.0
	if dIndex == 1 {
		sign = -1.0
	}

	var dp0, dp1, dr0, dr1 mgl64.Vec3
	if dIndex == 0 {
		dp0 = dx.Mul(sign * s.InvM[dIndex] * stiffness)
		dr0 = invId.Mul3x1(rd.Cross(dx)).Mul(sign * stiffness)
	} else {
		dp1 = dx.Mul(sign * s.InvM[dIndex] * stiffness)
		dr1 = invId.Mul3x1(rd.Cross(dx)).Mul(sign * stiffness)
	}

	s.applyDelta(dp0, dr0, dp1, dr1)
}

// applyPositionProjection is the push-out pass: a combined position and
// velocity correction of the residual separation cx, so the velocity state
// stays consistent with the positional fix and no energy is reintroduced.
// parentMassScale scales only body 0's mass contribution, biasing the
// correction toward articulated-chain roots.
func (s *JointSolverState) applyPositionProjection(stiffness, parentMassScale float64, cx mgl64.Vec3) {
	cxLen := cx.Len()
	if cxLen < solverEpsilon {
		return
	}

	cxDir := cx.Mul(1.0 / cxLen)

	r0 := s.X[0].Sub(s.P(0))
	r1 := s.X[1].Sub(s.P(1))

	// Relative surface velocity projected onto the separation direction
	b0 := s.Bodies[0]
	b1 := s.Bodies[1]
	v0 := b0.Velocity.Add(b0.AngularVelocity.Cross(r0))
	v1 := b1.Velocity.Add(b1.AngularVelocity.Cross(r1))
	cv := cxDir.Mul(v1.Sub(v0).Dot(cxDir))

	invM0 := parentMassScale * s.InvM[0]
	invI0 := s.InvIWorld(0).Mul(parentMassScale)
	invM1 := s.InvM[1]
	invI1 := s.InvIWorld(1)

	j0 := jointFactorMatrix(r0, invI0, invM0)
	j1 := jointFactorMatrix(r1, invI1, invM1)
	ji, ok := invertFactorMatrix(j0.Add(j1))
	if !ok {
		return
	}

	dx := ji.Mul3x1(cx).Mul(stiffness)
	dv := ji.Mul3x1(cv).Mul(stiffness)

	dp0 := dx.Mul(invM0)
	dp1 := dx.Mul(-invM1)
	dr0 := invI0.Mul3x1(r0.Cross(dx))
	dr1 := invI1.Mul3x1(r1.Cross(dx)).Mul(-1)
	s.applyDelta(dp0, dr0, dp1, dr1)

	dv0 := dv.Mul(invM0)
	dv1 := dv.Mul(-invM1)
	dw0 := invI0.Mul3x1(r0.Cross(dv))
	dw1 := invI1.Mul3x1(r1.Cross(dv)).Mul(-1)
	s.applyVelocityDelta(dv0, dw0, dv1, dw1)
}

// jointFactorMatrix builds one body's contribution to the effective mass
// matrix of a point constraint: [r×]·I⁻¹·[r×]ᵀ + invM·Identity
func jointFactorMatrix(r mgl64.Vec3, invI mgl64.Mat3, invM float64) mgl64.Mat3 {
	rx := skewMatrix(r)
	j := rx.Mul3(invI).Mul3(rx.Transpose())

	j[0] += invM
	j[4] += invM
	j[8] += invM

	return j
}

// invertFactorMatrix inverts a joint factor matrix, reporting false for
// singular or near-singular input so callers apply a zero correction
func invertFactorMatrix(j mgl64.Mat3) (mgl64.Mat3, bool) {
	det := j.Det()
	if math.Abs(det) < minFactorDeterminant {
		return mgl64.Mat3{}, false
	}

	return j.Inv(), true
}

// skewMatrix returns the cross-product matrix [v×]
func skewMatrix(v mgl64.Vec3) mgl64.Mat3 {
	// Column-major storage
	return mgl64.Mat3{
		0, v.Z(), -v.Y(),
		-v.Z(), 0, v.X(),
		v.Y(), -v.X(), 0,
	}
}

// angularDelta returns the shortest-arc angular displacement taking qFrom to
// qTo, as an axis-scaled vector (the angular velocity over a unit interval)
func angularDelta(qFrom, qTo mgl64.Quat) mgl64.Vec3 {
	dq := qTo.Mul(qFrom.Conjugate())
	if dq.W < 0 {
		dq = dq.Scale(-1)
	}

	return dq.V.Mul(2.0)
}
