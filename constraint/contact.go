package constraint

import (
	"math"

	"github.com/akmonengine/sinew/actor"
	"github.com/go-gl/mathgl/mgl64"
)

const (
	// DefaultCompliance controls soft constraint stiffness for contact resolution.
	// Lower values = stiffer contacts (less penetration, potential jitter)
	// Higher values = softer contacts (more penetration, smoother)
	// Typical range: 1e-10 (very stiff) to 1e-6 (soft)
	DefaultCompliance = 1e-7
)

type ContactPoint struct {
	Position    mgl64.Vec3
	Penetration float64
}

// ContactConstraint resolves a contact manifold between two bodies: XPBD
// penetration correction during the Apply sweeps, restitution and friction
// impulses during the push-out sweeps (after velocities have been
// reconciled). It implements Rule; the collision detector produces one per
// manifold per substep.
type ContactConstraint struct {
	BodyA  *actor.RigidBody
	BodyB  *actor.RigidBody
	Points []ContactPoint
	Normal mgl64.Vec3

	Compliance      float64
	Restitution     float64 // 0 = no rebound, 1 = perfect restitution
	StaticFriction  float64
	DynamicFriction float64
}

func (c *ContactConstraint) Prepare(dt float64)   {}
func (c *ContactConstraint) Unprepare(dt float64) {}

// Apply resolves penetration at position level
func (c *ContactConstraint) Apply(dt float64, iteration, numIterations int) {
	c.SolvePosition(dt)
}

// ApplyPushOut applies restitution and friction at velocity level
func (c *ContactConstraint) ApplyPushOut(dt float64, iteration, numIterations int) {
	c.SolveVelocity(dt)
}

// SolvePosition resolves penetration (XPBD, manifold treated as one global correction)
func (c *ContactConstraint) SolvePosition(dt float64) {
	if len(c.Points) == 0 {
		return
	}

	bodyA := c.BodyA
	bodyB := c.BodyB

	// ========== 1. Calculate total effective weight ==========
	invMassA := bodyA.InvMass
	invMassB := bodyB.InvMass
	IAInv := bodyA.InvInertiaWorld()
	IBInv := bodyB.InvInertiaWorld()

	var totalWeight float64
	var totalPenetration float64

	for _, point := range c.Points {
		penetration := point.Penetration
		if penetration <= 1e-8 {
			continue
		}

		rA := point.Position.Sub(bodyA.Transform.Position)
		rB := point.Position.Sub(bodyB.Transform.Position)

		rACrossN := rA.Cross(c.Normal)
		rBCrossN := rB.Cross(c.Normal)

		angularInertiaA := IAInv.Mul3x1(rACrossN).Dot(rACrossN)
		angularInertiaB := IBInv.Mul3x1(rBCrossN).Dot(rBCrossN)

		totalWeight += invMassA + invMassB + angularInertiaA + angularInertiaB
		totalPenetration += penetration
	}

	// ========== 2. Calculate deltaLambda (global correction) ==========
	if totalWeight <= 1e-8 {
		return
	}

	compliance := c.Compliance
	if compliance <= 0 {
		compliance = DefaultCompliance
	}
	alphaTilde := compliance / (dt * dt)
	deltaLambda := -totalPenetration / (totalWeight + alphaTilde)

	// ========== 3. Apply linear corrections ==========
	totalImpulse := c.Normal.Mul(deltaLambda)

	bodyA.Transform.Position = bodyA.Transform.Position.Add(totalImpulse.Mul(invMassA))
	bodyB.Transform.Position = bodyB.Transform.Position.Sub(totalImpulse.Mul(invMassB))

	// ========== 4. Apply angular corrections ==========
	// Accumulate torques from all points, then apply ONE SINGLE correction
	var totalTorqueA, totalTorqueB mgl64.Vec3

	for _, point := range c.Points {
		if point.Penetration <= 1e-8 {
			continue
		}

		rA := point.Position.Sub(bodyA.Transform.Position)
		rB := point.Position.Sub(bodyB.Transform.Position)

		// Body A receives +totalImpulse → torque_A = rA × (+totalImpulse)
		// Body B receives -totalImpulse → torque_B = rB × (-totalImpulse)
		totalTorqueA = totalTorqueA.Add(rA.Cross(totalImpulse))
		totalTorqueB = totalTorqueB.Add(rB.Cross(totalImpulse.Mul(-1)))
	}

	deltaRotA := IAInv.Mul3x1(totalTorqueA)
	deltaRotB := IBInv.Mul3x1(totalTorqueB)

	// Small-angle rotation correction via quaternions: q_delta ≈ [1, δθ/2]
	if deltaRotA.Len() > 1e-10 {
		qDelta := mgl64.Quat{W: 1.0, V: deltaRotA.Mul(0.5)}
		bodyA.Transform.Rotation = qDelta.Mul(bodyA.Transform.Rotation).Normalize()
		bodyA.Transform.InverseRotation = bodyA.Transform.Rotation.Inverse()
	}

	if deltaRotB.Len() > 1e-10 {
		qDelta := mgl64.Quat{W: 1.0, V: deltaRotB.Mul(0.5)}
		bodyB.Transform.Rotation = qDelta.Mul(bodyB.Transform.Rotation).Normalize()
		bodyB.Transform.InverseRotation = bodyB.Transform.Rotation.Inverse()
	}
}

// SolveVelocity applies restitution and friction impulses
func (c *ContactConstraint) SolveVelocity(dt float64) {
	if len(c.Points) == 0 {
		return
	}

	bodyA := c.BodyA
	bodyB := c.BodyB

	invMassA := bodyA.InvMass
	invMassB := bodyB.InvMass
	IAInv := bodyA.InvInertiaWorld()
	IBInv := bodyB.InvInertiaWorld()

	// ========== ACCUMULATE all impulses ==========
	var totalLinearImpulseA mgl64.Vec3
	var totalLinearImpulseB mgl64.Vec3
	var totalAngularImpulseA mgl64.Vec3
	var totalAngularImpulseB mgl64.Vec3

	for _, point := range c.Points {
		rA := point.Position.Sub(bodyA.Transform.Position)
		rB := point.Position.Sub(bodyB.Transform.Position)

		// ========== Velocities ==========
		vA := bodyA.Velocity.Add(bodyA.AngularVelocity.Cross(rA))
		vB := bodyB.Velocity.Add(bodyB.AngularVelocity.Cross(rB))
		relativeVel := vB.Sub(vA)
		normalVel := relativeVel.Dot(c.Normal)

		// ========== Pre-resolution velocity ==========
		vAPrev := bodyA.PresolveVelocity.Add(bodyA.PresolveAngularVelocity.Cross(rA))
		vBPrev := bodyB.PresolveVelocity.Add(bodyB.PresolveAngularVelocity.Cross(rB))
		normalVelPrev := vBPrev.Sub(vAPrev).Dot(c.Normal)

		// ========== NORMAL IMPULSE (restitution) ==========
		rACrossN := rA.Cross(c.Normal)
		rBCrossN := rB.Cross(c.Normal)

		angularInertiaA := IAInv.Mul3x1(rACrossN).Dot(rACrossN)
		angularInertiaB := IBInv.Mul3x1(rBCrossN).Dot(rBCrossN)

		effectiveMassNormal := invMassA + invMassB + angularInertiaA + angularInertiaB
		if effectiveMassNormal < 1e-10 {
			continue
		}

		targetVel := -c.Restitution * normalVelPrev
		deltaV := targetVel - normalVel
		lambdaNormal := deltaV / effectiveMassNormal

		// ========== CRITICAL: Prevent attractive impulses ==========
		if lambdaNormal < 0 {
			lambdaNormal = 0
		}

		normalImpulse := c.Normal.Mul(lambdaNormal)

		totalLinearImpulseA = totalLinearImpulseA.Sub(normalImpulse.Mul(invMassA))
		totalLinearImpulseB = totalLinearImpulseB.Add(normalImpulse.Mul(invMassB))

		torqueA := rA.Cross(normalImpulse.Mul(-1))
		torqueB := rB.Cross(normalImpulse)

		totalAngularImpulseA = totalAngularImpulseA.Add(IAInv.Mul3x1(torqueA))
		totalAngularImpulseB = totalAngularImpulseB.Add(IBInv.Mul3x1(torqueB))

		// ========== TANGENTIAL IMPULSE (friction) ==========
		// Only if there is a normal force
		if lambdaNormal > 0 {
			tangentVel := relativeVel.Sub(c.Normal.Mul(normalVel))
			tangentSpeed := tangentVel.Len()

			if tangentSpeed > 1e-6 {
				tangentDir := tangentVel.Mul(1.0 / tangentSpeed)

				rACrossT := rA.Cross(tangentDir)
				rBCrossT := rB.Cross(tangentDir)
				angularInertiaAT := IAInv.Mul3x1(rACrossT).Dot(rACrossT)
				angularInertiaBT := IBInv.Mul3x1(rBCrossT).Dot(rBCrossT)

				effectiveMassTangent := invMassA + invMassB + angularInertiaAT + angularInertiaBT
				if effectiveMassTangent < 1e-10 {
					continue
				}

				// Impulse to cancel tangential velocity
				lambdaTangent := -tangentSpeed / effectiveMassTangent

				// Coulomb's law: |F_friction| ≤ μ * |F_normal|
				maxStaticFriction := c.StaticFriction * math.Abs(lambdaNormal)

				var frictionImpulse mgl64.Vec3

				if math.Abs(lambdaTangent) <= maxStaticFriction {
					// Static friction: completely cancels tangential velocity
					frictionImpulse = tangentDir.Mul(lambdaTangent)
				} else {
					// Dynamic friction: limited by μ_dynamic
					maxDynamicFriction := c.DynamicFriction * math.Abs(lambdaNormal)
					frictionImpulse = tangentDir.Mul(-math.Copysign(maxDynamicFriction, tangentSpeed))
				}

				totalLinearImpulseA = totalLinearImpulseA.Sub(frictionImpulse.Mul(invMassA))
				totalLinearImpulseB = totalLinearImpulseB.Add(frictionImpulse.Mul(invMassB))

				torqueAFriction := rA.Cross(frictionImpulse.Mul(-1))
				torqueBFriction := rB.Cross(frictionImpulse)

				totalAngularImpulseA = totalAngularImpulseA.Add(IAInv.Mul3x1(torqueAFriction))
				totalAngularImpulseB = totalAngularImpulseB.Add(IBInv.Mul3x1(torqueBFriction))
			}
		}
	}

	// ========== APPLY all impulses ==========
	bodyA.Velocity = bodyA.Velocity.Add(totalLinearImpulseA)
	bodyB.Velocity = bodyB.Velocity.Add(totalLinearImpulseB)
	bodyA.AngularVelocity = bodyA.AngularVelocity.Add(totalAngularImpulseA)
	bodyB.AngularVelocity = bodyB.AngularVelocity.Add(totalAngularImpulseB)

	clampSmallVelocities(bodyA)
	clampSmallVelocities(bodyB)
}

func clampSmallVelocities(rb *actor.RigidBody) {
	const velocityThreshold = 1e-5

	if rb.Velocity.Len() < velocityThreshold {
		rb.Velocity = mgl64.Vec3{0, 0, 0}
	}
	if rb.AngularVelocity.Len() < velocityThreshold {
		rb.AngularVelocity = mgl64.Vec3{0, 0, 0}
	}
}
