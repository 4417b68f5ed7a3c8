package sinew

import (
	"github.com/akmonengine/sinew/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// KinematicTarget is the pose a kinematic body is scripted to reach by the
// end of the current Advance call
type KinematicTarget struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// SetKinematicTarget schedules a kinematic body to reach the target pose
// over the next Advance call. Dynamic bodies ignore targets.
func (e *MinEvolution) SetKinematicTarget(body *actor.RigidBody, target KinematicTarget) {
	e.kinematicTargets[body] = target
}

// ClearKinematicTarget removes a scheduled target
func (e *MinEvolution) ClearKinematicTarget(body *actor.RigidBody) {
	delete(e.kinematicTargets, body)
}

// applyKinematicTargets moves each targeted kinematic body a stepFraction of
// the way to its target and sets its velocities from the motion, so velocity
// reconciliation and contact restitution see the scripted movement
func (e *MinEvolution) applyKinematicTargets(dt, stepFraction float64) {
	for body, target := range e.kinematicTargets {
		if body.InvMass != 0 {
			continue
		}

		prevP := body.Transform.Position
		prevQ := body.Transform.Rotation

		var newP mgl64.Vec3
		var newQ mgl64.Quat
		if stepFraction >= 1.0 {
			newP = target.Position
			newQ = target.Rotation
		} else {
			newP = prevP.Add(target.Position.Sub(prevP).Mul(stepFraction))

			targetQ := target.Rotation
			if prevQ.Dot(targetQ) < 0 {
				targetQ = targetQ.Scale(-1)
			}
			newQ = mgl64.QuatNlerp(prevQ, targetQ, stepFraction)
		}

		body.PreviousTransform.Position = prevP
		body.PreviousTransform.Rotation = prevQ

		body.Transform.Position = newP
		body.Transform.Rotation = newQ.Normalize()
		body.Transform.InverseRotation = body.Transform.Rotation.Inverse()

		body.Velocity = newP.Sub(prevP).Mul(1.0 / dt)

		qDelta := body.Transform.Rotation.Mul(prevQ.Conjugate()).Normalize()
		if qDelta.W >= 0.0 {
			body.AngularVelocity = qDelta.V.Mul(2.0 / dt)
		} else {
			body.AngularVelocity = qDelta.V.Mul(-2.0 / dt)
		}

		body.PresolveVelocity = body.Velocity
		body.PresolveAngularVelocity = body.AngularVelocity
	}
}
