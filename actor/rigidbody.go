package actor

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// BodyType represents the type of rigid body
type BodyType int

const (
	// BodyTypeDynamic bodies are affected by forces, gravity, and constraints
	// They have finite mass and can move freely
	BodyTypeDynamic BodyType = iota

	// BodyTypeKinematic bodies have infinite mass (InvMass == 0)
	// They ignore forces and constraints; they move only through
	// kinematic targets set on the evolution
	BodyTypeKinematic
)

// RigidBody represents a rigid body in the physics simulation.
//
// Mass state is stored inverted: InvMass == 0 encodes an immovable body, and
// the solver math never has to branch on the body type because the zero
// eliminates its contribution from every effective-mass term. The inertia
// tensor is assumed diagonal in the body's local frame (principal axes), so
// InvInertiaLocal holds only the three principal inverse moments.
type RigidBody struct {
	// Spatial properties
	PreviousTransform Transform
	Transform         Transform

	// Linear motion
	PresolveVelocity mgl64.Vec3
	Velocity         mgl64.Vec3 // Linear velocity (m/s)

	// Angular motion
	PresolveAngularVelocity mgl64.Vec3
	AngularVelocity         mgl64.Vec3 // rad/s

	// Inverse mass state
	InvMass         float64    // 1/kg, 0 = infinite mass
	InvInertiaLocal mgl64.Vec3 // inverse principal moments, local frame

	accumulatedForce  mgl64.Vec3
	accumulatedTorque mgl64.Vec3

	LinearDamping  float64 // 0.0 - 1.0, typical: 0.01
	AngularDamping float64 // 0.0 - 1.0, typical: 0.05

	BodyType BodyType
}

// NewDynamicBody creates a dynamic rigid body from its mass (kg) and local
// principal moments of inertia (kg·m²). A non-positive mass or moment is
// stored as a zero inverse, i.e. immovable on that degree of freedom.
func NewDynamicBody(transform Transform, mass float64, inertia mgl64.Vec3) *RigidBody {
	transform.InverseRotation = transform.Rotation.Inverse()

	return &RigidBody{
		PreviousTransform: transform,
		Transform:         transform,
		BodyType:          BodyTypeDynamic,
		InvMass:           safeInverse(mass),
		InvInertiaLocal: mgl64.Vec3{
			safeInverse(inertia.X()),
			safeInverse(inertia.Y()),
			safeInverse(inertia.Z()),
		},
	}
}

// NewKinematicBody creates an immovable body (infinite mass and inertia)
func NewKinematicBody(transform Transform) *RigidBody {
	transform.InverseRotation = transform.Rotation.Inverse()

	return &RigidBody{
		PreviousTransform: transform,
		Transform:         transform,
		BodyType:          BodyTypeKinematic,
	}
}

// SphereInertia returns the principal moments of a solid sphere
func SphereInertia(mass, radius float64) mgl64.Vec3 {
	i := 2.0 / 5.0 * mass * radius * radius
	return mgl64.Vec3{i, i, i}
}

// BoxInertia returns the principal moments of a solid box from its half extents
func BoxInertia(mass float64, halfExtents mgl64.Vec3) mgl64.Vec3 {
	x2 := 4.0 * halfExtents.X() * halfExtents.X()
	y2 := 4.0 * halfExtents.Y() * halfExtents.Y()
	z2 := 4.0 * halfExtents.Z() * halfExtents.Z()

	return mgl64.Vec3{
		mass / 12.0 * (y2 + z2),
		mass / 12.0 * (x2 + z2),
		mass / 12.0 * (x2 + y2),
	}
}

func safeInverse(v float64) float64 {
	if v <= 0 || math.IsInf(v, 1) {
		return 0
	}

	return 1.0 / v
}

// Integrate advances velocities from gravity and accumulated forces, then
// predicts the end-of-step transform. The previous transform is saved first;
// Update reconciles velocities against it after the solver has moved the
// predicted transform.
func (rb *RigidBody) Integrate(dt float64, gravity mgl64.Vec3) {
	if rb.InvMass == 0 {
		return
	}

	rb.PreviousTransform.Position = rb.Transform.Position
	rb.PreviousTransform.Rotation = rb.Transform.Rotation

	// ========== LINEAR INTEGRATION ==========
	rb.Velocity = rb.Velocity.Add(gravity.Mul(dt))
	rb.Velocity = rb.Velocity.Add(rb.accumulatedForce.Mul(rb.InvMass * dt))

	// ========== LINEAR DAMPING ==========
	rb.Velocity = rb.Velocity.Mul(math.Exp(-rb.LinearDamping * dt))
	rb.Transform.Position = rb.Transform.Position.Add(rb.Velocity.Mul(dt))

	// ========== ANGULAR INTEGRATION ==========
	angularAccel := rb.InvInertiaWorld().Mul3x1(rb.accumulatedTorque)
	rb.AngularVelocity = rb.AngularVelocity.Add(angularAccel.Mul(dt))

	// ========== ANGULAR DAMPING ==========
	rb.AngularVelocity = rb.AngularVelocity.Mul(math.Exp(-rb.AngularDamping * dt))

	// ========== UPDATE QUATERNION ==========
	omegaQuat := mgl64.Quat{V: rb.AngularVelocity.Mul(dt), W: 0}
	qDot := omegaQuat.Mul(rb.Transform.Rotation).Scale(0.5)
	rb.Transform.Rotation = rb.Transform.Rotation.Add(qDot).Normalize()
	rb.Transform.InverseRotation = rb.Transform.Rotation.Inverse()

	rb.PresolveVelocity = rb.Velocity
	rb.PresolveAngularVelocity = rb.AngularVelocity

	rb.ClearForces()
}

// Update reconciles velocities with the transform deltas produced by the
// position-based solver: V = (P_new - P_old)/dt, and the angular velocity
// from the shortest-arc quaternion delta.
func (rb *RigidBody) Update(dt float64) {
	if rb.InvMass == 0 {
		return
	}

	rb.Velocity = rb.Transform.Position.Sub(rb.PreviousTransform.Position).Mul(1.0 / dt)

	qDelta := rb.Transform.Rotation.Mul(rb.PreviousTransform.Rotation.Conjugate())
	qDelta = qDelta.Normalize()
	if qDelta.W >= 0.0 {
		rb.AngularVelocity = qDelta.V.Mul(2.0 / dt)
	} else {
		rb.AngularVelocity = qDelta.V.Mul(-2.0 / dt)
	}
}

// AddForce accumulates a force (N) applied at the center of mass for the next Integrate
func (rb *RigidBody) AddForce(force mgl64.Vec3) {
	if rb.InvMass != 0 {
		rb.accumulatedForce = rb.accumulatedForce.Add(force)
	}
}

// AddTorque accumulates a torque (N·m) for the next Integrate
func (rb *RigidBody) AddTorque(torque mgl64.Vec3) {
	if rb.InvMass != 0 {
		rb.accumulatedTorque = rb.accumulatedTorque.Add(torque)
	}
}

func (rb *RigidBody) ClearForces() {
	rb.accumulatedForce = mgl64.Vec3{0, 0, 0}
	rb.accumulatedTorque = mgl64.Vec3{0, 0, 0}
}

// InvInertiaWorld returns the world-space inverse inertia tensor:
// I_world^(-1) = R * diag(InvInertiaLocal) * R^T
func (rb *RigidBody) InvInertiaWorld() mgl64.Mat3 {
	diag := mgl64.Mat3{
		rb.InvInertiaLocal.X(), 0, 0,
		0, rb.InvInertiaLocal.Y(), 0,
		0, 0, rb.InvInertiaLocal.Z(),
	}

	R := rb.Transform.Rotation.Mat4().Mat3()
	return R.Mul3(diag).Mul3(R.Transpose())
}
