package main

import (
	"fmt"

	"github.com/akmonengine/sinew"
	"github.com/akmonengine/sinew/actor"
	"github.com/akmonengine/sinew/constraint"
	"github.com/go-gl/mathgl/mgl64"
)

// SetupScene builds a two-link pendulum hanging from a kinematic anchor
func SetupScene() (*sinew.MinEvolution, []*actor.RigidBody) {
	anchor := actor.NewKinematicBody(actor.Transform{
		Position: mgl64.Vec3{0, 2, 0},
		Rotation: mgl64.QuatIdent(),
	})

	link1 := actor.NewDynamicBody(actor.Transform{
		Position: mgl64.Vec3{1, 2, 0},
		Rotation: mgl64.QuatIdent(),
	}, 1.0, actor.BoxInertia(1.0, mgl64.Vec3{0.5, 0.1, 0.1}))

	link2 := actor.NewDynamicBody(actor.Transform{
		Position: mgl64.Vec3{3, 2, 0},
		Rotation: mgl64.QuatIdent(),
	}, 1.0, actor.BoxInertia(1.0, mgl64.Vec3{0.5, 0.1, 0.1}))

	bodies := []*actor.RigidBody{anchor, link1, link2}

	evolution := sinew.NewMinEvolution(bodies)
	evolution.SetGravity(mgl64.Vec3{0, -9.81, 0})
	evolution.SetNumIterations(4)
	evolution.SetNumPushOutIterations(2)

	settings := constraint.DefaultJointSettings()
	settings.ProjectionStiffness = 1.0

	// Anchor ↔ link1, attached at link1's left end
	joint1 := constraint.NewJointConstraint(
		anchor, link1,
		constraint.NewJointFrame(mgl64.Vec3{0, 0, 0}),
		constraint.NewJointFrame(mgl64.Vec3{-1, 0, 0}),
		settings,
	)

	// link1 ↔ link2, right end to left end
	joint2 := constraint.NewJointConstraint(
		link1, link2,
		constraint.NewJointFrame(mgl64.Vec3{1, 0, 0}),
		constraint.NewJointFrame(mgl64.Vec3{-1, 0, 0}),
		settings,
	)

	// Solve the chain root first
	evolution.AddConstraintRule(joint1, 1)
	evolution.AddConstraintRule(joint2, 0)

	return evolution, bodies
}

func main() {
	fmt.Println("Two-link pendulum")
	fmt.Println("=================")

	evolution, bodies := SetupScene()

	const dt float64 = 1.0 / 60.0
	const substeps int = 8
	const maxFrames int = 120

	for frame := 0; frame < maxFrames; frame++ {
		if err := evolution.Advance(dt/float64(substeps), substeps); err != nil {
			fmt.Println("advance failed:", err)
			return
		}

		link1 := bodies[1]
		link2 := bodies[2]
		fmt.Printf("--- FRAME %d ---\n", frame+1)
		fmt.Printf("  link1: position %v velocity %v\n", link1.Transform.Position, link1.Velocity)
		fmt.Printf("  link2: position %v velocity %v\n", link2.Transform.Position, link2.Velocity)
	}

	fmt.Println("Done!")
}
