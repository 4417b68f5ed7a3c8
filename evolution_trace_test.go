package sinew

import (
	"fmt"
	"strings"
	"testing"

	"github.com/akmonengine/sinew/actor"
	"github.com/akmonengine/sinew/constraint"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pmezard/go-difflib/difflib"
)

// buildPendulumScene assembles the double-pendulum scene used by the
// determinism trace: a kinematic anchor and two dynamic links chained with
// hard point joints.
func buildPendulumScene() (*MinEvolution, []*actor.RigidBody) {
	anchor := actor.NewKinematicBody(actor.Transform{Rotation: mgl64.QuatIdent()})

	linkInertia := actor.BoxInertia(1.0, mgl64.Vec3{0.05, 0.5, 0.05})
	link0 := actor.NewDynamicBody(
		actor.Transform{Position: mgl64.Vec3{0.5, -0.5, 0}, Rotation: mgl64.QuatIdent()},
		1.0, linkInertia,
	)
	link1 := actor.NewDynamicBody(
		actor.Transform{Position: mgl64.Vec3{0.5, -1.5, 0}, Rotation: mgl64.QuatIdent()},
		1.0, linkInertia,
	)

	settings := constraint.DefaultJointSettings()
	settings.ProjectionStiffness = 1.0

	rootJoint := constraint.NewJointConstraint(
		anchor, link0,
		constraint.NewJointFrame(mgl64.Vec3{0, 0, 0}),
		constraint.NewJointFrame(mgl64.Vec3{-0.5, 0.5, 0}),
		settings,
	)
	elbowJoint := constraint.NewJointConstraint(
		link0, link1,
		constraint.NewJointFrame(mgl64.Vec3{0, -0.5, 0}),
		constraint.NewJointFrame(mgl64.Vec3{0, 0.5, 0}),
		settings,
	)

	bodies := []*actor.RigidBody{anchor, link0, link1}
	evolution := NewMinEvolution(bodies)
	evolution.SetGravity(mgl64.Vec3{0, -9.81, 0})
	evolution.SetNumIterations(4)
	evolution.SetNumPushOutIterations(2)

	// Root before elbow, matching the chain topology
	evolution.AddConstraintRule(rootJoint, 1)
	evolution.AddConstraintRule(elbowJoint, 0)

	return evolution, bodies
}

func runPendulumTrace(t *testing.T, frames int) string {
	t.Helper()

	evolution, bodies := buildPendulumScene()

	var sb strings.Builder
	for frame := 0; frame < frames; frame++ {
		if err := evolution.Advance(1.0/240.0, 4); err != nil {
			t.Fatalf("Advance: %v", err)
		}

		for i, body := range bodies {
			p := body.Transform.Position
			q := body.Transform.Rotation
			fmt.Fprintf(&sb, "%d %d %.15f %.15f %.15f %.15f %.15f %.15f %.15f\n",
				frame, i, p.X(), p.Y(), p.Z(), q.W, q.V.X(), q.V.Y(), q.V.Z())
		}
	}

	return sb.String()
}

// Two runs of the same scene must produce bit-identical trajectories: the
// evolution is single-threaded and the rule order is an explicit snapshot,
// so there is no legitimate source of divergence.
func TestPendulumTrace_Deterministic(t *testing.T) {
	first := runPendulumTrace(t, 30)
	second := runPendulumTrace(t, 30)

	if first == second {
		return
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(first),
		B:        difflib.SplitLines(second),
		FromFile: "first run",
		ToFile:   "second run",
		Context:  2,
	})
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}

	t.Errorf("trajectories diverged between identical runs:\n%s", diff)
}

// The chain must stay connected while it swings: both joints are hard point
// constraints with projection enabled, so the connector error never grows
// past the solver's per-step residual.
func TestPendulumTrace_ChainStaysConnected(t *testing.T) {
	evolution, bodies := buildPendulumScene()

	for frame := 0; frame < 120; frame++ {
		if err := evolution.Advance(1.0/240.0, 4); err != nil {
			t.Fatalf("Advance: %v", err)
		}

		rootGap := bodies[1].Transform.Apply(mgl64.Vec3{-0.5, 0.5, 0}).
			Sub(bodies[0].Transform.Position).Len()
		elbowGap := bodies[1].Transform.Apply(mgl64.Vec3{0, -0.5, 0}).
			Sub(bodies[2].Transform.Apply(mgl64.Vec3{0, 0.5, 0})).Len()

		if rootGap > 0.01 {
			t.Fatalf("frame %d: root joint gap %v", frame, rootGap)
		}
		if elbowGap > 0.01 {
			t.Fatalf("frame %d: elbow joint gap %v", frame, elbowGap)
		}
	}
}
