package sinew

import (
	"math"
	"slices"
	"testing"

	"github.com/akmonengine/sinew/actor"
	"github.com/akmonengine/sinew/constraint"
	"github.com/go-gl/mathgl/mgl64"
)

// recordingRule logs every phase call into a shared trace, so tests can
// assert solve ordering across rules
type recordingRule struct {
	name    string
	trace   *[]string
	settled bool
}

func (r *recordingRule) Prepare(dt float64) {
	*r.trace = append(*r.trace, r.name+":prepare")
}

func (r *recordingRule) Apply(dt float64, iteration, numIterations int) {
	*r.trace = append(*r.trace, r.name+":apply")
}

func (r *recordingRule) ApplyPushOut(dt float64, iteration, numIterations int) {
	*r.trace = append(*r.trace, r.name+":pushout")
}

func (r *recordingRule) Unprepare(dt float64) {
	*r.trace = append(*r.trace, r.name+":unprepare")
}

func (r *recordingRule) Settled() bool {
	return r.settled
}

// stubDetector hands back a fixed set of rules every substep
type stubDetector struct {
	rules []constraint.Rule
}

func (d *stubDetector) DetectCollisions(dt float64) []constraint.Rule {
	return d.rules
}

func TestAdvance_RejectsInvalidInputs(t *testing.T) {
	evolution := NewMinEvolution(nil)

	if err := evolution.Advance(0, 4); err == nil {
		t.Error("Advance(0, 4) returned nil error, want rejection")
	}
	if err := evolution.Advance(-0.01, 4); err == nil {
		t.Error("Advance(-0.01, 4) returned nil error, want rejection")
	}
	if err := evolution.Advance(0.01, 0); err == nil {
		t.Error("Advance(0.01, 0) returned nil error, want rejection")
	}
	if err := evolution.Advance(0.01, -1); err == nil {
		t.Error("Advance(0.01, -1) returned nil error, want rejection")
	}
	if err := evolution.Advance(0.01, 1); err != nil {
		t.Errorf("Advance(0.01, 1) returned %v, want nil", err)
	}
}

func TestAdvance_FreeFall(t *testing.T) {
	body := actor.NewDynamicBody(
		actor.Transform{Rotation: mgl64.QuatIdent()},
		1.0,
		actor.SphereInertia(1.0, 0.5),
	)

	evolution := NewMinEvolution([]*actor.RigidBody{body})
	evolution.SetGravity(mgl64.Vec3{0, -9.81, 0})

	if err := evolution.Advance(0.01, 10); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	// Semi-implicit Euler: y = -g*dt^2 * (1+2+...+10) = -9.81 * 1e-4 * 55
	wantY := -9.81 * 0.01 * 0.01 * 55
	if math.Abs(body.Transform.Position.Y()-wantY) > 1e-9 {
		t.Errorf("position Y = %v, want %v", body.Transform.Position.Y(), wantY)
	}
	if math.Abs(body.Velocity.Y()-(-0.981)) > 1e-9 {
		t.Errorf("velocity Y = %v, want -0.981", body.Velocity.Y())
	}
}

func TestAdvance_CallbackPhaseOrder(t *testing.T) {
	body := actor.NewDynamicBody(
		actor.Transform{Rotation: mgl64.QuatIdent()},
		1.0,
		actor.SphereInertia(1.0, 0.5),
	)

	evolution := NewMinEvolution([]*actor.RigidBody{body})

	var phases []string
	evolution.SetPostIntegrateCallback(func() { phases = append(phases, "integrate") })
	evolution.SetPostDetectCollisionsCallback(func() { phases = append(phases, "detect") })
	evolution.SetPostApplyCallback(func() { phases = append(phases, "apply") })
	evolution.SetPostApplyPushOutCallback(func() { phases = append(phases, "pushout") })

	if err := evolution.Advance(0.01, 2); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	want := []string{
		"integrate", "detect", "apply", "pushout",
		"integrate", "detect", "apply", "pushout",
	}
	if !slices.Equal(phases, want) {
		t.Errorf("callback order = %v, want %v", phases, want)
	}
}

func TestAdvance_RuleOrdering(t *testing.T) {
	evolution := NewMinEvolution(nil)

	var trace []string
	low := &recordingRule{name: "low", trace: &trace}
	highA := &recordingRule{name: "highA", trace: &trace}
	highB := &recordingRule{name: "highB", trace: &trace}
	contact := &recordingRule{name: "contact", trace: &trace}

	// Registered low-priority first; priority must win over insertion order,
	// and equal priorities must keep insertion order
	evolution.AddConstraintRule(low, 1)
	evolution.AddConstraintRule(highA, 5)
	evolution.AddConstraintRule(highB, 5)
	evolution.SetCollisionDetector(&stubDetector{rules: []constraint.Rule{contact}})

	if err := evolution.Advance(0.01, 1); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	want := []string{
		"highA:prepare", "highB:prepare", "low:prepare", "contact:prepare",
		"highA:apply", "highB:apply", "low:apply", "contact:apply",
		"highA:pushout", "highB:pushout", "low:pushout", "contact:pushout",
		"highA:unprepare", "highB:unprepare", "low:unprepare", "contact:unprepare",
	}
	if !slices.Equal(trace, want) {
		t.Errorf("rule trace = %v, want %v", trace, want)
	}
}

func TestAdvance_RemoveConstraintRule(t *testing.T) {
	evolution := NewMinEvolution(nil)

	var trace []string
	rule := &recordingRule{name: "r", trace: &trace}

	evolution.AddConstraintRule(rule, 0)
	evolution.RemoveConstraintRule(rule)

	if err := evolution.Advance(0.01, 1); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if len(trace) != 0 {
		t.Errorf("removed rule was still invoked: %v", trace)
	}
}

func TestAdvance_EarlyOut(t *testing.T) {
	applyCount := func(earlyOut bool) int {
		evolution := NewMinEvolution(nil)
		evolution.SetNumIterations(8)
		evolution.SetEarlyOut(earlyOut)

		var trace []string
		evolution.AddConstraintRule(&recordingRule{name: "r", trace: &trace, settled: true}, 0)

		if err := evolution.Advance(0.01, 1); err != nil {
			t.Fatalf("Advance: %v", err)
		}

		count := 0
		for _, entry := range trace {
			if entry == "r:apply" {
				count++
			}
		}
		return count
	}

	if got := applyCount(false); got != 8 {
		t.Errorf("apply count without early-out = %d, want 8", got)
	}
	if got := applyCount(true); got != 1 {
		t.Errorf("apply count with early-out = %d, want 1", got)
	}
}

func TestAdvance_KinematicTargetReachedExactly(t *testing.T) {
	body := actor.NewKinematicBody(actor.Transform{Rotation: mgl64.QuatIdent()})
	evolution := NewMinEvolution([]*actor.RigidBody{body})

	targetRotation := mgl64.QuatRotate(1.0, mgl64.Vec3{0, 0, 1})
	evolution.SetKinematicTarget(body, KinematicTarget{
		Position: mgl64.Vec3{1, 0, 0},
		Rotation: targetRotation,
	})

	if err := evolution.Advance(0.1, 4); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	// The remaining-fraction scheme snaps to the target on the last substep
	if body.Transform.Position != (mgl64.Vec3{1, 0, 0}) {
		t.Errorf("position = %v, want exactly (1, 0, 0)", body.Transform.Position)
	}
	if math.Abs(math.Abs(body.Transform.Rotation.Dot(targetRotation))-1) > 1e-12 {
		t.Errorf("rotation = %v, want %v", body.Transform.Rotation, targetRotation)
	}

	// Last substep covered the remaining quarter: 0.25 / 0.1 = 2.5
	if math.Abs(body.Velocity.X()-2.5) > 1e-9 {
		t.Errorf("velocity X = %v, want 2.5", body.Velocity.X())
	}
}

func TestAdvance_KinematicTargetIgnoredForDynamicBody(t *testing.T) {
	body := actor.NewDynamicBody(
		actor.Transform{Rotation: mgl64.QuatIdent()},
		1.0,
		actor.SphereInertia(1.0, 0.5),
	)
	evolution := NewMinEvolution([]*actor.RigidBody{body})
	evolution.SetKinematicTarget(body, KinematicTarget{
		Position: mgl64.Vec3{1, 0, 0},
		Rotation: mgl64.QuatIdent(),
	})

	if err := evolution.Advance(0.1, 4); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	// No gravity, no forces: the dynamic body must not be teleported
	if body.Transform.Position != (mgl64.Vec3{}) {
		t.Errorf("dynamic body moved to %v", body.Transform.Position)
	}
}

func TestAdvance_AddRemoveBody(t *testing.T) {
	bodyA := actor.NewDynamicBody(actor.Transform{Rotation: mgl64.QuatIdent()}, 1.0, actor.SphereInertia(1.0, 0.5))
	bodyB := actor.NewDynamicBody(actor.Transform{Rotation: mgl64.QuatIdent()}, 1.0, actor.SphereInertia(1.0, 0.5))

	evolution := NewMinEvolution([]*actor.RigidBody{bodyA})
	evolution.AddBody(bodyB)
	evolution.RemoveBody(bodyA)
	evolution.SetGravity(mgl64.Vec3{0, -10, 0})

	if err := evolution.Advance(0.1, 1); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if bodyA.Transform.Position != (mgl64.Vec3{}) {
		t.Errorf("removed body integrated to %v", bodyA.Transform.Position)
	}
	if bodyB.Transform.Position.Y() >= 0 {
		t.Errorf("added body did not fall: %v", bodyB.Transform.Position)
	}
}

func TestAdvance_JointHoldsPendulumLink(t *testing.T) {
	anchor := actor.NewKinematicBody(actor.Transform{Rotation: mgl64.QuatIdent()})
	link := actor.NewDynamicBody(
		actor.Transform{Position: mgl64.Vec3{0, -1, 0}, Rotation: mgl64.QuatIdent()},
		1.0,
		actor.SphereInertia(1.0, 0.1),
	)

	settings := constraint.DefaultJointSettings()
	joint := constraint.NewJointConstraint(
		anchor, link,
		constraint.NewJointFrame(mgl64.Vec3{0, -1, 0}),
		constraint.NewJointFrame(mgl64.Vec3{0, 0, 0}),
		settings,
	)

	evolution := NewMinEvolution([]*actor.RigidBody{anchor, link})
	evolution.SetGravity(mgl64.Vec3{0, -9.81, 0})
	evolution.AddConstraintRule(joint, 0)
	evolution.SetNumIterations(4)

	for frame := 0; frame < 60; frame++ {
		if err := evolution.Advance(1.0/60.0/4.0, 4); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}

	// The link hangs straight below the anchor: gravity pulls along the
	// constraint axis, so the hard point constraint keeps it pinned
	distance := link.Transform.Position.Sub(anchor.Transform.Position).Len()
	if math.Abs(distance-1.0) > 0.05 {
		t.Errorf("link drifted to distance %v from anchor, want ~1", distance)
	}
	if anchor.Transform.Position != (mgl64.Vec3{}) {
		t.Errorf("kinematic anchor moved to %v", anchor.Transform.Position)
	}
}
