package sinew

import (
	"fmt"
	"slices"

	"github.com/akmonengine/sinew/actor"
	"github.com/akmonengine/sinew/constraint"
	"github.com/go-gl/mathgl/mgl64"
)

// EvolutionCallback is an instrumentation hook fired after an evolution
// phase. Callbacks observe; they must not mutate solver state.
type EvolutionCallback func()

// CollisionDetector supplies additional constraint rules for one substep
// (contact manifolds, typically). The evolution treats it as opaque: the
// returned rules live only for the substep that produced them.
type CollisionDetector interface {
	DetectCollisions(dt float64) []constraint.Rule
}

type prioritizedRule struct {
	rule     constraint.Rule
	priority int
}

// MinEvolution is a minimal whole-scene time-stepping loop with support for
// rigid bodies, joints and collision-supplied rules.
//
// It is single-threaded and does not use a constraint graph or partition the
// bodies into islands: every sweep visits every rule in priority order, and
// each rule sees the body state left by the previous one (Gauss-Seidel).
type MinEvolution struct {
	Bodies  []*actor.RigidBody
	Gravity mgl64.Vec3

	collisionDetector CollisionDetector

	rules       []prioritizedRule
	prioritized []constraint.Rule // immutable ordered snapshot per step

	numApplyIterations        int
	numApplyPushOutIterations int
	boundsExtension           float64
	earlyOut                  bool

	kinematicTargets map[*actor.RigidBody]KinematicTarget

	postIntegrateCallback        EvolutionCallback
	postDetectCollisionsCallback EvolutionCallback
	postApplyCallback            EvolutionCallback
	postApplyPushOutCallback     EvolutionCallback
}

func NewMinEvolution(bodies []*actor.RigidBody) *MinEvolution {
	return &MinEvolution{
		Bodies:                    bodies,
		numApplyIterations:        1,
		numApplyPushOutIterations: 1,
		kinematicTargets:          make(map[*actor.RigidBody]KinematicTarget),
	}
}

// AddBody adds a rigid body to the evolution
func (e *MinEvolution) AddBody(body *actor.RigidBody) {
	e.Bodies = append(e.Bodies, body)
}

// RemoveBody removes a rigid body from the evolution
func (e *MinEvolution) RemoveBody(body *actor.RigidBody) {
	k := slices.Index(e.Bodies, body)
	if k != -1 {
		e.Bodies = append(e.Bodies[:k], e.Bodies[k+1:]...)
	}

	delete(e.kinematicTargets, body)
}

// AddConstraintRule registers a persistent rule. Higher priority rules are
// solved first in every sweep.
func (e *MinEvolution) AddConstraintRule(rule constraint.Rule, priority int) {
	e.rules = append(e.rules, prioritizedRule{rule: rule, priority: priority})
}

// RemoveConstraintRule unregisters a persistent rule
func (e *MinEvolution) RemoveConstraintRule(rule constraint.Rule) {
	e.rules = slices.DeleteFunc(e.rules, func(pr prioritizedRule) bool {
		return pr.rule == rule
	})
}

func (e *MinEvolution) SetCollisionDetector(detector CollisionDetector) {
	e.collisionDetector = detector
}

func (e *MinEvolution) SetNumIterations(numIterations int) {
	e.numApplyIterations = numIterations
}

func (e *MinEvolution) SetNumPushOutIterations(numIterations int) {
	e.numApplyPushOutIterations = numIterations
}

func (e *MinEvolution) SetGravity(gravity mgl64.Vec3) {
	e.Gravity = gravity
}

// SetBoundsExtension sets the bounds inflation hint for the collision
// detector; the evolution itself does not consume it
func (e *MinEvolution) SetBoundsExtension(boundsExtension float64) {
	e.boundsExtension = boundsExtension
}

// BoundsExtension returns the bounds inflation hint, for collision detectors
// that inflate body bounds before the broad phase
func (e *MinEvolution) BoundsExtension() float64 {
	return e.boundsExtension
}

// SetEarlyOut enables the opt-in convergence early exit: a sweep stops when
// every rule reporting Settled has converged. Default is off, preserving
// run-to-completion determinism.
func (e *MinEvolution) SetEarlyOut(enabled bool) {
	e.earlyOut = enabled
}

func (e *MinEvolution) SetPostIntegrateCallback(cb EvolutionCallback) {
	e.postIntegrateCallback = cb
}

func (e *MinEvolution) SetPostDetectCollisionsCallback(cb EvolutionCallback) {
	e.postDetectCollisionsCallback = cb
}

func (e *MinEvolution) SetPostApplyCallback(cb EvolutionCallback) {
	e.postApplyCallback = cb
}

func (e *MinEvolution) SetPostApplyPushOutCallback(cb EvolutionCallback) {
	e.postApplyPushOutCallback = cb
}

// Advance runs numSteps substeps of stepDt each. Kinematic targets set
// before the call are reached by the end of the last substep.
func (e *MinEvolution) Advance(stepDt float64, numSteps int) error {
	if stepDt <= 0 {
		return fmt.Errorf("sinew: step dt must be positive, got %v", stepDt)
	}
	if numSteps <= 0 {
		return fmt.Errorf("sinew: step count must be positive, got %d", numSteps)
	}

	for step := 0; step < numSteps; step++ {
		// Fraction of the remaining kinematic-target distance consumed by
		// this substep, so targets land exactly on the last one
		stepFraction := 1.0 / float64(numSteps-step)
		e.advanceOneTimeStep(stepDt, stepFraction)
	}

	return nil
}

func (e *MinEvolution) advanceOneTimeStep(dt, stepFraction float64) {
	e.integrate(dt)
	if e.postIntegrateCallback != nil {
		e.postIntegrateCallback()
	}

	e.applyKinematicTargets(dt, stepFraction)

	collisionRules := e.detectCollisions(dt)
	if e.postDetectCollisionsCallback != nil {
		e.postDetectCollisionsCallback()
	}

	e.buildPrioritized(collisionRules)
	e.prepareConstraints(dt)

	e.applyConstraints(dt)
	if e.postApplyCallback != nil {
		e.postApplyCallback()
	}

	e.updateVelocities(dt)

	e.applyPushOutConstraints(dt)
	if e.postApplyPushOutCallback != nil {
		e.postApplyPushOutCallback()
	}

	e.updatePositions(dt)
	e.unprepareConstraints(dt)
}

func (e *MinEvolution) integrate(dt float64) {
	for _, body := range e.Bodies {
		body.Integrate(dt, e.Gravity)
	}
}

func (e *MinEvolution) detectCollisions(dt float64) []constraint.Rule {
	if e.collisionDetector == nil {
		return nil
	}

	return e.collisionDetector.DetectCollisions(dt)
}

// buildPrioritized rebuilds the immutable ordered rule snapshot for this
// step: persistent rules sorted by descending priority (stable, so insertion
// order breaks ties), then the step's collision rules
func (e *MinEvolution) buildPrioritized(collisionRules []constraint.Rule) {
	e.prioritized = e.prioritized[:0]

	ordered := slices.Clone(e.rules)
	slices.SortStableFunc(ordered, func(a, b prioritizedRule) int {
		return b.priority - a.priority
	})

	for _, pr := range ordered {
		e.prioritized = append(e.prioritized, pr.rule)
	}
	e.prioritized = append(e.prioritized, collisionRules...)
}

func (e *MinEvolution) prepareConstraints(dt float64) {
	for _, rule := range e.prioritized {
		rule.Prepare(dt)
	}
}

func (e *MinEvolution) applyConstraints(dt float64) {
	for it := 0; it < e.numApplyIterations; it++ {
		for _, rule := range e.prioritized {
			rule.Apply(dt, it, e.numApplyIterations)
		}

		if e.earlyOut && e.allSettled() {
			break
		}
	}
}

func (e *MinEvolution) updateVelocities(dt float64) {
	for _, body := range e.Bodies {
		body.Update(dt)
	}
}

func (e *MinEvolution) applyPushOutConstraints(dt float64) {
	for it := 0; it < e.numApplyPushOutIterations; it++ {
		for _, rule := range e.prioritized {
			rule.ApplyPushOut(dt, it, e.numApplyPushOutIterations)
		}
	}
}

// updatePositions commits the substep: orientation drift from the many small
// quaternion deltas is normalized away once per substep
func (e *MinEvolution) updatePositions(dt float64) {
	for _, body := range e.Bodies {
		body.Transform.Rotation = body.Transform.Rotation.Normalize()
		body.Transform.InverseRotation = body.Transform.Rotation.Inverse()
	}
}

func (e *MinEvolution) unprepareConstraints(dt float64) {
	for _, rule := range e.prioritized {
		rule.Unprepare(dt)
	}
}

func (e *MinEvolution) allSettled() bool {
	for _, rule := range e.prioritized {
		settler, ok := rule.(constraint.Settler)
		if !ok || !settler.Settled() {
			return false
		}
	}

	return true
}
