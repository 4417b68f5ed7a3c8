package constraint

// Rule is the contract the evolution loop drives every substep. A rule owns
// the per-substep working state for one constraint (a joint, a contact
// manifold, ...) and mutates its two bodies in place when applied.
//
// Prepare is called once at the start of a substep: the rule copies the live
// body state it needs and resets its Lagrange multipliers. Apply is then
// called for each solver sweep, ApplyPushOut for each projection sweep after
// velocities have been reconciled, and Unprepare once at the end of the
// substep.
type Rule interface {
	Prepare(dt float64)
	Apply(dt float64, iteration, numIterations int)
	ApplyPushOut(dt float64, iteration, numIterations int)
	Unprepare(dt float64)
}

// Settler is an optional extension of Rule. A rule reporting Settled lets
// the evolution skip remaining sweeps when early-out is enabled; rules that
// do not implement it are never considered settled.
type Settler interface {
	Settled() bool
}
