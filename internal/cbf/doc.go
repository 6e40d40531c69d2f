// Package cbf implements the control barrier function safety filter.
//
// A Barrier maps a dynamics.State to a scalar h; the safe set is {x : h(x) >= 0}.
// The concrete barriers are closed-form second-order constructions (Wall,
// Point), and Min / Max compose children into the intersection / union of
// their safe sets. Composites nest arbitrarily.
//
// An Applicator binds one Barrier to one dynamics.Provider and decides, per
// candidate discrete action, whether the forward invariance condition
//
//	dh/dt + gain*h >= 0
//
// holds, estimating dh/dt by a finite difference along the derivative the
// provider reports for that action. A Masker combines any number of
// applicators into a boolean action mask: an action is allowed only if every
// applicator considers it safe.
//
// All evaluation is speculative. Nothing in this package mutates the provider,
// caches barrier values, or emits lifecycle events.
package cbf
