// Package engine implements the deterministic transition function of the
// game. Apply takes a state and an action and either produces the successor
// state or rejects the action; it never mutates its input and has no hidden
// inputs, so replaying the same actions from the same state always yields the
// same result.
package engine
