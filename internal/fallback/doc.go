// Package fallback runs acquisition operations across a target's backend
// chain. Backends are tried in strategy order; unavailable ones are skipped,
// errors and empty results move on to the next, and the first non-empty
// result wins. Exhausting the chain is a normal outcome reported as
// backend "none", never an error.
//
// A Manager belongs to one pipeline run. It creates backends on first use
// and Close releases each of them exactly once.
package fallback
