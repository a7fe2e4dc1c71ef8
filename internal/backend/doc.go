// Package backend defines the contract every acquisition technique satisfies
// and the Guard that wraps each public operation with availability checks,
// lazy initialization, a per-call timeout, local retry of transport errors,
// circuit breaking and rolling metrics.
//
// Concrete techniques live in the browser and lightweight subpackages.
package backend
