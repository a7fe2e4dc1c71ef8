// Package circuitbreaker implements the per-backend failure tracker used by
// the acquisition layers.
//
// A breaker moves between three states driven by recorded outcomes:
//
//   - ready / running: operations are dispatched
//   - circuit_open: the failure threshold was reached, operations fail fast
//     until the cooldown elapses
//   - half-open probe: the first availability check after the cooldown zeroes
//     the counter; one more failure reopens the circuit
//
// Empty results are not failures. Only errors and anti-bot detections count.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(3, 5*time.Minute)
//	cb := registry.Breaker("primary", 0)
//	if cb.Allow() {
//	    cb.Begin()
//	    ids, err := search(ctx)
//	    switch {
//	    case err != nil:
//	        cb.RecordFailure()
//	    case len(ids) == 0:
//	        cb.RecordEmpty()
//	    default:
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
