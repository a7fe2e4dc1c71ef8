// Package healthcheck periodically sweeps the shared circuit breakers so an
// expired circuit moves back to ready even when no traffic reaches it, and
// reports every health transition.
package healthcheck
