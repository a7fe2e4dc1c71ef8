// Package handler exposes the pipeline over HTTP: search, health, metrics
// and the circuit-breaker reset.
package handler
