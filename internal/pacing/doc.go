// Package pacing spaces out requests so traffic to a protected origin looks
// human. A DelayPolicy picks the pause between consecutive requests per target
// site; Backoff and Retry handle transient transport failures.
package pacing
