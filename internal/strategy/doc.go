// Package strategy holds the per-target fallback chains: for each target site
// an ordered list of backend names, tried first to last.
//
// Tables are built and validated once at startup and never change after.
package strategy
