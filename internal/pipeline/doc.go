// Package pipeline drives one end-to-end patent acquisition run:
// intelligence, discovery, family expansion, direct search and merge.
//
// Each phase runs inside its own recover boundary. A failing phase
// contributes nothing and is reported; it never aborts the run. Backends are
// released when the run ends, however it ends.
package pipeline
