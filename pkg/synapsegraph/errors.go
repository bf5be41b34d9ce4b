package synapsegraph

import "errors"

// Sentinel errors surfaced at the library boundary (spec.md §7). These
// cover the Structural, Resource and Corruption error kinds; Numerical
// and Contract kinds are absorbed locally and never returned; only the
// contract normalisations are logged, via pkg/synlog.
var (
	// ErrClosed is returned by any call made after Close.
	ErrClosed = errors.New("synapsegraph: engine is closed")

	// ErrInvalidConfig is returned by Open when the supplied
	// configuration fails Validate with no recoverable default (a
	// missing persistence_path).
	ErrInvalidConfig = errors.New("synapsegraph: invalid configuration")

	// ErrCorrupt is returned by Open when the persisted container
	// fails to decode. The engine does not open a usable graph in
	// this case (spec.md §7, "Corruption").
	ErrCorrupt = errors.New("synapsegraph: persisted graph is corrupt")
)
