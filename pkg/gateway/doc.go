// Package gateway wires the process together: it owns construction
// order, the bindings that break the cross-actor call cycles, and the
// startup and shutdown sequence.
package gateway
