// Package rproc owns remote processor lifecycle control.
//
// Ownership boundary:
// - the processor registry (explicit registration by platform code)
// - the reference-counted acquire/release state machine
// - sequencing of load -> negotiate -> map -> start, and stop on last
//   release
//
// Platform hardware control (start/stop), IOMMU programming, and
// firmware storage are consumed through the Capability, Mapper and
// FirmwareSource interfaces; they are not implemented here.
package rproc
