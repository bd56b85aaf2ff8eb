// Package firmware owns the RPRC binary image format.
//
// Ownership boundary:
// - image header validation (magic, version, opaque header text)
// - section walk with truncation checks
// - classification of loadable vs resource sections
// - exact re-serialization of parsed images
//
// Placement of loadable sections into remote memory is platform work
// and stays outside this package.
package firmware
