// Package resource owns the pre-boot resource negotiation protocol.
//
// Ownership boundary:
// - resource entry wire codec (packed 76-byte records)
// - negotiation of announcements (trace buffers, boot address)
// - two-way allocation requests resolved through an Allocator
// - the derived BootContext handed to the start capability
//
// Negotiation runs once per boot, before the start capability is invoked.
// Entries are never mutated after the boot callback has run.
package resource
