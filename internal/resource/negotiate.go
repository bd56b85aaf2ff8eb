package resource

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	ErrResourceUnavailable = errors.New("resource: allocation request cannot be satisfied")
	ErrUnsupportedResource = errors.New("resource: unsupported resource type")
)

// Two trace buffers per processor, one per autonomous core sharing the
// device. Extra announcements are reported and ignored.
const maxTraceBuffers = 2

// TraceBuffer locates one remote trace log in device address space.
type TraceBuffer struct {
	DA  uint64 `json:"da"`
	Len uint32 `json:"len"`
}

// BootContext is the consolidated result of one negotiation run. It is
// handed to the start capability and, for trace buffers, retained for
// post-boot log extraction.
type BootContext struct {
	// BootAddr is the first instruction address. Zero means the
	// platform decides.
	BootAddr uint64 `json:"boot_addr"`

	// BootAddrSet records whether a BOOTADDR entry supplied BootAddr.
	// An image-supplied address overrides the caller default.
	BootAddrSet bool `json:"boot_addr_set"`

	TraceBuffers []TraceBuffer `json:"trace_buffers,omitempty"`
}

// Allocator is the host side of two-way negotiation. Allocate reserves
// the hardware resource named by an allocation-request entry and
// returns its non-zero identifier (physical address, device id, irq
// number). Requests are correlated by name and type.
type Allocator interface {
	Allocate(name string, typ Type, length, flags uint32) (uint64, error)
}

// Negotiator resolves the resource entries of one firmware image.
type Negotiator struct {
	// Alloc satisfies allocation-request entries. Nil rejects every
	// two-way request.
	Alloc Allocator

	// Strict fails negotiation on unknown entry types instead of
	// ignoring them.
	Strict bool

	Log zerolog.Logger
}

// Negotiate resolves entries in order and produces the boot context.
// Allocation results are written back into the entries' PA fields.
// defaultBootAddr applies when no BOOTADDR entry is present; zero
// leaves the choice to the platform.
//
// Negotiation is all-or-nothing: on error no boot context is returned
// and the caller must not boot.
func (n *Negotiator) Negotiate(entries []Entry, defaultBootAddr uint64) (*BootContext, error) {
	boot := &BootContext{BootAddr: defaultBootAddr}

	for i := range entries {
		e := &entries[i]
		switch {
		case e.Type == TypeTrace:
			if len(boot.TraceBuffers) == maxTraceBuffers {
				n.Log.Warn().
					Str("name", e.NameString()).
					Uint64("da", e.DA).
					Msg("skipping extra trace buffer")
				continue
			}
			boot.TraceBuffers = append(boot.TraceBuffers, TraceBuffer{DA: e.DA, Len: e.Len})

		case e.Type == TypeBootAddr:
			if boot.BootAddrSet {
				// First one wins; report rather than silently drop.
				n.Log.Warn().
					Uint64("da", e.DA).
					Uint64("boot_addr", boot.BootAddr).
					Msg("boot address already set, ignoring entry")
				continue
			}
			boot.BootAddr = e.DA
			boot.BootAddrSet = true

		case e.Type.Allocation():
			if n.Alloc == nil {
				return nil, fmt.Errorf("%w: %s %q: no allocator configured", ErrResourceUnavailable, e.Type, e.NameString())
			}
			id, err := n.Alloc.Allocate(e.NameString(), e.Type, e.Len, e.Flags)
			if err != nil {
				return nil, fmt.Errorf("%w: %s %q: %v", ErrResourceUnavailable, e.Type, e.NameString(), err)
			}
			if id == 0 {
				return nil, fmt.Errorf("%w: %s %q: allocator returned zero identifier", ErrResourceUnavailable, e.Type, e.NameString())
			}
			e.PA = id

		default:
			if n.Strict {
				return nil, fmt.Errorf("%w: type %d %q", ErrUnsupportedResource, uint32(e.Type), e.NameString())
			}
			n.Log.Debug().
				Uint32("type", uint32(e.Type)).
				Str("name", e.NameString()).
				Msg("ignoring unknown resource type")
		}
	}

	return boot, nil
}
