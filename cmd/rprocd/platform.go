package main

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/rprocctl/internal/resource"
	"github.com/danmuck/rprocctl/internal/rproc"
)

// Loopback platform driver for hosts without real auxiliary cores.
// Start/stop and mapping succeed and log; allocation hands out regions
// from a reserved window. Real platforms register their own Capability
// and wire their own Mapper/Allocator into the controller.

const allocatorBase uint64 = 0x9000_0000

type loopbackCapability struct {
	name string
	log  zerolog.Logger
}

func (c *loopbackCapability) Start(bootAddr uint64) error {
	c.log.Info().Str("processor", c.name).Uint64("boot_addr", bootAddr).Msg("loopback start")
	return nil
}

func (c *loopbackCapability) Stop() error {
	c.log.Info().Str("processor", c.name).Msg("loopback stop")
	return nil
}

type loopbackMapper struct {
	log zerolog.Logger
}

func (m loopbackMapper) Apply(entries []rproc.MemEntry) error {
	for _, e := range entries {
		m.log.Debug().
			Uint64("da", e.DA).
			Uint64("pa", e.PA).
			Uint32("size", e.Size).
			Msg("loopback map")
	}
	return nil
}

// regionAllocator assigns contiguous, page-aligned regions from a base
// address. Requests are keyed by type and name, so re-booting the same
// image lands on the same region.
type regionAllocator struct {
	mu     sync.Mutex
	next   uint64
	byName map[string]uint64
	log    zerolog.Logger
}

func newRegionAllocator(base uint64, log zerolog.Logger) *regionAllocator {
	return &regionAllocator{
		next:   base,
		byName: make(map[string]uint64),
		log:    log,
	}
}

func (a *regionAllocator) Allocate(name string, typ resource.Type, length, flags uint32) (uint64, error) {
	if length == 0 {
		return 0, fmt.Errorf("zero-length %s request %q", typ, name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := typ.String() + "/" + name
	if id, ok := a.byName[key]; ok {
		return id, nil
	}

	const pageSize = 4096
	id := a.next
	a.next += (uint64(length) + pageSize - 1) &^ uint64(pageSize-1)
	a.byName[key] = id

	a.log.Info().
		Str("resource", key).
		Uint64("pa", id).
		Uint32("len", length).
		Msg("allocated region")
	return id, nil
}
