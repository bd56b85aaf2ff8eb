package rproc

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/rprocctl/internal/firmware"
	"github.com/danmuck/rprocctl/internal/observability"
	"github.com/danmuck/rprocctl/internal/resource"
)

var (
	ErrStartFailed = errors.New("rproc: start capability failed")
	ErrStopFailed  = errors.New("rproc: stop capability failed")
	ErrNotAcquired = errors.New("rproc: release without matching acquire")
	ErrNoSource    = errors.New("rproc: no firmware source configured")
)

// ControllerConfig wires the host-side collaborators of the lifecycle
// controller.
type ControllerConfig struct {
	// Source loads firmware images by name. Required for Acquire.
	Source FirmwareSource

	// Mapper applies da<->pa tables before boot. Nil means the
	// processors address physical memory directly.
	Mapper Mapper

	// Allocator satisfies two-way resource requests. Nil rejects them.
	Allocator resource.Allocator

	// StrictResources fails boots on unknown resource types.
	StrictResources bool

	Logger zerolog.Logger
}

// Controller sequences remote processor boots and shutdowns against a
// registry. All transitions of one descriptor run under its lock;
// different processors transition independently.
type Controller struct {
	reg    *Registry
	src    FirmwareSource
	mapper Mapper
	alloc  resource.Allocator
	strict bool
	log    zerolog.Logger
}

func NewController(reg *Registry, cfg ControllerConfig) *Controller {
	return &Controller{
		reg:    reg,
		src:    cfg.Source,
		mapper: cfg.Mapper,
		alloc:  cfg.Allocator,
		strict: cfg.StrictResources,
		log:    cfg.Logger,
	}
}

// Acquire powers up the named processor: load its firmware, negotiate
// the image's resource entries, apply the memory map and invoke the
// start capability. If the processor is already running, the reference
// count is incremented and the existing handle returned without a
// reboot. Every call must eventually be paired with one Release.
//
// On any failure the processor is back in Offline with no partial
// resource or mapping state applied, and the first error encountered
// is returned.
func (c *Controller) Acquire(name string) (*Handle, error) {
	d, err := c.reg.Lookup(name)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Fast path: already powered up, just take a reference.
	if d.count > 0 && d.state == StateRunning {
		d.count++
		return d.handle, nil
	}

	boot, err := c.bootLocked(d)
	if err != nil {
		d.state = StateOffline
		observability.RecordBootFailure(name, failureReason(err))
		return nil, err
	}

	d.boot = boot
	d.count = 1
	d.state = StateRunning
	d.handle = &Handle{d: d}
	observability.RecordBoot(name)
	c.log.Info().
		Str("processor", name).
		Uint64("boot_addr", boot.BootAddr).
		Int("trace_buffers", len(boot.TraceBuffers)).
		Msg("remote processor is now up")
	return d.handle, nil
}

// bootLocked runs the Offline -> Loading -> Negotiating -> Booting
// sequence. The caller holds d.mu and resets the state on error.
func (c *Controller) bootLocked(d *Descriptor) (*resource.BootContext, error) {
	if c.src == nil {
		return nil, ErrNoSource
	}

	d.state = StateLoading
	c.log.Info().Str("processor", d.name).Str("firmware", d.firmware).Msg("powering up")

	data, err := c.src.Load(d.firmware)
	if err != nil {
		return nil, fmt.Errorf("rproc: load firmware %q: %w", d.firmware, err)
	}
	img, err := firmware.ParseImage(data)
	if err != nil {
		return nil, fmt.Errorf("rproc: parse firmware %q: %w", d.firmware, err)
	}

	d.state = StateNegotiating
	neg := &resource.Negotiator{
		Alloc:  c.alloc,
		Strict: c.strict,
		Log:    c.log,
	}
	boot, err := neg.Negotiate(img.ResourceEntries(), d.bootAddr)
	if err != nil {
		return nil, fmt.Errorf("rproc: negotiate resources of %q: %w", d.firmware, err)
	}

	d.state = StateBooting
	if c.mapper != nil && len(d.memoryMap) > 0 {
		if err := c.mapper.Apply(d.memoryMap); err != nil {
			return nil, fmt.Errorf("%w: apply memory map: %v", ErrStartFailed, err)
		}
	}
	if err := d.cap.Start(boot.BootAddr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	return boot, nil
}

// Release drops one reference. The last release powers the processor
// off. A stop capability error is returned as ErrStopFailed, but the
// processor still transitions to Offline: retrying start without a
// power cycle is unsafe, so a processor that refuses to stop is
// unavailable either way.
//
// Releasing with no live reference is a caller contract violation and
// is rejected with ErrNotAcquired.
func (c *Controller) Release(h *Handle) error {
	if h == nil || h.d == nil {
		return ErrNotAcquired
	}
	d := h.d

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.count == 0 {
		return fmt.Errorf("%w: %q", ErrNotAcquired, d.name)
	}
	d.count--
	if d.count > 0 {
		return nil
	}

	d.state = StateStopping
	stopErr := d.cap.Stop()
	d.state = StateOffline
	d.boot = nil
	d.handle = nil

	observability.RecordStop(d.name)
	if stopErr != nil {
		observability.RecordStopFailure(d.name)
		c.log.Error().Str("processor", d.name).Err(stopErr).Msg("stop capability failed")
		return fmt.Errorf("%w: %v", ErrStopFailed, stopErr)
	}
	c.log.Info().Str("processor", d.name).Msg("stopped remote processor")
	return nil
}

// failureReason buckets acquire errors for the boot failure metric.
func failureReason(err error) string {
	switch {
	case errors.Is(err, firmware.ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, firmware.ErrTruncatedImage):
		return "truncated_image"
	case errors.Is(err, firmware.ErrMalformedResourceSection):
		return "malformed_resource_section"
	case errors.Is(err, resource.ErrResourceUnavailable):
		return "resource_unavailable"
	case errors.Is(err, resource.ErrUnsupportedResource):
		return "unsupported_resource"
	case errors.Is(err, ErrStartFailed):
		return "start_failed"
	case errors.Is(err, ErrNoSource):
		return "no_source"
	default:
		return "load_failed"
	}
}
