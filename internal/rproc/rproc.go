package rproc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/rprocctl/internal/resource"
)

var ErrInvalidRegistration = errors.New("rproc: invalid registration")

// State is the lifecycle state of one remote processor. Only Offline
// and Running are observable across calls; the intermediate states are
// held under the descriptor lock for the duration of one transition.
type State string

const (
	StateOffline     State = "offline"
	StateLoading     State = "loading"
	StateNegotiating State = "negotiating"
	StateBooting     State = "booting"
	StateRunning     State = "running"
	StateStopping    State = "stopping"
)

// Capability is the platform-specific hardware control for one
// processor: power it on and boot it at bootAddr (zero lets the
// platform decide), or power it off. Calls may block on hardware
// handshakes.
type Capability interface {
	Start(bootAddr uint64) error
	Stop() error
}

// Mapper applies a da<->pa mapping table before boot. The actual IOMMU
// programming is platform work behind this interface.
type Mapper interface {
	Apply(entries []MemEntry) error
}

// MemEntry is one device-address to physical-address range. The table
// is immutable after registration.
type MemEntry struct {
	DA   uint64 `json:"da"`
	PA   uint64 `json:"pa"`
	Size uint32 `json:"size"`
}

// Registration declares one remote processor to the registry. All
// fields except MemoryMap, Owner and BootAddr are required.
type Registration struct {
	// Device names the underlying platform device.
	Device string

	// Name is the unique registry key.
	Name string

	// Capability is the start/stop hardware control.
	Capability Capability

	// Firmware is the image name resolved through the controller's
	// FirmwareSource.
	Firmware string

	// MemoryMap is the da<->pa table applied before boot. Empty means
	// the processor addresses physical memory directly.
	MemoryMap []MemEntry

	// Owner identifies the registering platform module.
	Owner string

	// BootAddr is the default boot address used when the image carries
	// no BOOTADDR entry. Zero lets the platform decide.
	BootAddr uint64
}

func (r Registration) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRegistration)
	}
	if strings.TrimSpace(r.Device) == "" {
		return fmt.Errorf("%w: missing device", ErrInvalidRegistration)
	}
	if r.Capability == nil {
		return fmt.Errorf("%w: missing capability", ErrInvalidRegistration)
	}
	if strings.TrimSpace(r.Firmware) == "" {
		return fmt.Errorf("%w: missing firmware", ErrInvalidRegistration)
	}
	for i, m := range r.MemoryMap {
		if m.Size == 0 {
			return fmt.Errorf("%w: memory_map[%d] has zero size", ErrInvalidRegistration, i)
		}
	}
	return nil
}

// Descriptor is the registry-owned record of one remote processor. The
// registration fields are immutable; count, state and boot context are
// guarded by mu, which also serializes lifecycle transitions.
type Descriptor struct {
	device    string
	name      string
	cap       Capability
	firmware  string
	memoryMap []MemEntry
	owner     string
	bootAddr  uint64

	mu     sync.Mutex
	count  int
	state  State
	boot   *resource.BootContext
	handle *Handle
}

func newDescriptor(reg Registration) *Descriptor {
	return &Descriptor{
		device:    reg.Device,
		name:      reg.Name,
		cap:       reg.Capability,
		firmware:  reg.Firmware,
		memoryMap: append([]MemEntry(nil), reg.MemoryMap...),
		owner:     reg.Owner,
		bootAddr:  reg.BootAddr,
		state:     StateOffline,
	}
}

func (d *Descriptor) Name() string { return d.name }

func (d *Descriptor) Device() string { return d.device }

func (d *Descriptor) Firmware() string { return d.firmware }

func (d *Descriptor) Owner() string { return d.owner }

// MemoryMap returns a copy of the registered mapping table.
func (d *Descriptor) MemoryMap() []MemEntry {
	return append([]MemEntry(nil), d.memoryMap...)
}

func (d *Descriptor) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Descriptor) RefCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// BootContext returns the negotiated boot context of the current boot,
// or nil when the processor is offline.
func (d *Descriptor) BootContext() *resource.BootContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.boot == nil {
		return nil
	}
	boot := *d.boot
	boot.TraceBuffers = append([]resource.TraceBuffer(nil), d.boot.TraceBuffers...)
	return &boot
}

// Status is a point-in-time snapshot of one descriptor.
type Status struct {
	Name      string                `json:"name"`
	Device    string                `json:"device"`
	Firmware  string                `json:"firmware"`
	Owner     string                `json:"owner,omitempty"`
	State     State                 `json:"state"`
	RefCount  int                   `json:"ref_count"`
	Boot      *resource.BootContext `json:"boot,omitempty"`
	MemoryMap []MemEntry            `json:"memory_map,omitempty"`
}

func (d *Descriptor) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		Name:      d.name,
		Device:    d.device,
		Firmware:  d.firmware,
		Owner:     d.owner,
		State:     d.state,
		RefCount:  d.count,
		MemoryMap: append([]MemEntry(nil), d.memoryMap...),
	}
	if d.boot != nil {
		boot := *d.boot
		boot.TraceBuffers = append([]resource.TraceBuffer(nil), d.boot.TraceBuffers...)
		st.Boot = &boot
	}
	return st
}

// Handle is a live reference to a running processor, returned by
// Acquire. All acquirers of one boot share the same handle.
type Handle struct {
	d *Descriptor
}

func (h *Handle) Name() string { return h.d.name }

// TraceBuffers returns the trace buffer descriptors announced by the
// booted image, for post-boot log extraction.
func (h *Handle) TraceBuffers() []resource.TraceBuffer {
	boot := h.d.BootContext()
	if boot == nil {
		return nil
	}
	return boot.TraceBuffers
}

// BootContext returns the negotiated boot context of the boot this
// handle belongs to.
func (h *Handle) BootContext() *resource.BootContext {
	return h.d.BootContext()
}
