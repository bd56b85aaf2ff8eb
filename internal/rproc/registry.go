package rproc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrDuplicateName = errors.New("rproc: duplicate processor name")
	ErrUnknownName   = errors.New("rproc: unknown processor name")
	ErrInUse         = errors.New("rproc: processor is in use")
)

// Registry maps processor names to descriptors. It owns registration
// and unregistration; descriptors live exactly as long as their
// registration. The map lock is separate from the per-descriptor
// lifecycle locks, so registering one processor never contends with
// booting another.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]*Descriptor
	log   zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		procs: make(map[string]*Descriptor),
		log:   log,
	}
}

// Register inserts a new processor in state Offline with reference
// count zero. Called by platform code when a remote processor device
// is probed.
func (r *Registry) Register(reg Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[reg.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, reg.Name)
	}
	r.procs[reg.Name] = newDescriptor(reg)

	r.log.Info().
		Str("processor", reg.Name).
		Str("device", reg.Device).
		Str("firmware", reg.Firmware).
		Msg("remote processor is available")
	return nil
}

// Unregister removes a processor. It fails while any acquirer still
// holds the processor.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.procs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownName, name)
	}

	d.mu.Lock()
	count := d.count
	d.mu.Unlock()
	if count > 0 {
		return fmt.Errorf("%w: %q has %d live reference(s)", ErrInUse, name, count)
	}

	delete(r.procs, name)
	r.log.Info().Str("processor", name).Msg("remote processor removed")
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.procs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return d, nil
}

// Names returns all registered processor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
