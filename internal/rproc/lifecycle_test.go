package rproc

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/danmuck/rprocctl/internal/firmware"
	"github.com/danmuck/rprocctl/internal/resource"
	"github.com/danmuck/rprocctl/internal/testutil/testlog"
)

// fakeCap records start/stop calls and the boot address.
type fakeCap struct {
	mu       sync.Mutex
	starts   int
	stops    int
	bootAddr uint64
	startErr error
	stopErr  error
	preStart func()
}

func (c *fakeCap) Start(bootAddr uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preStart != nil {
		c.preStart()
	}
	if c.startErr != nil {
		return c.startErr
	}
	c.starts++
	c.bootAddr = bootAddr
	return nil
}

func (c *fakeCap) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return c.stopErr
}

func (c *fakeCap) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

// mapSource serves firmware images from memory and counts loads.
type mapSource struct {
	mu     sync.Mutex
	images map[string][]byte
	loads  int
}

func (s *mapSource) Load(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	data, ok := s.images[name]
	if !ok {
		return nil, fmt.Errorf("no image %q", name)
	}
	return data, nil
}

type fakeMapper struct {
	mu      sync.Mutex
	applied [][]MemEntry
}

func (m *fakeMapper) Apply(entries []MemEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, entries)
	return nil
}

func imageWith(entries ...resource.Entry) []byte {
	img := &firmware.Image{
		Version: firmware.FormatVersion,
		Sections: []firmware.Section{
			{Type: firmware.SectionText, DA: 0x1000, Content: []byte{1, 2, 3, 4}},
		},
	}
	if len(entries) > 0 {
		img.Sections = append(img.Sections, firmware.Section{
			Type:    firmware.SectionResource,
			DA:      0x3000,
			Content: resource.EncodeEntries(entries),
		})
	}
	return firmware.EncodeImage(img)
}

type fixture struct {
	reg *Registry
	ctl *Controller
	cap *fakeCap
	src *mapSource
	mpr *fakeMapper
}

func newFixture(t *testing.T, image []byte, cfg ControllerConfig) *fixture {
	t.Helper()
	log := testlog.Start(t)
	f := &fixture{
		reg: NewRegistry(log),
		cap: &fakeCap{},
		src: &mapSource{images: map[string][]byte{"ipu.rprc": image}},
		mpr: &fakeMapper{},
	}
	cfg.Logger = log
	if cfg.Source == nil {
		cfg.Source = f.src
	}
	if cfg.Mapper == nil {
		cfg.Mapper = f.mpr
	}
	f.ctl = NewController(f.reg, cfg)

	reg := validRegistration("ipu")
	reg.Capability = f.cap
	if err := f.reg.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	return f
}

func (f *fixture) state(t *testing.T) State {
	t.Helper()
	d, err := f.reg.Lookup("ipu")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return d.State()
}

func TestAcquireBootsWithAnnouncedResources(t *testing.T) {
	image := imageWith(
		resource.Entry{Type: resource.TypeTrace, DA: 0x2000, Len: 4096, Name: resource.NameOf("log")},
	)
	f := newFixture(t, image, ControllerConfig{})

	h, err := f.ctl.Acquire("ipu")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if f.state(t) != StateRunning {
		t.Fatalf("expected running, got %s", f.state(t))
	}

	// No BOOTADDR entry and no registration default: platform decides.
	starts, _ := f.cap.counts()
	if starts != 1 || f.cap.bootAddr != 0 {
		t.Fatalf("start mismatch: starts=%d bootAddr=%#x", starts, f.cap.bootAddr)
	}

	buffers := h.TraceBuffers()
	if len(buffers) != 1 || buffers[0].DA != 0x2000 || buffers[0].Len != 4096 {
		t.Fatalf("trace buffers mismatch: %+v", buffers)
	}
	if len(f.mpr.applied) != 1 {
		t.Fatalf("memory map applied %d times", len(f.mpr.applied))
	}

	if err := f.ctl.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}
	if f.state(t) != StateOffline {
		t.Fatalf("expected offline after release, got %s", f.state(t))
	}
	if _, stops := f.cap.counts(); stops != 1 {
		t.Fatalf("expected 1 stop, got %d", stops)
	}
	if h.BootContext() != nil {
		t.Fatalf("boot context should be discarded after shutdown")
	}
}

func TestAcquireUsesImageBootAddr(t *testing.T) {
	image := imageWith(resource.Entry{Type: resource.TypeBootAddr, DA: 0x4000})
	f := newFixture(t, image, ControllerConfig{})

	h, err := f.ctl.Acquire("ipu")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if f.cap.bootAddr != 0x4000 {
		t.Fatalf("expected boot addr 0x4000, got %#x", f.cap.bootAddr)
	}
	if err := f.ctl.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestAcquireMapsBeforeStart(t *testing.T) {
	f := newFixture(t, imageWith(), ControllerConfig{})
	f.cap.preStart = func() {
		f.mpr.mu.Lock()
		defer f.mpr.mu.Unlock()
		if len(f.mpr.applied) != 1 {
			t.Errorf("memory map not applied before start")
		}
	}

	h, err := f.ctl.Acquire("ipu")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := f.ctl.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestAcquireUnknownName(t *testing.T) {
	f := newFixture(t, imageWith(), ControllerConfig{})
	if _, err := f.ctl.Acquire("dsp"); !errors.Is(err, ErrUnknownName) {
		t.Fatalf("expected ErrUnknownName, got %v", err)
	}
}

func TestAcquireFastPathSkipsReload(t *testing.T) {
	f := newFixture(t, imageWith(), ControllerConfig{})

	h1, err := f.ctl.Acquire("ipu")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	h2, err := f.ctl.Acquire("ipu")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected the same handle on the fast path")
	}
	if f.src.loads != 1 {
		t.Fatalf("expected 1 firmware load, got %d", f.src.loads)
	}
	if starts, _ := f.cap.counts(); starts != 1 {
		t.Fatalf("expected 1 start, got %d", starts)
	}

	if err := f.ctl.Release(h2); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, stops := f.cap.counts(); stops != 0 {
		t.Fatalf("stopped while still referenced")
	}
	if err := f.ctl.Release(h1); err != nil {
		t.Fatalf("last release: %v", err)
	}
	if _, stops := f.cap.counts(); stops != 1 {
		t.Fatalf("expected 1 stop after last release")
	}
}

func TestAcquireParseFailureReturnsOffline(t *testing.T) {
	f := newFixture(t, []byte("ELF\x7fjunk-image-bytes"), ControllerConfig{})

	_, err := f.ctl.Acquire("ipu")
	if !errors.Is(err, firmware.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if f.state(t) != StateOffline {
		t.Fatalf("expected offline after parse failure, got %s", f.state(t))
	}
	if starts, _ := f.cap.counts(); starts != 0 {
		t.Fatalf("started despite parse failure")
	}
}

func TestAcquireResourceUnavailableLeavesOffline(t *testing.T) {
	image := imageWith(resource.Entry{Type: resource.TypeCarveout, Len: 0x1000, Name: resource.NameOf("pool")})
	f := newFixture(t, image, ControllerConfig{}) // no allocator configured

	_, err := f.ctl.Acquire("ipu")
	if !errors.Is(err, resource.ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}
	if f.state(t) != StateOffline {
		t.Fatalf("expected offline, got %s", f.state(t))
	}
	if len(f.mpr.applied) != 0 {
		t.Fatalf("memory map applied despite negotiation failure")
	}
}

func TestAcquireStartFailure(t *testing.T) {
	f := newFixture(t, imageWith(), ControllerConfig{})
	f.cap.startErr = errors.New("power domain stuck")

	_, err := f.ctl.Acquire("ipu")
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("expected ErrStartFailed, got %v", err)
	}
	if f.state(t) != StateOffline {
		t.Fatalf("expected offline, got %s", f.state(t))
	}

	// A later acquire must be able to retry from scratch.
	f.cap.startErr = nil
	h, err := f.ctl.Acquire("ipu")
	if err != nil {
		t.Fatalf("retry acquire: %v", err)
	}
	if err := f.ctl.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestReleaseStopFailureStillGoesOffline(t *testing.T) {
	f := newFixture(t, imageWith(), ControllerConfig{})
	f.cap.stopErr = errors.New("wdt refuses")

	h, err := f.ctl.Acquire("ipu")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := f.ctl.Release(h); !errors.Is(err, ErrStopFailed) {
		t.Fatalf("expected ErrStopFailed, got %v", err)
	}
	if f.state(t) != StateOffline {
		t.Fatalf("expected offline despite stop failure, got %s", f.state(t))
	}
	if d, _ := f.reg.Lookup("ipu"); d.RefCount() != 0 {
		t.Fatalf("refcount not cleared")
	}
}

func TestReleaseWithoutAcquire(t *testing.T) {
	f := newFixture(t, imageWith(), ControllerConfig{})

	if err := f.ctl.Release(nil); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired for nil handle, got %v", err)
	}

	h, err := f.ctl.Acquire("ipu")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := f.ctl.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := f.ctl.Release(h); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired on double release, got %v", err)
	}
}

func TestUnregisterWhileInUse(t *testing.T) {
	f := newFixture(t, imageWith(), ControllerConfig{})

	h, err := f.ctl.Acquire("ipu")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := f.reg.Unregister("ipu"); !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}

	if err := f.ctl.Release(h); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := f.reg.Unregister("ipu"); err != nil {
		t.Fatalf("unregister after release: %v", err)
	}
}

func TestConcurrentAcquireReleaseStartsAndStopsOnce(t *testing.T) {
	const n = 16
	f := newFixture(t, imageWith(), ControllerConfig{})

	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := f.ctl.Acquire("ipu")
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if starts, stops := f.cap.counts(); starts != 1 || stops != 0 {
		t.Fatalf("after %d acquires: starts=%d stops=%d", n, starts, stops)
	}
	if d, _ := f.reg.Lookup("ipu"); d.RefCount() != n {
		t.Fatalf("expected refcount %d, got %d", n, d.RefCount())
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := f.ctl.Release(handles[i]); err != nil {
				t.Errorf("release %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if starts, stops := f.cap.counts(); starts != 1 || stops != 1 {
		t.Fatalf("after %d releases: starts=%d stops=%d", n, starts, stops)
	}
	if f.state(t) != StateOffline {
		t.Fatalf("expected offline, got %s", f.state(t))
	}
}

func TestControllerWithoutSource(t *testing.T) {
	log := testlog.Start(t)
	reg := NewRegistry(log)
	if err := reg.Register(validRegistration("ipu")); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctl := NewController(reg, ControllerConfig{Logger: log})

	if _, err := ctl.Acquire("ipu"); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}
