package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"leelad/internal/engine"
	"leelad/pkg/types"
)

// fakeHandle stands in for a running engine process.
type fakeHandle struct {
	name string

	mu      sync.Mutex
	alive   bool
	exitFns []func()
}

func (f *fakeHandle) Profile() string { return f.name }

func (f *fakeHandle) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeHandle) Send(context.Context, types.Command) (engine.Response, error) {
	return engine.Response{}, nil
}

func (f *fakeHandle) StartCapture()       {}
func (f *fakeHandle) StopCapture() string { return "" }

// OnExit matches the controller's contract: a handle whose process has
// already exited runs the callback inline.
func (f *fakeHandle) OnExit(fn func()) {
	f.mu.Lock()
	if f.alive {
		f.exitFns = append(f.exitFns, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}

func (f *fakeHandle) Stop() error {
	f.die()
	return nil
}

// die simulates the child process exiting on its own.
func (f *fakeHandle) die() {
	f.mu.Lock()
	if !f.alive {
		f.mu.Unlock()
		return
	}
	f.alive = false
	fns := f.exitFns
	f.exitFns = nil
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func newTestPool(t *testing.T, max int) *Pool {
	t.Helper()
	profiles := map[string]engine.Profile{
		"Leela":     {Exec: "/bin/leela"},
		"leelazero": {Exec: "/bin/leelaz"},
	}
	p := New(profiles, max, "leela", zerolog.Nop())
	p.start = func(prof engine.Profile, _ zerolog.Logger) (engine.Handle, error) {
		return &fakeHandle{name: prof.Name, alive: true}, nil
	}
	return p
}

func TestAcquireDefaultProfile(t *testing.T) {
	p := newTestPool(t, 2)
	h, err := p.Acquire("")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if h.Profile() != "leela" {
		t.Fatalf("expected default profile leela got %q", h.Profile())
	}
}

func TestAcquireCaseInsensitive(t *testing.T) {
	p := newTestPool(t, 2)
	h, err := p.Acquire("LeelaZero")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if h.Profile() != "leelazero" {
		t.Fatalf("got %q", h.Profile())
	}
}

func TestAcquireUnknownProfile(t *testing.T) {
	p := newTestPool(t, 2)
	_, err := p.Acquire("katago")
	if err == nil || !IsUnknownProfile(err) {
		t.Fatalf("expected unknown-profile error got %v", err)
	}
}

func TestAcquireAtCapacity(t *testing.T) {
	p := newTestPool(t, 2)
	h1, err := p.Acquire("leela")
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if _, err := p.Acquire("leela"); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	_, err = p.Acquire("leela")
	if err == nil || !IsAtCapacity(err) {
		t.Fatalf("expected at-capacity error got %v", err)
	}

	// Releasing one frees a slot.
	p.Release(h1)
	if _, err := p.Acquire("leela"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if got := p.Live(); got != 2 {
		t.Fatalf("expected 2 live got %d", got)
	}
}

func TestAcquireEngineDeadOnArrival(t *testing.T) {
	p := newTestPool(t, 2)
	// The child crashed between spawn and callback registration, so
	// OnExit fires inline inside Acquire.
	p.start = func(prof engine.Profile, _ zerolog.Logger) (engine.Handle, error) {
		return &fakeHandle{name: prof.Name, alive: false}, nil
	}

	type result struct {
		h   engine.Handle
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		h, err := p.Acquire("leela")
		resCh <- result{h, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			t.Fatalf("acquire: %v", res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire never returned for an engine that exited during startup")
	}
	if got := p.Live(); got != 0 {
		t.Fatalf("dead-on-arrival engine must not stay live, got %d", got)
	}
}

func TestProcessExitFreesSlot(t *testing.T) {
	p := newTestPool(t, 1)
	h, err := p.Acquire("leela")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	h.(*fakeHandle).die()
	if got := p.Live(); got != 0 {
		t.Fatalf("expected 0 live after exit got %d", got)
	}
	if _, err := p.Acquire("leela"); err != nil {
		t.Fatalf("acquire after crash: %v", err)
	}
}

func TestReleaseTolerant(t *testing.T) {
	p := newTestPool(t, 1)
	p.Release(nil)

	h, err := p.Acquire("leela")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(h)
	p.Release(h)
	if got := p.Live(); got != 0 {
		t.Fatalf("expected 0 live got %d", got)
	}
}

func TestPendingAccounting(t *testing.T) {
	p := newTestPool(t, 2)
	if got := p.Pending(); got != 0 {
		t.Fatalf("expected 0 pending got %d", got)
	}
	for i := 0; i < 5; i++ {
		p.ClientConnected()
	}
	if got := p.Online(); got != 5 {
		t.Fatalf("expected 5 online got %d", got)
	}
	if got := p.Pending(); got != 3 {
		t.Fatalf("expected 3 pending got %d", got)
	}
	for i := 0; i < 4; i++ {
		p.ClientDisconnected()
	}
	if got := p.Pending(); got != 0 {
		t.Fatalf("expected 0 pending got %d", got)
	}
	p.ClientDisconnected()
	p.ClientDisconnected()
	if got := p.Online(); got != 0 {
		t.Fatalf("online must not go negative, got %d", got)
	}
}
