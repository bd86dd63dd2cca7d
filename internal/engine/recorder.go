package engine

import (
	"strings"
	"sync"
)

// Recorder accumulates an engine's stderr lines while armed. The capture
// window is scoped to a single command: Start clears any previous log and
// arms the recorder, Stop disarms it, Log reads what was captured. At most
// one window is armed per controller at any time; the gateway's sequential
// dispatch guarantees that.
type Recorder struct {
	mu    sync.Mutex
	armed bool
	b     strings.Builder
}

// Start clears the buffer and begins capturing.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.b.Reset()
	r.armed = true
}

// Stop ends the capture window. The buffer stays readable until the next
// Start.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = false
}

// Log returns the captured text.
func (r *Recorder) Log() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.b.String()
}

// write appends one line if the recorder is armed; ignored otherwise.
func (r *Recorder) write(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return
	}
	r.b.WriteString(strings.TrimRight(line, "\r"))
	r.b.WriteByte('\n')
}
