package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"leelad/internal/engine"
	"leelad/pkg/types"
)

// fakeConn feeds a scripted frame sequence to the session and records what
// it writes back.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	writes [][]byte
	closed bool
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return 0, nil, io.EOF
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return websocket.TextMessage, f, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType == websocket.TextMessage {
		c.writes = append(c.writes, data)
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sysWrites decodes the recorded text frames into sys commands.
func (c *fakeConn) sysWrites(t *testing.T) []types.Command {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var cmds []types.Command
	for _, w := range c.writes {
		var env types.Envelope
		if err := json.Unmarshal(w, &env); err != nil {
			t.Fatalf("bad frame written: %q", w)
		}
		if env.Type != types.TypeSys {
			continue
		}
		var cmd types.Command
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			t.Fatalf("bad sys payload: %q", env.Data)
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func (c *fakeConn) gtpWrites(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, w := range c.writes {
		var env types.Envelope
		if err := json.Unmarshal(w, &env); err != nil {
			t.Fatalf("bad frame written: %q", w)
		}
		if env.Type != types.TypeGTP {
			continue
		}
		var s string
		if err := json.Unmarshal(env.Data, &s); err != nil {
			t.Fatalf("bad gtp payload: %q", env.Data)
		}
		out = append(out, s)
	}
	return out
}

// stubHandle scripts engine behavior without a child process. With hang
// set, Send blocks until the context is canceled, like an engine deep in
// a search.
type stubHandle struct {
	mu         sync.Mutex
	alive      bool
	hang       bool
	cmds       []types.Command
	respond    func(cmd types.Command) (engine.Response, error)
	captureLog string
}

func (h *stubHandle) Profile() string { return "stub" }

func (h *stubHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *stubHandle) Send(ctx context.Context, cmd types.Command) (engine.Response, error) {
	h.mu.Lock()
	h.cmds = append(h.cmds, cmd)
	respond := h.respond
	hang := h.hang
	h.mu.Unlock()
	if hang {
		<-ctx.Done()
		return engine.Response{}, ctx.Err()
	}
	if respond != nil {
		return respond(cmd)
	}
	return engine.Response{Content: "ok"}, nil
}

func (h *stubHandle) StartCapture() {}

func (h *stubHandle) StopCapture() string { return h.captureLog }

func (h *stubHandle) OnExit(func()) {}

func (h *stubHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
	return nil
}

func (h *stubHandle) sent() []types.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Command(nil), h.cmds...)
}

// stubPool hands out a prepared handle or a prepared error.
type stubPool struct {
	mu       sync.Mutex
	handle   engine.Handle
	err      error
	pending  int
	acquired []string
	released []engine.Handle
}

func (p *stubPool) Acquire(profile string) (engine.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquired = append(p.acquired, profile)
	if p.err != nil {
		return nil, p.err
	}
	return p.handle, nil
}

func (p *stubPool) Release(h engine.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, h)
}

func (p *stubPool) Pending() int { return p.pending }

func frame(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	b, err := json.Marshal(types.NewEnvelope(typ, payload))
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return b
}

func sysFrame(t *testing.T, name string, args any) []byte {
	t.Helper()
	return frame(t, types.TypeSys, types.Command{Name: name, Args: args})
}

func runSession(t *testing.T, conn *fakeConn, pool Pool) *Session {
	t.Helper()
	s := NewSession(conn, pool, nil, zerolog.Nop())
	s.Run()
	return s
}

func TestMalformedJSONClosesSession(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{[]byte("{oops"), sysFrame(t, types.SysRequestAI, "leela")}}
	runSession(t, conn, &stubPool{handle: &stubHandle{alive: true}})

	if !conn.isClosed() {
		t.Fatal("connection must be closed on malformed JSON")
	}
	if got := conn.sysWrites(t); len(got) != 0 {
		t.Fatalf("no frame after the violation should be processed: %v", got)
	}
}

func TestMissingTypeClosesSession(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{[]byte(`{"data":"name"}`)}}
	runSession(t, conn, &stubPool{})
	if !conn.isClosed() {
		t.Fatal("connection must be closed on a typeless envelope")
	}
}

func TestUnknownEnvelopeTypeIgnored(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{
		frame(t, "telemetry", "x"),
		sysFrame(t, types.SysRequestAI, "leela"),
	}}
	runSession(t, conn, &stubPool{handle: &stubHandle{alive: true}})

	cmds := conn.sysWrites(t)
	if len(cmds) != 1 || cmds[0].Name != types.SysRequestAI {
		t.Fatalf("session must survive unknown envelope types: %v", cmds)
	}
}

func TestUnknownSysCommandIgnored(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{
		sysFrame(t, "selfDestruct", nil),
		sysFrame(t, types.SysRequestAI, "leela"),
	}}
	runSession(t, conn, &stubPool{handle: &stubHandle{alive: true}})

	cmds := conn.sysWrites(t)
	if len(cmds) != 1 {
		t.Fatalf("expected only the requestAI response: %v", cmds)
	}
}

func TestRequestAIIdempotent(t *testing.T) {
	pool := &stubPool{handle: &stubHandle{alive: true}}
	conn := &fakeConn{frames: [][]byte{
		sysFrame(t, types.SysRequestAI, "leela"),
		sysFrame(t, types.SysRequestAI, "leela"),
	}}
	runSession(t, conn, pool)

	if len(pool.acquired) != 1 {
		t.Fatalf("re-request of the held profile must not spawn again, acquired=%v", pool.acquired)
	}
	cmds := conn.sysWrites(t)
	if len(cmds) != 2 {
		t.Fatalf("expected 2 responses got %v", cmds)
	}
	want := []any{true, float64(0)}
	for _, cmd := range cmds {
		if !reflect.DeepEqual(cmd.Args, want) {
			t.Fatalf("expected %v got %v", want, cmd.Args)
		}
	}
}

func TestRequestAISwitchProfileReleasesOld(t *testing.T) {
	first := &stubHandle{alive: true}
	pool := &stubPool{handle: first}
	conn := &fakeConn{frames: [][]byte{
		sysFrame(t, types.SysRequestAI, "leela"),
		sysFrame(t, types.SysRequestAI, "leelazero"),
	}}
	runSession(t, conn, pool)

	if !reflect.DeepEqual(pool.acquired, []string{"leela", "leelazero"}) {
		t.Fatalf("unexpected acquires: %v", pool.acquired)
	}
	if len(pool.released) == 0 || pool.released[0] != first {
		t.Fatalf("old engine must be released before switching: %v", pool.released)
	}
}

func TestRequestAIDeniedReportsPending(t *testing.T) {
	pool := &stubPool{err: errors.New("engine pool at capacity"), pending: 3}
	conn := &fakeConn{frames: [][]byte{sysFrame(t, types.SysRequestAI, "leela")}}
	runSession(t, conn, pool)

	cmds := conn.sysWrites(t)
	if len(cmds) != 1 {
		t.Fatalf("expected 1 response got %v", cmds)
	}
	if want := []any{false, float64(3)}; !reflect.DeepEqual(cmds[0].Args, want) {
		t.Fatalf("expected %v got %v", want, cmds[0].Args)
	}
}

func TestLoadMoves(t *testing.T) {
	h := &stubHandle{alive: true}
	pool := &stubPool{handle: h}
	conn := &fakeConn{frames: [][]byte{
		sysFrame(t, types.SysRequestAI, "leela"),
		sysFrame(t, types.SysLoadMoves, []any{[]any{"B", "Q16"}, []any{"W", "D4"}}),
	}}
	runSession(t, conn, pool)

	var plays [][]string
	for _, cmd := range h.sent() {
		if cmd.Name == "play" {
			plays = append(plays, cmd.Args.([]string))
		}
	}
	want := [][]string{{"B", "Q16"}, {"W", "D4"}}
	if !reflect.DeepEqual(plays, want) {
		t.Fatalf("expected plays %v got %v", want, plays)
	}

	cmds := conn.sysWrites(t)
	last := cmds[len(cmds)-1]
	if last.Name != types.SysLoadMoves || !reflect.DeepEqual(last.Args, []any{true}) {
		t.Fatalf("unexpected loadMoves response: %+v", last)
	}
}

func TestLoadMovesWithoutEngine(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{
		sysFrame(t, types.SysLoadMoves, []any{[]any{"B", "Q16"}}),
	}}
	runSession(t, conn, &stubPool{})

	cmds := conn.sysWrites(t)
	if len(cmds) != 1 || !reflect.DeepEqual(cmds[0].Args, []any{false}) {
		t.Fatalf("expected [false] got %v", cmds)
	}
}

func TestGTPForward(t *testing.T) {
	h := &stubHandle{alive: true, respond: func(cmd types.Command) (engine.Response, error) {
		return engine.Response{Content: "Leela"}, nil
	}}
	conn := &fakeConn{frames: [][]byte{
		sysFrame(t, types.SysRequestAI, "leela"),
		frame(t, types.TypeGTP, "name"),
	}}
	runSession(t, conn, &stubPool{handle: h})

	got := conn.gtpWrites(t)
	if len(got) != 1 || got[0] != "= Leela" {
		t.Fatalf("unexpected gtp responses: %v", got)
	}
}

func TestGTPWithoutEngineDropped(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{frame(t, types.TypeGTP, "name")}}
	runSession(t, conn, &stubPool{})
	if got := conn.gtpWrites(t); len(got) != 0 {
		t.Fatalf("gtp without an engine must be dropped: %v", got)
	}
}

func TestHeatmapStructuredResponse(t *testing.T) {
	h := &stubHandle{alive: true, captureLog: "  0  50 100\n100  50   0\n 25  25  25\n"}
	conn := &fakeConn{frames: [][]byte{
		sysFrame(t, types.SysRequestAI, "leela"),
		frame(t, types.TypeGTP, "boardsize 3"),
		frame(t, types.TypeGTP, "heatmap"),
	}}
	runSession(t, conn, &stubPool{handle: h})

	cmds := conn.sysWrites(t)
	var heat *types.Command
	for i := range cmds {
		if cmds[i].Name == "heatmap" {
			heat = &cmds[i]
		}
	}
	if heat == nil {
		t.Fatalf("no heatmap response in %v", cmds)
	}
	var grid [][]int
	if err := json.Unmarshal([]byte(heat.Args.(string)), &grid); err != nil {
		t.Fatalf("decode grid: %v", err)
	}
	want := [][]int{{0, 4, 9}, {9, 4, 0}, {2, 2, 2}}
	if !reflect.DeepEqual(grid, want) {
		t.Fatalf("expected %v got %v", want, grid)
	}
}

func TestGenmoveStructuredResponse(t *testing.T) {
	h := &stubHandle{
		alive:      true,
		captureLog: "NN eval=0.48\n Q16 ->    3990 (V: 49.26%) PV: Q16 D4\n",
		respond: func(cmd types.Command) (engine.Response, error) {
			return engine.Response{Content: "Q16"}, nil
		},
	}
	conn := &fakeConn{frames: [][]byte{
		sysFrame(t, types.SysRequestAI, "leela"),
		frame(t, types.TypeGTP, "genmove B"),
	}}
	runSession(t, conn, &stubPool{handle: h})

	cmds := conn.sysWrites(t)
	last := cmds[len(cmds)-1]
	if last.Name != "genmove" {
		t.Fatalf("expected genmove response got %+v", last)
	}
	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(last.Args.(string)), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.RespStr != "= Q16" {
		t.Fatalf("unexpected respstr %q", result.RespStr)
	}
	if len(result.Variations) != 1 || result.Variations[0].Visits != 3990 {
		t.Fatalf("unexpected variations: %+v", result.Variations)
	}
}

func TestDisconnectAbortsInFlightCommand(t *testing.T) {
	h := &stubHandle{alive: true, hang: true}
	pool := &stubPool{handle: h}
	conn := &fakeConn{frames: [][]byte{
		sysFrame(t, types.SysRequestAI, "leela"),
		frame(t, types.TypeGTP, "genmove B"),
	}}

	s := NewSession(conn, pool, nil, zerolog.Nop())
	finished := make(chan struct{})
	go func() {
		s.Run()
		close(finished)
	}()

	// The client is gone once the scripted frames run out; the blocked
	// genmove must be abandoned and the session torn down promptly.
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("session held its resources past the disconnect")
	}
	if len(pool.released) != 1 || pool.released[0] != h {
		t.Fatalf("held engine must be released on disconnect: %v", pool.released)
	}
	if !conn.isClosed() {
		t.Fatal("connection must be closed")
	}
}

func TestCloseReleasesEngine(t *testing.T) {
	h := &stubHandle{alive: true}
	pool := &stubPool{handle: h}
	conn := &fakeConn{frames: [][]byte{sysFrame(t, types.SysRequestAI, "leela")}}
	s := runSession(t, conn, pool)
	s.Close() // idempotent with the close inside Run

	if len(pool.released) != 1 || pool.released[0] != h {
		t.Fatalf("held engine must be released on close: %v", pool.released)
	}
	if !conn.isClosed() {
		t.Fatal("connection must be closed")
	}
}
