// Package cgos bridges one upstream CGOS connection to any number of
// WebSocket observers. The viewer owns the single TCP connection, keeps a
// capped ring of match announcements and a refcounted record per observed
// game, and reconnects forever on upstream failure.
package cgos

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// ReadySentinel is broadcast to sinks once the upstream handshake
	// completes, and to any sink attaching while the link is up.
	ReadySentinel = "cgos-ready-deepleela"

	handshakeReply = "v1 cgosview 0.33 deepleela"

	matchRingSize = 100
)

// Sink receives CGOS lines. Implemented by WebSocket clients; tests use
// recording fakes.
type Sink interface {
	Deliver(line string)
	// Shutdown is called when the upstream connection is lost; the sink
	// should drop its client.
	Shutdown()
}

type observedGame struct {
	setup   string
	updates []string
	refs    int
}

// Viewer multiplexes the upstream connection. One instance per process,
// constructed at the composition root.
type Viewer struct {
	addr string
	log  zerolog.Logger
	dial func(addr string) (net.Conn, error)

	mu       sync.Mutex
	conn     net.Conn
	upstream io.Writer
	ready    bool
	buffer   string
	matches  []string
	sinks    map[Sink]struct{}
	observed map[Sink]map[string]struct{}
	games    map[string]*observedGame
}

// New builds a viewer for the upstream address (host:port).
func New(addr string, log zerolog.Logger) *Viewer {
	return &Viewer{
		addr: addr,
		log:  log,
		dial: func(addr string) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, 15*time.Second)
		},
		sinks:    make(map[Sink]struct{}),
		observed: make(map[Sink]map[string]struct{}),
		games:    make(map[string]*observedGame),
	}
}

// Run maintains the upstream connection until ctx is canceled, redialing
// immediately on any error. Transient subscription state is cleared on
// each reconnect; match and game history survive.
func (v *Viewer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := v.dial(v.addr)
		if err != nil {
			v.log.Warn().Err(err).Str("addr", v.addr).Msg("cgos dial failed")
			continue
		}
		v.log.Info().Str("addr", v.addr).Msg("cgos connected")

		v.mu.Lock()
		v.conn = conn
		v.upstream = conn
		v.mu.Unlock()

		connDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-connDone:
			}
		}()

		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				v.handleChunk(string(buf[:n]))
			}
			if err != nil {
				break
			}
		}
		close(connDone)
		v.dropConn()
	}
}

// dropConn tears down all local bindings after an upstream failure.
func (v *Viewer) dropConn() {
	v.mu.Lock()
	if v.conn != nil {
		v.conn.Close()
	}
	v.conn = nil
	v.upstream = nil
	v.ready = false
	v.buffer = ""
	sinks := v.sinks
	v.sinks = make(map[Sink]struct{})
	v.observed = make(map[Sink]map[string]struct{})
	v.mu.Unlock()

	v.log.Warn().Msg("cgos connection lost, reconnecting")
	for s := range sinks {
		s.Shutdown()
	}
}

// handleChunk buffers upstream bytes until a complete \r\n-terminated
// block is available, then classifies each line by prefix.
func (v *Viewer) handleChunk(data string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if strings.Contains(data, "protocol") && v.upstream != nil {
		fmt.Fprint(v.upstream, handshakeReply+"\r\n")
		v.ready = true
		for s := range v.sinks {
			s.Deliver(ReadySentinel)
		}
		return
	}

	v.buffer += data
	if !strings.HasSuffix(v.buffer, "\r\n") {
		return
	}
	lines := strings.Split(v.buffer, "\r\n")
	v.buffer = ""

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "match"):
			v.handleMatch(line)
		case strings.HasPrefix(line, "gameover"):
			v.handleGameOver(line)
		case strings.HasPrefix(line, "update"):
			v.handleUpdate(line)
		case strings.HasPrefix(line, "setup"):
			v.handleSetup(line)
		}
	}
}

func (v *Viewer) handleMatch(line string) {
	v.matches = append(v.matches, line)
	if n := len(v.matches) - matchRingSize; n > 0 {
		v.matches = v.matches[n:]
	}
	for s := range v.sinks {
		s.Deliver(line)
	}
}

// handleGameOver correlates the result with the ring of announcements: the
// matched entry gets its timestamp and result rewritten so replay-on-join
// carries finished scores. The raw line is broadcast either way.
func (v *Viewer) handleGameOver(line string) {
	fields := strings.Fields(line)
	if len(fields) >= 3 {
		id, result := fields[1], fields[2]
		for i, m := range v.matches {
			if !strings.Contains(m, id) {
				continue
			}
			mf := strings.Fields(m)
			if len(mf) >= 9 {
				now := time.Now()
				mf[2] = now.Format("2006-01-02")
				mf[3] = now.Format("15:04")
				mf[8] = result
				v.matches[i] = strings.Join(mf, " ")
			}
			break
		}
	}
	for s := range v.sinks {
		s.Deliver(line)
	}
}

func (v *Viewer) handleUpdate(line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}
	id := fields[1]
	for s, ids := range v.observed {
		if _, ok := ids[id]; ok {
			s.Deliver(line)
		}
	}
	if game, ok := v.games[id]; ok {
		game.updates = append(game.updates, line)
	}
}

func (v *Viewer) handleSetup(line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}
	id := fields[1]
	game, ok := v.games[id]
	if !ok {
		game = &observedGame{}
		v.games[id] = game
	}
	game.setup = line

	for s, ids := range v.observed {
		if _, ok := ids[id]; !ok {
			continue
		}
		s.Deliver(line)
		for _, u := range game.updates {
			s.Deliver(u)
		}
	}
}

// Attach registers a sink: it gets the ready sentinel if the link is up
// and a full replay of the match ring.
func (v *Viewer) Attach(s Sink) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sinks[s] = struct{}{}
	if v.ready {
		s.Deliver(ReadySentinel)
	}
	for _, m := range v.matches {
		s.Deliver(m)
	}
}

// HandleCommand processes a sink's inbound message; only "observe <gid>"
// is recognized.
func (v *Viewer) HandleCommand(s Sink, msg string) {
	if !strings.HasPrefix(msg, "observe") {
		return
	}
	fields := strings.Fields(strings.TrimSuffix(msg, "\r\n"))
	if len(fields) < 2 {
		return
	}
	gid := fields[1]
	if _, err := strconv.Atoi(gid); err != nil {
		return
	}
	v.Observe(gid, s)
}

// Observe subscribes a sink to one game. A game already tracked locally is
// replayed from the buffered setup and updates without touching upstream;
// an unknown game sends a single observe request upstream and starts a
// fresh tracking record.
func (v *Viewer) Observe(gid string, s Sink) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids, ok := v.observed[s]
	if !ok {
		ids = make(map[string]struct{})
		v.observed[s] = ids
	}
	if _, already := ids[gid]; already {
		return
	}
	ids[gid] = struct{}{}

	if game, ok := v.games[gid]; ok {
		game.refs++
		if game.setup != "" {
			s.Deliver(game.setup)
		}
		for _, u := range game.updates {
			s.Deliver(u)
		}
		return
	}
	if v.upstream != nil {
		fmt.Fprintf(v.upstream, "observe %s\r\n", gid)
	}
	v.games[gid] = &observedGame{refs: 1}
}

// Detach drops a sink and decrements the refcount of every game it was
// observing; tracking records are evicted exactly at zero.
func (v *Viewer) Detach(s Sink) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.sinks, s)
	ids := v.observed[s]
	delete(v.observed, s)
	for id := range ids {
		game, ok := v.games[id]
		if !ok {
			continue
		}
		game.refs--
		if game.refs <= 0 {
			delete(v.games, id)
		}
	}
	v.log.Debug().
		Int("clients", len(v.sinks)).
		Int("observed_games", len(v.games)).
		Msg("cgos client detached")
}

// Stats reports attached clients and tracked games for /status and metrics.
func (v *Viewer) Stats() (clients, games int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.sinks), len(v.games)
}
