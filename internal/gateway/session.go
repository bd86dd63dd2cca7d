// Package gateway implements the per-connection protocol session: JSON
// envelopes in, engine commands out, with diagnostic capture around the
// privileged heatmap and genmove commands.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"leelad/internal/engine"
	"leelad/internal/review"
	"leelad/pkg/types"
)

const (
	keepaliveInterval = 15 * time.Second
	writeWait         = 10 * time.Second
	defaultBoardSize  = 19
)

// errProtocol marks a malformed inbound frame; the session is torn down
// immediately rather than continue in an undefined state.
var errProtocol = errors.New("protocol violation")

// Conn is the subset of *websocket.Conn the session uses; tests substitute
// a scripted fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Pool is the engine pool surface the session consumes. *pool.Pool
// satisfies it.
type Pool interface {
	Acquire(profile string) (engine.Handle, error)
	Release(h engine.Handle)
	Pending() int
}

// Session drives one client connection. Inbound frames are processed
// strictly in order on the read loop, so at most one engine command is in
// flight and diagnostic capture windows never overlap.
type Session struct {
	conn  Conn
	pool  Pool
	store review.Store
	log   zerolog.Logger

	writeMu sync.Mutex

	engine    engine.Handle
	profile   string
	boardSize int
	review    *review.Participant

	sysHandlers map[string]func(context.Context, types.Command)

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession wires a session over an upgraded connection. store may be nil
// when no review backend is configured; review commands are then ignored.
func NewSession(conn Conn, pool Pool, store review.Store, log zerolog.Logger) *Session {
	s := &Session{
		conn:      conn,
		pool:      pool,
		store:     store,
		log:       log,
		boardSize: defaultBoardSize,
		done:      make(chan struct{}),
	}
	s.sysHandlers = map[string]func(context.Context, types.Command){
		types.SysRequestAI:             s.handleRequestAI,
		types.SysLoadMoves:             s.handleLoadMoves,
		types.SysCreateReviewRoom:      s.reviewHandler((*review.Participant).HandleCreate),
		types.SysEnterReviewRoom:       s.reviewHandler((*review.Participant).HandleEnter),
		types.SysReviewRoomStateUpdate: s.reviewHandler((*review.Participant).HandleStateUpdate),
		types.SysReviewRoomMessage:     s.reviewHandler((*review.Participant).HandleMessage),
		types.SysLeaveReviewRoom:       s.reviewHandler((*review.Participant).HandleLeave),
	}
	return s
}

// Run services the connection until it closes or a protocol violation
// occurs. Blocks; resources are released before it returns. Reads happen
// on their own goroutine so that a disconnect cancels the command in
// flight instead of waiting out the engine.
func (s *Session) Run() {
	go s.keepalive()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan []byte)
	go func() {
		defer cancel()
		defer close(frames)
		for {
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case frames <- data:
			case <-s.done:
				return
			}
		}
	}()

	// Dispatch stays strictly sequential: one frame at a time, in order.
	for data := range frames {
		if err := s.dispatch(ctx, data); err != nil {
			break
		}
	}
	s.Close()
}

// dispatch routes one inbound frame. A frame that is not JSON or lacks a
// type is a protocol violation; unknown sys commands and unknown envelope
// types are ignored for forward compatibility.
func (s *Session) dispatch(ctx context.Context, data []byte) error {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errProtocol
	}
	if env.Type == "" {
		return errProtocol
	}
	switch env.Type {
	case types.TypeGTP:
		var cmdstr string
		if err := json.Unmarshal(env.Data, &cmdstr); err != nil {
			return errProtocol
		}
		s.handleGTP(ctx, cmdstr)
	case types.TypeSys:
		var cmd types.Command
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			return errProtocol
		}
		if handler, ok := s.sysHandlers[cmd.Name]; ok {
			handler(ctx, cmd)
		}
	}
	return nil
}

func (s *Session) handleGTP(ctx context.Context, cmdstr string) {
	if s.engine == nil || !s.engine.Alive() {
		return
	}
	cmd := engine.ParseCommand(cmdstr)
	switch cmd.Name {
	case "heatmap":
		s.handleHeatmap(ctx, cmd)
	case "genmove":
		s.handleGenmove(ctx, cmd)
	default:
		if cmd.Name == "boardsize" {
			if toks, ok := cmd.Args.([]string); ok && len(toks) > 0 {
				if n, err := strconv.Atoi(toks[0]); err == nil && n > 0 {
					s.boardSize = n
				}
			}
		}
		resp, err := s.engine.Send(ctx, cmd)
		if err != nil {
			s.log.Debug().Err(err).Str("cmd", cmd.Name).Msg("engine send failed")
			return
		}
		s.sendEnvelope(types.NewEnvelope(types.TypeGTP, resp.String()))
	}
}

// handleHeatmap runs the engine's heatmap command inside a capture window
// and returns the rescaled influence grid instead of the raw response.
func (s *Session) handleHeatmap(ctx context.Context, cmd types.Command) {
	s.engine.StartCapture()
	_, err := s.engine.Send(ctx, cmd)
	log := s.engine.StopCapture()
	if err != nil {
		return
	}
	grid := engine.ExtractHeatmap(log, s.boardSize)
	b, _ := json.Marshal(grid)
	s.sendSys(types.Command{ID: cmd.ID, Name: "heatmap", Args: string(b)})
}

// handleGenmove runs genmove inside a capture window and bundles the raw
// response with the variations parsed from the analysis output. A log
// without a recognizable analysis section yields an empty variation list.
func (s *Session) handleGenmove(ctx context.Context, cmd types.Command) {
	s.engine.StartCapture()
	resp, err := s.engine.Send(ctx, cmd)
	log := s.engine.StopCapture()
	if err != nil {
		return
	}
	result := types.AnalysisResult{
		RespStr:    resp.String(),
		Variations: engine.ExtractVariations(log),
	}
	b, _ := json.Marshal(result)
	s.sendSys(types.Command{ID: cmd.ID, Name: "genmove", Args: string(b)})
}

// handleRequestAI acquires an engine for the session. Re-requesting the
// profile already held succeeds immediately without a new spawn; switching
// profiles releases the old instance first. Denial carries the pending
// count so the client can show a queue position.
func (s *Session) handleRequestAI(ctx context.Context, cmd types.Command) {
	profile := argString(cmd.Args)

	if s.engine != nil && s.engine.Alive() && profile == s.profile {
		s.sendSys(types.Command{ID: cmd.ID, Name: cmd.Name, Args: []any{true, 0}})
		return
	}

	if s.engine != nil {
		s.pool.Release(s.engine)
		s.engine = nil
		s.profile = ""
	}

	h, err := s.pool.Acquire(profile)
	if err != nil {
		s.log.Info().Err(err).Str("profile", profile).Msg("engine request denied")
		s.sendSys(types.Command{ID: cmd.ID, Name: cmd.Name, Args: []any{false, s.pool.Pending()}})
		return
	}
	s.engine = h
	s.profile = profile
	s.boardSize = defaultBoardSize
	s.sendSys(types.Command{ID: cmd.ID, Name: cmd.Name, Args: []any{true, 0}})
}

// handleLoadMoves replays a move list into the held engine, one blocking
// round trip per move. Fails fast with no rollback.
func (s *Session) handleLoadMoves(ctx context.Context, cmd types.Command) {
	fail := types.Command{ID: cmd.ID, Name: cmd.Name, Args: []any{false}}
	if s.engine == nil || !s.engine.Alive() {
		s.sendSys(fail)
		return
	}
	moves, ok := decodeMoves(cmd.Args)
	if !ok {
		s.sendSys(fail)
		return
	}
	for _, mv := range moves {
		if _, err := s.engine.Send(ctx, engine.Play(mv[0], mv[1])); err != nil {
			s.sendSys(fail)
			return
		}
	}
	s.sendSys(types.Command{ID: cmd.ID, Name: cmd.Name, Args: []any{true}})
}

// reviewHandler lazily creates the session's review participant and
// delegates the command to it. With no backend configured the command is
// dropped.
func (s *Session) reviewHandler(fn func(*review.Participant, context.Context, types.Command)) func(context.Context, types.Command) {
	return func(ctx context.Context, cmd types.Command) {
		if s.store == nil {
			return
		}
		if s.review == nil {
			s.review = review.NewParticipant(s.store, s.log, s.sendEnvelope)
		}
		fn(s.review, ctx, cmd)
	}
}

func (s *Session) sendSys(cmd types.Command) {
	s.sendEnvelope(types.NewEnvelope(types.TypeSys, cmd))
}

// sendEnvelope writes one frame. Serialized by writeMu: the read loop, the
// keepalive ticker and review forwarding all write through here.
func (s *Session) sendEnvelope(env types.Envelope) {
	select {
	case <-s.done:
		return
	default:
	}
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) keepalive() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Close releases everything the session owns: keepalive timer, held
// engine, review subscriptions, and the connection itself. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		if s.review != nil {
			s.review.Close(context.Background())
		}
		if s.engine != nil {
			s.pool.Release(s.engine)
			s.engine = nil
		}
	})
}

// argString extracts a string from the argument shapes the wire uses.
func argString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// decodeMoves converts the JSON-decoded loadMoves argument into (color,
// coordinate) pairs.
func decodeMoves(v any) ([][2]string, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	moves := make([][2]string, 0, len(list))
	for _, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) < 2 {
			return nil, false
		}
		color, ok1 := pair[0].(string)
		coord, ok2 := pair[1].(string)
		if !ok1 || !ok2 {
			return nil, false
		}
		moves = append(moves, [2]string{color, coord})
	}
	return moves, true
}
