package review

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"leelad/pkg/types"
)

// teardownGrace delays releasing the subscription after a participant
// leaves so the final leave publish flushes before disconnecting.
const teardownGrace = 3 * time.Second

// Participant is one session's attachment to the review backend. It owns
// the session's subscription and forwards live updates as sync envelopes.
// Exactly one participant per session; the session tears it down on close.
type Participant struct {
	store Store
	log   zerolog.Logger
	send  func(types.Envelope)
	grace time.Duration

	mu     sync.Mutex
	info   *types.ReviewRoomInfo
	sub    Subscription
	closed bool
}

// NewParticipant binds a participant to the backend. send delivers
// envelopes to the session's client and must be safe for concurrent use.
func NewParticipant(store Store, log zerolog.Logger, send func(types.Envelope)) *Participant {
	return &Participant{store: store, log: log, send: send, grace: teardownGrace}
}

func (p *Participant) sendSys(cmd types.Command) {
	p.send(types.NewEnvelope(types.TypeSys, cmd))
}

func (p *Participant) sendSync(cmd types.Command) {
	p.send(types.NewEnvelope(types.TypeSync, cmd))
}

// HandleCreate creates (or silently overwrites, for the same creator
// identity) a review room. Missing creator id or payload is a structured
// failure, not a dropped message.
func (p *Participant) HandleCreate(ctx context.Context, cmd types.Command) {
	args := argStrings(cmd.Args, 5)
	uuid, sgf, nickname, roomName, chatBroID := args[0], args[1], args[2], args[3], args[4]

	if uuid == "" || sgf == "" {
		p.sendSys(types.Command{ID: cmd.ID, Name: cmd.Name, Args: "paramaters bad"})
		return
	}

	room := types.ReviewRoom{
		UUID:      uuid,
		SGF:       sgf,
		RoomID:    RoomID(uuid),
		RoomName:  roomName,
		ChatBroID: chatBroID,
		Owner:     nickname,
	}
	if err := p.store.SetPeople(ctx, room.RoomID, 0); err != nil {
		p.log.Error().Err(err).Msg("reset people counter")
	}
	if err := p.store.SetRoom(ctx, room); err != nil {
		p.log.Error().Err(err).Str("room", room.RoomID).Msg("persist room")
		p.sendSys(types.Command{ID: cmd.ID, Name: cmd.Name, Args: nil})
		return
	}
	b, _ := json.Marshal(room)
	p.sendSys(types.Command{ID: cmd.ID, Name: cmd.Name, Args: string(b)})
}

// HandleEnter joins a room: responds with the room projection, replays the
// durable last state, bumps the people counter, announces the join and
// subscribes to the room's live channels.
func (p *Participant) HandleEnter(ctx context.Context, cmd types.Command) {
	args := argStrings(cmd.Args, 3)
	roomID, uuid, nickname := args[0], args[1], args[2]

	room, ok, err := p.store.GetRoom(ctx, roomID)
	if err != nil || !ok {
		if err != nil {
			p.log.Error().Err(err).Str("room", roomID).Msg("fetch room")
		}
		p.sendSys(types.Command{ID: cmd.ID, Name: cmd.Name, Args: nil})
		return
	}

	info := types.ReviewRoomInfo{
		IsOwner:   uuid == room.UUID,
		SGF:       room.SGF,
		Owner:     room.Owner,
		RoomID:    roomID,
		ChatBroID: room.ChatBroID,
	}
	p.mu.Lock()
	p.info = &info
	p.mu.Unlock()

	b, _ := json.Marshal(info)
	p.sendSys(types.Command{ID: cmd.ID, Name: cmd.Name, Args: string(b)})

	if state, ok, err := p.store.GetState(ctx, roomID); err == nil && ok {
		sb, _ := json.Marshal(state)
		p.sendSync(types.Command{Name: types.SysReviewRoomStateUpdate, Args: string(sb)})
	}

	if _, err := p.store.IncrPeople(ctx, roomID); err != nil {
		p.log.Error().Err(err).Str("room", roomID).Msg("increment people")
	}
	join, _ := json.Marshal(map[string]string{"nickname": nickname})
	_ = p.store.Publish(ctx, joinChannel(roomID), string(join))

	sub, err := p.store.Subscribe(ctx,
		stateChannel(roomID), messageChannel(roomID), joinChannel(roomID), leaveChannel(roomID))
	if err != nil {
		p.log.Error().Err(err).Str("room", roomID).Msg("subscribe room channels")
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = sub.Close()
		return
	}
	p.sub = sub
	p.mu.Unlock()
	go p.forward(roomID, sub)
}

func (p *Participant) forward(roomID string, sub Subscription) {
	for msg := range sub.Messages() {
		switch msg.Channel {
		case stateChannel(roomID):
			p.sendSync(types.Command{Name: types.SysReviewRoomStateUpdate, Args: msg.Payload})
		case messageChannel(roomID):
			p.sendSync(types.Command{Name: types.SysReviewRoomMessage, Args: msg.Payload})
		case joinChannel(roomID):
			count, _ := p.store.People(context.Background(), roomID)
			var note struct {
				Nickname string `json:"nickname"`
			}
			_ = json.Unmarshal([]byte(msg.Payload), &note)
			p.sendSync(types.Command{
				Name: types.SysJoinReviewRoom,
				Args: types.JoinNotification{Count: count, Nickname: note.Nickname},
			})
		case leaveChannel(roomID):
			p.sendSync(types.Command{Name: types.SysLeaveReviewRoom, Args: msg.Payload})
		}
	}
}

// HandleStateUpdate publishes a state update. Only the recognized room
// owner may publish; everyone else is silently dropped so probing clients
// learn nothing about room structure. Accepted updates go live and become
// the durable replay state.
func (p *Participant) HandleStateUpdate(ctx context.Context, cmd types.Command) {
	p.mu.Lock()
	info := p.info
	p.mu.Unlock()
	if info == nil || !info.IsOwner {
		return
	}

	raw, err := json.Marshal(cmd.Args)
	if err != nil {
		return
	}
	var state types.ReviewRoomState
	if err := json.Unmarshal(raw, &state); err != nil {
		return
	}
	if state.RoomID == "" {
		state.RoomID = info.RoomID
	}

	b, _ := json.Marshal(state)
	_ = p.store.Publish(ctx, stateChannel(state.RoomID), string(b))
	if err := p.store.SetState(ctx, state.RoomID, state); err != nil {
		p.log.Error().Err(err).Str("room", state.RoomID).Msg("persist state")
	}
}

// HandleMessage passes a chat message through to the room channel.
func (p *Participant) HandleMessage(ctx context.Context, cmd types.Command) {
	p.mu.Lock()
	info := p.info
	p.mu.Unlock()
	if info == nil {
		return
	}
	text, _ := cmd.Args.(string)
	_ = p.store.Publish(ctx, messageChannel(info.RoomID), text)
}

// HandleLeave announces departure and decrements the people counter.
func (p *Participant) HandleLeave(ctx context.Context, cmd types.Command) {
	p.mu.Lock()
	info := p.info
	p.mu.Unlock()
	if info == nil {
		return
	}
	_ = p.store.Publish(ctx, leaveChannel(info.RoomID), "")
	if _, err := p.store.DecrPeople(ctx, info.RoomID); err != nil {
		p.log.Error().Err(err).Str("room", info.RoomID).Msg("decrement people")
	}
}

// Close is the connection-teardown path: it publishes a leave for the room
// the participant was in, then releases the subscription after a short
// grace delay so the publish flushes first.
func (p *Participant) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	info := p.info
	sub := p.sub
	grace := p.grace
	p.mu.Unlock()

	if info != nil {
		_ = p.store.Publish(ctx, leaveChannel(info.RoomID), "")
		_, _ = p.store.DecrPeople(ctx, info.RoomID)
	}
	if sub != nil {
		time.AfterFunc(grace, func() { _ = sub.Close() })
	}
}

// argStrings flattens a JSON-decoded args value into exactly n strings,
// padding with empties.
func argStrings(args any, n int) []string {
	out := make([]string, n)
	list, ok := args.([]any)
	if !ok {
		if s, ok := args.(string); ok && n > 0 {
			out[0] = s
		}
		return out
	}
	for i := 0; i < n && i < len(list); i++ {
		if s, ok := list[i].(string); ok {
			out[i] = s
		}
	}
	return out
}
