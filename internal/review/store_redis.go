package review

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"leelad/pkg/types"
)

// RedisStore is the production Store. Key and hash layouts follow the
// original deepleela contract: the room hash lives at the room id, the
// people counter at "<roomId>_people", and the durable state at
// "reviewRoomStateUpdate_<roomId>_init".
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the Redis backend at addr (host:port).
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.rdb.Close() }

func stateKey(roomID string) string { return stateChannel(roomID) + "_init" }

func peopleKey(roomID string) string { return roomID + "_people" }

func (s *RedisStore) SetRoom(ctx context.Context, room types.ReviewRoom) error {
	return s.rdb.HSet(ctx, room.RoomID, map[string]any{
		"uuid":      room.UUID,
		"sgf":       room.SGF,
		"roomId":    room.RoomID,
		"roomName":  room.RoomName,
		"chatBroId": room.ChatBroID,
		"owner":     room.Owner,
	}).Err()
}

func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (types.ReviewRoom, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, roomID).Result()
	if err != nil {
		return types.ReviewRoom{}, false, err
	}
	if len(fields) == 0 {
		return types.ReviewRoom{}, false, nil
	}
	return types.ReviewRoom{
		UUID:      fields["uuid"],
		SGF:       fields["sgf"],
		RoomID:    fields["roomId"],
		RoomName:  fields["roomName"],
		ChatBroID: fields["chatBroId"],
		Owner:     fields["owner"],
	}, true, nil
}

func (s *RedisStore) SetState(ctx context.Context, roomID string, state types.ReviewRoomState) error {
	return s.rdb.HSet(ctx, stateKey(roomID), map[string]any{
		"roomId":           state.RoomID,
		"cursor":           state.Cursor,
		"branchCursor":     state.BranchCursor,
		"history":          string(state.History),
		"historyCursor":    state.HistoryCursor,
		"historySnapshots": string(state.HistorySnapshots),
	}).Err()
}

func (s *RedisStore) GetState(ctx context.Context, roomID string) (types.ReviewRoomState, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, stateKey(roomID)).Result()
	if err != nil {
		return types.ReviewRoomState{}, false, err
	}
	if len(fields) == 0 {
		return types.ReviewRoomState{}, false, nil
	}
	state := types.ReviewRoomState{RoomID: fields["roomId"]}
	state.Cursor, _ = strconv.Atoi(fields["cursor"])
	state.BranchCursor, _ = strconv.Atoi(fields["branchCursor"])
	state.HistoryCursor, _ = strconv.Atoi(fields["historyCursor"])
	if v := fields["history"]; v != "" {
		state.History = []byte(v)
	}
	if v := fields["historySnapshots"]; v != "" {
		state.HistorySnapshots = []byte(v)
	}
	return state, true, nil
}

func (s *RedisStore) SetPeople(ctx context.Context, roomID string, n int) error {
	return s.rdb.Set(ctx, peopleKey(roomID), n, 0).Err()
}

func (s *RedisStore) IncrPeople(ctx context.Context, roomID string) (int, error) {
	n, err := s.rdb.Incr(ctx, peopleKey(roomID)).Result()
	return int(n), err
}

func (s *RedisStore) DecrPeople(ctx context.Context, roomID string) (int, error) {
	n, err := s.rdb.Decr(ctx, peopleKey(roomID)).Result()
	return int(n), err
}

func (s *RedisStore) People(ctx context.Context, roomID string) (int, error) {
	v, err := s.rdb.Get(ctx, peopleKey(roomID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(v)
	return n, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channels...)
	// Force the subscription onto the wire before we report success.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &redisSub{ps: ps, ch: make(chan Message, 64)}
	go sub.pump()
	return sub, nil
}

type redisSub struct {
	ps *redis.PubSub
	ch chan Message
}

func (s *redisSub) pump() {
	for msg := range s.ps.Channel() {
		s.ch <- Message{Channel: msg.Channel, Payload: msg.Payload}
	}
	close(s.ch)
}

func (s *redisSub) Messages() <-chan Message { return s.ch }

func (s *redisSub) Close() error { return s.ps.Close() }
