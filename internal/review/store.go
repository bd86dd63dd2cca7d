// Package review replicates review-room state across viewers through a
// shared pub/sub backend. There is no process here: one writer (the room
// owner) publishes, everyone else subscribes, and the backend keeps the
// last published state so late joiners replay a full view.
package review

import (
	"context"
	"crypto/md5"
	"encoding/hex"

	"leelad/pkg/types"
)

// RoomID derives the room identifier from the creating identity: the first
// 8 hex characters of the MD5 of the uuid. Re-creation by the same identity
// therefore addresses the same room.
func RoomID(uuid string) string {
	sum := md5.Sum([]byte(uuid))
	return hex.EncodeToString(sum[:])[:8]
}

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live attachment to one or more channels.
type Subscription interface {
	// Messages yields deliveries until the subscription is closed.
	Messages() <-chan Message
	Close() error
}

// Store is the key-value and pub/sub backend holding review-room state.
// It is the only cross-process shared resource; the Redis implementation
// is authoritative, the in-memory one backs tests.
type Store interface {
	SetRoom(ctx context.Context, room types.ReviewRoom) error
	GetRoom(ctx context.Context, roomID string) (types.ReviewRoom, bool, error)

	// SetState persists the durable last-known state replayed to joiners.
	SetState(ctx context.Context, roomID string, state types.ReviewRoomState) error
	GetState(ctx context.Context, roomID string) (types.ReviewRoomState, bool, error)

	SetPeople(ctx context.Context, roomID string, n int) error
	IncrPeople(ctx context.Context, roomID string) (int, error)
	DecrPeople(ctx context.Context, roomID string) (int, error)
	People(ctx context.Context, roomID string) (int, error)

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// Channel naming matches the original deepleela wire contract.

func stateChannel(roomID string) string { return types.SysReviewRoomStateUpdate + "_" + roomID }

func messageChannel(roomID string) string { return roomID + "_message" }

func joinChannel(roomID string) string { return roomID + "_join" }

func leaveChannel(roomID string) string { return roomID + "_leave" }
