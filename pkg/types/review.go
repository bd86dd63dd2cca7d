package types

import "encoding/json"

// ReviewRoom is the durable room record created by the owner. Field names
// match the hash stored in the backend; the record is never mutated after
// creation except for the people counter kept under a separate key.
type ReviewRoom struct {
	UUID      string `json:"uuid"`
	SGF       string `json:"sgf"`
	RoomID    string `json:"roomId"`
	RoomName  string `json:"roomName"`
	ChatBroID string `json:"chatBroId"`
	Owner     string `json:"owner"`
}

// ReviewRoomInfo is the per-viewer projection returned by enterReviewRoom.
type ReviewRoomInfo struct {
	IsOwner   bool   `json:"isOwner"`
	SGF       string `json:"sgf"`
	Owner     string `json:"owner"`
	RoomID    string `json:"roomId"`
	ChatBroID string `json:"chatBroId"`
}

// ReviewRoomState is the owner-published cursor/history snapshot. History
// and HistorySnapshots are opaque to the server and passed through as raw
// JSON.
type ReviewRoomState struct {
	RoomID           string          `json:"roomId"`
	Cursor           int             `json:"cursor"`
	BranchCursor     int             `json:"branchCursor"`
	History          json.RawMessage `json:"history,omitempty"`
	HistoryCursor    int             `json:"historyCursor"`
	HistorySnapshots json.RawMessage `json:"historySnapshots,omitempty"`
}

// JoinNotification is delivered on the sync channel when a viewer enters a
// room. Count is the people counter after the join.
type JoinNotification struct {
	Count    int    `json:"count"`
	Nickname string `json:"nickname"`
}
