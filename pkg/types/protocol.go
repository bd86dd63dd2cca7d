package types

import "encoding/json"

// Envelope frames every message exchanged with a client. Type selects the
// payload: a raw GTP command string, a sys command, or an unsolicited sync
// notification.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	TypeGTP  = "gtp"
	TypeSys  = "sys"
	TypeSync = "sync"
)

// NewEnvelope wraps data into an envelope of the given type. Marshal errors
// are swallowed: every payload we send is a plain struct or string.
func NewEnvelope(typ string, data any) Envelope {
	b, _ := json.Marshal(data)
	return Envelope{Type: typ, Data: b}
}

// Command is a sys/sync payload: `{id?, name, args?}`. Responses echo the
// request id and name. Args is left loosely typed because the wire format
// mixes strings, arrays and JSON-encoded strings depending on the command.
type Command struct {
	ID   *int   `json:"id,omitempty"`
	Name string `json:"name"`
	Args any    `json:"args,omitempty"`
}

// Recognized sys command names. The values are wire constants shared with
// deepleela clients and must not change.
const (
	SysRequestAI             = "requestAI"
	SysLoadMoves             = "loadMoves"
	SysCreateReviewRoom      = "createReviewRoom"
	SysEnterReviewRoom       = "enterReviewRoom"
	SysReviewRoomStateUpdate = "reviewRoomStateUpdate"
	SysReviewRoomMessage     = "reviewRoomMessage"
	SysJoinReviewRoom        = "joinReviewRoom"
	SysLeaveReviewRoom       = "leaveReviewRoom"
)
