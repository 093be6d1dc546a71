package protocol

import "encoding/json"

const Version = "1.0"

// TokenHeader carries the shared secret for leaderboard store writes.
const TokenHeader = "x-gm-leaderboard-token"

// Leaderboard feed message types.
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeSnapshot  = "SNAPSHOT"
	TypeChange    = "CHANGE"
	TypeError     = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
