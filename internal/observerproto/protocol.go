package observerproto

import (
	"gallerymaze.ai/internal/protocol"
	"gallerymaze.ai/internal/session"
)

// Version is the observer protocol version (separate from the leaderboard feed protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: only stream these event types ("visit", "claim_badge", ...). Empty means all.
	Events []string `json:"events,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string              `json:"protocol_version"`
	Gallery         GalleryParams       `json:"gallery"`
	Player          protocol.PlayerView `json:"player"`
	Stats           session.Stats       `json:"stats"`
}

type GalleryParams struct {
	MazeSize    int    `json:"maze_size"`
	MazeDigest  string `json:"maze_digest"`
	GridRLE     string `json:"grid_rle"`
	Walkable    int    `json:"walkable"`
	Slots       int    `json:"slots"`
	Exhibits    int    `json:"exhibits"`
	Placements  int    `json:"placements"`
	Decorations int    `json:"decorations"`
	Quizzes     int    `json:"quizzes"`
}

// Server -> Client. Sent after every committed transition that passes the filter.
type UpdateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	session.Update
}
