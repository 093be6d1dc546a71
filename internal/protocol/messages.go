package protocol

import (
	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/sim/layout"
	"gallerymaze.ai/internal/sim/placement"
	"gallerymaze.ai/internal/sim/progression"
)

// SUBSCRIBE (client -> server): opens the leaderboard change feed.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Token           string `json:"token,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

// SNAPSHOT (server -> client): the ranked rows at subscription time.
type SnapshotMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Rows            []leaderboard.Row `json:"rows"`
}

// CHANGE (server -> client): one store mutation.
type ChangeMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	Seq             uint64             `json:"seq"`
	Change          leaderboard.Change `json:"change"`
}

// ERROR (server -> client) and the body of every non-2xx HTTP response.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}

// VisitRequest is sent when the player enters an exhibit's trigger radius.
type VisitRequest struct {
	ExhibitID   string   `json:"exhibit_id"`
	Name        string   `json:"name,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	OnlyOnMonad bool     `json:"only_on_monad,omitempty"`
}

type ClaimQuestRequest struct {
	QuestID string `json:"quest_id"`
}

// ClaimBadgeRequest reports a quiz answer. Answer is required when the
// exhibit has a quiz.
type ClaimBadgeRequest struct {
	ExhibitID string `json:"exhibit_id"`
	Answer    *int   `json:"answer,omitempty"`
}

type IdentityRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ExhibitRequest carries a single exhibit id (votes, collections).
type ExhibitRequest struct {
	ExhibitID string `json:"exhibit_id"`
}

type LegacyView struct {
	Votes                   []string `json:"votes"`
	Collections             []string `json:"collections"`
	GlitchUnlocked          bool     `json:"glitch_unlocked"`
	RecommendationsUnlocked bool     `json:"recommendations_unlocked"`
}

// PlayerView is the client-facing progression summary.
type PlayerView struct {
	LeaderboardID   string                  `json:"leaderboard_id"`
	LeaderboardName string                  `json:"leaderboard_name"`
	Level           progression.LevelInfo   `json:"level"`
	Visited         []string                `json:"visited"`
	VisitCount      int                     `json:"visit_count"`
	Categories      map[string]int          `json:"categories"`
	OnlyOnMonad     []string                `json:"only_on_monad"`
	Badges          []string                `json:"badges"`
	Achievements    []string                `json:"achievements"`
	Feed            []progression.FeedEntry `json:"achievement_feed"`
	Quests          []progression.QuestView `json:"quests"`
	Claimable       []string                `json:"claimable"`
	Legacy          LegacyView              `json:"legacy"`
}

// OutcomeResponse answers every mutating request. OK is false for no-ops
// such as a repeated claim; that is not an error.
type OutcomeResponse struct {
	OK      bool                `json:"ok"`
	Outcome progression.Outcome `json:"outcome"`
	Player  PlayerView          `json:"player"`
	Quiz    *QuizResult         `json:"quiz,omitempty"`
}

type QuizResult struct {
	Correct     bool   `json:"correct"`
	Explanation string `json:"explanation,omitempty"`
}

// RowsResponse is the leaderboard store REST listing.
type RowsResponse struct {
	Rows []leaderboard.Row `json:"rows"`
}

// LayoutResponse is everything the renderer needs to build the maze.
type LayoutResponse struct {
	MazeDigest string   `json:"maze_digest"`
	Rows       []string `json:"rows"`
	// GridRLE is the same grid packed with maze.EncodeRLE.
	GridRLE string         `json:"grid_rle"`
	Start   layout.Cell    `json:"start"`
	Layout  *layout.Layout `json:"layout"`
}

type PlacementsResponse struct {
	Placements  []placement.Placement  `json:"placements"`
	Decorations []placement.Decoration `json:"decorations"`
}

// WalkableResponse answers a world-space collision query.
type WalkableResponse struct {
	Row      int  `json:"row"`
	Col      int  `json:"col"`
	InBounds bool `json:"in_bounds"`
	Walkable bool `json:"walkable"`
}

// QuizView is a quiz without its answer.
type QuizView struct {
	ExhibitID string   `json:"exhibit_id"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
}

type QuestsResponse struct {
	Quests    []progression.QuestView `json:"quests"`
	Claimable []string                `json:"claimable"`
}

type LeaderboardResponse struct {
	leaderboard.State
	// Rank is the 1-based position of the local player, 0 when off the board.
	Rank int `json:"rank"`
}
