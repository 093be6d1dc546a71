// Package leaderboard keeps the ranked player list and mirrors it to a
// backend store.
package leaderboard

import (
	"sort"
	"strings"
	"time"
)

const MaxEntries = 100

// Entry is a ranked leaderboard row as the game sees it.
type Entry struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	XP               int       `json:"xp"`
	BadgeCount       int       `json:"badge_count"`
	Level            int       `json:"level"`
	AchievementCount int       `json:"achievement_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Row is the storage shape, keyed by wallet address or guest id.
type Row struct {
	WalletAddress    string `json:"wallet_address"`
	DisplayName      string `json:"display_name,omitempty"`
	XP               int    `json:"xp"`
	BadgeCount       int    `json:"badge_count"`
	Level            int    `json:"level"`
	AchievementCount int    `json:"achievement_count"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

// Normalize converts a stored row into an Entry. Missing names fall back to
// the id, a missing level reads as 1 and a missing or unparsable timestamp
// reads as now.
func Normalize(r Row, now time.Time) Entry {
	e := Entry{
		ID:               strings.TrimSpace(r.WalletAddress),
		Name:             strings.TrimSpace(r.DisplayName),
		XP:               nonNegative(r.XP),
		BadgeCount:       nonNegative(r.BadgeCount),
		Level:            r.Level,
		AchievementCount: nonNegative(r.AchievementCount),
		UpdatedAt:        now.UTC(),
	}
	if e.Name == "" {
		e.Name = e.ID
	}
	if e.Level <= 0 {
		e.Level = 1
	}
	if r.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, r.UpdatedAt); err == nil {
			e.UpdatedAt = t.UTC()
		}
	}
	return e
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func (e Entry) Row() Row {
	r := Row{
		WalletAddress:    e.ID,
		DisplayName:      e.Name,
		XP:               e.XP,
		BadgeCount:       e.BadgeCount,
		Level:            e.Level,
		AchievementCount: e.AchievementCount,
	}
	if !e.UpdatedAt.IsZero() {
		r.UpdatedAt = e.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return r
}

// Less ranks by XP, then badges, then level (all descending); on a full tie
// the earlier update ranks first.
func Less(a, b Entry) bool {
	if a.XP != b.XP {
		return a.XP > b.XP
	}
	if a.BadgeCount != b.BadgeCount {
		return a.BadgeCount > b.BadgeCount
	}
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	return a.UpdatedAt.Before(b.UpdatedAt)
}

// Sort orders entries in place; equal entries keep their relative order.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

// Merge upserts e by id into a copy of entries, re-sorts and truncates to max.
func Merge(entries []Entry, e Entry, max int) []Entry {
	out := make([]Entry, 0, len(entries)+1)
	replaced := false
	for _, cur := range entries {
		if cur.ID == e.ID {
			out = append(out, e)
			replaced = true
			continue
		}
		out = append(out, cur)
	}
	if !replaced {
		out = append(out, e)
	}
	return finish(out, max)
}

// Without returns a copy of entries minus id.
func Without(entries []Entry, id string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, cur := range entries {
		if cur.ID != id {
			out = append(out, cur)
		}
	}
	return out
}

// FromRows normalizes, sorts and truncates a fetched batch.
func FromRows(rows []Row, max int, now time.Time) []Entry {
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := Normalize(r, now)
		if e.ID == "" {
			continue
		}
		out = append(out, e)
	}
	return finish(out, max)
}

func finish(entries []Entry, max int) []Entry {
	if max <= 0 {
		max = MaxEntries
	}
	Sort(entries)
	if len(entries) > max {
		entries = entries[:max]
	}
	return entries
}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is one externally observed store mutation.
type Change struct {
	Type ChangeType `json:"event_type"`
	New  *Row       `json:"new,omitempty"`
	Old  *Row       `json:"old,omitempty"`
}

// ApplyChange folds a change event into entries through the same
// normalize, sort and truncate pipeline as a fetch.
func ApplyChange(entries []Entry, ch Change, max int, now time.Time) []Entry {
	if ch.Type == ChangeDelete {
		if ch.Old == nil {
			return entries
		}
		return Without(entries, strings.TrimSpace(ch.Old.WalletAddress))
	}
	rec := ch.New
	if rec == nil {
		rec = ch.Old
	}
	if rec == nil {
		return entries
	}
	e := Normalize(*rec, now)
	if e.ID == "" {
		return entries
	}
	return Merge(entries, e, max)
}
