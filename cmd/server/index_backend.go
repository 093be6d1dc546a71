package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"gallerymaze.ai/internal/config"
	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/persistence/indexdb"
	"gallerymaze.ai/internal/sim/tuning"
	"gallerymaze.ai/internal/transport/ws"
)

// leaderboardRuntime is the backend chosen by GM_LEADERBOARD_BACKEND. Any
// field may be nil: backend is nil for "none", store is nil when this
// process does not own the rows, sqlite is set only for the sqlite backend.
type leaderboardRuntime struct {
	name    string
	backend leaderboard.Backend
	store   ws.Store
	sqlite  *indexdb.SQLiteStore
}

func openLeaderboard(cfg config.Config, dataDir string, logger *log.Logger) (*leaderboardRuntime, error) {
	rt := &leaderboardRuntime{name: cfg.LeaderboardBackend}
	switch cfg.LeaderboardBackend {
	case config.BackendNone:
		return rt, nil
	case config.BackendMemory:
		m := leaderboard.NewMemoryBackend()
		rt.backend, rt.store = m, m
		return rt, nil
	case config.BackendSQLite:
		dbPath := strings.TrimSpace(cfg.LeaderboardDB)
		if dbPath == "" {
			dbPath = filepath.Join(dataDir, "index", "leaderboard.sqlite")
		}
		s, err := indexdb.OpenSQLite(dbPath, logger)
		if err != nil {
			return nil, err
		}
		rt.backend, rt.store, rt.sqlite = s, s, s
		return rt, nil
	case config.BackendRemote:
		r, err := indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:    cfg.LeaderboardURL,
			Token:       cfg.LeaderboardToken,
			HTTPTimeout: cfg.LeaderboardTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		rt.backend = r
		return rt, nil
	default:
		return nil, fmt.Errorf("unsupported leaderboard backend: %s", cfg.LeaderboardBackend)
	}
}

// lastSeq finds where journal numbering left off. The sqlite index is
// authoritative when present; otherwise the newest event log file is read.
func (rt *leaderboardRuntime) lastSeq(ctx context.Context, seqFromLog func() (uint64, error)) (uint64, error) {
	var fromDB uint64
	if rt.sqlite != nil {
		n, err := rt.sqlite.MaxSeq(ctx)
		if err != nil {
			return 0, fmt.Errorf("journal max seq: %w", err)
		}
		fromDB = n
	}
	fromLog, err := seqFromLog()
	if err != nil {
		return max(fromDB, fromLog), fmt.Errorf("event log last seq: %w", err)
	}
	return max(fromDB, fromLog), nil
}

// newBoard builds the board over the chosen backend, capped at the tuned
// number of entries.
func (rt *leaderboardRuntime) newBoard(tune tuning.Tuning, logger *log.Logger) *leaderboard.Board {
	return leaderboard.NewBoard(rt.backend, leaderboard.BoardOptions{
		MaxEntries: tune.Leaderboard.MaxEntries,
		Logger:     logger,
	})
}

func (rt *leaderboardRuntime) Close() error {
	if rt == nil || rt.sqlite == nil {
		return nil
	}
	return rt.sqlite.Close()
}
