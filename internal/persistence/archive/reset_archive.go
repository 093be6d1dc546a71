// Package archive keeps a copy of a player's progress snapshot before a reset
// wipes it.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gallerymaze.ai/internal/sim/progression"
)

const metaFile = "meta.json"

type Meta struct {
	Key          string `json:"key"`
	Snapshot     string `json:"snapshot"`
	ArchivedAt   string `json:"archived_at"`
	XP           int    `json:"xp"`
	Level        int    `json:"level"`
	Visited      int    `json:"visited"`
	Badges       int    `json:"badges"`
	Achievements int    `json:"achievements"`
}

// Worth reports whether s holds any progress a reset would lose.
func Worth(s progression.State) bool {
	return s.XP > 0 || s.VisitedDapps.Size() > 0 || s.Legacy.Votes.Size() > 0 || s.Legacy.Collections.Size() > 0
}

// ArchiveProgress copies snapshotPath into dir/<timestamp>/ with a meta.json
// describing prev. It returns the paths written, or none when there is no
// snapshot on disk or prev is not worth keeping.
func ArchiveProgress(dir, snapshotPath, key string, prev progression.State, now time.Time) ([]string, error) {
	if !Worth(prev) {
		return nil, nil
	}
	if _, err := os.Stat(snapshotPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	stamp := now.UTC().Format("20060102T150405.000Z")
	archiveDir := filepath.Join(dir, stamp)
	for i := 1; ; i++ {
		if _, err := os.Stat(archiveDir); errors.Is(err, os.ErrNotExist) {
			break
		}
		archiveDir = filepath.Join(dir, fmt.Sprintf("%s-%d", stamp, i))
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return nil, err
	}

	meta := Meta{
		Key:          key,
		Snapshot:     filepath.Base(dst),
		ArchivedAt:   now.UTC().Format(time.RFC3339Nano),
		XP:           prev.XP,
		Level:        prev.Level,
		Visited:      prev.VisitedDapps.Size(),
		Badges:       prev.Badges.Size(),
		Achievements: prev.Achievements.Size(),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return []string{dst}, err
	}
	metaPath := filepath.Join(archiveDir, metaFile)
	if err := os.WriteFile(metaPath, b, 0o644); err != nil {
		return []string{dst}, err
	}
	return []string{dst, metaPath}, nil
}

// List returns the archived metas under dir, oldest first.
func List(dir string) ([]Meta, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Meta
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name, metaFile))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return out, err
		}
		var m Meta
		if err := json.Unmarshal(b, &m); err != nil {
			return out, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
