// Package snapshot stores player progression as versioned, zstd-compressed
// files: one JSON header line followed by the JSON body.
package snapshot

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"gallerymaze.ai/internal/sim/progression"
)

const Version = 2

var ErrUnsupportedVersion = errors.New("snapshot: unsupported version")

type Header struct {
	Version int       `json:"version"`
	Key     string    `json:"key"`
	SavedAt time.Time `json:"saved_at,omitempty"`
}

// ProgressV2 is the storage shape of progression.State.
type (
	ProgressV2 = progression.Progress
	LegacyV2   = progression.LegacyProgress
)

func FromState(s progression.State) ProgressV2 { return progression.ProgressOf(s) }

//go:embed progress_v2.schema.json
var progressSchemaJSON string

var progressSchema = jsonschema.MustCompileString("progress_v2.schema.json", progressSchemaJSON)

// Write saves s under key at path. The file is written to a temp name and
// renamed so a crash never leaves a truncated snapshot.
func Write(path, key string, s progression.State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".progress-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := encode(tmp, key, s); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func encode(w io.Writer, key string, s progression.State) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := writeBody(enc, key, s); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func writeBody(w io.Writer, key string, s progression.State) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	hb, err := json.Marshal(Header{Version: Version, Key: key, SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(FromState(s)); err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return bw.Flush()
}

// Read loads a snapshot, validating the body and migrating older versions.
func Read(path string) (Header, progression.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, progression.State{}, err
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (Header, progression.State, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return Header{}, progression.State{}, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return Header{}, progression.State{}, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return Header{}, progression.State{}, fmt.Errorf("decode header: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return h, progression.State{}, fmt.Errorf("read body: %w", err)
	}

	switch h.Version {
	case Version:
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return h, progression.State{}, fmt.Errorf("decode body: %w", err)
		}
		if err := progressSchema.Validate(doc); err != nil {
			return h, progression.State{}, fmt.Errorf("validate body: %w", err)
		}
		var p ProgressV2
		if err := json.Unmarshal(body, &p); err != nil {
			return h, progression.State{}, fmt.Errorf("decode body: %w", err)
		}
		return h, p.State(), nil
	case 1:
		p, err := migrateV1(body)
		if err != nil {
			return h, progression.State{}, err
		}
		h.Version = Version
		return h, p.State(), nil
	default:
		return h, progression.State{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
}

// progressV1 is the flat format from before quests had their own map: the
// legacy vote and collection lists sat at the top level next to a
// questProgress block of counters.
type progressV1 struct {
	XP                 int                 `json:"xp"`
	Level              int                 `json:"level"`
	VisitedDapps       []string            `json:"visitedDapps"`
	CategoryVisits     map[string][]string `json:"categoryVisits"`
	OnlyOnMonadVisited []string            `json:"onlyOnMonadVisited"`
	Badges             []string            `json:"badges"`
	Achievements       []string            `json:"achievements"`
	LeaderboardID      string              `json:"leaderboardId"`
	LeaderboardName    string              `json:"leaderboardName"`

	Votes         []string `json:"votes"`
	Collections   []string `json:"collections"`
	QuestProgress struct {
		Votes                   int  `json:"votes"`
		Collections             int  `json:"collections"`
		GlitchUnlocked          bool `json:"glitchUnlocked"`
		RecommendationsUnlocked bool `json:"recommendationsUnlocked"`
	} `json:"questProgress"`
}

// migrateV1 moves the flat counters into the legacy block. Quest progress
// starts empty and is rebuilt by the next transition.
func migrateV1(body []byte) (ProgressV2, error) {
	var v1 progressV1
	if err := json.Unmarshal(body, &v1); err != nil {
		return ProgressV2{}, fmt.Errorf("decode v1 body: %w", err)
	}
	p := ProgressV2{
		XP:                 v1.XP,
		Level:              v1.Level,
		VisitedDapps:       dedupe(v1.VisitedDapps),
		CategoryVisits:     map[string][]string{},
		OnlyOnMonadVisited: dedupe(v1.OnlyOnMonadVisited),
		QuestProgress:      map[string]int{},
		Badges:             dedupe(v1.Badges),
		Achievements:       dedupe(v1.Achievements),
		LeaderboardID:      strings.TrimSpace(v1.LeaderboardID),
		LeaderboardName:    v1.LeaderboardName,
		Legacy: LegacyV2{
			Votes:                   dedupe(v1.Votes),
			Collections:             dedupe(v1.Collections),
			GlitchUnlocked:          v1.QuestProgress.GlitchUnlocked,
			RecommendationsUnlocked: v1.QuestProgress.RecommendationsUnlocked,
		},
	}
	for cat, ids := range v1.CategoryVisits {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat == "" {
			continue
		}
		p.CategoryVisits[cat] = dedupe(append(p.CategoryVisits[cat], ids...))
	}
	if p.Level <= 0 {
		p.Level = 1
	}
	return p, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FileStore keeps one snapshot per key under dir.
type FileStore struct {
	dir    string
	onSave func(path string)
}

func NewFileStore(dir string) *FileStore { return &FileStore{dir: dir} }

// OnSave registers fn to run with the file path after every successful Save.
// Call it before the store is shared.
func (fs *FileStore) OnSave(fn func(path string)) { fs.onSave = fn }

// Path maps key to a file name. Characters outside [A-Za-z0-9._-] are
// replaced so wallet addresses and guest ids are safe on every filesystem.
func (fs *FileStore) Path(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		name = "default"
	}
	return filepath.Join(fs.dir, name+".json.zst")
}

func (fs *FileStore) Save(key string, s progression.State) error {
	path := fs.Path(key)
	if err := Write(path, key, s); err != nil {
		return err
	}
	if fs.onSave != nil {
		fs.onSave(path)
	}
	return nil
}

// Load returns the stored state for key; ok is false when none exists.
func (fs *FileStore) Load(key string) (progression.State, bool, error) {
	_, s, err := Read(fs.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return progression.State{}, false, nil
	}
	if err != nil {
		return progression.State{}, false, err
	}
	return s, true, nil
}

// Keys lists the stored snapshot keys by file name.
func (fs *FileStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json.zst") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".json.zst"))
	}
	return out, nil
}

// EncodeBytes is Write to memory, for tests and tooling.
func EncodeBytes(key string, s progression.State) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, key, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
