package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Catalogs struct {
	Exhibits ExhibitCatalog
	Quizzes  QuizCatalog
}

type ExhibitCatalog struct {
	ByID   map[string]Exhibit
	Order  []string // file order
	Digest string
}

// Exhibit is a featured project shown on a gallery wall.
type Exhibit struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Categories      []string `json:"categories"`
	PopularityScore float64  `json:"popularity_score"`
	OnlyOnMonad     bool     `json:"only_on_monad"`
	URL             string   `json:"url,omitempty"`
	Hidden          bool     `json:"hidden,omitempty"`
}

// HasCategory compares case-insensitively.
func (e Exhibit) HasCategory(category string) bool {
	for _, c := range e.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

type QuizCatalog struct {
	ByExhibit map[string]Quiz
	Digest    string
}

// Quiz gates a badge claim behind one multiple choice question.
type Quiz struct {
	ExhibitID   string   `json:"exhibit_id"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answer_index"`
	Explanation string   `json:"explanation,omitempty"`
}

func (q Quiz) Correct(answer int) bool { return answer == q.AnswerIndex }

// Load reads exhibits.json and the optional quizzes.json from configDir.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadExhibits(filepath.Join(configDir, "exhibits.json"), &c.Exhibits); err != nil {
		return nil, err
	}
	if err := loadQuizzes(filepath.Join(configDir, "quizzes.json"), &c.Quizzes, &c.Exhibits); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromExhibits builds an in-memory catalog, mostly for tests and tools.
func FromExhibits(exhibits []Exhibit) *Catalogs {
	c := &Catalogs{}
	c.Exhibits.ByID = make(map[string]Exhibit, len(exhibits))
	for _, e := range exhibits {
		if _, dup := c.Exhibits.ByID[e.ID]; !dup {
			c.Exhibits.Order = append(c.Exhibits.Order, e.ID)
		}
		c.Exhibits.ByID[e.ID] = e
	}
	b, _ := json.Marshal(exhibits)
	c.Exhibits.Digest = sha256Hex(b)
	c.Quizzes.ByExhibit = map[string]Quiz{}
	return c
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadExhibits(path string, out *ExhibitCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []Exhibit
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("exhibits.json: %w", err)
	}
	out.ByID = make(map[string]Exhibit, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("exhibits.json: empty id")
		}
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("exhibits.json: duplicate id %q", d.ID)
		}
		out.ByID[d.ID] = d
		out.Order = append(out.Order, d.ID)
	}
	return nil
}

func loadQuizzes(path string, out *QuizCatalog, exhibits *ExhibitCatalog) error {
	out.ByExhibit = map[string]Quiz{}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []Quiz
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("quizzes.json: %w", err)
	}
	for _, q := range defs {
		if q.ExhibitID == "" {
			return fmt.Errorf("quizzes.json: empty exhibit_id")
		}
		if _, ok := exhibits.ByID[q.ExhibitID]; !ok {
			return fmt.Errorf("quizzes.json: unknown exhibit %q", q.ExhibitID)
		}
		if q.AnswerIndex < 0 || q.AnswerIndex >= len(q.Options) {
			return fmt.Errorf("quizzes.json: %s: answer_index out of range", q.ExhibitID)
		}
		out.ByExhibit[q.ExhibitID] = q
	}
	return nil
}

func (c *Catalogs) Exhibit(id string) (Exhibit, bool) {
	if c == nil {
		return Exhibit{}, false
	}
	e, ok := c.Exhibits.ByID[id]
	return e, ok
}

func (c *Catalogs) Quiz(exhibitID string) (Quiz, bool) {
	if c == nil {
		return Quiz{}, false
	}
	q, ok := c.Quizzes.ByExhibit[exhibitID]
	return q, ok
}

// List returns exhibits in file order.
func (c *Catalogs) List() []Exhibit {
	out := make([]Exhibit, 0, len(c.Exhibits.Order))
	for _, id := range c.Exhibits.Order {
		out = append(out, c.Exhibits.ByID[id])
	}
	return out
}

// Categories returns every distinct category, lower-cased and sorted.
func (c *Catalogs) Categories() []string {
	seen := map[string]bool{}
	for _, e := range c.Exhibits.ByID {
		for _, cat := range e.Categories {
			if cat = strings.ToLower(strings.TrimSpace(cat)); cat != "" {
				seen[cat] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}
