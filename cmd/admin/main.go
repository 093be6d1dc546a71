package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gallerymaze.ai/internal/persistence/archive"
	"gallerymaze.ai/internal/persistence/snapshot"
	"gallerymaze.ai/internal/protocol"
	"gallerymaze.ai/internal/session"
	"gallerymaze.ai/internal/sim/catalogs"
	"gallerymaze.ai/internal/sim/progression"
	"gallerymaze.ai/internal/sim/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "maze":
			mazeCmd(os.Args[2:])
			return
		case "quizzes":
			quizzesCmd(os.Args[2:])
			return
		case "progress":
			progressCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "delete-row":
			deleteRowCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the stored progress snapshot keys.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	keys, err := snapshot.NewFileStore(filepath.Join(*dataDir, "progress")).Keys()
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Println(k)
	}
}

func loadContent(configDir, tuningPath string) (*catalogs.Catalogs, tuning.Tuning) {
	cats, err := catalogs.Load(configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tp := strings.TrimSpace(tuningPath)
	if tp == "" {
		tp = filepath.Join(configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if os.IsNotExist(err) {
		tune, err = tuning.Defaults(), nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	return cats, tune
}

// mazeCmd renders the gallery built from the current content. With -json it
// prints the placements instead of the grid.
func mazeCmd(args []string) {
	fs := flag.NewFlagSet("maze", flag.ExitOnError)
	configDir := fs.String("configs", "./configs", "config directory")
	tuningPath := fs.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	size := fs.Int("size", 0, "override maze size")
	seed := fs.String("seed", "", "override maze seed")
	asJSON := fs.Bool("json", false, "print placements and decorations as JSON")
	_ = fs.Parse(args)

	cats, tune := loadContent(*configDir, *tuningPath)
	if *size > 0 {
		tune.Maze.Size = *size
	}
	if *seed != "" {
		tune.Maze.Seed = *seed
	}
	w, err := session.BuildWorld(tune, cats)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build:", err)
		os.Exit(1)
	}
	if *asJSON {
		printJSON(map[string]any{
			"maze_digest": w.Grid.Digest(),
			"placements":  w.Placements,
			"decorations": w.Decorations,
		})
		return
	}

	marks := map[[2]int]rune{}
	for _, p := range w.Placements {
		if slot, ok := slotCell(w, p.SlotKey); ok {
			marks[slot] = '*'
		}
	}
	start := w.Grid.Start()
	for r, row := range w.Grid.Rows() {
		line := []rune(row)
		for c := range line {
			if m, ok := marks[[2]int{r, c}]; ok {
				line[c] = m
			}
			if r == start.Row && c == start.Col {
				line[c] = 'S'
			}
		}
		fmt.Println(string(line))
	}
	fmt.Printf("size=%d seed=%q digest=%s floor=%d slots=%d placed=%d decor=%d\n",
		w.Grid.Size(), tune.Maze.Seed, w.Grid.Digest(), w.Grid.FloorCount(), len(w.Layout.Slots), len(w.Placements), len(w.Decorations))
}

func slotCell(w *session.World, key string) ([2]int, bool) {
	for _, s := range w.Layout.Slots {
		if s.Key == key {
			return [2]int{s.Row, s.Col}, true
		}
	}
	return [2]int{}, false
}

func quizzesCmd(args []string) {
	fs := flag.NewFlagSet("quizzes", flag.ExitOnError)
	configDir := fs.String("configs", "./configs", "config directory")
	seed := fs.String("seed", "chog-quiz", "quiz generation seed")
	_ = fs.Parse(args)

	cats, _ := loadContent(*configDir, "")
	quizzes := make([]catalogs.Quiz, 0, len(cats.Quizzes.ByExhibit))
	for _, q := range cats.Quizzes.ByExhibit {
		quizzes = append(quizzes, q)
	}
	if len(quizzes) == 0 {
		quizzes = catalogs.GenerateQuizzes(cats, *seed)
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].ExhibitID < quizzes[j].ExhibitID })
	printJSON(map[string]any{"quizzes": quizzes})
}

// progressCmd decodes one stored snapshot and prints the player view.
func progressCmd(args []string) {
	fs := flag.NewFlagSet("progress", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	key := fs.String("key", session.DeviceKey, "snapshot key")
	path := fs.String("file", "", "snapshot file (overrides -data/-key)")
	_ = fs.Parse(args)

	p := strings.TrimSpace(*path)
	if p == "" {
		p = snapshot.NewFileStore(filepath.Join(*dataDir, "progress")).Path(*key)
	}
	h, st, err := snapshot.Read(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(struct {
		Header snapshot.Header     `json:"header"`
		XP     int                 `json:"xp"`
		Player protocol.PlayerView `json:"player"`
	}{h, st.XP, session.View(st, progression.DefaultRules())})
}

// archivesCmd lists progress archived before resets, oldest first.
func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	metas, err := archive.List(filepath.Join(*dataDir, "archive"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read archive:", err)
		os.Exit(1)
	}
	for _, m := range metas {
		fmt.Printf("%s\t%s\txp=%d level=%d visited=%d badges=%d\n", m.ArchivedAt, m.Key, m.XP, m.Level, m.Visited, m.Badges)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
