package catalogs

import (
	"fmt"
	"strings"

	"gallerymaze.ai/internal/sim/seed"
)

const quizDistractors = 3

// GenerateQuizzes builds one "which type is this project" question per
// exhibit. The first category is the right answer; distractors are drawn from
// the other categories in the catalog. Output is fully determined by seedString.
func GenerateQuizzes(c *Catalogs, seedString string) []Quiz {
	all := c.Categories()
	rng := seed.New(seedString)

	var out []Quiz
	for _, e := range c.List() {
		if len(e.Categories) == 0 {
			continue
		}
		answer := strings.ToLower(strings.TrimSpace(e.Categories[0]))
		if answer == "" {
			continue
		}

		pool := make([]string, 0, len(all))
		for _, cat := range all {
			if cat != answer {
				pool = append(pool, cat)
			}
		}
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		if len(pool) > quizDistractors {
			pool = pool[:quizDistractors]
		}

		options := append(pool, answer)
		rng.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })
		idx := 0
		for i, o := range options {
			if o == answer {
				idx = i
				break
			}
		}

		name := e.Name
		if name == "" {
			name = e.ID
		}
		out = append(out, Quiz{
			ExhibitID:   e.ID,
			Question:    fmt.Sprintf("Which project type best describes %s?", name),
			Options:     options,
			AnswerIndex: idx,
			Explanation: fmt.Sprintf("%s is categorized as %s.", name, answer),
		})
	}
	return out
}
