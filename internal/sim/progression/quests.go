package progression

// Quest is a tracked objective with an unlock gate, a numeric target and a
// one-time XP reward.
type Quest struct {
	ID          string
	Title       string
	Description string
	Target      int
	XPReward    int

	// Unlock gates progress tracking. Nil means always unlocked.
	Unlock func(State) bool
	// Progress measures the objective against a snapshot.
	Progress func(State) int
}

func (q Quest) unlocked(s State) bool { return q.Unlock == nil || q.Unlock(s) }

func after(questID string) func(State) bool {
	return func(s State) bool { return s.CompletedQuests[questID] }
}

func uniqueVisits(s State) int      { return s.VisitedDapps.Size() }
func categoriesVisited(s State) int { return s.CategoryCount() }
func monadVisits(s State) int       { return s.OnlyOnMonadVisited.Size() }
func badgeCount(s State) int        { return s.Badges.Size() }

// DefaultQuests is the quest line, in evaluation order.
func DefaultQuests() []Quest {
	return []Quest{
		{
			ID:          "first-steps",
			Title:       "First Steps",
			Description: "Walk up to your first exhibit.",
			Target:      1,
			XPReward:    20,
			Progress:    uniqueVisits,
		},
		{
			ID:          "monad-native",
			Title:       "Monad Native",
			Description: "Visit 3 exhibits that only live on Monad.",
			Target:      3,
			XPReward:    60,
			Progress:    monadVisits,
		},
		{
			ID:          "category-hopper",
			Title:       "Category Hopper",
			Description: "Visit exhibits from 3 different categories.",
			Target:      3,
			XPReward:    40,
			Unlock:      after("first-steps"),
			Progress:    categoriesVisited,
		},
		{
			ID:          "quiz-scholar",
			Title:       "Quiz Scholar",
			Description: "Earn 3 badges by answering exhibit quizzes.",
			Target:      3,
			XPReward:    75,
			Unlock:      after("first-steps"),
			Progress:    badgeCount,
		},
		{
			ID:          "gallery-regular",
			Title:       "Gallery Regular",
			Description: "Visit 10 different exhibits.",
			Target:      10,
			XPReward:    100,
			Unlock:      after("category-hopper"),
			Progress:    uniqueVisits,
		},
		{
			ID:          "grand-tour",
			Title:       "Grand Tour",
			Description: "Visit 25 different exhibits.",
			Target:      25,
			XPReward:    250,
			Unlock:      after("gallery-regular"),
			Progress:    uniqueVisits,
		},
	}
}

// evaluateQuests recomputes progress for unlocked quests in order and marks
// newly completed ones. Completions made earlier in the pass are visible to
// later unlock predicates. Locked quests keep their previous progress.
func evaluateQuests(s *State, quests []Quest) []string {
	var completed []string
	for _, q := range quests {
		if !q.unlocked(*s) || q.Progress == nil {
			continue
		}
		p := q.Progress(*s)
		s.QuestProgress[q.ID] = p
		if p >= q.Target && !s.CompletedQuests[q.ID] {
			s.CompletedQuests[q.ID] = true
			completed = append(completed, q.ID)
		}
	}
	return completed
}

type QuestStatus string

const (
	QuestLocked     QuestStatus = "locked"
	QuestInProgress QuestStatus = "in_progress"
	QuestCompleted  QuestStatus = "completed"
	QuestClaimed    QuestStatus = "claimed"
)

type QuestView struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Target      int         `json:"target"`
	XPReward    int         `json:"xp_reward"`
	Unlocked    bool        `json:"unlocked"`
	Progress    int         `json:"progress"`
	Completed   bool        `json:"completed"`
	Claimed     bool        `json:"claimed"`
	Status      QuestStatus `json:"status"`
}

// QuestList reports every quest against s. Progress is clamped to the target.
func QuestList(s State, quests []Quest) []QuestView {
	out := make([]QuestView, 0, len(quests))
	for _, q := range quests {
		v := QuestView{
			ID:          q.ID,
			Title:       q.Title,
			Description: q.Description,
			Target:      q.Target,
			XPReward:    q.XPReward,
			Unlocked:    q.unlocked(s),
			Progress:    s.QuestProgress[q.ID],
			Completed:   s.CompletedQuests[q.ID],
			Claimed:     s.ClaimedRewards[q.ID],
		}
		if v.Progress > q.Target {
			v.Progress = q.Target
		}
		switch {
		case v.Claimed:
			v.Status = QuestClaimed
		case v.Completed:
			v.Status = QuestCompleted
		case v.Unlocked:
			v.Status = QuestInProgress
		default:
			v.Status = QuestLocked
		}
		out = append(out, v)
	}
	return out
}

// Claimable lists completed quests whose reward has not been claimed.
func Claimable(s State, quests []Quest) []string {
	var out []string
	for _, q := range quests {
		if s.CompletedQuests[q.ID] && !s.ClaimedRewards[q.ID] {
			out = append(out, q.ID)
		}
	}
	return out
}

func findQuest(quests []Quest, id string) (Quest, bool) {
	for _, q := range quests {
		if q.ID == id {
			return q, true
		}
	}
	return Quest{}, false
}
