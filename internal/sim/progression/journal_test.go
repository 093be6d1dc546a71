package progression

import (
	"testing"
	"time"
)

func TestJournal_ReplayReproducesState(t *testing.T) {
	clock := testNow
	env := Env{Rules: DefaultRules(), Now: func() time.Time { return clock }}
	eng := NewEngine(NewState("guest-1"), env, nil)

	var records []Record
	var seq uint64
	eng.AddObserver(ObserverFunc(func(ev Event, next State, out Outcome) {
		seq++
		rec, err := NewRecord(seq, "device", ev, next, out)
		if err != nil {
			t.Errorf("record: %v", err)
			return
		}
		records = append(records, rec)
	}))

	eng.RegisterVisit(visit("a", true, "defi").Exhibit)
	clock = clock.Add(time.Minute)
	eng.RegisterVisit(visit("b", false, "nft").Exhibit)
	eng.ClaimQuestReward("first-steps")
	eng.ClaimBadge("a")
	eng.SetLeaderboardIdentity("0x1234567890abcdef", "")
	eng.AddVote("a")

	want := eng.State()
	got, err := Replay(NewState("guest-1"), records, DefaultRules(), nil, "device")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got.XP != want.XP || got.Level != want.Level {
		t.Fatalf("xp/level got %d/%d want %d/%d", got.XP, got.Level, want.XP, want.Level)
	}
	if got.Badges.Size() != 1 || !got.ClaimedRewards["first-steps"] || got.LeaderboardName != "0x1234...cdef" {
		t.Fatalf("replayed state=%+v", got)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatalf("updated_at got %v want %v", got.UpdatedAt, want.UpdatedAt)
	}
}

func TestJournal_ReplaySkipsOtherKeys(t *testing.T) {
	rec, err := NewRecord(1, "other", visit("a", false), NewState(""), Outcome{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Replay(NewState(""), []Record{rec}, DefaultRules(), nil, "device")
	if err != nil {
		t.Fatal(err)
	}
	if got.XP != 0 {
		t.Fatalf("xp=%d want 0", got.XP)
	}
}

func TestDecodeEvent_Unknown(t *testing.T) {
	if _, err := DecodeEvent("teleport", nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestJournal_RestoreRecordReplays(t *testing.T) {
	env := testEnv(nil)
	saved, _ := Apply(NewState("other-device"), visit("a", true, "defi"), env)
	saved, _ = Apply(saved, ClaimBadgeEvent{ExhibitID: "a"}, env)
	saved, _ = Apply(saved, IdentityEvent{ID: "alice"}, env)

	live, _ := Apply(NewState("guest-1"), visit("b", false, "nft"), env)
	next, out := Apply(live, RestoreEvent{Progress: ProgressOf(saved)}, env)
	if !out.Changed || next.XP != saved.XP || next.GuestID != "guest-1" || next.LeaderboardID != "alice" {
		t.Fatalf("restored=%+v out=%+v", next, out)
	}
	if next.VisitedDapps.Has("b") || !next.Badges.Has("a") {
		t.Fatalf("restore kept live progress: visited=%v badges=%v", Sorted(next.VisitedDapps), Sorted(next.Badges))
	}

	rec, err := NewRecord(2, "device", RestoreEvent{Progress: ProgressOf(saved)}, next, out)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Replay(live, []Record{rec}, DefaultRules(), nil, "device")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got.XP != next.XP || got.Level != next.Level || got.GuestID != "guest-1" || got.Badges.Size() != 1 {
		t.Fatalf("replayed=%+v want xp=%d level=%d", got, next.XP, next.Level)
	}
}
