package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	persistlog "gallerymaze.ai/internal/persistence/log"
	"gallerymaze.ai/internal/persistence/snapshot"
	"gallerymaze.ai/internal/session"
	"gallerymaze.ai/internal/sim/catalogs"
	"gallerymaze.ai/internal/sim/progression"
	"gallerymaze.ai/internal/sim/tuning"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory (events/ and progress/)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		key        = flag.String("key", session.DeviceKey, "journal key to replay")
		guestID    = flag.String("guest", "", "guest id of the initial state (default: taken from the stored snapshot)")
		fromSeq    = flag.Uint64("from_seq", 0, "start verifying from seq (inclusive, optional)")
		toSeq      = flag.Uint64("to_seq", 0, "stop at seq (inclusive, optional)")
	)
	flag.Parse()

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if os.IsNotExist(err) {
		tune, err = tuning.Defaults(), nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	rules := progression.RulesFromTuning(tune.Progression)

	recs, err := persistlog.ReadAll(*dataDir)
	if err != nil {
		// A torn final frame still leaves the records before it usable.
		fmt.Fprintln(os.Stderr, "read events (continuing with", len(recs), "records):", err)
	}

	stored, haveStored, err := snapshot.NewFileStore(filepath.Join(*dataDir, "progress")).Load(*key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	guest := strings.TrimSpace(*guestID)
	if guest == "" && haveStored {
		guest = stored.GuestID
	}

	res := verify(progression.NewState(guest), recs, rules, cats, *key, *fromSeq, *toSeq)
	for _, m := range res.Mismatches {
		fmt.Println(m)
	}
	fmt.Printf("replay key=%s records=%d applied=%d verified=%d mismatches=%d xp=%d level=%d visited=%d badges=%d\n",
		*key, len(recs), res.Applied, res.Verified, len(res.Mismatches), res.State.XP, res.State.Level, res.State.VisitedDapps.Size(), res.State.Badges.Size())

	if haveStored && *toSeq == 0 {
		if diff := compareStates(res.State, stored); diff != "" {
			fmt.Println("snapshot mismatch:", diff)
			os.Exit(1)
		}
		fmt.Println("snapshot ok")
	}
	if len(res.Mismatches) > 0 {
		os.Exit(1)
	}
}

type result struct {
	State      progression.State
	Applied    int
	Verified   int
	Mismatches []string
}

// verify re-applies records for key in order and checks each journaled XP and
// level against the recomputed state.
func verify(s progression.State, recs []progression.Record, rules progression.Rules, cat progression.Catalog, key string, fromSeq, toSeq uint64) result {
	res := result{State: s}
	for _, rec := range recs {
		if key != "" && rec.Key != key {
			continue
		}
		if toSeq != 0 && rec.Seq > toSeq {
			break
		}
		ev, err := progression.DecodeEvent(rec.Type, rec.Event)
		if err != nil {
			res.Mismatches = append(res.Mismatches, fmt.Sprintf("seq=%d decode: %v", rec.Seq, err))
			continue
		}
		at := rec.At
		next, out := progression.Apply(res.State, ev, progression.Env{Rules: rules, Catalog: cat, Now: func() time.Time { return at }})
		res.State = next
		res.Applied++
		if rec.Seq < fromSeq {
			continue
		}
		res.Verified++
		if next.XP != rec.XP || next.Level != rec.Level || out.Accepted != rec.Accepted {
			res.Mismatches = append(res.Mismatches, fmt.Sprintf("seq=%d type=%s got xp=%d level=%d accepted=%v want xp=%d level=%d accepted=%v",
				rec.Seq, rec.Type, next.XP, next.Level, out.Accepted, rec.XP, rec.Level, rec.Accepted))
		}
	}
	return res
}

func compareStates(got, want progression.State) string {
	switch {
	case got.XP != want.XP:
		return fmt.Sprintf("xp %d != %d", got.XP, want.XP)
	case got.Level != want.Level:
		return fmt.Sprintf("level %d != %d", got.Level, want.Level)
	case got.VisitedDapps.Size() != want.VisitedDapps.Size():
		return fmt.Sprintf("visited %d != %d", got.VisitedDapps.Size(), want.VisitedDapps.Size())
	case got.Badges.Size() != want.Badges.Size():
		return fmt.Sprintf("badges %d != %d", got.Badges.Size(), want.Badges.Size())
	case got.Achievements.Size() != want.Achievements.Size():
		return fmt.Sprintf("achievements %d != %d", got.Achievements.Size(), want.Achievements.Size())
	case got.LeaderboardID != want.LeaderboardID:
		return fmt.Sprintf("identity %q != %q", got.LeaderboardID, want.LeaderboardID)
	}
	return ""
}
