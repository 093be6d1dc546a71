package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gallerymaze.ai/internal/observerproto"
	"gallerymaze.ai/internal/protocol"
)

// The bot walks the gallery through the public API the way a player would:
// visit every placed exhibit, answer its quiz by trial, and claim whatever
// quests open up. With -watch it also tails the admin observer stream.
func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "server base url")
		interval = flag.Duration("interval", 500*time.Millisecond, "pause between exhibits")
		identity = flag.String("identity", "", "leaderboard identity to set before walking (optional)")
		name     = flag.String("name", "bot", "leaderboard display name")
		watch    = flag.Bool("watch", false, "tail the observer stream (server must be local)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &client{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	if *watch {
		go watchObserver(ctx, c.base, logger)
	}

	if *identity != "" {
		var resp protocol.OutcomeResponse
		if _, err := c.do(http.MethodPost, "/v1/identity", protocol.IdentityRequest{ID: *identity, Name: *name}, &resp); err != nil {
			logger.Fatalf("identity: %v", err)
		}
		logger.Printf("identity=%s xp=%d", resp.Player.LeaderboardID, resp.Player.Level.XP)
	}

	var placements protocol.PlacementsResponse
	if _, err := c.do(http.MethodGet, "/v1/placements", nil, &placements); err != nil {
		logger.Fatalf("placements: %v", err)
	}
	logger.Printf("walking %d exhibits", len(placements.Placements))

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for _, p := range placements.Placements {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var out protocol.OutcomeResponse
		if _, err := c.do(http.MethodPost, "/v1/visit", protocol.VisitRequest{ExhibitID: p.ExhibitID}, &out); err != nil {
			logger.Printf("visit %s: %v", p.ExhibitID, err)
			continue
		}
		logger.Printf("visit %s xp+%d total=%d level=%d", p.ExhibitID, out.Outcome.XPGained, out.Player.Level.XP, out.Player.Level.Level)

		if err := c.earnBadge(p.ExhibitID, logger); err != nil {
			logger.Printf("badge %s: %v", p.ExhibitID, err)
		}
		c.claimQuests(logger)
	}

	var st protocol.PlayerView
	if _, err := c.do(http.MethodGet, "/v1/state", nil, &st); err == nil {
		logger.Printf("done xp=%d level=%d badges=%d achievements=%d", st.Level.XP, st.Level.Level, len(st.Badges), len(st.Achievements))
	}
	if *watch {
		<-ctx.Done()
	}
}

type client struct {
	base string
	http *http.Client
}

// do sends body as JSON and decodes a 2xx reply into out. Non-2xx replies
// are returned as an error carrying the status code.
func (c *client) do(method, path string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var e protocol.ErrorMsg
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp.StatusCode, fmt.Errorf("status=%d code=%s %s", resp.StatusCode, e.Code, e.Message)
	}
	if out != nil {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

// earnBadge answers the exhibit's quiz option by option until one is
// accepted. Without a quiz the badge is claimed directly.
func (c *client) earnBadge(exhibitID string, logger *log.Logger) error {
	var quiz protocol.QuizView
	code, err := c.do(http.MethodGet, "/v1/quizzes/"+url.PathEscape(exhibitID), nil, &quiz)
	if code == http.StatusNotFound {
		_, err := c.do(http.MethodPost, "/v1/badges/claim", protocol.ClaimBadgeRequest{ExhibitID: exhibitID}, nil)
		return err
	}
	if err != nil {
		return err
	}
	for i := range quiz.Options {
		answer := i
		var out protocol.OutcomeResponse
		code, err := c.do(http.MethodPost, "/v1/badges/claim", protocol.ClaimBadgeRequest{ExhibitID: exhibitID, Answer: &answer}, &out)
		if code == http.StatusUnprocessableEntity {
			continue
		}
		if err != nil {
			return err
		}
		logger.Printf("badge %s answer=%q tries=%d", exhibitID, quiz.Options[i], i+1)
		return nil
	}
	return fmt.Errorf("no option accepted")
}

func (c *client) claimQuests(logger *log.Logger) {
	var q protocol.QuestsResponse
	if _, err := c.do(http.MethodGet, "/v1/quests", nil, &q); err != nil {
		logger.Printf("quests: %v", err)
		return
	}
	for _, id := range q.Claimable {
		var out protocol.OutcomeResponse
		if _, err := c.do(http.MethodPost, "/v1/quests/claim", protocol.ClaimQuestRequest{QuestID: id}, &out); err != nil {
			logger.Printf("claim %s: %v", id, err)
			continue
		}
		logger.Printf("quest %s xp+%d", id, out.Outcome.XPGained)
	}
}

func watchObserver(ctx context.Context, base string, logger *log.Logger) {
	u := "ws" + strings.TrimPrefix(base, "http") + "/admin/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		logger.Printf("observer dial: %v", err)
		return
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version}); err != nil {
		logger.Printf("observer subscribe: %v", err)
		return
	}
	for {
		var msg observerproto.UpdateMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		logger.Printf("observed seq=%d event=%s xp+%d achievements=%v", msg.Seq, msg.Event, msg.Outcome.XPGained, msg.Outcome.NewAchievements)
	}
}
