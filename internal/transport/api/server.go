// Package api serves the gallery and progression HTTP API to the renderer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"gallerymaze.ai/internal/protocol"
	"gallerymaze.ai/internal/session"
)

const maxBody = 64 * 1024

type Server struct {
	sess *session.Session
	log  *log.Logger

	requests atomic.Uint64
	rejected atomic.Uint64
}

func NewServer(sess *session.Session, logger *log.Logger) *Server {
	return &Server{sess: sess, log: logger}
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

type Stats struct {
	Requests uint64 `json:"requests"`
	Rejected uint64 `json:"rejected"`
}

func (s *Server) Stats() Stats {
	return Stats{Requests: s.requests.Load(), Rejected: s.rejected.Load()}
}

// Register mounts the /v1 routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/layout", s.count(s.layout))
	mux.HandleFunc("GET /v1/placements", s.count(s.placements))
	mux.HandleFunc("GET /v1/walkable", s.count(s.walkable))
	mux.HandleFunc("GET /v1/state", s.count(s.state))
	mux.HandleFunc("GET /v1/quests", s.count(s.quests))
	mux.HandleFunc("GET /v1/quizzes/{exhibit_id}", s.count(s.quiz))
	mux.HandleFunc("GET /v1/leaderboard", s.count(s.leaderboard))

	mux.HandleFunc("POST /v1/visit", s.count(s.visit))
	mux.HandleFunc("POST /v1/quests/claim", s.count(s.claimQuest))
	mux.HandleFunc("POST /v1/badges/claim", s.count(s.claimBadge))
	mux.HandleFunc("POST /v1/identity", s.count(s.identity))
	mux.HandleFunc("POST /v1/reset", s.count(s.reset))
	mux.HandleFunc("POST /v1/votes", s.count(s.vote))
	mux.HandleFunc("POST /v1/collections", s.count(s.collect))
}

func (s *Server) count(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func (s *Server) writeError(rw http.ResponseWriter, status int, code, msg string) {
	s.rejected.Add(1)
	writeJSON(rw, status, protocol.NewError(code, msg))
}

// decode reads a JSON body into v. It reports false after answering 400.
func (s *Server) decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBody)).Decode(v); err != nil {
		s.writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad json: "+err.Error())
		return false
	}
	return true
}

func (s *Server) layout(rw http.ResponseWriter, r *http.Request) {
	w := s.sess.World()
	writeJSON(rw, http.StatusOK, protocol.LayoutResponse{
		MazeDigest: w.Grid.Digest(),
		Rows:       w.Grid.Rows(),
		GridRLE:    w.Grid.EncodeRLE(),
		Start:      w.Layout.Start(),
		Layout:     w.Layout,
	})
}

func (s *Server) placements(rw http.ResponseWriter, r *http.Request) {
	w := s.sess.World()
	writeJSON(rw, http.StatusOK, protocol.PlacementsResponse{
		Placements:  w.Placements,
		Decorations: w.Decorations,
	})
}

func (s *Server) walkable(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	z, errZ := strconv.ParseFloat(q.Get("z"), 64)
	if errX != nil || errZ != nil {
		s.writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "x and z must be numbers")
		return
	}
	l := s.sess.World().Layout
	p, ok := l.PositionToCell(x, z)
	writeJSON(rw, http.StatusOK, protocol.WalkableResponse{
		Row:      p.Row,
		Col:      p.Col,
		InBounds: ok,
		Walkable: ok && l.IsWalkable(p.Row, p.Col),
	})
}

func (s *Server) state(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.sess.Player())
}

func (s *Server) quests(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.sess.Quests())
}

func (s *Server) quiz(rw http.ResponseWriter, r *http.Request) {
	q, ok := s.sess.Quiz(r.PathValue("exhibit_id"))
	if !ok {
		s.writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "no quiz for exhibit")
		return
	}
	writeJSON(rw, http.StatusOK, q)
}

// leaderboard returns the board. ?refresh=1 reloads it from the backend
// first; a failed reload still answers with the error recorded in the state.
func (s *Server) leaderboard(rw http.ResponseWriter, r *http.Request) {
	if b := s.sess.Board(); b != nil && r.URL.Query().Get("refresh") != "" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		if err := b.Fetch(ctx); err != nil {
			s.printf("api: leaderboard refresh: %v", err)
		}
		cancel()
	}
	writeJSON(rw, http.StatusOK, s.sess.Leaderboard())
}

func (s *Server) visit(rw http.ResponseWriter, r *http.Request) {
	var req protocol.VisitRequest
	if !s.decode(rw, r, &req) {
		return
	}
	writeJSON(rw, http.StatusOK, s.sess.Visit(req))
}

func (s *Server) claimQuest(rw http.ResponseWriter, r *http.Request) {
	var req protocol.ClaimQuestRequest
	if !s.decode(rw, r, &req) {
		return
	}
	writeJSON(rw, http.StatusOK, s.sess.ClaimQuest(req.QuestID))
}

func (s *Server) claimBadge(rw http.ResponseWriter, r *http.Request) {
	var req protocol.ClaimBadgeRequest
	if !s.decode(rw, r, &req) {
		return
	}
	resp, err := s.sess.ClaimBadge(req)
	switch {
	case errors.Is(err, session.ErrAnswerRequired):
		s.writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
	case errors.Is(err, session.ErrWrongAnswer):
		s.writeError(rw, http.StatusUnprocessableEntity, protocol.ErrWrongQuiz, err.Error())
	case err != nil:
		s.writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
	default:
		writeJSON(rw, http.StatusOK, resp)
	}
}

func (s *Server) identity(rw http.ResponseWriter, r *http.Request) {
	var req protocol.IdentityRequest
	if !s.decode(rw, r, &req) {
		return
	}
	writeJSON(rw, http.StatusOK, s.sess.SetIdentity(req))
}

func (s *Server) reset(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.sess.Reset())
}

func (s *Server) vote(rw http.ResponseWriter, r *http.Request) {
	var req protocol.ExhibitRequest
	if !s.decode(rw, r, &req) {
		return
	}
	writeJSON(rw, http.StatusOK, s.sess.Vote(req.ExhibitID))
}

func (s *Server) collect(rw http.ResponseWriter, r *http.Request) {
	var req protocol.ExhibitRequest
	if !s.decode(rw, r, &req) {
		return
	}
	writeJSON(rw, http.StatusOK, s.sess.Collect(req.ExhibitID))
}
