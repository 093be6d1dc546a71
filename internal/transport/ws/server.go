// Package ws serves a leaderboard store over HTTP: REST rows plus a
// websocket change feed.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/protocol"
)

// Store is a leaderboard backend with a change feed.
type Store interface {
	leaderboard.Backend
	leaderboard.Subscriber
}

type Server struct {
	store Store
	token string
	log   *log.Logger

	upgrader websocket.Upgrader

	active  atomic.Int64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewServer serves store. When token is empty, writes are accepted from
// loopback clients only.
func NewServer(store Store, token string, logger *log.Logger) *Server {
	return &Server{
		store: store,
		token: token,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

type Stats struct {
	ActiveFeeds    int64  `json:"active_feeds"`
	ChangesSent    uint64 `json:"changes_sent"`
	ChangesDropped uint64 `json:"changes_dropped"`
}

func (s *Server) Stats() Stats {
	return Stats{
		ActiveFeeds:    s.active.Load(),
		ChangesSent:    s.sent.Load(),
		ChangesDropped: s.dropped.Load(),
	}
}

// Register mounts the store routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/leaderboard/rows", s.listRows)
	mux.HandleFunc("PUT /v1/leaderboard/rows", s.putRow)
	mux.HandleFunc("DELETE /v1/leaderboard/rows/{id}", s.deleteRow)
	mux.HandleFunc("GET /v1/leaderboard/ws", s.FeedHandler())
}

func (s *Server) authorized(r *http.Request, token string) bool {
	if s.token == "" {
		return isLoopbackRemote(r.RemoteAddr)
	}
	if token == "" {
		token = r.Header.Get(protocol.TokenHeader)
	}
	return token == s.token
}

func writeJSONResponse(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSONResponse(rw, status, protocol.NewError(code, msg))
}

func (s *Server) listRows(rw http.ResponseWriter, r *http.Request) {
	limit := leaderboard.MaxEntries
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad limit")
			return
		}
		limit = n
	}
	if limit <= 0 || limit > leaderboard.MaxEntries {
		limit = leaderboard.MaxEntries
	}
	rows, err := s.store.Fetch(r.Context(), limit)
	if err != nil {
		s.printf("leaderboard rows: fetch: %v", err)
		writeError(rw, http.StatusBadGateway, protocol.ErrBackend, err.Error())
		return
	}
	if rows == nil {
		rows = []leaderboard.Row{}
	}
	writeJSONResponse(rw, http.StatusOK, protocol.RowsResponse{Rows: rows})
}

func (s *Server) putRow(rw http.ResponseWriter, r *http.Request) {
	if !s.authorized(r, "") {
		writeError(rw, http.StatusUnauthorized, protocol.ErrUnauthorized, "bad token")
		return
	}
	var row leaderboard.Row
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64*1024)).Decode(&row); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad json")
		return
	}
	if strings.TrimSpace(row.WalletAddress) == "" {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing wallet_address")
		return
	}
	if err := s.store.Upsert(r.Context(), row); err != nil {
		s.printf("leaderboard rows: upsert %s: %v", row.WalletAddress, err)
		writeError(rw, http.StatusBadGateway, protocol.ErrBackend, err.Error())
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteRow(rw http.ResponseWriter, r *http.Request) {
	if !s.authorized(r, "") {
		writeError(rw, http.StatusUnauthorized, protocol.ErrUnauthorized, "bad token")
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing id")
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.printf("leaderboard rows: delete %s: %v", id, err)
		writeError(rw, http.StatusBadGateway, protocol.ErrBackend, err.Error())
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

// FeedHandler upgrades to a websocket. The client must send SUBSCRIBE within
// five seconds; the server answers with SNAPSHOT and then one CHANGE per
// store mutation until either side closes.
func (s *Server) FeedHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeSubscribe {
			_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, "expected SUBSCRIBE"))
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, "bad SUBSCRIBE"))
			return
		}
		if sub.ProtocolVersion != protocol.Version {
			_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "bad protocol_version"))
			return
		}
		if s.token != "" && !s.authorized(r, sub.Token) {
			_ = writeJSON(conn, protocol.NewError(protocol.ErrUnauthorized, "bad token"))
			return
		}
		limit := sub.Limit
		if limit <= 0 || limit > leaderboard.MaxEntries {
			limit = leaderboard.MaxEntries
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Subscribe before the snapshot read so no change falls in between.
		out := make(chan []byte, 256)
		var seq atomic.Uint64
		unsubscribe, err := s.store.Subscribe(ctx, func(ch leaderboard.Change) {
			b, err := json.Marshal(protocol.ChangeMsg{
				Type:            protocol.TypeChange,
				ProtocolVersion: protocol.Version,
				Seq:             seq.Add(1),
				Change:          ch,
			})
			if err != nil {
				return
			}
			select {
			case out <- b:
			default:
				s.dropped.Add(1)
				cancel()
			}
		})
		if err != nil {
			_ = writeJSON(conn, protocol.NewError(protocol.ErrBackend, err.Error()))
			return
		}
		defer unsubscribe()

		rows, err := s.store.Fetch(ctx, limit)
		if err != nil {
			_ = writeJSON(conn, protocol.NewError(protocol.ErrBackend, err.Error()))
			return
		}
		if rows == nil {
			rows = []leaderboard.Row{}
		}
		if err := writeJSON(conn, protocol.SnapshotMsg{Type: protocol.TypeSnapshot, ProtocolVersion: protocol.Version, Rows: rows}); err != nil {
			return
		}

		s.active.Add(1)
		defer s.active.Add(-1)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
					s.sent.Add(1)
				}
			}
		}()

		// Reader loop: the feed is one-way; reads only detect the close.
		go func() {
			for {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
