package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zyedidia/generic/mapset"

	"gallerymaze.ai/internal/observerproto"
	"gallerymaze.ai/internal/session"
)

type Server struct {
	sess *session.Session
	log  *log.Logger

	upgrader websocket.Upgrader
	active   atomic.Int64
	dropped  atomic.Uint64
}

func NewServer(sess *session.Session, logger *log.Logger) *Server {
	return &Server{
		sess: sess,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// Active is the number of connected observers.
func (s *Server) Active() int64 { return s.active.Load() }

// Dropped counts updates discarded because an observer fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		w := s.sess.World()
		cats := s.sess.Catalogs()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Gallery: observerproto.GalleryParams{
				MazeSize:    w.Grid.Size(),
				MazeDigest:  w.Grid.Digest(),
				GridRLE:     w.Grid.EncodeRLE(),
				Walkable:    len(w.Layout.Walkable),
				Slots:       len(w.Layout.Slots),
				Exhibits:    len(cats.Exhibits.Order),
				Placements:  len(w.Placements),
				Decorations: len(w.Decorations),
				Quizzes:     len(cats.Quizzes.ByExhibit),
			},
			Player: s.sess.Player(),
			Stats:  s.sess.Stats(),
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		var filter atomic.Pointer[mapset.Set[string]]
		filter.Store(eventFilter(sub.Events))

		out := make(chan []byte, 256)
		stop := s.sess.Watch(func(u session.Update) {
			if f := filter.Load(); f != nil && !f.Has(u.Event) {
				return
			}
			b, err := json.Marshal(observerproto.UpdateMsg{
				Type:            "UPDATE",
				ProtocolVersion: observerproto.Version,
				Update:          u,
			})
			if err != nil {
				return
			}
			select {
			case out <- b:
			default:
				// Drop updates under load; the client can re-bootstrap.
				s.dropped.Add(1)
			}
		})
		defer stop()

		s.active.Add(1)
		defer s.active.Add(-1)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

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
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var sub observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
				continue
			}
			filter.Store(eventFilter(sub.Events))
		}

		stop()
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case err := <-writeErr:
			if err != nil && err != context.Canceled {
				s.printf("observer: write: %v", err)
			}
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// eventFilter returns nil for "everything".
func eventFilter(events []string) *mapset.Set[string] {
	if len(events) == 0 {
		return nil
	}
	set := mapset.New[string]()
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			set.Put(e)
		}
	}
	if set.Size() == 0 {
		return nil
	}
	return &set
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
