package indexdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/protocol"
)

type RemoteConfig struct {
	// Endpoint is the base URL of a leaderboard store, e.g. http://host:8080.
	Endpoint    string
	Token       string
	HTTPTimeout time.Duration
	Logger      *log.Logger
}

// RemoteStore talks to another server's leaderboard store over HTTP and
// follows its change feed over a websocket.
type RemoteStore struct {
	cfg        RemoteConfig
	base       *url.URL
	httpClient *http.Client
}

func OpenRemote(cfg RemoteConfig) (*RemoteStore, error) {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty leaderboard endpoint")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("leaderboard endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("leaderboard endpoint: unsupported scheme %q", u.Scheme)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &RemoteStore{
		cfg:        cfg,
		base:       u,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

func (r *RemoteStore) printf(format string, args ...any) {
	if r != nil && r.cfg.Logger != nil {
		r.cfg.Logger.Printf(format, args...)
	}
}

func (r *RemoteStore) Upsert(ctx context.Context, row leaderboard.Row) error {
	if strings.TrimSpace(row.WalletAddress) == "" {
		return ErrEmptyID
	}
	return r.do(ctx, http.MethodPut, "/v1/leaderboard/rows", row, nil)
}

func (r *RemoteStore) Fetch(ctx context.Context, limit int) ([]leaderboard.Row, error) {
	var resp protocol.RowsResponse
	p := "/v1/leaderboard/rows?limit=" + strconv.Itoa(limit)
	if err := r.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (r *RemoteStore) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyID
	}
	return r.do(ctx, http.MethodDelete, "/v1/leaderboard/rows/"+url.PathEscape(id), nil, nil)
}

// do sends one request with up to three attempts. Client errors (4xx) are
// not retried.
func (r *RemoteStore) do(ctx context.Context, method, path string, body, out any) error {
	var buf []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = b
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, r.cfg.Endpoint+path, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("content-type", "application/json")
		}
		if r.cfg.Token != "" {
			req.Header.Set(protocol.TokenHeader, r.cfg.Token)
		}

		resp, err := r.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				if out == nil || len(respBody) == 0 {
					return nil
				}
				return json.Unmarshal(respBody, out)
			}
			err = fmt.Errorf("%s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
			if resp.StatusCode < 500 {
				return err
			}
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
		}
	}
	return lastErr
}

func (r *RemoteStore) feedURL() string {
	u := *r.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/leaderboard/ws"
	return u.String()
}

// Subscribe opens the change feed. Rows in the initial SNAPSHOT are delivered
// as INSERT changes, so a caller that missed writes while disconnected
// catches up. The feed ends when ctx is done or cancel is called.
func (r *RemoteStore) Subscribe(ctx context.Context, fn func(leaderboard.Change)) (func(), error) {
	return r.SubscribeFeed(ctx, fn, nil)
}

// SubscribeFeed is Subscribe with an end notification: onEnd runs once with
// the cause when the server closes the feed, the connection breaks, or the
// server reports an error. It does not run after cancel or ctx.Done.
func (r *RemoteStore) SubscribeFeed(ctx context.Context, fn func(leaderboard.Change), onEnd func(error)) (func(), error) {
	dialer := websocket.Dialer{HandshakeTimeout: r.cfg.HTTPTimeout}
	hdr := http.Header{}
	if r.cfg.Token != "" {
		hdr.Set(protocol.TokenHeader, r.cfg.Token)
	}
	conn, _, err := dialer.DialContext(ctx, r.feedURL(), hdr)
	if err != nil {
		return nil, fmt.Errorf("leaderboard feed dial: %w", err)
	}

	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		Token:           r.cfg.Token,
		Limit:           leaderboard.MaxEntries,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("leaderboard feed subscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var snap protocol.SnapshotMsg
	if err := readTyped(conn, protocol.TypeSnapshot, &snap); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	for i := range snap.Rows {
		row := snap.Rows[i]
		fn(leaderboard.Change{Type: leaderboard.ChangeInsert, New: &row})
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	go func() {
		var endErr error
		defer func() {
			select {
			case <-done:
				return
			default:
			}
			cancel()
			if onEnd != nil {
				onEnd(endErr)
			}
		}()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
				default:
					r.printf("leaderboard feed closed: %v", err)
				}
				endErr = fmt.Errorf("leaderboard feed closed: %w", err)
				return
			}
			base, err := protocol.DecodeBase(b)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeChange:
				var msg protocol.ChangeMsg
				if err := json.Unmarshal(b, &msg); err != nil {
					r.printf("leaderboard feed: bad CHANGE: %v", err)
					continue
				}
				fn(msg.Change)
			case protocol.TypeError:
				var msg protocol.ErrorMsg
				_ = json.Unmarshal(b, &msg)
				r.printf("leaderboard feed error code=%s msg=%s", msg.Code, msg.Message)
				endErr = fmt.Errorf("leaderboard feed error: %s: %s", msg.Code, msg.Message)
				return
			}
		}
	}()
	return cancel, nil
}

func readTyped(conn *websocket.Conn, want string, out any) error {
	_, b, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("leaderboard feed read: %w", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		return fmt.Errorf("leaderboard feed decode: %w", err)
	}
	if base.Type == protocol.TypeError {
		var msg protocol.ErrorMsg
		_ = json.Unmarshal(b, &msg)
		return fmt.Errorf("leaderboard feed rejected: %s: %s", msg.Code, msg.Message)
	}
	if base.Type != want {
		return fmt.Errorf("leaderboard feed: expected %s, got %s", want, base.Type)
	}
	return json.Unmarshal(b, out)
}
