package backup

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
	auth    []string
	fail    int
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if b.fail > 0 {
		b.fail--
		http.Error(w, "SlowDown", http.StatusServiceUnavailable)
		return
	}
	body, _ := io.ReadAll(r.Body)
	b.objects[r.URL.Path] = string(body)
	b.auth = append(b.auth, r.Header.Get("Authorization"))
	w.WriteHeader(http.StatusOK)
}

func (b *fakeBucket) get(p string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.objects[p]
	return v, ok
}

func newClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Endpoint:        endpoint,
		Bucket:          "gallery",
		AccessKeyID:     "AKID",
		SecretAccessKey: "secret",
		Now:             func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(ClientConfig{Endpoint: "example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error without keys")
	}
}

func TestClient_PutFileSigned(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]string{}}
	srv := httptest.NewServer(bucket)
	defer srv.Close()

	dir := t.TempDir()
	p := filepath.Join(dir, "a.json")
	writeFile(t, p, `{"xp":10}`)

	c := newClient(t, srv.URL)
	if err := c.PutFile(context.Background(), "/progress/a b.json", p); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	got, ok := bucket.get("/gallery/progress/a b.json")
	if !ok || got != `{"xp":10}` {
		t.Fatalf("object=%q ok=%v", got, ok)
	}
	want := "AWS4-HMAC-SHA256 Credential=AKID/20250301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="
	if len(bucket.auth) != 1 || !strings.HasPrefix(bucket.auth[0], want) {
		t.Fatalf("auth=%v", bucket.auth)
	}
}

func TestClient_RejectsEscapingKey(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1")
	p := filepath.Join(t.TempDir(), "x")
	writeFile(t, p, "x")
	if err := c.PutFile(context.Background(), "../../etc", p); err == nil {
		t.Fatalf("expected error for escaping key")
	}
}

func TestMirror_UploadsWithPrefixAndRetries(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]string{}, fail: 2}
	srv := httptest.NewServer(bucket)
	defer srv.Close()

	dir := t.TempDir()
	seg := filepath.Join(dir, "events", "events-2025-03-01-12.jsonl.zst")
	writeFile(t, seg, "segment")

	m := NewMirror(newClient(t, srv.URL), MirrorOptions{DataDir: dir, Prefix: "/prod/", RetryBase: time.Millisecond})
	m.Enqueue(seg)
	m.Enqueue(filepath.Join(t.TempDir(), "outside.json"))
	m.Close()

	if got, ok := bucket.get("/gallery/prod/events/events-2025-03-01-12.jsonl.zst"); !ok || got != "segment" {
		t.Fatalf("segment not uploaded: %q ok=%v", got, ok)
	}
	st := m.Stats()
	if st.UploadSuccessTotal != 1 || st.UploadFailTotal != 0 || st.EnqueuedTotal != 2 {
		t.Fatalf("stats=%+v", st)
	}

	// A closed mirror ignores new paths.
	m.Enqueue(seg)
	if m.Stats().EnqueuedTotal != 2 {
		t.Fatalf("enqueue after close counted")
	}
}

type blockingUploader struct {
	started chan string
	release chan struct{}
	mu      sync.Mutex
	keys    []string
}

func (u *blockingUploader) PutFile(ctx context.Context, key, localPath string) error {
	u.started <- key
	<-u.release
	u.mu.Lock()
	u.keys = append(u.keys, key)
	u.mu.Unlock()
	return nil
}

func TestMirror_CoalescesPendingPaths(t *testing.T) {
	dir := t.TempDir()
	busy := filepath.Join(dir, "progress", "busy.json.zst")
	snap := filepath.Join(dir, "progress", "device.json.zst")
	writeFile(t, busy, "b")
	writeFile(t, snap, "d")

	up := &blockingUploader{started: make(chan string, 4), release: make(chan struct{})}
	m := NewMirror(up, MirrorOptions{DataDir: dir, Workers: 1})

	m.Enqueue(busy)
	<-up.started

	// The only worker is busy, so these wait in the queue.
	m.Enqueue(snap)
	m.Enqueue(snap)
	m.Enqueue(snap)

	close(up.release)
	m.Close()

	st := m.Stats()
	if st.CoalescedTotal != 2 || st.UploadSuccessTotal != 2 {
		t.Fatalf("stats=%+v", st)
	}
	if len(up.keys) != 2 || up.keys[1] != "progress/device.json.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
}

func TestMirror_NilIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if m.Stats() != (Stats{}) {
		t.Fatalf("nil stats not zero")
	}
}
