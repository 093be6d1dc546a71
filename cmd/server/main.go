package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gallerymaze.ai/internal/config"
	"gallerymaze.ai/internal/leaderboard"
	"gallerymaze.ai/internal/persistence/backup"
	persistlog "gallerymaze.ai/internal/persistence/log"
	"gallerymaze.ai/internal/persistence/snapshot"
	"gallerymaze.ai/internal/protocol"
	"gallerymaze.ai/internal/session"
	"gallerymaze.ai/internal/sim/catalogs"
	"gallerymaze.ai/internal/sim/tuning"
	"gallerymaze.ai/internal/transport/api"
	"gallerymaze.ai/internal/transport/observer"
	"gallerymaze.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory (exhibits.json, quizzes.json, tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	lb, err := openLeaderboard(cfg, *dataDir, logger)
	if err != nil {
		logger.Fatalf("open leaderboard backend: %v", err)
	}
	defer lb.Close()
	if lb.sqlite != nil {
		if err := lb.sqlite.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	var mirror *backup.Mirror
	if cfg.BackupEnabled() {
		client, err := backup.NewClient(backup.ClientConfig{
			Endpoint:        cfg.BackupEndpoint,
			Bucket:          cfg.BackupBucket,
			Region:          cfg.BackupRegion,
			AccessKeyID:     cfg.BackupAccessKeyID,
			SecretAccessKey: cfg.BackupSecretAccessKey,
		})
		if err != nil {
			logger.Fatalf("init backup: %v", err)
		}
		mirror = backup.NewMirror(client, backup.MirrorOptions{
			DataDir: *dataDir,
			Prefix:  cfg.BackupPrefix,
			Workers: cfg.BackupWorkers,
			Logger:  logger,
		})
		logger.Printf("backup enabled endpoint=%s bucket=%s prefix=%s", cfg.BackupEndpoint, cfg.BackupBucket, cfg.BackupPrefix)
	}

	board := lb.newBoard(tune, logger)
	if lb.backend != nil {
		fctx, fcancel := context.WithTimeout(ctx, cfg.LeaderboardTimeout)
		if err := board.Fetch(fctx); err != nil {
			logger.Printf("leaderboard: initial fetch: %v", err)
		}
		fcancel()
		detach, err := board.AttachRealtime(ctx)
		if err != nil && !errors.Is(err, leaderboard.ErrNoRealtime) {
			logger.Printf("leaderboard: realtime: %v", err)
		}
		defer detach()
	}
	syncer := leaderboard.NewSyncer(board, logger)

	store := snapshot.NewFileStore(filepath.Join(*dataDir, "progress"))
	if mirror != nil {
		store.OnSave(mirror.Enqueue)
	}

	opts := session.Options{
		Tuning:      tune,
		Catalogs:    cats,
		QuizSeed:    cfg.QuizSeed,
		Store:       store,
		Syncer:      syncer,
		Board:       board,
		PerIdentity: cfg.ProgressPerIdentity,
		ArchiveDir:  filepath.Join(*dataDir, "archive"),
		Logger:      logger,
	}
	if mirror != nil {
		opts.OnArchived = mirror.Enqueue
	}
	var events *persistlog.EventLogger
	if cfg.EventLog {
		events = persistlog.NewEventLogger(*dataDir)
		if mirror != nil {
			events.OnSegmentClosed(mirror.Enqueue)
		}
		opts.Events = events
	}
	if lb.sqlite != nil {
		opts.Journal = lb.sqlite
	}
	seq, err := lb.lastSeq(ctx, func() (uint64, error) { return persistlog.LastSeq(*dataDir) })
	if err != nil {
		logger.Printf("resume seq: %v", err)
	}
	opts.LastSeq = seq

	sess, err := session.New(opts)
	if err != nil {
		logger.Fatalf("session: %v", err)
	}
	p := sess.State()
	logger.Printf("gallery ready maze=%s exhibits=%d player=%s xp=%d level=%d seq=%d",
		sess.World().Grid.Digest(), len(cats.List()), p.GuestID, p.XP, p.Level, seq)

	mux := http.NewServeMux()
	apiSrv := api.NewServer(sess, logger)
	apiSrv.Register(mux)

	var storeSrv *ws.Server
	if cfg.ServeLeaderboardStore && lb.store != nil {
		storeSrv = ws.NewServer(lb.store, cfg.LeaderboardToken, logger)
		storeSrv.Register(mux)
	}

	obsSrv := observer.NewServer(sess, logger)

	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, metricsSources{
			backend:  lb.name,
			session:  sess,
			board:    board,
			syncer:   syncer,
			api:      apiSrv,
			store:    storeSrv,
			index:    lb.sqlite,
			observer: obsSrv,
			mirror:   mirror,
		})
	})

	if cfg.AdminHTTP() {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Player      protocol.PlayerView   `json:"player"`
				Session     session.Stats         `json:"session"`
				Leaderboard leaderboard.State     `json:"leaderboard"`
				Sync        leaderboard.SyncStats `json:"sync"`
				Backup      backup.Stats          `json:"backup"`
			}{
				Player:      sess.Player(),
				Session:     sess.Stats(),
				Leaderboard: board.Snapshot(),
				Sync:        syncer.Stats(),
				Backup:      mirror.Stats(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		if lb.sqlite != nil {
			mux.HandleFunc("/admin/v1/events", func(rw http.ResponseWriter, r *http.Request) {
				if !isLoopbackRemote(r.RemoteAddr) {
					http.Error(rw, "forbidden", http.StatusForbidden)
					return
				}
				limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
				recs, err := lb.sqlite.Events(r.Context(), r.URL.Query().Get("key"), limit)
				if err != nil {
					http.Error(rw, err.Error(), http.StatusInternalServerError)
					return
				}
				rw.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(rw).Encode(map[string]any{"events": recs})
			})
		}
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (GM_ENABLE_ADMIN_HTTP=false)")
	}
	if cfg.EnablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (GM_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	serveErr := g.Wait()

	// Drain in dependency order: pending leaderboard pushes, then the event
	// log (its final segment feeds the mirror), then the mirror itself.
	syncer.Close()
	if events != nil {
		if err := events.Close(); err != nil {
			logger.Printf("event log close: %v", err)
		}
	}
	mirror.Close()
	if serveErr != nil {
		logger.Fatalf("ListenAndServe: %v", serveErr)
	}
	logger.Printf("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
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
