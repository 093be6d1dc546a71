// Package config reads the server's runtime settings from the environment.
// Gameplay numbers live in tuning.yaml; this is only deployment wiring.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Leaderboard backends accepted by GM_LEADERBOARD_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendRemote = "remote"
	BackendMemory = "memory"
	BackendNone   = "none"
)

type Config struct {
	LeaderboardBackend string        `env:"GM_LEADERBOARD_BACKEND" envDefault:"sqlite"`
	LeaderboardDB      string        `env:"GM_LEADERBOARD_DB"`
	LeaderboardURL     string        `env:"GM_LEADERBOARD_URL"`
	LeaderboardToken   string        `env:"GM_LEADERBOARD_TOKEN"`
	LeaderboardTimeout time.Duration `env:"GM_LEADERBOARD_TIMEOUT" envDefault:"10s"`
	// ServeLeaderboardStore exposes the store REST and ws routes. Only
	// meaningful for the sqlite and memory backends.
	ServeLeaderboardStore bool `env:"GM_SERVE_LEADERBOARD_STORE" envDefault:"true"`

	ProgressPerIdentity bool   `env:"GM_PROGRESS_PER_IDENTITY" envDefault:"false"`
	QuizSeed            string `env:"GM_QUIZ_SEED" envDefault:"chog-quiz"`
	EventLog            bool   `env:"GM_EVENT_LOG" envDefault:"true"`

	// Backup mirrors closed event log segments and progress snapshots to an
	// S3-compatible bucket. Disabled while BackupEndpoint is empty.
	BackupEndpoint        string `env:"GM_BACKUP_ENDPOINT"`
	BackupBucket          string `env:"GM_BACKUP_BUCKET"`
	BackupAccessKeyID     string `env:"GM_BACKUP_ACCESS_KEY_ID"`
	BackupSecretAccessKey string `env:"GM_BACKUP_SECRET_ACCESS_KEY"`
	BackupPrefix          string `env:"GM_BACKUP_PREFIX"`
	BackupRegion          string `env:"GM_BACKUP_REGION" envDefault:"auto"`
	BackupWorkers         int    `env:"GM_BACKUP_WORKERS" envDefault:"2"`

	DeployEnv       string `env:"DEPLOY_ENV"`
	EnableAdminHTTP *bool  `env:"GM_ENABLE_ADMIN_HTTP"`
	EnablePprofHTTP bool   `env:"GM_ENABLE_PPROF_HTTP" envDefault:"false"`
}

// ParseEnv fills target from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates Config.
func Load() (Config, error) {
	var c Config
	if err := ParseEnv(&c); err != nil {
		return Config{}, err
	}
	c.LeaderboardBackend = strings.ToLower(strings.TrimSpace(c.LeaderboardBackend))
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.LeaderboardBackend {
	case BackendSQLite, BackendMemory, BackendNone:
	case BackendRemote:
		if strings.TrimSpace(c.LeaderboardURL) == "" {
			return fmt.Errorf("GM_LEADERBOARD_URL is required when GM_LEADERBOARD_BACKEND=remote")
		}
	default:
		return fmt.Errorf("unsupported GM_LEADERBOARD_BACKEND=%q (want sqlite|remote|memory|none)", c.LeaderboardBackend)
	}
	if c.LeaderboardTimeout <= 0 {
		return fmt.Errorf("GM_LEADERBOARD_TIMEOUT must be > 0")
	}
	if c.BackupEnabled() {
		if strings.TrimSpace(c.BackupBucket) == "" || strings.TrimSpace(c.BackupAccessKeyID) == "" || strings.TrimSpace(c.BackupSecretAccessKey) == "" {
			return fmt.Errorf("GM_BACKUP_BUCKET, GM_BACKUP_ACCESS_KEY_ID and GM_BACKUP_SECRET_ACCESS_KEY are required with GM_BACKUP_ENDPOINT")
		}
		if c.BackupWorkers <= 0 {
			return fmt.Errorf("GM_BACKUP_WORKERS must be > 0")
		}
	}
	return nil
}

func (c Config) BackupEnabled() bool { return strings.TrimSpace(c.BackupEndpoint) != "" }

// AdminHTTP reports whether the loopback admin endpoints are mounted. Unless
// set explicitly they are on everywhere except staging and production.
func (c Config) AdminHTTP() bool {
	if c.EnableAdminHTTP != nil {
		return *c.EnableAdminHTTP
	}
	switch strings.ToLower(strings.TrimSpace(c.DeployEnv)) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
