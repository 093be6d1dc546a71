package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// dbCmd queries the leaderboard index read-only. Queries: leaderboard,
// events, catalogs.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/leaderboard.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	key := fs.String("key", "", "player key filter (events)")
	typ := fs.String("type", "", "event type filter (events)")
	_ = fs.Parse(args)

	q := "leaderboard"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "leaderboard.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "leaderboard":
		rows, err := db.Query(`SELECT wallet_address,display_name,xp,badge_count,level,achievement_count,updated_at
			FROM leaderboard_entries ORDER BY xp DESC, badge_count DESC, level DESC, updated_at ASC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		rank := 0
		for rows.Next() {
			var r struct {
				Rank             int    `json:"rank"`
				WalletAddress    string `json:"wallet_address"`
				DisplayName      string `json:"display_name"`
				XP               int    `json:"xp"`
				BadgeCount       int    `json:"badge_count"`
				Level            int    `json:"level"`
				AchievementCount int    `json:"achievement_count"`
				UpdatedAt        string `json:"updated_at"`
			}
			var ms int64
			if err := rows.Scan(&r.WalletAddress, &r.DisplayName, &r.XP, &r.BadgeCount, &r.Level, &r.AchievementCount, &ms); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			rank++
			r.Rank = rank
			r.UpdatedAt = time.UnixMilli(ms).UTC().Format(time.RFC3339)
			printLine(r)
		}
		exitOnRowsErr(rows)

	case "events":
		where := []string{}
		qargs := []any{}
		if *key != "" {
			where = append(where, "player_key=?")
			qargs = append(qargs, *key)
		}
		if *typ != "" {
			where = append(where, "type=?")
			qargs = append(qargs, *typ)
		}
		stmt := `SELECT seq,player_key,type,at,accepted,xp_gained,xp,level,event_json FROM events`
		if len(where) > 0 {
			stmt += " WHERE " + strings.Join(where, " AND ")
		}
		stmt += ` ORDER BY seq DESC LIMIT ?`
		qargs = append(qargs, *limit)

		rows, err := db.Query(stmt, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq      uint64 `json:"seq"`
				Key      string `json:"key"`
				Type     string `json:"type"`
				At       string `json:"at"`
				Accepted bool   `json:"accepted"`
				XPGained int    `json:"xp_gained"`
				XP       int    `json:"xp"`
				Level    int    `json:"level"`
				Event    string `json:"event"`
			}
			var at int64
			if err := rows.Scan(&r.Seq, &r.Key, &r.Type, &at, &r.Accepted, &r.XPGained, &r.XP, &r.Level, &r.Event); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			r.At = time.UnixMilli(at).UTC().Format(time.RFC3339Nano)
			printLine(r)
		}
		exitOnRowsErr(rows)

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at,length(json) FROM catalogs ORDER BY name`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
				Bytes     int    `json:"bytes"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt, &r.Bytes); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printLine(r)
		}
		exitOnRowsErr(rows)

	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (want leaderboard|events|catalogs)\n", q)
		os.Exit(2)
	}
}

func exitOnRowsErr(rows *sql.Rows) {
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

func printLine(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
