package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gallerymaze.ai/internal/protocol"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	doAndPrint(http.MethodGet, u, "", 5*time.Second)
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	key := fs.String("key", "", "player key filter")
	limit := fs.Int("limit", 50, "result limit")
	_ = fs.Parse(args)

	q := url.Values{}
	if *key != "" {
		q.Set("key", *key)
	}
	q.Set("limit", strconv.Itoa(*limit))
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/events?" + q.Encode()
	doAndPrint(http.MethodGet, u, "", 5*time.Second)
}

// deleteRowCmd removes a leaderboard row through the store API so connected
// boards see the change.
func deleteRowCmd(args []string) {
	fs := flag.NewFlagSet("delete-row", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "leaderboard store base url")
	token := fs.String("token", os.Getenv("GM_LEADERBOARD_TOKEN"), "store token")
	_ = fs.Parse(args)

	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fmt.Fprintln(os.Stderr, "usage: admin delete-row [-url U] [-token T] <wallet_address>")
		os.Exit(2)
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/leaderboard/rows/" + url.PathEscape(fs.Arg(0))
	doAndPrint(http.MethodDelete, u, *token, 10*time.Second)
}

func doAndPrint(method, u, token string, timeout time.Duration) {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(2)
	}
	if token != "" {
		req.Header.Set(protocol.TokenHeader, token)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if len(b) > 0 {
		fmt.Println(string(b))
	} else {
		fmt.Println(resp.Status)
	}
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
