package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/sift/internal/ratelimit"
	"github.com/kalambet/sift/internal/storage"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func post(id, title, html string, ageDays int) map[string]any {
	return map[string]any{
		"kind": "t3",
		"data": map[string]any{
			"id":            id,
			"title":         title,
			"selftext":      "raw " + id,
			"selftext_html": html,
			"created_utc":   float64(testNow.AddDate(0, 0, -ageDays).Unix()),
			"permalink":     "/r/devops/comments/" + id + "/x/",
		},
	}
}

func listingOf(children ...map[string]any) map[string]any {
	return map[string]any{"kind": "Listing", "data": map[string]any{"children": children}}
}

func newTestReddit(t *testing.T, cfg Config, h http.Handler) *Reddit {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	cfg.OAuthBaseURL = srv.URL + "/oauth"
	cfg.AuthURL = srv.URL + "/token"
	r := NewReddit(cfg, ratelimit.New(0), srv.Client())
	r.now = func() time.Time { return testNow }
	return r
}

func TestFetchAgeWindow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/r/devops/new.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "10" {
			t.Errorf("limit = %q, want 10", r.URL.Query().Get("limit"))
		}
		json.NewEncoder(w).Encode(listingOf(
			post("fresh", "too new", "", 0),
			post("ok1", "Cron is flaky", "<p>Jobs <b>fail</b></p><p>&amp; nobody knows</p>", 2),
			post("ok2", "Second", "", 5),
			post("old", "too old", "", 30),
		))
	})
	r := newTestReddit(t, Config{MinAgeDays: 1, MaxAgeDays: 7}, mux)

	items, err := r.Fetch(context.Background(), "devops", 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: %+v", len(items), items)
	}
	if items[0].ID != "ok1" || items[0].Body != "Jobs fail\n& nobody knows" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[1].Body != "raw ok2" {
		t.Errorf("items[1].Body = %q, want selftext fallback", items[1].Body)
	}
	if items[0].Group != "devops" || items[0].Kind != storage.KindPrimary {
		t.Errorf("group/kind = %q/%q", items[0].Group, items[0].Kind)
	}
	if !strings.HasPrefix(items[0].URL, DefaultBaseURL+"/r/devops/comments/ok1") {
		t.Errorf("URL = %q", items[0].URL)
	}
}

func TestFetchLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/r/devops/new.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listingOf(post("a", "a", "", 1), post("b", "b", "", 1), post("c", "c", "", 1)))
	})
	r := newTestReddit(t, Config{}, mux)

	items, err := r.Fetch(context.Background(), "devops", 2)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}

func TestFetchComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/r/devops/new.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listingOf(post("p1", "Cron is flaky", "", 1)))
	})
	mux.HandleFunc("/comments/p1.json", func(w http.ResponseWriter, r *http.Request) {
		comment := func(id, body string) map[string]any {
			return map[string]any{"kind": "t1", "data": map[string]any{"id": id, "body": body, "created_utc": float64(testNow.Unix())}}
		}
		json.NewEncoder(w).Encode([]any{
			listingOf(post("p1", "Cron is flaky", "", 1)),
			listingOf(comment("c1", "same here"), map[string]any{"kind": "more", "data": map[string]any{"id": "m"}}, comment("c2", "use systemd timers"), comment("c3", "extra")),
		})
	})
	r := newTestReddit(t, Config{IncludeComments: true, CommentLimit: 2}, mux)

	items, err := r.Fetch(context.Background(), "devops", 5)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want post + 2 comments", len(items))
	}
	c := items[1]
	if c.ID != "c1" || c.ParentID != "p1" || c.Kind != storage.KindSecondary || c.Group != "devops" || c.Title != "Cron is flaky" {
		t.Errorf("comment = %+v", c)
	}
}

func TestFetchOAuthCachesToken(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if r.FormValue("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.FormValue("grant_type"))
		}
		fmt.Fprint(w, `{"access_token": "tok", "expires_in": 3600}`)
	})
	mux.HandleFunc("/oauth/r/devops/new", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(listingOf(post("a", "a", "", 1)))
	})
	r := newTestReddit(t, Config{ClientID: "id", ClientSecret: "secret"}, mux)

	for range 2 {
		if _, err := r.Fetch(context.Background(), "devops", 5); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if n := tokenCalls.Load(); n != 1 {
		t.Errorf("token requested %d times, want 1", n)
	}
}

func TestFetchTransportError(t *testing.T) {
	r := newTestReddit(t, Config{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	if _, err := r.Fetch(context.Background(), "devops", 5); err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want 429 error", err)
	}
}

func TestNormalizeHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<p>one</p><p>two  words</p>", "one\ntwo words"},
		{"&lt;div class=\"md\"&gt;&lt;p&gt;escaped &amp;amp; fine&lt;/p&gt;&lt;/div&gt;", "escaped & fine"},
		{"<ul><li>a</li><li><p>b</p></li></ul>", "a\nb"},
		{"plain   text", "plain text"},
		{"<div class=\"md\"><p>Intro</p><table><tr><td>cron fails every night</td></tr></table>trailing text</div>", "Intro\ncron fails every night\ntrailing text"},
		{"<p>one <em>two</em>\nthree</p>tail<br>end", "one two three\ntail\nend"},
		{"<table><tr><th>job</th><th>status</th></tr><tr><td>backup</td><td>failed</td></tr></table>", "job status\nbackup failed"},
		{"<pre>line one\nline two</pre>", "line one\nline two"},
		{"<p>keep</p><script>alert(1)</script>", "keep"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeHTML(tt.in); got != tt.want {
			t.Errorf("NormalizeHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
