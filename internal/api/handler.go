// Package api exposes stored results and pipeline state over HTTP and MCP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/sift/internal/ledger"
	"github.com/kalambet/sift/internal/storage"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Budget reports the current month's spend.
type Budget interface {
	Snapshot() ledger.Snapshot
}

type Deps struct {
	Store  *storage.Store
	Budget Budget
	Token  string
}

// NewHandler returns the status server router. /healthz is always open;
// everything else sits behind BearerAuth.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/stats", handleStats(deps))
		r.Get("/posts/top", handleTopPosts(deps))
		r.Get("/posts/tag/{tag}", handlePostsByTag(deps))
		r.Get("/ledger", handleLedger(deps))
		r.Get("/runs", handleRuns(deps))
	})
	return r
}

// topQuery validates report parameters shared by HTTP and MCP.
func topQuery(days, limit int, order string, now time.Time) (storage.TopQuery, error) {
	q := storage.TopQuery{Limit: limit, Order: order}
	if order != "" && !slices.Contains(storage.OrderKeys(), order) {
		return q, fmt.Errorf("unknown order %q, want one of %v", order, storage.OrderKeys())
	}
	if days > 0 {
		q.Since = now.AddDate(0, 0, -days)
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return q, nil
}

func handleTopPosts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := topQuery(
			parseIntParam(r, "days", 0, 0),
			parseIntParam(r, "limit", defaultLimit, maxLimit),
			r.URL.Query().Get("order"),
			time.Now().UTC(),
		)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		q.ProcessedOnly = r.URL.Query().Get("processed") == "true"

		posts, err := deps.Store.TopPosts(q)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to query posts: %v", err)
			return
		}
		if posts == nil {
			posts = []storage.PostView{}
		}
		writeJSON(w, posts)
	}
}

func handlePostsByTag(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tag := chi.URLParam(r, "tag")
		posts, err := deps.Store.PostsByTag(tag, parseIntParam(r, "limit", defaultLimit, maxLimit))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to query posts: %v", err)
			return
		}
		if posts == nil {
			posts = []storage.PostView{}
		}
		writeJSON(w, posts)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		writeJSON(w, st)
	}
}

func handleLedger(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Budget == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "ledger not configured")
			return
		}
		writeJSON(w, deps.Budget.Snapshot())
	}
}

func handleRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := deps.Store.ListRuns(parseIntParam(r, "limit", defaultLimit, maxLimit))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.Run{}
		}
		writeJSON(w, runs)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
