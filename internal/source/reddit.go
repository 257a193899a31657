// Package source fetches candidate items from Reddit listings.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/sift/internal/ratelimit"
	"github.com/kalambet/sift/internal/storage"
)

const (
	DefaultBaseURL      = "https://www.reddit.com"
	DefaultOAuthBaseURL = "https://oauth.reddit.com"
	DefaultAuthURL      = "https://www.reddit.com/api/v1/access_token"
	DefaultUserAgent    = "sift/1.0"

	maxListingLimit = 100
	tokenSlack      = time.Minute
)

// Config selects endpoints, credentials and the accepted age window.
type Config struct {
	BaseURL      string // public JSON endpoints, used without credentials
	OAuthBaseURL string
	AuthURL      string
	ClientID     string
	ClientSecret string
	UserAgent    string

	MinAgeDays int
	MaxAgeDays int // <= 0 means no upper bound

	IncludeComments bool
	CommentLimit    int
}

// Reddit lists new posts of a subreddit and, optionally, their top-level
// comments. Every HTTP call passes through the shared limiter.
type Reddit struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewReddit creates a Reddit source. A nil client uses a 30s-timeout client.
func NewReddit(cfg Config, limiter *ratelimit.Limiter, client *http.Client) *Reddit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.OAuthBaseURL == "" {
		cfg.OAuthBaseURL = DefaultOAuthBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Reddit{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// WithLogger sets the logger used for per-post warnings.
func (r *Reddit) WithLogger(logger *slog.Logger) *Reddit {
	if logger != nil {
		r.logger = logger
	}
	return r
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string      `json:"kind"`
			Data listingData `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type listingData struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Selftext     string  `json:"selftext"`
	SelftextHTML string  `json:"selftext_html"`
	Body         string  `json:"body"`
	BodyHTML     string  `json:"body_html"`
	CreatedUTC   float64 `json:"created_utc"`
	Permalink    string  `json:"permalink"`
}

// Fetch returns up to limit posts from group whose age falls inside the
// configured window, followed by their comments when enabled. Comments carry
// the post ID as ParentID and do not count toward limit.
func (r *Reddit) Fetch(ctx context.Context, group string, limit int) ([]storage.Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := url.Values{"limit": {strconv.Itoa(min(limit, maxListingLimit))}, "raw_json": {"1"}}

	var l listing
	if err := r.get(ctx, "/r/"+url.PathEscape(group)+"/new", q, &l); err != nil {
		return nil, fmt.Errorf("listing r/%s: %w", group, err)
	}

	now := r.now()
	var posts []storage.Item
	for _, c := range l.Data.Children {
		if c.Kind != "t3" || c.Data.ID == "" {
			continue
		}
		created := time.Unix(int64(c.Data.CreatedUTC), 0).UTC()
		if !r.inWindow(now, created) {
			continue
		}
		body := c.Data.Selftext
		if c.Data.SelftextHTML != "" {
			body = NormalizeHTML(c.Data.SelftextHTML)
		}
		posts = append(posts, storage.Item{
			ID:        c.Data.ID,
			URL:       r.permalink(c.Data.Permalink),
			Title:     strings.TrimSpace(c.Data.Title),
			Body:      strings.TrimSpace(body),
			Group:     group,
			Kind:      storage.KindPrimary,
			CreatedAt: created,
		})
		if len(posts) == limit {
			break
		}
	}

	if !r.cfg.IncludeComments || r.cfg.CommentLimit <= 0 {
		return posts, nil
	}
	items := posts
	for _, p := range posts {
		comments, err := r.comments(ctx, p)
		if err != nil {
			r.logger.Warn("fetching comments failed", "group", group, "post", p.ID, "error", err)
			continue
		}
		items = append(items, comments...)
	}
	return items, nil
}

func (r *Reddit) comments(ctx context.Context, post storage.Item) ([]storage.Item, error) {
	q := url.Values{
		"limit":    {strconv.Itoa(r.cfg.CommentLimit)},
		"depth":    {"1"},
		"sort":     {"top"},
		"raw_json": {"1"},
	}
	var pages []listing
	if err := r.get(ctx, "/comments/"+url.PathEscape(post.ID), q, &pages); err != nil {
		return nil, err
	}
	if len(pages) < 2 {
		return nil, nil
	}

	var out []storage.Item
	for _, c := range pages[1].Data.Children {
		if c.Kind != "t1" || c.Data.ID == "" {
			continue
		}
		body := c.Data.Body
		if c.Data.BodyHTML != "" {
			body = NormalizeHTML(c.Data.BodyHTML)
		}
		out = append(out, storage.Item{
			ID:        c.Data.ID,
			URL:       r.permalink(c.Data.Permalink),
			Title:     post.Title,
			Body:      strings.TrimSpace(body),
			Group:     post.Group,
			ParentID:  post.ID,
			Kind:      storage.KindSecondary,
			CreatedAt: time.Unix(int64(c.Data.CreatedUTC), 0).UTC(),
		})
		if len(out) == r.cfg.CommentLimit {
			break
		}
	}
	return out, nil
}

func (r *Reddit) inWindow(now, created time.Time) bool {
	age := int(now.Sub(created).Hours() / 24)
	if age < r.cfg.MinAgeDays {
		return false
	}
	return r.cfg.MaxAgeDays <= 0 || age <= r.cfg.MaxAgeDays
}

func (r *Reddit) permalink(p string) string {
	if p == "" || strings.HasPrefix(p, "http") {
		return p
	}
	return DefaultBaseURL + p
}

func (r *Reddit) authenticated() bool {
	return r.cfg.ClientID != "" && r.cfg.ClientSecret != ""
}

func (r *Reddit) get(ctx context.Context, path string, q url.Values, v any) error {
	base := r.cfg.BaseURL
	suffix := ".json"
	var bearer string
	if r.authenticated() {
		tok, err := r.accessToken(ctx)
		if err != nil {
			return err
		}
		base, suffix, bearer = r.cfg.OAuthBaseURL, "", tok
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path+suffix+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return r.do(req, v)
}

func (r *Reddit) accessToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && r.now().Before(r.tokenExp) {
		return r.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(r.cfg.ClientID, r.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := r.do(req, &tok); err != nil {
		return "", fmt.Errorf("requesting access token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response has no access_token")
	}

	r.token = tok.AccessToken
	r.tokenExp = r.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSlack)
	return r.token, nil
}

func (r *Reddit) do(req *http.Request, v any) error {
	if err := r.limiter.Wait(req.Context()); err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reddit returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
