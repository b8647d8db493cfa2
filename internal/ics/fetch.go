package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "uqclock/internal/log"
)

// Feed is a single ICS endpoint plus optional HTTP basic credentials.
type Feed struct {
	// ID is the config calendar ID, used in logs and as the event SourceID.
	ID  string
	URL string

	Username string
	Password string
}

// FetchResult contains the outcome of fetching a single feed.
type FetchResult struct {
	Feed      Feed
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused the cached body
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS feeds with HTTP caching (ETag / Last-Modified)
// backed by a disk cache, so a flaky network still yields the last good body.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir. The per-request
// deadline comes from the caller's context; client timeout is a backstop.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./cache/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch downloads feed, honoring ETag and Last-Modified. A network error or
// non-OK status falls back to the cached body when there is one; a 401/403 is
// returned as an error regardless, since a stale cache would hide revoked access.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (FetchResult, error) {
	url := normalizeURL(feed.URL)
	if url == "" {
		return FetchResult{}, errors.New("ics: feed URL is empty")
	}

	cachePath := f.cachePathForURL(url)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if feed.Username != "" || feed.Password != "" {
		req.SetBasicAuth(feed.Username, feed.Password)
	}
	// Conditional headers only make sense if we still have the body.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", feed.ID, "url", redactURL(url))

	cached := func(reason error) (FetchResult, error) {
		if len(cachedBody) == 0 {
			return FetchResult{}, reason
		}
		appLog.Warn("ics fetch failed, using cached body", "id", feed.ID, "url", redactURL(url), "reason", reason)
		return FetchResult{Feed: feed, Body: cachedBody, FromCache: true}, nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FetchResult{}, ctx.Err()
		}
		return cached(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return cached(err)
		}

		newMeta := cacheEntry{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "id", feed.ID, "url", redactURL(url))
		}

		appLog.Debug("ics fetch success", "id", feed.ID, "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{Feed: feed, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("ics: 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "id", feed.ID)
		return FetchResult{Feed: feed, Body: cachedBody, FromCache: true}, nil

	case http.StatusUnauthorized, http.StatusForbidden:
		return FetchResult{}, fmt.Errorf("ics: %s: %w", resp.Status, ErrUnauthorized)

	default:
		return cached(fmt.Errorf("ics: unexpected status %s", resp.Status))
	}
}

// ErrUnauthorized is returned when the feed rejects the credentials (or
// their absence).
var ErrUnauthorized = errors.New("calendar access denied")

// normalizeURL maps webcal:// subscription links onto https.
func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if rest, ok := strings.CutPrefix(u, "webcal://"); ok {
		return "https://" + rest
	}
	return u
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides the path and query of an ICS URL for logging; private
// feed URLs usually embed a secret token.
//
//	https://example.com/path/to/private.ics?token=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "ics://...(redacted)"
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + "/...(redacted)"
}
