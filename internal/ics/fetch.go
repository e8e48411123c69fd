package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "ctfcal/internal/log"
)

const defaultFetchTimeout = 15 * time.Second

// maxBodySize caps a single feed download.
const maxBodySize = 16 << 20

// Source represents the polled ICS feed.
type Source struct {
	// ID is an internal identifier used in logs.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching the feed.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused cached body due to 304
}

// Fetcher is responsible for fetching ICS feeds with HTTP caching
// (ETag / Last-Modified) backed by an optional bbolt Cache.
type Fetcher struct {
	client  *http.Client
	cache   *Cache
	maxBody int64
}

// NewFetcher creates a new ICS Fetcher. A non-positive timeout uses the
// default; cache may be nil.
func NewFetcher(timeout time.Duration, cache *Cache) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
		maxBody: maxBodySize,
	}
}

// Fetch fetches a single ICS source, honoring ETag and Last-Modified.
//
// Every failure is returned as *FetchError. Unlike a display cache, a
// network error never falls back to the stored body: the caller must see
// the cycle fail so that it does not act on stale data.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (FetchResult, error) {
	redacted := RedactURL(src.URL)
	if src.URL == "" {
		return FetchResult{}, &FetchError{Op: OpFetch, URL: redacted, Err: errors.New("source URL is empty")}
	}

	meta, cachedBody, err := f.cache.load(src.URL)
	if err != nil {
		appLog.Error("ics cache load failed", err, "id", src.ID, "url", redacted)
		meta, cachedBody = cacheEntry{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, &FetchError{Op: OpFetch, URL: redacted, Err: err}
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	// Conditional headers from cache metadata.
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redacted)

	resp, err := f.client.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, which may carry a private token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return FetchResult{}, &FetchError{Op: OpFetch, URL: redacted, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Read one byte past the cap; an oversized feed is rejected, not cut.
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if readErr != nil {
			return FetchResult{}, &FetchError{Op: OpFetch, URL: redacted, Err: readErr}
		}
		if int64(len(body)) > f.maxBody {
			return FetchResult{}, &FetchError{Op: OpFetch, URL: redacted, Err: fmt.Errorf("body exceeds %d bytes", f.maxBody)}
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.cache.save(newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", redacted)
		}

		appLog.Debug("ics fetch success", "id", src.ID, "url", redacted, "bytes", len(body), "from_cache", false)
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, &FetchError{Op: OpStatus, URL: redacted, Err: errors.New("received 304 Not Modified but no cached body available")}
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID, "url", redacted)
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		return FetchResult{}, &FetchError{Op: OpStatus, URL: redacted, Err: errors.New(resp.Status)}
	}
}

// RedactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://calendar.google.com/calendar/ical/x/private-abc/basic.ics
//	-> https://calendar.google.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexAny(rest, "/?#"); j != -1 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
