package calendar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"yoteibot/pkg/logx"
)

// fetcher downloads the ICS feed with HTTP caching (ETag/Last-Modified)
// and a disk-backed body cache, so a flaky calendar host degrades to the
// last known good feed instead of an empty schedule.
type fetcher struct {
	client   *http.Client
	cacheDir string
	log      logx.Logger
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newFetcher(cacheDir string, log logx.Logger) *fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
		log:      log,
	}
}

// fetch returns the feed body and whether it was served from cache.
func (f *fetcher) fetch(ctx context.Context, url string) (body []byte, fromCache bool, err error) {
	if url == "" {
		return nil, false, errors.New("feed URL is empty")
	}

	dir := f.cachePath(url)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, err
	}
	meta, _ := f.loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			f.log.Warn("feed fetch failed; using cached body", logx.Err(err))
			return cached, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		f.saveCache(dir, cacheMeta{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}, b)
		return b, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, errors.New("304 Not Modified but no cached body")
		}
		return cached, true, nil

	default:
		if len(cached) > 0 {
			f.log.Warn("feed fetch non-OK; using cached body",
				logx.Int("status", resp.StatusCode))
			return cached, true, nil
		}
		return nil, false, errors.New(resp.Status)
	}
}

func (f *fetcher) cachePath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *fetcher) loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	b, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func (f *fetcher) saveCache(dir string, meta cacheMeta, body []byte) {
	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		f.log.Warn("feed cache save failed", logx.Err(err))
		return
	}
	b, err := json.MarshalIndent(&meta, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o600)
	}
	if err != nil {
		f.log.Warn("feed cache meta save failed", logx.Err(err))
	}
}
