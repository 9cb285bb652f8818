package holiday

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"agenda/internal/log"
	"agenda/internal/model"
)

// cacheMeta holds the HTTP validators of one cached year.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HTTPSource fetches a JSON holiday list per year with ETag / Last-Modified
// revalidation and a disk cache under cacheDir/<year>. Any network or
// status failure falls back to the cached body when one exists.
type HTTPSource struct {
	client   *http.Client
	url      string
	cacheDir string
}

// NewHTTPSource builds a source for urlTemplate, where "{year}" is replaced
// by the requested year. An empty cacheDir disables the disk cache.
func NewHTTPSource(urlTemplate, cacheDir string) *HTTPSource {
	if urlTemplate == "" {
		urlTemplate = DefaultURL
	}
	return &HTTPSource{
		client:   &http.Client{Timeout: 15 * time.Second},
		url:      urlTemplate,
		cacheDir: cacheDir,
	}
}

// URL returns the request URL for year.
func (s *HTTPSource) URL(year int) string {
	return strings.ReplaceAll(s.url, "{year}", strconv.Itoa(year))
}

func (s *HTTPSource) Fetch(ctx context.Context, year int) ([]model.Holiday, error) {
	body, fromCache, err := s.fetchBody(ctx, year)
	if err != nil {
		return nil, err
	}
	hs, err := decode(body, year)
	if err != nil {
		return nil, err
	}
	log.Info("holidays fetched", "year", year, "count", len(hs), "from_cache", fromCache)
	return hs, nil
}

func (s *HTTPSource) fetchBody(ctx context.Context, year int) ([]byte, bool, error) {
	url := s.URL(year)
	dir := s.cachePath(year)

	var meta cacheMeta
	var cached []byte
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			log.Warn("holiday cache dir", "dir", dir, "err", err)
			dir = ""
		} else {
			meta, _ = loadMeta(dir)
			cached, _ = os.ReadFile(filepath.Join(dir, "body.json"))
			if meta.URL != url {
				// Template changed; validators belong to another endpoint.
				meta = cacheMeta{}
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			log.Error("holiday fetch network error, using cached body", err, "year", year)
			return cached, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		if dir != "" {
			m := cacheMeta{
				URL:          url,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(dir, m, body); err != nil {
				log.Error("holiday cache save failed", err, "year", year)
			}
		}
		return body, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, errors.New("holiday: 304 without cached body")
		}
		return cached, true, nil

	default:
		if len(cached) > 0 {
			log.Error("holiday fetch non-OK, using cached body", errors.New(resp.Status), "year", year, "status", resp.StatusCode)
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("holiday: %s", resp.Status)
	}
}

func (s *HTTPSource) cachePath(year int) string {
	if s.cacheDir == "" {
		return ""
	}
	return filepath.Join(s.cacheDir, strconv.Itoa(year))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

func saveCache(dir string, meta cacheMeta, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.json"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}
