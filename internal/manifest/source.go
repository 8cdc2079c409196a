// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package manifest

import (
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
)

var logger = loggo.GetLogger("spawn.manifest")

// DefaultURL is the well-known location of the published catalog.
const DefaultURL = "https://spawn.sh/manifest.json"

const (
	fetchTimeout = 10 * time.Second

	// CacheTTL is how long a cached catalog is considered fresh.
	// Beyond it the cache is still usable but flagged stale, up to
	// MaxCacheAge.
	CacheTTL    = 24 * time.Hour
	MaxCacheAge = 30 * 24 * time.Hour
)

//go:embed fallback.json
var fallbackJSON []byte

// Source loads the catalog from the network, falling back to the
// local cache and finally to the baked-in copy shipped with the
// binary.
type Source struct {
	URL       string
	CachePath string
	Client    *http.Client
	Clock     clock.Clock

	stale bool
}

// NewSource returns a Source with production defaults.
func NewSource(cachePath string) *Source {
	return &Source{
		URL:       DefaultURL,
		CachePath: cachePath,
		Client:    &http.Client{Timeout: fetchTimeout},
		Clock:     clock.WallClock,
	}
}

// Load fetches, validates and returns the catalog. A network or HTTP
// failure silently degrades to the cache; a cache miss degrades to the
// embedded fallback. Parse or validation failures are ErrManifest.
func (s *Source) Load(ctx context.Context) (*Manifest, error) {
	s.stale = false
	data, err := s.fetch(ctx)
	if err == nil {
		m, err := decode(data)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := s.writeCache(data); err != nil {
			logger.Debugf("cannot cache manifest: %v", err)
		}
		return m, nil
	}
	logger.Debugf("manifest fetch failed, trying cache: %v", err)

	data, age, cacheErr := s.readCache()
	if cacheErr == nil {
		if age > MaxCacheAge {
			return nil, errors.WithType(
				errors.Errorf("manifest cache is %v old and the network is unavailable", age.Round(time.Hour)),
				ErrManifest)
		}
		if age > CacheTTL {
			s.stale = true
		}
		m, err := decode(data)
		if err == nil {
			return m, nil
		}
		logger.Debugf("manifest cache unreadable: %v", err)
	}

	s.stale = true
	m, err := decode(fallbackJSON)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

// IsStale reports whether the last Load served a catalog older than
// the TTL. Callers warn the user but proceed.
func (s *Source) IsStale() bool {
	return s.stale
}

func (s *Source) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.URL, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("manifest fetch: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

func (s *Source) writeCache(data []byte) error {
	if s.CachePath == "" {
		return nil
	}
	return utils.AtomicWriteFile(s.CachePath, data, 0600)
}

func (s *Source) readCache() ([]byte, time.Duration, error) {
	if s.CachePath == "" {
		return nil, 0, errors.NotFoundf("manifest cache")
	}
	info, err := os.Stat(s.CachePath)
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	data, err := os.ReadFile(s.CachePath)
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	return data, s.Clock.Now().Sub(info.ModTime()), nil
}

func decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WithType(errors.Annotate(err, "parsing manifest"), ErrManifest)
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	m.fillKeys()
	return &m, nil
}

// Fallback returns the catalog baked into the binary.
func Fallback() (*Manifest, error) {
	return decode(fallbackJSON)
}
