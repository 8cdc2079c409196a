// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package manifest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/spawn-sh/spawn/internal/manifest"
)

type sourceSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&sourceSuite{})

const minimalManifest = `{
  "agents": {"claude": {"name": "Claude Code", "launch_cmd": "claude", "tier": "heavy"}},
  "clouds": {"hetzner": {"name": "Hetzner Cloud", "type": "vm", "homepage": "h", "auth": "HCLOUD_TOKEN"}},
  "matrix": {"hetzner/claude": "implemented"}
}`

func (s *sourceSuite) newSource(c *gc.C, url string) *manifest.Source {
	return &manifest.Source{
		URL:       url,
		CachePath: filepath.Join(c.MkDir(), "manifest.json"),
		Client:    &http.Client{Timeout: time.Second},
		Clock:     clock.WallClock,
	}
}

func (s *sourceSuite) TestLoadFetchesAndCaches(c *gc.C) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(minimalManifest))
	}))
	defer srv.Close()

	src := s.newSource(c, srv.URL)
	m, err := src.Load(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(m.Agents["claude"].Name, gc.Equals, "Claude Code")
	c.Check(src.IsStale(), jc.IsFalse)

	data, err := os.ReadFile(src.CachePath)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, minimalManifest)
}

func (s *sourceSuite) TestLoadParseFailure(c *gc.C) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	src := s.newSource(c, srv.URL)
	_, err := src.Load(context.Background())
	c.Assert(err, jc.ErrorIs, manifest.ErrManifest)
}

func (s *sourceSuite) TestLoadFallsBackToFreshCache(c *gc.C) {
	src := s.newSource(c, "http://127.0.0.1:0/manifest.json")
	err := os.WriteFile(src.CachePath, []byte(minimalManifest), 0600)
	c.Assert(err, jc.ErrorIsNil)

	m, err := src.Load(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(m.Clouds["hetzner"].Name, gc.Equals, "Hetzner Cloud")
	c.Check(src.IsStale(), jc.IsFalse)
}

func (s *sourceSuite) TestLoadStaleCache(c *gc.C) {
	src := s.newSource(c, "http://127.0.0.1:0/manifest.json")
	err := os.WriteFile(src.CachePath, []byte(minimalManifest), 0600)
	c.Assert(err, jc.ErrorIsNil)
	old := time.Now().Add(-48 * time.Hour)
	c.Assert(os.Chtimes(src.CachePath, old, old), jc.ErrorIsNil)

	_, err = src.Load(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(src.IsStale(), jc.IsTrue)
}

func (s *sourceSuite) TestLoadCacheTooOld(c *gc.C) {
	src := s.newSource(c, "http://127.0.0.1:0/manifest.json")
	err := os.WriteFile(src.CachePath, []byte(minimalManifest), 0600)
	c.Assert(err, jc.ErrorIsNil)
	old := time.Now().Add(-31 * 24 * time.Hour)
	c.Assert(os.Chtimes(src.CachePath, old, old), jc.ErrorIsNil)

	_, err = src.Load(context.Background())
	c.Assert(err, jc.ErrorIs, manifest.ErrManifest)
}

func (s *sourceSuite) TestLoadEmbeddedFallback(c *gc.C) {
	src := s.newSource(c, "http://127.0.0.1:0/manifest.json")
	m, err := src.Load(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(m.Implemented("hetzner", "claude"), jc.IsTrue)
	c.Check(src.IsStale(), jc.IsTrue)
}

func (s *sourceSuite) TestNon2xxUsesCache(c *gc.C) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := s.newSource(c, srv.URL)
	err := os.WriteFile(src.CachePath, []byte(minimalManifest), 0600)
	c.Assert(err, jc.ErrorIsNil)

	m, err := src.Load(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(m.Agents["claude"].LaunchCmd, gc.Equals, "claude")
}
