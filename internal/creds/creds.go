// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package creds persists per-provider credential bundles under
// ~/.config/spawn/<cloud>.json. Bundles are never world-readable,
// token values are held to a conservative charset, and anything empty
// or syntactically invalid on disk is treated as absent so a damaged
// file can simply be re-written.
package creds

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"

	"github.com/spawn-sh/spawn/internal/manifest"
)

var logger = loggo.GetLogger("spawn.creds")

// tokenChars is the conservative set every token value must draw
// from. Providers may relax it with a few extra runes of their own.
const tokenChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789._/@:+=, -"

// relaxations lists additional runes tolerated in token values for
// specific providers.
var relaxations = map[string]string{
	// AWS session tokens are base64 and may carry padding newlines
	// stripped; secret keys routinely contain '+' and '/' which the
	// base set already admits.
	"aws": "",
	// Sprite tokens embed a tilde-separated checksum.
	"sprite": "~",
}

// ValidToken reports whether value is acceptable as a credential for
// the given cloud. Empty values are never acceptable.
func ValidToken(cloud, value string) bool {
	if value == "" {
		return false
	}
	allowed := tokenChars + relaxations[cloud]
	for _, r := range value {
		if !strings.ContainsRune(allowed, r) {
			return false
		}
	}
	return true
}

// Bundle holds the required token values for one provider, keyed by
// environment variable name.
type Bundle map[string]string

// Store reads and writes credential bundles.
type Store struct {
	// Dir is the bundle directory, ~/.config/spawn in production.
	Dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(cloud string) (string, error) {
	if !manifest.ValidKey(cloud) {
		return "", errors.NotValidf("cloud key %q", cloud)
	}
	return filepath.Join(s.Dir, cloud+".json"), nil
}

// Load returns the saved bundle for a cloud. A missing, empty or
// malformed file is reported as not-found rather than an error: the
// caller falls through to the next step of the auth chain.
func (s *Store) Load(cloud string) (Bundle, error) {
	path, err := s.path(cloud)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("credentials for %q", cloud)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil || len(b) == 0 {
		logger.Debugf("ignoring unreadable credential bundle %s", path)
		return nil, errors.NotFoundf("credentials for %q", cloud)
	}
	for name, value := range b {
		if !ValidToken(cloud, value) {
			logger.Debugf("ignoring credential bundle %s: bad value for %s", path, name)
			return nil, errors.NotFoundf("credentials for %q", cloud)
		}
	}
	return b, nil
}

// Save writes the bundle for a cloud with mode 0600, creating the
// store directory as needed. Values failing the token charset are
// rejected before anything touches disk.
func (s *Store) Save(cloud string, b Bundle) error {
	path, err := s.path(cloud)
	if err != nil {
		return errors.Trace(err)
	}
	if len(b) == 0 {
		return errors.NotValidf("empty credential bundle")
	}
	for name, value := range b {
		if !ValidToken(cloud, value) {
			return errors.NotValidf("credential value for %s", name)
		}
	}
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return errors.Trace(err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(utils.AtomicWriteFile(path, data, 0600))
}

// Delete removes the bundle for a cloud. Deleting an absent bundle is
// not an error.
func (s *Store) Delete(cloud string) error {
	path, err := s.path(cloud)
	if err != nil {
		return errors.Trace(err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	return nil
}

// Lookup resolves one required variable for a cloud: the process
// environment wins, then the saved bundle. The returned source is
// "env", "file" or "" when the variable is unresolved.
func (s *Store) Lookup(cloud, name string) (value, source string) {
	if v := os.Getenv(name); v != "" {
		return v, "env"
	}
	if b, err := s.Load(cloud); err == nil {
		if v := b[name]; v != "" {
			return v, "file"
		}
	}
	return "", ""
}

// Missing returns the subset of required variable names that resolve
// neither from the environment nor from the saved bundle.
func (s *Store) Missing(cloud string, required []string) []string {
	var missing []string
	for _, name := range required {
		if v, _ := s.Lookup(cloud, name); v == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
