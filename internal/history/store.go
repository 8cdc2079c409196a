// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/mutex/v2"
	"github.com/juju/utils/v4"
)

var logger = loggo.GetLogger("spawn.history")

var lockTimeout = 5 * time.Second

// Store reads and writes the spawn record registry.
type Store struct {
	// Path locates history.json.
	Path string

	Clock clock.Clock
}

// NewStore returns a store over path using the wall clock.
func NewStore(path string) *Store {
	return &Store{Path: path, Clock: clock.WallClock}
}

// lock serialises writers across processes. Readers go lock-free:
// the atomic rename means they always see a complete file.
func (s *Store) lock() (mutex.Releaser, error) {
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    "spawn-history",
		Clock:   s.Clock,
		Delay:   250 * time.Millisecond,
		Timeout: lockTimeout,
	})
	if err != nil {
		return nil, errors.Annotate(err, "locking history")
	}
	return releaser, nil
}

func (s *Store) read() ([]Record, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Annotatef(err, "history may be corrupted or tampered: %s", s.Path)
	}
	for i := range records {
		if err := records[i].validate(s.Path); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return records, nil
}

func (s *Store) write(records []Record) error {
	for i := range records {
		if err := records[i].validate(s.Path); err != nil {
			return errors.Trace(err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return errors.Trace(err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(utils.AtomicWriteFile(s.Path, data, 0600))
}

// Add prepends a record, preserving newest-first order. The record's
// prompt is sanitised and its timestamp defaulted to now.
func (s *Store) Add(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.Clock.Now().UTC()
	}
	rec.Prompt = SanitizePrompt(rec.Prompt)

	releaser, err := s.lock()
	if err != nil {
		return errors.Trace(err)
	}
	defer releaser.Release()

	records, err := s.read()
	if err != nil {
		return errors.Trace(err)
	}
	records = append([]Record{rec}, records...)
	return errors.Trace(s.write(records))
}

// All returns every record, newest first.
func (s *Store) All() ([]Record, error) {
	return s.read()
}

// Filter returns records matching the given agent and/or cloud keys;
// empty arguments match everything.
func (s *Store) Filter(agent, cloud string) ([]Record, error) {
	records, err := s.read()
	if err != nil {
		return nil, errors.Trace(err)
	}
	var out []Record
	for _, rec := range records {
		if agent != "" && rec.Agent != agent {
			continue
		}
		if cloud != "" && rec.Cloud != cloud {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ActiveServers returns records whose connection exists and has not
// been marked deleted, newest first.
func (s *Store) ActiveServers() ([]Record, error) {
	records, err := s.read()
	if err != nil {
		return nil, errors.Trace(err)
	}
	var out []Record
	for _, rec := range records {
		if rec.Active() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindActive implements the duplicate-name guard: the newest active
// record matching (name, agent, cloud), if any.
func (s *Store) FindActive(name, agent, cloud string) (*Record, error) {
	records, err := s.ActiveServers()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i, rec := range records {
		if rec.Agent == agent && rec.Cloud == cloud && rec.Connection.ServerName == name {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Latest returns the newest record, or not-found.
func (s *Store) Latest() (*Record, error) {
	records, err := s.read()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(records) == 0 {
		return nil, errors.NotFoundf("spawn history")
	}
	return &records[0], nil
}

// MarkDeleted flips the deleted flag on every active record whose
// server id matches; the records themselves are kept for audit.
func (s *Store) MarkDeleted(serverID string) error {
	releaser, err := s.lock()
	if err != nil {
		return errors.Trace(err)
	}
	defer releaser.Release()

	records, err := s.read()
	if err != nil {
		return errors.Trace(err)
	}
	changed := false
	for i := range records {
		c := records[i].Connection
		if c != nil && c.ServerID == serverID && !c.Deleted {
			c.Deleted = true
			changed = true
		}
	}
	if !changed {
		return errors.NotFoundf("active record for server %q", serverID)
	}
	return errors.Trace(s.write(records))
}

// SetLaunchCmd records the resolved launch command on the newest
// active record for serverID, once it is known.
func (s *Store) SetLaunchCmd(serverID, launchCmd string) error {
	if launchCmd != "" && !ValidLaunchCmd(launchCmd) {
		return errors.NotValidf("launch command")
	}
	releaser, err := s.lock()
	if err != nil {
		return errors.Trace(err)
	}
	defer releaser.Release()

	records, err := s.read()
	if err != nil {
		return errors.Trace(err)
	}
	for i := range records {
		c := records[i].Connection
		if c != nil && c.ServerID == serverID && !c.Deleted {
			c.LaunchCmd = launchCmd
			return errors.Trace(s.write(records))
		}
	}
	return errors.NotFoundf("active record for server %q", serverID)
}

// Remove drops the record at index (into the newest-first ordering).
// Removal is terminal; the destroy path marks records deleted
// instead.
func (s *Store) Remove(index int) error {
	releaser, err := s.lock()
	if err != nil {
		return errors.Trace(err)
	}
	defer releaser.Release()

	records, err := s.read()
	if err != nil {
		return errors.Trace(err)
	}
	if index < 0 || index >= len(records) {
		return errors.NotFoundf("history record %d", index)
	}
	records = append(records[:index], records[index+1:]...)
	return errors.Trace(s.write(records))
}

// Clear removes the whole registry file.
func (s *Store) Clear() error {
	releaser, err := s.lock()
	if err != nil {
		return errors.Trace(err)
	}
	defer releaser.Release()

	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	logger.Debugf("cleared history at %s", s.Path)
	return nil
}
