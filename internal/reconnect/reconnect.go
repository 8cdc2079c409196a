// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reconnect reopens an interactive session against a spawn
// record: straight ssh for VM clouds, the provider console for
// sandbox clouds, or a tunnel command stored with the record. Every
// identifier is re-validated before it goes anywhere near a command
// line; a record that fails validation is reported as possible
// tampering rather than executed.
package reconnect

import (
	"context"
	"os"
	"os/exec"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/kballard/go-shellquote"

	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/driver"
	"github.com/spawn-sh/spawn/internal/history"
	"github.com/spawn-sh/spawn/internal/interact"
	"github.com/spawn-sh/spawn/internal/manifest"
)

var logger = loggo.GetLogger("spawn.reconnect")

// TunnelMetadataKey marks a record whose session goes through a
// locally executed tunnel command instead of direct ssh.
const TunnelMetadataKey = "tunnel"

// Session reattaches to existing instances.
type Session struct {
	Manifest   *manifest.Manifest
	Creds      *creds.Store
	History    *history.Store
	Interactor *interact.Interactor
	Clock      clock.Clock

	// NewDriver defaults to driver.New.
	NewDriver func(driver.Config) (driver.Driver, error)
}

func (s *Session) newDriver(cfg driver.Config) (driver.Driver, error) {
	if s.NewDriver != nil {
		return s.NewDriver(cfg)
	}
	return driver.New(cfg)
}

func isSentinel(ip string) bool {
	return ip == history.SentinelSpriteConsole || ip == history.SentinelDaytona
}

// revalidate re-checks every identifier about to be interpolated. The
// store validates on read too; this guards the window between read
// and use.
func (s *Session) revalidate(c *history.Connection) error {
	tamper := func(field string) error {
		return &history.TamperError{Path: s.History.Path, Field: field}
	}
	if !history.ValidIP(c.IP) && !isSentinel(c.IP) {
		return tamper("ip")
	}
	if !history.ValidUser(c.User) {
		return tamper("user")
	}
	if !history.ValidID(c.ServerID) || !history.ValidID(c.ServerName) {
		return tamper("server_id")
	}
	if c.LaunchCmd != "" && !history.ValidLaunchCmd(c.LaunchCmd) {
		return tamper("launch_cmd")
	}
	return nil
}

// Reattach opens an interactive session for the record and returns
// the child's exit code.
func (s *Session) Reattach(ctx context.Context, rec *history.Record) (int, error) {
	c := rec.Connection
	if c == nil || c.Deleted {
		return -1, errors.NotFoundf("live instance for this record")
	}
	if err := s.revalidate(c); err != nil {
		return -1, errors.Trace(err)
	}
	switch {
	case isSentinel(c.IP):
		return s.console(ctx, rec)
	case c.Metadata[TunnelMetadataKey] != "":
		return s.tunnel(c)
	default:
		return s.ssh(ctx, c)
	}
}

// console reattaches through the provider's native console, which
// needs an authenticated driver.
func (s *Session) console(ctx context.Context, rec *history.Record) (int, error) {
	def, ok := s.Manifest.Clouds[rec.Cloud]
	if !ok {
		return -1, errors.NotFoundf("cloud %q", rec.Cloud)
	}
	d, err := s.newDriver(driver.Config{
		CloudDef:   def,
		Creds:      s.Creds,
		Clock:      s.Clock,
		Interactor: s.Interactor,
	})
	if err != nil {
		return -1, errors.Trace(err)
	}
	if err := d.Authenticate(ctx); err != nil {
		return -1, errors.Trace(err)
	}
	c := rec.Connection
	srv := &driver.Server{
		ID:    c.ServerID,
		Name:  c.ServerName,
		IP:    c.IP,
		User:  c.User,
		Cloud: c.Cloud,
	}
	return d.Interactive(ctx, srv, c.LaunchCmd)
}

// tunnel runs the validated tunnel command locally with the terminal
// attached.
func (s *Session) tunnel(c *history.Connection) (int, error) {
	tunnelCmd := c.Metadata[TunnelMetadataKey]
	if !history.ValidLaunchCmd(tunnelCmd) {
		return -1, errors.Trace(&history.TamperError{Path: s.History.Path, Field: "metadata." + TunnelMetadataKey})
	}
	words, err := shellquote.Split(tunnelCmd)
	if err != nil || len(words) == 0 {
		return -1, errors.NotValidf("tunnel command")
	}
	logger.Debugf("tunnel: %s", tunnelCmd)
	cmd := exec.Command(words[0], words[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, errors.Annotate(err, "tunnel session")
	}
	return 0, nil
}

// ssh reattaches over plain ssh. The stored launch command, when
// present, is restarted inside a login shell so ~/.spawnrc applies.
func (s *Session) ssh(ctx context.Context, c *history.Connection) (int, error) {
	remote := driver.SSHRemote{Clock: s.Clock}
	srv := &driver.Server{IP: c.IP, User: c.User}
	session := ""
	if c.LaunchCmd != "" {
		session = "bash -lc " + shellquote.Join(c.LaunchCmd)
	}
	return remote.Interactive(ctx, srv, session)
}
