// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package driver

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/utils/v4/ssh"

	"github.com/spawn-sh/spawn/internal/procman"
)

var remotePathPattern = regexp.MustCompile(`^[A-Za-z0-9/_.~-]+$`)

// ValidRemotePath reports whether p is acceptable as an upload
// target.
func ValidRemotePath(p string) bool {
	return p != "" && remotePathPattern.MatchString(p)
}

// SSHRemote implements the remote-execution half of the driver
// interface over OpenSSH for every VM provider. Sandbox providers
// with their own exec transport supply their own implementation.
type SSHRemote struct {
	Clock clock.Clock
}

func (r SSHRemote) options(pty bool) *ssh.Options {
	var options ssh.Options
	// Fresh VMs have fresh host keys; there is nothing to pin yet.
	options.SetStrictHostKeyChecking(ssh.StrictHostChecksNo)
	options.SetKnownHostsFile(os.DevNull)
	if pty {
		options.EnablePTY()
	}
	return &options
}

func target(srv *Server) string {
	return srv.User + "@" + srv.IP
}

// Run executes command on the server, bounded by timeout (zero means
// DefaultRunTimeout).
func (r SSHRemote) Run(ctx context.Context, srv *Server, command string, timeout time.Duration) error {
	_, err := r.run(ctx, srv, command, timeout, false)
	return errors.Trace(err)
}

// RunCapture executes command and returns its stdout.
func (r SSHRemote) RunCapture(ctx context.Context, srv *Server, command string, timeout time.Duration) (string, error) {
	out, err := r.run(ctx, srv, command, timeout, true)
	return out, errors.Trace(err)
}

// runArgs builds the openssh argv for a non-interactive command, with
// the same host-key posture as options().
func runArgs(srv *Server, command string) []string {
	return []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=" + os.DevNull,
		"-o", "BatchMode=yes",
		target(srv),
		"--", command,
	}
}

func (r SSHRemote) run(ctx context.Context, srv *Server, command string, timeout time.Duration, capture bool) (string, error) {
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	cmd := exec.Command("ssh", runArgs(srv, command)...)
	var stdout, stderr bytes.Buffer
	if capture {
		cmd.Stdout = &stdout
	} else {
		cmd.Stdout = os.Stderr
	}
	cmd.Stderr = &stderr
	// Its own process group, so cancellation can signal the whole
	// local ssh tree rather than just the leader.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return "", errors.Annotatef(err, "starting ssh to %s", srv.IP)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return stdout.String(), errors.Trace(r.execError(err, command, &stderr))
		}
		return stdout.String(), nil
	case <-ctx.Done():
		procman.KillTree(r.Clock, cmd.Process.Pid)
		<-done
		return "", errors.Trace(ctx.Err())
	case <-r.Clock.After(timeout):
		procman.KillTree(r.Clock, cmd.Process.Pid)
		<-done
		return "", errors.Errorf("remote command timed out after %v: %s", timeout, command)
	}
}

func (r SSHRemote) execError(err error, command string, stderr *bytes.Buffer) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e := &ExecError{Command: command, ExitCode: exitErr.ExitCode()}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return errors.Annotate(e, msg)
		}
		return e
	}
	return err
}

// Upload copies a local file onto the server via scp. Remote paths
// outside the allowed charset are rejected before anything is run.
func (r SSHRemote) Upload(ctx context.Context, srv *Server, local, remote string) error {
	if !ValidRemotePath(remote) {
		return errors.NotValidf("remote path %q", remote)
	}
	if _, err := os.Stat(local); err != nil {
		return errors.Trace(err)
	}
	args := []string{local, target(srv) + ":" + remote}
	if err := ssh.Copy(args, r.options(false)); err != nil {
		return errors.Annotatef(err, "uploading %s", remote)
	}
	return nil
}

// Interactive hands the controlling terminal to an ssh session
// running command and reports the child's exit code.
func (r SSHRemote) Interactive(ctx context.Context, srv *Server, command string) (int, error) {
	words := []string{command}
	if command == "" {
		words = nil
	}
	cmd := ssh.Command(target(srv), words, r.options(true))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, errors.Annotate(err, "interactive session")
}

// WaitSSH polls until command execution succeeds on the server or the
// ceiling elapses. Providers call it from WaitReady with a probe of
// the first-boot marker file.
func (r SSHRemote) WaitSSH(ctx context.Context, srv *Server, probe string, ceiling time.Duration) error {
	deadline := r.Clock.Now().Add(ceiling)
	for {
		err := r.Run(ctx, srv, probe, 15*time.Second)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return errors.Trace(err)
		}
		if r.Clock.Now().After(deadline) {
			return ErrReadyTimeout
		}
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-r.Clock.After(5 * time.Second):
		}
	}
}
