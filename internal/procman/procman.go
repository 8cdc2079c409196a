// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package procman starts detached child processes and terminates
// whole process trees. The trigger runner and the agent pre-launch
// hooks both need fire-and-forget children that outlive the call that
// started them but not the supervisor that owns them.
package procman

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"golang.org/x/sys/unix"
)

var logger = loggo.GetLogger("spawn.procman")

// killGrace is how long a process group gets between SIGTERM and
// SIGKILL.
const killGrace = 5 * time.Second

// ExitStatus is the terminal state of a detached child.
type ExitStatus struct {
	Code   int
	Signal string
	Err    error
}

// Handle tracks one detached child.
type Handle struct {
	PID  int
	done chan ExitStatus
}

// Done returns a channel that yields the exit status exactly once.
func (h *Handle) Done() <-chan ExitStatus {
	return h.done
}

// Start launches argv detached in its own session, with stdout and
// stderr appended to logFile (the caller's own streams when nil). It
// never blocks on the child.
func Start(argv []string, workdir string, env []string, logFile *os.File) (*Handle, error) {
	if len(argv) == 0 {
		return nil, errors.NotValidf("empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workdir
	if env != nil {
		cmd.Env = env
	}
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	cmd.Stdin = nil
	// A new session detaches the child from our controlling terminal
	// and makes its pid the process-group id, so the whole tree can
	// be signalled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, errors.Annotatef(err, "starting %s", argv[0])
	}
	h := &Handle{PID: cmd.Process.Pid, done: make(chan ExitStatus, 1)}
	go func() {
		err := cmd.Wait()
		status := ExitStatus{}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				status.Signal = ws.Signal().String()
			}
		} else if err != nil {
			status.Code = -1
			status.Err = err
		}
		h.done <- status
	}()
	return h, nil
}

// Alive reports whether pid refers to a live process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// KillTree terminates the process group led by pid: SIGTERM, a grace
// period, then SIGKILL for survivors.
func KillTree(clk clock.Clock, pid int) {
	if pid <= 0 {
		return
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		// Fall back to the single process when it was not a group
		// leader.
		_ = unix.Kill(pid, unix.SIGTERM)
	}
	deadline := clk.Now().Add(killGrace)
	for clk.Now().Before(deadline) {
		if !Alive(pid) {
			return
		}
		<-clk.After(100 * time.Millisecond)
	}
	logger.Debugf("pid %d survived SIGTERM, escalating", pid)
	_ = unix.Kill(-pid, unix.SIGKILL)
	_ = unix.Kill(pid, unix.SIGKILL)
}
