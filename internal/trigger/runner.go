// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package trigger implements the long-lived HTTP listener that wakes
// a paused workflow host: each authorized POST /trigger starts one
// detached cycle of the workflow script, bounded by a concurrency
// cap, a wall-clock ceiling, and an idle watchdog on the cycle's
// stdio log.
package trigger

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmizerany/pat"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/tomb.v2"

	"github.com/spawn-sh/spawn/internal/procman"
)

var logger = loggo.GetLogger("spawn.trigger")

const (
	sweepInterval = 30 * time.Second
	drainTimeout  = 15 * time.Minute
	drainPoll     = time.Second
)

// slot tracks one running workflow cycle.
type slot struct {
	ID      string    `json:"id"`
	Reason  string    `json:"reason,omitempty"`
	PID     int       `json:"pid"`
	Started time.Time `json:"started"`

	logPath string
	handle  *procman.Handle
}

// Runner supervises workflow cycles behind an HTTP listener.
type Runner struct {
	cfg   Config
	clock clock.Clock
	tomb  tomb.Tomb

	mu           sync.Mutex
	slots        map[string]*slot
	shuttingDown bool

	listener net.Listener
}

// NewRunner builds a runner; Serve starts it.
func NewRunner(cfg Config, clk clock.Clock) *Runner {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Runner{
		cfg:   cfg,
		clock: clk,
		slots: map[string]*slot{},
	}
}

// Serve listens on the loopback interface and blocks until Shutdown
// completes or the listener fails.
func (r *Runner) Serve() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", r.cfg.Port))
	if err != nil {
		return errors.Annotate(err, "listening")
	}
	r.mu.Lock()
	r.listener = listener
	r.mu.Unlock()
	logger.Infof("trigger runner listening on %s", listener.Addr())

	r.tomb.Go(r.sweep)
	server := &http.Server{Handler: r.Handler()}
	r.tomb.Go(func() error {
		err := server.Serve(listener)
		if err == http.ErrServerClosed || r.draining() {
			return nil
		}
		return err
	})
	return r.tomb.Wait()
}

// Handler exposes the HTTP surface; split out for tests.
func (r *Runner) Handler() http.Handler {
	mux := pat.New()
	mux.Get("/health", http.HandlerFunc(r.health))
	mux.Post("/trigger", http.HandlerFunc(r.trigger))
	return mux
}

// sweep reaps continuously so slots are collected even when nothing
// ever hits /trigger again.
func (r *Runner) sweep() error {
	for {
		select {
		case <-r.tomb.Dying():
			return nil
		case <-r.clock.After(sweepInterval):
			r.reap()
		}
	}
}

func (r *Runner) draining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shuttingDown
}

// reap drops slots whose pid is gone, and kills cycles past the
// wall-clock ceiling or whose log has stopped growing.
func (r *Runner) reap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for id, s := range r.slots {
		if s.PID == 0 {
			// Reserved but not yet forked; leave it alone.
			continue
		}
		if !procman.Alive(s.PID) {
			logger.Debugf("reaping dead slot %s (pid %d)", id, s.PID)
			delete(r.slots, id)
			continue
		}
		if now.Sub(s.Started) > r.cfg.RunTimeout {
			logger.Warningf("run %s exceeded %v, killing tree", id, r.cfg.RunTimeout)
			procman.KillTree(r.clock, s.PID)
			delete(r.slots, id)
			continue
		}
		if r.cfg.IdleTimeout > 0 && s.logPath != "" {
			if info, err := os.Stat(s.logPath); err == nil {
				if now.Sub(info.ModTime()) > r.cfg.IdleTimeout {
					logger.Warningf("run %s idle for %v, killing tree", id, r.cfg.IdleTimeout)
					procman.KillTree(r.clock, s.PID)
					delete(r.slots, id)
				}
			}
		}
	}
}

// reserve admits one cycle under the concurrency cap. Admission and
// slot registration happen under a single lock hold so concurrent
// triggers cannot both pass the capacity check; the returned slot is
// a placeholder (PID zero) that spawn fills in or release drops.
func (r *Runner) reserve() (*slot, int, time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	var oldest time.Duration
	for _, s := range r.slots {
		if age := now.Sub(s.Started); age > oldest {
			oldest = age
		}
	}
	if len(r.slots) >= r.cfg.MaxConcurrent {
		return nil, len(r.slots), oldest, false
	}
	s := &slot{
		ID:      uuid.NewString()[:8],
		Started: now,
	}
	r.slots[s.ID] = s
	return s, len(r.slots), oldest, true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, id)
}

func (r *Runner) snapshot() (running int, oldest time.Duration, runs []slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for _, s := range r.slots {
		runs = append(runs, *s)
		if age := now.Sub(s.Started); age > oldest {
			oldest = age
		}
	}
	return len(r.slots), oldest, runs
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (r *Runner) health(w http.ResponseWriter, req *http.Request) {
	r.reap()
	running, _, runs := r.snapshot()
	if runs == nil {
		runs = []slot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"running":    running,
		"max":        r.cfg.MaxConcurrent,
		"timeoutSec": int(r.cfg.RunTimeout.Seconds()),
		"runs":       runs,
	})
}

// authorized compares the bearer token in constant time. Both sides
// are hashed first so length differences leak nothing.
func (r *Runner) authorized(req *http.Request) bool {
	header := req.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	want := sha256.Sum256([]byte(r.cfg.Secret))
	got := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

func (r *Runner) trigger(w http.ResponseWriter, req *http.Request) {
	if !r.authorized(req) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	if r.draining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "shutting down"})
		return
	}
	r.reap()

	s, running, oldest, ok := r.reserve()
	if !ok {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":        "at capacity",
			"running":      running,
			"max":          r.cfg.MaxConcurrent,
			"oldestAgeSec": int(oldest.Seconds()),
		})
		return
	}

	if err := r.spawn(s, req.URL.Query().Get("reason")); err != nil {
		r.release(s.ID)
		logger.Errorf("starting cycle: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	running, _, _ = r.snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "started",
		"run":     s,
		"running": running,
		"max":     r.cfg.MaxConcurrent,
	})
}

// spawn starts one detached cycle for a reserved slot, with its stdio
// appended to a per-run log; the log doubles as the idle-watchdog
// heartbeat. On error the caller releases the slot.
func (r *Runner) spawn(s *slot, reason string) error {
	logDir := r.cfg.LogDir
	if logDir == "" {
		logDir = os.TempDir()
	}
	logPath := filepath.Join(logDir, "trigger-"+s.ID+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Trace(err)
	}
	defer logFile.Close()

	handle, err := procman.Start([]string{r.cfg.Script}, r.cfg.Workdir, nil, logFile)
	if err != nil {
		return errors.Trace(err)
	}
	r.mu.Lock()
	s.Reason = reason
	s.PID = handle.PID
	s.logPath = logPath
	s.handle = handle
	r.mu.Unlock()
	logger.Infof("cycle %s started (pid %d, reason %q)", s.ID, s.PID, reason)
	return nil
}

// Shutdown drains: no new work, wait for outstanding cycles up to the
// drain ceiling, then kill survivors, returning how many had to be
// killed. Calling it again is a no-op.
func (r *Runner) Shutdown() int {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return 0
	}
	r.shuttingDown = true
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	deadline := r.clock.Now().Add(drainTimeout)
	for r.clock.Now().Before(deadline) {
		r.reap()
		running, _, _ := r.snapshot()
		if running == 0 {
			break
		}
		<-r.clock.After(drainPoll)
	}
	r.mu.Lock()
	killed := 0
	for id, s := range r.slots {
		delete(r.slots, id)
		if s.PID == 0 {
			continue
		}
		logger.Warningf("killing cycle %s after drain timeout", id)
		procman.KillTree(r.clock, s.PID)
		killed++
	}
	r.mu.Unlock()
	r.tomb.Kill(nil)
	return killed
}
