// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package keyservice implements credential self-service: an automated
// job that discovers missing provider credentials posts a batch
// request here, an admin receives a signed single-use link, and the
// form behind the link writes credential files as providers are
// fulfilled.
package keyservice

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmizerany/pat"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/ratelimit"

	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/manifest"
)

var logger = loggo.GetLogger("spawn.keyservice")

// batchTTL bounds how long a signed link stays usable.
const batchTTL = 24 * time.Hour

// Submission rate limits, per client address and per batch id.
const (
	submitRate     = 0.5
	submitCapacity = 5
)

// Mailer delivers the signed link to a human.
type Mailer interface {
	Send(to, subject, body string) error
}

// Config wires the service's collaborators.
type Config struct {
	// Secret signs batch URLs and authenticates DELETE /key calls.
	Secret string

	// AdminEmail receives the signed links.
	AdminEmail string

	// BaseURL is the externally reachable prefix of this service.
	BaseURL string

	Manifest *manifest.Manifest
	Creds    *creds.Store
	Clock    clock.Clock
	Mailer   Mailer
}

// Validate checks the config is complete.
func (c Config) Validate() error {
	switch {
	case c.Secret == "":
		return errors.NotValidf("config without secret")
	case c.AdminEmail == "":
		return errors.NotValidf("config without admin email")
	case c.Manifest == nil, c.Creds == nil, c.Clock == nil, c.Mailer == nil:
		return errors.NotValidf("incomplete config")
	}
	return nil
}

type batch struct {
	ID        string
	Providers []string
	Expires   time.Time

	// pending holds submitted values per provider until every auth
	// var for that provider is present.
	pending   map[string]creds.Bundle
	fulfilled map[string]bool
}

func (b *batch) done() bool {
	for _, p := range b.Providers {
		if !b.fulfilled[p] {
			return false
		}
	}
	return true
}

// Service is the HTTP credential collector. Batches live in memory;
// fulfilled credentials land in the store.
type Service struct {
	cfg Config

	mu           sync.Mutex
	batches      map[string]*batch
	ipBuckets    map[string]*ratelimit.Bucket
	batchBuckets map[string]*ratelimit.Bucket
}

// New builds the service.
func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Service{
		cfg:          cfg,
		batches:      map[string]*batch{},
		ipBuckets:    map[string]*ratelimit.Bucket{},
		batchBuckets: map[string]*ratelimit.Bucket{},
	}, nil
}

// Handler exposes the HTTP surface.
func (s *Service) Handler() http.Handler {
	mux := pat.New()
	mux.Post("/request-batch", http.HandlerFunc(s.requestBatch))
	mux.Get("/batch/:id", http.HandlerFunc(s.form))
	mux.Post("/batch/:id", http.HandlerFunc(s.submit))
	mux.Del("/key/:provider", http.HandlerFunc(s.deleteKey))
	return mux
}

// sign returns the hex HMAC-SHA256 of "<batchID>:<exp>".
func (s *Service) sign(batchID string, exp int64) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
	fmt.Fprintf(mac, "%s:%d", batchID, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify checks signature and expiry; comparison is constant-time and
// an exp at or before now always fails.
func (s *Service) verify(batchID string, expRaw, sig string) bool {
	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil {
		return false
	}
	want := s.sign(batchID, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return false
	}
	return exp > s.cfg.Clock.Now().Unix()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestBatch creates a batch for the providers still missing
// credentials and emails the signed link. The batch is only kept if
// the mail was accepted.
func (s *Service) requestBatch(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Providers []string `json:"providers"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad request body"})
		return
	}
	var pending []string
	for _, p := range body.Providers {
		def, ok := s.cfg.Manifest.Clouds[p]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown provider " + p})
			return
		}
		if len(s.cfg.Creds.Missing(p, def.AuthVars())) > 0 {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"status": "nothing pending"})
		return
	}

	b := &batch{
		ID:        uuid.NewString(),
		Providers: pending,
		Expires:   s.cfg.Clock.Now().Add(batchTTL),
		pending:   map[string]creds.Bundle{},
		fulfilled: map[string]bool{},
	}
	exp := b.Expires.Unix()
	link := fmt.Sprintf("%s/batch/%s?exp=%d&sig=%s", s.cfg.BaseURL, b.ID, exp, s.sign(b.ID, exp))
	subject := fmt.Sprintf("Credentials needed for %s", strings.Join(pending, ", "))
	if err := s.cfg.Mailer.Send(s.cfg.AdminEmail, subject, link); err != nil {
		logger.Errorf("sending batch mail: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "mail delivery failed"})
		return
	}

	s.mu.Lock()
	s.batches[b.ID] = b
	s.mu.Unlock()
	logger.Infof("batch %s created for %v", b.ID, pending)
	writeJSON(w, http.StatusCreated, map[string]any{
		"batch_id": b.ID,
		"pending":  pending,
	})
}

func (s *Service) lookupBatch(req *http.Request) (*batch, int) {
	id := req.URL.Query().Get(":id")
	if !s.verify(id, req.URL.Query().Get("exp"), req.URL.Query().Get("sig")) {
		return nil, http.StatusForbidden
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, http.StatusNotFound
	}
	if s.cfg.Clock.Now().After(b.Expires) {
		delete(s.batches, id)
		return nil, http.StatusForbidden
	}
	return b, 0
}

// allow enforces the per-address and per-batch submission budgets.
func (s *Service) allow(addr, batchID string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ipBucket, ok := s.ipBuckets[host]
	if !ok {
		ipBucket = ratelimit.NewBucketWithRate(submitRate, submitCapacity)
		s.ipBuckets[host] = ipBucket
	}
	batchBucket, ok := s.batchBuckets[batchID]
	if !ok {
		batchBucket = ratelimit.NewBucketWithRate(submitRate, submitCapacity)
		s.batchBuckets[batchID] = batchBucket
	}
	return ipBucket.TakeAvailable(1) == 1 && batchBucket.TakeAvailable(1) == 1
}

// submit accepts form values named after env vars, prefixed by the
// provider key ("hetzner.HCLOUD_TOKEN"). A provider is fulfilled only
// when every one of its auth vars has a valid value.
func (s *Service) submit(w http.ResponseWriter, req *http.Request) {
	b, status := s.lookupBatch(req)
	if b == nil {
		writeJSON(w, status, map[string]any{"error": http.StatusText(status)})
		return
	}
	if !s.allow(req.RemoteAddr, b.ID) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "slow down"})
		return
	}
	if err := req.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad form"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fulfilled := []string{}
	for _, provider := range b.Providers {
		if b.fulfilled[provider] {
			continue
		}
		def := s.cfg.Manifest.Clouds[provider]
		bundle := b.pending[provider]
		if bundle == nil {
			bundle = creds.Bundle{}
			b.pending[provider] = bundle
		}
		for _, name := range def.AuthVars() {
			value := strings.TrimSpace(req.PostFormValue(provider + "." + name))
			if value == "" {
				continue
			}
			if !creds.ValidToken(provider, value) {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": "invalid characters in " + name,
				})
				return
			}
			bundle[name] = value
		}
		complete := true
		for _, name := range def.AuthVars() {
			if bundle[name] == "" {
				complete = false
			}
		}
		if complete {
			if err := s.cfg.Creds.Save(provider, bundle); err != nil {
				logger.Errorf("saving %s bundle: %v", provider, err)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not save"})
				return
			}
			b.fulfilled[provider] = true
			delete(b.pending, provider)
			fulfilled = append(fulfilled, provider)
		}
	}
	if b.done() {
		// Single use: a completed batch link stops working.
		delete(s.batches, b.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "accepted",
		"fulfilled": fulfilled,
		"remaining": remaining(b),
	})
}

func remaining(b *batch) []string {
	out := []string{}
	for _, p := range b.Providers {
		if !b.fulfilled[p] {
			out = append(out, p)
		}
	}
	return out
}

// deleteKey removes a provider's credential file. Bearer-authed with
// the service secret.
func (s *Service) deleteKey(w http.ResponseWriter, req *http.Request) {
	token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok || !hmac.Equal([]byte(token), []byte(s.cfg.Secret)) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	provider := req.URL.Query().Get(":provider")
	if err := s.cfg.Creds.Delete(provider); err != nil {
		if errors.Is(err, errors.NotFound) || errors.Is(err, errors.NotValid) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "no such credential"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not delete"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "provider": provider})
}
