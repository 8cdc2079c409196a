// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sprite provisions sprite.sh container sandboxes. Sandboxes
// have no ssh endpoint; one-shot commands go through the exec API and
// interactive sessions through the local sprite console client. The
// package is referenced only by its registration in
// internal/provider/all.
package sprite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/driver"
	"github.com/spawn-sh/spawn/internal/manifest"
)

var logger = loggo.GetLogger("spawn.provider.sprite")

const (
	tokenVar = "SPRITE_TOKEN"

	// ConsoleSentinel is recorded in place of an IP address; sandbox
	// sessions reattach through the console, not ssh.
	ConsoleSentinel = "sprite-console"

	defaultBaseURL = "https://api.sprite.sh/v1"
	sandboxUser    = "sprite"
	consoleBinary  = "sprite"

	readyCeiling = 3 * time.Minute
	readyPoll    = 2 * time.Second
)

func init() {
	driver.Register("sprite", newDriver)
}

type spriteDriver struct {
	cfg     driver.Config
	baseURL string
	token   string
	client  *http.Client
}

func newDriver(cfg driver.Config) (driver.Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	baseURL := os.Getenv("SPRITE_API_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &spriteDriver{
		cfg:     cfg,
		baseURL: baseURL,
		client:  rc.StandardClient(),
	}, nil
}

func (d *spriteDriver) Cloud() manifest.CloudDef {
	return d.cfg.CloudDef
}

type sandbox struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type execResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// do issues one authenticated API call, decoding the response into
// out when it is non-nil. A 404 maps to errors.NotFound so callers
// can treat missing sandboxes uniformly.
func (d *spriteDriver) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Trace(err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Annotatef(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errors.NotFoundf("%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Annotatef(err, "decoding %s %s", method, path)
		}
	}
	return nil
}

func (d *spriteDriver) Authenticate(ctx context.Context) error {
	token, source := d.cfg.Creds.Lookup("sprite", tokenVar)
	prompted := false
	if token == "" {
		var err error
		token, err = d.cfg.Interactor.ReadLine("Enter your sprite API token: ")
		if err != nil {
			return errors.Annotate(driver.ErrNoCredentials, "sprite")
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.Annotate(driver.ErrNoCredentials, "sprite")
		}
		source = "prompt"
		prompted = true
	}
	d.token = token
	if err := d.do(ctx, http.MethodGet, "/account", nil, nil); err != nil {
		d.token = ""
		return errors.Annotatef(err, "validating sprite token from %s", source)
	}
	logger.Debugf("sprite token from %s validated", source)
	if prompted {
		if err := d.cfg.Creds.Save("sprite", creds.Bundle{tokenVar: token}); err != nil {
			logger.Warningf("could not save sprite token: %v", err)
		}
	}
	return nil
}

// PromptSize is a no-op: sandboxes have one shape.
func (d *spriteDriver) PromptSize(ctx context.Context, spec *driver.LaunchSpec) error {
	return nil
}

func (d *spriteDriver) CreateServer(ctx context.Context, spec *driver.LaunchSpec) (*driver.Server, error) {
	var sb sandbox
	err := d.do(ctx, http.MethodPost, "/sandboxes", map[string]string{
		"name": spec.Name,
		"tier": string(spec.Tier),
	}, &sb)
	if err != nil {
		return nil, &driver.ProvisionError{Cloud: "sprite", Reason: "create sandbox", Err: err}
	}
	// First-boot setup runs through the exec API instead of
	// cloud-init; run it once the sandbox reports ready.
	return &driver.Server{
		ID:    sb.ID,
		Name:  sb.Name,
		IP:    ConsoleSentinel,
		User:  sandboxUser,
		Cloud: "sprite",
		Metadata: map[string]string{
			"setup": spec.UserData,
		},
	}, nil
}

// WaitReady polls the sandbox until it reports ready, then runs the
// deferred first-boot setup through the exec API.
func (d *spriteDriver) WaitReady(ctx context.Context, srv *driver.Server) error {
	deadline := d.cfg.Clock.Now().Add(readyCeiling)
	for {
		var sb sandbox
		err := d.do(ctx, http.MethodGet, "/sandboxes/"+srv.ID, nil, &sb)
		if err == nil && sb.Status == "ready" {
			break
		}
		if err != nil && errors.Is(err, errors.NotFound) {
			return errors.Trace(err)
		}
		if d.cfg.Clock.Now().After(deadline) {
			return driver.ErrReadyTimeout
		}
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-d.cfg.Clock.After(readyPoll):
		}
	}
	if setup := srv.Metadata["setup"]; setup != "" {
		if err := d.Run(ctx, srv, setup, 10*time.Minute); err != nil {
			return errors.Annotate(err, "sandbox setup")
		}
	}
	return nil
}

func (d *spriteDriver) Run(ctx context.Context, srv *driver.Server, command string, timeout time.Duration) error {
	_, err := d.RunCapture(ctx, srv, command, timeout)
	return errors.Trace(err)
}

func (d *spriteDriver) RunCapture(ctx context.Context, srv *driver.Server, command string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = driver.DefaultRunTimeout
	}
	var result execResult
	err := d.do(ctx, http.MethodPost, "/sandboxes/"+srv.ID+"/exec", map[string]any{
		"command":    command,
		"timeout_ms": timeout.Milliseconds(),
	}, &result)
	if err != nil {
		return "", errors.Trace(err)
	}
	if result.ExitCode != 0 {
		e := &driver.ExecError{Command: command, ExitCode: result.ExitCode}
		if msg := strings.TrimSpace(result.Stderr); msg != "" {
			return result.Stdout, errors.Annotate(e, msg)
		}
		return result.Stdout, e
	}
	return result.Stdout, nil
}

// Upload writes a local file into the sandbox through the files API.
func (d *spriteDriver) Upload(ctx context.Context, srv *driver.Server, local, remote string) error {
	if !driver.ValidRemotePath(remote) {
		return errors.NotValidf("remote path %q", remote)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return errors.Trace(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		d.baseURL+"/sandboxes/"+srv.ID+"/files?path="+remote, bytes.NewReader(data))
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Annotatef(err, "uploading %s", remote)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("uploading %s: %s", remote, resp.Status)
	}
	return nil
}

// Interactive attaches the terminal through the local sprite console
// client; sandboxes expose no ssh endpoint.
func (d *spriteDriver) Interactive(ctx context.Context, srv *driver.Server, command string) (int, error) {
	path, err := exec.LookPath(consoleBinary)
	if err != nil {
		return -1, errors.Annotatef(err, "the sprite console client is required for interactive sessions")
	}
	args := []string{"console", srv.Name}
	if command != "" {
		args = append(args, "--", command)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", tokenVar, d.token))
	err = cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, errors.Annotate(err, "sprite console")
}

func (d *spriteDriver) Destroy(ctx context.Context, id string) error {
	err := d.do(ctx, http.MethodDelete, "/sandboxes/"+id, nil, nil)
	if err == nil || errors.Is(err, errors.NotFound) {
		return nil
	}
	return errors.Annotatef(err, "deleting sandbox %s", id)
}

func (d *spriteDriver) List(ctx context.Context) ([]driver.Server, error) {
	var sandboxes []sandbox
	if err := d.do(ctx, http.MethodGet, "/sandboxes", nil, &sandboxes); err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]driver.Server, 0, len(sandboxes))
	for _, sb := range sandboxes {
		out = append(out, driver.Server{
			ID:    sb.ID,
			Name:  sb.Name,
			IP:    ConsoleSentinel,
			User:  sandboxUser,
			Cloud: "sprite",
		})
	}
	return out, nil
}
