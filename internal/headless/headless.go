// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package headless shapes launch outcomes for scripts and CI: one
// structured line on stdout, everything informational on stderr, and
// a small fixed error vocabulary with stable exit codes.
package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/juju/errors"

	"github.com/spawn-sh/spawn/internal/driver"
	"github.com/spawn-sh/spawn/internal/history"
	"github.com/spawn-sh/spawn/internal/manifest"
	"github.com/spawn-sh/spawn/internal/orchestrator"
)

// Error codes of the headless envelope.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeManifest           = "MANIFEST_ERROR"
	CodeUnknownAgent       = "UNKNOWN_AGENT"
	CodeUnknownCloud       = "UNKNOWN_CLOUD"
	CodeNotImplemented     = "NOT_IMPLEMENTED"
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeDownload           = "DOWNLOAD_ERROR"
	CodeExecution          = "EXECUTION_ERROR"
)

// Exit codes of the headless contract.
const (
	ExitSuccess     = 0
	ExitExecution   = 1
	ExitDownload    = 2
	ExitValidation  = 3
	ExitInterrupted = 130
)

// Envelope is the single structured result line.
type Envelope struct {
	Status       string `json:"status"`
	Cloud        string `json:"cloud"`
	Agent        string `json:"agent"`
	IPAddress    string `json:"ip_address,omitempty"`
	SSHUser      string `json:"ssh_user,omitempty"`
	ServerID     string `json:"server_id,omitempty"`
	ServerName   string `json:"server_name,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Success builds the envelope for a provisioned server.
func Success(agent, cloud string, srv *driver.Server) Envelope {
	if srv == nil {
		srv = &driver.Server{}
	}
	return Envelope{
		Status:     "success",
		Cloud:      cloud,
		Agent:      agent,
		IPAddress:  srv.IP,
		SSHUser:    srv.User,
		ServerID:   srv.ID,
		ServerName: srv.Name,
	}
}

// Failure builds the error envelope.
func Failure(agent, cloud, code, message string) Envelope {
	return Envelope{
		Status:       "error",
		Cloud:        cloud,
		Agent:        agent,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// Write emits the envelope as one JSON line or as plain key: value
// lines, per the requested output format.
func (e Envelope) Write(w io.Writer, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		return errors.Trace(enc.Encode(e))
	}
	pairs := [][2]string{
		{"status", e.Status},
		{"cloud", e.Cloud},
		{"agent", e.Agent},
		{"ip_address", e.IPAddress},
		{"ssh_user", e.SSHUser},
		{"server_id", e.ServerID},
		{"server_name", e.ServerName},
		{"error_code", e.ErrorCode},
		{"error_message", e.ErrorMessage},
	}
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", p[0], p[1]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Classify maps a pipeline error to its envelope code and process
// exit code.
func Classify(err error) (code string, exit int) {
	if err == nil {
		return "", ExitSuccess
	}
	if _, ok := orchestrator.IsMissingCreds(err); ok {
		return CodeMissingCredentials, ExitValidation
	}
	if _, ok := orchestrator.IsNotImplemented(err); ok {
		return CodeNotImplemented, ExitValidation
	}
	var nf *manifest.NotFoundError
	if errors.As(err, &nf) {
		if nf.Want == manifest.KindCloud {
			return CodeUnknownCloud, ExitValidation
		}
		return CodeUnknownAgent, ExitValidation
	}
	if _, ok := manifest.IsWrongKind(err); ok {
		return CodeValidation, ExitValidation
	}
	if errors.Is(err, manifest.ErrManifest) {
		return CodeManifest, ExitDownload
	}
	if errors.Is(err, errors.NotValid) {
		return CodeValidation, ExitValidation
	}
	return CodeExecution, ExitExecution
}

// ReadLastConnection loads the connection details the orchestrator
// dropped during create_server, re-validating field by field before
// anything is surfaced.
func ReadLastConnection(path string) (*history.Connection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var conn history.Connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, errors.Annotatef(err, "parsing %s", path)
	}
	tamper := func(field string) error {
		return &history.TamperError{Path: path, Field: field}
	}
	if !history.ValidIP(conn.IP) {
		return nil, tamper("ip")
	}
	if !history.ValidUser(conn.User) {
		return nil, tamper("user")
	}
	if !history.ValidID(conn.ServerID) {
		return nil, tamper("server_id")
	}
	if !history.ValidID(conn.ServerName) {
		return nil, tamper("server_name")
	}
	if conn.LaunchCmd != "" && !history.ValidLaunchCmd(conn.LaunchCmd) {
		return nil, tamper("launch_cmd")
	}
	return &conn, nil
}
