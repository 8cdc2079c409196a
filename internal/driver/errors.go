// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package driver

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

const (
	// ErrNoCredentials means every step of the authentication chain
	// came up empty or was rejected by the provider.
	ErrNoCredentials = errors.ConstError("no valid credentials")

	// ErrReadyTimeout means the instance did not become reachable
	// within the provider ceiling.
	ErrReadyTimeout = errors.ConstError("timed out waiting for server to become ready")
)

// ProvisionError reports that the provider accepted a create request
// but the resource did not materialise (quota, capacity, billing...).
type ProvisionError struct {
	Cloud  string
	Reason string
	Err    error
}

// Error is part of the error interface.
func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("provisioning on %s failed: %s", e.Cloud, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap supports errors.Is/As chains.
func (e *ProvisionError) Unwrap() error { return e.Err }

// ExecError reports a remote command exiting non-zero.
type ExecError struct {
	Command  string
	ExitCode int
}

// Error is part of the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("remote command exited %d: %s", e.ExitCode, e.Command)
}

// IsExec returns the ExecError in err's chain, if any.
func IsExec(err error) (*ExecError, bool) {
	var e *ExecError
	ok := errors.As(err, &e)
	return e, ok
}

// goneSubstrings is the last-resort heuristic for providers whose
// SDKs surface "already deleted" only as message text. Status-code
// 404 detection in each driver comes first.
var goneSubstrings = []string{
	"not found",
	"does not exist",
	"no such",
	"already deleted",
}

// IsGone reports whether err means the resource is already absent,
// which destroy treats as success.
func IsGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.NotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range goneSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
