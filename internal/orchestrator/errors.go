// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// MissingCredsError reports the environment variables a launch still
// needs. It carries the cloud so callers can print signup hints.
type MissingCredsError struct {
	Cloud string
	Vars  []string
}

func (e *MissingCredsError) Error() string {
	return "Missing required credentials: " + strings.Join(e.Vars, ", ")
}

// IsMissingCreds extracts a MissingCredsError from err's chain.
func IsMissingCreds(err error) (*MissingCredsError, bool) {
	var m *MissingCredsError
	return m, errors.As(err, &m)
}

// NotImplementedError reports a (cloud, agent) pair the matrix marks
// missing, with up to three launchable alternatives for the agent.
type NotImplementedError struct {
	Agent        string
	Cloud        string
	Alternatives []string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s on %s is not implemented yet", e.Agent, e.Cloud)
}

// IsNotImplemented extracts a NotImplementedError from err's chain.
func IsNotImplemented(err error) (*NotImplementedError, bool) {
	var n *NotImplementedError
	return n, errors.As(err, &n)
}

// DuplicateNameError reports an active instance already holding the
// requested (name, agent, cloud). The caller routes the user to the
// record instead of double-provisioning.
type DuplicateNameError struct {
	Name  string
	Agent string
	Cloud string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("an active %s instance named %q already exists on %s", e.Agent, e.Name, e.Cloud)
}

// IsDuplicateName extracts a DuplicateNameError from err's chain.
func IsDuplicateName(err error) (*DuplicateNameError, bool) {
	var d *DuplicateNameError
	return d, errors.As(err, &d)
}

// InstallError reports a remote install step exiting non-zero.
type InstallError struct {
	Step string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install step failed: %s: %v", e.Step, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// IsInstall extracts an InstallError from err's chain.
func IsInstall(err error) (*InstallError, bool) {
	var i *InstallError
	return i, errors.As(err, &i)
}
