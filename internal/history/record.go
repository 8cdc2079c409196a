// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package history keeps the durable registry of every launch attempt:
// one JSON file of spawn records, newest first, written atomically and
// revalidated field by field on every read and write. A record that
// fails validation is refused with a diagnostic naming the file, since
// the likely causes are hand-editing and tampering.
package history

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/juju/errors"
)

const (
	maxNameLen      = 128
	maxPromptLen    = 8192
	maxLaunchCmdLen = 512
)

// Sentinel IPs mark records of sandbox providers that are reached
// through a provider-native console rather than ssh.
const (
	SentinelSpriteConsole = "sprite-console"
	SentinelDaytona       = "daytona-sandbox"
)

var (
	ipv4Pattern = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)
	hostPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
	userPattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
	idPattern   = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

	// launchCmdDenied are the shell metacharacters a persisted launch
	// command may never contain; everything a tunnel or flagged
	// invocation legitimately needs stays allowed.
	launchCmdDenied = ";|&$`<>(){}\\\n\r"
)

// Connection records how to reach a provisioned instance.
type Connection struct {
	IP         string            `json:"ip"`
	User       string            `json:"user"`
	ServerID   string            `json:"server_id"`
	ServerName string            `json:"server_name"`
	Cloud      string            `json:"cloud"`
	LaunchCmd  string            `json:"launch_cmd,omitempty"`
	Deleted    bool              `json:"deleted,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Record is one launch attempt.
type Record struct {
	Agent      string      `json:"agent"`
	Cloud      string      `json:"cloud"`
	Timestamp  time.Time   `json:"timestamp"`
	Name       string      `json:"name,omitempty"`
	Prompt     string      `json:"prompt,omitempty"`
	Connection *Connection `json:"connection,omitempty"`
}

// Active reports whether the record refers to a live instance.
func (r *Record) Active() bool {
	return r.Connection != nil && !r.Connection.Deleted
}

// TamperError reports a persisted identifier failing its format
// check on reload.
type TamperError struct {
	Path  string
	Field string
}

// Error is part of the error interface.
func (e *TamperError) Error() string {
	return fmt.Sprintf(
		"history may be corrupted or tampered: field %q is invalid in %s; edit the file or run 'spawn list --clear'",
		e.Field, e.Path)
}

// IsTamper returns the TamperError in err's chain, if any.
func IsTamper(err error) (*TamperError, bool) {
	var e *TamperError
	ok := errors.As(err, &e)
	return e, ok
}

// ValidIP reports whether s is a strict IPv4 address, a DNS name, or
// one of the sandbox sentinels.
func ValidIP(s string) bool {
	switch s {
	case SentinelSpriteConsole, SentinelDaytona:
		return true
	}
	if m := ipv4Pattern.FindStringSubmatch(s); m != nil {
		for _, octet := range m[1:] {
			if len(octet) > 1 && octet[0] == '0' {
				return false
			}
			var n int
			_, _ = fmt.Sscanf(octet, "%d", &n)
			if n > 255 {
				return false
			}
		}
		return true
	}
	return len(s) <= 253 && hostPattern.MatchString(s)
}

// ValidUser reports whether s is an acceptable unix account name.
func ValidUser(s string) bool { return userPattern.MatchString(s) }

// ValidID reports whether s is an acceptable server id or name.
func ValidID(s string) bool { return idPattern.MatchString(s) }

// ValidLaunchCmd reports whether s is safe to place on a command
// line: length-capped and free of unlisted shell metacharacters.
func ValidLaunchCmd(s string) bool {
	if len(s) > maxLaunchCmdLen {
		return false
	}
	return !strings.ContainsAny(s, launchCmdDenied)
}

// SanitizePrompt strips control characters (keeping newlines and
// tabs) and bounds the length.
func SanitizePrompt(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\t' || (r >= 0x20 && r != 0x7f) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxPromptLen {
		out = out[:maxPromptLen]
	}
	return out
}

// validate checks every field of a record against the data-model
// invariants, reporting the first violation as a TamperError bound to
// path.
func (r *Record) validate(path string) error {
	fail := func(field string) error {
		return &TamperError{Path: path, Field: field}
	}
	if r.Agent == "" || r.Cloud == "" {
		return fail("agent/cloud")
	}
	if r.Timestamp.IsZero() {
		return fail("timestamp")
	}
	if len(r.Name) > maxNameLen {
		return fail("name")
	}
	if strings.ContainsAny(r.Name, "\n\r\x00") {
		return fail("name")
	}
	if len(r.Prompt) > maxPromptLen {
		return fail("prompt")
	}
	if c := r.Connection; c != nil {
		switch {
		case !ValidIP(c.IP):
			return fail("connection.ip")
		case !ValidUser(c.User):
			return fail("connection.user")
		case !ValidID(c.ServerID):
			return fail("connection.server_id")
		case !ValidID(c.ServerName):
			return fail("connection.server_name")
		case c.Cloud == "":
			return fail("connection.cloud")
		case c.LaunchCmd != "" && !ValidLaunchCmd(c.LaunchCmd):
			return fail("connection.launch_cmd")
		}
	}
	return nil
}
