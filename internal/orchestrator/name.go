// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

const maxNameLen = 64

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ValidName reports whether s is an acceptable instance name.
func ValidName(s string) bool {
	return len(s) >= 2 && len(s) <= maxNameLen && namePattern.MatchString(s)
}

// NormalizeName kebab-cases free-form input: lower-cased, runs of
// spaces and underscores become single dashes, anything else outside
// the name charset is dropped.
func NormalizeName(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == '-' || r == ' ' || r == '_':
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if !ValidName(out) {
		return "", errors.NotValidf("instance name %q", s)
	}
	return out, nil
}

// GenerateName derives a fresh name from the agent key.
func GenerateName(agent string) string {
	return agent + "-" + uuid.NewString()[:8]
}
