// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/juju/errors"

	"github.com/spawn-sh/spawn/internal/driver"
)

// envValuePattern is the charset an injected value may use. Values
// are placed inside double quotes in a sourced shell file, so
// anything with quoting power is rejected outright.
var envValuePattern = regexp.MustCompile(`^[A-Za-z0-9._/@:+=,\- ]*$`)

const rcSourceLine = `[ -f ~/.spawnrc ] && source ~/.spawnrc`

// RenderEnvFile serializes env as a KEY="VALUE" file with keys
// sorted. Any value outside the allowed charset fails the whole
// render; nothing is uploaded partially sanitized.
func RenderEnvFile(env map[string]string) (string, error) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v := env[k]
		if !envValuePattern.MatchString(v) {
			return "", errors.NotValidf("value for %s", k)
		}
		fmt.Fprintf(&b, "export %s=%q\n", k, v)
	}
	return b.String(), nil
}

// injectEnv ships the environment file to ~/.spawnrc (mode 0600) via
// a local base64 round-trip, then makes the login shells source it.
func injectEnv(ctx context.Context, d driver.Driver, srv *driver.Server, env map[string]string) error {
	content, err := RenderEnvFile(env)
	if err != nil {
		return errors.Trace(err)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	cmd := fmt.Sprintf("echo %s | base64 -d > ~/.spawnrc && chmod 600 ~/.spawnrc", encoded)
	if err := d.Run(ctx, srv, cmd, 0); err != nil {
		return errors.Annotate(err, "writing ~/.spawnrc")
	}
	for _, rc := range []string{".bashrc", ".zshrc"} {
		cmd := fmt.Sprintf("grep -qsF %q ~/%s || echo %q >> ~/%s", rcSourceLine, rc, rcSourceLine, rc)
		if err := d.Run(ctx, srv, cmd, 0); err != nil {
			return errors.Annotatef(err, "updating ~/%s", rc)
		}
	}
	return nil
}
