// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package driver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
)

// PublicKeyEnvKey overrides the public key injected into new
// instances.
const PublicKeyEnvKey = "SPAWN_SSH_PUBLIC_KEY"

var defaultKeyFiles = []string{
	"id_ed25519.pub",
	"id_rsa.pub",
	"id_ecdsa.pub",
}

// LocalPublicKey returns the SSH public key to authorise on new
// instances: the override variable first, then the usual files under
// ~/.ssh.
func LocalPublicKey() (string, error) {
	if key := strings.TrimSpace(os.Getenv(PublicKeyEnvKey)); key != "" {
		return key, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Trace(err)
	}
	for _, name := range defaultKeyFiles {
		data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err == nil && len(strings.TrimSpace(string(data))) > 0 {
			return strings.TrimSpace(string(data)), nil
		}
	}
	return "", errors.NotFoundf(
		"ssh public key (generate one with ssh-keygen, or set %s)", PublicKeyEnvKey)
}
