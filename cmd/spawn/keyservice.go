// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"

	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/keyservice"
	"github.com/spawn-sh/spawn/internal/spawnhome"
)

const keyserviceDoc = `
Serve the credential self-service: an operator requests a batch link
for the providers still missing credentials, the link is mailed out,
and whoever opens it submits the values through a one-time form.

Configuration is through the environment:

    KEYSERVICE_SECRET       signs batch links (required)
    KEYSERVICE_ADMIN_EMAIL  where the links are mailed (required)
    KEYSERVICE_BASE_URL     external URL prefix of this service
    KEYSERVICE_PORT         listen port (default 8378)
    SMTP_ADDR, SMTP_FROM    relay for outgoing mail; links are printed
                            to stdout when unset
`

type keyserviceCommand struct {
	cmd.CommandBase
}

func newKeyserviceCommand() cmd.Command {
	return &keyserviceCommand{}
}

func (c *keyserviceCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "keyservice",
		Args:    "serve",
		Purpose: "serve the credential self-service",
		Doc:     keyserviceDoc,
	}
}

func (c *keyserviceCommand) Init(args []string) error {
	if len(args) != 1 || args[0] != "serve" {
		return errors.New("usage: spawn keyservice serve")
	}
	return nil
}

func (c *keyserviceCommand) Run(ctx *cmd.Context) error {
	m, err := loadManifest(context.Background())
	if err != nil {
		return errors.Trace(err)
	}
	var mailer keyservice.Mailer = keyservice.LogMailer{}
	if addr := os.Getenv("SMTP_ADDR"); addr != "" {
		mailer = &keyservice.SMTPMailer{Addr: addr, From: os.Getenv("SMTP_FROM")}
	}
	port := 8378
	if raw := os.Getenv("KEYSERVICE_PORT"); raw != "" {
		port, err = strconv.Atoi(raw)
		if err != nil {
			return errors.NotValidf("KEYSERVICE_PORT %q", raw)
		}
	}
	svc, err := keyservice.New(keyservice.Config{
		Secret:     os.Getenv("KEYSERVICE_SECRET"),
		AdminEmail: os.Getenv("KEYSERVICE_ADMIN_EMAIL"),
		BaseURL:    os.Getenv("KEYSERVICE_BASE_URL"),
		Manifest:   m,
		Creds:      creds.NewStore(spawnhome.CredentialDir()),
		Clock:      clock.WallClock,
		Mailer:     mailer,
	})
	if err != nil {
		return errors.Trace(err)
	}
	server := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	fmt.Fprintf(ctx.Stderr, "keyservice listening on %s\n", server.Addr)
	return errors.Trace(server.ListenAndServe())
}
