// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

package keyservice

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/juju/errors"
)

// SMTPMailer delivers through a plain SMTP relay.
type SMTPMailer struct {
	// Addr is host:port of the relay.
	Addr string

	// From is the envelope and header sender.
	From string

	// Auth is optional.
	Auth smtp.Auth
}

// Send implements Mailer.
func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
		"",
	}, "\r\n")
	if err := smtp.SendMail(m.Addr, m.Auth, m.From, []string{to}, []byte(msg)); err != nil {
		return errors.Annotatef(err, "sending mail to %s", to)
	}
	return nil
}

// LogMailer prints the link instead of mailing it; the development
// and single-operator mode.
type LogMailer struct{}

// Send implements Mailer.
func (LogMailer) Send(to, subject, body string) error {
	logger.Infof("mail for %s: %s", to, subject)
	fmt.Println(body)
	return nil
}
