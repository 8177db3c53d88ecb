// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package notify

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/samber/oops"
)

// SMTPConfig holds mail server settings. Username may be empty for servers
// that accept unauthenticated relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(e *email.Email, addr string, a smtp.Auth) error

// SMTPNotifier sends messages through an SMTP server. Each message is tried
// as HTML first and resent as plain text if that fails.
type SMTPNotifier struct {
	cfg    SMTPConfig
	addr   string
	auth   smtp.Auth
	send   sendFunc
	logger *slog.Logger
}

// NewSMTPNotifier validates cfg and returns a notifier.
func NewSMTPNotifier(cfg SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, oops.Code("NOTIFY_CONFIG").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("NOTIFY_CONFIG").Errorf("sender address is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, oops.Code("NOTIFY_CONFIG").With("port", cfg.Port).Errorf("smtp port out of range")
	}
	if logger == nil {
		logger = slog.Default()
	}

	n := &SMTPNotifier{
		cfg:    cfg,
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		send:   func(e *email.Email, addr string, a smtp.Auth) error { return e.Send(addr, a) },
		logger: logger,
	}
	if cfg.Username != "" {
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return n, nil
}

// Send delivers msg. The context is only checked before the first attempt;
// the mail library has no cancellation hook.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rich := n.envelope(msg)
	rich.HTML = []byte(htmlBody(msg.Body))
	htmlErr := n.send(rich, n.addr, n.auth)
	if htmlErr == nil {
		n.logger.InfoContext(ctx, "email sent", "to", msg.To, "format", "html")
		return nil
	}
	n.logger.WarnContext(ctx, "html email failed, falling back to plain text", "to", msg.To, "error", htmlErr)

	plain := n.envelope(msg)
	plain.Text = []byte(msg.Body)
	if err := n.send(plain, n.addr, n.auth); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").
			With("to", msg.To).
			With("server", n.addr).
			Wrap(errors.Join(htmlErr, err))
	}
	n.logger.InfoContext(ctx, "email sent", "to", msg.To, "format", "text")
	return nil
}

func (n *SMTPNotifier) envelope(msg Message) *email.Email {
	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	return e
}

func htmlBody(text string) string {
	escaped := strings.ReplaceAll(html.EscapeString(text), "\n", "<br/>")
	return "<html><body>" + escaped + "</body></html>"
}
