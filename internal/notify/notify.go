// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

// Package notify delivers outbound email off the request path.
//
// A Notifier performs one delivery. The Dispatcher queues messages, retries
// failed deliveries with exponential backoff, and implements
// auth.ResetNotifier so account recovery never waits on the mail server.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers a message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// ResetMessage builds the password reset email for a recipient.
func ResetMessage(to, resetURL string, expiresIn time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Hello,\n\n"+
			"We received a request to reset the password for your account. "+
			"Open the link below to choose a new one:\n\n%s\n\n"+
			"The link expires in %s and works once. "+
			"If you did not ask for a reset you can ignore this email.",
			resetURL, humanDuration(expiresIn)),
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// LogNotifier prints messages instead of sending them. It is meant for
// development: the full body, reset links included, goes to the writer and
// only the recipient goes to the logger.
type LogNotifier struct {
	w      io.Writer
	logger *slog.Logger
}

// NewLogNotifier writes to w, or stderr when w is nil.
func NewLogNotifier(w io.Writer, logger *slog.Logger) *LogNotifier {
	if w == nil {
		w = os.Stderr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{w: w, logger: logger}
}

// Send prints msg.
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if _, err := fmt.Fprintf(n.w, "To: %s\nSubject: %s\n\n%s\n\n", msg.To, msg.Subject, msg.Body); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "email printed", "to", msg.To, "subject", msg.Subject)
	return nil
}
