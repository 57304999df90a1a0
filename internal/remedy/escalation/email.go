// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// EmailSink mails a plain-text escalation to a fixed recipient list. STARTTLS
// is used whenever the server offers it.
type EmailSink struct {
	host string
	addr string
	from string
	to   []string
	auth smtp.Auth

	dialer    net.Dialer
	tlsConfig *tls.Config
}

// NewEmailSink creates an SMTP sink. auth may be nil for relays that accept
// unauthenticated mail.
func NewEmailSink(host string, port int, from string, to []string, auth smtp.Auth) *EmailSink {
	return &EmailSink{
		host:      host,
		addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		from:      from,
		to:        to,
		auth:      auth,
		dialer:    net.Dialer{Timeout: 10 * time.Second},
		tlsConfig: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Send(ctx context.Context, event Event) error {
	if len(s.to) == 0 {
		return backoff.Permanent(fmt.Errorf("email sink has no recipients"))
	}

	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("error connecting to smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("error starting smtp session: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(s.tlsConfig); err != nil {
			return fmt.Errorf("error starting tls: %w", err)
		}
	}
	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return backoff.Permanent(fmt.Errorf("smtp auth failed: %w", err))
			}
		}
	}

	if err := c.Mail(s.from); err != nil {
		return fmt.Errorf("smtp MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range s.to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA rejected: %w", err)
	}
	if _, err := w.Write(s.message(event)); err != nil {
		return fmt.Errorf("error writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp server rejected message: %w", err)
	}
	return c.Quit()
}

func (s *EmailSink) message(event Event) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", event.Title())
	fmt.Fprintf(&b, "Date: %s\r\n", event.EscalatedAt.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@remedy>\r\n", event.ID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(event.Summary(), "\n", "\r\n"))
	return b.Bytes()
}
