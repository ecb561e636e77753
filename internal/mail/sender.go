package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/samber/oops"

	"blog-api/internal/observability"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

const dialTimeout = 10 * time.Second

// SMTPSender delivers through an SMTP relay, upgrading with STARTTLS when
// the server offers it.
type SMTPSender struct {
	addr     string
	host     string
	username string
	password string
	from     string
}

func NewSMTPSender(addr, username, password, from string) *SMTPSender {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return &SMTPSender{
		addr:     addr,
		host:     host,
		username: username,
		password: password,
		from:     from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return oops.Code("MAIL_DIAL_FAILED").With("addr", s.addr).Wrap(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return oops.Code("MAIL_HANDSHAKE_FAILED").With("addr", s.addr).Wrap(err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}); err != nil {
			return oops.Code("MAIL_HANDSHAKE_FAILED").With("step", "starttls").Wrap(err)
		}
	}
	if s.username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return oops.Code("MAIL_AUTH_FAILED").With("username", s.username).Wrap(err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("step", "mail from").Wrap(err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("step", "rcpt to").Wrap(err)
	}

	w, err := client.Data()
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("step", "data").Wrap(err)
	}
	if _, err := w.Write(s.render(msg)); err != nil {
		_ = w.Close()
		return oops.Code("MAIL_SEND_FAILED").With("step", "write body").Wrap(err)
	}
	if err := w.Close(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("step", "close body").Wrap(err)
	}
	return client.Quit()
}

func (s *SMTPSender) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender writes messages to the log instead of delivering them. Used
// when no SMTP relay is configured.
type LogSender struct {
	logger *observability.Logger
}

func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("mail_not_delivered", map[string]any{
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Body,
	})
	return nil
}
