// Package delivery sends notification email. Senders are deliberately
// narrow: the poller hands over a fully built message and only cares whether
// it went out.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"telecast/internal/config"
	"telecast/internal/logging"
)

// Message is one outbound email.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	From() string
}

// SMTPSender speaks SMTP with optional plain auth.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender builds a sender from SMTP configuration.
func NewSMTPSender(cfg config.SMTP) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host required")
	}
	if strings.TrimSpace(cfg.FromAddress) == "" {
		return nil, errors.New("smtp from address required")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	return &SMTPSender{
		host:     cfg.Host,
		port:     port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.FromAddress,
	}, nil
}

// From returns the configured sender address.
func (s *SMTPSender) From() string { return s.from }

// Send delivers one message. The context deadline is honored up to the SMTP
// dial; the protocol exchange itself rides the connection's own timeouts.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("message recipient required")
	}

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	payload := buildMIME(s.from, msg)
	if err := smtp.SendMail(addr, auth, s.from, []string{msg.To}, payload); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

const mimeBoundary = "telecast-alt-7f3a9c"

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	header := func(key, value string) {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	header("From", from)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")

	if msg.HTMLBody == "" {
		header("Content-Type", `text/plain; charset="utf-8"`)
		b.WriteString("\r\n")
		b.WriteString(msg.TextBody)
		return []byte(b.String())
	}

	header("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, mimeBoundary))
	b.WriteString("\r\n")

	part := func(contentType, body string) {
		b.WriteString("--" + mimeBoundary + "\r\n")
		b.WriteString("Content-Type: " + contentType + "\r\n\r\n")
		b.WriteString(body)
		b.WriteString("\r\n")
	}
	part(`text/plain; charset="utf-8"`, msg.TextBody)
	part(`text/html; charset="utf-8"`, msg.HTMLBody)
	b.WriteString("--" + mimeBoundary + "--\r\n")
	return []byte(b.String())
}

// LogSender records messages instead of delivering them. It backs dry runs
// and deployments without SMTP configured.
type LogSender struct {
	logger *slog.Logger
	from   string
}

var _ Sender = (*LogSender)(nil)

// NewLogSender creates a sender that only logs.
func NewLogSender(logger *slog.Logger, from string) *LogSender {
	if logger == nil {
		logger = logging.NewNop()
	}
	if from == "" {
		from = "telecast@localhost"
	}
	return &LogSender{logger: logging.NewComponentLogger(logger, "delivery"), from: from}
}

// From returns the placeholder sender address.
func (l *LogSender) From() string { return l.from }

// Send logs the message and reports success.
func (l *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.Info("delivery suppressed, logging only",
		logging.String(logging.FieldUser, msg.To),
		logging.String("subject", msg.Subject))
	return nil
}

// RetrySender wraps another sender with exponential backoff.
type RetrySender struct {
	inner    Sender
	attempts uint64
	minWait  time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

var _ Sender = (*RetrySender)(nil)

// NewRetrySender wraps the sender. Non-positive tuning falls back to three
// attempts between two and sixteen seconds.
func NewRetrySender(inner Sender, cfg config.Notify, logger *slog.Logger) *RetrySender {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	minWait := time.Duration(cfg.RetryMinWaitSeconds) * time.Second
	if minWait <= 0 {
		minWait = 2 * time.Second
	}
	maxWait := time.Duration(cfg.RetryMaxWaitSeconds) * time.Second
	if maxWait <= 0 {
		maxWait = 16 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RetrySender{
		inner:    inner,
		attempts: uint64(attempts),
		minWait:  minWait,
		maxWait:  maxWait,
		logger:   logging.NewComponentLogger(logger, "delivery"),
	}
}

// From returns the wrapped sender's address.
func (r *RetrySender) From() string { return r.inner.From() }

// Send retries transient failures with exponential backoff before giving up.
func (r *RetrySender) Send(ctx context.Context, msg Message) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.minWait
	policy.MaxInterval = r.maxWait
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := r.inner.Send(ctx, msg)
		if err != nil && attempt > 1 {
			r.logger.Warn("delivery retry failed",
				logging.String(logging.FieldUser, msg.To),
				logging.Int("attempt", attempt),
				logging.Error(err))
		}
		return err
	}
	wrapped := backoff.WithContext(backoff.WithMaxRetries(policy, r.attempts-1), ctx)
	if err := backoff.Retry(operation, wrapped); err != nil {
		return fmt.Errorf("delivery gave up after %d attempts: %w", attempt, err)
	}
	return nil
}
