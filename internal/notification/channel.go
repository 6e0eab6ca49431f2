package notification

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
)

// ErrNoRecipient is returned when a user has no deliverable address.
var ErrNoRecipient = errors.New("no recipient address")

// Message is a rendered notification ready for delivery.
type Message struct {
	UserID  int64
	To      string
	Subject string
	Body    string
}

// Channel delivers rendered messages.
type Channel interface {
	Send(ctx context.Context, m Message) error
}

// LogChannel writes messages to the log instead of delivering them.
type LogChannel struct {
	Logger *zap.SugaredLogger
}

func (c LogChannel) Send(ctx context.Context, m Message) error {
	c.Logger.Infow("notification delivered", "user_id", m.UserID, "to", m.To, "subject", m.Subject)
	return nil
}

// SMTPChannel sends plain-text mail through an SMTP relay.
type SMTPChannel struct {
	addr string
	from string
	auth smtp.Auth

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPChannel(cfg config.Notification) *SMTPChannel {
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		host := cfg.SMTPHost
		if host == "" {
			host, _, _ = strings.Cut(cfg.SMTPAddr, ":")
		}
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, host)
	}
	return &SMTPChannel{addr: cfg.SMTPAddr, from: cfg.SMTPFrom, auth: auth, sendMail: smtp.SendMail}
}

func (c *SMTPChannel) Send(ctx context.Context, m Message) error {
	if m.To == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	if err := c.sendMail(c.addr, c.auth, c.from, []string{m.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Throttled caps the delivery rate of an underlying channel.
type Throttled struct {
	next    Channel
	limiter *rate.Limiter
}

func NewThrottled(next Channel, perSec float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Throttled) Send(ctx context.Context, m Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return t.next.Send(ctx, m)
}

// NewChannel picks SMTP when a relay is configured and the log channel
// otherwise, throttled either way.
func NewChannel(cfg config.Notification, logger *zap.SugaredLogger) Channel {
	var ch Channel = LogChannel{Logger: logger}
	if cfg.SMTPAddr != "" {
		ch = NewSMTPChannel(cfg)
	}
	return NewThrottled(ch, cfg.RatePerSec, cfg.Burst)
}
