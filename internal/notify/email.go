package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"jobalert/internal/model"
)

// EmailConfig holds SMTP submission settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Email sends notifications over SMTP with STARTTLS.
type Email struct {
	from   string
	sender mailSender
}

// NewEmail creates an Email notifier. No connection is made until Send.
func NewEmail(cfg EmailConfig) (*Email, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &Email{from: cfg.From, sender: client}, nil
}

// Send mails the postings to the alert owner.
func (e *Email) Send(ctx context.Context, to, query, location string, postings []model.Posting) error {
	msg, err := e.buildMessage(to, query, location, postings)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	if err := e.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: send to %s: %w", ErrDelivery, to, err)
	}
	return nil
}

func (e *Email) buildMessage(to, query, location string, postings []model.Posting) (*mail.Msg, error) {
	html, err := RenderHTML(query, location, postings)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.From(e.from); err != nil {
		return nil, fmt.Errorf("set from %q: %w", e.from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("set to %q: %w", to, err)
	}
	msg.Subject(Subject(query))
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, RenderText(query, location, postings))
	msg.AddAlternativeString(mail.TypeTextHTML, html)
	return msg, nil
}
