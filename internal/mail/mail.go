// Package mail delivers transactional email such as signup confirmations.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Message struct {
	To          mail.Address
	Subject     string
	TextContent string
	HTMLContent string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Console writes messages to the log instead of delivering them.
type Console struct {
	from       mail.Address
	subjPrefix string
	logger     *slog.Logger

	mu   sync.Mutex
	sent []Message
}

var _ Sender = (*Console)(nil)

func NewConsole(appName string, from mail.Address, logger *slog.Logger) *Console {
	return &Console{
		from:       from,
		subjPrefix: "[" + appName + "] ",
		logger:     logger,
	}
}

func (c *Console) Send(ctx context.Context, msg Message) error {
	c.logger.InfoContext(ctx, "email",
		"from", c.from.String(),
		"to", msg.To.String(),
		"subject", c.subjPrefix+msg.Subject,
		"body", msg.TextContent,
	)
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

// Sent returns every message passed to Send.
func (c *Console) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGrid delivers messages through the SendGrid v3 API.
type SendGrid struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	logger     *slog.Logger
}

var _ Sender = (*SendGrid)(nil)

func NewSendGrid(key, appName string, from mail.Address, logger *slog.Logger) *SendGrid {
	return &SendGrid{
		key:        key,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + appName + "] ",
		logger:     logger,
	}
}

func (s *SendGrid) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	return m
}

func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		s.logger.ErrorContext(ctx, "sendgrid rejected email", "status", res.StatusCode, "body", res.Body)
		return fmt.Errorf("sending email: status %d", res.StatusCode)
	}
	return nil
}
