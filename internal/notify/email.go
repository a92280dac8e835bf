package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/careloop/clinic-platform/pkg/logging"
)

// EmailSender defines the interface for sending emails.
// Implementations can be swapped (SendGrid, SES, stub) without changing callers.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // Plain text body
	HTML    string // Optional HTML body
}

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender creates a new SendGrid email sender.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Careloop Clinic"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)

	var message *mail.SGMailV3
	if msg.HTML != "" {
		message = mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.HTML)
	} else {
		message = mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.Body)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}

	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject)
	return nil
}

// CaptureSender records messages instead of sending them. It backs local
// development and the tests that need to read a delivered OTP code.
type CaptureSender struct {
	mu     sync.Mutex
	last   map[string]EmailMessage
	logger *logging.Logger
}

// NewCaptureSender creates a recording sender.
func NewCaptureSender(logger *logging.Logger) *CaptureSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &CaptureSender{last: make(map[string]EmailMessage), logger: logger}
}

// Send records the message keyed by recipient.
func (s *CaptureSender) Send(ctx context.Context, msg EmailMessage) error {
	s.mu.Lock()
	s.last[msg.To] = msg
	s.mu.Unlock()
	s.logger.Info("capture email sender: message recorded", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Last returns the most recent message delivered to the recipient.
func (s *CaptureSender) Last(to string) (EmailMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.last[to]
	return msg, ok
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*CaptureSender)(nil)
)
