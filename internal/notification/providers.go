package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/config"
)

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer builds the provider selected by configuration.
func NewMailer(cfg config.MailConfig, log *zap.Logger) (Mailer, error) {
	switch cfg.Provider {
	case "", "console":
		return NewConsoleMailer(log), nil
	case "sendgrid":
		return NewSendGridMailer(cfg, nil), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// ConsoleMailer writes messages to the log. Used in development.
type ConsoleMailer struct {
	log *zap.Logger
}

func NewConsoleMailer(log *zap.Logger) *ConsoleMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsoleMailer{log: log.Named("mail")}
}

func (m *ConsoleMailer) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("no recipient address")
	}
	m.log.Info("email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("kind", msg.Kind),
		zap.String("body", msg.Text),
	)
	return nil
}

// SendGridMailer posts messages to the SendGrid v3 mail API.
type SendGridMailer struct {
	apiKey    string
	baseURL   string
	fromEmail string
	fromName  string
	client    *http.Client

	maxAttempts int
	backoff     time.Duration
}

// NewSendGridMailer creates a SendGrid mailer. A nil client gets a default
// one with a 10s timeout.
func NewSendGridMailer(cfg config.MailConfig, client *http.Client) *SendGridMailer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	return &SendGridMailer{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		fromEmail:   cfg.FromEmail,
		fromName:    cfg.FromName,
		client:      client,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPayload struct {
	Personalizations []struct {
		To []sendGridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendGridAddress   `json:"from"`
	Subject string            `json:"subject"`
	Content []sendGridContent `json:"content"`
}

func (m *SendGridMailer) payload(msg Message) ([]byte, error) {
	p := sendGridPayload{
		From:    sendGridAddress{Email: m.fromEmail, Name: m.fromName},
		Subject: msg.Subject,
	}
	p.Personalizations = make([]struct {
		To []sendGridAddress `json:"to"`
	}, 1)
	p.Personalizations[0].To = []sendGridAddress{{Email: msg.To, Name: msg.ToName}}

	if msg.Text != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/plain", Value: msg.Text})
	}
	if msg.HTML != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/html", Value: msg.HTML})
	}
	return json.Marshal(p)
}

// Send delivers msg, retrying on 429 and 5xx responses.
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("no recipient address")
	}
	body, err := m.payload(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		retry, err := m.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == m.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.backoff * time.Duration(attempt)):
		}
	}
	return lastErr
}

func (m *SendGridMailer) post(ctx context.Context, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("sendgrid request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return false, nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err = fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, err
}

// MemoryMailer keeps sent messages in memory. It backs tests and local
// tooling that must not send mail.
type MemoryMailer struct {
	mu         sync.Mutex
	sent       []Message
	failOnSend bool
}

func NewMemoryMailer() *MemoryMailer {
	return &MemoryMailer{}
}

func (m *MemoryMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOnSend {
		return fmt.Errorf("mock send failure")
	}
	m.sent = append(m.sent, msg)
	return nil
}

// SetFailOnSend sets whether Send should fail
func (m *MemoryMailer) SetFailOnSend(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOnSend = fail
}

// Sent returns a copy of the delivered messages
func (m *MemoryMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
