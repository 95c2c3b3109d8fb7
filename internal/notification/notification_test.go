package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/psique-app/platform/internal/shared/config"
)

func newTestSendGrid(t *testing.T, handler http.HandlerFunc) *SendGridMailer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m := NewSendGridMailer(config.MailConfig{
		APIKey:    "key",
		BaseURL:   srv.URL,
		FromEmail: "no-reply@psique.local",
		FromName:  "Psique",
	}, srv.Client())
	m.backoff = time.Millisecond
	return m
}

func TestSendGridPayload(t *testing.T) {
	var got map[string]any
	m := newTestSendGrid(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Unexpected auth header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	})

	msg := PasswordResetMessage("ana@example.com", "Ana", "http://app/reset-password/abc")
	if err := m.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got["subject"] != "Restablecimiento de Contraseña" {
		t.Errorf("Unexpected subject %v", got["subject"])
	}
	content, _ := got["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("Expected text and html content, got %d", len(content))
	}
	from, _ := got["from"].(map[string]any)
	if from["email"] != "no-reply@psique.local" {
		t.Errorf("Unexpected from %v", from)
	}
}

func TestSendGridRetries(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		wantErr  bool
		calls    int32
	}{
		{"success after 5xx", []int{500, 202}, false, 2},
		{"success after 429", []int{429, 429, 202}, false, 3},
		{"gives up after max attempts", []int{503, 503, 503}, true, 3},
		{"client error is final", []int{400, 202}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			m := newTestSendGrid(t, func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.statuses[n-1])
			})

			err := m.Send(context.Background(), Message{To: "a@example.com", Subject: "s", Text: "t"})
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if got := atomic.LoadInt32(&calls); got != tt.calls {
				t.Errorf("Expected %d calls, got %d", tt.calls, got)
			}
		})
	}
}

func TestPasswordResetMessage(t *testing.T) {
	msg := PasswordResetMessage("ana@example.com", "Ana <b>", "http://app/reset-password/abc")

	if msg.To != "ana@example.com" || msg.Kind != "password_reset" {
		t.Errorf("Unexpected message %+v", msg)
	}
	if !strings.Contains(msg.Text, "http://app/reset-password/abc") {
		t.Error("Expected link in text body")
	}
	if strings.Contains(msg.HTML, "<b>") {
		t.Error("Expected name to be escaped in html body")
	}
}

func TestConsoleMailerLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewConsoleMailer(zap.New(core))

	if err := m.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if logs.FilterField(zap.String("to", "a@example.com")).Len() != 1 {
		t.Error("Expected the message to be logged")
	}
	if err := m.Send(context.Background(), Message{}); err == nil {
		t.Error("Expected error without recipient")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestServiceDelivers(t *testing.T) {
	mailer := NewMemoryMailer()
	svc := NewService(mailer, ServiceConfig{Workers: 1, BufferSize: 4, RetryAttempts: 2, RetryDelay: time.Millisecond}, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	if err := svc.Enqueue(Message{To: "a@example.com", Subject: "Hi"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitFor(t, func() bool { return svc.Stats().Sent == 1 })

	sent := mailer.Sent()
	if len(sent) != 1 || sent[0].ID == "" {
		t.Errorf("Expected one message with an ID, got %+v", sent)
	}
}

func TestServiceRetriesThenFails(t *testing.T) {
	mailer := NewMemoryMailer()
	mailer.SetFailOnSend(true)
	svc := NewService(mailer, ServiceConfig{Workers: 1, BufferSize: 4, RetryAttempts: 2, RetryDelay: time.Millisecond}, nil)
	_ = svc.Start(context.Background())
	defer svc.Stop()

	_ = svc.Enqueue(Message{To: "a@example.com"})
	waitFor(t, func() bool { return svc.Stats().Failed == 1 })

	if stats := svc.Stats(); stats.Retried != 1 || stats.Sent != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestServiceRejects(t *testing.T) {
	svc := NewService(NewMemoryMailer(), ServiceConfig{Workers: 1, BufferSize: 1, RetryAttempts: 1}, nil)

	if err := svc.Enqueue(Message{}); err == nil {
		t.Error("Expected error without recipient")
	}
	_ = svc.Enqueue(Message{To: "a@example.com"})
	if err := svc.Enqueue(Message{To: "b@example.com"}); err == nil {
		t.Error("Expected buffer full error")
	}
	if svc.Stats().Dropped != 1 {
		t.Errorf("Expected one dropped message, got %d", svc.Stats().Dropped)
	}
	if err := svc.Stop(); err == nil {
		t.Error("Expected error stopping a service that never started")
	}
}

func TestNewMailer(t *testing.T) {
	if _, err := NewMailer(config.MailConfig{Provider: "console"}, nil); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if m, _ := NewMailer(config.MailConfig{Provider: "sendgrid", APIKey: "k"}, nil); m == nil {
		t.Error("Expected sendgrid mailer")
	}
	if _, err := NewMailer(config.MailConfig{Provider: "pigeon"}, nil); err == nil {
		t.Error("Expected error for unknown provider")
	}
}
