// Package dispatch delivers alert events to notification channels. Each
// channel runs an isolated worker with its own bounded queue, so an
// unavailable channel never blocks the others or the alert lifecycle.
package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/carewatch/carewatch/internal/domain/alerts"
)

// Channel is a single notification destination.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, event alerts.Event) error
}

// ---- webhook ----

// WebhookChannel POSTs the event JSON to a configured URL, signed with
// HMAC-SHA256 so receivers can authenticate the payload.
type WebhookChannel struct {
	name   string
	url    string
	secret string
	client *http.Client
}

func NewWebhookChannel(name, url, secret string) *WebhookChannel {
	return &WebhookChannel{
		name:   name,
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookChannel) Name() string { return w.name }

func (w *WebhookChannel) Deliver(ctx context.Context, event alerts.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook %s: marshal: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CareWatch-Event", string(event.Kind))
	if w.secret != "" {
		req.Header.Set("X-CareWatch-Signature", SignPayload(payload, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: endpoint returned %d", w.name, resp.StatusCode)
	}
	return nil
}

// SignPayload computes the hex HMAC-SHA256 of the payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the signature matches the payload. For
// webhook receivers; uses a constant-time comparison.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ---- email ----

// EmailSender abstracts the mail backend (SMTP relay, provider API).
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// EmailChannel fans an alert event out to a fixed recipient list.
type EmailChannel struct {
	name       string
	sender     EmailSender
	recipients []string
}

func NewEmailChannel(name string, sender EmailSender, recipients []string) *EmailChannel {
	return &EmailChannel{name: name, sender: sender, recipients: recipients}
}

func (e *EmailChannel) Name() string { return e.name }

func (e *EmailChannel) Deliver(ctx context.Context, event alerts.Event) error {
	subject := fmt.Sprintf("[%s] %s alert: %s",
		event.Alert.Severity, event.Kind, event.Alert.RuleID)
	body := fmt.Sprintf("%s\n\nPatient: %s\nRule: %s\nSeverity: %s\nTriggered: %s\n",
		event.Alert.Message, event.Alert.PatientID, event.Alert.RuleID,
		event.Alert.Severity, event.Alert.TriggeredAt.Format(time.RFC3339))

	for _, to := range e.recipients {
		if err := e.sender.SendEmail(ctx, to, subject, body); err != nil {
			return fmt.Errorf("email %s: send to %s: %w", e.name, to, err)
		}
	}
	return nil
}

// ---- sms ----

// SMSSender abstracts the SMS backend.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// SMSChannel sends a short form of the alert to a fixed number list.
type SMSChannel struct {
	name    string
	sender  SMSSender
	numbers []string
}

func NewSMSChannel(name string, sender SMSSender, numbers []string) *SMSChannel {
	return &SMSChannel{name: name, sender: sender, numbers: numbers}
}

func (s *SMSChannel) Name() string { return s.name }

func (s *SMSChannel) Deliver(ctx context.Context, event alerts.Event) error {
	body := fmt.Sprintf("CareWatch %s %s: %s (patient %s)",
		event.Alert.Severity, event.Kind, event.Alert.RuleID, event.Alert.PatientID)

	for _, to := range s.numbers {
		if err := s.sender.SendSMS(ctx, to, body); err != nil {
			return fmt.Errorf("sms %s: send to %s: %w", s.name, to, err)
		}
	}
	return nil
}

// ---- test doubles ----

// EmailCall records one SendEmail invocation.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records calls and can be told to fail.
type MockEmailSender struct {
	mu    sync.Mutex
	calls []EmailCall
	Fail  error
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	return nil
}

func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records one SendSMS invocation.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender records calls and can be told to fail.
type MockSMSSender struct {
	mu    sync.Mutex
	calls []SMSCall
	Fail  error
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	return nil
}

func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
