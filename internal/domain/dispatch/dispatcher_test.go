package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carewatch/carewatch/internal/domain/alerts"
	"github.com/carewatch/carewatch/internal/domain/risk"
)

func event(severity risk.Band) alerts.Event {
	return alerts.Event{
		Kind: alerts.EventTriggered,
		Alert: alerts.Alert{
			ID:        uuid.New(),
			PatientID: uuid.New(),
			RuleID:    "r1",
			Severity:  severity,
			Status:    alerts.StatusTriggered,
			Message:   "test",
		},
	}
}

// flakyChannel fails a fixed number of times before succeeding.
type flakyChannel struct {
	name     string
	failures int32
	calls    int32
	done     chan struct{}
}

func (c *flakyChannel) Name() string { return c.name }

func (c *flakyChannel) Deliver(_ context.Context, _ alerts.Event) error {
	n := atomic.AddInt32(&c.calls, 1)
	if n <= atomic.LoadInt32(&c.failures) {
		return errors.New("transient failure")
	}
	select {
	case c.done <- struct{}{}:
	default:
	}
	return nil
}

func newDispatcher(t *testing.T, channels []Channel, routing map[risk.Band][]string, opts Options) (*Dispatcher, *InMemoryFailureRepo) {
	t.Helper()
	failures := NewInMemoryFailureRepo()
	d := NewDispatcher(channels, routing, opts, failures, nil, zerolog.Nop())
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d, failures
}

func TestDispatcherDeliversToRoutedChannels(t *testing.T) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	routing := map[risk.Band][]string{
		risk.BandHigh:     {"email"},
		risk.BandCritical: {"email", "sms"},
	}
	d, _ := newDispatcher(t, []Channel{
		NewEmailChannel("email", email, []string{"oncall@example.org"}),
		NewSMSChannel("sms", sms, []string{"+15550100"}),
	}, routing, Options{})

	d.Enqueue(event(risk.BandCritical))
	waitFor(t, func() bool { return len(email.Calls()) == 1 && len(sms.Calls()) == 1 })

	// High severity routes to email only.
	d.Enqueue(event(risk.BandHigh))
	waitFor(t, func() bool { return len(email.Calls()) == 2 })
	if len(sms.Calls()) != 1 {
		t.Errorf("sms received %d calls, want 1", len(sms.Calls()))
	}

	// Low severity routes nowhere.
	d.Enqueue(event(risk.BandLow))
	time.Sleep(50 * time.Millisecond)
	if len(email.Calls()) != 2 {
		t.Errorf("low severity reached email: %d calls", len(email.Calls()))
	}
}

func TestDispatcherRetriesWithBackoffThenSucceeds(t *testing.T) {
	ch := &flakyChannel{name: "flaky", failures: 2, done: make(chan struct{}, 1)}
	d, failures := newDispatcher(t, []Channel{ch},
		map[risk.Band][]string{risk.BandHigh: {"flaky"}},
		Options{MaxRetries: 3, BackoffBase: 5 * time.Millisecond})

	d.Enqueue(event(risk.BandHigh))

	select {
	case <-ch.done:
	case <-time.After(3 * time.Second):
		t.Fatal("delivery never succeeded")
	}
	if got := atomic.LoadInt32(&ch.calls); got != 3 {
		t.Errorf("calls = %d, want 3 (two failures then success)", got)
	}
	if fs := failures.All(); len(fs) != 0 {
		t.Errorf("successful delivery recorded failures: %+v", fs)
	}
}

func TestDispatcherExhaustionRecordsFailure(t *testing.T) {
	ch := &flakyChannel{name: "dead", failures: 100, done: make(chan struct{}, 1)}
	d, failures := newDispatcher(t, []Channel{ch},
		map[risk.Band][]string{risk.BandHigh: {"dead"}},
		Options{MaxRetries: 3, BackoffBase: time.Millisecond})

	ev := event(risk.BandHigh)
	d.Enqueue(ev)

	waitFor(t, func() bool { return len(failures.All()) == 1 })
	f := failures.All()[0]
	if f.AlertID != ev.Alert.ID || f.Channel != "dead" || f.Attempts != 3 {
		t.Errorf("failure record = %+v", f)
	}
	if f.LastError == "" {
		t.Error("failure record missing last error")
	}

	byAlert, err := failures.ListByAlert(context.Background(), ev.Alert.ID)
	if err != nil || len(byAlert) != 1 {
		t.Errorf("ListByAlert = %v, %v", byAlert, err)
	}
}

func TestDispatcherShutdownMidBackoffRecordsFailure(t *testing.T) {
	var calls int32
	attempted := make(chan struct{}, 1)
	dead := channelFunc{name: "dead", fn: func(context.Context, alerts.Event) error {
		atomic.AddInt32(&calls, 1)
		select {
		case attempted <- struct{}{}:
		default:
		}
		return errors.New("transient failure")
	}}
	// Backoff far longer than the test: shutdown lands mid-wait.
	d, failures := newDispatcher(t, []Channel{dead},
		map[risk.Band][]string{risk.BandHigh: {"dead"}},
		Options{MaxRetries: 3, BackoffBase: time.Minute})

	ev := event(risk.BandHigh)
	d.Enqueue(ev)

	select {
	case <-attempted:
	case <-time.After(3 * time.Second):
		t.Fatal("first attempt never ran")
	}
	d.Stop()

	fs := failures.All()
	if len(fs) != 1 {
		t.Fatalf("failure records = %+v, want one for the abandoned job", fs)
	}
	f := fs[0]
	if f.AlertID != ev.Alert.ID || f.Channel != "dead" || f.Attempts != 1 {
		t.Errorf("failure record = %+v", f)
	}
	if !strings.Contains(f.LastError, "shutdown") {
		t.Errorf("last error %q should name the shutdown", f.LastError)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1 (no retries after shutdown)", got)
	}
}

func TestDispatcherChannelIsolation(t *testing.T) {
	dead := &flakyChannel{name: "dead", failures: 100, done: make(chan struct{}, 1)}
	email := &MockEmailSender{}
	d, _ := newDispatcher(t, []Channel{
		dead,
		NewEmailChannel("email", email, []string{"oncall@example.org"}),
	}, map[risk.Band][]string{risk.BandHigh: {"dead", "email"}},
		Options{MaxRetries: 5, BackoffBase: 20 * time.Millisecond})

	for i := 0; i < 5; i++ {
		d.Enqueue(event(risk.BandHigh))
	}

	// The dead channel's retries must not delay email deliveries.
	waitFor(t, func() bool { return len(email.Calls()) == 5 })
}

func TestDispatcherQueueFullSurfacesRejection(t *testing.T) {
	block := make(chan struct{})
	slow := channelFunc{name: "slow", fn: func(ctx context.Context, _ alerts.Event) error {
		select {
		case <-block:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
	d, failures := newDispatcher(t, []Channel{slow},
		map[risk.Band][]string{risk.BandHigh: {"slow"}},
		Options{MaxRetries: 1, QueueSize: 1})

	// One in flight, one queued, the rest rejected.
	for i := 0; i < 5; i++ {
		d.Enqueue(event(risk.BandHigh))
	}
	waitFor(t, func() bool { return len(failures.All()) >= 3 })
	for _, f := range failures.All() {
		if f.LastError != "queue full" {
			t.Errorf("unexpected failure reason %q", f.LastError)
		}
	}
	close(block)
}

type channelFunc struct {
	name string
	fn   func(context.Context, alerts.Event) error
}

func (c channelFunc) Name() string                                      { return c.name }
func (c channelFunc) Deliver(ctx context.Context, e alerts.Event) error { return c.fn(ctx, e) }

func TestWebhookChannelSignsPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		gotSig   string
		gotBody  []byte
		gotEvent string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-CareWatch-Signature")
		gotEvent = r.Header.Get("X-CareWatch-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("hook", srv.URL, "s3cret")
	ev := event(risk.BandCritical)
	if err := ch.Deliver(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotEvent != string(alerts.EventTriggered) {
		t.Errorf("event header = %q", gotEvent)
	}
	if !VerifySignature(gotBody, "s3cret", gotSig) {
		t.Error("signature does not verify against payload")
	}
	var decoded alerts.Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Alert.ID != ev.Alert.ID {
		t.Error("payload does not round-trip the alert")
	}
}

func TestWebhookChannelRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("hook", srv.URL, "")
	if err := ch.Deliver(context.Background(), event(risk.BandHigh)); err == nil {
		t.Error("expected error for 502 response")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
