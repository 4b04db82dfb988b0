package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carewatch/carewatch/internal/domain/alerts"
	"github.com/carewatch/carewatch/internal/domain/risk"
	"github.com/carewatch/carewatch/internal/platform/metrics"
)

// Options bounds retry behavior and queue size per channel.
type Options struct {
	MaxRetries  int           // delivery attempts per job, including the first
	BackoffBase time.Duration // first retry delay, doubled each attempt
	QueueSize   int           // per-channel buffered queue capacity
}

func (o *Options) withDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
}

type job struct {
	id    uuid.UUID
	event alerts.Event
}

// worker owns one channel and its queue. Failure of this channel never
// touches the others.
type worker struct {
	channel Channel
	queue   chan job
}

// Dispatcher routes alert events to channels by severity and runs one
// retrying worker per channel. Enqueue never blocks the caller.
type Dispatcher struct {
	workers  map[string]*worker
	routing  map[risk.Band][]string
	opts     Options
	failures FailureRepository
	metrics  *metrics.Manager
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher wires channels and a severity routing table. Severities
// missing from the table notify no channels.
func NewDispatcher(channels []Channel, routing map[risk.Band][]string, opts Options,
	failures FailureRepository, m *metrics.Manager, log zerolog.Logger) *Dispatcher {

	opts.withDefaults()
	if failures == nil {
		failures = NewInMemoryFailureRepo()
	}

	d := &Dispatcher{
		workers:  make(map[string]*worker, len(channels)),
		routing:  routing,
		opts:     opts,
		failures: failures,
		metrics:  m,
		log:      log.With().Str("component", "dispatch").Logger(),
	}
	for _, ch := range channels {
		d.workers[ch.Name()] = &worker{
			channel: ch,
			queue:   make(chan job, opts.QueueSize),
		}
	}
	return d
}

// Start launches one goroutine per channel. Call Stop to drain and exit.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	running := make(chan struct{}, len(d.workers))
	for _, w := range d.workers {
		go func(w *worker) {
			defer func() { running <- struct{}{} }()
			d.run(w)
		}(w)
	}
	go func() {
		for range d.workers {
			<-running
		}
		close(d.done)
	}()
}

// Stop cancels the workers and waits for them to exit. Queued jobs that have
// not started are abandoned; in-flight attempts finish their context.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

// Notify implements alerts.Notifier: fire-and-forget from the lifecycle
// manager's perspective.
func (d *Dispatcher) Notify(event alerts.Event) {
	d.Enqueue(event)
}

// Enqueue routes the event to every channel configured for its severity. A
// full channel queue rejects the job for that channel only, and the
// rejection is surfaced as a delivery failure.
func (d *Dispatcher) Enqueue(event alerts.Event) {
	names := d.routing[event.Alert.Severity]
	for _, name := range names {
		w, ok := d.workers[name]
		if !ok {
			d.log.Error().Str("channel", name).Msg("routing references unknown channel")
			continue
		}
		j := job{id: uuid.New(), event: event}
		select {
		case w.queue <- j:
			d.metrics.SetQueueDepth(name, len(w.queue))
		default:
			d.metrics.QueueRejected(name)
			d.recordFailure(w.channel.Name(), event, 0, "queue full")
		}
	}
}

func (d *Dispatcher) run(w *worker) {
	name := w.channel.Name()
	for {
		select {
		case <-d.ctx.Done():
			return
		case j := <-w.queue:
			d.metrics.SetQueueDepth(name, len(w.queue))
			d.deliver(w, j)
		}
	}
}

// deliver attempts the job with exponential backoff. Retries of one job are
// strictly sequential; exhaustion records a failure.
func (d *Dispatcher) deliver(w *worker, j job) {
	name := w.channel.Name()
	var lastErr error

	for attempt := 1; attempt <= d.opts.MaxRetries; attempt++ {
		err := w.channel.Deliver(d.ctx, j.event)
		if err == nil {
			d.metrics.DeliveryAttempt(name, "success")
			d.log.Info().Str("channel", name).
				Stringer("alert_id", j.event.Alert.ID).
				Int("attempt", attempt).
				Msg("notification delivered")
			return
		}
		lastErr = err
		d.metrics.DeliveryAttempt(name, "error")
		d.log.Warn().Err(err).Str("channel", name).
			Stringer("alert_id", j.event.Alert.ID).
			Int("attempt", attempt).
			Msg("delivery attempt failed")

		if attempt == d.opts.MaxRetries {
			break
		}
		backoff := d.opts.BackoffBase << (attempt - 1)
		select {
		case <-d.ctx.Done():
			// Abandoned mid-backoff at shutdown: still leave a failure
			// record so the drop is visible after restart.
			d.recordFailure(name, j.event, attempt, "dispatcher shutdown: "+lastErr.Error())
			return
		case <-time.After(backoff):
		}
	}

	d.recordFailure(name, j.event, d.opts.MaxRetries, lastErr.Error())
}

func (d *Dispatcher) recordFailure(channel string, event alerts.Event, attempts int, reason string) {
	f := DeliveryFailure{
		ID:        uuid.New(),
		AlertID:   event.Alert.ID,
		Channel:   channel,
		Kind:      string(event.Kind),
		Attempts:  attempts,
		LastError: reason,
		FailedAt:  time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.failures.Record(ctx, f); err != nil {
		d.log.Error().Err(err).Str("channel", channel).
			Stringer("alert_id", event.Alert.ID).
			Msg("failed to record delivery failure")
	}
	d.log.Error().Str("channel", channel).
		Stringer("alert_id", event.Alert.ID).
		Int("attempts", attempts).Str("last_error", reason).
		Msg("delivery exhausted")
}
