// Package notify fans schedule events out to the approved participants of
// a meetup.  Delivery is best-effort: a failure for one recipient is logged
// and counted and never prevents delivery to the others, and submission
// from the schedule core never blocks on a slow gateway.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iliyamo/meetup-schedule/internal/model"
)

const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultSendTimeout = 10 * time.Second
)

// ParticipantLister resolves who receives a meetup's notifications.
type ParticipantLister interface {
	ListApproved(ctx context.Context, meetupID string) ([]model.Participant, error)
}

// Report summarises one fan-out.
type Report struct {
	Attempted int
	Delivered int
	Failures  []*DeliveryError
}

// Failed returns the number of recipients that could not be reached.
func (r Report) Failed() int { return len(r.Failures) }

// Options configures a Dispatcher.  Participants and Gateway are required.
type Options struct {
	Participants ParticipantLister
	Gateway      Gateway
	Workers      int
	QueueSize    int
	SendTimeout  time.Duration
	Logger       *slog.Logger
	Registerer   prometheus.Registerer
}

type task struct {
	schedule model.Schedule
	kind     model.MessageKind
}

// Dispatcher owns a bounded queue of dispatch tasks and a pool of workers
// draining it.  Submit is the asynchronous entry point used after a state
// change commits; Notify is the synchronous fan-out the workers run.
type Dispatcher struct {
	participants ParticipantLister
	gateway      Gateway
	workers      int
	sendTimeout  time.Duration
	logger       *slog.Logger
	metrics      *dispatchMetrics

	queue   chan task
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewDispatcher builds a dispatcher.  Call Start to launch the workers;
// tasks submitted before Start wait in the queue.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Participants == nil || opts.Gateway == nil {
		panic("notify: nil participants or gateway passed to NewDispatcher")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		participants: opts.Participants,
		gateway:      opts.Gateway,
		workers:      workers,
		sendTimeout:  timeout,
		logger:       logger,
		metrics:      newDispatchMetrics(opts.Registerer),
		queue:        make(chan task, size),
	}
}

// Start launches the worker pool.  It is a no-op when already started or
// stopped.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop refuses new submissions, lets the workers drain what is already
// queued and waits for them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Submit enqueues a fan-out for s without waiting for it.  It returns false
// when the task was dropped because the dispatcher is stopped or the queue
// is full; the drop is logged and counted.
func (d *Dispatcher) Submit(s model.Schedule, kind model.MessageKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.dropped(s, kind, "stopped")
		return false
	}
	select {
	case d.queue <- task{schedule: s.Clone(), kind: kind}:
		d.metrics.queueDepth.Inc()
		return true
	default:
		d.dropped(s, kind, "queue_full")
		return false
	}
}

func (d *Dispatcher) dropped(s model.Schedule, kind model.MessageKind, reason string) {
	d.metrics.dropped.WithLabelValues(reason).Inc()
	d.logger.Warn("notification task dropped",
		"event", "notify_task_dropped",
		"module", "internal/notify",
		"layer", "worker",
		"schedule_id", s.ID,
		"meetup_id", s.MeetupID,
		"kind", string(kind),
		"reason", reason,
	)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.queue {
		d.metrics.queueDepth.Dec()
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		if _, err := d.Notify(ctx, t.schedule, t.kind); err != nil {
			d.logger.Error("notification fan-out failed",
				"event", "notify_fanout_failed",
				"module", "internal/notify",
				"layer", "worker",
				"schedule_id", t.schedule.ID,
				"meetup_id", t.schedule.MeetupID,
				"kind", string(t.kind),
				"error", err.Error(),
			)
		}
		cancel()
	}
}

// Notify sends the kind-specific message for s to every approved
// participant of its meetup.  It fails with ErrNoParticipants when the list
// is empty.  Per-recipient failures are collected in the report and never
// returned as the error.
func (d *Dispatcher) Notify(ctx context.Context, s model.Schedule, kind model.MessageKind) (Report, error) {
	participants, err := d.participants.ListApproved(ctx, s.MeetupID)
	if err != nil {
		return Report{}, fmt.Errorf("list approved participants of %s: %w", s.MeetupID, err)
	}
	if len(participants) == 0 {
		d.metrics.noParticipants.Inc()
		return Report{}, fmt.Errorf("meetup %s schedule %s: %w", s.MeetupID, s.ID, ErrNoParticipants)
	}

	message := FormatMessage(s, kind)
	report := Report{Attempted: len(participants)}
	for _, p := range participants {
		if err := d.send(ctx, p.Recipient(), message); err != nil {
			derr := &DeliveryError{Recipient: p.Recipient(), Err: err}
			report.Failures = append(report.Failures, derr)
			d.metrics.deliveries.WithLabelValues(string(kind), "failed").Inc()
			d.logger.Warn("notification delivery failed",
				"event", "notify_delivery_failed",
				"module", "internal/notify",
				"layer", "worker",
				"schedule_id", s.ID,
				"user_id", p.UserID,
				"kind", string(kind),
				"error", err.Error(),
			)
			continue
		}
		report.Delivered++
		d.metrics.deliveries.WithLabelValues(string(kind), "delivered").Inc()
	}

	d.logger.Info("notification fan-out completed",
		"event", "notify_fanout_completed",
		"module", "internal/notify",
		"layer", "worker",
		"schedule_id", s.ID,
		"meetup_id", s.MeetupID,
		"kind", string(kind),
		"attempted", report.Attempted,
		"delivered", report.Delivered,
		"failed", report.Failed(),
	)
	return report, nil
}

// send isolates a single gateway call, turning a panic into an error so a
// misbehaving gateway cannot take down a worker.
func (d *Dispatcher) send(ctx context.Context, recipient, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway panic: %v", r)
		}
	}()
	return d.gateway.Send(ctx, recipient, message)
}

type dispatchMetrics struct {
	deliveries     *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	noParticipants prometheus.Counter
	queueDepth     prometheus.Gauge
}

func newDispatchMetrics(reg prometheus.Registerer) *dispatchMetrics {
	m := &dispatchMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_notification_deliveries_total",
			Help: "Notification deliveries by message kind and result",
		}, []string{"kind", "result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_notification_tasks_dropped_total",
			Help: "Dispatch tasks dropped before reaching a worker",
		}, []string{"reason"}),
		noParticipants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedule_notification_no_participants_total",
			Help: "Fan-outs rejected because the meetup had no approved participants",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "schedule_notification_queue_depth",
			Help: "Dispatch tasks waiting for a worker",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.deliveries, m.dropped, m.noParticipants, m.queueDepth)
	}
	return m
}
