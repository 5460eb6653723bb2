// Package deadline keeps one timer per PROPOSED schedule that carries a
// voting deadline and finalizes the schedule when the timer fires.  Timers
// live only in memory; Start rebuilds them from the store after a restart.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iliyamo/meetup-schedule/internal/model"
	"github.com/iliyamo/meetup-schedule/internal/repository"
)

const DefaultFireTimeout = 30 * time.Second

// ErrStopped is returned by Start once the scheduler has been stopped.
var ErrStopped = errors.New("deadline scheduler stopped")

// Finalizer confirms a schedule.  A nil actingUserID marks the automatic
// path.
type Finalizer interface {
	Finalize(ctx context.Context, scheduleID string, actingUserID *string) (model.Schedule, error)
}

// PendingLister lists the schedules that need a timer.
type PendingLister interface {
	ListPendingWithDeadline(ctx context.Context) ([]model.Schedule, error)
}

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// Clock provides the time source and timer factory.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock backed by time.AfterFunc.
var SystemClock Clock = systemClock{}

// ReconcileReport summarises one reconciliation pass.  Skipped counts
// overdue schedules that another actor confirmed, cancelled or deleted
// first.
type ReconcileReport struct {
	Armed     int
	Finalized int
	Skipped   int
	Failed    int
}

// outcome classifies one automatic finalize attempt.
type outcome string

const (
	outcomeFinalized outcome = "finalized"
	outcomeSkipped   outcome = "skipped"
	outcomeFailed    outcome = "failed"
)

// Options configures a Scheduler.  Store is required.
type Options struct {
	Store       PendingLister
	Clock       Clock
	FireTimeout time.Duration
	Logger      *slog.Logger
	Registerer  prometheus.Registerer
}

type entry struct {
	timer  Timer
	gen    uint64
	fireAt time.Time
}

// Scheduler is the timer registry.  The registry map is the only state it
// shares between goroutines and is guarded by mu.  Each armed entry carries
// a generation; a timer that fires after its entry was replaced or removed
// finds a different generation and does nothing.
type Scheduler struct {
	store       PendingLister
	clock       Clock
	fireTimeout time.Duration
	logger      *slog.Logger
	metrics     *schedulerMetrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	timers    map[string]*entry
	gen       uint64
	finalizer Finalizer
	closed    bool
	inflight  sync.WaitGroup
}

// New builds an idle scheduler.  Arm may be called before Start; timers
// that fire before a finalizer is installed are dropped and picked up by
// the next reconciliation.
func New(opts Options) *Scheduler {
	if opts.Store == nil {
		panic("deadline: nil store passed to New")
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	timeout := opts.FireTimeout
	if timeout <= 0 {
		timeout = DefaultFireTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:       opts.Store,
		clock:       clock,
		fireTimeout: timeout,
		logger:      logger,
		metrics:     newSchedulerMetrics(opts.Registerer),
		ctx:         ctx,
		cancel:      cancel,
		timers:      make(map[string]*entry),
	}
}

// Arm schedules an automatic finalize of id at fireAt, replacing any timer
// already armed for id.  A fireAt in the past fires immediately.  Arm is a
// no-op after Stop.
func (s *Scheduler) Arm(id string, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.timers[id]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	delay := fireAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	e := &entry{gen: gen, fireAt: fireAt}
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(id, gen) })
	s.timers[id] = e
	s.metrics.armed.Set(float64(len(s.timers)))

	s.logger.Debug("deadline armed",
		"event", "deadline_armed",
		"module", "internal/deadline",
		"layer", "scheduler",
		"schedule_id", id,
		"fire_at", fireAt,
	)
}

// Disarm cancels the timer for id.  Unknown IDs are ignored.
func (s *Scheduler) Disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[id]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(s.timers, id)
	s.metrics.armed.Set(float64(len(s.timers)))
}

// Pending returns the IDs with an armed timer, sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.timers))
	for id := range s.timers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FireAt returns when the timer for id is due.
func (s *Scheduler) FireAt(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[id]
	if !ok {
		return time.Time{}, false
	}
	return e.fireAt, true
}

func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	e, ok := s.timers[id]
	if !ok || e.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.metrics.armed.Set(float64(len(s.timers)))
	fin := s.finalizer
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if fin == nil {
		s.metrics.fires.WithLabelValues("no_finalizer").Inc()
		s.logger.Warn("deadline fired before scheduler start",
			"event", "deadline_fire_dropped",
			"module", "internal/deadline",
			"layer", "scheduler",
			"schedule_id", id,
		)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.fireTimeout)
	defer cancel()
	s.finalize(ctx, fin, id)
}

// finalize runs the automatic path and classifies the outcome.  A schedule
// that was confirmed, cancelled or deleted in the meantime is skipped, not
// failed.
func (s *Scheduler) finalize(ctx context.Context, fin Finalizer, id string) outcome {
	_, err := fin.Finalize(ctx, id, nil)
	switch {
	case err == nil:
		s.metrics.fires.WithLabelValues(string(outcomeFinalized)).Inc()
		return outcomeFinalized
	case errors.Is(err, repository.ErrAlreadyConfirmed),
		errors.Is(err, repository.ErrFinalizeNotAllowed),
		errors.Is(err, repository.ErrScheduleNotFound):
		s.metrics.fires.WithLabelValues(string(outcomeSkipped)).Inc()
		s.logger.Info("deadline finalize skipped",
			"event", "deadline_finalize_skipped",
			"module", "internal/deadline",
			"layer", "scheduler",
			"schedule_id", id,
			"reason", err.Error(),
		)
		return outcomeSkipped
	default:
		s.metrics.fires.WithLabelValues(string(outcomeFailed)).Inc()
		s.logger.Error("deadline finalize failed",
			"event", "deadline_finalize_failed",
			"module", "internal/deadline",
			"layer", "scheduler",
			"schedule_id", id,
			"error", err.Error(),
		)
		return outcomeFailed
	}
}

// Start installs fin and reconciles persisted state: every PROPOSED
// schedule with a future deadline gets a timer, every overdue one is
// finalized before Start returns.  A failure on one schedule does not stop
// the pass.
func (s *Scheduler) Start(ctx context.Context, fin Finalizer) (ReconcileReport, error) {
	if fin == nil {
		panic("deadline: nil finalizer passed to Start")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ReconcileReport{}, ErrStopped
	}
	s.finalizer = fin
	s.mu.Unlock()

	var report ReconcileReport
	pending, err := s.store.ListPendingWithDeadline(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending schedules: %w", err)
	}
	now := s.clock.Now()
	for _, sch := range pending {
		if !sch.HasPendingDeadline() {
			continue
		}
		if sch.VotingDeadline.After(now) {
			s.Arm(sch.ID, *sch.VotingDeadline)
			report.Armed++
			continue
		}
		switch s.finalize(ctx, fin, sch.ID) {
		case outcomeFinalized:
			report.Finalized++
		case outcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	s.metrics.reconciled.WithLabelValues("armed").Add(float64(report.Armed))
	s.metrics.reconciled.WithLabelValues("finalized").Add(float64(report.Finalized))
	s.metrics.reconciled.WithLabelValues("skipped").Add(float64(report.Skipped))
	s.metrics.reconciled.WithLabelValues("failed").Add(float64(report.Failed))

	s.logger.Info("deadline reconciliation completed",
		"event", "deadline_reconciled",
		"module", "internal/deadline",
		"layer", "scheduler",
		"armed", report.Armed,
		"finalized", report.Finalized,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

// Stop cancels every armed timer, aborts fires already in progress through
// their context and waits for them to return.  Arm is ignored afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
	s.metrics.armed.Set(0)
	s.mu.Unlock()

	s.cancel()
	s.inflight.Wait()
}

type schedulerMetrics struct {
	armed      prometheus.Gauge
	fires      *prometheus.CounterVec
	reconciled *prometheus.CounterVec
}

func newSchedulerMetrics(reg prometheus.Registerer) *schedulerMetrics {
	m := &schedulerMetrics{
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "schedule_deadline_timers_armed",
			Help: "Voting deadline timers currently armed",
		}),
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_deadline_fires_total",
			Help: "Deadline timer fires by outcome",
		}, []string{"result"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_deadline_reconciled_total",
			Help: "Schedules handled by startup reconciliation by outcome",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.armed, m.fires, m.reconciled)
	}
	return m
}
