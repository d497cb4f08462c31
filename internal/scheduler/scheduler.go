// Package scheduler runs the periodic pass that checks job alerts and mails
// new postings to their owners.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"jobalert/internal/bot"
	"jobalert/internal/dedup"
	"jobalert/internal/metrics"
	"jobalert/internal/model"
	"jobalert/internal/notify"
	"jobalert/internal/source"
	"jobalert/internal/storage"
)

// ErrBusy is returned by CheckAlert when the alert is already being checked.
var ErrBusy = errors.New("alert check already in progress")

// Sender is the interface for sending operator messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// Locker guards passes against a second worker instance.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Scheduler checks active alerts on a cron schedule.
type Scheduler struct {
	store    storage.Storage
	source   source.JobSource
	notifier notify.Notifier
	log      *slog.Logger
	tracer   trace.Tracer

	schedule        string
	runOnStart      bool
	fetchTimeout    time.Duration
	concurrency     int
	retain          int
	maxBytes        int
	defaultLocation string
	now             func() time.Time
	metrics         *metrics.Metrics
	locker          Locker
	sender          Sender
	opsChat         int64

	mu       sync.Mutex
	inFlight map[int64]struct{}
	last     *model.PassReport
}

// New creates a Scheduler with hourly passes and the default retention.
func New(store storage.Storage, src source.JobSource, n notify.Notifier, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:           store,
		source:          src,
		notifier:        n,
		log:             log,
		tracer:          otel.Tracer("jobalert/internal/scheduler"),
		schedule:        "@every 1h",
		runOnStart:      true,
		fetchTimeout:    30 * time.Second,
		concurrency:     1,
		retain:          100,
		maxBytes:        8192,
		defaultLocation: "nederland",
		now:             time.Now,
		inFlight:        make(map[int64]struct{}),
	}
}

// SetSchedule sets the cron spec for passes.
func (s *Scheduler) SetSchedule(spec string) { s.schedule = spec }

// SetRunOnStart controls whether Run starts with an immediate pass.
func (s *Scheduler) SetRunOnStart(v bool) { s.runOnStart = v }

// SetFetchTimeout bounds each source fetch. Zero disables the bound.
func (s *Scheduler) SetFetchTimeout(d time.Duration) { s.fetchTimeout = d }

// SetConcurrency sets how many alerts a pass processes in parallel.
func (s *Scheduler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.concurrency = n
}

// SetRetention sets the sent-set eviction limits.
func (s *Scheduler) SetRetention(retain, maxBytes int) {
	s.retain = retain
	s.maxBytes = maxBytes
}

// SetDefaultLocation sets the location searched for alerts without one.
func (s *Scheduler) SetDefaultLocation(loc string) { s.defaultLocation = loc }

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// SetMetrics enables Prometheus instrumentation.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetLocker makes every pass take the given lease first.
func (s *Scheduler) SetLocker(l Locker) { s.locker = l }

// SetReporter sends a summary to chatID after passes with failures.
func (s *Scheduler) SetReporter(sender Sender, chatID int64) {
	s.sender = sender
	s.opsChat = chatID
}

// IsDue reports whether an alert of the given frequency, last checked at
// last, should be checked at now.
func IsDue(freq model.Frequency, last, now time.Time) bool {
	return now.UTC().Sub(last.UTC()) >= freq.Interval()
}

// Run performs passes on the configured schedule until ctx is cancelled.
// It returns after the running pass, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{log: s.log}
	c := cron.New(cron.WithLogger(logger))

	job := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).
		Then(cron.FuncJob(func() { s.RunPass(ctx) }))
	if _, err := c.AddJob(s.schedule, job); err != nil {
		return fmt.Errorf("invalid poll schedule %q: %w", s.schedule, err)
	}

	if s.runOnStart {
		job.Run()
	}

	c.Start()
	s.log.Info("scheduler started", "schedule", s.schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// RunPass checks every active alert once and returns what happened to each.
// A cancelled ctx stops further alerts from being started.
func (s *Scheduler) RunPass(ctx context.Context) model.PassReport {
	report := model.PassReport{StartedAt: s.now().UTC()}

	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx)
		if err != nil {
			s.log.Error("acquire pass lease", "error", err)
			report.FinishedAt = s.now().UTC()
			return report
		}
		if !ok {
			s.log.Info("pass lease held by another worker, skipping pass")
			report.FinishedAt = s.now().UTC()
			return report
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("release pass lease", "error", err)
			}
		}()
	}

	alerts, err := s.store.ListActiveAlerts(ctx)
	if err != nil {
		s.log.Error("list active alerts", "error", err)
		report.FinishedAt = s.now().UTC()
		return report
	}

	results := make([]model.AlertResult, len(alerts))
	started := 0

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, a := range alerts {
		if ctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			results[i] = s.checkInPass(ctx, a.ID)
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results[:started]
	report.FinishedAt = s.now().UTC()
	s.finishPass(report, len(alerts))
	return report
}

// CheckAlert checks one alert immediately, whether it is due or not.
func (s *Scheduler) CheckAlert(ctx context.Context, id int64) (model.AlertResult, error) {
	if !s.begin(id) {
		return model.AlertResult{}, ErrBusy
	}
	defer s.end(id)

	a, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return model.AlertResult{}, fmt.Errorf("get alert: %w", err)
	}

	res := s.processAlert(ctx, *a, true)
	s.metrics.ObserveCheck(res.Outcome)
	return res, nil
}

// LastReport returns the report of the most recent completed pass.
func (s *Scheduler) LastReport() (model.PassReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return model.PassReport{}, false
	}
	return *s.last, true
}

// checkInPass processes one alert of a pass. The alert is read again once the
// in-flight slot is held: the pass listing may predate a forced check, a
// pause or a deletion.
func (s *Scheduler) checkInPass(ctx context.Context, id int64) model.AlertResult {
	if !s.begin(id) {
		s.log.Debug("alert already being checked", "alert_id", id)
		return model.AlertResult{AlertID: id, Outcome: model.OutcomeSkipped}
	}
	defer s.end(id)

	a, err := s.store.GetAlert(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Debug("alert deleted during pass", "alert_id", id)
		return model.AlertResult{AlertID: id, Outcome: model.OutcomeSkipped}
	}
	if err != nil {
		s.log.Error("reload alert", "alert_id", id, "error", err)
		return model.AlertResult{AlertID: id, Outcome: model.OutcomeFailed, Err: err}
	}
	if !a.IsActive {
		s.log.Debug("alert paused during pass", "alert_id", id)
		return model.AlertResult{AlertID: id, Outcome: model.OutcomeSkipped}
	}
	return s.processAlert(ctx, *a, false)
}

func (s *Scheduler) finishPass(report model.PassReport, total int) {
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	for _, r := range report.Results {
		s.metrics.ObserveCheck(r.Outcome)
	}
	s.metrics.ObservePass(report)

	s.log.Info("pass finished",
		"alerts", total,
		"checked", len(report.Results)-report.Count(model.OutcomeSkipped),
		"notified", report.Count(model.OutcomeNotified),
		"source_errors", report.Count(model.OutcomeSourceError),
		"failed", report.Count(model.OutcomeFailed),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)

	if s.sender != nil && report.HasFailures() {
		s.sender.SendMessage(s.opsChat, bot.FormatPassSummary(report))
	}
}

// processAlert runs one check cycle: due check, fetch, dedupe, notify and
// commit. It never panics.
func (s *Scheduler) processAlert(ctx context.Context, a model.Alert, force bool) (res model.AlertResult) {
	res = model.AlertResult{AlertID: a.ID}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("alert check panicked", "alert_id", a.ID, "panic", r, "stack", string(debug.Stack()))
			res = model.AlertResult{AlertID: a.ID, Outcome: model.OutcomeFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	now := s.now().UTC()
	if !force && !IsDue(a.Frequency, a.LastCheckedAt, now) {
		res.Outcome = model.OutcomeSkipped
		return res
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.check_alert", trace.WithAttributes(
		attribute.Int64("alert.id", a.ID),
		attribute.String("alert.frequency", string(a.Frequency)),
		attribute.String("source", s.source.Name()),
	))
	defer span.End()

	location := a.Location
	if location == "" {
		location = s.defaultLocation
	}

	s.log.Debug("checking alert", "alert_id", a.ID, "query", a.Query, "location", location)

	postings, err := s.fetch(ctx, a.Query, location)
	if err != nil {
		kind := source.Kind(err)
		s.metrics.ObserveSourceError(kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		s.log.Warn("fetch postings", "alert_id", a.ID, "query", a.Query, "kind", kind, "error", err)
		res.Outcome = model.OutcomeSourceError
		res.Err = err
		return res
	}

	fresh := dedup.FilterNew(postings, a.SentIDs)
	res.NewCount = len(fresh)
	res.Outcome = model.OutcomeNoNew
	span.SetAttributes(attribute.Int("postings.fetched", len(postings)), attribute.Int("postings.new", len(fresh)))

	// Once a mail may have gone out the commit must survive cancellation.
	commitCtx := context.WithoutCancel(ctx)

	if len(fresh) > 0 {
		res.Outcome = model.OutcomeNotified
		err := s.notifier.Send(ctx, a.OwnerEmail, a.Query, location, fresh)
		s.metrics.ObserveNotification(err)
		if err != nil {
			res.DeliveryErr = err
			span.RecordError(err)
			s.log.Error("send notification", "alert_id", a.ID, "to", a.OwnerEmail, "count", len(fresh), "error", err)
		} else {
			s.log.Info("sent notification", "alert_id", a.ID, "to", a.OwnerEmail, "count", len(fresh))
		}
	}

	sent := dedup.Bound(dedup.Append(a.SentIDs, fresh), s.retain, s.maxBytes)

	checkedAt := now
	if checkedAt.Before(a.LastCheckedAt) {
		checkedAt = a.LastCheckedAt
	}
	if err := s.store.CommitCheck(commitCtx, a.ID, checkedAt, sent); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		s.log.Error("commit check", "alert_id", a.ID, "error", err)
		res.Outcome = model.OutcomeFailed
		res.Err = err
		return res
	}
	return res
}

func (s *Scheduler) fetch(ctx context.Context, query, location string) ([]model.Posting, error) {
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}
	start := time.Now()
	postings, err := s.source.Fetch(ctx, query, location)
	s.metrics.ObserveFetch(time.Since(start))
	return postings, err
}

func (s *Scheduler) begin(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) end(id int64) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// cronLogger routes robfig/cron logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
