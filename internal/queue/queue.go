// Package queue owns the delivery queue: expanding a new lead into one task
// per subscribed partner, and the periodic scheduler that drives NEW tasks
// through dispatch to a terminal status.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"LeadRelay/internal/dispatch"
	"LeadRelay/internal/mapper"
	"LeadRelay/internal/metrics"
	"LeadRelay/internal/models"
	"LeadRelay/internal/store"
)

const (
	// TickInterval is the cadence of the automatic scheduler pass.
	TickInterval = 10 * time.Second

	// BatchSize bounds how many due tasks one pass picks up.
	BatchSize = 50

	// RetryDelay is how far a failed attempt is pushed into the future.
	RetryDelay = 5 * time.Minute

	// DefaultMaxAttempts is the per-task attempt ceiling.
	DefaultMaxAttempts = 3

	statsLogInterval = time.Hour
)

// Clock lets tests drive the scheduler with simulated time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Alerter is notified when a task exhausts its attempts. May be nil.
type Alerter interface {
	TaskFailed(taskID int64, leadID, partnerName, errMsg string)
}

// Service is the single mutation path for queue tasks: the periodic
// scheduler, the admin process/retry triggers and lead enqueueing all go
// through it.
type Service struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	limiter    *rate.Limiter
	clock      Clock
	log        *zap.Logger
	alerts     Alerter
}

func NewService(st store.Store, d *dispatch.Dispatcher, limiter *rate.Limiter, clock Clock, logger *zap.Logger, alerts Alerter) *Service {
	if clock == nil {
		clock = SystemClock()
	}
	return &Service{
		store:      st,
		dispatcher: d,
		limiter:    limiter,
		clock:      clock,
		log:        logger,
		alerts:     alerts,
	}
}

// EnqueueForSite creates one NEW task per active partner subscribed to the
// lead's site, each scheduled after the partner's configured delay. No
// active partners is not an error; the lead simply has nowhere to go.
func (s *Service) EnqueueForSite(ctx context.Context, lead *models.Lead, siteID int64) ([]*models.QueueTask, error) {
	partners, err := s.store.ActivePartnersBySite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("resolve partners for site %d: %w", siteID, err)
	}
	if len(partners) == 0 {
		s.log.Debug("no active partners for site",
			zap.Int64("site_id", siteID),
			zap.String("lead_id", lead.ID),
		)
		return nil, nil
	}

	now := s.clock.Now()
	tasks := make([]*models.QueueTask, 0, len(partners))
	for _, p := range partners {
		tasks = append(tasks, &models.QueueTask{
			LeadID:      lead.ID,
			PartnerID:   p.ID,
			Status:      models.StatusNew,
			ScheduledAt: now.Add(p.Delay()),
			Attempts:    0,
			MaxAttempts: DefaultMaxAttempts,
		})
	}

	if err := s.store.CreateTasks(ctx, tasks); err != nil {
		return nil, fmt.Errorf("create queue tasks: %w", err)
	}

	metrics.LeadsEnqueued.Add(float64(len(tasks)))
	s.log.Info("lead queued for partners",
		zap.String("lead_id", lead.ID),
		zap.Int64("site_id", siteID),
		zap.Int("partners", len(tasks)),
	)
	return tasks, nil
}

// ProcessDue runs one scheduler pass: select due tasks oldest-first, claim
// and dispatch each sequentially. Per-task delivery failures are absorbed
// into the task's own status; only a store failure aborts the pass.
func (s *Service) ProcessDue(ctx context.Context) error {
	now := s.clock.Now()

	due, err := s.store.DueTasks(ctx, now, BatchSize)
	if err != nil {
		return fmt.Errorf("select due tasks: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.log.Info("processing due queue tasks", zap.Int("count", len(due)))

	for i := range due {
		if err := s.processTask(ctx, &due[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) processTask(ctx context.Context, d *models.DueTask) error {
	attempts, claimed, err := s.store.ClaimTask(ctx, d.Task.ID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("claim task %d: %w", d.Task.ID, err)
	}
	if !claimed {
		// Someone else flipped it first; not ours to process.
		s.log.Debug("task claim lost", zap.Int64("task_id", d.Task.ID))
		return nil
	}

	outcome, sentData := s.dispatchTask(ctx, d)

	if outcome.Success {
		note := fmt.Sprintf("Lead sent successfully (HTTP %d)", outcome.StatusCode)
		if err := s.store.MarkSent(ctx, d.Task.ID, s.clock.Now(), note, sentData); err != nil {
			return fmt.Errorf("mark task %d sent: %w", d.Task.ID, err)
		}
		metrics.DeliveriesSent.Inc()
		s.log.Info("lead delivered",
			zap.Int64("task_id", d.Task.ID),
			zap.String("lead_id", d.Task.LeadID),
			zap.Int64("partner_id", d.Task.PartnerID),
			zap.Int("attempts", attempts),
		)
		return nil
	}

	errMsg := fmt.Sprintf("%s: %s", outcome.Kind, outcome.Message)
	s.log.Error("lead delivery failed",
		zap.Int64("task_id", d.Task.ID),
		zap.String("lead_id", d.Task.LeadID),
		zap.Int64("partner_id", d.Task.PartnerID),
		zap.Int("attempts", attempts),
		zap.String("kind", string(outcome.Kind)),
		zap.String("error", outcome.Message),
	)

	if attempts >= d.Task.MaxAttempts {
		final := "Max attempts reached: " + errMsg
		if err := s.store.MarkError(ctx, d.Task.ID, s.clock.Now(), final, outcome.Response, sentData); err != nil {
			return fmt.Errorf("mark task %d error: %w", d.Task.ID, err)
		}
		metrics.DeliveryFailures.Inc()
		if s.alerts != nil {
			s.alerts.TaskFailed(d.Task.ID, d.Task.LeadID, d.Partner.Name, final)
		}
		return nil
	}

	nextAt := s.clock.Now().Add(RetryDelay)
	if err := s.store.MarkRetry(ctx, d.Task.ID, nextAt, errMsg, sentData); err != nil {
		return fmt.Errorf("mark task %d for retry: %w", d.Task.ID, err)
	}
	metrics.DeliveryRetries.Inc()
	return nil
}

// dispatchTask maps the lead and performs the partner call. A mapping or
// rate-limiter failure is folded into an unknown-kind outcome so the normal
// retry decision applies.
func (s *Service) dispatchTask(ctx context.Context, d *models.DueTask) (dispatch.Outcome, string) {
	rules, err := mapper.ParseRules(d.Partner.FieldMapping)
	if err != nil {
		return dispatch.Outcome{Kind: dispatch.ErrUnknown, Message: err.Error()}, ""
	}

	payload := mapper.Map(&d.Lead, rules)
	sentData := ""
	if raw, err := json.Marshal(payload); err == nil {
		sentData = string(raw)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return dispatch.Outcome{Kind: dispatch.ErrUnknown, Message: "rate limiter: " + err.Error()}, sentData
		}
	}

	return s.dispatcher.Send(ctx, &d.Partner, payload), sentData
}

// RetryTask forces one task back to NEW for immediate processing. The
// attempt counter is deliberately left intact; a manual retry resumes the
// audit trail, it does not restart it.
func (s *Service) RetryTask(ctx context.Context, id int64) error {
	if err := s.store.ResetTask(ctx, id, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("queue task rescheduled for immediate processing", zap.Int64("task_id", id))
	return nil
}

// Run drives the scheduler until ctx is cancelled: a delivery pass every
// TickInterval and an hourly stats line. A pass in progress runs to
// completion; persisted task status carries progress across restarts.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(statsLogInterval)
	defer statsTicker.Stop()

	s.log.Info("queue scheduler started", zap.Duration("tick", TickInterval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("queue scheduler stopped")
			return

		case <-ticker.C:
			if err := s.ProcessDue(ctx); err != nil {
				s.log.Error("queue pass failed", zap.Error(err))
			}

		case <-statsTicker.C:
			stats, err := s.store.Stats(ctx)
			if err != nil {
				s.log.Error("queue stats failed", zap.Error(err))
				continue
			}
			s.log.Info("queue stats",
				zap.Int64("new", stats.New),
				zap.Int64("processing", stats.Processing),
				zap.Int64("sent", stats.Sent),
				zap.Int64("error", stats.Error),
			)
		}
	}
}
