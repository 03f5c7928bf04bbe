// Package manager coordinates job scheduling end to end: it validates
// triggers, persists jobs, arms the timer engine, and turns expirations into
// post-office deliveries. All mutations run under one mutex, so concurrent
// schedule/cancel/fire calls observe consistent state.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"notiq/internal/engine"
	"notiq/internal/eventbus"
	"notiq/internal/postoffice"
	"notiq/internal/store"
	"notiq/internal/trigger"
	logx "notiq/pkg/logx"
)

// ErrUnableToSchedule is returned when a trigger has no future occurrence at
// schedule time. Nothing is persisted or armed in that case.
var ErrUnableToSchedule = errors.New("trigger has no future occurrence")

type Config struct {
	// Location is the timezone calendar expressions are evaluated in.
	// nil means time.Local.
	Location *time.Location
}

type Service struct {
	mu sync.Mutex

	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	clock engine.Clock

	store  store.Store
	engine *engine.Service
	post   *postoffice.Service
}

// Snapshot is a point-in-time diagnostic view of the scheduling state.
type Snapshot struct {
	Jobs     int               `json:"jobs"`
	Armed    int               `json:"armed"`
	Timezone string            `json:"timezone"`
	Pending  []engine.ArmedJob `json:"pending,omitempty"`
}

func New(cfg Config, st store.Store, eng *engine.Service, po *postoffice.Service, clock engine.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = engine.RealClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		clock:  clock,
		store:  st,
		engine: eng,
		post:   po,
	}
	eng.OnFire(s.onFire)
	return s
}

// ScheduleInterval creates a job firing delay after now, and on the same
// cadence afterwards when repeat is set. Returns the generated job id.
func (s *Service) ScheduleInterval(ctx context.Context, ownerID string, delay time.Duration, repeat bool, payload map[string]any) (string, error) {
	trig, err := trigger.NewInterval(delay, repeat)
	if err != nil {
		return "", err
	}
	return s.schedule(ctx, ownerID, trig, payload)
}

// ScheduleCalendar creates a job from calendar options, translating them to
// a cron expression against the configured timezone. Validation failures
// surface as *trigger.ValidationError.
func (s *Service) ScheduleCalendar(ctx context.Context, ownerID string, opts trigger.Options, payload map[string]any) (string, error) {
	now := s.clock.Now().In(s.cfg.Location)
	trig, err := trigger.TranslateSpec(opts, now)
	if err != nil {
		return "", err
	}
	return s.schedule(ctx, ownerID, trig, payload)
}

// ScheduleCron creates a job from a raw 5-field cron expression.
func (s *Service) ScheduleCron(ctx context.Context, ownerID, expr string, repeat bool, payload map[string]any) (string, error) {
	trig, err := trigger.NewCalendar(expr, repeat)
	if err != nil {
		return "", err
	}
	return s.schedule(ctx, ownerID, trig, payload)
}

func (s *Service) schedule(ctx context.Context, ownerID string, trig trigger.Spec, payload map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().In(s.cfg.Location)
	next, ok := trig.NextFireTime(now)
	if !ok {
		return "", fmt.Errorf("schedule for owner %s: %w", ownerID, ErrUnableToSchedule)
	}

	job := store.Job{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Trigger:      trig,
		Payload:      payload,
		NextFireTime: next,
		CreatedAt:    now,
	}
	if err := s.store.PutJob(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}
	s.engine.Arm(job.ID, next)

	s.log.Info("job scheduled",
		logx.String("job", job.ID), logx.String("owner", ownerID),
		logx.String("kind", string(trig.Kind())), logx.Time("next", next))
	s.publish(eventbus.Event{Type: eventbus.TypeJobScheduled, Job: job.ID, Owner: ownerID})
	return job.ID, nil
}

// Cancel removes a job and disarms its timer. Cancelling an unknown or
// already-fired id is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	s.engine.Disarm(id)

	s.log.Info("job cancelled", logx.String("job", id), logx.String("owner", job.OwnerID))
	s.publish(eventbus.Event{Type: eventbus.TypeJobCancelled, Job: id, Owner: job.OwnerID})
	return nil
}

// CancelAll removes every job belonging to the owner and reports how many
// were cancelled.
func (s *Service) CancelAll(ctx context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.store.ListOwnerJobs(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		if err := s.store.DeleteJob(ctx, job.ID); err != nil {
			return 0, fmt.Errorf("delete job %s: %w", job.ID, err)
		}
		s.engine.Disarm(job.ID)
		s.publish(eventbus.Event{Type: eventbus.TypeJobCancelled, Job: job.ID, Owner: ownerID})
	}
	if len(jobs) > 0 {
		s.log.Info("owner jobs cancelled", logx.String("owner", ownerID), logx.Int("count", len(jobs)))
	}
	return len(jobs), nil
}

// Jobs returns the owner's persisted jobs in creation order.
func (s *Service) Jobs(ctx context.Context, ownerID string) ([]store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ListOwnerJobs(ctx, ownerID)
}

// Restore rearms every persisted job after a restart.
//
// Jobs still in the future arm at their stored fire time. An overdue
// one-shot fires immediately. An overdue repeating job skips the missed
// occurrences and arms at its next future one; if no future occurrence
// exists the job is removed as exhausted.
func (s *Service) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	now := s.clock.Now().In(s.cfg.Location)
	var armed, expired int
	for _, job := range jobs {
		at := job.NextFireTime
		switch {
		case at.After(now):
			// still pending
		case !job.Trigger.Repeats():
			at = now
		default:
			next, ok := job.Trigger.NextFireTime(now)
			if !ok {
				if err := s.store.DeleteJob(ctx, job.ID); err != nil {
					return fmt.Errorf("delete exhausted job %s: %w", job.ID, err)
				}
				expired++
				s.publish(eventbus.Event{Type: eventbus.TypeJobExhausted, Job: job.ID, Owner: job.OwnerID})
				continue
			}
			job.NextFireTime = next
			if err := s.store.PutJob(ctx, job); err != nil {
				return fmt.Errorf("persist job %s: %w", job.ID, err)
			}
			at = next
		}
		s.engine.Arm(job.ID, at)
		armed++
	}
	s.log.Info("jobs restored", logx.Int("armed", armed), logx.Int("expired", expired))
	return nil
}

// SnapshotNow returns current scheduling state for diagnostics.
func (s *Service) SnapshotNow(ctx context.Context) Snapshot {
	s.mu.Lock()
	jobs, _ := s.store.ListJobs(ctx)
	s.mu.Unlock()

	pending := s.engine.Pending()
	return Snapshot{
		Jobs:     len(jobs),
		Armed:    len(pending),
		Timezone: s.cfg.Location.String(),
		Pending:  pending,
	}
}

// onFire runs on timer expiry. It resolves the job, persists the repeat
// recomputation or removal, and only then hands the delivery to the post
// office, outside the mutex so a handler may call back into the manager.
func (s *Service) onFire(id string, scheduledAt time.Time) {
	ctx := context.Background()
	s.mu.Lock()

	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		// Lost the race against Cancel; the delivery must not happen.
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Error("fire lookup failed", logx.String("job", id), logx.Err(err))
		return
	}

	d := postoffice.Delivery{
		JobID:   job.ID,
		OwnerID: job.OwnerID,
		Payload: job.Payload,
		FiredAt: scheduledAt,
	}

	if job.Trigger.Repeats() {
		// Cadence is anchored on the scheduled time, not the callback time,
		// so timer latency does not accumulate across occurrences.
		now := s.clock.Now().In(s.cfg.Location)
		next, ok := job.Trigger.NextFireTime(scheduledAt)
		if ok && !next.After(now) {
			next, ok = job.Trigger.NextFireTime(now)
		}
		if !ok {
			if err := s.store.DeleteJob(ctx, id); err != nil {
				s.log.Error("delete exhausted job failed", logx.String("job", id), logx.Err(err))
			}
			s.publish(eventbus.Event{Type: eventbus.TypeJobExhausted, Job: id, Owner: job.OwnerID})
		} else {
			job.NextFireTime = next
			if err := s.store.PutJob(ctx, job); err != nil {
				s.log.Error("persist rearmed job failed", logx.String("job", id), logx.Err(err))
			}
			s.engine.Arm(id, next)
		}
	} else if err := s.store.DeleteJob(ctx, id); err != nil {
		s.log.Error("delete fired job failed", logx.String("job", id), logx.Err(err))
	}

	s.log.Debug("job fired",
		logx.String("job", id), logx.String("owner", job.OwnerID), logx.Time("at", scheduledAt))
	s.publish(eventbus.Event{Type: eventbus.TypeJobFired, Job: id, Owner: job.OwnerID})
	s.mu.Unlock()

	s.post.Deliver(d)
}

func (s *Service) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
