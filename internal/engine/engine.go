// Package engine arms one-shot timers for scheduled jobs.
//
// The armed-timer set is a derived cache over the job store: it can be
// rebuilt at any time by re-arming every stored job, and arming is
// idempotent per job id.
package engine

import (
	"sync"
	"time"

	logx "notiq/pkg/logx"
)

// FireFunc is invoked when a job's timer expires. scheduledAt is the
// instant the timer was armed for (not the instant the callback ran),
// so repeating cadence is computed without drift accumulation.
type FireFunc func(id string, scheduledAt time.Time)

type armed struct {
	timer Timer
	at    time.Time
	ver   uint64
}

// ArmedJob is a diagnostic view of one pending timer.
type ArmedJob struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Service owns the timer set. All methods are safe for concurrent use.
type Service struct {
	log   logx.Logger
	clock Clock
	fire  FireFunc

	mu     sync.Mutex
	timers map[string]*armed
	// vers outlives timer entries: a replaced or disarmed timer's callback
	// may still run, and must recognize itself as stale.
	vers map[string]uint64
}

func New(clock Clock, log logx.Logger) *Service {
	if clock == nil {
		clock = RealClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		clock:  clock,
		timers: map[string]*armed{},
		vers:   map[string]uint64{},
	}
}

// OnFire installs the expiry handler. Must be called before the first Arm.
func (s *Service) OnFire(fn FireFunc) {
	s.mu.Lock()
	s.fire = fn
	s.mu.Unlock()
}

// Arm schedules a timer for job id at the given instant, replacing any
// existing timer for the same id. Re-arming an already-armed job is a no-op
// in effect: exactly one timer per id is ever pending.
func (s *Service) Arm(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[id]; ok {
		_ = prev.timer.Stop()
	}
	ver := s.vers[id] + 1
	s.vers[id] = ver

	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	localID, localAt, localVer := id, at, ver
	t := s.clock.AfterFunc(delay, func() {
		s.expire(localID, localAt, localVer)
	})
	s.timers[id] = &armed{timer: t, at: at, ver: ver}

	s.log.Debug("timer armed", logx.String("job", id), logx.Time("at", at), logx.Duration("in", delay))
}

func (s *Service) expire(id string, at time.Time, ver uint64) {
	s.mu.Lock()
	cur, ok := s.timers[id]
	if !ok || cur.ver != ver {
		// Replaced or disarmed while the callback was in flight.
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	fire := s.fire
	s.mu.Unlock()

	if fire != nil {
		fire(id, at)
	}
}

// Disarm cancels a pending timer if present. Absent ids are a no-op, never
// an error: cancellation races with firing are expected.
func (s *Service) Disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[id]; ok {
		_ = cur.timer.Stop()
		delete(s.timers, id)
		s.vers[id]++ // invalidate any in-flight callback
	}
}

// DisarmAll cancels every pending timer.
func (s *Service) DisarmAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cur := range s.timers {
		_ = cur.timer.Stop()
		s.vers[id]++
		delete(s.timers, id)
	}
}

// Pending returns a snapshot of the armed timer set.
func (s *Service) Pending() []ArmedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ArmedJob, 0, len(s.timers))
	for id, cur := range s.timers {
		out = append(out, ArmedJob{ID: id, At: cur.at})
	}
	return out
}
