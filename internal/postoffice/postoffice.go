// Package postoffice routes fired deliveries to their owners.
//
// An owner that is registered receives deliveries immediately through its
// handler; an absent owner accumulates deliveries in a per-owner mailbox,
// flushed in fire order the moment the owner registers. A delivery goes to
// exactly one destination, decided atomically at delivery time.
package postoffice

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notiq/internal/eventbus"
	logx "notiq/pkg/logx"
)

// Delivery is the materialized, one-time event produced when a job fires.
// Payload is the job's payload, carried unmodified; rendering it is the
// receiving owner's concern.
type Delivery struct {
	JobID   string         `json:"job_id"`
	OwnerID string         `json:"owner_id"`
	Payload map[string]any `json:"payload,omitempty"`
	FiredAt time.Time      `json:"fired_at"`
}

// Handler receives dispatched deliveries for a registered owner.
// Handlers run on the delivery path and should return quickly.
type Handler func(d Delivery)

// DefaultMaxPending caps an absent owner's mailbox unless configured
// otherwise. Overflow drops the oldest delivery so a returning owner sees
// the most recent history.
const DefaultMaxPending = 256

type Config struct {
	// MaxPending caps buffered deliveries per owner.
	// 0 selects DefaultMaxPending; negative disables the cap.
	MaxPending int

	// WarnRatePerSec throttles absent-owner buffering warnings. 0 means 1/s.
	WarnRatePerSec int
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus

	cfg        Config
	maxPending int

	handlers map[string]Handler
	boxes    map[string][]Delivery

	warnLimiter *rate.Limiter

	dropped uint64
}

// Snapshot is a point-in-time diagnostic view.
type Snapshot struct {
	LiveOwners     int            `json:"live_owners"`
	BufferedOwners int            `json:"buffered_owners"`
	Buffered       map[string]int `json:"buffered,omitempty"`
	Dropped        uint64         `json:"dropped"`
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		bus:      bus,
		handlers: map[string]Handler{},
		boxes:    map[string][]Delivery{},
	}
	s.applyLocked(cfg)
	return s
}

// Apply updates mailbox limits at runtime. Safe to call concurrently.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg
	switch {
	case cfg.MaxPending < 0:
		s.maxPending = 0 // unbounded
	case cfg.MaxPending == 0:
		s.maxPending = DefaultMaxPending
	default:
		s.maxPending = cfg.MaxPending
	}
	rps := cfg.WarnRatePerSec
	if rps <= 0 {
		rps = 1
	}
	s.warnLimiter = rate.NewLimiter(rate.Limit(rps), rps)
}

// Register marks the owner live and drains its mailbox. The returned
// deliveries are in original fire order and the mailbox is empty when the
// call returns; deliveries arriving after registration dispatch directly to
// the handler and never appear in a later flush.
func (s *Service) Register(ownerID string, h Handler) []Delivery {
	s.mu.Lock()
	s.handlers[ownerID] = h
	pending := s.boxes[ownerID]
	delete(s.boxes, ownerID)
	s.mu.Unlock()

	s.publish(eventbus.Event{Type: eventbus.TypeOwnerRegistered, Owner: ownerID, Data: len(pending)})
	if len(pending) > 0 {
		s.log.Info("mailbox flushed", logx.String("owner", ownerID), logx.Int("deliveries", len(pending)))
	}
	return pending
}

// Unregister marks the owner not-live. Subsequent deliveries buffer.
// Unknown owners are a no-op.
func (s *Service) Unregister(ownerID string) {
	s.mu.Lock()
	_, was := s.handlers[ownerID]
	delete(s.handlers, ownerID)
	s.mu.Unlock()

	if was {
		s.publish(eventbus.Event{Type: eventbus.TypeOwnerUnregistered, Owner: ownerID})
	}
}

// Deliver routes a delivery: dispatched to the live handler or buffered for
// an absent owner, never both. The destination decision and the enqueue are
// atomic under the service mutex; the handler itself runs outside the lock.
func (s *Service) Deliver(d Delivery) {
	s.mu.Lock()
	h, live := s.handlers[d.OwnerID]
	if !live {
		box := append(s.boxes[d.OwnerID], d)
		if s.maxPending > 0 && len(box) > s.maxPending {
			over := len(box) - s.maxPending
			box = box[over:]
			s.dropped += uint64(over)
			s.log.Warn("mailbox overflow; dropping oldest",
				logx.String("owner", d.OwnerID), logx.Int("dropped", over))
			s.publish(eventbus.Event{Type: eventbus.TypeDeliveryDropped, Owner: d.OwnerID, Data: over})
		}
		s.boxes[d.OwnerID] = box
		warn := s.warnLimiter.Allow()
		depth := len(box)
		s.mu.Unlock()

		if warn {
			s.log.Debug("delivery buffered (owner absent)",
				logx.String("owner", d.OwnerID), logx.String("job", d.JobID), logx.Int("pending", depth))
		}
		s.publish(eventbus.Event{Type: eventbus.TypeDeliveryBuffered, Owner: d.OwnerID, Job: d.JobID})
		return
	}
	s.mu.Unlock()

	h(d)
	s.publish(eventbus.Event{Type: eventbus.TypeDeliveryDispatched, Owner: d.OwnerID, Job: d.JobID})
}

// SnapshotNow returns current routing state for diagnostics.
func (s *Service) SnapshotNow() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		LiveOwners:     len(s.handlers),
		BufferedOwners: len(s.boxes),
		Dropped:        s.dropped,
	}
	if len(s.boxes) > 0 {
		snap.Buffered = make(map[string]int, len(s.boxes))
		for owner, box := range s.boxes {
			snap.Buffered[owner] = len(box)
		}
	}
	return snap
}

func (s *Service) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
