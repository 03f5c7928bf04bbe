package postoffice

import (
	"fmt"
	"sync"
	"testing"
	"time"

	logx "notiq/pkg/logx"
)

func mkDelivery(owner string, n int) Delivery {
	return Delivery{
		JobID:   fmt.Sprintf("job-%d", n),
		OwnerID: owner,
		Payload: map[string]any{"n": n},
		FiredAt: time.Date(2025, 6, 1, 12, 0, n, 0, time.UTC),
	}
}

func TestDeliverToLiveOwner(t *testing.T) {
	t.Parallel()
	po := New(Config{}, logx.Nop(), nil)

	var mu sync.Mutex
	var got []Delivery
	pending := po.Register("owner", func(d Delivery) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	})
	if len(pending) != 0 {
		t.Fatalf("fresh owner has pending deliveries: %v", pending)
	}

	po.Deliver(mkDelivery("owner", 1))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].JobID != "job-1" {
		t.Fatalf("dispatched = %v, want job-1", got)
	}
}

func TestBufferedFlushInFireOrder(t *testing.T) {
	t.Parallel()
	po := New(Config{}, logx.Nop(), nil)

	po.Deliver(mkDelivery("owner", 1))
	po.Deliver(mkDelivery("owner", 2))
	po.Deliver(mkDelivery("owner", 3))

	pending := po.Register("owner", func(Delivery) {})
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i, d := range pending {
		if want := fmt.Sprintf("job-%d", i+1); d.JobID != want {
			t.Fatalf("pending[%d] = %s, want %s (fire order)", i, d.JobID, want)
		}
	}

	// Flush empties the mailbox: a second registration sees nothing.
	po.Unregister("owner")
	if again := po.Register("owner", func(Delivery) {}); len(again) != 0 {
		t.Fatalf("mailbox not emptied by flush: %v", again)
	}
}

func TestExactlyOneDestination(t *testing.T) {
	t.Parallel()
	po := New(Config{}, logx.Nop(), nil)

	var mu sync.Mutex
	var dispatched []string
	po.Deliver(mkDelivery("owner", 1))
	pending := po.Register("owner", func(d Delivery) {
		mu.Lock()
		dispatched = append(dispatched, d.JobID)
		mu.Unlock()
	})
	po.Deliver(mkDelivery("owner", 2))

	if len(pending) != 1 || pending[0].JobID != "job-1" {
		t.Fatalf("pending = %v, want exactly job-1", pending)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(dispatched) != 1 || dispatched[0] != "job-2" {
		t.Fatalf("dispatched = %v, want exactly job-2", dispatched)
	}
}

func TestUnregisterBuffersAgain(t *testing.T) {
	t.Parallel()
	po := New(Config{}, logx.Nop(), nil)

	var count int
	po.Register("owner", func(Delivery) { count++ })
	po.Deliver(mkDelivery("owner", 1))
	po.Unregister("owner")
	po.Deliver(mkDelivery("owner", 2))

	if count != 1 {
		t.Fatalf("dispatched = %d, want 1 (delivery after unregister must buffer)", count)
	}
	pending := po.Register("owner", func(Delivery) {})
	if len(pending) != 1 || pending[0].JobID != "job-2" {
		t.Fatalf("pending = %v, want buffered job-2", pending)
	}
}

func TestMailboxCapDropsOldest(t *testing.T) {
	t.Parallel()
	po := New(Config{MaxPending: 2}, logx.Nop(), nil)

	for i := 1; i <= 4; i++ {
		po.Deliver(mkDelivery("owner", i))
	}

	pending := po.Register("owner", func(Delivery) {})
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want cap of 2", len(pending))
	}
	if pending[0].JobID != "job-3" || pending[1].JobID != "job-4" {
		t.Fatalf("pending = [%s %s], want newest two [job-3 job-4]",
			pending[0].JobID, pending[1].JobID)
	}

	snap := po.SnapshotNow()
	if snap.Dropped != 2 {
		t.Fatalf("dropped = %d, want 2", snap.Dropped)
	}
}

func TestUncappedMailbox(t *testing.T) {
	t.Parallel()
	po := New(Config{MaxPending: -1}, logx.Nop(), nil)

	n := DefaultMaxPending + 10
	for i := 1; i <= n; i++ {
		po.Deliver(mkDelivery("owner", i))
	}
	pending := po.Register("owner", func(Delivery) {})
	if len(pending) != n {
		t.Fatalf("pending = %d, want %d (uncapped)", len(pending), n)
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	t.Parallel()
	po := New(Config{}, logx.Nop(), nil)

	po.Deliver(mkDelivery("alice", 1))
	po.Deliver(mkDelivery("bob", 2))

	if pending := po.Register("alice", func(Delivery) {}); len(pending) != 1 || pending[0].JobID != "job-1" {
		t.Fatalf("alice pending = %v, want only job-1", pending)
	}
	if pending := po.Register("bob", func(Delivery) {}); len(pending) != 1 || pending[0].JobID != "job-2" {
		t.Fatalf("bob pending = %v, want only job-2", pending)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	po := New(Config{}, logx.Nop(), nil)

	po.Register("live", func(Delivery) {})
	po.Deliver(mkDelivery("absent", 1))
	po.Deliver(mkDelivery("absent", 2))

	snap := po.SnapshotNow()
	if snap.LiveOwners != 1 {
		t.Fatalf("live owners = %d, want 1", snap.LiveOwners)
	}
	if snap.BufferedOwners != 1 || snap.Buffered["absent"] != 2 {
		t.Fatalf("buffered = %+v, want absent:2", snap.Buffered)
	}
}

func TestApplyTightensCap(t *testing.T) {
	t.Parallel()
	po := New(Config{MaxPending: -1}, logx.Nop(), nil)

	po.Deliver(mkDelivery("owner", 1))
	po.Apply(Config{MaxPending: 1})
	// Existing backlog is kept; the cap applies to subsequent deliveries.
	po.Deliver(mkDelivery("owner", 2))
	po.Deliver(mkDelivery("owner", 3))

	pending := po.Register("owner", func(Delivery) {})
	if len(pending) != 1 || pending[0].JobID != "job-3" {
		t.Fatalf("pending = %v, want only newest job-3", pending)
	}
}
