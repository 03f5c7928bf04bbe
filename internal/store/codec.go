package store

import (
	"encoding/json"
	"fmt"
	"time"

	"notiq/internal/trigger"
)

// jobRecord is the stable on-disk shape shared by the file and sqlite
// drivers. Keep it compact and schema-stable.
type jobRecord struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Kind       string          `json:"kind"`
	IntervalMS int64           `json:"interval_ms,omitempty"`
	Cron       string          `json:"cron,omitempty"`
	Repeat     bool            `json:"repeat"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	NextFireMS int64           `json:"next_fire_ms"`
	CreatedMS  int64           `json:"created_ms"`
}

func encodeJob(j Job) (jobRecord, error) {
	rec := jobRecord{
		ID:         j.ID,
		OwnerID:    j.OwnerID,
		NextFireMS: j.NextFireTime.UnixMilli(),
		CreatedMS:  j.CreatedAt.UnixMilli(),
	}
	switch t := j.Trigger.(type) {
	case trigger.Interval:
		rec.Kind = string(trigger.KindInterval)
		rec.IntervalMS = t.Delay.Milliseconds()
		rec.Repeat = t.Repeat
	case trigger.Calendar:
		rec.Kind = string(trigger.KindCalendar)
		rec.Cron = t.Expr
		rec.Repeat = t.Repeat
	default:
		return jobRecord{}, fmt.Errorf("unknown trigger type %T", j.Trigger)
	}
	if j.Payload != nil {
		b, err := json.Marshal(j.Payload)
		if err != nil {
			return jobRecord{}, fmt.Errorf("encode payload for job %s: %w", j.ID, err)
		}
		rec.Payload = b
	}
	return rec, nil
}

func decodeJob(rec jobRecord) (Job, error) {
	j := Job{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		NextFireTime: time.UnixMilli(rec.NextFireMS),
		CreatedAt:    time.UnixMilli(rec.CreatedMS),
	}
	switch trigger.Kind(rec.Kind) {
	case trigger.KindInterval:
		t, err := trigger.NewInterval(time.Duration(rec.IntervalMS)*time.Millisecond, rec.Repeat)
		if err != nil {
			return Job{}, fmt.Errorf("decode job %s: %w", rec.ID, err)
		}
		j.Trigger = t
	case trigger.KindCalendar:
		t, err := trigger.NewCalendar(rec.Cron, rec.Repeat)
		if err != nil {
			return Job{}, fmt.Errorf("decode job %s: %w", rec.ID, err)
		}
		j.Trigger = t
	default:
		return Job{}, fmt.Errorf("decode job %s: unknown trigger kind %q", rec.ID, rec.Kind)
	}
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &j.Payload); err != nil {
			return Job{}, fmt.Errorf("decode payload for job %s: %w", rec.ID, err)
		}
	}
	return j, nil
}
