// Package session accumulates reading time per day and derives the reading
// streak.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// FlushInterval is how often a running session is folded into today's total.
const FlushInterval = 15 * time.Second

const dayLayout = "2006-01-02"

// Snapshot is the persisted form of the tracker.
type Snapshot struct {
	Days      []string         `json:"days"`
	ReadingMs map[string]int64 `json:"readingMs"`
}

// Tracker is safe for concurrent use. Time is read through Now so tests can
// drive it.
type Tracker struct {
	Now     func() time.Time
	OnFlush func(Snapshot)

	mu      sync.Mutex
	running bool
	since   time.Time
	days    map[string]bool
	ms      map[string]int64
}

func New(snap Snapshot) *Tracker {
	t := &Tracker{Now: time.Now, days: map[string]bool{}, ms: map[string]int64{}}
	for _, d := range snap.Days {
		t.days[d] = true
	}
	for d, v := range snap.ReadingMs {
		t.ms[d] = v
	}
	return t
}

func dayKey(t time.Time) string { return t.Format(dayLayout) }

// Start marks today as a reading day and begins timing. Starting a running
// tracker is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	now := t.Now()
	t.running = true
	t.since = now
	t.days[dayKey(now)] = true
}

// Flush adds the time since the last flush to today's bucket.
func (t *Tracker) Flush() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	now := t.Now()
	if elapsed := now.Sub(t.since); elapsed > 0 {
		t.ms[dayKey(now)] += elapsed.Milliseconds()
	}
	t.days[dayKey(now)] = true
	t.since = now
	snap := t.snapshotLocked()
	cb := t.OnFlush
	t.mu.Unlock()
	if cb != nil {
		cb(snap)
	}
}

// Stop flushes and stops timing.
func (t *Tracker) Stop() {
	t.Flush()
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Run flushes every interval until ctx is done, then stops the tracker.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = FlushInterval
	}
	t.Start()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-ticker.C:
			t.Flush()
		}
	}
}

// Today is the reading time accumulated today.
func (t *Tracker) Today() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.ms[dayKey(t.Now())]) * time.Millisecond
}

// Streak counts consecutive reading days ending today. A day without reading
// today yields zero.
func (t *Tracker) Streak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	day := t.Now()
	n := 0
	for t.days[dayKey(day)] {
		n++
		day = day.AddDate(0, 0, -1)
	}
	return n
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{ReadingMs: make(map[string]int64, len(t.ms))}
	for d := range t.days {
		snap.Days = append(snap.Days, d)
	}
	sort.Strings(snap.Days)
	for d, v := range t.ms {
		snap.ReadingMs[d] = v
	}
	return snap
}

// FormatDuration renders d as "42m" or "1h 5m".
func FormatDuration(d time.Duration) string {
	mins := int(d / time.Minute)
	if mins < 60 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dh %dm", mins/60, mins%60)
}
