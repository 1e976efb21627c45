package schedule

import "time"

// Manual is a Scheduler driven by an explicitly advanced virtual clock.
// Callbacks run synchronously inside Advance and Step, on the caller's
// goroutine.
type Manual struct {
	now   time.Time
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	due    time.Time
	every  time.Duration
	fn     func()
	seq    int
	active bool
}

func (t *manualTask) Cancel()      { t.active = false }
func (t *manualTask) Active() bool { return t.active }

// NewManual creates a Manual clock starting at a fixed instant.
func NewManual() *Manual {
	return &Manual{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *Manual) Now() time.Time { return m.now }

// Post queues fn at the current instant; it runs on the next Advance or
// Step.
func (m *Manual) Post(fn func()) bool {
	m.add(0, 0, fn)
	return true
}

func (m *Manual) After(d time.Duration, fn func()) Task {
	return m.add(d, 0, fn)
}

func (m *Manual) Every(d time.Duration, fn func()) Task {
	if d <= 0 {
		d = time.Nanosecond
	}
	return m.add(d, d, fn)
}

func (m *Manual) add(d, every time.Duration, fn func()) *manualTask {
	m.seq++
	t := &manualTask{due: m.now.Add(d), every: every, fn: fn, seq: m.seq, active: true}
	m.tasks = append(m.tasks, t)
	return t
}

// Advance moves the clock forward by d, running every callback that falls
// due in order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		t := m.next(target)
		if t == nil {
			break
		}
		m.fire(t)
	}
	m.now = target
}

// Step jumps to the next due callback and runs it. It returns false when
// nothing is scheduled.
func (m *Manual) Step() bool {
	t := m.next(time.Time{})
	if t == nil {
		return false
	}
	m.fire(t)
	return true
}

// Pending returns the number of active tasks.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.tasks {
		if t.active {
			n++
		}
	}
	return n
}

// next returns the earliest active task due at or before limit. A zero
// limit means no limit.
func (m *Manual) next(limit time.Time) *manualTask {
	live := m.tasks[:0]
	var best *manualTask
	for _, t := range m.tasks {
		if !t.active {
			continue
		}
		live = append(live, t)
		if !limit.IsZero() && t.due.After(limit) {
			continue
		}
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.seq < best.seq) {
			best = t
		}
	}
	m.tasks = live
	return best
}

func (m *Manual) fire(t *manualTask) {
	if t.due.After(m.now) {
		m.now = t.due
	}
	if t.every > 0 {
		t.due = t.due.Add(t.every)
	} else {
		t.active = false
	}
	t.fn()
}
