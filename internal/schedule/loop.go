package schedule

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is a single-goroutine event loop. Every posted function and every
// timer callback runs on the goroutine that called Run, one at a time, so
// state owned by the loop needs no locking.
//
// Posted functions run in FIFO order. Timers are kept in one list and run
// by due time, ties in scheduling order.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wakeup chan struct{}

	timers  []*loopTask
	seq     uint64
	alarm   *time.Timer
	alarmAt time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewLoop creates a Loop. Call Run in a goroutine.
func NewLoop() *Loop {
	return &Loop{
		wakeup: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Run executes posted functions until Close is called.
func (l *Loop) Run() {
	for {
		select {
		case <-l.wakeup:
			l.drain()
		case <-l.done:
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			if l.closed() {
				return
			}
			fn()
		}
	}
}

func (l *Loop) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Post queues fn for execution on the loop. It never blocks, so it is
// safe to call from the loop goroutine. It returns false once the loop is
// closed.
func (l *Loop) Post(fn func()) bool {
	if l.closed() {
		return false
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wakeup <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine itself.
func (l *Loop) Do(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Close stops the loop. Pending functions and timers are discarded.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		if l.alarm != nil {
			l.alarm.Stop()
		}
		l.timers = nil
		l.mu.Unlock()
	})
}

// Now returns wall-clock time.
func (l *Loop) Now() time.Time { return time.Now() }

// After runs fn on the loop once after d.
func (l *Loop) After(d time.Duration, fn func()) Task {
	return l.add(d, 0, fn)
}

// Every runs fn on the loop every d until the task is cancelled.
func (l *Loop) Every(d time.Duration, fn func()) Task {
	if d <= 0 {
		d = time.Millisecond
	}
	return l.add(d, d, fn)
}

func (l *Loop) add(d, every time.Duration, fn func()) *loopTask {
	t := &loopTask{every: every, fn: fn}
	t.active.Store(true)
	l.mu.Lock()
	t.due = time.Now().Add(d)
	l.insertLocked(t)
	l.mu.Unlock()
	return t
}

func (l *Loop) insertLocked(t *loopTask) {
	if l.closed() {
		return
	}
	l.seq++
	t.seq = l.seq
	l.timers = append(l.timers, t)
	if l.alarm == nil || t.due.Before(l.alarmAt) {
		l.armLocked(t.due)
	}
}

// armLocked sets the single wake-up timer to at. When it fires, the due
// timers are run from the loop queue.
func (l *Loop) armLocked(at time.Time) {
	if l.alarm != nil {
		l.alarm.Stop()
	}
	l.alarmAt = at
	l.alarm = time.AfterFunc(time.Until(at), func() { l.Post(l.runDue) })
}

// runDue runs every timer that is due, in (due, seq) order, on the loop.
func (l *Loop) runDue() {
	now := time.Now()
	l.mu.Lock()
	var due []*loopTask
	live := l.timers[:0]
	for _, t := range l.timers {
		switch {
		case !t.active.Load():
		case !t.due.After(now):
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	clear(l.timers[len(live):])
	l.timers = live
	l.alarm = nil
	l.rearmLocked()
	l.mu.Unlock()

	slices.SortFunc(due, func(a, b *loopTask) int {
		if c := a.due.Compare(b.due); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	for _, t := range due {
		if l.closed() {
			return
		}
		if t.every == 0 {
			if t.active.CompareAndSwap(true, false) {
				t.fn()
			}
			continue
		}
		if !t.active.Load() {
			continue
		}
		t.fn()
		if t.active.Load() {
			l.mu.Lock()
			t.due = t.due.Add(t.every)
			if t.due.Before(now) {
				t.due = now.Add(t.every)
			}
			l.insertLocked(t)
			l.mu.Unlock()
		}
	}
}

func (l *Loop) rearmLocked() {
	if len(l.timers) == 0 {
		return
	}
	next := l.timers[0].due
	for _, t := range l.timers[1:] {
		if t.due.Before(next) {
			next = t.due
		}
	}
	l.armLocked(next)
}

type loopTask struct {
	active atomic.Bool
	due    time.Time
	every  time.Duration
	seq    uint64
	fn     func()
}

// Cancel marks the task inactive; the loop drops it on its next pass.
func (t *loopTask) Cancel() { t.active.Store(false) }

func (t *loopTask) Active() bool { return t.active.Load() }
