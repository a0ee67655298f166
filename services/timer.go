package services

import (
	"context"
	"sync"
)

// TimerRegistry owns the per-session question countdown. Timers belong to the
// session, not to the connection that started them, so a teacher disconnect
// cannot orphan a running countdown. A session has at most one timer;
// Replace cancels the previous one before installing the next.
type TimerRegistry struct {
	mu     sync.Mutex
	timers map[string]*questionTimer
}

type questionTimer struct {
	questionIndex int
	cancel        context.CancelFunc
}

func NewTimerRegistry() *TimerRegistry {
	return &TimerRegistry{timers: make(map[string]*questionTimer)}
}

// Replace cancels any running timer for the session and registers a new one
// scoped to questionIndex. The returned context governs the countdown
// goroutine's lifetime.
func (r *TimerRegistry) Replace(sessionID string, questionIndex int) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[sessionID]; ok {
		t.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.timers[sessionID] = &questionTimer{questionIndex: questionIndex, cancel: cancel}
	return ctx
}

// Cancel stops the session's timer, if any.
func (r *TimerRegistry) Cancel(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[sessionID]; ok {
		t.cancel()
		delete(r.timers, sessionID)
	}
}

// Active reports the question index the session's timer is scoped to.
func (r *TimerRegistry) Active(sessionID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[sessionID]
	if !ok {
		return 0, false
	}
	return t.questionIndex, true
}

// Len reports the number of registered timers across all sessions.
func (r *TimerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
