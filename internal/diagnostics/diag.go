package diagnostics

import (
	"sync"
	"time"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

// Codes emitted by the clock.
const (
	CodeBusFallback       = "bus.fallback_sim"
	CodeWriteFailed       = "bus.write_failed"
	CodeDegraded          = "transition.degraded"
	CodeFallbackMode      = "transition.fallback"
	CodeSchedulerSkipped  = "transition.tick_skipped"
	CodeSchedulerStopped  = "transition.scheduler_stopped"
	CodeDemoScriptInvalid = "demo.script_invalid"
)

type Diagnostic struct {
	Time           time.Time      `json:"time"`
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Log keeps the most recent diagnostics and fans new ones out to subscribers.
type Log struct {
	mu   sync.Mutex
	buf  []Diagnostic
	next int
	full bool
	subs map[int]func(Diagnostic)
	id   int
}

// NewLog keeps up to size entries.
func NewLog(size int) *Log {
	if size < 1 {
		size = 1
	}
	return &Log{buf: make([]Diagnostic, size), subs: map[int]func(Diagnostic){}}
}

// Add records d, stamping the time if unset, and notifies subscribers.
func (l *Log) Add(d Diagnostic) {
	if d.Time.IsZero() {
		d.Time = time.Now()
	}
	l.mu.Lock()
	l.buf[l.next] = d
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	subs := make([]func(Diagnostic), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(d)
	}
}

// List returns the kept entries, oldest first.
func (l *Log) List() []Diagnostic {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]Diagnostic(nil), l.buf[:l.next]...)
	}
	out := make([]Diagnostic, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	return append(out, l.buf[:l.next]...)
}

// Subscribe calls fn for every later Add until the returned cancel is called.
func (l *Log) Subscribe(fn func(Diagnostic)) (cancel func()) {
	l.mu.Lock()
	id := l.id
	l.id++
	l.subs[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}
