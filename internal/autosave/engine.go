// Package autosave coalesces local page metadata edits and commits them
// with at most one write in flight per open page.
package autosave

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultDebounce     = 500 * time.Millisecond
	DefaultWriteTimeout = 10 * time.Second
	DefaultMaxBackoff   = 30 * time.Second

	// UntitledTitle replaces a blank title before it is committed.
	UntitledTitle = "Untitled"
)

type Field int

const (
	FieldTitle Field = iota
	FieldEmoji
)

func (f Field) String() string {
	switch f {
	case FieldTitle:
		return "title"
	case FieldEmoji:
		return "emoji"
	default:
		return "unknown"
	}
}

type Values struct {
	Title string `json:"title"`
	Emoji string `json:"emoji"`
}

// Normalize applies the title fallback used for every commit.
func (v Values) Normalize() Values {
	if strings.TrimSpace(v.Title) == "" {
		v.Title = UntitledTitle
	}
	return v
}

type Commit struct {
	PageID string
	Title  string
	Emoji  string
}

type Committer interface {
	UpdatePage(ctx context.Context, commit Commit) error
}

type CommitterFunc func(ctx context.Context, commit Commit) error

func (f CommitterFunc) UpdatePage(ctx context.Context, commit Commit) error {
	return f(ctx, commit)
}

type State string

const (
	StateIdle     State = "idle"
	StateSaving   State = "saving"
	StateSaved    State = "saved"
	StateNotSaved State = "not_saved"
)

type Status struct {
	State     State
	LastSaved time.Time
	Err       error
	Committed Values
	Pending   bool
}

var ErrClosed = errors.New("autosave engine closed")

type Option func(*Engine)

func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	}
}

func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

func WithMaxBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxBackoff = d
		}
	}
}

// Engine owns the autosave state of one open page. Values that stabilize
// while a write is in flight are diffed again once that write resolves.
type Engine struct {
	pageID       string
	committer    Committer
	clock        Clock
	debounce     time.Duration
	writeTimeout time.Duration
	maxBackoff   time.Duration
	log          zerolog.Logger

	mu        sync.Mutex
	hydrated  bool
	closed    bool
	local     Values
	titleSet  bool
	emojiSet  bool
	stable    Values
	hasStable bool
	committed Values
	inFlight  bool
	failures  int
	timer     Timer
	timerGen  uint64
	busy      chan struct{}
	state     State
	lastSaved time.Time
	lastErr   error
}

func New(pageID string, committer Committer, opts ...Option) *Engine {
	e := &Engine{
		pageID:       pageID,
		committer:    committer,
		clock:        systemClock{},
		debounce:     DefaultDebounce,
		writeTimeout: DefaultWriteTimeout,
		maxBackoff:   DefaultMaxBackoff,
		log:          zerolog.Nop(),
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("page_id", pageID).Logger()
	return e
}

// Hydrate seeds the committed values from storage without writing. Only
// the first call has an effect. Fields edited before hydration keep the
// local value and are committed if they differ.
func (e *Engine) Hydrate(stored Values) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hydrated || e.closed {
		return false
	}
	e.hydrated = true
	e.committed = stored
	if !e.titleSet {
		e.local.Title = stored.Title
	}
	if !e.emojiSet {
		e.local.Emoji = stored.Emoji
	}
	if e.hasStable {
		if !e.titleSet {
			e.stable.Title = stored.Title
		}
		if !e.emojiSet {
			e.stable.Emoji = stored.Emoji
		}
		e.reconcileLocked()
	}
	return true
}

// ScheduleChange records a local edit and restarts the debounce window.
func (e *Engine) ScheduleChange(field Field, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	switch field {
	case FieldTitle:
		e.local.Title = value
		e.titleSet = true
	case FieldEmoji:
		e.local.Emoji = value
		e.emojiSet = true
	default:
		return errors.New("autosave: unknown field " + field.String())
	}
	e.armLocked(e.debounce)
	return nil
}

// Flush stabilizes pending edits immediately instead of waiting for the
// debounce window.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer == nil {
		return
	}
	e.disarmLocked()
	e.stabilizeLocked()
}

// Wait blocks until no write is in flight.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	busy := e.busy
	e.mu.Unlock()
	if busy == nil {
		return nil
	}
	select {
	case <-busy:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending edits, waits for the resulting writes and stops
// further scheduling. It returns the last write error if the final state
// is not saved.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.timer != nil {
		e.disarmLocked()
		e.stabilizeLocked()
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.Wait(ctx); err != nil {
		return err
	}
	status := e.Status()
	if status.State == StateNotSaved {
		return status.Err
	}
	return nil
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:     e.state,
		LastSaved: e.lastSaved,
		Err:       e.lastErr,
		Committed: e.committed,
		Pending:   e.timer != nil,
	}
}

func (e *Engine) armLocked(d time.Duration) {
	e.disarmLocked()
	gen := e.timerGen
	e.timer = e.clock.AfterFunc(d, func() { e.fire(gen) })
}

func (e *Engine) disarmLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}

func (e *Engine) fire(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.timerGen {
		return
	}
	e.timer = nil
	e.stabilizeLocked()
}

func (e *Engine) stabilizeLocked() {
	e.stable = e.local
	e.hasStable = true
	e.reconcileLocked()
}

func (e *Engine) reconcileLocked() {
	if !e.hydrated || !e.hasStable || e.inFlight {
		return
	}
	candidate := e.stable.Normalize()
	if candidate == e.committed {
		if e.state == StateNotSaved {
			// the failed value was edited back to what storage holds
			e.state = StateSaved
			e.lastErr = nil
			e.failures = 0
		}
		return
	}
	e.inFlight = true
	e.state = StateSaving
	if e.busy == nil {
		e.busy = make(chan struct{})
	}
	go e.write(candidate)
}

func (e *Engine) write(target Values) {
	ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
	err := e.committer.UpdatePage(ctx, Commit{PageID: e.pageID, Title: target.Title, Emoji: target.Emoji})
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = false

	if err != nil {
		e.failures++
		e.state = StateNotSaved
		e.lastErr = err
		e.log.Warn().Err(err).Int("failures", e.failures).Str("title", target.Title).Msg("autosave write failed")
		if e.stable.Normalize() != target {
			e.reconcileLocked()
		} else if e.timer == nil && !e.closed {
			e.armLocked(e.backoffLocked())
		}
	} else {
		e.failures = 0
		e.committed = target
		e.lastSaved = e.clock.Now()
		e.lastErr = nil
		e.state = StateSaved
		e.log.Debug().Str("title", target.Title).Str("emoji", target.Emoji).Msg("autosave committed")
		e.reconcileLocked()
	}

	if !e.inFlight && e.busy != nil {
		close(e.busy)
		e.busy = nil
	}
}

func (e *Engine) backoffLocked() time.Duration {
	d := e.debounce
	for i := 1; i < e.failures && d < e.maxBackoff; i++ {
		d *= 2
	}
	if d > e.maxBackoff {
		d = e.maxBackoff
	}
	return d
}
