// Package autosave batches rapid editor changes into a single commit issued
// once the user stops typing for a fixed window.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultWindow is the quiet period after the last edit before a commit.
const DefaultWindow = 2000 * time.Millisecond

var ErrClosed = errors.New("debouncer closed")

type State int

const (
	Idle State = iota
	Pending
	Saving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Saving:
		return "saving"
	default:
		return "unknown"
	}
}

// Status is what the editor shows next to the note.
type Status int

const (
	StatusSaving Status = iota
	StatusSaved
	StatusNotSaved
)

func (s Status) String() string {
	switch s {
	case StatusSaving:
		return "saving"
	case StatusSaved:
		return "saved"
	case StatusNotSaved:
		return "not saved"
	default:
		return "unknown"
	}
}

// Snapshot is the editor content at the time of an edit.
type Snapshot struct {
	Title         string
	Content       string
	SharedUserIDs []int64
}

type CommitFunc func(ctx context.Context, snap Snapshot) error

type Options struct {
	Window   time.Duration
	Clock    clockwork.Clock
	OnStatus func(status Status, err error)
}

// Debouncer is the Idle -> Pending -> Saving state machine. Edits made while
// a commit is in flight start a new cycle once it completes. A failed commit
// is not retried; its snapshot stays pending until the next edit or Flush.
type Debouncer struct {
	ctx      context.Context
	commit   CommitFunc
	clock    clockwork.Clock
	window   time.Duration
	onStatus func(Status, error)

	mu      sync.Mutex
	state   State
	pending *Snapshot
	timer   clockwork.Timer
	gen     uint64
	done    chan struct{}
	closed  bool
}

// New returns an idle Debouncer. ctx is passed to timer-driven commits.
func New(ctx context.Context, commit CommitFunc, opts Options) *Debouncer {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.OnStatus == nil {
		opts.OnStatus = func(Status, error) {}
	}
	return &Debouncer{
		ctx:      ctx,
		commit:   commit,
		clock:    opts.Clock,
		window:   opts.Window,
		onStatus: opts.OnStatus,
	}
}

func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Dirty reports whether there are edits not yet committed successfully.
func (d *Debouncer) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Edit records snap as the latest content and restarts the window.
func (d *Debouncer) Edit(snap Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	d.pending = &snap
	if d.state == Saving {
		return nil
	}
	d.state = Pending
	d.startTimerLocked()
	return nil
}

// Flush cancels the window and commits the latest content now, after any
// commit already in flight. It returns the commit error.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	return d.flushLocked(ctx)
}

// Close commits outstanding edits and stops the Debouncer. Later calls to
// Edit and Flush return ErrClosed.
func (d *Debouncer) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	return d.flushLocked(ctx)
}

// flushLocked is entered with d.mu held and returns with it released.
func (d *Debouncer) flushLocked(ctx context.Context) error {
	for d.state == Saving {
		done := d.done
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		d.mu.Lock()
	}

	d.stopTimerLocked()
	if d.pending == nil {
		d.state = Idle
		d.mu.Unlock()
		return nil
	}

	snap := d.beginSaveLocked()
	d.mu.Unlock()
	return d.save(ctx, snap)
}

func (d *Debouncer) startTimerLocked() {
	d.stopTimerLocked()
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.window, func() { d.fire(gen) })
}

func (d *Debouncer) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

func (d *Debouncer) beginSaveLocked() Snapshot {
	snap := *d.pending
	d.pending = nil
	d.state = Saving
	d.done = make(chan struct{})
	return snap
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.state != Pending || d.pending == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	snap := d.beginSaveLocked()
	d.mu.Unlock()

	d.save(d.ctx, snap)
}

func (d *Debouncer) save(ctx context.Context, snap Snapshot) error {
	d.onStatus(StatusSaving, nil)
	err := d.commit(ctx, snap)

	d.mu.Lock()
	close(d.done)
	d.state = Idle
	switch {
	case d.pending != nil && !d.closed:
		d.state = Pending
		d.startTimerLocked()
	case err != nil && d.pending == nil:
		d.pending = &snap
	}
	d.mu.Unlock()

	if err != nil {
		d.onStatus(StatusNotSaved, err)
		return err
	}
	d.onStatus(StatusSaved, nil)
	return nil
}
