package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"webnotes-server/internal/autosave"
	"webnotes-server/internal/domain"
)

var ErrReadOnly = errors.New("note is open read-only")

type SessionOptions struct {
	Clock clockwork.Clock
	// Window is the autosave delay after the last edit.
	Window time.Duration
	// HeartbeatEvery must be shorter than the server's lock lease.
	HeartbeatEvery time.Duration
	OnStatus       func(status autosave.Status, err error)
}

// Session is one open editor on a note. It holds the note lock while open,
// autosaves edits and keeps the lease alive until Close.
type Session struct {
	client   *Client
	noteID   int64
	debounce *autosave.Debouncer
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	note     *domain.Note
	readOnly bool
	holder   string
	closed   bool
}

// OpenSession loads the note and tries to take its lock. When another user
// holds it the session is read-only and Edit fails with ErrReadOnly.
func OpenSession(ctx context.Context, c *Client, noteID int64, opts SessionOptions) (*Session, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.HeartbeatEvery <= 0 {
		opts.HeartbeatEvery = time.Minute
	}

	note, err := c.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}

	state, err := c.AcquireLock(ctx, noteID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		client:   c,
		noteID:   noteID,
		cancel:   cancel,
		note:     note,
		readOnly: state.ReadOnly,
		holder:   state.Holder,
	}
	s.debounce = autosave.New(runCtx, s.commit, autosave.Options{
		Window:   opts.Window,
		Clock:    opts.Clock,
		OnStatus: opts.OnStatus,
	})

	if !s.readOnly {
		s.wg.Add(1)
		go s.heartbeat(runCtx, opts.Clock.NewTicker(opts.HeartbeatEvery))
	}
	return s, nil
}

func (s *Session) Note() *domain.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := *s.note
	return &n
}

func (s *Session) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

// Holder is the user holding the lock, which is the caller when the session
// is writable.
func (s *Session) Holder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder
}

func (s *Session) State() autosave.State {
	return s.debounce.State()
}

// Edit schedules an autosave of the new title and content. The share list is
// kept as loaded unless shareWith is non-nil.
func (s *Session) Edit(title, content string, shareWith []int64) error {
	s.mu.Lock()
	if s.readOnly {
		s.mu.Unlock()
		return ErrReadOnly
	}
	if shareWith == nil {
		shareWith = s.note.SharedUserIDs
	}
	s.mu.Unlock()

	return s.debounce.Edit(autosave.Snapshot{Title: title, Content: content, SharedUserIDs: shareWith})
}

// Save commits pending edits without waiting for the autosave window.
func (s *Session) Save(ctx context.Context) error {
	if s.ReadOnly() {
		return ErrReadOnly
	}
	return s.debounce.Flush(ctx)
}

// Close saves outstanding edits, stops the heartbeat and gives the lock back.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	readOnly := s.readOnly
	s.mu.Unlock()

	saveErr := s.debounce.Close(ctx)
	s.cancel()
	s.wg.Wait()

	if readOnly {
		return saveErr
	}
	if _, err := s.client.ReleaseLock(ctx, s.noteID); err != nil {
		return errors.Join(saveErr, err)
	}
	return saveErr
}

func (s *Session) commit(ctx context.Context, snap autosave.Snapshot) error {
	id := s.noteID
	saved, err := s.client.SaveNote(ctx, &domain.SaveNoteRequest{
		ID:            &id,
		Title:         snap.Title,
		Content:       snap.Content,
		InUse:         true,
		SharedUserIDs: snap.SharedUserIDs,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Lock != nil {
			s.lostLock(apiErr.Lock.Holder)
		}
		return err
	}

	s.mu.Lock()
	s.note = saved
	s.mu.Unlock()
	return nil
}

func (s *Session) heartbeat(ctx context.Context, ticker clockwork.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			state, err := s.client.Heartbeat(ctx, s.noteID)
			if err != nil {
				continue
			}
			if state.ReadOnly {
				s.lostLock(state.Holder)
				return
			}
		}
	}
}

func (s *Session) lostLock(holder string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly = true
	s.holder = holder
}
