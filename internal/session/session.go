// Package session owns one browser process and its current page, and runs
// operations against them one at a time.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/tomyan/browsercli/internal/fault"
	"github.com/tomyan/browsercli/internal/log"
	"github.com/tomyan/browsercli/internal/storage"
)

// State is a point in a Session's lifecycle.
type State int

const (
	Uninitialized State = iota
	Launching
	Ready
	Navigating
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Launching:
		return "launching"
	case Ready:
		return "ready"
	case Navigating:
		return "navigating"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is one browser and its current page. Operations are serialized in
// arrival order; the browser is launched by the first operation that needs it.
type Session struct {
	id        string
	cfg       Config
	backend   Backend
	fs        afero.Fs
	persister storage.Persister
	log       logrus.FieldLogger
	now       func() time.Time
	created   time.Time

	pollInterval time.Duration

	// opMu is held for the whole of an operation, including a launch.
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	proc     Process
	page     Page
	dataDir  string
	dead     error
	cancelOp context.CancelFunc

	closeOnce sync.Once
}

// Option customizes a Session.
type Option func(*Session)

// WithBackend replaces the Chrome backend.
func WithBackend(b Backend) Option {
	return func(s *Session) { s.backend = b }
}

// WithFs sets the filesystem the data directory and screenshots live on.
func WithFs(fs afero.Fs) Option {
	return func(s *Session) { s.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) { s.log = l }
}

// WithPersister sets where screenshots are written.
func WithPersister(p storage.Persister) Option {
	return func(s *Session) { s.persister = p }
}

// WithClock sets the time source used for screenshot names.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithPollInterval sets how often the wait operations re-check the page.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) { s.pollInterval = d }
}

// New creates an Uninitialized session. No browser is started until the
// first operation or Start.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		id:           uuid.NewString(),
		cfg:          cfg,
		now:          time.Now,
		pollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	base := s.log
	s.log = log.For(base, log.CategorySession).WithField("session", s.id[:8])
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.backend == nil {
		s.backend = ChromeBackend{Logger: base}
	}
	if s.persister == nil {
		s.persister = storage.FilePersister{Fs: s.fs}
	}
	s.created = s.now()
	return s
}

// ID returns the session's stable identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the browser if it isn't running yet.
func (s *Session) Start(ctx context.Context) error {
	return s.do(ctx, 0, func(context.Context, Page) error { return nil })
}

// do runs fn against the current page with the session's slot held,
// launching the browser first if needed. A positive timeout bounds fn.
func (s *Session) do(ctx context.Context, timeout time.Duration, fn func(context.Context, Page) error) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	page, err := s.acquire(ctx, cancel)
	if err != nil {
		return err
	}
	defer s.release()

	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	err = fn(ctx, page)
	s.observe(err)
	return err
}

func (s *Session) acquire(ctx context.Context, cancel context.CancelFunc) (Page, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.cancelOp = cancel
	page := s.page
	s.mu.Unlock()

	if page != nil {
		return page, nil
	}
	return s.launch(ctx)
}

func (s *Session) release() {
	s.mu.Lock()
	s.cancelOp = nil
	s.mu.Unlock()
}

// usableLocked reports why no operation may run now, if that is the case.
func (s *Session) usableLocked() error {
	switch s.state {
	case Closing:
		return fault.New(fault.Interrupted, "session is closing")
	case Closed:
		return fault.New(fault.SessionDead, "session is closed")
	}

	if s.dead == nil && s.proc != nil {
		select {
		case <-s.proc.Done():
			s.dead = fault.New(fault.SessionDead, "browser process %d exited", s.proc.PID())
		default:
		}
	}
	if s.dead != nil {
		return fault.New(fault.SessionDead, "browser is gone: %s", fault.Detail(s.dead))
	}
	return nil
}

// observe marks the session dead when an operation found the browser gone.
func (s *Session) observe(err error) {
	if !fault.Is(err, fault.SessionDead) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead == nil {
		s.dead = err
		s.log.WithError(err).Warn("browser connection lost")
	}
}

func (s *Session) launch(ctx context.Context) (Page, error) {
	s.transition(Uninitialized, Launching)

	dir, err := afero.TempDir(s.fs, "", "browsercli-")
	if err != nil {
		s.transition(Launching, Uninitialized)
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	s.log.WithField("dataDir", dir).Debug("launching browser")

	proc, page, err := s.backend.Start(ctx, s.cfg, dir)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if rmErr := s.fs.RemoveAll(dir); rmErr != nil {
			s.log.WithError(rmErr).Warn("removing data dir")
		}
		if s.state == Launching {
			s.state = Uninitialized
		}
		return nil, err
	}

	// Even when Close arrived during the launch, the handles are recorded
	// so that Close tears them down.
	s.proc, s.page, s.dataDir = proc, page, dir
	if s.state == Launching {
		s.state = Ready
	}
	if ctx.Err() != nil {
		return nil, fault.Wrap(ctx.Err(), fault.Interrupted, "launching browser")
	}
	s.log.WithField("pid", proc.PID()).Info("browser ready")
	return page, nil
}

// transition moves from one state to another, and does nothing if the
// session has meanwhile moved elsewhere (for example to Closing).
func (s *Session) transition(from, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == from {
		s.state = to
	}
}

// Close aborts the operation in flight and tears the session down in order:
// page, browser process, data directory. It never fails and may be called
// any number of times, from any goroutine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Closing
		if s.cancelOp != nil {
			s.cancelOp()
		}
		s.mu.Unlock()

		s.opMu.Lock()
		defer s.opMu.Unlock()

		s.teardown()

		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		s.log.Debug("session closed")
	})
	return nil
}

func (s *Session) teardown() {
	s.mu.Lock()
	page, proc, dir := s.page, s.proc, s.dataDir
	s.page = nil
	s.mu.Unlock()

	if page != nil {
		if err := page.Close(); err != nil {
			s.log.WithError(err).Debug("closing page")
		}
	}
	if proc != nil {
		if err := proc.Stop(s.cfg.Grace); err != nil {
			s.log.WithError(err).Warn("stopping browser")
		}
	}
	if dir != "" {
		if err := s.fs.RemoveAll(dir); err != nil {
			s.log.WithError(err).Warn("removing data dir")
		}
	}
}
