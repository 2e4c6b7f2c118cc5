package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sosapp/contact-server/internal/geo"
	"sosapp/contact-server/internal/model"
)

const (
	// DefaultWarmup is the delay before the first pass.
	DefaultWarmup = 10 * time.Second
	// DefaultInterval is the pause between two passes.
	DefaultInterval = time.Hour
	// DefaultWindow is how far back a pass looks for samples.
	DefaultWindow = time.Hour
)

// ErrInvalidCoordinate marks a pair skipped because a sample was NaN or infinite.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Store is the data access the scanner needs.
type Store interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	CountUsers(ctx context.Context) (int, error)
	RecentLatitudes(ctx context.Context, userID string, since time.Time) ([]float64, error)
	RecentLongitudes(ctx context.Context, userID string, since time.Time) ([]float64, error)
	CreateContactEvent(ctx context.Context, firstID, secondID string, duration int) error
}

// Clock abstracts wall time so passes can be driven without real sleeps.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

// State is the scanner lifecycle position.
type State int

const (
	StateIdle State = iota
	StateEvaluating
	StateSleeping
	StateHalted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEvaluating:
		return "evaluating"
	case StateSleeping:
		return "sleeping"
	case StateHalted:
		return "halted"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options tunes a Scanner. Zero values fall back to the defaults.
type Options struct {
	Warmup   time.Duration
	Interval time.Duration
	Window   time.Duration
	Clock    Clock
	Logger   *slog.Logger
}

// Scanner periodically checks every pair of users for overlapping recent samples
// and records a contact event for each pair that met.
type Scanner struct {
	store    Store
	clock    Clock
	logger   *slog.Logger
	warmup   time.Duration
	interval time.Duration
	window   time.Duration

	mu    sync.RWMutex
	state State
	last  *model.PassResult
}

// NewScanner builds a scanner over store.
func NewScanner(store Store, opts Options) *Scanner {
	s := &Scanner{
		store:    store,
		clock:    opts.Clock,
		logger:   opts.Logger,
		warmup:   opts.Warmup,
		interval: opts.Interval,
		window:   opts.Window,
	}
	if s.clock == nil {
		s.clock = SystemClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.warmup <= 0 {
		s.warmup = DefaultWarmup
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	return s
}

// State returns the current lifecycle state.
func (s *Scanner) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastPass returns the result of the most recent pass, if any.
func (s *Scanner) LastPass() (model.PassResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return model.PassResult{}, false
	}
	return *s.last, true
}

func (s *Scanner) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run waits out the warm-up delay and then alternates passes and sleeps.
// It returns nil once a pass starts with one user or fewer, and ctx.Err() when cancelled.
// Cancellation is only observed while waiting, never in the middle of a pass.
func (s *Scanner) Run(ctx context.Context) error {
	s.setState(StateIdle)
	s.logger.Info("contact scanner warming up", "delay", s.warmup)
	if err := s.clock.Sleep(ctx, s.warmup); err != nil {
		s.setState(StateStopped)
		return err
	}

	for {
		count, err := s.store.CountUsers(ctx)
		if err != nil {
			s.logger.Error("count users failed", "error", err)
		} else if count <= 1 {
			s.setState(StateHalted)
			s.logger.Info("no users to check, contact scanner halted", "users", count)
			return nil
		} else {
			s.setState(StateEvaluating)
			res, err := s.RunPass(ctx)
			if err != nil {
				s.logger.Error("contact pass failed", "error", err)
			} else {
				s.logger.Info("finished checking meetings",
					"users", res.Users, "pairs", res.Pairs, "contacts", res.Contacts, "skipped", res.Skipped)
			}
		}

		s.setState(StateSleeping)
		if err := s.clock.Sleep(ctx, s.interval); err != nil {
			s.setState(StateStopped)
			return err
		}
	}
}

type samples struct {
	latitudes  []float64
	longitudes []float64
}

// RunPass performs one all-pairs evaluation over samples newer than now minus the window.
// Loading failures abort the pass before any event is written; a failure on a single pair
// skips that pair only.
func (s *Scanner) RunPass(ctx context.Context) (model.PassResult, error) {
	started := s.clock.Now()
	res := model.PassResult{StartedAt: started, Since: started.Add(-s.window)}

	users, byUser, err := s.load(ctx, res.Since)
	if err != nil {
		res.FinishedAt = s.clock.Now()
		res.Err = err.Error()
		s.record(res)
		return res, err
	}
	res.Users = len(users)

	for _, pair := range Pairs(users) {
		res.Pairs++
		met, err := s.evaluate(ctx, pair, byUser[pair.First.ID], byUser[pair.Second.ID])
		if err != nil {
			res.Skipped++
			s.logger.Warn("contact pair skipped",
				"first", pair.First.ID, "second", pair.Second.ID, "error", err)
			continue
		}
		if met {
			res.Contacts++
		}
	}

	res.FinishedAt = s.clock.Now()
	s.record(res)
	return res, nil
}

func (s *Scanner) record(res model.PassResult) {
	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()
}

func (s *Scanner) load(ctx context.Context, since time.Time) ([]model.User, map[string]samples, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load users: %w", err)
	}

	byUser := make(map[string]samples, len(users))
	for _, u := range users {
		lats, err := s.store.RecentLatitudes(ctx, u.ID, since)
		if err != nil {
			return nil, nil, fmt.Errorf("load latitudes for %s: %w", u.ID, err)
		}
		lons, err := s.store.RecentLongitudes(ctx, u.ID, since)
		if err != nil {
			return nil, nil, fmt.Errorf("load longitudes for %s: %w", u.ID, err)
		}
		byUser[u.ID] = samples{latitudes: lats, longitudes: lons}
	}
	return users, byUser, nil
}

func (s *Scanner) evaluate(ctx context.Context, pair Pair, a, b samples) (met bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			met, err = false, fmt.Errorf("pair evaluation panic: %v", r)
		}
	}()

	for _, list := range [][]float64{a.latitudes, b.latitudes, a.longitudes, b.longitudes} {
		if err := checkFinite(list); err != nil {
			return false, err
		}
	}

	ok, magnitude := HaveMet(a.latitudes, b.latitudes, a.longitudes, b.longitudes)
	if !ok {
		return false, nil
	}

	if err := s.store.CreateContactEvent(ctx, pair.First.ID, pair.Second.ID, Duration(magnitude)); err != nil {
		return false, fmt.Errorf("create contact event: %w", err)
	}
	s.logger.Debug("contact recorded",
		"first", pair.First.ID, "second", pair.Second.ID, "magnitude", magnitude)
	return true, nil
}

func checkFinite(values []float64) error {
	for _, v := range values {
		if !geo.Finite(v) {
			return fmt.Errorf("%w: %v", ErrInvalidCoordinate, v)
		}
	}
	return nil
}
