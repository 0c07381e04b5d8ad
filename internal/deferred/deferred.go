// Package deferred implements durable single-shot promises. A deferred
// is a row addressed by a waggle://deferred/<uuid> URL; any process with
// the URL can await it, and exactly one writer settles it. Settlement is
// at-most-once: concurrent writers race a conditional update and the
// loser gets a typed error. Awaiters in the settling process are woken
// by an in-process notifier; everyone else converges through a DB poll.
package deferred

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/waggle/internal/debug"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

const (
	// URLPrefix namespaces deferred URLs.
	URLPrefix = "waggle://deferred/"

	// DefaultTTL applies when Create is given no TTL.
	DefaultTTL = 5 * time.Minute

	// DefaultPollInterval is the DB poll cadence for awaiters that were
	// not woken by the in-process notifier.
	DefaultPollInterval = 100 * time.Millisecond
)

// Service creates, settles and awaits deferreds.
type Service struct {
	db     storage.Adapter
	logger *slog.Logger
	poll   time.Duration

	mu      sync.Mutex
	waiters map[string][]chan *types.Deferred
}

// New creates a deferred service. A nil logger selects slog.Default;
// pollInterval <= 0 selects DefaultPollInterval.
func New(db storage.Adapter, logger *slog.Logger, pollInterval time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Service{
		db:      db,
		logger:  logger,
		poll:    pollInterval,
		waiters: make(map[string][]chan *types.Deferred),
	}
}

// Create mints a new pending deferred. ttl <= 0 selects DefaultTTL.
func (s *Service) Create(ctx context.Context, ttl time.Duration) (*types.Deferred, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()
	expires := now.Add(ttl)
	d := &types.Deferred{
		URL:       URLPrefix + uuid.New().String(),
		State:     types.DeferredPending,
		CreatedAt: now,
		ExpiresAt: &expires,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deferreds (url, state, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		d.URL, d.State, d.CreatedAt, expires)
	if err != nil {
		return nil, fmt.Errorf("failed to create deferred: %w", err)
	}
	debug.Logf("deferred: created %s ttl=%s", d.URL, ttl)
	return d, nil
}

// Get returns the deferred at url, or ErrNotFound.
func (s *Service) Get(ctx context.Context, url string) (*types.Deferred, error) {
	d := &types.Deferred{URL: url}
	var value, errText sql.NullString
	var expiresAt, resolvedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT state, value, error, created_at, expires_at, resolved_at FROM deferreds WHERE url = ?`, url,
	).Scan(&d.State, &value, &errText, &d.CreatedAt, &expiresAt, &resolvedAt)
	if storage.IsNoRows(err) {
		return nil, fmt.Errorf("deferred %q: %w", url, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deferred %q: %w", url, err)
	}
	d.Value = value.String
	d.Error = errText.String
	if expiresAt.Valid {
		t := expiresAt.Time
		d.ExpiresAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return d, nil
}

// Resolve settles url with value. At most one settlement wins: the
// update is conditional on the row still being pending, so a concurrent
// settler loses with ErrDeferredSettled (or ErrNotFound when the row is
// gone). In-process awaiters are woken immediately.
func (s *Service) Resolve(ctx context.Context, url, value string) error {
	return s.settle(ctx, url, types.DeferredResolved, value, "")
}

// Reject settles url with an error message. Same at-most-once contract
// as Resolve.
func (s *Service) Reject(ctx context.Context, url, reason string) error {
	return s.settle(ctx, url, types.DeferredRejected, "", reason)
}

func (s *Service) settle(ctx context.Context, url string, state types.DeferredState, value, reason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE deferreds SET state = ?, value = ?, error = ?, resolved_at = ?
		 WHERE url = ? AND state = ?`,
		state, value, reason, now, url, types.DeferredPending)
	if err != nil {
		return fmt.Errorf("failed to settle deferred %q: %w", url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deferred update: %w", err)
	}
	if n == 0 {
		// Lost the race or the row never existed; disambiguate for the caller.
		if _, err := s.Get(ctx, url); err != nil {
			return err
		}
		return fmt.Errorf("deferred %q: %w", url, types.ErrDeferredSettled)
	}

	d := &types.Deferred{
		URL:        url,
		State:      state,
		Value:      value,
		Error:      reason,
		ResolvedAt: &now,
	}
	s.notify(d)
	debug.Logf("deferred: settled %s state=%s", url, state)
	return nil
}

// Await blocks until url settles, the timeout elapses, or ctx is done.
// Rejection is not an Await error: the returned deferred carries the
// state and the caller inspects State and Error. A vanished row fails
// with ErrNotFound; an elapsed timeout fails with TimeoutError.
func (s *Service) Await(ctx context.Context, url string, timeout time.Duration) (*types.Deferred, error) {
	if timeout <= 0 {
		timeout = DefaultTTL
	}

	ch := s.subscribe(url)
	defer s.unsubscribe(url, ch)

	// The row may have settled before we subscribed.
	d, err := s.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if d.Settled() {
		return d, nil
	}

	started := time.Now()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case d := <-ch:
			return d, nil
		case <-ticker.C:
			d, err := s.Get(ctx, url)
			if err != nil {
				return nil, err
			}
			if d.Settled() {
				return d, nil
			}
		case <-timer.C:
			return nil, &types.TimeoutError{Op: "await deferred", Elapsed: time.Since(started)}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// CleanupExpired removes deferreds whose expiry has passed and reports
// how many were deleted.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deferreds WHERE expires_at IS NOT NULL AND expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired deferreds: %w", err)
	}
	return res.RowsAffected()
}

// List returns deferreds, pending first, newest first within state.
func (s *Service) List(ctx context.Context) ([]*types.Deferred, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, state, value, error, created_at, expires_at, resolved_at
		 FROM deferreds
		 ORDER BY CASE state WHEN 'pending' THEN 0 ELSE 1 END, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list deferreds: %w", err)
	}
	defer rows.Close()

	var out []*types.Deferred
	for rows.Next() {
		d := &types.Deferred{}
		var value, errText sql.NullString
		var expiresAt, resolvedAt sql.NullTime
		if err := rows.Scan(&d.URL, &d.State, &value, &errText, &d.CreatedAt, &expiresAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deferred row: %w", err)
		}
		d.Value = value.String
		d.Error = errText.String
		if expiresAt.Valid {
			t := expiresAt.Time
			d.ExpiresAt = &t
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			d.ResolvedAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// subscribe registers a single-shot wakeup channel for url.
func (s *Service) subscribe(url string) chan *types.Deferred {
	ch := make(chan *types.Deferred, 1)
	s.mu.Lock()
	s.waiters[url] = append(s.waiters[url], ch)
	s.mu.Unlock()
	return ch
}

func (s *Service) unsubscribe(url string, ch chan *types.Deferred) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.waiters[url]
	for i, c := range chans {
		if c == ch {
			s.waiters[url] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(s.waiters[url]) == 0 {
		delete(s.waiters, url)
	}
}

// notify wakes every registered awaiter for d.URL exactly once.
func (s *Service) notify(d *types.Deferred) {
	s.mu.Lock()
	chans := s.waiters[d.URL]
	delete(s.waiters, d.URL)
	s.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- d:
		default:
		}
	}
}
