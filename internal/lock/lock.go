// Package lock implements a durable advisory mutex on top of the store.
// One row per resource; acquisition is an insert when the row is absent
// and a compare-and-swap update when it is expired or already ours. Every
// successful acquisition bumps seq, so handles from different rounds
// never alias. There is no fairness: contenders back off with jitter and
// starvation under persistent contention is accepted.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/untoldecay/waggle/internal/debug"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Defaults for AcquireOptions zero values.
const (
	DefaultTTL        = 30 * time.Second
	DefaultMaxRetries = 10
	DefaultBaseDelay  = 50 * time.Millisecond

	// releaseTimeout bounds the detached release performed by WithLock
	// after the caller's context is already dead.
	releaseTimeout = 5 * time.Second
)

// errContention marks a lock held by a live foreign holder. Internal to
// the retry loop; callers see ErrLockTimeout once retries are exhausted.
var errContention = errors.New("lock contended")

// holderCounter disambiguates holders within one process.
var holderCounter atomic.Int64

// DefaultHolder returns a holder identity of the form hostname:pid:n.
// Each call mints a fresh n, so two services in one process do not
// accidentally share lock ownership.
func DefaultHolder() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s:%d:%d", hostname, os.Getpid(), holderCounter.Add(1))
}

// AcquireOptions tune one acquisition. Zero values select the defaults.
type AcquireOptions struct {
	// TTL is how long the lock is considered held without renewal.
	TTL time.Duration
	// MaxRetries bounds contention retries after the first attempt.
	MaxRetries int
	// BaseDelay is the initial backoff interval between attempts.
	BaseDelay time.Duration
	// Holder overrides the caller identity. Empty selects DefaultHolder.
	Holder string
}

func (o AcquireOptions) withDefaults() AcquireOptions {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Holder == "" {
		o.Holder = DefaultHolder()
	}
	return o
}

// Service acquires and releases durable locks.
type Service struct {
	db     storage.Adapter
	logger *slog.Logger
}

// New creates a lock service. A nil logger selects slog.Default.
func New(db storage.Adapter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger}
}

// Acquire takes the lock on resource, retrying contention with
// exponential jittered backoff. On success the returned handle carries
// the seq stamped into the row. Exhausting retries returns an error
// wrapping ErrLockTimeout; context cancellation propagates as ctx.Err().
func (s *Service) Acquire(ctx context.Context, resource string, opts AcquireOptions) (*types.LockHandle, error) {
	if resource == "" {
		return nil, &types.ValidationError{Field: "resource", Msg: "must not be empty"}
	}
	opts = opts.withDefaults()

	var handle *types.LockHandle
	attempt := func() error {
		h, err := s.tryAcquire(ctx, resource, opts)
		if err == nil {
			handle = h
			return nil
		}
		if errors.Is(err, errContention) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.BaseDelay
	started := time.Now()
	err := backoff.Retry(attempt, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(opts.MaxRetries)))
	if err != nil {
		if errors.Is(err, errContention) {
			return nil, fmt.Errorf("resource %q contended for %s across %d attempts: %w",
				resource, time.Since(started).Round(time.Millisecond), opts.MaxRetries+1, types.ErrLockTimeout)
		}
		return nil, err
	}
	debug.Logf("lock: acquired %s holder=%s seq=%d", resource, handle.Holder, handle.Seq)
	return handle, nil
}

// tryAcquire is one acquisition round inside a single write transaction.
func (s *Service) tryAcquire(ctx context.Context, resource string, opts AcquireOptions) (*types.LockHandle, error) {
	var handle *types.LockHandle
	err := s.db.InTransaction(ctx, func(tx storage.Tx) error {
		now := time.Now().UTC()
		expires := now.Add(opts.TTL)

		var holder string
		var seq int64
		var expiresAt time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT holder, seq, expires_at FROM locks WHERE resource = ?`, resource,
		).Scan(&holder, &seq, &expiresAt)
		switch {
		case storage.IsNoRows(err):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO locks (resource, holder, seq, acquired_at, expires_at) VALUES (?, ?, 0, ?, ?)`,
				resource, opts.Holder, now, expires); err != nil {
				return fmt.Errorf("failed to insert lock row: %w", err)
			}
			handle = &types.LockHandle{Resource: resource, Holder: opts.Holder, Seq: 0, AcquiredAt: now, ExpiresAt: expires}
			return nil
		case err != nil:
			return fmt.Errorf("failed to read lock row: %w", err)
		}

		if expiresAt.After(now) && holder != opts.Holder {
			return errContention
		}

		// Expired or re-entrant: swap ourselves in. The seq guard makes
		// the update a true CAS even outside the IMMEDIATE write lock.
		res, err := tx.ExecContext(ctx,
			`UPDATE locks SET holder = ?, seq = seq + 1, acquired_at = ?, expires_at = ?
			 WHERE resource = ? AND holder = ? AND seq = ?`,
			opts.Holder, now, expires, resource, holder, seq)
		if err != nil {
			return fmt.Errorf("failed to update lock row: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count lock update: %w", err)
		}
		if n == 0 {
			return errContention
		}
		handle = &types.LockHandle{Resource: resource, Holder: opts.Holder, Seq: seq + 1, AcquiredAt: now, ExpiresAt: expires}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Release frees the lock named by handle. The delete targets
// (resource, holder), so a stale handle whose resource has since been
// claimed by another holder cannot release it; that case returns
// ErrLockNotHeld.
func (s *Service) Release(ctx context.Context, handle *types.LockHandle) error {
	if handle == nil {
		return &types.ValidationError{Field: "handle", Msg: "must not be nil"}
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM locks WHERE resource = ? AND holder = ?`, handle.Resource, handle.Holder)
	if err != nil {
		return fmt.Errorf("failed to release lock %q: %w", handle.Resource, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count lock delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("resource %q holder %q: %w", handle.Resource, handle.Holder, types.ErrLockNotHeld)
	}
	debug.Logf("lock: released %s holder=%s", handle.Resource, handle.Holder)
	return nil
}

// WithLock runs work while holding resource, releasing on every exit
// path including panic and context cancellation. The release runs on a
// detached context so a dead caller context cannot strand the row.
func (s *Service) WithLock(ctx context.Context, resource string, opts AcquireOptions, work func(ctx context.Context) error) error {
	handle, err := s.Acquire(ctx, resource, opts)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := s.Release(releaseCtx, handle); err != nil && !errors.Is(err, types.ErrLockNotHeld) {
			s.logger.Warn("failed to release lock", "resource", resource, "error", err)
		}
	}()
	return work(ctx)
}

// Get returns the current lock row for resource, or ErrNotFound. Expired
// rows are returned as-is; callers compare ExpiresAt themselves.
func (s *Service) Get(ctx context.Context, resource string) (*types.LockHandle, error) {
	h := &types.LockHandle{Resource: resource}
	err := s.db.QueryRowContext(ctx,
		`SELECT holder, seq, acquired_at, expires_at FROM locks WHERE resource = ?`, resource,
	).Scan(&h.Holder, &h.Seq, &h.AcquiredAt, &h.ExpiresAt)
	if storage.IsNoRows(err) {
		return nil, fmt.Errorf("lock %q: %w", resource, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock %q: %w", resource, err)
	}
	return h, nil
}

// List returns all lock rows ordered by resource, expired ones included.
func (s *Service) List(ctx context.Context) ([]*types.LockHandle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource, holder, seq, acquired_at, expires_at FROM locks ORDER BY resource`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	defer rows.Close()

	var out []*types.LockHandle
	for rows.Next() {
		h := &types.LockHandle{}
		if err := rows.Scan(&h.Resource, &h.Holder, &h.Seq, &h.AcquiredAt, &h.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan lock row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Sweep deletes expired lock rows and reports how many went away.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", err)
	}
	return res.RowsAffected()
}
