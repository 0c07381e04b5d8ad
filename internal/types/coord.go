package types

import "time"

// LockHandle is proof of a held durable lock. Seq increments on every
// successful acquisition of the resource, so handles from different
// acquisition rounds never compare equal.
type LockHandle struct {
	Resource   string    `json:"resource"`
	Holder     string    `json:"holder"`
	Seq        int64     `json:"seq"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// DeferredState is the lifecycle of a durable deferred.
type DeferredState string

const (
	DeferredPending  DeferredState = "pending"
	DeferredResolved DeferredState = "resolved"
	DeferredRejected DeferredState = "rejected"
)

// Deferred is a persisted single-shot promise addressed by URL. Exactly
// one of Value or Error is populated once the state leaves pending.
type Deferred struct {
	URL        string        `json:"url"`
	State      DeferredState `json:"state"`
	Value      string        `json:"value,omitempty"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// Settled reports whether the deferred has been resolved or rejected.
func (d *Deferred) Settled() bool {
	return d.State == DeferredResolved || d.State == DeferredRejected
}
