// Package session holds the process-scoped store of conversation sessions.
package session

import (
	"context"

	"github.com/pitabwire/wizard/model"
)

// Store persists one session per connection id.
type Store interface {
	// Create stores a new session. Returns CONFLICT if the id is taken.
	Create(ctx context.Context, s model.Session) (model.Session, error)

	// Get returns the session for id. Returns SESSION_NOT_FOUND if absent.
	Get(ctx context.Context, id string) (model.Session, error)

	// Update stores s with optimistic locking. s.Version must equal the
	// stored version, otherwise SESSION_STALE is returned and nothing is
	// written. On success the stored session has Version+1.
	Update(ctx context.Context, s model.Session) (model.Session, error)

	// Replace unconditionally swaps in s, bumping the version past the
	// previous record so in-flight updates against it become stale.
	Replace(ctx context.Context, s model.Session) (model.Session, error)

	// Delete removes the session for id. Deleting a missing id is a no-op.
	Delete(ctx context.Context, id string) error

	// Len returns the number of live sessions.
	Len() int
}
