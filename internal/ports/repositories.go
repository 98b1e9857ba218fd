package ports

import (
	"context"
	"errors"
	"time"

	"devintel/internal/domain"
)

// ErrNotFound is returned by repositories when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ProfileRepository stores profiles together with their ordered signals.
type ProfileRepository interface {
	// Save upserts the profile, replacing its signals. siteDomain is the
	// registrable domain used for site lookups.
	Save(ctx context.Context, p domain.Profile, siteDomain string) error
	// SaveForScoring saves p like Save and queues a scoring job for it in the
	// same transaction; either both happen or neither does.
	SaveForScoring(ctx context.Context, p domain.Profile, siteDomain string) (jobID string, err error)
	Get(ctx context.Context, id string) (domain.Profile, error)
	ListBySite(ctx context.Context, siteDomain string, limit, offset int) ([]domain.Profile, error)
	// ReplaceSignal drops every signal of the given model and appends s last.
	ReplaceSignal(ctx context.Context, profileID string, s domain.Signal) error
}

// APIKey is a stored key record.
type APIKey struct {
	Key       string
	ClientID  string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// KeyRepository persists issued keys.
type KeyRepository interface {
	Insert(ctx context.Context, key, clientID string) error
	Lookup(ctx context.Context, key string) (APIKey, error)
	Revoke(ctx context.Context, key string) error
}
