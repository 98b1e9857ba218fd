package ports

import (
	"context"

	"devintel/internal/domain"
)

// Profiles accepts and serves device profiles.
type Profiles interface {
	Submit(ctx context.Context, p domain.Profile) domain.ProfileResponse
	Get(ctx context.Context, id string) domain.ProfileResponse
	ListBySite(ctx context.Context, site string, limit, offset int) ([]domain.Profile, error)
}

// Keys issues and checks API keys.
type Keys interface {
	Issue(ctx context.Context, clientID string) domain.ADVKeyNetworkResponse
	Validate(ctx context.Context, key string) domain.ADVKeyFunctionResponse
	Revoke(ctx context.Context, key string) domain.ADVKeyFunctionResponse
}
