package keys

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"devintel/internal/domain"
	"devintel/internal/ports"
)

const (
	StatusIssued = "issued"
	StatusError  = "error"

	keyPrefix = "adv_"

	MsgUnknownKey = "unknown key"
	MsgRevokedKey = "key revoked"
	MsgKeyFailure = "key lookup failed"
)

type Service struct {
	repo ports.KeyRepository
	log  *slog.Logger
}

func New(repo ports.KeyRepository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log}
}

// NewKey mints an opaque key value.
func NewKey() string {
	return keyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Service) Issue(ctx context.Context, clientID string) domain.ADVKeyNetworkResponse {
	if strings.TrimSpace(clientID) == "" {
		return domain.NewKeyNetworkResponse(StatusError, "")
	}
	key := NewKey()
	if err := s.repo.Insert(ctx, key, clientID); err != nil {
		s.log.Error("issue key", "client_id", clientID, "err", err)
		return domain.NewKeyNetworkResponse(StatusError, "")
	}
	s.log.Info("key issued", "client_id", clientID)
	return domain.NewKeyNetworkResponse(StatusIssued, key)
}

// Validate succeeds for keys that exist and have not been revoked.
func (s *Service) Validate(ctx context.Context, key string) domain.ADVKeyFunctionResponse {
	rec, err := s.repo.Lookup(ctx, key)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return domain.NewKeyFunctionResponse(key, false, domain.Optional(MsgUnknownKey))
	case err != nil:
		s.log.Error("lookup key", "err", err)
		return domain.NewKeyFunctionResponse(key, false, domain.Optional(MsgKeyFailure))
	case rec.RevokedAt != nil:
		return domain.NewKeyFunctionResponse(key, false, domain.Optional(MsgRevokedKey))
	}
	return domain.NewKeyFunctionResponse(key, true, nil)
}

func (s *Service) Revoke(ctx context.Context, key string) domain.ADVKeyFunctionResponse {
	err := s.repo.Revoke(ctx, key)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return domain.NewKeyFunctionResponse(key, false, domain.Optional(MsgUnknownKey))
	case err != nil:
		s.log.Error("revoke key", "err", err)
		return domain.NewKeyFunctionResponse(key, false, domain.Optional(MsgKeyFailure))
	}
	s.log.Info("key revoked")
	return domain.NewKeyFunctionResponse(key, true, nil)
}
