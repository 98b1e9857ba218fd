package profiles

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"devintel/internal/domain"
	"devintel/internal/ports"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusError   = "error"
)

type Service struct {
	repo ports.ProfileRepository
	log  *slog.Logger
}

func New(repo ports.ProfileRepository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log}
}

// Submit validates p, then stores it and queues it for scoring atomically. An
// error response means nothing was stored and the caller may resubmit.
func (s *Service) Submit(ctx context.Context, p domain.Profile) domain.ProfileResponse {
	if err := Validate(p); err != nil {
		var fe *FieldError
		var more *string
		if errors.As(err, &fe) {
			more = domain.Optional(fe.Field)
		}
		return domain.NewProfileResponse(StatusFailure, err.Error(), more, nil)
	}
	jobID, err := s.repo.SaveForScoring(ctx, p, SiteDomain(p.SiteID))
	if err != nil {
		s.log.Error("save profile", "profile_id", p.ID, "err", err)
		return domain.NewProfileResponse(StatusError, "profile could not be stored", nil, nil)
	}
	s.log.Debug("profile accepted", "profile_id", p.ID, "job_id", jobID, "signals", len(p.Signals))
	return domain.NewProfileResponse(StatusSuccess, "profile accepted", nil, &p)
}

func (s *Service) Get(ctx context.Context, id string) domain.ProfileResponse {
	p, err := s.repo.Get(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return domain.NewProfileResponse(StatusFailure, "profile not found", domain.Optional(id), nil)
	}
	if err != nil {
		s.log.Error("load profile", "profile_id", id, "err", err)
		return domain.NewProfileResponse(StatusError, "profile could not be loaded", nil, nil)
	}
	return domain.NewProfileResponse(StatusSuccess, "ok", nil, &p)
}

func (s *Service) ListBySite(ctx context.Context, site string, limit, offset int) ([]domain.Profile, error) {
	if strings.TrimSpace(site) == "" {
		return nil, &FieldError{Field: "siteId", Reason: "is required"}
	}
	return s.repo.ListBySite(ctx, SiteDomain(site), limit, offset)
}

// SiteDomain reduces a site identifier to its registrable domain (eTLD+1) so
// subdomains of one site group together. Identifiers that are not host names
// are returned lower-cased.
func SiteDomain(site string) string {
	host := strings.ToLower(strings.TrimSpace(site))
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil && u.Hostname() != "" {
			host = u.Hostname()
		}
	}
	if !strings.Contains(host, ".") {
		return host
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return registrable
}
