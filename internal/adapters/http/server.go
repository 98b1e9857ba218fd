package httpadapter

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"

	"devintel/internal/domain"
	"devintel/internal/ports"
	"devintel/internal/services/keys"
	profilesvc "devintel/internal/services/profiles"
	scorerunner "devintel/internal/workers/scorerunner"
)

const (
	// APIKeyHeader carries the caller's issued key.
	APIKeyHeader = "X-ADV-Key"

	// MaxBodyBytes bounds every request body.
	MaxBodyBytes = 1 << 20

	defaultLimit   = 100
	maxLimit       = 1000
	defaultTimeout = 30
)

type Server struct {
	profiles   ports.Profiles
	keys       ports.Keys
	jobs       ports.JobRepository
	processor  scorerunner.Processor
	log        *slog.Logger
	requireKey bool
	adminToken string
}

type Option func(*Server)

// WithoutAuth disables the API key check on profile routes.
func WithoutAuth() Option { return func(s *Server) { s.requireKey = false } }

// WithAdminToken sets the bearer token that guards key issuance and
// revocation. Without one those routes answer 403.
func WithAdminToken(token string) Option { return func(s *Server) { s.adminToken = token } }

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

func New(profiles ports.Profiles, keys ports.Keys, jobs ports.JobRepository, processor scorerunner.Processor, opts ...Option) *Server {
	s := &Server{profiles: profiles, keys: keys, jobs: jobs, processor: processor, log: slog.Default(), requireKey: true}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(MaxBodyBytes))

	r.Get("/healthz", s.getHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/keys/validate", s.postKeyValidate)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/keys", s.postKey)
			r.Post("/keys/revoke", s.postKeyRevoke)
		})

		r.Group(func(r chi.Router) {
			if s.requireKey {
				r.Use(s.requireAPIKey)
			}
			r.Post("/profiles", s.postProfile)
			r.Get("/profiles/{id}", s.getProfile)
			r.Get("/sites/{site}/profiles", s.getSiteProfiles)
		})
	})
	return r
}

func (s *Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type keyRequest struct {
	ClientID string `json:"clientId"`
	Key      string `json:"key"`
}

func (s *Server) postKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, domain.NewKeyNetworkResponse(keys.StatusError, ""))
		return
	}
	resp := s.keys.Issue(r.Context(), req.ClientID)
	if resp.Status != keys.StatusIssued {
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) postKeyValidate(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.NewKeyFunctionResponse("", false, domain.Optional("malformed request")))
		return
	}
	writeJSON(w, http.StatusOK, s.keys.Validate(r.Context(), req.Key))
}

func (s *Server) postKeyRevoke(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.NewKeyFunctionResponse("", false, domain.Optional("malformed request")))
		return
	}
	resp := s.keys.Revoke(r.Context(), req.Key)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
		if resp.Message != nil && *resp.Message == keys.MsgUnknownKey {
			status = http.StatusNotFound
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) postProfile(w http.ResponseWriter, r *http.Request) {
	var wait *bool
	var timeout *int
	if err := runtime.BindQueryParameter("form", true, false, "wait", r.URL.Query(), &wait); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.NewProfileResponse(profilesvc.StatusFailure, "invalid wait parameter", nil, nil))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "timeout", r.URL.Query(), &timeout); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.NewProfileResponse(profilesvc.StatusFailure, "invalid timeout parameter", nil, nil))
		return
	}
	var p domain.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.NewProfileResponse(profilesvc.StatusFailure, "malformed profile", domain.Optional(err.Error()), nil))
		return
	}
	resp := s.profiles.Submit(r.Context(), p)
	if resp.Status != profilesvc.StatusSuccess {
		writeJSON(w, statusFor(resp.Status), resp)
		return
	}
	if wait == nil || !*wait {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	secs := defaultTimeout
	if timeout != nil && *timeout > 0 {
		secs = *timeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(secs)*time.Second)
	defer cancel()
	if err := scorerunner.ProcessInline(ctx, s.jobs, s.processor, p.ID); err != nil {
		s.log.Warn("inline scoring failed", "profile_id", p.ID, "err", err)
		writeJSON(w, http.StatusInternalServerError, domain.NewProfileResponse(profilesvc.StatusError, "scoring failed", domain.Optional(err.Error()), nil))
		return
	}
	scored := s.profiles.Get(ctx, p.ID)
	writeJSON(w, statusFor(scored.Status), scored)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	resp := s.profiles.Get(r.Context(), chi.URLParam(r, "id"))
	status := statusFor(resp.Status)
	if resp.Status == profilesvc.StatusFailure {
		status = http.StatusNotFound
	}
	writeJSON(w, status, resp)
}

func (s *Server) getSiteProfiles(w http.ResponseWriter, r *http.Request) {
	limit, offset := defaultLimit, 0
	var pl, po *int
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &pl); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit parameter")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", q, &po); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset parameter")
		return
	}
	if pl != nil && *pl > 0 {
		limit = min(*pl, maxLimit)
	}
	if po != nil && *po > 0 {
		offset = *po
	}
	out, err := s.profiles.ListBySite(r.Context(), chi.URLParam(r, "site"), limit, offset)
	if errors.Is(err, profilesvc.ErrInvalidProfile) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.log.Error("list profiles", "err", err)
		writeError(w, http.StatusInternalServerError, "profiles could not be listed")
		return
	}
	if out == nil {
		out = []domain.Profile{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, domain.NewKeyFunctionResponse("", false, domain.Optional("missing "+APIKeyHeader+" header")))
			return
		}
		if res := s.keys.Validate(r.Context(), key); !res.Success {
			writeJSON(w, http.StatusUnauthorized, res)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "key administration disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func statusFor(status string) int {
	switch status {
	case profilesvc.StatusSuccess:
		return http.StatusOK
	case profilesvc.StatusFailure:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v before touching the response so an encoding failure
// can still be reported as a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode response", "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"response could not be encoded"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
