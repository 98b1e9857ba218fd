package httpadapter

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devintel/internal/domain"
	"devintel/internal/ports"
	"devintel/internal/services/keys"
	profilesvc "devintel/internal/services/profiles"
)

type fakeKeys struct {
	valid   map[string]bool
	revoked []string
}

func (f *fakeKeys) Issue(_ context.Context, clientID string) domain.ADVKeyNetworkResponse {
	if clientID == "broken" {
		return domain.NewKeyNetworkResponse(keys.StatusError, "")
	}
	return domain.NewKeyNetworkResponse(keys.StatusIssued, "adv_"+clientID)
}

func (f *fakeKeys) Validate(_ context.Context, key string) domain.ADVKeyFunctionResponse {
	if f.valid[key] {
		return domain.NewKeyFunctionResponse(key, true, nil)
	}
	return domain.NewKeyFunctionResponse(key, false, domain.Optional(keys.MsgUnknownKey))
}

func (f *fakeKeys) Revoke(_ context.Context, key string) domain.ADVKeyFunctionResponse {
	if !f.valid[key] {
		return domain.NewKeyFunctionResponse(key, false, domain.Optional(keys.MsgUnknownKey))
	}
	f.revoked = append(f.revoked, key)
	return domain.NewKeyFunctionResponse(key, true, nil)
}

type fakeProfiles struct {
	stored    map[string]domain.Profile
	lastSite  string
	lastLimit int
}

func (f *fakeProfiles) Submit(_ context.Context, p domain.Profile) domain.ProfileResponse {
	if err := profilesvc.Validate(p); err != nil {
		return domain.NewProfileResponse(profilesvc.StatusFailure, err.Error(), nil, nil)
	}
	f.stored[p.ID] = p
	return domain.NewProfileResponse(profilesvc.StatusSuccess, "profile accepted", nil, &p)
}

func (f *fakeProfiles) Get(_ context.Context, id string) domain.ProfileResponse {
	p, ok := f.stored[id]
	if !ok {
		return domain.NewProfileResponse(profilesvc.StatusFailure, "profile not found", nil, nil)
	}
	return domain.NewProfileResponse(profilesvc.StatusSuccess, "ok", nil, &p)
}

func (f *fakeProfiles) ListBySite(_ context.Context, site string, limit, _ int) ([]domain.Profile, error) {
	f.lastSite, f.lastLimit = site, limit
	return nil, nil
}

// fakeJobs reports every job as already claimed when claimed is set.
type fakeJobs struct {
	started []string
	claimed bool
}

func (f *fakeJobs) Enqueue(context.Context, string) (string, error) { return "j", nil }
func (f *fakeJobs) ClaimNext(context.Context) (ports.ScoreJob, bool, error) {
	return ports.ScoreJob{}, false, nil
}
func (f *fakeJobs) StartJobForProfile(_ context.Context, id string) (string, error) {
	if f.claimed {
		return "", ports.ErrNotFound
	}
	f.started = append(f.started, id)
	return "j-" + id, nil
}
func (f *fakeJobs) MarkCompleted(context.Context, string) error      { return nil }
func (f *fakeJobs) MarkFailed(context.Context, string, string) error { return nil }

// appendProcessor mimics scoring by appending a signal to the stored profile.
type appendProcessor struct{ profiles *fakeProfiles }

func (a appendProcessor) Process(_ context.Context, id string) error {
	p := a.profiles.stored[id]
	a.profiles.stored[id] = p.AppendSignal(domain.NewSignal("aggregate", "1", 0.1, "pass", nil))
	return nil
}

func newTestServer(opts ...Option) (*httptest.Server, *fakeProfiles, *fakeKeys, *fakeJobs) {
	profiles := &fakeProfiles{stored: map[string]domain.Profile{}}
	k := &fakeKeys{valid: map[string]bool{"adv_good": true}}
	jobs := &fakeJobs{}
	opts = append([]Option{WithAdminToken(testAdminToken)}, opts...)
	srv := New(profiles, k, jobs, appendProcessor{profiles: profiles}, opts...)
	return httptest.NewServer(srv.Routes()), profiles, k, jobs
}

func do(t *testing.T, method, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const testAdminToken = "s3cret"

var (
	authed = map[string]string{APIKeyHeader: "adv_good"}
	admin  = map[string]string{"Authorization": "Bearer " + testAdminToken}
)

const profileBody = `{"id":"p1","siteId":"www.example.com","funnel":"login","clientId":"c1",
	"signals":[{"model":"bot","version":"1","score":0.3,"label":"human","attributes":null}]}`

func TestHealthz(t *testing.T) {
	ts, _, _, _ := newTestServer()
	defer ts.Close()
	resp := do(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestKeyEndpoints(t *testing.T) {
	ts, _, k, _ := newTestServer()
	defer ts.Close()

	resp := do(t, http.MethodPost, ts.URL+"/v1/keys", `{"clientId":"acme"}`, admin)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var issued domain.ADVKeyNetworkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	assert.True(t, issued.Equal(domain.NewKeyNetworkResponse("issued", "adv_acme")))

	resp = do(t, http.MethodPost, ts.URL+"/v1/keys", `{}`, admin)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = do(t, http.MethodPost, ts.URL+"/v1/keys", `{"clientId":"broken"}`, admin)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/v1/keys/validate", `{"key":"adv_nope"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fn domain.ADVKeyFunctionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fn))
	assert.False(t, fn.Success)
	require.NotNil(t, fn.Message)
	assert.Equal(t, keys.MsgUnknownKey, *fn.Message)

	resp = do(t, http.MethodPost, ts.URL+"/v1/keys/revoke", `{"key":"adv_good"}`, admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"adv_good"}, k.revoked)
	resp = do(t, http.MethodPost, ts.URL+"/v1/keys/revoke", `{"key":"adv_nope"}`, admin)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProfileRoutesRequireKey(t *testing.T) {
	ts, _, _, _ := newTestServer()
	defer ts.Close()

	resp := do(t, http.MethodPost, ts.URL+"/v1/profiles", profileBody, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = do(t, http.MethodGet, ts.URL+"/v1/profiles/p1", "", map[string]string{APIKeyHeader: "adv_bad"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var fn domain.ADVKeyFunctionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fn))
	assert.Equal(t, "adv_bad", fn.Key)

	open, _, _, _ := newTestServer(WithoutAuth())
	defer open.Close()
	resp = do(t, http.MethodPost, open.URL+"/v1/profiles", profileBody, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSubmitAndGetProfile(t *testing.T) {
	ts, _, _, _ := newTestServer()
	defer ts.Close()

	resp := do(t, http.MethodPost, ts.URL+"/v1/profiles", profileBody, authed)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted domain.ProfileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, "success", accepted.Status)
	require.NotNil(t, accepted.Profile)
	assert.Equal(t, "", accepted.Profile.InteractionAttributes)

	resp = do(t, http.MethodGet, ts.URL+"/v1/profiles/p1", "", authed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.ProfileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.NotNil(t, got.Profile)
	assert.True(t, got.Profile.Equal(*accepted.Profile))

	resp = do(t, http.MethodGet, ts.URL+"/v1/profiles/missing", "", authed)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var missing domain.ProfileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&missing))
	assert.Nil(t, missing.Profile)
}

func TestSubmitInvalidProfile(t *testing.T) {
	ts, _, _, _ := newTestServer()
	defer ts.Close()

	resp := do(t, http.MethodPost, ts.URL+"/v1/profiles", `{"id":"p1"}`, authed)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = do(t, http.MethodPost, ts.URL+"/v1/profiles", `{not json`, authed)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = do(t, http.MethodPost, ts.URL+"/v1/profiles?wait=maybe", profileBody, authed)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitWaitScoresInline(t *testing.T) {
	ts, _, _, jobs := newTestServer()
	defer ts.Close()

	resp := do(t, http.MethodPost, ts.URL+"/v1/profiles?wait=true&timeout=5", profileBody, authed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var scored domain.ProfileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scored))
	require.NotNil(t, scored.Profile)
	require.Len(t, scored.Profile.Signals, 2)
	assert.Equal(t, "bot", scored.Profile.Signals[0].Model)
	assert.Equal(t, "aggregate", scored.Profile.Signals[1].Model)
	assert.Equal(t, []string{"p1"}, jobs.started)
}

func TestListSiteProfiles(t *testing.T) {
	ts, profiles, _, _ := newTestServer()
	defer ts.Close()

	resp := do(t, http.MethodGet, ts.URL+"/v1/sites/example.com/profiles?limit=5000", "", authed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []domain.Profile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Equal(t, "example.com", profiles.lastSite)
	assert.Equal(t, maxLimit, profiles.lastLimit)

	resp = do(t, http.MethodGet, ts.URL+"/v1/sites/example.com/profiles?limit=abc", "", authed)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestKeyAdministrationNeedsAdminToken(t *testing.T) {
	ts, _, k, _ := newTestServer()
	defer ts.Close()

	resp := do(t, http.MethodPost, ts.URL+"/v1/keys", `{"clientId":"mallory"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = do(t, http.MethodPost, ts.URL+"/v1/keys", `{"clientId":"mallory"}`, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = do(t, http.MethodPost, ts.URL+"/v1/keys/revoke", `{"key":"adv_good"}`, authed)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, k.revoked)

	// The self-minted key is never valid for profile routes.
	resp = do(t, http.MethodPost, ts.URL+"/v1/profiles", profileBody, map[string]string{APIKeyHeader: "adv_mallory"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	disabled := httptest.NewServer(New(&fakeProfiles{stored: map[string]domain.Profile{}}, k, &fakeJobs{}, nil).Routes())
	defer disabled.Close()
	resp = do(t, http.MethodPost, disabled.URL+"/v1/keys", `{"clientId":"acme"}`, admin)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSubmitWaitWhenWorkerClaimedJob(t *testing.T) {
	ts, _, _, jobs := newTestServer()
	defer ts.Close()
	jobs.claimed = true

	resp := do(t, http.MethodPost, ts.URL+"/v1/profiles?wait=true", profileBody, authed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var scored domain.ProfileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scored))
	require.NotNil(t, scored.Profile)
	assert.Len(t, scored.Profile.Signals, 2)
	assert.Empty(t, jobs.started)
}

func TestNonFiniteScoreIsNotServedAsEmptyOK(t *testing.T) {
	ts, profiles, _, _ := newTestServer()
	defer ts.Close()
	profiles.stored["inf"] = domain.NewProfile("inf", "s", "f", "c",
		domain.NewSignal("aggregate", "1", math.Inf(1), "review", nil))

	resp := do(t, http.MethodGet, ts.URL+"/v1/profiles/inf", "", authed)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"response could not be encoded"}`, string(body))
}

func TestOversizedBodyRejected(t *testing.T) {
	ts, profiles, _, _ := newTestServer()
	defer ts.Close()

	big := `{"id":"p1","siteId":"s","clientId":"c","funnel":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	resp := do(t, http.MethodPost, ts.URL+"/v1/profiles", big, authed)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, profiles.stored)

	resp = do(t, http.MethodPost, ts.URL+"/v1/keys/validate", `{"key":"`+strings.Repeat("k", MaxBodyBytes)+`"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
