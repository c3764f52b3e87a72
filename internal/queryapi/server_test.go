package queryapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaadipranav/lynex-sub000/internal/storage"
)

type fakeStore struct {
	events    map[string][]storage.EventRow // traceID → rows
	summaries []storage.TraceSummary

	lastLimit  int
	lastBefore time.Time
}

func (s *fakeStore) ListByTrace(_ context.Context, projectID, traceID string) ([]storage.EventRow, error) {
	var out []storage.EventRow
	for _, r := range s.events[traceID] {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListTraceSummaries(_ context.Context, _ string, limit int, before time.Time) ([]storage.TraceSummary, error) {
	s.lastLimit = limit
	s.lastBefore = before
	return s.summaries, nil
}

type testHarness struct {
	server  *Server
	store   *fakeStore
	signKey *rsa.PrivateKey
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})

	validator, err := NewRS256Validator(pubPEM)
	require.NoError(t, err)

	store := &fakeStore{events: make(map[string][]storage.EventRow)}
	return &testHarness{
		server:  NewServer(store, validator, zap.NewNop()),
		store:   store,
		signKey: key,
	}
}

func (h *testHarness) token(t *testing.T, projects ...string) string {
	t.Helper()
	claims := &Claims{
		Projects: projects,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(h.signKey)
	require.NoError(t, err)
	return signed
}

func (h *testHarness) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTracesRequireToken(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/v1/projects/proj-1/traces", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGarbageTokenRejected(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/v1/projects/proj-1/traces", "not.a.jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	h := newHarness(t)
	claims := &Claims{
		Projects: []string{"proj-1"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(h.signKey)
	require.NoError(t, err)

	rec := h.get("/v1/projects/proj-1/traces", signed)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenScopedToOtherProjectIsForbidden(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/v1/projects/proj-1/traces", h.token(t, "proj-2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWildcardTokenReadsAnyProject(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/v1/projects/proj-1/traces", h.token(t, "*"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListTracesReturnsSummaries(t *testing.T) {
	h := newHarness(t)
	h.store.summaries = []storage.TraceSummary{
		{TraceID: "t-2", EventCount: 5},
		{TraceID: "t-1", EventCount: 3},
	}

	rec := h.get("/v1/projects/proj-1/traces?limit=25&before=2026-03-01T12:00:00Z", h.token(t, "proj-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Traces []storage.TraceSummary `json:"traces"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Traces, 2)
	assert.Equal(t, "t-2", resp.Traces[0].TraceID)

	assert.Equal(t, 25, h.store.lastLimit)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), h.store.lastBefore)
}

func TestListTracesRejectsBadBefore(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/v1/projects/proj-1/traces?before=yesterday", h.token(t, "proj-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTraceReturnsTree(t *testing.T) {
	h := newHarness(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.store.events["trace-9"] = []storage.EventRow{
		{EventID: "root", ProjectID: "proj-1", TraceID: "trace-9", Type: "span", Timestamp: base},
		{EventID: "child", ProjectID: "proj-1", TraceID: "trace-9", Type: "span", Timestamp: base.Add(time.Millisecond), ParentEventID: "root"},
	}

	rec := h.get("/v1/projects/proj-1/traces/trace-9", h.token(t, "proj-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TraceID     string `json:"trace_id"`
		TotalEvents int    `json:"total_events"`
		Spans       []struct {
			Event struct {
				EventID string `json:"event_id"`
			} `json:"event"`
			Children []json.RawMessage `json:"children"`
		} `json:"spans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "trace-9", resp.TraceID)
	assert.Equal(t, 2, resp.TotalEvents)
	require.Len(t, resp.Spans, 1)
	assert.Equal(t, "root", resp.Spans[0].Event.EventID)
	assert.Len(t, resp.Spans[0].Children, 1)
}

func TestGetTraceUnknownIs404(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/v1/projects/proj-1/traces/no-such-trace", h.token(t, "proj-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
