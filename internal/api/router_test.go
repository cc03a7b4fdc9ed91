package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seattleflu/id3c-sub000/internal/domain/identifier"
	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/platform/auth"
	"github.com/seattleflu/id3c-sub000/internal/platform/db"
	"github.com/seattleflu/id3c-sub000/internal/platform/metrics"
)

var signingKey = []byte("router-test-signing-key-0123456789")

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type receivingRepo struct {
	docs map[receiving.Table][]string
}

func (r *receivingRepo) Insert(_ context.Context, table receiving.Table, body []byte) (int64, error) {
	r.docs[table] = append(r.docs[table], string(body))
	return int64(len(r.docs[table])), nil
}

func (r *receivingRepo) CopyNDJSON(context.Context, receiving.Table, io.Reader) (int64, error) {
	return 0, errors.New("not used")
}

func (r *receivingRepo) Claim(context.Context, receiving.Table, receiving.Tag, receiving.ClaimOptions) ([]*receiving.Document, error) {
	return nil, nil
}

func (r *receivingRepo) AppendLog(context.Context, receiving.Table, int64, receiving.LogEntry) error {
	return nil
}

func (r *receivingRepo) ProcessingLog(context.Context, receiving.Table, int64) ([]receiving.LogEntry, error) {
	return nil, nil
}

// identifierRepo knows one set and no identifiers.
type identifierRepo struct{}

func (identifierRepo) ListSetUses(context.Context) ([]*identifier.SetUse, error) {
	return nil, nil
}
func (identifierRepo) CreateSetUse(context.Context, *identifier.SetUse) error {
	return nil
}
func (identifierRepo) GetSet(_ context.Context, name string) (*identifier.Set, error) {
	if name == "samples" {
		return &identifier.Set{ID: 1, Name: "samples", Use: "sample"}, nil
	}
	return nil, &identifier.SetNotFoundError{Name: name}
}
func (identifierRepo) ListSets(context.Context) ([]*identifier.Set, error) {
	return []*identifier.Set{{ID: 1, Name: "samples", Use: "sample"}}, nil
}
func (identifierRepo) CreateSet(context.Context, *identifier.Set) error {
	return nil
}
func (identifierRepo) MakeSet(context.Context, *identifier.Set) (bool, error) {
	return false, nil
}
func (identifierRepo) Insert(context.Context, *identifier.Identifier) error {
	return nil
}
func (identifierRepo) GetByUUID(context.Context, uuid.UUID) (*identifier.Identifier, error) {
	return nil, identifier.ErrNotFound
}
func (identifierRepo) GetByBarcode(context.Context, string) (*identifier.Identifier, error) {
	return nil, identifier.ErrNotFound
}
func (identifierRepo) ListBatches(context.Context, string) ([]*identifier.Batch, error) {
	return nil, nil
}
func (identifierRepo) ListBatch(context.Context, string, time.Time) ([]*identifier.Identifier, error) {
	return nil, nil
}

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, _ db.Action, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestRouter(t *testing.T, dev bool, dbErr error) (*receivingRepo, http.Handler) {
	t.Helper()
	m, err := metrics.New()
	require.NoError(t, err)

	repo := &receivingRepo{docs: map[receiving.Table][]string{}}
	e := NewRouter(Options{
		Logger:         zerolog.Nop(),
		Metrics:        m,
		DB:             pinger{err: dbErr},
		Receiving:      receiving.NewService(repo, zerolog.Nop()),
		Identifiers:    identifier.NewService(identifierRepo{}, zerolog.Nop()),
		Sessions:       noopRunner{},
		DevAuth:        dev,
		Auth:           auth.JWTConfig{SigningKey: signingKey},
		BodyLimit:      "1K",
		RequestTimeout: 5 * time.Second,
	})
	return repo, e
}

func token(t *testing.T, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tester",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return "Bearer " + s
}

func do(h http.Handler, method, path, authz, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PublicEndpoints(t *testing.T) {
	_, h := newTestRouter(t, false, nil)

	rec := do(h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = do(h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "id3c_http_requests_total")
}

func TestRouter_UnhealthyDatabase(t *testing.T) {
	_, h := newTestRouter(t, false, errors.New("connection refused"))
	rec := do(h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_ReceiveRequiresUploader(t *testing.T) {
	repo, h := newTestRouter(t, false, nil)

	rec := do(h, http.MethodPost, "/v1/receiving/manifest", "", `{"sample":"aaaaaaaa"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/v1/receiving/manifest", token(t, auth.RoleReader), `{"sample":"aaaaaaaa"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPost, "/v1/receiving/manifest", token(t, auth.RoleUploader), `{"sample":"aaaaaaaa"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{`{"sample":"aaaaaaaa"}`}, repo.docs[receiving.Manifest])
}

func TestRouter_ReceiveBodyLimit(t *testing.T) {
	repo, h := newTestRouter(t, true, nil)
	body := `{"pad":"` + strings.Repeat("x", 2048) + `"}`
	rec := do(h, http.MethodPost, "/v1/receiving/fhir", "", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, repo.docs[receiving.FHIR])
}

func TestRouter_IdentifierRoles(t *testing.T) {
	_, h := newTestRouter(t, false, nil)

	rec := do(h, http.MethodGet, "/v1/warehouse/identifier-sets", token(t, auth.RoleReader), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"samples"`)

	rec = do(h, http.MethodGet, "/v1/warehouse/identifier/aaaaaaaa", token(t, auth.RoleReader), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/v1/warehouse/identifier-sets", token(t, auth.RoleUploader), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPost, "/v1/warehouse/identifier-sets/samples/identifiers?count=1", token(t, auth.RoleReader), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_DevAuth(t *testing.T) {
	_, h := newTestRouter(t, true, nil)
	rec := do(h, http.MethodGet, "/v1/warehouse/identifier-sets/samples", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/v1/warehouse/identifier-sets/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
