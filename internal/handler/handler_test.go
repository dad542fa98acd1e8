package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/keysmith/internal/hasher"
	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/openapi"
	"github.com/faucetdb/keysmith/internal/secret"
	"github.com/faucetdb/keysmith/internal/server/middleware"
	"github.com/faucetdb/keysmith/internal/service"
	"github.com/faucetdb/keysmith/internal/store"
)

const testJWTSecret = "test-secret-for-handler-tests"

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store  *store.Store
	auth   *service.OwnerAuth
	router chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store, fast
// hash parameters, and a Chi router with the authentication middleware
// mounted the same way the server mounts it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	gen, err := secret.New(secret.DefaultTag, secret.DefaultPrefixLen)
	if err != nil {
		t.Fatalf("secret.New: %v", err)
	}
	h, err := hasher.New(1, hasher.WithParams(map[int]hasher.Params{
		1: {Version: 1, N: 16, R: 1, P: 1, KeyLen: 32, SaltLen: 16},
	}))
	if err != nil {
		t.Fatalf("hasher.New: %v", err)
	}
	auth, err := service.NewOwnerAuth(testJWTSecret, "")
	if err != nil {
		t.Fatalf("NewOwnerAuth: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	toucher := service.NewToucher(st, 16, logger, nil)
	t.Cleanup(toucher.Close)

	issuer := service.NewIssuanceService(service.IssuanceConfig{}, gen, h, st, logger, nil)
	verifier := service.NewVerifier(gen, h, st, toucher, logger, nil)
	keys := NewKeyHandler(issuer, logger)

	r := chi.NewRouter()
	r.Get("/openapi.json", NewOpenAPIHandler(openapi.Generate("test", "", "ks")).ServeSpec)
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthenticateOwner(auth))
			r.Get("/keys", keys.List)
			r.Post("/keys", keys.Issue)
			r.Patch("/keys/{id}", keys.Rename)
			r.Delete("/keys/{id}", keys.Delete)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthenticateAPIKey(verifier, gen.Tag()))
			r.Get("/whoami", keys.WhoAmI)
		})
	})

	return &testEnv{store: st, auth: auth, router: r}
}

func (e *testEnv) token(t *testing.T, owner string) string {
	t.Helper()
	tok, err := e.auth.IssueToken(owner, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

// do executes an HTTP request against the test router as owner (or
// anonymously when owner is "").
func (e *testEnv) do(t *testing.T, method, path, owner string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, owner))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) whoami(t *testing.T, header, value string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/whoami", nil)
	req.Header.Set(header, value)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) issue(t *testing.T, owner, name string) model.IssueResponse {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/keys", owner, toJSON(t, map[string]string{"name": name}))
	assertStatus(t, rr, http.StatusCreated)
	var resp model.IssueResponse
	decodeJSON(t, rr, &resp)
	return resp
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	return resp.Error
}
