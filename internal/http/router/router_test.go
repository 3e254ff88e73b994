package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	healthctrl "github.com/dropDatabas3/mcpgate/internal/http/controllers/health"
	oauthctrl "github.com/dropDatabas3/mcpgate/internal/http/controllers/oauth"
	toolsctrl "github.com/dropDatabas3/mcpgate/internal/http/controllers/tools"
	"github.com/dropDatabas3/mcpgate/internal/http/middlewares"
	credsvc "github.com/dropDatabas3/mcpgate/internal/http/services/credentials"
	healthsvc "github.com/dropDatabas3/mcpgate/internal/http/services/health"
	"github.com/dropDatabas3/mcpgate/internal/http/services/oauthflow"
	"github.com/dropDatabas3/mcpgate/internal/rate"
)

const rtInstID = "77777777-7777-4777-8777-777777777777"

type flowFake struct{}

func (f *flowFake) Authorize(ctx context.Context, req oauthflow.AuthorizeRequest) (oauthflow.AuthorizeResult, error) {
	return oauthflow.AuthorizeResult{AuthURL: "https://accounts.google.com/o/oauth2/v2/auth?state=s"}, nil
}

func (f *flowFake) HandleCallback(ctx context.Context, req oauthflow.CallbackRequest) oauthflow.CallbackResult {
	return oauthflow.CallbackResult{Success: true, Provider: req.Provider, InstanceID: rtInstID, Service: "gmail"}
}

type credsFake struct {
	err error
}

func (f *credsFake) Resolve(ctx context.Context, instanceID string) (credsvc.Resolution, error) {
	if f.err != nil {
		return credsvc.Resolution{}, f.err
	}
	return credsvc.Resolution{
		InstanceID:  instanceID,
		UserID:      "user-7",
		ServiceName: "gmail",
		BearerToken: "at-rt",
	}, nil
}

func (f *credsFake) Check(ctx context.Context, instanceID string) (credsvc.CheckInfo, error) {
	if f.err != nil {
		return credsvc.CheckInfo{}, f.err
	}
	return credsvc.CheckInfo{InstanceID: instanceID, Service: "gmail", Status: "active"}, nil
}

type rig struct {
	mux      *chi.Mux
	backHits *atomic.Int32
	backAuth *atomic.Value
}

func newRig(t *testing.T, credErr error, limiter rate.Limiter) *rig {
	t.Helper()

	hits := &atomic.Int32{}
	auth := &atomic.Value{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(backend.Close)

	tools, err := toolsctrl.NewController(toolsctrl.Config{Backends: map[string]string{"gmail": backend.URL}})
	if err != nil {
		t.Fatalf("tools controller: %v", err)
	}

	metricsHandler, err := middlewares.RegisterHTTPMetrics(nil)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	okCheck := func(ctx context.Context) error { return nil }
	creds := &credsFake{err: credErr}

	mux := New(Deps{
		Health:      healthctrl.NewController(healthsvc.NewService(healthsvc.Deps{StoreCheck: okCheck, CacheCheck: okCheck}), creds),
		OAuth:       oauthctrl.NewController(&flowFake{}, "https://dash.example.com"),
		Tools:       tools,
		Credentials: creds,
		Metrics:     metricsHandler,
		Limiter:     limiter,
	})

	return &rig{mux: mux, backHits: hits, backAuth: auth}
}

func (rg *rig) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	rg.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func errCode(t *testing.T, body []byte) string {
	t.Helper()
	var env struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("body no es el envelope de error: %v", err)
	}
	return env.Code
}

func TestRouterRoutes(t *testing.T) {
	rg := newRig(t, nil, nil)

	cases := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/v1/oauth/google/authorize?instance_id=" + rtInstID, http.StatusFound},
		{http.MethodGet, "/oauth/callback/google?code=x&state=y", http.StatusOK},
		{http.MethodGet, "/v1/instances/" + rtInstID + "/health", http.StatusOK},
		{http.MethodGet, "/v1/instances/" + rtInstID + "/proxy/tools/list", http.StatusOK},
		{http.MethodPost, "/v1/instances/" + rtInstID + "/proxy/tools/call", http.StatusOK},
	}
	for _, tc := range cases {
		rec := rg.do(tc.method, tc.target)
		if rec.Code != tc.want {
			t.Fatalf("%s %s = %d, want %d; body=%s", tc.method, tc.target, rec.Code, tc.want, rec.Body.String())
		}
	}
}

func TestRouterUnknownRouteEnvelope(t *testing.T) {
	rg := newRig(t, nil, nil)

	rec := rg.do(http.MethodGet, "/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errCode(t, rec.Body.Bytes()); code != "ROUTE_NOT_FOUND" {
		t.Fatalf("code = %q", code)
	}

	rec = rg.do(http.MethodDelete, "/healthz")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if code := errCode(t, rec.Body.Bytes()); code != "METHOD_NOT_ALLOWED" {
		t.Fatalf("code = %q", code)
	}
}

func TestRouterChainHeaders(t *testing.T) {
	rg := newRig(t, nil, nil)

	rec := rg.do(http.MethodGet, "/healthz")
	if rid := rec.Header().Get("X-Request-ID"); uuid.Validate(rid) != nil {
		t.Fatalf("X-Request-ID = %q, want un UUID generado", rid)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("faltan los security headers en la cadena global")
	}

	rec = rg.do(http.MethodGet, "/oauth/callback/google?code=x&state=y")
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("Cache-Control = %q en el callback", rec.Header().Get("Cache-Control"))
	}
}

func TestRouterProxyCarriesResolvedBearer(t *testing.T) {
	rg := newRig(t, nil, nil)

	rec := rg.do(http.MethodGet, "/v1/instances/"+rtInstID+"/proxy/tools/list")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", rec.Code, rec.Body.String())
	}
	if got := rg.backAuth.Load(); got != "Bearer at-rt" {
		t.Fatalf("Authorization upstream = %v", got)
	}
}

func TestRouterGateBlocksBeforeProxy(t *testing.T) {
	rg := newRig(t, credsvc.ErrReauthRequired, nil)

	rec := rg.do(http.MethodGet, "/v1/instances/"+rtInstID+"/proxy/tools/list")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var env struct {
		Code           string `json:"code"`
		RequiresReauth bool   `json:"requiresReauth"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Code != "REAUTH_REQUIRED" || !env.RequiresReauth {
		t.Fatalf("envelope = %+v", env)
	}
	if rg.backHits.Load() != 0 {
		t.Fatal("el backend recibió un request que el gate debía frenar")
	}
}

func TestRouterRateLimitsOAuth(t *testing.T) {
	rg := newRig(t, nil, rate.NewMemoryLimiter(1, time.Minute))

	if rec := rg.do(http.MethodGet, "/v1/oauth/google/authorize?instance_id="+rtInstID); rec.Code != http.StatusFound {
		t.Fatalf("primer request = %d, want 302", rec.Code)
	}
	rec := rg.do(http.MethodGet, "/v1/oauth/google/authorize?instance_id="+rtInstID)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("segundo request = %d, want 429", rec.Code)
	}
	if code := errCode(t, rec.Body.Bytes()); code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("code = %q", code)
	}

	// Las rutas fuera del grupo OAuth no pasan por el limiter.
	for i := 0; i < 3; i++ {
		if rec := rg.do(http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
			t.Fatalf("healthz limitado: %d", rec.Code)
		}
	}
}
