package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/mcpgate/internal/http/middlewares"
	credsvc "github.com/dropDatabas3/mcpgate/internal/http/services/credentials"
)

const proxyInstID = "66666666-6666-4666-8666-666666666666"

type credsFake struct {
	res credsvc.Resolution
	err error
}

func (f *credsFake) Resolve(ctx context.Context, instanceID string) (credsvc.Resolution, error) {
	if f.err != nil {
		return credsvc.Resolution{}, f.err
	}
	return f.res, nil
}

func (f *credsFake) Check(ctx context.Context, instanceID string) (credsvc.CheckInfo, error) {
	return credsvc.CheckInfo{}, errors.New("not used here")
}

func gmailResolution() credsvc.Resolution {
	return credsvc.Resolution{
		InstanceID:  proxyInstID,
		UserID:      "user-7",
		ServiceName: "gmail",
		BearerToken: "at-55",
	}
}

func newRig(t *testing.T, cfg Config, svc credsvc.Service) *chi.Mux {
	t.Helper()
	ctrl, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	r := chi.NewRouter()
	r.With(middlewares.WithCredentialGate(svc)).Handle("/v1/instances/{instanceID}/proxy/*", http.HandlerFunc(ctrl.Proxy))
	return r
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

func TestProxyForwardsRequest(t *testing.T) {
	type seenReq struct {
		method string
		path   string
		query  string
		auth   string
		instID string
		userID string
		cookie string
		body   string
	}
	var seen seenReq

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = seenReq{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			instID: r.Header.Get("X-Instance-ID"),
			userID: r.Header.Get("X-User-ID"),
			cookie: r.Header.Get("Cookie"),
			body:   string(b),
		}
		w.Header().Set("X-MCP-Session", "sess-9")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer backendSrv.Close()

	r := newRig(t, Config{Backends: map[string]string{"gmail": backendSrv.URL}}, &credsFake{res: gmailResolution()})

	req := httptest.NewRequest(http.MethodPost, "/v1/instances/"+proxyInstID+"/proxy/tools/call?page=2", strings.NewReader(`{"name":"search"}`))
	req.Header.Set("Content-Type", "application/json")
	// Credenciales del cliente: nunca deben llegar al backend.
	req.Header.Set("Authorization", "Bearer client-junk")
	req.Header.Set("Cookie", "session=abc")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if seen.method != http.MethodPost || seen.path != "/tools/call" || seen.query != "page=2" {
		t.Fatalf("upstream vio %s %s?%s", seen.method, seen.path, seen.query)
	}
	if seen.auth != "Bearer at-55" {
		t.Fatalf("Authorization = %q, want el bearer resuelto", seen.auth)
	}
	if seen.instID != proxyInstID || seen.userID != "user-7" {
		t.Fatalf("identidad = inst %q user %q", seen.instID, seen.userID)
	}
	if seen.cookie != "" {
		t.Fatalf("la cookie del cliente llegó al backend: %q", seen.cookie)
	}
	if seen.body != `{"name":"search"}` {
		t.Fatalf("body = %q", seen.body)
	}
	if rec.Body.String() != `{"result":"ok"}` {
		t.Fatalf("respuesta = %q", rec.Body.String())
	}
	if rec.Header().Get("X-MCP-Session") != "sess-9" {
		t.Fatal("los headers del backend no pasaron al cliente")
	}
}

func TestProxyJoinsBackendBasePath(t *testing.T) {
	var gotPath string
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer backendSrv.Close()

	r := newRig(t, Config{Backends: map[string]string{"gmail": backendSrv.URL + "/mcp/"}}, &credsFake{res: gmailResolution()})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/instances/"+proxyInstID+"/proxy/tools/list", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if gotPath != "/mcp/tools/list" {
		t.Fatalf("path upstream = %q, want /mcp/tools/list", gotPath)
	}
}

func TestProxyNoBackendForService(t *testing.T) {
	res := gmailResolution()
	res.ServiceName = "notion"
	r := newRig(t, Config{Backends: map[string]string{"gmail": "http://gmail.internal:8081"}}, &credsFake{res: res})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/instances/"+proxyInstID+"/proxy/tools/list", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if code := errCode(t, rec.Body.Bytes()); code != "SERVICE_UNAVAILABLE" {
		t.Fatalf("code = %q", code)
	}
}

func TestProxyUpstreamDown(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := backendSrv.URL
	backendSrv.Close()

	r := newRig(t, Config{Backends: map[string]string{"gmail": deadURL}}, &credsFake{res: gmailResolution()})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/instances/"+proxyInstID+"/proxy/tools/list", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if code := errCode(t, rec.Body.Bytes()); code != "UPSTREAM_UNAVAILABLE" {
		t.Fatalf("code = %q", code)
	}
}

func TestProxyUpstreamTimeout(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer backendSrv.Close()

	r := newRig(t, Config{
		Backends:              map[string]string{"gmail": backendSrv.URL},
		ResponseHeaderTimeout: 50 * time.Millisecond,
	}, &credsFake{res: gmailResolution()})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/instances/"+proxyInstID+"/proxy/tools/list", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if code := errCode(t, rec.Body.Bytes()); code != "GATEWAY_TIMEOUT" {
		t.Fatalf("code = %q", code)
	}
}

func TestProxyGateRunsFirst(t *testing.T) {
	backendHit := false
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendHit = true
	}))
	defer backendSrv.Close()

	r := newRig(t, Config{Backends: map[string]string{"gmail": backendSrv.URL}}, &credsFake{err: credsvc.ErrInstancePaused})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/instances/"+proxyInstID+"/proxy/tools/list", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if backendHit {
		t.Fatal("el backend recibió un request que el gate debía frenar")
	}
}

func TestNewControllerRejectsBadURL(t *testing.T) {
	if _, err := NewController(Config{Backends: map[string]string{"gmail": "localhost:9999"}}); err == nil {
		t.Fatal("una base URL sin esquema debe fallar en el arranque")
	}
}
