package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	oauthdto "github.com/dropDatabas3/mcpgate/internal/http/dto/oauth"
	"github.com/dropDatabas3/mcpgate/internal/http/services/oauthflow"
)

const ctrlInstID = "55555555-5555-4555-8555-555555555555"

type flowFake struct {
	authRes  oauthflow.AuthorizeResult
	authErr  error
	lastAuth oauthflow.AuthorizeRequest

	cbRes  oauthflow.CallbackResult
	lastCB oauthflow.CallbackRequest
}

func (f *flowFake) Authorize(ctx context.Context, req oauthflow.AuthorizeRequest) (oauthflow.AuthorizeResult, error) {
	f.lastAuth = req
	if f.authErr != nil {
		return oauthflow.AuthorizeResult{}, f.authErr
	}
	return f.authRes, nil
}

func (f *flowFake) HandleCallback(ctx context.Context, req oauthflow.CallbackRequest) oauthflow.CallbackResult {
	f.lastCB = req
	return f.cbRes
}

func newRig(flow oauthflow.Service, origin string) *chi.Mux {
	ctrl := NewController(flow, origin)
	r := chi.NewRouter()
	r.Get("/v1/oauth/{provider}/authorize", ctrl.Authorize)
	r.Get("/oauth/callback/{provider}", ctrl.Callback)
	return r
}

var payloadRE = regexp.MustCompile(`id="payload-b64"[^>]*>([^<]*)</script>`)

// extractPayload saca el payload base64 de la página y lo decodifica.
func extractPayload(t *testing.T, body string) oauthdto.CallbackMessage {
	t.Helper()
	m := payloadRE.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("la página no tiene payload-b64:\n%s", body)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(m[1]))
	if err != nil {
		t.Fatalf("payload no es base64: %v", err)
	}
	var msg oauthdto.CallbackMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("payload no es JSON: %v", err)
	}
	return msg
}

func TestAuthorizeRedirects(t *testing.T) {
	flow := &flowFake{authRes: oauthflow.AuthorizeResult{
		AuthURL: "https://accounts.google.com/o/oauth2/v2/auth?client_id=abc&state=xyz",
	}}
	r := newRig(flow, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/oauth/google/authorize?instance_id="+ctrlInstID, nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302; body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != flow.authRes.AuthURL {
		t.Fatalf("Location = %q", got)
	}
	if flow.lastAuth.Provider != "google" || flow.lastAuth.InstanceID != ctrlInstID {
		t.Fatalf("request al service = %+v", flow.lastAuth)
	}
}

func TestAuthorizeBadInput(t *testing.T) {
	cases := []struct {
		name       string
		target     string
		authErr    error
		wantStatus int
		wantCode   string
	}{
		{"sin instance_id", "/v1/oauth/google/authorize", nil, http.StatusBadRequest, "OAUTH_PARAMS_MISSING"},
		{"instance_id malformado", "/v1/oauth/google/authorize?instance_id=nope", nil, http.StatusBadRequest, "INVALID_INSTANCE_ID"},
		{"provider desconocido", "/v1/oauth/github/authorize?instance_id=" + ctrlInstID, oauthflow.ErrProviderUnknown, http.StatusBadRequest, "INVALID_PARAMETER"},
		{"instancia no existe", "/v1/oauth/google/authorize?instance_id=" + ctrlInstID, oauthflow.ErrInstanceNotFound, http.StatusNotFound, "INSTANCE_NOT_FOUND"},
		{"provider no corresponde", "/v1/oauth/slack/authorize?instance_id=" + ctrlInstID, oauthflow.ErrProviderMismatch, http.StatusBadRequest, "INVALID_PARAMETER"},
		{"config incompleta", "/v1/oauth/google/authorize?instance_id=" + ctrlInstID, oauthflow.ErrConfigInvalid, http.StatusInternalServerError, "OAUTH_CONFIG_INVALID"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(&flowFake{authErr: tc.authErr}, "")

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			var env struct {
				Code string `json:"code"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if env.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", env.Code, tc.wantCode)
			}
		})
	}
}

func TestCallbackSuccessPage(t *testing.T) {
	flow := &flowFake{cbRes: oauthflow.CallbackResult{
		Success:    true,
		Provider:   "google",
		InstanceID: ctrlInstID,
		UserID:     "user-7",
		Service:    "gmail",
	}}
	r := newRig(flow, "https://dash.example.com")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback/google?code=abc&state=xyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control = %q", cc)
	}
	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "script-src 'nonce-") || !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Fatalf("CSP = %q", csp)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "postMessage") {
		t.Fatal("la página no publica el resultado")
	}
	if !strings.Contains(body, "https://dash.example.com") {
		t.Fatal("el postMessage no va dirigido al origin configurado")
	}

	msg := extractPayload(t, body)
	if msg.Type != oauthdto.MessageSuccess {
		t.Fatalf("type = %q, want %q", msg.Type, oauthdto.MessageSuccess)
	}
	if msg.Provider != "google" || msg.InstanceID != ctrlInstID || msg.Service != "gmail" {
		t.Fatalf("payload = %+v", msg)
	}
	if msg.Error != nil {
		t.Fatalf("un éxito no lleva error: %+v", msg.Error)
	}

	if flow.lastCB.Provider != "google" || flow.lastCB.Code != "abc" || flow.lastCB.State != "xyz" {
		t.Fatalf("request al service = %+v", flow.lastCB)
	}
}

func TestCallbackErrorPageCarriesPlan(t *testing.T) {
	flow := &flowFake{cbRes: oauthflow.CallbackResult{
		Success:    false,
		Provider:   "google",
		InstanceID: ctrlInstID,
		Service:    "gmail",
		ErrorCode:  "ACTIVE_LIMIT_REACHED",
		Message:    "Plan limit reached. You already have 3 active instances (limit: 3).",
		Current:    3,
		Max:        3,
		PlanName:   "basic",
	}}
	r := newRig(flow, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback/google?code=abc&state=xyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (el callback nunca responde error HTTP)", rec.Code)
	}

	msg := extractPayload(t, rec.Body.String())
	if msg.Type != oauthdto.MessageError {
		t.Fatalf("type = %q", msg.Type)
	}
	if msg.Error == nil || msg.Error.Code != "ACTIVE_LIMIT_REACHED" {
		t.Fatalf("error = %+v", msg.Error)
	}
	if msg.Plan == nil || msg.Plan.Current != 3 || msg.Plan.Max != 3 || msg.Plan.PlanName != "basic" {
		t.Fatalf("plan = %+v", msg.Plan)
	}
}

func TestCallbackForwardsProviderError(t *testing.T) {
	flow := &flowFake{cbRes: oauthflow.CallbackResult{
		Success:   false,
		Provider:  "google",
		ErrorCode: "PROVIDER_ERROR",
		Message:   "User denied access",
	}}
	r := newRig(flow, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback/google?error=access_denied&error_description=User+denied+access", nil))

	if flow.lastCB.ErrorParam != "access_denied" {
		t.Fatalf("ErrorParam = %q", flow.lastCB.ErrorParam)
	}
	if flow.lastCB.ErrorDescription != "User denied access" {
		t.Fatalf("ErrorDescription = %q", flow.lastCB.ErrorDescription)
	}
	msg := extractPayload(t, rec.Body.String())
	if msg.Error == nil || msg.Error.Code != "PROVIDER_ERROR" {
		t.Fatalf("error = %+v", msg.Error)
	}
}

func TestCallbackPageEscapesHostileMessage(t *testing.T) {
	flow := &flowFake{cbRes: oauthflow.CallbackResult{
		Success:   false,
		Provider:  "google",
		ErrorCode: "PROVIDER_ERROR",
		Message:   `<script>alert(1)</script>`,
	}}
	r := newRig(flow, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback/google?error=access_denied", nil))

	if strings.Contains(rec.Body.String(), "<script>alert(1)") {
		t.Fatal("el mensaje del provider se inyectó sin escapar")
	}
}
