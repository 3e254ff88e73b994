package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dropDatabas3/mcpgate/internal/oauth"
)

// newFakeGoogle levanta discovery + token endpoint en un solo server.
func newFakeGoogle(t *testing.T, token http.HandlerFunc) (*httptest.Server, *Provider) {
	t.Helper()
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 ts.URL,
			"authorization_endpoint": ts.URL + "/auth",
			"token_endpoint":         ts.URL + "/token",
		})
	})
	if token != nil {
		mux.HandleFunc("/token", token)
	}

	p := New(5 * time.Second)
	p.DiscoveryURL = ts.URL + "/.well-known/openid-configuration"
	return ts, p
}

func TestExchangeCode(t *testing.T) {
	t.Parallel()
	_, p := newFakeGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostFormValue("grant_type") != "authorization_code" {
			t.Errorf("grant_type: got %q", r.PostFormValue("grant_type"))
		}
		if r.PostFormValue("code") != "code-1" || r.PostFormValue("redirect_uri") != "https://gw.test/cb" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3599,
			"id_token":      "xxx.yyy.zzz",
		})
	})

	creds := oauth.Credentials{ClientID: "cid", ClientSecret: "sec", RedirectURL: "https://gw.test/cb"}
	tr, err := p.ExchangeCode(context.Background(), creds, "code-1")
	if err != nil {
		t.Fatalf("ExchangeCode err: %v", err)
	}
	if tr.AccessToken != "at-1" || tr.RefreshToken != "rt-1" || tr.ExpiresIn != 3599 {
		t.Fatalf("got %+v", tr)
	}
}

func TestRefresh_InvalidGrant(t *testing.T) {
	t.Parallel()
	_, p := newFakeGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	})

	_, err := p.Refresh(context.Background(), oauth.Credentials{ClientID: "cid"}, "rt-bad")
	var te *oauth.TokenError
	if !errors.As(err, &te) {
		t.Fatalf("expected *oauth.TokenError, got %T: %v", err, err)
	}
	if te.Code != "invalid_grant" {
		t.Fatalf("code: got %q", te.Code)
	}
}

func TestAuthURL(t *testing.T) {
	t.Parallel()
	_, p := newFakeGoogle(t, nil)

	creds := oauth.Credentials{
		ClientID:    "cid",
		RedirectURL: "https://gw.test/cb",
		Scopes:      []string{"a", "b"},
	}
	raw, err := p.AuthURL(context.Background(), creds, "st-1")
	if err != nil {
		t.Fatalf("AuthURL err: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("client_id") != "cid" || q.Get("state") != "st-1" {
		t.Fatalf("query: %v", q)
	}
	if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Fatalf("offline params missing: %v", q)
	}
	if !strings.Contains(q.Get("scope"), "a b") {
		t.Fatalf("scope: got %q", q.Get("scope"))
	}
	if !strings.HasSuffix(u.Path, "/auth") {
		t.Fatalf("path: got %q", u.Path)
	}
}

func TestDiscovery_CachedBetweenCalls(t *testing.T) {
	t.Parallel()
	var discHits int
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		discHits++
		_ = json.NewEncoder(w).Encode(map[string]string{
			"authorization_endpoint": ts.URL + "/auth",
			"token_endpoint":         ts.URL + "/token",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at", "expires_in": 60})
	})

	p := New(5 * time.Second)
	p.DiscoveryURL = ts.URL + "/.well-known/openid-configuration"

	creds := oauth.Credentials{ClientID: "cid"}
	for i := 0; i < 3; i++ {
		if _, err := p.Refresh(context.Background(), creds, "rt"); err != nil {
			t.Fatalf("Refresh err: %v", err)
		}
	}
	if discHits != 1 {
		t.Fatalf("discovery hits: got %d want 1", discHits)
	}
}
