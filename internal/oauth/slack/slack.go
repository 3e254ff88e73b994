// Package slack implementa el Handler OAuth de Slack.
//
// Slack no sigue RFC 6749 al pie: el token endpoint responde siempre HTTP 200
// con un sobre {ok, error, ...}, el workspace viaja en team.id y con token
// rotation el refresh usa el mismo oauth.v2.access.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/mcpgate/internal/oauth"
)

const (
	defaultAuthEndpoint  = "https://slack.com/oauth/v2/authorize"
	defaultTokenEndpoint = "https://slack.com/api/oauth.v2.access"

	// Un token sin rotación no expira; se le da un horizonte práctico para
	// que el snapshot cacheado no nazca vencido.
	nonRotatingTTL = 365 * 24 * time.Hour
)

// Provider implementa oauth.Handler para Slack.
type Provider struct {
	// Endpoints sobreescribibles en tests.
	AuthEndpoint  string
	TokenEndpoint string

	http *http.Client
}

// New crea el provider. timeout acota cada llamada HTTP saliente.
func New(timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		AuthEndpoint:  defaultAuthEndpoint,
		TokenEndpoint: defaultTokenEndpoint,
		http:          &http.Client{Timeout: timeout},
	}
}

func (s *Provider) Name() string { return "slack" }

func (s *Provider) AuthURL(ctx context.Context, creds oauth.Credentials, state string) (string, error) {
	u, err := url.Parse(s.AuthEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", creds.RedirectURL)
	// Slack separa scopes por coma, no por espacio.
	q.Set("scope", strings.Join(creds.Scopes, ","))
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// envelope es la respuesta de oauth.v2.access.
type envelope struct {
	OK           bool   `json:"ok"`
	Err          string `json:"error"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	Team         struct {
		ID string `json:"id"`
	} `json:"team"`
	AuthedUser struct {
		ID           string `json:"id"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
	} `json:"authed_user"`
}

func (s *Provider) call(ctx context.Context, form url.Values) (*oauth.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, oauth.ParseTokenError(resp.StatusCode, body)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("slack: decode envelope: %w", err)
	}
	if !env.OK {
		// HTTP 200 con ok=false: el error viaja en el sobre.
		return nil, &oauth.TokenError{Code: env.Err, HTTPStatus: resp.StatusCode}
	}

	tr := &oauth.TokenResponse{
		AccessToken:  env.AccessToken,
		RefreshToken: env.RefreshToken,
		ExpiresIn:    env.ExpiresIn,
		TokenType:    env.TokenType,
		Scope:        env.Scope,
		TeamID:       env.Team.ID,
	}
	// Apps de solo usuario: el token útil viene en authed_user.
	if tr.AccessToken == "" && env.AuthedUser.AccessToken != "" {
		tr.AccessToken = env.AuthedUser.AccessToken
		tr.RefreshToken = env.AuthedUser.RefreshToken
		tr.ExpiresIn = env.AuthedUser.ExpiresIn
		tr.Scope = env.AuthedUser.Scope
	}
	if tr.ExpiresIn == 0 {
		tr.ExpiresIn = int64(nonRotatingTTL.Seconds())
	}
	return tr, nil
}

func (s *Provider) ExchangeCode(ctx context.Context, creds oauth.Credentials, code string) (*oauth.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("redirect_uri", creds.RedirectURL)
	return s.call(ctx, form)
}

func (s *Provider) Refresh(ctx context.Context, creds oauth.Credentials, refreshToken string) (*oauth.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	return s.call(ctx, form)
}
