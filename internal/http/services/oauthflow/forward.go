package oauthflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoEndpoint indica que el servicio no tiene base URL configurada.
var ErrNoEndpoint = errors.New("no tool service endpoint configured")

// ForwardTokens es el set de tokens que viaja al servicio hermano para que
// caliente su propio cache.
type ForwardTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAtMs  int64  `json:"expires_at_ms"`
	Scope        string `json:"scope,omitempty"`
	TeamID       string `json:"team_id,omitempty"`
}

// forwardRequest es el cuerpo de POST {base}/cache-tokens.
type forwardRequest struct {
	InstanceID string        `json:"instance_id"`
	Tokens     ForwardTokens `json:"tokens"`
}

// TokenForwarder empuja tokens recién canjeados al servicio hermano.
type TokenForwarder interface {
	Forward(ctx context.Context, service, instanceID string, tokens ForwardTokens) error
}

// Forwarder implementa TokenForwarder sobre el HTTP interno, autenticado con
// el token compartido en X-Internal-Auth.
type Forwarder struct {
	http          *http.Client
	endpoints     map[string]string
	internalToken string
}

// NewForwarder crea el forwarder. endpoints mapea servicio -> base URL.
func NewForwarder(endpoints map[string]string, internalToken string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	eps := make(map[string]string, len(endpoints))
	for k, v := range endpoints {
		eps[k] = strings.TrimRight(v, "/")
	}
	return &Forwarder{
		http:          &http.Client{Timeout: timeout},
		endpoints:     eps,
		internalToken: internalToken,
	}
}

// Forward hace el POST a {base}/cache-tokens del servicio.
func (f *Forwarder) Forward(ctx context.Context, service, instanceID string, tokens ForwardTokens) error {
	base, ok := f.endpoints[service]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEndpoint, service)
	}

	body, err := json.Marshal(forwardRequest{InstanceID: instanceID, Tokens: tokens})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/cache-tokens", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.internalToken != "" {
		req.Header.Set("X-Internal-Auth", f.internalToken)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tool service %s returned status %d", service, resp.StatusCode)
	}
	return nil
}
