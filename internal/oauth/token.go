package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxTokenBody = 1 << 20 // 1 MiB

// PostForm hace el POST form-urlencoded contra un token endpoint y decodifica
// la respuesta. Un status no-2xx se retorna como *TokenError.
func PostForm(ctx context.Context, hc *http.Client, endpoint string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// GitHub responde form-urlencoded salvo que se pida JSON explícito.
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode/100 != 2 {
		return nil, ParseTokenError(resp.StatusCode, body)
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("oauth: decode token response: %w", err)
	}
	return &tr, nil
}
