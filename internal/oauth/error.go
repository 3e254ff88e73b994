package oauth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TokenError es el error estructurado de un token endpoint (RFC 6749 §5.2).
// Conservarlo tipado permite clasificar por código en lugar de por substring.
type TokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	HTTPStatus  int    `json:"-"`
}

func (e *TokenError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("token endpoint %d: %s", e.HTTPStatus, e.Code)
	}
	return fmt.Sprintf("token endpoint %d: %s: %s", e.HTTPStatus, e.Code, e.Description)
}

// ParseTokenError decodifica el body de error de un token endpoint.
// Si el body no es el JSON estándar, conserva un recorte como descripción.
func ParseTokenError(status int, body []byte) *TokenError {
	te := &TokenError{HTTPStatus: status}
	_ = json.Unmarshal(body, te)
	if te.Code == "" {
		te.Code = "unknown_error"
		s := strings.TrimSpace(string(body))
		if len(s) > 200 {
			s = s[:200]
		}
		te.Description = s
	}
	return te
}
