package oauthflow

import (
	"crypto/rand"
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
)

// Gracia sobre el TTL del state para tolerar relojes corridos.
const stateGrace = 30 * time.Second

// Errores de validación del state.
var (
	ErrStateInvalid = errors.New("invalid state token")
	ErrStateExpired = errors.New("state token expired")
)

// StateClaims viaja firmado en el parámetro state del redirect. El payload
// del token es exactamente el JSON base64url de estos cuatro campos: los
// registered claims embebidos quedan vacíos y no se serializan.
type StateClaims struct {
	InstanceID string `json:"instanceId"`
	UserID     string `json:"userId"`
	Timestamp  int64  `json:"timestamp"` // epoch millis de emisión
	Service    string `json:"service"`
	jwtv5.RegisteredClaims
}

// StateCodec firma y valida el state del redirect OAuth con HS256. La firma
// garantiza que cualquier mutación de un solo byte falle el decode en vez de
// resolver a una instancia equivocada.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec crea el codec. Sin secreto configurado genera una clave
// efímera: sirve para dev, pero cada reinicio invalida los states en vuelo.
func NewStateCodec(secret string, ttl time.Duration) *StateCodec {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
		logger.L().Warn("oauth state secret not configured, using an ephemeral key")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateCodec{secret: key, ttl: ttl, now: time.Now}
}

// Encode firma los claims.
func (c *StateCodec) Encode(claims StateClaims) (string, error) {
	return jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(c.secret)
}

// Decode valida firma y vigencia y recupera los claims. Cualquier fallo se
// trata como callback inválido o forjado; jamás se adivina ni se defaultea.
func (c *StateCodec) Decode(raw string) (*StateClaims, error) {
	var claims StateClaims
	tk, err := jwtv5.ParseWithClaims(raw, &claims, func(t *jwtv5.Token) (any, error) {
		return c.secret, nil
	}, jwtv5.WithValidMethods([]string{"HS256"}))
	if err != nil || !tk.Valid {
		return nil, ErrStateInvalid
	}
	if claims.InstanceID == "" {
		return nil, ErrStateInvalid
	}
	if claims.Timestamp <= 0 {
		return nil, ErrStateInvalid
	}
	issued := time.UnixMilli(claims.Timestamp)
	if c.now().Sub(issued) > c.ttl+stateGrace {
		return nil, ErrStateExpired
	}
	return &claims, nil
}
