package core

import "time"

// Estados de instancia.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusExpired  = "expired"
)

// Estados del flujo OAuth de una instancia.
const (
	OAuthPending   = "pending"
	OAuthCompleted = "completed"
	OAuthFailed    = "failed"
)

// Tipos de autenticación soportados por una instancia.
const (
	AuthTypeOAuth  = "oauth"
	AuthTypeAPIKey = "api_key"
)

// InstanceCredentials es la vista de una instancia con su servicio, lista
// para decidir autenticación. Los campos cifrados en reposo (client secret,
// refresh token) llegan ya descifrados por el adapter.
type InstanceCredentials struct {
	ID             string
	UserID         string
	ServiceName    string
	DisplayName    string
	ServiceActive  bool
	AuthType       string // oauth | api_key
	Status         string // active | inactive | expired
	ExpiresAt      *time.Time
	ClientID       *string
	ClientSecret   *string
	AccessToken    *string
	RefreshToken   *string
	TokenExpiresAt *time.Time
	OAuthStatus    *string // pending | completed | failed
	Scope          *string
	TeamID         *string
	LastUsedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OAuthStatusUpdate describe la transición OAuth a persistir.
// Punteros nil escriben NULL: un refresh fallido anula el grant completo.
// TeamID nil conserva el valor existente (solo algunos providers lo envían).
type OAuthStatusUpdate struct {
	Status         string // pending | completed | failed
	AccessToken    *string
	RefreshToken   *string
	TokenExpiresAt *time.Time
	Scope          *string
	TeamID         *string
}

// UserPlan es el plan vigente de un usuario con su límite de instancias.
type UserPlan struct {
	PlanID       string
	PlanName     string
	MaxInstances int
	Status       string // active | expired
	ExpiresAt    *time.Time
}

// InstanceSummary es la vista sin secretos para listados y CLI.
type InstanceSummary struct {
	ID             string
	UserID         string
	ServiceName    string
	Status         string
	OAuthStatus    *string
	TokenExpiresAt *time.Time
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

// TokenAuditRecord es una fila del log de auditoría de tokens.
type TokenAuditRecord struct {
	InstanceID *string
	Operation  string
	Status     string
	Method     string
	Service    string
	Error      string
	Scope      string
	CreatedAt  time.Time
}
