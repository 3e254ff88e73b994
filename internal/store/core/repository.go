package core

import (
	"context"
	"time"
)

// Repository define el acceso a persistencia del subsistema de credenciales.
type Repository interface {
	Ping(ctx context.Context) error
	Close()

	// Credenciales (join instancia + servicio, secretos descifrados)
	LookupInstanceCredentials(ctx context.Context, instanceID string) (*InstanceCredentials, error)

	// Transiciones OAuth
	UpdateOAuthStatus(ctx context.Context, instanceID string, upd OAuthStatusUpdate) error
	// CompleteOAuthPending aplica upd solo si la instancia sigue en
	// oauth_status = pending. Retorna false si la condición no se cumplió
	// (callback duplicado o tardío).
	CompleteOAuthPending(ctx context.Context, instanceID string, upd OAuthStatusUpdate) (bool, error)

	// Uso y estado
	UpdateInstanceUsage(ctx context.Context, instanceID string, when time.Time) error
	UpdateInstanceStatus(ctx context.Context, instanceID, status string) error

	// Plan
	GetUserPlan(ctx context.Context, userID string) (*UserPlan, error)
	CountActiveInstances(ctx context.Context, userID string) (int, error)

	// Auditoría
	InsertTokenAudit(ctx context.Context, rec *TokenAuditRecord) error

	// Listados (CLI / admin)
	GetInstance(ctx context.Context, instanceID string) (*InstanceSummary, error)
	ListInstances(ctx context.Context, userID string, limit int) ([]InstanceSummary, error)
}
