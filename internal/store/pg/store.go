// Package pg implementa core.Repository sobre PostgreSQL (pgx).
//
// Los secretos en reposo (client_secret_enc, refresh_token_enc) se cifran y
// descifran aquí con secretbox; el resto del código trabaja con texto plano.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
	"github.com/dropDatabas3/mcpgate/internal/security/secretbox"
	"github.com/dropDatabas3/mcpgate/internal/store/core"
)

// Config afina el pool de conexiones.
type Config struct {
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

type Store struct{ pool *pgxpool.Pool }

// New crea el Store con su pool. El ping inicial es no bloqueante: si la DB
// está caída al arrancar, el servicio igual levanta y /readyz lo refleja.
func New(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
		pcfg.MaxConnIdleTime = cfg.ConnMaxLifetime
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		logger.L().Warn("pg pool startup ping failed", logger.Err(err))
	} else {
		logger.L().Info("pg pool ready", logger.Int("max_conns", int(pcfg.MaxConns)))
	}

	return &Store{pool: pool}, nil
}

// Pool expone el pool interno para usos avanzados (migraciones, stats).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func encryptPtr(v *string) (*string, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	ct, err := secretbox.Encrypt(*v)
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

func decryptPtr(v *string, field string) (*string, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	pt, err := secretbox.Decrypt(*v)
	if err != nil {
		return nil, fmt.Errorf("pg: decrypt %s: %w", field, err)
	}
	return &pt, nil
}

// ====================== CREDENCIALES ======================

func (s *Store) LookupInstanceCredentials(ctx context.Context, instanceID string) (*core.InstanceCredentials, error) {
	const q = `
SELECT i.id, i.user_id, i.service_name, s.display_name, s.active,
       i.auth_type, i.status, i.expires_at,
       i.client_id, i.client_secret_enc,
       i.access_token, i.refresh_token_enc, i.token_expires_at,
       i.oauth_status, i.scope, i.team_id,
       i.last_used_at, i.created_at, i.updated_at
FROM service_instances i
JOIN services s ON s.name = i.service_name
WHERE i.id = $1`

	var (
		ic              core.InstanceCredentials
		clientSecretEnc *string
		refreshTokenEnc *string
	)
	err := s.pool.QueryRow(ctx, q, instanceID).Scan(
		&ic.ID, &ic.UserID, &ic.ServiceName, &ic.DisplayName, &ic.ServiceActive,
		&ic.AuthType, &ic.Status, &ic.ExpiresAt,
		&ic.ClientID, &clientSecretEnc,
		&ic.AccessToken, &refreshTokenEnc, &ic.TokenExpiresAt,
		&ic.OAuthStatus, &ic.Scope, &ic.TeamID,
		&ic.LastUsedAt, &ic.CreatedAt, &ic.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}

	if ic.ClientSecret, err = decryptPtr(clientSecretEnc, "client_secret"); err != nil {
		return nil, err
	}
	if ic.RefreshToken, err = decryptPtr(refreshTokenEnc, "refresh_token"); err != nil {
		return nil, err
	}
	return &ic, nil
}

// ====================== OAUTH ======================

func (s *Store) applyOAuthUpdate(ctx context.Context, instanceID string, upd core.OAuthStatusUpdate, onlyPending bool) (int64, error) {
	refreshEnc, err := encryptPtr(upd.RefreshToken)
	if err != nil {
		return 0, fmt.Errorf("pg: encrypt refresh_token: %w", err)
	}

	q := `
UPDATE service_instances
SET oauth_status = $2,
    access_token = $3,
    refresh_token_enc = $4,
    token_expires_at = $5,
    scope = $6,
    team_id = COALESCE($7, team_id),
    updated_at = now()
WHERE id = $1`
	if onlyPending {
		q += ` AND oauth_status = 'pending'`
	}

	tag, err := s.pool.Exec(ctx, q,
		instanceID, upd.Status, upd.AccessToken, refreshEnc,
		upd.TokenExpiresAt, upd.Scope, upd.TeamID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) UpdateOAuthStatus(ctx context.Context, instanceID string, upd core.OAuthStatusUpdate) error {
	n, err := s.applyOAuthUpdate(ctx, instanceID, upd, false)
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) CompleteOAuthPending(ctx context.Context, instanceID string, upd core.OAuthStatusUpdate) (bool, error) {
	n, err := s.applyOAuthUpdate(ctx, instanceID, upd, true)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ====================== USO Y ESTADO ======================

func (s *Store) UpdateInstanceUsage(ctx context.Context, instanceID string, when time.Time) error {
	const q = `UPDATE service_instances SET last_used_at = $2 WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, instanceID, when)
	return err
}

func (s *Store) UpdateInstanceStatus(ctx context.Context, instanceID, status string) error {
	const q = `UPDATE service_instances SET status = $2, updated_at = now() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, instanceID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ====================== PLAN ======================

func (s *Store) GetUserPlan(ctx context.Context, userID string) (*core.UserPlan, error) {
	const q = `
SELECT p.id, p.name, p.max_instances, up.status, up.expires_at
FROM user_plans up
JOIN plans p ON p.id = up.plan_id
WHERE up.user_id = $1`

	var up core.UserPlan
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&up.PlanID, &up.PlanName, &up.MaxInstances, &up.Status, &up.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &up, nil
}

func (s *Store) CountActiveInstances(ctx context.Context, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM service_instances WHERE user_id = $1 AND status = 'active'`
	var n int
	if err := s.pool.QueryRow(ctx, q, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ====================== AUDITORÍA ======================

func (s *Store) InsertTokenAudit(ctx context.Context, rec *core.TokenAuditRecord) error {
	const q = `
INSERT INTO token_audit_log (instance_id, operation, status, method, service, error, scope)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q,
		rec.InstanceID, rec.Operation, rec.Status, rec.Method,
		rec.Service, rec.Error, rec.Scope,
	)
	return err
}

// ====================== LISTADOS ======================

const summaryCols = `i.id, i.user_id, i.service_name, i.status, i.oauth_status, i.token_expires_at, i.last_used_at, i.created_at`

func scanSummary(row pgx.Row) (*core.InstanceSummary, error) {
	var is core.InstanceSummary
	err := row.Scan(
		&is.ID, &is.UserID, &is.ServiceName, &is.Status,
		&is.OAuthStatus, &is.TokenExpiresAt, &is.LastUsedAt, &is.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &is, nil
}

func (s *Store) GetInstance(ctx context.Context, instanceID string) (*core.InstanceSummary, error) {
	q := `SELECT ` + summaryCols + ` FROM service_instances i WHERE i.id = $1`
	is, err := scanSummary(s.pool.QueryRow(ctx, q, instanceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return is, nil
}

func (s *Store) ListInstances(ctx context.Context, userID string, limit int) ([]core.InstanceSummary, error) {
	q := `SELECT ` + summaryCols + ` FROM service_instances i`
	args := []any{}
	if userID != "" {
		q += ` WHERE i.user_id = $1`
		args = append(args, userID)
	}
	q += ` ORDER BY i.created_at DESC`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.InstanceSummary
	for rows.Next() {
		is, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *is)
	}
	return out, rows.Err()
}
