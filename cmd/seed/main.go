// seed carga datos de desarrollo: catálogo de servicios, planes, un usuario
// demo con plan y dos instancias listas para autorizar por el popup.
//
// Idempotente: todo es upsert, se puede correr las veces que haga falta.
package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/dropDatabas3/mcpgate/internal/config"
	"github.com/dropDatabas3/mcpgate/internal/security/secretbox"
)

func strEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// sealOrNil cifra con secretbox si hay clave maestra; sin clave devuelve nil
// (la columna queda NULL y el flujo OAuth la completa después).
func sealOrNil(plain string) *string {
	if plain == "" || !secretbox.IsSecretBoxReady() {
		return nil
	}
	enc, err := secretbox.Encrypt(plain)
	if err != nil {
		log.Printf("secretbox: %v (se deja NULL)", err)
		return nil
	}
	return &enc
}

func main() {
	// .env (opcional) - prioridad .env.dev > .env
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.dev")

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Printf("config: %v (se intentará usar STORAGE_DSN de env)", err)
	}

	// DSN: env > config
	dsn := strings.TrimSpace(os.Getenv("STORAGE_DSN"))
	if dsn == "" && cfg != nil {
		dsn = cfg.Storage.DSN
	}
	if dsn == "" {
		log.Fatal("no hay DSN (STORAGE_DSN o configs/config.yaml)")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("pgxpool: %v", err)
	}
	defer pool.Close()

	// ------------------ Defaults (overrideables por ENV) ------------------
	userID := strEnv("SEED_USER_ID", "11111111-1111-4111-8111-111111111111")
	planID := strEnv("SEED_PLAN", "basic")

	gmailID := strEnv("SEED_GMAIL_INSTANCE_ID", "21111111-1111-4111-8111-111111111111")
	gmailClientID := strEnv("SEED_GMAIL_CLIENT_ID", "demo-client.apps.googleusercontent.com")
	gmailSecret := strEnv("SEED_GMAIL_CLIENT_SECRET", "demo-google-secret")

	slackID := strEnv("SEED_SLACK_INSTANCE_ID", "31111111-1111-4111-8111-111111111111")
	slackClientID := strEnv("SEED_SLACK_CLIENT_ID", "1234567890.0987654321")
	slackSecret := strEnv("SEED_SLACK_CLIENT_SECRET", "demo-slack-secret")
	// ---------------------------------------------------------------------

	if !secretbox.IsSecretBoxReady() {
		log.Println("⚠️  SECRETBOX_MASTER_KEY ausente: los client secrets quedan NULL")
	}

	// 1) Catálogo de servicios
	services := []struct {
		name    string
		display string
		active  bool
	}{
		{"gmail", "Gmail", true},
		{"google_calendar", "Google Calendar", true},
		{"google_drive", "Google Drive", true},
		{"slack", "Slack", true},
		{"outlook", "Outlook", true},
		{"teams", "Microsoft Teams", true},
		{"notion", "Notion", false},
	}
	for _, s := range services {
		if _, err := pool.Exec(ctx, `
			INSERT INTO services (name, display_name, active)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE
			SET display_name = EXCLUDED.display_name, active = EXCLUDED.active
		`, s.name, s.display, s.active); err != nil {
			log.Fatalf("upsert service %s: %v", s.name, err)
		}
	}
	log.Printf("services: %d upserted", len(services))

	// 2) Planes
	plans := []struct {
		id   string
		name string
		max  int
	}{
		{"free", "Free", 1},
		{"basic", "Basic", 3},
		{"pro", "Pro", 10},
	}
	for _, p := range plans {
		if _, err := pool.Exec(ctx, `
			INSERT INTO plans (id, name, max_instances)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, max_instances = EXCLUDED.max_instances
		`, p.id, p.name, p.max); err != nil {
			log.Fatalf("upsert plan %s: %v", p.id, err)
		}
	}
	log.Printf("plans: %d upserted", len(plans))

	// 3) Plan del usuario demo
	if _, err := pool.Exec(ctx, `
		INSERT INTO user_plans (user_id, plan_id, status)
		VALUES ($1, $2, 'active')
		ON CONFLICT (user_id) DO UPDATE
		SET plan_id = EXCLUDED.plan_id, status = 'active', expires_at = NULL,
		    updated_at = now()
	`, userID, planID); err != nil {
		log.Fatalf("upsert user_plan: %v", err)
	}
	log.Printf("user %s -> plan %s", userID, planID)

	// 4) Instancias demo (oauth_status pending: falta el popup)
	instances := []struct {
		id, service, clientID string
		secretEnc             *string
	}{
		{gmailID, "gmail", gmailClientID, sealOrNil(gmailSecret)},
		{slackID, "slack", slackClientID, sealOrNil(slackSecret)},
	}
	for _, is := range instances {
		if _, err := pool.Exec(ctx, `
			INSERT INTO service_instances
			    (id, user_id, service_name, auth_type, status,
			     client_id, client_secret_enc, oauth_status)
			VALUES ($1, $2, $3, 'oauth', 'active', $4, $5, 'pending')
			ON CONFLICT (id) DO UPDATE
			SET client_id = EXCLUDED.client_id,
			    client_secret_enc = COALESCE(EXCLUDED.client_secret_enc, service_instances.client_secret_enc),
			    updated_at = now()
		`, is.id, userID, is.service, is.clientID, is.secretEnc); err != nil {
			log.Fatalf("upsert instance %s (%s): %v", is.id, is.service, err)
		}
	}

	base := "http://localhost:8080"
	if cfg != nil && cfg.OAuth.CallbackBaseURL != "" {
		base = strings.TrimRight(cfg.OAuth.CallbackBaseURL, "/")
	}

	log.Println("seed listo.", time.Now().Format(time.RFC3339))
	log.Printf("  gmail instance: %s", gmailID)
	log.Printf("  slack instance: %s", slackID)
	log.Printf("  autorizar: %s/v1/oauth/google/authorize?instance_id=%s", base, gmailID)
	log.Printf("  autorizar: %s/v1/oauth/slack/authorize?instance_id=%s", base, slackID)
}
