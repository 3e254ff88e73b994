package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/mcpgate/internal/audit"
	"github.com/dropDatabas3/mcpgate/internal/cache"
	"github.com/dropDatabas3/mcpgate/internal/config"
	credcache "github.com/dropDatabas3/mcpgate/internal/credentials"
	healthctrl "github.com/dropDatabas3/mcpgate/internal/http/controllers/health"
	oauthctrl "github.com/dropDatabas3/mcpgate/internal/http/controllers/oauth"
	toolsctrl "github.com/dropDatabas3/mcpgate/internal/http/controllers/tools"
	"github.com/dropDatabas3/mcpgate/internal/http/middlewares"
	"github.com/dropDatabas3/mcpgate/internal/http/router"
	credsvc "github.com/dropDatabas3/mcpgate/internal/http/services/credentials"
	healthsvc "github.com/dropDatabas3/mcpgate/internal/http/services/health"
	"github.com/dropDatabas3/mcpgate/internal/http/services/oauthflow"
	"github.com/dropDatabas3/mcpgate/internal/metrics"
	"github.com/dropDatabas3/mcpgate/internal/oauth"
	"github.com/dropDatabas3/mcpgate/internal/oauth/google"
	"github.com/dropDatabas3/mcpgate/internal/oauth/microsoft"
	"github.com/dropDatabas3/mcpgate/internal/oauth/slack"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
	"github.com/dropDatabas3/mcpgate/internal/plan"
	"github.com/dropDatabas3/mcpgate/internal/rate"
	"github.com/dropDatabas3/mcpgate/internal/security/secretbox"
	"github.com/dropDatabas3/mcpgate/internal/store/pg"
)

func main() {
	var (
		flagConfigPath = flag.String("config", "", "ruta a config.yaml (fallback: $CONFIG_PATH o configs/config.yaml)")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env (si existe, se carga)")
	)
	flag.Parse()

	if *flagEnvFile != "" && fileExists(*flagEnvFile) {
		if err := godotenv.Load(*flagEnvFile); err == nil {
			log.Printf("dotenv: cargado %s", *flagEnvFile)
		}
	}

	cfg := loadConfig(*flagConfigPath)

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "mcpgate",
		Version:     os.Getenv("SERVICE_VERSION"),
	})
	defer func() { _ = logger.Sync() }()

	// La clave puede venir del YAML; secretbox la lee de env, así que la
	// publicamos antes del primer uso.
	if cfg.Security.SecretBoxMasterKey != "" && os.Getenv("SECRETBOX_MASTER_KEY") == "" {
		_ = os.Setenv("SECRETBOX_MASTER_KEY", cfg.Security.SecretBoxMasterKey)
	}
	if !secretbox.IsSecretBoxReady() {
		if cfg.App.Env == "prod" {
			log.Fatalf("❌ secretbox: SECRETBOX_MASTER_KEY inválida o ausente (openssl rand -base64 32)")
		}
		log.Printf("⚠️  secretbox: sin clave maestra; secretos en reposo ilegibles hasta setear SECRETBOX_MASTER_KEY")
	}

	ctx := context.Background()

	store, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
		MaxConns:        int32(cfg.Storage.Postgres.MaxConns),
		ConnMaxLifetime: cfg.PGConnMaxLifetime(),
	})
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()

	cc, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer func() { _ = cc.Close() }()

	reg, scopes := buildProviders(cfg)

	auditor := audit.New(store)
	plans := plan.NewChecker(store)
	creds := credcache.NewCache(cc)

	refresher := credsvc.NewRefresher(credsvc.RefresherDeps{
		Providers: reg,
		Direct:    oauth.NewDirectClient(cfg.ExchangeTimeout()),
		Store:     store,
		Cache:     creds,
		Audit:     auditor,
	})
	credentials := credsvc.NewService(credsvc.Deps{
		Store:      store,
		Cache:      creds,
		Refresher:  refresher,
		Classifier: credsvc.NewClassifier(auditor),
		Audit:      auditor,
	})

	flow := oauthflow.NewService(oauthflow.Deps{
		Store:     store,
		Providers: reg,
		Cache:     creds,
		Plans:     plans,
		Forwarder: oauthflow.NewForwarder(cfg.ToolServices.Endpoints,
			cfg.ToolServices.InternalToken, cfg.ToolTimeout()),
		Audit:           auditor,
		States:          oauthflow.NewStateCodec(cfg.OAuth.StateSecret, cfg.StateTTL()),
		CallbackBaseURL: cfg.OAuth.CallbackBaseURL,
		Scopes:          scopes,
		ExchangeTimeout: cfg.ExchangeTimeout(),
	})

	ready := healthsvc.NewService(healthsvc.Deps{
		StoreCheck: store.Ping,
		CacheCheck: cc.Ping,
	})

	tools, err := toolsctrl.NewController(toolsctrl.Config{
		Backends:              cfg.ToolServices.Endpoints,
		ResponseHeaderTimeout: cfg.ToolTimeout(),
	})
	if err != nil {
		log.Fatalf("tools proxy: %v", err)
	}

	if err := metrics.Register(nil); err != nil {
		log.Fatalf("metrics: %v", err)
	}
	metricsHandler, err := middlewares.RegisterHTTPMetrics(nil)
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	mux := router.New(router.Deps{
		Health:      healthctrl.NewController(ready, credentials),
		OAuth:       oauthctrl.NewController(flow, cfg.OAuth.AllowedOrigin),
		Tools:       tools,
		Credentials: credentials,
		Metrics:     metricsHandler,
		Limiter:     buildLimiter(cfg),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  cfg.IdleTimeout(),
	}

	go func() {
		log.Printf("🚀 service up. env=%s addr=%s cache=%s providers=%v time=%s",
			cfg.App.Env, cfg.Server.Addr, cfg.Cache.Kind, reg.Providers(),
			time.Now().Format(time.RFC3339))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ http: %v", err)
		}
	}()

	stop, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-stop.Done()

	log.Println("shutdown: señal recibida, drenando conexiones...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  shutdown: %v", err)
	}
	log.Println("✅ shutdown: listo")
}

// buildProviders registra los handlers habilitados y arma el mapa
// provider -> scopes que pisa los defaults del flujo.
func buildProviders(cfg *config.Config) (*oauth.Registry, map[string][]string) {
	reg := oauth.NewRegistry()
	scopes := make(map[string][]string)
	timeout := cfg.ExchangeTimeout()

	if pc := cfg.OAuth.Providers.Google; pc.Enabled {
		g := google.New(timeout)
		// Google resuelve authorize/token vía discovery; el override apunta ahí.
		if pc.AuthURL != "" {
			g.DiscoveryURL = pc.AuthURL
		}
		reg.Register(g)
		reg.MapService("gmail", "google")
		reg.MapService("google_calendar", "google")
		reg.MapService("google_drive", "google")
		if len(pc.Scopes) > 0 {
			scopes["google"] = pc.Scopes
		}
	}
	if pc := cfg.OAuth.Providers.Microsoft; pc.Enabled {
		m := microsoft.New(timeout)
		if pc.AuthURL != "" {
			m.AuthEndpoint = pc.AuthURL
		}
		if pc.TokenURL != "" {
			m.TokenEndpoint = pc.TokenURL
		}
		reg.Register(m)
		reg.MapService("outlook", "microsoft")
		reg.MapService("teams", "microsoft")
		if len(pc.Scopes) > 0 {
			scopes["microsoft"] = pc.Scopes
		}
	}
	if pc := cfg.OAuth.Providers.Slack; pc.Enabled {
		s := slack.New(timeout)
		if pc.AuthURL != "" {
			s.AuthEndpoint = pc.AuthURL
		}
		if pc.TokenURL != "" {
			s.TokenEndpoint = pc.TokenURL
		}
		reg.Register(s)
		reg.MapService("slack", "slack")
		if len(pc.Scopes) > 0 {
			scopes["slack"] = pc.Scopes
		}
	}
	return reg, scopes
}

// buildLimiter arma el rate limiter de las rutas OAuth. Redis cuando el cache
// es redis (límite compartido entre réplicas), memoria en single-replica.
func buildLimiter(cfg *config.Config) rate.Limiter {
	if !cfg.Rate.Enabled {
		return nil
	}
	limit := cfg.Rate.OAuth.Limit
	if limit <= 0 {
		limit = 10
	}
	if cfg.Cache.Kind == "redis" {
		rc := rdb.NewClient(&rdb.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		return rate.NewRedisLimiter(rc, cfg.Cache.Redis.Prefix+":rate", limit, cfg.RateOAuthWindow())
	}
	return rate.NewMemoryLimiter(limit, cfg.RateOAuthWindow())
}

func loadConfig(flagPath string) *config.Config {
	path := flagPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" && fileExists("configs/config.yaml") {
		path = "configs/config.yaml"
	}
	if path == "" {
		cfg, err := config.FromEnv()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		log.Printf("config: sin YAML, usando defaults + env")
		return cfg
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config (%s): %v", path, err)
	}
	return cfg
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
