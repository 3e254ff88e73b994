package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/mcpgate/internal/validation"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda "dev".
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		IdleTimeout     string `yaml:"idle_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	// ───────── OAuth flow ─────────
	OAuth struct {
		// StateSecret firma el state del redirect (HS256). Obligatorio en prod.
		StateSecret string `yaml:"state_secret"`
		// StateTTL: ventana de validez del state. Default 10m.
		StateTTL string `yaml:"state_ttl"`
		// CallbackBaseURL arma el redirect_uri: <base>/oauth/callback/<provider>.
		CallbackBaseURL string `yaml:"callback_base_url"`
		// ExchangeTimeout acota cada llamada al token endpoint del proveedor.
		ExchangeTimeout string `yaml:"exchange_timeout"`
		// AllowedOrigin es el origin del dashboard que abre el popup. Si está
		// seteado, el postMessage de la página de resultado va solo a él.
		AllowedOrigin string `yaml:"allowed_origin"`

		Providers struct {
			Google    ProviderConfig `yaml:"google"`
			Microsoft ProviderConfig `yaml:"microsoft"`
			Slack     ProviderConfig `yaml:"slack"`
		} `yaml:"providers"`
	} `yaml:"oauth"`

	// ───────── Sibling tool services ─────────
	ToolServices struct {
		// InternalToken va en X-Internal-Auth hacia los servicios hermanos.
		InternalToken string `yaml:"internal_token"`
		Timeout       string `yaml:"timeout"`
		// Endpoints: service name -> base URL (ej: gmail -> http://localhost:4101).
		Endpoints map[string]string `yaml:"endpoints"`
	} `yaml:"tool_services"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		OAuth   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"oauth"`
	} `yaml:"rate"`

	Security struct {
		// base64(32 bytes), cifra client_secret y refresh_token en reposo.
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`
}

// ProviderConfig permite pisar endpoints por proveedor (tests, mocks, GCC-high, etc).
type ProviderConfig struct {
	Enabled  bool     `yaml:"enabled"`
	AuthURL  string   `yaml:"auth_url"`
	TokenURL string   `yaml:"token_url"`
	Scopes   []string `yaml:"scopes"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromEnv arma la configuración sin archivo YAML: defaults + variables de
// entorno. Es el camino de los despliegues que configuran todo por env.
func FromEnv() (*Config, error) {
	var c Config
	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// applyDefaults completa valores razonables para lo que el YAML no trae.
func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.IdleTimeout == "" {
		c.Server.IdleTimeout = "60s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "15s"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "mcpgate"
	}
	if c.Storage.Postgres.MaxConns == 0 {
		c.Storage.Postgres.MaxConns = 10
	}
	if c.OAuth.StateTTL == "" {
		c.OAuth.StateTTL = "10m"
	}
	if c.OAuth.ExchangeTimeout == "" {
		c.OAuth.ExchangeTimeout = "15s"
	}
	if c.OAuth.CallbackBaseURL == "" {
		c.OAuth.CallbackBaseURL = "http://localhost:8080"
	}
	if c.ToolServices.Timeout == "" {
		c.ToolServices.Timeout = "5s"
	}
	if c.ToolServices.Endpoints == nil {
		c.ToolServices.Endpoints = map[string]string{}
	}
	if c.Rate.OAuth.Limit == 0 {
		c.Rate.OAuth.Limit = 30
	}
	if c.Rate.OAuth.Window == "" {
		c.Rate.OAuth.Window = "1m"
	}
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("STORAGE_PG_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}
	if v, ok := getEnvStr("OAUTH_STATE_SECRET"); ok {
		c.OAuth.StateSecret = v
	}
	if v, ok := getEnvDur("OAUTH_STATE_TTL"); ok {
		c.OAuth.StateTTL = v.String()
	}
	if v, ok := getEnvStr("OAUTH_CALLBACK_BASE_URL"); ok {
		c.OAuth.CallbackBaseURL = v
	}
	if v, ok := getEnvDur("OAUTH_EXCHANGE_TIMEOUT"); ok {
		c.OAuth.ExchangeTimeout = v.String()
	}
	if v, ok := getEnvStr("OAUTH_ALLOWED_ORIGIN"); ok {
		c.OAuth.AllowedOrigin = v
	}
	if v, ok := getEnvStr("TOOLSVC_INTERNAL_TOKEN"); ok {
		c.ToolServices.InternalToken = v
	}
	if v, ok := getEnvDur("TOOLSVC_TIMEOUT"); ok {
		c.ToolServices.Timeout = v.String()
	}
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_OAUTH_LIMIT"); ok {
		c.Rate.OAuth.Limit = v
	}
	if v, ok := getEnvDur("RATE_OAUTH_WINDOW"); ok {
		c.Rate.OAuth.Window = v.String()
	}
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}

	// Providers: sólo el flag y endpoints, los client creds viven por instancia.
	if v, ok := getEnvBool("PROVIDER_GOOGLE_ENABLED"); ok {
		c.OAuth.Providers.Google.Enabled = v
	}
	if v, ok := getEnvBool("PROVIDER_MICROSOFT_ENABLED"); ok {
		c.OAuth.Providers.Microsoft.Enabled = v
	}
	if v, ok := getEnvBool("PROVIDER_SLACK_ENABLED"); ok {
		c.OAuth.Providers.Slack.Enabled = v
	}
}

// Validate verifica coherencia y exige lo mínimo para prod.
func (c *Config) Validate() error {
	for _, d := range []struct{ name, val string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"oauth.state_ttl", c.OAuth.StateTTL},
		{"oauth.exchange_timeout", c.OAuth.ExchangeTimeout},
		{"tool_services.timeout", c.ToolServices.Timeout},
		{"rate.oauth.window", c.Rate.OAuth.Window},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	if c.Storage.Postgres.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Storage.Postgres.ConnMaxLifetime); err != nil {
			return fmt.Errorf("storage.postgres.conn_max_lifetime: %w", err)
		}
	}
	for _, p := range []struct {
		name   string
		scopes []string
	}{
		{"google", c.OAuth.Providers.Google.Scopes},
		{"microsoft", c.OAuth.Providers.Microsoft.Scopes},
		{"slack", c.OAuth.Providers.Slack.Scopes},
	} {
		for _, s := range p.scopes {
			if !validation.ValidScopeToken(s) {
				return fmt.Errorf("oauth.providers.%s.scopes: scope inválido %q", p.name, s)
			}
		}
	}
	if c.Cache.Kind != "memory" && c.Cache.Kind != "redis" {
		return fmt.Errorf("cache.kind inválido: %q (memory|redis)", c.Cache.Kind)
	}
	if c.Cache.Kind == "redis" && strings.TrimSpace(c.Cache.Redis.Addr) == "" {
		return errors.New("cache.kind=redis requiere cache.redis.addr")
	}
	if strings.EqualFold(c.App.Env, "prod") {
		if strings.TrimSpace(c.OAuth.StateSecret) == "" {
			return errors.New("oauth.state_secret es obligatorio en prod")
		}
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("storage.dsn es obligatorio en prod")
		}
	}
	return nil
}

// ---- Duraciones ya validadas ----

func (c *Config) ReadTimeout() time.Duration     { return mustDur(c.Server.ReadTimeout, 10*time.Second) }
func (c *Config) WriteTimeout() time.Duration    { return mustDur(c.Server.WriteTimeout, 30*time.Second) }
func (c *Config) IdleTimeout() time.Duration     { return mustDur(c.Server.IdleTimeout, 60*time.Second) }
func (c *Config) ShutdownTimeout() time.Duration { return mustDur(c.Server.ShutdownTimeout, 15*time.Second) }
func (c *Config) StateTTL() time.Duration        { return mustDur(c.OAuth.StateTTL, 10*time.Minute) }
func (c *Config) ExchangeTimeout() time.Duration { return mustDur(c.OAuth.ExchangeTimeout, 15*time.Second) }
func (c *Config) ToolTimeout() time.Duration     { return mustDur(c.ToolServices.Timeout, 5*time.Second) }
func (c *Config) RateOAuthWindow() time.Duration { return mustDur(c.Rate.OAuth.Window, time.Minute) }
func (c *Config) PGConnMaxLifetime() time.Duration {
	return mustDur(c.Storage.Postgres.ConnMaxLifetime, 30*time.Minute)
}

func mustDur(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
