// mcpgate es la CLI de operación del gateway: inspección de instancias,
// purga de cache y reseteo de OAuth. Habla directo con Postgres y Redis
// (el gateway no expone admin API), así que necesita el mismo DSN que el
// servicio.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/mcpgate/internal/cache"
	credcache "github.com/dropDatabas3/mcpgate/internal/credentials"
	"github.com/dropDatabas3/mcpgate/internal/plan"
	"github.com/dropDatabas3/mcpgate/internal/store/core"
	"github.com/dropDatabas3/mcpgate/internal/store/pg"
)

type cliEnv struct {
	DSN         string
	CacheKind   string
	RedisAddr   string
	RedisDB     int
	RedisPrefix string
	OutFormat   string // "json" | "text"
	Timeout     time.Duration
}

func (e *cliEnv) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.Timeout)
}

func (e *cliEnv) openStore(ctx context.Context) (*pg.Store, error) {
	if e.DSN == "" {
		return nil, fmt.Errorf("falta DSN de Postgres (flag --dsn o env STORAGE_DSN)")
	}
	return pg.New(ctx, e.DSN, pg.Config{})
}

// openCache arma el cliente de cache. El cache memory vive dentro del proceso
// del gateway, así que acá solo tiene sentido redis.
func (e *cliEnv) openCache() (*credcache.Cache, error) {
	if e.CacheKind != "redis" {
		return nil, fmt.Errorf("cache kind %q: la purga remota solo aplica a redis (CACHE_KIND=redis)", e.CacheKind)
	}
	cc, err := cache.New(cache.Config{
		Driver: "redis",
		Addr:   e.RedisAddr,
		DB:     e.RedisDB,
		Prefix: e.RedisPrefix,
	})
	if err != nil {
		return nil, err
	}
	return credcache.NewCache(cc), nil
}

func (e *cliEnv) print(v any) {
	if e.OutFormat == "json" {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	switch t := v.(type) {
	case []core.InstanceSummary:
		printInstanceTable(t)
	case *core.InstanceSummary:
		printInstanceTable([]core.InstanceSummary{*t})
	case plan.Decision:
		fmt.Printf("plan=%s instances=%d/%d can_create=%t", t.PlanName, t.Current, t.Max, t.CanCreate)
		if t.Reason != "" {
			fmt.Printf(" reason=%s", t.Reason)
		}
		fmt.Println()
	default:
		b, _ := json.Marshal(v)
		fmt.Println(string(b))
	}
}

func printInstanceTable(list []core.InstanceSummary) {
	fmt.Printf("%-36s  %-16s  %-8s  %-9s  %-20s  %s\n",
		"ID", "SERVICE", "STATUS", "OAUTH", "TOKEN_EXPIRES", "LAST_USED")
	for _, is := range list {
		oauthStatus := "-"
		if is.OAuthStatus != nil {
			oauthStatus = *is.OAuthStatus
		}
		fmt.Printf("%-36s  %-16s  %-8s  %-9s  %-20s  %s\n",
			is.ID, is.ServiceName, is.Status, oauthStatus,
			fmtTime(is.TokenExpiresAt), fmtTime(is.LastUsedAt))
	}
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func requireUUID(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("--%s es requerido", name)
	}
	if _, err := uuid.Parse(v); err != nil {
		return fmt.Errorf("--%s: %q no es un UUID válido", name, v)
	}
	return nil
}

func main() {
	env := &cliEnv{
		DSN:         envOr("STORAGE_DSN", ""),
		CacheKind:   envOr("CACHE_KIND", "memory"),
		RedisAddr:   envOr("REDIS_ADDR", "localhost:6379"),
		RedisPrefix: envOr("REDIS_PREFIX", "mcpgate"),
		OutFormat:   envOr("MCPGATE_OUT", "text"),
		Timeout:     15 * time.Second,
	}

	root := &cobra.Command{
		Use:   "mcpgate",
		Short: "CLI de operación del MCP gateway (instancias, cache, oauth, planes)",
	}

	root.PersistentFlags().StringVar(&env.DSN, "dsn", env.DSN, "DSN de Postgres (env STORAGE_DSN)")
	root.PersistentFlags().StringVar(&env.CacheKind, "cache-kind", env.CacheKind, "Cache del gateway: memory|redis (env CACHE_KIND)")
	root.PersistentFlags().StringVar(&env.RedisAddr, "redis-addr", env.RedisAddr, "Dirección de Redis (env REDIS_ADDR)")
	root.PersistentFlags().IntVar(&env.RedisDB, "redis-db", env.RedisDB, "DB de Redis")
	root.PersistentFlags().StringVar(&env.RedisPrefix, "redis-prefix", env.RedisPrefix, "Prefijo de keys en Redis (env REDIS_PREFIX)")
	root.PersistentFlags().StringVar(&env.OutFormat, "out", env.OutFormat, "Formato de salida: json|text")

	// grupo instances
	instancesCmd := &cobra.Command{
		Use:   "instances",
		Short: "Inspección y estado de instancias registradas",
	}

	var listUser string
	var listLimit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Listar instancias (opcionalmente de un usuario)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listUser != "" {
				if err := requireUUID("user", listUser); err != nil {
					return err
				}
			}
			ctx, cancel := env.ctx()
			defer cancel()
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			list, err := st.ListInstances(ctx, listUser, listLimit)
			if err != nil {
				return err
			}
			env.print(list)
			return nil
		},
	}
	listCmd.Flags().StringVar(&listUser, "user", "", "UUID del usuario (vacío: todas)")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Máximo de filas")

	var showID string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Mostrar una instancia por id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUUID("id", showID); err != nil {
				return err
			}
			ctx, cancel := env.ctx()
			defer cancel()
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			is, err := st.GetInstance(ctx, showID)
			if err != nil {
				return err
			}
			env.print(is)
			return nil
		},
	}
	showCmd.Flags().StringVar(&showID, "id", "", "UUID de la instancia")

	var setID, setStatus string
	setStatusCmd := &cobra.Command{
		Use:   "set-status",
		Short: "Cambiar el estado de una instancia (active|inactive|expired)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUUID("id", setID); err != nil {
				return err
			}
			switch setStatus {
			case "active", "inactive", "expired":
			default:
				return fmt.Errorf("--status inválido: %q (active|inactive|expired)", setStatus)
			}
			ctx, cancel := env.ctx()
			defer cancel()
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.UpdateInstanceStatus(ctx, setID, setStatus); err != nil {
				return err
			}
			// Una instancia pausada con token fresco en cache seguiría pasando
			// el gate hasta que el token venza; purgamos para que aplique ya.
			if creds, err := env.openCache(); err == nil {
				if err := creds.Delete(ctx, setID); err != nil {
					fmt.Fprintf(os.Stderr, "aviso: cache purge: %v\n", err)
				}
			} else if env.CacheKind == "redis" {
				fmt.Fprintf(os.Stderr, "aviso: %v\n", err)
			}
			fmt.Printf("instancia %s -> %s\n", setID, setStatus)
			return nil
		},
	}
	setStatusCmd.Flags().StringVar(&setID, "id", "", "UUID de la instancia")
	setStatusCmd.Flags().StringVar(&setStatus, "status", "", "Nuevo estado: active|inactive|expired")

	instancesCmd.AddCommand(listCmd)
	instancesCmd.AddCommand(showCmd)
	instancesCmd.AddCommand(setStatusCmd)

	// grupo cache
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Operaciones sobre el cache de credenciales",
	}

	var purgeID string
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Purgar la entrada de cache de una instancia",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUUID("id", purgeID); err != nil {
				return err
			}
			creds, err := env.openCache()
			if err != nil {
				return err
			}
			ctx, cancel := env.ctx()
			defer cancel()
			if err := creds.Delete(ctx, purgeID); err != nil {
				return err
			}
			fmt.Printf("cache purgado para %s\n", purgeID)
			return nil
		},
	}
	purgeCmd.Flags().StringVar(&purgeID, "id", "", "UUID de la instancia")
	cacheCmd.AddCommand(purgeCmd)

	// grupo oauth
	oauthCmd := &cobra.Command{
		Use:   "oauth",
		Short: "Operaciones sobre el estado OAuth de instancias",
	}

	var resetID string
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Anular tokens y volver la instancia a oauth_status=pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUUID("id", resetID); err != nil {
				return err
			}
			ctx, cancel := env.ctx()
			defer cancel()
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			// Punteros nil escriben NULL: borra access y refresh de una.
			if err := st.UpdateOAuthStatus(ctx, resetID, core.OAuthStatusUpdate{Status: core.OAuthPending}); err != nil {
				return err
			}
			if creds, err := env.openCache(); err == nil {
				if err := creds.Delete(ctx, resetID); err != nil {
					fmt.Fprintf(os.Stderr, "aviso: cache purge: %v\n", err)
				}
			} else if env.CacheKind == "redis" {
				fmt.Fprintf(os.Stderr, "aviso: %v\n", err)
			}
			fmt.Printf("oauth reseteado para %s (requiere re-autorización)\n", resetID)
			return nil
		},
	}
	resetCmd.Flags().StringVar(&resetID, "id", "", "UUID de la instancia")
	oauthCmd.AddCommand(resetCmd)

	// grupo plan
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Consultas de plan y límites",
	}

	var checkUser string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Ver plan vigente y uso de instancias de un usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUUID("user", checkUser); err != nil {
				return err
			}
			ctx, cancel := env.ctx()
			defer cancel()
			st, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			d, err := plan.NewChecker(st).CheckInstanceLimit(ctx, checkUser)
			if err != nil {
				return err
			}
			env.print(d)
			return nil
		},
	}
	checkCmd.Flags().StringVar(&checkUser, "user", "", "UUID del usuario")
	planCmd.AddCommand(checkCmd)

	root.AddCommand(instancesCmd)
	root.AddCommand(cacheCmd)
	root.AddCommand(oauthCmd)
	root.AddCommand(planCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
