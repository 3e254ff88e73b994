// migrate corre las migraciones SQL del gateway contra Postgres.
//
//	migrate            aplica todas las *_up.sql en orden
//	migrate up 2       aplica las 2 primeras pendientes
//	migrate down       revierte todas (orden inverso)
//	migrate down 1     revierte solo la más reciente
//
// Si el directorio de migraciones no existe (binario suelto en un
// contenedor), usa las embebidas en el binario.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/dropDatabas3/mcpgate/internal/config"
	migrations "github.com/dropDatabas3/mcpgate/migrations/postgres"
)

func main() {
	var (
		flagConfigPath = flag.String("config", "", "ruta a config.yaml (fallback: $CONFIG_PATH o solo env)")
		flagDir        = flag.String("dir", "migrations/postgres", "directorio con *_up.sql y *_down.sql")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env (si existe, se carga)")
	)
	flag.Parse()

	if *flagEnvFile != "" {
		if _, err := os.Stat(*flagEnvFile); err == nil {
			_ = godotenv.Load(*flagEnvFile)
		}
	}

	action := "up"
	steps := 0
	if args := flag.Args(); len(args) >= 1 && args[0] != "" {
		action = strings.ToLower(args[0])
		if len(args) >= 2 {
			if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
				steps = n
			}
		}
	}

	dsn := resolveDSN(*flagConfigPath)
	if dsn == "" {
		log.Fatal("migrate: DSN vacío (STORAGE_DSN o storage.dsn en el YAML)")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("pgxpool: %v", err)
	}
	defer pool.Close()

	fsys := pickFS(*flagDir)

	var suffix string
	switch action {
	case "up":
		suffix = "_up.sql"
	case "down":
		suffix = "_down.sql"
	default:
		log.Fatalf("acción desconocida %q. Uso: up | down [pasos]", action)
	}

	files, err := listSQL(fsys, suffix)
	if err != nil {
		log.Fatalf("listar migraciones: %v", err)
	}
	if len(files) == 0 {
		log.Printf("sin archivos *%s. Nada que hacer.", suffix)
		return
	}

	sort.Strings(files)
	if action == "down" {
		// Las down corren de la más nueva a la más vieja.
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}
	if steps > 0 && steps < len(files) {
		files = files[:steps]
	}

	log.Printf("aplicando %d migración(es) %s...", len(files), action)
	for _, f := range files {
		if err := execSQL(ctx, pool, fsys, f); err != nil {
			log.Fatalf("exec %s: %v", f, err)
		}
	}
	log.Printf("migraciones %s completadas.", action)
}

// resolveDSN privilegia STORAGE_DSN; el YAML es para el camino dev clásico.
func resolveDSN(configPath string) string {
	if dsn := strings.TrimSpace(os.Getenv("STORAGE_DSN")); dsn != "" {
		return dsn
	}
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		return ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config (%s): %v", path, err)
	}
	return cfg.Storage.DSN
}

// pickFS usa el directorio si existe; si no, las migraciones embebidas.
func pickFS(dir string) fs.FS {
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		return os.DirFS(dir)
	}
	log.Printf("directorio %s no encontrado, usando migraciones embebidas", dir)
	return migrations.FS
}

func listSQL(fsys fs.FS, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), suffix) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func execSQL(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, name string) error {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	start := time.Now()
	if _, err := pool.Exec(ctx, string(b)); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	log.Printf("OK %s (%s)", name, time.Since(start).Truncate(time.Millisecond))
	return nil
}
