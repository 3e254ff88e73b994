// Package logger provides a singleton Zap logger with context-based scoping.
//
// # Design Decisions
//
//   - Singleton: Una sola instancia global inicializada con Init().
//   - Context Scoping: Cada request lleva su propio logger "scoped" con campos
//     adicionales (request_id, instance_id, etc.) sin crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//   - Levels: debug, info, warn, error (configurable vía config/LOG_LEVEL).
//
// # Usage
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{Env: cfg.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// En middlewares/services (con contexto):
//
//	log := logger.From(ctx)
//	log.Info("token refreshed", logger.InstanceID(id), logger.Service(svc))
//
// Sin contexto (fallback a singleton):
//
//	logger.L().Info("application started")
package logger
