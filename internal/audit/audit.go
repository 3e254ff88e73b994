// Package audit registra las operaciones sobre tokens y flujos OAuth.
//
// Cada entrada se loguea de forma síncrona (zap, nunca falla) y se inserta en
// token_audit_log de forma best-effort en una goroutine separada con su propio
// timeout. Un fallo del sink jamás bloquea ni afecta el camino crítico.
package audit

import (
	"context"
	"time"

	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
	"github.com/dropDatabas3/mcpgate/internal/store/core"
)

const sinkTimeout = 3 * time.Second

// Operaciones auditadas.
const (
	OpRefresh   = "token_refresh"
	OpAuthorize = "oauth_authorize"
	OpCallback  = "oauth_callback"
	OpDemand    = "token_demand"
	OpForward   = "token_forward"
	OpClassify  = "auth_classify"
)

// Resultados de una operación auditada.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusDenied  = "denied"
)

// Entry es una entrada de auditoría.
type Entry struct {
	InstanceID string
	Operation  string
	Status     string
	Method     string
	Service    string
	Error      string
	Scope      string
}

// Sink persiste entradas. *pg.Store lo implementa.
type Sink interface {
	InsertTokenAudit(ctx context.Context, rec *core.TokenAuditRecord) error
}

// Logger escribe entradas de auditoría. Un sink nil es válido (solo log).
type Logger struct {
	sink Sink
}

// New crea el audit logger. sink puede ser nil.
func New(sink Sink) *Logger {
	return &Logger{sink: sink}
}

// Log registra la entrada. El log estructurado es síncrono; la inserción en
// el store corre detached y sus errores se loguean y se descartan.
func (l *Logger) Log(ctx context.Context, e Entry) {
	log := logger.From(ctx).With(logger.Layer("audit"), logger.Op(e.Operation))
	log.Info("token audit",
		logger.InstanceID(e.InstanceID),
		logger.Service(e.Service),
		logger.String("status", e.Status),
		logger.RefreshMethod(e.Method),
		logger.String("audit_error", e.Error),
	)

	if l == nil || l.sink == nil {
		return
	}

	rec := &core.TokenAuditRecord{
		Operation: e.Operation,
		Status:    e.Status,
		Method:    e.Method,
		Service:   e.Service,
		Error:     e.Error,
		Scope:     e.Scope,
	}
	if e.InstanceID != "" {
		id := e.InstanceID
		rec.InstanceID = &id
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.L().Error("audit sink panic", logger.Any("recover", r))
			}
		}()
		// Contexto propio: el request pudo haber terminado ya.
		ctx2, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := l.sink.InsertTokenAudit(ctx2, rec); err != nil {
			logger.L().Warn("audit insert failed",
				logger.Op(e.Operation),
				logger.InstanceID(e.InstanceID),
				logger.Err(err),
			)
		}
	}()
}
