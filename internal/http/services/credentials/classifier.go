package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/dropDatabas3/mcpgate/internal/audit"
	"github.com/dropDatabas3/mcpgate/internal/oauth"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
)

// Classification es el veredicto sobre un refresh fallido: si el usuario
// tiene que volver a pasar por el consent o el fallo es transitorio.
type Classification struct {
	RequiresReauth bool
	ErrorCode      string
	Message        string
}

// reauthCodes son los códigos OAuth canónicos que significan grant muerto:
// ningún reintento lo revive sin consentimiento del usuario.
var reauthCodes = map[string]bool{
	"invalid_grant":         true,
	"invalid_token":         true,
	"token_revoked":         true,
	"token_expired":         true,
	"invalid_refresh_token": true,
	"interaction_required":  true,
	"consent_required":      true,
}

// reauthPhrases cubre providers que entierran el código dentro de un mensaje
// libre (el clásico "Token has been expired or revoked." de Google).
var reauthPhrases = []string{
	"invalid_grant",
	"token has been expired or revoked",
}

// Classifier decide si un refresh fallido exige re-autenticación.
// Cada decisión queda en el audit trail de forma síncrona.
type Classifier struct {
	audit *audit.Logger
}

// NewClassifier crea un Classifier. Un audit logger nil se reemplaza por uno
// sin sink.
func NewClassifier(a *audit.Logger) *Classifier {
	if a == nil {
		a = audit.New(nil)
	}
	return &Classifier{audit: a}
}

// Classify inspecciona err y registra el veredicto.
func (c *Classifier) Classify(ctx context.Context, instanceID, service string, err error) Classification {
	cl := classify(err)

	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Op("Classifier.Classify"),
		logger.InstanceID(instanceID),
	)
	log.Info("auth error classified",
		logger.Service(service),
		logger.String("error_code", cl.ErrorCode),
		logger.Bool("requires_reauth", cl.RequiresReauth),
	)

	status := audit.StatusFailed
	if cl.RequiresReauth {
		status = audit.StatusDenied
	}
	c.audit.Log(ctx, audit.Entry{
		InstanceID: instanceID,
		Operation:  audit.OpClassify,
		Status:     status,
		Service:    service,
		Error:      cl.ErrorCode + ": " + cl.Message,
	})
	return cl
}

func classify(err error) Classification {
	if err == nil {
		return Classification{ErrorCode: "unknown_error", Message: "refresh failed without error detail"}
	}

	// Primero el error estructurado del provider: el campo code es la fuente
	// de verdad cuando existe.
	var te *oauth.TokenError
	if errors.As(err, &te) && reauthCodes[te.Code] {
		return Classification{
			RequiresReauth: true,
			ErrorCode:      te.Code,
			Message:        "reauthorization required: " + te.Error(),
		}
	}

	// Fallback por substring para providers que envuelven el código en prosa.
	msg := strings.ToLower(err.Error())
	for _, phrase := range reauthPhrases {
		if strings.Contains(msg, phrase) {
			code := "invalid_grant"
			if te != nil && te.Code != "" {
				code = te.Code
			}
			return Classification{
				RequiresReauth: true,
				ErrorCode:      code,
				Message:        "reauthorization required: " + err.Error(),
			}
		}
	}

	code := "refresh_failed"
	if te != nil && te.Code != "" {
		code = te.Code
	}
	return Classification{ErrorCode: code, Message: "token refresh failed: " + err.Error()}
}
