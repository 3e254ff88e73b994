package errors

import (
	"encoding/json"
	"net/http"
)

// errorResponse controla exactamente qué campos se envían al cliente.
type errorResponse struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Detail         string `json:"detail,omitempty"`
	RequiresReauth bool   `json:"requiresReauth,omitempty"`
}

// WriteError escribe una respuesta HTTP basada en el error proporcionado.
// Maneja automáticamente errores de tipo *AppError y errores genéricos.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	resp := errorResponse{
		Code:           appErr.Code,
		Message:        appErr.Message,
		Detail:         appErr.Detail,
		RequiresReauth: appErr.RequiresReauth,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
