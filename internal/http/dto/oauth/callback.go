// Package oauth define los payloads que viajan entre la página de resultado
// del callback y la ventana que abrió el popup de autorización.
package oauth

const (
	// MessageSuccess es el type del postMessage cuando la autorización
	// terminó bien y la instancia quedó con credenciales activas.
	MessageSuccess = "OAUTH_SUCCESS"
	// MessageError es el type del postMessage para cualquier fallo: error
	// del provider, state inválido, intercambio fallido o límite de plan.
	MessageError = "OAUTH_ERROR"
)

// CallbackMessage es el objeto que la página publica vía postMessage hacia
// window.opener. Nunca incluye tokens: solo identidad de la instancia y,
// en fallos, el código y mensaje del error.
type CallbackMessage struct {
	Type       string         `json:"type"`
	Provider   string         `json:"provider"`
	InstanceID string         `json:"instanceId,omitempty"`
	Service    string         `json:"service,omitempty"`
	Error      *CallbackError `json:"error,omitempty"`
	Plan       *PlanUsage     `json:"plan,omitempty"`
}

// Success reporta si el mensaje corresponde a una autorización completada.
func (m CallbackMessage) Success() bool { return m.Type == MessageSuccess }

// CallbackError detalla un fallo del flujo con código estable y mensaje
// apto para mostrar al usuario.
type CallbackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PlanUsage acompaña los rechazos por límite de plan para que el dashboard
// pueda mostrar el uso actual sin otra consulta.
type PlanUsage struct {
	Current  int    `json:"current"`
	Max      int    `json:"max"`
	PlanName string `json:"planName,omitempty"`
}
