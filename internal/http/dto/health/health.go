package health

import "time"

// LiveResponse es la respuesta de /healthz: el proceso atiende requests.
type LiveResponse struct {
	Status string `json:"status"`
}

// ComponentStatus describe el estado de una dependencia (store, cache).
type ComponentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ReadyResponse es la respuesta de /readyz con el detalle por componente.
type ReadyResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentStatus `json:"components"`
}

// InstanceHealthResponse resume el estado de una instancia concreta sin
// tocar tokens ni refrescar nada.
type InstanceHealthResponse struct {
	InstanceID  string `json:"instanceId"`
	Service     string `json:"service"`
	Status      string `json:"status"`
	OAuthStatus string `json:"oauthStatus,omitempty"`
	Healthy     bool   `json:"healthy"`
}
