package e2e

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/mcpgate/internal/store/core"
)

// 05 - Health por instancia y exposición de métricas
func Test_05_InstanceHealth(t *testing.T) {
	user := newUserID()
	inst := completedInstance(user, "slack", time.Hour)
	store.put(inst)

	c := newHTTPClient()
	resp, err := c.Get(gwURL + "/v1/instances/" + inst.ID + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		InstanceID  string `json:"instanceId"`
		Service     string `json:"service"`
		Status      string `json:"status"`
		OAuthStatus string `json:"oauthStatus"`
		Healthy     bool   `json:"healthy"`
	}
	mustJSON(t, resp.Body, &out)
	require.Equal(t, inst.ID, out.InstanceID)
	require.Equal(t, "slack", out.Service)
	require.Equal(t, core.StatusActive, out.Status)
	require.Equal(t, core.OAuthCompleted, out.OAuthStatus)
	require.True(t, out.Healthy)
}

func Test_05_InstanceHealth_AppliesGate(t *testing.T) {
	c := newHTTPClient()

	// El health liviano aplica la misma escalera de vigencia que el proxy,
	// pero nunca dispara un refresh.
	inst := completedInstance(newUserID(), "slack", time.Hour)
	inst.Status = core.StatusInactive
	store.put(inst)

	resp, err := c.Get(gwURL + "/v1/instances/" + inst.ID + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "INSTANCE_PAUSED", decodeError(t, resp).Code)

	// Aun con el token vencido el health no toca al provider.
	provider.reset()
	stale := completedInstance(newUserID(), "outlook", -time.Minute)
	store.put(stale)

	resp, err = c.Get(gwURL + "/v1/instances/" + stale.ID + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Zero(t, provider.callCount())
}

func Test_05_Metrics_Exposed(t *testing.T) {
	c := newHTTPClient()

	resp, err := c.Get(gwURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	require.Contains(t, text, "http_requests_total")
	require.Contains(t, text, "http_request_duration_seconds")
	// Las rutas con ID se normalizan para no explotar la cardinalidad.
	require.Contains(t, text, "/v1/instances/:param")
}
