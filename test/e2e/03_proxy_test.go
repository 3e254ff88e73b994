package e2e

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/mcpgate/internal/store/core"
)

// 03 - Proxy hacia el backend de herramientas detrás del gate de credenciales
func Test_03_Proxy_PassThrough(t *testing.T) {
	user := newUserID()
	inst := completedInstance(user, "outlook", time.Hour)
	store.put(inst)
	tools.reset()

	c := newHTTPClient()
	req, err := http.NewRequest(http.MethodPost,
		gwURL+"/v1/instances/"+inst.ID+"/proxy/v1/messages?limit=5",
		strings.NewReader(`{"q":"hola"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	// Credenciales del cliente: no deben llegar al backend.
	req.Header.Set("Authorization", "Bearer del-cliente")
	req.Header.Set("Cookie", "sid=123")

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "fake", resp.Header.Get("X-Tool-Backend"))

	pr := tools.lastProxied(t)
	require.Equal(t, http.MethodPost, pr.Method)
	require.Equal(t, "/v1/messages", pr.Path)
	require.Equal(t, "limit=5", pr.Query)
	require.Equal(t, "Bearer "+*inst.AccessToken, pr.Authorization)
	require.Equal(t, inst.ID, pr.InstanceID)
	require.Equal(t, user, pr.UserID)
	require.Empty(t, pr.Cookie)
	require.JSONEq(t, `{"q":"hola"}`, pr.Body)

	// El uso queda registrado en background.
	eventually(t, time.Second, func() bool {
		return store.snapshot(t, inst.ID).LastUsedAt != nil
	})
}

func Test_03_Proxy_SecondHitComesFromCache(t *testing.T) {
	user := newUserID()
	inst := completedInstance(user, "outlook", time.Hour)
	store.put(inst)
	tools.reset()

	c := newHTTPClient()
	get := func() {
		resp, err := c.Get(gwURL + "/v1/instances/" + inst.ID + "/proxy/ping")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// Primer hit: resuelve contra el store y siembra el cache.
	get()
	before := store.lookupCount()

	// Segundo hit: camino rápido, el store no se toca.
	get()
	require.Equal(t, before, store.lookupCount())

	pr := tools.lastProxied(t)
	require.Equal(t, "Bearer "+*inst.AccessToken, pr.Authorization)
}

func Test_03_Proxy_RefreshesExpiredToken(t *testing.T) {
	user := newUserID()
	inst := completedInstance(user, "outlook", -time.Minute)
	store.put(inst)

	provider.reset()
	provider.stubRefresh(200, `{"access_token":"at-renewed","refresh_token":"rt-renewed","expires_in":3600,"token_type":"Bearer"}`)
	tools.reset()

	c := newHTTPClient()
	resp, err := c.Get(gwURL + "/v1/instances/" + inst.ID + "/proxy/ping")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// El refresh fue contra el provider con el refresh token guardado.
	form := provider.lastCall(t)
	require.Equal(t, "refresh_token", form.Get("grant_type"))
	require.Equal(t, *inst.RefreshToken, form.Get("refresh_token"))
	require.Equal(t, "client-outlook", form.Get("client_id"))

	// El backend recibió el bearer renovado.
	pr := tools.lastProxied(t)
	require.Equal(t, "Bearer at-renewed", pr.Authorization)

	// La rotación quedó persistida y cacheada.
	got := store.snapshot(t, inst.ID)
	require.Equal(t, "at-renewed", *got.AccessToken)
	require.Equal(t, "rt-renewed", *got.RefreshToken)
	require.Equal(t, core.OAuthCompleted, *got.OAuthStatus)

	snap, err := creds.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	require.Equal(t, "at-renewed", snap.BearerToken)
	require.Equal(t, "rt-renewed", snap.RefreshToken)
	require.Equal(t, "outlook", snap.Service)
}

func Test_03_Proxy_ReauthRequired(t *testing.T) {
	user := newUserID()
	// Instancia pending: sin access ni refresh token.
	inst := pendingInstance(user, "outlook")
	store.put(inst)

	c := newHTTPClient()
	resp, err := c.Get(gwURL + "/v1/instances/" + inst.ID + "/proxy/ping")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env := decodeError(t, resp)
	require.Equal(t, "REAUTH_REQUIRED", env.Code)
	require.True(t, env.RequiresReauth)
}

func Test_03_Proxy_RefreshDeniedDemandsReauth(t *testing.T) {
	user := newUserID()
	inst := completedInstance(user, "outlook", -time.Minute)
	store.put(inst)

	provider.reset()
	// invalid_grant: el provider revocó el refresh token.
	provider.stubRefresh(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"token revoked"}`)

	c := newHTTPClient()
	resp, err := c.Get(gwURL + "/v1/instances/" + inst.ID + "/proxy/ping")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env := decodeError(t, resp)
	require.Equal(t, "REAUTH_REQUIRED", env.Code)
	require.True(t, env.RequiresReauth)

	// Un refresh muerto anula el grant completo: failed y sin tokens.
	got := store.snapshot(t, inst.ID)
	require.Equal(t, core.OAuthFailed, *got.OAuthStatus)
	require.Nil(t, got.AccessToken)
	require.Nil(t, got.RefreshToken)
}

func Test_03_Proxy_InstanceGate(t *testing.T) {
	c := newHTTPClient()

	// pausada
	{
		inst := completedInstance(newUserID(), "outlook", time.Hour)
		inst.Status = core.StatusInactive
		store.put(inst)

		resp, err := c.Get(gwURL + "/v1/instances/" + inst.ID + "/proxy/ping")
		require.NoError(t, err)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, "INSTANCE_PAUSED", decodeError(t, resp).Code)
	}

	// vencida por fecha
	{
		inst := completedInstance(newUserID(), "outlook", time.Hour)
		inst.ExpiresAt = timep(time.Now().Add(-time.Hour))
		store.put(inst)

		resp, err := c.Get(gwURL + "/v1/instances/" + inst.ID + "/proxy/ping")
		require.NoError(t, err)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, "INSTANCE_EXPIRED", decodeError(t, resp).Code)
	}

	// servicio deshabilitado
	{
		inst := completedInstance(newUserID(), "outlook", time.Hour)
		inst.ServiceActive = false
		store.put(inst)

		resp, err := c.Get(gwURL + "/v1/instances/" + inst.ID + "/proxy/ping")
		require.NoError(t, err)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		require.Equal(t, "SERVICE_DISABLED", decodeError(t, resp).Code)
	}

	// id que no es UUID
	{
		resp, err := c.Get(gwURL + "/v1/instances/not-a-uuid/proxy/ping")
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "INVALID_INSTANCE_ID", decodeError(t, resp).Code)
	}

	// instancia inexistente
	{
		resp, err := c.Get(gwURL + "/v1/instances/" + newUserID() + "/proxy/ping")
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, "INSTANCE_NOT_FOUND", decodeError(t, resp).Code)
	}
}

func Test_03_Proxy_ServiceWithoutBackend(t *testing.T) {
	user := newUserID()
	// teams tiene provider pero ningún backend configurado.
	inst := completedInstance(user, "teams", time.Hour)
	store.put(inst)

	c := newHTTPClient()
	resp, err := c.Get(gwURL + "/v1/instances/" + inst.ID + "/proxy/ping")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	env := decodeError(t, resp)
	require.Equal(t, "SERVICE_UNAVAILABLE", env.Code)
	require.Contains(t, env.Detail, "no tool backend")
}
