package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	oauthdto "github.com/dropDatabas3/mcpgate/internal/http/dto/oauth"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
)

func randB64(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

type callbackPageData struct {
	Nonce        string
	Year         int
	PayloadB64   string
	OpenerOrigin string
	Success      bool
	Provider     string
	Detail       string
}

// renderResult arma la página de resultado. El payload va en base64 dentro
// de un script no ejecutable; el JS lo decodifica y lo publica al opener.
func (c *Controller) renderResult(ctx context.Context, w http.ResponseWriter, msg oauthdto.CallbackMessage) {
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("OAuth.Callback"))

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error("callback payload marshal failed", logger.Err(err))
		payload = []byte(`{"type":"` + oauthdto.MessageError + `"}`)
	}

	detail := "La instancia quedó conectada. Ya podés cerrar esta ventana."
	if !msg.Success() {
		detail = "No se pudo completar la autorización."
		if msg.Error != nil && msg.Error.Message != "" {
			detail = msg.Error.Message
		}
	}

	// CSP con nonce: solo el CSS/JS inline de esta página puede correr.
	nonce := randB64(16)
	csp := "default-src 'none'; " +
		"img-src 'self' data:; " +
		"style-src 'nonce-" + nonce + "'; " +
		"script-src 'nonce-" + nonce + "'; " +
		"base-uri 'none'; " +
		"frame-ancestors 'none'"

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Security-Policy", csp)

	data := callbackPageData{
		Nonce:        nonce,
		Year:         time.Now().Year(),
		PayloadB64:   base64.StdEncoding.EncodeToString(payload),
		OpenerOrigin: c.openerOrigin,
		Success:      msg.Success(),
		Provider:     msg.Provider,
		Detail:       detail,
	}
	if err := callbackPage.Execute(w, data); err != nil {
		log.Error("callback page render failed", logger.Err(err))
	}
}

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html lang="es">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width,initial-scale=1" />
  <meta name="color-scheme" content="light dark">
  <title>MCP Gate • Autorización</title>
  <style nonce="{{.Nonce}}">
    :root{
      --brand1:#6366f1;
      --brand2:#22d3ee;
      --bg:#f5f7fc;
      --card:#ffffff;
      --text:#0f172a;
      --muted:#64748b;
      --ok:#16a34a;
      --err:#dc2626;
      --radius:16px;
      --shadow:0 10px 30px rgba(79,70,229,.15);
    }
    *{box-sizing:border-box}
    html,body{height:100%}
    body{
      margin:0;
      font-family: system-ui,-apple-system,Segoe UI,Roboto,Arial,sans-serif;
      color:var(--text);
      background:
        radial-gradient(60% 60% at 100% 0%, rgba(34,211,238,.2) 0%, transparent 60%),
        radial-gradient(50% 50% at 0% 100%, rgba(99,102,241,.2) 0%, transparent 60%),
        var(--bg);
      display:grid;
      place-items:center;
      padding:24px;
    }
    .card{
      width:min(460px, 95vw);
      background:var(--card);
      border-radius:var(--radius);
      box-shadow:var(--shadow);
      overflow:hidden;
      animation:pop .25s ease-out both;
    }
    @keyframes pop{from{transform:translateY(6px);opacity:0}to{transform:none;opacity:1}}
    .brand{
      display:flex;align-items:center;gap:12px;padding:16px 20px;
      background:linear-gradient(120deg,var(--brand1),var(--brand2));color:#fff;
    }
    .logo{
      width:34px;height:34px;border-radius:10px;display:grid;place-items:center;
      background:rgba(255,255,255,.2);font-weight:700;user-select:none;
    }
    .brand h1{margin:0;font-size:17px;font-weight:700;letter-spacing:.4px}
    .content{padding:22px}
    .status{display:flex;align-items:center;gap:12px;margin-bottom:8px}
    .status svg{width:22px;height:22px;flex:0 0 22px}
    .status .ok{color:var(--ok)}
    .status .err{color:var(--err)}
    .status h2{margin:0;font-size:19px}
    .subtitle{color:var(--muted);margin:0 0 16px 0}
    .provider{
      display:inline-block;font-size:12px;padding:4px 10px;border-radius:999px;
      background:#eef2ff;color:#3730a3;border:1px solid #dfe3fb;margin-bottom:14px;
    }
    .actions{display:flex;justify-content:flex-end;margin-top:14px}
    button{
      appearance:none;border:0;border-radius:10px;padding:10px 16px;font-weight:600;
      cursor:pointer;color:#fff;background:linear-gradient(120deg,var(--brand1),var(--brand2));
    }
    button:active{transform:translateY(1px)}
    .hint{color:var(--muted);font-size:13px;margin-top:10px}
    footer{
      padding:12px 20px;color:#7b8aa0;font-size:12px;background:#f7f9ff;
      border-top:1px solid #eaeffb;display:flex;justify-content:space-between;
    }
  </style>
</head>
<body>
  <div class="card" role="region" aria-label="Resultado de autorización">
    <header class="brand">
      <div class="logo" aria-hidden="true">MG</div>
      <h1>MCP Gate</h1>
    </header>

    <section class="content">
      <div class="status">
        {{if .Success}}
        <svg class="ok" viewBox="0 0 24 24" fill="none" aria-hidden="true">
          <circle cx="12" cy="12" r="10" stroke="currentColor" stroke-width="1.5" opacity=".25"/>
          <path d="M7 12.5l3.2 3.2L17 9" stroke="currentColor" stroke-width="2.2" stroke-linecap="round" stroke-linejoin="round"/>
        </svg>
        <h2>¡Autorización exitosa!</h2>
        {{else}}
        <svg class="err" viewBox="0 0 24 24" fill="none" aria-hidden="true">
          <circle cx="12" cy="12" r="10" stroke="currentColor" stroke-width="1.5" opacity=".25"/>
          <path d="M8.5 8.5l7 7M15.5 8.5l-7 7" stroke="currentColor" stroke-width="2.2" stroke-linecap="round"/>
        </svg>
        <h2>Autorización fallida</h2>
        {{end}}
      </div>
      {{if .Provider}}<span class="provider">{{.Provider}}</span>{{end}}
      <p class="subtitle">{{.Detail}}</p>

      <div class="actions">
        <button id="closeBtn" type="button">Cerrar ventana</button>
      </div>
      <p class="hint">Si esta pantalla se abrió en un popup, el resultado ya fue comunicado al sitio de origen.</p>
    </section>

    <footer>
      <span>© {{.Year}} MCP Gate</span>
    </footer>
  </div>

  <!-- Payload base64 (lo inyecta el servidor) -->
  <script type="application/octet-stream" id="payload-b64" nonce="{{.Nonce}}">{{.PayloadB64}}</script>

  <script nonce="{{.Nonce}}">
    (function () {
      const b64 = (document.getElementById('payload-b64')?.textContent || '').trim();
      let data = null;
      try { data = JSON.parse(atob(b64)); } catch {}

      const isPopup = !!(window.opener && window.opener !== window && !window.opener.closed);
      const target = "{{.OpenerOrigin}}" || "*";

      // Comunicar al opener (si existe)
      if (isPopup && data) {
        try { window.opener.postMessage(data, target); } catch {}
      }

      const closeBtn = document.getElementById('closeBtn');
      closeBtn?.addEventListener('click', () => {
        window.close();
        try { window.open('', '_self'); } catch {}
        setTimeout(() => { try { window.close(); } catch {} }, 10);
      });

      // Autocerrar: el resultado ya se publicó, la ventana no tiene más uso.
      if (isPopup) {
        setTimeout(() => closeBtn?.click(), 1500);
      }
    })();
  </script>
</body>
</html>`))
