package handler

import (
	"context"
	"net/http"
	"time"

	"gowa-relay/internal/service"

	"github.com/labstack/echo/v4"
)

// POST /session/start
// Deliberately not bound to the request context: the QR channel and the
// connect handshake must outlive this HTTP exchange.
func StartSession(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := m.Start(context.Background()); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError,
				"Failed to start session", "SESSION_START_FAILED", err.Error())
		}
		return SuccessResponse(c, http.StatusOK, "Session starting", m.Health())
	}
}

// GET /session/status?recover=true
// With recover=true this doubles as a connect nudge: the manager starts
// the session when it is down and no reconnect is pending.
func SessionStatus(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.QueryParam("recover") == "true" {
			health, action := m.EnsureConnected(context.Background())
			return SuccessResponse(c, http.StatusOK, "Session status", map[string]interface{}{
				"health": health,
				"action": action,
			})
		}
		return SuccessResponse(c, http.StatusOK, "Session status", map[string]interface{}{
			"health": m.Health(),
		})
	}
}

// POST /session/refresh
func RefreshSession(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		go m.Refresh(context.Background())
		return SuccessResponse(c, http.StatusAccepted, "Refresh started", nil)
	}
}

// POST /session/logout
func LogoutSession(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		m.Logout(c.Request().Context())
		return SuccessResponse(c, http.StatusOK, "Logged out", m.Health())
	}
}

// GET /session/qr
func SessionQR(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		code, expiresAt := m.LatestQR()
		if code == "" {
			return ErrorResponse(c, http.StatusNotFound,
				"No QR code pending", "NO_QR", "Start the session first, or it is already paired")
		}
		return SuccessResponse(c, http.StatusOK, "QR code", map[string]interface{}{
			"qr_data":    code,
			"expires_at": expiresAt.Format(time.RFC3339),
		})
	}
}

// GET /qr - minimal pairing page, live-updated over the websocket.
func QRPage() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.HTML(http.StatusOK, qrPageHTML)
	}
}

const qrPageHTML = `<!DOCTYPE html>
<html>
<head>
<title>Pair Device</title>
<script src="https://cdn.jsdelivr.net/npm/qrcodejs@1.0.0/qrcode.min.js"></script>
<style>
body { font-family: sans-serif; display: flex; flex-direction: column; align-items: center; margin-top: 40px; }
#qr { margin: 20px; }
#status { color: #555; }
</style>
</head>
<body>
<h2>Scan to pair</h2>
<div id="qr"></div>
<p id="status">Waiting for QR code...</p>
<script>
var qr = new QRCode(document.getElementById("qr"), { width: 256, height: 256 });
var status = document.getElementById("status");
var proto = location.protocol === "https:" ? "wss://" : "ws://";
var sock = new WebSocket(proto + location.host + "/ws");
sock.onmessage = function (msg) {
  var evt = JSON.parse(msg.data);
  if (evt.event === "QR_GENERATED") {
    qr.clear();
    qr.makeCode(evt.data.qr_data);
    status.textContent = "Scan the code with your phone";
  } else if (evt.event === "QR_SUCCESS" || evt.event === "SESSION_CONNECTED") {
    status.textContent = "Paired and connected";
  } else if (evt.event === "QR_TIMEOUT") {
    status.textContent = "QR expired, restart the session";
  }
};
fetch("/session/qr").then(function (r) { return r.json(); }).then(function (body) {
  if (body.success && body.data.qr_data) {
    qr.makeCode(body.data.qr_data);
    status.textContent = "Scan the code with your phone";
  }
}).catch(function () {});
</script>
</body>
</html>
`
