package api

import (
	"net/url"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/uncord-chat/uncord-server/internal/gateway"
)

// GatewayHandler serves the WebSocket upgrade endpoint for the real-time event gateway.
type GatewayHandler struct {
	gw *gateway.Gateway
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(gw *gateway.Gateway) *GatewayHandler {
	return &GatewayHandler{gw: gw}
}

// Upgrade handles GET /api/v1/gateway. It upgrades the HTTP connection to a WebSocket and hands it to the Gateway
// along with the handshake's version/format/token query parameters.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	query := url.Values{}
	query.Set("version", c.Query("version"))
	query.Set("format", c.Query("format"))
	query.Set("token", c.Query("token"))

	return websocket.New(func(conn *websocket.Conn) {
		h.gw.ServeWebSocket(conn.Conn, query)
	})(c)
}
