// Package gateway implements the session gateway from spec.md §4.5: one goroutine pair per WebSocket connection,
// each owning its own entity cache, subscription set and write half, coordinated only through the shared pub/sub
// bus, database and presence collaborators.
package gateway

import (
	"context"
	"net/url"
	"sync/atomic"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/config"
	"github.com/uncord-chat/uncord-server/internal/pubsub"
)

// Gateway holds the collaborators shared by every connection and hands off newly upgraded sockets to a fresh
// connection state machine.
type Gateway struct {
	db          Database
	presence    Presence
	bus         *pubsub.Client
	resolver    TokenResolver
	cfg         *config.Config
	readyFields ReadyPayloadFields
	log         zerolog.Logger

	activeConnections atomic.Int64
}

// New creates a Gateway. readyFields controls which optional Ready sections (§4.6 step 9) are populated for every
// connection; a deployment that has no policy/settings/unread backing store should leave those fields false rather
// than wire a Database that always returns nil, so the distinction between "not requested" and "nothing to send"
// stays visible in the Ready payload.
func New(db Database, presenceSvc Presence, bus *pubsub.Client, resolver TokenResolver, cfg *config.Config, readyFields ReadyPayloadFields, logger zerolog.Logger) *Gateway {
	return &Gateway{
		db:          db,
		presence:    presenceSvc,
		bus:         bus,
		resolver:    resolver,
		cfg:         cfg,
		readyFields: readyFields,
		log:         logger,
	}
}

// ServeWebSocket runs the handshake (spec.md §4.5's ws_upgrade step) against an already-upgraded connection and,
// on success, drives it until it terminates. query carries the upgrade request's version/format/token parameters.
func (g *Gateway) ServeWebSocket(conn *websocket.Conn, query url.Values) {
	if query.Get("version") != "1" {
		// spec.md §7 case 1: handshake failure, drop silently.
		_ = conn.Close()
		return
	}
	if format := query.Get("format"); format != "" && format != "json" {
		// Only the json codec is implemented in this tree -- see DESIGN.md.
		_ = conn.Close()
		return
	}

	if g.activeConnections.Add(1) > int64(g.cfg.GatewayMaxConnections) {
		g.activeConnections.Add(-1)
		_ = conn.Close()
		return
	}
	defer g.activeConnections.Add(-1)

	c := &connection{gw: g, conn: conn, log: g.log.With().Logger()}
	c.run(context.Background(), query.Get("token"))
}
