package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/dispatch"
	"github.com/uncord-chat/uncord-server/internal/entitycache"
	"github.com/uncord-chat/uncord-server/internal/protocol"
	"github.com/uncord-chat/uncord-server/internal/pubsub"
	"github.com/uncord-chat/uncord-server/internal/subscription"
)

const (
	// maxMessageSize caps a single inbound client frame (spec.md only names Ping/BeginTyping/EndTyping/Authenticate,
	// all tiny payloads).
	maxMessageSize = 4096

	// writeWait bounds how long a single frame write may take before it is treated as a failed write.
	writeWait = 10 * time.Second
)

// connection runs spec.md §4.5's per-connection state machine: handshake, Ready, presence begin/end, and the
// cooperating bus/client loops sharing the write half through writeMu.
type connection struct {
	gw   *Gateway
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	rateCount       int
	rateWindowStart time.Time
}

// run drives one connection end to end. token is the handshake query parameter, empty if the client must supply
// one via an Authenticate frame.
func (c *connection) run(ctx context.Context, token string) {
	defer func() { _ = c.conn.Close() }()
	c.conn.SetReadLimit(maxMessageSize)

	if token == "" {
		frame, err := c.readClientFrame()
		if err != nil || frame.Type != protocol.ClientOpAuthenticate {
			c.sendError(ctx, "InvalidSession")
			return
		}
		token, err = frame.AuthenticatePayload()
		if err != nil || token == "" {
			c.sendError(ctx, "InvalidSession")
			return
		}
	}

	user, err := c.gw.resolver.ResolveToken(ctx, token)
	if err != nil {
		c.log.Debug().Err(err).Msg("token resolution failed")
		c.sendError(ctx, "InvalidSession")
		return
	}

	cache := entitycache.New(user.ID, user.Bot)
	subs := subscription.New()

	readyEvent, err := buildReady(ctx, c.gw.db, c.gw.presence, c.gw.readyFields, cache, subs, user)
	if err != nil {
		// spec.md §7 case 7: the connection terminates before any events flow.
		c.log.Error().Err(err).Stringer("user_id", user.ID).Msg("build ready snapshot")
		return
	}

	if err := c.send(protocol.Event{Kind: protocol.EventAuthenticated}); err != nil {
		return
	}
	if err := c.send(readyEvent); err != nil {
		return
	}

	sub := c.gw.bus.NewSubscriber(ctx)
	defer func() { _ = sub.Close() }()
	if !c.reconcileSubscriptions(ctx, sub, subs) {
		return
	}

	sessionID, firstSession, err := c.gw.presence.CreateSession(ctx, user.ID)
	if err != nil {
		c.log.Error().Err(err).Stringer("user_id", user.ID).Msg("create presence session")
		return
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lastSession, err := c.gw.presence.DeleteSession(dctx, user.ID, sessionID)
		if err != nil {
			c.log.Warn().Err(err).Stringer("user_id", user.ID).Msg("delete presence session")
			return
		}
		if lastSession {
			c.broadcastPresence(dctx, cache, user.ID, false)
		}
	}()

	if firstSession {
		c.broadcastPresence(ctx, cache, user.ID, true)
	}

	dispatcher := dispatch.New(cache, subs, c.gw.db, sessionID, c.log)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.busLoop(connCtx, sub, subs, dispatcher)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.clientLoop(connCtx, subs, sessionID, user.ID)
	}()
	wg.Wait()
}

// busLoop implements the "pubsub deliveries -> Event Dispatcher -> write" half of the select loop.
func (c *connection) busLoop(ctx context.Context, sub pubsub.Subscriber, subs *subscription.Manager, dispatcher *dispatch.Dispatcher) {
	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// spec.md §7 case 5: subscriber failure, state no longer trustable.
			c.log.Warn().Err(err).Msg("subscriber recv failed")
			return
		}

		ev, err := protocol.Decode(msg.Payload)
		if err != nil {
			// spec.md §7 case 6: payload decode failure.
			prefix := msg.Payload
			if len(prefix) > 64 {
				prefix = prefix[:64]
			}
			c.log.Warn().Err(err).Str("topic", msg.Topic).Bytes("payload_prefix", prefix).Msg("payload decode failure")
			return
		}

		decision := dispatcher.Handle(ctx, ev)
		if !c.reconcileSubscriptions(ctx, sub, subs) {
			return
		}
		if decision.Kind == dispatch.Drop {
			continue
		}
		if err := c.send(decision.Event); err != nil {
			return
		}
		if decision.Terminate {
			return
		}
	}
}

// clientLoop implements the "client frames -> Ping/Typing" half of the select loop.
func (c *connection) clientLoop(ctx context.Context, subs *subscription.Manager, sessionID string, userID uuid.UUID) {
	for {
		frame, err := c.readClientFrame()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		switch frame.Type {
		case protocol.ClientOpPing:
			data, hasResponded, err := frame.PingPayload()
			if err != nil || hasResponded {
				continue
			}
			pongData, _ := json.Marshal(struct {
				Data int64 `json:"data"`
			}{Data: data})
			if err := c.send(protocol.Event{Kind: protocol.EventPong, Raw: pongData}); err != nil {
				return
			}
		case protocol.ClientOpBeginTyping, protocol.ClientOpEndTyping:
			idStr, err := frame.ChannelPayload()
			if err != nil {
				continue
			}
			channelID, err := uuid.Parse(idStr)
			if err != nil {
				continue
			}
			topic := subscription.ChannelTopic(channelID)
			if !subs.Has(topic) {
				continue
			}
			kind := protocol.EventChannelStartTyping
			if frame.Type == protocol.ClientOpEndTyping {
				kind = protocol.EventChannelStopTyping
			}
			ev := protocol.Event{Kind: kind, ChannelTyping: &protocol.TypingData{ChannelID: channelID, UserID: userID}}
			payload, err := protocol.Encode(ev)
			if err != nil {
				continue
			}
			if err := c.gw.bus.Publish(ctx, string(topic), payload); err != nil {
				c.log.Warn().Err(err).Msg("publish typing event")
			}
		default:
			// Authenticate post-Ready, and any unrecognised kind: dropped.
		}
	}
}

// readClientFrame blocks for the next inbound WebSocket message and decodes it. Rate limiting is applied here since
// every client-originated frame passes through this single point.
func (c *connection) readClientFrame() (protocol.ClientFrame, error) {
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.ClientFrame{}, err
	}
	if c.rateLimited() {
		return protocol.ClientFrame{}, errors.New("rate limit exceeded")
	}
	return protocol.DecodeClientFrame(message)
}

func (c *connection) rateLimited() bool {
	now := time.Now()
	window := time.Duration(c.gw.cfg.RateLimitWSWindowSeconds) * time.Second
	if now.Sub(c.rateWindowStart) > window {
		c.rateCount = 0
		c.rateWindowStart = now
	}
	c.rateCount++
	return c.rateCount > c.gw.cfg.RateLimitWSCount
}

// send writes one event to the client, guarded by writeMu since both loops may write concurrently.
func (c *connection) send(ev protocol.Event) error {
	payload, err := protocol.EncodeServerFrame(ev)
	if err != nil {
		return fmt.Errorf("encode server frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// spec.md §7 case 3 vs 4: transient "already closed" writes exit silently, anything else is logged.
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.log.Debug().Err(err).Msg("write error")
		}
		return err
	}
	return nil
}

type errorPayload struct {
	Code string `json:"code"`
}

// sendError sends a single Error frame (spec.md §7 case 2) and lets run's deferred Close tear the socket down.
func (c *connection) sendError(ctx context.Context, code string) {
	data, err := json.Marshal(errorPayload{Code: code})
	if err != nil {
		return
	}
	_ = c.send(protocol.Event{Kind: protocol.EventError, Raw: data})
}

// reconcileSubscriptions applies subs.Reconcile()'s outcome to sub, committing only on full success (spec.md §4.3).
// A failure here is spec.md §7 case 5 and must terminate the connection.
func (c *connection) reconcileSubscriptions(ctx context.Context, sub pubsub.Subscriber, subs *subscription.Manager) bool {
	outcome := subs.Reconcile()
	switch outcome.Kind {
	case subscription.OutcomeNone:
		return true
	case subscription.OutcomeReset:
		if err := sub.UnsubscribeAll(ctx); err != nil {
			c.log.Warn().Err(err).Msg("unsubscribe all failed")
			return false
		}
		for topic := range subs.Desired() {
			if err := sub.Subscribe(ctx, string(topic)); err != nil {
				c.log.Warn().Err(err).Msg("subscribe failed")
				return false
			}
		}
	case subscription.OutcomeChange:
		for _, topic := range outcome.Add {
			if err := sub.Subscribe(ctx, string(topic)); err != nil {
				c.log.Warn().Err(err).Msg("subscribe failed")
				return false
			}
		}
		for _, topic := range outcome.Remove {
			if err := sub.Unsubscribe(ctx, string(topic)); err != nil {
				c.log.Warn().Err(err).Msg("unsubscribe failed")
				return false
			}
		}
	}
	subs.Commit()
	return true
}

// broadcastPresence publishes a presence transition to every server the viewer currently belongs to and to the
// viewer's own user topic, unless the viewer's status is Invisible (spec.md §9 "Presence broadcast suppression").
func (c *connection) broadcastPresence(ctx context.Context, cache *entitycache.Cache, userID uuid.UUID, online bool) {
	status, err := c.gw.presence.Get(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Msg("read presence status for broadcast")
		return
	}
	if online && status == "offline" {
		if err := c.gw.presence.Set(ctx, userID, "online"); err != nil {
			c.log.Warn().Err(err).Msg("set initial presence status")
		}
		status = "online"
	}
	if status == "invisible" {
		return
	}

	patchData, err := json.Marshal(map[string]any{"online": online})
	if err != nil {
		return
	}
	ev := protocol.Event{Kind: protocol.EventUserUpdate, UserUpdate: &protocol.UserUpdateData{
		ID:    userID,
		Patch: protocol.Patch{Data: patchData},
	}}
	payload, err := protocol.Encode(ev)
	if err != nil {
		c.log.Warn().Err(err).Msg("encode presence transition")
		return
	}

	topics := append([]string{userID.String()}, serverTopics(cache)...)
	for _, topic := range topics {
		if err := c.gw.bus.Publish(ctx, topic, payload); err != nil {
			c.log.Warn().Err(err).Str("topic", topic).Msg("publish presence transition")
		}
	}
}

func serverTopics(cache *entitycache.Cache) []string {
	ids := cache.ServerIDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(subscription.ServerTopic(id))
	}
	return out
}
