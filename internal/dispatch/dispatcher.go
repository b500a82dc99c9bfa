// Package dispatch implements the event dispatcher described in spec.md §4.4: the single per-connection entry
// point that folds an incoming bus event into the entity cache, decides visibility, may rewrite the event, may
// schedule a server-wide permission recalculation, and returns a decision for the session gateway to act on.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/entitycache"
	"github.com/uncord-chat/uncord-server/internal/protocol"
	"github.com/uncord-chat/uncord-server/internal/subscription"
)

// ChannelLoader loads a single channel on demand, e.g. when a ChannelUpdate or a server recalculation references a
// channel not yet in the cache. Per spec.md §7 item 8, any error (including "not found") is treated as "channel
// currently unknown" and is not a connection-level failure.
type ChannelLoader interface {
	FetchChannel(ctx context.Context, id uuid.UUID) (protocol.Channel, error)
}

// DecisionKind is the dispatcher's verdict for one incoming event.
type DecisionKind string

const (
	Drop      DecisionKind = "drop"
	Emit      DecisionKind = "emit"
	Terminate DecisionKind = "terminate"
)

// Decision is returned by Handle. Event is populated only for Emit. Terminate additionally set on Emit means
// "emit this event, then close the connection" (the Logout case); Terminate alone with no event means the
// connection must close without a final frame (reserved for future use, unused by any current case).
type Decision struct {
	Kind      DecisionKind
	Event     protocol.Event
	Terminate bool
}

func emit(ev protocol.Event) Decision { return Decision{Kind: Emit, Event: ev} }
func drop() Decision                  { return Decision{Kind: Drop} }

// Dispatcher folds bus events into one connection's cache and subscription set.
type Dispatcher struct {
	cache     *entitycache.Cache
	subs      *subscription.Manager
	channels  ChannelLoader
	sessionID string
	log       zerolog.Logger
}

// New creates a dispatcher bound to one connection's cache, subscription manager and session id.
func New(cache *entitycache.Cache, subs *subscription.Manager, channels ChannelLoader, sessionID string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{cache: cache, subs: subs, channels: channels, sessionID: sessionID, log: logger}
}

// Handle applies ev to the connection's state and returns what the gateway should do with it.
func (d *Dispatcher) Handle(ctx context.Context, ev protocol.Event) Decision {
	switch ev.Kind {
	case protocol.EventChannelCreate:
		return d.handleChannelCreate(ev)
	case protocol.EventChannelUpdate:
		return d.handleChannelUpdate(ctx, ev)
	case protocol.EventChannelDelete:
		return d.handleChannelDelete(ev)
	case protocol.EventChannelGroupJoin:
		return d.handleGroupJoin(ev)
	case protocol.EventChannelGroupLeave:
		return d.handleGroupLeave(ev)
	case protocol.EventServerCreate:
		return d.handleServerCreate(ctx, ev)
	case protocol.EventServerUpdate:
		return d.handleServerUpdate(ctx, ev)
	case protocol.EventServerMemberLeave:
		return d.handleMemberLeave(ev)
	case protocol.EventServerDelete:
		return d.handleServerDelete(ev)
	case protocol.EventServerMemberUpdate:
		return d.handleMemberUpdate(ctx, ev)
	case protocol.EventServerRoleUpdate:
		return d.handleRoleUpdate(ctx, ev)
	case protocol.EventServerRoleDelete:
		return d.handleRoleDelete(ctx, ev)
	case protocol.EventEmojiCreate:
		return d.handleEmojiCreate(ev)
	case protocol.EventEmojiDelete:
		return d.handleEmojiDelete(ev)
	case protocol.EventUserUpdate:
		return d.handleUserUpdate(ev)
	case protocol.EventUserRelationship:
		return d.handleUserRelationship(ev)
	case protocol.EventUserPlatformWipe:
		return d.handleUserPlatformWipe(ev)
	case protocol.EventMessage:
		return d.handleMessage(ev)
	case protocol.EventAuthDeleteSession:
		return d.handleAuthDeleteSession(ev)
	case protocol.EventAuthDeleteAllSessions:
		return d.handleAuthDeleteAllSessions(ev)
	default:
		// All other events pass through unchanged (spec.md §4.4): MessageUpdate, MessageDelete, MessageAppend,
		// ChannelAck, ServerMemberJoin, UserVoiceStateUpdate, Error, Pong, Ready,
		// Authenticated, and any already-built Bulk.
		return emit(ev)
	}
}

func (d *Dispatcher) handleChannelCreate(ev protocol.Event) Decision {
	ch := *ev.ChannelCreate
	d.cache.PutChannel(ch)
	d.subs.Insert(subscription.ChannelTopic(ch.ID))
	return emit(ev)
}

func (d *Dispatcher) handleChannelUpdate(ctx context.Context, ev protocol.Event) Decision {
	data := ev.ChannelUpdate
	couldView := false
	if cached, ok := d.cache.Channel(data.ID); ok {
		couldView = d.cache.CanViewChannel(cached)
	}

	if cached, ok := d.cache.Channel(data.ID); ok {
		updated := applyChannelPatch(cached, data.Patch)
		d.cache.PutChannel(updated)
	} else if d.channels != nil {
		if loaded, err := d.channels.FetchChannel(ctx, data.ID); err == nil {
			d.cache.PutChannel(loaded)
		} else {
			d.log.Debug().Err(err).Stringer("channel_id", data.ID).Msg("channel not cached and not loadable on update")
		}
	}

	cached, stillCached := d.cache.Channel(data.ID)
	canView := stillCached && d.cache.CanViewChannel(cached)

	switch {
	case couldView == canView:
		return emit(ev)
	case !couldView && canView:
		d.subs.Insert(subscription.ChannelTopic(data.ID))
		created := cached
		return emit(protocol.Event{Kind: protocol.EventChannelCreate, ChannelCreate: &created})
	default: // couldView && !canView
		d.subs.Remove(subscription.ChannelTopic(data.ID))
		return emit(protocol.Event{Kind: protocol.EventChannelDelete, ChannelDelete: &protocol.ChannelDeleteData{ID: data.ID}})
	}
}

func (d *Dispatcher) handleChannelDelete(ev protocol.Event) Decision {
	id := ev.ChannelDelete.ID
	d.subs.Remove(subscription.ChannelTopic(id))
	d.cache.RemoveChannel(id)
	return emit(ev)
}

func (d *Dispatcher) handleGroupJoin(ev protocol.Event) Decision {
	d.subs.Insert(subscription.UserTopic(ev.ChannelGroupJoin.UserID))
	return emit(ev)
}

func (d *Dispatcher) handleGroupLeave(ev protocol.Event) Decision {
	leave := ev.ChannelGroupLeave
	switch {
	case leave.UserID == d.cache.ViewerID:
		d.subs.Remove(subscription.ChannelTopic(leave.ChannelID))
	case !d.cache.CanSubscribeToUser(leave.UserID):
		d.subs.Remove(subscription.UserTopic(leave.UserID))
	}
	return emit(ev)
}

func (d *Dispatcher) handleServerCreate(ctx context.Context, ev protocol.Event) Decision {
	data := ev.ServerCreate
	d.subs.Insert(subscription.ServerTopic(data.ID))
	if d.cache.IsBot {
		d.subs.Insert(subscription.BotServerTopic(data.ID))
	}
	d.cache.PutServer(data.Server)
	d.cache.PutMember(protocol.Member{ServerID: data.ID, UserID: d.cache.ViewerID, Roles: nil})
	for _, ch := range data.Channels {
		d.cache.PutChannel(ch)
	}
	return d.recalculateServer(ctx, data.ID, ev)
}

func (d *Dispatcher) handleServerUpdate(ctx context.Context, ev protocol.Event) Decision {
	data := ev.ServerUpdate
	srv, ok := d.cache.Server(data.ID)
	if !ok {
		return emit(ev)
	}
	changedDefaults := applyServerPatch(&srv, data.Patch)
	d.cache.PutServer(srv)
	if changedDefaults {
		return d.recalculateServer(ctx, data.ID, ev)
	}
	return emit(ev)
}

func (d *Dispatcher) handleMemberLeave(ev protocol.Event) Decision {
	key := ev.ServerMemberLeave
	if key.UserID == d.cache.ViewerID {
		d.removeServerAndChannels(key.ServerID)
	}
	return emit(ev)
}

func (d *Dispatcher) handleServerDelete(ev protocol.Event) Decision {
	d.removeServerAndChannels(ev.ServerDelete.ID)
	return emit(ev)
}

// removeServerAndChannels implements the cleanup shared by ServerMemberLeave(self) and ServerDelete (spec.md §4.4,
// invariant I5): every channel belonging to the server is dropped from the cache and from subscriptions, then the
// server and the viewer's membership record go in one step (entitycache.RemoveServer already couples those two).
func (d *Dispatcher) removeServerAndChannels(serverID uuid.UUID) {
	for _, ch := range d.cache.ChannelsByServer(serverID) {
		d.subs.Remove(subscription.ChannelTopic(ch.ID))
		d.cache.RemoveChannel(ch.ID)
	}
	d.cache.RemoveEmojiByParent(serverID)
	d.subs.Remove(subscription.ServerTopic(serverID))
	if d.cache.IsBot {
		d.subs.Remove(subscription.BotServerTopic(serverID))
	}
	d.cache.RemoveServer(serverID)
}

func (d *Dispatcher) handleMemberUpdate(ctx context.Context, ev protocol.Event) Decision {
	data := ev.ServerMemberUpdate
	if data.UserID != d.cache.ViewerID {
		return emit(ev)
	}
	member, ok := d.cache.Member(data.ServerID)
	if !ok {
		return emit(ev)
	}
	rolesChanged := applyMemberPatch(&member, data.Patch)
	d.cache.PutMember(member)
	if rolesChanged {
		return d.recalculateServer(ctx, data.ServerID, ev)
	}
	return emit(ev)
}

func (d *Dispatcher) handleRoleUpdate(ctx context.Context, ev protocol.Event) Decision {
	data := ev.ServerRoleUpdate
	srv, ok := d.cache.Server(data.ServerID)
	if !ok {
		return emit(ev)
	}
	// Only an already-cached role is patched; an update for a role this connection never saw is not synthesized
	// into existence, matching the ground truth's `if let Some(role) = server.roles.get_mut(role_id)`.
	role, existed := srv.Roles[data.RoleID]
	if !existed {
		return emit(ev)
	}
	rankOrPermsChanged := applyRolePatch(&role, data.Patch)
	srv.Roles[data.RoleID] = role
	d.cache.PutServer(srv)

	if rankOrPermsChanged && d.viewerHasRole(data.ServerID, data.RoleID) {
		return d.recalculateServer(ctx, data.ServerID, ev)
	}
	return emit(ev)
}

func (d *Dispatcher) handleRoleDelete(ctx context.Context, ev protocol.Event) Decision {
	data := ev.ServerRoleDelete
	srv, ok := d.cache.Server(data.ServerID)
	if !ok {
		return emit(ev)
	}
	hadRole := d.viewerHasRole(data.ServerID, data.RoleID)
	delete(srv.Roles, data.RoleID)
	d.cache.PutServer(srv)

	if hadRole {
		return d.recalculateServer(ctx, data.ServerID, ev)
	}
	return emit(ev)
}

func (d *Dispatcher) viewerHasRole(serverID, roleID uuid.UUID) bool {
	member, ok := d.cache.Member(serverID)
	if !ok {
		return false
	}
	for _, r := range member.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// handleEmojiCreate and handleEmojiDelete keep the cache's emoji table (used by RemoveEmojiByParent on server
// exit, SPEC_FULL.md §D.1) current; the event itself always passes through to the client unchanged.
func (d *Dispatcher) handleEmojiCreate(ev protocol.Event) Decision {
	d.cache.PutEmoji(ev.Emoji.Emoji)
	return emit(ev)
}

func (d *Dispatcher) handleEmojiDelete(ev protocol.Event) Decision {
	d.cache.RemoveEmoji(ev.EmojiDelete.ID)
	return emit(ev)
}

func (d *Dispatcher) handleUserUpdate(ev protocol.Event) Decision {
	data := ev.UserUpdate
	if data.EventID != nil {
		if d.cache.MarkSeen(*data.EventID) {
			return drop()
		}
	}
	stripped := *data
	stripped.EventID = nil
	ev.UserUpdate = &stripped
	return emit(ev)
}

func (d *Dispatcher) handleUserRelationship(ev protocol.Event) Decision {
	data := ev.UserRelationship
	d.cache.PutUser(data.User)
	d.cache.SetRelationship(data.ID, data.Status)
	if d.cache.CanSubscribeToUser(data.ID) {
		d.subs.Insert(subscription.UserTopic(data.ID))
	} else {
		d.subs.Remove(subscription.UserTopic(data.ID))
	}
	return emit(ev)
}

// handleUserPlatformWipe implements SPEC_FULL.md §D.3: an account deletion is treated the same way a
// relationship-goes-to-None transition is, since the user is no longer reachable from this connection's
// perspective either way.
func (d *Dispatcher) handleUserPlatformWipe(ev protocol.Event) Decision {
	id := ev.UserPlatformWipe.ID
	d.subs.Remove(subscription.UserTopic(id))
	d.cache.RemoveUser(id)
	return emit(ev)
}

// handleMessage enriches the embedded user (if present) with the viewer's own perspective on their relationship,
// per spec.md's Message case. Message payloads are otherwise passed through opaquely (Raw JSON), so this rewrites
// just the `user.relationship` field inside the raw payload.
func (d *Dispatcher) handleMessage(ev protocol.Event) Decision {
	var envelope struct {
		User *json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(ev.Message, &envelope); err != nil || envelope.User == nil {
		return emit(ev)
	}

	var user protocol.User
	if err := json.Unmarshal(*envelope.User, &user); err != nil {
		return emit(ev)
	}
	user.Relationship = d.cache.Relationship(user.ID)

	patched, err := json.Marshal(user)
	if err != nil {
		return emit(ev)
	}

	var whole map[string]json.RawMessage
	if err := json.Unmarshal(ev.Message, &whole); err != nil {
		return emit(ev)
	}
	whole["user"] = patched
	rewritten, err := json.Marshal(whole)
	if err != nil {
		return emit(ev)
	}
	ev.Message = rewritten
	return emit(ev)
}

func (d *Dispatcher) handleAuthDeleteSession(ev protocol.Event) Decision {
	if ev.AuthDeleteSession.SessionID != d.sessionID {
		return drop()
	}
	return Decision{Kind: Emit, Event: protocol.Event{Kind: protocol.EventLogout}, Terminate: true}
}

func (d *Dispatcher) handleAuthDeleteAllSessions(ev protocol.Event) Decision {
	excl := ev.AuthDeleteAllSessions.ExcludeSessionID
	if excl != nil && *excl == d.sessionID {
		return drop()
	}
	return Decision{Kind: Emit, Event: protocol.Event{Kind: protocol.EventLogout}, Terminate: true}
}

// recalculateServer implements spec.md §4.4's "Server recalculation": it refreshes every cached channel's
// visibility for serverID, loads previously-invisible-and-uncached channels named by the server's channel list,
// and folds the resulting ChannelCreate/ChannelDelete events into triggering via the Bulk coalescing rule.
func (d *Dispatcher) recalculateServer(ctx context.Context, serverID uuid.UUID, triggering protocol.Event) Decision {
	var bulk []protocol.Event

	for _, ch := range d.cache.ChannelsByServer(serverID) {
		if d.cache.CanViewChannel(ch) {
			d.subs.Insert(subscription.ChannelTopic(ch.ID))
			continue
		}
		d.subs.Remove(subscription.ChannelTopic(ch.ID))
		d.cache.RemoveChannel(ch.ID)
		bulk = append(bulk, protocol.Event{Kind: protocol.EventChannelDelete, ChannelDelete: &protocol.ChannelDeleteData{ID: ch.ID}})
	}

	srv, ok := d.cache.Server(serverID)
	if ok && d.channels != nil {
		known := make(map[uuid.UUID]struct{})
		for _, ch := range d.cache.ChannelsByServer(serverID) {
			known[ch.ID] = struct{}{}
		}
		for _, id := range srv.Channels {
			if _, cached := known[id]; cached {
				continue
			}
			loaded, err := d.channels.FetchChannel(ctx, id)
			if err != nil {
				d.log.Debug().Err(err).Stringer("channel_id", id).Msg("channel unavailable during server recalculation")
				continue
			}
			if !d.cache.CanViewChannel(loaded) {
				continue
			}
			d.cache.PutChannel(loaded)
			d.subs.Insert(subscription.ChannelTopic(loaded.ID))
			created := loaded
			bulk = append(bulk, protocol.Event{Kind: protocol.EventChannelCreate, ChannelCreate: &created})
		}
	}

	if len(bulk) == 0 {
		return emit(triggering)
	}
	return emit(protocol.Bulk(triggering, bulk...))
}
