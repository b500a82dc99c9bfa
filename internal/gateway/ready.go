package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/entitycache"
	"github.com/uncord-chat/uncord-server/internal/protocol"
	"github.com/uncord-chat/uncord-server/internal/subscription"
)

// ReadyPayloadFields selects which optional Ready sections step 9 populates; a field left false keeps the
// corresponding JSON key omitted rather than present-but-empty (spec.md §4.6: "absent fields map to None/omitted").
type ReadyPayloadFields struct {
	Emoji          bool
	UserSettings   bool
	ChannelUnreads bool
	VoiceStates    bool
	PolicyChanges  bool
}

// readyPayload is the wire shape of the Ready event's data, marshalled directly as Event.Raw.
type readyPayload struct {
	Users          []protocol.User           `json:"users"`
	Servers        []protocol.Server         `json:"servers"`
	Channels       []protocol.Channel        `json:"channels"`
	Members        []protocol.Member         `json:"members"`
	Emojis         []protocol.Emoji          `json:"emojis,omitempty"`
	UserSettings   json.RawMessage           `json:"user_settings,omitempty"`
	ChannelUnreads json.RawMessage           `json:"channel_unreads,omitempty"`
	VoiceStates    []protocol.VoiceState     `json:"voice_states,omitempty"`
	PolicyChanges  json.RawMessage           `json:"policy_changes,omitempty"`
}

// buildReady executes spec.md §4.6's twelve steps against db and presenceSvc, populating cache and subs in place
// and returning the Ready event to send. It performs only reads; nothing is written to the client or to the bus
// until the caller has this event in hand, so a failure here (spec.md §7 case 7) leaves the connection untouched.
func buildReady(ctx context.Context, db Database, presenceSvc Presence, fields ReadyPayloadFields, cache *entitycache.Cache, subs *subscription.Manager, viewer protocol.User) (protocol.Event, error) {
	// Step 1: viewer user and bot flag.
	cache.IsBot = viewer.Bot
	cache.PutUser(viewer)

	// Step 2: memberships.
	members, err := db.FetchAllMemberships(ctx, viewer.ID)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("fetch memberships: %w", err)
	}
	for _, m := range members {
		cache.PutMember(m)
	}

	// Step 3: servers for those memberships.
	serverIDs := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		serverIDs = append(serverIDs, m.ServerID)
	}
	servers, err := db.FetchServers(ctx, serverIDs)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("fetch servers: %w", err)
	}
	for _, s := range servers {
		cache.PutServer(s)
	}

	// Step 4: union of every server's channels, plus the viewer's direct-message channels.
	channelIDSet := make(map[uuid.UUID]struct{})
	var channelIDs []uuid.UUID
	for _, s := range servers {
		for _, id := range s.Channels {
			if _, ok := channelIDSet[id]; !ok {
				channelIDSet[id] = struct{}{}
				channelIDs = append(channelIDs, id)
			}
		}
	}
	serverChannels, err := db.FetchChannels(ctx, channelIDs)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("fetch channels: %w", err)
	}
	dmChannels, err := db.FindDirectMessages(ctx, viewer.ID)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("find direct messages: %w", err)
	}
	allChannels := append(serverChannels, dmChannels...)

	// Step 5: filter by visibility, populate cache.channels.
	var keptChannels []protocol.Channel
	for _, ch := range allChannels {
		if cache.CanViewChannel(ch) {
			cache.PutChannel(ch)
			keptChannels = append(keptChannels, ch)
		}
	}

	// Step 6: collect referenced user ids (relations + DM/Group recipients).
	userIDSet := make(map[uuid.UUID]struct{})
	var userIDs []uuid.UUID
	addUser := func(id uuid.UUID) {
		if id == viewer.ID {
			return
		}
		if _, ok := userIDSet[id]; !ok {
			userIDSet[id] = struct{}{}
			userIDs = append(userIDs, id)
		}
	}
	for _, rel := range viewer.Relations {
		addUser(rel.UserID)
	}
	for _, ch := range keptChannels {
		if ch.Kind == protocol.ChannelDirectMessage || ch.Kind == protocol.ChannelGroup {
			for _, r := range ch.Recipients {
				addUser(r)
			}
		}
	}

	// Step 7: presence lookup for those users.
	onlineIDs, err := presenceSvc.FilterOnline(ctx, userIDs)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("filter online: %w", err)
	}
	online := make(map[uuid.UUID]struct{}, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = struct{}{}
	}

	// Step 8: fetch those users, insert viewer.
	users, err := db.FetchUsers(ctx, userIDs)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("fetch users: %w", err)
	}

	// Step 10: enrich foreign users with a viewer-perspective relationship; enrich the viewer as self.
	payloadUsers := make([]protocol.User, 0, len(users)+1)
	for _, u := range users {
		u.Relationship = cache.Relationship(u.ID)
		if _, ok := online[u.ID]; ok {
			status := "online"
			u.Presence = &status
		}
		cache.PutUser(u)
		payloadUsers = append(payloadUsers, u)
	}
	self := viewer
	self.Relationship = protocol.RelationshipUser
	payloadUsers = append(payloadUsers, self)

	// Step 9: optional sections, gated by fields.
	var (
		emojis         []protocol.Emoji
		userSettings   json.RawMessage
		channelUnreads json.RawMessage
		voiceStates    []protocol.VoiceState
		policyChanges  json.RawMessage
	)
	if fields.Emoji && len(serverIDs) > 0 {
		emojis, err = db.FetchEmojiByParentIDs(ctx, serverIDs)
		if err != nil {
			return protocol.Event{}, fmt.Errorf("fetch emoji: %w", err)
		}
	}
	if fields.UserSettings {
		userSettings, err = db.FetchUserSettings(ctx, viewer.ID)
		if err != nil {
			return protocol.Event{}, fmt.Errorf("fetch user settings: %w", err)
		}
	}
	if fields.ChannelUnreads {
		channelUnreads, err = db.FetchUnreads(ctx, viewer.ID)
		if err != nil {
			return protocol.Event{}, fmt.Errorf("fetch unreads: %w", err)
		}
	}
	if fields.VoiceStates && len(keptChannels) > 0 {
		voiceChannelIDs := make([]uuid.UUID, 0, len(keptChannels))
		for _, ch := range keptChannels {
			if ch.Kind == protocol.ChannelVoice {
				voiceChannelIDs = append(voiceChannelIDs, ch.ID)
			}
		}
		voiceStates, err = db.FetchVoiceStates(ctx, voiceChannelIDs)
		if err != nil {
			return protocol.Event{}, fmt.Errorf("fetch voice states: %w", err)
		}
	}
	if fields.PolicyChanges {
		policyChanges, err = db.FetchPolicyChanges(ctx, viewer.ID)
		if err != nil {
			return protocol.Event{}, fmt.Errorf("fetch policy changes: %w", err)
		}
	}

	// Step 11: reset subscriptions and insert the full desired set.
	subs.Reset()
	subs.Insert(subscription.PrivateTopic(viewer.ID))
	for _, id := range userIDs {
		if cache.CanSubscribeToUser(id) {
			subs.Insert(subscription.UserTopic(id))
		}
	}
	for _, id := range serverIDs {
		subs.Insert(subscription.ServerTopic(id))
		if viewer.Bot {
			subs.Insert(subscription.BotServerTopic(id))
		}
	}
	for _, ch := range keptChannels {
		subs.Insert(subscription.ChannelTopic(ch.ID))
	}

	// Step 12: assemble the Ready payload.
	payload := readyPayload{
		Users:          payloadUsers,
		Servers:        servers,
		Channels:       keptChannels,
		Members:        members,
		Emojis:         emojis,
		UserSettings:   userSettings,
		ChannelUnreads: channelUnreads,
		VoiceStates:    voiceStates,
		PolicyChanges:  policyChanges,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("marshal ready payload: %w", err)
	}
	return protocol.Event{Kind: protocol.EventReady, Raw: raw}, nil
}
