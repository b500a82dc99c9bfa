package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventKind tags the active variant of an Event. The full set matches spec.md §6's "Server -> client events" list.
type EventKind string

const (
	EventAuthenticated EventKind = "Authenticated"
	EventReady         EventKind = "Ready"
	EventPong          EventKind = "Pong"
	EventLogout        EventKind = "Logout"
	EventBulk          EventKind = "Bulk"
	EventError         EventKind = "Error"

	EventMessage       EventKind = "Message"
	EventMessageUpdate EventKind = "MessageUpdate"
	EventMessageDelete EventKind = "MessageDelete"
	EventMessageAppend EventKind = "MessageAppend"

	EventChannelCreate     EventKind = "ChannelCreate"
	EventChannelUpdate     EventKind = "ChannelUpdate"
	EventChannelDelete     EventKind = "ChannelDelete"
	EventChannelGroupJoin  EventKind = "ChannelGroupJoin"
	EventChannelGroupLeave EventKind = "ChannelGroupLeave"
	EventChannelStartTyping EventKind = "ChannelStartTyping"
	EventChannelStopTyping  EventKind = "ChannelStopTyping"
	EventChannelAck         EventKind = "ChannelAck"

	EventServerCreate     EventKind = "ServerCreate"
	EventServerUpdate     EventKind = "ServerUpdate"
	EventServerDelete     EventKind = "ServerDelete"
	EventServerMemberJoin   EventKind = "ServerMemberJoin"
	EventServerMemberLeave  EventKind = "ServerMemberLeave"
	EventServerMemberUpdate EventKind = "ServerMemberUpdate"
	EventServerRoleUpdate   EventKind = "ServerRoleUpdate"
	EventServerRoleDelete   EventKind = "ServerRoleDelete"

	EventEmojiCreate EventKind = "EmojiCreate"
	EventEmojiDelete EventKind = "EmojiDelete"

	EventUserUpdate          EventKind = "UserUpdate"
	EventUserRelationship    EventKind = "UserRelationship"
	EventUserPlatformWipe    EventKind = "UserPlatformWipe"
	EventUserVoiceStateUpdate EventKind = "UserVoiceStateUpdate"

	EventAuthDeleteSession     EventKind = "Auth.DeleteSession"
	EventAuthDeleteAllSessions EventKind = "Auth.DeleteAllSessions"
)

// MemberField and ChannelField and similar "clear" enumerations name optional fields a partial update may blank out
// instead of merely leaving absent. They mirror the data/clear patch pattern the bus uses for every *Update event.
type ClearField string

const (
	ClearChannelDescription ClearField = "Description"
	ClearChannelIcon        ClearField = "Icon"
	ClearChannelDefaultPermissions ClearField = "DefaultPermissions"

	ClearServerDescription ClearField = "Description"
	ClearServerIcon        ClearField = "Icon"

	ClearMemberNickname ClearField = "Nickname"
	ClearMemberAvatar   ClearField = "Avatar"
	ClearMemberRoles    ClearField = "Roles"
	ClearMemberTimeout  ClearField = "Timeout"

	ClearRoleColour ClearField = "Colour"
)

// Patch is a generic partial-update payload: Data carries the JSON-encoded fields being set, Clear names fields
// being removed entirely. ApplyTo* helpers on each cached entity type consume it.
type Patch struct {
	Data  json.RawMessage `json:"data"`
	Clear []ClearField    `json:"clear,omitempty"`
}

// --- Per-kind payloads -------------------------------------------------------------------------------------------

type ChannelUpdateData struct {
	ID    uuid.UUID `json:"id"`
	Patch Patch     `json:"-"`
}

type ChannelDeleteData struct {
	ID uuid.UUID `json:"id"`
}

type ChannelGroupMemberData struct {
	ChannelID uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user"`
}

type TypingData struct {
	ChannelID uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user"`
}

type ServerCreateData struct {
	ID       uuid.UUID `json:"id"`
	Server   Server    `json:"server"`
	Channels []Channel `json:"channels"`
}

type ServerUpdateData struct {
	ID    uuid.UUID `json:"id"`
	Patch Patch     `json:"-"`
}

type ServerDeleteData struct {
	ID uuid.UUID `json:"id"`
}

type ServerMemberKeyData struct {
	ServerID uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user"`
}

type ServerMemberUpdateData struct {
	ServerID uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user"`
	Patch    Patch     `json:"-"`
}

type ServerRoleUpdateData struct {
	ServerID uuid.UUID `json:"server"`
	RoleID   uuid.UUID `json:"role_id"`
	Patch    Patch      `json:"-"`
}

type ServerRoleDeleteData struct {
	ServerID uuid.UUID `json:"server"`
	RoleID   uuid.UUID `json:"role_id"`
}

type EmojiData struct {
	Emoji Emoji `json:"emoji"`
}

type EmojiDeleteData struct {
	ID uuid.UUID `json:"id"`
}

type UserUpdateData struct {
	ID      uuid.UUID `json:"id"`
	Patch   Patch     `json:"-"`
	EventID *string   `json:"event_id,omitempty"`
}

type UserRelationshipData struct {
	ID     uuid.UUID          `json:"id"`
	User   User               `json:"user"`
	Status RelationshipStatus `json:"status"`
}

type UserPlatformWipeData struct {
	ID uuid.UUID `json:"id"`
}

type VoiceStateUpdateData struct {
	State VoiceState `json:"state"`
}

type AuthDeleteSessionData struct {
	SessionID string `json:"session_id"`
}

type AuthDeleteAllSessionsData struct {
	ExcludeSessionID *string `json:"exclude_session_id,omitempty"`
}

type MessageData struct {
	ID     uuid.UUID  `json:"id"`
	User   *User      `json:"user,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// Event is the in-process tagged sum used by the dispatcher. Exactly one payload field matching Kind is populated,
// except for EventBulk which populates BulkEvents. Constructing a different Kind from an existing Event (the
// ChannelUpdate -> ChannelCreate/ChannelDelete rewrite, the Auth -> Logout rewrite) is a fresh struct literal, never
// a mutation of a shared payload -- see spec.md "Rewriting events" design note.
type Event struct {
	Kind EventKind

	ChannelCreate     *Channel
	ChannelUpdate     *ChannelUpdateData
	ChannelDelete     *ChannelDeleteData
	ChannelGroupJoin  *ChannelGroupMemberData
	ChannelGroupLeave *ChannelGroupMemberData
	ChannelTyping     *TypingData

	ServerCreate      *ServerCreateData
	ServerUpdate      *ServerUpdateData
	ServerDelete      *ServerDeleteData
	ServerMemberLeave *ServerMemberKeyData
	ServerMemberUpdate *ServerMemberUpdateData
	ServerRoleUpdate  *ServerRoleUpdateData
	ServerRoleDelete  *ServerRoleDeleteData

	Emoji       *EmojiData
	EmojiDelete *EmojiDeleteData

	UserUpdate       *UserUpdateData
	UserRelationship *UserRelationshipData
	UserPlatformWipe *UserPlatformWipeData
	VoiceState       *VoiceStateUpdateData

	AuthDeleteSession     *AuthDeleteSessionData
	AuthDeleteAllSessions *AuthDeleteAllSessionsData

	Message json.RawMessage

	BulkEvents []Event

	// Raw carries the original bus payload for event kinds the dispatcher passes through unexamined (ChannelAck,
	// MessageUpdate, MessageDelete, MessageAppend, ServerMemberJoin, ...). Never populated alongside a typed field.
	Raw json.RawMessage
}

// Bulk wraps events into a single Bulk event, or -- if triggering is already a Bulk -- flattens additional into its
// existing list. This is the one coalescing rule named in spec.md §4.4's "Bulk coalescing" note: triggering is
// always index 0.
func Bulk(triggering Event, additional ...Event) Event {
	if len(additional) == 0 {
		return triggering
	}
	if triggering.Kind == EventBulk {
		triggering.BulkEvents = append(triggering.BulkEvents, additional...)
		return triggering
	}
	return Event{
		Kind:       EventBulk,
		BulkEvents: append([]Event{triggering}, additional...),
	}
}

// wireEnvelope is the JSON shape published to and consumed from the pub/sub bus, matching the teacher's
// {t,d} envelope (internal/gateway/publisher.go's `envelope` type) generalised to every event kind below.
type wireEnvelope struct {
	Type EventKind       `json:"t"`
	Data json.RawMessage `json:"d,omitempty"`
}

// Encode serialises an Event to its bus wire form.
func Encode(ev Event) ([]byte, error) {
	env, err := toEnvelope(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func toEnvelope(ev Event) (wireEnvelope, error) {
	marshalPatch := func(id any, patch Patch, extra map[string]any) (json.RawMessage, error) {
		m := map[string]any{"data": patch.Data, "clear": patch.Clear}
		for k, v := range extra {
			m[k] = v
		}
		return json.Marshal(m)
	}

	switch ev.Kind {
	case EventBulk:
		raws := make([]json.RawMessage, len(ev.BulkEvents))
		for i, e := range ev.BulkEvents {
			env, err := toEnvelope(e)
			if err != nil {
				return wireEnvelope{}, err
			}
			raw, err := json.Marshal(env)
			if err != nil {
				return wireEnvelope{}, err
			}
			raws[i] = raw
		}
		data, err := json.Marshal(raws)
		return wireEnvelope{Type: EventBulk, Data: data}, err
	case EventChannelCreate:
		data, err := json.Marshal(ev.ChannelCreate)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventChannelUpdate:
		data, err := marshalPatch(nil, ev.ChannelUpdate.Patch, map[string]any{"id": ev.ChannelUpdate.ID})
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventChannelDelete:
		data, err := json.Marshal(ev.ChannelDelete)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventChannelGroupJoin:
		data, err := json.Marshal(ev.ChannelGroupJoin)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventChannelGroupLeave:
		data, err := json.Marshal(ev.ChannelGroupLeave)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventChannelStartTyping, EventChannelStopTyping:
		data, err := json.Marshal(ev.ChannelTyping)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventServerCreate:
		data, err := json.Marshal(ev.ServerCreate)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventServerUpdate:
		data, err := marshalPatch(nil, ev.ServerUpdate.Patch, map[string]any{"id": ev.ServerUpdate.ID})
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventServerDelete:
		data, err := json.Marshal(ev.ServerDelete)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventServerMemberLeave:
		data, err := json.Marshal(ev.ServerMemberLeave)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventServerMemberUpdate:
		data, err := marshalPatch(nil, ev.ServerMemberUpdate.Patch, map[string]any{
			"id": ev.ServerMemberUpdate.ServerID, "user": ev.ServerMemberUpdate.UserID,
		})
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventServerRoleUpdate:
		data, err := marshalPatch(nil, ev.ServerRoleUpdate.Patch, map[string]any{
			"server": ev.ServerRoleUpdate.ServerID, "role_id": ev.ServerRoleUpdate.RoleID,
		})
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventServerRoleDelete:
		data, err := json.Marshal(ev.ServerRoleDelete)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventEmojiCreate:
		data, err := json.Marshal(ev.Emoji)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventEmojiDelete:
		data, err := json.Marshal(ev.EmojiDelete)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventUserUpdate:
		extra := map[string]any{"id": ev.UserUpdate.ID}
		if ev.UserUpdate.EventID != nil {
			extra["event_id"] = *ev.UserUpdate.EventID
		}
		data, err := marshalPatch(nil, ev.UserUpdate.Patch, extra)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventUserRelationship:
		data, err := json.Marshal(ev.UserRelationship)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventUserPlatformWipe:
		data, err := json.Marshal(ev.UserPlatformWipe)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventUserVoiceStateUpdate:
		data, err := json.Marshal(ev.VoiceState)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventAuthDeleteSession:
		data, err := json.Marshal(ev.AuthDeleteSession)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventAuthDeleteAllSessions:
		data, err := json.Marshal(ev.AuthDeleteAllSessions)
		return wireEnvelope{Type: ev.Kind, Data: data}, err
	case EventMessage:
		return wireEnvelope{Type: ev.Kind, Data: ev.Message}, nil
	case EventLogout, EventAuthenticated:
		return wireEnvelope{Type: ev.Kind}, nil
	default:
		// Pass-through kinds (MessageUpdate, MessageDelete, MessageAppend, ChannelAck, ServerMemberJoin, Error,
		// Pong, Ready) carry their payload verbatim in Raw; the gateway never needs to inspect their fields.
		return wireEnvelope{Type: ev.Kind, Data: ev.Raw}, nil
	}
}

// Decode parses a bus wire payload into an in-process Event. Unknown or malformed kinds return an error so the
// caller can apply spec.md §7's "payload decode failure" handling (log a short prefix, terminate the connection).
func Decode(payload []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	return fromEnvelope(env)
}

func fromEnvelope(env wireEnvelope) (Event, error) {
	unmarshalPatch := func(dst any) (Patch, error) {
		var wrapper struct {
			Data  json.RawMessage `json:"data"`
			Clear []ClearField    `json:"clear"`
		}
		if err := json.Unmarshal(env.Data, &wrapper); err != nil {
			return Patch{}, err
		}
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return Patch{}, err
		}
		return Patch{Data: wrapper.Data, Clear: wrapper.Clear}, nil
	}

	ev := Event{Kind: env.Type}
	switch env.Type {
	case EventBulk:
		var raws []json.RawMessage
		if err := json.Unmarshal(env.Data, &raws); err != nil {
			return Event{}, fmt.Errorf("decode bulk: %w", err)
		}
		ev.BulkEvents = make([]Event, 0, len(raws))
		for _, raw := range raws {
			var inner wireEnvelope
			if err := json.Unmarshal(raw, &inner); err != nil {
				return Event{}, fmt.Errorf("decode bulk element: %w", err)
			}
			e, err := fromEnvelope(inner)
			if err != nil {
				return Event{}, err
			}
			ev.BulkEvents = append(ev.BulkEvents, e)
		}
	case EventChannelCreate:
		ev.ChannelCreate = &Channel{}
		if err := json.Unmarshal(env.Data, ev.ChannelCreate); err != nil {
			return Event{}, fmt.Errorf("decode channel create: %w", err)
		}
	case EventChannelUpdate:
		var id struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return Event{}, fmt.Errorf("decode channel update id: %w", err)
		}
		patch, err := unmarshalPatch(&struct{}{})
		if err != nil {
			return Event{}, fmt.Errorf("decode channel update patch: %w", err)
		}
		ev.ChannelUpdate = &ChannelUpdateData{ID: id.ID, Patch: patch}
	case EventChannelDelete:
		ev.ChannelDelete = &ChannelDeleteData{}
		if err := json.Unmarshal(env.Data, ev.ChannelDelete); err != nil {
			return Event{}, fmt.Errorf("decode channel delete: %w", err)
		}
	case EventChannelGroupJoin:
		ev.ChannelGroupJoin = &ChannelGroupMemberData{}
		if err := json.Unmarshal(env.Data, ev.ChannelGroupJoin); err != nil {
			return Event{}, fmt.Errorf("decode group join: %w", err)
		}
	case EventChannelGroupLeave:
		ev.ChannelGroupLeave = &ChannelGroupMemberData{}
		if err := json.Unmarshal(env.Data, ev.ChannelGroupLeave); err != nil {
			return Event{}, fmt.Errorf("decode group leave: %w", err)
		}
	case EventChannelStartTyping, EventChannelStopTyping:
		ev.ChannelTyping = &TypingData{}
		if err := json.Unmarshal(env.Data, ev.ChannelTyping); err != nil {
			return Event{}, fmt.Errorf("decode typing: %w", err)
		}
	case EventServerCreate:
		ev.ServerCreate = &ServerCreateData{}
		if err := json.Unmarshal(env.Data, ev.ServerCreate); err != nil {
			return Event{}, fmt.Errorf("decode server create: %w", err)
		}
	case EventServerUpdate:
		var id struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return Event{}, fmt.Errorf("decode server update id: %w", err)
		}
		patch, err := unmarshalPatch(&struct{}{})
		if err != nil {
			return Event{}, fmt.Errorf("decode server update patch: %w", err)
		}
		ev.ServerUpdate = &ServerUpdateData{ID: id.ID, Patch: patch}
	case EventServerDelete:
		ev.ServerDelete = &ServerDeleteData{}
		if err := json.Unmarshal(env.Data, ev.ServerDelete); err != nil {
			return Event{}, fmt.Errorf("decode server delete: %w", err)
		}
	case EventServerMemberLeave:
		ev.ServerMemberLeave = &ServerMemberKeyData{}
		if err := json.Unmarshal(env.Data, ev.ServerMemberLeave); err != nil {
			return Event{}, fmt.Errorf("decode member leave: %w", err)
		}
	case EventServerMemberUpdate:
		var id struct {
			ServerID uuid.UUID `json:"id"`
			UserID   uuid.UUID `json:"user"`
		}
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return Event{}, fmt.Errorf("decode member update id: %w", err)
		}
		patch, err := unmarshalPatch(&struct{}{})
		if err != nil {
			return Event{}, fmt.Errorf("decode member update patch: %w", err)
		}
		ev.ServerMemberUpdate = &ServerMemberUpdateData{ServerID: id.ServerID, UserID: id.UserID, Patch: patch}
	case EventServerRoleUpdate:
		var id struct {
			ServerID uuid.UUID `json:"server"`
			RoleID   uuid.UUID `json:"role_id"`
		}
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return Event{}, fmt.Errorf("decode role update id: %w", err)
		}
		patch, err := unmarshalPatch(&struct{}{})
		if err != nil {
			return Event{}, fmt.Errorf("decode role update patch: %w", err)
		}
		ev.ServerRoleUpdate = &ServerRoleUpdateData{ServerID: id.ServerID, RoleID: id.RoleID, Patch: patch}
	case EventServerRoleDelete:
		ev.ServerRoleDelete = &ServerRoleDeleteData{}
		if err := json.Unmarshal(env.Data, ev.ServerRoleDelete); err != nil {
			return Event{}, fmt.Errorf("decode role delete: %w", err)
		}
	case EventEmojiCreate:
		ev.Emoji = &EmojiData{}
		if err := json.Unmarshal(env.Data, ev.Emoji); err != nil {
			return Event{}, fmt.Errorf("decode emoji create: %w", err)
		}
	case EventEmojiDelete:
		ev.EmojiDelete = &EmojiDeleteData{}
		if err := json.Unmarshal(env.Data, ev.EmojiDelete); err != nil {
			return Event{}, fmt.Errorf("decode emoji delete: %w", err)
		}
	case EventUserUpdate:
		var id struct {
			ID      uuid.UUID `json:"id"`
			EventID *string   `json:"event_id"`
		}
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return Event{}, fmt.Errorf("decode user update id: %w", err)
		}
		patch, err := unmarshalPatch(&struct{}{})
		if err != nil {
			return Event{}, fmt.Errorf("decode user update patch: %w", err)
		}
		ev.UserUpdate = &UserUpdateData{ID: id.ID, Patch: patch, EventID: id.EventID}
	case EventUserRelationship:
		ev.UserRelationship = &UserRelationshipData{}
		if err := json.Unmarshal(env.Data, ev.UserRelationship); err != nil {
			return Event{}, fmt.Errorf("decode relationship: %w", err)
		}
	case EventUserPlatformWipe:
		ev.UserPlatformWipe = &UserPlatformWipeData{}
		if err := json.Unmarshal(env.Data, ev.UserPlatformWipe); err != nil {
			return Event{}, fmt.Errorf("decode platform wipe: %w", err)
		}
	case EventUserVoiceStateUpdate:
		ev.VoiceState = &VoiceStateUpdateData{}
		if err := json.Unmarshal(env.Data, ev.VoiceState); err != nil {
			return Event{}, fmt.Errorf("decode voice state: %w", err)
		}
	case EventAuthDeleteSession:
		ev.AuthDeleteSession = &AuthDeleteSessionData{}
		if err := json.Unmarshal(env.Data, ev.AuthDeleteSession); err != nil {
			return Event{}, fmt.Errorf("decode auth delete session: %w", err)
		}
	case EventAuthDeleteAllSessions:
		ev.AuthDeleteAllSessions = &AuthDeleteAllSessionsData{}
		if err := json.Unmarshal(env.Data, ev.AuthDeleteAllSessions); err != nil {
			return Event{}, fmt.Errorf("decode auth delete all sessions: %w", err)
		}
	case EventMessage:
		ev.Message = env.Data
	case EventLogout, EventAuthenticated:
		// no payload
	default:
		ev.Raw = env.Data
	}
	return ev, nil
}
