// Package protocol defines the domain and wire types shared by the real-time event fanout core: users, servers,
// channels, members, roles, voice state and the tagged event sum exchanged between the pub/sub bus and connected
// clients. It intentionally has no dependency on the REST/CRUD layer or the database driver — it is the vocabulary
// the gateway, entity cache, subscription manager and dispatcher share.
package protocol

import "github.com/google/uuid"

// RelationshipStatus describes how a user relates to another user from the viewer's perspective.
type RelationshipStatus string

const (
	RelationshipNone         RelationshipStatus = "None"
	RelationshipFriend       RelationshipStatus = "Friend"
	RelationshipIncoming     RelationshipStatus = "Incoming"
	RelationshipOutgoing     RelationshipStatus = "Outgoing"
	RelationshipBlocked      RelationshipStatus = "Blocked"
	RelationshipBlockedOther RelationshipStatus = "BlockedOther"
	RelationshipUser         RelationshipStatus = "User"
)

// Relationship records the viewer's relationship with one other user.
type Relationship struct {
	UserID uuid.UUID          `json:"id"`
	Status RelationshipStatus `json:"status"`
}

// User is a platform account. Relations and Relationship are only populated when relevant to the requesting
// viewer: Relations holds the viewer's own relationship list (present only on the viewer's own User), Relationship
// holds this user's relationship as seen by the viewer (present on every foreign user).
type User struct {
	ID           uuid.UUID      `json:"id"`
	Username     string         `json:"username"`
	Discriminator string        `json:"discriminator"`
	DisplayName  *string        `json:"display_name,omitempty"`
	AvatarID     *string        `json:"avatar,omitempty"`
	StatusText   *string        `json:"status_text,omitempty"`
	Presence     *string        `json:"presence,omitempty"`
	Bot          bool           `json:"bot,omitempty"`
	Relations    []Relationship `json:"relations,omitempty"`
	Relationship RelationshipStatus `json:"relationship,omitempty"`
}

// RolePermissions is an allow/deny override pair applied while folding a role into a permission bitmask.
type RolePermissions struct {
	Allow Permission `json:"a"`
	Deny  Permission `json:"d"`
}

// Role is a server-scoped permission grouping. Rank orders roles for override application: lower rank is applied
// earlier, so a higher-rank (larger integer) role's allow/deny wins on conflict. Ties break on RoleID.
type Role struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Permissions RolePermissions `json:"permissions"`
	Rank        int             `json:"rank"`
	Hoist       bool            `json:"hoist,omitempty"`
	Colour      *string         `json:"colour,omitempty"`
}

// Server is a guild: an owner, an ordered channel list, a role table and default permissions applied before any
// role override.
type Server struct {
	ID                 uuid.UUID           `json:"id"`
	Owner              uuid.UUID           `json:"owner"`
	Name               string              `json:"name"`
	Description        *string             `json:"description,omitempty"`
	Channels           []uuid.UUID         `json:"channels"`
	Roles              map[uuid.UUID]Role  `json:"roles"`
	DefaultPermissions Permission          `json:"default_permissions"`
}

// ChannelKind tags the Channel sum type's active variant.
type ChannelKind string

const (
	ChannelSavedMessages ChannelKind = "SavedMessages"
	ChannelDirectMessage ChannelKind = "DirectMessage"
	ChannelGroup         ChannelKind = "Group"
	ChannelText          ChannelKind = "Text"
	ChannelVoice         ChannelKind = "Voice"
)

// Channel is a tagged union over the five channel shapes named in the spec. Only one of the variant-specific field
// groups below is populated, selected by Kind. TextChannel and VoiceChannel are the only kinds that participate in
// server permission recalculation.
type Channel struct {
	ID   uuid.UUID   `json:"id"`
	Kind ChannelKind `json:"kind"`

	// SavedMessages
	User uuid.UUID `json:"user,omitempty"`

	// DirectMessage
	Active     bool        `json:"active,omitempty"`
	Recipients []uuid.UUID `json:"recipients,omitempty"`

	// Group (also uses Recipients above)
	Name            string     `json:"name,omitempty"`
	Owner           uuid.UUID  `json:"owner,omitempty"`
	GroupPermission *Permission `json:"permissions,omitempty"`
	NSFW            bool       `json:"nsfw,omitempty"`

	// TextChannel / VoiceChannel
	Server             uuid.UUID                  `json:"server,omitempty"`
	DefaultPermissions *RolePermissions            `json:"default_permissions_override,omitempty"`
	RolePermissions    map[uuid.UUID]RolePermissions `json:"role_permissions,omitempty"`
}

// IsServerChannel reports whether this channel participates in server-level permission recalculation.
func (c *Channel) IsServerChannel() bool {
	return c.Kind == ChannelText || c.Kind == ChannelVoice
}

// Clone returns a deep-enough copy for safe mutation by the dispatcher (recipients/role maps are copied).
func (c Channel) Clone() Channel {
	out := c
	if c.Recipients != nil {
		out.Recipients = append([]uuid.UUID(nil), c.Recipients...)
	}
	if c.RolePermissions != nil {
		out.RolePermissions = make(map[uuid.UUID]RolePermissions, len(c.RolePermissions))
		for k, v := range c.RolePermissions {
			out.RolePermissions[k] = v
		}
	}
	if c.DefaultPermissions != nil {
		dp := *c.DefaultPermissions
		out.DefaultPermissions = &dp
	}
	if c.GroupPermission != nil {
		gp := *c.GroupPermission
		out.GroupPermission = &gp
	}
	return out
}

// Member is the viewer's own membership record in one server. The cache never stores any other user's membership.
type Member struct {
	ServerID     uuid.UUID  `json:"server"`
	UserID       uuid.UUID  `json:"user"`
	Roles        []uuid.UUID `json:"roles"`
	Nickname     *string    `json:"nickname,omitempty"`
	Avatar       *string    `json:"avatar,omitempty"`
	TimeoutUntil *string    `json:"timeout,omitempty"`
}

// VoiceState is a per (channel, user) presence record in a voice channel.
type VoiceState struct {
	ChannelID     uuid.UUID `json:"channel"`
	UserID        uuid.UUID `json:"user"`
	JoinedAt      int64     `json:"joined_at"`
	Publishing    bool      `json:"publishing"`
	Receiving     bool      `json:"receiving"`
	Screensharing bool      `json:"screensharing"`
	Camera        bool      `json:"camera"`
}

// Emoji is a server-scoped custom asset (see SPEC_FULL.md §D.1). It has no independent visibility rule: it is
// visible exactly when its parent server is.
type Emoji struct {
	ID       uuid.UUID `json:"id"`
	ParentID uuid.UUID `json:"parent"`
	Name     string    `json:"name"`
}
