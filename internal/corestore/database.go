// Package corestore adapts the teacher schema's single-server REST repositories (user, server, channel, role,
// member) to the narrow, genuinely multi-server-shaped Database contract spec.md §6 names for the fanout core
// (fetch_all_memberships, fetch_servers, fetch_channels, ...). The underlying Postgres schema models exactly one
// server, so FetchAllMemberships returns at most one membership and FetchServers/FetchChannels only resolve ids
// belonging to that one server -- see DESIGN.md for why the core above this adapter stays multi-server-capable
// regardless.
package corestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/member"
	"github.com/uncord-chat/uncord-server/internal/protocol"
	"github.com/uncord-chat/uncord-server/internal/role"
	servercfg "github.com/uncord-chat/uncord-server/internal/server"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// Database implements gateway.Database over the teacher's PG-backed repositories.
type Database struct {
	users    user.Repository
	server   servercfg.Repository
	channels channel.Repository
	roles    role.Repository
	members  member.Repository
}

// New adapts the given repositories into a single Database collaborator.
func New(users user.Repository, server servercfg.Repository, channels channel.Repository, roles role.Repository, members member.Repository) *Database {
	return &Database{users: users, server: server, channels: channels, roles: roles, members: members}
}

// FetchUser resolves a single user, used by the gateway's token resolver to turn a validated JWT subject into the
// protocol.User spec.md §4.6 step 1 calls "the viewer user."
func (d *Database) FetchUser(ctx context.Context, id uuid.UUID) (protocol.User, error) {
	u, err := d.users.GetByID(ctx, id)
	if err != nil {
		return protocol.User{}, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return userToProtocol(*u), nil
}

// FetchAllMemberships returns the viewer's membership in the one server this schema models, or nothing if the
// viewer is not an active member.
func (d *Database) FetchAllMemberships(ctx context.Context, userID uuid.UUID) ([]protocol.Member, error) {
	m, err := d.members.GetByUserID(ctx, userID)
	if errors.Is(err, member.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch membership for %s: %w", userID, err)
	}
	cfg, err := d.server.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server config: %w", err)
	}
	return []protocol.Member{memberToProtocol(cfg.ID, *m)}, nil
}

// FetchServers resolves every id in ids that matches this schema's single server, populating its role table and
// channel list.
func (d *Database) FetchServers(ctx context.Context, ids []uuid.UUID) ([]protocol.Server, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cfg, err := d.server.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server config: %w", err)
	}
	match := false
	for _, id := range ids {
		if id == cfg.ID {
			match = true
			break
		}
	}
	if !match {
		return nil, nil
	}

	roles, err := d.roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	chans, err := d.channels.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	srv := protocol.Server{
		ID:    cfg.ID,
		Owner: cfg.OwnerID,
		Name:  cfg.Name,
		Roles: make(map[uuid.UUID]protocol.Role, len(roles)),
		// This schema has no per-server "view channel by default" override column; every active member can see
		// every non-deleted channel unless a richer Database implementation populates per-role/per-channel
		// overrides below. See DESIGN.md.
		DefaultPermissions: protocol.AllPermissions,
	}
	if cfg.Description != "" {
		desc := cfg.Description
		srv.Description = &desc
	}
	for _, r := range roles {
		srv.Roles[r.ID] = roleToProtocol(r)
	}
	srv.Channels = make([]uuid.UUID, 0, len(chans))
	for _, ch := range chans {
		srv.Channels = append(srv.Channels, ch.ID)
	}
	return []protocol.Server{srv}, nil
}

// FetchChannels resolves every requested channel id against the single server's channel table.
func (d *Database) FetchChannels(ctx context.Context, ids []uuid.UUID) ([]protocol.Channel, error) {
	cfg, err := d.server.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server config: %w", err)
	}
	out := make([]protocol.Channel, 0, len(ids))
	for _, id := range ids {
		ch, err := d.channels.GetByID(ctx, id)
		if errors.Is(err, channel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch channel %s: %w", id, err)
		}
		out = append(out, channelToProtocol(*ch, cfg.ID))
	}
	return out, nil
}

// FetchChannel loads a single channel, satisfying dispatch.ChannelLoader directly so the dispatcher can load
// on-demand channels without a second adapter type.
func (d *Database) FetchChannel(ctx context.Context, id uuid.UUID) (protocol.Channel, error) {
	cfg, err := d.server.Get(ctx)
	if err != nil {
		return protocol.Channel{}, fmt.Errorf("fetch server config: %w", err)
	}
	ch, err := d.channels.GetByID(ctx, id)
	if err != nil {
		return protocol.Channel{}, fmt.Errorf("fetch channel %s: %w", id, err)
	}
	return channelToProtocol(*ch, cfg.ID), nil
}

// FindDirectMessages always returns nothing: this schema has no direct-message or group-channel tables, only
// server text/voice channels.
func (d *Database) FindDirectMessages(ctx context.Context, userID uuid.UUID) ([]protocol.Channel, error) {
	return nil, nil
}

// FetchUsers resolves every requested user id.
func (d *Database) FetchUsers(ctx context.Context, ids []uuid.UUID) ([]protocol.User, error) {
	out := make([]protocol.User, 0, len(ids))
	for _, id := range ids {
		u, err := d.users.GetByID(ctx, id)
		if errors.Is(err, user.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch user %s: %w", id, err)
		}
		out = append(out, userToProtocol(*u))
	}
	return out, nil
}

// FetchEmojiByParentIDs always returns nothing: this schema carries no custom-emoji table. A richer Database
// implementation could serve this without any change to the Ready builder or dispatcher.
func (d *Database) FetchEmojiByParentIDs(ctx context.Context, parentIDs []uuid.UUID) ([]protocol.Emoji, error) {
	return nil, nil
}

// FetchVoiceStates always returns nothing: this schema carries no voice-presence table.
func (d *Database) FetchVoiceStates(ctx context.Context, channelIDs []uuid.UUID) ([]protocol.VoiceState, error) {
	return nil, nil
}

// FetchUserSettings always returns nothing: this schema has no user-settings blob.
func (d *Database) FetchUserSettings(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	return nil, nil
}

// FetchUnreads always returns nothing: this schema has no per-channel read-marker table reachable from here (the
// REST layer tracks acks via ChannelAck events only).
func (d *Database) FetchUnreads(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	return nil, nil
}

// FetchPolicyChanges always returns nothing: this schema has no policy/ToS-versioning table.
func (d *Database) FetchPolicyChanges(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	return nil, nil
}

func userToProtocol(u user.User) protocol.User {
	out := protocol.User{
		ID: u.ID,
		// This schema has no discriminator column (usernames are globally unique); "0000" documents the absence
		// rather than fabricating a distinguishing value.
		Discriminator: "0000",
		Username:      u.Username,
		DisplayName:   u.DisplayName,
		AvatarID:      u.AvatarKey,
	}
	return out
}

func roleToProtocol(r role.Role) protocol.Role {
	return protocol.Role{
		ID:   r.ID,
		Name: r.Name,
		// This schema grants a role a single permission bitmask with no per-role deny set; Deny stays zero.
		Permissions: protocol.RolePermissions{Allow: protocol.Permission(r.Permissions)},
		Rank:        r.Position,
		Hoist:       r.Hoist,
	}
}

func memberToProtocol(serverID uuid.UUID, m member.MemberWithProfile) protocol.Member {
	out := protocol.Member{
		ServerID: serverID,
		UserID:   m.UserID,
		Roles:    append([]uuid.UUID(nil), m.RoleIDs...),
		Nickname: m.Nickname,
	}
	if m.TimeoutUntil != nil {
		s := m.TimeoutUntil.UTC().Format("2006-01-02T15:04:05Z07:00")
		out.TimeoutUntil = &s
	}
	return out
}

func channelToProtocol(ch channel.Channel, serverID uuid.UUID) protocol.Channel {
	kind := protocol.ChannelText
	if ch.Type == channel.TypeVoice || ch.Type == channel.TypeStage {
		kind = protocol.ChannelVoice
	}
	return protocol.Channel{
		ID:     ch.ID,
		Kind:   kind,
		Server: serverID,
		Name:   ch.Name,
		NSFW:   ch.NSFW,
	}
}
