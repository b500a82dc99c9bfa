package corestore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/member"
	"github.com/uncord-chat/uncord-server/internal/protocol"
	"github.com/uncord-chat/uncord-server/internal/role"
	servercfg "github.com/uncord-chat/uncord-server/internal/server"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// fakeUserRepo implements user.Repository for adapter tests, only the methods Database actually calls.
type fakeUserRepo struct {
	user.Repository
	users map[uuid.UUID]user.User
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return &u, nil
}

// fakeServerRepo implements server.Repository for adapter tests.
type fakeServerRepo struct {
	servercfg.Repository
	cfg servercfg.Config
}

func (r *fakeServerRepo) Get(_ context.Context) (*servercfg.Config, error) {
	cfg := r.cfg
	return &cfg, nil
}

// fakeChannelRepo implements channel.Repository for adapter tests.
type fakeChannelRepo struct {
	channel.Repository
	channels []channel.Channel
}

func (r *fakeChannelRepo) List(_ context.Context) ([]channel.Channel, error) {
	return r.channels, nil
}

func (r *fakeChannelRepo) GetByID(_ context.Context, id uuid.UUID) (*channel.Channel, error) {
	for i := range r.channels {
		if r.channels[i].ID == id {
			return &r.channels[i], nil
		}
	}
	return nil, channel.ErrNotFound
}

// fakeRoleRepo implements role.Repository for adapter tests.
type fakeRoleRepo struct {
	role.Repository
	roles []role.Role
}

func (r *fakeRoleRepo) List(_ context.Context) ([]role.Role, error) {
	return r.roles, nil
}

// fakeMemberRepo implements member.Repository for adapter tests.
type fakeMemberRepo struct {
	member.Repository
	members map[uuid.UUID]member.MemberWithProfile
}

func (r *fakeMemberRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*member.MemberWithProfile, error) {
	m, ok := r.members[userID]
	if !ok {
		return nil, member.ErrNotFound
	}
	return &m, nil
}

func newTestDatabase() (*Database, uuid.UUID, uuid.UUID, uuid.UUID) {
	serverID := uuid.New()
	userID := uuid.New()
	channelID := uuid.New()
	roleID := uuid.New()

	users := &fakeUserRepo{users: map[uuid.UUID]user.User{
		userID: {ID: userID, Username: "ada", Email: "ada@example.com"},
	}}
	srv := &fakeServerRepo{cfg: servercfg.Config{ID: serverID, Name: "Analytical Engine", OwnerID: userID}}
	chans := &fakeChannelRepo{channels: []channel.Channel{
		{ID: channelID, Name: "general", Type: channel.TypeText},
	}}
	roles := &fakeRoleRepo{roles: []role.Role{
		{ID: roleID, Name: "everyone", Permissions: int64(protocol.PermissionView), IsEveryone: true},
	}}
	members := &fakeMemberRepo{members: map[uuid.UUID]member.MemberWithProfile{
		userID: {UserID: userID, RoleIDs: []uuid.UUID{roleID}, JoinedAt: time.Now()},
	}}

	return New(users, srv, chans, roles, members), serverID, userID, channelID
}

func TestDatabase_FetchUser(t *testing.T) {
	db, _, userID, _ := newTestDatabase()

	u, err := db.FetchUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("FetchUser() error = %v", err)
	}
	if u.Username != "ada" {
		t.Errorf("Username = %q, want ada", u.Username)
	}
	if u.Discriminator != "0000" {
		t.Errorf("Discriminator = %q, want the documented placeholder 0000", u.Discriminator)
	}
}

func TestDatabase_FetchUser_NotFound(t *testing.T) {
	db, _, _, _ := newTestDatabase()

	if _, err := db.FetchUser(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestDatabase_FetchAllMemberships(t *testing.T) {
	db, serverID, userID, _ := newTestDatabase()

	members, err := db.FetchAllMemberships(context.Background(), userID)
	if err != nil {
		t.Fatalf("FetchAllMemberships() error = %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("len(members) = %d, want 1", len(members))
	}
	if members[0].ServerID != serverID {
		t.Errorf("ServerID = %s, want %s", members[0].ServerID, serverID)
	}
}

func TestDatabase_FetchAllMemberships_NonMemberReturnsEmpty(t *testing.T) {
	db, _, _, _ := newTestDatabase()

	members, err := db.FetchAllMemberships(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("FetchAllMemberships() error = %v", err)
	}
	if members != nil {
		t.Errorf("expected nil memberships for a non-member, got %v", members)
	}
}

func TestDatabase_FetchServers_MatchesSingleServer(t *testing.T) {
	db, serverID, _, channelID := newTestDatabase()

	servers, err := db.FetchServers(context.Background(), []uuid.UUID{serverID, uuid.New()})
	if err != nil {
		t.Fatalf("FetchServers() error = %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("len(servers) = %d, want 1", len(servers))
	}
	if servers[0].DefaultPermissions != protocol.AllPermissions {
		t.Errorf("DefaultPermissions = %v, want AllPermissions (no per-server override column in this schema)", servers[0].DefaultPermissions)
	}
	if len(servers[0].Channels) != 1 || servers[0].Channels[0] != channelID {
		t.Errorf("Channels = %v, want [%s]", servers[0].Channels, channelID)
	}
}

func TestDatabase_FetchServers_UnknownIDReturnsEmpty(t *testing.T) {
	db, _, _, _ := newTestDatabase()

	servers, err := db.FetchServers(context.Background(), []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("FetchServers() error = %v", err)
	}
	if servers != nil {
		t.Errorf("expected nil servers for an id outside the schema's one server, got %v", servers)
	}
}

func TestDatabase_FetchChannels_SkipsUnknownIDs(t *testing.T) {
	db, _, _, channelID := newTestDatabase()

	chans, err := db.FetchChannels(context.Background(), []uuid.UUID{channelID, uuid.New()})
	if err != nil {
		t.Fatalf("FetchChannels() error = %v", err)
	}
	if len(chans) != 1 {
		t.Fatalf("len(chans) = %d, want 1", len(chans))
	}
	if chans[0].Kind != protocol.ChannelText {
		t.Errorf("Kind = %v, want ChannelText", chans[0].Kind)
	}
}

func TestDatabase_FindDirectMessages_AlwaysEmpty(t *testing.T) {
	db, _, userID, _ := newTestDatabase()

	dms, err := db.FindDirectMessages(context.Background(), userID)
	if err != nil {
		t.Fatalf("FindDirectMessages() error = %v", err)
	}
	if dms != nil {
		t.Errorf("expected nil direct messages, this schema has no DM tables, got %v", dms)
	}
}

func TestDatabase_FetchVoiceStatesAndEmoji_AlwaysEmpty(t *testing.T) {
	db, serverID, _, channelID := newTestDatabase()

	if vs, err := db.FetchVoiceStates(context.Background(), []uuid.UUID{channelID}); err != nil || vs != nil {
		t.Errorf("FetchVoiceStates() = (%v, %v), want (nil, nil)", vs, err)
	}
	if em, err := db.FetchEmojiByParentIDs(context.Background(), []uuid.UUID{serverID}); err != nil || em != nil {
		t.Errorf("FetchEmojiByParentIDs() = (%v, %v), want (nil, nil)", em, err)
	}
}
