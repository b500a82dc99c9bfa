package visibility

import (
	"testing"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/protocol"
)

func textChannel(serverID uuid.UUID, defaultOverride *protocol.RolePermissions, rolePerms map[uuid.UUID]protocol.RolePermissions) *protocol.Channel {
	return &protocol.Channel{
		ID:                 uuid.New(),
		Kind:                protocol.ChannelText,
		Server:              serverID,
		DefaultPermissions:  defaultOverride,
		RolePermissions:     rolePerms,
	}
}

func TestEvaluate_OwnerShortCircuit(t *testing.T) {
	owner := uuid.New()
	server := &protocol.Server{ID: uuid.New(), Owner: owner, DefaultPermissions: 0}
	ch := textChannel(server.ID, nil, nil)

	got := Evaluate(owner, nil, server, ch)
	if got != protocol.AllPermissions {
		t.Fatalf("owner should get all permissions, got %v", got)
	}
}

func TestEvaluate_RoleRankOrdering(t *testing.T) {
	viewer := uuid.New()
	server := uuid.New()

	lowRank := protocol.Role{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Rank: 1,
		Permissions: protocol.RolePermissions{Allow: protocol.PermissionView, Deny: protocol.PermissionSendMessages}}
	highRank := protocol.Role{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Rank: 5,
		Permissions: protocol.RolePermissions{Allow: protocol.PermissionSendMessages}}

	srv := &protocol.Server{
		ID:                 server,
		DefaultPermissions: 0,
		Roles:              map[uuid.UUID]protocol.Role{lowRank.ID: lowRank, highRank.ID: highRank},
	}
	mem := &protocol.Member{ServerID: server, UserID: viewer, Roles: []uuid.UUID{lowRank.ID, highRank.ID}}
	ch := textChannel(server, nil, nil)

	got := Evaluate(viewer, mem, srv, ch)
	want := protocol.PermissionView | protocol.PermissionSendMessages
	if got != want {
		t.Fatalf("got %v want %v (higher rank role must win the deny from the lower rank)", got, want)
	}
}

func TestEvaluate_ChannelRoleOverrideWins(t *testing.T) {
	viewer := uuid.New()
	server := uuid.New()
	role := protocol.Role{ID: uuid.New(), Rank: 5, Permissions: protocol.RolePermissions{}}

	srv := &protocol.Server{
		ID:                 server,
		DefaultPermissions: protocol.PermissionView,
		Roles:              map[uuid.UUID]protocol.Role{role.ID: role},
	}
	mem := &protocol.Member{ServerID: server, UserID: viewer, Roles: []uuid.UUID{role.ID}}

	ch := textChannel(server, &protocol.RolePermissions{Deny: protocol.PermissionView}, map[uuid.UUID]protocol.RolePermissions{
		role.ID: {Allow: protocol.PermissionView},
	})

	if !CanView(viewer, mem, srv, ch) {
		t.Fatalf("per-role channel override should re-grant ViewChannel after the channel default denied it")
	}
}

func TestEvaluate_ChannelOverrideTieBreakByRoleID(t *testing.T) {
	viewer := uuid.New()
	server := uuid.New()
	// Same rank, different IDs: lexicographically larger id is "applied later" and should win.
	r1 := protocol.Role{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Rank: 3}
	r2 := protocol.Role{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Rank: 3}

	srv := &protocol.Server{
		ID:     server,
		Roles:  map[uuid.UUID]protocol.Role{r1.ID: r1, r2.ID: r2},
	}
	mem := &protocol.Member{ServerID: server, UserID: viewer, Roles: []uuid.UUID{r1.ID, r2.ID}}
	ch := textChannel(server, nil, map[uuid.UUID]protocol.RolePermissions{
		r1.ID: {Allow: protocol.PermissionView, Deny: protocol.PermissionSendMessages},
		r2.ID: {Allow: protocol.PermissionSendMessages},
	})

	got := Evaluate(viewer, mem, srv, ch)
	want := protocol.PermissionView | protocol.PermissionSendMessages
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestEvaluate_SavedMessages(t *testing.T) {
	owner := uuid.New()
	other := uuid.New()
	ch := &protocol.Channel{ID: uuid.New(), Kind: protocol.ChannelSavedMessages, User: owner}

	if !CanView(owner, nil, nil, ch) {
		t.Fatalf("owner must see their own saved messages channel")
	}
	if CanView(other, nil, nil, ch) {
		t.Fatalf("non-owner must not see another user's saved messages channel")
	}
}

func TestEvaluate_DirectMessage(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	ch := &protocol.Channel{ID: uuid.New(), Kind: protocol.ChannelDirectMessage, Recipients: []uuid.UUID{a, b}}

	if !CanView(a, nil, nil, ch) || !CanView(b, nil, nil, ch) {
		t.Fatalf("recipients must see the DM")
	}
	if CanView(c, nil, nil, ch) {
		t.Fatalf("non-recipient must not see the DM")
	}
}

func TestEvaluate_GroupOwnerAlwaysFull(t *testing.T) {
	owner := uuid.New()
	restricted := protocol.Permission(protocol.PermissionView)
	ch := &protocol.Channel{
		ID: uuid.New(), Kind: protocol.ChannelGroup, Owner: owner,
		Recipients: []uuid.UUID{owner}, GroupPermission: &restricted,
	}

	if Evaluate(owner, nil, nil, ch) != protocol.AllPermissions {
		t.Fatalf("group owner must always have full permissions regardless of channel.permissions")
	}
}

func TestEvaluate_NoServerNoMemberTreatedAsNoRoles(t *testing.T) {
	viewer := uuid.New()
	ch := textChannel(uuid.New(), nil, nil)
	got := Evaluate(viewer, nil, nil, ch)
	if got != 0 {
		t.Fatalf("with no server and no member, expected zero permissions, got %v", got)
	}
}
