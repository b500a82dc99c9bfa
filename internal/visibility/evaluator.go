// Package visibility implements the permission evaluator described in spec.md §4.1: a pure function over
// (viewer, optional member, optional server, channel) that returns the effective permission bitmask, plus the
// `can_view_channel` predicate the rest of the fanout core builds on. It performs no I/O and holds no state; the
// entity cache is the only caller.
package visibility

import (
	"sort"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/protocol"
)

// Evaluate computes the effective permission bitmask for viewer in channel. member and server are nil when the
// viewer has no relationship to the channel's server (e.g. the server is not cached); callers should treat that as
// "no roles" rather than an error (spec.md §4.1: "Callers either provide a pre-loaded Member or pass None").
func Evaluate(viewer uuid.UUID, member *protocol.Member, server *protocol.Server, channel *protocol.Channel) protocol.Permission {
	switch channel.Kind {
	case protocol.ChannelSavedMessages:
		if channel.User == viewer {
			return protocol.AllPermissions
		}
		return 0

	case protocol.ChannelDirectMessage:
		if containsUser(channel.Recipients, viewer) {
			return protocol.AllPermissions
		}
		return 0

	case protocol.ChannelGroup:
		if channel.Owner == viewer {
			return protocol.AllPermissions
		}
		if containsUser(channel.Recipients, viewer) {
			if channel.GroupPermission != nil {
				return *channel.GroupPermission
			}
			return protocol.AllPermissions
		}
		return 0

	case protocol.ChannelText, protocol.ChannelVoice:
		return evaluateServerChannel(viewer, member, server, channel)

	default:
		return 0
	}
}

// CanView reports whether the evaluated permission set includes the ViewChannel bit.
func CanView(viewer uuid.UUID, member *protocol.Member, server *protocol.Server, channel *protocol.Channel) bool {
	return Evaluate(viewer, member, server, channel).Has(protocol.PermissionView)
}

func evaluateServerChannel(viewer uuid.UUID, member *protocol.Member, server *protocol.Server, channel *protocol.Channel) protocol.Permission {
	// Step 1: owner short-circuit.
	if server != nil && server.Owner == viewer {
		return protocol.AllPermissions
	}

	// Step 2: start from the server default permissions.
	var base protocol.Permission
	if server != nil {
		base = server.DefaultPermissions
	}

	roles := orderedRoles(member, server)

	// Step 3: apply each of the viewer's roles in ascending rank order (lower rank applied first, so higher ranks
	// win on conflict).
	for _, role := range roles {
		base = base.Apply(role.Permissions)
	}

	// Step 4: channel-level default permission override, if present.
	if channel.DefaultPermissions != nil {
		base = base.Apply(*channel.DefaultPermissions)
	}

	// Step 5: per-role channel overrides, same ascending-rank order, only for roles the viewer holds.
	for _, role := range roles {
		if ov, ok := channel.RolePermissions[role.ID]; ok {
			base = base.Apply(ov)
		}
	}

	return base
}

// orderedRoles returns the viewer's roles (per member.Roles) sorted by (rank ascending, id lexicographic) --
// spec.md §4.1's tie-break rule. Roles referenced by the member but absent from the server's role table are
// skipped (the role was deleted out from under a stale member record).
func orderedRoles(member *protocol.Member, server *protocol.Server) []protocol.Role {
	if member == nil || server == nil {
		return nil
	}
	roles := make([]protocol.Role, 0, len(member.Roles))
	for _, id := range member.Roles {
		if r, ok := server.Roles[id]; ok {
			roles = append(roles, r)
		}
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Rank != roles[j].Rank {
			return roles[i].Rank < roles[j].Rank
		}
		return roles[i].ID.String() < roles[j].ID.String()
	})
	return roles
}

func containsUser(ids []uuid.UUID, target uuid.UUID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
