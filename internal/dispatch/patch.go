package dispatch

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/protocol"
)

// applyChannelPatch merges a Patch onto a cached Channel, honoring both the `data` fields being set and the
// `clear` fields being blanked (original_source's PartialChannel/FieldsChannel pattern, spec.md §6). It returns
// the updated channel; the dispatcher always re-derives visibility from the result rather than trusting the
// patch's shape.
func applyChannelPatch(ch protocol.Channel, patch protocol.Patch) protocol.Channel {
	out := ch.Clone()

	var fields struct {
		Name               *string                              `json:"name"`
		Description        *string                              `json:"description"`
		Icon               *string                              `json:"icon"`
		NSFW               *bool                                 `json:"nsfw"`
		Active             *bool                                 `json:"active"`
		DefaultPermissions *protocol.RolePermissions             `json:"default_permissions_override"`
		RolePermissions    map[string]protocol.RolePermissions   `json:"role_permissions"`
	}
	if len(patch.Data) > 0 {
		_ = json.Unmarshal(patch.Data, &fields)
	}
	if fields.Name != nil {
		out.Name = *fields.Name
	}
	if fields.NSFW != nil {
		out.NSFW = *fields.NSFW
	}
	if fields.Active != nil {
		out.Active = *fields.Active
	}
	if fields.DefaultPermissions != nil {
		out.DefaultPermissions = fields.DefaultPermissions
	}
	if fields.RolePermissions != nil {
		merged := make(map[uuid.UUID]protocol.RolePermissions, len(out.RolePermissions)+len(fields.RolePermissions))
		for k, v := range out.RolePermissions {
			merged[k] = v
		}
		for k, v := range fields.RolePermissions {
			id, err := uuid.Parse(k)
			if err != nil {
				continue
			}
			merged[id] = v
		}
		out.RolePermissions = merged
	}

	for _, c := range patch.Clear {
		switch c {
		case protocol.ClearChannelDescription, protocol.ClearChannelIcon:
			// Description/Icon are not currently surfaced on the cached Channel (they play no role in
			// visibility); clearing them is a no-op on this projection.
		case protocol.ClearChannelDefaultPermissions:
			out.DefaultPermissions = nil
		}
	}
	return out
}

// applyServerPatch merges a Patch onto a cached Server and reports whether DefaultPermissions changed, which is
// the only field whose change requires a server-wide recalculation (spec.md §4.4).
func applyServerPatch(srv *protocol.Server, patch protocol.Patch) (defaultsChanged bool) {
	var fields struct {
		Name               *string     `json:"name"`
		Description        *string     `json:"description"`
		Icon               *string     `json:"icon"`
		DefaultPermissions *protocol.Permission `json:"default_permissions"`
		Channels           []uuid.UUID `json:"channels"`
	}
	if len(patch.Data) > 0 {
		_ = json.Unmarshal(patch.Data, &fields)
	}
	if fields.Name != nil {
		srv.Name = *fields.Name
	}
	if fields.Channels != nil {
		srv.Channels = fields.Channels
	}
	if fields.DefaultPermissions != nil && *fields.DefaultPermissions != srv.DefaultPermissions {
		srv.DefaultPermissions = *fields.DefaultPermissions
		defaultsChanged = true
	}
	for _, c := range patch.Clear {
		if c == protocol.ClearServerDescription {
			srv.Description = nil
		}
	}
	return defaultsChanged
}

// applyMemberPatch merges a Patch onto the viewer's own Member record and reports whether Roles changed, the only
// field whose change requires a server-wide recalculation.
func applyMemberPatch(m *protocol.Member, patch protocol.Patch) (rolesChanged bool) {
	var fields struct {
		Nickname *string     `json:"nickname"`
		Avatar   *string     `json:"avatar"`
		Roles    []uuid.UUID `json:"roles"`
		Timeout  *string     `json:"timeout"`
	}
	if len(patch.Data) > 0 {
		_ = json.Unmarshal(patch.Data, &fields)
	}
	if fields.Nickname != nil {
		m.Nickname = fields.Nickname
	}
	if fields.Timeout != nil {
		m.TimeoutUntil = fields.Timeout
	}
	if fields.Roles != nil {
		m.Roles = fields.Roles
		rolesChanged = true
	}
	for _, c := range patch.Clear {
		switch c {
		case protocol.ClearMemberNickname:
			m.Nickname = nil
		case protocol.ClearMemberAvatar:
			m.Avatar = nil
		case protocol.ClearMemberRoles:
			if len(m.Roles) > 0 {
				rolesChanged = true
			}
			m.Roles = nil
		case protocol.ClearMemberTimeout:
			m.TimeoutUntil = nil
		}
	}
	return rolesChanged
}

// applyRolePatch merges a Patch onto a Role and reports whether Rank or Permissions changed -- either requires a
// recalculation for any viewer currently holding that role.
func applyRolePatch(r *protocol.Role, patch protocol.Patch) (permissionsOrRankChanged bool) {
	var fields struct {
		Name        *string                  `json:"name"`
		Permissions *protocol.RolePermissions `json:"permissions"`
		Rank        *int                     `json:"rank"`
		Hoist       *bool                    `json:"hoist"`
		Colour      *string                  `json:"colour"`
	}
	if len(patch.Data) > 0 {
		_ = json.Unmarshal(patch.Data, &fields)
	}
	if fields.Name != nil {
		r.Name = *fields.Name
	}
	if fields.Hoist != nil {
		r.Hoist = *fields.Hoist
	}
	if fields.Colour != nil {
		r.Colour = fields.Colour
	}
	if fields.Permissions != nil && *fields.Permissions != r.Permissions {
		r.Permissions = *fields.Permissions
		permissionsOrRankChanged = true
	}
	if fields.Rank != nil && *fields.Rank != r.Rank {
		r.Rank = *fields.Rank
		permissionsOrRankChanged = true
	}
	for _, c := range patch.Clear {
		if c == protocol.ClearRoleColour {
			r.Colour = nil
		}
	}
	return permissionsOrRankChanged
}
