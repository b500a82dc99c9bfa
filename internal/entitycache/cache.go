// Package entitycache implements the per-connection local cache described in spec.md §4.2 and §3: the in-memory
// mapping from id to user/server/member/channel a single connection needs to decide what it may see, plus the
// bounded recently-seen-event-id set used to dedupe UserUpdate events. A Cache belongs to exactly one connection
// and is never shared; it performs no I/O of its own (spec.md §4.2: "The cache never performs I/O of its own").
package entitycache

import (
	"container/list"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/protocol"
	"github.com/uncord-chat/uncord-server/internal/visibility"
)

// seenEventCacheSize bounds the LRU set of recently observed UserUpdate event ids (spec.md §3 invariant 5).
const seenEventCacheSize = 128

// Cache holds everything one connection's viewer may currently see.
type Cache struct {
	ViewerID uuid.UUID
	IsBot    bool

	users    map[uuid.UUID]protocol.User
	servers  map[uuid.UUID]protocol.Server
	members  map[uuid.UUID]protocol.Member // keyed by server id; only the viewer's own membership
	channels map[uuid.UUID]protocol.Channel
	emoji    map[uuid.UUID]protocol.Emoji // keyed by emoji id

	seen     *list.List
	seenSet  map[string]*list.Element
}

// New creates an empty cache for the given viewer.
func New(viewerID uuid.UUID, isBot bool) *Cache {
	return &Cache{
		ViewerID: viewerID,
		IsBot:    isBot,
		users:    make(map[uuid.UUID]protocol.User),
		servers:  make(map[uuid.UUID]protocol.Server),
		members:  make(map[uuid.UUID]protocol.Member),
		channels: make(map[uuid.UUID]protocol.Channel),
		emoji:    make(map[uuid.UUID]protocol.Emoji),
		seen:     list.New(),
		seenSet:  make(map[string]*list.Element),
	}
}

// --- Users ----------------------------------------------------------------------------------------------------

func (c *Cache) PutUser(u protocol.User) { c.users[u.ID] = u }

func (c *Cache) User(id uuid.UUID) (protocol.User, bool) {
	u, ok := c.users[id]
	return u, ok
}

func (c *Cache) RemoveUser(id uuid.UUID) { delete(c.users, id) }

// Relationship returns the viewer's relationship to the given user, as tracked on the viewer's own User.Relations.
func (c *Cache) Relationship(userID uuid.UUID) protocol.RelationshipStatus {
	viewer, ok := c.users[c.ViewerID]
	if !ok {
		return protocol.RelationshipNone
	}
	for _, r := range viewer.Relations {
		if r.UserID == userID {
			return r.Status
		}
	}
	return protocol.RelationshipNone
}

// SetRelationship upserts the viewer's relationship entry for userID.
func (c *Cache) SetRelationship(userID uuid.UUID, status protocol.RelationshipStatus) {
	viewer := c.users[c.ViewerID]
	for i, r := range viewer.Relations {
		if r.UserID == userID {
			viewer.Relations[i].Status = status
			c.users[c.ViewerID] = viewer
			return
		}
	}
	viewer.Relations = append(viewer.Relations, protocol.Relationship{UserID: userID, Status: status})
	c.users[c.ViewerID] = viewer
}

// --- Servers & members ------------------------------------------------------------------------------------------

func (c *Cache) PutServer(s protocol.Server) { c.servers[s.ID] = s }

func (c *Cache) Server(id uuid.UUID) (protocol.Server, bool) {
	s, ok := c.servers[id]
	return s, ok
}

// ServerIDs returns every cached server id, e.g. for broadcasting a presence transition to each server the viewer
// belongs to.
func (c *Cache) ServerIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(c.servers))
	for id := range c.servers {
		out = append(out, id)
	}
	return out
}

// RemoveServer removes a server and its associated viewer membership in the same operation (spec.md §3 invariant 1).
func (c *Cache) RemoveServer(id uuid.UUID) {
	delete(c.servers, id)
	delete(c.members, id)
}

func (c *Cache) PutMember(m protocol.Member) { c.members[m.ServerID] = m }

func (c *Cache) Member(serverID uuid.UUID) (protocol.Member, bool) {
	m, ok := c.members[serverID]
	return m, ok
}

// --- Channels --------------------------------------------------------------------------------------------------

func (c *Cache) PutChannel(ch protocol.Channel) { c.channels[ch.ID] = ch }

func (c *Cache) Channel(id uuid.UUID) (protocol.Channel, bool) {
	ch, ok := c.channels[id]
	return ch, ok
}

func (c *Cache) HasChannel(id uuid.UUID) bool {
	_, ok := c.channels[id]
	return ok
}

func (c *Cache) RemoveChannel(id uuid.UUID) { delete(c.channels, id) }

// ChannelsByServer returns every cached channel whose Server field equals serverID.
func (c *Cache) ChannelsByServer(serverID uuid.UUID) []protocol.Channel {
	var out []protocol.Channel
	for _, ch := range c.channels {
		if ch.IsServerChannel() && ch.Server == serverID {
			out = append(out, ch)
		}
	}
	return out
}

// --- Emoji -----------------------------------------------------------------------------------------------------

func (c *Cache) PutEmoji(e protocol.Emoji)     { c.emoji[e.ID] = e }
func (c *Cache) RemoveEmoji(id uuid.UUID)      { delete(c.emoji, id) }

// RemoveEmojiByParent removes every cached emoji belonging to parentID, returning the removed ids. Used when a
// server is deleted or left (SPEC_FULL.md §D.1).
func (c *Cache) RemoveEmojiByParent(parentID uuid.UUID) []uuid.UUID {
	var removed []uuid.UUID
	for id, e := range c.emoji {
		if e.ParentID == parentID {
			removed = append(removed, id)
			delete(c.emoji, id)
		}
	}
	return removed
}

// --- Visibility --------------------------------------------------------------------------------------------------

// CanViewChannel evaluates spec.md §4.1's permission algorithm for the given channel using the cache's own state
// for the server and the viewer's membership, falling back to "no server"/"no member" (i.e. no roles) when either
// is not cached.
func (c *Cache) CanViewChannel(ch protocol.Channel) bool {
	if !ch.IsServerChannel() {
		return true
	}
	var serverPtr *protocol.Server
	var memberPtr *protocol.Member
	if s, ok := c.servers[ch.Server]; ok {
		serverPtr = &s
	}
	if m, ok := c.members[ch.Server]; ok {
		memberPtr = &m
	}
	return visibility.CanView(c.ViewerID, memberPtr, serverPtr, &ch)
}

// CanSubscribeToUser implements spec.md §4.2: true iff the user is the viewer, the viewer's relationship with them
// is Friend, Incoming, Outgoing or User (Blocked and BlockedOther do not count), or some cached DM/Group has them
// as a recipient.
func (c *Cache) CanSubscribeToUser(userID uuid.UUID) bool {
	if userID == c.ViewerID {
		return true
	}
	switch c.Relationship(userID) {
	case protocol.RelationshipFriend, protocol.RelationshipIncoming, protocol.RelationshipOutgoing, protocol.RelationshipUser:
		return true
	}
	for _, ch := range c.channels {
		if ch.Kind != protocol.ChannelDirectMessage && ch.Kind != protocol.ChannelGroup {
			continue
		}
		for _, r := range ch.Recipients {
			if r == userID {
				return true
			}
		}
	}
	return false
}

// --- Seen-event dedupe set --------------------------------------------------------------------------------------

// MarkSeen records eventID in the bounded LRU set, evicting the oldest entry once the cache exceeds its size limit.
// Returns true if eventID had already been seen.
func (c *Cache) MarkSeen(eventID string) (alreadySeen bool) {
	if el, ok := c.seenSet[eventID]; ok {
		c.seen.MoveToFront(el)
		return true
	}
	el := c.seen.PushFront(eventID)
	c.seenSet[eventID] = el
	if c.seen.Len() > seenEventCacheSize {
		oldest := c.seen.Back()
		if oldest != nil {
			c.seen.Remove(oldest)
			delete(c.seenSet, oldest.Value.(string))
		}
	}
	return false
}
