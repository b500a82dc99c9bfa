package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/dispatch"
	"github.com/uncord-chat/uncord-server/internal/protocol"
)

// TokenResolver validates an access token and returns the user it belongs to (spec.md §6 "Session store":
// resolve_token(token) -> (User, session_id) or error). This tree's auth is stateless JWT (internal/auth), so the
// only per-connection session id is the one Presence.CreateSession mints once the token is known to be good; see
// DESIGN.md.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (protocol.User, error)
}

// Presence is the narrow presence collaborator named in spec.md §6, plus the Get/Set pair the connection needs to
// read and initialise the viewer's status text so the presence-begin/end broadcasts can honour the Invisible
// suppression rule (spec.md §9 "Presence broadcast suppression").
type Presence interface {
	CreateSession(ctx context.Context, userID uuid.UUID) (sessionID string, firstSession bool, err error)
	DeleteSession(ctx context.Context, userID uuid.UUID, sessionID string) (lastSession bool, err error)
	FilterOnline(ctx context.Context, userIDs []uuid.UUID) ([]uuid.UUID, error)
	Get(ctx context.Context, userID uuid.UUID) (string, error)
	Set(ctx context.Context, userID uuid.UUID, status string) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

// Database is the narrow database collaborator named in spec.md §6, extended with FetchChannel so it doubles as
// the dispatcher's dispatch.ChannelLoader.
type Database interface {
	dispatch.ChannelLoader

	FetchAllMemberships(ctx context.Context, userID uuid.UUID) ([]protocol.Member, error)
	FetchServers(ctx context.Context, ids []uuid.UUID) ([]protocol.Server, error)
	FetchChannels(ctx context.Context, ids []uuid.UUID) ([]protocol.Channel, error)
	FindDirectMessages(ctx context.Context, userID uuid.UUID) ([]protocol.Channel, error)
	FetchUsers(ctx context.Context, ids []uuid.UUID) ([]protocol.User, error)
	FetchEmojiByParentIDs(ctx context.Context, parentIDs []uuid.UUID) ([]protocol.Emoji, error)
	FetchVoiceStates(ctx context.Context, channelIDs []uuid.UUID) ([]protocol.VoiceState, error)
	FetchUserSettings(ctx context.Context, userID uuid.UUID) ([]byte, error)
	FetchUnreads(ctx context.Context, userID uuid.UUID) ([]byte, error)
	FetchPolicyChanges(ctx context.Context, userID uuid.UUID) ([]byte, error)
}
