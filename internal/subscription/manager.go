// Package subscription implements the per-connection subscription manager from spec.md §4.3: the desired topic set
// mutated by the dispatcher, kept in sync with an external pub/sub subscriber via a periodic reconciliation step.
package subscription

import (
	"sync"

	"github.com/google/uuid"
)

// Topic is an opaque pub/sub bus topic string (spec.md §6: "<user-id>!", "<user-id>", "<server-id>",
// "<server-id>u", "<channel-id>").
type Topic string

// PrivateTopic is the viewer-only topic used to deliver events addressed to exactly this user.
func PrivateTopic(userID uuid.UUID) Topic { return Topic(userID.String() + "!") }

// UserTopic is the topic other users subscribe to in order to receive this user's relationship-visible events.
func UserTopic(userID uuid.UUID) Topic { return Topic(userID.String()) }

// ServerTopic carries every event relevant to a server, e.g. ServerUpdate, ServerMemberJoin.
func ServerTopic(serverID uuid.UUID) Topic { return Topic(serverID.String()) }

// BotServerTopic additionally delivers bot-only server events (e.g. raw member list changes) to bot connections.
func BotServerTopic(serverID uuid.UUID) Topic { return Topic(serverID.String() + "u") }

// ChannelTopic carries every event scoped to one channel (messages, typing, acks).
func ChannelTopic(channelID uuid.UUID) Topic { return Topic(channelID.String()) }

// Manager owns the desired topic set and mirrors the committed set the external subscriber was last told about.
// The dispatcher (mutating desired via Insert/Remove/Reset) and the client frame loop (reading it via Has) run as
// two separate goroutines on the same connection, so every access is guarded by mu -- the read-only "shared
// handle" spec.md §5 describes still needs safe visibility across that boundary.
type Manager struct {
	mu sync.RWMutex

	desired        map[Topic]struct{}
	committed      map[Topic]struct{}
	resetRequested bool
}

// New creates an empty subscription manager.
func New() *Manager {
	return &Manager{
		desired:   make(map[Topic]struct{}),
		committed: make(map[Topic]struct{}),
	}
}

// Insert adds a topic to the desired set.
func (m *Manager) Insert(t Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.desired[t] = struct{}{}
}

// Remove removes a topic from the desired set.
func (m *Manager) Remove(t Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.desired, t)
}

// Reset clears the desired set and forces the next reconciliation to issue a full unsubscribe-all + resubscribe.
// Used once, at Ready time (spec.md §4.6 step 11).
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.desired = make(map[Topic]struct{})
	m.resetRequested = true
}

// Desired returns a snapshot of the current desired set. Intended for tests and for the read-only typing-topic
// handle described in spec.md §5 ("exposed as a read-only shared handle").
func (m *Manager) Desired() map[Topic]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Topic]struct{}, len(m.desired))
	for t := range m.desired {
		out[t] = struct{}{}
	}
	return out
}

// Has reports whether topic is currently in the desired set.
func (m *Manager) Has(t Topic) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.desired[t]
	return ok
}

// Outcome is the result of one reconciliation tick.
type Outcome struct {
	// Kind is "none", "reset", or "change".
	Kind  OutcomeKind
	Add   []Topic // populated for "change"
	Remove []Topic // populated for "change"
}

type OutcomeKind string

const (
	OutcomeNone   OutcomeKind = "none"
	OutcomeReset  OutcomeKind = "reset"
	OutcomeChange OutcomeKind = "change"
)

// Reconcile computes what the caller must do to bring the external subscriber's committed set in line with desired,
// per spec.md §4.3. It does not itself call into the subscriber nor mutate committed -- the caller must invoke
// Commit after successfully applying the outcome.
func (m *Manager) Reconcile() Outcome {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.resetRequested {
		return Outcome{Kind: OutcomeReset}
	}
	if setsEqual(m.desired, m.committed) {
		return Outcome{Kind: OutcomeNone}
	}

	var add, remove []Topic
	for t := range m.desired {
		if _, ok := m.committed[t]; !ok {
			add = append(add, t)
		}
	}
	for t := range m.committed {
		if _, ok := m.desired[t]; !ok {
			remove = append(remove, t)
		}
	}
	return Outcome{Kind: OutcomeChange, Add: add, Remove: remove}
}

// Commit records that the caller successfully applied outcome against the external subscriber: committed becomes a
// clone of desired and reset_requested clears. The caller MUST call this only after every subscribe/unsubscribe
// call for this outcome succeeded; on any failure it must instead terminate the connection (spec.md §4.3: "the
// manager treats the committed set as undefined").
func (m *Manager) Commit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = make(map[Topic]struct{}, len(m.desired))
	for t := range m.desired {
		m.committed[t] = struct{}{}
	}
	m.resetRequested = false
}

// Committed returns a snapshot of the committed set, mainly for tests and invariant checks (I1).
func (m *Manager) Committed() map[Topic]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Topic]struct{}, len(m.committed))
	for t := range m.committed {
		out[t] = struct{}{}
	}
	return out
}

func setsEqual(a, b map[Topic]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for t := range a {
		if _, ok := b[t]; !ok {
			return false
		}
	}
	return true
}
