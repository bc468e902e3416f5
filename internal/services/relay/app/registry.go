package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/relaychat/internal/services/relay/wire"
)

// errDuplicateConnection signals a registry invariant violation: the
// transport handed out the same connection id twice. Should be unreachable;
// callers treat it as an internal-consistency fault and reset the connection.
var errDuplicateConnection = errors.New("connection id already registered")

const statusOnline = "online"

type sessionEntry struct {
	id       string
	username string
	joinedAt time.Time
	status   string
	peer     *wsPeer
}

// sessionRegistry owns the mapping from live connection identity to
// participant profile. All mutation goes through its methods so the
// dispatcher never touches shared state directly.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*sessionEntry)}
}

func (r *sessionRegistry) register(connID, username string, peer *wsPeer) (wire.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[connID]; exists {
		return wire.Participant{}, errDuplicateConnection
	}

	entry := &sessionEntry{
		id:       connID,
		username: username,
		joinedAt: time.Now().UTC(),
		status:   statusOnline,
		peer:     peer,
	}
	r.sessions[connID] = entry
	return participantView(entry), nil
}

// unregister is idempotent: removing an absent connection reports ok=false.
func (r *sessionRegistry) unregister(connID string) (wire.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[connID]
	if !exists {
		return wire.Participant{}, false
	}
	delete(r.sessions, connID)
	return participantView(entry), true
}

func (r *sessionRegistry) lookup(connID string) (wire.Participant, *wsPeer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.sessions[connID]
	if !exists {
		return wire.Participant{}, nil, false
	}
	return participantView(entry), entry.peer, true
}

// list returns a presence snapshot ordered by join time, with the connection
// id as tie breaker so the order is stable within a snapshot.
func (r *sessionRegistry) list() []wire.Participant {
	r.mu.Lock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, entry := range r.sessions {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].joinedAt.Equal(entries[j].joinedAt) {
			return entries[i].id < entries[j].id
		}
		return entries[i].joinedAt.Before(entries[j].joinedAt)
	})

	participants := make([]wire.Participant, 0, len(entries))
	for _, entry := range entries {
		participants = append(participants, participantView(entry))
	}
	return participants
}

func (r *sessionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func participantView(entry *sessionEntry) wire.Participant {
	return wire.Participant{
		ID:       entry.id,
		Username: entry.username,
		JoinedAt: entry.joinedAt.Format(time.RFC3339),
		Status:   entry.status,
	}
}
