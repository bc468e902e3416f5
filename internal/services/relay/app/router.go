package server

import (
	"encoding/json"
	"sync"

	"github.com/louisbranch/relaychat/internal/services/relay/wire"
)

// privateKeySeparator joins the two connection ids of a pairing key.
// Generated ids are lowercase base32, so the separator never collides.
const privateKeySeparator = "|"

// privateKey returns the canonical routing key for a two-party pairing.
// The key is order-independent: both participants compute the same key
// regardless of who initiates.
func privateKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + privateKeySeparator + b
}

// groupRouter tracks which peers subscribe to which routing group: the
// general broadcast group plus any number of private pairing groups.
type groupRouter struct {
	mu     sync.Mutex
	groups map[string]map[string]*wsPeer
}

func newGroupRouter() *groupRouter {
	return &groupRouter{groups: make(map[string]map[string]*wsPeer)}
}

// join subscribes a connection to a group. Idempotent.
func (g *groupRouter) join(groupKey, connID string, peer *wsPeer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[groupKey]
	if !ok {
		members = make(map[string]*wsPeer)
		g.groups[groupKey] = members
	}
	members[connID] = peer
}

// members returns a delivery snapshot of the group. A private group may hold
// zero, one, or two live members; delivery to an absent member is skipped,
// never queued.
func (g *groupRouter) members(groupKey string) []*wsPeer {
	return g.membersExcept(groupKey, "")
}

// membersExcept returns the group snapshot without the named connection,
// used for broadcasts that exclude the sender.
func (g *groupRouter) membersExcept(groupKey, connID string) []*wsPeer {
	g.mu.Lock()
	defer g.mu.Unlock()

	members := g.groups[groupKey]
	peers := make([]*wsPeer, 0, len(members))
	for id, peer := range members {
		if connID != "" && id == connID {
			continue
		}
		peers = append(peers, peer)
	}
	return peers
}

// leaveAll drops a connection from every group it joined. Empty groups are
// deleted so abandoned pairings do not accumulate.
func (g *groupRouter) leaveAll(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, members := range g.groups {
		if _, ok := members[connID]; !ok {
			continue
		}
		delete(members, connID)
		if len(members) == 0 {
			delete(g.groups, key)
		}
	}
}

func broadcastFrame(peers []*wsPeer, frame wire.Frame) {
	for _, peer := range peers {
		_ = peer.writeFrame(frame)
	}
}

// wsPeer serializes frame writes to a single connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wire.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}
