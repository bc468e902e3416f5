// Package client provides a relay connection and the state reducer that
// folds server frames into local conversation views.
//
// The server never replays state: everything a client shows is derived from
// the frames received while connected, so the reducer is the single place
// where ordering and idempotence rules live.
package client

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/louisbranch/relaychat/internal/services/relay/wire"
)

// Notification is an unread private-message badge entry.
type Notification struct {
	SenderID   string
	SenderName string
	Body       string
	At         string
}

type reactionKey struct {
	messageID string
	emoji     string
}

// Reducer folds relay frames into conversation state. Safe for concurrent
// use; Listen applies frames while the UI reads through the accessors.
type Reducer struct {
	mu sync.Mutex

	selfID   string
	username string

	public   []wire.Message
	private  map[string][]wire.Message
	presence []wire.Participant

	typingPublic  map[string]bool
	typingPrivate map[string]string

	notifications []Notification
	activeChat    string

	reactions map[reactionKey]map[string]wire.Reaction

	lastError *wire.Error
}

// NewReducer returns an empty reducer.
func NewReducer() *Reducer {
	return &Reducer{
		private:       make(map[string][]wire.Message),
		typingPublic:  make(map[string]bool),
		typingPrivate: make(map[string]string),
		reactions:     make(map[reactionKey]map[string]wire.Reaction),
	}
}

// Apply folds one server frame into the state. Unknown frame types are
// ignored so older clients tolerate newer servers.
func (r *Reducer) Apply(frame wire.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch frame.Type {
	case wire.TypeJoined:
		var payload wire.JoinedPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode joined payload: %w", err)
		}
		r.selfID = payload.ConnectionID
		r.username = payload.Username

	case wire.TypeUserJoined, wire.TypeUserLeft:
		var payload wire.UserEventPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode user event payload: %w", err)
		}
		r.public = append(r.public, wire.Message{
			Username:   payload.Username,
			Body:       payload.Body,
			SentAt:     payload.At,
			Room:       wire.GeneralRoom,
			Visibility: wire.VisibilityPublic,
			Kind:       wire.KindSystem,
		})

	case wire.TypePresenceSnapshot, wire.TypePresenceUpdate:
		var payload wire.PresencePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode presence payload: %w", err)
		}
		r.presence = payload.Participants

	case wire.TypeMessage:
		var payload wire.MessageEnvelope
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode message payload: %w", err)
		}
		msg := payload.Message
		if msg.Visibility == wire.VisibilityPrivate {
			partner := r.conversationPartner(msg)
			r.private[partner] = append(r.private[partner], msg)
		} else {
			r.public = append(r.public, msg)
		}

	case wire.TypeNotification:
		var payload wire.NotificationPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode notification payload: %w", err)
		}
		// No badge while the conversation is already on screen.
		if r.activeChat == payload.SenderID {
			return nil
		}
		r.notifications = append(r.notifications, Notification{
			SenderID:   payload.SenderID,
			SenderName: payload.SenderName,
			Body:       payload.Body,
			At:         payload.At,
		})

	case wire.TypeTypingPublic:
		var payload wire.TypingUpdatePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode typing payload: %w", err)
		}
		if payload.IsTyping {
			r.typingPublic[payload.Username] = true
		} else {
			delete(r.typingPublic, payload.Username)
		}

	case wire.TypeTypingPrivate:
		var payload wire.TypingUpdatePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode typing payload: %w", err)
		}
		if payload.IsTyping {
			r.typingPrivate[payload.SenderID] = payload.Username
		} else {
			delete(r.typingPrivate, payload.SenderID)
		}

	case wire.TypeReactionAdded:
		var payload wire.ReactionEnvelope
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode reaction payload: %w", err)
		}
		r.applyReactionAdded(payload.Reaction)

	case wire.TypeReactionRemoved:
		var payload wire.ReactionRemovedPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode reaction removal payload: %w", err)
		}
		key := reactionKey{messageID: payload.MessageID, emoji: payload.Emoji}
		bucket, ok := r.reactions[key]
		if !ok {
			return nil
		}
		delete(bucket, payload.ReactorID)
		if len(bucket) == 0 {
			delete(r.reactions, key)
		}

	case wire.TypeHistoryResult:
		var payload wire.HistoryResultPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode history payload: %w", err)
		}
		// Initialize the conversation view; never clobber messages that
		// already arrived live.
		if _, ok := r.private[payload.OtherUserID]; !ok {
			r.private[payload.OtherUserID] = append([]wire.Message{}, payload.Messages...)
		}

	case wire.TypeError:
		var payload wire.ErrorEnvelope
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return fmt.Errorf("decode error payload: %w", err)
		}
		errCopy := payload.Error
		r.lastError = &errCopy
	}
	return nil
}

// applyReactionAdded enforces one reaction per reactor per message and
// emoji, and drops reactions for messages this client has never seen.
func (r *Reducer) applyReactionAdded(reaction wire.Reaction) {
	if !r.hasMessage(reaction.MessageID) {
		return
	}
	key := reactionKey{messageID: reaction.MessageID, emoji: reaction.Emoji}
	bucket, ok := r.reactions[key]
	if !ok {
		bucket = make(map[string]wire.Reaction)
		r.reactions[key] = bucket
	}
	if _, exists := bucket[reaction.ReactorID]; exists {
		return
	}
	bucket[reaction.ReactorID] = reaction
}

func (r *Reducer) hasMessage(messageID string) bool {
	if messageID == "" {
		return false
	}
	for _, msg := range r.public {
		if msg.MessageID == messageID {
			return true
		}
	}
	for _, timeline := range r.private {
		for _, msg := range timeline {
			if msg.MessageID == messageID {
				return true
			}
		}
	}
	return false
}

func (r *Reducer) conversationPartner(msg wire.Message) string {
	if msg.SenderID == r.selfID {
		return msg.RecipientID
	}
	return msg.SenderID
}

// SelfID is the server-assigned connection id, empty before the join ack.
func (r *Reducer) SelfID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selfID
}

// Username is the name the join was acknowledged under.
func (r *Reducer) Username() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.username
}

// PublicTimeline returns the general conversation, chat and system entries
// interleaved in arrival order.
func (r *Reducer) PublicTimeline() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Message(nil), r.public...)
}

// PrivateTimeline returns the conversation with the given participant.
func (r *Reducer) PrivateTimeline(otherID string) []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Message(nil), r.private[otherID]...)
}

// Presence returns the latest participant enumeration.
func (r *Reducer) Presence() []wire.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Participant(nil), r.presence...)
}

// PublicTyping lists usernames currently typing in the general group.
func (r *Reducer) PublicTyping() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.typingPublic))
	for name := range r.typingPublic {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrivateTyping maps sender connection ids to usernames currently typing
// in a private conversation with this client.
func (r *Reducer) PrivateTyping() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.typingPrivate))
	for id, name := range r.typingPrivate {
		out[id] = name
	}
	return out
}

// Notifications returns pending unread badges in arrival order.
func (r *Reducer) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

// ClearNotifications drops all pending badges.
func (r *Reducer) ClearNotifications() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = nil
}

// SetActiveChat marks a private conversation as on screen; notifications
// from that sender are suppressed until the active chat changes. Empty
// means no private conversation is open.
func (r *Reducer) SetActiveChat(otherID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeChat = otherID
}

// Reactions returns the reactions on a message grouped by emoji, each
// group ordered by reactor id for stable rendering.
func (r *Reducer) Reactions(messageID string) map[string][]wire.Reaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]wire.Reaction)
	for key, bucket := range r.reactions {
		if key.messageID != messageID {
			continue
		}
		group := make([]wire.Reaction, 0, len(bucket))
		for _, reaction := range bucket {
			group = append(group, reaction)
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].ReactorID < group[j].ReactorID
		})
		out[key.emoji] = group
	}
	return out
}

// LastError returns the most recent error frame, or nil.
func (r *Reducer) LastError() *wire.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastError == nil {
		return nil
	}
	errCopy := *r.lastError
	return &errCopy
}
