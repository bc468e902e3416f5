// Package wire defines the framed JSON protocol shared by the relay server
// and its clients.
//
// Every frame carries a named event type and a structured payload. The
// server consumes the intent events and emits the result events; clients
// fold result events into local conversation state.
package wire

import "encoding/json"

// Frame is the envelope for every event exchanged over a relay connection.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Client intent event types.
const (
	TypeJoin           = "chat.join"
	TypeSend           = "chat.send"
	TypeSendPrivate    = "chat.send_private"
	TypeJoinPrivate    = "chat.join_private"
	TypeTyping         = "chat.typing"
	TypeReactionAdd    = "reaction.add"
	TypeReactionRemove = "reaction.remove"
	TypeHistory        = "chat.history"
)

// Server result event types.
const (
	TypeJoined           = "chat.joined"
	TypeUserJoined       = "chat.user_joined"
	TypeUserLeft         = "chat.user_left"
	TypePresenceSnapshot = "presence.snapshot"
	TypePresenceUpdate   = "presence.update"
	TypeMessage          = "chat.message"
	TypeNotification     = "chat.notification"
	TypeTypingPublic     = "typing.public"
	TypeTypingPrivate    = "typing.private"
	TypeReactionAdded    = "reaction.added"
	TypeReactionRemoved  = "reaction.removed"
	TypeHistoryResult    = "chat.history.result"
	TypeError            = "chat.error"
)

// GeneralRoom is the broadcast routing group every participant joins.
const GeneralRoom = "general"

// Scopes for typing and reaction intents.
const (
	ScopePublic  = "public"
	ScopePrivate = "private"
)

// Message visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Message kinds. System messages carry join/leave announcements.
const (
	KindText   = "text"
	KindSystem = "system"
)

// Error codes carried in Error envelopes.
const (
	CodeInvalidArgument      = "INVALID_ARGUMENT"
	CodeForbidden            = "FORBIDDEN"
	CodeRecipientUnavailable = "RECIPIENT_UNAVAILABLE"
	CodeInternal             = "INTERNAL"
)

// Participant is a registered connection as exposed in presence events.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	JoinedAt string `json:"joined_at"`
	Status   string `json:"status"`
}

// Message is a relayed chat message. Immutable once emitted; reaction state
// is tracked separately by each client.
type Message struct {
	MessageID   string `json:"message_id"`
	Username    string `json:"username"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id,omitempty"`
	Body        string `json:"body"`
	SentAt      string `json:"sent_at"`
	Room        string `json:"room"`
	Visibility  string `json:"visibility"`
	Kind        string `json:"kind"`
}

// Reaction records one participant's emoji response to a message.
type Reaction struct {
	MessageID   string `json:"message_id"`
	Emoji       string `json:"emoji"`
	ReactorID   string `json:"reactor_id"`
	ReactorName string `json:"reactor_name"`
	At          string `json:"at"`
}

// JoinPayload starts a session under a chosen username.
type JoinPayload struct {
	Username string `json:"username"`
}

// JoinedPayload acknowledges a join and discloses the server-assigned
// connection id the client needs to resolve private conversations.
type JoinedPayload struct {
	ConnectionID string `json:"connection_id"`
	Username     string `json:"username"`
	ServerTime   string `json:"server_time"`
}

// UserEventPayload announces another participant joining or leaving.
type UserEventPayload struct {
	Username string `json:"username"`
	Body     string `json:"body"`
	At       string `json:"at"`
}

// PresencePayload carries the full participant enumeration. Clients replace
// their presence list wholesale rather than merging.
type PresencePayload struct {
	Participants []Participant `json:"participants"`
}

// SendPayload posts a public message to the general group.
type SendPayload struct {
	Body string `json:"body"`
}

// SendPrivatePayload posts a message to a two-party pairing group.
type SendPrivatePayload struct {
	Body        string `json:"body"`
	RecipientID string `json:"recipient_id"`
}

// JoinPrivatePayload subscribes the sender to a pairing group ahead of any
// message exchange. The other participant does not need to be connected.
type JoinPrivatePayload struct {
	OtherUserID string `json:"other_user_id"`
}

// MessageEnvelope wraps a relayed message.
type MessageEnvelope struct {
	Message Message `json:"message"`
}

// NotificationPayload alerts a recipient about a new private message.
type NotificationPayload struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Body       string `json:"body"`
	At         string `json:"at"`
}

// TypingPayload signals the sender's typing state for a scope.
type TypingPayload struct {
	IsTyping    bool   `json:"is_typing"`
	Scope       string `json:"scope"`
	RecipientID string `json:"recipient_id,omitempty"`
}

// TypingUpdatePayload relays a peer's typing state. SenderID is set only for
// private scope so the recipient can key the indicator by conversation.
type TypingUpdatePayload struct {
	SenderID string `json:"sender_id,omitempty"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// ReactionPayload toggles an emoji reaction on a message.
type ReactionPayload struct {
	MessageID   string `json:"message_id"`
	Emoji       string `json:"emoji"`
	Scope       string `json:"scope"`
	RecipientID string `json:"recipient_id,omitempty"`
}

// ReactionEnvelope wraps a relayed reaction.
type ReactionEnvelope struct {
	Reaction Reaction `json:"reaction"`
}

// ReactionRemovedPayload identifies the reaction entry to remove.
type ReactionRemovedPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	ReactorID string `json:"reactor_id"`
}

// HistoryPayload requests prior messages for a private conversation.
type HistoryPayload struct {
	OtherUserID string `json:"other_user_id"`
}

// HistoryResultPayload answers a history request. The relay keeps no message
// log, so Messages is always empty; the field exists so clients can
// initialize a conversation view.
type HistoryResultPayload struct {
	OtherUserID string    `json:"other_user_id"`
	Messages    []Message `json:"messages"`
}

// ErrorEnvelope wraps a coded error frame.
type ErrorEnvelope struct {
	Error Error `json:"error"`
}

// Error describes a rejected or undeliverable intent.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}
