package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/relaychat/internal/platform/id"
	"github.com/louisbranch/relaychat/internal/services/relay/wire"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxDecodeErrorsPerConn = 3

	maxMessageBodyRunes = 2000
	maxUsernameRunes    = 64
)

// relayCore holds the two stateful server components the dispatcher routes
// through. Transport code never touches their maps directly.
type relayCore struct {
	registry *sessionRegistry
	router   *groupRouter
}

func newRelayCore() *relayCore {
	return &relayCore{
		registry: newSessionRegistry(),
		router:   newGroupRouter(),
	}
}

type wsSession struct {
	mu       sync.Mutex
	connID   string
	username string
	peer     *wsPeer
}

func newWSSession(connID string, peer *wsPeer) *wsSession {
	return &wsSession{connID: connID, peer: peer}
}

func (s *wsSession) setUsername(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

// currentUsername is empty until the session has joined.
func (s *wsSession) currentUsername() string {
	s.mu.Lock()
	username := s.username
	s.mu.Unlock()
	return username
}

func handleWSConn(conn *websocket.Conn, relay *relayCore) {
	defer func() {
		_ = conn.Close()
	}()

	connID, err := id.NewID()
	if err != nil {
		log.Printf("relay: generate connection id: %v", err)
		return
	}

	decoder := json.NewDecoder(conn)
	session := newWSSession(connID, newWSPeer(json.NewEncoder(conn)))
	defer disconnectSession(relay, session)

	decodeErrors := 0

	for {
		var frame wire.Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(session.peer, "", wire.CodeInvalidArgument, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(session.peer, frame.RequestID, wire.CodeInvalidArgument, "payload too large")
			continue
		}

		switch frame.Type {
		case wire.TypeJoin:
			if !handleJoinFrame(relay, session, frame) {
				return
			}
		case wire.TypeSend:
			if !requireSession(session, frame.RequestID) {
				continue
			}
			handleSendFrame(relay, session, frame)
		case wire.TypeSendPrivate:
			if !requireSession(session, frame.RequestID) {
				continue
			}
			handleSendPrivateFrame(relay, session, frame)
		case wire.TypeJoinPrivate:
			handleJoinPrivateFrame(relay, session, frame)
		case wire.TypeTyping:
			handleTypingFrame(relay, session, frame)
		case wire.TypeReactionAdd:
			handleReactionFrame(relay, session, frame, true)
		case wire.TypeReactionRemove:
			handleReactionFrame(relay, session, frame, false)
		case wire.TypeHistory:
			if !requireSession(session, frame.RequestID) {
				continue
			}
			handleHistoryFrame(session, frame)
		default:
			_ = writeWSError(session.peer, frame.RequestID, wire.CodeInvalidArgument, "unsupported frame type")
		}
	}
}

// disconnectSession mirrors an explicit leave: abrupt transport loss and
// clean close both unregister, drop group membership, and announce the
// departure to the general group.
func disconnectSession(relay *relayCore, session *wsSession) {
	participant, ok := relay.registry.unregister(session.connID)
	if !ok {
		return
	}
	relay.router.leaveAll(session.connID)

	at := time.Now().UTC().Format(time.RFC3339)
	members := relay.router.members(wire.GeneralRoom)
	broadcastFrame(members, wire.Frame{
		Type: wire.TypeUserLeft,
		Payload: mustJSON(wire.UserEventPayload{
			Username: participant.Username,
			Body:     participant.Username + " left the chat",
			At:       at,
		}),
	})
	broadcastFrame(members, wire.Frame{
		Type:    wire.TypePresenceUpdate,
		Payload: mustJSON(wire.PresencePayload{Participants: relay.registry.list()}),
	})
}

// requireSession guards operations that need a registered sender. The
// failure degrades to an error frame, never a dropped connection.
func requireSession(session *wsSession, requestID string) bool {
	if session.currentUsername() == "" {
		_ = writeWSError(session.peer, requestID, wire.CodeForbidden, "must join before sending events")
		return false
	}
	return true
}

// handleJoinFrame registers the session and emits the join fan-out. The
// false return signals an unrecoverable registry fault; the caller resets
// the connection.
func handleJoinFrame(relay *relayCore, session *wsSession, frame wire.Frame) bool {
	var payload wire.JoinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInvalidArgument, "invalid join payload")
		return true
	}

	username := strings.TrimSpace(payload.Username)
	if username == "" {
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInvalidArgument, "username is required")
		return true
	}
	if utf8.RuneCountInString(username) > maxUsernameRunes {
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInvalidArgument, "username must be at most 64 characters")
		return true
	}

	participant, err := relay.registry.register(session.connID, username, session.peer)
	if err != nil {
		log.Printf("relay: register connection %s: %v", session.connID, err)
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInternal, "connection already registered")
		return false
	}
	session.setUsername(username)
	relay.router.join(wire.GeneralRoom, session.connID, session.peer)

	at := time.Now().UTC().Format(time.RFC3339)
	_ = session.peer.writeFrame(wire.Frame{
		Type:      wire.TypeJoined,
		RequestID: frame.RequestID,
		Payload: mustJSON(wire.JoinedPayload{
			ConnectionID: session.connID,
			Username:     participant.Username,
			ServerTime:   at,
		}),
	})

	broadcastFrame(relay.router.membersExcept(wire.GeneralRoom, session.connID), wire.Frame{
		Type: wire.TypeUserJoined,
		Payload: mustJSON(wire.UserEventPayload{
			Username: username,
			Body:     username + " joined the chat",
			At:       at,
		}),
	})

	presence := wire.PresencePayload{Participants: relay.registry.list()}
	_ = session.peer.writeFrame(wire.Frame{
		Type:    wire.TypePresenceSnapshot,
		Payload: mustJSON(presence),
	})
	broadcastFrame(relay.router.members(wire.GeneralRoom), wire.Frame{
		Type:    wire.TypePresenceUpdate,
		Payload: mustJSON(presence),
	})
	return true
}

func handleSendFrame(relay *relayCore, session *wsSession, frame wire.Frame) {
	var payload wire.SendPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInvalidArgument, "invalid send payload")
		return
	}

	body, ok := validateBody(session, frame.RequestID, payload.Body)
	if !ok {
		return
	}

	msg, err := newRelayMessage(session, body)
	if err != nil {
		log.Printf("relay: generate message id: %v", err)
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInternal, "message id generation failed")
		return
	}

	broadcastFrame(relay.router.members(wire.GeneralRoom), wire.Frame{
		Type:    wire.TypeMessage,
		Payload: mustJSON(wire.MessageEnvelope{Message: msg}),
	})
}

func handleSendPrivateFrame(relay *relayCore, session *wsSession, frame wire.Frame) {
	var payload wire.SendPrivatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInvalidArgument, "invalid send payload")
		return
	}

	recipientID := strings.TrimSpace(payload.RecipientID)
	if recipientID == "" {
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInvalidArgument, "recipient_id is required")
		return
	}
	body, ok := validateBody(session, frame.RequestID, payload.Body)
	if !ok {
		return
	}

	// The sender subscribes to the pairing group regardless of delivery
	// outcome so later events for this conversation reach it.
	groupKey := privateKey(session.connID, recipientID)
	relay.router.join(groupKey, session.connID, session.peer)

	_, recipientPeer, live := relay.registry.lookup(recipientID)
	if !live {
		_ = writeWSErrorDetails(session.peer, frame.RequestID, wire.CodeRecipientUnavailable,
			"recipient is no longer online", true,
			map[string]any{"recipient_id": recipientID})
		return
	}
	relay.router.join(groupKey, recipientID, recipientPeer)

	msg, err := newRelayMessage(session, body)
	if err != nil {
		log.Printf("relay: generate message id: %v", err)
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInternal, "message id generation failed")
		return
	}
	msg.RecipientID = recipientID
	msg.Room = groupKey
	msg.Visibility = wire.VisibilityPrivate

	broadcastFrame(relay.router.members(groupKey), wire.Frame{
		Type:    wire.TypeMessage,
		Payload: mustJSON(wire.MessageEnvelope{Message: msg}),
	})
	_ = recipientPeer.writeFrame(wire.Frame{
		Type: wire.TypeNotification,
		Payload: mustJSON(wire.NotificationPayload{
			SenderID:   session.connID,
			SenderName: session.currentUsername(),
			Body:       msg.Body,
			At:         msg.SentAt,
		}),
	})
}

// handleJoinPrivateFrame subscribes the sender to a pairing group ahead of
// messaging. Silent on success and on missing fields, matching the relay's
// no-noise policy for ephemeral intents.
func handleJoinPrivateFrame(relay *relayCore, session *wsSession, frame wire.Frame) {
	if session.currentUsername() == "" {
		return
	}
	var payload wire.JoinPrivatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	otherID := strings.TrimSpace(payload.OtherUserID)
	if otherID == "" {
		return
	}
	relay.router.join(privateKey(session.connID, otherID), session.connID, session.peer)
}

func handleTypingFrame(relay *relayCore, session *wsSession, frame wire.Frame) {
	username := session.currentUsername()
	if username == "" {
		return
	}
	var payload wire.TypingPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}

	if payload.Scope == wire.ScopePrivate {
		recipientID := strings.TrimSpace(payload.RecipientID)
		if recipientID == "" {
			return
		}
		_, recipientPeer, live := relay.registry.lookup(recipientID)
		if !live {
			return
		}
		_ = recipientPeer.writeFrame(wire.Frame{
			Type: wire.TypeTypingPrivate,
			Payload: mustJSON(wire.TypingUpdatePayload{
				SenderID: session.connID,
				Username: username,
				IsTyping: payload.IsTyping,
			}),
		})
		return
	}

	broadcastFrame(relay.router.membersExcept(wire.GeneralRoom, session.connID), wire.Frame{
		Type: wire.TypeTypingPublic,
		Payload: mustJSON(wire.TypingUpdatePayload{
			Username: username,
			IsTyping: payload.IsTyping,
		}),
	})
}

// handleReactionFrame relays reaction toggles to the resolved group. The
// server keeps no reaction state; idempotence is enforced by each client's
// reducer.
func handleReactionFrame(relay *relayCore, session *wsSession, frame wire.Frame, added bool) {
	username := session.currentUsername()
	if username == "" {
		return
	}
	var payload wire.ReactionPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	messageID := strings.TrimSpace(payload.MessageID)
	emoji := strings.TrimSpace(payload.Emoji)
	if messageID == "" || emoji == "" {
		return
	}

	groupKey := wire.GeneralRoom
	if payload.Scope == wire.ScopePrivate {
		recipientID := strings.TrimSpace(payload.RecipientID)
		if recipientID == "" {
			return
		}
		groupKey = privateKey(session.connID, recipientID)
	}

	if added {
		broadcastFrame(relay.router.members(groupKey), wire.Frame{
			Type: wire.TypeReactionAdded,
			Payload: mustJSON(wire.ReactionEnvelope{Reaction: wire.Reaction{
				MessageID:   messageID,
				Emoji:       emoji,
				ReactorID:   session.connID,
				ReactorName: username,
				At:          time.Now().UTC().Format(time.RFC3339),
			}}),
		})
		return
	}
	broadcastFrame(relay.router.members(groupKey), wire.Frame{
		Type: wire.TypeReactionRemoved,
		Payload: mustJSON(wire.ReactionRemovedPayload{
			MessageID: messageID,
			Emoji:     emoji,
			ReactorID: session.connID,
		}),
	})
}

// handleHistoryFrame answers with an empty window: the relay retains no
// message log, so reconnecting clients start from the live stream only.
func handleHistoryFrame(session *wsSession, frame wire.Frame) {
	var payload wire.HistoryPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInvalidArgument, "invalid history payload")
		return
	}
	otherID := strings.TrimSpace(payload.OtherUserID)
	if otherID == "" {
		_ = writeWSError(session.peer, frame.RequestID, wire.CodeInvalidArgument, "other_user_id is required")
		return
	}
	_ = session.peer.writeFrame(wire.Frame{
		Type:      wire.TypeHistoryResult,
		RequestID: frame.RequestID,
		Payload: mustJSON(wire.HistoryResultPayload{
			OtherUserID: otherID,
			Messages:    []wire.Message{},
		}),
	})
}

func validateBody(session *wsSession, requestID, body string) (string, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		_ = writeWSError(session.peer, requestID, wire.CodeInvalidArgument, "body is required")
		return "", false
	}
	if utf8.RuneCountInString(body) > maxMessageBodyRunes {
		_ = writeWSError(session.peer, requestID, wire.CodeInvalidArgument, "body must be at most 2000 characters")
		return "", false
	}
	return body, true
}

func newRelayMessage(session *wsSession, body string) (wire.Message, error) {
	msgID, err := id.NewID()
	if err != nil {
		return wire.Message{}, err
	}
	return wire.Message{
		MessageID:  msgID,
		Username:   session.currentUsername(),
		SenderID:   session.connID,
		Body:       body,
		SentAt:     time.Now().UTC().Format(time.RFC3339),
		Room:       wire.GeneralRoom,
		Visibility: wire.VisibilityPublic,
		Kind:       wire.KindText,
	}, nil
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return writeWSErrorDetails(peer, requestID, code, message, false, nil)
}

func writeWSErrorDetails(peer *wsPeer, requestID string, code string, message string, retryable bool, details map[string]any) error {
	return peer.writeFrame(wire.Frame{
		Type:      wire.TypeError,
		RequestID: requestID,
		Payload: mustJSON(wire.ErrorEnvelope{
			Error: wire.Error{
				Code:      code,
				Message:   message,
				Retryable: retryable,
				Details:   details,
			},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
