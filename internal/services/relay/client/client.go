package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/relaychat/internal/platform/id"
	"github.com/louisbranch/relaychat/internal/services/relay/wire"
)

// Client is a relay connection paired with a state reducer. Intents go out
// through the typed methods; Listen folds every inbound frame into State.
type Client struct {
	conn    *websocket.Conn
	reducer *Reducer

	mu      sync.Mutex
	encoder *json.Encoder
}

// Dial connects to a relay websocket endpoint. The origin is sent on the
// handshake and must satisfy the server's allow list.
func Dial(wsURL string, origin string) (*Client, error) {
	if strings.TrimSpace(wsURL) == "" {
		return nil, errors.New("websocket url is required")
	}
	conn, err := websocket.Dial(wsURL, "", origin)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &Client{
		conn:    conn,
		reducer: NewReducer(),
		encoder: json.NewEncoder(conn),
	}, nil
}

// State exposes the reducer for reads; it stays valid after Close.
func (c *Client) State() *Reducer {
	return c.reducer
}

// Listen consumes server frames until the connection or the context ends.
// A clean peer close returns nil.
func (c *Client) Listen(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		case <-done:
		}
	}()

	decoder := json.NewDecoder(c.conn)
	for {
		var frame wire.Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("decode relay frame: %w", err)
		}
		if err := c.reducer.Apply(frame); err != nil {
			return fmt.Errorf("apply relay frame: %w", err)
		}
	}
}

// Join starts a session under the given username.
func (c *Client) Join(username string) error {
	return c.send(wire.TypeJoin, wire.JoinPayload{Username: username})
}

// SendPublic posts a message to the general group.
func (c *Client) SendPublic(body string) error {
	return c.send(wire.TypeSend, wire.SendPayload{Body: body})
}

// SendPrivate posts a message to the pairing group with the recipient.
func (c *Client) SendPrivate(recipientID string, body string) error {
	return c.send(wire.TypeSendPrivate, wire.SendPrivatePayload{
		Body:        body,
		RecipientID: recipientID,
	})
}

// JoinPrivate subscribes to a pairing group before any message is sent.
func (c *Client) JoinPrivate(otherID string) error {
	return c.send(wire.TypeJoinPrivate, wire.JoinPrivatePayload{OtherUserID: otherID})
}

// SetPublicTyping signals typing state for the general group.
func (c *Client) SetPublicTyping(isTyping bool) error {
	return c.send(wire.TypeTyping, wire.TypingPayload{
		IsTyping: isTyping,
		Scope:    wire.ScopePublic,
	})
}

// SetPrivateTyping signals typing state to one recipient.
func (c *Client) SetPrivateTyping(recipientID string, isTyping bool) error {
	return c.send(wire.TypeTyping, wire.TypingPayload{
		IsTyping:    isTyping,
		Scope:       wire.ScopePrivate,
		RecipientID: recipientID,
	})
}

// AddReaction toggles an emoji onto a public message.
func (c *Client) AddReaction(messageID string, emoji string) error {
	return c.send(wire.TypeReactionAdd, wire.ReactionPayload{
		MessageID: messageID,
		Emoji:     emoji,
		Scope:     wire.ScopePublic,
	})
}

// AddPrivateReaction toggles an emoji onto a message in a pairing group.
func (c *Client) AddPrivateReaction(messageID string, emoji string, recipientID string) error {
	return c.send(wire.TypeReactionAdd, wire.ReactionPayload{
		MessageID:   messageID,
		Emoji:       emoji,
		Scope:       wire.ScopePrivate,
		RecipientID: recipientID,
	})
}

// RemoveReaction retracts a public reaction.
func (c *Client) RemoveReaction(messageID string, emoji string) error {
	return c.send(wire.TypeReactionRemove, wire.ReactionPayload{
		MessageID: messageID,
		Emoji:     emoji,
		Scope:     wire.ScopePublic,
	})
}

// RemovePrivateReaction retracts a reaction in a pairing group.
func (c *Client) RemovePrivateReaction(messageID string, emoji string, recipientID string) error {
	return c.send(wire.TypeReactionRemove, wire.ReactionPayload{
		MessageID:   messageID,
		Emoji:       emoji,
		Scope:       wire.ScopePrivate,
		RecipientID: recipientID,
	})
}

// RequestHistory asks for the stored window of a private conversation.
func (c *Client) RequestHistory(otherID string) error {
	return c.send(wire.TypeHistory, wire.HistoryPayload{OtherUserID: otherID})
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(frameType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	requestID, err := id.NewID()
	if err != nil {
		return fmt.Errorf("generate request id: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.encoder.Encode(wire.Frame{
		Type:      frameType,
		RequestID: requestID,
		Payload:   raw,
	}); err != nil {
		return fmt.Errorf("write %s frame: %w", frameType, err)
	}
	return nil
}
