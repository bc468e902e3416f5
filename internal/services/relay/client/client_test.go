package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	server "github.com/louisbranch/relaychat/internal/services/relay/app"
	"github.com/louisbranch/relaychat/internal/services/relay/wire"
)

func startRelay(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(server.NewHandler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialAndListen(t *testing.T, wsURL string) *Client {
	t.Helper()
	c, err := Dial(wsURL, "http://relay.test")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = c.Listen(ctx)
	}()
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func join(t *testing.T, c *Client, username string) string {
	t.Helper()
	if err := c.Join(username); err != nil {
		t.Fatalf("join %s: %v", username, err)
	}
	waitFor(t, username+" join ack", func() bool {
		return c.State().SelfID() != ""
	})
	return c.State().SelfID()
}

func TestClientPublicConversation(t *testing.T) {
	wsURL := startRelay(t)

	clientA := dialAndListen(t, wsURL)
	clientB := dialAndListen(t, wsURL)

	idA := join(t, clientA, "ada")
	join(t, clientB, "grace")

	waitFor(t, "full presence on both clients", func() bool {
		return len(clientA.State().Presence()) == 2 && len(clientB.State().Presence()) == 2
	})

	if err := clientA.SetPublicTyping(true); err != nil {
		t.Fatalf("set typing: %v", err)
	}
	waitFor(t, "typing indicator on b", func() bool {
		typing := clientB.State().PublicTyping()
		return len(typing) == 1 && typing[0] == "ada"
	})

	if err := clientA.SendPublic("hello everyone"); err != nil {
		t.Fatalf("send public: %v", err)
	}
	if err := clientA.SetPublicTyping(false); err != nil {
		t.Fatalf("clear typing: %v", err)
	}

	waitFor(t, "message on both timelines", func() bool {
		return hasChatBody(clientA.State().PublicTimeline(), "hello everyone") &&
			hasChatBody(clientB.State().PublicTimeline(), "hello everyone")
	})
	waitFor(t, "typing indicator cleared", func() bool {
		return len(clientB.State().PublicTyping()) == 0
	})

	for _, msg := range clientB.State().PublicTimeline() {
		if msg.Kind == wire.KindText && msg.SenderID != idA {
			t.Fatalf("unexpected sender id %q", msg.SenderID)
		}
	}
}

func TestClientPrivateConversationWithReactions(t *testing.T) {
	wsURL := startRelay(t)

	clientA := dialAndListen(t, wsURL)
	clientB := dialAndListen(t, wsURL)

	idA := join(t, clientA, "ada")
	idB := join(t, clientB, "grace")

	if err := clientA.SendPrivate(idB, "hi grace"); err != nil {
		t.Fatalf("send private: %v", err)
	}

	waitFor(t, "private message on both sides", func() bool {
		return len(clientA.State().PrivateTimeline(idB)) == 1 &&
			len(clientB.State().PrivateTimeline(idA)) == 1
	})
	waitFor(t, "notification badge on b", func() bool {
		notifications := clientB.State().Notifications()
		return len(notifications) == 1 && notifications[0].SenderID == idA
	})

	messageID := clientA.State().PrivateTimeline(idB)[0].MessageID
	if messageID == "" {
		t.Fatal("private message is missing an id")
	}

	if err := clientB.AddPrivateReaction(messageID, "👍", idA); err != nil {
		t.Fatalf("add reaction: %v", err)
	}
	waitFor(t, "reaction visible on both sides", func() bool {
		return len(clientA.State().Reactions(messageID)["👍"]) == 1 &&
			len(clientB.State().Reactions(messageID)["👍"]) == 1
	})

	if err := clientB.RemovePrivateReaction(messageID, "👍", idA); err != nil {
		t.Fatalf("remove reaction: %v", err)
	}
	waitFor(t, "reaction retracted on both sides", func() bool {
		return len(clientA.State().Reactions(messageID)) == 0 &&
			len(clientB.State().Reactions(messageID)) == 0
	})
}

func TestClientOfflineRecipientSurfacesError(t *testing.T) {
	wsURL := startRelay(t)

	clientA := dialAndListen(t, wsURL)
	join(t, clientA, "ada")

	if err := clientA.SendPrivate("nobodyhomexxxxxxxxxxxxxxxx", "anyone there"); err != nil {
		t.Fatalf("send private: %v", err)
	}

	waitFor(t, "delivery error", func() bool {
		lastErr := clientA.State().LastError()
		return lastErr != nil && lastErr.Code == wire.CodeRecipientUnavailable
	})

	if got := clientA.State().PrivateTimeline("nobodyhomexxxxxxxxxxxxxxxx"); len(got) != 0 {
		t.Fatalf("timeline = %d messages, want none after failed delivery", len(got))
	}
}

func TestClientSeesDepartures(t *testing.T) {
	wsURL := startRelay(t)

	clientA := dialAndListen(t, wsURL)
	clientB := dialAndListen(t, wsURL)

	join(t, clientA, "ada")
	join(t, clientB, "grace")

	waitFor(t, "full presence", func() bool {
		return len(clientA.State().Presence()) == 2
	})

	if err := clientB.Close(); err != nil {
		t.Fatalf("close b: %v", err)
	}

	waitFor(t, "departure visible to a", func() bool {
		presence := clientA.State().Presence()
		return len(presence) == 1 && presence[0].Username == "ada"
	})
	waitFor(t, "leave entry in timeline", func() bool {
		for _, msg := range clientA.State().PublicTimeline() {
			if msg.Kind == wire.KindSystem && strings.Contains(msg.Body, "grace left") {
				return true
			}
		}
		return false
	})
}

func hasChatBody(timeline []wire.Message, body string) bool {
	for _, msg := range timeline {
		if msg.Kind == wire.KindText && msg.Body == body {
			return true
		}
	}
	return false
}
