package realtime

import (
	"encoding/json"
	"testing"

	"realtime-service/internal/auth"
	"realtime-service/internal/store"
	"realtime-service/pkg/logger"
)

func newTestHub(t *testing.T, rules map[string]CollectionRule) *Hub {
	t.Helper()
	return NewHub(
		Options{ChannelsEnabled: true, RateLimitMax: 0},
		store.NewMemoryStore(),
		NewSubscriptionRouter(rules),
		NewChannelManager(),
		nil,
		logger.New("error"),
	)
}

// newTestClient registers a client without a network connection. The
// pumps never run, so frames pile up in the send buffer where tests can
// inspect them.
func newTestClient(t *testing.T, h *Hub, identity *auth.Identity) *Client {
	t.Helper()
	c := NewClient(h, nil, identity, "127.0.0.1:0", "test")
	h.Register(c)
	drainFrames(t, c) // discard the connected greeting
	return c
}

// drainFrames decodes every frame currently queued for the client.
func drainFrames(t *testing.T, c *Client) []Payload {
	t.Helper()
	var frames []Payload
	for {
		select {
		case data := <-c.send:
			var p Payload
			if err := json.Unmarshal(data, &p); err != nil {
				t.Fatalf("undecodable frame %q: %v", data, err)
			}
			frames = append(frames, p)
		default:
			return frames
		}
	}
}

// nextFrame pops exactly one queued frame, failing if none is waiting.
func nextFrame(t *testing.T, c *Client) Payload {
	t.Helper()
	select {
	case data := <-c.send:
		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("undecodable frame %q: %v", data, err)
		}
		return p
	default:
		t.Fatal("expected a queued frame, got none")
		return nil
	}
}

func sendRaw(t *testing.T, h *Hub, c *Client, msg string) {
	t.Helper()
	h.HandleMessage(c, []byte(msg))
}
