package realtime

import (
	"testing"
	"time"

	"realtime-service/internal/auth"
	"realtime-service/internal/store"
	"realtime-service/pkg/logger"
)

func TestPingPong(t *testing.T) {
	h := newTestHub(t, nil)
	c := newTestClient(t, h, nil)

	sendRaw(t, h, c, `{"type":"ping","requestId":"r1"}`)

	frame := nextFrame(t, c)
	if frame["type"] != "pong" {
		t.Errorf("type = %v, want pong", frame["type"])
	}
	if frame["requestId"] != "r1" {
		t.Errorf("requestId = %v, want r1", frame["requestId"])
	}
}

func TestInvalidJSON(t *testing.T) {
	h := newTestHub(t, nil)
	c := newTestClient(t, h, nil)

	sendRaw(t, h, c, `{"type":`)

	frame := nextFrame(t, c)
	if frame["type"] != "error" || frame["code"] != ErrCodeInvalidJSON {
		t.Errorf("frame = %v, want INVALID_JSON error", frame)
	}
}

func TestUnknownMessageType(t *testing.T) {
	h := newTestHub(t, nil)
	c := newTestClient(t, h, nil)

	sendRaw(t, h, c, `{"type":"teleport","requestId":"r9"}`)

	frame := nextFrame(t, c)
	if frame["code"] != ErrCodeUnknownType {
		t.Errorf("code = %v, want UNKNOWN_MESSAGE_TYPE", frame["code"])
	}
	if frame["requestId"] != "r9" {
		t.Errorf("requestId = %v, want r9", frame["requestId"])
	}
}

func TestCRUDFanout(t *testing.T) {
	h := newTestHub(t, nil)
	writer := newTestClient(t, h, nil)
	watcher := newTestClient(t, h, nil)

	sendRaw(t, h, watcher, `{"type":"subscribe","resource":"tasks","requestId":"s1"}`)
	if frame := nextFrame(t, watcher); frame["type"] != "subscribed" {
		t.Fatalf("frame = %v, want subscribed", frame)
	}

	sendRaw(t, h, writer, `{"type":"insert","resource":"tasks","data":{"title":"ship it"},"requestId":"w1"}`)

	result := nextFrame(t, writer)
	if result["type"] != "inserted" || result["requestId"] != "w1" {
		t.Fatalf("insert result = %v", result)
	}
	data := result["data"].(map[string]interface{})
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatal("insert result missing id")
	}

	event := nextFrame(t, watcher)
	if event["type"] != "event" || event["event"] != "insert" || event["resource"] != "tasks" {
		t.Fatalf("event = %v, want insert event on tasks", event)
	}

	sendRaw(t, h, writer, `{"type":"update","resource":"tasks","id":"`+id+`","data":{"done":true},"requestId":"w2"}`)
	drainFrames(t, writer)
	if event := nextFrame(t, watcher); event["event"] != "update" {
		t.Errorf("event = %v, want update", event["event"])
	}

	sendRaw(t, h, writer, `{"type":"delete","resource":"tasks","id":"`+id+`","requestId":"w3"}`)
	drainFrames(t, writer)
	if event := nextFrame(t, watcher); event["event"] != "delete" {
		t.Errorf("event = %v, want delete", event["event"])
	}

	sendRaw(t, h, writer, `{"type":"get","resource":"tasks","id":"`+id+`","requestId":"w4"}`)
	frame := nextFrame(t, writer)
	if frame["code"] != ErrCodeNotFound {
		t.Errorf("get after delete = %v, want NOT_FOUND", frame)
	}
}

func TestFanoutRespectsFilter(t *testing.T) {
	h := newTestHub(t, nil)
	writer := newTestClient(t, h, nil)
	red := newTestClient(t, h, nil)
	blue := newTestClient(t, h, nil)

	sendRaw(t, h, red, `{"type":"subscribe","resource":"tasks","filter":{"team":"red"}}`)
	sendRaw(t, h, blue, `{"type":"subscribe","resource":"tasks","filter":{"team":"blue"}}`)
	drainFrames(t, red)
	drainFrames(t, blue)

	sendRaw(t, h, writer, `{"type":"insert","resource":"tasks","data":{"team":"red","title":"x"}}`)

	if frames := drainFrames(t, red); len(frames) != 1 {
		t.Errorf("red got %d frames, want 1", len(frames))
	}
	if frames := drainFrames(t, blue); len(frames) != 0 {
		t.Errorf("blue got %d frames, want 0", len(frames))
	}
}

func TestFanoutRedaction(t *testing.T) {
	h := newTestHub(t, map[string]CollectionRule{
		"patients": {ProtectedFields: []string{"ssn", "address.zip"}},
	})
	writer := newTestClient(t, h, nil)
	watcher := newTestClient(t, h, nil)

	sendRaw(t, h, watcher, `{"type":"subscribe","resource":"patients"}`)
	drainFrames(t, watcher)

	sendRaw(t, h, writer, `{"type":"insert","resource":"patients","data":{"name":"alice","ssn":"123","address":{"city":"a","zip":"b"}},"requestId":"w1"}`)

	// Both the mutation response and the fan-out event must be redacted.
	for name, c := range map[string]*Client{"writer": writer, "watcher": watcher} {
		frame := nextFrame(t, c)
		data := frame["data"].(map[string]interface{})
		if _, ok := data["ssn"]; ok {
			t.Errorf("%s frame leaked ssn: %v", name, data)
		}
		addr := data["address"].(map[string]interface{})
		if _, ok := addr["zip"]; ok {
			t.Errorf("%s frame leaked address.zip: %v", name, addr)
		}
	}
}

func TestCollectionRoleEnforcement(t *testing.T) {
	h := newTestHub(t, map[string]CollectionRule{
		"audit": {AllowedRoles: []string{"admin"}},
	})
	viewer := newTestClient(t, h, &auth.Identity{ID: "u1", Role: "viewer"})
	admin := newTestClient(t, h, &auth.Identity{ID: "u2", Role: "admin"})

	sendRaw(t, h, viewer, `{"type":"list","resource":"audit","requestId":"r1"}`)
	if frame := nextFrame(t, viewer); frame["code"] != ErrCodeForbidden {
		t.Errorf("viewer list = %v, want FORBIDDEN", frame)
	}

	sendRaw(t, h, admin, `{"type":"list","resource":"audit","requestId":"r2"}`)
	if frame := nextFrame(t, admin); frame["type"] != "data" {
		t.Errorf("admin list = %v, want data", frame)
	}

	sendRaw(t, h, viewer, `{"type":"list","resource":"nope","requestId":"r3"}`)
	if frame := nextFrame(t, viewer); frame["code"] != ErrCodeResourceNotFound {
		t.Errorf("unknown resource = %v, want RESOURCE_NOT_FOUND", frame)
	}
}

func TestChannelMessageNoSelfEcho(t *testing.T) {
	h := newTestHub(t, nil)
	a := newTestClient(t, h, nil)
	b := newTestClient(t, h, nil)

	sendRaw(t, h, a, `{"type":"join","channel":"lobby"}`)
	sendRaw(t, h, b, `{"type":"join","channel":"lobby"}`)
	drainFrames(t, a)
	drainFrames(t, b)

	sendRaw(t, h, a, `{"type":"publish","channel":"lobby","message":{"text":"hi"},"requestId":"p1"}`)

	ack := nextFrame(t, a)
	if ack["type"] != "published" {
		t.Fatalf("ack = %v, want published", ack)
	}
	if ack["delivered"] != float64(1) {
		t.Errorf("delivered = %v, want 1", ack["delivered"])
	}
	if extra := drainFrames(t, a); len(extra) != 0 {
		t.Errorf("sender received its own broadcast: %v", extra)
	}

	msg := nextFrame(t, b)
	if msg["type"] != "message" || msg["channel"] != "lobby" {
		t.Fatalf("message = %v", msg)
	}
	text := msg["data"].(map[string]interface{})["text"]
	if text != "hi" {
		t.Errorf("text = %v, want hi", text)
	}
}

func TestChannelMessageAlias(t *testing.T) {
	h := newTestHub(t, nil)
	a := newTestClient(t, h, nil)

	sendRaw(t, h, a, `{"type":"join","channel":"lobby"}`)
	drainFrames(t, a)

	sendRaw(t, h, a, `{"type":"channel:message","channel":"lobby","data":{"text":"x"},"requestId":"m1"}`)
	ack := nextFrame(t, a)
	if ack["type"] != "channel:sent" {
		t.Errorf("ack = %v, want channel:sent", ack)
	}
	if ack["delivered"] != float64(0) {
		t.Errorf("delivered = %v, want 0", ack["delivered"])
	}
}

func TestChannelMessageRequiresMembership(t *testing.T) {
	h := newTestHub(t, nil)
	c := newTestClient(t, h, nil)

	sendRaw(t, h, c, `{"type":"publish","channel":"lobby","message":{},"requestId":"p1"}`)
	if frame := nextFrame(t, c); frame["code"] != ErrCodeNotInChannel {
		t.Errorf("publish as non-member = %v, want NOT_IN_CHANNEL", frame)
	}
}

func TestChannelsDisabled(t *testing.T) {
	h := NewHub(Options{ChannelsEnabled: false}, store.NewMemoryStore(), NewSubscriptionRouter(nil), NewChannelManager(), nil, logger.New("error"))
	c := newTestClient(t, h, nil)

	for _, msg := range []string{
		`{"type":"join","channel":"lobby","requestId":"r"}`,
		`{"type":"leave","channel":"lobby","requestId":"r"}`,
		`{"type":"publish","channel":"lobby","requestId":"r"}`,
		`{"type":"channel:update","channel":"lobby","requestId":"r"}`,
	} {
		sendRaw(t, h, c, msg)
		if frame := nextFrame(t, c); frame["code"] != ErrCodeChannelsDisabled {
			t.Errorf("%s: code = %v, want CHANNELS_DISABLED", msg, frame["code"])
		}
	}
}

func TestPresenceLifecycle(t *testing.T) {
	h := newTestHub(t, nil)
	alice := newTestClient(t, h, &auth.Identity{ID: "alice"})
	bob := newTestClient(t, h, &auth.Identity{ID: "bob"})

	sendRaw(t, h, alice, `{"type":"join","channel":"presence-room","userInfo":{"name":"Alice"},"requestId":"j1"}`)
	joined := nextFrame(t, alice)
	if joined["type"] != "channel:joined" {
		t.Fatalf("frame = %v, want channel:joined", joined)
	}
	if joined["channelType"] != "presence" {
		t.Errorf("channelType = %v, want presence", joined["channelType"])
	}
	if members := joined["members"].([]interface{}); len(members) != 1 {
		t.Errorf("roster size = %d, want 1", len(members))
	}

	sendRaw(t, h, bob, `{"type":"join","channel":"presence-room","userInfo":{"name":"Bob"},"requestId":"j2"}`)
	bobJoined := nextFrame(t, bob)
	if members := bobJoined["members"].([]interface{}); len(members) != 2 {
		t.Errorf("roster size = %d, want 2", len(members))
	}

	notice := nextFrame(t, alice)
	if notice["type"] != "presence:member_joined" {
		t.Fatalf("alice got %v, want presence:member_joined", notice)
	}
	member := notice["member"].(map[string]interface{})
	if member["id"] != "bob" || member["name"] != "Bob" {
		t.Errorf("member = %v", member)
	}

	sendRaw(t, h, bob, `{"type":"channel:update","channel":"presence-room","userInfo":{"status":"away"},"requestId":"u1"}`)
	if frame := nextFrame(t, bob); frame["type"] != "channel:updated" {
		t.Fatalf("frame = %v, want channel:updated", frame)
	}
	updated := nextFrame(t, alice)
	if updated["type"] != "presence:member_updated" {
		t.Fatalf("alice got %v, want presence:member_updated", updated)
	}

	sendRaw(t, h, bob, `{"type":"leave","channel":"presence-room","requestId":"l1"}`)
	if frame := nextFrame(t, bob); frame["type"] != "channel:left" {
		t.Fatalf("frame = %v, want channel:left", frame)
	}
	left := nextFrame(t, alice)
	if left["type"] != "presence:member_left" {
		t.Fatalf("alice got %v, want presence:member_left", left)
	}
	if left["member"].(map[string]interface{})["id"] != "bob" {
		t.Errorf("departed member = %v", left["member"])
	}
}

func TestRemoveCleansEverything(t *testing.T) {
	h := newTestHub(t, nil)
	a := newTestClient(t, h, &auth.Identity{ID: "alice"})
	b := newTestClient(t, h, &auth.Identity{ID: "bob"})

	sendRaw(t, h, a, `{"type":"subscribe","resource":"tasks"}`)
	sendRaw(t, h, a, `{"type":"subscribe","resource":"users"}`)
	sendRaw(t, h, a, `{"type":"join","channel":"presence-room"}`)
	sendRaw(t, h, b, `{"type":"join","channel":"presence-room"}`)
	drainFrames(t, a)
	drainFrames(t, b)

	report := h.Remove(a.ID())
	if report.Subscriptions != 2 {
		t.Errorf("cleaned subscriptions = %d, want 2", report.Subscriptions)
	}
	if report.Channels != 1 {
		t.Errorf("cleaned channels = %d, want 1", report.Channels)
	}

	// Bob sees the presence departure.
	notice := nextFrame(t, b)
	if notice["type"] != "presence:member_left" {
		t.Fatalf("bob got %v, want presence:member_left", notice)
	}

	if h.router.SubscriptionCount(a.ID()) != 0 {
		t.Error("subscriptions survived removal")
	}
	if h.channels.IsMember("presence-room", a.ID()) {
		t.Error("membership survived removal")
	}

	// Second removal is a no-op.
	if again := h.Remove(a.ID()); again.Subscriptions != 0 || again.Channels != 0 {
		t.Errorf("second Remove = %+v, want zero report", again)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	h := NewHub(
		Options{RateLimitMax: 2, RateLimitWindow: time.Hour},
		store.NewMemoryStore(),
		NewSubscriptionRouter(nil),
		NewChannelManager(),
		nil,
		logger.New("error"),
	)
	c := newTestClient(t, h, nil)

	sendRaw(t, h, c, `{"type":"ping"}`)
	sendRaw(t, h, c, `{"type":"ping"}`)
	sendRaw(t, h, c, `{"type":"ping"}`)

	frames := drainFrames(t, c)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	last := frames[2]
	if last["code"] != ErrCodeRateLimited {
		t.Errorf("third frame = %v, want RATE_LIMIT_EXCEEDED", last)
	}
	if h.Metrics().Snapshot()["rateLimited"] != 1 {
		t.Error("rateLimited counter not incremented")
	}
}

func TestStats(t *testing.T) {
	h := newTestHub(t, nil)
	a := newTestClient(t, h, nil)
	newTestClient(t, h, nil)
	sendRaw(t, h, a, `{"type":"join","channel":"lobby"}`)

	stats := h.Stats()
	if stats["connections"] != 2 {
		t.Errorf("connections = %v, want 2", stats["connections"])
	}
	if stats["channels"] != 1 {
		t.Errorf("channels = %v, want 1", stats["channels"])
	}
}
