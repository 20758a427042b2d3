package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock is a manually advanced time source for the hub.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestHub(t *testing.T, customize func(cfg *Config)) (*Hub, *fakeClock) {
	t.Helper()
	cfg := NewConfig()
	if customize != nil {
		customize(cfg)
	}
	hub := NewHub(cfg, zerolog.Nop())
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	hub.now = clock.Now
	hub.startedAt = clock.t
	return hub, clock
}

// newTestClient attaches a transport-less client and consumes its welcome.
func newTestClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	c := NewClient(nil, hub, "127.0.0.1:12345")
	hub.attach(c)
	welcome := mustReceive(t, c)
	if welcome["type"] != TypeWelcome {
		t.Fatalf("expected welcome envelope, got %v", welcome)
	}
	return c
}

func sendJSON(t *testing.T, hub *Hub, c *Client, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	hub.HandleEnvelope(c, raw)
}

func register(t *testing.T, hub *Hub, c *Client, id string) {
	t.Helper()
	sendJSON(t, hub, c, map[string]any{"type": TypeRegister, "userId": id, "userData": map[string]string{"name": id}})
}

// mustReceive pops the next queued envelope for c. Hub operations are
// synchronous, so anything sent is already in the channel.
func mustReceive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if !ok {
			t.Fatalf("send channel closed")
		}
		var env map[string]any
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("Failed to decode envelope %q: %v", raw, err)
		}
		return env
	default:
		t.Fatalf("expected an envelope, none queued")
		return nil
	}
}

func expectType(t *testing.T, c *Client, want string) map[string]any {
	t.Helper()
	env := mustReceive(t, c)
	if env["type"] != want {
		t.Fatalf("expected %q envelope, got %v", want, env)
	}
	return env
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if ok {
			t.Fatalf("expected no envelope, got %s", raw)
		}
	default:
	}
}

func drain(c *Client) {
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func userIDs(env map[string]any) []string {
	users, _ := env["users"].([]any)
	ids := make([]string, 0, len(users))
	for _, u := range users {
		m, _ := u.(map[string]any)
		id, _ := m["userId"].(string)
		ids = append(ids, id)
	}
	return ids
}
