package server_test

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-presence/internal/server"
)

const readTimeout = 2 * time.Second

// startTestServer runs a hub and the full router behind httptest.
func startTestServer(t *testing.T, customize func(cfg *server.Config)) (*server.Hub, *httptest.Server) {
	t.Helper()
	cfg := server.NewConfig()
	cfg.StaticDir = t.TempDir()
	if customize != nil {
		customize(cfg)
	}

	hub := server.NewHub(cfg, zerolog.Nop())
	server.StartHub(hub)

	testServer := httptest.NewServer(server.SetupRoutes(hub, cfg, zerolog.Nop()))
	t.Cleanup(func() {
		testServer.Close()
		_ = hub.Shutdown(2 * time.Second)
	})
	return hub, testServer
}

func wsURL(testServer *httptest.Server) string {
	return "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
}

// dial connects and consumes the welcome envelope.
func dial(t *testing.T, testServer *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(testServer), nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	welcome := readEnvelope(t, conn)
	if welcome["type"] != server.TypeWelcome || welcome["message"] == "" {
		t.Fatalf("Expected welcome envelope, got %v", welcome)
	}
	return conn
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to send envelope: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read envelope: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Frame %q is not a single JSON envelope: %v", raw, err)
	}
	return env
}

// readUntil skips envelopes until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, envelopeType string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		env := readEnvelope(t, conn)
		if env["type"] == envelopeType {
			return env
		}
	}
	t.Fatalf("No %q envelope received", envelopeType)
	return nil
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", raw)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

func registerAs(t *testing.T, conn *websocket.Conn, id string) {
	t.Helper()
	writeEnvelope(t, conn, map[string]any{"type": "register", "userId": id, "userData": map[string]string{"name": id}})
	readUntil(t, conn, server.TypeRegistered)
	readUntil(t, conn, server.TypeOnlineUsers)
}

func getJSON(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("Failed to decode %s: %v", url, err)
		}
	}
	return resp
}

// TestPrivateMessagingEndToEnd tests registration, delivery and disconnect over real sockets.
// It verifies the recipient gets the message, the sender gets the
// acknowledgment, and a disconnect is announced to the remaining user.
func TestPrivateMessagingEndToEnd(t *testing.T) {
	hub, testServer := startTestServer(t, nil)

	alice := dial(t, testServer)
	registerAs(t, alice, "alice")
	bob := dial(t, testServer)
	registerAs(t, bob, "bob")

	joined := readUntil(t, alice, server.TypeUserOnline)
	if joined["userId"] != "bob" {
		t.Errorf("Expected alice to see bob come online, got %v", joined)
	}
	roster := readUntil(t, alice, server.TypeOnlineUsers)
	if users, _ := roster["users"].([]any); len(users) != 2 {
		t.Errorf("Expected two users online, got %v", roster["users"])
	}

	writeEnvelope(t, alice, map[string]any{"type": "private_message", "from": "alice", "to": "bob", "text": "hello bob"})

	got := readUntil(t, bob, server.TypePrivateMessage)
	if got["from"] != "alice" || got["text"] != "hello bob" {
		t.Errorf("Unexpected private_message: %v", got)
	}
	ack := readUntil(t, alice, server.TypeMessageDelivered)
	if ack["to"] != "bob" || ack["messageId"] != got["messageId"] {
		t.Errorf("Unexpected acknowledgment: %v", ack)
	}

	writeEnvelope(t, bob, map[string]any{"type": "typing", "from": "bob", "to": "alice", "isTyping": true})
	typing := readUntil(t, alice, server.TypeTyping)
	if typing["from"] != "bob" || typing["isTyping"] != true {
		t.Errorf("Unexpected typing envelope: %v", typing)
	}

	if history := hub.History("bob", "alice"); len(history) != 1 {
		t.Errorf("Expected one recorded message, got %d", len(history))
	}

	_ = bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = bob.Close()

	offline := readUntil(t, alice, server.TypeUserOffline)
	if offline["userId"] != "bob" {
		t.Errorf("Expected user_offline for bob, got %v", offline)
	}
	roster = readUntil(t, alice, server.TypeOnlineUsers)
	if users, _ := roster["users"].([]any); len(users) != 1 {
		t.Errorf("Expected only alice online, got %v", roster["users"])
	}

	writeEnvelope(t, alice, map[string]any{"type": "private_message", "from": "alice", "to": "bob", "text": "still there?"})
	errEnv := readUntil(t, alice, server.TypeError)
	if errEnv["message"] != "recipient offline" {
		t.Errorf("Expected recipient offline, got %v", errEnv)
	}
}

// TestProtocolErrorsKeepConnectionOpen tests malformed and unknown input over a real socket.
func TestProtocolErrorsKeepConnectionOpen(t *testing.T) {
	_, testServer := startTestServer(t, nil)
	conn := dial(t, testServer)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	env := readEnvelope(t, conn)
	if env["type"] != server.TypeError || env["message"] != "invalid message format" {
		t.Errorf("Expected invalid message format error, got %v", env)
	}

	// unknown types get no reply, so the next frame must answer the ping
	writeEnvelope(t, conn, map[string]any{"type": "unheard_of", "text": 42})
	writeEnvelope(t, conn, map[string]any{"type": "ping", "timestamp": "not a number"})
	if env := readEnvelope(t, conn); env["type"] != server.TypePong {
		t.Errorf("Expected pong right after the unknown envelope, got %v", env)
	}
}

// TestHTTPViews tests the health and user lookup endpoints.
func TestHTTPViews(t *testing.T) {
	_, testServer := startTestServer(t, nil)
	conn := dial(t, testServer)
	registerAs(t, conn, "u1")

	var health server.HealthResponse
	resp := getJSON(t, testServer.URL+"/health", &health)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Expected JSON content type, got %s", resp.Header.Get("Content-Type"))
	}
	if health.Status != "ok" || health.OnlineUsers != 1 || health.Uptime < 0 {
		t.Errorf("Unexpected health response: %+v", health)
	}

	var known map[string]any
	getJSON(t, testServer.URL+"/api/user/u1", &known)
	data, _ := known["userData"].(map[string]any)
	if known["exists"] != true || known["online"] != true || data["name"] != "u1" {
		t.Errorf("Unexpected lookup for u1: %v", known)
	}

	var unknown map[string]any
	getJSON(t, testServer.URL+"/api/user/nobody", &unknown)
	if unknown["exists"] != false || unknown["online"] != false || unknown["userData"] != nil {
		t.Errorf("Unexpected lookup for unknown user: %v", unknown)
	}
}

// TestWebSocketEndpointRejections tests non-upgrade requests to /ws.
func TestWebSocketEndpointRejections(t *testing.T) {
	_, testServer := startTestServer(t, nil)

	t.Run("Invalid HTTP Method", func(t *testing.T) {
		resp, err := http.Post(testServer.URL+"/ws", "text/plain", strings.NewReader("test"))
		if err != nil {
			t.Fatalf("Failed to make POST request: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, resp.StatusCode)
		}
	})

	t.Run("POST To Static Path", func(t *testing.T) {
		resp, err := http.Post(testServer.URL+"/index.html", "text/plain", strings.NewReader("test"))
		if err != nil {
			t.Fatalf("Failed to make POST request: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, resp.StatusCode)
		}
	})

	t.Run("GET Without WebSocket Headers", func(t *testing.T) {
		resp := getJSON(t, testServer.URL+"/ws", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
		}
	})
}

// TestDisallowedOriginRejected tests the origin allow-list on upgrade.
func TestDisallowedOriginRejected(t *testing.T) {
	_, testServer := startTestServer(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"http://allowed.example"}
	})

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(testServer), header)
	if err == nil {
		_ = conn.Close()
		t.Fatal("Expected handshake to fail for disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 response, got %v", resp)
	}

	header.Set("Origin", "http://allowed.example")
	conn, resp, err = websocket.DefaultDialer.Dial(wsURL(testServer), header)
	if err != nil {
		t.Fatalf("Expected allowed origin to connect: %v", err)
	}
	_ = resp.Body.Close()
	_ = conn.Close()
}

// TestOversizedFrameClosesConnection tests the inbound frame size limit.
func TestOversizedFrameClosesConnection(t *testing.T) {
	_, testServer := startTestServer(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 128
	})
	conn := dial(t, testServer)

	big := `{"type":"register","userId":"` + strings.Repeat("x", 1024) + `"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the connection to be closed after an oversized frame")
	}
}

// TestRateLimitDropsExcessEnvelopes tests per-connection throttling.
func TestRateLimitDropsExcessEnvelopes(t *testing.T) {
	_, testServer := startTestServer(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	conn := dial(t, testServer)

	for i := 0; i < 5; i++ {
		writeEnvelope(t, conn, map[string]any{"type": "ping"})
	}

	for i := 0; i < 2; i++ {
		if env := readEnvelope(t, conn); env["type"] != server.TypePong {
			t.Fatalf("Expected pong, got %v", env)
		}
	}
	expectNoMessage(t, conn, 300*time.Millisecond)
}

// TestStaticAndMetricsRoutes tests static asset serving and the Prometheus endpoint.
func TestStaticAndMetricsRoutes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>relay</h1>"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, testServer := startTestServer(t, func(cfg *server.Config) {
		cfg.StaticDir = dir
	})

	resp, err := http.Get(testServer.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "<h1>relay</h1>") {
		t.Errorf("Expected index.html, got %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(testServer.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "gochat_connections_active") {
		t.Errorf("Expected Prometheus exposition, got %d", resp.StatusCode)
	}
}

// TestHubShutdownClosesClients tests that shutdown disconnects attached clients
// and refuses new registrations.
func TestHubShutdownClosesClients(t *testing.T) {
	hub, testServer := startTestServer(t, nil)
	conn := dial(t, testServer)
	registerAs(t, conn, "u1")

	if err := hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatal(err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	if hub.Register(server.NewClient(nil, hub, "late")) {
		t.Error("Register should fail after shutdown")
	}
}
