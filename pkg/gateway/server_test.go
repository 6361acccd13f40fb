package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/collabedit/pkg/relay"
	"github.com/harun/collabedit/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	nextID int64
	events []map[string]interface{}
}

func newTestServer(t *testing.T, secret string) (*Server, *httptest.Server) {
	t.Helper()

	hub := relay.NewHub(zerolog.Nop())
	srv, err := NewServer(Config{
		Room:         "room-1",
		Hub:          hub,
		SharedSecret: secret,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		hub.Close()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) read() map[string]interface{} {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, payload, err := c.conn.ReadMessage()
	require.NoError(c.t, err)

	var msg map[string]interface{}
	require.NoError(c.t, json.Unmarshal(payload, &msg))
	return msg
}

// waitEvent reads until an event named event arrives and match accepts it.
// Responses and other events read along the way are kept in c.events.
func (c *testClient) waitEvent(event string, match func(data map[string]interface{}) bool) map[string]interface{} {
	c.t.Helper()

	for i, msg := range c.events {
		if msg["event"] == event && matches(msg, match) {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return msg
		}
	}
	for {
		msg := c.read()
		if msg["event"] == event && matches(msg, match) {
			return msg
		}
		c.events = append(c.events, msg)
	}
}

func matches(msg map[string]interface{}, match func(map[string]interface{}) bool) bool {
	if match == nil {
		return true
	}
	data, _ := msg["data"].(map[string]interface{})
	return match(data)
}

func (c *testClient) call(method string, params map[string]interface{}) RPCResponse {
	c.t.Helper()

	id := fmt.Sprintf("req-%d", atomic.AddInt64(&c.nextID, 1))
	require.NoError(c.t, c.conn.WriteJSON(RPCRequest{
		ID:      id,
		Method:  method,
		Params:  params,
		JSONRPC: "2.0",
	}))

	for {
		msg := c.read()
		if msg["id"] != id {
			c.events = append(c.events, msg)
			continue
		}
		payload, err := json.Marshal(msg)
		require.NoError(c.t, err)
		var resp RPCResponse
		require.NoError(c.t, json.Unmarshal(payload, &resp))
		return resp
	}
}

func resultMap(t *testing.T, resp RPCResponse) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	m, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	return m
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{Port: 70000, Hub: relay.NewHub(zerolog.Nop())})
	assert.Error(t, err)

	_, err = NewServer(Config{})
	assert.Error(t, err)

	srv, err := NewServer(Config{Hub: relay.NewHub(zerolog.Nop()), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, session.DefaultRoom, srv.room)
	assert.Contains(t, srv.Methods(), "session.join")
	assert.Contains(t, srv.Methods(), "document.edit")
	assert.Contains(t, srv.Methods(), "cursor.project")
}

func TestServer_SessionFlow(t *testing.T) {
	_, ts := newTestServer(t, "")

	alice := dial(t, ts)
	prompt := alice.waitEvent(EventAwaitingName, nil)
	assert.Equal(t, "room-1", prompt["room"])

	t.Run("edit before join is rejected", func(t *testing.T) {
		resp := alice.call("document.edit", map[string]interface{}{"content": "x", "cursor": 1})
		require.NotNil(t, resp.Error)
		assert.Equal(t, NotJoinedCode, resp.Error.Code)
	})

	t.Run("join and edit", func(t *testing.T) {
		joined := resultMap(t, alice.call("session.join", map[string]interface{}{"name": "Alice"}))
		assert.Equal(t, string(session.StateJoined), joined["state"])

		edited := resultMap(t, alice.call("document.edit", map[string]interface{}{"content": "hi", "cursor": 2}))
		assert.Equal(t, float64(1), edited["revision"])
		event, ok := edited["event"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "insert", event["kind"])
		assert.Equal(t, "hi", event["text"])
		assert.Equal(t, float64(0), event["position"])
	})

	t.Run("invalid params are rejected", func(t *testing.T) {
		resp := alice.call("document.edit", map[string]interface{}{"content": "hi", "cursor": -1})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})

	bob := dial(t, ts)
	bob.waitEvent(EventAwaitingName, nil)

	t.Run("second client sees existing names", func(t *testing.T) {
		require.Eventually(t, func() bool {
			names := resultMap(t, bob.call("session.names", nil))["names"]
			list, _ := names.([]interface{})
			return len(list) == 1 && list[0] == "Alice"
		}, 3*time.Second, 20*time.Millisecond)

		resp := bob.call("session.join", map[string]interface{}{"name": " Alice "})
		require.NotNil(t, resp.Error)
		assert.Equal(t, IdentityErrorCode, resp.Error.Code)
		assert.Equal(t, "Username already taken, please choose another", resp.Error.Message)
	})

	t.Run("second client joins and receives the document", func(t *testing.T) {
		resultMap(t, bob.call("session.join", map[string]interface{}{"name": "Bob"}))

		require.Eventually(t, func() bool {
			snap := resultMap(t, bob.call("session.snapshot", nil))
			doc, _ := snap["document"].(map[string]interface{})
			return doc["content"] == "hi"
		}, 3*time.Second, 20*time.Millisecond)

		change := alice.waitEvent(EventPresenceChanged, func(data map[string]interface{}) bool {
			p, _ := data["participant"].(map[string]interface{})
			return p["displayName"] == "Bob"
		})
		assert.Equal(t, "remote", change["data"].(map[string]interface{})["origin"])
	})

	t.Run("remote edits reach the other client", func(t *testing.T) {
		resultMap(t, bob.call("document.edit", map[string]interface{}{"content": "hi!", "cursor": 3}))

		change := alice.waitEvent(EventDocumentChanged, func(data map[string]interface{}) bool {
			doc, _ := data["document"].(map[string]interface{})
			return doc["content"] == "hi!"
		})
		data := change["data"].(map[string]interface{})
		assert.Equal(t, "remote", data["origin"])
	})

	t.Run("projection and activity", func(t *testing.T) {
		pos := resultMap(t, alice.call("cursor.project", map[string]interface{}{"offset": 2}))
		assert.Equal(t, float64(0), pos["line"])
		assert.Equal(t, float64(2), pos["column"])

		recent := resultMap(t, alice.call("activity.recent", map[string]interface{}{"limit": 10}))
		events, _ := recent["events"].([]interface{})
		assert.NotEmpty(t, events)
	})

	t.Run("leaving removes the participant", func(t *testing.T) {
		left := resultMap(t, bob.call("session.leave", nil))
		assert.Equal(t, string(session.StateLeft), left["state"])

		alice.waitEvent(EventPresenceChanged, func(data map[string]interface{}) bool {
			p, _ := data["participant"].(map[string]interface{})
			return data["kind"] == "left" && p["displayName"] == "Bob"
		})
	})
}

func TestServer_AuthHandshake(t *testing.T) {
	_, ts := newTestServer(t, "s3cret")

	t.Run("valid signature opens the session", func(t *testing.T) {
		client := dial(t, ts)
		challenge := client.read()
		require.Equal(t, "auth.challenge", challenge["event"])

		resp := client.call("session.names", nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "req-1", resp.ID)
		assert.Equal(t, AuthenticationRequired, resp.Error.Code)
		assert.Equal(t, "Authentication required", resp.Error.Message)

		sig := SignChallenge("s3cret", challenge["challenge"].(string))
		require.NoError(t, client.conn.WriteJSON(AuthResponse{Method: "auth.response", Signature: sig}))

		result := client.waitEvent("auth.success", nil)
		assert.Equal(t, true, result["success"])
		client.waitEvent(EventAwaitingName, nil)
	})

	t.Run("invalid signature is refused", func(t *testing.T) {
		client := dial(t, ts)
		challenge := client.read()
		require.Equal(t, "auth.challenge", challenge["event"])

		require.NoError(t, client.conn.WriteJSON(AuthResponse{Method: "auth.response", Signature: "nope"}))
		result := client.waitEvent("auth.failure", nil)
		assert.Equal(t, "Invalid signature", result["message"])
	})
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "room-1", body["room"])
	assert.Equal(t, float64(0), body["clients"])
}

func TestClientRegistry_CountBySession(t *testing.T) {
	srv, ts := newTestServer(t, "")

	alice := dial(t, ts)
	alice.waitEvent(EventAwaitingName, nil)
	bob := dial(t, ts)
	bob.waitEvent(EventAwaitingName, nil)

	resultMap(t, alice.call("session.join", map[string]interface{}{"name": "Alice"}))

	counts := srv.clients.CountBySession()
	assert.Equal(t, 1, counts[session.StateJoined])
	assert.Equal(t, 1, counts[session.StateAwaitingName])

	infos := srv.GetConnectedClients()
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.True(t, info.Authenticated)
		assert.False(t, info.Idle)
	}
}

func TestServer_StartStop(t *testing.T) {
	hub := relay.NewHub(zerolog.Nop())
	defer hub.Close()

	srv, err := NewServer(Config{
		Host:         "127.0.0.1",
		Port:         0,
		Hub:          hub,
		TickInterval: 20 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	require.NotEmpty(t, srv.Addr())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	client := &testClient{t: t, conn: conn}

	client.waitEvent(EventTick, nil)
	assert.Len(t, srv.GetConnectedClients(), 1)

	require.NoError(t, srv.Stop())
	client.waitEvent(EventShutdown, nil)
}
