package server_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfir-abbou/Dapr/internal/bus"
	"github.com/kfir-abbou/Dapr/internal/server"
	"github.com/kfir-abbou/Dapr/pkg/api"
)

type testWebSocketEnv struct {
	Server *httptest.Server
	Conn   *websocket.Conn
}

const (
	wsReadTimeout  = 2 * time.Second
	wsCloseTimeout = 500 * time.Millisecond
)

func (e *testWebSocketEnv) Cleanup() {
	if e.Conn != nil {
		_ = e.Conn.Close()
	}
	if e.Server != nil {
		e.Server.Close()
	}
}

func TestClientReceivesProgress(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		ws := testServerWebSocket(t, env.Server)
		defer ws.Cleanup()

		ws.subscribe(t, api.ClientSubscription{})
		require.NoError(t, env.Bus.Publish(context.Background(),
			env.Config.Topics.WorkflowProgress,
			&api.ProgressEvent{
				WorkflowInstanceID: "setup-1",
				Message:            "Executing activity 1/4",
			},
		))

		ev := ws.readEvent(t)
		assert.Equal(t, env.Config.Topics.WorkflowProgress, ev.Topic)
		assert.Equal(t, api.InstanceID("setup-1"), ev.InstanceID)
		assert.Contains(t, string(ev.Data), "Executing activity 1/4")
		assert.False(t, ev.Timestamp.IsZero())
	})
}

func TestSubscribeFiltersInstance(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		ws := testServerWebSocket(t, env.Server)
		defer ws.Cleanup()

		res := ws.subscribe(t, api.ClientSubscription{
			InstanceID: "setup-2",
		})
		assert.Equal(t, api.InstanceID("setup-2"), res.InstanceID)

		ctx := context.Background()
		topic := env.Config.Topics.WorkflowProgress
		for _, id := range []api.InstanceID{"other", "setup-2"} {
			require.NoError(t, env.Bus.Publish(ctx, topic,
				&api.ProgressEvent{WorkflowInstanceID: id},
			))
		}

		ev := ws.readEvent(t)
		assert.Equal(t, api.InstanceID("setup-2"), ev.InstanceID)
	})
}

func TestMessageInvalid(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		ws := testServerWebSocket(t, env.Server)
		defer ws.Cleanup()

		require.NoError(t,
			ws.Conn.WriteMessage(websocket.TextMessage, []byte("nope")),
		)
		res := ws.subscribe(t, api.ClientSubscription{
			Topics: []string{"servicec-progress"},
		})
		assert.Equal(t, []string{"servicec-progress"}, res.Topics)
	})
}

func TestServerCloseWebSockets(t *testing.T) {
	withTestServerEnv(t, func(env *testServerEnv) {
		ws := testServerWebSocket(t, env.Server)
		defer ws.Cleanup()
		ws.subscribe(t, api.ClientSubscription{})

		env.Server.CloseWebSockets()

		_ = ws.Conn.SetReadDeadline(time.Now().Add(wsCloseTimeout))
		_, _, err := ws.Conn.ReadMessage()
		assert.Error(t, err)
	})
}

func TestBuildFilter(t *testing.T) {
	msg := func(topic, data string) *bus.Message {
		return &bus.Message{Topic: topic, Data: []byte(data)}
	}

	all := server.BuildFilter(&api.ClientSubscription{})
	assert.True(t, all(msg("a", `{}`)))

	byTopic := server.BuildFilter(&api.ClientSubscription{
		Topics: []string{"a"},
	})
	assert.True(t, byTopic(msg("a", `{}`)))
	assert.False(t, byTopic(msg("b", `{}`)))

	both := server.BuildFilter(&api.ClientSubscription{
		Topics:     []string{"a"},
		InstanceID: "x",
	})
	assert.True(t, both(msg("a", `{"workflowInstanceId":"x"}`)))
	assert.False(t, both(msg("a", `{"workflowInstanceId":"y"}`)))
	assert.False(t, both(msg("b", `{"workflowInstanceId":"x"}`)))
}

func testServerWebSocket(t *testing.T, srv *server.Server) *testWebSocketEnv {
	t.Helper()
	ts := httptest.NewServer(srv.SetupRoutes())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/workflow/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		require.NoError(t, err)
	}
	return &testWebSocketEnv{Server: ts, Conn: conn}
}

func (e *testWebSocketEnv) subscribe(
	t *testing.T, sub api.ClientSubscription,
) *api.SubscribedResult {
	t.Helper()
	require.NoError(t, e.Conn.WriteJSON(api.SubscribeRequest{
		Type: "subscribe",
		Data: sub,
	}))

	var res api.SubscribedResult
	_ = e.Conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	require.NoError(t, e.Conn.ReadJSON(&res))
	require.Equal(t, "subscribed", res.Type)
	return &res
}

func (e *testWebSocketEnv) readEvent(t *testing.T) *api.WebSocketEvent {
	t.Helper()
	var ev api.WebSocketEvent
	_ = e.Conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	require.NoError(t, e.Conn.ReadJSON(&ev))
	return &ev
}
