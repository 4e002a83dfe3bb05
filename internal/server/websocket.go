package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/kfir-abbou/Dapr/internal/bus"
	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

type (
	// Client represents a WebSocket client connection for progress streaming
	Client struct {
		conn      *websocket.Conn
		consumer  bus.Subscription
		filter    MessageFilter
		closeOnce sync.Once
	}

	// MessageFilter selects the bus messages forwarded to a client
	MessageFilter func(*bus.Message) bool
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16

	subscribeType  = "subscribe"
	subscribedType = "subscribed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return
	}

	client := &Client{
		conn:     conn,
		consumer: s.bus.Tap(),
		filter:   BuildFilter(&api.ClientSubscription{}),
	}
	s.registerWebSocket(client)

	go func() {
		defer s.unregisterWebSocket(client)
		client.run()
	}()
}

// Close terminates the connection and stops the stream
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.consumer.Close()
		_ = c.conn.Close()
	})
}

func (c *Client) run() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			if !c.handleSubscribe(message) {
				return
			}

		case msg, ok := <-c.consumer.Receive():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.sendIfMatched(msg) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	defer close(incoming)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		incoming <- message
	}
}

func (c *Client) handleSubscribe(message []byte) bool {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Error("Failed to parse WebSocket message",
			log.Error(err))
		return true
	}

	if sub.Type != subscribeType {
		return true
	}

	c.filter = BuildFilter(&sub.Data)
	return c.write(api.SubscribedResult{
		Type:       subscribedType,
		Topics:     sub.Data.Topics,
		InstanceID: sub.Data.InstanceID,
	})
}

func (c *Client) sendIfMatched(msg *bus.Message) bool {
	if !c.filter(msg) {
		return true
	}
	return c.write(transformMessage(msg))
}

func (c *Client) write(v any) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		slog.Error("WebSocket write failed",
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}

func transformMessage(msg *bus.Message) *api.WebSocketEvent {
	return &api.WebSocketEvent{
		Topic:      msg.Topic,
		InstanceID: messageInstanceID(msg),
		Data:       msg.Data,
		Timestamp:  msg.Timestamp,
	}
}

func messageInstanceID(msg *bus.Message) api.InstanceID {
	return api.InstanceID(
		gjson.GetBytes(msg.Data, "workflowInstanceId").String(),
	)
}

// BuildFilter creates a message filter from a client subscription. An empty
// subscription matches every message
func BuildFilter(sub *api.ClientSubscription) MessageFilter {
	topics := slices.Clone(sub.Topics)
	id := sub.InstanceID
	return func(msg *bus.Message) bool {
		if len(topics) > 0 && !slices.Contains(topics, msg.Topic) {
			return false
		}
		return id == "" || messageInstanceID(msg) == id
	}
}
