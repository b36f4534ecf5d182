package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gorillaDial(httpURL string) (*websocket.Conn, interface{}, error) {
	url := "ws" + strings.TrimPrefix(httpURL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, resp, err
}

func expectError(t *testing.T, client *Client, contains string) {
	t.Helper()
	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		require.NoError(t, json.Unmarshal(msg, &wsMsg))
		assert.Equal(t, MessageTypeError, wsMsg.Type)
		assert.Contains(t, wsMsg.Error, contains)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected error message to be sent")
	}
}

func TestNewClient_CreatesClientWithConnection(t *testing.T) {
	hub := NewHub(nil)

	client := NewClient(hub, nil, nil)

	assert.NotNil(t, client)
	assert.Equal(t, hub, client.hub)
	assert.NotNil(t, client.send)
}

func TestClient_HandleMessage_SubscribeAndUnsubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)

	client := NewClient(hub, nil, nil)
	hub.Register(client)

	data, err := json.Marshal(WSMessage{Type: MessageTypeSubscribe, Topic: "High"})
	require.NoError(t, err)
	client.handleMessage(data)

	// Hub channels are unbuffered, so the request has been received; give
	// the loop a moment to apply it.
	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.subscriptions["high"][client]
	}, time.Second, 5*time.Millisecond)

	data, err = json.Marshal(WSMessage{Type: MessageTypeUnsubscribe, Topic: "high"})
	require.NoError(t, err)
	client.handleMessage(data)

	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		_, exists := hub.subscriptions["high"]
		return !exists
	}, time.Second, 5*time.Millisecond)
}

func TestClient_HandleMessage_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"invalid json", "invalid json", "invalid message format"},
		{"unknown type", `{"type":"unknown_type"}`, "unknown message type"},
		{"missing topic", `{"type":"subscribe"}`, "topic is required"},
		{"unknown topic", `{"type":"subscribe","topic":"critical"}`, "unknown topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(NewHub(nil), nil, nil)

			client.handleMessage([]byte(tt.payload))

			expectError(t, client, tt.want)
		})
	}
}

func TestClient_SendError_SendsErrorMessage(t *testing.T) {
	client := NewClient(NewHub(nil), nil, nil)

	client.sendError("test error")

	expectError(t, client, "test error")
}

func TestMessageTypes_AreCorrectValues(t *testing.T) {
	assert.Equal(t, MessageType("subscribe"), MessageTypeSubscribe)
	assert.Equal(t, MessageType("unsubscribe"), MessageTypeUnsubscribe)
	assert.Equal(t, MessageType("verdict"), MessageTypeVerdict)
	assert.Equal(t, MessageType("error"), MessageTypeError)
}

func TestClient_SendChannel_HasBuffer(t *testing.T) {
	client := NewClient(NewHub(nil), nil, nil)

	for i := 0; i < 10; i++ {
		client.sendError("test error")
	}

	assert.Len(t, client.send, 10)
}
