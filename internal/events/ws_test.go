package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func dialTestHub(t *testing.T, hub *WSHub) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", hub.ServeWS())
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Registration goes through the hub loop; give it a beat before emitting.
	time.Sleep(50 * time.Millisecond)
	return conn
}

func TestWSHubBroadcastsEvents(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	conn := dialTestHub(t, hub)

	hub.Emit(Event{Type: TypeTradeExecuted, Timestamp: time.Now().UTC()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), TypeTradeExecuted) {
		t.Errorf("unexpected payload %s", msg)
	}
}

func TestWSHubSurvivesConcurrentEmitters(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	conn := dialTestHub(t, hub)

	// All frames funnel through the client's write pump, so parallel
	// publishers must never trip the connection's single-writer rule.
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 10; j++ {
				hub.Emit(Event{Type: TypeOrderCreated, Timestamp: time.Now().UTC()})
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("client must still receive after concurrent emits: %v", err)
	}
}
