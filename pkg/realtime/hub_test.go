package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendly/backend/pkg/logger"
)

func hubTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("error")})
}

func dialHub(t *testing.T, hub *Hub, userID uuid.UUID) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleConnection(w, r, userID)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectionCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, want, hub.ConnectionCount())
}

func TestHubDeliversPushToRecipient(t *testing.T) {
	hub := NewHub(hubTestLogger())
	userID := uuid.New()
	conn := dialHub(t, hub, userID)
	waitForConnections(t, hub, 1)

	push := Push{
		Type:      "notification",
		ID:        uuid.New(),
		SenderID:  uuid.New(),
		Title:     "New Update from Staff",
		Content:   "Dana Field has updated his/her name.",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, hub.SendToUser(context.Background(), userID, push))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var received Push
	require.NoError(t, json.Unmarshal(data, &received))
	assert.Equal(t, push.ID, received.ID)
	assert.Equal(t, push.Title, received.Title)
	assert.Equal(t, push.Content, received.Content)
}

func TestHubSendToUserWithoutConnections(t *testing.T) {
	hub := NewHub(hubTestLogger())

	err := hub.SendToUser(context.Background(), uuid.New(), Push{Type: "notification", ID: uuid.New()})

	assert.NoError(t, err)
	assert.Zero(t, hub.ConnectionCount())
}

func TestHubDoesNotLeakAcrossRecipients(t *testing.T) {
	hub := NewHub(hubTestLogger())
	recipient := uuid.New()
	bystander := uuid.New()
	recipientConn := dialHub(t, hub, recipient)
	bystanderConn := dialHub(t, hub, bystander)
	waitForConnections(t, hub, 2)

	require.NoError(t, hub.SendToUser(context.Background(), recipient, Push{Type: "notification", ID: uuid.New()}))

	recipientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := recipientConn.ReadMessage()
	require.NoError(t, err)

	bystanderConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = bystanderConn.ReadMessage()
	assert.Error(t, err)
}

func TestHubSendRacesDisconnect(t *testing.T) {
	hub := NewHub(hubTestLogger())
	userID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleConnection(w, r, userID)
	}))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	const sockets = 32
	for i := 0; i < sockets; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
	}
	waitForConnections(t, hub, sockets)

	hub.mu.RLock()
	clients := make([]*client, 0, sockets)
	for c := range hub.recipients[userID] {
		clients = append(clients, c)
	}
	hub.mu.RUnlock()

	// Pushes racing unregister/re-register churn must never panic on the
	// client send channel.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				_ = hub.SendToUser(context.Background(), userID, Push{Type: "notification", ID: uuid.New()})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			c := clients[i%len(clients)]
			hub.remove(c)
			hub.add(c)
		}
	}()

	time.Sleep(500 * time.Millisecond)
	close(done)
	wg.Wait()
}

func TestHubRemovesClosedConnections(t *testing.T) {
	hub := NewHub(hubTestLogger())
	userID := uuid.New()
	conn := dialHub(t, hub, userID)
	waitForConnections(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForConnections(t, hub, 0)
}
