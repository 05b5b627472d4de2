package collab

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storyforge/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialCarriesSessionIdentity(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.URL.Query().Get("user_id")
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	defer srv.Close()

	transport := NewWebSocketTransport(wsURL(srv))
	conn, err := transport.Dial(t.Context(), &Session{UserID: "u1", Username: "Ada"})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "u1", <-got)
}

// A consumer that stops draining leaves the event buffer full and the read
// goroutine blocked on the channel send. Close must still unblock it; the
// closed events channel is the observable proof that the loop exited.
func TestCloseUnblocksStalledReadLoop(t *testing.T) {
	env, err := models.NewEnvelope(models.EventPresenceSnapshot, &models.PresenceSnapshotPayload{
		RoomID: "p1",
	})
	require.NoError(t, err)
	frame, err := json.Marshal(env)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		// Well past the 64-slot buffer, with nobody reading Events.
		for i := 0; i < 200; i++ {
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	transport := NewWebSocketTransport(wsURL(srv))
	conn, err := transport.Dial(t.Context(), &Session{UserID: "u1"})
	require.NoError(t, err)

	// Let the read loop fill the buffer and stall on the send.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-conn.Events():
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond, "read loop never exited after Close")
}

func TestDialRejectsInvalidURL(t *testing.T) {
	transport := NewWebSocketTransport("://not-a-url")
	_, err := transport.Dial(t.Context(), &Session{UserID: "u1"})
	assert.Error(t, err)
}
