package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"baduk_relay/internal/domain/game"
)

func startHub(t *testing.T, opts ...func(*Hub)) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop().Sugar())
	for _, opt := range opts {
		opt(hub)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, game.Identity{Kind: game.KindLive, ID: r.URL.Query().Get("id")})
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, base, id string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/?id="+id, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg wsMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func identity(id string) game.Identity {
	return game.Identity{Kind: game.KindLive, ID: id}
}

func publication(id string, moveNumber int) game.Publication {
	return game.Publication{
		Game:       identity(id),
		Statistics: game.Statistics{MoveNumber: moveNumber, BlackWinrate: 55},
		Board:      [][]int{{1, 0}, {0, 2}},
	}
}

func TestHubPublishesToItsRoomOnly(t *testing.T) {
	hub, base := startHub(t)
	watcherA := dial(t, base, "a")
	watcherB := dial(t, base, "b")
	require.Eventually(t, func() bool {
		return hub.Clients(identity("a")) == 1 && hub.Clients(identity("b")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), publication("a", 12)))

	msg := readMessage(t, watcherA)
	require.Equal(t, "analysis", msg.Type)
	var pub game.Publication
	require.NoError(t, json.Unmarshal(msg.Payload, &pub))
	require.Equal(t, "a", pub.Game.ID)
	require.Equal(t, 12, pub.Statistics.MoveNumber)

	require.NoError(t, watcherB.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := watcherB.ReadMessage()
	require.Error(t, err, "b must not see a's analysis")
}

func TestHubReplaysLastPublication(t *testing.T) {
	hub, base := startHub(t)
	require.NoError(t, hub.Publish(context.Background(), publication("a", 3)))
	require.NoError(t, hub.Publish(context.Background(), publication("a", 4)))

	msg := readMessage(t, dial(t, base, "a"))
	var pub game.Publication
	require.NoError(t, json.Unmarshal(msg.Payload, &pub))
	require.Equal(t, 4, pub.Statistics.MoveNumber)

	hub.Forget(identity("a"))
	conn := dial(t, base, "a")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestHubHeartbeat(t *testing.T) {
	_, base := startHub(t, func(h *Hub) { h.pingInterval = 20 * time.Millisecond })

	msg := readMessage(t, dial(t, base, "idle"))
	require.Equal(t, "ping", msg.Type)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub, base := startHub(t)
	conn := dial(t, base, "a")
	require.Eventually(t, func() bool { return hub.Clients(identity("a")) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients(identity("a")) == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), publication("a", 1)))
}
