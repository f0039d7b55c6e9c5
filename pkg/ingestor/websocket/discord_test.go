package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultproxy/pkg/ingestor"
)

var upgrader = websocket.Upgrader{}

func TestReconnectDelayIsCappedExponentialBackoff(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, reconnectDelay(0))
	assert.Equal(t, 2000*time.Millisecond, reconnectDelay(1))
	assert.Equal(t, 4000*time.Millisecond, reconnectDelay(2))
	assert.Equal(t, 30000*time.Millisecond, reconnectDelay(5))
	assert.Equal(t, 30000*time.Millisecond, reconnectDelay(20))
}

func newTestDiscord(t *testing.T, gatewayURL string) *Discord {
	t.Helper()
	base := ingestor.NewBase("acme-discord", "", "websocket", "discord", 10, 1000)
	cfg := DiscordConfig{GatewayURL: gatewayURL, Token: "tok"}
	return NewDiscord(base, cfg)
}

func TestDiscordHelloIdentifyReadyDispatchPushesEvent(t *testing.T) {
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		hello, _ := json.Marshal(map[string]any{"heartbeat_interval": 30000})
		require.NoError(t, conn.WriteJSON(gatewayFrame{Op: opHello, D: hello}))

		var frame gatewayFrame
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, opIdentify, frame.Op)

		readyData, _ := json.Marshal(map[string]any{"session_id": "sess-1", "resume_gateway_url": "wss://resume"})
		seq := int64(1)
		require.NoError(t, conn.WriteJSON(gatewayFrame{Op: opDispatch, T: "READY", S: &seq, D: readyData}))
		close(ready)

		msgData, _ := json.Marshal(map[string]any{"content": "hi"})
		seq2 := int64(2)
		time.Sleep(20 * time.Millisecond)
		_ = conn.WriteJSON(gatewayFrame{Op: opDispatch, T: "MESSAGE_CREATE", S: &seq2, D: msgData})

		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	d := newTestDiscord(t, wsURL)
	require.NoError(t, d.Start())
	defer d.Stop()

	<-ready
	require.Eventually(t, func() bool {
		return d.State() == ingestor.StateConnected
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(d.GetEvents(0)) == 2
	}, time.Second, 10*time.Millisecond)

	events := d.GetEvents(0)
	assert.Equal(t, "READY", events[0].EventType)
	assert.Equal(t, "MESSAGE_CREATE", events[1].EventType)
	assert.Equal(t, "discord:acme-discord:sess-1:seq:2", events[1].IdempotencyKey)
}

func TestDiscordReconnectAttemptTripsErrorOnTenthConsecutiveClose(t *testing.T) {
	d := newTestDiscord(t, "ws://127.0.0.1:1/unreachable")
	defer d.Stop()

	for i := 0; i < 9; i++ {
		err := d.handleDisconnect(assert.AnError)
		require.NoError(t, err)
		assert.Equal(t, ingestor.StateReconnecting, d.State())
	}

	err := d.handleDisconnect(assert.AnError)
	require.Error(t, err)
	assert.Equal(t, ingestor.StateError, d.State())
}

func TestDiscordTerminalCloseCodeSetsErrorState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4004, "authentication failed"))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	d := newTestDiscord(t, wsURL)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.Eventually(t, func() bool {
		return d.State() == ingestor.StateError
	}, time.Second, 10*time.Millisecond)
}

func TestDiscordEventTypeFilterDropsUnlistedEvents(t *testing.T) {
	base := ingestor.NewBase("acme-discord", "", "websocket", "discord", 10, 1000)
	d := NewDiscord(base, DiscordConfig{EventTypes: []string{"MESSAGE_CREATE"}})

	seq := int64(1)
	d.dispatch(gatewayFrame{Op: opDispatch, T: "TYPING_START", S: &seq, D: json.RawMessage(`{}`)})
	assert.Empty(t, d.GetEvents(0))

	d.dispatch(gatewayFrame{Op: opDispatch, T: "MESSAGE_CREATE", S: &seq, D: json.RawMessage(`{}`)})
	assert.Len(t, d.GetEvents(0), 1)
}

func TestDiscordGuildFilterPassesEventsWithMissingField(t *testing.T) {
	base := ingestor.NewBase("acme-discord", "", "websocket", "discord", 10, 1000)
	d := NewDiscord(base, DiscordConfig{GuildIDs: []string{"guild-a"}})

	seq := int64(1)
	// READY carries no guild_id at all — must still pass through.
	d.dispatch(gatewayFrame{Op: opDispatch, T: "READY", S: &seq, D: json.RawMessage(`{}`)})
	assert.Len(t, d.GetEvents(0), 1)
}

func TestDiscordGuildFilterRejectsNonMatchingGuild(t *testing.T) {
	base := ingestor.NewBase("acme-discord", "", "websocket", "discord", 10, 1000)
	d := NewDiscord(base, DiscordConfig{GuildIDs: []string{"guild-a"}})

	seq := int64(1)
	d.dispatch(gatewayFrame{Op: opDispatch, T: "MESSAGE_CREATE", S: &seq, D: json.RawMessage(`{"guild_id":"guild-b"}`)})
	assert.Empty(t, d.GetEvents(0))
}
