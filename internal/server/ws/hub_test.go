package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

type fakeBus struct {
	mu    sync.Mutex
	subs  map[string]chan []byte
	ready chan string
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]chan []byte), ready: make(chan string, 8)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	ch <- payload
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 8)
	b.mu.Lock()
	b.subs[channel] = ch
	b.mu.Unlock()
	b.ready <- channel
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type staticHead domain.Block

func (h staticHead) Head() domain.Block { return domain.Block(h) }

func startHub(t *testing.T) (*fakeBus, *httptest.Server) {
	t.Helper()
	bus := newFakeBus()
	hub := NewHub(bus, staticHead{Height: 7, Hash: "0xabc"}, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "Node"})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	for range defaultChannels {
		select {
		case <-bus.ready:
		case <-time.After(2 * time.Second):
			t.Fatal("hub did not subscribe")
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return bus, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestHub_JSONFrames(t *testing.T) {
	bus, srv := startHub(t)
	conn := dial(t, srv, "")

	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var status struct {
		Channel string         `json:"channel"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &status))
	assert.Equal(t, "node_status", status.Channel)
	assert.Equal(t, "node", status.Data["mode"])
	assert.Equal(t, float64(7), status.Data["height"])

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelBlocks, []byte(`{"height":8}`)))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"ch:blocks","data":{"height":8}}`, string(msg))
}

func TestHub_ProtoFrames(t *testing.T) {
	bus, srv := startHub(t)
	conn := dial(t, srv, "?format=proto")

	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	channel, data, err := DecodeProto(msg)
	require.NoError(t, err)
	assert.Equal(t, "node_status", channel)
	assert.Equal(t, "0xabc", data["head_hash"])

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelEvents,
		[]byte(`{"height":8,"event":{"type":"option_exercised"}}`)))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	channel, data, err = DecodeProto(msg)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEvents, channel)
	assert.Equal(t, float64(8), data["height"])
	assert.Equal(t, "option_exercised", data["event"].(map[string]any)["type"])
}

func TestClient_HandleSubscription(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelBlocks: true, domain.ChannelEvents: true}}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelBlocks}})
	assert.False(t, c.isSubscribed(domain.ChannelBlocks))
	assert.True(t, c.isSubscribed(domain.ChannelEvents))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelBlocks}})
	assert.True(t, c.isSubscribed(domain.ChannelBlocks))

	c.handleSubscription(subscribeMsg{Action: "noop", Channels: []string{"x"}})
	assert.False(t, c.isSubscribed("x"))
}

func TestEncodeJSON_NonJSONPayload(t *testing.T) {
	out := encodeJSON("ch:x", []byte("plain"))
	assert.JSONEq(t, `{"channel":"ch:x","data":"plain"}`, string(out))
}

func TestIsSubscribed_Wildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:*": true}}
	assert.True(t, c.isSubscribed(domain.ChannelBlocks))
	assert.False(t, c.isSubscribed("other"))
}
