package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfscope/monitor/types"
)

// fakeFeed is a LiveFeed backed by a plain channel.
type fakeFeed struct {
	ch        chan types.Sample
	cancelled bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan types.Sample, 8)}
}

func (f *fakeFeed) Subscribe() (<-chan types.Sample, func()) {
	return f.ch, func() { f.cancelled = true }
}

func TestWebSocketStreamsSamples(t *testing.T) {
	feed := newFakeFeed()
	server := httptest.NewServer(testServer(newStubStore(), feed).Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	feed.ch <- types.Sample{
		RunID: "run-1",
		Tick:  3,
		Application: []types.ApplicationMetric{
			{RunID: "run-1", Application: "ECommerce", CallsPerMin: 120},
		},
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var sample types.Sample
	require.NoError(t, conn.ReadJSON(&sample))

	assert.Equal(t, "run-1", sample.RunID)
	assert.Equal(t, int64(3), sample.Tick)
	require.Len(t, sample.Application, 1)
	assert.Equal(t, 120.0, sample.Application[0].CallsPerMin)
}

func TestWebSocketClosesOnFeedEnd(t *testing.T) {
	feed := newFakeFeed()
	server := httptest.NewServer(testServer(newStubStore(), feed).Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	close(feed.ch)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
