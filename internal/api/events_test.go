package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHubRetainsMostRecent(t *testing.T) {
	h := NewEventHub(2)
	h.Publish("a", nil)
	h.Publish("b", map[string]int{"n": 1})
	h.Publish("c", nil)

	events := h.Since(0)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Type)
	assert.JSONEq(t, `{"n":1}`, string(events[0].Data))
	assert.Equal(t, "c", events[1].Type)

	assert.Len(t, h.Since(2), 1)
}

func TestEventHubSubscribe(t *testing.T) {
	h := NewEventHub(4)
	ch, cancel := h.Subscribe()

	h.Publish("x", nil)
	select {
	case ev := <-ch:
		assert.Equal(t, "x", ev.Type)
		assert.EqualValues(t, 1, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	h.Publish("y", nil)
}

func TestParseLastEventID(t *testing.T) {
	assert.EqualValues(t, 0, parseLastEventID(""))
	assert.EqualValues(t, 0, parseLastEventID("-4"))
	assert.EqualValues(t, 0, parseLastEventID("abc"))
	assert.EqualValues(t, 7, parseLastEventID("7"))
}

func TestEventsStreamReplaysAndFollows(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, nil)
	env.server.Publish("sync.finished", map[string]string{"sync_id": "s1"})

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return strings.Join(lines, "\n")
			}
			lines = append(lines, line)
		}
	}

	first := readEvent()
	assert.Contains(t, first, "event: sync.finished")
	assert.Contains(t, first, `"sync_id":"s1"`)

	env.server.Publish("recover.completed", RecoverEvent{JobID: "j1", Requested: 1, Recovered: 1})
	second := readEvent()
	assert.Contains(t, second, "id: 2")
	assert.Contains(t, second, "event: recover.completed")
}

func TestEventsStreamFiltersByTypePrefix(t *testing.T) {
	env := newTestEnv(t, &stubTool{}, nil)
	env.server.Publish("recover.completed", RecoverEvent{JobID: "j0"})
	env.server.Publish("sync.started", map[string]string{"sync_id": "s1"})

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?type=sync.", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "id: 2\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: sync.started\n", line)
}
