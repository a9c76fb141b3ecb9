package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velocityhq/velocity/internal/streaming"
)

// publishLoop emits events until done closes. The SSE handler only flushes
// headers with the first event, so the loop must be running before the client
// issues its request.
func publishLoop(hub *streaming.MemoryHub, done <-chan struct{}, events ...streaming.RunEvent) {
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, ev := range events {
				_ = hub.Publish(context.Background(), ev)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()
}

func TestSSEStreamsRunEvents(t *testing.T) {
	f := newServerFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	done := make(chan struct{})
	defer close(done)
	publishLoop(f.hub, done, streaming.RunEvent{
		RunID:     "run_sse",
		EventType: streaming.EventStageStarted,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: stage_started\n", line)

	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, data, `"run_id":"run_sse"`)
}

func TestSSEFiltersByRun(t *testing.T) {
	f := newServerFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	done := make(chan struct{})
	defer close(done)
	publishLoop(f.hub, done,
		streaming.RunEvent{RunID: "run_other", EventType: streaming.EventStageStarted},
		streaming.RunEvent{RunID: "run_wanted", EventType: streaming.EventRunCompleted},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/onboard/run_wanted/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: run_completed\n", line)
}
