package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// sseEventParsed represents a single parsed SSE event from the stream.
type sseEventParsed struct {
	ID    string
	Event string
	Data  string
}

// sseReader reads SSE events from an HTTP response body using a bufio.Scanner.
// It sends parsed events to the returned channel and stops when the context is cancelled
// or the body is closed.
func sseReader(ctx context.Context, resp *http.Response) <-chan sseEventParsed {
	ch := make(chan sseEventParsed, 32)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		var current sseEventParsed
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "id:"):
				current.ID = strings.TrimPrefix(line, "id:")
			case strings.HasPrefix(line, "event:"):
				current.Event = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				current.Data = strings.TrimPrefix(line, "data:")
			case line == "":
				// Empty line marks end of SSE event block.
				if current.Event != "" || current.Data != "" {
					ch <- current
					current = sseEventParsed{}
				}
			}
		}
	}()
	return ch
}

// waitForEvent reads from the SSE event channel until an event with the given
// topic is received, or the timeout expires.
func waitForEvent(t *testing.T, ch <-chan sseEventParsed, topic string, timeout time.Duration) sseEventParsed {
	t.Helper()
	timer := time.After(timeout)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatalf("SSE channel closed before receiving event %q", topic)
			}
			if evt.Event == topic {
				return evt
			}
			// Keep reading; may receive other events first.
		case <-timer:
			t.Fatalf("timed out waiting for SSE event %q", topic)
		}
	}
}

// startSSEClient opens an authenticated SSE connection to the test server and
// returns a channel of parsed events plus a cleanup function.
func startSSEClient(t *testing.T, e *testEnv, serverURL string, queryParams string) (<-chan sseEventParsed, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	url := serverURL + "/api/events/stream"
	if queryParams != "" {
		url += "?" + queryParams
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		cancel()
		t.Fatalf("failed to create SSE request: %v", err)
	}
	e.authorize(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("failed to connect to SSE stream: %v", err)
	}

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		resp.Body.Close()
		cancel()
		t.Fatalf("expected Content-Type=text/event-stream, got %q", resp.Header.Get("Content-Type"))
	}

	ch := sseReader(ctx, resp)

	cleanup := func() {
		cancel()
		resp.Body.Close()
	}

	return ch, cleanup
}

// startIntegrationServer serves a logged-in test environment on a real TCP
// listener.
func startIntegrationServer(t *testing.T) (*testEnv, string) {
	t.Helper()
	e := newTestServer(t)
	ts := httptest.NewServer(e.h)
	t.Cleanup(ts.Close)
	return e, ts.URL
}

// doHTTPJSON performs an authenticated request against a real server URL.
func doHTTPJSON(t *testing.T, e *testEnv, method, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	e.authorize(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTP request failed: %v", err)
	}
	return resp
}

// requireHTTPStatus asserts the response has the expected status code.
func requireHTTPStatus(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != code {
		t.Fatalf("expected status %d, got %d", code, resp.StatusCode)
	}
}

func TestSSEIntegration_SessionLifecycleEvents(t *testing.T) {
	e, url := startIntegrationServer(t)
	ch, cleanup := startSSEClient(t, e, url, "topics=session.*")
	defer cleanup()

	requireHTTPStatus(t, doHTTPJSON(t, e, "POST", url+"/api/session/start", nil), http.StatusCreated)
	started := waitForEvent(t, ch, "castboard.session.started", 2*time.Second)

	var payload struct {
		Session struct {
			Broadcaster string `json:"broadcaster"`
		} `json:"session"`
	}
	if err := json.Unmarshal([]byte(started.Data), &payload); err != nil {
		t.Fatalf("decode started payload: %v", err)
	}
	if payload.Session.Broadcaster != "hudson" {
		t.Fatalf("expected broadcaster hudson, got %q", payload.Session.Broadcaster)
	}

	requireHTTPStatus(t, doHTTPJSON(t, e, "POST", url+"/api/session/end", nil), http.StatusOK)
	waitForEvent(t, ch, "castboard.session.ended", 2*time.Second)
}

func TestSSEIntegration_TopicFilterOnlyReceivesMatching(t *testing.T) {
	e, url := startIntegrationServer(t)
	ch, cleanup := startSSEClient(t, e, url, "topics=favorite.*")
	defer cleanup()

	requireHTTPStatus(t, doHTTPJSON(t, e, "PUT", url+"/api/settings/dashboard.theme", map[string]any{"value": "dark"}), http.StatusOK)
	requireHTTPStatus(t, doHTTPJSON(t, e, "POST", url+"/api/media/favorites/toggle",
		map[string]string{"media_type": "video", "media_id": "v-1"}), http.StatusOK)

	evt := waitForEvent(t, ch, "castboard.favorite.toggled", 2*time.Second)
	if !strings.Contains(evt.Data, `"favorited":true`) {
		t.Fatalf("unexpected payload %s", evt.Data)
	}

	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %q", evt.Event)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSSEIntegration_MultipleClientsReceiveSameEvents(t *testing.T) {
	e, url := startIntegrationServer(t)
	ch1, cleanup1 := startSSEClient(t, e, url, "")
	defer cleanup1()
	ch2, cleanup2 := startSSEClient(t, e, url, "")
	defer cleanup2()

	requireHTTPStatus(t, doHTTPJSON(t, e, "PUT", url+"/api/settings/dashboard.theme", map[string]any{"value": "dark"}), http.StatusOK)

	for i, ch := range []<-chan sseEventParsed{ch1, ch2} {
		evt := waitForEvent(t, ch, "castboard.setting.updated", 2*time.Second)
		if !strings.Contains(evt.Data, "dashboard.theme") {
			t.Fatalf("client %d: unexpected payload %s", i+1, evt.Data)
		}
	}
}
