package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/ptzrec/internal/events"
	"github.com/smazurov/ptzrec/internal/metrics"
)

func newHTTPServer(t *testing.T) (*httptest.Server, *events.Bus) {
	t.Helper()
	bus := events.New()
	s := NewServer(&Options{
		AuthUsername:   "admin",
		AuthPassword:   "hunter2",
		Session:        &fakeSession{},
		Recorder:       &fakeRecorder{},
		Camera:         &fakeCamera{},
		EventBus:       bus,
		MetricsHandler: metrics.Handler(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, bus
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

func get(t *testing.T, url string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestBasicAuth(t *testing.T) {
	ts, _ := newHTTPServer(t)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"public health", "/api/health", nil, http.StatusOK},
		{"missing credentials", "/api/session", nil, http.StatusUnauthorized},
		{"wrong password", "/api/session", map[string]string{"Authorization": "Basic " + basicAuth("admin", "nope")}, http.StatusUnauthorized},
		{"bearer rejected", "/api/session", map[string]string{"Authorization": "Bearer abc"}, http.StatusUnauthorized},
		{"garbage base64", "/api/session", map[string]string{"Authorization": "Basic !!!"}, http.StatusUnauthorized},
		{"valid header", "/api/session", map[string]string{"Authorization": "Basic " + basicAuth("admin", "hunter2")}, http.StatusOK},
		{"valid query", "/api/session?auth=" + basicAuth("admin", "hunter2"), nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := get(t, ts.URL+tt.path, tt.header)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newHTTPServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/recording/start", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow origin")
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Expose-Headers"), "X-Snapshot-Source") {
		t.Error("snapshot source header not exposed")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newHTTPServer(t)
	metrics.IncSessionFrames()

	resp := get(t, ts.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := new(strings.Builder)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		body.WriteString(sc.Text())
		body.WriteByte('\n')
	}
	if !strings.Contains(body.String(), "ptzrec_") {
		t.Error("metrics output has no ptzrec series")
	}
}

func TestEventsStream(t *testing.T) {
	ts, bus := newHTTPServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	req.Header.Set("Authorization", "Basic "+basicAuth("admin", "hunter2"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	waitFor := func(want string) {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream ended before %q", want)
				}
				if strings.Contains(line, want) {
					return
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	waitFor("event: session-state-changed")

	// The subscription is registered before the initial event is sent
	bus.Publish(events.RecordingWarningEvent{JobID: "job-1", Segment: 3, Kind: "stall", Message: "file size unchanged"})
	waitFor("event: recording-warning")
	waitFor(`"kind":"stall"`)
}
