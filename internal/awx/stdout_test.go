package awx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJobStdoutPlainText(t *testing.T) {
	fc := newFakeController()
	fc.mux.HandleFunc("/api/v2/jobs/1/stdout/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "txt", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "PLAY [all]\nTASK [ping]\nok: [host1]")
	})

	client, _ := newTestClient(t, fc)
	out, err := client.GetJobStdout(context.Background(), 1, "txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "PLAY [all]\nTASK [ping]\nok: [host1]", out)
}

func TestGetJobStdoutJSONContentField(t *testing.T) {
	fc := newFakeController()
	fc.mux.HandleFunc("/api/v2/jobs/1/stdout/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"content": "line1\nline2"})
	})

	client, _ := newTestClient(t, fc)
	out, err := client.GetJobStdout(context.Background(), 1, "json", 0)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", out)
}

func TestGetJobStdoutJSONContentTypeButOpaqueBody(t *testing.T) {
	fc := newFakeController()
	fc.mux.HandleFunc("/api/v2/jobs/1/stdout/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "not actually json")
	})

	client, _ := newTestClient(t, fc)
	out, err := client.GetJobStdout(context.Background(), 1, "json", 0)
	require.NoError(t, err, "parse failure falls back to literal text")
	assert.Equal(t, "not actually json", out)
}

func TestGetJobStdoutFallbackToEvents(t *testing.T) {
	fc := newFakeController()
	fc.mux.HandleFunc("/api/v2/jobs/2/stdout/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail": "Not found."}`)
	})
	fc.mux.HandleFunc("/api/v2/jobs/2/job_events/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1000", r.URL.Query().Get("page_size"))
		assert.Equal(t, "counter", r.URL.Query().Get("order_by"))
		assert.Empty(t, r.URL.Query().Get("failed"), "fallback fetch is unfiltered")
		writeResults(w, []map[string]interface{}{
			{"id": 10, "counter": 1, "event": "playbook_on_start", "stdout": "PLAY [all]"},
			{"id": 11, "counter": 2, "event": "runner_on_ok", "stdout": ""},
			{"id": 12, "counter": 3, "event": "runner_on_ok", "stdout": "ok: [host1]"},
			{"id": 13, "counter": 4, "event": "playbook_on_stats", "stdout": "PLAY RECAP"},
		}, 4)
	})

	client, _ := newTestClient(t, fc)
	out, err := client.GetJobStdout(context.Background(), 2, "txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "PLAY [all]\nok: [host1]\nPLAY RECAP", out, "non-empty stdout fields joined in event order")
}

func TestGetJobStdoutFallbackEmptyIsNotFound(t *testing.T) {
	fc := newFakeController()
	fc.mux.HandleFunc("/api/v2/jobs/3/stdout/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	fc.mux.HandleFunc("/api/v2/jobs/3/job_events/", func(w http.ResponseWriter, r *http.Request) {
		writeResults(w, []map[string]interface{}{
			{"id": 1, "counter": 1, "event": "playbook_on_start", "stdout": ""},
		}, 1)
	})

	client, _ := newTestClient(t, fc)
	_, err := client.GetJobStdout(context.Background(), 3, "txt", 0)
	require.Error(t, err, "empty reconstruction must not return empty text silently")

	var nfErr *NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Contains(t, nfErr.Detail, "no output available")
}

func TestGetJobStdoutForbiddenNoFallback(t *testing.T) {
	var eventCalls int32
	fc := newFakeController()
	fc.mux.HandleFunc("/api/v2/jobs/4/stdout/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	fc.mux.HandleFunc("/api/v2/jobs/4/job_events/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&eventCalls, 1)
		writeResults(w, nil, 0)
	})

	client, _ := newTestClient(t, fc)
	_, err := client.GetJobStdout(context.Background(), 4, "txt", 0)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Zero(t, atomic.LoadInt32(&eventCalls), "403 must not trigger the event fallback")
}

func TestGetJobStdoutOtherAPIError(t *testing.T) {
	fc := newFakeController()
	fc.mux.HandleFunc("/api/v2/jobs/5/stdout/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"detail": "upstream unavailable"}`)
	})

	client, _ := newTestClient(t, fc)
	_, err := client.GetJobStdout(context.Background(), 5, "txt", 0)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream unavailable", apiErr.Detail)
}

func TestGetJobStdoutPrimaryNotRetried(t *testing.T) {
	var calls int32
	fc := newFakeController()
	fc.mux.HandleFunc("/api/v2/jobs/6/stdout/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	client, _ := newTestClient(t, fc)
	_, err := client.GetJobStdout(context.Background(), 6, "txt", 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTailLines(t *testing.T) {
	text := "l1\nl2\nl3\nl4\nl5"

	tests := []struct {
		name string
		n    int
		want string
	}{
		{"zero keeps everything", 0, text},
		{"fewer than total", 2, "l4\nl5"},
		{"exactly total", 5, text},
		{"more than total", 10, text},
		{"single line", 1, "l5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tail(text, tt.n))
		})
	}

	assert.Equal(t, "", tail("", 3))
}

func TestGetJobStdoutTailAppliedAfterAssembly(t *testing.T) {
	lines := make([]string, 20)
	events := make([]map[string]interface{}, 20)
	for i := range lines {
		lines[i] = fmt.Sprintf("line-%02d", i+1)
		events[i] = map[string]interface{}{"id": i + 1, "counter": i + 1, "event": "runner_on_ok", "stdout": lines[i]}
	}

	fc := newFakeController()
	fc.mux.HandleFunc("/api/v2/jobs/7/stdout/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	fc.mux.HandleFunc("/api/v2/jobs/7/job_events/", func(w http.ResponseWriter, r *http.Request) {
		writeResults(w, events, len(events))
	})

	client, _ := newTestClient(t, fc)
	out, err := client.GetJobStdout(context.Background(), 7, "txt", 3)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(lines[17:], "\n"), out)
}
