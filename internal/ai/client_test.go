package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ipv4Server struct {
	URL string
	srv *http.Server
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	s := &ipv4Server{URL: "http://" + ln.Addr().String(), srv: &http.Server{Handler: handler}}
	go func() { _ = s.srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctx)
	})
	return s
}

func completion(text string) GenerateResponse {
	return GenerateResponse{
		Choices: []Choice{{Message: Message{Role: "assistant", Content: text}}},
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// statusSequence answers /chat/completions with the given statuses in order,
// repeating the last one.
func statusSequence(t *testing.T, statuses []int, headers []http.Header, calls *int32) *ipv4Server {
	t.Helper()
	return newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		i := int(atomic.AddInt32(calls, 1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		if i < len(headers) {
			for k, vals := range headers[i] {
				for _, v := range vals {
					w.Header().Add(k, v)
				}
			}
		}
		w.WriteHeader(statuses[i])
		if statuses[i] < 300 {
			_ = json.NewEncoder(w).Encode(completion("ok"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "slow down"}})
	}))
}

var hello = GenerateRequest{Model: "test-model", Messages: []Message{{Role: "user", Content: "hi"}}}

func TestGenerateRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := statusSequence(t, []int{429, 503, 200}, []http.Header{{"Retry-After": {"0"}}}, &calls)
	c := NewClientWithBaseURL("key", 2*time.Second, 3, 5*time.Millisecond, 20*time.Millisecond, srv.URL)

	resp, err := c.Generate(context.Background(), hello)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerateGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := statusSequence(t, []int{500}, nil, &calls)
	c := NewClientWithBaseURL("key", time.Second, 2, time.Millisecond, 5*time.Millisecond, srv.URL)

	_, err := c.Generate(context.Background(), hello)
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGenerateClassifiesErrors(t *testing.T) {
	cases := []struct {
		status int
		body   map[string]any
		check  func(t *testing.T, err error)
	}{
		{http.StatusUnauthorized, map[string]any{"error": map[string]any{"message": "bad key"}}, func(t *testing.T, err error) {
			var e *AuthError
			assert.ErrorAs(t, err, &e)
			assert.Equal(t, "auth", failureKind(err))
		}},
		{http.StatusNotFound, map[string]any{"error": map[string]any{"message": "model not found", "code": "model_not_found"}}, func(t *testing.T, err error) {
			var e *ModelNotFoundError
			assert.ErrorAs(t, err, &e)
		}},
		{http.StatusBadRequest, map[string]any{"message": "flat shape"}, func(t *testing.T, err error) {
			var e *BadRequestError
			require.ErrorAs(t, err, &e)
			assert.Equal(t, "flat shape", e.Message)
			assert.Contains(t, err.Error(), "request_id=req_123")
		}},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			var calls int32
			srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Header().Set("X-Request-Id", "req_123")
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(tc.body)
			}))
			c := NewClientWithBaseURL("key", time.Second, 3, time.Millisecond, time.Millisecond, srv.URL)
			_, err := c.Generate(context.Background(), hello)
			require.Error(t, err)
			tc.check(t, err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors are not retried")
		})
	}
}

func TestGenerateRequiresKeyAndModel(t *testing.T) {
	_, err := NewClient("", 0, 0, 0, 0).Generate(context.Background(), hello)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewClient("key", 0, 0, 0, 0).Generate(context.Background(), GenerateRequest{})
	assert.Error(t, err)
}

func TestGenerateStreamParsesDeltas(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			http.Error(w, "expected stream", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hello \"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	c := NewClientWithBaseURL("key", time.Second, 1, 0, 0, srv.URL)

	var out string
	require.NoError(t, c.GenerateStream(context.Background(), hello, func(d string) { out += d }))
	assert.Equal(t, "hello world", out)
}

func TestParseRetryAfter(t *testing.T) {
	secs, err := parseRetryAfterSeconds("3")
	require.NoError(t, err)
	assert.Equal(t, 3, secs)

	secs, err = parseRetryAfterSeconds(time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))
	require.NoError(t, err)
	assert.Zero(t, secs)

	_, err = parseRetryAfterSeconds("soon")
	assert.Error(t, err)
}
