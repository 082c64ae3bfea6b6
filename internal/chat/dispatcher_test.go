package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/docchat/internal/apperr"
	"github.com/howard-nolan/docchat/internal/config"
	"github.com/howard-nolan/docchat/internal/metrics"
	"github.com/howard-nolan/docchat/internal/provider"
)

// fakeUpstream is an OpenAI-compatible endpoint that records what it got.
type fakeUpstream struct {
	srv    *httptest.Server
	status int
	answer string

	mu        sync.Mutex
	calls     int
	lastReq   provider.ChatRequest
	lastAuth  string
	lastReqID string
}

func newFakeUpstream(t *testing.T, answer string) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{status: http.StatusOK, answer: answer}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls++
		f.lastAuth = r.Header.Get("Authorization")
		f.lastReqID = r.Header.Get("X-Request-Id")
		json.NewDecoder(r.Body).Decode(&f.lastReq)
		status, model := f.status, f.lastReq.Model
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"internal failure, key sk-leaked"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": model,
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": f.answer}},
			},
			"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7},
		})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) request() provider.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func (f *fakeUpstream) headers() (auth, requestID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth, f.lastReqID
}

func (f *fakeUpstream) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// newTestDispatcher wires a real Registry to two fake upstreams.
func newTestDispatcher(t *testing.T, m *metrics.Metrics) (*Dispatcher, *fakeUpstream, *fakeUpstream) {
	t.Helper()
	gpt := newFakeUpstream(t, "gpt answer")
	deepseek := newFakeUpstream(t, "deepseek answer")

	reg, err := provider.NewRegistry(config.ProvidersConfig{
		OpenAI:   config.OpenAIConfig{APIKey: "sk-gpt", APIURL: gpt.srv.URL, Model: "gpt-4o"},
		DeepSeek: config.DeepSeekConfig{APIKey: "sk-ds", APIURL: deepseek.srv.URL, Model: "deepseek-chat"},
	}, 5*time.Second)
	require.NoError(t, err)

	return NewDispatcher(reg, m, nil), gpt, deepseek
}

func TestAskGPT(t *testing.T) {
	d, gpt, deepseek := newTestDispatcher(t, nil)

	res, err := d.Ask(context.Background(), "gpt", "hi")
	require.NoError(t, err)

	assert.Equal(t, "gpt answer", res.Text)
	assert.Equal(t, provider.GPT, res.Provider)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.Equal(t, 7, res.Usage.TotalTokens)

	req := gpt.request()
	assert.Equal(t, "gpt-4o", req.Model)
	assert.False(t, req.Stream)
	assert.Equal(t, []provider.Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "hi"},
	}, req.Messages)
	auth, _ := gpt.headers()
	assert.Equal(t, "Bearer sk-gpt", auth)
	assert.Zero(t, deepseek.callCount())
}

func TestAskGPTModelOverride(t *testing.T) {
	d, gpt, _ := newTestDispatcher(t, nil)

	_, err := d.Ask(context.Background(), "gpt", "hi", WithModel("gpt-4o-mini"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", gpt.request().Model)
}

func TestAskDeepSeekIgnoresModelOverride(t *testing.T) {
	d, gpt, deepseek := newTestDispatcher(t, nil)

	res, err := d.Ask(context.Background(), "deepseek", "hi", WithModel("gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, "deepseek answer", res.Text)

	req := deepseek.request()
	assert.Equal(t, "deepseek-chat", req.Model)
	assert.Equal(t, "You are DeepSeek, a focused QA assistant.", req.Messages[0].Content)
	auth, _ := deepseek.headers()
	assert.Equal(t, "Bearer sk-ds", auth)
	assert.Zero(t, gpt.callCount())
}

func TestAskGrounded(t *testing.T) {
	cases := []struct {
		selector string
		persona  string
	}{
		{"gpt", "You are a PDF analysis assistant."},
		{"deepseek", "You are DeepSeek, a PDF analysis assistant."},
	}
	for _, tc := range cases {
		t.Run(tc.selector, func(t *testing.T) {
			d, gpt, deepseek := newTestDispatcher(t, nil)

			_, err := d.Ask(context.Background(), tc.selector, "hi", WithDocument("Q3 revenue was $5M"))
			require.NoError(t, err)

			up := gpt
			if tc.selector == "deepseek" {
				up = deepseek
			}
			req := up.request()
			require.Len(t, req.Messages, 2)
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, tc.persona, req.Messages[0].Content)
			assert.Equal(t, "user", req.Messages[1].Role)
			assert.Equal(t, "文档内容：\nQ3 revenue was $5M\n\n请回答：hi", req.Messages[1].Content)
		})
	}
}

func TestAskGroundedEmptyDocument(t *testing.T) {
	d, gpt, _ := newTestDispatcher(t, nil)

	// An empty extraction is still a grounded question.
	_, err := d.Ask(context.Background(), "gpt", "what is this?", WithDocument(""))
	require.NoError(t, err)

	req := gpt.request()
	assert.Equal(t, "You are a PDF analysis assistant.", req.Messages[0].Content)
	assert.Equal(t, "文档内容：\n\n\n请回答：what is this?", req.Messages[1].Content)
}

func TestAskForwardsMessageUntouched(t *testing.T) {
	d, gpt, _ := newTestDispatcher(t, nil)

	for _, msg := range []string{"", "   padded   ", "100% sure? %s %d"} {
		_, err := d.Ask(context.Background(), "gpt", msg)
		require.NoError(t, err)
		assert.Equal(t, msg, gpt.request().Messages[1].Content)
	}
}

func TestAskUnknownSelector(t *testing.T) {
	d, gpt, deepseek := newTestDispatcher(t, nil)

	_, err := d.Ask(context.Background(), "claude", "hi")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))

	assert.Zero(t, gpt.callCount())
	assert.Zero(t, deepseek.callCount())
}

func TestSupports(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)

	assert.NoError(t, d.Supports("gpt"))
	assert.NoError(t, d.Supports("deepseek"))

	err := d.Supports("claude")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestAskUpstreamFailure(t *testing.T) {
	m := metrics.New()
	d, gpt, _ := newTestDispatcher(t, m)
	gpt.setStatus(http.StatusInternalServerError)

	_, err := d.Ask(context.Background(), "gpt", "hi")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))

	var statusErr *provider.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("gpt", metrics.OutcomeError)))
}

func TestAskUnreachableUpstream(t *testing.T) {
	d, gpt, _ := newTestDispatcher(t, nil)
	gpt.srv.Close()

	_, err := d.Ask(context.Background(), "gpt", "hi")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestAskRecordsMetrics(t *testing.T) {
	m := metrics.New()
	d, _, _ := newTestDispatcher(t, m)

	_, err := d.Ask(context.Background(), "deepseek", "hi")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("deepseek", metrics.OutcomeOK)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.UpstreamDuration))
}

func TestAskRequestID(t *testing.T) {
	d, gpt, _ := newTestDispatcher(t, nil)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "host/abc-000001")
	_, err := d.Ask(ctx, "gpt", "hi")
	require.NoError(t, err)
	_, id := gpt.headers()
	assert.Equal(t, "host/abc-000001", id)

	// Without an HTTP request id a fresh UUID is used.
	_, err = d.Ask(context.Background(), "gpt", "hi")
	require.NoError(t, err)
	_, id = gpt.headers()
	assert.Len(t, id, 36)
}

func TestAskConcurrent(t *testing.T) {
	d, gpt, deepseek := newTestDispatcher(t, nil)

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			selector := "gpt"
			if i%2 == 0 {
				selector = "deepseek"
			}
			if _, err := d.Ask(context.Background(), selector, "hi"); err != nil {
				failed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, failed.Load())
	assert.Equal(t, 10, gpt.callCount())
	assert.Equal(t, 10, deepseek.callCount())
}
