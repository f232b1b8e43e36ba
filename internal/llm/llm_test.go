package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/reelfactory/internal/extract"
	"github.com/lucasnoah/reelfactory/internal/schema"
)

func TestClassifyMessages(t *testing.T) {
	tests := []struct {
		msg       string
		kind      Kind
		retryable bool
	}{
		{"Invalid API key provided", KindAuth, false},
		{"permission denied for project", KindAuth, false},
		{"403 Forbidden", KindAuth, false},
		{"monthly quota exceeded", KindQuota, false},
		{"please check your billing details", KindQuota, false},
		{"request rejected by content policy", KindPolicy, false},
		{"blocked by safety filter", KindPolicy, false},
		{"rate limit reached for requests", KindRateLimit, true},
		{"429 Too Many Requests", KindRateLimit, true},
		{"read tcp: i/o timeout", KindTransport, true},
		{"connection reset by peer", KindTransport, true},
		{"502 Bad Gateway", KindTransport, true},
		{"503 Service Unavailable", KindTransport, true},
		{"internal error", KindTransport, true},
		{"something odd happened", KindUnknown, true},
	}
	for _, tt := range tests {
		err := errors.New(tt.msg)
		assert.Equal(t, tt.kind, Classify(err), tt.msg)
		assert.Equal(t, tt.retryable, Retryable(err), tt.msg)
		// Same message, same answer.
		assert.Equal(t, Classify(err), Classify(errors.New(tt.msg)), tt.msg)
	}
}

func TestClassifyTypedErrors(t *testing.T) {
	assert.Equal(t, KindPolicy, Classify(NewError(KindPolicy, "no")))
	assert.Equal(t, KindAuth, Classify(fmt.Errorf("scene 3: %w", NewError(KindAuth, "bad key"))))
	assert.Equal(t, KindCanceled, Classify(context.Canceled))
	assert.False(t, Retryable(fmt.Errorf("call: %w", context.Canceled)))
	assert.Equal(t, KindTransport, Classify(context.DeadlineExceeded))
	assert.True(t, Retryable(context.DeadlineExceeded))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil))

	orig := NewError(KindQuota, "out of credit")
	assert.Same(t, orig, Wrap(orig))

	wrapped := Wrap(errors.New("connection refused"))
	var e *Error
	require.ErrorAs(t, wrapped, &e)
	assert.Equal(t, KindTransport, e.Kind)
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestRetryDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1, 1.0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2, 1.0))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3, 1.0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(3, 0.5))
	assert.Equal(t, 600*time.Millisecond, p.Delay(3, 1.5))
	assert.Equal(t, time.Second, p.Delay(5, 1.0), "capped")
	assert.Equal(t, time.Second, p.Delay(60, 1.5), "large attempts stay capped")
	assert.Equal(t, 50*time.Millisecond, p.Delay(1, 0.1), "jitter clamped")

	// The full product is taken before the cap: 1s*2^6*0.5 = 32s exceeds 30s.
	def := RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	assert.Equal(t, 16*time.Second, def.Delay(6, 0.5))
	assert.Equal(t, 30*time.Second, def.Delay(7, 0.5))
	assert.Equal(t, 30*time.Second, def.Delay(8, 0.5))
	assert.Equal(t, 24*time.Second, def.Delay(5, 1.5))

	uncapped := RetryPolicy{BaseDelay: time.Second}
	assert.Equal(t, 8*time.Second, uncapped.Delay(4, 1.0))
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.Delay(2000, 1.0), "overflow saturates")

	for i := 0; i < 100; i++ {
		j := Jitter()
		assert.GreaterOrEqual(t, j, 0.5)
		assert.Less(t, j, 1.5)
	}
}

func TestScriptedOutputExtractsCleanly(t *testing.T) {
	reg := schema.MustBuiltin()
	ex := extract.New(reg, nil)
	gen := NewScripted("how rainbows form", 4)

	scriptSchema, _ := reg.Get(schema.FullScriptName)
	raw, err := gen.Generate(context.Background(), Request{Prompt: "p", Schema: scriptSchema})
	require.NoError(t, err)
	res := ex.Extract(raw, schema.FullScriptName, extract.Options{})
	require.False(t, res.Degraded, "script: %v", res.Err)

	var script schema.FullScript
	require.NoError(t, res.Record.Decode(&script))
	require.Len(t, script.Scenes, 4)
	assert.Equal(t, "hook", script.Scenes[0].SceneType)
	assert.Equal(t, "summary", script.Scenes[3].SceneType)
	assert.Equal(t, "end", script.Scenes[3].TransitionToNext)

	sceneSchema, _ := reg.Get(schema.ScenePackageName)
	raw, err = gen.Generate(context.Background(), Request{Prompt: "p", Schema: sceneSchema, ItemID: "2"})
	require.NoError(t, err)
	res = ex.Extract(raw, schema.ScenePackageName, extract.Options{ItemID: "2"})
	require.False(t, res.Degraded, "scene: %v", res.Err)

	var pkg schema.ScenePackage
	require.NoError(t, res.Record.Decode(&pkg))
	assert.Equal(t, 2, pkg.SceneNumber)
	require.Len(t, pkg.Visuals, 2)
	assert.Equal(t, "2A", pkg.Visuals[0].FrameID)
	assert.Equal(t, "wide", pkg.Visuals[0].ShotType)
	assert.Equal(t, "close", pkg.Visuals[1].ShotType)
	assert.Equal(t, "edge", pkg.TTS.Engine)
	assert.Equal(t, int64(8000), pkg.Timing.TotalMs)
}

func TestScriptedRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewScripted("x", 3).Generate(ctx, Request{})
	assert.Equal(t, KindCanceled, Classify(err))
}

// chatServer serves canned chat completion responses.
func chatServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func completion(content, finish string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-test",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": finish,
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func TestOpenAIGenerate(t *testing.T) {
	var seen map[string]any
	srv := chatServer(t, http.StatusOK, completion(`{"title": "Hello"}`, "stop"), &seen)

	s, _ := schema.MustBuiltin().Get(schema.FullScriptName)
	gen := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "gpt-test", Temperature: 0.3})
	out, err := gen.Generate(context.Background(), Request{System: "You write scripts.", Prompt: "Write one.", Schema: s})
	require.NoError(t, err)
	assert.Equal(t, `{"title": "Hello"}`, out)

	assert.Equal(t, "gpt-test", seen["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, seen["response_format"])
	msgs, _ := seen["messages"].([]any)
	require.Len(t, msgs, 2)
	system, _ := msgs[0].(map[string]any)
	assert.Contains(t, system["content"], "You write scripts.")
	assert.Contains(t, system["content"], `"story_summary"`)
}

func TestOpenAIErrorsAreClassified(t *testing.T) {
	tests := []struct {
		status int
		body   string
		kind   Kind
	}{
		{http.StatusUnauthorized, `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`, KindAuth},
		{http.StatusTooManyRequests, `{"error": {"message": "Rate limit reached", "type": "requests", "code": "rate_limit_exceeded"}}`, KindRateLimit},
		{http.StatusTooManyRequests, `{"error": {"message": "You exceeded your current quota", "type": "insufficient_quota", "code": "insufficient_quota"}}`, KindQuota},
		{http.StatusInternalServerError, `{"error": {"message": "The server had an error", "type": "server_error"}}`, KindTransport},
		{http.StatusBadRequest, `{"error": {"message": "bad request", "type": "invalid_request_error"}}`, KindInvalid},
	}
	for _, tt := range tests {
		srv := chatServer(t, tt.status, tt.body, nil)
		gen := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "gpt-test"})
		_, err := gen.Generate(context.Background(), Request{Prompt: "x"})
		require.Error(t, err)
		assert.Equal(t, tt.kind, Classify(err), "status %d", tt.status)
	}
}

func TestOpenAIContentFilter(t *testing.T) {
	srv := chatServer(t, http.StatusOK, completion("", "content_filter"), nil)
	gen := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "gpt-test"})
	_, err := gen.Generate(context.Background(), Request{Prompt: "x"})
	assert.Equal(t, KindPolicy, Classify(err))
	assert.False(t, Retryable(err))
}
