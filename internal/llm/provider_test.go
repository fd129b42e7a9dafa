package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ana-joker/FULLSTUDY/internal/errors"
	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/services"
)

type fakeAPI struct {
	t        *testing.T
	calls    atomic.Int32
	mu       sync.Mutex
	requests []map[string]any
	handler  func(w http.ResponseWriter, body map[string]any)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	assert.Equal(f.t, "/chat/completions", r.URL.Path)
	assert.Equal(f.t, "Bearer test-key", r.Header.Get("Authorization"))

	var body map[string]any
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	f.mu.Lock()
	f.requests = append(f.requests, body)
	f.mu.Unlock()
	f.handler(w, body)
}

func (f *fakeAPI) lastRequest() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestProvider(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) (*Provider, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{t: t, handler: handler}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	provider, err := NewProvider(Config{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		Model:          "test-model",
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return provider, api
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "test-model",
		"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
		"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "type": "invalid_request_error"},
	})
}

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{}, slog.Default())
	assert.Error(t, err)
}

func TestProvider_GenerateStructured(t *testing.T) {
	provider, api := newTestProvider(t, func(w http.ResponseWriter, body map[string]any) {
		writeCompletion(w, `{"quizTitle":"Cells","quizData":[]}`)
	})

	schema := json.RawMessage(`{"type":"object"}`)
	parts := []models.Part{
		models.TextPart("make a quiz"),
		models.InlinePart("image/png", "aGVsbG8="),
	}
	out, err := provider.GenerateStructured(context.Background(), parts, schema)

	require.NoError(t, err)
	assert.JSONEq(t, `{"quizTitle":"Cells","quizData":[]}`, string(out))

	req := api.lastRequest()
	assert.Equal(t, "test-model", req["model"])
	format := req["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	jsonSchema := format["json_schema"].(map[string]any)
	assert.Equal(t, structuredSchemaName, jsonSchema["name"])
	assert.Equal(t, map[string]any{"type": "object"}, jsonSchema["schema"])

	messages := req["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "make a quiz", content[0].(map[string]any)["text"])
	imageURL := content[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", imageURL["url"])
}

func TestProvider_GenerateStructured_StripsCodeFence(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, body map[string]any) {
		writeCompletion(w, "```json\n{\"ok\":true}\n```")
	})

	out, err := provider.GenerateStructured(context.Background(), []models.Part{models.TextPart("x")}, json.RawMessage(`{}`))

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
}

func TestProvider_GenerateStructured_InvalidJSON(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, body map[string]any) {
		writeCompletion(w, "here is your quiz!")
	})

	_, err := provider.GenerateStructured(context.Background(), []models.Part{models.TextPart("x")}, json.RawMessage(`{}`))

	require.Error(t, err)
	assert.True(t, apperrors.IsMalformedGeneration(err))
}

func TestProvider_ClientErrorIsNotRetried(t *testing.T) {
	provider, api := newTestProvider(t, func(w http.ResponseWriter, body map[string]any) {
		writeAPIError(w, http.StatusUnauthorized, "bad key")
	})

	_, err := provider.GenerateText(context.Background(), "title please")

	require.Error(t, err)
	var unavailable *apperrors.ServiceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, http.StatusUnauthorized, unavailable.StatusCode)
	assert.Equal(t, "generate_text", unavailable.Operation)
	assert.Equal(t, int32(1), api.calls.Load())
}

func TestProvider_ServerErrorIsRetried(t *testing.T) {
	var attempts atomic.Int32
	provider, api := newTestProvider(t, func(w http.ResponseWriter, body map[string]any) {
		if attempts.Add(1) == 1 {
			writeAPIError(w, http.StatusServiceUnavailable, "overloaded")
			return
		}
		writeCompletion(w, "  Photosynthesis basics \n")
	})

	title, err := provider.GenerateText(context.Background(), "title please")

	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis basics", title)
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestProvider_ServerErrorExhaustsRetries(t *testing.T) {
	provider, api := newTestProvider(t, func(w http.ResponseWriter, body map[string]any) {
		writeAPIError(w, http.StatusInternalServerError, "boom")
	})

	_, err := provider.GenerateText(context.Background(), "title please")

	assert.True(t, apperrors.IsServiceUnavailable(err))
	assert.Equal(t, int32(2), api.calls.Load())
}

func TestProvider_StartChat_Streams(t *testing.T) {
	provider, api := newTestProvider(t, func(w http.ResponseWriter, body map[string]any) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Hel", "", "lo"} {
			data, _ := json.Marshal(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": chunk}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := provider.StartChat(context.Background(), services.ChatRequest{
		History: []models.ChatMessage{
			{Role: models.RoleUser, Text: "hi", Parts: []models.Part{models.TextPart("hi")}},
			{Role: models.RoleModel, Text: "hello!"},
		},
		Message:           []models.Part{models.TextPart("explain mitosis")},
		SystemInstruction: "be brief",
		Params:            models.ChatParams{Temperature: 0.5, TopP: 0.95, MaxOutputTokens: 256},
	})
	require.NoError(t, err)
	defer stream.Close()

	var got string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got += chunk
	}
	assert.Equal(t, "Hello", got)

	req := api.lastRequest()
	assert.Equal(t, true, req["stream"])
	assert.InDelta(t, 0.5, req["temperature"], 0.001)
	assert.EqualValues(t, 256, req["max_tokens"])

	messages := req["messages"].([]any)
	require.Len(t, messages, 4)
	roles := make([]string, len(messages))
	for i, m := range messages {
		roles[i] = m.(map[string]any)["role"].(string)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
	assert.Equal(t, "explain mitosis", messages[3].(map[string]any)["content"])
}

func TestProvider_CancelledContext(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, body map[string]any) {
		writeCompletion(w, "unused")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.GenerateText(ctx, "title please")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, apperrors.IsServiceUnavailable(err))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(` {"a":1} `))
}
