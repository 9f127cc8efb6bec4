package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ragcore/ragcore/internal/chat"
	"github.com/ragcore/ragcore/internal/index"
	"github.com/ragcore/ragcore/internal/llm"
)

// stubClient is a canned completion backend.
type stubClient struct {
	completion   *llm.Completion
	completeErr  error
	deltas       []string
	streamErr    error
	lastRequests []llm.Request
}

func (c *stubClient) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	c.lastRequests = append(c.lastRequests, req)
	if c.completeErr != nil {
		return nil, c.completeErr
	}
	return c.completion, nil
}

func (c *stubClient) Stream(ctx context.Context, req llm.Request, fn llm.DeltaFunc) error {
	c.lastRequests = append(c.lastRequests, req)
	for _, d := range c.deltas {
		if err := fn(ctx, d); err != nil {
			return err
		}
	}
	return c.streamErr
}

// stubRetriever records search calls and returns canned results.
type stubRetriever struct {
	results []index.Result
	err     error
	calls   int
	lastOrg int64
}

func (r *stubRetriever) Search(_ context.Context, orgID int64, _ string, _ map[string]string, _ int) ([]index.Result, error) {
	r.calls++
	r.lastOrg = orgID
	if r.err != nil {
		return nil, r.err
	}
	return r.results, nil
}

// wordCounter counts whitespace-separated words.
type wordCounter struct{}

func (wordCounter) CountText(_ string, text string) int { return len(strings.Fields(text)) }

func (wordCounter) CountConversation(_ string, messages []llm.Message) int {
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n
}

func newTestServer(t *testing.T, client llm.Client, retriever chat.Retriever) *Server {
	t.Helper()

	orch, err := chat.New(chat.Config{
		Client:    client,
		Retriever: retriever,
		Counter:   wordCounter{},
		Defaults: chat.Defaults{
			Model:         "gpt-3.5-turbo",
			Temperature:   0.7,
			MaxTokens:     2048,
			RetrievalTopK: 5,
		},
	})
	if err != nil {
		t.Fatalf("chat.New() error = %v", err)
	}

	srv, err := NewServer(ServerConfig{Orchestrator: orch})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (code, message string) {
	t.Helper()

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v\n%s", err, rec.Body.String())
	}
	return body.Error.Code, body.Error.Message
}

func TestNewServerRequiresOrchestrator(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Fatal("NewServer() without orchestrator should fail")
	}
}

func TestCompletions(t *testing.T) {
	client := &stubClient{completion: &llm.Completion{
		ID:           "chatcmpl-abc123",
		Model:        "gpt-4-0613",
		Message:      llm.Message{Role: llm.RoleAssistant, Content: "Paris."},
		FinishReason: "stop",
		Usage:        &llm.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
	}}
	srv := newTestServer(t, client, nil)

	rec := postJSON(t, srv.Handler(), "/api/v1/chat/completions", chatPayload{
		Model:    "gpt-4",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "What is the capital of France?"}},
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var resp completionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "chatcmpl-abc123" {
		t.Errorf("id = %q, want backend id", resp.ID)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object = %q, want chat.completion", resp.Object)
	}
	if resp.Created == 0 {
		t.Error("created timestamp missing")
	}
	if resp.Model != "gpt-4-0613" {
		t.Errorf("model = %q, want the model the backend reported", resp.Model)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("choices = %d, want 1", len(resp.Choices))
	}
	if resp.Choices[0].Message.Content != "Paris." {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 1500 {
		t.Errorf("total_tokens = %d, want 1500", resp.Usage.TotalTokens)
	}
	wantCost := 1000.0/1000*0.03 + 500.0/1000*0.06
	if math.Abs(resp.Usage.EstimatedCost-wantCost) > 1e-9 {
		t.Errorf("estimated_cost = %v, want %v", resp.Usage.EstimatedCost, wantCost)
	}
}

func TestCompletionsValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed json",
			body:       `{"messages": [`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_body",
		},
		{
			name:       "no messages",
			body:       `{"messages": []}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_messages",
		},
		{
			name:       "unknown role",
			body:       `{"messages": [{"role": "tool", "content": "hi"}]}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{}
			srv := newTestServer(t, client, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if code, _ := decodeError(t, rec); code != tt.wantCode {
				t.Errorf("error code = %q, want %q", code, tt.wantCode)
			}
			if len(client.lastRequests) != 0 {
				t.Error("backend called for an invalid request")
			}
		})
	}
}

func TestCompletionsBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, &stubClient{}, nil)

	huge := fmt.Sprintf(`{"messages": [{"role": "user", "content": %q}]}`, strings.Repeat("x", maxRequestBody+1))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(huge))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if code, _ := decodeError(t, rec); code != "body_too_large" {
		t.Errorf("error code = %q, want body_too_large", code)
	}
}

func TestCompletionsWithContext(t *testing.T) {
	client := &stubClient{completion: &llm.Completion{
		ID:      "chatcmpl-1",
		Model:   "gpt-3.5-turbo",
		Message: llm.Message{Role: llm.RoleAssistant, Content: "Within 30 days."},
	}}
	retriever := &stubRetriever{results: []index.Result{
		{DocumentTitle: "Refund Policy", Content: "Refunds are accepted within 30 days."},
	}}
	srv := newTestServer(t, client, retriever)

	rec := postJSON(t, srv.Handler(), "/api/v1/chat/completions", chatPayload{
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "What is the refund policy?"}},
		UseContext: true,
	}, map[string]string{"X-Org-ID": "42", "X-User-ID": "7"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	if retriever.calls != 1 {
		t.Fatalf("retriever calls = %d, want 1", retriever.calls)
	}
	if retriever.lastOrg != 42 {
		t.Errorf("retriever org = %d, want 42 from X-Org-ID", retriever.lastOrg)
	}

	sent := client.lastRequests[0].Messages
	if sent[0].Role != llm.RoleSystem || !strings.Contains(sent[0].Content, "Refund Policy") {
		t.Errorf("retrieved context not injected into the conversation: %+v", sent)
	}
}

func TestCompletionsWithoutOrgSkipsRetrieval(t *testing.T) {
	client := &stubClient{completion: &llm.Completion{
		Message: llm.Message{Role: llm.RoleAssistant, Content: "ok"},
	}}
	retriever := &stubRetriever{}
	srv := newTestServer(t, client, retriever)

	rec := postJSON(t, srv.Handler(), "/api/v1/chat/completions", chatPayload{
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		UseContext: true,
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if retriever.calls != 0 {
		t.Errorf("retriever called %d times without tenant scope", retriever.calls)
	}
}

func TestCompletionsRetrievalFailure(t *testing.T) {
	client := &stubClient{}
	retriever := &stubRetriever{err: fmt.Errorf("%w: search chunks: connection refused", index.ErrRetrieval)}
	srv := newTestServer(t, client, retriever)

	rec := postJSON(t, srv.Handler(), "/api/v1/chat/completions", chatPayload{
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		UseContext: true,
	}, map[string]string{"X-Org-ID": "42"})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	code, message := decodeError(t, rec)
	if code != "retrieval_failed" {
		t.Errorf("error code = %q, want retrieval_failed", code)
	}
	if strings.Contains(message, "connection refused") {
		t.Errorf("internal detail leaked to the caller: %q", message)
	}
	if len(client.lastRequests) != 0 {
		t.Error("backend called despite retrieval failure")
	}
}

func TestCompletionsBackendFailure(t *testing.T) {
	client := &stubClient{
		completeErr: fmt.Errorf("%w: %w: too many requests", llm.ErrBackend, llm.ErrRateLimited),
	}
	srv := newTestServer(t, client, nil)

	rec := postJSON(t, srv.Handler(), "/api/v1/chat/completions", chatPayload{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, nil)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	code, message := decodeError(t, rec)
	if code != "completion_failed" {
		t.Errorf("error code = %q, want completion_failed", code)
	}
	if !strings.Contains(message, "rate limiting") {
		t.Errorf("message = %q, want a rate limit hint", message)
	}
}

func TestStream(t *testing.T) {
	client := &stubClient{deltas: []string{"The answer", " is", " 42."}}
	srv := newTestServer(t, client, nil)

	rec := postJSON(t, srv.Handler(), "/api/v1/chat/stream", chatPayload{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	want := "data: {\"content\":\"The answer\"}\n\ndata: {\"content\":\" is\"}\n\ndata: {\"content\":\" 42.\"}\n\ndata: [DONE]\n\n"
	if body != want {
		t.Errorf("stream body =\n%q\nwant\n%q", body, want)
	}
}

func TestStreamBackendFailure(t *testing.T) {
	client := &stubClient{
		deltas:    []string{"partial"},
		streamErr: fmt.Errorf("%w: stream interrupted", llm.ErrBackend),
	}
	srv := newTestServer(t, client, nil)

	rec := postJSON(t, srv.Handler(), "/api/v1/chat/stream", chatPayload{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, nil)

	body := rec.Body.String()
	if !strings.Contains(body, "data: {\"content\":\"partial\"}\n\n") {
		t.Errorf("delta before the failure missing:\n%q", body)
	}
	if !strings.Contains(body, "data: {\"error\":") {
		t.Errorf("error frame missing:\n%q", body)
	}
	if strings.Contains(body, "[DONE]") {
		t.Errorf("sentinel emitted after an error frame:\n%q", body)
	}
	if strings.Contains(body, "stream interrupted") {
		t.Errorf("raw backend error leaked to the consumer:\n%q", body)
	}
}

func TestStreamValidationUsesJSONError(t *testing.T) {
	srv := newTestServer(t, &stubClient{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(`{"messages": []}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestStreamRetrievalFailureBeforeFirstFrame(t *testing.T) {
	retriever := &stubRetriever{err: fmt.Errorf("%w: embed query: boom", index.ErrRetrieval)}
	srv := newTestServer(t, &stubClient{}, retriever)

	rec := postJSON(t, srv.Handler(), "/api/v1/chat/stream", chatPayload{
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		UseContext: true,
	}, map[string]string{"X-Org-ID": "42"})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if code, _ := decodeError(t, rec); code != "retrieval_failed" {
		t.Errorf("error code = %q, want retrieval_failed", code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	client := &stubClient{completion: &llm.Completion{
		Message: llm.Message{Role: llm.RoleAssistant, Content: "ok"},
	}}
	srv := newTestServer(t, client, nil)

	t.Run("generated", func(t *testing.T) {
		rec := postJSON(t, srv.Handler(), "/api/v1/chat/completions", chatPayload{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		}, nil)

		id := rec.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			t.Errorf("X-Request-ID = %q, want a generated UUID", id)
		}
	})

	t.Run("echoed", func(t *testing.T) {
		incoming := uuid.New().String()
		rec := postJSON(t, srv.Handler(), "/api/v1/chat/completions", chatPayload{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		}, map[string]string{"X-Request-ID": incoming})

		if got := rec.Header().Get("X-Request-ID"); got != incoming {
			t.Errorf("X-Request-ID = %q, want the incoming id %q", got, incoming)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	client := &stubClient{}
	srv := newTestServer(t, client, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubClient{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
