package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ragcore/ragcore/internal/chat"
	"github.com/ragcore/ragcore/internal/index"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/log"
)

// maxRequestBody caps request bodies at 1MB.
const maxRequestBody = 1 << 20

// chatHandler serves the completion endpoints.
type chatHandler struct {
	orchestrator *chat.Orchestrator
	logger       log.Logger
}

// chatPayload is the request body for both completion endpoints.
type chatPayload struct {
	Model       string            `json:"model,omitempty"`
	Messages    []llm.Message     `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	UseContext  bool              `json:"use_context,omitempty"`
	Filter      map[string]string `json:"filter,omitempty"`
}

// completionResponse is the synchronous response shape.
type completionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   completionUsage    `json:"usage"`
}

type completionChoice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type completionUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// decodeChatRequest reads and validates the request body, mapping it
// onto an orchestrator request with caller identity attached.
func (h *chatHandler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chat.Request, bool, bool) {
	var payload chatPayload

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", h.logger)
			return chat.Request{}, false, false
		}
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return chat.Request{}, false, false
	}

	if len(payload.Messages) == 0 {
		WriteError(w, http.StatusBadRequest, "missing_messages", "at least one message is required", h.logger)
		return chat.Request{}, false, false
	}
	for _, m := range payload.Messages {
		switch m.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			WriteError(w, http.StatusBadRequest, "invalid_role", "message role must be system, user or assistant", h.logger)
			return chat.Request{}, false, false
		}
	}

	ident := identityFromContext(r.Context())

	req := chat.Request{
		OrgID:       ident.orgID,
		UserID:      ident.userID,
		Messages:    payload.Messages,
		Model:       payload.Model,
		Temperature: -1, // orchestrator substitutes the default
		MaxTokens:   payload.MaxTokens,
		Filter:      payload.Filter,
	}
	if payload.Temperature != nil {
		req.Temperature = *payload.Temperature
	}
	return req, payload.UseContext, true
}

// completions handles POST /api/v1/chat/completions.
func (h *chatHandler) completions(w http.ResponseWriter, r *http.Request) {
	req, useContext, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	var (
		result *chat.Result
		err    error
	)
	if useContext {
		result, err = h.orchestrator.CompleteWithContext(r.Context(), req)
	} else {
		result, err = h.orchestrator.Complete(r.Context(), req)
	}
	if err != nil {
		h.writeCompletionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, completionResponse{
		ID:      result.ID,
		Object:  "chat.completion",
		Created: result.Created,
		Model:   result.Model,
		Choices: []completionChoice{{
			Index:        0,
			Message:      result.Message,
			FinishReason: result.FinishReason,
		}},
		Usage: completionUsage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
			EstimatedCost:    result.EstimatedCost,
		},
	}, h.logger)
}

// stream handles POST /api/v1/chat/stream.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	req, useContext, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming is not supported", h.logger)
		return
	}

	writeEvent := func(ev chat.Event) error {
		switch ev.Type {
		case chat.EventDelta:
			return sse.WriteContent(ev.Content)
		case chat.EventError:
			return sse.WriteStreamError(ev.Message)
		case chat.EventDone:
			return sse.WriteDone()
		}
		return nil
	}

	run := h.orchestrator.CompleteStream
	if useContext {
		run = h.orchestrator.CompleteStreamWithContext
	}

	streamErr := run(r.Context(), req, func(ctx context.Context, ev chat.Event) error {
		return writeEvent(ev)
	})
	if streamErr == nil {
		return
	}

	// Nothing has been written when validation or retrieval fails, so a
	// regular JSON error is still possible.
	if !sse.Started() {
		h.writeCompletionError(w, r, streamErr)
		return
	}
	requestID, _ := requestIDFromContext(r.Context())
	h.logger.Debug("stream ended with error",
		"request_id", requestID,
		"error", streamErr,
	)
}

// writeCompletionError maps orchestrator failures to HTTP errors.
func (h *chatHandler) writeCompletionError(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := requestIDFromContext(r.Context())

	switch {
	case errors.Is(err, chat.ErrNoMessages):
		WriteError(w, http.StatusBadRequest, "missing_messages", err.Error(), h.logger)
	case errors.Is(err, index.ErrRetrieval):
		h.logger.Error("retrieval failed", "request_id", requestID, "error", err)
		WriteError(w, http.StatusBadGateway, "retrieval_failed", "could not query the knowledge index", h.logger)
	default:
		h.logger.Error("completion failed", "request_id", requestID, "error", err)
		WriteError(w, http.StatusBadGateway, "completion_failed", completionFailureMessage(err), h.logger)
	}
}

func completionFailureMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return "the model backend is rate limiting requests"
	case errors.Is(err, llm.ErrTimeout):
		return "the model backend timed out"
	case errors.Is(err, llm.ErrUnauthorized):
		return "the model backend rejected the service credentials"
	default:
		return "the completion failed"
	}
}

// identity carries the caller's tenant scope and bearer token. The
// token is accepted as-is; verification belongs to the upstream
// gateway.
type identity struct {
	orgID  int64
	userID int64
	token  string
}

type identityKey struct{}

var ctxKeyIdentity = identityKey{}

func identityFromContext(ctx context.Context) identity {
	ident, _ := ctx.Value(ctxKeyIdentity).(identity)
	return ident
}

// identityMiddleware extracts the bearer token and the X-Org-ID /
// X-User-ID headers. Absent or malformed values leave the zero scope,
// which disables retrieval grounding downstream.
func identityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ident identity

			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				ident.token = strings.TrimPrefix(auth, "Bearer ")
			}
			if v := r.Header.Get("X-Org-ID"); v != "" {
				if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
					ident.orgID = id
				}
			}
			if v := r.Header.Get("X-User-ID"); v != "" {
				if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
					ident.userID = id
				}
			}

			ctx := context.WithValue(r.Context(), ctxKeyIdentity, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
