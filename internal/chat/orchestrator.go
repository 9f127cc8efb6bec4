package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ragcore/ragcore/internal/grounding"
	"github.com/ragcore/ragcore/internal/index"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/log"
	"github.com/ragcore/ragcore/internal/pricing"
	"github.com/ragcore/ragcore/internal/usage"
)

// Retriever performs tenant-scoped similarity search. *index.Store
// satisfies it.
type Retriever interface {
	Search(ctx context.Context, orgID int64, query string, filter map[string]string, limit int) ([]index.Result, error)
}

// UsageRecorder accepts accounting records without blocking.
// *usage.Dispatcher satisfies it.
type UsageRecorder interface {
	Enqueue(rec usage.Record) bool
}

// Defaults fill request fields the caller left unset.
type Defaults struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	RetrievalTopK int
}

// Config contains all parameters for the Orchestrator.
type Config struct {
	Client    llm.Client
	Retriever Retriever // nil disables grounding entirely
	Counter   Counter
	Pricing   *pricing.Model // nil uses the default price table
	Usage     UsageRecorder  // nil disables usage reporting
	Logger    log.Logger
	Defaults  Defaults
}

// validate checks required parameters.
func (cfg Config) validate() error {
	if cfg.Client == nil {
		return errors.New("llm client is required")
	}
	if cfg.Counter == nil {
		return errors.New("token counter is required")
	}
	if cfg.Defaults.Model == "" {
		return errors.New("default model is required")
	}
	if cfg.Defaults.RetrievalTopK <= 0 {
		return errors.New("retrieval top-k must be positive")
	}
	return nil
}

// Orchestrator runs completion requests end to end. All configuration
// is captured at construction; it is safe for concurrent use.
type Orchestrator struct {
	client    llm.Client
	retriever Retriever
	counter   Counter
	pricing   *pricing.Model
	usage     UsageRecorder
	logger    log.Logger
	defaults  Defaults
}

// New creates an Orchestrator from cfg.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	if cfg.Pricing == nil {
		cfg.Pricing = pricing.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	return &Orchestrator{
		client:    cfg.Client,
		retriever: cfg.Retriever,
		counter:   cfg.Counter,
		pricing:   cfg.Pricing,
		usage:     cfg.Usage,
		logger:    cfg.Logger,
		defaults:  cfg.Defaults,
	}, nil
}

// Complete runs a direct blocking completion without retrieval.
func (o *Orchestrator) Complete(ctx context.Context, req Request) (*Result, error) {
	req, err := o.normalize(req)
	if err != nil {
		return nil, err
	}
	return o.complete(ctx, req, req.Messages)
}

// CompleteWithContext grounds the conversation before completing. The
// last user message drives retrieval. Absent tenant scope, absent user
// message, or an empty result set all degrade to a direct completion
// on the unmodified conversation. A retrieval fault is returned as an
// error wrapping index.ErrRetrieval, distinct from backend failures.
func (o *Orchestrator) CompleteWithContext(ctx context.Context, req Request) (*Result, error) {
	req, err := o.normalize(req)
	if err != nil {
		return nil, err
	}

	messages, err := o.ground(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.complete(ctx, req, messages)
}

// complete is the shared blocking core.
func (o *Orchestrator) complete(ctx context.Context, req Request, messages []llm.Message) (*Result, error) {
	completion, err := o.client.Complete(ctx, llm.Request{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	modelUsed := completion.Model
	if modelUsed == "" {
		modelUsed = req.Model
	}

	var u llm.Usage
	if completion.Usage != nil {
		u = *completion.Usage
	} else {
		u.PromptTokens = o.counter.CountConversation(modelUsed, messages)
		u.CompletionTokens = o.counter.CountText(modelUsed, completion.Message.Content)
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	cost := o.pricing.Estimate(modelUsed, u.PromptTokens, u.CompletionTokens)

	result := &Result{
		ID:            requestID(completion.ID),
		Created:       time.Now().Unix(),
		Model:         modelUsed,
		Message:       completion.Message,
		FinishReason:  completion.FinishReason,
		Usage:         u,
		EstimatedCost: cost,
	}

	o.record(req, result.ID, modelUsed, u, cost, false)
	return result, nil
}

// CompleteStream runs a direct streaming completion, delivering events
// through fn. The consumer sees zero or more EventDelta followed by a
// single terminal event: EventDone on normal exhaustion, EventError on
// a backend fault. Nothing follows the terminal event, and nothing at
// all is emitted once fn returns an error or the consumer's context is
// gone. Prompt tokens are counted up front; completion tokens are the
// running sum of per-delta counts, covering exactly the content that
// was produced before the stream ended.
func (o *Orchestrator) CompleteStream(ctx context.Context, req Request, fn EventFunc) error {
	req, err := o.normalize(req)
	if err != nil {
		return err
	}
	return o.stream(ctx, req, req.Messages, fn)
}

// CompleteStreamWithContext is the streaming counterpart of
// CompleteWithContext. Retrieval happens before the first event, so a
// retrieval fault is returned as an error with no events emitted.
func (o *Orchestrator) CompleteStreamWithContext(ctx context.Context, req Request, fn EventFunc) error {
	req, err := o.normalize(req)
	if err != nil {
		return err
	}

	messages, err := o.ground(ctx, req)
	if err != nil {
		return err
	}
	return o.stream(ctx, req, messages, fn)
}

// stream is the shared streaming core.
func (o *Orchestrator) stream(ctx context.Context, req Request, messages []llm.Message, fn EventFunc) error {
	promptTokens := o.counter.CountConversation(req.Model, messages)

	completionTokens := 0
	streamErr := o.client.Stream(ctx, llm.Request{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, func(ctx context.Context, content string) error {
		completionTokens += o.counter.CountText(req.Model, content)
		return fn(ctx, Event{Type: EventDelta, Content: content})
	})

	id := requestID("")
	defer func() {
		u := llm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		}
		o.record(req, id, req.Model, u, o.pricing.Estimate(req.Model, promptTokens, completionTokens), true)
	}()

	if streamErr != nil {
		if consumerGone(ctx, streamErr) {
			return streamErr
		}
		o.logger.Warn("stream failed",
			"org_id", req.OrgID,
			"model", req.Model,
			"error", streamErr,
		)
		if err := fn(ctx, Event{Type: EventError, Message: consumerMessage(streamErr)}); err != nil {
			return err
		}
		return streamErr
	}

	return fn(ctx, Event{Type: EventDone})
}

// normalize validates the request and fills defaults.
func (o *Orchestrator) normalize(req Request) (Request, error) {
	if len(req.Messages) == 0 {
		return req, ErrNoMessages
	}
	if req.Model == "" {
		req.Model = o.defaults.Model
	}
	if req.Temperature < 0 {
		req.Temperature = o.defaults.Temperature
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = o.defaults.MaxTokens
	}
	return req, nil
}

// ground retrieves context for the last user message and injects it
// into the conversation. No retriever, no tenant scope, no user
// message, or an empty result set leaves the conversation unchanged.
// A retrieval fault is an error.
func (o *Orchestrator) ground(ctx context.Context, req Request) ([]llm.Message, error) {
	if o.retriever == nil || req.OrgID == 0 {
		return req.Messages, nil
	}

	query, ok := lastUserMessage(req.Messages)
	if !ok {
		o.logger.Debug("no user message to ground on", "org_id", req.OrgID)
		return req.Messages, nil
	}

	results, err := o.retriever.Search(ctx, req.OrgID, query, req.Filter, o.defaults.RetrievalTopK)
	if err != nil {
		return nil, fmt.Errorf("grounding conversation: %w", err)
	}
	if len(results) == 0 {
		return req.Messages, nil
	}

	o.logger.Debug("grounded conversation",
		"org_id", req.OrgID,
		"chunks", len(results),
	)
	return grounding.Inject(req.Messages, grounding.Assemble(results)), nil
}

func (o *Orchestrator) record(req Request, id, model string, u llm.Usage, cost float64, streamed bool) {
	if o.usage == nil {
		return
	}
	o.usage.Enqueue(usage.Record{
		RequestID:        id,
		UserID:           req.UserID,
		OrgID:            req.OrgID,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		EstimatedCost:    cost,
		Streamed:         streamed,
		CreatedAt:        time.Now().UTC(),
	})
}

// lastUserMessage returns the content of the most recent user message.
func lastUserMessage(messages []llm.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}

// requestID keeps the backend's id when present.
func requestID(backendID string) string {
	if backendID != "" {
		return backendID
	}
	return fmt.Sprintf("chatcmpl-%d", time.Now().Unix())
}

// consumerGone reports whether the stream ended because the consumer
// disconnected or gave up, in which case no further events can be
// delivered.
func consumerGone(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return !errors.Is(err, llm.ErrBackend)
}

// consumerMessage maps a backend failure to a message safe to show the
// end consumer.
func consumerMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return "the model backend is rate limiting requests, try again shortly"
	case errors.Is(err, llm.ErrUnauthorized):
		return "the model backend rejected the service credentials"
	case errors.Is(err, llm.ErrTimeout):
		return "the model backend timed out"
	default:
		return "the completion failed"
	}
}
