// Package chat turns a user question into a provider call.
//
// The Dispatcher picks the provider for a model selector, builds the
// system + user message pair (optionally grounded in document text),
// sends it, and returns either the answer or a classified *apperr.Error.
// It never formats user-facing prose; that's the HTTP layer's job.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/howard-nolan/docchat/internal/apperr"
	"github.com/howard-nolan/docchat/internal/metrics"
	"github.com/howard-nolan/docchat/internal/provider"
)

// documentTemplate wraps extracted document text and the question into a
// single user message. Labels: "document content" / "please answer".
const documentTemplate = "文档内容：\n%s\n\n请回答：%s"

// Resolver finds the provider for a model selector.
type Resolver interface {
	Resolve(selector string) (*provider.Provider, error)
}

// Result is a successful answer.
type Result struct {
	Text     string
	Provider provider.ID
	Model    string
	Usage    provider.Usage
}

// Dispatcher routes questions to providers. It holds no per-request
// state, so one instance serves all requests concurrently.
type Dispatcher struct {
	providers Resolver
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. m and logger may be nil.
func NewDispatcher(providers Resolver, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{providers: providers, metrics: m, logger: logger}
}

// askOptions collects the optional parts of a question.
type askOptions struct {
	model    string
	document *string
}

// AskOption customizes a single Ask call.
type AskOption func(*askOptions)

// WithModel requests a specific model. Only providers whose variant allows
// overrides honour it; the others keep their fixed model.
func WithModel(name string) AskOption {
	return func(o *askOptions) { o.model = name }
}

// WithDocument grounds the question in extracted document text.
func WithDocument(text string) AskOption {
	return func(o *askOptions) { o.document = &text }
}

// Ask sends message to the provider named by selector and returns its
// answer. The message is forwarded exactly as given, even when empty.
//
// An unknown selector fails with KindConfiguration before any network
// call. Any failure of the call itself (transport error, non-2xx status or
// malformed response) becomes KindUpstream; the underlying error is logged
// here and kept in the chain for callers that want it.
func (d *Dispatcher) Ask(ctx context.Context, selector, message string, opts ...AskOption) (*Result, error) {
	const op = "chat.Ask"

	var o askOptions
	for _, opt := range opts {
		opt(&o)
	}

	p, err := d.providers.Resolve(selector)
	if err != nil {
		return nil, err
	}

	req := buildRequest(p, message, o)
	req.RequestID = requestID(ctx)

	start := time.Now()
	resp, err := p.ChatCompletion(ctx, req)
	d.observe(p.ID, start, err)

	if err != nil {
		d.logger.Error("provider call failed",
			"provider", p.ID,
			"model", req.Model,
			"grounded", o.document != nil,
			"request_id", req.RequestID,
			"err", err,
		)
		return nil, apperr.New(apperr.KindUpstream, op, err)
	}

	d.logger.Debug("provider call succeeded",
		"provider", p.ID,
		"model", resp.Model,
		"request_id", req.RequestID,
		"total_tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start),
	)

	return &Result{
		Text:     resp.Content,
		Provider: p.ID,
		Model:    resp.Model,
		Usage:    resp.Usage,
	}, nil
}

// Supports reports whether selector names a configured provider, failing
// with KindConfiguration like Ask would. It does no I/O.
func (d *Dispatcher) Supports(selector string) error {
	_, err := d.providers.Resolve(selector)
	return err
}

// buildRequest assembles the chat-completion body for p.
func buildRequest(p *provider.Provider, message string, o askOptions) *provider.ChatRequest {
	grounded := o.document != nil

	user := message
	if grounded {
		user = groundedMessage(*o.document, message)
	}

	return &provider.ChatRequest{
		Model: p.Variant.Model(o.model),
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: p.Variant.SystemPrompt(grounded)},
			{Role: provider.RoleUser, Content: user},
		},
		Stream: false,
	}
}

// groundedMessage combines document text and question into one user turn.
func groundedMessage(document, question string) string {
	return fmt.Sprintf(documentTemplate, document, question)
}

// requestID reuses chi's request id when the call comes from an HTTP
// handler, and mints one otherwise.
func requestID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func (d *Dispatcher) observe(id provider.ID, start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	d.metrics.UpstreamRequests.WithLabelValues(string(id), outcome).Inc()
	d.metrics.UpstreamDuration.WithLabelValues(string(id)).Observe(time.Since(start).Seconds())
}
