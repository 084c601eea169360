package scenario

import (
	"context"
	"fmt"

	"github.com/parrotalk/parrotalk/pkg/realtime"
)

// SendFunc delivers one scenario message (a follow-up question or the closing
// message) to the user, typically by injecting it into the model conversation
// and requesting a spoken response.
type SendFunc func(ctx context.Context, text string) error

// CompleteFunc is invoked once when the scenario completes, with the builder
// holding the final state.
type CompleteFunc func(ctx context.Context, b *Builder) error

// Pipeline drives a [Builder] from a live realtime event stream. It reacts
// only to events that carry user speech: input transcription completions and
// user-role conversation items. Model output events are never treated as user
// input, so the model's own questions cannot fill scenario slots.
//
// Pipeline methods must be called from a single goroutine; the realtime
// client's read loop provides that.
type Pipeline struct {
	builder    *Builder
	send       SendFunc
	onComplete CompleteFunc
}

// NewPipeline creates a Pipeline over builder. send must be non-nil;
// onComplete may be nil.
func NewPipeline(builder *Builder, send SendFunc, onComplete CompleteFunc) *Pipeline {
	return &Pipeline{builder: builder, send: send, onComplete: onComplete}
}

// Builder returns the underlying builder.
func (p *Pipeline) Builder() *Builder { return p.builder }

// Handler adapts the pipeline to the realtime client's handler signature,
// binding ctx for the lifetime of the connection.
func (p *Pipeline) Handler(ctx context.Context) realtime.Handler {
	return func(evt *realtime.ServerEvent) error {
		return p.HandleEvent(ctx, evt)
	}
}

// HandleEvent processes one server event. Events without user text and events
// arriving after completion are ignored.
func (p *Pipeline) HandleEvent(ctx context.Context, evt *realtime.ServerEvent) error {
	if p.builder.State().Completed {
		return nil
	}
	userText := evt.UserText()
	if userText == "" {
		return nil
	}

	if err := p.builder.IngestUserText(ctx, userText); err != nil {
		return fmt.Errorf("scenario: ingest: %w", err)
	}

	if p.builder.State().IsComplete() {
		return p.finish(ctx, p.builder.FinalizeScenario(ctx))
	}

	if question := p.builder.BuildFollowUpQuestion(ctx); question != "" {
		return p.send(ctx, question)
	}

	// No question left to ask: either the attempt budget is spent (infer the
	// rest) or nothing is missing.
	if p.builder.State().Attempts >= p.builder.maxAttempts {
		return p.finish(ctx, p.builder.FinalizeWithFallback(ctx))
	}
	return p.finish(ctx, p.builder.FinalizeScenario(ctx))
}

func (p *Pipeline) finish(ctx context.Context, message string) error {
	if err := p.send(ctx, message); err != nil {
		return err
	}
	if p.onComplete != nil {
		return p.onComplete(ctx, p.builder)
	}
	return nil
}
