package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// defaultMaxAttempts is the follow-up question budget per session.
	defaultMaxAttempts = 3

	// fallbackParseAttempts bounds how often the fallback generator is asked
	// to produce parseable JSON before the builder finalizes regardless.
	fallbackParseAttempts = 2

	// maxQuestionWords is the word budget for a follow-up question.
	maxQuestionWords = 15
)

// defaultQuestions are the templated follow-ups used when no question
// generator is configured or its output fails sanitization.
var defaultQuestions = map[string]string{
	FieldPlace:   "Where are you having this conversation?",
	FieldPartner: "Who are you talking to?",
	FieldGoal:    "What do you want to achieve in this conversation?",
}

// ExtractFunc turns one user utterance into sanitized field guesses.
type ExtractFunc func(ctx context.Context, userText string) (Fields, error)

// GenerateFunc produces free text from the current state. Used for follow-up
// questions, final messages, and fallback inference.
type GenerateFunc func(ctx context.Context, s *State, missing []string) (string, error)

// Builder is the slot-filling state machine. It owns a [State], drives
// extraction on each ingested utterance, and decides between asking another
// question and finalizing. Builder is not safe for concurrent use; the
// pipeline's single-task receive loop is the synchronization boundary.
type Builder struct {
	state       *State
	extract     ExtractFunc
	question    GenerateFunc
	final       GenerateFunc
	fallback    GenerateFunc
	maxAttempts int
	log         *slog.Logger
}

// BuilderOption configures a [Builder].
type BuilderOption func(*Builder)

// WithState seeds the builder with an existing state, e.g. when a session
// resumes mid-scenario.
func WithState(s *State) BuilderOption {
	return func(b *Builder) { b.state = s }
}

// WithMaxAttempts overrides the follow-up question budget. Default 3; values
// below one are ignored so a zero from an unset config cannot disable the
// question flow.
func WithMaxAttempts(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// WithQuestionGenerator sets the generator used for follow-up questions.
// Without one the builder uses fixed per-field templates.
func WithQuestionGenerator(fn GenerateFunc) BuilderOption {
	return func(b *Builder) { b.question = fn }
}

// WithFinalGenerator sets the generator used for the closing message on the
// first finalize. Without one the deterministic template is used.
func WithFinalGenerator(fn GenerateFunc) BuilderOption {
	return func(b *Builder) { b.final = fn }
}

// WithFallbackGenerator sets the generator asked to infer missing fields when
// the question budget is exhausted.
func WithFallbackGenerator(fn GenerateFunc) BuilderOption {
	return func(b *Builder) { b.fallback = fn }
}

// WithLogger sets the builder's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) BuilderOption {
	return func(b *Builder) { b.log = log }
}

// NewBuilder creates a Builder around extract. A nil extract is allowed and
// makes IngestUserText a no-op, which is useful in tests of the question flow.
func NewBuilder(extract ExtractFunc, opts ...BuilderOption) *Builder {
	b := &Builder{
		extract:     extract,
		maxAttempts: defaultMaxAttempts,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.state == nil {
		b.state = NewState()
	}
	return b
}

// State exposes the builder's state for inspection and persistence.
func (b *Builder) State() *State { return b.state }

// IngestUserText runs the extractor over text and merges accepted fields
// first-write-wins. Blank input, a completed state, and a missing extractor
// are all no-ops. Extractor failures are returned so the caller can decide
// logging policy; the state is untouched in that case.
func (b *Builder) IngestUserText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" || b.state.Completed || b.extract == nil {
		return nil
	}
	ext, err := b.extract(ctx, text)
	if err != nil {
		return fmt.Errorf("scenario: extract fields: %w", err)
	}
	b.state.Merge(ext)
	return nil
}

// MissingFields returns the still-unpopulated fields in canonical order.
func (b *Builder) MissingFields() []string { return b.state.MissingFields() }

// BuildFollowUpQuestion picks the next field to ask about, spends one attempt,
// and returns a sanitized short question. It returns "" when the scenario is
// completed, nothing is missing, or the attempt budget is spent — the caller
// should then finalize.
func (b *Builder) BuildFollowUpQuestion(ctx context.Context) string {
	if b.state.Completed {
		return ""
	}
	missing := b.state.MissingFields()
	if len(missing) == 0 {
		return ""
	}
	if b.state.Attempts >= b.maxAttempts {
		return ""
	}

	// Prefer a field not asked about yet; once every missing field has been
	// asked once, start over from the first missing one.
	target := missing[0]
	for _, f := range missing {
		if !b.state.AskedFields[f] {
			target = f
			break
		}
	}
	b.state.AskedFields[target] = true
	b.state.Attempts++

	question := defaultQuestions[target]
	if b.question != nil {
		generated, err := b.question(ctx, b.state, []string{target})
		if err != nil {
			b.log.Warn("follow-up generation failed, using template", "field", target, "err", err)
		} else {
			question = generated
		}
	}
	return sanitizeQuestion(question, target)
}

// FinalizeScenario marks the scenario complete and returns the closing
// message. The first call may use the configured final generator; repeated
// calls on a completed state return the deterministic template, so the call
// is idempotent.
func (b *Builder) FinalizeScenario(ctx context.Context) string {
	if b.state.Completed {
		return b.template()
	}
	b.state.Completed = true
	if b.final != nil {
		msg, err := b.final(ctx, b.state, nil)
		if err == nil && strings.TrimSpace(msg) != "" {
			return msg
		}
		if err != nil {
			b.log.Warn("final generation failed, using template", "err", err)
		}
	}
	return b.template()
}

// FinalizeWithFallback asks the fallback generator to infer missing fields
// (up to two attempts at parseable JSON), merges whatever it accepts, and
// finalizes. If both attempts fail the scenario still completes with whatever
// is known — a degraded completion, not an error.
func (b *Builder) FinalizeWithFallback(ctx context.Context) string {
	if b.state.Completed {
		return b.FinalizeScenario(ctx)
	}
	if b.fallback != nil {
		for attempt := 1; attempt <= fallbackParseAttempts; attempt++ {
			text, err := b.fallback(ctx, b.state, b.state.MissingFields())
			if err != nil {
				b.log.Warn("fallback generation failed", "attempt", attempt, "err", err)
				continue
			}
			raw := ExtractJSONObject(text)
			if raw == nil {
				b.log.Warn("fallback JSON parse failed", "attempt", attempt)
				continue
			}
			fields := sanitizeFields(raw)
			if fields == (Fields{}) {
				// A parseable but empty object counts as a miss; the next
				// attempt may still infer something.
				b.log.Warn("fallback contributed no fields", "attempt", attempt)
				continue
			}
			b.state.Merge(fields)
			return b.FinalizeScenario(ctx)
		}
	}
	return b.FinalizeScenario(ctx)
}

// template renders the deterministic closing message. Empty fields render as
// empty strings by design; degraded completions must not panic or block.
func (b *Builder) template() string {
	return fmt.Sprintf("Great. You're at %s talking to %s because you want to %s. Let's start.",
		b.state.Place, b.state.Partner, b.state.Goal)
}

// sanitizeQuestion trims a generated question down to its first sentence,
// forces a trailing question mark, and falls back to the field's template
// when the result is empty or exceeds the word budget.
func sanitizeQuestion(question, targetField string) string {
	cleaned := strings.TrimSpace(question)
	if cleaned == "" {
		return defaultQuestions[targetField]
	}
	first := cleaned
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	if i := strings.IndexByte(first, '?'); i >= 0 {
		first = first[:i]
	}
	if i := strings.IndexByte(first, '.'); i >= 0 {
		first = first[:i]
	}
	first = strings.TrimSpace(first)
	if first == "" {
		return defaultQuestions[targetField]
	}
	if !strings.HasSuffix(first, "?") {
		first += "?"
	}
	if len(strings.Fields(first)) > maxQuestionWords {
		return defaultQuestions[targetField]
	}
	return first
}
