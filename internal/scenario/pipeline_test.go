package scenario

import (
	"context"
	"testing"

	"github.com/parrotalk/parrotalk/pkg/realtime"
)

// userTranscript builds the event emitted when a user utterance finishes
// transcription.
func userTranscript(text string) *realtime.ServerEvent {
	return &realtime.ServerEvent{
		Type:       realtime.TypeInputTranscriptDone,
		Transcript: text,
	}
}

func TestPipeline_IgnoresModelOutputEvents(t *testing.T) {
	extractCalls := 0
	b := NewBuilder(func(_ context.Context, _ string) (Fields, error) {
		extractCalls++
		return Fields{}, nil
	})
	p := NewPipeline(b, func(_ context.Context, _ string) error { return nil }, nil)
	ctx := context.Background()

	events := []*realtime.ServerEvent{
		{Type: realtime.TypeTranscriptDone, Transcript: "Where are you right now?"},
		{Type: realtime.TypeTranscriptDelta, Delta: "Where"},
		{Type: realtime.TypeAudioDelta, Delta: "aGVsbG8="},
		{Type: realtime.TypeConversationItemDone, Item: &realtime.ConversationItem{
			Role:    "assistant",
			Content: []realtime.ContentPart{{Type: "text", Text: "Who are you talking to?"}},
		}},
	}
	for _, evt := range events {
		if err := p.HandleEvent(ctx, evt); err != nil {
			t.Fatalf("HandleEvent(%s): %v", evt.Type, err)
		}
	}
	if extractCalls != 0 {
		t.Errorf("extractor called %d times for model output, want 0", extractCalls)
	}
}

func TestPipeline_AsksFollowUpAfterPartialExtraction(t *testing.T) {
	b := NewBuilder(staticExtract(map[string]Fields{
		"I'm at a cafe": {Place: "cafe"},
	}))
	var sent []string
	p := NewPipeline(b, func(_ context.Context, text string) error {
		sent = append(sent, text)
		return nil
	}, nil)

	if err := p.HandleEvent(context.Background(), userTranscript("I'm at a cafe")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(sent) != 1 || sent[0] != "Who are you talking to?" {
		t.Fatalf("sent = %v, want the partner follow-up", sent)
	}
}

func TestPipeline_FinalizesWhenAllFieldsFilled(t *testing.T) {
	b := NewBuilder(staticExtract(map[string]Fields{
		"ordering a coffee from the barista at a cafe": {
			Place: "a cafe", Partner: "the barista", Goal: "order a coffee",
		},
	}))
	var sent []string
	completions := 0
	p := NewPipeline(b,
		func(_ context.Context, text string) error {
			sent = append(sent, text)
			return nil
		},
		func(_ context.Context, _ *Builder) error {
			completions++
			return nil
		})
	ctx := context.Background()

	evt := userTranscript("ordering a coffee from the barista at a cafe")
	if err := p.HandleEvent(ctx, evt); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(sent) != 1 {
		t.Fatalf("sent = %v, want one closing message", sent)
	}
	want := "Great. You're at a cafe talking to the barista because you want to order a coffee. Let's start."
	if sent[0] != want {
		t.Errorf("closing message = %q, want %q", sent[0], want)
	}
	if completions != 1 {
		t.Errorf("onComplete called %d times, want 1", completions)
	}

	// Further user speech after completion is ignored.
	if err := p.HandleEvent(ctx, userTranscript("actually never mind")); err != nil {
		t.Fatalf("post-completion HandleEvent: %v", err)
	}
	if len(sent) != 1 || completions != 1 {
		t.Errorf("pipeline reacted after completion: sent=%v completions=%d", sent, completions)
	}
}

func TestPipeline_FallbackAfterBudgetSpent(t *testing.T) {
	b := NewBuilder(
		func(_ context.Context, _ string) (Fields, error) { return Fields{}, nil },
		WithMaxAttempts(1),
		WithFallbackGenerator(func(_ context.Context, _ *State, _ []string) (string, error) {
			return `{"place":"a cafe","partner":"a friend","goal":"catch up"}`, nil
		}))
	var sent []string
	completions := 0
	p := NewPipeline(b,
		func(_ context.Context, text string) error {
			sent = append(sent, text)
			return nil
		},
		func(_ context.Context, _ *Builder) error {
			completions++
			return nil
		})
	ctx := context.Background()

	// First utterance extracts nothing, so the single budgeted question goes out.
	if err := p.HandleEvent(ctx, userTranscript("hello there")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(sent) != 1 || sent[0] != "Where are you having this conversation?" {
		t.Fatalf("sent = %v, want the place question", sent)
	}

	// Second utterance finds the budget spent and takes the fallback path.
	if err := p.HandleEvent(ctx, userTranscript("um, not sure")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("sent = %v, want question then closing message", sent)
	}
	if completions != 1 {
		t.Errorf("onComplete called %d times, want 1", completions)
	}
	s := b.State()
	if !s.Completed || s.Place != "a cafe" {
		t.Errorf("state = %+v, want completed with inferred fields", s)
	}
}

func TestPipeline_UserConversationItemCountsAsInput(t *testing.T) {
	b := NewBuilder(staticExtract(map[string]Fields{
		"I'm at the airport": {Place: "the airport"},
	}))
	p := NewPipeline(b, func(_ context.Context, _ string) error { return nil }, nil)

	evt := &realtime.ServerEvent{
		Type: realtime.TypeConversationItemDone,
		Item: &realtime.ConversationItem{
			Role:    "user",
			Content: []realtime.ContentPart{{Type: "input_audio", Transcript: "I'm at the airport"}},
		},
	}
	if err := p.HandleEvent(context.Background(), evt); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := b.State().Place; got != "the airport" {
		t.Errorf("place = %q, want the airport", got)
	}
}
