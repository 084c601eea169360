package conversation

import (
	"context"
	"strings"
	"testing"

	"github.com/parrotalk/parrotalk/pkg/realtime"
)

// recordingUpdater captures every session.update and item create.
type recordingUpdater struct {
	updates []realtime.SessionParams
	items   []struct{ role, text string }
}

func (u *recordingUpdater) UpdateSession(_ context.Context, params realtime.SessionParams) error {
	u.updates = append(u.updates, params)
	return nil
}

func (u *recordingUpdater) CreateItem(_ context.Context, role, text string) error {
	u.items = append(u.items, struct{ role, text string }{role, text})
	return nil
}

func TestManager_InitializeSession(t *testing.T) {
	up := &recordingUpdater{}
	m := NewManager(up, "Place: {{KEY_INFO_1}}", nil)

	err := m.InitializeSession(context.Background(),
		&Context{Place: "a cafe"},
		&SettingsUpdate{Voice: "verse"})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}

	if len(up.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(up.updates))
	}
	sent := up.updates[0]
	if sent.Voice != "verse" {
		t.Errorf("voice = %q, want override applied", sent.Voice)
	}
	if sent.Instructions != "Place: a cafe" {
		t.Errorf("instructions = %q, want injected context", sent.Instructions)
	}
	if sent.InputAudioFormat != "pcm16" || sent.OutputAudioFormat != "pcm16" {
		t.Errorf("audio formats = %q/%q, want pcm16", sent.InputAudioFormat, sent.OutputAudioFormat)
	}
	if sent.TurnDetection == nil || sent.TurnDetection.Type != "server_vad" {
		t.Errorf("turn detection = %+v, want server_vad", sent.TurnDetection)
	}
}

func TestManager_VoiceChangeRequiresReconnect(t *testing.T) {
	up := &recordingUpdater{}
	m := NewManager(up, "", nil)

	reconnect, err := m.UpdateSettings(context.Background(), SettingsUpdate{Voice: "verse"})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if !reconnect {
		t.Fatal("voice change must require a reconnect")
	}
	if len(up.updates) != 0 {
		t.Errorf("updates = %d, want none sent before the reconnect", len(up.updates))
	}
	// The new voice is retained for the re-initialized session.
	if got := m.Params().Voice; got != "verse" {
		t.Errorf("voice = %q, want verse", got)
	}
}

func TestManager_SameVoiceIsNotAReconnect(t *testing.T) {
	up := &recordingUpdater{}
	m := NewManager(up, "", nil)

	reconnect, err := m.UpdateSettings(context.Background(), SettingsUpdate{Voice: "alloy"})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if reconnect {
		t.Fatal("unchanged voice must not require a reconnect")
	}
	if len(up.updates) != 1 {
		t.Errorf("updates = %d, want the delta sent", len(up.updates))
	}
}

func TestManager_InstructionUpdateSendsDelta(t *testing.T) {
	up := &recordingUpdater{}
	m := NewManager(up, "Base persona.", nil)

	extra := "Use simple vocabulary."
	reconnect, err := m.UpdateSettings(context.Background(), SettingsUpdate{Instructions: &extra})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if reconnect {
		t.Fatal("instruction change must not require a reconnect")
	}
	if len(up.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(up.updates))
	}
	sent := up.updates[0]
	if !strings.Contains(sent.Instructions, "Use simple vocabulary.") {
		t.Errorf("instructions = %q, want the user layer included", sent.Instructions)
	}
	if sent.Voice != "" {
		t.Errorf("delta voice = %q, want unset fields omitted", sent.Voice)
	}
}

func TestManager_UpdateSpeakingStyle(t *testing.T) {
	up := &recordingUpdater{}
	m := NewManager(up, "Base persona.", nil)
	ctx := context.Background()

	if err := m.UpdateSpeakingStyle(ctx, PaceSlow); err != nil {
		t.Fatalf("UpdateSpeakingStyle: %v", err)
	}
	if len(up.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(up.updates))
	}
	if !strings.Contains(up.updates[0].Instructions, "speak slowly") {
		t.Errorf("instructions = %q, want slow pace guidance", up.updates[0].Instructions)
	}

	// Same pace again is a no-op.
	if err := m.UpdateSpeakingStyle(ctx, PaceSlow); err != nil {
		t.Fatalf("UpdateSpeakingStyle: %v", err)
	}
	if len(up.updates) != 1 {
		t.Errorf("updates = %d, want no-op for unchanged guidance", len(up.updates))
	}

	// Back to normal clears the dynamic layer.
	if err := m.UpdateSpeakingStyle(ctx, PaceNormal); err != nil {
		t.Fatalf("UpdateSpeakingStyle: %v", err)
	}
	if got := up.updates[len(up.updates)-1].Instructions; strings.Contains(got, "Dynamic Adjustment") {
		t.Errorf("instructions = %q, want dynamic layer removed", got)
	}
}

func TestManager_InjectHistorySkipsSystemRoles(t *testing.T) {
	up := &recordingUpdater{}
	m := NewManager(up, "", nil)

	err := m.InjectHistory(context.Background(), []Message{
		{Role: "user", Content: "hello"},
		{Role: "system", Content: "internal note"},
		{Role: "assistant", Content: "hi there"},
	})
	if err != nil {
		t.Fatalf("InjectHistory: %v", err)
	}
	if len(up.items) != 2 {
		t.Fatalf("items = %d, want system role skipped", len(up.items))
	}
	if up.items[0].role != "user" || up.items[1].role != "assistant" {
		t.Errorf("items = %v, want user then assistant", up.items)
	}
}

func TestManager_BindReplacesUpdater(t *testing.T) {
	first := &recordingUpdater{}
	second := &recordingUpdater{}
	m := NewManager(first, "", nil)
	m.Bind(second)

	if err := m.InitializeSession(context.Background(), nil, nil); err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	if len(first.updates) != 0 || len(second.updates) != 1 {
		t.Errorf("updates first=%d second=%d, want the bound updater used", len(first.updates), len(second.updates))
	}
}
