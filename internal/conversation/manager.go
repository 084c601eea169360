package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parrotalk/parrotalk/pkg/realtime"
)

// Dynamic pace guidance injected when the user's WPM leaves the normal band.
const (
	slowPaceInstruction = "The user speaks slowly. Please speak slowly and clearly, articulating every word."
	fastPaceInstruction = "The user is fluent. You should speak at a natural, faster pace like a native speaker."
)

// Updater is the subset of the realtime client the manager drives.
type Updater interface {
	UpdateSession(ctx context.Context, params realtime.SessionParams) error
	CreateItem(ctx context.Context, role, text string) error
}

var _ Updater = (*realtime.Client)(nil)

// SettingsUpdate is a partial session settings change requested by the
// client. Zero-value fields are left unchanged; Instructions is a pointer so
// an explicit empty string clears the user layer.
type SettingsUpdate struct {
	Voice              string
	Instructions       *string
	Modalities         []string
	TurnDetection      *realtime.TurnDetectionParams
	InputTranscription *realtime.TranscriptionParams
}

// Manager owns the model-side configuration of one realtime session: the
// session parameters sent via session.update and the layered system
// instructions. A voice change cannot be applied to a live session, so
// [Manager.UpdateSettings] reports when the caller must reconnect and replay
// history instead.
//
// Manager is not safe for concurrent use; the owning session serializes
// access.
type Manager struct {
	updater      Updater
	instructions *Instructions
	params       realtime.SessionParams
	log          *slog.Logger
}

// NewManager creates a Manager with instructionTemplate as the persona
// template (empty for the built-in default). updater may be nil at
// construction; call [Manager.Bind] before any session traffic.
func NewManager(updater Updater, instructionTemplate string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		updater:      updater,
		instructions: NewInstructions(instructionTemplate),
		log:          log,
	}
	m.params = realtime.SessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             "alloy",
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &realtime.TurnDetectionParams{Type: "server_vad", Threshold: 0.5},
		InputTranscription: &realtime.TranscriptionParams{Model: "whisper-1"},
	}
	return m
}

// Bind points the manager at a new upstream connection. Voice changes tear
// down the realtime connection, so the replacement client is bound here
// before the session is re-initialized.
func (m *Manager) Bind(updater Updater) {
	m.updater = updater
}

// InitializeSession injects the session context into the persona, applies any
// overrides, and sends the full configuration upstream. Call it after every
// (re)connect.
func (m *Manager) InitializeSession(ctx context.Context, sessionCtx *Context, overrides *SettingsUpdate) error {
	if sessionCtx != nil {
		m.instructions.InjectContext(*sessionCtx)
	}
	if overrides != nil {
		m.applyUpdate(*overrides)
	}
	m.params.Instructions = m.instructions.Assemble()

	if err := m.updater.UpdateSession(ctx, m.params); err != nil {
		return fmt.Errorf("conversation: initialize session: %w", err)
	}
	m.log.Info("session initialized", "voice", m.params.Voice)
	return nil
}

// InjectHistory replays prior messages into the model conversation. Only user
// and assistant roles are replayed; system content lives in the instructions.
func (m *Manager) InjectHistory(ctx context.Context, messages []Message) error {
	for _, msg := range messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if err := m.updater.CreateItem(ctx, msg.Role, msg.Content); err != nil {
			return fmt.Errorf("conversation: inject history: %w", err)
		}
	}
	m.log.Info("history injected", "messages", len(messages))
	return nil
}

// UpdateSettings applies a partial settings change. It returns true when the
// change needs a fresh connection (voice changes mid-session are rejected
// upstream); in that case nothing is sent and the caller reconnects with
// [Manager.InitializeSession]. Otherwise the delta is sent immediately.
func (m *Manager) UpdateSettings(ctx context.Context, update SettingsUpdate) (bool, error) {
	reconnect := update.Voice != "" && update.Voice != m.params.Voice

	delta := m.applyUpdate(update)

	if reconnect {
		m.log.Info("voice changed, reconnect required", "voice", update.Voice)
		return true, nil
	}

	if err := m.updater.UpdateSession(ctx, delta); err != nil {
		return false, fmt.Errorf("conversation: update settings: %w", err)
	}
	return false, nil
}

// UpdateSpeakingStyle adjusts the dynamic instruction layer to the user's
// pace. No-op when the guidance is already current.
func (m *Manager) UpdateSpeakingStyle(ctx context.Context, pace Pace) error {
	var guidance string
	switch pace {
	case PaceSlow:
		guidance = slowPaceInstruction
	case PaceFast:
		guidance = fastPaceInstruction
	}

	if !m.instructions.SetDynamicLayer(guidance) {
		return nil
	}

	assembled := m.instructions.Assemble()
	m.params.Instructions = assembled
	m.log.Info("speaking style updated", "pace", pace)

	if err := m.updater.UpdateSession(ctx, realtime.SessionParams{Instructions: assembled}); err != nil {
		return fmt.Errorf("conversation: update speaking style: %w", err)
	}
	return nil
}

// Params returns the full current session parameters, used to re-initialize
// after a reconnect.
func (m *Manager) Params() realtime.SessionParams {
	return m.params
}

// applyUpdate folds update into the stored parameters and returns the delta
// actually changed, with instructions reassembled when the user layer moved.
func (m *Manager) applyUpdate(update SettingsUpdate) realtime.SessionParams {
	var delta realtime.SessionParams

	if update.Voice != "" {
		m.params.Voice = update.Voice
		delta.Voice = update.Voice
	}
	if update.Instructions != nil {
		m.instructions.SetUserLayer(*update.Instructions)
		assembled := m.instructions.Assemble()
		m.params.Instructions = assembled
		delta.Instructions = assembled
	}
	if len(update.Modalities) > 0 {
		m.params.Modalities = update.Modalities
		delta.Modalities = update.Modalities
	}
	if update.TurnDetection != nil {
		m.params.TurnDetection = update.TurnDetection
		delta.TurnDetection = update.TurnDetection
	}
	if update.InputTranscription != nil {
		m.params.InputTranscription = update.InputTranscription
		delta.InputTranscription = update.InputTranscription
	}
	return delta
}
