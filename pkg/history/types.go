package history

import "time"

// StoredMessage is one persisted utterance of a session log.
type StoredMessage struct {
	// Role is "user" or "assistant".
	Role string

	// Content is the utterance text.
	Content string

	// Timestamp is when the utterance was finalized.
	Timestamp time.Time

	// DurationSec is the VAD-measured speech duration in seconds. Zero for
	// assistant messages.
	DurationSec float64
}

// SessionLog is the persisted record of one conversation session. Saving the
// same SessionID again accumulates durations and appends new messages; see
// [Store.SaveSessionLog].
type SessionLog struct {
	// SessionID is the caller-assigned session identifier.
	SessionID string

	// UserID is the owning user, 0 when the session ran unauthenticated.
	UserID int64

	// Title is the human-readable session title.
	Title string

	StartedAt time.Time
	EndedAt   time.Time

	// TotalDurationSec and UserSpeechDurationSec cover the whole session
	// across reconnects; each save adds this connection's share.
	TotalDurationSec      float64
	UserSpeechDurationSec float64

	// Scenario slots captured during slot-filling. Empty means not captured;
	// on update an empty field leaves the stored value untouched.
	ScenarioPlace   string
	ScenarioPartner string
	ScenarioGoal    string

	// ScenarioState is the serialized slot-filling state, for resuming an
	// incomplete scenario. Empty leaves the stored value untouched.
	ScenarioState string

	// ScenarioCompletedAt is when the scenario finished, nil if it did not.
	ScenarioCompletedAt *time.Time

	// Messages is the full conversation history. On update only the suffix
	// beyond the already-stored count is appended.
	Messages []StoredMessage
}

// User is a registered account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
