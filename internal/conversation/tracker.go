// Package conversation tracks a live tutoring session: what was said, how
// long the user spoke, and how fast, and assembles the layered system
// instructions that steer the model's persona and speaking style.
package conversation

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pace classifies the user's recent speaking speed.
type Pace string

const (
	PaceNormal Pace = "normal"
	PaceSlow   Pace = "slow"
	PaceFast   Pace = "fast"
)

// WPM thresholds and qualification rules for pace classification. Utterances
// shorter than minSpeechDuration or minWordCount carry too little signal and
// are skipped.
const (
	slowWPMThreshold  = 90.0
	fastWPMThreshold  = 140.0
	minSpeechDuration = 500 * time.Millisecond
	minWordCount      = 5
	wpmWindowSize     = 5
)

// Message is one finalized utterance in the conversation log.
type Message struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	DurationSec float64   `json:"duration_sec"`
}

// Report is the session summary produced by [Tracker.Finalize].
type Report struct {
	SessionID             string    `json:"session_id"`
	Title                 string    `json:"title"`
	StartedAt             time.Time `json:"started_at"`
	EndedAt               time.Time `json:"ended_at"`
	TotalDurationSec      float64   `json:"total_duration_sec"`
	UserSpeechDurationSec float64   `json:"user_speech_duration_sec"`
	Messages              []Message `json:"messages"`
}

// Tracker accumulates conversation flow for one session: VAD-timed user
// speech, the transcript log, and a sliding window of words-per-minute
// samples used to classify the user's pace. Safe for concurrent use.
type Tracker struct {
	sessionID string
	title     string
	log       *slog.Logger
	now       func() time.Time

	mu              sync.Mutex
	startedAt       time.Time
	userSpeechTotal time.Duration
	speechStart     time.Time
	speechActive    bool
	lastDuration    time.Duration
	messages        []Message
	wpmHistory      []float64
}

// TrackerOption configures a [Tracker].
type TrackerOption func(*Tracker)

// WithSessionID sets the session identifier. Defaults to a random UUID.
func WithSessionID(id string) TrackerOption {
	return func(t *Tracker) { t.sessionID = id }
}

// WithTitle sets the session title. Defaults to "New Conversation".
func WithTitle(title string) TrackerOption {
	return func(t *Tracker) { t.title = title }
}

// WithTrackerLogger sets the tracker's logger.
func WithTrackerLogger(log *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.log = log }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker; the session clock starts immediately.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		title: "New Conversation",
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	if t.sessionID == "" {
		t.sessionID = uuid.NewString()
	}
	t.startedAt = t.now()
	return t
}

// SessionID returns the tracker's session identifier.
func (t *Tracker) SessionID() string { return t.sessionID }

// StartUserSpeech marks the beginning of a user utterance (VAD speech_started).
func (t *Tracker) StartUserSpeech() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speechStart = t.now()
	t.speechActive = true
}

// StopUserSpeech marks the end of a user utterance (VAD speech_stopped) and
// accumulates its duration. A stop without a matching start is ignored.
func (t *Tracker) StopUserSpeech() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopUserSpeechLocked()
}

func (t *Tracker) stopUserSpeechLocked() {
	if !t.speechActive {
		return
	}
	duration := t.now().Sub(t.speechStart)
	t.userSpeechTotal += duration
	t.lastDuration = duration
	t.speechActive = false
}

// AddTranscript appends a finalized utterance to the log and returns the
// user's current pace. User utterances consume the most recent VAD-measured
// duration; only utterances longer than half a second with at least five
// words enter the WPM window. Blank content is dropped.
func (t *Tracker) AddTranscript(role, content string) Pace {
	if strings.TrimSpace(content) == "" {
		return PaceNormal
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var duration time.Duration
	if role == "user" {
		duration = t.lastDuration
		t.lastDuration = 0

		words := len(strings.Fields(content))
		if duration > minSpeechDuration && words >= minWordCount {
			wpm := float64(words) / duration.Seconds() * 60
			t.wpmHistory = append(t.wpmHistory, wpm)
			if len(t.wpmHistory) > wpmWindowSize {
				t.wpmHistory = t.wpmHistory[1:]
			}
			t.log.Debug("wpm sample", "wpm", wpm, "words", words, "duration", duration)
		}
	}

	t.messages = append(t.messages, Message{
		Role:        role,
		Content:     content,
		Timestamp:   t.now(),
		DurationSec: roundSeconds(duration),
	})

	return t.paceLocked()
}

// Pace returns the current pace classification without logging anything.
func (t *Tracker) Pace() Pace {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paceLocked()
}

func (t *Tracker) paceLocked() Pace {
	// A partial window carries too little signal; stay normal until five
	// qualifying samples have been recorded.
	if len(t.wpmHistory) < wpmWindowSize {
		return PaceNormal
	}
	var sum float64
	for _, w := range t.wpmHistory {
		sum += w
	}
	avg := sum / float64(len(t.wpmHistory))
	switch {
	case avg < slowWPMThreshold:
		return PaceSlow
	case avg > fastWPMThreshold:
		return PaceFast
	default:
		return PaceNormal
	}
}

// Messages returns a copy of the conversation log so far.
func (t *Tracker) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Finalize closes any open utterance and returns the session report.
func (t *Tracker) Finalize() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopUserSpeechLocked()
	endedAt := t.now()

	messages := make([]Message, len(t.messages))
	copy(messages, t.messages)

	return Report{
		SessionID:             t.sessionID,
		Title:                 t.title,
		StartedAt:             t.startedAt,
		EndedAt:               endedAt,
		TotalDurationSec:      roundSeconds(endedAt.Sub(t.startedAt)),
		UserSpeechDurationSec: roundSeconds(t.userSpeechTotal),
		Messages:              messages,
	}
}

// roundSeconds converts d to seconds rounded to two decimal places.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
