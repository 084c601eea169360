package realtime

import "strings"

// Client event types sent to the realtime endpoint.
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioAppend       = "input_audio_buffer.append"
	TypeInputAudioCommit       = "input_audio_buffer.commit"
	TypeInputAudioClear        = "input_audio_buffer.clear"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
)

// Server event types received from the realtime endpoint. Only the ones the
// relay reacts to are named; everything else passes through the handler chain
// untyped.
const (
	TypeAudioDelta           = "response.audio.delta"
	TypeAudioDone            = "response.audio.done"
	TypeTranscriptDelta      = "response.audio_transcript.delta"
	TypeTranscriptDone       = "response.audio_transcript.done"
	TypeSpeechStarted        = "input_audio_buffer.speech_started"
	TypeSpeechStopped        = "input_audio_buffer.speech_stopped"
	TypeInputTranscriptDone  = "conversation.item.input_audio_transcription.completed"
	TypeConversationItemDone = "conversation.item.created"
	TypeSessionCreated       = "session.created"
	TypeSessionUpdated       = "session.updated"
	TypeRateLimitsUpdated    = "rate_limits.updated"
	TypeError                = "error"
)

// SessionParams configures the model side of a realtime session via
// session.update. Zero-value fields are omitted from the wire message so a
// partial update never clobbers server defaults.
type SessionParams struct {
	Modalities        []string             `json:"modalities,omitempty"`
	Voice             string               `json:"voice,omitempty"`
	Instructions      string               `json:"instructions,omitempty"`
	InputAudioFormat  string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat string               `json:"output_audio_format,omitempty"`
	InputTranscription *TranscriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection     *TurnDetectionParams `json:"turn_detection,omitempty"`
	Temperature       float64              `json:"temperature,omitempty"`
}

// TranscriptionParams selects the model used to transcribe user audio.
type TranscriptionParams struct {
	Model string `json:"model"`
}

// TurnDetectionParams configures server-side voice activity detection.
type TurnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// sessionUpdateMessage is the outgoing session.update envelope.
type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

// appendAudioMessage carries one base64-encoded PCM16 chunk upstream.
type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// createConversationItemMessage injects a text item into the conversation.
type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ResponseParams steers a single response.create request. Instructions here
// apply to that one response only; the session instructions are untouched.
type ResponseParams struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Voice        string   `json:"voice,omitempty"`
}

// responseCreateMessage is the outgoing response.create envelope.
type responseCreateMessage struct {
	Type     string          `json:"type"`
	Response *ResponseParams `json:"response,omitempty"`
}

// ConversationItem is a message item in the model's conversation history.
type ConversationItem struct {
	Type    string        `json:"type,omitempty"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

// ContentPart is one content fragment of a conversation item. User audio
// items carry their transcript in Transcript; text items use Text.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ErrorDetail is the nested error object of an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServerEvent is the decoded form of one incoming realtime event. It is a
// union over the event types the relay cares about; fields irrelevant to a
// given Type are zero.
type ServerEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta. Some event
	// revisions carry audio under "audio" instead of "delta".
	Delta string `json:"delta,omitempty"`
	Audio string `json:"audio,omitempty"`

	// conversation.item.input_audio_transcription.completed /
	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// response.audio_transcript.delta on older event revisions
	TranscriptDelta string `json:"transcript_delta,omitempty"`

	// conversation.item.created
	Item *ConversationItem `json:"item,omitempty"`

	// error event
	Error *ErrorDetail `json:"error,omitempty"`
}

// AudioPayload returns the base64 audio of a delta event, preferring the
// "delta" key and falling back to "audio".
func (e *ServerEvent) AudioPayload() string {
	if e.Delta != "" {
		return e.Delta
	}
	return e.Audio
}

// TranscriptPayload returns the transcript text of a model transcript event,
// whichever key the event revision used.
func (e *ServerEvent) TranscriptPayload() string {
	if e.TranscriptDelta != "" {
		return e.TranscriptDelta
	}
	if e.Transcript != "" {
		return e.Transcript
	}
	return e.Delta
}

// UserText returns the user-spoken text carried by this event, or "" when the
// event carries none. Only input transcription completions and user-role
// conversation items qualify; response.* events never do, which keeps model
// speech from being ingested as user input.
func (e *ServerEvent) UserText() string {
	if strings.HasPrefix(e.Type, "response.") {
		return ""
	}

	switch e.Type {
	case TypeInputTranscriptDone, "input_audio_buffer.transcription.completed":
		return strings.TrimSpace(e.Transcript)
	}

	if strings.Contains(e.Type, "conversation.item") {
		if e.Item == nil || e.Item.Role != "user" {
			return ""
		}
		for _, part := range e.Item.Content {
			if t := strings.TrimSpace(part.Text); t != "" {
				return t
			}
			if t := strings.TrimSpace(part.Transcript); t != "" {
				return t
			}
		}
	}
	return ""
}
