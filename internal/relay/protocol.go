package relay

import "github.com/parrotalk/parrotalk/internal/conversation"

// Client-to-server message types. Audio append/commit and response.create use
// the upstream protocol's names so browser clients built against the realtime
// event reference work unchanged.
const (
	ClientTypeAudioAppend    = "input_audio_buffer.append"
	ClientTypeAudioCommit    = "input_audio_buffer.commit"
	ClientTypeResponseCreate = "response.create"
	ClientTypeSessionUpdate  = "session.update"
	ClientTypeDisconnect     = "disconnect"
)

// Server-to-client message types.
const (
	ServerTypeReady             = "ready"
	ServerTypeAudioDelta        = "audio.delta"
	ServerTypeAudioDone         = "audio.done"
	ServerTypeTranscriptDelta   = "transcript.delta"
	ServerTypeTranscriptDone    = "transcript.done"
	ServerTypeUserTranscript    = "user.transcript"
	ServerTypeSpeechStarted     = "speech.started"
	ServerTypeScenarioCompleted = "scenario.completed"
	ServerTypeSessionReport     = "session.report"
	ServerTypeError             = "error"
)

// clientMessage is one decoded message from the browser client.
type clientMessage struct {
	Type   string        `json:"type"`
	Audio  string        `json:"audio,omitempty"`
	Config *clientConfig `json:"config,omitempty"`
}

// clientConfig carries a partial settings change in a session.update message.
type clientConfig struct {
	Voice        string  `json:"voice,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
}

// serverMessage is one message sent to the browser client.
type serverMessage struct {
	Type       string               `json:"type"`
	Delta      string               `json:"delta,omitempty"`
	Transcript string               `json:"transcript,omitempty"`
	Error      string               `json:"error,omitempty"`
	Report     *conversation.Report `json:"report,omitempty"`
}

func (c *clientConfig) toSettingsUpdate() conversation.SettingsUpdate {
	return conversation.SettingsUpdate{
		Voice:        c.Voice,
		Instructions: c.Instructions,
	}
}
