package scenario

import (
	"encoding/base64"

	"github.com/parrotalk/parrotalk/pkg/realtime"
)

// AudioRelay forwards model audio and transcript events to caller-supplied
// sinks. The base64 sink receives payloads untouched for passthrough to a
// client connection; the byte sink receives decoded PCM16. Chunks that fail
// base64 decoding are dropped silently rather than terminating the stream.
type AudioRelay struct {
	onChunkB64   func(chunkB64 string) error
	onChunk      func(chunk []byte) error
	onTranscript func(text string, final bool) error
}

// RelayOption configures an [AudioRelay].
type RelayOption func(*AudioRelay)

// WithChunkBase64Sink registers a sink for base64 audio payloads.
func WithChunkBase64Sink(fn func(chunkB64 string) error) RelayOption {
	return func(r *AudioRelay) { r.onChunkB64 = fn }
}

// WithChunkSink registers a sink for decoded PCM16 audio bytes.
func WithChunkSink(fn func(chunk []byte) error) RelayOption {
	return func(r *AudioRelay) { r.onChunk = fn }
}

// WithTranscriptSink registers a sink for model transcript text. final is
// true for the terminal transcript of a response.
func WithTranscriptSink(fn func(text string, final bool) error) RelayOption {
	return func(r *AudioRelay) { r.onTranscript = fn }
}

// NewAudioRelay creates a relay with the given sinks. A relay with no sinks
// is valid and ignores everything.
func NewAudioRelay(opts ...RelayOption) *AudioRelay {
	r := &AudioRelay{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler adapts the relay to the realtime client's handler signature.
func (r *AudioRelay) Handler() realtime.Handler {
	return r.HandleEvent
}

// HandleEvent forwards one server event to the matching sink. Unrelated event
// types are ignored.
func (r *AudioRelay) HandleEvent(evt *realtime.ServerEvent) error {
	switch evt.Type {
	case realtime.TypeAudioDelta:
		return r.handleAudioDelta(evt)
	case realtime.TypeTranscriptDelta:
		return r.handleTranscript(evt, false)
	case realtime.TypeTranscriptDone:
		return r.handleTranscript(evt, true)
	}
	return nil
}

func (r *AudioRelay) handleAudioDelta(evt *realtime.ServerEvent) error {
	chunkB64 := evt.AudioPayload()
	if chunkB64 == "" {
		return nil
	}
	if r.onChunkB64 != nil {
		if err := r.onChunkB64(chunkB64); err != nil {
			return err
		}
	}
	if r.onChunk != nil {
		chunk, err := base64.StdEncoding.DecodeString(chunkB64)
		if err != nil {
			return nil
		}
		return r.onChunk(chunk)
	}
	return nil
}

func (r *AudioRelay) handleTranscript(evt *realtime.ServerEvent, final bool) error {
	text := evt.TranscriptPayload()
	if text == "" || r.onTranscript == nil {
		return nil
	}
	return r.onTranscript(text, final)
}
