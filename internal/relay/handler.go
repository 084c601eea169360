// Package relay bridges one browser WebSocket connection to one upstream
// realtime session. It forwards microphone audio upstream, streams model
// audio and transcripts back, tracks the conversation for the session report,
// and drives scenario slot-filling when the session starts in scenario mode.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/parrotalk/parrotalk/internal/conversation"
	"github.com/parrotalk/parrotalk/internal/observe"
	"github.com/parrotalk/parrotalk/internal/scenario"
	"github.com/parrotalk/parrotalk/pkg/realtime"
)

// connectTimeout bounds how long session start waits for the upstream
// connection before giving up.
const connectTimeout = 10 * time.Second

// apologyMessage is sent to the client when the upstream connection is lost
// past its retry budget.
const apologyMessage = "Sorry, I'm having trouble on my end. Please try again in a moment."

// UpstreamFactory creates a fresh, unstarted realtime client. The handler
// calls it once at session start and again after every voice change; minting
// a new ephemeral credential per call belongs inside the factory.
type UpstreamFactory func(ctx context.Context) (*realtime.Client, error)

// Config assembles a [Handler].
type Config struct {
	// ClientConn is the accepted browser WebSocket connection.
	ClientConn *websocket.Conn

	// Upstream creates upstream realtime clients.
	Upstream UpstreamFactory

	// Manager owns session settings and instructions. Required.
	Manager *conversation.Manager

	// Tracker records the conversation. Required.
	Tracker *conversation.Tracker

	// Pipeline, if non-nil, runs scenario slot-filling over the upstream
	// event stream.
	Pipeline *scenario.Pipeline

	// SessionContext is substituted into the instruction template on every
	// (re)initialization. May be nil.
	SessionContext *conversation.Context

	// Overrides are initial settings applied on the first connect only, e.g.
	// the configured default voice. May be nil.
	Overrides *conversation.SettingsUpdate

	// History is the persisted conversation replayed into the model at
	// connect time, before anything said in this session.
	History []conversation.Message

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Handler relays between one client connection and the upstream realtime
// session for the lifetime of that client.
type Handler struct {
	client    *websocket.Conn
	factory   UpstreamFactory
	manager   *conversation.Manager
	tracker   *conversation.Tracker
	pipeline  *scenario.Pipeline
	sessCtx   *conversation.Context
	overrides *conversation.SettingsUpdate
	history   []conversation.Message
	log       *slog.Logger
	metrics   *observe.Metrics

	writeMu sync.Mutex

	mu           sync.Mutex
	upstream     *realtime.Client
	upstreamDone chan struct{}
}

// NewHandler creates a Handler from cfg.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.ClientConn == nil {
		return nil, errors.New("relay: client connection is required")
	}
	if cfg.Upstream == nil {
		return nil, errors.New("relay: upstream factory is required")
	}
	if cfg.Manager == nil || cfg.Tracker == nil {
		return nil, errors.New("relay: manager and tracker are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Handler{
		client:    cfg.ClientConn,
		factory:   cfg.Upstream,
		manager:   cfg.Manager,
		tracker:   cfg.Tracker,
		pipeline:  cfg.Pipeline,
		sessCtx:   cfg.SessionContext,
		overrides: cfg.Overrides,
		history:   cfg.History,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Run connects upstream and relays until the client disconnects or ctx is
// cancelled. It always returns the session report; persistence is the
// caller's job. A best-effort copy of the report is sent to the client before
// the connection winds down.
func (h *Handler) Run(ctx context.Context) (conversation.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.metrics.ActiveSessions.Add(ctx, 1)
	defer h.metrics.ActiveSessions.Add(ctx, -1)

	runErr := h.connectUpstream(ctx, cancel)
	if runErr == nil {
		runErr = h.receiveFromClient(ctx, cancel)
	}

	report := h.tracker.Finalize()
	h.metrics.SessionDuration.Record(ctx, report.TotalDurationSec)

	// The client may already be gone; the report send is best effort. Use a
	// fresh context since ctx is cancelled on the way out.
	if err := h.sendClient(context.WithoutCancel(ctx), serverMessage{
		Type:   ServerTypeSessionReport,
		Report: &report,
	}); err != nil {
		h.log.Debug("session report not delivered", "error", err)
	}

	h.mu.Lock()
	upstream := h.upstream
	h.mu.Unlock()
	if upstream != nil {
		upstream.Close()
	}

	return report, runErr
}

// connectUpstream creates a new upstream client, wires the event handlers,
// and starts its run loop. Any previous client is closed first; the model
// conversation is rebuilt from persisted history plus everything tracked so
// far, so a reconnect is invisible to the user apart from the new voice.
func (h *Handler) connectUpstream(ctx context.Context, cancel context.CancelFunc) error {
	h.mu.Lock()
	prev, prevDone := h.upstream, h.upstreamDone
	h.mu.Unlock()
	if prev != nil {
		prev.Close()
		// The old run goroutine may still be mid-dispatch; the pipeline and
		// builder are single-goroutine, so the new client must not start
		// delivering events until the old loop has fully exited.
		<-prevDone
	}

	client, err := h.factory(ctx)
	if err != nil {
		return fmt.Errorf("relay: create upstream client: %w", err)
	}

	// Initial overrides apply to the first connection only; a voice-change
	// reconnect must keep the voice the manager already holds.
	overrides := h.overrides
	h.overrides = nil

	client.SetOnConnect(func(ctx context.Context) error {
		h.manager.Bind(client)
		if err := h.manager.InitializeSession(ctx, h.sessCtx, overrides); err != nil {
			return err
		}
		full := append(append([]conversation.Message{}, h.history...), h.tracker.Messages()...)
		if len(full) == 0 {
			return nil
		}
		return h.manager.InjectHistory(ctx, full)
	})

	audioRelay := scenario.NewAudioRelay(
		scenario.WithChunkBase64Sink(func(chunkB64 string) error {
			h.metrics.RecordAudioChunk(ctx, "outbound")
			return h.sendClient(ctx, serverMessage{Type: ServerTypeAudioDelta, Delta: chunkB64})
		}),
		scenario.WithTranscriptSink(func(text string, final bool) error {
			if !final {
				return h.sendClient(ctx, serverMessage{Type: ServerTypeTranscriptDelta, Transcript: text})
			}
			h.metrics.RecordTranscript(ctx, "assistant")
			h.tracker.AddTranscript("assistant", text)
			return h.sendClient(ctx, serverMessage{Type: ServerTypeTranscriptDone, Transcript: text})
		}),
	)
	client.OnEvent(audioRelay.Handler())
	client.OnEvent(h.trackingHandler(ctx))
	if h.pipeline != nil {
		client.OnEvent(h.pipeline.Handler(ctx))
	}

	done := make(chan struct{})
	h.mu.Lock()
	h.upstream = client
	h.upstreamDone = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		if err := client.Run(ctx); err != nil {
			h.log.Error("upstream connection lost", "error", err)
			if err := h.sendClient(ctx, serverMessage{
				Type:  ServerTypeError,
				Error: apologyMessage,
			}); err != nil {
				h.log.Debug("apology not delivered", "error", err)
			}
			// Without an upstream there is nothing to relay; end the session
			// so the client gets its report instead of a dead line.
			cancel()
		}
	}()

	if !client.WaitUntilConnected(connectTimeout) {
		client.Close()
		return errors.New("relay: upstream connection timed out")
	}
	return h.sendClient(ctx, serverMessage{Type: ServerTypeReady})
}

// SpeakText asks the model to voice text as its next response. The scenario
// pipeline delivers follow-up questions and closing messages through here;
// the spoken result comes back as a normal transcript, so tracking and the
// client UI need no special casing.
func (h *Handler) SpeakText(ctx context.Context, text string) error {
	h.mu.Lock()
	upstream := h.upstream
	h.mu.Unlock()
	if upstream == nil {
		return errors.New("relay: no upstream connection")
	}
	return upstream.RespondWithInstructions(ctx, text)
}

// NotifyScenarioComplete tells the client that slot-filling has finished and
// free conversation begins.
func (h *Handler) NotifyScenarioComplete(ctx context.Context) error {
	return h.sendClient(ctx, serverMessage{Type: ServerTypeScenarioCompleted})
}

// trackingHandler reacts to the upstream events that feed the tracker and the
// client-side UI state: VAD boundaries, user transcripts, errors.
func (h *Handler) trackingHandler(ctx context.Context) realtime.Handler {
	return func(evt *realtime.ServerEvent) error {
		switch evt.Type {
		case realtime.TypeSpeechStarted:
			h.tracker.StartUserSpeech()
			return h.sendClient(ctx, serverMessage{Type: ServerTypeSpeechStarted})

		case realtime.TypeSpeechStopped:
			h.tracker.StopUserSpeech()

		case realtime.TypeAudioDone:
			return h.sendClient(ctx, serverMessage{Type: ServerTypeAudioDone})

		case realtime.TypeInputTranscriptDone:
			transcript := evt.Transcript
			if transcript == "" {
				return nil
			}
			h.metrics.RecordTranscript(ctx, "user")
			pace := h.tracker.AddTranscript("user", transcript)
			if err := h.manager.UpdateSpeakingStyle(ctx, pace); err != nil {
				h.log.Warn("speaking style update failed", "error", err)
			}
			return h.sendClient(ctx, serverMessage{Type: ServerTypeUserTranscript, Transcript: transcript})

		case realtime.TypeSessionUpdated:
			h.log.Debug("upstream session updated")

		case realtime.TypeRateLimitsUpdated:
			h.log.Debug("upstream rate limits updated")

		case realtime.TypeError:
			if evt.Error != nil {
				h.log.Error("upstream error event",
					"code", evt.Error.Code, "message", evt.Error.Message)
				return h.sendClient(ctx, serverMessage{Type: ServerTypeError, Error: evt.Error.Message})
			}
		}
		return nil
	}
}

// receiveFromClient is the client-to-upstream message loop. It returns nil on
// a clean disconnect and the read error otherwise.
func (h *Handler) receiveFromClient(ctx context.Context, cancel context.CancelFunc) error {
	for {
		_, data, err := h.client.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("relay: client read: %w", err)
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Warn("undecodable client message dropped", "error", err)
			continue
		}

		if err := h.handleClientMessage(ctx, cancel, &msg); err != nil {
			if errors.Is(err, errClientDisconnect) {
				return nil
			}
			h.log.Warn("client message failed", "type", msg.Type, "error", err)
		}
	}
}

// errClientDisconnect signals an orderly client-requested shutdown.
var errClientDisconnect = errors.New("client disconnect")

func (h *Handler) handleClientMessage(ctx context.Context, cancel context.CancelFunc, msg *clientMessage) error {
	h.mu.Lock()
	upstream := h.upstream
	h.mu.Unlock()

	switch msg.Type {
	case ClientTypeAudioAppend:
		h.metrics.RecordAudioChunk(ctx, "inbound")
		return upstream.AppendAudio(ctx, msg.Audio)

	case ClientTypeAudioCommit:
		return upstream.CommitAudio(ctx)

	case ClientTypeResponseCreate:
		return upstream.CreateResponse(ctx)

	case ClientTypeSessionUpdate:
		if msg.Config == nil {
			return nil
		}
		reconnect, err := h.manager.UpdateSettings(ctx, msg.Config.toSettingsUpdate())
		if err != nil {
			return err
		}
		if reconnect {
			h.metrics.RecordUpstreamReconnect(ctx, "voice_change")
			if err := h.connectUpstream(ctx, cancel); err != nil {
				// A failed reconnect leaves no usable upstream; tell the
				// client and end the session so the report still goes out.
				if sendErr := h.sendClient(ctx, serverMessage{
					Type:  ServerTypeError,
					Error: apologyMessage,
				}); sendErr != nil {
					h.log.Debug("apology not delivered", "error", sendErr)
				}
				cancel()
				return err
			}
			return nil
		}
		return nil

	case ClientTypeDisconnect:
		return errClientDisconnect

	default:
		h.log.Debug("unknown client message type", "type", msg.Type)
		return nil
	}
}

// sendClient writes one JSON message to the browser connection. Writes are
// serialized; the upstream read loop and the client loop both send.
func (h *Handler) sendClient(ctx context.Context, msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("relay: marshal client message: %w", err)
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.client.Write(ctx, websocket.MessageText, data)
}
