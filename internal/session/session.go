// Package session implements the per-connection state machine that relays
// client audio to the upstream transcription provider and provider events back
// to the client.
package session

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxgate/voxgate/internal/envelope"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/upstream"
)

const defaultLanguage = "en-US"

// Client error messages surfaced to the browser.
const (
	msgAPIKeyRequired   = "API Key required"
	msgInvalidAPIKey    = "Invalid API key. Please check your API key and try again."
	msgRateLimited      = "Rate limit exceeded. Please try again later."
	msgUpstreamTimeout  = "Connection timeout - no audio received"
	msgUpstreamRejected = "Could not start transcription session"
)

// Sender delivers one server envelope to the client transport.
type Sender interface {
	Send(v interface{}) error
}

// Options tunes per-session behavior. Zero values pick defaults.
type Options struct {
	Model             string
	KeepAliveInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.Model == "" {
		o.Model = "nova-2"
	}
	if o.KeepAliveInterval == 0 {
		o.KeepAliveInterval = 5 * time.Second
	}
}

// Session owns one client connection's relay lifecycle. All handlers are
// serialized behind mu: inbound client messages and upstream events mutate
// state one at a time.
type Session struct {
	ID string

	adapter upstream.Adapter
	sender  Sender
	opts    Options
	logger  *zap.Logger

	mu            sync.Mutex
	state         State
	handle        upstream.Handle
	keepaliveStop chan struct{}
	audioChunks   int
	warnedGap     bool
}

// New creates a session in StateIdle.
func New(id string, adapter upstream.Adapter, sender Sender, opts Options, logger *zap.Logger) *Session {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		ID:      id,
		adapter: adapter,
		sender:  sender,
		opts:    opts,
		logger:  logger.With(zap.String("session", id)),
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AudioChunks returns the number of audio chunks forwarded on the current
// upstream handle.
func (s *Session) AudioChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioChunks
}

// HandleMessage processes one raw client frame. Malformed frames produce an
// error envelope; the session stays usable.
func (s *Session) HandleMessage(data []byte) {
	msg, err := envelope.Decode(data)
	if err != nil {
		metrics.EnvelopeErrorsTotal.Inc()
		s.logger.Warn("rejected client frame", zap.Error(err))
		s.send(envelope.NewError(err.Error(), 0, ""))
		return
	}

	switch msg.Type {
	case envelope.TypeStart:
		s.handleStart(msg.Start)
	case envelope.TypeAudio:
		s.handleAudio(msg.Audio)
	case envelope.TypeStop:
		s.Stop()
	}
}

// handleStart opens a new upstream session. An existing upstream handle is
// torn down first; at most one is live at any time.
func (s *Session) handleStart(start *envelope.Start) {
	if start.APIKey == "" {
		s.send(envelope.NewError(msgAPIKeyRequired, 0, ""))
		return
	}

	s.mu.Lock()
	s.discardUpstreamLocked()

	language := start.Language
	if language == "" {
		language = defaultLanguage
	}
	cfg := upstream.Config{
		APIKey:          start.APIKey,
		Model:           s.opts.Model,
		Language:        language,
		InterimResults:  true,
		SmartFormat:     true,
		Punctuate:       true,
		EndpointingMs:   300,
		UtteranceEndMs:  1000,
		VADEvents:       true,
		FillerWords:     false,
		ProfanityFilter: false,
		Utterances:      true,
	}

	handle, err := s.adapter.Open(context.Background(), cfg)
	if err != nil {
		s.state = StateIdle
		s.mu.Unlock()
		s.logger.Warn("upstream rejected configuration", zap.Error(err))
		s.send(envelope.NewError(msgUpstreamRejected+": "+err.Error(), 0, ""))
		return
	}

	s.state = StateConnecting
	s.handle = handle
	s.audioChunks = 0
	s.warnedGap = false
	s.mu.Unlock()

	s.logger.Info("upstream session opening", zap.String("language", language))
	go s.pumpEvents(handle)
}

// handleAudio forwards one audio chunk while streaming. Audio outside
// StateStreaming, before the handle is open, or decoding to zero bytes is
// dropped, never buffered.
func (s *Session) handleAudio(audio *envelope.Audio) {
	s.mu.Lock()
	if s.state != StateStreaming || s.handle == nil || s.handle.ReadyState() != upstream.StateOpen {
		if !s.warnedGap {
			s.warnedGap = true
			s.logger.Warn("dropping audio: upstream not ready", zap.String("state", s.state.String()))
		}
		metrics.AudioDroppedTotal.Inc()
		s.mu.Unlock()
		return
	}
	handle := s.handle
	s.mu.Unlock()

	raw, err := base64.StdEncoding.DecodeString(audio.Audio)
	if err != nil {
		metrics.EnvelopeErrorsTotal.Inc()
		s.send(envelope.NewError("invalid audio payload: not base64", 0, ""))
		return
	}
	if len(raw) == 0 {
		metrics.AudioDroppedTotal.Inc()
		return
	}

	if err := handle.Send(raw); err != nil {
		s.logger.Warn("audio forward failed", zap.Error(err))
		metrics.AudioDroppedTotal.Inc()
		return
	}

	s.mu.Lock()
	if s.handle == handle {
		s.audioChunks++
		s.warnedGap = false
	}
	s.mu.Unlock()
	metrics.AudioChunksTotal.Inc()
}

// Stop tears down the upstream session in response to an explicit stop
// request. Idempotent: with no live handle it does nothing and emits nothing.
func (s *Session) Stop() {
	if s.teardown() {
		s.send(envelope.NewStatus(envelope.StatusStopped, "Transcription stopped"))
	}
}

// Teardown releases the upstream handle without notifying the client, for the
// transport-close path. Safe to call any number of times.
func (s *Session) Teardown() {
	s.teardown()
}

// teardown reports whether a live upstream handle was released.
func (s *Session) teardown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return false
	}
	s.state = StateStopping
	s.discardUpstreamLocked()
	s.state = StateClosed
	s.logger.Info("upstream session stopped")
	return true
}

// discardUpstreamLocked finishes the current handle (best-effort), cancels the
// keep-alive timer, and resets the audio counter. Caller holds mu.
func (s *Session) discardUpstreamLocked() {
	if s.keepaliveStop != nil {
		close(s.keepaliveStop)
		s.keepaliveStop = nil
	}
	if s.handle != nil {
		s.handle.Finish()
		s.handle = nil
	}
	s.audioChunks = 0
}

// pumpEvents delivers provider events, one at a time, into the serialized
// handler. Runs until the handle closes its event channel.
func (s *Session) pumpEvents(h upstream.Handle) {
	for ev := range h.Events() {
		s.handleUpstreamEvent(h, ev)
	}
}

func (s *Session) handleUpstreamEvent(h upstream.Handle, ev upstream.Event) {
	s.mu.Lock()
	if s.handle != h {
		// Event from a handle that has already been discarded.
		s.mu.Unlock()
		return
	}

	switch ev.Kind {
	case upstream.EventOpened:
		if s.state != StateConnecting {
			s.mu.Unlock()
			return
		}
		s.state = StateStreaming
		s.startKeepaliveLocked(h)
		s.mu.Unlock()
		s.logger.Info("upstream session open")
		s.send(envelope.NewStatus(envelope.StatusConnected, "Connected to transcription service"))

	case upstream.EventTranscript:
		s.mu.Unlock()
		s.forwardTranscript(ev.Transcript)

	case upstream.EventUtteranceEnd:
		s.mu.Unlock()
		s.send(envelope.UtteranceEnd{Type: envelope.TypeUtteranceEnd, Timestamp: time.Now().UnixMilli()})

	case upstream.EventSpeechStarted:
		s.mu.Unlock()
		s.send(envelope.SpeechStarted{Type: envelope.TypeSpeechStarted, Timestamp: time.Now().UnixMilli()})

	case upstream.EventMetadata:
		s.mu.Unlock()
		if ev.Metadata != nil {
			s.send(envelope.Metadata{
				Type:      envelope.TypeMetadata,
				RequestID: ev.Metadata.RequestID,
				Model:     ev.Metadata.Model,
				Version:   ev.Metadata.Version,
			})
		}

	case upstream.EventError:
		s.discardUpstreamLocked()
		s.state = StateClosed
		s.mu.Unlock()
		s.reportUpstreamError(ev.Err)

	case upstream.EventClosed:
		s.discardUpstreamLocked()
		s.state = StateClosed
		s.mu.Unlock()
		s.logger.Info("upstream connection closed", zap.Int("code", ev.CloseCode))
		s.send(envelope.NewStatus(envelope.StatusClosed, "Transcription service disconnected"))

	default:
		s.mu.Unlock()
	}
}

// forwardTranscript translates one provider result. Results with no hypothesis
// or whitespace-only text are dropped.
func (s *Session) forwardTranscript(res *upstream.TranscriptResult) {
	if res == nil || strings.TrimSpace(res.Text) == "" {
		return
	}

	words := make([]envelope.Word, 0, len(res.Words))
	for _, w := range res.Words {
		words = append(words, envelope.Word{
			Word:           w.Word,
			Start:          w.Start,
			End:            w.End,
			Confidence:     w.Confidence,
			PunctuatedWord: w.PunctuatedWord,
		})
	}

	finality := "interim"
	if res.IsFinal {
		finality = "final"
	}
	metrics.TranscriptsTotal.WithLabelValues(finality).Inc()

	s.send(envelope.Transcript{
		Type:        envelope.TypeTranscript,
		Text:        res.Text,
		IsFinal:     res.IsFinal,
		SpeechFinal: res.SpeechFinal,
		Words:       words,
		Timestamp:   time.Now().UnixMilli(),
		Duration:    res.Duration,
		Start:       res.Start,
	})
}

// reportUpstreamError maps a provider error to a client-facing message, most
// specific category first, falling back to the provider's own text.
func (s *Session) reportUpstreamError(perr *upstream.ProviderError) {
	if perr == nil {
		perr = upstream.NewProviderError(0, upstream.ErrTypeGeneric, "unknown upstream error")
	}

	var message string
	switch perr.ErrType {
	case upstream.ErrTypeAuth:
		message = msgInvalidAPIKey
	case upstream.ErrTypeRateLimit:
		message = msgRateLimited
	case upstream.ErrTypeTimeout:
		message = msgUpstreamTimeout
	default:
		message = perr.Message
	}

	metrics.UpstreamErrorsTotal.WithLabelValues(perr.ErrType).Inc()
	s.logger.Warn("upstream error",
		zap.Int("code", perr.Code),
		zap.String("errType", perr.ErrType),
		zap.String("message", perr.Message),
	)
	s.send(envelope.NewError(message, perr.Code, perr.ErrType))
}

// startKeepaliveLocked starts the recurring liveness signal. The loop
// self-cancels once the handle is no longer open. Caller holds mu.
func (s *Session) startKeepaliveLocked(h upstream.Handle) {
	stop := make(chan struct{})
	s.keepaliveStop = stop

	go func() {
		ticker := time.NewTicker(s.opts.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if h.ReadyState() != upstream.StateOpen {
					return
				}
				if err := h.KeepAlive(); err != nil {
					s.logger.Warn("keepalive failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *Session) send(v interface{}) {
	if err := s.sender.Send(v); err != nil {
		s.logger.Warn("client send failed", zap.Error(err))
	}
}
