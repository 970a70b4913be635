package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// closeGrace bounds how long a finishing connection may linger after
	// CloseStream before the socket is forced shut.
	closeGrace = 5 * time.Second

	eventBuffer = 32
)

// LiveAdapter opens live transcription connections against a Deepgram-style
// streaming endpoint.
type LiveAdapter struct {
	BaseURL        string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Logger         *zap.Logger
}

// NewLiveAdapter creates an adapter for the given wss:// listen endpoint.
func NewLiveAdapter(baseURL string, connectTimeout, writeTimeout time.Duration, logger *zap.Logger) *LiveAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveAdapter{
		BaseURL:        baseURL,
		ConnectTimeout: connectTimeout,
		WriteTimeout:   writeTimeout,
		Logger:         logger,
	}
}

// Open validates cfg, then dials the provider in the background. The returned
// handle starts in StateConnecting; EventOpened or EventError follows on the
// event channel.
func (a *LiveAdapter) Open(ctx context.Context, cfg Config) (Handle, error) {
	if cfg.APIKey == "" {
		return nil, &ConnectError{Reason: "api key is empty"}
	}
	if cfg.SampleRate < 0 || cfg.Channels < 0 {
		return nil, &ConnectError{Reason: "negative audio parameters"}
	}
	u, err := liveURL(a.BaseURL, cfg)
	if err != nil {
		return nil, &ConnectError{Reason: err.Error()}
	}

	h := &liveHandle{
		adapter: a,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		logger:  a.Logger,
	}
	h.state.Store(int32(StateConnecting))

	go h.dial(ctx, u, cfg.APIKey)
	return h, nil
}

// liveURL encodes the session configuration as listen-endpoint query params.
func liveURL(base string, cfg Config) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	q.Set("language", cfg.Language)
	if cfg.Encoding != "" {
		q.Set("encoding", cfg.Encoding)
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	if cfg.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.EndpointingMs))
	}
	if cfg.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMs))
	}
	q.Set("vad_events", strconv.FormatBool(cfg.VADEvents))
	q.Set("filler_words", strconv.FormatBool(cfg.FillerWords))
	q.Set("profanity_filter", strconv.FormatBool(cfg.ProfanityFilter))
	q.Set("utterances", strconv.FormatBool(cfg.Utterances))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type liveHandle struct {
	adapter *LiveAdapter
	logger  *zap.Logger

	state atomic.Int32

	mu      sync.RWMutex // guards conn
	writeMu sync.Mutex
	conn    *websocket.Conn

	// events is written and closed only by the goroutine that currently owns
	// delivery (dial, then readLoop); everything else only closes the socket.
	events     chan Event
	done       chan struct{}
	closeOnce  sync.Once
	eventsOnce sync.Once
	finishing  sync.Once
}

func (h *liveHandle) ReadyState() ReadyState {
	return ReadyState(h.state.Load())
}

func (h *liveHandle) Events() <-chan Event {
	return h.events
}

func (h *liveHandle) dial(ctx context.Context, wsURL, apiKey string) {
	dialCtx, cancel := context.WithTimeout(ctx, h.adapter.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: h.adapter.ConnectTimeout,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+apiKey)

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, header)
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		h.fail(NewProviderError(code, "", fmt.Sprintf("connect failed: %v", err)))
		h.closeEvents()
		return
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	if !h.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		// Finished while dialing.
		conn.Close()
		h.closeEvents()
		return
	}

	h.deliver(Event{Kind: EventOpened})
	go h.readLoop(conn)
}

func (h *liveHandle) Send(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if h.ReadyState() != StateOpen {
		return NewProviderError(0, ErrTypeGeneric, "send on connection that is not open")
	}
	return h.write(websocket.BinaryMessage, data)
}

func (h *liveHandle) KeepAlive() error {
	if h.ReadyState() != StateOpen {
		return nil
	}
	return h.write(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
}

// Finish asks the provider to flush buffered audio and end the stream. The
// provider confirms by closing the connection, which surfaces as EventClosed.
func (h *liveHandle) Finish() error {
	h.finishing.Do(func() {
		switch h.ReadyState() {
		case StateOpen:
			h.state.Store(int32(StateClosing))
			if err := h.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
				h.shutdown(websocket.CloseAbnormalClosure)
				return
			}
			// Force the socket shut if the provider never confirms.
			go func() {
				select {
				case <-time.After(closeGrace):
					h.shutdown(websocket.CloseNormalClosure)
				case <-h.done:
				}
			}()
		case StateConnecting:
			h.state.Store(int32(StateClosing))
			h.shutdown(websocket.CloseNormalClosure)
		}
	})
	return nil
}

func (h *liveHandle) write(msgType int, data []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.RLock()
	conn := h.conn
	h.mu.RUnlock()

	if conn == nil {
		return NewProviderError(0, ErrTypeGeneric, "connection not established")
	}
	conn.SetWriteDeadline(time.Now().Add(h.adapter.WriteTimeout))
	if err := conn.WriteMessage(msgType, data); err != nil {
		return &ProviderError{ErrType: ErrTypeGeneric, Message: "write failed", Cause: err}
	}
	return nil
}

// Provider wire messages, discriminated by the "type" field.
type liveMessage struct {
	Type        string          `json:"type"`
	IsFinal     bool            `json:"is_final"`
	SpeechFinal bool            `json:"speech_final"`
	Duration    float64         `json:"duration"`
	Start       float64         `json:"start"`
	Channel     json.RawMessage `json:"channel"`
	RequestID   string          `json:"request_id"`
	ModelInfo   *liveModelInfo  `json:"model_info"`
	Description string          `json:"description"`
	Message     string          `json:"message"`
	Code        int             `json:"code"`
	Variant     string          `json:"variant"`
}

type liveModelInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type liveChannel struct {
	Alternatives []struct {
		Transcript string `json:"transcript"`
		Words      []Word `json:"words"`
	} `json:"alternatives"`
}

func (h *liveHandle) readLoop(conn *websocket.Conn) {
	defer h.closeEvents()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.handleDisconnect(err)
			return
		}

		var msg liveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("unparseable provider message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "Results":
			h.deliver(Event{Kind: EventTranscript, Transcript: resultFrom(&msg)})
		case "UtteranceEnd":
			h.deliver(Event{Kind: EventUtteranceEnd})
		case "SpeechStarted":
			h.deliver(Event{Kind: EventSpeechStarted})
		case "Metadata":
			meta := &SessionMetadata{RequestID: msg.RequestID}
			if msg.ModelInfo != nil {
				meta.Model = msg.ModelInfo.Name
				meta.Version = msg.ModelInfo.Version
			}
			h.deliver(Event{Kind: EventMetadata, Metadata: meta})
		case "Error":
			text := msg.Description
			if text == "" {
				text = msg.Message
			}
			h.fail(NewProviderError(msg.Code, msg.Variant, text))
			return
		default:
			h.logger.Debug("ignoring provider message", zap.String("type", msg.Type))
		}
	}
}

func resultFrom(msg *liveMessage) *TranscriptResult {
	res := &TranscriptResult{
		IsFinal:     msg.IsFinal,
		SpeechFinal: msg.SpeechFinal,
		Duration:    msg.Duration,
		Start:       msg.Start,
	}
	if len(msg.Channel) == 0 {
		return res
	}
	var ch liveChannel
	if err := json.Unmarshal(msg.Channel, &ch); err != nil || len(ch.Alternatives) == 0 {
		return res
	}
	top := ch.Alternatives[0]
	res.Text = top.Transcript
	res.Words = top.Words
	return res
}

// handleDisconnect classifies a read error into a close or error event.
// An internal-error close whose reason names the provider's no-audio timeout
// is surfaced as a timeout error rather than a plain close.
func (h *liveHandle) handleDisconnect(err error) {
	code := websocket.CloseAbnormalClosure
	reason := ""
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
		reason = ce.Text
	}

	state := h.ReadyState()
	if state == StateClosed {
		// Socket was shut locally; confirm closure to the consumer.
		h.deliver(Event{Kind: EventClosed, CloseCode: code})
		return
	}

	if code == websocket.CloseInternalServerErr && strings.Contains(reason, "NET-0001") {
		h.fail(&ProviderError{Code: code, ErrType: ErrTypeTimeout, Message: reason})
		return
	}

	if state == StateOpen {
		h.logger.Info("provider closed connection", zap.Int("code", code), zap.String("reason", reason))
	}
	h.deliver(Event{Kind: EventClosed, CloseCode: code})
	h.shutdown(code)
}

func (h *liveHandle) fail(perr *ProviderError) {
	h.deliver(Event{Kind: EventError, Err: perr})
	h.shutdown(websocket.CloseAbnormalClosure)
}

// deliver blocks until the consumer takes the event. The session-side pump
// drains the channel until it is closed, so this cannot deadlock.
func (h *liveHandle) deliver(ev Event) {
	h.events <- ev
}

func (h *liveHandle) closeEvents() {
	h.eventsOnce.Do(func() { close(h.events) })
}

// shutdown closes the socket and marks the handle terminal. It never touches
// the events channel.
func (h *liveHandle) shutdown(closeCode int) {
	h.closeOnce.Do(func() {
		h.state.Store(int32(StateClosed))
		close(h.done)

		h.mu.Lock()
		conn := h.conn
		h.conn = nil
		h.mu.Unlock()

		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeCode, ""), time.Now().Add(time.Second))
			conn.Close()
		}
	})
}
