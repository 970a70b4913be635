// Package upstream defines the contract between a session and the streaming
// speech-to-text provider, plus the concrete WebSocket implementation.
package upstream

import "context"

// ReadyState mirrors the lifecycle of the provider connection.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// EventKind tags events delivered from the provider connection.
type EventKind int

const (
	EventOpened EventKind = iota
	EventTranscript
	EventUtteranceEnd
	EventSpeechStarted
	EventMetadata
	EventError
	EventClosed
)

// Event is one provider occurrence. The payload field matching Kind is set;
// the rest are nil/zero.
type Event struct {
	Kind       EventKind
	Transcript *TranscriptResult
	Metadata   *SessionMetadata
	Err        *ProviderError
	CloseCode  int
}

// Word is a single recognized word with timing and confidence.
type Word struct {
	Word           string  `json:"word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	PunctuatedWord string  `json:"punctuated_word"`
}

// TranscriptResult is the top hypothesis of one provider result.
type TranscriptResult struct {
	Text        string
	IsFinal     bool
	SpeechFinal bool
	Words       []Word
	Duration    float64
	Start       float64
}

// SessionMetadata identifies the provider-side transcription request.
type SessionMetadata struct {
	RequestID string
	Model     string
	Version   string
}

// Config is the immutable per-session provider configuration.
type Config struct {
	APIKey          string
	Model           string
	Language        string
	Encoding        string
	SampleRate      int
	Channels        int
	InterimResults  bool
	SmartFormat     bool
	Punctuate       bool
	EndpointingMs   int
	UtteranceEndMs  int
	VADEvents       bool
	FillerWords     bool
	ProfanityFilter bool
	Utterances      bool
}

// Handle is one live provider connection. Events are delivered on a single
// channel so the consumer can process them strictly in order.
type Handle interface {
	// Send forwards raw audio. Valid only while ReadyState() is StateOpen;
	// zero-length payloads are a no-op.
	Send(data []byte) error

	// KeepAlive sends a liveness signal. A no-op unless the connection is open.
	KeepAlive() error

	// Finish requests graceful termination, flushing buffered audio
	// provider-side. Idempotent.
	Finish() error

	ReadyState() ReadyState

	// Events returns the event stream. Closed after EventClosed or EventError.
	Events() <-chan Event
}

// Adapter opens provider connections. Open rejects invalid configuration
// synchronously; connection-level failures arrive as EventError on the handle.
type Adapter interface {
	Open(ctx context.Context, cfg Config) (Handle, error)
}
