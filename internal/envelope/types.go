package envelope

// Client message types.
const (
	TypeStart = "start"
	TypeAudio = "audio"
	TypeStop  = "stop"
)

// Server message types.
const (
	TypeStatus        = "status"
	TypeTranscript    = "transcript"
	TypeError         = "error"
	TypeUtteranceEnd  = "utterance_end"
	TypeSpeechStarted = "speech_started"
	TypeMetadata      = "metadata"
)

// Status values carried by status envelopes.
const (
	StatusConnected = "connected"
	StatusClosed    = "closed"
	StatusStopped   = "stopped"
)

// Start begins an upstream transcription session.
type Start struct {
	APIKey   string `json:"apiKey"`
	Language string `json:"language,omitempty"`
}

// Audio carries one base64-encoded audio chunk.
type Audio struct {
	Audio string `json:"audio"`
}

// Stop requests teardown of the upstream session.
type Stop struct{}

// Status is the payload for status envelopes.
type Status struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Word is a single recognized word within a transcript.
type Word struct {
	Word           string  `json:"word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
}

// Transcript carries one transcription result to the client.
type Transcript struct {
	Type        string  `json:"type"`
	Text        string  `json:"text"`
	IsFinal     bool    `json:"isFinal"`
	SpeechFinal bool    `json:"speechFinal"`
	Words       []Word  `json:"words"`
	Timestamp   int64   `json:"timestamp"`
	Duration    float64 `json:"duration"`
	Start       float64 `json:"start"`
}

// UtteranceEnd signals the provider detected the end of an utterance.
type UtteranceEnd struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// SpeechStarted signals the provider detected the start of speech.
type SpeechStarted struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Metadata carries provider session metadata to the client.
type Metadata struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Model     string `json:"model"`
	Version   string `json:"version"`
}

// Error reports a recoverable failure to the client.
type Error struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Code      int    `json:"code,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
}
