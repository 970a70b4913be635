package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testConfig() Config {
	return Config{
		APIKey:         "test-key",
		Model:          "nova-2",
		Language:       "en-US",
		InterimResults: true,
		SmartFormat:    true,
		Punctuate:      true,
		EndpointingMs:  300,
		UtteranceEndMs: 1000,
		VADEvents:      true,
		Utterances:     true,
	}
}

func TestLiveURLEncodesConfig(t *testing.T) {
	raw, err := liveURL("wss://api.example.com/v1/listen", testConfig())
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()

	expect := map[string]string{
		"model":            "nova-2",
		"language":         "en-US",
		"interim_results":  "true",
		"smart_format":     "true",
		"punctuate":        "true",
		"endpointing":      "300",
		"utterance_end_ms": "1000",
		"vad_events":       "true",
		"filler_words":     "false",
		"profanity_filter": "false",
		"utterances":       "true",
	}
	for k, v := range expect {
		if got := q.Get(k); got != v {
			t.Errorf("param %s: expected %q, got %q", k, v, got)
		}
	}
	if q.Has("encoding") || q.Has("sample_rate") {
		t.Error("encoding params should be omitted when no encoding is set")
	}
}

func TestLiveURLWithRawEncoding(t *testing.T) {
	cfg := testConfig()
	cfg.Encoding = "linear16"
	cfg.SampleRate = 16000
	cfg.Channels = 1

	raw, err := liveURL("wss://api.example.com/v1/listen", cfg)
	if err != nil {
		t.Fatal(err)
	}
	q, _ := url.Parse(raw)
	if q.Query().Get("encoding") != "linear16" || q.Query().Get("sample_rate") != "16000" {
		t.Errorf("raw encoding params missing: %s", raw)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	a := NewLiveAdapter("wss://api.example.com/v1/listen", time.Second, time.Second, nil)

	cfg := testConfig()
	cfg.APIKey = ""
	if _, err := a.Open(context.Background(), cfg); err == nil {
		t.Fatal("expected error for empty api key")
	} else if _, ok := err.(*ConnectError); !ok {
		t.Fatalf("expected ConnectError, got %T", err)
	}

	cfg = testConfig()
	cfg.SampleRate = -1
	if _, err := a.Open(context.Background(), cfg); err == nil {
		t.Fatal("expected error for negative sample rate")
	}
}

func TestResultFrom(t *testing.T) {
	raw := `{
		"type":"Results","is_final":true,"speech_final":true,"duration":1.5,"start":0.25,
		"channel":{"alternatives":[{"transcript":"hello there","words":[
			{"word":"hello","start":0.3,"end":0.6,"confidence":0.98,"punctuated_word":"Hello"},
			{"word":"there","start":0.7,"end":1.0,"confidence":0.95,"punctuated_word":"there."}
		]}]}
	}`
	var msg liveMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatal(err)
	}

	res := resultFrom(&msg)
	if res.Text != "hello there" {
		t.Errorf("expected transcript text, got %q", res.Text)
	}
	if !res.IsFinal || !res.SpeechFinal {
		t.Error("finality flags not carried over")
	}
	if res.Duration != 1.5 || res.Start != 0.25 {
		t.Errorf("timing not carried over: %+v", res)
	}
	if len(res.Words) != 2 || res.Words[0].PunctuatedWord != "Hello" {
		t.Errorf("words not parsed: %+v", res.Words)
	}
}

func TestResultFromNoAlternatives(t *testing.T) {
	var msg liveMessage
	if err := json.Unmarshal([]byte(`{"type":"Results","channel":{"alternatives":[]}}`), &msg); err != nil {
		t.Fatal(err)
	}
	res := resultFrom(&msg)
	if res.Text != "" || len(res.Words) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

// --- Integration tests against a mock provider ---

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsURL rewrites an httptest server URL to the ws scheme.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collect(t *testing.T, h Handle, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d of %d", len(out), n)
		}
	}
	return out
}

func TestLiveHandleOpensAndStreams(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Expect one binary audio frame, echo back a result.
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage || string(data) != "audio-bytes" {
			t.Errorf("unexpected frame: type=%d data=%q", mt, data)
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{
			"type":"Results","is_final":true,
			"channel":{"alternatives":[{"transcript":"ok","words":[]}]}
		}`))

		// Wait for CloseStream, then confirm with a clean close.
		for {
			mt, data, err = conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(data), "CloseStream") {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
		}
	}))
	defer srv.Close()

	a := NewLiveAdapter(wsURL(srv), 5*time.Second, 5*time.Second, nil)
	h, err := a.Open(context.Background(), testConfig())
	if err != nil {
		t.Fatal(err)
	}

	evs := collect(t, h, 1)
	if evs[0].Kind != EventOpened {
		t.Fatalf("expected EventOpened, got %v", evs[0].Kind)
	}
	if h.ReadyState() != StateOpen {
		t.Errorf("expected StateOpen, got %s", h.ReadyState())
	}
	if auth := <-gotAuth; auth != "Token test-key" {
		t.Errorf("expected token auth header, got %q", auth)
	}

	if err := h.Send([]byte("audio-bytes")); err != nil {
		t.Fatal(err)
	}

	evs = collect(t, h, 1)
	if evs[0].Kind != EventTranscript || evs[0].Transcript.Text != "ok" {
		t.Fatalf("expected transcript event, got %+v", evs[0])
	}

	if err := h.Finish(); err != nil {
		t.Fatal(err)
	}
	evs = collect(t, h, 1)
	if evs[0].Kind != EventClosed {
		t.Fatalf("expected EventClosed, got %+v", evs[0])
	}

	// Event channel must close after the terminal event.
	select {
	case _, ok := <-h.Events():
		if ok {
			t.Error("expected closed event channel")
		}
	case <-time.After(2 * time.Second):
		t.Error("event channel not closed")
	}

	// Finish again must be a no-op.
	if err := h.Finish(); err != nil {
		t.Errorf("repeated Finish: %v", err)
	}
}

func TestLiveHandleProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","description":"bad model","code":400}`))
	}))
	defer srv.Close()

	a := NewLiveAdapter(wsURL(srv), 5*time.Second, 5*time.Second, nil)
	h, err := a.Open(context.Background(), testConfig())
	if err != nil {
		t.Fatal(err)
	}

	evs := collect(t, h, 2)
	if evs[0].Kind != EventOpened {
		t.Fatalf("expected EventOpened first, got %+v", evs[0])
	}
	if evs[1].Kind != EventError {
		t.Fatalf("expected EventError, got %+v", evs[1])
	}
	if evs[1].Err.Code != 400 || evs[1].Err.Message != "bad model" {
		t.Errorf("unexpected provider error: %+v", evs[1].Err)
	}
	if h.ReadyState() != StateClosed {
		t.Errorf("expected StateClosed after error, got %s", h.ReadyState())
	}
}

func TestLiveHandleDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewLiveAdapter(wsURL(srv), 2*time.Second, time.Second, nil)
	h, err := a.Open(context.Background(), testConfig())
	if err != nil {
		t.Fatal(err)
	}

	evs := collect(t, h, 1)
	if evs[0].Kind != EventError {
		t.Fatalf("expected EventError, got %+v", evs[0])
	}
	if evs[0].Err.Code != 401 || evs[0].Err.ErrType != ErrTypeAuth {
		t.Errorf("expected 401 auth error, got %+v", evs[0].Err)
	}
}

func TestLiveHandleTimeoutClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr,
				"NET-0001: no audio received"), time.Now().Add(time.Second))
	}))
	defer srv.Close()

	a := NewLiveAdapter(wsURL(srv), 5*time.Second, time.Second, nil)
	h, err := a.Open(context.Background(), testConfig())
	if err != nil {
		t.Fatal(err)
	}

	evs := collect(t, h, 2)
	if evs[1].Kind != EventError {
		t.Fatalf("expected EventError, got %+v", evs[1])
	}
	if evs[1].Err.ErrType != ErrTypeTimeout {
		t.Errorf("expected timeout error, got %+v", evs[1].Err)
	}
}

func TestSendOnUnopenedHandle(t *testing.T) {
	a := NewLiveAdapter("wss://example.com", time.Second, time.Second, nil)
	h := &liveHandle{
		adapter: a,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		logger:  a.Logger,
	}
	h.state.Store(int32(StateConnecting))

	if err := h.Send([]byte("x")); err == nil {
		t.Error("expected error sending while connecting")
	}
	if err := h.Send(nil); err != nil {
		t.Errorf("zero-length send must be a no-op, got %v", err)
	}
	if err := h.KeepAlive(); err != nil {
		t.Errorf("keepalive while not open must be a no-op, got %v", err)
	}
}
