package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sttrelay/internal/audio"
	"github.com/dkeye/sttrelay/internal/domain"
)

type fakeSarvam struct {
	mu      sync.Mutex
	query   map[string]string
	key     string
	audio   [][]byte
	rates   []string
	flushed bool

	// onFlush is written back when a flush message arrives.
	onFlush []string
}

func (f *fakeSarvam) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.key = r.Header.Get("Api-Subscription-Key")
		f.query = map[string]string{
			"language-code": r.URL.Query().Get("language-code"),
			"model":         r.URL.Query().Get("model"),
			"sample_rate":   r.URL.Query().Get("sample_rate"),
		}
		f.mu.Unlock()

		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Type  string `json:"type"`
				Audio *struct {
					Data       string `json:"data"`
					SampleRate string `json:"sample_rate"`
				} `json:"audio"`
			}
			if !assert.NoError(t, json.Unmarshal(data, &msg)) {
				return
			}
			if msg.Audio != nil {
				raw, err := base64.StdEncoding.DecodeString(msg.Audio.Data)
				assert.NoError(t, err)
				f.mu.Lock()
				f.audio = append(f.audio, raw)
				f.rates = append(f.rates, msg.Audio.SampleRate)
				f.mu.Unlock()
				continue
			}
			if msg.Type == "flush" {
				f.mu.Lock()
				f.flushed = true
				replies := f.onFlush
				f.mu.Unlock()
				for _, reply := range replies {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(reply))
				}
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}
}

func startSarvam(t *testing.T, f *fakeSarvam) *SarvamDialer {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewSarvamDialer(SarvamConfig{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http") + "/speech-to-text/ws",
		APIKey:      "secret",
		Language:    "en-IN",
		Model:       "saarika:v2.5",
		Encoding:    "audio/wav",
		SampleRate:  16000,
		DialTimeout: 2 * time.Second,
		WriteWait:   time.Second,
	})
}

func collect(t *testing.T, ch <-chan domain.TranscriptEvent) []domain.TranscriptEvent {
	t.Helper()
	var out []domain.TranscriptEvent
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("results not closed")
			return out
		}
	}
}

func TestSarvamStreamsWindowsAndRelaysTranscripts(t *testing.T) {
	f := &fakeSarvam{onFlush: []string{
		`{"type":"events","data":{"signal_type":"END_SPEECH"}}`,
		`{"type":"data","data":{"request_id":"r1","transcript":"   "}}`,
		`{"type":"data","data":{"request_id":"r2","transcript":"namaste world","language_code":"en-IN"}}`,
	}}
	d := startSarvam(t, f)

	link, err := d.Open(context.Background())
	require.NoError(t, err)
	defer link.Close()

	ctx := context.Background()
	require.NoError(t, link.Send(ctx, []int16{1, -2, 3}))
	require.NoError(t, link.Send(ctx, audio.Silence(4)))
	require.NoError(t, link.Finish(ctx))

	events := collect(t, link.Results())
	require.Len(t, events, 1)
	assert.Equal(t, "namaste world", events[0].Text)
	assert.NoError(t, link.Err())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "secret", f.key)
	assert.Equal(t, "en-IN", f.query["language-code"])
	assert.Equal(t, "saarika:v2.5", f.query["model"])
	assert.Equal(t, "16000", f.query["sample_rate"])
	require.Len(t, f.audio, 2)
	assert.Equal(t, audio.Encode([]int16{1, -2, 3}), f.audio[0])
	assert.Equal(t, make([]byte, 8), f.audio[1])
	assert.Equal(t, []string{"16000", "16000"}, f.rates)
	assert.True(t, f.flushed)
}

func TestSarvamErrorEndsFeedWithError(t *testing.T) {
	f := &fakeSarvam{onFlush: []string{`{"type":"error","data":{"error":"quota exceeded","code":429}}`}}
	d := startSarvam(t, f)

	link, err := d.Open(context.Background())
	require.NoError(t, err)
	defer link.Close()

	require.NoError(t, link.Finish(context.Background()))
	assert.Empty(t, collect(t, link.Results()))
	require.Error(t, link.Err())
	assert.Contains(t, link.Err().Error(), "quota exceeded")
}

func TestSarvamDialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewSarvamDialer(SarvamConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), SampleRate: 16000})
	_, err := d.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSarvamCloseIsIdempotent(t *testing.T) {
	d := startSarvam(t, &fakeSarvam{})

	link, err := d.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, link.Close())
	assert.NoError(t, link.Close())
	assert.ErrorIs(t, link.Send(context.Background(), []int16{1}), ErrLinkClosed)

	assert.Empty(t, collect(t, link.Results()))
	assert.NoError(t, link.Err())
}
