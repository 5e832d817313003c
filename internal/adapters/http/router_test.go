package http

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sttrelay/internal/adapters/dump"
	"github.com/dkeye/sttrelay/internal/adapters/inbound"
	"github.com/dkeye/sttrelay/internal/app"
	"github.com/dkeye/sttrelay/internal/app/relay"
	"github.com/dkeye/sttrelay/internal/audio"
	"github.com/dkeye/sttrelay/internal/config"
	"github.com/dkeye/sttrelay/internal/core/coretest"
	"github.com/dkeye/sttrelay/internal/domain"
	"github.com/dkeye/sttrelay/internal/metrics"
	transport "github.com/dkeye/sttrelay/internal/transport/http"
)

type stack struct {
	srv      *httptest.Server
	link     *coretest.FakeLink
	registry *app.Registry
	metrics  *metrics.Metrics
	store    *dump.Store
}

func newStack(t *testing.T, connectsPerMinute int) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Mode: "test"}
	cfg.WS.ConnectsPerMinute = connectsPerMinute

	codec, err := audio.NewFrameCodec(2, 0)
	require.NoError(t, err)
	store, err := dump.NewStore(t.TempDir())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	link := coretest.NewFakeLink(16)
	link.CloseResultsOnFinish = true

	coord := relay.NewCoordinator(relay.Options{
		Codec:         codec,
		WindowSamples: 16000,
		GracePeriod:   time.Second,
		Dialer:        &coretest.FakeDialer{Link: link},
		Sinks:         store,
		Metrics:       m,
	})
	registry := app.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := SetupRouter(ctx, cfg, Deps{
		Stream: &inbound.StreamWSController{
			Runner:   coord,
			Registry: registry,
			Conn:     inbound.ConnOptions{WriteWait: time.Second},
		},
		Handlers: &transport.Handlers{Dumps: store, Sessions: registry, SampleRate: 16000, Channels: 2},
		Gatherer: reg,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &stack{srv: srv, link: link, registry: registry, metrics: m, store: store}
}

func (s *stack) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func chunk(frames int) []byte {
	out := make([]byte, frames*4)
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(out[i*4:], uint16(i))
	}
	return out
}

func TestDuplicateRequestIDGetsFreshSid(t *testing.T) {
	s := newStack(t, 0)

	header := http.Header{}
	header.Set("X-Request-ID", "call-7")
	first, resp1, err := websocket.DefaultDialer.Dial(s.wsURL(), header)
	require.NoError(t, err)
	defer first.Close()
	second, resp2, err := websocket.DefaultDialer.Dial(s.wsURL(), header)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, "call-7", resp1.Header.Get("X-Request-ID"))
	secondSid := resp2.Header.Get("X-Request-ID")
	require.NotEmpty(t, secondSid)
	assert.NotEqual(t, "call-7", secondSid)
	require.Eventually(t, func() bool { return s.registry.Count() == 2 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, first.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return s.registry.Count() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, secondSid, string(s.registry.List()[0].SID))
}

func TestStreamSessionEndToEnd(t *testing.T) {
	s := newStack(t, 0)

	header := http.Header{}
	header.Set("X-Request-ID", "call-42")
	client, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), header)
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "call-42", resp.Header.Get("X-Request-ID"))

	require.NoError(t, client.WriteJSON(map[string]any{
		"type": "start", "encoding": "linear16", "container": "raw", "sampleRate": 16000, "channels": 2,
	}))
	for i := 0; i < 50; i++ {
		require.NoError(t, client.WriteMessage(websocket.BinaryMessage, chunk(320)))
	}
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"noise"}`)))

	require.Eventually(t, func() bool { return len(s.link.Sends()) == 1 }, 3*time.Second, 10*time.Millisecond)
	list := s.registry.List()
	require.Len(t, list, 1)
	assert.Equal(t, "call-42", string(list[0].SID))
	assert.Equal(t, "streaming", list[0].State)

	s.link.Push(domain.TranscriptEvent{Text: "hello from backend"})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got domain.TranscriberResponse
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, domain.TranscriberResponse{
		Type:          "transcriber-response",
		Transcription: "hello from backend",
		Channel:       "customer",
	}, got)

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return s.registry.Count() == 0 }, 3*time.Second, 10*time.Millisecond)

	calls := s.link.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"send", "send", "finish", "close"},
		[]string{calls[0].Op, calls[1].Op, calls[2].Op, calls[3].Op})
	assert.Equal(t, []int16(audio.Silence(16000)), calls[1].Samples)

	assert.Equal(t, 50.0, testutil.ToFloat64(s.metrics.Chunks))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.WindowsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.TranscriptsRelayed))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Sessions.WithLabelValues(metrics.OutcomeCompleted)))

	// The raw dump holds every inbound frame verbatim.
	dumpResp, err := http.Get(s.srv.URL + "/dump")
	require.NoError(t, err)
	defer dumpResp.Body.Close()
	require.Equal(t, http.StatusOK, dumpResp.StatusCode)
	body, err := io.ReadAll(dumpResp.Body)
	require.NoError(t, err)
	assert.Len(t, body, 50*1280)
}

func TestStreamRejectedHandshakeClosesConnection(t *testing.T) {
	s := newStack(t, 0)

	client, _, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]string{"type": "hello"}))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = client.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Empty(t, s.link.Calls())
	require.Eventually(t, func() bool { return s.registry.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Sessions.WithLabelValues(metrics.OutcomeRejected)))
}

func TestOperationalEndpoints(t *testing.T) {
	s := newStack(t, 0)

	resp, err := http.Get(s.srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, string(body))

	resp, err = http.Get(s.srv.URL + "/dump")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"No audio file found"}`, string(body))

	s.metrics.ChunkReceived()
	resp, err = http.Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "relay_chunks_total 1")
}

func TestStreamConnectLimit(t *testing.T) {
	s := newStack(t, 1)

	client, _, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.NoError(t, err)
	defer client.Close()

	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
