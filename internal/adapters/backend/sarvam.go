package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sttrelay/internal/audio"
	"github.com/dkeye/sttrelay/internal/core"
	"github.com/dkeye/sttrelay/internal/domain"
)

type SarvamConfig struct {
	URL          string
	APIKey       string
	Language     string
	Model        string
	Encoding     string
	SampleRate   int
	DialTimeout  time.Duration
	WriteWait    time.Duration
	ResultBuffer int
}

type sarvamAudio struct {
	Audio struct {
		Data       string `json:"data"`
		SampleRate string `json:"sample_rate"`
		Encoding   string `json:"encoding"`
	} `json:"audio"`
}

type sarvamControl struct {
	Type string `json:"type"`
}

type sarvamMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type sarvamTranscript struct {
	RequestID    string `json:"request_id"`
	Transcript   string `json:"transcript"`
	LanguageCode string `json:"language_code"`
}

type sarvamError struct {
	Error string `json:"error"`
	Code  any    `json:"code"`
}

// SarvamDialer opens streaming speech-to-text websockets.
type SarvamDialer struct {
	cfg    SarvamConfig
	dialer *websocket.Dialer
}

func NewSarvamDialer(cfg SarvamConfig) *SarvamDialer {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	return &SarvamDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
	}
}

func (d *SarvamDialer) endpoint() (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse sarvam url: %w", err)
	}
	q := u.Query()
	if d.cfg.Language != "" {
		q.Set("language-code", d.cfg.Language)
	}
	if d.cfg.Model != "" {
		q.Set("model", d.cfg.Model)
	}
	q.Set("sample_rate", strconv.Itoa(d.cfg.SampleRate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *SarvamDialer) Open(ctx context.Context) (core.TranscriptionLink, error) {
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if d.cfg.APIKey != "" {
		header.Set("Api-Subscription-Key", d.cfg.APIKey)
	}

	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
		defer cancel()
	}
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("sarvam dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("sarvam dial: %w", err)
	}
	log.Info().Str("module", "backend.sarvam").Str("url", d.cfg.URL).Msg("connected")

	l := &sarvamLink{
		linkState: newLinkState(d.cfg.ResultBuffer),
		conn:      conn,
		cfg:       d.cfg,
		rate:      strconv.Itoa(d.cfg.SampleRate),
	}
	go l.readLoop()
	return l, nil
}

type sarvamLink struct {
	*linkState
	conn *websocket.Conn
	cfg  SarvamConfig
	rate string

	writeMu sync.Mutex
}

func (l *sarvamLink) Send(ctx context.Context, samples []int16) error {
	var msg sarvamAudio
	msg.Audio.Data = audio.EncodeBase64(samples)
	msg.Audio.SampleRate = l.rate
	msg.Audio.Encoding = l.cfg.Encoding
	return l.writeJSON(ctx, msg)
}

// Finish asks the service to transcribe whatever it has buffered.
func (l *sarvamLink) Finish(ctx context.Context) error {
	return l.writeJSON(ctx, sarvamControl{Type: "flush"})
}

func (l *sarvamLink) writeJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.isClosed() {
		return ErrLinkClosed
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if err := l.conn.SetWriteDeadline(writeDeadline(deadline, ok, l.cfg.WriteWait)); err != nil {
		return err
	}
	if err := l.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("sarvam write: %w", err)
	}
	return nil
}

func (l *sarvamLink) Close() error {
	if !l.markClosed() {
		return nil
	}
	l.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	l.writeMu.Unlock()
	return l.conn.Close()
}

func (l *sarvamLink) readLoop() {
	logger := log.With().Str("module", "backend.sarvam").Logger()
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			l.end(err)
			return
		}

		var msg sarvamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("bad json from backend")
			continue
		}
		switch msg.Type {
		case "data":
			var tr sarvamTranscript
			if err := json.Unmarshal(msg.Data, &tr); err != nil {
				logger.Warn().Err(err).Msg("bad transcript payload")
				continue
			}
			if strings.TrimSpace(tr.Transcript) == "" {
				continue
			}
			if !l.emit(domain.TranscriptEvent{Text: tr.Transcript, Final: true}) {
				l.end(nil)
				return
			}
		case "error":
			var e sarvamError
			_ = json.Unmarshal(msg.Data, &e)
			l.end(fmt.Errorf("sarvam error: %s (code %v)", e.Error, e.Code))
			return
		default:
			logger.Debug().Str("type", msg.Type).Msg("backend event ignored")
		}
	}
}
