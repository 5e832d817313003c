package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	speechkit "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/stt/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dkeye/sttrelay/internal/audio"
	"github.com/dkeye/sttrelay/internal/core"
	"github.com/dkeye/sttrelay/internal/domain"
)

type YandexConfig struct {
	Endpoint     string
	IAMToken     string
	FolderID     string
	Language     string
	SampleRate   int
	ResultBuffer int
}

// YandexDialer opens SpeechKit v3 RecognizeStreaming calls over one shared
// gRPC connection.
type YandexDialer struct {
	cfg    YandexConfig
	conn   *grpc.ClientConn
	client speechkit.RecognizerClient
}

func NewYandexDialer(cfg YandexConfig, opts ...grpc.DialOption) (*YandexDialer, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{}))}
	}
	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to yandex stt: %w", err)
	}
	return &YandexDialer{
		cfg:    cfg,
		conn:   conn,
		client: speechkit.NewRecognizerClient(conn),
	}, nil
}

func (d *YandexDialer) Close() error {
	return d.conn.Close()
}

func (d *YandexDialer) sessionOptions() *speechkit.StreamingRequest {
	model := &speechkit.RecognitionModelOptions{
		AudioFormat: &speechkit.AudioFormatOptions{
			AudioFormat: &speechkit.AudioFormatOptions_RawAudio{
				RawAudio: &speechkit.RawAudio{
					AudioEncoding:     speechkit.RawAudio_LINEAR16_PCM,
					SampleRateHertz:   int64(d.cfg.SampleRate),
					AudioChannelCount: 1,
				},
			},
		},
		TextNormalization: &speechkit.TextNormalizationOptions{
			TextNormalization: speechkit.TextNormalizationOptions_TEXT_NORMALIZATION_ENABLED,
		},
		AudioProcessingType: speechkit.RecognitionModelOptions_REAL_TIME,
	}
	if d.cfg.Language != "" {
		model.LanguageRestriction = &speechkit.LanguageRestrictionOptions{
			RestrictionType: speechkit.LanguageRestrictionOptions_WHITELIST,
			LanguageCode:    []string{d.cfg.Language},
		}
	}
	return &speechkit.StreamingRequest{
		Event: &speechkit.StreamingRequest_SessionOptions{
			SessionOptions: &speechkit.StreamingOptions{RecognitionModel: model},
		},
	}
}

// Open starts a recognition stream. The stream is detached from ctx so it
// keeps working while the session drains; Close ends it.
func (d *YandexDialer) Open(ctx context.Context) (core.TranscriptionLink, error) {
	md := metadata.Pairs("x-folder-id", d.cfg.FolderID)
	if d.cfg.IAMToken != "" {
		md.Append("authorization", "Bearer "+d.cfg.IAMToken)
	}
	streamCtx, cancel := context.WithCancel(metadata.NewOutgoingContext(context.WithoutCancel(ctx), md))

	stream, err := d.client.RecognizeStreaming(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming client: %w", err)
	}
	if err := stream.Send(d.sessionOptions()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send session options: %w", err)
	}
	log.Info().Str("module", "backend.yandex").Str("endpoint", d.cfg.Endpoint).Msg("stream opened")

	l := &yandexLink{
		linkState: newLinkState(d.cfg.ResultBuffer),
		stream:    stream,
		cancel:    cancel,
	}
	go l.recvLoop()
	return l, nil
}

type yandexLink struct {
	*linkState
	stream speechkit.Recognizer_RecognizeStreamingClient
	cancel context.CancelFunc

	sendMu sync.Mutex
}

func (l *yandexLink) Send(ctx context.Context, samples []int16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.isClosed() {
		return ErrLinkClosed
	}
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	err := l.stream.Send(&speechkit.StreamingRequest{
		Event: &speechkit.StreamingRequest_Chunk{
			Chunk: &speechkit.AudioChunk{Data: audio.Encode(samples)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	return nil
}

// Finish half-closes the stream; the service answers with its last results
// and ends the call.
func (l *yandexLink) Finish(context.Context) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	return l.stream.CloseSend()
}

func (l *yandexLink) Close() error {
	if l.markClosed() {
		l.cancel()
	}
	return nil
}

func (l *yandexLink) recvLoop() {
	for {
		resp, err := l.stream.Recv()
		if errors.Is(err, io.EOF) {
			l.end(nil)
			return
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				err = nil
			}
			l.end(err)
			return
		}
		final := resp.GetFinal()
		if final == nil {
			continue
		}
		for _, alt := range final.GetAlternatives() {
			text := strings.TrimSpace(alt.GetText())
			if text == "" {
				continue
			}
			if !l.emit(domain.TranscriptEvent{Text: text, Final: true}) {
				l.end(nil)
				return
			}
			break
		}
	}
}
