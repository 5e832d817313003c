// Package relay runs one stream session: it validates the start message,
// pushes downmixed audio windows to a transcription link and relays the
// link's results back to the client until the client goes away.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sttrelay/internal/audio"
	"github.com/dkeye/sttrelay/internal/core"
	"github.com/dkeye/sttrelay/internal/domain"
	"github.com/dkeye/sttrelay/internal/metrics"
)

var (
	ErrHandshakeRejected  = errors.New("handshake rejected")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

type Options struct {
	Codec         audio.FrameCodec
	WindowSamples int
	// GracePeriod bounds the wait for the backend to end its result stream
	// after Finish.
	GracePeriod time.Duration
	Dialer      core.LinkDialer
	// Sinks is optional; when set every raw inbound frame is copied to it.
	Sinks   core.SinkFactory
	Metrics *metrics.Metrics
}

type Coordinator struct {
	opts Options
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.WindowSamples <= 0 {
		panic("relay: window samples must be positive")
	}
	if opts.Dialer == nil {
		panic("relay: dialer is required")
	}
	return &Coordinator{opts: opts}
}

// Run drives sess over in until the client disconnects or ctx is done.
// It returns ErrHandshakeRejected or ErrBackendUnavailable when the session
// never reached streaming, and nil once a streaming session has drained.
// Run does not close in on return; the caller owns it.
func (c *Coordinator) Run(ctx context.Context, sess *Session, in core.InboundChannel) error {
	logger := log.With().Str("module", "relay").Str("sid", string(sess.ID)).Logger()
	c.opts.Metrics.SessionOpened()

	outcome := metrics.OutcomeCompleted
	defer func() {
		sess.setState(StateClosed)
		c.opts.Metrics.SessionClosed(outcome, time.Since(sess.StartedAt))
		logger.Info().
			Str("outcome", outcome).
			Uint64("chunks", sess.Chunks()).
			Uint64("windows", sess.Windows()).
			Msg("session closed")
	}()

	// Unblocks Receive when the session is cancelled from outside.
	stop := context.AfterFunc(ctx, func() { _ = in.Close() })
	defer stop()

	start, err := awaitHandshake(in)
	if err != nil {
		outcome = metrics.OutcomeRejected
		logger.Warn().Err(err).Msg("handshake rejected")
		return err
	}
	sess.setHandshake(start)
	logger.Info().
		Str("encoding", start.Encoding).
		Int("sample_rate", start.SampleRate).
		Int("channels", start.Channels).
		Msg("handshake accepted")

	link, err := c.opts.Dialer.Open(ctx)
	if err != nil {
		outcome = metrics.OutcomeBackendUnavailable
		logger.Error().Err(err).Msg("failed to open transcription link")
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	// Backend calls outlive ctx so a cancelled session still drains.
	linkCtx := context.WithoutCancel(ctx)
	relayCtx, cancelRelay := context.WithCancel(linkCtx)
	defer cancelRelay()

	sess.setState(StateStreaming)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		c.relayResults(relayCtx, link, in, &logger)
	}()

	buf := audio.NewWindowBuffer(c.opts.WindowSamples)
	sink := c.openSink(sess.ID, &logger)
	c.inboundLoop(linkCtx, sess, in, link, buf, sink, &logger)

	sess.setState(StateDraining)
	c.drain(linkCtx, sess, link, buf, relayDone, &logger)
	cancelRelay()
	if err := link.Close(); err != nil {
		logger.Warn().Err(err).Msg("link close error")
	}
	<-relayDone
	sink.close()
	return nil
}

func awaitHandshake(in core.InboundChannel) (domain.StartMessage, error) {
	var start domain.StartMessage
	msg, err := in.Receive()
	if err != nil {
		return start, fmt.Errorf("%w: %w", ErrHandshakeRejected, err)
	}
	if msg.Kind != core.MessageText {
		return start, fmt.Errorf("%w: first frame is binary", ErrHandshakeRejected)
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg.Data, &head); err != nil {
		return start, fmt.Errorf("%w: %w", ErrHandshakeRejected, err)
	}
	if head.Type != domain.MessageTypeStart {
		return start, fmt.Errorf("%w: unexpected type %q", ErrHandshakeRejected, head.Type)
	}
	// Descriptive fields are informational only; one of an unexpected JSON
	// type is left zero and the rest still decode.
	_ = json.Unmarshal(msg.Data, &start)
	start.Type = head.Type
	return start, nil
}

// inboundLoop returns when the client disconnects, a receive fails or the
// link rejects a window.
func (c *Coordinator) inboundLoop(
	ctx context.Context,
	sess *Session,
	in core.InboundChannel,
	link core.TranscriptionLink,
	buf *audio.WindowBuffer,
	sink *sinkWriter,
	logger *zerolog.Logger,
) {
	for {
		msg, err := in.Receive()
		if err != nil {
			if errors.Is(err, core.ErrDisconnected) {
				logger.Info().Msg("client disconnected")
			} else {
				logger.Warn().Err(err).Msg("inbound receive error")
			}
			return
		}

		if msg.Kind == core.MessageText {
			logger.Info().Str("text", string(msg.Data)).Msg("text frame ignored")
			continue
		}

		sess.chunks.Add(1)
		c.opts.Metrics.ChunkReceived()
		sink.write(msg.Data)

		samples, err := c.opts.Codec.Decode(msg.Data)
		if err != nil {
			c.opts.Metrics.ChunkMalformed()
			logger.Warn().Err(err).Uint64("chunk", sess.Chunks()).Msg("dropping chunk")
			continue
		}
		for _, w := range buf.Ingest(samples) {
			if err := c.send(ctx, sess, link, w); err != nil {
				logger.Error().Err(err).Msg("backend send failed")
				return
			}
		}
	}
}

// drain pushes the buffered remainder and one silence window, signals end
// of audio, then waits for the result stream to end or the grace period.
func (c *Coordinator) drain(
	ctx context.Context,
	sess *Session,
	link core.TranscriptionLink,
	buf *audio.WindowBuffer,
	relayDone <-chan struct{},
	logger *zerolog.Logger,
) {
	tail := []audio.Window{buf.Flush(), audio.Silence(c.opts.WindowSamples)}
	for _, w := range tail {
		if len(w) == 0 {
			continue
		}
		if err := c.send(ctx, sess, link, w); err != nil {
			logger.Warn().Err(err).Msg("drain send failed")
			return
		}
	}
	if err := link.Finish(ctx); err != nil {
		logger.Warn().Err(err).Msg("link finish failed")
		return
	}

	timer := time.NewTimer(c.opts.GracePeriod)
	defer timer.Stop()
	select {
	case <-relayDone:
		logger.Debug().Msg("result stream ended")
	case <-timer.C:
		logger.Debug().Dur("grace", c.opts.GracePeriod).Msg("grace period elapsed")
	}
}

func (c *Coordinator) send(ctx context.Context, sess *Session, link core.TranscriptionLink, w audio.Window) error {
	if err := link.Send(ctx, w); err != nil {
		return err
	}
	sess.windows.Add(1)
	c.opts.Metrics.WindowSent()
	return nil
}

// relayResults forwards transcripts until the link's feed ends, ctx is
// cancelled or the client rejects a write.
func (c *Coordinator) relayResults(
	ctx context.Context,
	link core.TranscriptionLink,
	in core.InboundChannel,
	logger *zerolog.Logger,
) {
	results := link.Results()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay loop cancelled")
			return
		case ev, ok := <-results:
			if !ok {
				if err := link.Err(); err != nil {
					c.opts.Metrics.RelayFault()
					logger.Error().Err(err).Msg("result stream failed")
				}
				return
			}
			text := strings.TrimSpace(ev.Text)
			if text == "" {
				continue
			}
			channel := ev.Channel
			if channel == "" {
				channel = domain.ChannelCustomer
			}
			resp := domain.TranscriberResponse{
				Type:          domain.MessageTypeTranscriberResponse,
				Transcription: text,
				Channel:       channel,
			}
			if err := in.SendJSON(resp); err != nil {
				c.opts.Metrics.RelayFault()
				logger.Error().Err(err).Msg("relay send failed")
				return
			}
			c.opts.Metrics.TranscriptRelayed()
			logger.Debug().Str("text", text).Bool("final", ev.Final).Msg("transcript relayed")
		}
	}
}

type sinkWriter struct {
	sink   core.AudioSink
	logger *zerolog.Logger
}

func (c *Coordinator) openSink(sid core.SessionID, logger *zerolog.Logger) *sinkWriter {
	if c.opts.Sinks == nil {
		return &sinkWriter{}
	}
	sink, err := c.opts.Sinks.Open(sid)
	if err != nil {
		logger.Warn().Err(err).Msg("audio dump disabled for session")
		return &sinkWriter{}
	}
	return &sinkWriter{sink: sink, logger: logger}
}

// write disables the sink after its first failure.
func (w *sinkWriter) write(f core.Frame) {
	if w.sink == nil {
		return
	}
	if err := w.sink.Write(f); err != nil {
		w.logger.Warn().Err(err).Msg("audio dump write failed, disabling")
		w.close()
	}
}

func (w *sinkWriter) close() {
	if w.sink == nil {
		return
	}
	if err := w.sink.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("audio dump close failed")
	}
	w.sink = nil
}
