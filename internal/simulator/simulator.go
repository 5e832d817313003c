// Package simulator plays audio into a relay the way a voice platform
// does: a start message, then real-time binary PCM chunks.
package simulator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/sttrelay/internal/audio"
	"github.com/dkeye/sttrelay/internal/domain"
)

type Options struct {
	URL        string
	SampleRate int
	Channels   int
	// Chunk is the audio duration carried by one binary frame.
	Chunk time.Duration
	// Realtime paces frames at Chunk intervals.
	Realtime bool
	// Linger keeps reading server messages after the last frame.
	Linger time.Duration
}

type Stats struct {
	Chunks   int
	Bytes    int
	Messages int
}

// Clip is interleaved 16-bit PCM with its format.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

func (c Clip) Duration() time.Duration {
	frame := c.Channels * audio.BytesPerSample
	if frame == 0 || c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.PCM)/frame) * time.Second / time.Duration(c.SampleRate)
}

// LoadClip reads a .wav file, or raw PCM in the given format otherwise.
func LoadClip(path string, sampleRate, channels int) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, err
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		info, pcm, err := audio.ParseWAV(data)
		if err != nil {
			return Clip{}, err
		}
		return Clip{PCM: pcm, SampleRate: info.SampleRate, Channels: info.Channels}, nil
	}
	return Clip{PCM: data, SampleRate: sampleRate, Channels: channels}, nil
}

// Tone renders a sine wave on every channel.
func Tone(freq float64, d time.Duration, sampleRate, channels int) Clip {
	frames := int(d.Seconds() * float64(sampleRate))
	pcm := make([]byte, frames*channels*audio.BytesPerSample)
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)) * 8000)
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * audio.BytesPerSample
			binary.LittleEndian.PutUint16(pcm[off:], uint16(v))
		}
	}
	return Clip{PCM: pcm, SampleRate: sampleRate, Channels: channels}
}

// Run streams clip to opts.URL and calls onMessage for each text frame
// the relay sends back.
func Run(ctx context.Context, opts Options, clip Clip, onMessage func([]byte)) (Stats, error) {
	if opts.Chunk <= 0 {
		opts.Chunk = 20 * time.Millisecond
	}
	frameBytes := clip.Channels * audio.BytesPerSample
	chunkBytes := int(opts.Chunk.Seconds()*float64(clip.SampleRate)) * frameBytes
	if chunkBytes <= 0 {
		return Stats{}, errors.New("chunk too small for clip format")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()
	logger := log.With().Str("module", "simulator").Str("url", opts.URL).Logger()

	var stats Stats
	var messages atomic.Int64
	sent := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()
	g.Go(func() error {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-sent:
					return nil
				default:
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			if mt == websocket.TextMessage {
				messages.Add(1)
				if onMessage != nil {
					onMessage(data)
				}
			}
		}
	})
	g.Go(func() error {
		defer close(sent)
		start := domain.StartMessage{
			Type:       domain.MessageTypeStart,
			Encoding:   "linear16",
			Container:  "raw",
			SampleRate: clip.SampleRate,
			Channels:   clip.Channels,
		}
		if err := conn.WriteJSON(start); err != nil {
			return fmt.Errorf("send start: %w", err)
		}
		logger.Info().Int("sample_rate", clip.SampleRate).Int("channels", clip.Channels).Msg("sent start message")

		ticker := time.NewTicker(opts.Chunk)
		defer ticker.Stop()
		for off := 0; off < len(clip.PCM); off += chunkBytes {
			end := min(off+chunkBytes, len(clip.PCM))
			if err := conn.WriteMessage(websocket.BinaryMessage, clip.PCM[off:end]); err != nil {
				return fmt.Errorf("send chunk: %w", err)
			}
			stats.Chunks++
			stats.Bytes += end - off
			if opts.Realtime {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
				}
			}
		}
		logger.Info().Int("chunks", stats.Chunks).Msg("done streaming audio")

		if opts.Linger > 0 {
			select {
			case <-gctx.Done():
			case <-time.After(opts.Linger):
			}
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		// Unblock the reader if the relay never answers the close.
		time.AfterFunc(2*time.Second, func() { _ = conn.Close() })
		return nil
	})

	err = g.Wait()
	stats.Messages = int(messages.Load())
	return stats, err
}
