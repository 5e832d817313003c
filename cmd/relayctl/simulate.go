package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkeye/sttrelay/internal/simulator"
)

func simulateCmd() *cobra.Command {
	var (
		file       string
		sampleRate int
		channels   int
		chunk      time.Duration
		toneFor    time.Duration
		linger     time.Duration
		fast       bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Stream audio into the relay like a voice platform and print the transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL, err := streamURL(relayURL)
			if err != nil {
				return err
			}

			clip := simulator.Tone(440, toneFor, sampleRate, channels)
			if file != "" {
				if clip, err = simulator.LoadClip(file, sampleRate, channels); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "streaming %s of %d Hz/%d ch audio to %s\n", clip.Duration(), clip.SampleRate, clip.Channels, wsURL)

			stats, err := simulator.Run(cmd.Context(), simulator.Options{
				URL:      wsURL,
				Chunk:    chunk,
				Realtime: !fast,
				Linger:   linger,
			}, clip, func(msg []byte) {
				fmt.Fprintf(out, "< %s\n", msg)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "sent %d chunks (%d bytes), received %d messages\n", stats.Chunks, stats.Bytes, stats.Messages)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "audio file (.wav, or raw interleaved 16-bit PCM); a tone is generated when empty")
	cmd.Flags().IntVar(&sampleRate, "sample-rate", 16000, "sample rate of raw input and generated tone")
	cmd.Flags().IntVar(&channels, "channels", 2, "channel count of raw input and generated tone")
	cmd.Flags().DurationVar(&chunk, "chunk", 20*time.Millisecond, "audio duration per binary frame")
	cmd.Flags().DurationVar(&toneFor, "tone", 3*time.Second, "length of the generated tone")
	cmd.Flags().DurationVar(&linger, "linger", 3*time.Second, "time to wait for transcripts after the last frame")
	cmd.Flags().BoolVar(&fast, "fast", false, "send frames as fast as possible instead of in real time")
	return cmd
}

// streamURL turns the relay base URL into its websocket endpoint.
func streamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}
