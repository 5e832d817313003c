package core

import (
	"context"

	"github.com/dkeye/sttrelay/internal/domain"
)

// TranscriptionLink is one streaming session against the transcription backend.
type TranscriptionLink interface {
	// Send transmits one window of mono samples. Calls must come from a
	// single goroutine so the backend sees windows in production order.
	Send(ctx context.Context, samples []int16) error
	// Results yields recognized text until the backend ends the stream or
	// the link is closed. Events without text never reach the channel.
	Results() <-chan domain.TranscriptEvent
	// Finish tells the backend that no more audio follows.
	Finish(ctx context.Context) error
	// Err reports why Results was closed; nil for a clean end.
	Err() error
	// Close releases backend resources. Safe to call more than once.
	Close() error
}

// LinkDialer opens TranscriptionLinks; it blocks until the backend
// session is established.
type LinkDialer interface {
	Open(ctx context.Context) (TranscriptionLink, error)
}
