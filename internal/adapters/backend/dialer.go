// Package backend implements core.TranscriptionLink against the streaming
// speech recognition services the relay can forward to.
package backend

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/sttrelay/internal/config"
	"github.com/dkeye/sttrelay/internal/core"
	"github.com/dkeye/sttrelay/internal/domain"
)

var ErrLinkClosed = errors.New("transcription link closed")

// NewDialer builds the dialer for the configured provider. The returned
// closer releases resources shared by all links of the dialer.
func NewDialer(cfg *config.Config) (core.LinkDialer, func() error, error) {
	switch cfg.Backend.Provider {
	case config.ProviderSarvam:
		d := NewSarvamDialer(SarvamConfig{
			URL:          cfg.Backend.URL,
			APIKey:       cfg.Backend.APIKey,
			Language:     cfg.Backend.Language,
			Model:        cfg.Backend.Model,
			Encoding:     cfg.Backend.Encoding,
			SampleRate:   cfg.Audio.SampleRate,
			DialTimeout:  cfg.Backend.DialTimeout,
			WriteWait:    cfg.WriteWait,
			ResultBuffer: cfg.Relay.ResultBuffer,
		})
		return d, func() error { return nil }, nil
	case config.ProviderYandex:
		d, err := NewYandexDialer(YandexConfig{
			Endpoint:     cfg.Backend.Yandex.Endpoint,
			IAMToken:     cfg.Backend.Yandex.IAMToken,
			FolderID:     cfg.Backend.Yandex.FolderID,
			Language:     cfg.Backend.Language,
			SampleRate:   cfg.Audio.SampleRate,
			ResultBuffer: cfg.Relay.ResultBuffer,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend provider %q", cfg.Backend.Provider)
	}
}

// linkState is the bookkeeping shared by link implementations: the result
// feed, its terminal error and the closed flag.
type linkState struct {
	results chan domain.TranscriptEvent
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	closed    bool
}

func newLinkState(buffer int) *linkState {
	if buffer <= 0 {
		buffer = 64
	}
	return &linkState{
		results: make(chan domain.TranscriptEvent, buffer),
		done:    make(chan struct{}),
	}
}

// emit delivers ev unless the link is closed first.
func (s *linkState) emit(ev domain.TranscriptEvent) bool {
	select {
	case s.results <- ev:
		return true
	case <-s.done:
		return false
	}
}

// end closes the feed; err is dropped when the link was closed locally.
func (s *linkState) end(err error) {
	s.mu.Lock()
	if !s.closed {
		s.err = err
	}
	s.mu.Unlock()
	close(s.results)
}

func (s *linkState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *linkState) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// markClosed reports whether this call performed the close.
func (s *linkState) markClosed() bool {
	first := false
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		first = true
	})
	return first
}

func writeDeadline(ctxDeadline time.Time, ok bool, wait time.Duration) time.Time {
	d := time.Now().Add(wait)
	if ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func (s *linkState) Results() <-chan domain.TranscriptEvent { return s.results }
