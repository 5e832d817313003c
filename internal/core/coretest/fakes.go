// Package coretest provides in-memory implementations of the core
// interfaces for use in tests.
package coretest

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/sttrelay/internal/core"
	"github.com/dkeye/sttrelay/internal/domain"
)

// Call is one recorded interaction with a FakeLink, in order.
type Call struct {
	Op      string // "send", "finish" or "close"
	Samples []int16
}

// FakeLink records every call made against it. Results are pushed by the
// test with Push and the feed is ended with End.
type FakeLink struct {
	mu      sync.Mutex
	calls   []Call
	ended   bool
	err     error
	done    chan struct{}
	sendMu  sync.Mutex // guards sends on results against its close
	results chan domain.TranscriptEvent

	// SendErr, when set, is returned by every Send.
	SendErr error
	// CloseResultsOnFinish ends the feed as soon as Finish is called,
	// like a backend that acknowledges end-of-stream.
	CloseResultsOnFinish bool
}

func NewFakeLink(buffer int) *FakeLink {
	return &FakeLink{
		done:    make(chan struct{}),
		results: make(chan domain.TranscriptEvent, buffer),
	}
}

func (l *FakeLink) Send(_ context.Context, samples []int16) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SendErr != nil {
		return l.SendErr
	}
	l.calls = append(l.calls, Call{Op: "send", Samples: slices.Clone(samples)})
	return nil
}

func (l *FakeLink) Results() <-chan domain.TranscriptEvent { return l.results }

func (l *FakeLink) Finish(context.Context) error {
	l.mu.Lock()
	l.calls = append(l.calls, Call{Op: "finish"})
	closeNow := l.CloseResultsOnFinish
	l.mu.Unlock()
	if closeNow {
		l.End(nil)
	}
	return nil
}

func (l *FakeLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *FakeLink) Close() error {
	l.mu.Lock()
	l.calls = append(l.calls, Call{Op: "close"})
	l.mu.Unlock()
	l.End(nil)
	return nil
}

// Push delivers an event on the results feed. It is a no-op once the feed
// has ended, and a Push blocked on a full feed returns when it ends.
func (l *FakeLink) Push(ev domain.TranscriptEvent) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.results <- ev:
	case <-l.done:
	}
}

// End closes the results feed with err as the terminal error.
func (l *FakeLink) End(err error) {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return
	}
	l.ended = true
	l.err = err
	close(l.done)
	l.mu.Unlock()

	l.sendMu.Lock()
	close(l.results)
	l.sendMu.Unlock()
}

func (l *FakeLink) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

// Sends returns only the sample windows passed to Send.
func (l *FakeLink) Sends() [][]int16 {
	var out [][]int16
	for _, c := range l.Calls() {
		if c.Op == "send" {
			out = append(out, c.Samples)
		}
	}
	return out
}

// FakeDialer hands out a fixed link, or fails with Err.
type FakeDialer struct {
	mu    sync.Mutex
	Link  core.TranscriptionLink
	Err   error
	opens int
}

func (d *FakeDialer) Open(context.Context) (core.TranscriptionLink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Link, nil
}

func (d *FakeDialer) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// FakeInbound replays queued messages from Receive. When the queue is
// empty, Receive blocks until Disconnect, Fail or Close is called.
type FakeInbound struct {
	in     chan core.InboundMessage
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
	sent   [][]byte
	closed bool

	// SendErr, when set, is returned by every SendJSON.
	SendErr error
}

func NewFakeInbound() *FakeInbound {
	return &FakeInbound{
		in:   make(chan core.InboundMessage, 1024),
		done: make(chan struct{}),
	}
}

func (f *FakeInbound) QueueText(v any) {
	var b []byte
	switch t := v.(type) {
	case string:
		b = []byte(t)
	case []byte:
		b = t
	default:
		b, _ = json.Marshal(v)
	}
	f.in <- core.InboundMessage{Kind: core.MessageText, Data: b}
}

func (f *FakeInbound) QueueBinary(b []byte) {
	f.in <- core.InboundMessage{Kind: core.MessageBinary, Data: slices.Clone(b)}
}

// Disconnect makes Receive return core.ErrDisconnected once the queue drains.
func (f *FakeInbound) Disconnect() { f.Fail(core.ErrDisconnected) }

// Fail makes Receive return err once the queue drains.
func (f *FakeInbound) Fail(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *FakeInbound) Receive() (core.InboundMessage, error) {
	select {
	case m := <-f.in:
		return m, nil
	default:
	}
	select {
	case m := <-f.in:
		return m, nil
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return core.InboundMessage{}, f.err
	}
}

func (f *FakeInbound) SendJSON(v any) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fake inbound closed")
	}
	f.sent = append(f.sent, b)
	return nil
}

func (f *FakeInbound) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.Fail(core.ErrDisconnected)
	return nil
}

func (f *FakeInbound) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Sent returns the raw JSON of every message sent to the client.
func (f *FakeInbound) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

// SentResponses decodes every sent message as a TranscriberResponse.
func (f *FakeInbound) SentResponses() []domain.TranscriberResponse {
	var out []domain.TranscriberResponse
	for _, b := range f.Sent() {
		var r domain.TranscriberResponse
		if json.Unmarshal(b, &r) == nil {
			out = append(out, r)
		}
	}
	return out
}
