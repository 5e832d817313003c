package core

import "errors"

type SessionID string

// Frame is a raw binary payload (an interleaved PCM chunk).
type Frame []byte

type MessageKind int

const (
	MessageBinary MessageKind = iota
	MessageText
)

// InboundMessage is one frame read from the client connection.
type InboundMessage struct {
	Kind MessageKind
	Data Frame
}

// ErrDisconnected is returned by InboundChannel.Receive once the client
// has gone away cleanly.
var ErrDisconnected = errors.New("inbound disconnected")
