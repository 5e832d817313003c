package core

// InboundChannel abstracts the audio-producing client's connection.
// Owned by the adapter; the adapter must Close() it.
type InboundChannel interface {
	// Receive blocks until the next frame arrives.
	Receive() (InboundMessage, error)
	// SendJSON may be called concurrently with Receive.
	SendJSON(v any) error
	Close() error
}
