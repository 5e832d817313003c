package core

// AudioSink receives every raw inbound frame of one session.
type AudioSink interface {
	Write(Frame) error
	Close() error
}

type SinkFactory interface {
	Open(sid SessionID) (AudioSink, error)
}
