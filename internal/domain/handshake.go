// Package domain contains entities without logic, just meta-data
package domain

const MessageTypeStart = "start"

// StartMessage is the control frame that opens a stream session.
// Only Type is checked; the descriptive fields are logged and never
// negotiated against the relay's fixed audio format.
type StartMessage struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding,omitempty"`
	Container  string `json:"container,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}
