package domain

const (
	MessageTypeTranscriberResponse = "transcriber-response"

	ChannelCustomer = "customer"
)

// TranscriptEvent is one recognition result pushed by the backend.
type TranscriptEvent struct {
	Text    string
	Channel string
	Final   bool
}

// TranscriberResponse is the JSON frame relayed back to the client.
type TranscriberResponse struct {
	Type          string `json:"type"`
	Transcription string `json:"transcription"`
	Channel       string `json:"channel"`
}
