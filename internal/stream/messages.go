package stream

import "encoding/json"

// Outbound message types.
const (
	TypeSession    = "session"
	TypeAudioChunk = "audio_chunk"
	TypeSegmentEnd = "segment_end"
)

// Inbound message types.
const (
	TypeSessionAck       = "session_ack"
	TypeChunkReceived    = "chunk_received"
	TypeSegmentProcessed = "segment_processed"
	TypeTranscription    = "transcription"
	TypeChatbotResponse  = "chatbot_response"
	TypeError            = "error"
)

// sessionMsg opens the stream: it is always the first message on a fresh
// socket so the server can associate the connection with a client session.
type sessionMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// audioChunkMsg carries one base64-encoded Opus packet.
type audioChunkMsg struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// segmentEndMsg marks the boundary of a finished speech segment.
type segmentEndMsg struct {
	Type string `json:"type"`
}

// Inbound is the decoded form of a server message. Only the fields for the
// given Type are populated.
type Inbound struct {
	Type string `json:"type"`

	// transcription
	Text    string `json:"text,omitempty"`
	Speaker string `json:"speaker,omitempty"`

	// chatbot_response
	Response      string `json:"response,omitempty"`
	Transcription string `json:"transcription,omitempty"`
	BackendUsed   string `json:"backend_used,omitempty"`

	// error (and chatbot_response partial failure)
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func decodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	err := json.Unmarshal(data, &in)
	return in, err
}
