package domain

import "time"

// MessageType is the coarse content type tag attached by the extractor.
type MessageType string

const (
	MessageTypeText    MessageType = "text"
	MessageTypeVoice   MessageType = "voice"
	MessageTypeImage   MessageType = "image"
	MessageTypeUnknown MessageType = "unknown"
)

// ParseMessageType maps an extractor tag onto a known type.
func ParseMessageType(s string) MessageType {
	switch MessageType(s) {
	case MessageTypeText, MessageTypeVoice, MessageTypeImage:
		return MessageType(s)
	default:
		return MessageTypeUnknown
	}
}

// Message is one inbound message lifted off the content surface.
// Immutable after extraction: rule matching and templating read it,
// nothing downstream writes it back.
type Message struct {
	Platform   string
	Sender     string
	Receiver   string
	Content    string
	Type       MessageType
	ObservedAt time.Time
}
