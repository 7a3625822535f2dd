package ajp

import "fmt"

// MessageType enumerates the AJP13 message type prefixes.
type MessageType byte

const (
	// MessageTypeForwardRequest begins a request forwarded to the container.
	MessageTypeForwardRequest = MessageType(0x02)
	// MessageTypeSendBodyChunk carries response body data.
	MessageTypeSendBodyChunk = MessageType(0x03)
	// MessageTypeSendHeaders carries the response status and headers.
	MessageTypeSendHeaders = MessageType(0x04)
	// MessageTypeEndResponse ends the response and tells if the connection may be reused.
	MessageTypeEndResponse = MessageType(0x05)
	// MessageTypeGetBodyChunk asks for more request body data.
	MessageTypeGetBodyChunk = MessageType(0x06)
	// MessageTypeCPong is the container's answer to a CPing.
	MessageTypeCPong = MessageType(0x09)
	// MessageTypeCPing is a liveness probe.
	MessageTypeCPing = MessageType(0x0a)
)

var messageTypeTexts = map[MessageType]string{
	MessageTypeForwardRequest: "ForwardRequest",
	MessageTypeSendBodyChunk:  "SendBodyChunk",
	MessageTypeSendHeaders:    "SendHeaders",
	MessageTypeEndResponse:    "EndResponse",
	MessageTypeGetBodyChunk:   "GetBodyChunk",
	MessageTypeCPong:          "CPong",
	MessageTypeCPing:          "CPing",
}

func (mt MessageType) String() string {
	if s, ok := messageTypeTexts[mt]; ok {
		return s
	}
	return fmt.Sprintf("MessageType(0x%02x)", byte(mt))
}

// fromContainer returns true if the container may send this message type.
func (mt MessageType) fromContainer() bool {
	switch mt {
	case MessageTypeSendBodyChunk, MessageTypeSendHeaders, MessageTypeEndResponse,
		MessageTypeGetBodyChunk, MessageTypeCPong:
		return true
	}
	return false
}
