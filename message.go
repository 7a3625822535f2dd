package ajp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownMessageType is returned when a frame carries a message type
// prefix the container may not send. It is fatal to the Conn.
type ErrUnknownMessageType struct {
	Value MessageType // The invalid message type value received.
}

func (e ErrUnknownMessageType) Error() string {
	return fmt.Sprintf("unknown message type 0x%02x", byte(e.Value))
}

// Message is a decoded container message. Type selects which of the
// remaining fields are meaningful:
//
//	MessageTypeCPong         no fields
//	MessageTypeSendHeaders   Status, Reason, Headers, ContentLength
//	MessageTypeSendBodyChunk Chunk
//	MessageTypeGetBodyChunk  Requested
//	MessageTypeEndResponse   Reuse
type Message struct {
	Type          MessageType
	Status        int
	Reason        string
	Headers       []Header
	ContentLength int64 // -1 if the response has no Content-Length header
	Chunk         []byte
	Requested     int
	Reuse         bool
}

func (m *Message) String() string {
	switch m.Type {
	case MessageTypeSendHeaders:
		return fmt.Sprintf("[%v %d %q %d headers]", m.Type, m.Status, m.Reason, len(m.Headers))
	case MessageTypeSendBodyChunk:
		return fmt.Sprintf("[%v %d]", m.Type, len(m.Chunk))
	case MessageTypeGetBodyChunk:
		return fmt.Sprintf("[%v %d]", m.Type, m.Requested)
	case MessageTypeEndResponse:
		return fmt.Sprintf("[%v reuse=%v]", m.Type, m.Reuse)
	}
	return fmt.Sprintf("[%v]", m.Type)
}

// parseMessage decodes a container frame payload.
func parseMessage(payload []byte) (m Message, err error) {
	fp := FrameParser(payload)
	if m.Type, err = fp.ReadMessageType(); err != nil {
		return
	}
	if !m.Type.fromContainer() {
		return m, errors.WithStack(ErrUnknownMessageType{Value: m.Type})
	}
	m.ContentLength = -1
	switch m.Type {
	case MessageTypeCPong:
	case MessageTypeSendHeaders:
		err = m.parseSendHeaders(&fp)
	case MessageTypeSendBodyChunk:
		var n uint16
		if n, err = fp.ReadUint16(); err == nil {
			m.Chunk, err = fp.ReadBytes(int(n))
		}
		// the chunk is followed by a zero byte which is not counted
	case MessageTypeGetBodyChunk:
		var n uint16
		n, err = fp.ReadUint16()
		m.Requested = int(n)
	case MessageTypeEndResponse:
		m.Reuse, err = fp.ReadBool()
	}
	return
}

func (m *Message) parseSendHeaders(fp *FrameParser) (err error) {
	var status, count uint16
	if status, err = fp.ReadUint16(); err != nil {
		return
	}
	m.Status = int(status)
	if m.Reason, _, err = fp.ReadString(); err != nil {
		return
	}
	if count, err = fp.ReadUint16(); err != nil {
		return
	}
	m.Headers = make([]Header, 0, int(count))
	for i := 0; i < int(count); i++ {
		var h Header
		var code uint16
		if code, err = fp.PeekUint16(); err != nil {
			return
		}
		if name, ok := ResponseHeaderName(code); ok {
			h.Name = name
			_, _ = fp.ReadUint16()
		} else if h.Name, _, err = fp.ReadString(); err != nil {
			return
		}
		if h.Value, _, err = fp.ReadString(); err != nil {
			return
		}
		if m.ContentLength < 0 && strings.EqualFold(h.Name, "Content-Length") {
			if n, perr := strconv.ParseInt(h.Value, 10, 64); perr == nil && n >= 0 {
				m.ContentLength = n
			}
		}
		m.Headers = append(m.Headers, h)
	}
	return
}
