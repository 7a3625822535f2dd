package ajp

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolError is the error type used for reporting malformed frames,
// all of which are fatal to a Conn.
type ProtocolError struct{}

func (err ProtocolError) Error() string { return "protocol error" }

// FrameParser implements consuming reads from a frame payload.
type FrameParser []byte

// NewFrameParser returns a FrameParser reading the payload of a FrameData.
func NewFrameParser(fd FrameData) FrameParser {
	return FrameParser(fd.Payload())
}

func (fp FrameParser) String() string {
	switch {
	case len(fp) < 1:
		return "[FrameParser 0]"
	case len(fp) < 32:
		return fmt.Sprintf("[FrameParser %v %v]", len(fp), hex.EncodeToString(fp))
	default:
		return fmt.Sprintf("[FrameParser %v %v...]", len(fp), hex.EncodeToString(fp[:32]))
	}
}

func (fp *FrameParser) need(n int) error {
	if len(*fp) < n {
		return errors.Wrapf(ProtocolError{}, "truncated payload, need %d bytes, have %d", n, len(*fp))
	}
	return nil
}

// ReadUint8 reads a single byte.
func (fp *FrameParser) ReadUint8() (b byte, err error) {
	if err = fp.need(1); err == nil {
		b = (*fp)[0]
		*fp = (*fp)[1:]
	}
	return
}

// ReadBool reads a byte as a boolean.
func (fp *FrameParser) ReadBool() (bool, error) {
	b, err := fp.ReadUint8()
	return b != 0, err
}

// ReadMessageType reads a byte as a MessageType.
func (fp *FrameParser) ReadMessageType() (MessageType, error) {
	b, err := fp.ReadUint8()
	return MessageType(b), err
}

// PeekUint16 returns the next big-endian uint16 without consuming it.
func (fp FrameParser) PeekUint16() (n uint16, err error) {
	if err = fp.need(2); err == nil {
		n = uint16(fp[0])<<8 | uint16(fp[1])
	}
	return
}

// ReadUint16 reads a big-endian uint16.
func (fp *FrameParser) ReadUint16() (n uint16, err error) {
	if n, err = fp.PeekUint16(); err == nil {
		*fp = (*fp)[2:]
	}
	return
}

// ReadBytes reads n raw bytes. The returned slice aliases the payload.
func (fp *FrameParser) ReadBytes(n int) (p []byte, err error) {
	if err = fp.need(n); err == nil {
		p = (*fp)[:n:n]
		*fp = (*fp)[n:]
	}
	return
}

// ReadString reads an AJP string. A length of -1 is the null string.
// The byte following the string data is the zero terminator and is skipped.
func (fp *FrameParser) ReadString() (s string, isNull bool, err error) {
	var n uint16
	if n, err = fp.ReadUint16(); err != nil {
		return
	}
	if int16(n) < 0 {
		isNull = true
		return
	}
	var p []byte
	if p, err = fp.ReadBytes(int(n)); err != nil {
		return
	}
	s = string(p)
	if len(*fp) > 0 {
		*fp = (*fp)[1:]
	}
	return
}
