package ajp

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Decoder turns a byte stream from a container into Messages. Data may
// arrive split at any point; a frame is only parsed once all of it has
// been buffered, so partial reads never corrupt message boundaries.
type Decoder struct {
	Logger   *zap.Logger
	buf      []byte
	start    int
	expected int64 // remaining bytes announced by Content-Length, or -1
	skipped  int64
	run      int64 // bytes skipped since the last frame start
	first    byte  // first byte of the current run
}

// NewDecoder returns an empty Decoder.
func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{
		Logger:   logger,
		buf:      make([]byte, 0, MaxMessageSize*2),
		expected: -1,
	}
}

// Write appends stream data to the Decoder. It never fails.
// Chunk slices returned by Next are only valid until the next Write.
func (dec *Decoder) Write(p []byte) (int, error) {
	if dec.start > 0 {
		n := copy(dec.buf, dec.buf[dec.start:])
		dec.buf = dec.buf[:n]
		dec.start = 0
	}
	dec.buf = append(dec.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting to be decoded.
func (dec *Decoder) Buffered() int {
	return len(dec.buf) - dec.start
}

// Skipped returns the number of bytes discarded while looking for a frame start.
func (dec *Decoder) Skipped() int64 {
	return dec.skipped
}

// ExpectedBytes returns the number of response body bytes still expected
// according to the last Content-Length seen, and false if unknown.
func (dec *Decoder) ExpectedBytes() (int64, bool) {
	return dec.expected, dec.expected >= 0
}

// Next decodes the next complete Message. It returns false with a nil error
// if more data is needed. A non-nil error means the stream is unusable.
func (dec *Decoder) Next() (m Message, ok bool, err error) {
	for {
		data := dec.buf[dec.start:]
		if len(data) < 1 {
			return
		}
		if data[0] != ContainerMagic0 {
			dec.skip(data[0])
			continue
		}
		if len(data) < 2 {
			return
		}
		if data[1] != ContainerMagic1 {
			dec.skip(data[0])
			continue
		}
		dec.endRun()
		if len(data) < FrameHeaderSize {
			return
		}
		size := FrameHeader(data[:FrameHeaderSize]).SizeValue()
		if size > MaxPayloadSize {
			err = errors.Wrapf(ProtocolError{}, "frame size %d exceeds %d", size, MaxPayloadSize)
			return
		}
		if len(data) < FrameHeaderSize+size {
			return
		}
		dec.start += FrameHeaderSize + size
		if m, err = parseMessage(data[FrameHeaderSize : FrameHeaderSize+size]); err != nil {
			return
		}
		dec.account(&m)
		ok = true
		return
	}
}

func (dec *Decoder) skip(b byte) {
	if dec.run == 0 {
		dec.first = b
	}
	dec.start++
	dec.skipped++
	dec.run++
}

// endRun logs the bytes skipped before a frame start, if any.
func (dec *Decoder) endRun() {
	if dec.run > 0 {
		dec.Logger.Warn("skipped unexpected bytes",
			zap.Int64("count", dec.run), zap.String("first", fmt.Sprintf("0x%02x", dec.first)))
		dec.run = 0
	}
}

func (dec *Decoder) account(m *Message) {
	switch m.Type {
	case MessageTypeSendHeaders:
		dec.expected = m.ContentLength
	case MessageTypeSendBodyChunk:
		if dec.expected >= 0 {
			dec.expected -= int64(len(m.Chunk))
		}
	}
}

// Reset discards buffered data and byte accounting.
func (dec *Decoder) Reset() {
	dec.endRun()
	dec.buf = dec.buf[:0]
	dec.start = 0
	dec.expected = -1
}
