package ajp

import (
	"encoding/hex"
	"fmt"
	"io"
)

// ErrFrameTooLarge is returned when an encoded frame would exceed MaxMessageSize.
type ErrFrameTooLarge struct {
	Size int // The size the frame would have had.
}

func (e ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("frame size %d exceeds %d", e.Size, MaxMessageSize)
}

// FrameData is a byte buffer holding a frame header followed by the payload.
type FrameData []byte

// NewFrameData allocates an empty FrameData with room for a full frame.
func NewFrameData() FrameData {
	return make([]byte, 0, MaxMessageSize)
}

// NewClientFrameData allocates a FrameData with a client header in place.
func NewClientFrameData() FrameData {
	fd := NewFrameData()
	fd.WriteHeader()
	return fd
}

func (fd FrameData) String() string {
	if fd == nil {
		return "[FrameData nil]"
	}
	if len(fd) < FrameHeaderSize {
		return fmt.Sprintf("[FrameData %v]", hex.EncodeToString(fd))
	}
	payload := fd.Payload()
	if len(payload) > 32 {
		return fmt.Sprintf("[FrameData %v %v...]", fd.Header(), hex.EncodeToString(payload[:32]))
	}
	return fmt.Sprintf("[FrameData %v %v]", fd.Header(), hex.EncodeToString(payload))
}

// Clear truncates the FrameData to zero length.
func (fd *FrameData) Clear() {
	*fd = (*fd)[:0]
}

// WriteHeader resets the FrameData to contain only a client frame header.
func (fd *FrameData) WriteHeader() {
	*fd = append((*fd)[:0], ClientMagic0, ClientMagic1, 0, 0)
}

// Header returns the FrameHeader part of the FrameData.
func (fd FrameData) Header() FrameHeader {
	return FrameHeader(fd[:FrameHeaderSize])
}

// Payload returns the bytes following the header.
func (fd FrameData) Payload() []byte {
	return fd[FrameHeaderSize:]
}

// Buffered returns the number of bytes written to the FrameData, header included.
func (fd FrameData) Buffered() int {
	return len(fd)
}

// Available returns the number of bytes that may still be written.
func (fd FrameData) Available() int {
	return MaxMessageSize - len(fd)
}

// WriteUint8 appends a single byte.
func (fd *FrameData) WriteUint8(b byte) {
	*fd = append(*fd, b)
}

// WriteBool appends a boolean as a single byte.
func (fd *FrameData) WriteBool(b bool) {
	if b {
		fd.WriteUint8(1)
	} else {
		fd.WriteUint8(0)
	}
}

// WriteUint16 appends a big-endian uint16.
func (fd *FrameData) WriteUint16(n uint16) {
	*fd = append(*fd, byte(n>>8), byte(n))
}

// WriteString appends an AJP string: length, bytes and a trailing zero.
func (fd *FrameData) WriteString(s string) {
	fd.WriteUint16(uint16(len(s)))
	*fd = append(*fd, s...)
	*fd = append(*fd, 0)
}

// WriteNullString appends the null string, a length of -1 with no data.
func (fd *FrameData) WriteNullString() {
	fd.WriteUint16(0xffff)
}

// Write appends raw bytes. It never fails.
func (fd *FrameData) Write(p []byte) (int, error) {
	*fd = append(*fd, p...)
	return len(p), nil
}

// SetSizeValue stores the payload length in the header. It fails if the frame
// is larger than MaxMessageSize.
func (fd FrameData) SetSizeValue() error {
	if len(fd) > MaxMessageSize {
		return ErrFrameTooLarge{Size: len(fd)}
	}
	fd.Header().SetSizeValue(len(fd) - FrameHeaderSize)
	return nil
}

// WriteTo writes the whole frame to w.
func (fd FrameData) WriteTo(w io.Writer) (n int64, err error) {
	var written int
	written, err = w.Write(fd)
	n = int64(written)
	if err == nil && written != len(fd) {
		err = io.ErrShortWrite
	}
	return
}
