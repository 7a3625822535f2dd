// frameheader.go

// A frame header consists of four bytes. The first two bytes are the magic
// identifying the sender, 0x12 0x34 for frames sent to the container and
// 0x41 0x42 ('A' 'B') for frames sent by the container. The last two bytes
// are the big-endian size of the payload that follows.

package ajp

import "fmt"

// FrameHeader is the four byte header that starts every AJP13 frame.
type FrameHeader []byte

func (fh FrameHeader) String() string {
	return fmt.Sprintf("[FrameHeader %02x%02x %d (%d)]", fh[0], fh[1], fh.SizeValue(), len(fh))
}

// SetClientMagic marks the header as sent by us.
func (fh FrameHeader) SetClientMagic() {
	fh[0] = ClientMagic0
	fh[1] = ClientMagic1
}

// SetContainerMagic marks the header as sent by a container.
func (fh FrameHeader) SetContainerMagic() {
	fh[0] = ContainerMagic0
	fh[1] = ContainerMagic1
}

// HasClientMagic returns true if the header starts with the client magic.
func (fh FrameHeader) HasClientMagic() bool {
	return fh[0] == ClientMagic0 && fh[1] == ClientMagic1
}

// HasContainerMagic returns true if the header starts with the container magic.
func (fh FrameHeader) HasContainerMagic() bool {
	return fh[0] == ContainerMagic0 && fh[1] == ContainerMagic1
}

// SizeValue returns the payload size stored in bytes 2 and 3.
func (fh FrameHeader) SizeValue() int {
	return int(fh[2])<<8 | int(fh[3])
}

// SetSizeValue stores the payload size in bytes 2 and 3.
func (fh FrameHeader) SetSizeValue(n int) {
	fh[2] = byte(n >> 8)
	fh[3] = byte(n)
}

// Clear zeroes out the frameheader bytes.
func (fh FrameHeader) Clear() {
	fh[0] = byte(0)
	fh[1] = byte(0)
	fh[2] = byte(0)
	fh[3] = byte(0)
}
