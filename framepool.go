package ajp

// Provides a buffer of allocated but unused FrameData.
var frameDataPool chan FrameData

func init() {
	frameDataPool = make(chan FrameData, 256)
}

// FrameDataAlloc allocates a FrameData with a client header in place.
func FrameDataAlloc() FrameData {
	select {
	case fd := <-frameDataPool:
		fd.WriteHeader()
		return fd
	default:
		return NewClientFrameData()
	}
}

// FrameDataFree releases a FrameData. Buffers that grew beyond a
// full frame are dropped.
func FrameDataFree(fd FrameData) {
	if fd != nil && cap(fd) == MaxMessageSize {
		select {
		case frameDataPool <- fd[:0]:
		default:
		}
	}
}
