package ajp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_FramePool_FrameDataAlloc(t *testing.T) {
	fd1 := FrameDataAlloc()
	assert.Equal(t, FrameHeaderSize, len(fd1))
	assert.True(t, fd1.Header().HasClientMagic())
	fd1.WriteString("dirty")
	FrameDataFree(fd1)
	fd2 := FrameDataAlloc()
	assert.Equal(t, FrameHeaderSize, len(fd2))
	assert.Equal(t, 0, fd2.Header().SizeValue())
	FrameDataFree(fd2)
}

func Test_FramePool_FrameDataFree_Oversize(t *testing.T) {
	for len(frameDataPool) > 0 {
		<-frameDataPool
	}
	fd := FrameData(make([]byte, 0, MaxMessageSize*2))
	FrameDataFree(fd)
	assert.Equal(t, 0, len(frameDataPool))
	FrameDataFree(nil)
	assert.Equal(t, 0, len(frameDataPool))
	FrameDataFree(NewFrameData())
	assert.Equal(t, 1, len(frameDataPool))
}
