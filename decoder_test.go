package ajp

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func decodeAll(t *testing.T, dec *Decoder) (msgs []Message) {
	for {
		m, ok, err := dec.Next()
		require.NoError(t, err)
		if !ok {
			return
		}
		msgs = append(msgs, m)
	}
}

func Test_Decoder_Messages(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(sendHeadersFrame(200, "OK",
		Header{"Content-Type", "text/plain"},
		Header{"X-Custom", "yes"},
		Header{"Content-Length", "5"}))
	stream.Write(bodyChunkFrame("hello"))
	stream.Write(getBodyChunkFrame(1000))
	stream.Write(cpongFrame())
	stream.Write(endResponseFrame(true))

	dec := NewDecoder(nil)
	_, _ = dec.Write(stream.Bytes())
	msgs := decodeAll(t, dec)
	require.Len(t, msgs, 5)

	m := msgs[0]
	assert.Equal(t, MessageTypeSendHeaders, m.Type)
	assert.Equal(t, 200, m.Status)
	assert.Equal(t, "OK", m.Reason)
	assert.Equal(t, []Header{{"Content-Type", "text/plain"}, {"X-Custom", "yes"}, {"Content-Length", "5"}}, m.Headers)
	assert.Equal(t, int64(5), m.ContentLength)

	assert.Equal(t, MessageTypeSendBodyChunk, msgs[1].Type)
	assert.Equal(t, "hello", string(msgs[1].Chunk))
	assert.Equal(t, MessageTypeGetBodyChunk, msgs[2].Type)
	assert.Equal(t, 1000, msgs[2].Requested)
	assert.Equal(t, MessageTypeCPong, msgs[3].Type)
	assert.Equal(t, MessageTypeEndResponse, msgs[4].Type)
	assert.True(t, msgs[4].Reuse)

	left, ok := dec.ExpectedBytes()
	assert.True(t, ok)
	assert.Equal(t, int64(0), left)
	assert.Equal(t, 0, dec.Buffered())
}

func Test_Decoder_SplitWrites(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(sendHeadersFrame(404, "Not Found"))
	stream.Write(bodyChunkFrame("gone"))
	stream.Write(endResponseFrame(false))
	data := stream.Bytes()

	for split := 1; split < len(data); split++ {
		dec := NewDecoder(nil)
		_, _ = dec.Write(data[:split])
		msgs := decodeAll(t, dec)
		_, _ = dec.Write(data[split:])
		msgs = append(msgs, decodeAll(t, dec)...)
		require.Len(t, msgs, 3, "split at %d", split)
		assert.Equal(t, 404, msgs[0].Status)
		assert.Equal(t, int64(-1), msgs[0].ContentLength)
		assert.Equal(t, "gone", string(msgs[1].Chunk))
		assert.False(t, msgs[2].Reuse)
	}
}

func Test_Decoder_SkipsNoise(t *testing.T) {
	dec := NewDecoder(nil)
	_, _ = dec.Write([]byte{0x00, 0x41, 0x00, 0x41})
	_, _ = dec.Write(cpongFrame())
	msgs := decodeAll(t, dec)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageTypeCPong, msgs[0].Type)
	assert.Equal(t, int64(4), dec.Skipped())
}

func Test_Decoder_LogsNoiseOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dec := NewDecoder(zap.New(core))
	_, _ = dec.Write(bytes.Repeat([]byte{0x00}, 100))
	_, _ = dec.Write(cpongFrame())
	_, _ = dec.Write([]byte{0x12, 0x41})
	_, _ = dec.Write(cpongFrame())
	require.Len(t, decodeAll(t, dec), 2)
	assert.Equal(t, int64(102), dec.Skipped())

	entries := logs.FilterMessage("skipped unexpected bytes").AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(100), entries[0].ContextMap()["count"])
	assert.Equal(t, "0x00", entries[0].ContextMap()["first"])
	assert.Equal(t, int64(2), entries[1].ContextMap()["count"])
	assert.Equal(t, "0x12", entries[1].ContextMap()["first"])
}

func Test_Decoder_FrameTooLarge(t *testing.T) {
	dec := NewDecoder(nil)
	_, _ = dec.Write([]byte{ContainerMagic0, ContainerMagic1, 0x20, 0x00})
	_, ok, err := dec.Next()
	assert.False(t, ok)
	assert.Equal(t, ProtocolError{}, errors.Cause(err))

	dec.Reset()
	largest := bodyChunkFrame(strings.Repeat("x", MaxPayloadSize-4))
	require.Len(t, largest, MaxMessageSize)
	_, _ = dec.Write(largest)
	m, ok, err := dec.Next()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, m.Chunk, MaxPayloadSize-4)
}

func Test_Decoder_UnknownType(t *testing.T) {
	dec := NewDecoder(nil)
	_, _ = dec.Write(containerFrame(func(fd *FrameData) {
		fd.WriteUint8(0x7f)
	}))
	_, ok, err := dec.Next()
	assert.False(t, ok)
	assert.Equal(t, ErrUnknownMessageType{Value: 0x7f}, errors.Cause(err))

	// a container never sends a CPing
	dec.Reset()
	_, _ = dec.Write(containerFrame(func(fd *FrameData) {
		fd.WriteUint8(byte(MessageTypeCPing))
	}))
	_, _, err = dec.Next()
	assert.Equal(t, ErrUnknownMessageType{Value: MessageTypeCPing}, errors.Cause(err))
}

func Test_Decoder_Truncated(t *testing.T) {
	dec := NewDecoder(nil)
	_, _ = dec.Write(containerFrame(func(fd *FrameData) {
		fd.WriteUint8(byte(MessageTypeSendHeaders))
		fd.WriteUint16(200)
	}))
	_, _, err := dec.Next()
	assert.Equal(t, ProtocolError{}, errors.Cause(err))
}

func Test_Message_String(t *testing.T) {
	m := Message{Type: MessageTypeEndResponse, Reuse: true}
	assert.Equal(t, "[EndResponse reuse=true]", m.String())
	m = Message{Type: MessageTypeCPong}
	assert.Equal(t, "[CPong]", m.String())
	assert.Equal(t, "MessageType(0x7f)", MessageType(0x7f).String())
}
