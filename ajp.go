package ajp

import "time"

const (
	// ClientMagic0 and ClientMagic1 start every frame sent to the container.
	ClientMagic0 = 0x12
	ClientMagic1 = 0x34
	// ContainerMagic0 and ContainerMagic1 start every frame sent by the container.
	ContainerMagic0 = 0x41
	ContainerMagic1 = 0x42
	// FrameHeaderSize is the number of bytes in a frame header (magic + length).
	FrameHeaderSize = 4
	// MaxMessageSize is the largest frame, header included, that may be sent.
	MaxMessageSize = 8192
	// MaxPayloadSize is the largest payload a frame may carry.
	MaxPayloadSize = MaxMessageSize - FrameHeaderSize
	// MaxSendChunkSize is the most body data a single request body chunk can carry.
	MaxSendChunkSize = MaxMessageSize - 6
	// MaxReceiveChunkSize is the most body data a single response chunk can carry.
	MaxReceiveChunkSize = MaxMessageSize - 5
	// RequestTerminator ends a Forward-Request payload.
	RequestTerminator = 0xff
	// DefaultPort is the port AJP13 containers usually listen on.
	DefaultPort = 8009
	// DefaultPingTimeout bounds the CPing health check.
	DefaultPingTimeout = time.Second
	// DefaultForwardTimeout bounds a Forward exchange when none is given.
	DefaultForwardTimeout = time.Minute
	// DefaultDialTimeout bounds opening a connection.
	DefaultDialTimeout = time.Second * 10
)

// cpingFrame is the complete CPing request.
var cpingFrame = []byte{ClientMagic0, ClientMagic1, 0x00, 0x01, byte(MessageTypeCPing)}
