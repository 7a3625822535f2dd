// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package ajp

// sanity check the protocol constants
func init() {
	if MaxMessageSize > FrameHeaderSize+0xffff {
		panic("MaxMessageSize > FrameHeaderSize+0xffff")
	}
	if MaxPayloadSize != MaxMessageSize-FrameHeaderSize {
		panic("MaxPayloadSize != MaxMessageSize-FrameHeaderSize")
	}
	if MaxSendChunkSize != MaxPayloadSize-2 {
		panic("MaxSendChunkSize != MaxPayloadSize-2")
	}
	if MaxReceiveChunkSize != MaxPayloadSize-1 {
		panic("MaxReceiveChunkSize != MaxPayloadSize-1")
	}
	if len(cpingFrame) != FrameHeaderSize+1 {
		panic("len(cpingFrame) != FrameHeaderSize+1")
	}
	if len(methodNames) != len(methodCodes) {
		panic("len(methodNames) != len(methodCodes)")
	}
	if len(responseHeaderCodes) != len(responseHeaderNames) {
		panic("len(responseHeaderCodes) != len(responseHeaderNames)")
	}
}
