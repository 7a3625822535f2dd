// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package ajp implements the client side of the Apache JServ Protocol version 1.3.

AJP13 is a binary protocol a web server front end uses to forward HTTP requests to a servlet container such as Tomcat over long lived TCP connections. Each connection carries one request-response exchange at a time; the container says at the end of each response whether the connection may be reused.

A frame is a four byte header (a two byte magic followed by a big endian payload length) and at most 8188 bytes of payload. Frames from the front end start with 0x12 0x34, frames from the container with 'A' 'B'. The first payload byte is the message type.

A Conn wraps a single connection. Its read goroutine decodes container frames with a Decoder and hands them to the Conversation bound to the Conn. The two conversations are CPing, a liveness probe answered with CPong, and Forward, which sends a Request and streams the reply into a ForwardResponse, feeding request body chunks as the container asks for them.

A Pool leases connections to callers. It keeps a fixed number of immortal connections open, opens up to a ceiling of ephemeral ones under load, closes ephemeral connections that stay idle too long and queues requests beyond that in FIFO order. Leases carry a duration; a reaper expires leases that outlive it. All pool state is owned by one goroutine, so hooks and listeners run serialized.

A Client combines a Pool of Conns with the conversations, and a Gateway adapts a Client to net/http and fasthttp. A Registry keeps one Client per container address, and Metrics exports pool state to Prometheus.
*/
package ajp
