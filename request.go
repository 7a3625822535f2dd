package ajp

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RequestError is returned when a Request can not be forwarded as given.
// Nothing has been sent when it is returned.
type RequestError struct {
	Reason string
}

func (e RequestError) Error() string { return "invalid request: " + e.Reason }

// Request describes a HTTP request to forward to the container.
type Request struct {
	Method     string
	Protocol   string // e.g. "HTTP/1.1"
	URI        string // path only, the query string goes in an attribute
	RemoteAddr string
	RemoteHost string
	ServerName string
	ServerPort int
	SSL        bool
	Headers    []Header
	Attributes []Attribute
	Body       io.Reader // may be nil
}

func (req *Request) String() string {
	return fmt.Sprintf("[Request %s %s %s]", req.Method, req.URI, req.Protocol)
}

// Header returns the first value of the named header, case insensitive.
func (req *Request) Header(name string) (string, bool) {
	return headerValue(req.Headers, name)
}

// AddHeader appends a header.
func (req *Request) AddHeader(name, value string) {
	req.Headers = append(req.Headers, Header{Name: name, Value: value})
}

// AddAttribute appends an attribute.
func (req *Request) AddAttribute(at AttributeType, values ...string) {
	req.Attributes = append(req.Attributes, Attribute{Type: at, Values: values})
}

// Attribute returns the values of the first attribute of the given type.
func (req *Request) Attribute(at AttributeType) ([]string, bool) {
	for _, a := range req.Attributes {
		if a.Type == at {
			return a.Values, true
		}
	}
	return nil, false
}

// ContentLength returns the value of the Content-Length header,
// or -1 if there is none.
func (req *Request) ContentLength() (int64, error) {
	cl, ok := req.Header("Content-Length")
	if !ok {
		return -1, nil
	}
	if !isDigits(cl) {
		return -1, RequestError{Reason: "Content-Length header is not a valid number"}
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil {
		return -1, RequestError{Reason: "Content-Length header is not a valid number"}
	}
	return n, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// needsLength returns true for methods that carry a request body.
func needsLength(method string) bool {
	return method == "POST" || method == "PUT"
}

// Validate checks that the container will be able to read the request body.
func (req *Request) Validate() error {
	if req.Method == "" {
		return RequestError{Reason: "missing method"}
	}
	if _, err := req.ContentLength(); err != nil {
		return err
	}
	if needsLength(req.Method) {
		if _, ok := req.Header("Content-Length"); !ok {
			if te, _ := req.Header("Transfer-Encoding"); !strings.EqualFold(te, "chunked") {
				return RequestError{Reason: req.Method + " requests without a Content-Length header are prohibited"}
			}
		}
	}
	for _, a := range req.Attributes {
		if len(a.Values) != a.Type.ValueCount() {
			return RequestError{Reason: fmt.Sprintf("attribute %v needs %d values, has %d", a.Type, a.Type.ValueCount(), len(a.Values))}
		}
	}
	return nil
}

// EncodeForwardRequest returns the Forward-Request frame for req.
// The caller should release the frame with FrameDataFree.
func EncodeForwardRequest(req *Request) (FrameData, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fd := FrameDataAlloc()
	fd.WriteUint8(byte(MessageTypeForwardRequest))
	code, known := MethodCode(req.Method)
	fd.WriteUint8(code)
	fd.WriteString(req.Protocol)
	fd.WriteString(req.URI)
	fd.WriteString(req.RemoteAddr)
	fd.WriteString(req.RemoteHost)
	fd.WriteString(req.ServerName)
	fd.WriteUint16(uint16(req.ServerPort))
	fd.WriteBool(req.SSL)
	fd.WriteUint16(uint16(len(req.Headers)))
	for _, h := range req.Headers {
		if hc, ok := RequestHeaderCode(h.Name); ok {
			fd.WriteUint16(hc)
		} else {
			fd.WriteString(h.Name)
		}
		fd.WriteString(h.Value)
	}
	hasStored := false
	for _, a := range req.Attributes {
		hasStored = hasStored || a.Type == AttributeStoredMethod
		fd.WriteUint8(byte(a.Type))
		for _, v := range a.Values {
			fd.WriteString(v)
		}
	}
	if !known && !hasStored {
		fd.WriteUint8(byte(AttributeStoredMethod))
		fd.WriteString(req.Method)
	}
	fd.WriteUint8(RequestTerminator)
	if err := fd.SetSizeValue(); err != nil {
		FrameDataFree(fd)
		return nil, errors.WithStack(err)
	}
	return fd, nil
}

var requestHeaderNames = func() map[uint16]string {
	m := make(map[uint16]string, len(requestHeaderCodes))
	for name, code := range requestHeaderCodes {
		m[code] = name
	}
	return m
}()

// DecodeForwardRequest parses a Forward-Request payload, as a container would.
// Headers sent as codes come back with their lowercase names.
func DecodeForwardRequest(payload []byte) (req *Request, err error) {
	fp := FrameParser(payload)
	var mt MessageType
	if mt, err = fp.ReadMessageType(); err != nil {
		return
	}
	if mt != MessageTypeForwardRequest {
		return nil, errors.WithStack(ErrUnknownMessageType{Value: mt})
	}
	var code byte
	if code, err = fp.ReadUint8(); err != nil {
		return
	}
	req = &Request{}
	req.Method, _ = MethodName(code)
	for _, sp := range []*string{&req.Protocol, &req.URI, &req.RemoteAddr, &req.RemoteHost, &req.ServerName} {
		if *sp, _, err = fp.ReadString(); err != nil {
			return nil, err
		}
	}
	var port, count uint16
	if port, err = fp.ReadUint16(); err != nil {
		return nil, err
	}
	req.ServerPort = int(port)
	if req.SSL, err = fp.ReadBool(); err != nil {
		return nil, err
	}
	if count, err = fp.ReadUint16(); err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		var h Header
		var hc uint16
		if hc, err = fp.PeekUint16(); err != nil {
			return nil, err
		}
		if name, ok := requestHeaderNames[hc]; ok {
			h.Name = name
			_, _ = fp.ReadUint16()
		} else if h.Name, _, err = fp.ReadString(); err != nil {
			return nil, err
		}
		if h.Value, _, err = fp.ReadString(); err != nil {
			return nil, err
		}
		req.Headers = append(req.Headers, h)
	}
	for {
		var b byte
		if b, err = fp.ReadUint8(); err != nil {
			return nil, err
		}
		if b == RequestTerminator {
			break
		}
		a := Attribute{Type: AttributeType(b)}
		for i := 0; i < a.Type.ValueCount(); i++ {
			var v string
			if v, _, err = fp.ReadString(); err != nil {
				return nil, err
			}
			a.Values = append(a.Values, v)
		}
		if a.Type == AttributeStoredMethod && code == MethodStored {
			req.Method = a.Values[0]
		}
		req.Attributes = append(req.Attributes, a)
	}
	return req, nil
}

// EncodeBodyChunk returns a request body chunk frame carrying data.
func EncodeBodyChunk(data []byte) (FrameData, error) {
	if len(data) > MaxSendChunkSize {
		return nil, errors.WithStack(ErrFrameTooLarge{Size: len(data) + 6})
	}
	fd := FrameDataAlloc()
	fd.WriteUint16(uint16(len(data)))
	_, _ = fd.Write(data)
	_ = fd.SetSizeValue()
	return fd, nil
}

// ReadBodyChunk reads up to n bytes from r, at most MaxSendChunkSize, and
// returns them as a body chunk frame. Fewer than n bytes means r is
// exhausted. A nil r gives an empty chunk.
func ReadBodyChunk(r io.Reader, n int) (fd FrameData, count int, err error) {
	if n > MaxSendChunkSize {
		n = MaxSendChunkSize
	}
	if n < 0 {
		n = 0
	}
	fd = FrameDataAlloc()
	fd.WriteUint16(0)
	if r != nil && n > 0 {
		start := len(fd)
		fd = fd[:start+n]
		count, err = io.ReadFull(r, fd[start:])
		fd = fd[:start+count]
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = nil
		}
	}
	fd.Header().SetSizeValue(count + 2)
	fd[4] = byte(count >> 8)
	fd[5] = byte(count)
	if err != nil {
		FrameDataFree(fd)
		return nil, 0, errors.WithStack(err)
	}
	return
}
