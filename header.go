package ajp

import (
	"fmt"
	"strings"
)

// Header is a single HTTP header line. Order and duplicates are preserved
// by keeping headers in slices.
type Header struct {
	Name  string
	Value string
}

func (h Header) String() string {
	return fmt.Sprintf("%s: %s", h.Name, h.Value)
}

// request header codes, keyed by lowercase name
var requestHeaderCodes = map[string]uint16{
	"accept":          0xa001,
	"accept-charset":  0xa002,
	"accept-encoding": 0xa003,
	"accept-language": 0xa004,
	"authorization":   0xa005,
	"connection":      0xa006,
	"content-type":    0xa007,
	"content-length":  0xa008,
	"cookie":          0xa009,
	"cookie2":         0xa00a,
	"host":            0xa00b,
	"pragma":          0xa00c,
	"referer":         0xa00d,
	"user-agent":      0xa00e,
}

var responseHeaderNames = map[uint16]string{
	0xa001: "Content-Type",
	0xa002: "Content-Language",
	0xa003: "Content-Length",
	0xa004: "Date",
	0xa005: "Last-Modified",
	0xa006: "Location",
	0xa007: "Set-Cookie",
	0xa008: "Set-Cookie2",
	0xa009: "Servlet-Engine",
	0xa00a: "Status",
	0xa00b: "WWW-Authenticate",
}

var responseHeaderCodes = func() map[string]uint16 {
	m := make(map[string]uint16, len(responseHeaderNames))
	for code, name := range responseHeaderNames {
		m[strings.ToLower(name)] = code
	}
	return m
}()

// RequestHeaderCode returns the code for a well-known request header name.
// The lookup is case insensitive.
func RequestHeaderCode(name string) (uint16, bool) {
	code, ok := requestHeaderCodes[strings.ToLower(name)]
	return code, ok
}

// ResponseHeaderName returns the header name for a response header code.
func ResponseHeaderName(code uint16) (string, bool) {
	name, ok := responseHeaderNames[code]
	return name, ok
}

// ResponseHeaderCode returns the code for a well-known response header name.
func ResponseHeaderCode(name string) (uint16, bool) {
	code, ok := responseHeaderCodes[strings.ToLower(name)]
	return code, ok
}

// headerValue returns the first value for name, case insensitive.
func headerValue(headers []Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}
