package ajp

import (
	"bytes"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// fastResponse is a ForwardResponse writing to a fasthttp.RequestCtx.
// Calls made after close are ignored.
type fastResponse struct {
	ctx    *fasthttp.RequestCtx
	mu     sync.Mutex
	closed bool
	began  bool
	err    error
}

func (fr *fastResponse) SetStatus(code int, reason string) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if !fr.closed {
		fr.ctx.SetStatusCode(code)
	}
}

func (fr *fastResponse) AddHeader(name, value string) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.closed || isHopHeader(name) {
		return
	}
	fr.ctx.Response.Header.Add(name, value)
}

func (fr *fastResponse) BodyBegin() {
	fr.mu.Lock()
	fr.began = true
	fr.mu.Unlock()
}

func (fr *fastResponse) Write(p []byte) (int, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.closed {
		return 0, errors.WithStack(errResponseClosed)
	}
	fr.began = true
	return fr.ctx.Write(p)
}

func (fr *fastResponse) BodyEnd(reuse bool) {}

func (fr *fastResponse) Fail(err error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.fail(err)
}

func (fr *fastResponse) fail(err error) {
	if fr.closed || fr.err != nil {
		return
	}
	fr.err = err
	if !fr.began {
		fr.began = true
		code := failureStatus(err)
		fr.ctx.Response.Reset()
		fr.ctx.Error(fasthttp.StatusMessage(code), code)
	}
}

func (fr *fastResponse) close(err error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if err != nil {
		fr.fail(err)
	}
	fr.closed = true
}

// HandleFastHTTP implements the handler for valyala/fasthttp.
func (g *Gateway) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	req := RequestFromFastHTTP(ctx)
	g.decorate(req)
	fr := &fastResponse{ctx: ctx}
	err := g.Client.Forward(ctx, req, fr)
	fr.close(err)
	if err != nil {
		g.Logger.Info("forward failed", zap.Stringer("req", req), zap.Error(err))
	}
}

// RequestFromFastHTTP converts the request in ctx for forwarding.
// fasthttp has already read the whole body, so it is always sent with
// a Content-Length.
func RequestFromFastHTTP(ctx *fasthttp.RequestCtx) *Request {
	body := ctx.Request.Body()
	req := &Request{
		Method:     string(ctx.Method()),
		Protocol:   string(ctx.Request.Header.Protocol()),
		URI:        string(ctx.URI().PathOriginal()),
		RemoteAddr: ctx.RemoteIP().String(),
		SSL:        ctx.IsTLS(),
		Body:       bytes.NewReader(body),
	}
	if i := strings.IndexByte(req.URI, '?'); i >= 0 {
		req.URI = req.URI[:i]
	}
	req.RemoteHost = req.RemoteAddr
	defaultPort := 80
	if req.SSL {
		defaultPort = 443
	}
	req.ServerName, req.ServerPort = splitHostPort(string(ctx.Host()), defaultPort)

	hasLength := false
	ctx.Request.Header.VisitAll(func(key, value []byte) {
		name := string(key)
		switch {
		case isHopHeader(name):
			return
		case name == fasthttp.HeaderContentLength:
			hasLength = true
		}
		req.AddHeader(name, string(value))
	})
	if !hasLength && (len(body) > 0 || needsLength(req.Method)) {
		req.AddHeader(fasthttp.HeaderContentLength, strconv.Itoa(len(body)))
	}

	if _, ok := MethodCode(req.Method); !ok {
		req.AddAttribute(AttributeStoredMethod, req.Method)
	}
	if qs := ctx.URI().QueryString(); len(qs) > 0 {
		req.AddAttribute(AttributeQueryString, string(qs))
	}
	if user := ctx.Request.URI().Username(); len(user) > 0 {
		req.AddAttribute(AttributeRemoteUser, string(user))
	}
	if cs := ctx.TLSConnectionState(); cs != nil {
		addTLSAttributes(req, cs)
	}
	return req
}
