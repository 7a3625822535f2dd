package ajp

import (
	"crypto/tls"
	"encoding/pem"
	"net"
	"net/http"
	"sort"
	"strconv"

	"go.uber.org/zap"
)

// Gateway is a http.Handler forwarding requests to an AJP13 container.
type Gateway struct {
	Client *Client
	Logger *zap.Logger
	Route  string // if set, sent as the route attribute
	Secret string // if set, sent as the secret attribute
}

// NewGateway returns a Gateway forwarding to c.
func NewGateway(c *Client) *Gateway {
	return &Gateway{
		Client: c,
		Logger: c.Logger,
	}
}

func (g *Gateway) decorate(req *Request) {
	if g.Route != "" {
		req.AddAttribute(AttributeRoute, g.Route)
	}
	if g.Secret != "" {
		req.AddAttribute(AttributeSecret, g.Secret)
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := RequestFromHTTP(r)
	g.decorate(req)
	rw := newResponseWriter(w)
	req.Body = rw.body(req.Body)
	err := g.Client.Forward(r.Context(), req, rw)
	written := rw.close(err)
	if err != nil {
		g.Logger.Info("forward failed", zap.Stringer("req", req), zap.Int64("written", written), zap.Error(err))
	}
}

// RequestFromHTTP converts r for forwarding. The returned Request reads
// its body from r.Body.
func RequestFromHTTP(r *http.Request) *Request {
	req := &Request{
		Method:   r.Method,
		Protocol: r.Proto,
		URI:      r.URL.EscapedPath(),
		SSL:      r.TLS != nil,
		Body:     r.Body,
	}
	req.RemoteAddr, _ = splitHostPort(r.RemoteAddr, 0)
	req.RemoteHost = req.RemoteAddr
	defaultPort := 80
	if req.SSL {
		defaultPort = 443
	}
	req.ServerName, req.ServerPort = splitHostPort(r.Host, defaultPort)

	if r.Host != "" {
		req.AddHeader("Host", r.Host)
	}
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "Host" {
			continue
		}
		for _, value := range r.Header[name] {
			req.AddHeader(name, value)
		}
	}
	if _, ok := req.Header("Content-Length"); !ok {
		if r.ContentLength > 0 || (r.ContentLength == 0 && needsLength(r.Method)) {
			req.AddHeader("Content-Length", strconv.FormatInt(r.ContentLength, 10))
		}
	}
	for _, te := range r.TransferEncoding {
		if te == "chunked" {
			req.AddHeader("Transfer-Encoding", te)
		}
	}

	if _, ok := MethodCode(r.Method); !ok {
		req.AddAttribute(AttributeStoredMethod, r.Method)
	}
	if r.URL.RawQuery != "" {
		req.AddAttribute(AttributeQueryString, r.URL.RawQuery)
	}
	if user, _, ok := r.BasicAuth(); ok && user != "" {
		req.AddAttribute(AttributeRemoteUser, user)
		req.AddAttribute(AttributeAuthType, "BASIC")
	}
	if r.TLS != nil {
		addTLSAttributes(req, r.TLS)
	}
	return req
}

func addTLSAttributes(req *Request, cs *tls.ConnectionState) {
	req.AddAttribute(AttributeSSLCipher, tls.CipherSuiteName(cs.CipherSuite))
	if len(cs.PeerCertificates) > 0 {
		cert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cs.PeerCertificates[0].Raw})
		req.AddAttribute(AttributeSSLCert, string(cert))
	}
}

// splitHostPort splits addr, using defaultPort if addr has no valid port.
func splitHostPort(addr string, defaultPort int) (string, int) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return host, defaultPort
	}
	return host, n
}
