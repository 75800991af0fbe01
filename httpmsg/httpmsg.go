// Package httpmsg implements the fixed-size HTTP/1.1 style frames spoken
// between the load generator, the balancer and the workers. Every message
// on the wire occupies exactly MsgSize bytes; the textual payload is
// NUL-padded to the frame boundary.
package httpmsg

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

// MsgSize is the size of every frame on the wire.
const MsgSize = 4096

// Version is the only protocol version the codec accepts.
const Version = "HTTP/1.1"

// Methods understood by the codec. SERVERCHECK is internal between the
// balancer and workers and is never advertised to clients.
const (
	MethodGet         = "GET"
	MethodHead        = "HEAD"
	MethodPut         = "PUT"
	MethodPost        = "POST"
	MethodTrace       = "TRACE"
	MethodOptions     = "OPTIONS"
	MethodDelete      = "DELETE"
	MethodServerCheck = "SERVERCHECK"
)

// Methods lists the client-visible methods in the order the OPTIONS
// handler advertises them.
var Methods = []string{
	MethodGet, MethodHead, MethodPut, MethodPost,
	MethodTrace, MethodOptions, MethodDelete,
}

// KnownMethod reports whether m is one of the methods the codec accepts,
// including SERVERCHECK.
func KnownMethod(m string) bool {
	if m == MethodServerCheck {
		return true
	}
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// Routing and content headers recognized on requests and responses.
const (
	HdrHost          = "Host"
	HdrAccept        = "Accept"
	HdrContentType   = "Content-Type"
	HdrContentLength = "Content-Length"
	HdrSourceIP      = "Source-IP"
	HdrSourcePort    = "Source-Port"
	HdrTargetIP      = "Target-IP"
	HdrTargetPort    = "Target-Port"
	HdrLocation      = "Location"
	HdrAllow         = "Allow"
)

// Header is a single name/value pair. Order of headers is preserved so
// that a relayed message round-trips byte for byte.
type Header struct {
	Name  string
	Value string
}

// ReadFrame reads exactly one frame from r and returns the payload with
// the NUL padding stripped. io.EOF is returned untouched so callers can
// distinguish a closed peer from a broken one.
func ReadFrame(r io.Reader) ([]byte, error) {
	buf := make([]byte, MsgSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "failed to read frame")
	}
	if i := strings.IndexByte(string(buf), 0); i >= 0 {
		buf = buf[:i]
	}
	return buf, nil
}

// WriteFrame pads msg to MsgSize and writes it in one piece.
func WriteFrame(w io.Writer, msg []byte) error {
	if len(msg) > MsgSize {
		return errors.Errorf("message of %v bytes exceeds frame size %v", len(msg), MsgSize)
	}
	buf := make([]byte, MsgSize)
	copy(buf, msg)
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

func headerValue(hs []Header, name string) string {
	for _, h := range hs {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

func setHeader(hs []Header, name, value string) []Header {
	for i := range hs {
		if hs[i].Name == name {
			hs[i].Value = value
			return hs
		}
	}
	return append(hs, Header{Name: name, Value: value})
}
