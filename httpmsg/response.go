package httpmsg

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Status codes used by the system.
const (
	StatusOK                  = 200
	StatusCreated             = 201
	StatusBadRequest          = 400
	StatusUnauthorized        = 401
	StatusNotFound            = 404
	StatusMethodNotAllowed    = 405
	StatusURLTooLong          = 414
	StatusInternalError       = 500
	StatusServiceUnavailable  = 503
	StatusVersionNotSupported = 505
)

var statusText = map[int]string{
	StatusOK:                  "OK",
	StatusCreated:             "Created",
	StatusBadRequest:          "Bad Request",
	StatusUnauthorized:        "Unauthorized",
	StatusNotFound:            "Not Found",
	StatusMethodNotAllowed:    "Method Not Allowed",
	StatusURLTooLong:          "Request URL Too Long",
	StatusInternalError:       "Internal Server Error",
	StatusServiceUnavailable:  "Service Unavailable",
	StatusVersionNotSupported: "HTTP Version Not Supported",
}

// StatusText returns the reason phrase for a status code, or "" when the
// code is not one the system emits.
func StatusText(code int) string {
	return statusText[code]
}

// Response is a parsed or in-construction response frame.
type Response struct {
	Version string
	Code    int
	Headers []Header
	Body    string
}

// NewResponse returns a response for the given status code with the
// routing headers stamped. Workers copy the request's Source-IP and
// Source-Port here so the balancer can route the frame home.
func NewResponse(code int, targetIP, targetPort string) *Response {
	r := &Response{Version: Version, Code: code}
	r.AddHeader(HdrTargetIP, targetIP)
	r.AddHeader(HdrTargetPort, targetPort)
	return r
}

// AddHeader sets a header, replacing any existing value for the name.
func (r *Response) AddHeader(name, value string) *Response {
	r.Headers = setHeader(r.Headers, name, value)
	return r
}

// WithBody sets the body, the Content-Type and the Content-Length headers.
func (r *Response) WithBody(contentType, body string) *Response {
	r.AddHeader(HdrContentType, contentType)
	r.AddHeader(HdrContentLength, strconv.Itoa(len(body)))
	r.Body = body
	return r
}

// Header returns the value of the named header or "".
func (r *Response) Header(name string) string {
	return headerValue(r.Headers, name)
}

// TargetIP returns the routing address on the response.
func (r *Response) TargetIP() string { return r.Header(HdrTargetIP) }

// TargetPort returns the routing port on the response.
func (r *Response) TargetPort() string { return r.Header(HdrTargetPort) }

// Marshal renders the response into frame payload form.
func (r *Response) Marshal() []byte {
	var b strings.Builder
	b.WriteString(r.Version)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(r.Code))
	b.WriteByte(' ')
	b.WriteString(StatusText(r.Code))
	b.WriteString("\r\n")
	for _, h := range r.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	if len(r.Body) > 0 {
		b.WriteString(r.Body)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// ParseResponse parses a frame payload into a Response.
func ParseResponse(msg []byte) (*Response, error) {
	startLine, headers, body, err := splitMessage(msg)
	if err != nil {
		return nil, err
	}
	fields := strings.SplitN(startLine, " ", 3)
	if len(fields) < 2 {
		return nil, errors.Errorf("malformed status line %q", startLine)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, errors.Wrapf(err, "bad status code in %q", startLine)
	}
	return &Response{
		Version: fields[0],
		Code:    code,
		Headers: headers,
		Body:    body,
	}, nil
}
