package httpmsg

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Request is a parsed request frame. The zero value is not usable; build
// requests with NewRequest or ParseRequest.
type Request struct {
	Method  string
	URL     string
	Version string
	Headers []Header
	Body    string
}

// NewRequest returns a request with the start line filled in. Headers are
// added with the chained setters, mirroring the writer the responses use.
func NewRequest(method, url string) *Request {
	return &Request{Method: method, URL: url, Version: Version}
}

// AddHeader sets a header, replacing any existing value for the name.
func (r *Request) AddHeader(name, value string) *Request {
	r.Headers = setHeader(r.Headers, name, value)
	return r
}

// WithSource stamps the routing headers a worker will echo back as
// Target-IP and Target-Port.
func (r *Request) WithSource(ip, port string) *Request {
	return r.AddHeader(HdrSourceIP, ip).AddHeader(HdrSourcePort, port)
}

// WithBody sets the body and its Content-Length header.
func (r *Request) WithBody(contentType, body string) *Request {
	r.AddHeader(HdrContentType, contentType)
	r.AddHeader(HdrContentLength, strconv.Itoa(len(body)))
	r.Body = body
	return r
}

// Header returns the value of the named header or "".
func (r *Request) Header(name string) string {
	return headerValue(r.Headers, name)
}

// SourceIP returns the client address carried by the request.
func (r *Request) SourceIP() string { return r.Header(HdrSourceIP) }

// SourcePort returns the client port carried by the request.
func (r *Request) SourcePort() string { return r.Header(HdrSourcePort) }

// Marshal renders the request into frame payload form: start line, header
// block, blank line, then the body terminated by CRLF when present.
func (r *Request) Marshal() []byte {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.URL)
	b.WriteByte(' ')
	b.WriteString(r.Version)
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

// ParseRequest parses a frame payload into a Request. Malformed framing is
// an error; policy decisions such as rejecting unknown methods or headers
// are left to the consumer, which maps them to protocol status codes.
func ParseRequest(msg []byte) (*Request, error) {
	startLine, headers, body, err := splitMessage(msg)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(startLine)
	if len(fields) < 3 {
		return nil, errors.Errorf("malformed request line %q", startLine)
	}
	return &Request{
		Method:  fields[0],
		URL:     fields[1],
		Version: fields[2],
		Headers: headers,
		Body:    body,
	}, nil
}

// splitMessage carves a frame payload into its start line, header list and
// body. The header block ends at the first blank line; the body is
// whatever follows, with one trailing CRLF stripped.
func splitMessage(msg []byte) (string, []Header, string, error) {
	text := string(msg)
	head, body, found := strings.Cut(text, "\r\n\r\n")
	if !found {
		return "", nil, "", errors.Errorf("message has no header terminator")
	}
	lines := strings.Split(head, "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", nil, "", errors.Errorf("message has no start line")
	}
	var headers []Header
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return "", nil, "", errors.Errorf("malformed header line %q", line)
		}
		headers = append(headers, Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	body = strings.TrimSuffix(body, "\r\n")
	return lines[0], headers, body, nil
}
