package worker

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ChunxuTang/Load-Balancing-Server/httpmsg"
)

// maxFileBytes caps how much of a served file goes into a response so the
// rendered message always fits the frame.
const maxFileBytes = httpmsg.MsgSize - 1096

// allowHeader is the method list OPTIONS advertises. SERVERCHECK stays
// out: it must not be visible to clients.
const allowHeader = "GET, HEAD, PUT, POST, TRACE, OPTIONS, DELETE"

// allowedHeaders is the per-method header policy; a request carrying a
// header outside its method's set is rejected with 400.
var allowedHeaders = map[string]map[string]bool{
	httpmsg.MethodGet:         headerSet(httpmsg.HdrAccept, httpmsg.HdrHost, httpmsg.HdrSourceIP, httpmsg.HdrSourcePort),
	httpmsg.MethodHead:        headerSet(httpmsg.HdrAccept, httpmsg.HdrHost, httpmsg.HdrSourceIP, httpmsg.HdrSourcePort),
	httpmsg.MethodPut:         headerSet(httpmsg.HdrHost, httpmsg.HdrContentType, httpmsg.HdrContentLength, httpmsg.HdrSourceIP, httpmsg.HdrSourcePort),
	httpmsg.MethodPost:        headerSet(httpmsg.HdrHost, httpmsg.HdrContentType, httpmsg.HdrContentLength, httpmsg.HdrSourceIP, httpmsg.HdrSourcePort),
	httpmsg.MethodTrace:       headerSet(httpmsg.HdrAccept, httpmsg.HdrHost, httpmsg.HdrSourceIP, httpmsg.HdrSourcePort),
	httpmsg.MethodOptions:     headerSet(httpmsg.HdrAccept, httpmsg.HdrHost, httpmsg.HdrSourceIP, httpmsg.HdrSourcePort),
	httpmsg.MethodDelete:      headerSet(httpmsg.HdrHost, httpmsg.HdrSourceIP, httpmsg.HdrSourcePort),
	httpmsg.MethodServerCheck: headerSet(httpmsg.HdrHost, httpmsg.HdrSourceIP, httpmsg.HdrSourcePort),
}

func headerSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Responder turns one request frame into one response frame. It is shared
// by all handler children of a supervisor; the file mutex serializes
// mutations of the docroot.
type Responder struct {
	docroot string
	maxLoad int
	fileMtx sync.Mutex
}

// NewResponder returns a responder serving files from docroot and
// reporting maxLoad to SERVERCHECK probes.
func NewResponder(docroot string, maxLoad int) *Responder {
	return &Responder{docroot: docroot, maxLoad: maxLoad}
}

// Respond produces the response for a raw request frame. Protocol errors
// never fail; they surface as error responses with the routing headers
// preserved whenever the request was parseable enough to extract them.
func (r *Responder) Respond(raw []byte) *httpmsg.Response {
	req, err := httpmsg.ParseRequest(raw)
	if err != nil {
		log.Warningf("unparseable request: %v", err)
		return httpmsg.NewResponse(httpmsg.StatusInternalError, "", "")
	}
	ip, port := req.SourceIP(), req.SourcePort()
	if req.Version != httpmsg.Version {
		return httpmsg.NewResponse(httpmsg.StatusVersionNotSupported, ip, port)
	}
	if !httpmsg.KnownMethod(req.Method) {
		log.Warningf("unknown method %q", req.Method)
		return httpmsg.NewResponse(httpmsg.StatusMethodNotAllowed, ip, port)
	}
	for _, h := range req.Headers {
		if !allowedHeaders[req.Method][h.Name] {
			log.Warningf("unknown header %q for method %v", h.Name, req.Method)
			return httpmsg.NewResponse(httpmsg.StatusBadRequest, ip, port)
		}
	}
	switch req.Method {
	case httpmsg.MethodGet:
		return r.getResponse(req, true)
	case httpmsg.MethodHead:
		return r.getResponse(req, false)
	case httpmsg.MethodPut:
		return r.putResponse(req)
	case httpmsg.MethodPost:
		return r.postResponse(req)
	case httpmsg.MethodTrace:
		return r.traceResponse(req, raw)
	case httpmsg.MethodOptions:
		return r.optionsResponse(req)
	case httpmsg.MethodDelete:
		return r.deleteResponse(req)
	case httpmsg.MethodServerCheck:
		return r.serverCheckResponse(req)
	}
	return httpmsg.NewResponse(httpmsg.StatusMethodNotAllowed, ip, port)
}

func (r *Responder) path(url string) string {
	return filepath.Join(r.docroot, filepath.Clean("/"+url))
}

// getResponse serves GET and, without the body, HEAD.
func (r *Responder) getResponse(req *httpmsg.Request, withBody bool) *httpmsg.Response {
	content, err := r.readFile(req.URL)
	if err != nil {
		return httpmsg.NewResponse(fileErrorCode(err), req.SourceIP(), req.SourcePort())
	}
	resp := httpmsg.NewResponse(httpmsg.StatusOK, req.SourceIP(), req.SourcePort())
	resp.WithBody("text/plain", content)
	if !withBody {
		resp.Body = ""
	}
	return resp
}

func (r *Responder) readFile(url string) (string, error) {
	f, err := os.Open(r.path(url))
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, maxFileBytes)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return string(buf[:n]), nil
}

func (r *Responder) putResponse(req *httpmsg.Request) *httpmsg.Response {
	r.fileMtx.Lock()
	err := os.WriteFile(r.path(req.URL), []byte(req.Body), 0o644)
	r.fileMtx.Unlock()
	if err != nil {
		return httpmsg.NewResponse(fileErrorCode(err), req.SourceIP(), req.SourcePort())
	}
	resp := httpmsg.NewResponse(httpmsg.StatusCreated, req.SourceIP(), req.SourcePort())
	resp.AddHeader(httpmsg.HdrLocation, req.URL)
	return resp.WithBody("text/plain", req.URL)
}

func (r *Responder) postResponse(req *httpmsg.Request) *httpmsg.Response {
	resp := httpmsg.NewResponse(httpmsg.StatusOK, req.SourceIP(), req.SourcePort())
	return resp.WithBody("text/plain", req.Body+" is in stock")
}

// traceResponse echoes the request exactly as received. The response body
// keeps every byte of the original frame payload.
func (r *Responder) traceResponse(req *httpmsg.Request, raw []byte) *httpmsg.Response {
	resp := httpmsg.NewResponse(httpmsg.StatusOK, req.SourceIP(), req.SourcePort())
	return resp.WithBody("text/plain", string(raw))
}

func (r *Responder) optionsResponse(req *httpmsg.Request) *httpmsg.Response {
	resp := httpmsg.NewResponse(httpmsg.StatusOK, req.SourceIP(), req.SourcePort())
	resp.AddHeader(httpmsg.HdrAllow, allowHeader)
	resp.AddHeader(httpmsg.HdrContentLength, "0")
	return resp
}

func (r *Responder) deleteResponse(req *httpmsg.Request) *httpmsg.Response {
	r.fileMtx.Lock()
	err := os.Remove(r.path(req.URL))
	r.fileMtx.Unlock()
	if err != nil {
		return httpmsg.NewResponse(fileErrorCode(err), req.SourceIP(), req.SourcePort())
	}
	resp := httpmsg.NewResponse(httpmsg.StatusOK, req.SourceIP(), req.SourcePort())
	return resp.WithBody("text/plain", "File is deleted.")
}

func (r *Responder) serverCheckResponse(req *httpmsg.Request) *httpmsg.Response {
	resp := httpmsg.NewResponse(httpmsg.StatusOK, req.SourceIP(), req.SourcePort())
	resp.Body = strconv.Itoa(r.maxLoad)
	return resp
}

// fileErrorCode maps filesystem errors onto the protocol's status codes.
func fileErrorCode(err error) int {
	switch {
	case os.IsNotExist(err):
		return httpmsg.StatusNotFound
	case os.IsPermission(err):
		return httpmsg.StatusUnauthorized
	case isNameTooLong(err):
		return httpmsg.StatusURLTooLong
	default:
		return httpmsg.StatusInternalError
	}
}

func isNameTooLong(err error) bool {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err == syscall.ENAMETOOLONG
	}
	return false
}
