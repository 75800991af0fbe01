package client

import (
	"github.com/pkg/errors"

	"github.com/ChunxuTang/Load-Balancing-Server/httpmsg"
)

// Request kinds a generated client may issue, used as cache keys.
const (
	KindGet = iota
	KindHead
	KindPut
	KindPost
	KindTrace
	KindOptions
	KindDelete
	// KindCount is the number of request kinds.
	KindCount
)

const (
	downloadURL = "./download.txt"
	uploadURL   = "./upload.txt"
	deleteURL   = "./delete.txt"
)

// buildRequest constructs the request for a kind, stamped with the
// client's source endpoint so the response can be routed back.
func buildRequest(kind int, sourceIP, sourcePort string) (*httpmsg.Request, error) {
	var req *httpmsg.Request
	switch kind {
	case KindGet:
		req = httpmsg.NewRequest(httpmsg.MethodGet, downloadURL).
			AddHeader(httpmsg.HdrHost, "localhost").
			AddHeader(httpmsg.HdrAccept, "*")
	case KindHead:
		req = httpmsg.NewRequest(httpmsg.MethodHead, downloadURL).
			AddHeader(httpmsg.HdrHost, "localhost").
			AddHeader(httpmsg.HdrAccept, "*")
	case KindPut:
		req = httpmsg.NewRequest(httpmsg.MethodPut, uploadURL).
			AddHeader(httpmsg.HdrHost, "localhost").
			WithBody("text/plain", "I'm a message.")
	case KindPost:
		req = httpmsg.NewRequest(httpmsg.MethodPost, uploadURL).
			AddHeader(httpmsg.HdrHost, "localhost").
			WithBody("text/plain", "color=red")
	case KindTrace:
		req = httpmsg.NewRequest(httpmsg.MethodTrace, downloadURL).
			AddHeader(httpmsg.HdrHost, "localhost").
			AddHeader(httpmsg.HdrAccept, "*")
	case KindOptions:
		req = httpmsg.NewRequest(httpmsg.MethodOptions, "*").
			AddHeader(httpmsg.HdrHost, "localhost").
			AddHeader(httpmsg.HdrAccept, "*")
	case KindDelete:
		req = httpmsg.NewRequest(httpmsg.MethodDelete, deleteURL).
			AddHeader(httpmsg.HdrHost, "localhost")
	default:
		return nil, errors.Errorf("unknown request kind %v", kind)
	}
	return req.WithSource(sourceIP, sourcePort), nil
}
