package xmlrpc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/mdzio/go-logging"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
)

// default request size limit: 10 MB
const requestSizeLimit = 10 * 1024 * 1024

var svrLog = logging.Get("xmlrpc-server")

// Handler serves XML-RPC requests over HTTP and dispatches them to the
// registered Method's. Responses are ISO8859-1 encoded, the CCU
// interface processes expect that.
type Handler struct {
	RequestSizeLimit int64
	Dispatcher
}

func (h *Handler) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	svrLog.Tracef("Request received from %s, URI %s", req.RemoteAddr, req.RequestURI)

	call, err := h.readCall(resp, req)
	if err != nil {
		svrLog.Errorf("Request from %s failed: %v", req.RemoteAddr, err)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.Dispatch(call.MethodName, callParams(call))
	var mr *MethodResponse
	if err != nil {
		svrLog.Warningf("Sending error response to %s: %v", req.RemoteAddr, err)
		mr = newFaultResponse(err)
	} else {
		mr = newMethodResponse(res)
	}
	h.writeResponse(resp, req, mr)
}

func (h *Handler) readCall(resp http.ResponseWriter, req *http.Request) (*MethodCall, error) {
	limit := h.RequestSizeLimit
	if limit == 0 {
		limit = requestSizeLimit
	}
	buf, err := io.ReadAll(http.MaxBytesReader(resp, req.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("Reading of request failed: %v", err)
	}
	if svrLog.TraceEnabled() {
		// attention: probably ISO8859-1 encoded
		svrLog.Tracef("Request XML: %s", string(buf))
	}
	call := &MethodCall{}
	dec := xml.NewDecoder(bytes.NewBuffer(buf))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(call); err != nil {
		return nil, fmt.Errorf("Decoding of request failed: %v", err)
	}
	return call, nil
}

// callParams collects the call parameters into a single array value,
// the form the dispatcher and the Query helper work on.
func callParams(call *MethodCall) *Value {
	var data []*Value
	if call.Params != nil {
		data = make([]*Value, len(call.Params.Param))
		for i, p := range call.Params.Param {
			data[i] = p.Value
		}
	}
	return &Value{Array: &Array{Data: data}}
}

func (h *Handler) writeResponse(resp http.ResponseWriter, req *http.Request, mr *MethodResponse) {
	var buf bytes.Buffer
	w := charmap.ISO8859_1.NewEncoder().Writer(&buf)
	w.Write([]byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n"))
	if err := xml.NewEncoder(w).Encode(mr); err != nil {
		svrLog.Errorf("Encoding of response for %s failed: %v", req.RemoteAddr, err)
		http.Error(resp, "Encoding of response failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if svrLog.TraceEnabled() {
		// attention: ISO8859-1 encoded
		svrLog.Tracef("Response XML: %s", buf.String())
	}
	resp.Header().Set("Content-Type", "text/xml")
	resp.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := resp.Write(buf.Bytes()); err != nil {
		svrLog.Warningf("Sending of response for %s failed: %v", req.RemoteAddr, err)
	}
}
