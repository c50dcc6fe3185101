package xmlrpc

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mdzio/go-logging"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
)

const (
	// default response size limit: 10 MB
	responseSizeLimit = 10 * 1024 * 1024

	// request timeout, if not specified
	defaultCallTimeout = 10 * time.Second
)

var clnLog = logging.Get("xmlrpc-client")

// Caller executes XML-RPC method calls.
type Caller interface {
	Call(method string, params Values) (*Value, error)
}

// HTTPError signals a failed HTTP request, e.g. status 401 for missing or
// invalid credentials.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP request failed with code: %s", e.Status)
}

// Client provides access to an XML-RPC server. Addr must contain the full URL,
// e.g. http://host:2010 or https://host:42010/groups. Requests are sent
// ISO8859-1 encoded, the interface processes of the CCU reject UTF-8.
type Client struct {
	Addr              string
	ResponseSizeLimit int64

	// Timeout for a single call. 0 selects a default.
	Timeout time.Duration

	// optional basic auth credentials
	Username string
	Password string

	// optional TLS configuration (e.g. InsecureSkipVerify)
	TLSConfig *tls.Config

	initClient sync.Once
	httpClient *http.Client
}

// client builds the http.Client on first use. Call may run concurrently
// through the proxy worker pool.
func (c *Client) client() *http.Client {
	c.initClient.Do(func() {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = defaultCallTimeout
		}
		c.httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: c.TLSConfig,
			},
		}
	})
	return c.httpClient
}

// Call executes a remote procedure call. Call implements Caller.
func (c *Client) Call(method string, params Values) (*Value, error) {
	clnLog.Tracef("Calling method %s on %s", method, c.Addr)
	body, err := c.encodeCall(method, params)
	if err != nil {
		return nil, err
	}
	respBuf, err := c.post(body)
	if err != nil {
		return nil, err
	}
	return c.decodeResponse(respBuf)
}

func (c *Client) encodeCall(method string, params Values) ([]byte, error) {
	ps := make([]*Param, len(params))
	for i, p := range params {
		ps[i] = &Param{Value: p}
	}
	call := &MethodCall{MethodName: method, Params: &Params{Param: ps}}

	var buf bytes.Buffer
	w := charmap.ISO8859_1.NewEncoder().Writer(&buf)
	w.Write([]byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n"))
	if err := xml.NewEncoder(w).Encode(call); err != nil {
		return nil, fmt.Errorf("Encoding of request for %s failed: %v", c.Addr, err)
	}
	if clnLog.TraceEnabled() {
		// attention: ISO8859-1 encoded
		clnLog.Tracef("Request XML: %s", buf.String())
	}
	return buf.Bytes(), nil
}

func (c *Client) post(body []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.Addr, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Building of request for %s failed: %v", c.Addr, err)
	}
	req.Header.Set("Content-Type", "text/xml")
	if c.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
		req.Header.Set("Authorization", "Basic "+cred)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed on %s: %w", c.Addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	limit := c.ResponseSizeLimit
	if limit == 0 {
		limit = responseSizeLimit
	}
	buf, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("Reading of response failed from %s: %v", c.Addr, err)
	}
	if clnLog.TraceEnabled() {
		// attention: probably ISO8859-1 encoded
		clnLog.Tracef("Response XML: %s", string(buf))
	}
	return buf, nil
}

func (c *Client) decodeResponse(buf []byte) (*Value, error) {
	resp := &MethodResponse{}
	dec := xml.NewDecoder(bytes.NewBuffer(buf))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(resp); err != nil {
		return nil, fmt.Errorf("Decoding of response from %s failed: %v", c.Addr, err)
	}
	if resp.Fault != nil {
		q := Q(resp.Fault)
		code := q.Key("faultCode").Int()
		msg := q.Key("faultString").String()
		if q.Err() != nil {
			return nil, fmt.Errorf("Invalid XML-RPC fault response: %v", q.Err())
		}
		return nil, &MethodError{Code: code, Message: msg}
	}
	if resp.Params == nil || len(resp.Params.Param) != 1 {
		return nil, fmt.Errorf("Invalid or no parameters in response from %s", c.Addr)
	}
	return resp.Params.Param[0].Value, nil
}
