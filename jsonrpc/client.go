package jsonrpc

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mdzio/go-hmcentral/itf"

	"github.com/mdzio/go-logging"
)

const (
	// path of the JSON-RPC endpoint on the CCU
	apiPath = "/api/homematic.cgi"

	// max. size of a valid response, if not specified: 10 MB
	respSizeLimit = 10 * 1024 * 1024

	// a session stays valid for 5 minutes; renew well before that, but not on
	// every call
	sessionRenewInterval = 90 * time.Second

	defaultTimeout = 30 * time.Second
)

var log = logging.Get("jsonrpc-client")

// request is the JSON-RPC 1.1 envelope of the CCU.
type request struct {
	Version string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

// Error is the error object of a JSON-RPC response.
type Error struct {
	Name    string `json:"name"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC error %s (code: %d): %s", e.Name, e.Code, e.Message)
}

type response struct {
	ID      interface{}     `json:"id"`
	Version string          `json:"version"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// some firmware versions emit invalid escape sequences in JSON strings
var invalidEscape = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// Client accesses the JSON-RPC API of the CCU. Sessions are created lazily and
// renewed at most every sessionRenewInterval. Client is safe for concurrent
// use.
type Client struct {
	// base URL of the CCU, e.g. http://ccu3 (without the API path)
	URL      string
	Username string
	Password string

	// optional TLS configuration, e.g. for self signed CCU certificates
	TLSConfig *tls.Config
	Timeout   time.Duration
	// limits the size of a valid response, 0 for the default
	ResponseSizeLimit int64

	mtx        sync.Mutex
	httpClient *http.Client
	sessionID  string
	lastUse    time.Time
}

func (c *Client) client() *http.Client {
	if c.httpClient == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
		if c.TLSConfig != nil {
			c.httpClient.Transport = &http.Transport{TLSClientConfig: c.TLSConfig}
		}
	}
	return c.httpClient
}

// post executes a single JSON-RPC request without any session handling.
func (c *Client) post(method string, params map[string]interface{}) (json.RawMessage, error) {
	reqBuf, err := json.Marshal(&request{Version: "1.1", Method: method, Params: params, ID: 0})
	if err != nil {
		return nil, &itf.InternalError{Message: fmt.Sprintf("Marshalling of JSON-RPC request failed: %v", err)}
	}
	addr := c.URL + apiPath
	if log.TraceEnabled() {
		log.Tracef("Request to %s: %s", addr, redactRequest(method, string(reqBuf)))
	}
	httpResp, err := c.client().Post(addr, "application/json", bytes.NewReader(reqBuf))
	if err != nil {
		msg := itf.RedactCredentials(err.Error())
		// mixed up http/https is a common misconfiguration
		if strings.Contains(msg, "server gave HTTP response to HTTPS client") {
			return nil, &itf.ClientError{Message: msg + " (check the TLS setting)"}
		}
		if strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:") {
			return nil, &itf.ClientError{Message: msg + " (check the TLS setting)"}
		}
		return nil, &itf.NoConnectionError{Interface: "JSON-RPC", Message: msg}
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return nil, &itf.AuthError{Message: httpResp.Status}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Unexpected HTTP status from %s: %s", addr, httpResp.Status)}
	}
	limit := c.ResponseSizeLimit
	if limit == 0 {
		limit = respSizeLimit
	}
	respBuf, err := io.ReadAll(io.LimitReader(httpResp.Body, limit))
	if err != nil {
		return nil, &itf.NoConnectionError{Interface: "JSON-RPC", Message: "Reading of response failed: " + err.Error()}
	}
	if log.TraceEnabled() {
		log.Tracef("Response: %s", string(respBuf))
	}

	var resp response
	err = json.Unmarshal(respBuf, &resp)
	if err != nil {
		// workaround for invalid escape sequences of some firmware versions
		repaired := invalidEscape.ReplaceAll(respBuf, []byte("$1"))
		err2 := json.Unmarshal(repaired, &resp)
		if err2 != nil {
			return nil, &itf.ClientError{Message: fmt.Sprintf("Unmarshalling of response failed: %v", err)}
		}
		log.Debugf("Repaired invalid escape sequences in response of method %s", method)
	}
	if resp.Error != nil {
		if strings.Contains(strings.ToLower(resp.Error.Message), "access denied") {
			return nil, &itf.AuthError{Message: resp.Error.Message}
		}
		return nil, &itf.ClientError{Code: resp.Error.Code, Message: resp.Error.Name + ": " + resp.Error.Message}
	}
	return resp.Result, nil
}

func redactRequest(method, req string) string {
	if method == "Session.login" {
		return `{"method":"Session.login", ...}`
	}
	return req
}

// Login opens a new session.
func (c *Client) Login() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.login()
}

// caller must hold mtx
func (c *Client) login() error {
	log.Debug("Opening JSON-RPC session")
	res, err := c.post("Session.login", map[string]interface{}{
		"username": c.Username,
		"password": c.Password,
	})
	if err != nil {
		return err
	}
	var sid string
	if err = json.Unmarshal(res, &sid); err != nil || sid == "" {
		return &itf.AuthError{Message: "Login failed, invalid session id received"}
	}
	c.sessionID = sid
	c.lastUse = time.Now()
	return nil
}

// Logout closes the session. Errors are only logged; the session expires on
// the CCU anyway.
func (c *Client) Logout() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.sessionID == "" {
		return
	}
	log.Debug("Closing JSON-RPC session")
	_, err := c.post("Session.logout", map[string]interface{}{"_session_id_": c.sessionID})
	if err != nil {
		log.Warningf("Logout failed: %v", err)
	}
	c.sessionID = ""
}

// renewIfNeeded renews the session when the last use is older than the renew
// interval. caller must hold mtx.
func (c *Client) renewIfNeeded() error {
	if time.Since(c.lastUse) < sessionRenewInterval {
		return nil
	}
	log.Debug("Renewing JSON-RPC session")
	res, err := c.post("Session.renew", map[string]interface{}{"_session_id_": c.sessionID})
	if err != nil {
		// session probably expired, open a new one
		c.sessionID = ""
		return c.login()
	}
	// the CCU answers false when the session is already gone
	var renewed bool
	if err := json.Unmarshal(res, &renewed); err != nil || !renewed {
		c.sessionID = ""
		return c.login()
	}
	c.lastUse = time.Now()
	return nil
}

// Call executes a JSON-RPC method within a session. The session is opened on
// first use and renewed as needed. On "access denied" the session is dropped
// and the call retried once with a fresh login.
func (c *Client) Call(method string, params map[string]interface{}) (json.RawMessage, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.sessionID == "" {
		if err := c.login(); err != nil {
			return nil, err
		}
	} else if err := c.renewIfNeeded(); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	params["_session_id_"] = c.sessionID
	res, err := c.post(method, params)
	if err != nil {
		var aerr *itf.AuthError
		if asAuthError(err, &aerr) {
			// session expired server side, retry once with a fresh session
			c.sessionID = ""
			if lerr := c.login(); lerr != nil {
				return nil, lerr
			}
			params["_session_id_"] = c.sessionID
			res, err = c.post(method, params)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	c.lastUse = time.Now()
	return res, nil
}

func asAuthError(err error, target **itf.AuthError) bool {
	a, ok := err.(*itf.AuthError)
	if ok {
		*target = a
	}
	return ok
}

// ExecScript runs a ReGaHss script on the CCU through ReGa.runScript.
// Placeholders of the form ##name## in the script are replaced with the
// values of args before execution. The script result is returned as raw JSON;
// scripts of this package print a single JSON document as their last output.
func (c *Client) ExecScript(script string, args map[string]string) (json.RawMessage, error) {
	for n, v := range args {
		script = strings.ReplaceAll(script, "##"+n+"##", v)
	}
	log.Trace("Executing ReGa script: ", script)
	res, err := c.Call("ReGa.runScript", map[string]interface{}{"script": script})
	if err != nil {
		return nil, err
	}
	// the script output is delivered as a JSON string which itself contains a
	// JSON document
	var out string
	if err = json.Unmarshal(res, &out); err != nil {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid result of ReGa.runScript: %v", err)}
	}
	return json.RawMessage(out), nil
}
