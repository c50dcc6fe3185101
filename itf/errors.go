package itf

import (
	"errors"
	"fmt"
	"net"
	"regexp"

	"github.com/mdzio/go-hmcentral/xmlrpc"
)

// AuthError signals rejected credentials. It is not retried automatically.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "Authentication failed: " + e.Message
}

// NoConnectionError signals a transport level failure. The connection checker
// reconnects automatically.
type NoConnectionError struct {
	Interface string
	Message   string
}

func (e *NoConnectionError) Error() string {
	return fmt.Sprintf("No connection to interface %s: %s", e.Interface, e.Message)
}

// ClientError signals a protocol level failure, e.g. an XML-RPC fault or a
// contract violation. The caller decides how to proceed.
type ClientError struct {
	Code    int
	Message string
}

func (e *ClientError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("Client error (code: %d): %s", e.Code, e.Message)
	}
	return "Client error: " + e.Message
}

// UnsupportedError signals a method the backend does not offer.
type UnsupportedError struct {
	Method string
}

func (e *UnsupportedError) Error() string {
	return "Method not supported by backend: " + e.Method
}

// ConfigError signals a static validation failure. It is raised at start up or
// at the call site, never during steady state.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "Invalid configuration: " + e.Message
}

// InternalError signals an invariant violation. The failing call surfaces it,
// the central keeps running.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return "Internal error: " + e.Message
}

// credentials embedded in URLs must never reach the log
var urlCredentials = regexp.MustCompile(`://([^:/@]+):[^@/]+@`)

// RedactCredentials removes passwords from URLs contained in a message.
func RedactCredentials(msg string) string {
	return urlCredentials.ReplaceAllString(msg, "://$1:***@")
}

// mapCallError converts transport and RPC errors into the error kinds of this
// package. A nil error stays nil.
func mapCallError(interfaceID string, err error) error {
	if err == nil {
		return nil
	}
	// XML-RPC fault?
	var merr *xmlrpc.MethodError
	if errors.As(err, &merr) {
		return &ClientError{Code: merr.Code, Message: merr.Message}
	}
	// rejected credentials?
	var herr *xmlrpc.HTTPError
	if errors.As(err, &herr) {
		if herr.StatusCode == 401 {
			return &AuthError{Message: herr.Status}
		}
		return &ClientError{Message: herr.Error()}
	}
	// connection refused, unreachable host/network, timeout?
	var nerr net.Error
	if errors.As(err, &nerr) || errors.As(err, new(*net.OpError)) {
		return &NoConnectionError{Interface: interfaceID, Message: RedactCredentials(err.Error())}
	}
	return &ClientError{Message: RedactCredentials(err.Error())}
}
