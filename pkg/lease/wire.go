package lease

import (
	"encoding/json"
	"errors"
	"fmt"
)

// request and response are the coordinator's JSON wire messages, tagged by
// type.
type request struct {
	Type       string `json:"type"`
	Browser    string `json:"browser,omitempty"`
	Headless   bool   `json:"headless,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
	Port       int    `json:"port,omitempty"`
}

type response struct {
	Type     string        `json:"type"`
	Endpoint string        `json:"cdp_endpoint,omitempty"`
	Port     int           `json:"port,omitempty"`
	List     []BrowserInfo `json:"list,omitempty"`
	Code     string        `json:"code,omitempty"`
	Message  string        `json:"message,omitempty"`
}

const (
	opAcquire  = "acquire"
	opRelease  = "release"
	opList     = "list"
	opKill     = "kill"
	opShutdown = "shutdown"
	opPing     = "ping"

	respBrowser  = "browser"
	respBrowsers = "browsers"
	respOK       = "ok"
	respPong     = "pong"
	respError    = "error"

	codeNoBrowser = "no_browser"
)

// RemoteError is an error reported by the coordinator.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("coordinator %s: %s", e.Code, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrNoBrowser && e.Code == codeNoBrowser
}

func errorResponse(err error) response {
	code := "internal"
	if errors.Is(err, ErrNoBrowser) {
		code = codeNoBrowser
	}
	return response{Type: respError, Code: code, Message: err.Error()}
}

func decodeResponse(data []byte) (response, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("decode coordinator reply: %w", err)
	}
	if resp.Type == respError {
		return resp, &RemoteError{Code: resp.Code, Message: resp.Message}
	}
	return resp, nil
}
