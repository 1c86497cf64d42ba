package pw

import (
	"github.com/odvcencio/playwire/pkg/protocol"
)

// Request is an outgoing network request.
type Request struct {
	*protocol.Base
	init struct {
		URL          string `json:"url"`
		Method       string `json:"method"`
		ResourceType string `json:"resourceType"`
		IsNavigation bool   `json:"isNavigationRequest"`
	}
}

func newRequest(base *protocol.Base) (*Request, error) {
	r := &Request{Base: base}
	if err := base.DecodeInitializer(&r.init); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Request) URL() string          { return r.init.URL }
func (r *Request) Method() string       { return r.init.Method }
func (r *Request) ResourceType() string { return r.init.ResourceType }
func (r *Request) IsNavigation() bool   { return r.init.IsNavigation }

// Response is the answer to a Request.
type Response struct {
	*protocol.Base
	init struct {
		URL        string           `json:"url"`
		Status     int              `json:"status"`
		StatusText string           `json:"statusText"`
		Request    protocol.GUIDRef `json:"request"`
	}
}

func newResponse(base *protocol.Base) (*Response, error) {
	r := &Response{Base: base}
	if err := base.DecodeInitializer(&r.init); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Response) URL() string        { return r.init.URL }
func (r *Response) Status() int        { return r.init.Status }
func (r *Response) StatusText() string { return r.init.StatusText }

// OK reports a 2xx status, or 0 for responses served from file: URLs.
func (r *Response) OK() bool {
	return r.init.Status == 0 || (r.init.Status >= 200 && r.init.Status < 300)
}

// Request returns the originating request when it is still tracked.
func (r *Response) Request() *Request {
	conn := r.Connection()
	if conn == nil {
		return nil
	}
	obj, ok := conn.Registry().TryGet(r.init.Request.GUID)
	if !ok {
		return nil
	}
	req, _ := obj.(*Request)
	return req
}
